package main

import "time"

type ServeFlags struct {
	ConfigPath string
	// Run one sweep before the first interval elapses.
	SweepOnStart bool
}

type ScanFlags struct {
	ConfigPath string
	JSON       bool
}

type SessionsFlags struct {
	ConfigPath string
	Limit      int
	JSON       bool
}

type ExportFlags struct {
	ConfigPath  string
	Out         string
	Compression string
}

// CheckFlags override the matching [torque_log] settings when set.
type CheckFlags struct {
	ConfigPath string
	MinSize    string
	MaxSize    string
	Downsample time.Duration
	Location   string
	JSON       bool
}

package telemetry

import (
	"errors"
	"time"
)

// ErrUnreadable is returned by an Opener when a file cannot be parsed at all.
// The worker treats it as a skip-this-file condition.
var ErrUnreadable = errors.New("telemetry: unreadable log file")

// Reading is one telemetry sample. Readings are never mutated after creation.
type Reading struct {
	Time      time.Time          `json:"time"`
	Latitude  float64            `json:"latitude"`
	Longitude float64            `json:"longitude"`
	Altitude  float64            `json:"altitude"`
	Speed     float64            `json:"speed"` // GPS speed, m/s
	Bearing   float64            `json:"bearing"`
	Accuracy  float64            `json:"accuracy"` // horizontal dilution of precision
	Fields    map[string]float64 `json:"fields,omitempty"`
}

// HasPosition reports whether the reading carries a GPS fix.
func (r Reading) HasPosition() bool {
	return r.Latitude != 0 || r.Longitude != 0
}

// Source yields the readings of one log file in file order.
// Next returns io.EOF once the file is exhausted. A Source is single pass.
type Source interface {
	StartTime() time.Time
	Next() (Reading, error)
	Close() error
}

// Opener opens a Source for a file path.
type Opener interface {
	Open(path string) (Source, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path string) (Source, error)

func (f OpenerFunc) Open(path string) (Source, error) { return f(path) }

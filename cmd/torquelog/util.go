package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDistance(m float64) string {
	if m < 1000 {
		return humanize.FormatFloat("#,###.", m) + " m"
	}
	return humanize.FormatFloat("#,###.##", m/1000) + " km"
}

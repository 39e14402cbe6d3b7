package telemetry

import (
	"io"
	"time"
)

// SliceSource serves readings from memory.
type SliceSource struct {
	start    time.Time
	readings []Reading
	pos      int
	closed   bool
}

func NewSliceSource(start time.Time, readings []Reading) *SliceSource {
	return &SliceSource{start: start, readings: readings}
}

func (s *SliceSource) StartTime() time.Time { return s.start }

func (s *SliceSource) Next() (Reading, error) {
	if s.closed || s.pos >= len(s.readings) {
		return Reading{}, io.EOF
	}
	r := s.readings[s.pos]
	s.pos++
	return r, nil
}

func (s *SliceSource) Close() error {
	s.closed = true
	return nil
}

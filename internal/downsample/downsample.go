package downsample

import (
	"time"

	"github.com/loykin/torquelog/internal/telemetry"
)

// Sampler filters an ordered reading stream so that consecutive kept readings
// are more than Interval apart. The first reading is always kept, and the last
// reading offered is always emitted exactly once: either by Offer, when it
// passes the interval rule, or by Flush as the pending tail.
//
// An Interval <= 0 disables downsampling.
type Sampler struct {
	interval time.Duration

	lastKept time.Time
	hasKept  bool
	pending  telemetry.Reading
	hasTail  bool

	offered int64
	kept    int64
}

func New(interval time.Duration) *Sampler {
	return &Sampler{interval: interval}
}

// Offer returns the reading and true if it must be persisted now. A dropped
// reading is remembered as the pending tail until a later reading replaces it
// or Flush emits it.
func (s *Sampler) Offer(r telemetry.Reading) (telemetry.Reading, bool) {
	s.offered++
	if s.interval <= 0 || !s.hasKept || r.Time.Sub(s.lastKept) > s.interval {
		s.lastKept = r.Time
		s.hasKept = true
		s.hasTail = false
		s.pending = telemetry.Reading{}
		s.kept++
		return r, true
	}
	s.pending = r
	s.hasTail = true
	return telemetry.Reading{}, false
}

// Flush returns the final offered reading if Offer dropped it.
// Calling Flush more than once returns the tail only the first time.
func (s *Sampler) Flush() (telemetry.Reading, bool) {
	if !s.hasTail {
		return telemetry.Reading{}, false
	}
	r := s.pending
	s.hasTail = false
	s.pending = telemetry.Reading{}
	s.lastKept = r.Time
	s.kept++
	return r, true
}

// Stats returns the number of readings offered and kept so far.
func (s *Sampler) Stats() (offered, kept int64) {
	return s.offered, s.kept
}

// Filter applies a Sampler to a complete slice.
func Filter(readings []telemetry.Reading, interval time.Duration) []telemetry.Reading {
	s := New(interval)
	out := make([]telemetry.Reading, 0, len(readings))
	for _, r := range readings {
		if k, ok := s.Offer(r); ok {
			out = append(out, k)
		}
	}
	if tail, ok := s.Flush(); ok {
		out = append(out, tail)
	}
	return out
}

package store

import (
	"math"
	"time"

	"github.com/loykin/torquelog/internal/telemetry"
)

const earthRadiusMeters = 6371008.8

// Summary aggregates the readings of a session. Feed readings in sequence
// order through Add; readings without a GPS fix do not contribute to distance.
type Summary struct {
	Count          int64
	First          time.Time
	Last           time.Time
	DistanceMeters float64
	MaxSpeed       float64

	lastFix    telemetry.Reading
	hasLastFix bool
}

func (s *Summary) Add(r telemetry.Reading) {
	if s.Count == 0 {
		s.First = r.Time
	}
	s.Last = r.Time
	s.Count++
	if r.Speed > s.MaxSpeed {
		s.MaxSpeed = r.Speed
	}
	if !r.HasPosition() {
		return
	}
	if s.hasLastFix {
		s.DistanceMeters += Haversine(s.lastFix.Latitude, s.lastFix.Longitude, r.Latitude, r.Longitude)
	}
	s.lastFix = r
	s.hasLastFix = true
}

func Summarize(readings []telemetry.Reading) Summary {
	var s Summary
	for _, r := range readings {
		s.Add(r)
	}
	return s
}

// Haversine returns the great-circle distance in meters between two coordinates in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

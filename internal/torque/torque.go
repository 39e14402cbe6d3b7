// Package torque decodes CSV logs written by the Torque OBD-II app.
package torque

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/torquelog/internal/telemetry"
)

const (
	deviceTimeLayout      = "02-Jan-2006 15:04:05.000"
	deviceTimeLayoutShort = "02-Jan-2006 15:04:05"
	gpsTimeLayout         = "Mon Jan 02 15:04:05 -07:00 2006"
	trackLogLayout        = "trackLog-2006-Jan-02_15-04-05"
)

// column kinds
const (
	colOther = iota
	colTimestamp
	colDeviceTime
	colGPSTime
	colLongitude
	colLatitude
	colAltitude
	colSpeed
	colBearing
	colAccuracy
)

var knownColumns = map[string]int{
	"timestamp":                        colTimestamp,
	"device time":                      colDeviceTime,
	"gps time":                         colGPSTime,
	"longitude":                        colLongitude,
	"latitude":                         colLatitude,
	"altitude":                         colAltitude,
	"gps speed (meters/second)":        colSpeed,
	"bearing":                          colBearing,
	"horizontal dilution of precision": colAccuracy,
}

// Opener opens Torque CSV files. Device times carry no zone and are read in Location.
type Opener struct {
	Location *time.Location
}

func NewOpener(loc *time.Location) *Opener {
	return &Opener{Location: loc}
}

func (o *Opener) Open(path string) (telemetry.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", telemetry.ErrUnreadable, path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %v", telemetry.ErrUnreadable, path, err)
	}
	r, err := NewReader(f, filepath.Base(path), fi.ModTime(), o.Location)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Reader is a single-pass cursor over the rows of one Torque log.
type Reader struct {
	csv     *csv.Reader
	closer  io.Closer
	name    string
	loc     *time.Location
	headers []string
	kinds   []int
	timeCol []int // time columns by precedence

	start   time.Time
	pending *telemetry.Reading
	skipped int
	rows    int
}

// NewReader reads the header and the first usable row so that StartTime is
// known before any reading is consumed. name is the file base name, used as a
// start time fallback together with modTime.
func NewReader(r io.Reader, name string, modTime time.Time, loc *time.Location) (*Reader, error) {
	if loc == nil {
		loc = time.UTC
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s: empty file", telemetry.ErrUnreadable, name)
		}
		return nil, fmt.Errorf("%w: %s: header: %v", telemetry.ErrUnreadable, name, err)
	}

	rd := &Reader{csv: cr, name: name, loc: loc}
	rd.headers = make([]string, len(header))
	rd.kinds = make([]int, len(header))
	byKind := map[int]int{}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		rd.headers[i] = h
		k := knownColumns[strings.ToLower(h)]
		rd.kinds[i] = k
		if _, seen := byKind[k]; !seen && k != colOther {
			byKind[k] = i
		}
	}
	for _, k := range []int{colTimestamp, colDeviceTime, colGPSTime} {
		if i, ok := byKind[k]; ok {
			rd.timeCol = append(rd.timeCol, i)
		}
	}
	if len(rd.timeCol) == 0 {
		return nil, fmt.Errorf("%w: %s: no time column in header", telemetry.ErrUnreadable, name)
	}

	first, err := rd.next()
	switch {
	case err == nil:
		rd.pending = &first
		rd.start = first.Time
	case errors.Is(err, io.EOF):
		rd.start = startFromName(name, loc, modTime)
	default:
		return nil, err
	}
	return rd, nil
}

func (r *Reader) StartTime() time.Time { return r.start }

// Skipped returns how many rows were dropped because their time could not be parsed.
func (r *Reader) Skipped() int { return r.skipped }

// Rows returns how many readings have been decoded so far.
func (r *Reader) Rows() int { return r.rows }

func (r *Reader) Next() (telemetry.Reading, error) {
	if r.pending != nil {
		out := *r.pending
		r.pending = nil
		return out, nil
	}
	return r.next()
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

func (r *Reader) next() (telemetry.Reading, error) {
	for {
		rec, err := r.csv.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return telemetry.Reading{}, io.EOF
			}
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				r.skipped++
				continue
			}
			return telemetry.Reading{}, fmt.Errorf("read %s: %w", r.name, err)
		}
		reading, ok := r.parse(rec)
		if !ok {
			r.skipped++
			continue
		}
		r.rows++
		return reading, nil
	}
}

func (r *Reader) parse(rec []string) (telemetry.Reading, bool) {
	var out telemetry.Reading
	ts, ok := r.rowTime(rec)
	if !ok {
		return out, false
	}
	out.Time = ts
	for i, cell := range rec {
		if i >= len(r.kinds) {
			break
		}
		k := r.kinds[i]
		if k == colTimestamp || k == colDeviceTime || k == colGPSTime {
			continue
		}
		v, ok := number(cell)
		if !ok {
			continue
		}
		switch k {
		case colLongitude:
			out.Longitude = v
		case colLatitude:
			out.Latitude = v
		case colAltitude:
			out.Altitude = v
		case colSpeed:
			out.Speed = v
		case colBearing:
			out.Bearing = v
		case colAccuracy:
			out.Accuracy = v
		default:
			if r.headers[i] == "" {
				continue
			}
			if out.Fields == nil {
				out.Fields = make(map[string]float64)
			}
			out.Fields[r.headers[i]] = v
		}
	}
	return out, true
}

// rowTime returns the time of the first time column that parses.
func (r *Reader) rowTime(rec []string) (time.Time, bool) {
	for _, i := range r.timeCol {
		if i >= len(rec) {
			continue
		}
		cell := strings.TrimSpace(rec[i])
		if missing(cell) {
			continue
		}
		var (
			t   time.Time
			err error
		)
		switch r.kinds[i] {
		case colTimestamp:
			t, err = parseUnix(cell)
		case colDeviceTime:
			t, err = ParseDeviceTime(cell, r.loc)
		case colGPSTime:
			t, err = ParseGPSTime(cell)
		}
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func missing(cell string) bool {
	return cell == "" || cell == "-"
}

func number(cell string) (float64, bool) {
	cell = strings.TrimSpace(cell)
	if missing(cell) {
		return 0, false
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseUnix(cell string) (time.Time, error) {
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return time.Time{}, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return time.Time{}, fmt.Errorf("invalid unix time %q", cell)
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), nil
}

// ParseDeviceTime parses the phone clock column, e.g. "18-Jul-2017 15:37:42.123".
func ParseDeviceTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	t, err := time.ParseInLocation(deviceTimeLayout, s, loc)
	if err == nil {
		return t, nil
	}
	return time.ParseInLocation(deviceTimeLayoutShort, s, loc)
}

// ParseGPSTime parses the GPS fix time column, e.g.
// "Tue Jul 18 15:37:41 GMT+02:00 2017" or "Tue Jul 18 15:37:41 CEST 2017".
func ParseGPSTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	norm := strings.Replace(strings.Replace(s, "GMT+", "+", 1), "GMT-", "-", 1)
	if t, err := time.Parse(gpsTimeLayout, norm); err == nil {
		return t, nil
	}
	return time.Parse(time.UnixDate, s)
}

// startFromName derives a start time from a "trackLog-2017-Jul-18_15-37-42.csv"
// style name, falling back to modTime.
func startFromName(name string, loc *time.Location, modTime time.Time) time.Time {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if t, err := time.ParseInLocation(trackLogLayout, base, loc); err == nil {
		return t
	}
	return modTime
}

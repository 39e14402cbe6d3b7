// Package archive exports the readings of a session as a Parquet file.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/torquelog/internal/store"
	"github.com/loykin/torquelog/internal/telemetry"
	"github.com/parquet-go/parquet-go"
)

// Row is one reading in the archive. Extra columns are stored as a JSON
// object because their names vary between vehicles.
type Row struct {
	SessionID  string  `parquet:"session_id"`
	Origin     string  `parquet:"origin"`
	Seq        int64   `parquet:"seq"`
	TimeMillis int64   `parquet:"time_ms"` // unix milliseconds, UTC
	Latitude   float64 `parquet:"latitude"`
	Longitude  float64 `parquet:"longitude"`
	Altitude   float64 `parquet:"altitude"`
	Speed      float64 `parquet:"speed"`
	Bearing    float64 `parquet:"bearing"`
	Accuracy   float64 `parquet:"accuracy"`
	FieldsJSON *string `parquet:"fields_json,optional"`
}

// Compression maps a codec name to a writer option. Empty selects snappy.
func Compression(name string) (parquet.WriterOption, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "snappy":
		return parquet.Compression(&parquet.Snappy), nil
	case "gzip":
		return parquet.Compression(&parquet.Gzip), nil
	case "zstd":
		return parquet.Compression(&parquet.Zstd), nil
	case "none", "uncompressed":
		return parquet.Compression(&parquet.Uncompressed), nil
	}
	return nil, fmt.Errorf("unknown compression %q", name)
}

// Rows converts readings into archive rows, numbering them from 1.
func Rows(sess store.Session, readings []telemetry.Reading) ([]Row, error) {
	rows := make([]Row, 0, len(readings))
	for i, r := range readings {
		row := Row{
			SessionID:  sess.ID,
			Origin:     sess.Origin,
			Seq:        int64(i + 1),
			TimeMillis: r.Time.UTC().UnixMilli(),
			Latitude:   r.Latitude,
			Longitude:  r.Longitude,
			Altitude:   r.Altitude,
			Speed:      r.Speed,
			Bearing:    r.Bearing,
			Accuracy:   r.Accuracy,
		}
		if len(r.Fields) > 0 {
			b, err := json.Marshal(r.Fields)
			if err != nil {
				return nil, fmt.Errorf("encode fields of reading %d: %w", i+1, err)
			}
			s := string(b)
			row.FieldsJSON = &s
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Write encodes the readings of sess to w and returns the number of rows written.
func Write(w io.Writer, sess store.Session, readings []telemetry.Reading, compression string) (int, error) {
	opt, err := Compression(compression)
	if err != nil {
		return 0, err
	}
	rows, err := Rows(sess, readings)
	if err != nil {
		return 0, err
	}
	writer := parquet.NewGenericWriter[Row](w, opt)
	n, err := writer.Write(rows)
	if err != nil {
		_ = writer.Close()
		return n, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return n, fmt.Errorf("closing parquet writer: %w", err)
	}
	return n, nil
}

// WriteParquet writes the archive to path. The file is written under a
// temporary name in the same directory and renamed into place, so a failed
// export never leaves a truncated archive behind.
func WriteParquet(path string, sess store.Session, readings []telemetry.Reading, compression string) (int, error) {
	if path == "" {
		return 0, errors.New("archive: empty output path")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("create archive file: %w", err)
	}
	n, err := Write(tmp, sess, readings, compression)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close archive file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("rename archive file: %w", err)
	}
	return n, nil
}

// ReadParquet loads every row of an archive file.
func ReadParquet(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive %s: %w", path, err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet file %s: %w", path, err)
	}
	reader := parquet.NewReader(pf)
	defer func() { _ = reader.Close() }()

	rows := make([]Row, 0, pf.NumRows())
	for {
		var row Row
		if err := reader.Read(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read parquet row from %s: %w", path, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// NotATime is the timestamp rendered for values that cannot be parsed.
const NotATime = "NaT"

const timestampColumn = "timestamp"

// errorsIndex is the position of "errors" in FeatureColumns.
const errorsIndex = NumFeatures - 1

// timestampLayouts are tried in order. zoned marks layouts that carry an offset.
var timestampLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339Nano, true},
	{"2006-01-02T15:04:05.999999999", false},
	{"2006-01-02 15:04:05.999999999Z07:00", true},
	{"2006-01-02 15:04:05.999999999", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02 15:04", false},
	{"2006-01-02", false},
	{"2006/01/02 15:04:05", false},
	{"01/02/2006 15:04:05", false},
	{"01/02/2006", false},
}

// LoadCSV reads telemetry records from a CSV file with a header row.
func LoadCSV(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()

	records, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	return records, nil
}

// ReadCSV parses telemetry records from r.
//
// Columns are matched by header name and extra columns are ignored. A missing
// feature column, or an empty cell, reads as 0. Error counts must be whole
// numbers: "3.0" is accepted, "2.5" is not. Timestamps are parsed leniently and
// re-rendered as "YYYY-MM-DD HH:MM:SS"; unparseable values become NaT. Without
// a timestamp column every timestamp is the empty string.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyDataset
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	tsCol, hasTimestamp := index[timestampColumn]

	var records []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		var values [NumFeatures]float64
		for j, name := range FeatureColumns {
			col, ok := index[name]
			if !ok || col >= len(row) {
				continue
			}
			v, err := parseFloat(row[col])
			if err != nil {
				return nil, fmt.Errorf("line %d column %q: %w", line, name, err)
			}
			if j == errorsIndex && v != math.Trunc(v) {
				return nil, fmt.Errorf("line %d column %q: not a whole number: %q", line, name, strings.TrimSpace(row[col]))
			}
			values[j] = v
		}

		rec := Record{
			CPU:    values[0],
			Memory: values[1],
			DiskIO: values[2],
			NetIO:  values[3],
			Errors: int(values[errorsIndex]),
		}
		if hasTimestamp {
			raw := ""
			if tsCol < len(row) {
				raw = row[tsCol]
			}
			rec.Timestamp = NormalizeTimestamp(raw)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseFloat(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %q", raw)
	}
	return v, nil
}

// NormalizeTimestamp renders raw in canonical form, or NaT when it cannot be parsed.
func NormalizeTimestamp(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return NotATime
	}
	for _, l := range timestampLayouts {
		t, err := time.Parse(l.layout, raw)
		if err != nil {
			continue
		}
		layout := "2006-01-02 15:04:05"
		if t.Nanosecond() != 0 {
			layout += ".000000"
		}
		if l.zoned {
			layout += "-07:00"
		}
		return t.Format(layout)
	}
	return NotATime
}

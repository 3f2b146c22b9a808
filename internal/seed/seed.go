// Package seed generates synthetic telemetry with periodic pre-failure bursts,
// for demos and tests.
package seed

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kubilitics/kubilitics-pdsa/internal/telemetry"
)

// Every burstPeriod rows, rows burstStart..burstPeriod-1 carry a burst.
const (
	burstPeriod = 120
	burstStart  = 90
)

var (
	baseErrors  = weighted{values: []int{0, 1, 2}, weights: []float64{0.85, 0.1, 0.05}}
	burstErrors = weighted{values: []int{0, 1, 2, 3}, weights: []float64{0.2, 0.4, 0.3, 0.1}}
)

type weighted struct {
	values  []int
	weights []float64
}

func (w weighted) pick(rng *rand.Rand) int {
	total := 0.0
	for _, x := range w.weights {
		total += x
	}
	r := rng.Float64() * total
	for i, x := range w.weights {
		if r < x {
			return w.values[i]
		}
		r -= x
	}
	return w.values[len(w.values)-1]
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// DefaultStart is the start time used when none is given: n hours before now.
func DefaultStart(n int) time.Time {
	return time.Now().UTC().Add(-time.Duration(n) * time.Hour)
}

// Generate returns n samples, one per minute from start.
func Generate(n int, start time.Time, rng *rand.Rand) []telemetry.Record {
	if n <= 0 {
		return nil
	}
	records := make([]telemetry.Record, n)
	for i := range records {
		cpu := uniform(rng, 5, 40)
		mem := uniform(rng, 20, 60)
		disk := uniform(rng, 5, 30)
		net := uniform(rng, 10, 50)
		errs := baseErrors.pick(rng)

		if InBurst(i) {
			cpu += uniform(rng, 30, 50)
			mem += uniform(rng, 20, 30)
			errs += burstErrors.pick(rng)
		}

		records[i] = telemetry.Record{
			Timestamp: isoFormat(start.Add(time.Duration(i) * time.Minute)),
			CPU:       math.Min(cpu, 100),
			Memory:    math.Min(mem, 100),
			DiskIO:    disk,
			NetIO:     net,
			Errors:    errs,
		}
	}
	return records
}

// InBurst reports whether row i falls in a simulated pre-failure burst.
func InBurst(i int) bool {
	return i%burstPeriod >= burstStart
}

// isoFormat renders t without a zone, with microseconds only when non-zero.
func isoFormat(t time.Time) string {
	if t.Nanosecond()/1000 != 0 {
		return t.Format("2006-01-02T15:04:05.000000")
	}
	return t.Format("2006-01-02T15:04:05")
}

// WriteCSV writes records with a header row.
func WriteCSV(w io.Writer, records []telemetry.Record) error {
	cw := csv.NewWriter(w)
	header := append([]string{"timestamp"}, telemetry.FeatureColumns...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Timestamp,
			strconv.FormatFloat(r.CPU, 'f', -1, 64),
			strconv.FormatFloat(r.Memory, 'f', -1, 64),
			strconv.FormatFloat(r.DiskIO, 'f', -1, 64),
			strconv.FormatFloat(r.NetIO, 'f', -1, 64),
			strconv.Itoa(r.Errors),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes records to path, creating parent directories.
func WriteFile(path string, records []telemetry.Record) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, records); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

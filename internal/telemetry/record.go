// Package telemetry turns raw server telemetry into feature matrices.
//
// A telemetry sample carries five numeric signals (CPU, memory, disk I/O,
// network I/O, error count). Every matrix produced here lays them out in
// FeatureColumns order, one row per sample.
package telemetry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// FeatureColumns is the fixed column order of every feature matrix.
var FeatureColumns = []string{"cpu", "memory", "disk_io", "net_io", "errors"}

// NumFeatures is len(FeatureColumns).
const NumFeatures = 5

var (
	// ErrEmptyDataset is returned when an operation needs at least one sample.
	ErrEmptyDataset = errors.New("dataset contains no samples")

	// ErrInvalidRecord is wrapped by every ValidationError.
	ErrInvalidRecord = errors.New("invalid telemetry record")
)

// Record is a single telemetry sample.
type Record struct {
	Timestamp string
	CPU       float64
	Memory    float64
	DiskIO    float64
	NetIO     float64
	Errors    int
}

// ValidationError describes the first invalid field of a record.
type ValidationError struct {
	Index   int
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("records[%d].%s: %s", e.Index, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRecord }

// Features returns the record's values in FeatureColumns order.
func (r Record) Features() []float64 {
	return []float64{r.CPU, r.Memory, r.DiskIO, r.NetIO, float64(r.Errors)}
}

// Validate checks that every signal is a finite, non-negative number.
func (r Record) Validate() error {
	for i, v := range r.Features() {
		field := FeatureColumns[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: field, Message: "must be a finite number"}
		}
		if v < 0 {
			return &ValidationError{Field: field, Message: "must be greater than or equal to 0"}
		}
	}
	return nil
}

// ValidateAll validates records in order and reports the first failure with its index.
func ValidateAll(records []Record) error {
	if len(records) == 0 {
		return ErrEmptyDataset
	}
	for i, r := range records {
		if err := r.Validate(); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				verr.Index = i
			}
			return err
		}
	}
	return nil
}

// Matrix builds the n x NumFeatures feature matrix for records.
func Matrix(records []Record) (*mat.Dense, error) {
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}
	data := make([]float64, 0, len(records)*NumFeatures)
	for _, r := range records {
		data = append(data, r.Features()...)
	}
	return mat.NewDense(len(records), NumFeatures, data), nil
}

// Timestamps returns the timestamp of every record, in order.
func Timestamps(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Timestamp
	}
	return out
}

// Rows copies a matrix into a row-major slice of slices.
func Rows(x mat.Matrix) [][]float64 {
	r, _ := x.Dims()
	rows := make([][]float64, r)
	for i := 0; i < r; i++ {
		rows[i] = mat.Row(nil, i, x)
	}
	return rows
}

// Package ml contains the tree ensembles used to score server telemetry:
// an isolation forest for anomaly detection and a random forest for
// supervised risk classification.
package ml

import "runtime"

// Option configures a forest at construction time.
type Option func(*options)

type options struct {
	seed          int64
	contamination float64
	maxFeatures   int
	workers       int
}

func defaultOptions() options {
	return options{
		seed:    1,
		workers: runtime.GOMAXPROCS(0),
	}
}

// WithSeed fixes the random source so that fitting is reproducible.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithContamination sets the expected share of anomalies in the training
// data. The isolation forest derives its decision threshold from it.
func WithContamination(c float64) Option {
	return func(o *options) { o.contamination = c }
}

// WithMaxFeatures sets how many candidate features a random forest node
// considers. Zero means floor(sqrt(d)).
func WithMaxFeatures(n int) Option {
	return func(o *options) { o.maxFeatures = n }
}

// WithWorkers bounds the number of trees built concurrently.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

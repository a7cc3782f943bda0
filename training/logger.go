package training

import "log"

// AggregationPolicy says when a logged value should surface: immediately per
// optimizer step, or averaged once per epoch.
type AggregationPolicy int

const (
	OnStep AggregationPolicy = iota
	OnEpoch
)

// MetricLogger receives every diagnostic the trainer produces. Implementors
// decide how to aggregate and where to ship the values.
type MetricLogger interface {
	Log(key string, value float64, policy AggregationPolicy)
}

// StdLogger writes metrics to the standard logger: step-level values as they
// arrive, epoch aggregates marked as such.
type StdLogger struct {
	logger *log.Logger
}

// NewStdLogger wraps l, or the default logger when l is nil.
func NewStdLogger(l *log.Logger) *StdLogger {
	if l == nil {
		l = log.Default()
	}
	return &StdLogger{logger: l}
}

func (s *StdLogger) Log(key string, value float64, policy AggregationPolicy) {
	if policy == OnEpoch {
		s.logger.Printf("%s (epoch): %.6f", key, value)
		return
	}
	s.logger.Printf("%s: %.6f", key, value)
}

// NopLogger discards every metric. Used in tests.
type NopLogger struct{}

func (NopLogger) Log(key string, value float64, policy AggregationPolicy) {}

package signal

import (
	"context"
	"time"
)

// DurationRecorder receives the wall time of each remote Detect call.
type DurationRecorder interface {
	RecordDuration(d time.Duration)
}

type latencyInferencer struct {
	inner Inferencer
	rec   DurationRecorder
}

// WithLatency wraps an Inferencer so every Detect call, successful or not,
// is timed into rec.
func WithLatency(inner Inferencer, rec DurationRecorder) Inferencer {
	if rec == nil {
		return inner
	}
	return &latencyInferencer{inner: inner, rec: rec}
}

func (l *latencyInferencer) Detect(ctx context.Context, req InferenceRequest) ([]TrendSignal, error) {
	start := time.Now()
	signals, err := l.inner.Detect(ctx, req)
	l.rec.RecordDuration(time.Since(start))
	return signals, err
}

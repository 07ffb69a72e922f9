package predict

import (
	"context"
	"errors"

	"github.com/iliyamo/fracture-records/internal/metrics"
)

// Instrumented records the outcome and duration of every prediction.
type Instrumented struct {
	next Predictor
	m    *metrics.Metrics
}

func NewInstrumented(next Predictor, m *metrics.Metrics) *Instrumented {
	return &Instrumented{next: next, m: m}
}

func (i *Instrumented) Predict(ctx context.Context, imagePath string) (*Result, error) {
	done := i.m.PredictionStarted()
	r, err := i.next.Predict(ctx, imagePath)
	switch {
	case err == nil:
		done(metrics.OutcomeSuccess)
	case errors.Is(err, ErrTimeout):
		done(metrics.OutcomeTimeout)
	case errors.Is(err, context.Canceled):
		done(metrics.OutcomeCanceled)
	default:
		done(metrics.OutcomeError)
	}
	return r, err
}

package predict

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Limited bounds the number of predictions running at once. Callers wait
// for a slot and give up when their context ends.
type Limited struct {
	next Predictor
	sem  *semaphore.Weighted
}

// NewLimited wraps next with at most n concurrent predictions.
func NewLimited(next Predictor, n int) *Limited {
	if n < 1 {
		n = 1
	}
	return &Limited{next: next, sem: semaphore.NewWeighted(int64(n))}
}

func (l *Limited) Predict(ctx context.Context, imagePath string) (*Result, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: waiting for a free predictor: %w", ErrPrediction, err)
	}
	defer l.sem.Release(1)
	return l.next.Predict(ctx, imagePath)
}

// Package predict runs fracture detection on a stored X-ray image. The
// upload service only sees the Predictor interface; the invocation
// mechanism (subprocess, remote service, in-process function) and the
// decorators around it are chosen at startup.
package predict

import (
	"context"
	"errors"

	"github.com/iliyamo/fracture-records/internal/model"
)

var (
	// ErrPrediction covers every failed inference run: non-zero exit,
	// stderr output, an "error" field, or output without a JSON object.
	ErrPrediction = errors.New("prediction failed")
	// ErrTimeout is returned when the predictor exceeds its time budget.
	ErrTimeout = errors.New("prediction timed out")
)

// Result is a successful prediction. OutputImage is the path of the
// annotated image the predictor produced, or "" when it produced none.
type Result struct {
	Prediction  model.Prediction `json:"prediction"`
	OutputImage string           `json:"outputImage,omitempty"`
}

// Predictor runs detection on the image at imagePath.
type Predictor interface {
	Predict(ctx context.Context, imagePath string) (*Result, error)
}

// Func adapts an ordinary function to a Predictor.
type Func func(ctx context.Context, imagePath string) (*Result, error)

// Predict calls f.
func (f Func) Predict(ctx context.Context, imagePath string) (*Result, error) {
	return f(ctx, imagePath)
}

// None is a predictor that reports no findings and no annotated image.
// It is meant for development setups without a model.
func None() Predictor {
	return Func(func(ctx context.Context, _ string) (*Result, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &Result{Prediction: model.Prediction{Boxes: [][]float64{}, Confidences: []float64{}}}, nil
	})
}

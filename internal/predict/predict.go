// Package predict wraps the external prediction model with the
// content-addressed cache, exposing one idempotent compute-or-load
// operation per sequence.
package predict

import (
	"context"
	"fmt"
)

// Prediction is the model output for one input sequence: two dense
// track sets indexed by (bin, track).
type Prediction struct {
	Human [][]float32 `json:"human"`
	Mouse [][]float32 `json:"mouse"`
}

// Predictor is the external model collaborator: a pure, stateless,
// expensive function of the input sequence.
type Predictor interface {
	Predict(ctx context.Context, sequence string) (*Prediction, error)
}

// ModelError wraps a failed prediction call.
type ModelError struct {
	Err error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model prediction: %v", e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Package domain holds the engine-wide types: return series and panels, model
// and regime-detector contracts, weight vectors, stress scenarios and the error
// taxonomy every component reports with.
package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every engine component. Callers match with errors.Is.
var (
	// ErrInsufficientData reports a series or window below its minimum size
	ErrInsufficientData = errors.New("insufficient data")
	// ErrTraining reports a StrategyModel.Fit failure
	ErrTraining = errors.New("training failed")
	// ErrPrediction reports a StrategyModel.Predict failure or misaligned output
	ErrPrediction = errors.New("prediction failed")
	// ErrOptimization reports solver non-convergence or infeasible constraints
	ErrOptimization = errors.New("optimization failed")
	// ErrValidation reports malformed configuration or inputs
	ErrValidation = errors.New("validation failed")
)

// ModelOp identifies the model call that failed
type ModelOp string

const (
	OpFit     ModelOp = "fit"
	OpPredict ModelOp = "predict"
)

// ModelError wraps a failure raised by an external StrategyModel.
// It matches ErrTraining for fit failures and ErrPrediction for predict failures.
type ModelError struct {
	Op  ModelOp
	Err error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Op, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTraining) and errors.Is(err, ErrPrediction) work
func (e *ModelError) Is(target error) bool {
	switch target {
	case ErrTraining:
		return e.Op == OpFit
	case ErrPrediction:
		return e.Op == OpPredict
	}
	return false
}

// Insufficient builds an ErrInsufficientData with context
func Insufficient(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInsufficientData, fmt.Sprintf(format, args...))
}

// Invalid builds an ErrValidation with context
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

package problem

import (
	"context"
	"fmt"
)

// Evaluator is the true-function capability. Evaluate must return one
// output vector per input vector, in order. A batch either completes or
// fails as a whole: implementations must not drop failed points and
// return a shorter result.
type Evaluator interface {
	Evaluate(ctx context.Context, inputs [][]float64) ([][]float64, error)
}

// EvaluationError reports a failed batch evaluation. Point is the index
// of the first input that could not be evaluated, or -1 when the failure
// is not tied to a single point.
type EvaluationError struct {
	Point int
	Err   error
}

func (e *EvaluationError) Error() string {
	if e.Point >= 0 {
		return fmt.Sprintf("evaluation failed at point %d: %v", e.Point, e.Err)
	}
	return fmt.Sprintf("evaluation failed: %v", e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

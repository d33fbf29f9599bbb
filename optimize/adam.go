// Package optimize provides the gradient-based optimizer and the gradient
// facility used by the training loop.
//
// Gradients of the scalar objective with respect to the flattened parameter
// vector are computed by central finite differences (gonum diff/fd); the
// optimizer consumes them without knowing how they were produced.
package optimize

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"

	"github.com/YuminosukeSato/gogp/pkg/errors"
)

// Adam implements the Adam optimizer with bias-corrected moment estimates.
//
// The moment estimates and the step counter are the optimizer's internal
// state; they are exclusively owned by the training loop and surface only
// through State/Restore for checkpointing.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	m    []float64 // first moment
	v    []float64 // second moment
	step int       // global step counter (number of applied updates)
}

// AdamState is the checkpointable optimizer state.
type AdamState struct {
	Step int
	M    []float64
	V    []float64
}

// NewAdam creates an Adam optimizer with standard defaults.
func NewAdam(learningRate float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Step returns the global step counter (number of updates applied so far).
func (a *Adam) Step() int { return a.step }

// Apply performs one Adam update of params in place given the gradient.
// Moment buffers are allocated on first use; a later size change is an error.
func (a *Adam) Apply(params, grad []float64) error {
	const op = "Adam.Apply"
	if len(params) != len(grad) {
		return errors.NewDimensionError(op, len(params), len(grad), 0)
	}
	if a.m == nil {
		a.m = make([]float64, len(params))
		a.v = make([]float64, len(params))
	}
	if len(a.m) != len(params) {
		return errors.NewDimensionError(op, len(a.m), len(params), 0)
	}

	a.step++
	bias1 := 1.0 - math.Pow(a.Beta1, float64(a.step))
	bias2 := 1.0 - math.Pow(a.Beta2, float64(a.step))

	for i := range params {
		g := grad[i]
		a.m[i] = a.Beta1*a.m[i] + (1.0-a.Beta1)*g
		a.v[i] = a.Beta2*a.v[i] + (1.0-a.Beta2)*g*g

		mHat := a.m[i] / bias1
		vHat := a.v[i] / bias2

		params[i] -= a.LearningRate * mHat / (math.Sqrt(vHat) + a.Epsilon)
	}
	return nil
}

// State returns a copy of the optimizer's internal state for checkpointing.
func (a *Adam) State() AdamState {
	m := make([]float64, len(a.m))
	copy(m, a.m)
	v := make([]float64, len(a.v))
	copy(v, a.v)
	return AdamState{Step: a.step, M: m, V: v}
}

// Restore replaces the optimizer's internal state from a checkpoint.
// Empty moment slices restore only the step counter (partial checkpoint).
func (a *Adam) Restore(state AdamState) error {
	const op = "Adam.Restore"
	if len(state.M) != len(state.V) {
		return errors.NewDimensionError(op, len(state.M), len(state.V), 0)
	}
	a.step = state.Step
	if len(state.M) == 0 {
		a.m, a.v = nil, nil
		return nil
	}
	a.m = make([]float64, len(state.M))
	copy(a.m, state.M)
	a.v = make([]float64, len(state.V))
	copy(a.v, state.V)
	return nil
}

// Gradient computes the gradient of f at x by central finite differences.
func Gradient(f func([]float64) float64, x []float64) []float64 {
	grad := make([]float64, len(x))
	fd.Gradient(grad, f, x, &fd.Settings{Formula: fd.Central})
	return grad
}

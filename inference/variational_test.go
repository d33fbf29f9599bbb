package inference

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gogp/kernel"
	"github.com/YuminosukeSato/gogp/likelihood"
	"github.com/YuminosukeSato/gogp/pkg/errors"
)

func newTestEngine(t *testing.T, opts ...VariationalOption) *Variational {
	t.Helper()
	kern, err := kernel.NewRBF(1, 1, 1.0, 1.0, false)
	if err != nil {
		t.Fatalf("NewRBF: %v", err)
	}
	lik, err := likelihood.NewGaussian(0.1)
	if err != nil {
		t.Fatalf("NewGaussian: %v", err)
	}
	Z := mat.NewDense(5, 1, []float64{-2, -1, 0, 1, 2})
	v, err := NewVariational(Z, kern, lik, opts...)
	if err != nil {
		t.Fatalf("NewVariational: %v", err)
	}
	return v
}

func TestNewVariationalValidation(t *testing.T) {
	kern, _ := kernel.NewRBF(2, 1, 1.0, 1.0, false)
	lik, _ := likelihood.NewGaussian(0.1)

	tests := []struct {
		name string
		Z    *mat.Dense
	}{
		{name: "nil inducing inputs", Z: nil},
		{name: "dimension mismatch", Z: mat.NewDense(3, 1, []float64{0, 1, 2})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewVariational(tt.Z, kern, lik); err == nil {
				t.Error("NewVariational succeeded, want error")
			}
		})
	}
}

// At initialization the whitened posterior equals the prior, so the KL
// divergence is exactly zero; any perturbation makes it positive.
func TestKLNonNegative(t *testing.T) {
	v := newTestEngine(t)

	if got := v.kl(0); math.Abs(got) > 1e-12 {
		t.Errorf("kl at prior initialization = %v, want 0", got)
	}

	params := v.Params()
	mean := params[ParamQMean]
	for i := range mean {
		mean[i] = 0.3 * float64(i+1)
	}
	sqrt := params[ParamQSqrt]
	for i := range sqrt {
		sqrt[i] -= 0.2
	}
	if err := v.SetParams(map[string][]float64{ParamQMean: mean, ParamQSqrt: sqrt}); err != nil {
		t.Fatalf("SetParams: %v", err)
	}
	if got := v.kl(0); got <= 0 {
		t.Errorf("kl after perturbation = %v, want > 0", got)
	}
}

// At prior initialization the predictive latent variance collapses to the
// prior variance: k(x,x) − ‖α‖² + ‖Cᵀα‖² with C = I.
func TestVariationalPredictAtPrior(t *testing.T) {
	v := newTestEngine(t)

	X := mat.NewDense(3, 1, []float64{-0.5, 0.3, 5.0})
	mean, variance, err := v.Predict(X)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	// sf² = 1 plus observation noise 0.1.
	for i := 0; i < 3; i++ {
		if math.Abs(mean.At(i, 0)) > 1e-10 {
			t.Errorf("prior mean at %d = %v, want 0", i, mean.At(i, 0))
		}
		if math.Abs(variance.At(i, 0)-1.1) > 1e-6 {
			t.Errorf("prior variance at %d = %v, want 1.1", i, variance.At(i, 0))
		}
	}
}

func TestVariationalObjectivesBundle(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{-1, 0, 1, 2})
	Y := mat.NewDense(4, 1, []float64{0.1, 0.9, 0.2, -0.5})

	t.Run("without LOO", func(t *testing.T) {
		v := newTestEngine(t)
		obj, err := v.Objectives(X, Y, 4)
		if err != nil {
			t.Fatalf("Objectives: %v", err)
		}
		if _, ok := obj[TermNELBO]; !ok {
			t.Error("bundle missing NELBO")
		}
		if _, ok := obj[TermLOO]; ok {
			t.Error("bundle has LOO term without WithLOO")
		}
	})

	t.Run("with LOO", func(t *testing.T) {
		v := newTestEngine(t, WithLOO(true))
		obj, err := v.Objectives(X, Y, 4)
		if err != nil {
			t.Fatalf("Objectives: %v", err)
		}
		if _, ok := obj[TermNELBO]; !ok {
			t.Error("bundle missing NELBO")
		}
		loo, ok := obj[TermLOO]
		if !ok {
			t.Fatal("bundle missing LOO term")
		}
		if math.IsNaN(loo) || math.IsInf(loo, 0) {
			t.Errorf("LOO term = %v, want finite", loo)
		}
	})
}

// Mini-batch scaling must make the expected log-likelihood an unbiased
// estimate: evaluating half the data with numTrain = full size doubles
// the data-fit term while the KL stays constant.
func TestVariationalObjectivesScaling(t *testing.T) {
	v := newTestEngine(t)

	X := mat.NewDense(2, 1, []float64{-1, 1})
	Y := mat.NewDense(2, 1, []float64{0.5, -0.5})

	same, err := v.Objectives(X, Y, 2)
	if err != nil {
		t.Fatalf("Objectives: %v", err)
	}
	scaled, err := v.Objectives(X, Y, 4)
	if err != nil {
		t.Fatalf("Objectives: %v", err)
	}

	// KL is zero at initialization, so NELBO = −scale·ELL exactly.
	if math.Abs(scaled[TermNELBO]-2*same[TermNELBO]) > 1e-9 {
		t.Errorf("scaled NELBO = %v, want %v", scaled[TermNELBO], 2*same[TermNELBO])
	}
}

func TestVariationalObjectivesValidation(t *testing.T) {
	v := newTestEngine(t)

	X := mat.NewDense(3, 1, []float64{0, 1, 2})
	Y := mat.NewDense(3, 1, []float64{0, 0, 0})
	badY := mat.NewDense(2, 1, []float64{0, 0})

	if _, err := v.Objectives(X, badY, 3); err == nil {
		t.Error("Objectives accepted mismatched Y rows")
	}
	badX := mat.NewDense(3, 2, nil)
	if _, err := v.Objectives(badX, Y, 3); err == nil {
		t.Error("Objectives accepted wrong input dimension")
	}
}

// Duplicated inducing points without jitter make Kmm exactly singular;
// the failure must surface as a FactorizationError, not as NaNs.
func TestVariationalFactorizationError(t *testing.T) {
	kern, _ := kernel.NewRBF(1, 1, 1.0, 1.0, false)
	lik, _ := likelihood.NewGaussian(0.1)
	Z := mat.NewDense(3, 1, []float64{1, 1, 1})
	v, err := NewVariational(Z, kern, lik, WithJitter(0))
	if err != nil {
		t.Fatalf("NewVariational: %v", err)
	}

	X := mat.NewDense(2, 1, []float64{0, 1})
	Y := mat.NewDense(2, 1, []float64{0, 0})
	_, err = v.Objectives(X, Y, 2)
	if err == nil {
		t.Fatal("Objectives succeeded on singular Kmm")
	}
	var fe *errors.FactorizationError
	if !errors.As(err, &fe) {
		t.Errorf("error %v is not a FactorizationError", err)
	}

	// Retrying with jitter restored must succeed.
	v.SetJitter(1e-6)
	if _, err := v.Objectives(X, Y, 2); err != nil {
		t.Errorf("Objectives with jitter: %v", err)
	}
}

func TestVariationalParamsRoundTrip(t *testing.T) {
	v := newTestEngine(t)

	params := v.Params()
	z := params[ParamInducingInputs]
	if len(z) != 5 {
		t.Fatalf("inducing inputs vector has %d entries, want 5", len(z))
	}
	z[0] = -3.5
	if err := v.SetParams(map[string][]float64{ParamInducingInputs: z}); err != nil {
		t.Fatalf("SetParams: %v", err)
	}
	if got := v.InducingInputs().At(0, 0); got != -3.5 {
		t.Errorf("inducing input after update = %v, want -3.5", got)
	}

	// The number of inducing points is fixed for the life of the engine.
	if err := v.SetParams(map[string][]float64{ParamInducingInputs: {0, 1}}); err == nil {
		t.Error("SetParams accepted a resized inducing set")
	}
}

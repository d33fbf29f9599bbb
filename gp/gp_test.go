package gp

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gogp/dataset"
	"github.com/YuminosukeSato/gogp/inference"
	"github.com/YuminosukeSato/gogp/kernel"
	"github.com/YuminosukeSato/gogp/likelihood"
	"github.com/YuminosukeSato/gogp/optimize"
	"github.com/YuminosukeSato/gogp/pkg/errors"
)

func newVariationalModel(t *testing.T) *GaussianProcess {
	t.Helper()
	kern, err := kernel.NewRBF(1, 1, 1.0, 1.0, false)
	if err != nil {
		t.Fatalf("NewRBF: %v", err)
	}
	lik, err := likelihood.NewGaussian(0.1)
	if err != nil {
		t.Fatalf("NewGaussian: %v", err)
	}
	Z := mat.NewDense(4, 1, []float64{-1.5, -0.5, 0.5, 1.5})
	m, err := New(inference.ModeVariational, Z, kern, lik, Option{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNewValidation(t *testing.T) {
	kern, _ := kernel.NewRBF(2, 1, 1.0, 1.0, false)
	gauss, _ := likelihood.NewGaussian(0.1)

	t.Run("inducing dimension mismatch", func(t *testing.T) {
		Z := mat.NewDense(3, 1, []float64{0, 1, 2})
		if _, err := New(inference.ModeVariational, Z, kern, gauss, Option{}); err == nil {
			t.Error("New accepted mismatched inducing dimensions")
		}
	})

	t.Run("exact requires Gaussian likelihood", func(t *testing.T) {
		if _, err := New(inference.ModeExact, nil, kern, likelihood.NewBernoulli(), Option{}); err == nil {
			t.Error("New accepted Bernoulli likelihood for exact inference")
		}
	})

	t.Run("exact with Gaussian succeeds", func(t *testing.T) {
		m, err := New(inference.ModeExact, nil, kern, gauss, Option{})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if m.Mode() != inference.ModeExact {
			t.Errorf("Mode() = %v, want ModeExact", m.Mode())
		}
	})
}

func TestInducingFromData(t *testing.T) {
	X := mat.NewDense(10, 1, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	Y := mat.NewDense(10, 1, nil)
	data, err := dataset.New(X, Y)
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}

	Z, err := InducingFromData(data, 5)
	if err != nil {
		t.Fatalf("InducingFromData: %v", err)
	}
	r, c := Z.Dims()
	if r != 5 || c != 1 {
		t.Fatalf("Z dims = (%d, %d), want (5, 1)", r, c)
	}
	// Evenly strided selection from the data.
	want := []float64{0, 2, 4, 6, 8}
	for i, w := range want {
		if Z.At(i, 0) != w {
			t.Errorf("Z[%d] = %v, want %v", i, Z.At(i, 0), w)
		}
	}

	// Requesting more inducing points than examples clamps to the data size.
	Z, err = InducingFromData(data, 100)
	if err != nil {
		t.Fatalf("InducingFromData: %v", err)
	}
	r, _ = Z.Dims()
	if r != 10 {
		t.Errorf("clamped Z rows = %d, want 10", r)
	}

	if _, err := InducingFromData(data, 0); err == nil {
		t.Error("InducingFromData accepted zero points")
	}
}

// Predict must be callable before any training and reflect the prior.
func TestPredictBeforeTraining(t *testing.T) {
	m := newVariationalModel(t)
	X := mat.NewDense(2, 1, []float64{0, 3})
	mean, variance, err := m.Predict(X, 0)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for i := 0; i < 2; i++ {
		if math.Abs(mean.At(i, 0)) > 1e-10 {
			t.Errorf("prior mean[%d] = %v, want 0", i, mean.At(i, 0))
		}
		if variance.At(i, 0) <= 0 {
			t.Errorf("prior variance[%d] = %v, want > 0", i, variance.At(i, 0))
		}
	}
}

// Splitting the test set into batches of size 1 must agree with a single
// batch of size N.
func TestPredictBatchedMatchesUnbatched(t *testing.T) {
	m := newVariationalModel(t)

	// Make the posterior non-trivial before comparing.
	if err := m.Engine().SetParams(map[string][]float64{
		inference.ParamQMean: {0.7, -1.2, 0.4, 2.0},
	}); err != nil {
		t.Fatalf("SetParams: %v", err)
	}

	n := 7
	X := mat.NewDense(n, 1, []float64{-2, -1, 0, 0.5, 1, 2, 3})

	meanFull, varFull, err := m.Predict(X, 0)
	if err != nil {
		t.Fatalf("Predict full: %v", err)
	}
	meanOne, varOne, err := m.Predict(X, 1)
	if err != nil {
		t.Fatalf("Predict batched: %v", err)
	}

	for i := 0; i < n; i++ {
		if math.Abs(meanFull.At(i, 0)-meanOne.At(i, 0)) > 1e-5 {
			t.Errorf("mean[%d]: %v vs %v", i, meanFull.At(i, 0), meanOne.At(i, 0))
		}
		if math.Abs(varFull.At(i, 0)-varOne.At(i, 0)) > 1e-5 {
			t.Errorf("variance[%d]: %v vs %v", i, varFull.At(i, 0), varOne.At(i, 0))
		}
	}
}

func TestPredictDimensionValidation(t *testing.T) {
	m := newVariationalModel(t)
	bad := mat.NewDense(2, 3, nil)
	if _, _, err := m.Predict(bad, 0); err == nil {
		t.Error("Predict accepted wrong input dimension")
	}
}

// A few full-batch steps on a tiny dataset must run cleanly and improve
// the training objective.
func TestFitImprovesObjective(t *testing.T) {
	m := newVariationalModel(t)

	X := mat.NewDense(6, 1, []float64{-1.5, -1, -0.5, 0.5, 1, 1.5})
	Y := mat.NewDense(6, 1, []float64{-1, -0.8, -0.3, 0.3, 0.8, 1})
	data, err := dataset.New(X, Y)
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}

	before, err := m.Objectives(X, Y, 6)
	if err != nil {
		t.Fatalf("Objectives: %v", err)
	}

	opt := optimize.NewAdam(0.1)
	if err := m.Fit(data, opt, FitConfig{Epochs: 20, DisplayStep: 100}); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if !m.IsFitted() {
		t.Error("model not marked fitted after Fit")
	}

	after, err := m.Objectives(X, Y, 6)
	if err != nil {
		t.Fatalf("Objectives: %v", err)
	}
	if after.Total() >= before.Total() {
		t.Errorf("objective did not improve: before %v, after %v", before.Total(), after.Total())
	}
}

func TestFitWarnsWhenObjectiveWorsens(t *testing.T) {
	m := newVariationalModel(t)

	X := mat.NewDense(6, 1, []float64{-1.5, -1, -0.5, 0.5, 1, 1.5})
	Y := mat.NewDense(6, 1, []float64{-1, -0.8, -0.3, 0.3, 0.8, 1})
	data, err := dataset.New(X, Y)
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}

	var warnings []error
	errors.SetZerologWarnFunc(func(w error) { warnings = append(warnings, w) })
	t.Cleanup(func() { errors.SetZerologWarnFunc(nil) })

	// A negative learning rate ascends the objective, so two full-batch
	// steps leave it worse than at initialization.
	opt := optimize.NewAdam(-0.01)
	if err := m.Fit(data, opt, FitConfig{Epochs: 2, DisplayStep: 100}); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	found := false
	for _, w := range warnings {
		var cw *errors.ConvergenceWarning
		if errors.As(w, &cw) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a ConvergenceWarning, got %v", warnings)
	}
}

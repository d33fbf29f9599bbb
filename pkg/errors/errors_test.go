package errors

import (
	"math"
	"strings"
	"testing"
)

func TestNotFittedError(t *testing.T) {
	err := NewNotFittedError("GaussianProcess", "Predict")
	if err == nil {
		t.Fatal("NewNotFittedError returned nil")
	}

	var nf *NotFittedError
	if !As(err, &nf) {
		t.Fatal("error is not a NotFittedError")
	}
	if nf.ModelName != "GaussianProcess" || nf.Method != "Predict" {
		t.Errorf("unexpected fields: %+v", nf)
	}
	if !strings.Contains(err.Error(), "not fitted") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestDimensionError(t *testing.T) {
	err := NewDimensionError("Cov", 3, 5, 1)

	var de *DimensionError
	if !As(err, &de) {
		t.Fatal("error is not a DimensionError")
	}
	if de.Expected != 3 || de.Got != 5 || de.Axis != 1 {
		t.Errorf("unexpected fields: %+v", de)
	}
	if !strings.Contains(err.Error(), "Expected 3, got 5") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestFactorizationError(t *testing.T) {
	err := NewFactorizationError("Variational.Objectives", "Kmm", 10, 1e-6)

	var fe *FactorizationError
	if !As(err, &fe) {
		t.Fatal("error is not a FactorizationError")
	}
	if fe.Matrix != "Kmm" || fe.Size != 10 || fe.Jitter != 1e-6 {
		t.Errorf("unexpected fields: %+v", fe)
	}
	if !strings.Contains(err.Error(), "not positive definite") {
		t.Errorf("unexpected message: %s", err.Error())
	}

	// The type must survive wrapping.
	wrapped := Wrapf(err, "step %d", 7)
	if !As(wrapped, &fe) {
		t.Error("FactorizationError lost through Wrapf")
	}

	// FactorizationError unwraps to the singular-matrix sentinel.
	if !Is(err, ErrSingularMatrix) {
		t.Error("FactorizationError does not match ErrSingularMatrix")
	}
	if !Is(wrapped, ErrSingularMatrix) {
		t.Error("ErrSingularMatrix lost through Wrapf")
	}
}

func TestCheckpointErrorRecoverable(t *testing.T) {
	recoverable := NewCheckpointError("Apply", "kernel/sf", "parameter missing from checkpoint", true)
	fatal := NewCheckpointError("Apply", "kernel/sf", "shape mismatch", false)

	var ce *CheckpointError
	if !As(recoverable, &ce) || !ce.Recoverable {
		t.Error("recoverable checkpoint error lost its flag")
	}
	if !As(fatal, &ce) || ce.Recoverable {
		t.Error("fatal checkpoint error lost its flag")
	}
}

func TestWarningHandler(t *testing.T) {
	var captured []error
	SetWarningHandler(func(w error) {
		captured = append(captured, w)
	})
	defer SetWarningHandler(func(w error) {})

	Warn(NewNegativeVarianceWarning("Predict", 3, -1e-12))
	Warn(NewConvergenceWarning("Adam", 500, ""))

	if len(captured) != 2 {
		t.Fatalf("captured %d warnings, want 2", len(captured))
	}
	var nv *NegativeVarianceWarning
	if !As(captured[0], &nv) || nv.Index != 3 {
		t.Errorf("first warning = %v, want NegativeVarianceWarning at index 3", captured[0])
	}
}

func TestZerologWarnFuncTakesPriority(t *testing.T) {
	var viaHandler, viaZerolog int
	SetWarningHandler(func(error) { viaHandler++ })
	SetZerologWarnFunc(func(error) { viaZerolog++ })
	defer func() {
		SetZerologWarnFunc(nil)
		SetWarningHandler(func(w error) {})
	}()

	Warn(New("test warning"))
	if viaZerolog != 1 || viaHandler != 0 {
		t.Errorf("zerolog=%d handler=%d, want 1 and 0", viaZerolog, viaHandler)
	}
}

func TestCheckScalar(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		wantErr bool
	}{
		{name: "finite", value: 1.5, wantErr: false},
		{name: "zero", value: 0, wantErr: false},
		{name: "NaN", value: math.NaN(), wantErr: true},
		{name: "positive infinity", value: math.Inf(1), wantErr: true},
		{name: "negative infinity", value: math.Inf(-1), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckScalar("NELBO", tt.value, 12)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckScalar(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if err != nil {
				var ne *NumericalInstabilityError
				if !As(err, &ne) {
					t.Errorf("error %v is not a NumericalInstabilityError", err)
				}
			}
		})
	}
}

func TestCheckNumericalStability(t *testing.T) {
	if err := CheckNumericalStability("gradient", []float64{0.5, -1.2, 3}, 4); err != nil {
		t.Errorf("finite slice flagged unstable: %v", err)
	}

	err := CheckNumericalStability("gradient", []float64{0.5, math.NaN(), 3}, 4)
	if err == nil {
		t.Fatal("NaN in slice not detected")
	}
	var ne *NumericalInstabilityError
	if !As(err, &ne) {
		t.Errorf("error %v is not a NumericalInstabilityError", err)
	}
}

func TestCheckMatrix(t *testing.T) {
	finite := matStub{0: {0: 1.5, 1: -2}, 1: {0: 0, 1: 7}}
	if err := CheckMatrix("Predict", finite, 2, 2, 0); err != nil {
		t.Errorf("finite matrix flagged unstable: %v", err)
	}

	bad := matStub{0: {0: 1.5, 1: math.Inf(1)}, 1: {0: 0, 1: 7}}
	err := CheckMatrix("Predict", bad, 2, 2, 0)
	if err == nil {
		t.Fatal("Inf in matrix not detected")
	}
	var ne *NumericalInstabilityError
	if !As(err, &ne) {
		t.Errorf("error %v is not a NumericalInstabilityError", err)
	}
}

// matStub is a minimal At implementation for CheckMatrix tests.
type matStub map[int]map[int]float64

func (m matStub) At(i, j int) float64 { return m[i][j] }

func TestClipValue(t *testing.T) {
	tests := []struct {
		name            string
		value, min, max float64
		want            float64
	}{
		{name: "inside", value: 0.5, min: 0, max: 1, want: 0.5},
		{name: "below", value: -3, min: 0, max: 1, want: 0},
		{name: "above", value: 7, min: 0, max: 1, want: 1},
		{name: "at bound", value: 1, min: 0, max: 1, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClipValue(tt.value, tt.min, tt.max); got != tt.want {
				t.Errorf("ClipValue(%v, %v, %v) = %v, want %v", tt.value, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

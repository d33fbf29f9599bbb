package dataset

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func seqDataset(t *testing.T, n int, opts ...Option) *Dataset {
	t.Helper()
	X := mat.NewDense(n, 1, nil)
	Y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		Y.Set(i, 0, float64(i)*10)
	}
	d, err := New(X, Y, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		X    *mat.Dense
		Y    *mat.Dense
	}{
		{name: "nil inputs", X: nil, Y: nil},
		{
			name: "row mismatch",
			X:    mat.NewDense(3, 1, []float64{1, 2, 3}),
			Y:    mat.NewDense(2, 1, []float64{1, 2}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.X, tt.Y); err == nil {
				t.Error("New succeeded, want error")
			}
		})
	}
}

// The epoch counter increments exactly once per full pass, regardless of
// how the pass is sliced into batches.
func TestEpochCounting(t *testing.T) {
	tests := []struct {
		name       string
		n          int
		batchSize  int
		numBatches int
		wantEpochs int
	}{
		{name: "full batch", n: 6, batchSize: 6, numBatches: 3, wantEpochs: 3},
		{name: "even split", n: 6, batchSize: 2, numBatches: 3, wantEpochs: 1},
		{name: "uneven split", n: 5, batchSize: 2, numBatches: 5, wantEpochs: 2},
		{name: "partial pass", n: 6, batchSize: 4, numBatches: 1, wantEpochs: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := seqDataset(t, tt.n)
			for i := 0; i < tt.numBatches; i++ {
				if _, _, err := d.NextBatch(tt.batchSize); err != nil {
					t.Fatalf("NextBatch: %v", err)
				}
			}
			if got := d.EpochsCompleted(); got != tt.wantEpochs {
				t.Errorf("EpochsCompleted() = %d, want %d", got, tt.wantEpochs)
			}
		})
	}
}

// A batch crossing the epoch boundary concatenates the tail of one pass
// with the head of the next.
func TestNextBatchWraparound(t *testing.T) {
	d := seqDataset(t, 5)

	if _, _, err := d.NextBatch(3); err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	X, _, err := d.NextBatch(4)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}

	want := []float64{3, 4, 0, 1}
	for i, w := range want {
		if X.At(i, 0) != w {
			t.Errorf("wrapped batch[%d] = %v, want %v", i, X.At(i, 0), w)
		}
	}
	if d.EpochsCompleted() != 1 {
		t.Errorf("EpochsCompleted() = %d, want 1", d.EpochsCompleted())
	}
}

func TestNextBatchOversizedClamps(t *testing.T) {
	d := seqDataset(t, 3)
	X, Y, err := d.NextBatch(10)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	n, _ := X.Dims()
	if n != 3 {
		t.Errorf("batch rows = %d, want 3", n)
	}
	ny, _ := Y.Dims()
	if ny != 3 {
		t.Errorf("batch Y rows = %d, want 3", ny)
	}
}

// Shuffling reorders examples only at epoch boundaries: within one pass
// every example appears exactly once.
func TestShuffleKeepsEpochsIntact(t *testing.T) {
	d := seqDataset(t, 8, WithShuffle(3))

	for epoch := 0; epoch < 3; epoch++ {
		seen := make(map[float64]bool)
		for b := 0; b < 4; b++ {
			X, _, err := d.NextBatch(2)
			if err != nil {
				t.Fatalf("NextBatch: %v", err)
			}
			for i := 0; i < 2; i++ {
				v := X.At(i, 0)
				if seen[v] {
					t.Fatalf("epoch %d: example %v drawn twice", epoch, v)
				}
				seen[v] = true
			}
		}
		if len(seen) != 8 {
			t.Fatalf("epoch %d: drew %d distinct examples, want 8", epoch, len(seen))
		}
	}
}

func TestFullView(t *testing.T) {
	d := seqDataset(t, 4)
	X, Y := d.Full()
	n, _ := X.Dims()
	if n != 4 {
		t.Errorf("Full X rows = %d, want 4", n)
	}
	if Y.At(2, 0) != 20 {
		t.Errorf("Full Y[2] = %v, want 20", Y.At(2, 0))
	}
	if d.NumExamples() != 4 || d.InputDim() != 1 || d.OutputDim() != 1 {
		t.Errorf("dims = (%d, %d, %d), want (4, 1, 1)",
			d.NumExamples(), d.InputDim(), d.OutputDim())
	}
}

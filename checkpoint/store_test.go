package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/gogp/pkg/errors"
)

// fakeComponent is a minimal Parameterized implementation for store tests.
type fakeComponent struct {
	names  []string
	values map[string][]float64
}

func newFakeComponent(values map[string][]float64) *fakeComponent {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	return &fakeComponent{names: names, values: values}
}

func (f *fakeComponent) ParamNames() []string { return f.names }

func (f *fakeComponent) Params() map[string][]float64 {
	out := make(map[string][]float64, len(f.values))
	for name, vals := range f.values {
		cp := make([]float64, len(vals))
		copy(cp, vals)
		out[name] = cp
	}
	return out
}

func (f *fakeComponent) SetParams(params map[string][]float64) error {
	for name, vals := range params {
		cp := make([]float64, len(vals))
		copy(cp, vals)
		f.values[name] = cp
	}
	return nil
}

func captureWarnings(t *testing.T) *[]error {
	t.Helper()
	var warnings []error
	errors.SetZerologWarnFunc(func(w error) {
		warnings = append(warnings, w)
	})
	t.Cleanup(func() { errors.SetZerologWarnFunc(nil) })
	return &warnings
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "test")
	require.NoError(t, err)

	state := &State{
		Step: 120,
		Params: map[string][]float64{
			"kernel/length_scale": {0.1, 0.2},
			"likelihood/noise":    {-2.3},
		},
		OptM: []float64{1, 2, 3},
		OptV: []float64{4, 5, 6},
	}
	path, err := store.Save(state)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "test-120.ckpt"), path)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 120, loaded.Step)
	assert.Equal(t, state.Params, loaded.Params)
	assert.Equal(t, state.OptM, loaded.OptM)
	assert.Equal(t, state.OptV, loaded.OptV)
}

func TestLatestPicksHighestStep(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "model")
	require.NoError(t, err)

	for _, step := range []int{10, 300, 40} {
		_, err := store.Save(&State{Step: step, Params: map[string][]float64{}})
		require.NoError(t, err)
	}
	// A stray file with a different prefix must be ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other-999.ckpt"), []byte("x"), 0o644))

	path, ok := store.Latest()
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "model-300.ckpt"), path)
}

func TestLatestEmptyDir(t *testing.T) {
	store, err := NewStore(t.TempDir(), "model")
	require.NoError(t, err)
	_, ok := store.Latest()
	assert.False(t, ok)
}

func TestSaveLeavesNoPartialFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "model")
	require.NoError(t, err)
	_, err = store.Save(&State{Step: 1, Params: map[string][]float64{"a": {1}}})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "model-1.ckpt", entries[0].Name())
}

func TestApplyRestoresParams(t *testing.T) {
	comp := newFakeComponent(map[string][]float64{
		"a": {0, 0},
		"b": {0},
	})
	state := &State{Params: map[string][]float64{
		"a": {1.5, 2.5},
		"b": {-3},
	}}

	require.NoError(t, Apply(state, false, comp))
	assert.Equal(t, []float64{1.5, 2.5}, comp.values["a"])
	assert.Equal(t, []float64{-3}, comp.values["b"])
}

func TestApplyMissingKey(t *testing.T) {
	state := &State{Params: map[string][]float64{"a": {1}}}

	t.Run("partialOK warns and keeps current value", func(t *testing.T) {
		warnings := captureWarnings(t)
		comp := newFakeComponent(map[string][]float64{"a": {0}, "missing": {7}})

		require.NoError(t, Apply(state, true, comp))
		assert.Equal(t, []float64{7}, comp.values["missing"])
		assert.NotEmpty(t, *warnings)
	})

	t.Run("strict mode fails", func(t *testing.T) {
		comp := newFakeComponent(map[string][]float64{"a": {0}, "missing": {7}})
		assert.Error(t, Apply(state, false, comp))
	})
}

func TestApplyExtraKeyWarns(t *testing.T) {
	warnings := captureWarnings(t)
	comp := newFakeComponent(map[string][]float64{"a": {0}})
	state := &State{Params: map[string][]float64{
		"a":        {1},
		"obsolete": {9, 9},
	}}

	require.NoError(t, Apply(state, false, comp))
	assert.Equal(t, []float64{1}, comp.values["a"])
	require.Len(t, *warnings, 1)
}

// A shape mismatch means the checkpoint belongs to a different model
// configuration; it must fail even under partialOK.
func TestApplyShapeMismatchFatal(t *testing.T) {
	comp := newFakeComponent(map[string][]float64{"a": {0, 0}})
	state := &State{Params: map[string][]float64{"a": {1, 2, 3}}}

	err := Apply(state, true, comp)
	require.Error(t, err)
	var ce *errors.CheckpointError
	assert.True(t, errors.As(err, &ce))
}

func TestCollect(t *testing.T) {
	c1 := newFakeComponent(map[string][]float64{"a": {1}})
	c2 := newFakeComponent(map[string][]float64{"b": {2, 3}})

	out := Collect(c1, c2)
	assert.Equal(t, map[string][]float64{"a": {1}, "b": {2, 3}}, out)

	// Collected slices are copies, not views into the component.
	out["a"][0] = 99
	assert.Equal(t, []float64{1}, c1.values["a"])
}

// Package dataset はガウス過程の学習・評価に使うデータセットコラボレータを提供する
package dataset

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gogp/pkg/errors"
)

// Dataset は (入力, 出力) ペアの順序付きコレクション
//
// ラップアラウンド付きの逐次ミニバッチ抽出と、1周ごとに正確に1回
// インクリメントされるエポックカウンタを提供する。シャッフルは
// エポック境界でのみ行われる（1周が完了する前に並び替えない）。
//
// 所有権: データセットは呼び出し側が所有し、推論コアは読み取りのみ行う。
type Dataset struct {
	x *mat.Dense
	y *mat.Dense

	numExamples     int
	inputDim        int
	outputDim       int
	pos             int
	epochsCompleted int

	// シャッフル設定（nil の場合はシャッフルしない）
	rng  *rand.Rand
	perm []int
}

// Option は Dataset の構築オプション
type Option func(*Dataset)

// WithShuffle はエポックごとのシャッフルを有効にする
func WithShuffle(seed int64) Option {
	return func(d *Dataset) {
		d.rng = rand.New(rand.NewSource(seed))
	}
}

// New は新しいデータセットを作成する
//
// 戻り値:
//   - エラー: データが空、またはXとYの行数が一致しない場合
func New(X, Y *mat.Dense, opts ...Option) (*Dataset, error) {
	const op = "dataset.New"
	if X == nil || Y == nil {
		return nil, errors.NewValueError(op, "X and Y must not be nil")
	}
	n, d := X.Dims()
	ny, dy := Y.Dims()
	if n == 0 || d == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, op)
	}
	if ny != n {
		return nil, errors.NewDimensionError(op, n, ny, 0)
	}

	ds := &Dataset{
		x:           X,
		y:           Y,
		numExamples: n,
		inputDim:    d,
		outputDim:   dy,
	}
	for _, opt := range opts {
		opt(ds)
	}
	ds.perm = make([]int, n)
	for i := range ds.perm {
		ds.perm[i] = i
	}
	if ds.rng != nil {
		ds.shuffle()
	}
	return ds, nil
}

// NumExamples はデータ点の総数を返す
func (d *Dataset) NumExamples() int { return d.numExamples }

// InputDim は入力の次元数を返す
func (d *Dataset) InputDim() int { return d.inputDim }

// OutputDim は出力の次元数を返す
func (d *Dataset) OutputDim() int { return d.outputDim }

// EpochsCompleted は完了したエポック数を返す
//
// データ全体を1周するごとに正確に1回インクリメントされる。
func (d *Dataset) EpochsCompleted() int { return d.epochsCompleted }

// Full は評価用にデータ全体のビューを返す
func (d *Dataset) Full() (X, Y *mat.Dense) {
	return d.x, d.y
}

// NextBatch は次のミニバッチを逐次的に抽出する
//
// エポックの残りがバッチサイズに満たない場合は、残りと次エポックの
// 先頭を連結して返す。エポック境界をまたいだ時点でカウンタが増え、
// シャッフルが有効であれば次エポックの並びが再生成される。
//
// 戻り値:
//   - エラー: size が不正な場合
func (d *Dataset) NextBatch(size int) (X, Y *mat.Dense, err error) {
	const op = "Dataset.NextBatch"
	if size < 1 {
		return nil, nil, errors.NewValueError(op, "batch size must be at least 1")
	}
	if size > d.numExamples {
		size = d.numExamples
	}

	X = mat.NewDense(size, d.inputDim, nil)
	Y = mat.NewDense(size, d.outputDim, nil)
	for i := 0; i < size; i++ {
		src := d.perm[d.pos]
		for j := 0; j < d.inputDim; j++ {
			X.Set(i, j, d.x.At(src, j))
		}
		for j := 0; j < d.outputDim; j++ {
			Y.Set(i, j, d.y.At(src, j))
		}
		d.pos++
		if d.pos == d.numExamples {
			// エポック境界: 1周が完了した後にのみ並び替える
			d.epochsCompleted++
			d.pos = 0
			if d.rng != nil {
				d.shuffle()
			}
		}
	}
	return X, Y, nil
}

// shuffle は現在の並びを再生成する
func (d *Dataset) shuffle() {
	d.rng.Shuffle(len(d.perm), func(i, j int) {
		d.perm[i], d.perm[j] = d.perm[j], d.perm[i]
	})
}

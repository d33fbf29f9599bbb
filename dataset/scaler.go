package dataset

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gogp/core/model"
	"github.com/YuminosukeSato/gogp/pkg/errors"
)

// StandardScaler は入力データを平均0、標準偏差1に標準化する
//
// ガウス過程のカーネルは長さスケールに敏感なため、入力の標準化は
// ハイパーパラメータ最適化の安定性を大きく改善する。使用は任意で、
// 呼び出し側がデータセット構築前に適用する。
type StandardScaler struct {
	model.BaseEstimator

	// Mean は各特徴量の平均値
	Mean []float64

	// Scale は各特徴量の標準偏差
	Scale []float64

	// NFeatures は特徴量の数
	NFeatures int
}

// NewStandardScaler は新しいStandardScalerを作成する
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

// Fit は訓練データから統計情報（平均、標準偏差）を計算する
func (s *StandardScaler) Fit(X mat.Matrix) error {
	const op = "StandardScaler.Fit"
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.Wrap(errors.ErrEmptyData, op)
	}

	s.NFeatures = c
	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)

	// 平均を計算
	for j := 0; j < c; j++ {
		sum := 0.0
		for i := 0; i < r; i++ {
			sum += X.At(i, j)
		}
		s.Mean[j] = sum / float64(r)
	}

	// 標準偏差を計算
	for j := 0; j < c; j++ {
		sumSq := 0.0
		for i := 0; i < r; i++ {
			diff := X.At(i, j) - s.Mean[j]
			sumSq += diff * diff
		}
		sd := math.Sqrt(sumSq / float64(r))
		if sd == 0 {
			// 定数特徴量はゼロ除算を避けるためスケール1とする
			sd = 1
		}
		s.Scale[j] = sd
	}

	s.SetFitted()
	return nil
}

// Transform はデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (*mat.Dense, error) {
	const op = "StandardScaler.Transform"
	if err := s.RequireFitted("StandardScaler", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if c != s.NFeatures {
		return nil, errors.NewDimensionError(op, s.NFeatures, c, 1)
	}

	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, (X.At(i, j)-s.Mean[j])/s.Scale[j])
		}
	}
	return out, nil
}

// FitTransform はFitとTransformを連続して実行する
func (s *StandardScaler) FitTransform(X mat.Matrix) (*mat.Dense, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (*mat.Dense, error) {
	const op = "StandardScaler.InverseTransform"
	if err := s.RequireFitted("StandardScaler", "InverseTransform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if c != s.NFeatures {
		return nil, errors.NewDimensionError(op, s.NFeatures, c, 1)
	}

	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, X.At(i, j)*s.Scale[j]+s.Mean[j])
		}
	}
	return out, nil
}

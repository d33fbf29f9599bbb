package likelihood

import (
	"math"

	"github.com/YuminosukeSato/gogp/pkg/errors"
)

// ParamNoiseVariance はチェックポイントのキーとなるパラメータ名
const ParamNoiseVariance = "likelihood/noise_variance"

const log2Pi = 1.8378770664093453 // log(2π)

// Gaussian はガウス尤度 p(y|f) = N(y | f, σ²)
//
// 回帰タスクの標準的な尤度。ノイズ分散 σ² は対数空間で保持されるため、
// 制約のない最適化の下でも常に正となる。
// 期待対数尤度と予測密度は解析的に計算できる。
type Gaussian struct {
	logVariance float64
}

// NewGaussian は新しいガウス尤度を作成する
//
// 戻り値:
//   - エラー: ノイズ分散が非正の場合
func NewGaussian(noiseVariance float64) (*Gaussian, error) {
	if noiseVariance <= 0 {
		return nil, errors.NewValidationError("noiseVariance", "must be strictly positive", noiseVariance)
	}
	return &Gaussian{logVariance: math.Log(noiseVariance)}, nil
}

// NoiseVariance はノイズ分散 σ²（正値空間）を返す
func (g *Gaussian) NoiseVariance() float64 {
	return math.Exp(g.logVariance)
}

// LogProb は log N(y | f, σ²) を返す
func (g *Gaussian) LogProb(y, f float64) float64 {
	v := g.NoiseVariance()
	diff := y - f
	return -0.5*(log2Pi+math.Log(v)) - diff*diff/(2*v)
}

// VariationalExpectation は E_{N(f|mean,variance)}[log p(y|f)] を解析的に返す
//
//	E[log N(y|f,σ²)] = log N(y|mean,σ²) − variance/(2σ²)
func (g *Gaussian) VariationalExpectation(y, mean, variance float64) float64 {
	return g.LogProb(y, mean) - variance/(2*g.NoiseVariance())
}

// PredictiveLogDensity は log N(y | mean, variance+σ²) を返す
func (g *Gaussian) PredictiveLogDensity(y, mean, variance float64) float64 {
	v := variance + g.NoiseVariance()
	diff := y - mean
	return -0.5*(log2Pi+math.Log(v)) - diff*diff/(2*v)
}

// Predict は潜在関数のモーメントに観測ノイズを加えて返す
func (g *Gaussian) Predict(mean, variance float64) (float64, float64) {
	return mean, variance + g.NoiseVariance()
}

// ParamNames はチェックポイントのキーとなるパラメータ名を返す
func (g *Gaussian) ParamNames() []string {
	return []string{ParamNoiseVariance}
}

// Params は対数空間のパラメータ値を返す
func (g *Gaussian) Params() map[string][]float64 {
	return map[string][]float64{
		ParamNoiseVariance: {g.logVariance},
	}
}

// SetParams は対数空間のパラメータ値を設定する
func (g *Gaussian) SetParams(params map[string][]float64) error {
	if v, ok := params[ParamNoiseVariance]; ok {
		if len(v) != 1 {
			return errors.NewDimensionError("Gaussian.SetParams", 1, len(v), 0)
		}
		g.logVariance = v[0]
	}
	return nil
}

package likelihood

import (
	"math"

	"github.com/YuminosukeSato/gogp/pkg/errors"
)

// Bernoulli はプロビットリンクのベルヌーイ尤度 p(y=1|f) = Φ(f)
//
// 二値分類タスク用。ラベルは {0, 1} を想定する。
// 期待対数尤度は解析的に計算できないためガウス・エルミート求積で近似し、
// 予測密度はプロビットリンクの閉形式周辺化を使用する。
// 学習可能なパラメータは持たない。
type Bernoulli struct{}

// NewBernoulli は新しいベルヌーイ尤度を作成する
func NewBernoulli() *Bernoulli {
	return &Bernoulli{}
}

// probit は標準正規分布の累積分布関数 Φ
func probit(f float64) float64 {
	return 0.5 * math.Erfc(-f/math.Sqrt2)
}

// LogProb は log p(y|f) を返す
func (b *Bernoulli) LogProb(y, f float64) float64 {
	p := probit(f)
	// 対数の爆発を避けるためのフロア
	const tiny = 1e-300
	if y > 0.5 {
		return math.Log(errors.ClipValue(p, tiny, 1))
	}
	return math.Log(errors.ClipValue(1-p, tiny, 1))
}

// VariationalExpectation は E_{N(f|mean,variance)}[log p(y|f)] を求積で近似する
func (b *Bernoulli) VariationalExpectation(y, mean, variance float64) float64 {
	return Quadrature(func(f float64) float64 {
		return b.LogProb(y, f)
	}, mean, variance)
}

// PredictiveLogDensity はプロビットリンクの閉形式周辺化
//
//	∫ Φ(f) N(f|mean,variance) df = Φ(mean / √(1+variance))
func (b *Bernoulli) PredictiveLogDensity(y, mean, variance float64) float64 {
	p := probit(mean / math.Sqrt(1+variance))
	const tiny = 1e-300
	if y > 0.5 {
		return math.Log(errors.ClipValue(p, tiny, 1))
	}
	return math.Log(errors.ClipValue(1-p, tiny, 1))
}

// Predict は p(y=1) をベルヌーイ分布のモーメントとして返す
func (b *Bernoulli) Predict(mean, variance float64) (float64, float64) {
	p := probit(mean / math.Sqrt(1+variance))
	return p, p * (1 - p)
}

// ParamNames は空のスライスを返す（学習可能なパラメータなし）
func (b *Bernoulli) ParamNames() []string { return nil }

// Params は空のマップを返す
func (b *Bernoulli) Params() map[string][]float64 { return map[string][]float64{} }

// SetParams は何もしない
func (b *Bernoulli) SetParams(map[string][]float64) error { return nil }

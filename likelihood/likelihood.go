// Package likelihood はガウス過程の尤度関数 p(y|f) を提供する
package likelihood

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"

	"github.com/YuminosukeSato/gogp/core/model"
)

// Likelihood はガウス過程の尤度関数のインターフェース
//
// 変分推論の目的関数内で使用される期待対数尤度と、予測分布の周辺化を提供する。
// 解析的に計算できない尤度は Quadrature ヘルパーでガウス・エルミート求積に
// フォールバックできる。
type Likelihood interface {
	model.Parameterized

	// LogProb は log p(y|f) を返す
	LogProb(y, f float64) float64

	// VariationalExpectation は E_{q(f)=N(mean,variance)}[log p(y|f)] を返す
	VariationalExpectation(y, mean, variance float64) float64

	// PredictiveLogDensity は log ∫ p(y|f) N(f|mean,variance) df を返す
	PredictiveLogDensity(y, mean, variance float64) float64

	// Predict は潜在関数のモーメント (mean, variance) から
	// 観測空間の予測モーメントを返す
	Predict(mean, variance float64) (predMean, predVar float64)
}

// quadratureDegree はガウス・エルミート求積の次数
const quadratureDegree = 20

// Quadrature は E_{N(f|mean,variance)}[g(f)] をガウス・エルミート求積で近似する
//
// 解析的な期待値を持たない尤度の VariationalExpectation 実装に使用する。
// エルミート則は重み e^{-x²} に対するノードを返すため、
// f = mean + √(2·variance)·x と変数変換して評価する:
//
//	E[g] = (1/√π) Σᵢ wᵢ g(mean + √(2·variance)·xᵢ)
func Quadrature(g func(f float64) float64, mean, variance float64) float64 {
	if variance <= 0 {
		return g(mean)
	}
	scale := math.Sqrt(2 * variance)
	integrand := func(x float64) float64 {
		return g(mean+scale*x) / math.Sqrt(math.Pi)
	}
	return quad.Fixed(integrand, math.Inf(-1), math.Inf(1), quadratureDegree, quad.Hermite{}, 0)
}

// Package kernel はガウス過程の事前共分散関数（カーネル）を提供する
package kernel

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gogp/core/model"
)

// Kernel はガウス過程の共分散関数のインターフェース
//
// 潜在関数ごとに独立したパラメータセットを持ち、ペアワイズ評価（Cov）と
// 対角評価（DiagCov）を提供する。パラメータは Parameterized 契約を通じて
// 制約のない空間で最適化される。
type Kernel interface {
	model.Parameterized

	// Cov は共分散行列 K[i,j] = k_ℓ(X1[i], X2[j]) を計算する。
	// X2 が nil の場合は X2 = X1 として扱う。
	Cov(latent int, X1, X2 mat.Matrix) (*mat.Dense, error)

	// DiagCov は Cov(latent, X, X) の対角成分のみを計算する。
	// 定数対角カーネルでは O(n²) の計算を回避できる。
	DiagCov(latent int, X mat.Matrix) (*mat.VecDense, error)

	// InputDim は入力の次元数を返す
	InputDim() int

	// NumLatent は潜在関数の数を返す
	NumLatent() int
}

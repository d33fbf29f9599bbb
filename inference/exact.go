package inference

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gogp/kernel"
	"github.com/YuminosukeSato/gogp/likelihood"
	"github.com/YuminosukeSato/gogp/pkg/errors"
)

const logTwoPi = 1.8378770664093453 // log(2π)

// Exact は訓練点全体を使う厳密なガウス過程推論エンジン
//
// 誘導点が訓練点と一致する（スパース化しない）場合に使用する。
// 周辺対数尤度と事後予測分布を、訓練カーネル行列（対角に尤度ノイズを加算）の
// コレスキー分解から閉形式で計算する。
//
// 厳密推論はガウス尤度を必要とする。変分パラメータは持たず、学習対象は
// カーネル・尤度のハイパーパラメータのみとなる。
type Exact struct {
	kern      kernel.Kernel
	lik       *likelihood.Gaussian
	numLatent int
	inputDim  int
	jitter    float64

	// 訓練データ（Model Containerが所有し、Fit時に設定される）
	trainX *mat.Dense
	trainY *mat.Dense
}

// NewExact は新しい厳密推論エンジンを作成する
func NewExact(kern kernel.Kernel, lik *likelihood.Gaussian) (*Exact, error) {
	if lik == nil {
		return nil, errors.NewValueError("NewExact", "exact inference requires a Gaussian likelihood")
	}
	return &Exact{
		kern:      kern,
		lik:       lik,
		numLatent: kern.NumLatent(),
		inputDim:  kern.InputDim(),
		jitter:    DefaultJitter,
	}, nil
}

// Mode は ModeExact を返す
func (e *Exact) Mode() Mode { return ModeExact }

// Jitter は現在のジッター値を返す
func (e *Exact) Jitter() float64 { return e.jitter }

// SetJitter はジッター値を変更する。分解失敗時に呼び出し側が
// ジッターを増やして再試行するために使用する。
func (e *Exact) SetJitter(jitter float64) { e.jitter = jitter }

// SetData は予測に使用する訓練データを設定する
//
// 厳密推論の事後分布は訓練データ全体に条件付けられるため、
// Predict の前に必ず呼び出す必要がある。
func (e *Exact) SetData(X, Y *mat.Dense) error {
	const op = "Exact.SetData"
	n, d := X.Dims()
	if n == 0 {
		return errors.NewValueError(op, "empty training data")
	}
	if d != e.inputDim {
		return errors.NewDimensionError(op, e.inputDim, d, 1)
	}
	ny, dy := Y.Dims()
	if ny != n {
		return errors.NewDimensionError(op, n, ny, 0)
	}
	if dy != e.numLatent {
		return errors.NewDimensionError(op, e.numLatent, dy, 1)
	}
	e.trainX = X
	e.trainY = Y
	return nil
}

// noisyCholesky は Knn + σ²I（＋ジッター）のコレスキー分解を返す
func (e *Exact) noisyCholesky(op string, latent int, X *mat.Dense) (*mat.Cholesky, error) {
	Knn, err := e.kern.Cov(latent, X, nil)
	if err != nil {
		return nil, err
	}
	noise := e.lik.NoiseVariance()
	n, _ := Knn.Dims()
	for i := 0; i < n; i++ {
		Knn.Set(i, i, Knn.At(i, i)+noise)
	}
	return cholesky(op, "Knn", Knn, e.jitter)
}

// Objectives は負の周辺対数尤度 {"loss": −log p(y|X)} を計算する
//
//	−log p(y|X) = Σ_ℓ [ ½·y_ℓᵀ K⁻¹ y_ℓ + ½·log|K| + (n/2)·log 2π ]
//
// 分解失敗は FactorizationError として顕在化する（NaNを黙って返さない）。
func (e *Exact) Objectives(X, Y *mat.Dense, numTrain int) (Objectives, error) {
	const op = "Exact.Objectives"
	n, d := X.Dims()
	if n == 0 {
		return nil, errors.NewValueError(op, "empty batch")
	}
	if d != e.inputDim {
		return nil, errors.NewDimensionError(op, e.inputDim, d, 1)
	}
	ny, dy := Y.Dims()
	if ny != n {
		return nil, errors.NewDimensionError(op, n, ny, 0)
	}
	if dy != e.numLatent {
		return nil, errors.NewDimensionError(op, e.numLatent, dy, 1)
	}

	var nll float64
	for l := 0; l < e.numLatent; l++ {
		chol, err := e.noisyCholesky(op, l, X)
		if err != nil {
			return nil, err
		}
		y := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			y.SetVec(i, Y.At(i, l))
		}
		alpha := mat.NewVecDense(n, nil)
		if err := chol.SolveVecTo(alpha, y); err != nil {
			return nil, errors.NewFactorizationError(op, "Knn", n, e.jitter)
		}
		nll += 0.5*mat.Dot(y, alpha) + 0.5*chol.LogDet() + 0.5*float64(n)*logTwoPi
	}
	if err := errors.CheckScalar(TermLoss, nll, 0); err != nil {
		return nil, err
	}
	return Objectives{TermLoss: nll}, nil
}

// Predict は厳密な事後予測平均・分散（観測空間）を返す
//
// 毎回現在のパラメータ値で再計算するため、学習の前後いつでも呼び出せる。
func (e *Exact) Predict(X *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	const op = "Exact.Predict"
	if e.trainX == nil {
		return nil, nil, errors.NewNotFittedError("Exact", "Predict")
	}
	nTest, d := X.Dims()
	if d != e.inputDim {
		return nil, nil, errors.NewDimensionError(op, e.inputDim, d, 1)
	}
	nTrain, _ := e.trainX.Dims()

	predMean := mat.NewDense(nTest, e.numLatent, nil)
	predVar := mat.NewDense(nTest, e.numLatent, nil)

	for l := 0; l < e.numLatent; l++ {
		chol, err := e.noisyCholesky(op, l, e.trainX)
		if err != nil {
			return nil, nil, err
		}
		y := mat.NewVecDense(nTrain, nil)
		for i := 0; i < nTrain; i++ {
			y.SetVec(i, e.trainY.At(i, l))
		}
		alpha := mat.NewVecDense(nTrain, nil)
		if err := chol.SolveVecTo(alpha, y); err != nil {
			return nil, nil, errors.NewFactorizationError(op, "Knn", nTrain, e.jitter)
		}

		Knx, err := e.kern.Cov(l, e.trainX, X) // nTrain × nTest
		if err != nil {
			return nil, nil, err
		}
		L := lowerTri(chol)
		V := solveLowerTri(L, Knx) // nTrain × nTest
		vSq := colSumSquares(V)

		diagK, err := e.kern.DiagCov(l, X)
		if err != nil {
			return nil, nil, err
		}

		for i := 0; i < nTest; i++ {
			var mn float64
			for k := 0; k < nTrain; k++ {
				mn += Knx.At(k, i) * alpha.AtVec(k)
			}
			vr := diagK.AtVec(i) - vSq[i]
			if vr < 0 {
				errors.Warn(errors.NewNegativeVarianceWarning(op, i, vr))
				vr = 0
			}
			pm, pv := e.lik.Predict(mn, vr)
			predMean.Set(i, l, pm)
			predVar.Set(i, l, pv)
		}
	}
	return predMean, predVar, nil
}

// ParamNames は空のスライスを返す（厳密モードは変分パラメータを持たない）
func (e *Exact) ParamNames() []string { return nil }

// Params は空のマップを返す
func (e *Exact) Params() map[string][]float64 { return map[string][]float64{} }

// SetParams は何もしない
func (e *Exact) SetParams(map[string][]float64) error { return nil }

// LatentVariance は観測ノイズを加える前の潜在関数の予測分散を返す（テスト用途）
func (e *Exact) LatentVariance(X *mat.Dense) (*mat.Dense, error) {
	_, variance, err := e.Predict(X)
	if err != nil {
		return nil, err
	}
	noise := e.lik.NoiseVariance()
	nTest, _ := X.Dims()
	out := mat.NewDense(nTest, e.numLatent, nil)
	for i := 0; i < nTest; i++ {
		for l := 0; l < e.numLatent; l++ {
			out.Set(i, l, math.Max(0, variance.At(i, l)-noise))
		}
	}
	return out, nil
}

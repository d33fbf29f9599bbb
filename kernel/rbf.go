package kernel

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gogp/core/parallel"
	"github.com/YuminosukeSato/gogp/pkg/errors"
)

// チェックポイントのキーとなるパラメータ名
const (
	ParamLengthScale = "kernel/length_scale"
	ParamSf          = "kernel/sf"
)

// 共分散行列の行数がこの値を超えたら行単位で並列化する
const covParallelThreshold = 256

// RBF は二乗指数（squared exponential）共分散関数
//
//	k_ℓ(x, x') = sf_ℓ² · exp(-0.5 · Σ_d ((x_d - x'_d) / length_scale_ℓd)²)
//
// ARDモードでは入力次元ごとに長さスケールを持ち、ISOモードでは
// 潜在関数ごとに単一のスカラー長さスケールを共有する。
//
// 正値性の不変条件: 長さスケールと出力スケールは内部的に対数空間で
// 保持されるため、制約のない最適化の下でも常に正となる。
type RBF struct {
	inputDim  int
	numLatent int
	ard       bool

	// logLengthScale は対数空間の長さスケール。
	// 形状は [numLatent][inputDim]（ARD）または [numLatent][1]（ISO）。
	logLengthScale [][]float64

	// logSf は対数空間の出力スケール。形状は [numLatent]。
	logSf []float64
}

// NewRBF は新しいRBFカーネルを作成する
//
// パラメータ:
//   - inputDim: 入力の次元数
//   - numLatent: 潜在関数の数（出力次元）
//   - lengthScale: 長さスケールの初期値（全次元・全潜在関数で共通）
//   - sf: 出力スケールの初期値
//   - ard: trueならARD（次元ごとの長さスケール）、falseならISO
//
// 戻り値:
//   - エラー: 次元数が不正、または初期値が非正の場合
func NewRBF(inputDim, numLatent int, lengthScale, sf float64, ard bool) (*RBF, error) {
	if inputDim < 1 {
		return nil, errors.NewValidationError("inputDim", "must be at least 1", inputDim)
	}
	if numLatent < 1 {
		return nil, errors.NewValidationError("numLatent", "must be at least 1", numLatent)
	}
	if lengthScale <= 0 {
		return nil, errors.NewValidationError("lengthScale", "must be strictly positive", lengthScale)
	}
	if sf <= 0 {
		return nil, errors.NewValidationError("sf", "must be strictly positive", sf)
	}

	nScales := 1
	if ard {
		nScales = inputDim
	}

	k := &RBF{
		inputDim:       inputDim,
		numLatent:      numLatent,
		ard:            ard,
		logLengthScale: make([][]float64, numLatent),
		logSf:          make([]float64, numLatent),
	}
	for l := 0; l < numLatent; l++ {
		k.logLengthScale[l] = make([]float64, nScales)
		for d := 0; d < nScales; d++ {
			k.logLengthScale[l][d] = math.Log(lengthScale)
		}
		k.logSf[l] = math.Log(sf)
	}
	return k, nil
}

// InputDim は入力の次元数を返す
func (k *RBF) InputDim() int { return k.inputDim }

// NumLatent は潜在関数の数を返す
func (k *RBF) NumLatent() int { return k.numLatent }

// ARD はARDモードかどうかを返す
func (k *RBF) ARD() bool { return k.ard }

// LengthScale は潜在関数 latent の長さスケール（正値空間）を返す
func (k *RBF) LengthScale(latent int) []float64 {
	ls := make([]float64, len(k.logLengthScale[latent]))
	for d, v := range k.logLengthScale[latent] {
		ls[d] = math.Exp(v)
	}
	return ls
}

// Sf は潜在関数 latent の出力スケール（正値空間）を返す
func (k *RBF) Sf(latent int) float64 {
	return math.Exp(k.logSf[latent])
}

// Cov は共分散行列 K[i,j] = k_latent(X1[i], X2[j]) を計算する
//
// X2 が nil の場合は K(X1, X1) を計算する。
// 行数が閾値を超える場合は行単位で並列化する。
func (k *RBF) Cov(latent int, X1, X2 mat.Matrix) (*mat.Dense, error) {
	if latent < 0 || latent >= k.numLatent {
		return nil, errors.NewValueError("RBF.Cov", "latent index out of range")
	}
	if X2 == nil {
		X2 = X1
	}

	n1, c1 := X1.Dims()
	n2, c2 := X2.Dims()
	if c1 != k.inputDim {
		return nil, errors.NewDimensionError("RBF.Cov", k.inputDim, c1, 1)
	}
	if c2 != k.inputDim {
		return nil, errors.NewDimensionError("RBF.Cov", k.inputDim, c2, 1)
	}

	sf2 := math.Exp(2 * k.logSf[latent])
	inv2 := k.invLengthScaleSq(latent)

	K := mat.NewDense(n1, n2, nil)
	parallel.ParallelizeWithThreshold(n1, covParallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			for j := 0; j < n2; j++ {
				var d2 float64
				for d := 0; d < k.inputDim; d++ {
					diff := X1.At(i, d) - X2.At(j, d)
					d2 += diff * diff * inv2[d]
				}
				K.Set(i, j, sf2*math.Exp(-0.5*d2))
			}
		}
	})
	return K, nil
}

// DiagCov は対角成分 sf² をバッチ全体にブロードキャストして返す
//
// RBFカーネルの対角は定数 sf² なので O(n²) の計算を回避できる。
func (k *RBF) DiagCov(latent int, X mat.Matrix) (*mat.VecDense, error) {
	if latent < 0 || latent >= k.numLatent {
		return nil, errors.NewValueError("RBF.DiagCov", "latent index out of range")
	}
	n, c := X.Dims()
	if c != k.inputDim {
		return nil, errors.NewDimensionError("RBF.DiagCov", k.inputDim, c, 1)
	}

	sf2 := math.Exp(2 * k.logSf[latent])
	diag := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		diag.SetVec(i, sf2)
	}
	return diag, nil
}

// invLengthScaleSq は 1/ℓ_d² を入力次元ごとに展開して返す（ISOは共有値を展開）
func (k *RBF) invLengthScaleSq(latent int) []float64 {
	inv2 := make([]float64, k.inputDim)
	for d := 0; d < k.inputDim; d++ {
		var logLS float64
		if k.ard {
			logLS = k.logLengthScale[latent][d]
		} else {
			logLS = k.logLengthScale[latent][0]
		}
		inv2[d] = math.Exp(-2 * logLS)
	}
	return inv2
}

// ParamNames はチェックポイントのキーとなるパラメータ名を返す
func (k *RBF) ParamNames() []string {
	return []string{ParamLengthScale, ParamSf}
}

// Params は対数空間のパラメータ値を返す
func (k *RBF) Params() map[string][]float64 {
	nScales := len(k.logLengthScale[0])
	ls := make([]float64, 0, k.numLatent*nScales)
	for l := 0; l < k.numLatent; l++ {
		ls = append(ls, k.logLengthScale[l]...)
	}
	sf := make([]float64, k.numLatent)
	copy(sf, k.logSf)
	return map[string][]float64{
		ParamLengthScale: ls,
		ParamSf:          sf,
	}
}

// SetParams は対数空間のパラメータ値を設定する
func (k *RBF) SetParams(params map[string][]float64) error {
	nScales := len(k.logLengthScale[0])
	if ls, ok := params[ParamLengthScale]; ok {
		if len(ls) != k.numLatent*nScales {
			return errors.NewDimensionError("RBF.SetParams", k.numLatent*nScales, len(ls), 0)
		}
		for l := 0; l < k.numLatent; l++ {
			copy(k.logLengthScale[l], ls[l*nScales:(l+1)*nScales])
		}
	}
	if sf, ok := params[ParamSf]; ok {
		if len(sf) != k.numLatent {
			return errors.NewDimensionError("RBF.SetParams", k.numLatent, len(sf), 0)
		}
		copy(k.logSf, sf)
	}
	return nil
}

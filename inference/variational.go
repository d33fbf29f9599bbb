package inference

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gogp/kernel"
	"github.com/YuminosukeSato/gogp/likelihood"
	"github.com/YuminosukeSato/gogp/pkg/errors"
)

// チェックポイントのキーとなるパラメータ名
const (
	ParamInducingInputs = "inference/inducing_inputs"
	ParamQMean          = "inference/q_mean"
	ParamQSqrt          = "inference/q_sqrt"
)

// DefaultJitter はコレスキー分解の数値安定化のために対角へ加えるデフォルト値
const DefaultJitter = 1e-6

// Variational は誘導点に基づくスパース変分推論エンジン
//
// 誘導点での関数値に対する近似事後分布 q(u) を、事前分布のコレスキー因子で
// 白色化した形 u = L·v, v ~ N(μ, CCᵀ) で保持する。C は下三角因子で、
// 対角は対数空間で保存されるため正定値性が構造的に保証される。
//
// 不変条件: 誘導点の数 m はモデルの生存期間中固定。誘導点の次元は
// カーネルの入力次元と一致する。
type Variational struct {
	kern      kernel.Kernel
	lik       likelihood.Likelihood
	numLatent int
	m         int // 誘導点の数
	inputDim  int
	jitter    float64
	useLOO    bool

	// z は誘導点の位置（m × inputDim をフラット化、行優先）。
	// 全潜在関数で共有され、最適化によってのみ変更される。
	z []float64

	// qMean は変分平均 μ_ℓ。形状は [numLatent][m]。
	qMean [][]float64

	// qSqrt は白色化された変分共分散の下三角因子 C_ℓ のパック表現。
	// 形状は [numLatent][m(m+1)/2]。要素 (i,j), j≤i は idx = i(i+1)/2 + j。
	// 対角要素は対数空間で保存される。
	qSqrt [][]float64
}

// VariationalOption は Variational の構築オプション
type VariationalOption func(*Variational)

// WithJitter はコレスキー分解時のジッター値を設定する
func WithJitter(jitter float64) VariationalOption {
	return func(v *Variational) { v.jitter = jitter }
}

// WithLOO はleave-one-out目的項の生成を有効にする
func WithLOO(enabled bool) VariationalOption {
	return func(v *Variational) { v.useLOO = enabled }
}

// NewVariational は新しいスパース変分推論エンジンを作成する
//
// パラメータ:
//   - inducingInputs: 誘導点の初期位置 (num_inducing × input_dim)
//   - kern: 共分散関数
//   - lik: 尤度関数
//
// 変分分布は事前分布（白色化空間で N(0, I)）に初期化される。
//
// 戻り値:
//   - エラー: 誘導点の次元がカーネルの入力次元と一致しない場合
func NewVariational(inducingInputs *mat.Dense, kern kernel.Kernel, lik likelihood.Likelihood, opts ...VariationalOption) (*Variational, error) {
	if inducingInputs == nil {
		return nil, errors.NewValueError("NewVariational", "inducingInputs must not be nil")
	}
	m, d := inducingInputs.Dims()
	if m < 1 {
		return nil, errors.NewValidationError("inducingInputs", "must contain at least one inducing point", m)
	}
	if d != kern.InputDim() {
		return nil, errors.NewDimensionError("NewVariational", kern.InputDim(), d, 1)
	}

	numLatent := kern.NumLatent()
	v := &Variational{
		kern:      kern,
		lik:       lik,
		numLatent: numLatent,
		m:         m,
		inputDim:  d,
		jitter:    DefaultJitter,
		z:         make([]float64, m*d),
		qMean:     make([][]float64, numLatent),
		qSqrt:     make([][]float64, numLatent),
	}
	for i := 0; i < m; i++ {
		for j := 0; j < d; j++ {
			v.z[i*d+j] = inducingInputs.At(i, j)
		}
	}
	packed := m * (m + 1) / 2
	for l := 0; l < numLatent; l++ {
		v.qMean[l] = make([]float64, m)
		// C = I: 対角は対数空間なので log(1) = 0、非対角も 0
		v.qSqrt[l] = make([]float64, packed)
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Mode は ModeVariational を返す
func (v *Variational) Mode() Mode { return ModeVariational }

// NumInducing は誘導点の数を返す
func (v *Variational) NumInducing() int { return v.m }

// Jitter は現在のジッター値を返す
func (v *Variational) Jitter() float64 { return v.jitter }

// SetJitter はジッター値を変更する。分解失敗時に呼び出し側が
// ジッターを増やして再試行するために使用する。
func (v *Variational) SetJitter(jitter float64) { v.jitter = jitter }

// InducingInputs は誘導点の現在位置のコピーを返す
func (v *Variational) InducingInputs() *mat.Dense {
	z := make([]float64, len(v.z))
	copy(z, v.z)
	return mat.NewDense(v.m, v.inputDim, z)
}

// inducingMatrix は内部バッファを参照する誘導点行列を返す
func (v *Variational) inducingMatrix() *mat.Dense {
	return mat.NewDense(v.m, v.inputDim, v.z)
}

// qSqrtTri はパック表現から下三角因子 C_ℓ を構築する（対角はexpで正値化）
func (v *Variational) qSqrtTri(latent int) *mat.TriDense {
	C := mat.NewTriDense(v.m, mat.Lower, nil)
	for i := 0; i < v.m; i++ {
		base := i * (i + 1) / 2
		for j := 0; j < i; j++ {
			C.SetTri(i, j, v.qSqrt[latent][base+j])
		}
		C.SetTri(i, i, math.Exp(v.qSqrt[latent][base+i]))
	}
	return C
}

// kl は潜在関数 latent のKLダイバージェンス KL(q(v)‖N(0,I)) を閉形式で計算する
//
//	KL = 0.5·(‖C‖_F² + ‖μ‖² − m) − Σ_i log C_ii
//
// 白色化により事前分布は標準正規となる。KL ≥ 0 が常に成り立つ。
func (v *Variational) kl(latent int) float64 {
	var frob, sumLogDiag float64
	for i := 0; i < v.m; i++ {
		base := i * (i + 1) / 2
		for j := 0; j < i; j++ {
			c := v.qSqrt[latent][base+j]
			frob += c * c
		}
		logDiag := v.qSqrt[latent][base+i]
		d := math.Exp(logDiag)
		frob += d * d
		sumLogDiag += logDiag
	}
	mu := v.qMean[latent]
	return 0.5*(frob+floats.Dot(mu, mu)-float64(v.m)) - sumLogDiag
}

// latentMoments は潜在関数 latent の予測モーメントを訓練・テスト入力 X に対して計算する
//
// 白色化された近似事後分布を誘導点カーネルを通じて周辺化する:
//
//	α = L⁻¹·k(Z, X),  mean = αᵀμ,  var = k(x,x) − ‖α‖² + ‖Cᵀα‖²
//
// 分散は二乗和の構造によりほぼ非負だが、浮動小数点誤差に備えて0でクランプする。
func (v *Variational) latentMoments(latent int, X *mat.Dense) (mean, variance []float64, err error) {
	const op = "Variational.latentMoments"
	Z := v.inducingMatrix()

	Kmm, err := v.kern.Cov(latent, Z, nil)
	if err != nil {
		return nil, nil, err
	}
	chol, err := cholesky(op, "Kmm", Kmm, v.jitter)
	if err != nil {
		return nil, nil, err
	}
	L := lowerTri(chol)

	Kzx, err := v.kern.Cov(latent, Z, X)
	if err != nil {
		return nil, nil, err
	}
	A := solveLowerTri(L, Kzx) // m × n

	C := v.qSqrtTri(latent)
	var CtA mat.Dense
	CtA.Mul(C.T(), A) // m × n

	diagK, err := v.kern.DiagCov(latent, X)
	if err != nil {
		return nil, nil, err
	}

	n, _ := X.Dims()
	mean = make([]float64, n)
	variance = make([]float64, n)
	mu := v.qMean[latent]
	aSq := colSumSquares(A)
	cSq := colSumSquares(&CtA)
	for i := 0; i < n; i++ {
		var mn float64
		for k := 0; k < v.m; k++ {
			mn += A.At(k, i) * mu[k]
		}
		mean[i] = mn
		vr := diagK.AtVec(i) - aSq[i] + cSq[i]
		if vr < 0 {
			errors.Warn(errors.NewNegativeVarianceWarning(op, i, vr))
			vr = 0
		}
		variance[i] = vr
	}
	return mean, variance, nil
}

// Objectives は訓練バッチに対する目的関数バンドルを計算する
//
// NELBO = KL − (numTrain/batchSize)·Σᵢ E_q[log p(yᵢ|fᵢ)]。
// スケーリングによりミニバッチの確率的推定を不偏化する。
// LOOが有効な場合は LOO_VARIATIONAL = −scale·Σᵢ log p(yᵢ|q周辺) も含む。
func (v *Variational) Objectives(X, Y *mat.Dense, numTrain int) (Objectives, error) {
	const op = "Variational.Objectives"
	n, d := X.Dims()
	if n == 0 {
		return nil, errors.NewValueError(op, "empty batch")
	}
	if d != v.inputDim {
		return nil, errors.NewDimensionError(op, v.inputDim, d, 1)
	}
	ny, dy := Y.Dims()
	if ny != n {
		return nil, errors.NewDimensionError(op, n, ny, 0)
	}
	if dy != v.numLatent {
		return nil, errors.NewDimensionError(op, v.numLatent, dy, 1)
	}

	scale := float64(numTrain) / float64(n)

	var klTotal, ell, loo float64
	for l := 0; l < v.numLatent; l++ {
		mean, variance, err := v.latentMoments(l, X)
		if err != nil {
			return nil, err
		}
		klTotal += v.kl(l)
		for i := 0; i < n; i++ {
			y := Y.At(i, l)
			ell += v.lik.VariationalExpectation(y, mean[i], variance[i])
			if v.useLOO {
				loo += v.lik.PredictiveLogDensity(y, mean[i], variance[i])
			}
		}
	}

	nelbo := klTotal - scale*ell
	if err := errors.CheckScalar(TermNELBO, nelbo, 0); err != nil {
		return nil, err
	}
	obj := Objectives{TermNELBO: nelbo}
	if v.useLOO {
		looTerm := -scale * loo
		if err := errors.CheckScalar(TermLOO, looTerm, 0); err != nil {
			return nil, err
		}
		obj[TermLOO] = looTerm
	}
	return obj, nil
}

// Predict はテスト入力に対する観測空間の予測平均・分散を返す
//
// 戻り値の形状はどちらも (numTest, numLatent)。
func (v *Variational) Predict(X *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	const op = "Variational.Predict"
	n, d := X.Dims()
	if d != v.inputDim {
		return nil, nil, errors.NewDimensionError(op, v.inputDim, d, 1)
	}

	predMean := mat.NewDense(n, v.numLatent, nil)
	predVar := mat.NewDense(n, v.numLatent, nil)
	for l := 0; l < v.numLatent; l++ {
		mean, variance, err := v.latentMoments(l, X)
		if err != nil {
			return nil, nil, err
		}
		for i := 0; i < n; i++ {
			pm, pv := v.lik.Predict(mean[i], variance[i])
			predMean.Set(i, l, pm)
			predVar.Set(i, l, pv)
		}
	}
	return predMean, predVar, nil
}

// ParamNames はチェックポイントのキーとなるパラメータ名を返す
func (v *Variational) ParamNames() []string {
	return []string{ParamInducingInputs, ParamQMean, ParamQSqrt}
}

// Params は学習可能パラメータ（誘導点・変分平均・変分因子）を返す
func (v *Variational) Params() map[string][]float64 {
	z := make([]float64, len(v.z))
	copy(z, v.z)

	mean := make([]float64, 0, v.numLatent*v.m)
	for l := 0; l < v.numLatent; l++ {
		mean = append(mean, v.qMean[l]...)
	}
	packed := v.m * (v.m + 1) / 2
	sqrt := make([]float64, 0, v.numLatent*packed)
	for l := 0; l < v.numLatent; l++ {
		sqrt = append(sqrt, v.qSqrt[l]...)
	}
	return map[string][]float64{
		ParamInducingInputs: z,
		ParamQMean:          mean,
		ParamQSqrt:          sqrt,
	}
}

// SetParams は学習可能パラメータを設定する
func (v *Variational) SetParams(params map[string][]float64) error {
	const op = "Variational.SetParams"
	if z, ok := params[ParamInducingInputs]; ok {
		if len(z) != len(v.z) {
			return errors.NewDimensionError(op, len(v.z), len(z), 0)
		}
		copy(v.z, z)
	}
	if mean, ok := params[ParamQMean]; ok {
		if len(mean) != v.numLatent*v.m {
			return errors.NewDimensionError(op, v.numLatent*v.m, len(mean), 0)
		}
		for l := 0; l < v.numLatent; l++ {
			copy(v.qMean[l], mean[l*v.m:(l+1)*v.m])
		}
	}
	packed := v.m * (v.m + 1) / 2
	if sqrt, ok := params[ParamQSqrt]; ok {
		if len(sqrt) != v.numLatent*packed {
			return errors.NewDimensionError(op, v.numLatent*packed, len(sqrt), 0)
		}
		for l := 0; l < v.numLatent; l++ {
			copy(v.qSqrt[l], sqrt[l*packed:(l+1)*packed])
		}
	}
	return nil
}

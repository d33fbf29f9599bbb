// Package gp はガウス過程モデルのコンテナを提供する
//
// コンテナはカーネル・尤度・推論エンジンを構築時に固定の計算トポロジへ
// 配線し、Fit / Predict を公開する。推論モードは構築時にタグとして
// 選択され、以降変更されない。
package gp

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gogp/core/model"
	"github.com/YuminosukeSato/gogp/dataset"
	"github.com/YuminosukeSato/gogp/inference"
	"github.com/YuminosukeSato/gogp/kernel"
	"github.com/YuminosukeSato/gogp/likelihood"
	"github.com/YuminosukeSato/gogp/optimize"
	"github.com/YuminosukeSato/gogp/pkg/errors"
	"github.com/YuminosukeSato/gogp/pkg/log"
)

// GaussianProcess はガウス過程モデルの本体
//
// カーネル・尤度・推論エンジンのインスタンスを生存期間にわたって
// 排他的に所有する。トレーニングループはこれらへの参照を借りて
// 最適化を駆動するが、状態を所有しない。
type GaussianProcess struct {
	model.BaseEstimator

	kern   kernel.Kernel
	lik    likelihood.Likelihood
	engine inference.Engine

	inputDim  int
	outputDim int
}

// Option は GaussianProcess の構築オプション
type Option struct {
	// Jitter はコレスキー分解の数値安定化用ジッター（0ならデフォルト値）
	Jitter float64
	// UseLOO はleave-one-out目的項の生成を有効にする（変分モードのみ）
	UseLOO bool
}

// New は新しいガウス過程モデルを構築する
//
// mode により推論エンジンが選択される:
//   - ModeVariational: 誘導点に基づくスパース変分推論。
//     inducingInputs は必須で、次元はカーネルの入力次元と一致すること。
//   - ModeExact: 厳密推論。誘導点は訓練点と一致するため inducingInputs は
//     無視され、尤度はガウスでなければならない。
//
// 戻り値:
//   - エラー: 次元不一致などの構築時エラー
func New(mode inference.Mode, inducingInputs *mat.Dense, kern kernel.Kernel, lik likelihood.Likelihood, opt Option) (*GaussianProcess, error) {
	const op = "gp.New"

	g := &GaussianProcess{
		kern:      kern,
		lik:       lik,
		inputDim:  kern.InputDim(),
		outputDim: kern.NumLatent(),
	}

	switch mode {
	case inference.ModeVariational:
		var vopts []inference.VariationalOption
		if opt.Jitter > 0 {
			vopts = append(vopts, inference.WithJitter(opt.Jitter))
		}
		if opt.UseLOO {
			vopts = append(vopts, inference.WithLOO(true))
		}
		eng, err := inference.NewVariational(inducingInputs, kern, lik, vopts...)
		if err != nil {
			return nil, err
		}
		g.engine = eng
	case inference.ModeExact:
		gaussLik, ok := lik.(*likelihood.Gaussian)
		if !ok {
			return nil, errors.NewValueError(op, "exact inference requires a Gaussian likelihood")
		}
		eng, err := inference.NewExact(kern, gaussLik)
		if err != nil {
			return nil, err
		}
		if opt.Jitter > 0 {
			eng.SetJitter(opt.Jitter)
		}
		g.engine = eng
	default:
		return nil, errors.NewValueError(op, "unknown inference mode")
	}

	return g, nil
}

// InducingFromData はデータセットの先頭 numInducing 点から誘導点の初期位置を作る
func InducingFromData(data *dataset.Dataset, numInducing int) (*mat.Dense, error) {
	const op = "gp.InducingFromData"
	if numInducing < 1 {
		return nil, errors.NewValidationError("numInducing", "must be at least 1", numInducing)
	}
	X, _ := data.Full()
	n, d := X.Dims()
	if numInducing > n {
		numInducing = n
	}
	Z := mat.NewDense(numInducing, d, nil)
	// データ全体から等間隔に選ぶ
	stride := float64(n) / float64(numInducing)
	for i := 0; i < numInducing; i++ {
		src := int(float64(i) * stride)
		for j := 0; j < d; j++ {
			Z.Set(i, j, X.At(src, j))
		}
	}
	return Z, nil
}

// Kernel はカーネルを返す
func (g *GaussianProcess) Kernel() kernel.Kernel { return g.kern }

// Likelihood は尤度関数を返す
func (g *GaussianProcess) Likelihood() likelihood.Likelihood { return g.lik }

// Engine は推論エンジンを返す
func (g *GaussianProcess) Engine() inference.Engine { return g.engine }

// Mode は推論モードのタグを返す
func (g *GaussianProcess) Mode() inference.Mode { return g.engine.Mode() }

// InputDim は入力の次元数を返す
func (g *GaussianProcess) InputDim() int { return g.inputDim }

// OutputDim は出力の次元数を返す
func (g *GaussianProcess) OutputDim() int { return g.outputDim }

// TrainableComponents は最適化対象のコンポーネント群を返す
//
// 順序（カーネル → 尤度 → 推論エンジン）はパラメータベクトルの
// フラット化順序を決めるため、学習中に変化してはならない。
func (g *GaussianProcess) TrainableComponents() []model.Parameterized {
	return []model.Parameterized{g.kern, g.lik, g.engine}
}

// SetTrainingData は厳密推論モードに訓練データを供給する（変分モードでは何もしない)
func (g *GaussianProcess) SetTrainingData(X, Y *mat.Dense) error {
	if exact, ok := g.engine.(*inference.Exact); ok {
		return exact.SetData(X, Y)
	}
	return nil
}

// Objectives は現在のパラメータ値での目的関数バンドルを計算する
func (g *GaussianProcess) Objectives(X, Y *mat.Dense, numTrain int) (inference.Objectives, error) {
	return g.engine.Objectives(X, Y, numTrain)
}

// ObjectiveFunc は目的項 term をパラメータベクトルの関数として返す
//
// 勾配計算（数値微分）のために使用する。term が空文字列の場合は
// バンドル全体の合計を評価する。評価中のエラーは *errOut に記録され、
// その評価はNaNを返す。
func (g *GaussianProcess) ObjectiveFunc(X, Y *mat.Dense, numTrain int, term string, errOut *error) func([]float64) float64 {
	comps := g.TrainableComponents()
	return func(x []float64) float64 {
		if !model.UnflattenParams(x, comps...) {
			*errOut = errors.NewValueError("GaussianProcess.ObjectiveFunc", "parameter vector length mismatch")
			return math.NaN()
		}
		bundle, err := g.engine.Objectives(X, Y, numTrain)
		if err != nil {
			*errOut = err
			return math.NaN()
		}
		if term == "" {
			return bundle.Total()
		}
		v, ok := bundle[term]
		if !ok {
			*errOut = errors.NewValueError("GaussianProcess.ObjectiveFunc", "objective term not in bundle: "+term)
			return math.NaN()
		}
		return v
	}
}

// FitConfig は Fit の学習設定
type FitConfig struct {
	// VarSteps は1エポックチャンクあたりの変分更新ステップ数
	VarSteps int
	// Epochs は学習するエポック数
	Epochs int
	// BatchSize はミニバッチサイズ（0ならバッチ勾配降下）
	BatchSize int
	// DisplayStep は目的関数値を出力する頻度
	DisplayStep int
}

// Fit はモデルをデータに適合させる
//
// エポック数に達するまでミニバッチを抽出し、目的関数バンドルの合計に
// 対して変分パラメータとハイパーパラメータを同時に1ステップずつ更新する。
func (g *GaussianProcess) Fit(data *dataset.Dataset, opt *optimize.Adam, cfg FitConfig) error {
	const op = "GaussianProcess.Fit"
	if data.InputDim() != g.inputDim {
		return errors.NewDimensionError(op, g.inputDim, data.InputDim(), 1)
	}
	if data.OutputDim() != g.outputDim {
		return errors.NewDimensionError(op, g.outputDim, data.OutputDim(), 1)
	}

	numTrain := data.NumExamples()
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = numTrain
	}
	varSteps := cfg.VarSteps
	if varSteps <= 0 {
		varSteps = 1
	}
	displayStep := cfg.DisplayStep
	if displayStep <= 0 {
		displayStep = 1
	}

	fullX, fullY := data.Full()
	if err := g.SetTrainingData(fullX, fullY); err != nil {
		return err
	}

	logger := log.GetLogger().With(log.ModelNameKey, "GaussianProcess")
	comps := g.TrainableComponents()

	initial, err := g.engine.Objectives(fullX, fullY, numTrain)
	if err != nil {
		return err
	}

	iterNum := 0
	for data.EpochsCompleted() < cfg.Epochs {
		for varIter := 0; varIter < varSteps; varIter++ {
			bx, by, err := data.NextBatch(batchSize)
			if err != nil {
				return err
			}

			var evalErr error
			f := g.ObjectiveFunc(bx, by, numTrain, "", &evalErr)
			x := model.FlattenParams(comps...)
			grad := optimize.Gradient(f, x)
			if evalErr != nil {
				return errors.Wrapf(evalErr, "%s: step %d", op, iterNum)
			}
			if err := errors.CheckNumericalStability(op, grad, iterNum); err != nil {
				return err
			}
			if err := opt.Apply(x, grad); err != nil {
				return err
			}
			if !model.UnflattenParams(x, comps...) {
				return errors.NewValueError(op, "parameter vector length mismatch")
			}

			if varIter%displayStep == 0 {
				bundle, err := g.engine.Objectives(fullX, fullY, numTrain)
				if err != nil {
					return err
				}
				for term, value := range bundle {
					logger.Info("objective",
						log.OperationKey, "fit",
						log.StepKey, iterNum,
						log.EpochKey, data.EpochsCompleted(),
						log.ObjectiveKey, term,
						log.LossKey, value,
					)
				}
			}
			iterNum++
		}
	}

	final, err := g.engine.Objectives(fullX, fullY, numTrain)
	if err != nil {
		return err
	}
	if final.Total() > initial.Total() {
		errors.Warn(errors.NewConvergenceWarning("Adam", iterNum,
			"objective is worse than at initialization"))
	}

	g.SetFitted()
	return nil
}

// Predict はテスト入力に対する予測平均・分散を返す
//
// テスト集合は ceil(n / batchSize) 個の連続チャンクに分割され（最後の
// チャンクは小さくてもよい）、チャンクごとに予測分布を評価することで
// ピークメモリを抑える。結果は入力順を保って連結される。
// batchSize が0以下の場合は一括で予測する。
//
// 学習の前後いつでも呼び出せ、常に現在のパラメータ値を反映する
// （古い予測の暗黙キャッシュは存在しない）。
func (g *GaussianProcess) Predict(X *mat.Dense, batchSize int) (mean, variance *mat.Dense, err error) {
	const op = "GaussianProcess.Predict"
	n, d := X.Dims()
	if d != g.inputDim {
		return nil, nil, errors.NewDimensionError(op, g.inputDim, d, 1)
	}
	if batchSize <= 0 || batchSize > n {
		batchSize = n
	}

	mean = mat.NewDense(n, g.outputDim, nil)
	variance = mat.NewDense(n, g.outputDim, nil)

	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		chunk := X.Slice(start, end, 0, d).(*mat.Dense)
		cm, cv, err := g.engine.Predict(chunk)
		if err != nil {
			return nil, nil, err
		}
		for i := start; i < end; i++ {
			for l := 0; l < g.outputDim; l++ {
				mean.Set(i, l, cm.At(i-start, l))
				variance.Set(i, l, cv.At(i-start, l))
			}
		}
	}

	// 発散したハイパーパラメータはNaN/Infの予測を生む。黙って返さない。
	if err := errors.CheckMatrix(op, mean, n, g.outputDim, 0); err != nil {
		return nil, nil, err
	}
	if err := errors.CheckMatrix(op, variance, n, g.outputDim, 0); err != nil {
		return nil, nil, err
	}
	return mean, variance, nil
}

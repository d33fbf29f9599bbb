// Package train は勾配ベースの学習・評価ループを提供する
//
// ミニバッチを抽出して目的関数の勾配を計算し、Adamでパラメータを更新する。
// loo_steps が設定された場合はグローバルステップカウンタに基づいて
// NELBO と LOO_VARIATIONAL を交互に最適化する。評価・チェックポイント・
// 予測エクスポートのオーケストレーションは TrainGP が行う。
package train

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gogp/checkpoint"
	"github.com/YuminosukeSato/gogp/core/model"
	"github.com/YuminosukeSato/gogp/dataset"
	"github.com/YuminosukeSato/gogp/export"
	"github.com/YuminosukeSato/gogp/gp"
	"github.com/YuminosukeSato/gogp/inference"
	"github.com/YuminosukeSato/gogp/kernel"
	"github.com/YuminosukeSato/gogp/likelihood"
	"github.com/YuminosukeSato/gogp/metrics"
	"github.com/YuminosukeSato/gogp/optimize"
	"github.com/YuminosukeSato/gogp/pkg/errors"
	"github.com/YuminosukeSato/gogp/pkg/log"
)

// activeTerm はグローバルステップに対応する目的項を返す
//
// デューティサイクルは (nelbo_steps + loo_steps) ステップ周期で、
// 周期内の最初の nelbo_steps ステップが NELBO、残りが LOO_VARIATIONAL。
// カウンタ基準なのでチェックポイントからの再開後もサイクル中の位置が保たれる。
// LOOが無効の場合は空文字列（バンドル合計）を返す。
func activeTerm(step int, cfg Config, mode inference.Mode) string {
	if mode == inference.ModeExact {
		return inference.TermLoss
	}
	if cfg.LooSteps <= 0 {
		return ""
	}
	cycle := cfg.NelboSteps + cfg.LooSteps
	if step%cycle < cfg.NelboSteps {
		return inference.TermNELBO
	}
	return inference.TermLOO
}

// fitSteps は正確に steps 回の最適化更新を実行する
func fitSteps(m *gp.GaussianProcess, opt *optimize.Adam, data *dataset.Dataset, steps int, cfg Config) error {
	const op = "train.fitSteps"

	numTrain := data.NumExamples()
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = numTrain
	}
	logEvery := cfg.LoggingSteps
	if logEvery <= 0 {
		logEvery = cfg.DisplayStep
	}

	logger := log.GetLogger().With(log.ModelNameKey, cfg.ModelName)
	comps := m.TrainableComponents()

	for i := 0; i < steps; i++ {
		step := opt.Step()
		term := activeTerm(step, cfg, m.Mode())

		bx, by, err := data.NextBatch(batchSize)
		if err != nil {
			return err
		}

		var evalErr error
		f := m.ObjectiveFunc(bx, by, numTrain, term, &evalErr)
		x := model.FlattenParams(comps...)
		grad := optimize.Gradient(f, x)
		if evalErr != nil {
			return errors.Wrapf(evalErr, "%s: step %d objective %q", op, step, termLabel(term))
		}
		if err := errors.CheckNumericalStability(op, grad, step); err != nil {
			return errors.Wrapf(err, "%s: step %d objective %q", op, step, termLabel(term))
		}
		if err := opt.Apply(x, grad); err != nil {
			return errors.Wrapf(err, "%s: step %d objective %q", op, step, termLabel(term))
		}
		if !model.UnflattenParams(x, comps...) {
			return errors.NewValueError(op, "parameter vector length mismatch")
		}

		if logEvery > 0 && step%logEvery == 0 {
			bundle, err := m.Objectives(bx, by, numTrain)
			if err != nil {
				return errors.Wrapf(err, "%s: step %d objective %q", op, step, termLabel(term))
			}
			for name, value := range bundle {
				logger.Info("train step",
					log.OperationKey, "fit",
					log.StepKey, step,
					log.EpochKey, data.EpochsCompleted(),
					log.ObjectiveKey, name,
					log.LossKey, value,
					log.BatchSizeKey, batchSize,
				)
			}
		}
	}
	return nil
}

func termLabel(term string) string {
	if term == "" {
		return "total"
	}
	return term
}

// Fit はモデルを学習させる
//
// train_steps が正ならグローバルステップがその値に達するまで、
// そうでなければ epochs に達するまで最適化を繰り返す。
func Fit(m *gp.GaussianProcess, opt *optimize.Adam, data *dataset.Dataset, cfg Config) error {
	fullX, fullY := data.Full()
	initial, err := m.Objectives(fullX, fullY, data.NumExamples())
	if err != nil {
		return err
	}

	if cfg.TrainSteps > 0 {
		remaining := cfg.TrainSteps - opt.Step()
		if remaining <= 0 {
			return nil
		}
		if err := fitSteps(m, opt, data, remaining, cfg); err != nil {
			return err
		}
	} else {
		varSteps := cfg.VarSteps
		if varSteps <= 0 {
			varSteps = 1
		}
		for data.EpochsCompleted() < cfg.Epochs {
			if err := fitSteps(m, opt, data, varSteps, cfg); err != nil {
				return err
			}
		}
	}

	final, err := m.Objectives(fullX, fullY, data.NumExamples())
	if err != nil {
		return err
	}
	if final.Total() > initial.Total() {
		errors.Warn(errors.NewConvergenceWarning("Adam", opt.Step(),
			"objective is worse than before this fit"))
	}

	m.SetFitted()
	return nil
}

// Report は1回の評価パスの結果
type Report struct {
	// AvgLoss はバッチごとの目的関数値の移動平均
	AvgLoss float64
	// Metrics は指標名から最終値へのマッピング
	Metrics map[metrics.Name]float64
}

// Evaluate は評価データ全体に対して勾配なしの1パスを実行する
//
// バッチごとに目的関数値の移動平均を更新し、指標アキュムレータを
// 更新する。パス終了後に指標を確定して報告する。
func Evaluate(m *gp.GaussianProcess, data *dataset.Dataset, spec metrics.Spec, batchSize int) (Report, error) {
	const op = "train.Evaluate"

	set, err := metrics.NewSet(spec)
	if err != nil {
		return Report{}, err
	}

	X, Y := data.Full()
	n := data.NumExamples()
	numTrain := n
	if batchSize <= 0 || batchSize > n {
		batchSize = n
	}

	var avgLoss float64
	numBatches := 0
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		bx := X.Slice(start, end, 0, data.InputDim()).(*mat.Dense)
		by := Y.Slice(start, end, 0, data.OutputDim()).(*mat.Dense)

		bundle, err := m.Objectives(bx, by, numTrain)
		if err != nil {
			return Report{}, errors.Wrapf(err, "%s: batch starting at %d", op, start)
		}
		numBatches++
		// 移動平均: avg += (loss - avg) / numBatches
		avgLoss += (bundle.Total() - avgLoss) / float64(numBatches)

		mean, variance, err := m.Predict(bx, 0)
		if err != nil {
			return Report{}, errors.Wrapf(err, "%s: batch starting at %d", op, start)
		}
		set.Update(by, mean, variance)
	}

	return Report{AvgLoss: avgLoss, Metrics: set.Report()}, nil
}

// Predict はテスト入力を連続チャンクに分割して予測分布を評価する
//
// 結果は入力順を保って連結され、一括予測と分割予測は浮動小数点の
// 加算順序の差を除いて一致する。
func Predict(m *gp.GaussianProcess, X *mat.Dense, batchSize int) (mean, variance *mat.Dense, err error) {
	return m.Predict(X, batchSize)
}

// PredictFromCheckpoint はチェックポイントのパラメータ値で予測する
//
// 保存された状態をモデルに適用してから Predict を呼ぶ。モデルの
// 現在のパラメータ値は上書きされる。
func PredictFromCheckpoint(m *gp.GaussianProcess, path string, X *mat.Dense, batchSize int) (*mat.Dense, *mat.Dense, error) {
	state, err := checkpoint.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if err := checkpoint.Apply(state, true, m.TrainableComponents()...); err != nil {
		return nil, nil, err
	}
	return m.Predict(X, batchSize)
}

// normalizeDatasets は訓練データで標準化統計を推定し、訓練・評価の両入力へ適用する
//
// 評価側は必ず訓練側の統計で変換する（評価データで再推定しない）。
func normalizeDatasets(trainData, testData *dataset.Dataset, cfg Config) (*dataset.Dataset, *dataset.Dataset, error) {
	scaler := dataset.NewStandardScaler()

	trainX, trainY := trainData.Full()
	scaledX, err := scaler.FitTransform(trainX)
	if err != nil {
		return nil, nil, err
	}
	scaledTrain, err := dataset.New(scaledX, trainY)
	if err != nil {
		return nil, nil, err
	}

	if testData == nil {
		return scaledTrain, nil, nil
	}
	testX, testY := testData.Full()
	scaledTestX, err := scaler.Transform(testX)
	if err != nil {
		return nil, nil, err
	}
	scaledTest, err := dataset.New(scaledTestX, testY)
	if err != nil {
		return nil, nil, err
	}
	return scaledTrain, scaledTest, nil
}

// applyShuffle は seed が非ゼロならエポックごとのシャッフルを有効にして
// データセットを再構築する。正規化の有無に関わらず seed は常に効く。
func applyShuffle(data *dataset.Dataset, seed int64) (*dataset.Dataset, error) {
	if seed == 0 || data == nil {
		return data, nil
	}
	X, Y := data.Full()
	return dataset.New(X, Y, dataset.WithShuffle(seed))
}

// buildModel は設定からカーネル・尤度・モデル本体を構築する
func buildModel(data *dataset.Dataset, cfg Config) (*gp.GaussianProcess, error) {
	kern, err := kernel.NewRBF(data.InputDim(), data.OutputDim(), cfg.LengthScale, cfg.Sf, cfg.ARD)
	if err != nil {
		return nil, err
	}

	var lik likelihood.Likelihood
	switch cfg.Likelihood {
	case "", "gaussian":
		g, err := likelihood.NewGaussian(cfg.NoiseVariance)
		if err != nil {
			return nil, err
		}
		lik = g
	case "bernoulli":
		lik = likelihood.NewBernoulli()
	default:
		return nil, errors.NewValidationError("likelihood", "must be \"gaussian\" or \"bernoulli\"", cfg.Likelihood)
	}

	mode, err := cfg.InferenceMode()
	if err != nil {
		return nil, err
	}

	var Z *mat.Dense
	if mode == inference.ModeVariational {
		numInducing := cfg.NumInducing
		if numInducing <= 0 {
			numInducing = data.NumExamples()
		}
		Z, err = gp.InducingFromData(data, numInducing)
		if err != nil {
			return nil, err
		}
	}

	m, err := gp.New(mode, Z, kern, lik, gp.Option{Jitter: cfg.Jitter, UseLOO: cfg.LooSteps > 0})
	if err != nil {
		return nil, err
	}

	fullX, fullY := data.Full()
	if err := m.SetTrainingData(fullX, fullY); err != nil {
		return nil, err
	}
	return m, nil
}

// restoreLatest は最新のチェックポイントがあればモデルとオプティマイザに適用する
func restoreLatest(store *checkpoint.Store, m *gp.GaussianProcess, opt *optimize.Adam) (int, error) {
	path, ok := store.Latest()
	if !ok {
		return 0, nil
	}
	state, err := checkpoint.Load(path)
	if err != nil {
		return 0, err
	}
	if err := checkpoint.Apply(state, true, m.TrainableComponents()...); err != nil {
		return 0, err
	}
	if err := opt.Restore(optimize.AdamState{Step: state.Step, M: state.OptM, V: state.OptV}); err != nil {
		return 0, err
	}
	return state.Step, nil
}

// TrainGP はモデルの構築・復元・学習・評価・保存の全体を駆動する
//
// save_dir が設定されていれば最新のチェックポイントから再開する。
// 学習は chkpnt_steps ごとのサイクルに分割され、各サイクルの後に
// チェックポイント保存と評価を行う。plot / preds_path が設定されて
// いれば学習終了後に事後分布プロットと予測CSVを書き出す。
func TrainGP(trainData, testData *dataset.Dataset, cfg Config) (*gp.GaussianProcess, error) {
	const op = "train.TrainGP"
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.NormalizeInputs {
		var err error
		trainData, testData, err = normalizeDatasets(trainData, testData, cfg)
		if err != nil {
			return nil, err
		}
	}
	trainData, err := applyShuffle(trainData, cfg.Seed)
	if err != nil {
		return nil, err
	}

	m, err := buildModel(trainData, cfg)
	if err != nil {
		return nil, err
	}
	opt := optimize.NewAdam(cfg.LearningRate)
	logger := log.GetLogger().With(log.ModelNameKey, cfg.ModelName)

	var store *checkpoint.Store
	if cfg.SaveDir != "" {
		store, err = checkpoint.NewStore(cfg.SaveDir, cfg.ModelName)
		if err != nil {
			return nil, err
		}
		restored, err := restoreLatest(store, m, opt)
		if err != nil {
			return nil, err
		}
		if restored > 0 {
			logger.Info("restored checkpoint", log.OperationKey, "restore", log.StepKey, restored)
		}
	}

	spec := cfg.MetricSpec()
	evaluate := func() error {
		if testData == nil {
			return nil
		}
		report, err := Evaluate(m, testData, spec, cfg.BatchSize)
		if err != nil {
			return err
		}
		logger.Info("evaluation",
			log.OperationKey, "evaluate",
			log.StepKey, opt.Step(),
			log.LossKey, report.AvgLoss,
			log.SamplesKey, testData.NumExamples(),
		)
		for name, value := range report.Metrics {
			logger.Info("metric",
				log.OperationKey, "evaluate",
				log.StepKey, opt.Step(),
				log.ObjectiveKey, string(name),
				log.LossKey, value,
			)
		}
		return nil
	}

	// 学習前の初期評価
	if err := evaluate(); err != nil {
		return nil, err
	}

	saveCheckpoint := func() error {
		if store == nil {
			return nil
		}
		optState := opt.State()
		state := &checkpoint.State{
			Step:   opt.Step(),
			Params: checkpoint.Collect(m.TrainableComponents()...),
			OptM:   optState.M,
			OptV:   optState.V,
		}
		path, err := store.Save(state)
		if err != nil {
			return err
		}
		logger.Info("checkpoint saved",
			log.OperationKey, "checkpoint",
			log.StepKey, opt.Step(),
			log.CheckpointKey, path,
		)
		return nil
	}

	if cfg.TrainSteps > 0 {
		for opt.Step() < cfg.TrainSteps {
			chunk := cfg.TrainSteps - opt.Step()
			if cfg.ChkpntSteps > 0 && chunk > cfg.ChkpntSteps {
				chunk = cfg.ChkpntSteps
			}
			begin := time.Now()
			if err := fitSteps(m, opt, trainData, chunk, cfg); err != nil {
				return nil, err
			}
			logger.Info("fit cycle",
				log.OperationKey, "fit",
				log.StepKey, opt.Step(),
				log.DurationMsKey, time.Since(begin).Milliseconds(),
			)
			if err := saveCheckpoint(); err != nil {
				return nil, err
			}
			if err := evaluate(); err != nil {
				return nil, err
			}
		}
		m.SetFitted()
	} else {
		if err := Fit(m, opt, trainData, cfg); err != nil {
			return nil, err
		}
		if err := saveCheckpoint(); err != nil {
			return nil, err
		}
		if err := evaluate(); err != nil {
			return nil, err
		}
	}

	if cfg.Plot != "" || cfg.PredsPath != "" {
		if err := exportPredictions(m, trainData, testData, cfg); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// exportPredictions は学習結果の可視化と予測CSVを書き出す
func exportPredictions(m *gp.GaussianProcess, trainData, testData *dataset.Dataset, cfg Config) error {
	target := testData
	if target == nil {
		target = trainData
	}
	X, Y := target.Full()

	batchSize := cfg.BatchSize
	mean, variance, err := m.Predict(X, batchSize)
	if err != nil {
		return err
	}

	if cfg.PredsPath != "" {
		if err := export.PredictionsCSV(cfg.PredsPath, X, Y, mean, variance); err != nil {
			return err
		}
	}
	if cfg.Plot != "" {
		trainX, trainY := trainData.Full()
		if err := export.PosteriorPlot(cfg.Plot, trainX, trainY, X, mean, variance); err != nil {
			return err
		}
	}
	return nil
}

package train

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/gogp/inference"
	"github.com/YuminosukeSato/gogp/metrics"
	"github.com/YuminosukeSato/gogp/pkg/errors"
)

// Config は学習の全設定
//
// フィールドはYAML設定ファイルから読み込める。未知のキーは
// 起動時に拒否される（黙って無視しない）。
type Config struct {
	// --- 学習ループ ---

	// VarSteps は1チャンクあたりの変分更新ステップ数
	VarSteps int `yaml:"var_steps"`
	// Epochs は学習エポック数（TrainSteps が0のとき使用）
	Epochs int `yaml:"epochs"`
	// BatchSize はミニバッチサイズ（0なら全データ）
	BatchSize int `yaml:"batch_size"`
	// DisplayStep は目的関数値を表示する間隔
	DisplayStep int `yaml:"display_step"`
	// LoggingSteps は構造化ログを出力する間隔（0なら DisplayStep に従う）
	LoggingSteps int `yaml:"logging_steps"`
	// LooSteps はデューティサイクル中のLOO目的のステップ数（0ならLOO無効）
	LooSteps int `yaml:"loo_steps"`
	// NelboSteps はデューティサイクル中のNELBO目的のステップ数
	NelboSteps int `yaml:"nelbo_steps"`
	// TrainSteps は総学習ステップ数（グローバルステップ基準）
	TrainSteps int `yaml:"train_steps"`
	// EvalEpochs は評価を挟む間隔（エポック単位、0なら毎サイクル）
	EvalEpochs int `yaml:"eval_epochs"`

	// --- チェックポイント・出力 ---

	// SaveDir はチェックポイントの保存先（空なら保存しない）
	SaveDir string `yaml:"save_dir"`
	// ModelName はチェックポイントファイル名の接頭辞
	ModelName string `yaml:"model_name"`
	// ChkpntSteps はチェックポイントを取る間隔（ステップ単位）
	ChkpntSteps int `yaml:"chkpnt_steps"`
	// Plot は学習終了後に事後分布プロットを書き出すパス（空なら無効）
	Plot string `yaml:"plot"`
	// PredsPath は学習終了後に予測をCSVで書き出すパス（空なら無効）
	PredsPath string `yaml:"preds_path"`

	// --- モデルハイパーパラメータ ---

	// Mode は推論モード（"variational" または "exact"）
	Mode string `yaml:"mode"`
	// Likelihood は尤度の種類（"gaussian" または "bernoulli"）
	Likelihood string `yaml:"likelihood"`
	// NumInducing は誘導点の数
	NumInducing int `yaml:"num_inducing"`
	// ARD は次元ごとの長さスケールを使うかどうか
	ARD bool `yaml:"ard"`
	// LengthScale は長さスケールの初期値
	LengthScale float64 `yaml:"length_scale"`
	// Sf は信号振幅の初期値
	Sf float64 `yaml:"sf"`
	// NoiseVariance はガウス尤度の観測ノイズ分散の初期値
	NoiseVariance float64 `yaml:"noise_variance"`
	// LearningRate はAdamの学習率
	LearningRate float64 `yaml:"learning_rate"`
	// Jitter はコレスキー分解の数値安定化項（0ならデフォルト）
	Jitter float64 `yaml:"jitter"`
	// NormalizeInputs は入力を平均0・標準偏差1に標準化してから学習する
	NormalizeInputs bool `yaml:"normalize_inputs"`

	// Metrics は評価時に計算する指標名のリスト
	Metrics []string `yaml:"metrics"`
	// Seed はミニバッチシャッフルの乱数シード（0ならシャッフルなし）
	Seed int64 `yaml:"seed"`
}

// DefaultConfig は標準的な回帰設定を返す
func DefaultConfig() Config {
	return Config{
		VarSteps:      1,
		Epochs:        100,
		BatchSize:     0,
		DisplayStep:   10,
		LoggingSteps:  0,
		LooSteps:      0,
		NelboSteps:    0,
		TrainSteps:    500,
		EvalEpochs:    1,
		ModelName:     "gogp",
		ChkpntSteps:   0,
		Mode:          "variational",
		Likelihood:    "gaussian",
		NumInducing:   50,
		ARD:           false,
		LengthScale:   1.0,
		Sf:            1.0,
		NoiseVariance: 0.1,
		LearningRate:  0.01,
		Metrics:       []string{string(metrics.NameRMSE)},
	}
}

// LoadConfig はYAMLファイルから設定を読み込む
//
// 未知のキーはエラーとなる。ファイルに現れないフィールドは
// DefaultConfig の値を保持する。
func LoadConfig(path string) (Config, error) {
	const op = "train.LoadConfig"
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "%s: %s", op, path)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errors.Wrapf(err, "%s: %s", op, path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// InferenceMode は設定文字列を推論モードのタグに変換する
func (c *Config) InferenceMode() (inference.Mode, error) {
	switch c.Mode {
	case "", "variational":
		return inference.ModeVariational, nil
	case "exact":
		return inference.ModeExact, nil
	default:
		return 0, errors.NewValidationError("mode", "must be \"variational\" or \"exact\"", c.Mode)
	}
}

// MetricSpec は設定の指標名リストを metrics.Spec に変換する
func (c *Config) MetricSpec() metrics.Spec {
	spec := make(metrics.Spec, 0, len(c.Metrics))
	for _, name := range c.Metrics {
		spec = append(spec, metrics.Name(name))
	}
	return spec
}

// Validate は矛盾する・解釈不能な設定の組み合わせを起動時に拒否する
func (c *Config) Validate() error {
	if c.LooSteps > 0 && c.NelboSteps < 0 {
		return errors.NewValidationError("nelbo_steps", "must be non-negative when loo_steps is set", c.NelboSteps)
	}
	if c.LooSteps > 0 && c.NelboSteps == 0 {
		return errors.NewValidationError("nelbo_steps", "must be positive when loo_steps is set", c.NelboSteps)
	}
	if c.LooSteps < 0 {
		return errors.NewValidationError("loo_steps", "must be non-negative", c.LooSteps)
	}
	if c.BatchSize < 0 {
		return errors.NewValidationError("batch_size", "must be non-negative", c.BatchSize)
	}
	if c.TrainSteps < 0 {
		return errors.NewValidationError("train_steps", "must be non-negative", c.TrainSteps)
	}
	if c.TrainSteps == 0 && c.Epochs <= 0 {
		return errors.NewValidationError("train_steps", "either train_steps or epochs must be positive", c.TrainSteps)
	}
	if c.VarSteps < 0 {
		return errors.NewValidationError("var_steps", "must be non-negative", c.VarSteps)
	}
	if c.ChkpntSteps < 0 {
		return errors.NewValidationError("chkpnt_steps", "must be non-negative", c.ChkpntSteps)
	}
	if c.SaveDir == "" && c.ChkpntSteps > 0 {
		// save_dir 無しでチェックポイント間隔だけ指定されても保存先がない
		return errors.NewValidationError("chkpnt_steps", "requires save_dir to be set", c.ChkpntSteps)
	}
	if _, err := c.InferenceMode(); err != nil {
		return err
	}
	switch c.Likelihood {
	case "", "gaussian", "bernoulli":
	default:
		return errors.NewValidationError("likelihood", "must be \"gaussian\" or \"bernoulli\"", c.Likelihood)
	}
	if c.Mode == "exact" && c.Likelihood == "bernoulli" {
		return errors.NewValidationError("likelihood", "exact inference requires a Gaussian likelihood", c.Likelihood)
	}
	if c.LooSteps > 0 && c.Mode == "exact" {
		return errors.NewValidationError("loo_steps", "leave-one-out objective requires variational inference", c.LooSteps)
	}
	if c.NumInducing < 0 {
		return errors.NewValidationError("num_inducing", "must be non-negative", c.NumInducing)
	}
	if _, err := metrics.NewSet(c.MetricSpec()); err != nil {
		return err
	}
	return nil
}

// Package inference はガウス過程の推論エンジンを提供する
//
// 変分（スパース）推論と厳密推論の2つのモードを持つ。モードは構築時に
// タグ付きバリアントとして固定され、実行時の型検査は行わない。
// エンジンは (誘導点, カーネル, 尤度) の純粋関数として目的関数バンドル・
// 予測分布・学習可能パラメータ集合を生成する。
package inference

import (
	"github.com/YuminosukeSato/gogp/core/model"
	"gonum.org/v1/gonum/mat"
)

// Mode は推論モードを表すタグ
type Mode int

const (
	// ModeVariational は誘導点に基づくスパース変分推論
	ModeVariational Mode = iota
	// ModeExact は訓練点全体を使う厳密推論
	ModeExact
)

// String はモード名を返す
func (m Mode) String() string {
	switch m {
	case ModeVariational:
		return "variational"
	case ModeExact:
		return "exact"
	default:
		return "unknown"
	}
}

// 目的関数バンドルのキー
const (
	// TermNELBO は負のELBO（変分モード）
	TermNELBO = "NELBO"
	// TermLOO は変分leave-one-out目的（loo_steps > 0 の場合のみ）
	TermLOO = "LOO_VARIATIONAL"
	// TermLoss は負の周辺対数尤度（厳密モード）
	TermLoss = "loss"
)

// Objectives は目的関数名からスカラー値へのマッピング
//
// フォワード評価のたびに新しく生成され、永続化されない。
type Objectives map[string]float64

// Total は全目的項の合計を返す
func (o Objectives) Total() float64 {
	var sum float64
	for _, v := range o {
		sum += v
	}
	return sum
}

// Engine は推論エンジンのインターフェース
//
// 実装は Variational と Exact の2つ。どちらも学習可能パラメータを
// Parameterized 契約で公開する（厳密モードは変分パラメータを持たない）。
type Engine interface {
	model.Parameterized

	// Mode は推論モードのタグを返す
	Mode() Mode

	// Objectives は訓練バッチに対する目的関数バンドルを計算する。
	// numTrain は訓練集合全体のサイズで、ミニバッチ推定の不偏化に使う。
	Objectives(X, Y *mat.Dense, numTrain int) (Objectives, error)

	// Predict はテスト入力に対する予測平均・分散（観測空間）を返す。
	// 返される行列の形状は (numTest, numLatent)。
	Predict(X *mat.Dense) (mean, variance *mat.Dense, err error)
}

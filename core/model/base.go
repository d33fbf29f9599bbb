package model

import "github.com/YuminosukeSato/gogp/pkg/errors"

// BaseEstimator は学習状態を持つ全てのモデルの共通基盤。
// モデル構造体に埋め込んで使う。
type BaseEstimator struct {
	fitted bool
}

// IsFitted はモデルが学習済みかどうかを返す
func (e *BaseEstimator) IsFitted() bool {
	return e.fitted
}

// SetFitted はモデルを学習済み状態に設定する
func (e *BaseEstimator) SetFitted() {
	e.fitted = true
}

// Reset はモデルを未学習状態へ戻す
func (e *BaseEstimator) Reset() {
	e.fitted = false
}

// RequireFitted は未学習のまま method が呼ばれた場合に NotFittedError を返す
func (e *BaseEstimator) RequireFitted(modelName, method string) error {
	if !e.fitted {
		return errors.NewNotFittedError(modelName, method)
	}
	return nil
}

// Package checkpoint はモデル・オプティマイザ状態の永続化を提供する
//
// チェックポイントは単調増加するステップカウンタをキーとするスナップショットで、
// カーネル・尤度・変分パラメータとオプティマイザの内部状態（モーメント推定）を含む。
// 書き込みはテンポラリファイルへの書き出しとリネームによりアトミックで、
// 復元側からは全体が見えるか全く見えないかのどちらかとなる。
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/gogp/core/model"
	"github.com/YuminosukeSato/gogp/pkg/errors"
)

// State はチェックポイントに保存されるスナップショット
//
// 数値パラメータはgobでビット単位に往復するため、同一のオプティマイザ・
// バージョンの下で保存時と同一の予測を再現する。
type State struct {
	// Step は保存時点のグローバルステップカウンタ
	Step int

	// Params はパラメータ名から制約なし空間の値へのマッピング
	Params map[string][]float64

	// OptM, OptV はAdamオプティマイザのモーメント推定
	OptM []float64
	OptV []float64
}

// Store はディレクトリとプレフィックスをキーとするチェックポイントストア
type Store struct {
	dir    string
	prefix string
}

// NewStore は新しいチェックポイントストアを作成する（ディレクトリは作成される）
func NewStore(dir, prefix string) (*Store, error) {
	const op = "checkpoint.NewStore"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewCheckpointError(op, dir, err.Error(), false)
	}
	return &Store{dir: dir, prefix: prefix}, nil
}

// Dir はストアのディレクトリを返す
func (s *Store) Dir() string { return s.dir }

// Save は現在の状態をアトミックに書き込み、チェックポイントのパスを返す
func (s *Store) Save(state *State) (string, error) {
	const op = "checkpoint.Save"
	path := filepath.Join(s.dir, fmt.Sprintf("%s-%d.ckpt", s.prefix, state.Step))

	// 同一ディレクトリ内のテンポラリファイルに書き出してからリネームする。
	// リネームは同一ファイルシステム内でアトミックなので、復元側から
	// 部分的に書かれたチェックポイントが見えることはない。
	tmp, err := os.CreateTemp(s.dir, s.prefix+"-*.tmp")
	if err != nil {
		return "", errors.NewCheckpointError(op, path, err.Error(), false)
	}
	tmpName := tmp.Name()

	enc := gob.NewEncoder(tmp)
	if err := enc.Encode(state); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", errors.NewCheckpointError(op, path, "encode failed: "+err.Error(), false)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", errors.NewCheckpointError(op, path, err.Error(), false)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", errors.NewCheckpointError(op, path, err.Error(), false)
	}
	return path, nil
}

// Load はチェックポイントファイルを読み込む
func Load(path string) (*State, error) {
	const op = "checkpoint.Load"
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewCheckpointError(op, path, "checkpoint not found", true)
		}
		return nil, errors.NewCheckpointError(op, path, err.Error(), false)
	}
	defer f.Close()

	state := &State{}
	dec := gob.NewDecoder(f)
	if err := dec.Decode(state); err != nil {
		return nil, errors.NewCheckpointError(op, path, "decode failed: "+err.Error(), false)
	}
	return state, nil
}

// Latest はディレクトリ内の最新（最大ステップ）のチェックポイントパスを返す
//
// チェックポイントが存在しない場合は ("", false) を返す。
func (s *Store) Latest() (string, bool) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", false
	}

	type candidate struct {
		step int
		path string
	}
	var cands []candidate
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, s.prefix+"-") || !strings.HasSuffix(name, ".ckpt") {
			continue
		}
		stepStr := strings.TrimSuffix(strings.TrimPrefix(name, s.prefix+"-"), ".ckpt")
		step, err := strconv.Atoi(stepStr)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{step: step, path: filepath.Join(s.dir, name)})
	}
	if len(cands) == 0 {
		return "", false
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].step > cands[j].step })
	return cands[0].path, true
}

// Apply はチェックポイントのパラメータを各コンポーネントへ書き戻す
//
// キーの過不足の扱い:
//   - チェックポイントに存在しないパラメータ名: partialOK なら警告、そうでなければエラー
//   - どのコンポーネントにも属さない余分なキー: 常に警告
//   - 形状（長さ）の不一致: 常に致命的エラー
func Apply(state *State, partialOK bool, components ...model.Parameterized) error {
	const op = "checkpoint.Apply"
	consumed := make(map[string]bool, len(state.Params))

	for _, c := range components {
		current := c.Params()
		upd := make(map[string][]float64)
		for _, name := range c.ParamNames() {
			saved, ok := state.Params[name]
			if !ok {
				missing := errors.NewCheckpointError(op, name, "parameter missing from checkpoint", true)
				if !partialOK {
					return missing
				}
				errors.Warn(missing)
				continue
			}
			consumed[name] = true
			if len(saved) != len(current[name]) {
				return errors.NewCheckpointError(op, name,
					fmt.Sprintf("shape mismatch: checkpoint has %d values, model expects %d", len(saved), len(current[name])),
					false)
			}
			upd[name] = saved
		}
		if err := c.SetParams(upd); err != nil {
			return err
		}
	}

	// 余分なキーは回復可能な警告
	for name := range state.Params {
		if !consumed[name] {
			errors.Warn(errors.NewCheckpointError(op, name, "unused parameter key in checkpoint", true))
		}
	}
	return nil
}

// Collect は各コンポーネントの現在のパラメータをチェックポイント用に収集する
func Collect(components ...model.Parameterized) map[string][]float64 {
	out := make(map[string][]float64)
	for _, c := range components {
		for name, vals := range c.Params() {
			cp := make([]float64, len(vals))
			copy(cp, vals)
			out[name] = cp
		}
	}
	return out
}

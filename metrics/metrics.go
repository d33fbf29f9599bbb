package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gogp/pkg/errors"
)

// Name は評価指標の名前
type Name string

// タスクに応じて選択できる評価指標
const (
	// NameRMSE は回帰タスク用の二乗平均平方根誤差
	NameRMSE Name = "rmse"
	// NameMAE は回帰タスク用の平均絶対誤差
	NameMAE Name = "mae"
	// NameAccuracy は分類タスク用の正解率
	NameAccuracy Name = "accuracy"
	// NameMNLL は平均負対数尤度（予測分散をガウス近似で使用）
	NameMNLL Name = "mnll"
)

// Spec は評価時に計算する指標の列挙リスト
type Spec []Name

// accumulator はバッチごとに更新される単一指標の累積器
type accumulator interface {
	update(yTrue, predMean, predVar *mat.Dense)
	result() float64
}

// Set は評価パス1回分の指標アキュムレータの集合
//
// 評価の開始時に初期化し、バッチごとにUpdateを呼び、
// パスの終了後にReportで確定値を取得する。
type Set struct {
	names []Name
	accs  []accumulator
}

// NewSet は指標仕様からアキュムレータ集合を初期化する
//
// 戻り値:
//   - エラー: 未知の指標名が含まれる場合
func NewSet(spec Spec) (*Set, error) {
	s := &Set{}
	for _, name := range spec {
		var acc accumulator
		switch name {
		case NameRMSE:
			acc = &rmseAcc{}
		case NameMAE:
			acc = &maeAcc{}
		case NameAccuracy:
			acc = &accuracyAcc{}
		case NameMNLL:
			acc = &mnllAcc{}
		default:
			return nil, errors.NewValidationError("metric", "unknown metric name", string(name))
		}
		s.names = append(s.names, name)
		s.accs = append(s.accs, acc)
	}
	return s, nil
}

// Update はバッチの (正解, 予測平均, 予測分散) で全指標を更新する
func (s *Set) Update(yTrue, predMean, predVar *mat.Dense) {
	for _, acc := range s.accs {
		acc.update(yTrue, predMean, predVar)
	}
}

// Report は全指標の確定値を返す
func (s *Set) Report() map[Name]float64 {
	out := make(map[Name]float64, len(s.names))
	for i, name := range s.names {
		out[name] = s.accs[i].result()
	}
	return out
}

// flatten は行列を行優先の1本のベクトルに詰め替える
func flatten(m *mat.Dense) *mat.VecDense {
	r, c := m.Dims()
	v := mat.NewVecDense(r*c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v.SetVec(i*c+j, m.At(i, j))
		}
	}
	return v
}

type rmseAcc struct {
	sumSq float64
	count int
}

func (a *rmseAcc) update(yTrue, predMean, _ *mat.Dense) {
	t, p := flatten(yTrue), flatten(predMean)
	mse, err := MSE(t, p)
	if err != nil {
		return
	}
	a.sumSq += mse * float64(t.Len())
	a.count += t.Len()
}

func (a *rmseAcc) result() float64 {
	if a.count == 0 {
		return 0
	}
	return math.Sqrt(a.sumSq / float64(a.count))
}

type maeAcc struct {
	sumAbs float64
	count  int
}

func (a *maeAcc) update(yTrue, predMean, _ *mat.Dense) {
	t, p := flatten(yTrue), flatten(predMean)
	mae, err := MAE(t, p)
	if err != nil {
		return
	}
	a.sumAbs += mae * float64(t.Len())
	a.count += t.Len()
}

func (a *maeAcc) result() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sumAbs / float64(a.count)
}

type accuracyAcc struct {
	correct int
	count   int
}

func (a *accuracyAcc) update(yTrue, predMean, _ *mat.Dense) {
	t, p := flatten(yTrue), flatten(predMean)
	acc, err := Accuracy(t, p)
	if err != nil {
		return
	}
	a.correct += int(math.Round(acc * float64(t.Len())))
	a.count += t.Len()
}

func (a *accuracyAcc) result() float64 {
	if a.count == 0 {
		return 0
	}
	return float64(a.correct) / float64(a.count)
}

const logTwoPi = 1.8378770664093453 // log(2π)

type mnllAcc struct {
	sumNLL float64
	count  int
}

func (a *mnllAcc) update(yTrue, predMean, predVar *mat.Dense) {
	if predVar == nil {
		return
	}
	r, c := yTrue.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := math.Max(predVar.At(i, j), 1e-12)
			diff := yTrue.At(i, j) - predMean.At(i, j)
			a.sumNLL += 0.5*(logTwoPi+math.Log(v)) + diff*diff/(2*v)
			a.count++
		}
	}
}

func (a *mnllAcc) result() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sumNLL / float64(a.count)
}

package model

// Parameterized は学習可能なパラメータを持つコンポーネントの共通契約。
//
// パラメータは制約のない空間（例: 正値パラメータは対数空間）でフラットな
// float64スライスとして公開される。Trainerはこれを連結して勾配計算と
// 最適化を行い、チェックポイントストアは名前付きスライスとして永続化する。
//
// 不変条件: ParamNames() が返す名前の順序・個数は、Params() / SetParams()
// が扱うスライス群の順序・個数と常に一致する。モデル構築後に変化してはならない。
type Parameterized interface {
	// ParamNames はチェックポイントのキーとなるパラメータ名を返す
	ParamNames() []string

	// Params は制約のない空間のパラメータ値を名前ごとに返す
	Params() map[string][]float64

	// SetParams は名前ごとのパラメータ値を設定する。
	// 未知の名前や長さ不一致はエラーとなる。
	SetParams(params map[string][]float64) error
}

// FlattenParams は Parameterized 群のパラメータを単一ベクトルに連結する。
// 順序は各コンポーネントの ParamNames() の順序に従う。
func FlattenParams(components ...Parameterized) []float64 {
	var flat []float64
	for _, c := range components {
		p := c.Params()
		for _, name := range c.ParamNames() {
			flat = append(flat, p[name]...)
		}
	}
	return flat
}

// UnflattenParams は単一ベクトルを各コンポーネントに書き戻す。
// ベクトル長が一致しない場合は書き戻しを行わず false を返す。
func UnflattenParams(flat []float64, components ...Parameterized) bool {
	// 必要長の事前検証
	total := 0
	for _, c := range components {
		p := c.Params()
		for _, name := range c.ParamNames() {
			total += len(p[name])
		}
	}
	if total != len(flat) {
		return false
	}

	off := 0
	for _, c := range components {
		p := c.Params()
		upd := make(map[string][]float64, len(p))
		for _, name := range c.ParamNames() {
			n := len(p[name])
			vals := make([]float64, n)
			copy(vals, flat[off:off+n])
			upd[name] = vals
			off += n
		}
		// 長さは検証済みなのでエラーは発生しない
		_ = c.SetParams(upd)
	}
	return true
}

package inference

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gogp/pkg/errors"
)

// symWithJitter は密行列 K を対称行列に変換し、対角にジッターを加える。
// K は対称であることを前提とし、浮動小数点誤差は上三角と下三角の平均で吸収する。
func symWithJitter(K *mat.Dense, jitter float64) *mat.SymDense {
	n, _ := K.Dims()
	S := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		S.SetSym(i, i, K.At(i, i)+jitter)
		for j := i + 1; j < n; j++ {
			S.SetSym(i, j, 0.5*(K.At(i, j)+K.At(j, i)))
		}
	}
	return S
}

// cholesky はジッター付きコレスキー分解を行う。
// 分解に失敗した場合は FactorizationError を返し、呼び出し側が
// ジッターを増やして再試行するかどうかを判断する。
func cholesky(op, matrixName string, K *mat.Dense, jitter float64) (*mat.Cholesky, error) {
	n, _ := K.Dims()
	var chol mat.Cholesky
	if ok := chol.Factorize(symWithJitter(K, jitter)); !ok {
		return nil, errors.NewFactorizationError(op, matrixName, n, jitter)
	}
	return &chol, nil
}

// lowerTri はコレスキー分解から下三角因子 L を取り出す
func lowerTri(chol *mat.Cholesky) *mat.TriDense {
	var L mat.TriDense
	chol.LTo(&L)
	return &L
}

// solveLowerTri は前進代入で L·X = B を解く（Lは下三角）
//
// gonumのCholeskyはK⁻¹の適用（SolveTo）のみを公開しており、白色化には
// L⁻¹単体の適用が必要なためここで前進代入を実装する。
func solveLowerTri(L *mat.TriDense, B mat.Matrix) *mat.Dense {
	n, _ := L.Dims()
	_, cols := B.Dims()
	X := mat.NewDense(n, cols, nil)
	for c := 0; c < cols; c++ {
		for i := 0; i < n; i++ {
			sum := B.At(i, c)
			for j := 0; j < i; j++ {
				sum -= L.At(i, j) * X.At(j, c)
			}
			X.Set(i, c, sum/L.At(i, i))
		}
	}
	return X
}

// colSumSquares は各列の二乗和を返す
func colSumSquares(A *mat.Dense) []float64 {
	rows, cols := A.Dims()
	out := make([]float64, cols)
	for j := 0; j < cols; j++ {
		var s float64
		for i := 0; i < rows; i++ {
			v := A.At(i, j)
			s += v * v
		}
		out[j] = s
	}
	return out
}

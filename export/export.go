// Package export は学習結果の書き出し（予測CSV・事後分布プロット）を提供する
package export

import (
	"encoding/csv"
	"fmt"
	"image/color"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/gogp/pkg/errors"
)

// PredictionsCSV は入力・真値・予測平均・予測分散をCSVに書き出す
//
// 列は x_0..x_{d-1}, y_0..y_{p-1}, mean_0..mean_{p-1}, var_0..var_{p-1} の順。
// yTrue が nil の場合は真値の列を省略する。
func PredictionsCSV(path string, X, yTrue, mean, variance *mat.Dense) error {
	const op = "export.PredictionsCSV"
	n, d := X.Dims()
	nm, p := mean.Dims()
	if nm != n {
		return errors.NewDimensionError(op, n, nm, 0)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "%s: %s", op, path)
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := make([]string, 0, d+3*p)
	for j := 0; j < d; j++ {
		header = append(header, fmt.Sprintf("x_%d", j))
	}
	if yTrue != nil {
		for j := 0; j < p; j++ {
			header = append(header, fmt.Sprintf("y_%d", j))
		}
	}
	for j := 0; j < p; j++ {
		header = append(header, fmt.Sprintf("mean_%d", j))
	}
	for j := 0; j < p; j++ {
		header = append(header, fmt.Sprintf("var_%d", j))
	}
	if err := w.Write(header); err != nil {
		return errors.Wrapf(err, "%s: %s", op, path)
	}

	row := make([]string, 0, len(header))
	for i := 0; i < n; i++ {
		row = row[:0]
		for j := 0; j < d; j++ {
			row = append(row, formatFloat(X.At(i, j)))
		}
		if yTrue != nil {
			for j := 0; j < p; j++ {
				row = append(row, formatFloat(yTrue.At(i, j)))
			}
		}
		for j := 0; j < p; j++ {
			row = append(row, formatFloat(mean.At(i, j)))
		}
		for j := 0; j < p; j++ {
			row = append(row, formatFloat(variance.At(i, j)))
		}
		if err := w.Write(row); err != nil {
			return errors.Wrapf(err, "%s: %s", op, path)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrapf(err, "%s: %s", op, path)
	}
	return nil
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

var (
	bandColor = color.NRGBA{R: 70, G: 130, B: 220, A: 60}
	meanColor = color.NRGBA{R: 20, G: 60, B: 160, A: 255}
)

// PosteriorPlot は1次元入力の事後予測分布をプロットして保存する
//
// 予測平均の折れ線、±2σの信頼帯、訓練データの散布図を1枚に重ねる。
// 入力は1次元・出力は第1潜在関数のみを描画する（多次元入力はエラー）。
// 保存形式は拡張子（.png, .pdf, .svg など）から決まる。
func PosteriorPlot(path string, trainX, trainY, testX, mean, variance *mat.Dense) error {
	const op = "export.PosteriorPlot"
	_, d := testX.Dims()
	if d != 1 {
		return errors.NewValueError(op, "posterior plot requires 1-D inputs")
	}

	p := plot.New()
	p.Title.Text = "GP posterior"
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	n, _ := testX.Dims()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return testX.At(order[a], 0) < testX.At(order[b], 0)
	})

	meanLine := make(plotter.XYs, n)
	upper := make(plotter.XYs, n)
	lower := make(plotter.XYs, n)
	for k, i := range order {
		x := testX.At(i, 0)
		m := mean.At(i, 0)
		sd := 0.0
		if v := variance.At(i, 0); v > 0 {
			sd = math.Sqrt(v)
		}
		meanLine[k] = plotter.XY{X: x, Y: m}
		upper[k] = plotter.XY{X: x, Y: m + 2*sd}
		lower[k] = plotter.XY{X: x, Y: m - 2*sd}
	}

	// 信頼帯は上側の折れ線と下側の折れ線（逆順）を閉じた多角形として描く
	band := make(plotter.XYs, 0, 2*n)
	band = append(band, upper...)
	for k := n - 1; k >= 0; k-- {
		band = append(band, lower[k])
	}
	poly, err := plotter.NewPolygon(band)
	if err != nil {
		return errors.Wrapf(err, "%s: %s", op, path)
	}
	poly.Color = bandColor
	poly.LineStyle.Width = 0
	p.Add(poly)

	line, err := plotter.NewLine(meanLine)
	if err != nil {
		return errors.Wrapf(err, "%s: %s", op, path)
	}
	line.Color = meanColor
	p.Add(line)
	p.Legend.Add("mean", line)

	if trainX != nil && trainY != nil {
		nt, _ := trainX.Dims()
		pts := make(plotter.XYs, nt)
		for i := 0; i < nt; i++ {
			pts[i] = plotter.XY{X: trainX.At(i, 0), Y: trainY.At(i, 0)}
		}
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return errors.Wrapf(err, "%s: %s", op, path)
		}
		scatter.GlyphStyle.Radius = vg.Points(2)
		p.Add(scatter)
		p.Legend.Add("observations", scatter)
	}

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "%s: %s", op, path)
	}
	return nil
}

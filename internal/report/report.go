// Package report renders human-facing run summaries: metric evolution plots
// and short size descriptions for logs.
package report

import (
	"fmt"
	"image/color"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/born-ml/mimo/internal/metrics"
)

var splitColors = map[string]color.Color{
	"train": color.RGBA{R: 20, G: 80, B: 200, A: 255},
	"test":  color.RGBA{R: 200, G: 30, B: 30, A: 255},
}

// Plot writes one PNG per metric into dir, overlaying the train and test
// curves of metrics that share a name ("train/accuracy" and
// "test/accuracy" land in accuracy.png). It returns the written paths.
func Plot(dir string, h *metrics.History) ([]string, error) {
	if h.Epochs() == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create plot dir")
	}

	groups := make(map[string][]string)
	for _, name := range h.Names() {
		_, metric, ok := strings.Cut(name, "/")
		if !ok {
			metric = name
		}
		groups[metric] = append(groups[metric], name)
	}

	var paths []string
	for _, metric := range slices.Sorted(maps.Keys(groups)) {
		path := filepath.Join(dir, metric+".png")
		if err := plotMetric(path, metric, h, groups[metric]); err != nil {
			return paths, errors.Wrapf(err, "plot %s", metric)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func plotMetric(path, metric string, h *metrics.History, names []string) error {
	p := plot.New()
	p.Title.Text = strings.ReplaceAll(metric, "_", " ")
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = metric
	p.Add(plotter.NewGrid())

	for _, name := range names {
		split, _, _ := strings.Cut(name, "/")
		xys := epochSeries(h, name)
		if len(xys) == 0 {
			continue
		}
		line, points, err := plotter.NewLinePoints(xys)
		if err != nil {
			return err
		}
		if c, ok := splitColors[split]; ok {
			line.Color = c
			points.Color = c
		}
		line.Width = vg.Points(1.2)
		points.Radius = vg.Points(1.5)
		p.Add(line, points)
		p.Legend.Add(split, line)
	}
	p.Legend.Top = true

	return p.Save(8*vg.Inch, 6*vg.Inch, path)
}

// epochSeries returns (epoch, value) pairs for one metric, numbering epochs
// from 1 and skipping those without a value.
func epochSeries(h *metrics.History, name string) plotter.XYs {
	var xys plotter.XYs
	for i, v := range h.Series(name) {
		if !math.IsNaN(v) {
			xys = append(xys, plotter.XY{X: float64(i + 1), Y: v})
		}
	}
	return xys
}

// Parameters describes a parameter count, e.g. "36.4 M (36,479,194)".
func Parameters(n int) string {
	si := strings.TrimSpace(humanize.SIWithDigits(float64(n), 1, ""))
	return fmt.Sprintf("%s (%s)", si, humanize.Comma(int64(n)))
}

// Bytes describes a file size, e.g. "146 MB".
func Bytes(n int64) string {
	return humanize.Bytes(uint64(max(n, 0)))
}

// Summary is the one-line model description logged before training.
func Summary(kind string, ensemble, classes, params int) string {
	return fmt.Sprintf("%s, %d members x %d classes, %s parameters", kind, ensemble, classes, Parameters(params))
}

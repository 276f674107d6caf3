// Package plots draws fundamental diagrams and daily timelines of
// aggregated traffic data.
package plots

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/chrisdamba/roadtraffic/internal/estimate"
	"github.com/chrisdamba/roadtraffic/internal/models"
	"github.com/chrisdamba/roadtraffic/internal/process"
)

var (
	ErrNoData   = errors.New("plots: nothing to draw")
	ErrMismatch = errors.New("plots: density and flow lengths differ")
)

// Series is a curve in the density/flow plane, sorted by density.
type Series struct {
	Label   string
	Density []float64
	Flow    []float64
}

// FrontierOf returns the fitted frontier f(x) of m at its distinct densities.
func FrontierOf(m *estimate.Model) Series {
	idx := make([]int, len(m.X))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return m.X[idx[a]] < m.X[idx[b]] })

	s := Series{Label: m.Key.String()}
	for _, i := range idx {
		if n := len(s.Density); n > 0 && s.Density[n-1] == m.X[i] {
			continue
		}
		s.Density = append(s.Density, m.X[i])
		s.Flow = append(s.Flow, m.Frontier[i])
	}
	return s
}

// TriangularOf returns the three corners of a derived triangular diagram.
func TriangularOf(t *process.Triangular) Series {
	return Series{
		Label:   "triangular",
		Density: []float64{0, t.CriticalDensity, t.JamDensity},
		Flow:    []float64{0, t.Capacity, 0},
	}
}

func xys(x, y []float64) plotter.XYs {
	pts := make(plotter.XYs, len(x))
	for i := range x {
		pts[i] = plotter.XY{X: x[i], Y: y[i]}
	}
	return pts
}

func checkData(density, flow []float64) error {
	if len(density) != len(flow) {
		return fmt.Errorf("%w: %d densities, %d flows", ErrMismatch, len(density), len(flow))
	}
	if len(density) == 0 {
		return ErrNoData
	}
	return nil
}

// format returns the image format implied by the file extension.
func format(path string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "png", "svg":
		return ext, nil
	}
	return "", fmt.Errorf("plots: unsupported image format %q", ext)
}

// FundamentalDiagram saves a density/flow scatter with one line per
// frontier. The extension of path selects PNG or SVG.
func FundamentalDiagram(path, title string, density, flow []float64, frontiers []Series) error {
	if err := checkData(density, flow); err != nil {
		return err
	}
	if _, err := format(path); err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Density (veh/km)"
	p.Y.Label.Text = "Flow (veh/h)"
	p.X.Min = 0
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	sc, err := plotter.NewScatter(xys(density, flow))
	if err != nil {
		return fmt.Errorf("scatter: %w", err)
	}
	sc.GlyphStyle.Radius = vg.Points(1.5)
	sc.GlyphStyle.Color = color.RGBA{R: 120, G: 120, B: 120, A: 160}
	p.Add(sc)
	p.Legend.Add("observations", sc)

	for i, f := range frontiers {
		if len(f.Density) != len(f.Flow) {
			return fmt.Errorf("frontier %s: %w", f.Label, ErrMismatch)
		}
		line, err := plotter.NewLine(xys(f.Density, f.Flow))
		if err != nil {
			return fmt.Errorf("frontier %s: %w", f.Label, err)
		}
		line.Width = vg.Points(1.5)
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(i)
		p.Add(line)
		p.Legend.Add(f.Label, line)
	}
	p.Legend.Top = true

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save fundamental diagram: %w", err)
	}
	return nil
}

// Timeline saves flow, speed and density against time as three stacked
// panels sharing the time axis, in hours from the first day.
func Timeline(path, title string, records []models.AggregatedRecord) error {
	if len(records) == 0 {
		return ErrNoData
	}
	ext, err := format(path)
	if err != nil {
		return err
	}

	sorted := append([]models.AggregatedRecord(nil), records...)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Timestamp().Before(sorted[b].Timestamp())
	})
	origin := sorted[0].Date
	flow := make(plotter.XYs, len(sorted))
	speed := make(plotter.XYs, len(sorted))
	density := make(plotter.XYs, len(sorted))
	for i := range sorted {
		h := sorted[i].Timestamp().Sub(origin).Hours()
		flow[i] = plotter.XY{X: h, Y: sorted[i].Flow}
		speed[i] = plotter.XY{X: h, Y: sorted[i].SpaceMeanSpeed}
		density[i] = plotter.XY{X: h, Y: sorted[i].Density}
	}

	panels := []struct {
		label string
		pts   plotter.XYs
	}{
		{"Flow (veh/h)", flow},
		{"Speed (km/h)", speed},
		{"Density (veh/km)", density},
	}
	rows := make([][]*plot.Plot, len(panels))
	for i, panel := range panels {
		p := plot.New()
		if i == 0 {
			p.Title.Text = title
		}
		p.Y.Label.Text = panel.label
		p.X.Label.Text = "Hour"
		p.Add(plotter.NewGrid())
		line, err := plotter.NewLine(panel.pts)
		if err != nil {
			return fmt.Errorf("timeline %s: %w", panel.label, err)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		rows[i] = []*plot.Plot{p}
	}

	c, err := draw.NewFormattedCanvas(10*vg.Inch, 10*vg.Inch, ext)
	if err != nil {
		return err
	}
	tiles := draw.Tiles{Rows: len(rows), Cols: 1, PadY: vg.Millimeter * 4, PadTop: vg.Millimeter * 2}
	canvases := plot.Align(rows, tiles, draw.New(c))
	for i := range rows {
		rows[i][0].Draw(canvases[i][0])
	}

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := c.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("save timeline: %w", err)
	}
	return f.Close()
}

package plots

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// FundamentalHTML renders an interactive fundamental diagram page.
func FundamentalHTML(w io.Writer, title string, density, flow []float64, frontiers []Series) error {
	if err := checkData(density, flow); err != nil {
		return err
	}

	points := make([]opts.ScatterData, len(density))
	for i := range density {
		points[i] = opts.ScatterData{Value: []interface{}{density[i], flow[i]}}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1000px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("observations=%d", len(points))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Density (veh/km)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Flow (veh/h)", NameLocation: "middle", NameGap: 45}),
	)
	scatter.AddSeries("observations", points, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	for _, f := range frontiers {
		if len(f.Density) != len(f.Flow) {
			return fmt.Errorf("frontier %s: %w", f.Label, ErrMismatch)
		}
		data := make([]opts.LineData, len(f.Density))
		for i := range f.Density {
			data[i] = opts.LineData{Value: []interface{}{f.Density[i], f.Flow[i]}}
		}
		line := charts.NewLine()
		line.AddSeries(f.Label, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
		scatter.Overlap(line)
	}

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("render fundamental diagram: %w", err)
	}
	return nil
}

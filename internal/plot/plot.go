// Package plot renders search results as standalone HTML charts.
package plot

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/nasopt/dynas/internal/results"
	"github.com/nasopt/dynas/internal/search"
)

// Report is the input of a search report page
type Report struct {
	Title     string
	Algorithm string
	// X and Y name the metrics on the scatter axes
	X, Y      string
	Evaluated []results.EvaluatedArchitecture
	Front     []results.EvaluatedArchitecture
	History   []search.GenerationStep
}

// ParetoScatter plots every evaluated architecture and the front over two metrics
func ParetoScatter(r Report) (*charts.Scatter, error) {
	if r.X == "" || r.Y == "" {
		return nil, fmt.Errorf("plot needs two metrics, got %q and %q", r.X, r.Y)
	}
	if len(r.Evaluated) == 0 && len(r.Front) == 0 {
		return nil, fmt.Errorf("no results to plot for %s", r.Algorithm)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    r.Title,
			Subtitle: fmt.Sprintf("%s: %d evaluated, %d on the front", r.Algorithm, len(r.Evaluated), len(r.Front)),
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeWesteros,
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Name:      r.X,
			Scale:     opts.Bool(true),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name:      r.Y,
			Scale:     opts.Bool(true),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true)},
		}),
	)

	scatter.AddSeries("Evaluated", points(r.Evaluated, r.X, r.Y, "circle", 6)).
		AddSeries("Pareto front", points(r.Front, r.X, r.Y, "triangle", 12)).
		SetSeriesOptions(
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(false)}),
			charts.WithEmphasisOpts(opts.Emphasis{}),
		)
	return scatter, nil
}

func points(recs []results.EvaluatedArchitecture, x, y, symbol string, size int) []opts.ScatterData {
	out := make([]opts.ScatterData, 0, len(recs))
	for _, rec := range recs {
		vx, okx := rec.Metrics[x]
		vy, oky := rec.Metrics[y]
		if !okx || !oky {
			continue
		}
		out = append(out, opts.ScatterData{
			Value:      []float64{vx, vy},
			Symbol:     symbol,
			SymbolSize: size,
		})
	}
	return out
}

// HypervolumeLine plots the normalized hypervolume and front size per generation
func HypervolumeLine(r Report) (*charts.Line, error) {
	if len(r.History) == 0 {
		return nil, fmt.Errorf("no generations to plot for %s", r.Algorithm)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Hypervolume by generation"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "generation"}),
	)

	xs := make([]string, len(r.History))
	hv := make([]opts.LineData, len(r.History))
	size := make([]opts.LineData, len(r.History))
	for i, step := range r.History {
		xs[i] = strconv.Itoa(step.Generation)
		hv[i] = opts.LineData{Value: step.Hypervolume}
		size[i] = opts.LineData{Value: step.FrontSize}
	}
	line.SetXAxis(xs).
		AddSeries("hypervolume", hv).
		AddSeries("front size", size)
	return line, nil
}

// Render writes the report page. The hypervolume chart is omitted when there is no history.
func Render(w io.Writer, r Report) error {
	scatter, err := ParetoScatter(r)
	if err != nil {
		return err
	}
	page := components.NewPage()
	page.PageTitle = r.Title
	page.AddCharts(scatter)
	if len(r.History) > 0 {
		line, err := HypervolumeLine(r)
		if err != nil {
			return err
		}
		page.AddCharts(line)
	}
	return page.Render(w)
}

// WriteFile renders the report to an HTML file at path
func WriteFile(path string, r Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plot file: %w", err)
	}
	if err := Render(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

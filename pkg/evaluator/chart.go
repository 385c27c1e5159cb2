package evaluator

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// ChartSink renders a bar chart of final balances to an HTML file
type ChartSink struct {
	Path string
}

func (s ChartSink) Write(_ context.Context, r *Report) error {
	f, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	defer f.Close()
	if err := RenderChart(f, r); err != nil {
		return err
	}
	return f.Close()
}

// RenderChart draws one bar per successful filter in evaluation order.
func RenderChart(w io.Writer, r *Report) error {
	names := make([]string, 0, len(r.Results))
	bars := make([]opts.BarData, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Failed() {
			continue
		}
		names = append(names, res.Name)
		bars = append(bars, opts.BarData{
			Name:  res.Name,
			Value: res.Result.Metrics.FinalBalance.InexactFloat64(),
		})
	}

	subtitle := fmt.Sprintf("initial balance %.2f, %d points", r.InitialBalance, r.Points)
	if r.Symbol != "" {
		subtitle = r.Symbol + ", " + subtitle
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Filter comparison"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Comparison of Filter Performance",
			Subtitle: subtitle,
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Filters"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Final Balance"}),
	)
	bar.SetXAxis(names).AddSeries("Final Balance", bars)

	if err := bar.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

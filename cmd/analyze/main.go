package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/rus-connect/filterbench/pkg/common"
	"github.com/rus-connect/filterbench/pkg/evaluator"
)

// analyze re-reads a report written by `backtest -json` and prints a per-filter
// breakdown, optionally with an ASCII equity curve and a regenerated chart.
func main() {
	reportFile := flag.String("report-file", "", "Path to a report JSON file (required)")
	equity := flag.Bool("equity", false, "Print ASCII equity curves")
	chart := flag.String("chart", "", "Regenerate the comparison chart at this path")
	flag.Parse()

	if *reportFile == "" {
		fmt.Println("❌ Error: --report-file is required")
		flag.Usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(*reportFile)
	if err != nil {
		fmt.Printf("❌ Error reading file: %v\n", err)
		os.Exit(1)
	}
	var report evaluator.Report
	if err := sonic.Unmarshal(data, &report); err != nil {
		fmt.Printf("❌ Error parsing JSON: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, &report, *equity)

	if *chart != "" {
		f, err := os.Create(*chart)
		if err != nil {
			fmt.Printf("❌ Error creating chart: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := evaluator.RenderChart(f, &report); err != nil {
			fmt.Printf("❌ Error rendering chart: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Chart written to %s\n", *chart)
	}
}

func printReport(w io.Writer, r *evaluator.Report, equity bool) {
	fmt.Fprintln(w, "🔍 FILTER REPORT")
	fmt.Fprintf(w, "├── Run: %s\n", r.RunID)
	if r.Symbol != "" {
		fmt.Fprintf(w, "├── Symbol: %s\n", r.Symbol)
	}
	fmt.Fprintf(w, "├── Points: %d (%s to %s)\n", r.Points, r.From.Format(time.DateOnly), r.To.Format(time.DateOnly))
	fmt.Fprintf(w, "└── Initial balance: %.2f\n", r.InitialBalance)
	fmt.Fprintln(w)

	for _, res := range r.Results {
		if res.Failed() {
			fmt.Fprintf(w, "%s: FAILED (%s)\n\n", res.Name, res.Error)
			continue
		}
		m := res.Result.Metrics
		fmt.Fprintf(w, "%s\n", res.Name)
		fmt.Fprintf(w, "├── Final Balance: %s\n", m.FinalBalance.StringFixed(2))
		fmt.Fprintf(w, "├── Total Profit: %s\n", m.TotalProfit.StringFixed(2))
		fmt.Fprintf(w, "├── Closed Trades: %d (%d losing)\n", m.NumClosedTrades, m.LosingTrades)
		fmt.Fprintf(w, "├── Win Rate: %.2f%%\n", m.WinRatePercent)
		fmt.Fprintf(w, "├── Max Drawdown: %.2f%%\n", m.MaxDrawdownPercent)
		if m.OpenPosition {
			fmt.Fprintln(w, "├── Position still open at series end")
		}
		if res.Warning != "" {
			fmt.Fprintf(w, "├── Warning: %s\n", res.Warning)
		}
		fmt.Fprintf(w, "└── Profit per trade: mean %.2f, median %.2f, min %.2f, max %.2f\n",
			m.ProfitDistribution.Mean, m.ProfitDistribution.Median, m.ProfitDistribution.Min, m.ProfitDistribution.Max)
		if equity {
			equityBars(w, res.Result.Equity)
		}
		fmt.Fprintln(w)
	}

	if best, ok := r.Ranking.Best(); ok {
		fmt.Fprintf(w, "🏆 Best: %s (%s)\n", best.Name, best.FinalBalance.StringFixed(2))
	}
}

// equityBars draws the realised balance curve, sampled down to 40 rows.
func equityBars(w io.Writer, curve []common.Point) {
	if len(curve) == 0 {
		fmt.Fprintln(w, "⚠️ No equity curve data available")
		return
	}

	const maxPoints = 40
	step := 1
	if len(curve) > maxPoints {
		step = len(curve) / maxPoints
	}

	minVal, maxVal := curve[0].Value, curve[0].Value
	for _, p := range curve {
		if p.Value < minVal {
			minVal = p.Value
		}
		if p.Value > maxVal {
			maxVal = p.Value
		}
	}
	rangeVal := maxVal - minVal
	if rangeVal == 0 {
		rangeVal = 1
	}

	fmt.Fprintf(w, "Max: %.2f\n", maxVal)
	for i := 0; i < len(curve); i += step {
		val := curve[i].Value
		bar := strings.Repeat("█", int((val-minVal)/rangeVal*20))
		ts := time.Unix(curve[i].Timestamp, 0).UTC().Format("01-02 15:04")
		fmt.Fprintf(w, "%s | %s %.2f\n", ts, bar, val)
	}
	fmt.Fprintf(w, "Min: %.2f\n", minVal)
}

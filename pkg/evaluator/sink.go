package evaluator

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
)

// Sink renders or ships a finished report
type Sink interface {
	Write(ctx context.Context, r *Report) error
}

// Publish hands r to every sink and joins their errors. A failing sink does
// not stop the others.
func Publish(ctx context.Context, r *Report, sinks ...Sink) error {
	var errs []error
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes the human readable comparison to a logger
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Write(_ context.Context, r *Report) error {
	log := s.Log.With().Str("run_id", r.RunID).Logger()
	log.Info().Msg("--- Filter Evaluation ---")
	for _, res := range r.Results {
		log.Info().Msgf("Filter: %s", res.Name)
		if res.Failed() {
			log.Info().Msgf("  status: failed (%s)", res.Error)
			continue
		}
		m := res.Result.Metrics
		log.Info().Msgf("  final_balance: %s", m.FinalBalance.StringFixed(2))
		log.Info().Msgf("  num_trades: %d", m.NumClosedTrades)
		log.Info().Msgf("  win_rate: %.2f%%", m.WinRatePercent)
		log.Info().Msgf("  total_profit: %s", m.TotalProfit.StringFixed(2))
		if m.OpenPosition {
			log.Info().Msg("  open position at end of series (not counted)")
		}
		if res.Warning != "" {
			log.Info().Msgf("  warning: %s", res.Warning)
		}
	}

	best, ok := r.Ranking.Best()
	if !ok {
		log.Warn().Msg("no filter produced a result")
		return nil
	}
	log.Info().Msgf("Best performing filter: %s with final balance: %s", best.Name, best.FinalBalance.StringFixed(2))
	return nil
}

// JSONSink encodes the report as indented JSON
type JSONSink struct {
	W io.Writer
}

func (s JSONSink) Write(_ context.Context, r *Report) error {
	data, err := sonic.ConfigStd.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	if _, err := s.W.Write(data); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

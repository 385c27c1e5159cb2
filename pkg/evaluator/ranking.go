package evaluator

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Entry is one ranked filter
type Entry struct {
	Rank           int             `json:"rank"`
	Name           string          `json:"name"`
	FinalBalance   decimal.Decimal `json:"final_balance"`
	WinRatePercent float64         `json:"win_rate_percent"`
	TotalProfit    decimal.Decimal `json:"total_profit"`
}

// Ranking orders successful filters by final balance, best first. Failed
// filters are never ranked.
type Ranking struct {
	Entries []Entry  `json:"entries"`
	Failed  []string `json:"failed,omitempty"`
}

// Compare ranks results descending by final balance. Equal balances keep the
// order in which results were given.
func Compare(results []FilterResult) Ranking {
	var r Ranking
	r.Entries = make([]Entry, 0, len(results))
	for _, res := range results {
		if res.Failed() {
			r.Failed = append(r.Failed, res.Name)
			continue
		}
		m := res.Result.Metrics
		r.Entries = append(r.Entries, Entry{
			Name:           res.Name,
			FinalBalance:   m.FinalBalance,
			WinRatePercent: m.WinRatePercent,
			TotalProfit:    m.TotalProfit,
		})
	}

	sort.SliceStable(r.Entries, func(i, j int) bool {
		return r.Entries[i].FinalBalance.GreaterThan(r.Entries[j].FinalBalance)
	})
	for i := range r.Entries {
		r.Entries[i].Rank = i + 1
	}
	return r
}

// Best returns the top-ranked filter, if any filter succeeded.
func (r Ranking) Best() (Entry, bool) {
	if len(r.Entries) == 0 {
		return Entry{}, false
	}
	return r.Entries[0], true
}

// Names lists ranked filter names in rank order.
func (r Ranking) Names() []string {
	out := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Name
	}
	return out
}

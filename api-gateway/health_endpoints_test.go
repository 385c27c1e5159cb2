package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/rus-connect/filterbench/pkg/common"
	"github.com/rus-connect/filterbench/pkg/evaluator"
	"github.com/rus-connect/filterbench/pkg/filter"
	"github.com/rus-connect/filterbench/pkg/source"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubLoader struct {
	prices common.PriceSeries
	got    source.Query
}

func (l *stubLoader) Load(_ context.Context, q source.Query) (common.PriceSeries, error) {
	l.got = q
	return l.prices, nil
}

type recordingSink struct{ reports []*evaluator.Report }

func (s *recordingSink) Write(_ context.Context, r *evaluator.Report) error {
	s.reports = append(s.reports, r)
	return nil
}

type reportBody struct {
	RunID          string  `json:"run_id"`
	InitialBalance float64 `json:"initial_balance"`
	Symbol         string  `json:"symbol"`
	Points         int     `json:"points"`
	Results        []struct {
		Name    string `json:"name"`
		Status  string `json:"status"`
		Warning string `json:"warning"`
		Result  struct {
			Trades []json.RawMessage `json:"trades"`
		} `json:"result"`
	} `json:"results"`
	Ranking struct {
		Entries []struct {
			Rank         int             `json:"rank"`
			Name         string          `json:"name"`
			FinalBalance decimal.Decimal `json:"final_balance"`
		} `json:"entries"`
	} `json:"ranking"`
}

func newTestServer() *server {
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()
	return &server{
		log:            log,
		eval:           evaluator.New(log),
		sourceName:     "demo",
		initialBalance: 1000,
		defaults:       filter.Defaults(),
		limiter:        rate.NewLimiter(rate.Inf, 1),
	}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestGatewayHealthzEndpoint(t *testing.T) {
	w := do(t, newTestServer().routes(), http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("expected security headers on response")
	}
}

func TestGatewayReadyzEndpoint(t *testing.T) {
	s := newTestServer()
	w := do(t, s.routes(), http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 without a store, got %d", w.Code)
	}

	s.ready = stubPinger{err: errors.New("connection refused")}
	w = do(t, s.routes(), http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with an unreachable store, got %d", w.Code)
	}
}

func TestListFilters(t *testing.T) {
	w := do(t, newTestServer().routes(), http.MethodGet, "/api/v1/filters", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Filters []filter.Spec `json:"filters"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Filters) != 3 {
		t.Fatalf("expected 3 default filters, got %d", len(body.Filters))
	}
	if body.Filters[0].Kind != filter.KindRSI || body.Filters[0].RSI.Period != 14 {
		t.Fatalf("unexpected first filter %+v", body.Filters[0])
	}
}

func TestEvaluateWithInlinePrices(t *testing.T) {
	s := newTestServer()
	sink := &recordingSink{}
	s.publisher = sink

	w := do(t, s.routes(), http.MethodPost, "/api/v1/evaluate", map[string]any{
		"symbol":  "btcusdt",
		"prices":  source.Demo(),
		"publish": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rep reportBody
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.RunID == "" || rep.Symbol != "BTCUSDT" || rep.Points != 20 {
		t.Fatalf("unexpected report header %+v", rep)
	}
	if len(rep.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(rep.Results))
	}
	for _, r := range rep.Results {
		if r.Status != string(evaluator.StatusOK) {
			t.Fatalf("filter %s failed", r.Name)
		}
	}
	if rep.Results[1].Warning == "" {
		t.Fatal("expected MACD warning on a 20 point series")
	}
	if len(rep.Ranking.Entries) != 3 {
		t.Fatalf("expected 3 ranked entries, got %d", len(rep.Ranking.Entries))
	}
	for i := 1; i < len(rep.Ranking.Entries); i++ {
		if rep.Ranking.Entries[i].FinalBalance.GreaterThan(rep.Ranking.Entries[i-1].FinalBalance) {
			t.Fatal("ranking is not ordered by final balance")
		}
	}
	if len(sink.reports) != 1 {
		t.Fatalf("expected report to be published once, got %d", len(sink.reports))
	}
}

func TestEvaluateLoadsFromSource(t *testing.T) {
	s := newTestServer()
	loader := &stubLoader{prices: source.Demo()}
	s.loader = loader

	w := do(t, s.routes(), http.MethodPost, "/api/v1/evaluate", map[string]any{
		"symbol":   "ETHUSDT",
		"from":     "2025-01-01",
		"interval": "D",
		"filters":  []map[string]any{{"kind": "bb", "bollinger": map[string]any{"window": 5}}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if loader.got.Symbol != "ETHUSDT" || loader.got.Interval != "D" {
		t.Fatalf("unexpected query %+v", loader.got)
	}
	if !loader.got.From.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected from %v", loader.got.From)
	}
	var rep reportBody
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if len(rep.Results) != 1 || rep.Results[0].Name != "Bollinger Band Filter" {
		t.Fatalf("unexpected results %+v", rep.Results)
	}
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	s := newTestServer()
	h := s.routes()

	cases := []struct {
		name string
		body any
		code int
	}{
		{"no prices or symbol", map[string]any{}, http.StatusBadRequest},
		{"unknown filter", map[string]any{"prices": source.Demo(), "filters": []map[string]any{{"kind": "stochastic"}}}, http.StatusBadRequest},
		{"negative balance", map[string]any{"prices": source.Demo(), "initial_balance": -5}, http.StatusBadRequest},
		{"bad price", map[string]any{"prices": []map[string]any{{"timestamp": time.Now(), "close": -1}}}, http.StatusBadRequest},
		{"bad symbol", map[string]any{"symbol": "BTC-USDT"}, http.StatusBadRequest},
		{"no loader", map[string]any{"symbol": "BTCUSDT"}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/evaluate", tc.body)
			if w.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, w.Code, w.Body.String())
			}
		})
	}
}

func TestEvaluateMisconfiguredFilterIsReportedNotRejected(t *testing.T) {
	w := do(t, newTestServer().routes(), http.MethodPost, "/api/v1/evaluate", map[string]any{
		"prices": source.Demo(),
		"filters": []map[string]any{
			{"kind": "rsi", "rsi": map[string]any{"lower": 80, "upper": 20}},
			{"kind": "bollinger"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rep reportBody
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Results[0].Status != string(evaluator.StatusFailed) || rep.Results[1].Status != string(evaluator.StatusOK) {
		t.Fatalf("unexpected statuses %+v", rep.Results)
	}
	if len(rep.Ranking.Entries) != 1 {
		t.Fatalf("expected only the healthy filter ranked, got %d", len(rep.Ranking.Entries))
	}
}

func TestEvaluateExplicitZeroBalance(t *testing.T) {
	w := do(t, newTestServer().routes(), http.MethodPost, "/api/v1/evaluate", map[string]any{
		"prices":          source.Demo(),
		"initial_balance": 0,
		"filters":         []map[string]any{{"kind": "bollinger", "bollinger": map[string]any{"window": 5}}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rep reportBody
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.InitialBalance != 0 {
		t.Fatalf("explicit zero balance replaced by %v", rep.InitialBalance)
	}
	if n := len(rep.Results[0].Result.Trades); n != 0 {
		t.Fatalf("nothing is affordable with zero balance, got %d trades", n)
	}
}

func TestEvaluateExplicitZeroPeriodFails(t *testing.T) {
	w := do(t, newTestServer().routes(), http.MethodPost, "/api/v1/evaluate", map[string]any{
		"prices": source.Demo(),
		"filters": []map[string]any{
			{"kind": "rsi", "rsi": map[string]any{"period": 0}},
			{"kind": "bollinger", "bollinger": map[string]any{"k": 0}},
			{"kind": "rsi", "rsi": map[string]any{"lower": 0}},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rep reportBody
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	want := []string{string(evaluator.StatusFailed), string(evaluator.StatusFailed), string(evaluator.StatusOK)}
	for i, r := range rep.Results {
		if r.Status != want[i] {
			t.Fatalf("result %d (%s): status %s, want %s", i, r.Name, r.Status, want[i])
		}
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer()
	s.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	h := s.routes()

	if w := do(t, h, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/healthz", nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

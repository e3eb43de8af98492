package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pairquote-bot/internal/config"
	"pairquote-bot/internal/exchange"
	"pairquote-bot/internal/state"
	"pairquote-bot/internal/state/sqlite"
	"pairquote-bot/internal/trading"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeExchange struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeExchange) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[r.URL.Path]++
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/balances":
		_, _ = w.Write([]byte(`{"result":"true","available":{"LTC":"10","BTC":"5","POINT":"3"},"locked":{}}`))
	case "/orderBook/ltc_btc":
		_, _ = w.Write([]byte(`{"result":"true","asks":[[101,1],[100,1]],"bids":[[90,1],[89,1]]}`))
	case "/cancelAllOrders":
		_, _ = w.Write([]byte(`{"result":false,"code":16}`))
	default:
		_, _ = w.Write([]byte(`{"result":"true"}`))
	}
}

func (f *fakeExchange) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func testConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	disabled := false
	return &config.Config{
		Exchange: config.ExchangeConfig{DataURL: url, TradingURL: url, Timeout: time.Second},
		Trading:  config.TradingConfig{BaselineAttempts: 1, TeardownTimeout: time.Second, RewardAsset: "POINT"},
		State:    config.StateConfig{SQLitePath: filepath.Join(t.TempDir(), "data", "bot.db")},
		Metrics:  config.MetricsConfig{Enabled: &disabled},
	}
}

func TestTradeDryRunSession(t *testing.T) {
	fake := &fakeExchange{}
	srv := httptest.NewServer(http.HandlerFunc(fake.handle))
	defer srv.Close()
	cfg := testConfig(t, srv.URL)

	application, err := New(cfg, config.Credentials{APIKey: "key", Secret: "secret"}, zap.NewNop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if application.Gateway().Real() {
		t.Fatalf("expected dry-run gateway")
	}
	report, err := application.Trade(context.Background(), trading.Params{
		Pair:   "ltc_btc",
		Amount: 1,
		Rounds: 2,
		Delta:  decimal.RequireFromString("0.5"),
	})
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if report.Outcome != trading.OutcomeCompleted || report.RoundsCompleted != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if fake.count("/buy") != 0 || fake.count("/sell") != 0 {
		t.Fatalf("dry-run must not submit orders")
	}
	if fake.count("/cancelAllOrders") != 1 {
		t.Fatalf("expected one teardown cancel-all, got %d", fake.count("/cancelAllOrders"))
	}

	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	snapshot, ok, err := state.LoadSessionSnapshot(context.Background(), store, "ltc_btc")
	if err != nil || !ok {
		t.Fatalf("load snapshot: ok=%v err=%v", ok, err)
	}
	if snapshot.SessionID != report.SessionID || snapshot.State != string(trading.StateCompleted) {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if snapshot.Quote != "99.5" {
		t.Fatalf("expected quote 99.5, got %q", snapshot.Quote)
	}
}

func TestTradeRejectsInvalidParams(t *testing.T) {
	fake := &fakeExchange{}
	srv := httptest.NewServer(http.HandlerFunc(fake.handle))
	defer srv.Close()

	application, err := New(testConfig(t, srv.URL), config.Credentials{}, zap.NewNop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	_, err = application.Trade(context.Background(), trading.Params{Pair: "ltc_btc", Amount: 1, Rounds: 1})
	if !errors.Is(err, trading.ErrInvalidDelta) {
		t.Fatalf("expected invalid delta, got %v", err)
	}
	if fake.count("/balances") != 0 {
		t.Fatalf("invalid params must not reach the exchange")
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(nil, config.Credentials{}, zap.NewNop()); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestJournalConversion(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	round := quoteRound(trading.RoundReport{
		SessionID: "s",
		Pair:      exchange.Pair("ltc_btc"),
		Index:     3,
		Outcome:   trading.RoundPartialFailure,
		Quote:     decimal.RequireFromString("99"),
		SellOrder: "S1",
		At:        at,
	})
	if round.Round != 3 || round.Outcome != "partial_failure" || round.Pair != "ltc_btc" || round.SellOrder != "S1" {
		t.Fatalf("unexpected round: %+v", round)
	}
	if round.Time.Location() != time.UTC || !round.Time.Equal(at) {
		t.Fatalf("expected UTC timestamp, got %v", round.Time)
	}

	summary := sessionSummary(trading.Report{
		SessionID: "s",
		Pair:      "ltc_btc",
		Outcome:   trading.OutcomeAborted,
		Err:       errors.New("balance drift"),
	}, at)
	if summary.Outcome != "aborted" || summary.Error != "balance drift" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

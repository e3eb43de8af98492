package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"pairquote-bot/internal/config"
	"pairquote-bot/internal/exchange"
	"pairquote-bot/internal/trading"
)

func TestParseOrderRefs(t *testing.T) {
	refs, err := parseOrderRefs("7942422,ltc_btc-7942423,ETH_BTC")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []exchange.OrderRef{
		{OrderNumber: "7942422", CurrencyPair: "ltc_btc"},
		{OrderNumber: "7942423", CurrencyPair: "eth_btc"},
	}
	if len(refs) != len(want) {
		t.Fatalf("expected %d refs, got %d", len(want), len(refs))
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Fatalf("ref %d: expected %+v, got %+v", i, want[i], refs[i])
		}
	}
}

func TestParseOrderRefsRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "123", ",ltc_btc", "1,ltcbtc", "1,ltc_btc-"} {
		if _, err := parseOrderRefs(raw); !errors.Is(err, errUsage) {
			t.Fatalf("%q: expected usage error, got %v", raw, err)
		}
	}
}

func TestParseFlagsRequired(t *testing.T) {
	var stderr bytes.Buffer
	fs := newFlagSet("order", &stderr)
	fs.String("number", "", "")
	fs.String("pair", "", "")
	err := parseFlags(fs, []string{"-number", "1"}, "number", "pair")
	if !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if !strings.Contains(stderr.String(), "missing required flag -pair") {
		t.Fatalf("expected missing flag message, got %q", stderr.String())
	}

	fs = newFlagSet("order", io.Discard)
	fs.String("number", "", "")
	if err := parseFlags(fs, []string{"-number", "1"}, "number"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseOrderType(t *testing.T) {
	if typ, err := parseOrderType("IOC"); err != nil || typ != exchange.OrderTypeIOC {
		t.Fatalf("expected ioc, got %q (%v)", typ, err)
	}
	if typ, err := parseOrderType(""); err != nil || typ != exchange.OrderTypeNormal {
		t.Fatalf("expected normal, got %q (%v)", typ, err)
	}
	if _, err := parseOrderType("fok"); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestReportViewCarriesAbortCause(t *testing.T) {
	view := newReportView(trading.Report{Outcome: trading.OutcomeAborted, Err: trading.ErrBalanceDrift})
	if view.Outcome != trading.OutcomeAborted || view.Error != "balance drift" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view := newReportView(trading.Report{Outcome: trading.OutcomeCompleted}); view.Error != "" {
		t.Fatalf("completed session must not carry an error: %+v", view)
	}
}

func TestRunWithoutCommandIsUsage(t *testing.T) {
	var stderr bytes.Buffer
	if code := run(nil, io.Discard, &stderr); code != exitUsage {
		t.Fatalf("expected exit %d, got %d", exitUsage, code)
	}
	if !strings.Contains(stderr.String(), "trading") {
		t.Fatalf("usage should list commands, got %q", stderr.String())
	}
	if code := run([]string{"bogus"}, io.Discard, io.Discard); code != exitUsage {
		t.Fatalf("expected exit %d for unknown command, got %d", exitUsage, code)
	}
}

func writeConfig(t *testing.T, url string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "log:\n  level: error\nexchange:\n  data_url: " + url + "\n  trading_url: " + url + "\ntrading:\n  settle_pause: 1ms\n  collapse_pause: 1ms\n  teardown_timeout: 2s\nstate:\n  sqlite_path: " + filepath.Join(dir, "bot.db") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, filepath.Join(dir, "missing.env")
}

func TestRunPublicCommandWithoutCredentials(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "")
	t.Setenv(config.EnvAPISecret, "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orderBook/ltc_btc" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"result":"true","asks":[[101,1],[100,2]],"bids":[[90,3]]}`))
	}))
	defer srv.Close()
	cfgPath, envPath := writeConfig(t, srv.URL)

	var stdout bytes.Buffer
	code := run([]string{"-config", cfgPath, "-env", envPath, "order-book", "-pair", "ltc_btc"}, &stdout, io.Discard)
	if code != exitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	var book struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &book); err != nil {
		t.Fatalf("decode output %q: %v", stdout.String(), err)
	}
	if len(book.Asks) != 2 || book.Asks[1][0] != "100" || book.Bids[0][1] != "3" {
		t.Fatalf("unexpected book: %+v", book)
	}
}

func TestRunPrivateCommandRequiresCredentials(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "")
	t.Setenv(config.EnvAPISecret, "")
	cfgPath, envPath := writeConfig(t, "http://127.0.0.1:1")

	if code := run([]string{"-config", cfgPath, "-env", envPath, "balance"}, io.Discard, io.Discard); code != exitError {
		t.Fatalf("expected exit %d, got %d", exitError, code)
	}
}

func TestRunMissingRequiredFlag(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "key")
	t.Setenv(config.EnvAPISecret, "secret")
	cfgPath, envPath := writeConfig(t, "http://127.0.0.1:1")

	if code := run([]string{"-config", cfgPath, "-env", envPath, "trading", "-pair", "ltc_btc"}, io.Discard, io.Discard); code != exitUsage {
		t.Fatalf("expected exit %d, got %d", exitUsage, code)
	}
}

func TestRunHelpFlag(t *testing.T) {
	if code := run([]string{"-h"}, io.Discard, io.Discard); code != exitOK {
		t.Fatalf("expected exit 0 for -h, got %d", code)
	}
}

func TestRunTradingDriftAbortExitsZero(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "key")
	t.Setenv(config.EnvAPISecret, "secret")
	t.Setenv(config.EnvReal, "")
	var mu sync.Mutex
	balanceCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/balances":
			mu.Lock()
			balanceCalls++
			ltc := "10"
			if balanceCalls > 1 {
				ltc = "9"
			}
			mu.Unlock()
			_, _ = w.Write([]byte(`{"result":"true","available":{"LTC":"` + ltc + `","BTC":"5"},"locked":{}}`))
		case "/orderBook/ltc_btc":
			_, _ = w.Write([]byte(`{"result":"true","asks":[[101,1],[100,1]],"bids":[[90,1]]}`))
		default:
			_, _ = w.Write([]byte(`{"result":"true"}`))
		}
	}))
	defer srv.Close()
	cfgPath, envPath := writeConfig(t, srv.URL)

	var stdout bytes.Buffer
	code := run([]string{"-config", cfgPath, "-env", envPath, "trading", "-pair", "ltc_btc", "-amount", "1", "-num", "3", "-delta", "1"}, &stdout, io.Discard)
	if code != exitOK {
		t.Fatalf("expected exit %d after a drift abort, got %d", exitOK, code)
	}
	var view struct {
		Outcome         string `json:"outcome"`
		RoundsCompleted int    `json:"rounds_completed"`
		Error           string `json:"error"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &view); err != nil {
		t.Fatalf("decode output %q: %v", stdout.String(), err)
	}
	if view.Outcome != string(trading.OutcomeAborted) || view.RoundsCompleted != 0 {
		t.Fatalf("unexpected report: %+v", view)
	}
	if !strings.Contains(view.Error, "balance drift") {
		t.Fatalf("expected drift cause in report, got %q", view.Error)
	}
}

func TestRunTradingInvalidParamsIsUsage(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "key")
	t.Setenv(config.EnvAPISecret, "secret")
	cfgPath, envPath := writeConfig(t, "http://127.0.0.1:1")

	cases := map[string][]string{
		"rounds": {"-pair", "ltc_btc", "-amount", "1", "-num", "0", "-delta", "1"},
		"amount": {"-pair", "ltc_btc", "-amount", "0", "-num", "1", "-delta", "1"},
		"delta":  {"-pair", "ltc_btc", "-amount", "1", "-num", "1", "-delta", "0"},
	}
	for name, flags := range cases {
		args := append([]string{"-config", cfgPath, "-env", envPath, "trading"}, flags...)
		var stderr bytes.Buffer
		if code := run(args, io.Discard, &stderr); code != exitUsage {
			t.Fatalf("%s: expected exit %d, got %d", name, exitUsage, code)
		}
		if stderr.Len() == 0 {
			t.Fatalf("%s: expected the validation error on stderr", name)
		}
	}
}

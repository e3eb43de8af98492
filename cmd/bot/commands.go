package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"pairquote-bot/internal/app"
	"pairquote-bot/internal/exchange"
	"pairquote-bot/internal/trading"

	"github.com/shopspring/decimal"
)

var errUsage = errors.New("invalid usage")

type command struct {
	name    string
	help    string
	private bool
	run     func(ctx context.Context, a *app.App, args []string, stderr io.Writer) (any, error)
}

var commands = []command{
	{name: "balance", help: "available and locked balances", private: true, run: runBalance},
	{name: "funding-balance", help: "funding account balances", private: true, run: runFundingBalance},
	{name: "pairs", help: "tradable currency pairs", run: runPairs},
	{name: "order-book", help: "market depth for --pair", run: runOrderBook},
	{name: "c2c-order-book", help: "c2c market depth for --pair", run: runC2COrderBook},
	{name: "orders", help: "open orders, optionally for --pair", private: true, run: runOrders},
	{name: "trades", help: "trades of the last 24h, optionally for --pair", private: true, run: runTrades},
	{name: "order", help: "order details for --number and --pair", private: true, run: runOrder},
	{name: "buy", help: "place a buy order", private: true, run: placeCommand(exchange.SideBuy)},
	{name: "sell", help: "place a sell order", private: true, run: placeCommand(exchange.SideSell)},
	{name: "cancel", help: "cancel order --number on --pair", private: true, run: runCancel},
	{name: "batch-cancel", help: "cancel --orders num,pair-num,pair", private: true, run: runBatchCancel},
	{name: "cancel-all", help: "cancel all orders on --pair for --side", private: true, run: runCancelAll},
	{name: "trading", help: "run paired quote rounds", private: true, run: runTrading},
}

func lookupCommand(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseFlags parses args and fails with errUsage when a required flag is
// missing.
func parseFlags(fs *flag.FlagSet, args []string, required ...string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for _, name := range required {
		if !set[name] {
			fmt.Fprintf(fs.Output(), "missing required flag -%s\n", name)
			fs.Usage()
			return errUsage
		}
	}
	return nil
}

type balanceView struct {
	Available exchange.Balances `json:"available"`
	Locked    exchange.Balances `json:"locked"`
}

func runBalance(ctx context.Context, a *app.App, args []string, stderr io.Writer) (any, error) {
	if err := parseFlags(newFlagSet("balance", stderr), args); err != nil {
		return nil, err
	}
	sheet, err := a.Gateway().Balances(ctx)
	if err != nil {
		return nil, err
	}
	return balanceView{Available: sheet.Available, Locked: sheet.Locked}, nil
}

func runFundingBalance(ctx context.Context, a *app.App, args []string, stderr io.Writer) (any, error) {
	if err := parseFlags(newFlagSet("funding-balance", stderr), args); err != nil {
		return nil, err
	}
	return a.Gateway().FundingBalances(ctx)
}

func runPairs(ctx context.Context, a *app.App, args []string, stderr io.Writer) (any, error) {
	if err := parseFlags(newFlagSet("pairs", stderr), args); err != nil {
		return nil, err
	}
	return a.Gateway().TradePairs(ctx)
}

func pairFlag(fs *flag.FlagSet) *string {
	return fs.String("pair", "", "currency pair, e.g. ltc_btc")
}

func parsePairFlag(raw string) (exchange.Pair, error) {
	if raw == "" {
		return "", nil
	}
	pair, err := exchange.ParsePair(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUsage, err)
	}
	return pair, nil
}

func runOrderBook(ctx context.Context, a *app.App, args []string, stderr io.Writer) (any, error) {
	fs := newFlagSet("order-book", stderr)
	rawPair := pairFlag(fs)
	if err := parseFlags(fs, args, "pair"); err != nil {
		return nil, err
	}
	pair, err := parsePairFlag(*rawPair)
	if err != nil {
		return nil, err
	}
	return a.Gateway().OrderBook(ctx, pair)
}

func runC2COrderBook(ctx context.Context, a *app.App, args []string, stderr io.Writer) (any, error) {
	fs := newFlagSet("c2c-order-book", stderr)
	rawPair := pairFlag(fs)
	if err := parseFlags(fs, args, "pair"); err != nil {
		return nil, err
	}
	pair, err := parsePairFlag(*rawPair)
	if err != nil {
		return nil, err
	}
	return a.Gateway().C2COrderBook(ctx, pair)
}

func runOrders(ctx context.Context, a *app.App, args []string, stderr io.Writer) (any, error) {
	fs := newFlagSet("orders", stderr)
	rawPair := pairFlag(fs)
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	pair, err := parsePairFlag(*rawPair)
	if err != nil {
		return nil, err
	}
	return a.Gateway().OpenOrders(ctx, pair)
}

func runTrades(ctx context.Context, a *app.App, args []string, stderr io.Writer) (any, error) {
	fs := newFlagSet("trades", stderr)
	rawPair := pairFlag(fs)
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	pair, err := parsePairFlag(*rawPair)
	if err != nil {
		return nil, err
	}
	return a.Gateway().TradeHistory(ctx, pair)
}

func runOrder(ctx context.Context, a *app.App, args []string, stderr io.Writer) (any, error) {
	fs := newFlagSet("order", stderr)
	number := fs.String("number", "", "order number")
	rawPair := pairFlag(fs)
	if err := parseFlags(fs, args, "number", "pair"); err != nil {
		return nil, err
	}
	pair, err := parsePairFlag(*rawPair)
	if err != nil {
		return nil, err
	}
	return a.Gateway().GetOrder(ctx, *number, pair)
}

type placementView struct {
	Side         exchange.Side   `json:"side"`
	DryRun       bool            `json:"dry_run"`
	OrderNumber  string          `json:"order_number"`
	Rate         decimal.Decimal `json:"rate"`
	LeftAmount   decimal.Decimal `json:"left_amount"`
	FilledAmount decimal.Decimal `json:"filled_amount"`
	FilledRate   decimal.Decimal `json:"filled_rate"`
	Message      string          `json:"message,omitempty"`
	CTime        int64           `json:"ctime,omitempty"`
}

func newPlacementView(p exchange.OrderPlacement) placementView {
	return placementView{
		Side:         p.Side,
		DryRun:       p.DryRun,
		OrderNumber:  string(p.OrderNumber),
		Rate:         p.Rate.Decimal,
		LeftAmount:   p.LeftAmount.Decimal,
		FilledAmount: p.FilledAmount.Decimal,
		FilledRate:   p.FilledRate.Decimal,
		Message:      p.Message,
		CTime:        int64(p.CTime),
	}
}

func placeCommand(side exchange.Side) func(ctx context.Context, a *app.App, args []string, stderr io.Writer) (any, error) {
	return func(ctx context.Context, a *app.App, args []string, stderr io.Writer) (any, error) {
		fs := newFlagSet(string(side), stderr)
		rawPair := pairFlag(fs)
		rawRate := fs.String("rate", "", "limit price")
		amount := fs.Int64("amount", 0, "order quantity")
		orderType := fs.String("type", "", `order type: "" or "ioc"`)
		if err := parseFlags(fs, args, "pair", "rate", "amount"); err != nil {
			return nil, err
		}
		pair, err := parsePairFlag(*rawPair)
		if err != nil {
			return nil, err
		}
		rate, err := parseDecimal("rate", *rawRate)
		if err != nil {
			return nil, err
		}
		typ, err := parseOrderType(*orderType)
		if err != nil {
			return nil, err
		}
		placement, err := a.Gateway().PlaceOrder(ctx, exchange.OrderRequest{
			Side:   side,
			Pair:   pair,
			Rate:   rate,
			Amount: *amount,
			Type:   typ,
		})
		if err != nil {
			return nil, err
		}
		return newPlacementView(placement), nil
	}
}

func runCancel(ctx context.Context, a *app.App, args []string, stderr io.Writer) (any, error) {
	fs := newFlagSet("cancel", stderr)
	number := fs.String("number", "", "order number")
	rawPair := pairFlag(fs)
	if err := parseFlags(fs, args, "number", "pair"); err != nil {
		return nil, err
	}
	pair, err := parsePairFlag(*rawPair)
	if err != nil {
		return nil, err
	}
	if err := a.Gateway().CancelOrder(ctx, *number, pair); err != nil {
		return nil, err
	}
	return map[string]string{"cancelled": *number}, nil
}

func runBatchCancel(ctx context.Context, a *app.App, args []string, stderr io.Writer) (any, error) {
	fs := newFlagSet("batch-cancel", stderr)
	rawOrders := fs.String("orders", "", "orders as num,pair joined by '-', e.g. 1,ltc_btc-2,eth_btc")
	if err := parseFlags(fs, args, "orders"); err != nil {
		return nil, err
	}
	orders, err := parseOrderRefs(*rawOrders)
	if err != nil {
		return nil, err
	}
	if err := a.Gateway().CancelOrders(ctx, orders); err != nil {
		return nil, err
	}
	return map[string]any{"cancelled": orders}, nil
}

func runCancelAll(ctx context.Context, a *app.App, args []string, stderr io.Writer) (any, error) {
	fs := newFlagSet("cancel-all", stderr)
	rawPair := pairFlag(fs)
	rawSide := fs.String("side", "any", "orders to cancel: any, buy or sell")
	if err := parseFlags(fs, args, "pair"); err != nil {
		return nil, err
	}
	pair, err := parsePairFlag(*rawPair)
	if err != nil {
		return nil, err
	}
	filter, err := exchange.ParseSideFilter(*rawSide)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	if err := a.Gateway().CancelAllOrders(ctx, filter, pair); err != nil {
		return nil, err
	}
	return map[string]any{"pair": pair, "type": int(filter)}, nil
}

type reportView struct {
	SessionID       string            `json:"session_id"`
	Pair            exchange.Pair     `json:"pair"`
	Outcome         trading.Outcome   `json:"outcome"`
	RoundsCompleted int               `json:"rounds_completed"`
	PartialFailures int               `json:"partial_failures"`
	SpreadCollapses int               `json:"spread_collapses"`
	Baseline        exchange.Balances `json:"baseline,omitempty"`
	Final           exchange.Balances `json:"final,omitempty"`
	Error           string            `json:"error,omitempty"`
}

func newReportView(report trading.Report) reportView {
	view := reportView{
		SessionID:       report.SessionID,
		Pair:            report.Pair,
		Outcome:         report.Outcome,
		RoundsCompleted: report.RoundsCompleted,
		PartialFailures: report.PartialFailures,
		SpreadCollapses: report.SpreadCollapses,
		Baseline:        report.Baseline,
		Final:           report.Final,
	}
	if report.Err != nil {
		view.Error = report.Err.Error()
	}
	return view
}

func runTrading(ctx context.Context, a *app.App, args []string, stderr io.Writer) (any, error) {
	fs := newFlagSet("trading", stderr)
	rawPair := pairFlag(fs)
	amount := fs.Int64("amount", 0, "quantity of each order")
	num := fs.Int("num", 0, "number of rounds (one buy and one sell each)")
	rawDelta := fs.String("delta", "", "distance below the best ask to quote at")
	if err := parseFlags(fs, args, "pair", "amount", "num", "delta"); err != nil {
		return nil, err
	}
	pair, err := parsePairFlag(*rawPair)
	if err != nil {
		return nil, err
	}
	delta, err := parseDecimal("delta", *rawDelta)
	if err != nil {
		return nil, err
	}
	params := trading.Params{Pair: pair, Amount: *amount, Rounds: *num, Delta: delta}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	// An aborted session is a safe stop: the report carries the outcome and
	// the cause, and the process still exits cleanly.
	report, err := a.Trade(ctx, params)
	if err != nil {
		return nil, err
	}
	return newReportView(report), nil
}

func parseDecimal(name, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: invalid -%s %q", errUsage, name, raw)
	}
	return value, nil
}

func parseOrderType(raw string) (exchange.OrderType, error) {
	switch exchange.OrderType(strings.ToLower(strings.TrimSpace(raw))) {
	case exchange.OrderTypeNormal:
		return exchange.OrderTypeNormal, nil
	case exchange.OrderTypeIOC:
		return exchange.OrderTypeIOC, nil
	}
	return "", fmt.Errorf("%w: invalid -type %q", errUsage, raw)
}

// parseOrderRefs reads "num,pair-num,pair" into order references.
func parseOrderRefs(raw string) ([]exchange.OrderRef, error) {
	var refs []exchange.OrderRef
	for _, item := range strings.Split(strings.TrimSpace(raw), "-") {
		number, rawPair, ok := strings.Cut(item, ",")
		number = strings.TrimSpace(number)
		if !ok || number == "" {
			return nil, fmt.Errorf("%w: invalid order %q, expected num,pair", errUsage, item)
		}
		pair, err := exchange.ParsePair(rawPair)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
		refs = append(refs, exchange.OrderRef{OrderNumber: number, CurrencyPair: pair.String()})
	}
	return refs, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"pairquote-bot/internal/exchange/rest"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	balancePrecision = 6
)

// DustThreshold is the amount at or below which a balance is omitted.
var DustThreshold = decimal.RequireFromString("0.001")

// Caller is the transport the Gateway is built on.
type Caller interface {
	Private(ctx context.Context, path string, params rest.Params) (rest.Response, error)
	Public(ctx context.Context, path string, query rest.Params) (rest.Response, error)
}

// Gateway exposes typed account and market operations. In dry-run mode order
// placement never reaches the exchange.
type Gateway struct {
	client Caller
	real   bool
	log    *zap.Logger
}

func NewGateway(client Caller, real bool, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{client: client, real: real, log: log}
}

func (g *Gateway) Real() bool { return g.real }

func (g *Gateway) Balances(ctx context.Context) (BalanceSheet, error) {
	resp, err := g.client.Private(ctx, "/balances", nil)
	if err != nil {
		return BalanceSheet{}, err
	}
	var raw struct {
		Available map[string]decimal.Decimal `json:"available"`
		Locked    map[string]decimal.Decimal `json:"locked"`
	}
	if err := resp.Decode(&raw); err != nil {
		return BalanceSheet{}, err
	}
	return BalanceSheet{
		Available: pruneDust(raw.Available),
		Locked:    pruneDust(raw.Locked),
	}, nil
}

// pruneDust rounds every amount to six decimals and drops entries at or below
// the dust threshold.
func pruneDust(raw map[string]decimal.Decimal) Balances {
	out := make(Balances, len(raw))
	for asset, amount := range raw {
		rounded := amount.Round(balancePrecision)
		if rounded.GreaterThan(DustThreshold) {
			out[asset] = rounded
		}
	}
	return out
}

func (g *Gateway) FundingBalances(ctx context.Context) (map[string]any, error) {
	resp, err := g.client.Private(ctx, "/fundingbalances", nil)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	delete(out, "result")
	return out, nil
}

func (g *Gateway) TradePairs(ctx context.Context) (json.RawMessage, error) {
	resp, err := g.client.Public(ctx, "/pairs", nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (g *Gateway) OrderBook(ctx context.Context, pair Pair) (OrderBook, error) {
	resp, err := g.client.Public(ctx, "/orderBook/"+pair.String(), nil)
	if err != nil {
		return OrderBook{}, err
	}
	var book OrderBook
	if err := resp.Decode(&book); err != nil {
		return OrderBook{}, err
	}
	return book, nil
}

func (g *Gateway) C2COrderBook(ctx context.Context, pair Pair) (C2COrderBook, error) {
	resp, err := g.client.Public(ctx, "/orderBook_c2c/"+pair.String(), nil)
	if err != nil {
		return C2COrderBook{}, err
	}
	var book C2COrderBook
	if err := resp.Decode(&book); err != nil {
		return C2COrderBook{}, err
	}
	return book, nil
}

// OpenOrders lists working orders; an empty pair lists every pair.
func (g *Gateway) OpenOrders(ctx context.Context, pair Pair) ([]Order, error) {
	resp, err := g.client.Private(ctx, "/openOrders", rest.Params{}.With("currencyPair", pair.String()))
	if err != nil {
		return nil, err
	}
	var out struct {
		Orders []Order `json:"orders"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// TradeHistory returns the trades of the last 24 hours as reported.
func (g *Gateway) TradeHistory(ctx context.Context, pair Pair) ([]map[string]any, error) {
	resp, err := g.client.Private(ctx, "/tradeHistory", rest.Params{}.With("currencyPair", pair.String()))
	if err != nil {
		return nil, err
	}
	var out struct {
		Trades []map[string]any `json:"trades"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.Trades, nil
}

func (g *Gateway) PlaceOrder(ctx context.Context, req OrderRequest) (OrderPlacement, error) {
	if err := req.validate(); err != nil {
		return OrderPlacement{}, err
	}
	params := rest.Params{}.
		With("currencyPair", req.Pair.String()).
		With("rate", req.Rate.String()).
		With("amount", strconv.FormatInt(req.Amount, 10)).
		With("orderType", string(req.Type))
	if !g.real {
		g.log.Info("dry-run order",
			zap.String("side", string(req.Side)),
			zap.String("params", params.Canonical()),
		)
		return OrderPlacement{Side: req.Side, DryRun: true}, nil
	}
	resp, err := g.client.Private(ctx, "/"+string(req.Side), params)
	if err != nil {
		return OrderPlacement{Side: req.Side}, err
	}
	var placement OrderPlacement
	if err := resp.Decode(&placement); err != nil {
		return OrderPlacement{Side: req.Side}, err
	}
	placement.Side = req.Side
	return placement, nil
}

func (g *Gateway) Buy(ctx context.Context, pair Pair, rate decimal.Decimal, amount int64, orderType OrderType) (OrderPlacement, error) {
	return g.PlaceOrder(ctx, OrderRequest{Side: SideBuy, Pair: pair, Rate: rate, Amount: amount, Type: orderType})
}

func (g *Gateway) Sell(ctx context.Context, pair Pair, rate decimal.Decimal, amount int64, orderType OrderType) (OrderPlacement, error) {
	return g.PlaceOrder(ctx, OrderRequest{Side: SideSell, Pair: pair, Rate: rate, Amount: amount, Type: orderType})
}

func (g *Gateway) CancelOrder(ctx context.Context, orderNumber string, pair Pair) error {
	if orderNumber == "" {
		return fmt.Errorf("cancel order: order number is required")
	}
	params := rest.Params{}.
		With("orderNumber", orderNumber).
		With("currencyPair", pair.String())
	_, err := g.client.Private(ctx, "/cancelOrder", params)
	return err
}

// CancelOrders cancels a batch of orders in one call.
func (g *Gateway) CancelOrders(ctx context.Context, orders []OrderRef) error {
	if len(orders) == 0 {
		return nil
	}
	payload, err := json.Marshal(orders)
	if err != nil {
		return err
	}
	_, err = g.client.Private(ctx, "/cancelOrders", rest.Params{}.With("orders_json", string(payload)))
	return err
}

// CancelAllOrders removes every working order of pair matching filter. An
// exchange reply that no order exists is treated as success.
func (g *Gateway) CancelAllOrders(ctx context.Context, filter SideFilter, pair Pair) error {
	params := rest.Params{}.
		With("type", strconv.Itoa(int(filter))).
		With("currencyPair", pair.String())
	_, err := g.client.Private(ctx, "/cancelAllOrders", params)
	if err != nil && rest.HasCode(err, rest.CodeOrderGone) {
		g.log.Info("no open orders to cancel", zap.String("pair", pair.String()))
		return nil
	}
	return err
}

func (g *Gateway) GetOrder(ctx context.Context, orderNumber string, pair Pair) (Order, error) {
	params := rest.Params{}.
		With("orderNumber", orderNumber).
		With("currencyPair", pair.String())
	resp, err := g.client.Private(ctx, "/getOrder", params)
	if err != nil {
		return Order{}, err
	}
	var out struct {
		Order Order `json:"order"`
	}
	if err := resp.Decode(&out); err != nil {
		return Order{}, err
	}
	return out.Order, nil
}

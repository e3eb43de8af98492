package exec

import (
	"context"
	"errors"
	"fmt"

	"pairquote-bot/internal/exchange"
	"pairquote-bot/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OrderGateway is the subset of the exchange gateway the executor drives.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderPlacement, error)
	CancelOrder(ctx context.Context, orderNumber string, pair exchange.Pair) error
}

var errEmptyOrderNumber = errors.New("exchange returned no order number")

// Leg is the outcome of one side of a paired submission.
type Leg struct {
	Side      exchange.Side
	Placement exchange.OrderPlacement
	Err       error
}

// OrderNumber is the number assigned by the exchange, empty when none was.
func (l Leg) OrderNumber() string {
	return string(l.Placement.OrderNumber)
}

type PairResult struct {
	Sell Leg
	Buy  Leg
}

func (r PairResult) Failed() bool {
	return r.Sell.Err != nil || r.Buy.Err != nil
}

func (r PairResult) Err() error {
	var errs []error
	if r.Sell.Err != nil {
		errs = append(errs, fmt.Errorf("sell: %w", r.Sell.Err))
	}
	if r.Buy.Err != nil {
		errs = append(errs, fmt.Errorf("buy: %w", r.Buy.Err))
	}
	return errors.Join(errs...)
}

// OrderNumbers returns the assigned order numbers, sell first.
func (r PairResult) OrderNumbers() []string {
	var out []string
	for _, leg := range []Leg{r.Sell, r.Buy} {
		if n := leg.OrderNumber(); n != "" {
			out = append(out, n)
		}
	}
	return out
}

type Executor struct {
	gw      OrderGateway
	metrics *metrics.Metrics
	log     *zap.Logger
}

func New(gw OrderGateway, m *metrics.Metrics, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{gw: gw, metrics: metrics.OrNoop(m), log: log}
}

// PlacePair submits a sell and a buy at the same rate and amount. Both calls
// are in flight at the same time and PlacePair returns once both finished.
func (e *Executor) PlacePair(ctx context.Context, pair exchange.Pair, rate decimal.Decimal, amount int64) PairResult {
	result := PairResult{
		Sell: Leg{Side: exchange.SideSell},
		Buy:  Leg{Side: exchange.SideBuy},
	}
	var g errgroup.Group
	for _, leg := range []*Leg{&result.Sell, &result.Buy} {
		leg := leg
		g.Go(func() error {
			leg.Placement, leg.Err = e.place(ctx, exchange.OrderRequest{
				Side:   leg.Side,
				Pair:   pair,
				Rate:   rate,
				Amount: amount,
			})
			return leg.Err
		})
	}
	if err := g.Wait(); err != nil {
		e.log.Warn("paired submission incomplete", zap.String("pair", pair.String()), zap.Error(err))
	}
	return result
}

func (e *Executor) place(ctx context.Context, req exchange.OrderRequest) (exchange.OrderPlacement, error) {
	placement, err := e.gw.PlaceOrder(ctx, req)
	if err == nil && placement.OrderNumber == "" && !placement.DryRun {
		err = errEmptyOrderNumber
	}
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		e.log.Error("order placement failed",
			zap.String("side", string(req.Side)),
			zap.String("pair", req.Pair.String()),
			zap.String("rate", req.Rate.String()),
			zap.Int64("amount", req.Amount),
			zap.Error(err),
		)
		return placement, err
	}
	e.metrics.OrdersPlaced.Inc()
	e.log.Info("order placed",
		zap.String("side", string(req.Side)),
		zap.String("order_number", string(placement.OrderNumber)),
		zap.Bool("dry_run", placement.DryRun),
		zap.Int64("ctime", int64(placement.CTime)),
	)
	return placement, nil
}

// CancelBestEffort cancels every non-empty order number independently. Each
// outcome is logged; the number of failed cancellations is returned.
func (e *Executor) CancelBestEffort(ctx context.Context, pair exchange.Pair, orderNumbers ...string) int {
	failed := 0
	for _, number := range orderNumbers {
		if number == "" {
			continue
		}
		if err := e.gw.CancelOrder(ctx, number, pair); err != nil {
			failed++
			e.metrics.CancelFailures.Inc()
			e.log.Error("cancel failed",
				zap.String("order_number", number),
				zap.String("pair", pair.String()),
				zap.Error(err),
			)
			continue
		}
		e.log.Info("order cancelled", zap.String("order_number", number), zap.String("pair", pair.String()))
	}
	return failed
}

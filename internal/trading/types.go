package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pairquote-bot/internal/config"
	"pairquote-bot/internal/exchange"

	"github.com/shopspring/decimal"
)

var (
	ErrBalanceDrift = errors.New("balance drift")
	ErrInvalidDelta = errors.New("invalid price delta")
	ErrInvalidPair  = errors.New("invalid currency pair")
)

type State string

type Event string

const (
	StateInit        State = "INIT"
	StateQuoting     State = "QUOTING"
	StateSubmitting  State = "SUBMITTING"
	StateReconciling State = "RECONCILING"
	StateCompleted   State = "COMPLETED"
	StateAborted     State = "ABORTED"
)

const (
	EventStart          Event = "START"
	EventSpreadCollapse Event = "SPREAD_COLLAPSE"
	EventQuote          Event = "QUOTE"
	EventSubmitted      Event = "SUBMITTED"
	EventBalanced       Event = "BALANCED"
	EventFinished       Event = "FINISHED"
	EventAbort          Event = "ABORT"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
)

type RoundOutcome string

const (
	RoundSuccess          RoundOutcome = "success"
	RoundPartialFailure   RoundOutcome = "partial_failure"
	RoundAbortedLowSpread RoundOutcome = "aborted_low_spread"
)

// Gateway is the exchange surface the trading loop needs.
type Gateway interface {
	Balances(ctx context.Context) (exchange.BalanceSheet, error)
	OrderBook(ctx context.Context, pair exchange.Pair) (exchange.OrderBook, error)
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderPlacement, error)
	CancelOrder(ctx context.Context, orderNumber string, pair exchange.Pair) error
	CancelAllOrders(ctx context.Context, filter exchange.SideFilter, pair exchange.Pair) error
	GetOrder(ctx context.Context, orderNumber string, pair exchange.Pair) (exchange.Order, error)
}

type Notifier interface {
	Send(ctx context.Context, text string) error
}

// RoundSink receives one record per finished or skipped round. It must not
// block.
type RoundSink interface {
	RecordRound(RoundReport)
}

type Settings struct {
	CollapsePause    time.Duration
	SettlePause      time.Duration
	BaselineAttempts int
	RetryInterval    time.Duration
	TeardownTimeout  time.Duration
	RewardAsset      string
}

func SettingsFromConfig(cfg config.TradingConfig) Settings {
	return Settings{
		CollapsePause:    cfg.CollapsePause,
		SettlePause:      cfg.SettlePause,
		BaselineAttempts: cfg.BaselineAttempts,
		RetryInterval:    cfg.RetryInterval,
		TeardownTimeout:  cfg.TeardownTimeout,
		RewardAsset:      cfg.RewardAsset,
	}
}

func (s Settings) withDefaults() Settings {
	if s.BaselineAttempts < 1 {
		s.BaselineAttempts = 3
	}
	if s.TeardownTimeout <= 0 {
		s.TeardownTimeout = 15 * time.Second
	}
	return s
}

// Params describe one trading session.
type Params struct {
	Pair   exchange.Pair
	Amount int64
	Rounds int
	Delta  decimal.Decimal
}

// Validate checks the session parameters before any exchange call.
func (p Params) Validate() error {
	if _, _, err := p.Pair.Assets(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPair, err)
	}
	if p.Amount <= 0 {
		return fmt.Errorf("amount must be > 0, got %d", p.Amount)
	}
	if p.Rounds <= 0 {
		return fmt.Errorf("number of rounds must be > 0, got %d", p.Rounds)
	}
	if !p.Delta.IsPositive() {
		return fmt.Errorf("%w: must be > 0, got %s", ErrInvalidDelta, p.Delta)
	}
	return nil
}

type RoundReport struct {
	SessionID string
	Pair      exchange.Pair
	Index     int
	Quote     decimal.Decimal
	Notional  decimal.Decimal
	BestAsk   decimal.Decimal
	BestBid   decimal.Decimal
	Outcome   RoundOutcome
	SellOrder string
	BuyOrder  string
	At        time.Time
}

// Report summarizes a trading session. Err is set when the session aborted.
type Report struct {
	SessionID       string
	Pair            exchange.Pair
	Outcome         Outcome
	RoundsCompleted int
	PartialFailures int
	SpreadCollapses int
	Baseline        exchange.Balances
	Final           exchange.Balances
	Err             error
}

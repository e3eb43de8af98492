package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pairquote-bot/internal/exchange"
	"pairquote-bot/internal/exec"
	"pairquote-bot/internal/metrics"
	"pairquote-bot/internal/retrier"
	"pairquote-bot/internal/state"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// comparePrecision is the number of decimals balances are compared at.
const comparePrecision = 2

type Trader struct {
	gw       Gateway
	exec     *exec.Executor
	store    state.Store
	metrics  *metrics.Metrics
	settings Settings
	notifier Notifier
	sink     RoundSink
	log      *zap.Logger
	now      func() time.Time
}

func New(gw Gateway, store state.Store, m *metrics.Metrics, settings Settings, log *zap.Logger) *Trader {
	if log == nil {
		log = zap.NewNop()
	}
	m = metrics.OrNoop(m)
	return &Trader{
		gw:       gw,
		exec:     exec.New(gw, m, log),
		store:    store,
		metrics:  m,
		settings: settings.withDefaults(),
		log:      log,
		now:      time.Now,
	}
}

func (t *Trader) SetNotifier(n Notifier) {
	t.notifier = n
}

func (t *Trader) SetRoundSink(s RoundSink) {
	t.sink = s
}

// session is the state owned by one Run call.
type session struct {
	id        string
	params    Params
	base      string
	quote     string
	precision int32
	sm        *StateMachine
	log       *zap.Logger

	index     int
	baseline  exchange.Balances
	lastQuote decimal.Decimal
	// live holds order numbers believed to be working on the exchange; placed
	// keeps the numbers of the current round for diagnostics after a cancel.
	live   []string
	placed exec.PairResult
}

// Run executes params.Rounds quote rounds. The returned error is non-nil only
// when the session could not start; an aborted session is reported through
// Report.Err. Open orders for the pair are cancelled on every exit path.
func (t *Trader) Run(ctx context.Context, params Params) (report Report, err error) {
	if err := params.Validate(); err != nil {
		return Report{}, err
	}
	precision, err := QuotePrecision(params.Delta)
	if err != nil {
		return Report{}, err
	}
	base, quote, _ := params.Pair.Assets()
	s := &session{
		id:        uuid.NewString(),
		params:    params,
		base:      base,
		quote:     quote,
		precision: precision,
		sm:        NewStateMachine(),
	}
	s.log = t.log.With(zap.String("session_id", s.id), zap.String("pair", params.Pair.String()))
	report = Report{SessionID: s.id, Pair: params.Pair, Outcome: OutcomeAborted}

	t.checkPreviousSession(ctx, s)
	defer func() {
		report.Final = t.teardown(ctx, s)
	}()

	s.log.Info("trading session started",
		zap.Int64("amount", params.Amount),
		zap.Int("rounds", params.Rounds),
		zap.String("delta", params.Delta.String()),
		zap.Int32("precision", precision),
	)
	baseline, err := t.captureBaseline(ctx, s)
	if err != nil {
		s.sm.Apply(EventAbort)
		t.persist(ctx, s, &report)
		report.Err = err
		return report, err
	}
	s.baseline = baseline
	report.Baseline = baseline
	s.sm.Apply(EventStart)
	t.persist(ctx, s, &report)

	if err := t.loop(ctx, s, &report); err != nil {
		s.sm.Apply(EventAbort)
		t.persist(ctx, s, &report)
		report.Outcome = OutcomeAborted
		report.Err = err
		s.log.Error("trading session aborted", zap.Int("rounds_completed", report.RoundsCompleted), zap.Error(err))
		return report, nil
	}
	report.Outcome = OutcomeCompleted
	t.persist(ctx, s, &report)
	s.log.Info("trading session completed",
		zap.Int("rounds_completed", report.RoundsCompleted),
		zap.Int("partial_failures", report.PartialFailures),
		zap.Int("spread_collapses", report.SpreadCollapses),
	)
	t.notify(ctx, s, fmt.Sprintf("%s session %s completed: %d rounds, %d partial failures",
		params.Pair, s.id, report.RoundsCompleted, report.PartialFailures))
	return report, nil
}

func (t *Trader) loop(ctx context.Context, s *session, report *Report) error {
	p := s.params
	for s.index < p.Rounds {
		if err := ctx.Err(); err != nil {
			return t.interrupted(ctx, s, err)
		}
		s.log.Info("round started", zap.Int("round", s.index+1), zap.Int("rounds", p.Rounds))

		book, err := t.gw.OrderBook(ctx, p.Pair)
		if err != nil {
			return fmt.Errorf("fetch order book: %w", err)
		}
		ask, bid, quote, ok := s.price(book)
		if !ok {
			report.SpreadCollapses++
			t.metrics.SpreadCollapses.Inc()
			s.sm.Apply(EventSpreadCollapse)
			s.log.Warn("spread too narrow, skipping submission",
				zap.Int("round", s.index+1),
				zap.String("best_ask", ask.String()),
				zap.String("best_bid", bid.String()),
				zap.String("delta", p.Delta.String()),
			)
			t.record(s, RoundReport{BestAsk: ask, BestBid: bid, Outcome: RoundAbortedLowSpread})
			if !sleep(ctx, t.settings.CollapsePause) {
				return t.interrupted(ctx, s, ctx.Err())
			}
			continue
		}

		s.sm.Apply(EventQuote)
		s.lastQuote = quote
		notional := quote.Mul(decimal.NewFromInt(p.Amount)).Round(comparePrecision)
		s.log.Info("round quote",
			zap.Int("round", s.index+1),
			zap.String("quote", quote.String()),
			zap.String("notional", notional.String()),
		)
		t.persist(ctx, s, report)

		outcome := t.submit(ctx, s)
		if outcome == RoundPartialFailure {
			report.PartialFailures++
		}
		s.sm.Apply(EventSubmitted)
		t.persist(ctx, s, report)

		if !sleep(ctx, t.settings.SettlePause) {
			return t.interrupted(ctx, s, ctx.Err())
		}
		if err := t.reconcile(ctx, s); err != nil {
			return err
		}
		report.RoundsCompleted++
		t.metrics.RoundsCompleted.Inc()
		t.record(s, RoundReport{
			BestAsk:   ask,
			BestBid:   bid,
			Quote:     quote,
			Notional:  notional,
			Outcome:   outcome,
			SellOrder: s.placed.Sell.OrderNumber(),
			BuyOrder:  s.placed.Buy.OrderNumber(),
		})
		s.live = nil
		s.index++
		if s.index == p.Rounds {
			s.sm.Apply(EventFinished)
		} else {
			s.sm.Apply(EventBalanced)
		}
	}
	return nil
}

// price reads the best levels from book and derives the round quote. An empty
// side counts as a collapsed spread.
func (s *session) price(book exchange.OrderBook) (ask, bid, quote decimal.Decimal, ok bool) {
	bestAsk, askOK := book.BestAsk()
	bestBid, bidOK := book.BestBid()
	if !askOK || !bidOK {
		return bestAsk.Price, bestBid.Price, decimal.Decimal{}, false
	}
	quote, ok = Quote(bestAsk.Price, bestBid.Price, s.params.Delta, s.precision)
	return bestAsk.Price, bestBid.Price, quote, ok
}

func (t *Trader) submit(ctx context.Context, s *session) RoundOutcome {
	result := t.exec.PlacePair(ctx, s.params.Pair, s.lastQuote, s.params.Amount)
	s.placed = result
	if !result.Failed() {
		s.live = result.OrderNumbers()
		for _, leg := range []exec.Leg{result.Sell, result.Buy} {
			s.log.Info("order working",
				zap.String("side", string(leg.Side)),
				zap.String("order_number", leg.OrderNumber()),
				zap.Time("ctime", t.placedAt(leg.Placement)),
			)
		}
		return RoundSuccess
	}
	t.metrics.RoundsPartialFailure.Inc()
	s.log.Warn("paired submission failed, cancelling placed legs",
		zap.Int("round", s.index+1),
		zap.Strings("order_numbers", result.OrderNumbers()),
		zap.Error(result.Err()),
	)
	t.exec.CancelBestEffort(ctx, s.params.Pair, result.OrderNumbers()...)
	s.live = nil
	return RoundPartialFailure
}

func (t *Trader) placedAt(p exchange.OrderPlacement) time.Time {
	if p.CTime > 0 {
		return time.Unix(int64(p.CTime), 0)
	}
	return t.now()
}

func (t *Trader) reconcile(ctx context.Context, s *session) error {
	sheet, err := t.gw.Balances(ctx)
	if err != nil {
		t.exec.CancelBestEffort(ctx, s.params.Pair, s.live...)
		return fmt.Errorf("fetch balances: %w", err)
	}
	current := s.pairBalances(sheet.Available)
	if current.Get(s.base).Equal(s.baseline.Get(s.base)) && current.Get(s.quote).Equal(s.baseline.Get(s.quote)) {
		s.log.Info("balances reconciled", t.balanceFields(s, current, sheet.Available)...)
		return nil
	}
	return t.handleDrift(ctx, s, current, sheet.Available)
}

func (t *Trader) handleDrift(ctx context.Context, s *session, current, available exchange.Balances) error {
	t.metrics.BalanceDrift.Inc()
	s.log.Error("balance drift detected",
		zap.String("asset_a", s.base),
		zap.String("baseline_a", s.baseline.Get(s.base).String()),
		zap.String("current_a", current.Get(s.base).String()),
		zap.String("asset_b", s.quote),
		zap.String("baseline_b", s.baseline.Get(s.quote).String()),
		zap.String("current_b", current.Get(s.quote).String()),
	)
	t.exec.CancelBestEffort(ctx, s.params.Pair, s.live...)
	s.live = nil
	s.log.Info("final balances", t.balanceFields(s, current, available)...)
	sellNumber, buyNumber := s.placed.Sell.OrderNumber(), s.placed.Buy.OrderNumber()
	s.log.Info("round orders", zap.String("sell_order", sellNumber), zap.String("buy_order", buyNumber))
	for _, number := range []string{sellNumber, buyNumber} {
		if number == "" {
			continue
		}
		order, err := t.gw.GetOrder(ctx, number, s.params.Pair)
		if err != nil {
			s.log.Error("order lookup failed", zap.String("order_number", number), zap.Error(err))
			continue
		}
		s.log.Info("order details",
			zap.String("order_number", order.Number()),
			zap.String("status", string(order.Status)),
			zap.String("type", string(order.Type)),
			zap.String("rate", order.Rate.String()),
			zap.String("amount", order.Amount.String()),
			zap.String("initial_rate", order.InitialRate.String()),
			zap.String("initial_amount", order.InitialAmount.String()),
		)
	}
	err := fmt.Errorf("%w: %s %s -> %s, %s %s -> %s", ErrBalanceDrift,
		s.base, s.baseline.Get(s.base), current.Get(s.base),
		s.quote, s.baseline.Get(s.quote), current.Get(s.quote))
	t.notify(ctx, s, fmt.Sprintf("%s session %s aborted: %v", s.params.Pair, s.id, err))
	return err
}

// interrupted cancels the live orders of the current round with a context
// that survives the cancellation of ctx.
func (t *Trader) interrupted(ctx context.Context, s *session, cause error) error {
	if len(s.live) > 0 {
		cleanupCtx, cancel := t.cleanupContext(ctx)
		t.exec.CancelBestEffort(cleanupCtx, s.params.Pair, s.live...)
		cancel()
		s.live = nil
	}
	return fmt.Errorf("session interrupted: %w", cause)
}

func (t *Trader) captureBaseline(ctx context.Context, s *session) (exchange.Balances, error) {
	r := retrier.New(
		retrier.WithAttempts(t.settings.BaselineAttempts),
		retrier.WithInitialInterval(t.settings.RetryInterval),
		retrier.WithOnRetry(func(attempt int, err error) {
			s.log.Warn("baseline balance fetch failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		}),
	)
	sheet, err := retrier.DoWithData(r, ctx, t.gw.Balances)
	if err != nil {
		return nil, fmt.Errorf("capture baseline: %w", err)
	}
	baseline := s.pairBalances(sheet.Available)
	s.log.Info("baseline captured", t.balanceFields(s, baseline, sheet.Available)...)
	return baseline, nil
}

// pairBalances keeps the two pair assets rounded for comparison. A missing
// asset reads as zero.
func (s *session) pairBalances(available exchange.Balances) exchange.Balances {
	return exchange.Balances{
		s.base:  available.Get(s.base).Round(comparePrecision),
		s.quote: available.Get(s.quote).Round(comparePrecision),
	}
}

func (t *Trader) balanceFields(s *session, pair, available exchange.Balances) []zap.Field {
	fields := []zap.Field{
		zap.String(s.base, pair.Get(s.base).String()),
		zap.String(s.quote, pair.Get(s.quote).String()),
	}
	if reward := t.settings.RewardAsset; reward != "" && reward != s.base && reward != s.quote {
		fields = append(fields, zap.String(reward, available.Get(reward).String()))
	}
	return fields
}

// teardown cancels every open order of the pair and logs the closing
// balances. It runs once per session, after the session context may already
// be done.
func (t *Trader) teardown(ctx context.Context, s *session) exchange.Balances {
	ctx, cancel := t.cleanupContext(ctx)
	defer cancel()
	s.log.Info("cancelling all open orders", zap.String("state", string(s.sm.Current())))
	if err := t.gw.CancelAllOrders(ctx, exchange.SideFilterAny, s.params.Pair); err != nil {
		t.metrics.CancelFailures.Inc()
		s.log.Error("cancel all orders failed", zap.Error(err))
	}
	sheet, err := t.gw.Balances(ctx)
	if err != nil {
		s.log.Error("closing balance fetch failed", zap.Error(err))
		return nil
	}
	s.log.Info("closing balances",
		zap.Any("available", balanceStrings(sheet.Available)),
		zap.Any("locked", balanceStrings(sheet.Locked)),
	)
	return sheet.Available
}

func (t *Trader) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), t.settings.TeardownTimeout)
}

func (t *Trader) checkPreviousSession(ctx context.Context, s *session) {
	prev, ok, err := state.LoadSessionSnapshot(ctx, t.store, s.params.Pair.String())
	if err != nil {
		s.log.Warn("previous session snapshot unreadable", zap.Error(err))
		return
	}
	if ok && !State(prev.State).Terminal() {
		s.log.Warn("previous session did not finish",
			zap.String("previous_session_id", prev.SessionID),
			zap.String("previous_state", prev.State),
			zap.Int("previous_round", prev.Round),
			zap.Strings("previous_live_orders", prev.LiveOrders),
		)
	}
}

func (t *Trader) persist(ctx context.Context, s *session, report *Report) {
	if t.store == nil {
		return
	}
	snapshot := state.SessionSnapshot{
		SessionID:       s.id,
		Pair:            s.params.Pair.String(),
		State:           string(s.sm.Current()),
		Round:           s.index,
		Rounds:          s.params.Rounds,
		LiveOrders:      append([]string(nil), s.live...),
		Baseline:        balanceStrings(s.baseline),
		PartialFailures: report.PartialFailures,
		SpreadCollapses: report.SpreadCollapses,
		UpdatedAtMS:     t.now().UnixMilli(),
	}
	if !s.lastQuote.IsZero() {
		snapshot.Quote = s.lastQuote.String()
	}
	if err := state.SaveSessionSnapshot(context.WithoutCancel(ctx), t.store, snapshot); err != nil {
		s.log.Warn("failed to persist session snapshot", zap.Error(err))
	}
}

func (t *Trader) record(s *session, r RoundReport) {
	if t.sink == nil {
		return
	}
	r.SessionID = s.id
	r.Pair = s.params.Pair
	r.Index = s.index + 1
	r.At = t.now()
	t.sink.RecordRound(r)
}

func (t *Trader) notify(ctx context.Context, s *session, text string) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Send(context.WithoutCancel(ctx), text); err != nil {
		s.log.Warn("alert delivery failed", zap.Error(err))
	}
}

func balanceStrings(b exchange.Balances) map[string]string {
	if len(b) == 0 {
		return nil
	}
	out := make(map[string]string, len(b))
	for asset, amount := range b {
		out[asset] = amount.String()
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// IsDrift reports whether a session aborted on a balance mismatch.
func IsDrift(err error) bool {
	return errors.Is(err, ErrBalanceDrift)
}

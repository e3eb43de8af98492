package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pairquote-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	writeTimeout     = 3 * time.Second
	defaultQueueSize = 256

	roundsTable   = "quote_rounds"
	sessionsTable = "trading_sessions"
)

// QuoteRound is one journal row per quote round, including skipped rounds.
type QuoteRound struct {
	Time      time.Time
	SessionID string
	Pair      string
	Round     int
	Outcome   string
	BestAsk   decimal.Decimal
	BestBid   decimal.Decimal
	Quote     decimal.Decimal
	Notional  decimal.Decimal
	SellOrder string
	BuyOrder  string
}

type SessionSummary struct {
	Time            time.Time
	SessionID       string
	Pair            string
	Outcome         string
	RoundsCompleted int
	PartialFailures int
	SpreadCollapses int
	Error           string
}

// Writer journals rounds and sessions asynchronously. Enqueue never blocks;
// rows are dropped when the queue is full.
type Writer struct {
	db       *sql.DB
	log      *zap.Logger
	schema   string
	rounds   chan QuoteRound
	sessions chan SessionSummary

	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// New returns nil when the journal is disabled.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg.Schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:       db,
		log:      log,
		schema:   schema,
		rounds:   make(chan QuoteRound, queueSize),
		sessions: make(chan SessionSummary, queueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

// Close flushes queued rows and closes the database.
func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	var err error
	w.closeOnce.Do(func() {
		if w.started.Load() {
			close(w.stop)
			<-w.done
			// Rows enqueued after ctx ended are still waiting.
			w.drain(context.Background())
		}
		if n := w.dropped.Load(); n > 0 {
			w.log.Warn("timescale rows dropped", zap.Uint64("count", n))
		}
		err = w.db.Close()
	})
	return err
}

func (w *Writer) EnqueueRound(round QuoteRound) {
	if w == nil {
		return
	}
	select {
	case w.rounds <- round:
	default:
		if w.dropped.Add(1) == 1 {
			w.log.Warn("timescale round queue full")
		}
	}
}

func (w *Writer) EnqueueSession(summary SessionSummary) {
	if w == nil {
		return
	}
	select {
	case w.sessions <- summary:
	default:
		if w.dropped.Add(1) == 1 {
			w.log.Warn("timescale session queue full")
		}
	}
}

func (w *Writer) Dropped() uint64 {
	if w == nil {
		return 0
	}
	return w.dropped.Load()
}

// run writes queued rows until Close or ctx is done, then flushes what is
// left. Each write is bounded by writeTimeout, not by ctx.
func (w *Writer) run(ctx context.Context) {
	defer close(w.done)
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			w.drain(writeCtx)
			return
		case <-w.stop:
			w.drain(writeCtx)
			return
		case round := <-w.rounds:
			w.writeRound(writeCtx, round)
		case summary := <-w.sessions:
			w.writeSession(writeCtx, summary)
		}
	}
}

func (w *Writer) drain(ctx context.Context) {
	for {
		select {
		case round := <-w.rounds:
			w.writeRound(ctx, round)
		case summary := <-w.sessions:
			w.writeSession(ctx, summary)
		default:
			return
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		session_id TEXT NOT NULL,
		pair TEXT NOT NULL,
		round INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		best_ask NUMERIC NOT NULL,
		best_bid NUMERIC NOT NULL,
		quote NUMERIC NOT NULL,
		notional NUMERIC NOT NULL,
		sell_order TEXT NOT NULL DEFAULT '',
		buy_order TEXT NOT NULL DEFAULT ''
	)`, w.table(roundsTable))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		session_id TEXT NOT NULL,
		pair TEXT NOT NULL,
		outcome TEXT NOT NULL,
		rounds_completed INTEGER NOT NULL,
		partial_failures INTEGER NOT NULL,
		spread_collapses INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (ts, session_id)
	)`, w.table(sessionsTable))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(roundsTable))); err != nil {
		w.log.Warn("timescale quote_rounds hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeRound(ctx context.Context, r QuoteRound) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, session_id, pair, round, outcome, best_ask, best_bid, quote, notional, sell_order, buy_order
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
	)`, w.table(roundsTable))
	if _, err := w.db.ExecContext(ctx, query,
		r.Time.UTC(),
		r.SessionID,
		r.Pair,
		r.Round,
		r.Outcome,
		r.BestAsk,
		r.BestBid,
		r.Quote,
		r.Notional,
		r.SellOrder,
		r.BuyOrder,
	); err != nil {
		w.log.Warn("timescale round insert failed", zap.String("session_id", r.SessionID), zap.Int("round", r.Round), zap.Error(err))
	}
}

func (w *Writer) writeSession(ctx context.Context, s SessionSummary) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, session_id, pair, outcome, rounds_completed, partial_failures, spread_collapses, error
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8
	)
	ON CONFLICT (ts, session_id) DO NOTHING`, w.table(sessionsTable))
	if _, err := w.db.ExecContext(ctx, query,
		s.Time.UTC(),
		s.SessionID,
		s.Pair,
		s.Outcome,
		s.RoundsCompleted,
		s.PartialFailures,
		s.SpreadCollapses,
		s.Error,
	); err != nil {
		w.log.Warn("timescale session insert failed", zap.String("session_id", s.SessionID), zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}

package timescale

import (
	"context"
	"errors"
	"testing"
	"time"

	"pairquote-bot/internal/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	writer, err := New(config.TimescaleConfig{}, zap.NewNop())
	if err != nil || writer != nil {
		t.Fatalf("expected nil writer, got %v (err=%v)", writer, err)
	}
	// A nil writer is a valid no-op sink.
	writer.EnqueueRound(QuoteRound{})
	writer.Start(context.Background())
	if err := writer.Close(); err != nil {
		t.Fatalf("close nil writer: %v", err)
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(config.TimescaleConfig{Enabled: true}, zap.NewNop()); err == nil {
		t.Fatalf("expected error for missing dsn")
	}
}

func TestEnsureSchemaCustomSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()
	writer := newWriter(db, "bot", 4, zap.NewNop())

	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS bot`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS bot\.quote_rounds`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS bot\.trading_sessions`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS timescaledb`).WillReturnError(errors.New("permission denied"))

	if err := writer.ensureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCloseFlushesQueuedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	mock.MatchExpectationsInOrder(false)
	writer := newWriter(db, "", 4, zap.NewNop())
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO public\.quote_rounds`).
		WithArgs(ts, "s-1", "ltc_btc", 1, "success", "100", "90", "99", "990", "S1", "B1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO public\.trading_sessions`).
		WithArgs(ts, "s-1", "ltc_btc", "completed", 1, 0, 0, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	writer.EnqueueRound(QuoteRound{
		Time:      ts,
		SessionID: "s-1",
		Pair:      "ltc_btc",
		Round:     1,
		Outcome:   "success",
		BestAsk:   decimal.RequireFromString("100"),
		BestBid:   decimal.RequireFromString("90"),
		Quote:     decimal.RequireFromString("99"),
		Notional:  decimal.RequireFromString("990"),
		SellOrder: "S1",
		BuyOrder:  "B1",
	})
	writer.EnqueueSession(SessionSummary{Time: ts, SessionID: "s-1", Pair: "ltc_btc", Outcome: "completed", RoundsCompleted: 1})
	writer.Start(context.Background())
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCancelledContextStillFlushesRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	mock.MatchExpectationsInOrder(false)
	writer := newWriter(db, "", 4, zap.NewNop())
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO public\.quote_rounds`).
		WithArgs(ts, "s-2", "ltc_btc", 1, "success", "100", "90", "99", "99", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO public\.trading_sessions`).
		WithArgs(ts, "s-2", "ltc_btc", "aborted", 0, 0, 0, "session interrupted: context canceled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	ctx, cancel := context.WithCancel(context.Background())
	writer.EnqueueRound(QuoteRound{
		Time:      ts,
		SessionID: "s-2",
		Pair:      "ltc_btc",
		Round:     1,
		Outcome:   "success",
		BestAsk:   decimal.RequireFromString("100"),
		BestBid:   decimal.RequireFromString("90"),
		Quote:     decimal.RequireFromString("99"),
		Notional:  decimal.RequireFromString("99"),
	})
	writer.Start(ctx)
	cancel()
	select {
	case <-writer.done:
	case <-time.After(time.Second):
		t.Fatalf("writer did not stop after cancellation")
	}

	// The session summary arrives after the session context is gone.
	writer.EnqueueSession(SessionSummary{
		Time:      ts,
		SessionID: "s-2",
		Pair:      "ltc_btc",
		Outcome:   "aborted",
		Error:     "session interrupted: context canceled",
	})
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	if got := writer.Dropped(); got != 0 {
		t.Fatalf("expected no dropped rows, got %d", got)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()
	writer := newWriter(db, "", 1, zap.NewNop())

	writer.EnqueueRound(QuoteRound{Round: 1})
	writer.EnqueueRound(QuoteRound{Round: 2})
	writer.EnqueueSession(SessionSummary{})
	writer.EnqueueSession(SessionSummary{})
	if got := writer.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped rows, got %d", got)
	}
}

package app

import (
	"time"

	"pairquote-bot/internal/timescale"
	"pairquote-bot/internal/trading"
)

// roundJournal adapts the timescale writer to the trading round sink.
type roundJournal struct {
	writer *timescale.Writer
}

func (j roundJournal) RecordRound(r trading.RoundReport) {
	j.writer.EnqueueRound(quoteRound(r))
}

func quoteRound(r trading.RoundReport) timescale.QuoteRound {
	return timescale.QuoteRound{
		Time:      r.At.UTC(),
		SessionID: r.SessionID,
		Pair:      r.Pair.String(),
		Round:     r.Index,
		Outcome:   string(r.Outcome),
		BestAsk:   r.BestAsk,
		BestBid:   r.BestBid,
		Quote:     r.Quote,
		Notional:  r.Notional,
		SellOrder: r.SellOrder,
		BuyOrder:  r.BuyOrder,
	}
}

func sessionSummary(report trading.Report, at time.Time) timescale.SessionSummary {
	summary := timescale.SessionSummary{
		Time:            at.UTC(),
		SessionID:       report.SessionID,
		Pair:            report.Pair.String(),
		Outcome:         string(report.Outcome),
		RoundsCompleted: report.RoundsCompleted,
		PartialFailures: report.PartialFailures,
		SpreadCollapses: report.SpreadCollapses,
	}
	if report.Err != nil {
		summary.Error = report.Err.Error()
	}
	return summary
}

package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pairquote-bot/internal/alerts"
	"pairquote-bot/internal/config"
	"pairquote-bot/internal/exchange"
	"pairquote-bot/internal/exchange/rest"
	"pairquote-bot/internal/metrics"
	"pairquote-bot/internal/state/sqlite"
	"pairquote-bot/internal/timescale"
	"pairquote-bot/internal/trading"

	"go.uber.org/zap"
)

const metricsShutdownTimeout = 2 * time.Second

// App wires the exchange gateway and the optional session sinks together.
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	gateway *exchange.Gateway
}

func New(cfg *config.Config, creds config.Credentials, log *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	client := rest.New(cfg.Exchange, creds, log)
	gateway := exchange.NewGateway(client, cfg.Exchange.Real, log)
	if !cfg.Exchange.Real {
		log.Info("dry-run mode: orders are logged, not sent")
	}
	return &App{cfg: cfg, log: log, gateway: gateway}, nil
}

func (a *App) Gateway() *exchange.Gateway {
	return a.gateway
}

// Trade runs one trading session with the configured store, metrics, journal
// and alerts. Sinks that fail to start are logged and skipped, except the
// session store.
func (a *App) Trade(ctx context.Context, params trading.Params) (trading.Report, error) {
	store, err := sqlite.New(a.cfg.State.SQLitePath)
	if err != nil {
		return trading.Report{}, err
	}
	defer store.Close()

	m := metrics.NewNoop()
	if a.cfg.Metrics.EnabledValue() {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		stop := a.serveMetrics(prom.Handler())
		defer stop()
	}

	writer, err := timescale.New(a.cfg.Timescale, a.log)
	if err != nil {
		a.log.Warn("timescale journal disabled", zap.Error(err))
		writer = nil
	}
	writer.Start(ctx)
	defer writer.Close()

	trader := trading.New(a.gateway, store, m, trading.SettingsFromConfig(a.cfg.Trading), a.log)
	if telegram := alerts.NewTelegram(a.cfg.Telegram, a.log); telegram.Enabled() {
		trader.SetNotifier(telegram)
	}
	if writer != nil {
		trader.SetRoundSink(roundJournal{writer: writer})
	}

	report, err := trader.Run(ctx, params)
	if report.SessionID != "" {
		writer.EnqueueSession(sessionSummary(report, time.Now()))
	}
	return report, err
}

func (a *App) serveMetrics(handler http.Handler) func() {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, handler)
	srv := &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.log.Info("metrics server listening", zap.String("address", a.cfg.Metrics.Address), zap.String("path", a.cfg.Metrics.Path))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

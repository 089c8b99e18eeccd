package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"account-mirror/internal/account"
	"account-mirror/internal/alerts"
	"account-mirror/internal/config"
	"account-mirror/internal/health"
	"account-mirror/internal/metrics"
	"account-mirror/internal/questdb"
	"account-mirror/internal/rest"
	"account-mirror/internal/state/sqlite"
	"account-mirror/internal/ws"

	"go.uber.org/zap"
)

type App struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *sqlite.Store
	rest    *rest.Client
	ws      *ws.Client
	mirror  *account.Mirror
	metrics *metrics.Metrics
	prom    *metrics.Prometheus
	alerts  *alerts.Telegram
	questdb *questdb.Writer
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if dir := filepath.Dir(cfg.State.SQLitePath); dir != "." && cfg.State.SQLitePath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	wsURL, err := ws.URLFromOrigin(cfg.Backend.Origin, cfg.WS.Path)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}
	recorder, err := questdb.New(cfg.QuestDB, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		rest:    rest.New(cfg.Backend.Origin, cfg.Backend.RESTTimeout, log),
		ws:      ws.New(wsURL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log),
		mirror:  account.New(store, log, m),
		metrics: m,
		prom:    prom,
		alerts:  alerts.NewTelegram(cfg.Telegram, log),
		questdb: recorder,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.questdb.Close()

	a.mirror.WarmLoad(ctx)
	a.mirror.SetSender(a.ws)
	a.mirror.OnOrderFinal(func(order account.OrderEntry) {
		a.alerts.NotifyOrderFinal(ctx, order)
	})
	a.ws.OnReconnect(a.metrics.Reconnects.Inc)
	a.ws.Subscribe(a.subscription())
	a.questdb.Start(ctx)

	if a.prom != nil {
		go a.serveMetrics(ctx)
	}
	if !a.cfg.History.Disabled {
		go func() {
			if err := a.mirror.LoadHistory(ctx, a.rest, a.cfg.History.Path); err != nil {
				a.log.Warn("order history load failed", zap.Error(err))
			}
		}()
	}

	wsDone := make(chan error, 1)
	go func() {
		wsDone <- a.ws.Run(ctx, func(raw json.RawMessage) {
			a.mirror.HandleMessage(ctx, raw)
		})
	}()

	ticker := time.NewTicker(a.cfg.Health.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-wsDone
			a.saveHealthSnapshot(context.Background())
			return ctx.Err()
		case err := <-wsDone:
			return err
		case <-ticker.C:
			a.saveHealthSnapshot(ctx)
			a.recordSnapshots()
		}
	}
}

func (a *App) subscription() account.SubscribeMessage {
	topics := a.cfg.WS.Topics
	if len(topics) == 0 {
		topics = []string{account.TopicSnapshot, account.TopicBalance, account.TopicPosition, account.TopicOrder}
	}
	msg := account.SubscribeMessage{Type: "subscribe", Topics: topics}
	if len(a.cfg.WS.Symbols) > 0 {
		msg.Filters = &account.SubscribeFilters{Symbols: a.cfg.WS.Symbols}
	}
	return msg
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	a.log.Info("metrics listening", zap.String("addr", a.cfg.Metrics.ListenAddr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.log.Warn("metrics server stopped", zap.Error(err))
	}
}

func (a *App) saveHealthSnapshot(ctx context.Context) {
	lastErr := a.ws.LastError()
	if lastErr == "" {
		lastErr = a.mirror.LastError()
	}
	snap := health.Snapshot{
		Connected:       a.ws.Connected(),
		LastError:       lastErr,
		Balances:        len(a.mirror.Balances()),
		Positions:       len(a.mirror.Positions()),
		ActiveOrders:    len(a.mirror.Orders()),
		CompletedOrders: len(a.mirror.RecentFinalOrders()),
		LoadingHistory:  a.mirror.LoadingHistory(),
		UpdatedAtMS:     time.Now().UnixMilli(),
	}
	if err := health.Save(ctx, a.store, snap); err != nil {
		a.log.Warn("health snapshot save failed", zap.Error(err))
	}
}

// recordSnapshots samples the mirrored balances and positions into QuestDB.
// No-op when the recorder is disabled.
func (a *App) recordSnapshots() {
	if a.questdb == nil {
		return
	}
	now := time.Now().UTC()
	for _, b := range a.mirror.Balances() {
		a.questdb.EnqueueBalance(questdb.BalanceRow{
			Time:      now,
			Asset:     b.Asset,
			Source:    b.Source,
			Total:     parseFloat(b.Total),
			Available: parseFloat(b.Available),
			Hold:      parseFloat(b.Hold),
		})
	}
	for _, p := range a.mirror.Positions() {
		a.questdb.EnqueuePosition(questdb.PositionRow{
			Time:       now,
			PositionID: p.ID,
			Symbol:     p.Symbol,
			Side:       p.Side,
			Size:       parseFloat(p.Size),
			EntryPrice: parseFloat(p.EntryPrice),
			MarkPrice:  parseFloat(p.MarkPrice),
			PnL:        parseFloat(p.PnL),
		})
	}
}

// Quantities travel as decimal strings end to end; float conversion happens
// only at the analytics edge, where an unparsable value degrades to zero.
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

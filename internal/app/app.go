package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"funding-bot/internal/account"
	"funding-bot/internal/alerting"
	"funding-bot/internal/config"
	"funding-bot/internal/exchange"
	"funding-bot/internal/metrics"
	"funding-bot/internal/scheduler"
	"funding-bot/internal/session"
	"funding-bot/internal/storage"
	"funding-bot/internal/tracker"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClient() exchange.Client {
	return exchange.NewRESTClient(exchange.Options{
		APIKey:        a.Config.Exchange.APIKey,
		APISecret:     a.Config.Exchange.APISecret,
		BaseURL:       a.Config.Exchange.BaseURL,
		PublicBaseURL: a.Config.Exchange.PublicBaseURL,
		Timeout:       a.Config.Exchange.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Telegram.Enabled {
		cfg := a.Config.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.QueueLimit, 10*time.Second, a.Logger)
	}
	return alerting.Nop{}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// resolveBaseline prefers the persisted baseline and falls back to the
// configured start date (or "now") and default balance. A confirmed miss
// seeds the store with the fallback so later runs and the report command
// compute ROI against the same anchor.
func (a *App) resolveBaseline(ctx context.Context, store storage.BaselineStore, symbol string, cc config.CurrencyConfig) account.Baseline {
	seed := false
	if store != nil {
		persisted, err := store.InitialBalance(ctx, symbol)
		switch {
		case err == nil:
			return account.Baseline{Date: persisted.StartDate, Amount: persisted.Amount}
		case errors.Is(err, storage.ErrNoBaseline):
			seed = true
		default:
			// Transient lookup failure: do not seed, the row may exist.
			a.Logger.Debug().Err(err).Str("symbol", symbol).Msg("baseline lookup failed; using configured fallback")
		}
	}

	date, ok := cc.Start()
	if !ok {
		date = time.Now()
	}
	baseline := account.Baseline{Date: date, Amount: decimal.NewFromFloat(cc.InitialBalance)}

	if seed {
		err := store.UpsertInitialBalance(ctx, storage.InitialBalance{
			Currency:  symbol,
			StartDate: baseline.Date,
			Amount:    baseline.Amount,
		})
		if err != nil {
			a.Logger.Warn().Err(err).Str("symbol", symbol).Msg("baseline seeding failed")
		}
	}
	return baseline
}

func (a *App) buildSessions(ctx context.Context, client exchange.Client, notifier alerting.Notifier, store *storage.Store) map[string]*session.Session {
	var events storage.OfferEventStore
	var baselines storage.BaselineStore
	if store != nil {
		events = store
		baselines = store
	}

	sessions := make(map[string]*session.Session, len(a.Config.Currencies))
	for symbol, cc := range a.Config.Currencies {
		settings := account.Settings{
			MinOrderAmount:   decimal.NewFromFloat(cc.MinOrderAmount),
			MinAnnualRate:    cc.MinAnnualRate,
			MaxLendingAmount: decimal.NewFromFloat(cc.MaxLendingAmount),
		}
		sessions[symbol] = session.NewSession(session.Options{
			Symbol:       symbol,
			Settings:     settings,
			Baseline:     a.resolveBaseline(ctx, baselines, symbol, cc),
			Tracker:      trackerOptions(a.Config.Tracker),
			OfferTimeout: a.Config.Lifecycle.OfferTimeout,
		}, client, notifier, events, a.Logger)
	}
	return sessions
}

func trackerOptions(cfg config.TrackerConfig) tracker.Options {
	return tracker.Options{
		WindowSize:     cfg.WindowSize,
		ShortTimeframe: cfg.ShortTimeframe,
		LongTimeframe:  cfg.LongTimeframe,
		DiscountFactor: cfg.DiscountFactor,
	}
}

// Run executes the long-running lending loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; baseline store disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if store != nil {
		a.pruneEvents(ctx, store)
	}

	if a.Config.Metrics.Enabled {
		go metrics.Serve(ctx, a.Config.Metrics.ListenAddr, a.Logger)
	}

	client := a.newClient()
	notifier := a.newNotifier()
	sessions := a.buildSessions(ctx, client, notifier, store)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.CycleInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	manager := session.NewManager(sessions, sched, client, notifier, a.Config.Scheduler.WarmupSamples, a.Logger)

	a.Logger.Info().Msg("starting funding bot")
	err = manager.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("lending loop terminated with error")
		return err
	}

	a.Logger.Info().Msg("funding bot stopped")
	return nil
}

// Report prints a one-shot summary to stdout and the notifier.
func (a *App) Report(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	client := a.newClient()
	notifier := a.newNotifier()
	sessions := a.buildSessions(ctx, client, notifier, store)
	manager := session.NewManager(sessions, nil, client, notifier, 0, a.Logger)

	summary := manager.BuildSummary(ctx)
	if store != nil {
		events, err := store.ListRecentOfferEvents(ctx, recentEventLimit)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("offer event listing failed")
		} else if len(events) > 0 {
			summary += "\n\n" + formatOfferEvents(events)
		}
	}

	fmt.Println(summary)
	return notifier.Send(ctx, summary)
}

// recentEventLimit caps the audit rows appended to the report output.
const recentEventLimit = 20

// pruneEvents drops audit rows past the configured retention.
func (a *App) pruneEvents(ctx context.Context, events storage.OfferEventStore) {
	retention := a.Config.Database.EventRetention
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)
	if err := events.DeleteOfferEventsBefore(ctx, cutoff); err != nil {
		a.Logger.Warn().Err(err).Msg("offer event pruning failed")
	}
}

func formatOfferEvents(events []storage.OfferEvent) string {
	var b strings.Builder
	b.WriteString("Recent Offer Events:\n")
	for _, ev := range events {
		fmt.Fprintf(&b, "%s %s offer %d %s: amount %s rate %s period %dd\n",
			ev.CreatedAt.Format("2006-01-02 15:04"), ev.Currency, ev.OrderID, ev.Kind,
			ev.Amount.String(), strconv.FormatFloat(ev.Rate, 'f', -1, 64), ev.Period)
	}
	return strings.TrimRight(b.String(), "\n")
}

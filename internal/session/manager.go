package session

import (
	"context"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"funding-bot/internal/alerting"
	"funding-bot/internal/exchange"
	"funding-bot/internal/scheduler"
)

// Manager drives all lending sessions: one control loop cycling through the
// configured currencies sequentially, plus hourly side jobs for the summary
// report and the notifier retry queue.
type Manager struct {
	logger   zerolog.Logger
	client   exchange.Client
	notifier alerting.Notifier
	sched    *scheduler.Scheduler

	sessions map[string]*Session
	order    []string

	warmupSamples int
	startTime     time.Time
	now           func() time.Time
}

// NewManager wires sessions to the scheduler. Currencies are cycled in
// sorted order so behavior is stable across runs.
func NewManager(sessions map[string]*Session, sched *scheduler.Scheduler, client exchange.Client, notifier alerting.Notifier, warmupSamples int, logger zerolog.Logger) *Manager {
	order := make([]string, 0, len(sessions))
	for symbol := range sessions {
		order = append(order, symbol)
	}
	sort.Strings(order)

	return &Manager{
		logger:        logger.With().Str("component", "manager").Logger(),
		client:        client,
		notifier:      notifier,
		sched:         sched,
		sessions:      sessions,
		order:         order,
		warmupSamples: warmupSamples,
		startTime:     time.Now(),
		now:           time.Now,
	}
}

// Run blocks until ctx is cancelled. The trackers are primed first so the
// first real cycle already has an aggregated snapshot to price against.
func (m *Manager) Run(ctx context.Context) error {
	m.startTime = m.now()
	m.warmup(ctx)

	jobs := cron.New()
	if _, err := jobs.AddFunc("0 * * * *", func() {
		m.emitHourlyReport(ctx)
		if m.notifier != nil {
			m.notifier.ResendFailed(ctx)
		}
	}); err != nil {
		return err
	}
	jobs.Start()
	defer jobs.Stop()

	m.logger.Info().Strs("currencies", m.order).Msg("control loop started")
	return m.sched.Run(ctx, m.Cycle)
}

// Cycle runs one pass over every currency. Always returns nil: per-currency
// failures are absorbed inside the sessions.
func (m *Manager) Cycle(ctx context.Context) error {
	for _, symbol := range m.order {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.sessions[symbol].Cycle(ctx)
	}
	return nil
}

// warmup pre-fills each tracker so the rate window can aggregate before the
// first offer decision.
func (m *Manager) warmup(ctx context.Context) {
	for i := 0; i < m.warmupSamples; i++ {
		if ctx.Err() != nil {
			return
		}
		for _, symbol := range m.order {
			m.sessions[symbol].Tracker().Update(ctx)
		}
	}
}

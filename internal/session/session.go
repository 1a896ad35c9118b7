// Package session owns the per-currency control loop: pull a fresh rate
// snapshot, refresh balances, size and submit offers, detect executions,
// and cancel-and-resubmit offers that sat on the book too long.
package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"funding-bot/internal/account"
	"funding-bot/internal/alerting"
	"funding-bot/internal/exchange"
	"funding-bot/internal/metrics"
	"funding-bot/internal/storage"
	"funding-bot/internal/tracker"
)

// longHorizonPeriod is the period whose timeframe prices brand-new offers.
const longHorizonPeriod = 30

// SubmittedOrder tracks one offer from submission until execution or a
// completed cancel-then-resubmit sequence.
type SubmittedOrder struct {
	ID          int64
	Symbol      string
	SubmittedAt time.Time
	Amount      string
	Rate        float64
	Period      int
}

// Options parameterise one lending session.
type Options struct {
	Symbol       string
	Settings     account.Settings
	Baseline     account.Baseline
	Tracker      tracker.Options
	OfferTimeout time.Duration
}

// Session is the per-currency unit of ownership: its tracker, account state,
// and submitted-order map are touched by no other goroutine.
type Session struct {
	symbol   string
	opts     Options
	logger   zerolog.Logger
	client   exchange.Client
	notifier alerting.Notifier
	events   storage.OfferEventStore

	tracker *tracker.Tracker
	account *account.State
	orders  map[int64]*SubmittedOrder

	lastAvailable decimal.Decimal
	now           func() time.Time
}

// NewSession constructs the session and its owned collaborators.
func NewSession(opts Options, client exchange.Client, notifier alerting.Notifier, events storage.OfferEventStore, logger zerolog.Logger) *Session {
	if opts.OfferTimeout <= 0 {
		opts.OfferTimeout = time.Hour
	}
	slog := logger.With().Str("component", "session").Str("symbol", opts.Symbol).Logger()

	return &Session{
		symbol:   opts.Symbol,
		opts:     opts,
		logger:   slog,
		client:   client,
		notifier: notifier,
		events:   events,
		tracker:  tracker.New(opts.Symbol, opts.Tracker, client, logger),
		account:  account.NewState(opts.Symbol, opts.Settings, opts.Baseline, logger),
		orders:   make(map[int64]*SubmittedOrder),
		now:      time.Now,
	}
}

// Tracker exposes the session's rate tracker for warmup.
func (s *Session) Tracker() *tracker.Tracker { return s.tracker }

// Account exposes the session's account state for reporting.
func (s *Session) Account() *account.State { return s.account }

// TrackedOrders reports how many submitted offers await resolution.
func (s *Session) TrackedOrders() int { return len(s.orders) }

// Cycle runs one pass of the control loop for this currency. Every network
// failure inside is absorbed: logged, counted, and left for the next cycle.
func (s *Session) Cycle(ctx context.Context) {
	s.tracker.Update(ctx)
	s.refreshBalances(ctx)
	s.submitNewOffer(ctx)
	s.detectExecutions(ctx)
	s.handleTimeouts(ctx)
}

// refreshBalances pulls available funding plus the active credit and pending
// offer lists, so exposure accounting is current before any sizing decision.
func (s *Session) refreshBalances(ctx context.Context) {
	available, err := s.client.AvailableFunding(ctx, s.symbol)
	if err != nil {
		s.logger.Warn().Err(err).Msg("available funding refresh failed; using cached value")
		metrics.CycleErrors.WithLabelValues(s.symbol, "balance").Inc()
	} else {
		s.account.SetAvailableFunding(available)
		af, _ := available.Float64()
		metrics.AvailableFunding.WithLabelValues(s.symbol).Set(af)

		if !available.Equal(s.lastAvailable) && available.GreaterThanOrEqual(s.opts.Settings.MinOrderAmount) {
			s.notify(ctx, fmt.Sprintf("%s available funding: %s", s.symbol, available.String()))
		}
		s.lastAvailable = available
	}

	credits, err := s.client.ActiveCredits(ctx, s.symbol)
	if err != nil {
		s.logger.Warn().Err(err).Msg("active credits refresh failed")
		metrics.CycleErrors.WithLabelValues(s.symbol, "credits").Inc()
	} else {
		s.account.SetActiveFunding(credits)
		lent, _ := s.account.LentAmount().Float64()
		metrics.LentAmount.WithLabelValues(s.symbol).Set(lent)
	}

	offers, err := s.client.ActiveOffers(ctx, s.symbol)
	if err != nil {
		s.logger.Warn().Err(err).Msg("active offers refresh failed")
		metrics.CycleErrors.WithLabelValues(s.symbol, "offers").Inc()
	} else {
		s.account.SetPendingOffers(offers)
	}
}

// submitNewOffer asks the engine for an offer at the long-horizon target
// rate and submits it when the rate clears the configured floor.
func (s *Session) submitNewOffer(ctx context.Context) {
	rate := s.tracker.OfferRate(longHorizonPeriod)
	offer := s.account.GenerateOffer(rate)
	if offer == nil {
		return
	}
	if rate < s.account.MinDailyRate() {
		s.logger.Debug().Float64("rate", rate).Float64("floor", s.account.MinDailyRate()).Msg("target rate below floor; offer withheld")
		return
	}
	s.submit(ctx, offer, false)
}

// submit places the offer and registers it for tracking. A failed submission
// is notified and dropped: nothing was reserved, so the next cycle simply
// tries again with fresh numbers.
func (s *Session) submit(ctx context.Context, offer *account.Offer, resubmission bool) {
	id, err := s.client.SubmitOffer(ctx, offer.Symbol, offer.Amount, formatRate(offer.Rate), offer.Period)
	if err != nil {
		s.logger.Error().Err(err).Str("amount", offer.Amount).Msg("offer submission failed")
		metrics.SubmitFailures.WithLabelValues(s.symbol).Inc()
		s.notify(ctx, fmt.Sprintf("%s offer submission failed: %v", s.symbol, err))
		return
	}

	s.orders[id] = &SubmittedOrder{
		ID:          id,
		Symbol:      offer.Symbol,
		SubmittedAt: s.now(),
		Amount:      offer.Amount,
		Rate:        offer.Rate,
		Period:      offer.Period,
	}

	reason := "new"
	kind := storage.EventSubmitted
	if resubmission {
		reason = "resubmit"
		kind = storage.EventResubmitted
	}
	metrics.OffersSubmitted.WithLabelValues(s.symbol, reason).Inc()
	s.recordEvent(ctx, id, kind, offer.Amount, offer.Rate, offer.Period)

	s.logger.Info().
		Int64("order_id", id).
		Str("amount", offer.Amount).
		Float64("rate", offer.Rate).
		Int("period", offer.Period).
		Bool("resubmission", resubmission).
		Msg("offer submitted")
	s.notify(ctx, fmt.Sprintf("%s offer %d submitted: amount %s rate %s period %dd",
		s.symbol, id, offer.Amount, formatRate(offer.Rate), offer.Period))
}

// detectExecutions removes tracked orders the exchange reports as closed.
// Runs before timeout handling so a just-executed offer is never cancelled.
func (s *Session) detectExecutions(ctx context.Context) {
	if len(s.orders) == 0 {
		return
	}

	history, err := s.client.OfferHistory(ctx, s.symbol)
	if err != nil {
		s.logger.Warn().Err(err).Msg("offer history fetch failed")
		metrics.CycleErrors.WithLabelValues(s.symbol, "history").Inc()
		return
	}

	for id, order := range s.orders {
		status, ok := history[id]
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(status, "EXECUTED"):
			delete(s.orders, id)
			metrics.OffersExecuted.WithLabelValues(s.symbol).Inc()
			s.recordEvent(ctx, id, storage.EventExecuted, order.Amount, order.Rate, order.Period)
			s.logger.Info().Int64("order_id", id).Str("status", status).Msg("offer executed")
			s.notify(ctx, fmt.Sprintf("%s offer %d executed: amount %s rate %s",
				s.symbol, id, order.Amount, formatRate(order.Rate)))
		case strings.HasPrefix(status, "CANCELED"):
			// Closed outside our own cancel path, e.g. by the operator.
			delete(s.orders, id)
			s.recordEvent(ctx, id, storage.EventCancelled, order.Amount, order.Rate, order.Period)
			s.logger.Info().Int64("order_id", id).Str("status", status).Msg("offer closed without execution")
			s.notify(ctx, fmt.Sprintf("%s offer %d cancelled externally: amount %s", s.symbol, id, order.Amount))
		}
	}
}

// handleTimeouts cancels orders older than the configured timeout and
// resubmits them at the short-horizon rate with their original size. Each
// order gets at most one cancel attempt per cycle.
func (s *Session) handleTimeouts(ctx context.Context) {
	for id, order := range s.orders {
		if s.now().Sub(order.SubmittedAt) < s.opts.OfferTimeout {
			continue
		}

		if err := s.client.CancelOffer(ctx, id); err != nil {
			s.logger.Error().Err(err).Int64("order_id", id).Msg("offer cancellation failed; will retry next cycle")
			metrics.CancelFailures.WithLabelValues(s.symbol).Inc()
			s.notify(ctx, fmt.Sprintf("%s offer %d cancellation failed: %v", s.symbol, id, err))
			continue
		}

		delete(s.orders, id)
		metrics.OffersCancelled.WithLabelValues(s.symbol).Inc()
		s.recordEvent(ctx, id, storage.EventCancelled, order.Amount, order.Rate, order.Period)
		s.logger.Info().Int64("order_id", id).Dur("age", s.now().Sub(order.SubmittedAt)).Msg("stale offer cancelled")

		rate := s.tracker.OfferRate(tracker.ShortHorizonPeriod())
		regenerated := s.account.RegenerateOffer(rate, order.Amount)
		if regenerated == nil {
			s.logger.Warn().Int64("order_id", id).Float64("rate", rate).Msg("no replacement offer produced")
			continue
		}
		if rate < s.account.MinDailyRate() {
			s.logger.Debug().Float64("rate", rate).Msg("replacement rate below floor; offer dropped")
			continue
		}
		s.submit(ctx, regenerated, true)
	}
}

func (s *Session) recordEvent(ctx context.Context, orderID int64, kind, amount string, rate float64, period int) {
	if s.events == nil {
		return
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return
	}
	_, err = s.events.RecordOfferEvent(ctx, storage.OfferEvent{
		OrderID:  orderID,
		Currency: s.symbol,
		Kind:     kind,
		Amount:   value,
		Rate:     rate,
		Period:   period,
	})
	if err != nil {
		s.logger.Debug().Err(err).Msg("offer event not recorded")
	}
}

func (s *Session) notify(ctx context.Context, text string) {
	if s.notifier == nil {
		return
	}
	// Send failures queue internally; nothing more to do here.
	_ = s.notifier.Send(ctx, text)
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', -1, 64)
}

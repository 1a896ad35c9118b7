// Package metrics exposes the bot's operational counters and gauges in
// Prometheus text exposition format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	OffersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_offers_submitted_total",
			Help: "Funding offers submitted",
		},
		[]string{"currency", "reason"}, // reason: new|resubmit
	)

	OffersExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_offers_executed_total",
			Help: "Submitted offers detected as executed",
		},
		[]string{"currency"},
	)

	OffersCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_offers_cancelled_total",
			Help: "Timed-out offers successfully cancelled",
		},
		[]string{"currency"},
	)

	SubmitFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_submit_failures_total",
			Help: "Offer submissions rejected or failed",
		},
		[]string{"currency"},
	)

	CancelFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_cancel_failures_total",
			Help: "Offer cancellations rejected or failed",
		},
		[]string{"currency"},
	)

	CycleErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_cycle_errors_total",
			Help: "Recoverable errors absorbed inside the control loop",
		},
		[]string{"currency", "step"},
	)

	AvailableFunding = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "funding_available_balance",
			Help: "Balance currently free to lend",
		},
		[]string{"currency"},
	)

	LentAmount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "funding_lent_amount",
			Help: "Amount currently lent out",
		},
		[]string{"currency"},
	)
)

func init() {
	prometheus.MustRegister(
		OffersSubmitted,
		OffersExecuted,
		OffersCancelled,
		SubmitFailures,
		CancelFailures,
		CycleErrors,
		AvailableFunding,
		LentAmount,
	)
}

// Serve runs the /metrics listener until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics listener failed")
	}
}

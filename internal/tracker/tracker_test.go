package tracker

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"funding-bot/internal/exchange"
)

type fakeMarket struct {
	ticks   []exchange.FundingTick
	tickErr error
	candles map[string]exchange.Candle
	fetched int
}

func (f *fakeMarket) Ticker(ctx context.Context, symbol string) (exchange.FundingTick, error) {
	if f.tickErr != nil {
		return exchange.FundingTick{}, f.tickErr
	}
	tick := f.ticks[f.fetched%len(f.ticks)]
	f.fetched++
	return tick, nil
}

func (f *fakeMarket) LastCandle(ctx context.Context, symbol, timeframe string) (exchange.Candle, error) {
	candle, ok := f.candles[timeframe]
	if !ok {
		return exchange.Candle{}, errors.New("no candle")
	}
	return candle, nil
}

func newTestTracker(market *fakeMarket, window int) *Tracker {
	return New("fUSD", Options{
		WindowSize:     window,
		ShortTimeframe: "5m",
		LongTimeframe:  "30m",
		DiscountFactor: 0.985,
	}, market, zerolog.Nop())
}

func TestAggregateWindowExtremesInverted(t *testing.T) {
	market := &fakeMarket{
		ticks: []exchange.FundingTick{
			{FRR: 0.0001, Bid: 0.00011, Ask: 0.00012, Last: 0.00013, High: 0.0009, Low: 0.0001},
			{FRR: 0.0002, Bid: 0.00021, Ask: 0.00022, Last: 0.00023, High: 0.0007, Low: 0.0003},
			{FRR: 0.0003, Bid: 0.00031, Ask: 0.00032, Last: 0.00033, High: 0.0008, Low: 0.0002},
		},
	}
	tr := newTestTracker(market, 3)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		tr.Update(ctx)
	}

	snap := tr.Snapshot()
	if snap.FRR != 0.0003 || snap.Last != 0.00033 {
		t.Fatalf("snapshot should take the latest sample, got %+v", snap)
	}
	// The aggregation intentionally inverts the extremes: High is the
	// minimum of sampled highs and Low the maximum of sampled lows.
	if snap.High != 0.0007 {
		t.Fatalf("High = %v, want min of highs 0.0007", snap.High)
	}
	if snap.Low != 0.0003 {
		t.Fatalf("Low = %v, want max of lows 0.0003", snap.Low)
	}
}

func TestAggregateClearsWindow(t *testing.T) {
	market := &fakeMarket{
		ticks: []exchange.FundingTick{{FRR: 0.0001, High: 0.001, Low: 0.0001}},
	}
	tr := newTestTracker(market, 2)

	ctx := context.Background()
	tr.Update(ctx)
	tr.Update(ctx)
	first := tr.Snapshot()

	// One more sample must not re-aggregate until the window refills.
	market.ticks = []exchange.FundingTick{{FRR: 0.0009, High: 0.002, Low: 0.0002}}
	tr.Update(ctx)
	if tr.Snapshot() != first {
		t.Fatal("snapshot replaced before the window refilled")
	}

	tr.Update(ctx)
	if tr.Snapshot().FRR != 0.0009 {
		t.Fatalf("snapshot not refreshed after window refilled: %+v", tr.Snapshot())
	}
}

func TestUpdateSkipsFailedFetches(t *testing.T) {
	market := &fakeMarket{
		ticks:   []exchange.FundingTick{{FRR: 0.0001, High: 0.001, Low: 0.0001}},
		candles: map[string]exchange.Candle{"5m": {High: 0.0005}},
	}
	tr := newTestTracker(market, 1)

	ctx := context.Background()
	tr.Update(ctx)
	good := tr.Snapshot()

	market.tickErr = errors.New("boom")
	delete(market.candles, "5m")
	tr.Update(ctx)

	if tr.Snapshot() != good {
		t.Fatal("failed fetch must leave the last good snapshot in place")
	}
	if rate := tr.OfferRate(5); rate == 0 {
		t.Fatal("failed candle fetch must leave the last good candle in place")
	}
}

func TestOfferRateSelectsTimeframe(t *testing.T) {
	market := &fakeMarket{
		ticks: []exchange.FundingTick{{}},
		candles: map[string]exchange.Candle{
			"5m":  {High: 0.001},
			"30m": {High: 0.002},
		},
	}
	tr := newTestTracker(market, 15)
	tr.Update(context.Background())

	cases := []struct {
		period int
		want   float64
	}{
		{2, 0.001 * 0.985},
		{5, 0.001 * 0.985},
		{10, 0.002 * 0.985},
		{30, 0.002 * 0.985},
	}
	for _, tc := range cases {
		got := tr.OfferRate(tc.period)
		if math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("OfferRate(%d) = %v, want %v", tc.period, got, tc.want)
		}
	}
}

func TestOfferRateWithoutCandles(t *testing.T) {
	tr := newTestTracker(&fakeMarket{ticks: []exchange.FundingTick{{}}}, 15)
	if rate := tr.OfferRate(30); rate != 0 {
		t.Fatalf("OfferRate without candles = %v, want 0", rate)
	}
}

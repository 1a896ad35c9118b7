package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunInvokesCycleUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	var cycles atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context) error {
			if cycles.Add(1) >= 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	if cycles.Load() < 3 {
		t.Fatalf("cycles = %d, want at least 3", cycles.Load())
	}
}

func TestRunAbsorbsCycleErrors(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	var cycles atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context) error {
			if cycles.Add(1) >= 2 {
				cancel()
			}
			return errors.New("cycle failed")
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run stopped cycling after an error")
	}

	if cycles.Load() < 2 {
		t.Fatalf("cycles = %d, errors must not break the loop", cycles.Load())
	}
}

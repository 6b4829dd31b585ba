package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	return NewCircuitBreaker(Config{
		Name:                "test",
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 1,
		Now:                 clock.Now,
	})
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: expected boom, got %v", i, err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitBreakerOpen) || called {
		t.Fatalf("open breaker must reject without calling fn, err=%v called=%v", err, called)
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errors.New("boom") })
	}

	clock.now = clock.now.Add(time.Minute)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe should pass, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", cb.GetState())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errors.New("boom") })
	}

	clock.now = clock.now.Add(2 * time.Minute)
	_ = cb.Execute(func() error { return errors.New("still down") })
	if cb.GetState() != StateOpen {
		t.Fatalf("expected reopen, got %s", cb.GetState())
	}
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		_ = cb.ExecuteContext(ctx, func(ctx context.Context) error { return ctx.Err() })
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("cancellation must not trip the breaker, got %s", cb.GetState())
	}
}

package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing() error { return errBoom }

func succeeding() error { return nil }

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker("llm", Config{
		FailureThreshold: 3,
		Timeout:          time.Minute,
	})
	if cb.Name() != "llm" {
		t.Errorf("name = %q, want llm", cb.Name())
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failing); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: err = %v, want %v", i+1, err, errBoom)
		}
	}
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	calls := 0
	err := cb.Execute(ctx, func() error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0: open breaker must not run the operation", calls)
	}
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	cb := NewCircuitBreaker("llm", Config{
		FailureThreshold: 3,
		Timeout:          time.Minute,
	})

	ctx := context.Background()
	cb.Execute(ctx, failing)
	cb.Execute(ctx, failing)
	cb.Execute(ctx, succeeding)
	cb.Execute(ctx, failing)
	cb.Execute(ctx, failing)

	if got := cb.State(); got != StateClosed {
		t.Errorf("state = %v, want closed: the streak restarts after a success", got)
	}
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	cb := NewCircuitBreaker("llm", Config{
		MaxRequests:      2,
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})

	ctx := context.Background()
	cb.Execute(ctx, failing)
	if err := cb.Execute(ctx, succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen before the timeout elapses", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after the timeout", got)
	}

	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("first probe: err = %v, want nil", err)
	}
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state = %v, want half-open until the success threshold is met", got)
	}
	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("second probe: err = %v, want nil", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := NewCircuitBreaker("llm", Config{
		FailureThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})

	ctx := context.Background()
	cb.Execute(ctx, failing)
	time.Sleep(50 * time.Millisecond)

	if err := cb.Execute(ctx, failing); !errors.Is(err, errBoom) {
		t.Fatalf("probe: err = %v, want %v", err, errBoom)
	}
	if got := cb.State(); got != StateOpen {
		t.Errorf("state = %v, want open again after a failed probe", got)
	}
}

func TestBreakerLimitsHalfOpenProbes(t *testing.T) {
	cb := NewCircuitBreaker("llm", Config{
		MaxRequests:      1,
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})

	ctx := context.Background()
	cb.Execute(ctx, failing)
	time.Sleep(50 * time.Millisecond)

	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("first probe: err = %v, want nil", err)
	}

	calls := 0
	err := cb.Execute(ctx, func() error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("err = %v, want ErrTooManyRequests", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestBreakerReportsStateChanges(t *testing.T) {
	type transition struct {
		from State
		to   State
	}
	var got []transition

	cb := NewCircuitBreaker("llm", Config{
		MaxRequests:      1,
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
		OnStateChange: func(name string, from, to State) {
			got = append(got, transition{from, to})
		},
	})

	ctx := context.Background()
	cb.Execute(ctx, failing)
	time.Sleep(50 * time.Millisecond)
	cb.Execute(ctx, succeeding)

	want := []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBreakerRejectsCancelledContext(t *testing.T) {
	cb := NewCircuitBreaker("llm", Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := cb.Execute(ctx, func() error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
	if c := cb.Counts(); c.Requests != 0 {
		t.Errorf("requests = %d, want 0: a cancelled call must not count", c.Requests)
	}
}

func TestBreakerCountsPanicAsFailure(t *testing.T) {
	cb := NewCircuitBreaker("llm", Config{
		FailureThreshold: 1,
		Timeout:          time.Minute,
	})

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected the panic to propagate")
			}
		}()
		cb.Execute(context.Background(), func() error { panic("boom") })
	}()

	if got := cb.State(); got != StateOpen {
		t.Errorf("state = %v, want open", got)
	}
}

func TestBreakerCounts(t *testing.T) {
	cb := NewCircuitBreaker("llm", Config{Timeout: time.Minute})

	ctx := context.Background()
	cb.Execute(ctx, succeeding)
	cb.Execute(ctx, succeeding)
	cb.Execute(ctx, failing)

	c := cb.Counts()
	if c.Requests != 3 {
		t.Errorf("requests = %d, want 3", c.Requests)
	}
	if c.TotalSuccesses != 2 || c.TotalFailures != 1 {
		t.Errorf("successes/failures = %d/%d, want 2/1", c.TotalSuccesses, c.TotalFailures)
	}
	if c.ConsecutiveFailures != 1 {
		t.Errorf("consecutive failures = %d, want 1", c.ConsecutiveFailures)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateHalfOpen, "half-open"},
		{StateOpen, "open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

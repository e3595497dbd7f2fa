package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream failure")

func failing() error { return errUpstream }
func succeeding() error { return nil }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failing); !errors.Is(err, errUpstream) {
			t.Fatalf("Expected upstream error, got %v", err)
		}
	}

	if cb.GetState() != StateOpen {
		t.Errorf("Expected state open after max failures, got %v", cb.GetState())
	}
	if err := cb.Execute(ctx, succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen while open, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenProbeCloses(t *testing.T) {
	cb := New(1, 10*time.Millisecond)
	ctx := context.Background()

	if err := cb.Execute(ctx, failing); !errors.Is(err, errUpstream) {
		t.Fatalf("Expected upstream error, got %v", err)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected state open, got %v", cb.GetState())
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("Expected probe to pass, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state closed after successful probe, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenProbeReopensOnFailure(t *testing.T) {
	cb := New(1, 10*time.Millisecond)
	ctx := context.Background()

	cb.Execute(ctx, failing)
	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(ctx, failing); !errors.Is(err, errUpstream) {
		t.Fatalf("Expected upstream error from probe, got %v", err)
	}
	if cb.GetState() != StateOpen {
		t.Errorf("Expected state open after failed probe, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(2, time.Minute)
	ctx := context.Background()

	cb.Execute(ctx, failing)
	cb.Execute(ctx, succeeding)
	cb.Execute(ctx, failing)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state closed, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb := New(3, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cb.Execute(ctx, succeeding); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	// a cancelled caller never counts against the breaker
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state closed, got %v", cb.GetState())
	}
}

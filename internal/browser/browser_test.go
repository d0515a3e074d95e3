package browser

import (
	"context"
	"errors"
	"testing"
	"time"
)

// =============================================================================
// Page Timeout Tests
// =============================================================================

func TestPage_Bounded(t *testing.T) {
	withDeadline, cancelParent := context.WithTimeout(context.Background(), time.Hour)
	defer cancelParent()

	tests := []struct {
		name         string
		ctx          context.Context
		timeout      time.Duration
		wantDeadline bool
		wantSame     bool
	}{
		{"adds default timeout", context.Background(), time.Minute, true, false},
		{"keeps caller deadline", withDeadline, time.Minute, true, true},
		{"no timeout configured", context.Background(), 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Page{timeout: tt.timeout}
			ctx, cancel := p.bounded(tt.ctx)
			defer cancel()

			if _, ok := ctx.Deadline(); ok != tt.wantDeadline {
				t.Errorf("Deadline set = %v, want %v", ok, tt.wantDeadline)
			}
			if (ctx == tt.ctx) != tt.wantSame {
				t.Errorf("returned caller ctx = %v, want %v", ctx == tt.ctx, tt.wantSame)
			}
		})
	}
}

func TestPage_BoundedCancelReleases(t *testing.T) {
	p := &Page{timeout: time.Hour}
	ctx, cancel := p.bounded(context.Background())
	if ctx.Err() != nil {
		t.Fatalf("fresh ctx already done: %v", ctx.Err())
	}

	cancel()
	select {
	case <-ctx.Done():
	default:
		t.Fatal("cancel should end the bounded ctx")
	}
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", ctx.Err())
	}
}

func TestPage_BoundedExpires(t *testing.T) {
	p := &Page{timeout: 10 * time.Millisecond}
	ctx, cancel := p.bounded(context.Background())
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("bounded ctx did not expire")
	}
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Errorf("Err() = %v, want deadline exceeded", ctx.Err())
	}
}

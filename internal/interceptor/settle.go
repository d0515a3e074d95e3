package interceptor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PentesterFlow/ReconMapper/internal/page"
)

// Settle modes.
const (
	SettleFixed = "fixed"
	SettleIdle  = "idle"
)

// SettleConfig controls the wait after navigation that lets in-flight
// calls complete.
type SettleConfig struct {
	Mode string `json:"mode" yaml:"mode"`
	// Delay is the fixed wait, and the upper bound in idle mode.
	Delay time.Duration `json:"delay" yaml:"delay"`
	// IdleWindow is how long the page must have no pending calls.
	IdleWindow time.Duration `json:"idle_window" yaml:"idle_window"`
	// PollInterval is the sync cadence in idle mode.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

// DefaultSettleConfig returns a fixed 2s settle.
func DefaultSettleConfig() SettleConfig {
	return SettleConfig{
		Mode:         SettleFixed,
		Delay:        2 * time.Second,
		IdleWindow:   500 * time.Millisecond,
		PollInterval: 100 * time.Millisecond,
	}
}

// Validate checks the settle configuration.
func (c SettleConfig) Validate() error {
	switch c.Mode {
	case "", SettleFixed, SettleIdle:
	default:
		return fmt.Errorf("unknown settle mode %q", c.Mode)
	}
	if c.Delay < 0 || c.IdleWindow < 0 || c.PollInterval < 0 {
		return fmt.Errorf("settle durations must not be negative")
	}
	return nil
}

// WaitSettled blocks until the page is considered settled. Only context
// cancellation is returned as an error.
func (i *Interceptor) WaitSettled(ctx context.Context, p page.Page, cfg SettleConfig) error {
	if cfg.Mode != SettleIdle {
		return sleep(ctx, cfg.Delay)
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	deadline := time.Now().Add(cfg.Delay)
	var quietSince time.Time

	for {
		pending, err := i.Sync(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, page.ErrEvalUnsupported) {
				return nil
			}
			// Nothing to observe; fall back to the remaining delay.
			return sleep(ctx, time.Until(deadline))
		}

		now := time.Now()
		if pending == 0 {
			if quietSince.IsZero() {
				quietSince = now
			}
			if now.Sub(quietSince) >= cfg.IdleWindow {
				return nil
			}
		} else {
			quietSince = time.Time{}
		}
		if !now.Before(deadline) {
			return nil
		}
		if err := sleep(ctx, poll); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/PentesterFlow/ReconMapper/internal/page"
	"github.com/PentesterFlow/ReconMapper/internal/page/pagetest"
)

type fakeSession struct {
	mu      sync.Mutex
	pages   int
	recycle bool
	closed  bool
}

func (s *fakeSession) NewPage(ctx context.Context) (page.Page, error) {
	s.mu.Lock()
	s.pages++
	s.mu.Unlock()
	return pagetest.New(nil), nil
}

func (s *fakeSession) NeedsRecycle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recycle
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func newFakePool(t *testing.T, size int) (*Pool, *[]*fakeSession) {
	t.Helper()
	var launched []*fakeSession
	var mu sync.Mutex
	pool, err := NewPoolWithLauncher(Config{PoolSize: size}, func(Config) (Session, error) {
		s := &fakeSession{}
		mu.Lock()
		launched = append(launched, s)
		mu.Unlock()
		return s, nil
	})
	if err != nil {
		t.Fatalf("NewPoolWithLauncher: %v", err)
	}
	return pool, &launched
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Headless {
		t.Error("Headless should default to true")
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.PoolSize != 1 {
		t.Errorf("PoolSize = %d, want 1", cfg.PoolSize)
	}
}

// =============================================================================
// Pool Tests
// =============================================================================

func TestPool_RoundRobin(t *testing.T) {
	pool, launched := newFakePool(t, 2)
	defer pool.Close()

	ctx := context.Background()
	p1, err := pool.NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	p2, err := pool.NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}

	for i, s := range *launched {
		if s.pages != 1 {
			t.Errorf("session %d pages = %d, want 1", i, s.pages)
		}
	}

	if stats := pool.Stats(); stats.OpenPages != 2 || stats.Available != 0 {
		t.Errorf("Stats() = %+v, want 2 open, 0 available", stats)
	}

	p1.(page.Closer).Close()
	p2.(page.Closer).Close()
	if stats := pool.Stats(); stats.OpenPages != 0 || stats.Available != 2 {
		t.Errorf("Stats() after close = %+v", stats)
	}
}

func TestPool_BlocksWhenFull(t *testing.T) {
	pool, _ := newFakePool(t, 1)
	defer pool.Close()

	if _, err := pool.NewPage(context.Background()); err != nil {
		t.Fatalf("NewPage: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pool.NewPage(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("NewPage on full pool = %v, want deadline exceeded", err)
	}
}

func TestPool_DoubleCloseReleasesOnce(t *testing.T) {
	pool, _ := newFakePool(t, 1)
	defer pool.Close()

	pg, _ := pool.NewPage(context.Background())
	pg.(page.Closer).Close()
	pg.(page.Closer).Close()

	if got := pool.Stats().Available; got != 1 {
		t.Errorf("Available = %d, want 1", got)
	}
}

func TestPool_RecyclesIdleSession(t *testing.T) {
	pool, launched := newFakePool(t, 1)
	defer pool.Close()

	(*launched)[0].recycle = true
	pg, err := pool.NewPage(context.Background())
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	defer pg.(page.Closer).Close()

	if len(*launched) != 2 {
		t.Fatalf("launched = %d sessions, want 2", len(*launched))
	}
	if !(*launched)[0].closed {
		t.Error("recycled session should be closed")
	}
}

func TestPool_Close(t *testing.T) {
	pool, launched := newFakePool(t, 2)

	if err := pool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i, s := range *launched {
		if !s.closed {
			t.Errorf("session %d not closed", i)
		}
	}
	if _, err := pool.NewPage(context.Background()); err == nil {
		t.Error("NewPage after Close should fail")
	}
	if err := pool.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestPool_LaunchFailure(t *testing.T) {
	_, err := NewPoolWithLauncher(Config{PoolSize: 2}, func(Config) (Session, error) {
		return nil, errors.New("no chrome")
	})
	if err == nil {
		t.Fatal("expected launch error")
	}
}

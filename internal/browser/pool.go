package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/PentesterFlow/ReconMapper/internal/page"
)

// Launcher starts a browser. Tests replace it to avoid Chrome.
type Launcher func(Config) (Session, error)

// Session is one running browser.
type Session interface {
	NewPage(ctx context.Context) (page.Page, error)
	NeedsRecycle() bool
	Close() error
}

// Pool manages a set of browser sessions and implements page.Factory.
// Pages are handed out round-robin; at most PoolSize pages are open at once.
type Pool struct {
	mu       sync.Mutex
	sessions []Session
	open     []int
	config   Config
	launch   Launcher
	size     int
	current  int
	closed   bool
	sem      chan struct{}
}

// NewPool creates a pool of Chrome sessions.
func NewPool(config Config) (*Pool, error) {
	return NewPoolWithLauncher(config, func(c Config) (Session, error) { return New(c) })
}

// NewPoolWithLauncher creates a pool whose sessions come from launch.
func NewPoolWithLauncher(config Config, launch Launcher) (*Pool, error) {
	if config.PoolSize < 1 {
		config.PoolSize = 1
	}

	pool := &Pool{
		sessions: make([]Session, config.PoolSize),
		open:     make([]int, config.PoolSize),
		config:   config,
		launch:   launch,
		size:     config.PoolSize,
		sem:      make(chan struct{}, config.PoolSize),
	}

	for i := 0; i < config.PoolSize; i++ {
		pool.sem <- struct{}{}
	}

	for i := 0; i < config.PoolSize; i++ {
		s, err := launch(config)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create browser %d: %w", i, err)
		}
		pool.sessions[i] = s
	}

	return pool, nil
}

// NewPage blocks until a slot is free, then opens a page on the next session.
// Closing the returned page frees the slot.
func (p *Pool) NewPage(ctx context.Context) (page.Page, error) {
	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is closed")
	}

	idx := p.current
	p.current = (p.current + 1) % p.size

	// Only recycle a session nobody is using.
	if p.sessions[idx].NeedsRecycle() && p.open[idx] == 0 {
		_ = p.sessions[idx].Close()
		s, err := p.launch(p.config)
		if err != nil {
			p.mu.Unlock()
			p.sem <- struct{}{}
			return nil, fmt.Errorf("failed to recycle browser: %w", err)
		}
		p.sessions[idx] = s
	}
	session := p.sessions[idx]
	p.open[idx]++
	p.mu.Unlock()

	pg, err := session.NewPage(ctx)
	if err != nil {
		p.release(idx)
		return nil, err
	}
	return &pooledPage{Page: pg, pool: p, idx: idx}, nil
}

func (p *Pool) release(idx int) {
	p.mu.Lock()
	p.open[idx]--
	closed := p.closed
	p.mu.Unlock()
	if !closed {
		p.sem <- struct{}{}
	}
}

// Close closes all sessions in the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var lastErr error
	for _, s := range p.sessions {
		if s != nil {
			if err := s.Close(); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// Size returns the pool size.
func (p *Pool) Size() int {
	return p.size
}

// PoolStats describes pool occupancy.
type PoolStats struct {
	Size      int `json:"size"`
	Available int `json:"available"`
	OpenPages int `json:"open_pages"`
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	open := 0
	for _, n := range p.open {
		open += n
	}
	return PoolStats{
		Size:      p.size,
		Available: len(p.sem),
		OpenPages: open,
	}
}

type pooledPage struct {
	page.Page
	pool *Pool
	idx  int
	once sync.Once
}

// Close closes the underlying tab and returns the slot to the pool.
func (pp *pooledPage) Close() error {
	var err error
	pp.once.Do(func() {
		if c, ok := pp.Page.(page.Closer); ok {
			err = c.Close()
		}
		pp.pool.release(pp.idx)
	})
	return err
}

var _ page.Factory = (*Pool)(nil)

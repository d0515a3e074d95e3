// Package shutdown cancels a run on SIGINT/SIGTERM and releases browser
// sessions, capture stores and output files in reverse registration order.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Callback releases one resource. It should return promptly once ctx is done.
type Callback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout         time.Duration
	Signals         []os.Signal
	OnShutdownStart func()
	OnShutdownDone  func(elapsed time.Duration, errs []error)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// Handler manages graceful shutdown of one run.
type Handler struct {
	mu    sync.Mutex
	names []string
	funcs []Callback
	errs  []error

	shuttingDown atomic.Bool
	done         chan struct{}
	stop         chan struct{}
	stopOnce     sync.Once
	timeout      time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	sigChan chan os.Signal

	onStart func()
	onDone  func(elapsed time.Duration, errs []error)
}

// New creates a handler whose Context is derived from parent.
func New(parent context.Context, cfg Config) *Handler {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = def.Signals
	}
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithCancel(parent)
	h := &Handler{
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
		timeout: cfg.Timeout,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
		onStart: cfg.OnShutdownStart,
		onDone:  cfg.OnShutdownDone,
	}
	signal.Notify(h.sigChan, cfg.Signals...)
	return h
}

// Register adds a named cleanup callback.
func (h *Handler) Register(name string, cb Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.names = append(h.names, name)
	h.funcs = append(h.funcs, cb)
}

// RegisterFunc adds a cleanup function that cannot fail.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// RegisterCloser adds an io.Closer-like resource.
func (h *Handler) RegisterCloser(name string, c interface{ Close() error }) {
	h.Register(name, func(ctx context.Context) error {
		return c.Close()
	})
}

// Context is cancelled when shutdown begins.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// IsShuttingDown reports whether shutdown has started.
func (h *Handler) IsShuttingDown() bool {
	return h.shuttingDown.Load()
}

// Done is closed when shutdown completes.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Listen shuts down on the first signal until Stop is called.
func (h *Handler) Listen() {
	go func() {
		select {
		case <-h.sigChan:
			h.Shutdown()
		case <-h.stop:
		case <-h.ctx.Done():
		}
	}()
}

// Stop stops signal delivery. Callbacks already registered stay pending for
// Shutdown.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		signal.Stop(h.sigChan)
		close(h.stop)
	})
}

// Shutdown cancels Context and runs callbacks last-registered first. Each
// callback shares the shutdown timeout. It is safe to call more than once.
func (h *Handler) Shutdown() {
	if !h.shuttingDown.CompareAndSwap(false, true) {
		<-h.done
		return
	}
	start := time.Now()

	if h.onStart != nil {
		h.onStart()
	}
	h.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	names := append([]string(nil), h.names...)
	funcs := append([]Callback(nil), h.funcs...)
	h.mu.Unlock()

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := run(ctx, names[i], funcs[i]); err != nil {
			errs = append(errs, err)
		}
	}

	h.mu.Lock()
	h.errs = errs
	h.mu.Unlock()

	if h.onDone != nil {
		h.onDone(time.Since(start), errs)
	}
	h.Stop()
	close(h.done)
}

// Errors returns the callback errors of a completed shutdown.
func (h *Handler) Errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

// Trigger simulates a termination signal.
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
	}
}

func run(ctx context.Context, name string, cb Callback) error {
	done := make(chan error, 1)
	go func() {
		done <- cb(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &CallbackError{Name: name, Err: err}
		}
		return nil
	case <-ctx.Done():
		return &TimeoutError{CallbackName: name}
	}
}

// TimeoutError is returned when a callback does not finish in time.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}

// CallbackError wraps a failed callback.
type CallbackError struct {
	Name string
	Err  error
}

func (e *CallbackError) Error() string {
	return "shutdown callback " + e.Name + ": " + e.Err.Error()
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

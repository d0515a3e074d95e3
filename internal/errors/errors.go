// Package errors provides the error taxonomy for the recon pipeline.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind categorizes errors by the stage that produced them.
type Kind int

const (
	// Unknown is an uncategorized error.
	Unknown Kind = iota
	// Navigation is a page that could not be loaded (timeout, DNS, refused).
	Navigation
	// Capture is a single DOM or script query that failed.
	Capture
	// Instrumentation is a failed interceptor injection or log read.
	Instrumentation
	// Aggregation is a malformed capture document.
	Aggregation
	// Render is an output write failure.
	Render
	// Config is an invalid configuration.
	Config
	// Store is a capture store failure.
	Store
	// Cancelled is context cancellation.
	Cancelled
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case Navigation:
		return "navigation"
	case Capture:
		return "capture"
	case Instrumentation:
		return "instrumentation"
	case Aggregation:
		return "aggregation"
	case Render:
		return "render"
	case Config:
		return "config"
	case Store:
		return "store"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind end a run.
// Navigation, capture and instrumentation failures degrade output instead.
func (k Kind) Fatal() bool {
	switch k {
	case Render, Config, Store, Cancelled:
		return true
	default:
		return false
	}
}

// ReconError is a categorized pipeline error.
type ReconError struct {
	Kind    Kind
	URL     string
	Op      string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ReconError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(" during ")
		b.WriteString(e.Op)
	}
	if e.URL != "" {
		b.WriteString(" on ")
		b.WriteString(e.URL)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ReconError) Unwrap() error {
	return e.Cause
}

// Is matches another *ReconError of the same Kind.
func (e *ReconError) Is(target error) bool {
	t, ok := target.(*ReconError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a ReconError.
func New(kind Kind, url, op, message string, cause error) *ReconError {
	return &ReconError{Kind: kind, URL: url, Op: op, Message: message, Cause: cause}
}

// NewNavigationError wraps a failed page load.
func NewNavigationError(url string, cause error) *ReconError {
	msg := "page unreachable"
	if isTimeout(cause) {
		msg = "navigation timed out"
	}
	return New(Navigation, url, "navigate", msg, cause)
}

// NewCaptureError wraps a failed sub-capture.
func NewCaptureError(url, capture string, cause error) *ReconError {
	return New(Capture, url, capture, "capture failed", cause)
}

// NewInstrumentationError wraps a failed interceptor operation.
func NewInstrumentationError(url, op string, cause error) *ReconError {
	return New(Instrumentation, url, op, "interceptor unavailable", cause)
}

// NewRenderError wraps an output failure.
func NewRenderError(path string, cause error) *ReconError {
	return New(Render, path, "write", "cannot write output", cause)
}

// NewConfigError reports an invalid setting.
func NewConfigError(field, message string) *ReconError {
	return New(Config, "", field, message, nil)
}

// NewStoreError wraps a capture store failure.
func NewStoreError(op string, cause error) *ReconError {
	return New(Store, "", op, "capture store failure", cause)
}

// Categorize maps a raw error from a page visit to a ReconError.
func Categorize(err error, url string) *ReconError {
	if err == nil {
		return nil
	}

	var re *ReconError
	if errors.As(err, &re) {
		return re
	}
	if errors.Is(err, context.Canceled) {
		return New(Cancelled, url, "navigate", "operation cancelled", err)
	}
	if isTimeout(err) || isNetworkError(err) {
		return NewNavigationError(url, err)
	}
	return New(Unknown, url, "", err.Error(), err)
}

// KindOf extracts the Kind of err, or Unknown.
func KindOf(err error) Kind {
	var re *ReconError
	if errors.As(err, &re) {
		return re.Kind
	}
	return Unknown
}

// IsFatal reports whether err should end the run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Fatal()
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded")
}

func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	// CDP reports navigation failures as net::ERR_* strings.
	s := err.Error()
	return strings.Contains(s, "net::ERR_") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "no such host")
}

package capture

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/smartdevs17/errtrail/internal/metrics"
	"github.com/smartdevs17/errtrail/internal/models"
)

// DefaultMaxRetries bounds in-process recoveries before a hard reset
const DefaultMaxRetries = 3

// State is a boundary's position in its state machine
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
)

// Region is the guarded unit of work
type Region func(ctx context.Context) error

// FallbackRenderer presents a degraded boundary. It does not affect state.
type FallbackRenderer func(ctx context.Context, status Status)

// Reloader performs the hard reset once retries are exhausted
type Reloader func(ctx context.Context, b *Boundary)

// RetryOutcome describes what a Retry call did
type RetryOutcome string

const (
	RetryNoop      RetryOutcome = "noop"
	RetryRecovered RetryOutcome = "recovered"
	RetryFailed    RetryOutcome = "failed"
	RetryReloaded  RetryOutcome = "reloaded"
)

// Status is a point-in-time view of a boundary
type Status struct {
	Name       string `json:"name"`
	State      State  `json:"state"`
	Level      string `json:"level"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retryCount"`
	MaxRetries int    `json:"maxRetries"`
}

// DegradedError is returned by Render while the boundary is degraded
type DegradedError struct {
	Boundary   string
	Err        error
	RetryCount int
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("boundary %q degraded: %v", e.Boundary, e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// Boundary guards a region. A failure moves it to degraded, where the region
// is not run until Retry. After MaxRetries recoveries Retry hands over to the
// Reloader instead of recovering again.
type Boundary struct {
	mu         sync.Mutex
	name       string
	level      models.CaptureLevel
	maxRetries int
	state      State
	err        error
	retryCount int

	reporter Reporter
	fallback FallbackRenderer
	reloader Reloader
	metrics  *metrics.PrometheusMetrics
}

// BoundaryOption customizes a Boundary
type BoundaryOption func(*Boundary)

// WithLevel sets the capture scope recorded for failures
func WithLevel(level models.CaptureLevel) BoundaryOption {
	return func(b *Boundary) {
		if level.Valid() {
			b.level = level
		}
	}
}

// WithMaxRetries overrides DefaultMaxRetries
func WithMaxRetries(n int) BoundaryOption {
	return func(b *Boundary) {
		if n >= 0 {
			b.maxRetries = n
		}
	}
}

// WithFallback substitutes the degraded presentation
func WithFallback(renderer FallbackRenderer) BoundaryOption {
	return func(b *Boundary) { b.fallback = renderer }
}

// WithReloader sets the hard reset used when retries are exhausted
func WithReloader(reloader Reloader) BoundaryOption {
	return func(b *Boundary) { b.reloader = reloader }
}

// WithBoundaryMetrics records state and retries
func WithBoundaryMetrics(m *metrics.PrometheusMetrics) BoundaryOption {
	return func(b *Boundary) { b.metrics = m }
}

// NewBoundary creates a healthy boundary that reports failures to reporter
func NewBoundary(name string, reporter Reporter, opts ...BoundaryOption) *Boundary {
	b := &Boundary{
		name:       name,
		level:      models.CaptureComponent,
		maxRetries: DefaultMaxRetries,
		state:      StateHealthy,
		reporter:   reporter,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.metrics.UpdateBoundaryState(name, false)
	return b
}

// Name returns the boundary name
func (b *Boundary) Name() string { return b.name }

// Status returns the current state
func (b *Boundary) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusLocked()
}

func (b *Boundary) statusLocked() Status {
	st := Status{
		Name:       b.name,
		State:      b.state,
		Level:      string(b.level),
		RetryCount: b.retryCount,
		MaxRetries: b.maxRetries,
	}
	if b.err != nil {
		st.Error = b.err.Error()
	}
	return st
}

// Render runs region while healthy. A returned error or panic degrades the
// boundary and is captured. While degraded the fallback is shown and a
// *DegradedError is returned.
func (b *Boundary) Render(ctx context.Context, region Region) error {
	b.mu.Lock()
	if b.state == StateDegraded {
		status := b.statusLocked()
		err := b.degradedLocked()
		b.mu.Unlock()
		b.renderFallback(ctx, status)
		return err
	}
	b.mu.Unlock()

	stack, err := runGuarded(ctx, region)
	if err == nil {
		return nil
	}

	status, degraded := b.fail(err, stack)
	b.renderFallback(ctx, status)
	return degraded
}

// Retry leaves the degraded state. Below MaxRetries it clears the error,
// counts the attempt and re-renders region when given. At the bound it calls
// the Reloader and stays degraded. A healthy boundary ignores Retry.
func (b *Boundary) Retry(ctx context.Context, region Region) (RetryOutcome, error) {
	b.mu.Lock()
	if b.state == StateHealthy {
		b.mu.Unlock()
		return RetryNoop, nil
	}

	if b.retryCount >= b.maxRetries {
		reloader := b.reloader
		b.mu.Unlock()

		b.metrics.RecordBoundaryRetry(b.name, string(RetryReloaded))
		if reloader != nil {
			reloader(ctx, b)
		}
		return RetryReloaded, nil
	}

	b.retryCount++
	b.state = StateHealthy
	b.err = nil
	b.mu.Unlock()
	b.metrics.UpdateBoundaryState(b.name, false)

	if region != nil {
		if err := b.Render(ctx, region); err != nil {
			b.metrics.RecordBoundaryRetry(b.name, string(RetryFailed))
			return RetryFailed, err
		}
	}

	b.metrics.RecordBoundaryRetry(b.name, string(RetryRecovered))
	return RetryRecovered, nil
}

func (b *Boundary) fail(err error, stack string) (Status, error) {
	b.mu.Lock()
	if b.state == StateDegraded {
		// Another render already degraded the boundary
		status := b.statusLocked()
		degraded := b.degradedLocked()
		b.mu.Unlock()
		return status, degraded
	}

	b.state = StateDegraded
	b.err = err
	status := b.statusLocked()
	degraded := b.degradedLocked()
	b.mu.Unlock()

	b.metrics.UpdateBoundaryState(b.name, true)

	if b.reporter != nil {
		b.reporter.Capture(err, models.Context{
			models.ContextLevel:          status.Level,
			models.ContextComponentStack: stack,
			models.ContextBoundary:       b.name,
			models.ContextRetryCount:     status.RetryCount,
			models.ContextOrigin:         OriginBoundary,
		})
	}
	return status, degraded
}

func (b *Boundary) degradedLocked() error {
	return &DegradedError{Boundary: b.name, Err: b.err, RetryCount: b.retryCount}
}

func (b *Boundary) renderFallback(ctx context.Context, status Status) {
	if b.fallback == nil {
		return
	}
	defer func() {
		// fallback panics are swallowed
		_ = recover()
	}()
	b.fallback(ctx, status)
}

// runGuarded calls region, converting a panic into an error
func runGuarded(ctx context.Context, region Region) (stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			trace := string(debug.Stack())
			err = &models.StackError{Err: panicValueError(r), Stack: trace}
			stack = trace
		}
	}()

	if region == nil {
		return "", nil
	}
	if err := region(ctx); err != nil {
		var st interface{ StackTrace() string }
		if errors.As(err, &st) {
			return st.StackTrace(), err
		}
		return string(debug.Stack()), err
	}
	return "", nil
}

// panicValueError turns a recovered value into an error
func panicValueError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}

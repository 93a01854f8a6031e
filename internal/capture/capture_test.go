package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/errtrail/internal/env"
	"github.com/smartdevs17/errtrail/internal/ledger"
	"github.com/smartdevs17/errtrail/internal/models"
)

type captured struct {
	err error
	ctx models.Context
}

// recordingReporter implements Reporter and Recorder
type recordingReporter struct {
	mu    sync.Mutex
	calls []captured
}

func (r *recordingReporter) Capture(err error, ctx models.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, captured{err: err, ctx: ctx})
}

func (r *recordingReporter) AddError(err error, ctx models.Context) models.ErrorEntry {
	r.Capture(err, ctx)
	return models.ErrorEntry{Error: models.ErrorInfoFrom(err), Context: ctx}
}

func (r *recordingReporter) snapshot() []captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]captured(nil), r.calls...)
}

type panickingRecorder struct{}

func (panickingRecorder) AddError(err error, ctx models.Context) models.ErrorEntry {
	panic("recorder exploded")
}

func newTestCapturer(recorder Recorder, opts ...CapturerOption) *Capturer {
	logger, _ := test.NewNullLogger()
	base := []CapturerOption{
		WithCaptureEnv(&env.Static{
			URL:       "test://page",
			UserAgent: "go-test",
			Now:       env.Ticker(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), time.Second),
		}),
		WithCaptureLogger(logger),
	}
	return NewCapturer(recorder, append(base, opts...)...)
}

func TestCapturer_Enrichment(t *testing.T) {
	rec := &recordingReporter{}
	c := newTestCapturer(rec)

	original := models.Context{"userId": "u-1"}
	c.Capture(errors.New("boom"), original)

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	ctx := calls[0].ctx
	assert.Equal(t, "boom", calls[0].err.Error())
	assert.Equal(t, "u-1", ctx["userId"])
	assert.Equal(t, string(models.CaptureComponent), ctx[models.ContextLevel])
	assert.Equal(t, "test://page", ctx[models.ContextURL])
	assert.Equal(t, "go-test", ctx[models.ContextUserAgent])
	assert.Equal(t, "2024-05-01T10:00:00Z", ctx[models.ContextTimestamp])

	// The caller's map is not modified
	assert.Len(t, original, 1)
}

func TestCapturer_LedgerKeepsCaptureTime(t *testing.T) {
	base, _ := test.NewNullLogger()
	l := ledger.New(ledger.DefaultConfig(),
		ledger.WithEnv(&env.Static{Now: env.Ticker(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour)}),
		ledger.WithLogrus(base),
	)
	c := newTestCapturer(l)

	c.Capture(errors.New("boom"), nil)

	entries := l.List()
	require.Len(t, entries, 1)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), entries[0].Timestamp)
	assert.Equal(t, "2024-05-01T10:00:00Z", entries[0].Context.String(models.ContextTimestamp))
	assert.Equal(t, "test://page", entries[0].Context.String(models.ContextURL))
}

func TestCapturer_Levels(t *testing.T) {
	t.Run("explicit level kept", func(t *testing.T) {
		rec := &recordingReporter{}
		newTestCapturer(rec).Capture(errors.New("x"), models.Context{models.ContextLevel: "page"})
		assert.Equal(t, "page", rec.snapshot()[0].ctx[models.ContextLevel])
	})

	t.Run("invalid level replaced by default", func(t *testing.T) {
		rec := &recordingReporter{}
		newTestCapturer(rec, WithDefaultLevel(models.CaptureGlobal)).
			Capture(errors.New("x"), models.Context{models.ContextLevel: "bogus"})
		assert.Equal(t, "global", rec.snapshot()[0].ctx[models.ContextLevel])
	})

	t.Run("invalid default ignored", func(t *testing.T) {
		rec := &recordingReporter{}
		newTestCapturer(rec, WithDefaultLevel("nope")).Capture(errors.New("x"), nil)
		assert.Equal(t, "component", rec.snapshot()[0].ctx[models.ContextLevel])
	})

	t.Run("caller values win over environment", func(t *testing.T) {
		rec := &recordingReporter{}
		newTestCapturer(rec).Capture(errors.New("x"), models.Context{models.ContextURL: "custom://"})
		assert.Equal(t, "custom://", rec.snapshot()[0].ctx[models.ContextURL])
	})
}

func TestCapturer_NeverPanics(t *testing.T) {
	c := newTestCapturer(panickingRecorder{})
	assert.NotPanics(t, func() {
		c.Capture(errors.New("x"), nil)
	})
}

func TestBoundary_RenderHealthy(t *testing.T) {
	rec := &recordingReporter{}
	b := NewBoundary("widget", rec)

	ran := false
	err := b.Render(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, StateHealthy, b.Status().State)
	assert.Empty(t, rec.snapshot())
}

func TestBoundary_FailureDegrades(t *testing.T) {
	rec := &recordingReporter{}
	var fallbacks []Status
	b := NewBoundary("widget", rec,
		WithLevel(models.CapturePage),
		WithFallback(func(ctx context.Context, status Status) { fallbacks = append(fallbacks, status) }),
	)

	failure := errors.New("render failed")
	err := b.Render(context.Background(), func(ctx context.Context) error { return failure })

	var degraded *DegradedError
	require.ErrorAs(t, err, &degraded)
	assert.Equal(t, "widget", degraded.Boundary)
	assert.ErrorIs(t, err, failure)

	status := b.Status()
	assert.Equal(t, StateDegraded, status.State)
	assert.Equal(t, "render failed", status.Error)
	assert.Equal(t, "page", status.Level)

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "page", calls[0].ctx[models.ContextLevel])
	assert.Equal(t, "widget", calls[0].ctx[models.ContextBoundary])
	assert.Equal(t, OriginBoundary, calls[0].ctx[models.ContextOrigin])
	assert.Equal(t, 0, calls[0].ctx[models.ContextRetryCount])
	assert.NotEmpty(t, calls[0].ctx[models.ContextComponentStack])

	// Degraded boundaries do not run the region again
	ran := false
	err = b.Render(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.False(t, ran)
	require.ErrorAs(t, err, &degraded)
	assert.Len(t, rec.snapshot(), 1)
	assert.Len(t, fallbacks, 2)
	assert.Equal(t, StateDegraded, fallbacks[1].State)
}

func TestBoundary_PanicIsCaptured(t *testing.T) {
	rec := &recordingReporter{}
	b := NewBoundary("panicky", rec)

	err := b.Render(context.Background(), func(ctx context.Context) error {
		panic("nil map write")
	})
	require.Error(t, err)

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	var stackErr *models.StackError
	require.ErrorAs(t, calls[0].err, &stackErr)
	assert.Equal(t, "panic: nil map write", stackErr.Error())
	assert.Contains(t, stackErr.StackTrace(), "goroutine")
	assert.Equal(t, stackErr.StackTrace(), calls[0].ctx[models.ContextComponentStack])
}

func TestBoundary_FallbackPanicIsSwallowed(t *testing.T) {
	b := NewBoundary("fragile", &recordingReporter{},
		WithFallback(func(ctx context.Context, status Status) { panic("fallback broke") }),
	)

	assert.NotPanics(t, func() {
		_ = b.Render(context.Background(), func(ctx context.Context) error { return errors.New("x") })
	})
	assert.Equal(t, StateDegraded, b.Status().State)
}

func TestBoundary_RetryBound(t *testing.T) {
	rec := &recordingReporter{}
	reloads := 0
	b := NewBoundary("flaky", rec,
		WithMaxRetries(3),
		WithReloader(func(ctx context.Context, b *Boundary) { reloads++ }),
	)
	ctx := context.Background()
	failing := func(ctx context.Context) error { return errors.New("still broken") }

	outcome, err := b.Retry(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, RetryNoop, outcome, "healthy boundary ignores retry")

	require.Error(t, b.Render(ctx, failing))
	for i := 1; i <= 3; i++ {
		outcome, err := b.Retry(ctx, failing)
		assert.Equal(t, RetryFailed, outcome)
		require.Error(t, err)

		status := b.Status()
		assert.Equal(t, i, status.RetryCount)
		assert.LessOrEqual(t, status.RetryCount, status.MaxRetries)
		assert.Equal(t, StateDegraded, status.State)
	}

	outcome, err = b.Retry(ctx, failing)
	require.NoError(t, err)
	assert.Equal(t, RetryReloaded, outcome)
	assert.Equal(t, 1, reloads)
	assert.Equal(t, 3, b.Status().RetryCount)

	// One capture per failed render, with the retry count at failure time
	calls := rec.snapshot()
	require.Len(t, calls, 4)
	for i, call := range calls {
		assert.Equal(t, i, call.ctx[models.ContextRetryCount])
	}
}

func TestBoundary_RetryRecovers(t *testing.T) {
	b := NewBoundary("widget", &recordingReporter{})
	ctx := context.Background()

	require.Error(t, b.Render(ctx, func(ctx context.Context) error { return errors.New("x") }))

	outcome, err := b.Retry(ctx, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, RetryRecovered, outcome)

	status := b.Status()
	assert.Equal(t, StateHealthy, status.State)
	assert.Empty(t, status.Error)
	assert.Equal(t, 1, status.RetryCount)
}

func TestBoundary_ZeroRetriesReloadsImmediately(t *testing.T) {
	reloaded := false
	b := NewBoundary("strict", &recordingReporter{},
		WithMaxRetries(0),
		WithReloader(func(ctx context.Context, b *Boundary) { reloaded = true }),
	)
	ctx := context.Background()
	require.Error(t, b.Render(ctx, func(ctx context.Context) error { return errors.New("x") }))

	outcome, err := b.Retry(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, RetryReloaded, outcome)
	assert.True(t, reloaded)
}

func TestRegistry(t *testing.T) {
	rec := &recordingReporter{}
	r := NewRegistry(rec, WithMaxRetries(1))
	ctx := context.Background()

	a := r.Get("b-widget")
	assert.Same(t, a, r.Get("b-widget"))
	r.Get("a-header")

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a-header", list[0].Name)
	assert.Equal(t, 1, list[1].MaxRetries)

	t.Run("unknown boundary", func(t *testing.T) {
		_, _, err := r.Retry(ctx, "missing")
		require.Error(t, err)
		_, ok := r.Lookup("missing")
		assert.False(t, ok)
	})

	t.Run("exhausted boundary is replaced", func(t *testing.T) {
		failing := func(ctx context.Context) error { return errors.New("x") }
		require.Error(t, a.Render(ctx, failing))

		outcome, status, err := r.Retry(ctx, "b-widget")
		require.NoError(t, err)
		assert.Equal(t, RetryRecovered, outcome)
		assert.Equal(t, StateHealthy, status.State)

		require.Error(t, a.Render(ctx, failing))
		outcome, status, err = r.Retry(ctx, "b-widget")
		require.NoError(t, err)
		assert.Equal(t, RetryReloaded, outcome)
		assert.Equal(t, StateHealthy, status.State)
		assert.Equal(t, 0, status.RetryCount)
		assert.Equal(t, 1, r.Reloads("b-widget"))
		assert.NotSame(t, a, r.Get("b-widget"))

		// A stale boundary reloading again does not replace the new one
		fresh := r.Get("b-widget")
		outcome, err = a.Retry(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, RetryReloaded, outcome)
		assert.Same(t, fresh, r.Get("b-widget"))
		assert.Equal(t, 1, r.Reloads("b-widget"))
	})
}

func TestHooks_GoPanic(t *testing.T) {
	h := NewHooks()
	rec := &recordingReporter{}
	installer := NewGlobalInstaller(rec, h)
	installer.Install()
	defer installer.Uninstall()

	h.Go(func() {
		panic(errors.New("worker crashed"))
	})

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	call := rec.snapshot()[0]
	assert.Equal(t, "global", call.ctx[models.ContextLevel])
	assert.Equal(t, OriginPanic, call.ctx[models.ContextOrigin])
	assert.Equal(t, "worker crashed", call.err.Error())

	file, ok := call.ctx[models.ContextFilename].(string)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(file, "capture_test.go"), file)
	line, ok := call.ctx[models.ContextLineno].(int)
	require.True(t, ok)
	assert.Greater(t, line, 0)
	t.Logf("✓ panic located at %s:%d", file, line)
}

func TestHooks_GoErrIsUnhandled(t *testing.T) {
	h := NewHooks()
	rec := &recordingReporter{}
	installer := NewGlobalInstaller(rec, h)
	installer.Install()
	defer installer.Uninstall()

	h.GoErr(context.Background(), func(ctx context.Context) error {
		return errors.New("background job failed")
	})
	h.GoErr(context.Background(), func(ctx context.Context) error { return nil })

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, OriginUnhandled, calls[0].ctx[models.ContextOrigin])
	assert.Equal(t, "background job failed", calls[0].ctx[models.ContextReason])
	assert.Equal(t, "global", calls[0].ctx[models.ContextLevel])
}

func TestHooks_PanicWithoutListenersIsRaised(t *testing.T) {
	h := NewHooks()
	assert.PanicsWithValue(t, "unobserved", func() {
		h.HandlePanic("unobserved", nil)
	})

	// Unhandled failures without listeners are dropped
	assert.NotPanics(t, func() { h.ReportUnhandled(errors.New("x")) })
	assert.NotPanics(t, func() { h.ReportUnhandled(nil) })
}

func TestHooks_Recover(t *testing.T) {
	h := NewHooks()
	rec := &recordingReporter{}
	installer := NewGlobalInstaller(rec, h)
	installer.Install()
	defer installer.Uninstall()

	func() {
		defer h.Recover()
		panic(errors.New("handled inline"))
	}()

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "handled inline", calls[0].err.Error())
}

func TestGlobalInstaller_Idempotent(t *testing.T) {
	h := NewHooks()
	installer := NewGlobalInstaller(&recordingReporter{}, h)

	installer.Install()
	installer.Install()
	assert.True(t, installer.Installed())
	assert.Equal(t, 2, h.ListenerCount())

	installer.Uninstall()
	installer.Uninstall()
	assert.False(t, installer.Installed())
	assert.Equal(t, 0, h.ListenerCount())

	installer.Install()
	assert.Equal(t, 2, h.ListenerCount())
	installer.Uninstall()
}

func TestGlobalInstaller_DefaultsToProcessHooks(t *testing.T) {
	installer := NewGlobalInstaller(&recordingReporter{}, nil)
	before := ProcessHooks().ListenerCount()

	installer.Install()
	assert.Equal(t, before+2, ProcessHooks().ListenerCount())
	installer.Uninstall()
	assert.Equal(t, before, ProcessHooks().ListenerCount())
}

func TestParseFrameLocation(t *testing.T) {
	cases := []struct {
		line string
		file string
		n    int
		ok   bool
	}{
		{"\t/src/app/main.go:42 +0x1d", "/src/app/main.go", 42, true},
		{"\t/src/app/main.go:7", "/src/app/main.go", 7, true},
		{"\tC:/work/app.go:13 +0x5", "C:/work/app.go", 13, true},
		{"no location here", "", 0, false},
		{"\t/src/app/main.go:abc", "", 0, false},
	}

	for _, tc := range cases {
		file, n, ok := parseFrameLocation(tc.line)
		assert.Equal(t, tc.ok, ok, tc.line)
		assert.Equal(t, tc.file, file, tc.line)
		assert.Equal(t, tc.n, n, tc.line)
	}
}

func TestPanicOrigin(t *testing.T) {
	trace := strings.Join([]string{
		"goroutine 7 [running]:",
		"runtime/debug.Stack()",
		"\t/usr/local/go/src/runtime/debug/stack.go:26 +0x5e",
		"github.com/acme/app/internal/capture.(*Hooks).Go.func1.1()",
		"\t/src/internal/capture/global.go:61 +0x45",
		"panic({0x5f4d20?, 0x6b1a40?})",
		"\t/usr/local/go/src/runtime/panic.go:770 +0x132",
		"runtime.mapassign_faststr(0x0?, 0x0?, {0x6c2e1d?, 0x0?})",
		"\t/usr/local/go/src/runtime/map_faststr.go:205 +0x2a5",
		"github.com/acme/app/worker.run()",
		"\t/src/worker/run.go:88 +0x2e",
	}, "\n")

	file, line, ok := panicOrigin(trace)
	require.True(t, ok)
	assert.Equal(t, "/src/worker/run.go", file)
	assert.Equal(t, 88, line)

	_, _, ok = panicOrigin("goroutine 1 [running]:\nmain.main()\n\t/src/main.go:3 +0x1")
	assert.False(t, ok)
}

package capture

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/smartdevs17/errtrail/internal/models"
)

// PanicListener receives a recovered panic and the goroutine stack
type PanicListener func(value interface{}, stack []byte)

// UnhandledListener receives an asynchronous failure nobody handled
type UnhandledListener func(reason error)

// Hooks is a listener registry for panics and unhandled failures raised by
// goroutines started through it. With no panic listener registered a
// recovered panic is re-raised, keeping Go's crash behavior.
type Hooks struct {
	mu        sync.RWMutex
	panics    map[int]PanicListener
	unhandled map[int]UnhandledListener
	nextID    int
}

// NewHooks creates an empty registry
func NewHooks() *Hooks {
	return &Hooks{
		panics:    make(map[int]PanicListener),
		unhandled: make(map[int]UnhandledListener),
	}
}

var processHooks = NewHooks()

// ProcessHooks returns the registry used by the package-level helpers
func ProcessHooks() *Hooks { return processHooks }

// Go runs fn in a goroutine whose panics reach the process listeners
func Go(fn func()) { processHooks.Go(fn) }

// GoErr runs fn in a goroutine; a returned error is reported as unhandled
func GoErr(ctx context.Context, fn func(ctx context.Context) error) { processHooks.GoErr(ctx, fn) }

// ReportUnhandled hands err to the process unhandled-failure listeners
func ReportUnhandled(err error) { processHooks.ReportUnhandled(err) }

// Recover must be deferred directly: defer capture.Recover()
func Recover() {
	if r := recover(); r != nil {
		processHooks.HandlePanic(r, debug.Stack())
	}
}

// Go runs fn in a goroutine whose panics reach h's listeners
func (h *Hooks) Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.HandlePanic(r, debug.Stack())
			}
		}()
		fn()
	}()
}

// GoErr runs fn in a goroutine; a returned error or panic is reported
func (h *Hooks) GoErr(ctx context.Context, fn func(ctx context.Context) error) {
	h.Go(func() {
		if err := fn(ctx); err != nil {
			h.ReportUnhandled(err)
		}
	})
}

// Recover must be deferred directly: defer hooks.Recover()
func (h *Hooks) Recover() {
	if r := recover(); r != nil {
		h.HandlePanic(r, debug.Stack())
	}
}

// HandlePanic delivers a recovered value to the panic listeners
func (h *Hooks) HandlePanic(value interface{}, stack []byte) {
	h.mu.RLock()
	listeners := make([]PanicListener, 0, len(h.panics))
	for _, fn := range h.panics {
		listeners = append(listeners, fn)
	}
	h.mu.RUnlock()

	if len(listeners) == 0 {
		panic(value)
	}
	for _, fn := range listeners {
		fn(value, stack)
	}
}

// ReportUnhandled delivers err to the unhandled-failure listeners
func (h *Hooks) ReportUnhandled(err error) {
	if err == nil {
		return
	}
	h.mu.RLock()
	listeners := make([]UnhandledListener, 0, len(h.unhandled))
	for _, fn := range h.unhandled {
		listeners = append(listeners, fn)
	}
	h.mu.RUnlock()

	for _, fn := range listeners {
		fn(err)
	}
}

// ListenerCount returns how many listeners of both kinds are registered
func (h *Hooks) ListenerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.panics) + len(h.unhandled)
}

func (h *Hooks) add(p PanicListener, u UnhandledListener) (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	pid := h.nextID
	h.panics[pid] = p
	h.nextID++
	uid := h.nextID
	h.unhandled[uid] = u
	return pid, uid
}

func (h *Hooks) remove(pid, uid int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.panics, pid)
	delete(h.unhandled, uid)
}

// GlobalInstaller connects a Hooks registry to the capture entry point.
// Install and Uninstall are idempotent.
type GlobalInstaller struct {
	mu        sync.Mutex
	hooks     *Hooks
	reporter  Reporter
	installed bool
	panicID   int
	unhandID  int
}

// NewGlobalInstaller binds reporter to hooks; nil hooks means ProcessHooks
func NewGlobalInstaller(reporter Reporter, hooks *Hooks) *GlobalInstaller {
	if hooks == nil {
		hooks = processHooks
	}
	return &GlobalInstaller{hooks: hooks, reporter: reporter}
}

// Install registers the panic and unhandled-failure listeners once
func (g *GlobalInstaller) Install() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.installed {
		return
	}
	g.panicID, g.unhandID = g.hooks.add(g.onPanic, g.onUnhandled)
	g.installed = true
}

// Uninstall removes both listeners
func (g *GlobalInstaller) Uninstall() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.installed {
		return
	}
	g.hooks.remove(g.panicID, g.unhandID)
	g.installed = false
}

// Installed reports whether the listeners are registered
func (g *GlobalInstaller) Installed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.installed
}

func (g *GlobalInstaller) onPanic(value interface{}, stack []byte) {
	trace := string(stack)
	ctx := models.Context{
		models.ContextLevel:          string(models.CaptureGlobal),
		models.ContextOrigin:         OriginPanic,
		models.ContextComponentStack: trace,
	}
	if file, line, ok := panicOrigin(trace); ok {
		ctx[models.ContextFilename] = file
		ctx[models.ContextLineno] = line
	}
	g.reporter.Capture(&models.StackError{Err: panicValueError(value), Stack: trace}, ctx)
}

func (g *GlobalInstaller) onUnhandled(reason error) {
	g.reporter.Capture(reason, models.Context{
		models.ContextLevel:  string(models.CaptureGlobal),
		models.ContextOrigin: OriginUnhandled,
		models.ContextReason: reason.Error(),
	})
}

// panicOrigin finds the first non-runtime frame after the panic call in a
// debug.Stack trace
func panicOrigin(trace string) (string, int, bool) {
	lines := strings.Split(trace, "\n")
	afterPanic := false
	for i := 0; i+1 < len(lines); i++ {
		fn := strings.TrimSpace(lines[i])
		if strings.HasPrefix(fn, "panic(") {
			afterPanic = true
			continue
		}
		if !afterPanic || isRuntimeFrame(fn) || strings.HasPrefix(lines[i], "\t") {
			continue
		}
		return parseFrameLocation(lines[i+1])
	}
	return "", 0, false
}

func isRuntimeFrame(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") || strings.HasPrefix(fn, "internal/runtime/")
}

// parseFrameLocation reads "\t/path/file.go:42 +0x1d"
func parseFrameLocation(line string) (string, int, bool) {
	loc := strings.TrimSpace(line)
	if i := strings.LastIndex(loc, " +0x"); i >= 0 {
		loc = loc[:i]
	}
	i := strings.LastIndex(loc, ":")
	if i < 0 {
		return "", 0, false
	}
	var n int
	if _, err := fmt.Sscanf(loc[i+1:], "%d", &n); err != nil {
		return "", 0, false
	}
	return loc[:i], n, true
}


// Package capture turns failures from every origin into ledger entries.
//
// A Capturer is built once with its ledger and handed to boundaries, the
// global installer and the HTTP ingest endpoint, so all origins share one
// normalization path.
package capture

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/errtrail/internal/env"
	"github.com/smartdevs17/errtrail/internal/metrics"
	"github.com/smartdevs17/errtrail/internal/models"
	"github.com/smartdevs17/errtrail/pkg/utils"
)

// Origins recorded under the origin context key
const (
	OriginManual    = "manual"
	OriginBoundary  = "boundary"
	OriginPanic     = "panic"
	OriginUnhandled = "unhandled"
	OriginClient    = "client"
)

// Recorder stores a captured error; *ledger.Ledger implements it
type Recorder interface {
	AddError(err error, ctx models.Context) models.ErrorEntry
}

// Reporter is the capture entry point consumed by boundaries and listeners
type Reporter interface {
	Capture(err error, ctx models.Context)
}

// Capturer enriches a failure with the environment and records it
type Capturer struct {
	recorder     Recorder
	env          env.Provider
	defaultLevel models.CaptureLevel
	metrics      *metrics.PrometheusMetrics
	logger       *logrus.Entry
}

// CapturerOption customizes a Capturer
type CapturerOption func(*Capturer)

// WithCaptureEnv sets the environment provider
func WithCaptureEnv(provider env.Provider) CapturerOption {
	return func(c *Capturer) { c.env = provider }
}

// WithDefaultLevel sets the level used when a context carries none
func WithDefaultLevel(level models.CaptureLevel) CapturerOption {
	return func(c *Capturer) {
		if level.Valid() {
			c.defaultLevel = level
		}
	}
}

// WithCaptureMetrics records captures by origin and level
func WithCaptureMetrics(m *metrics.PrometheusMetrics) CapturerOption {
	return func(c *Capturer) { c.metrics = m }
}

// WithCaptureLogger sets the logger used when capture itself fails
func WithCaptureLogger(logger *logrus.Logger) CapturerOption {
	return func(c *Capturer) { c.logger = utils.ComponentLogger(logger, "capture") }
}

// NewCapturer creates the capture entry point bound to recorder
func NewCapturer(recorder Recorder, opts ...CapturerOption) *Capturer {
	c := &Capturer{
		recorder:     recorder,
		defaultLevel: models.CaptureComponent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.env == nil {
		c.env = env.NewProcess("errtrail", "")
	}
	if c.logger == nil {
		c.logger = utils.ComponentLogger(nil, "capture")
	}
	return c
}

// Capture records err. It never panics and never reports failure.
func (c *Capturer) Capture(err error, ctx models.Context) {
	defer func() {
		if r := recover(); r != nil {
			appErr := utils.NewAppError(utils.ErrCodeInternal, "Capture failed", fmt.Sprint(r)).WithStackTrace()
			c.logger.WithError(appErr).WithField("stack", appErr.StackTrace).Error("Capture failed")
		}
	}()

	ctx = ctx.Clone()
	if ctx == nil {
		ctx = models.Context{}
	}

	if !models.CaptureLevel(ctx.String(models.ContextLevel)).Valid() {
		ctx[models.ContextLevel] = string(c.defaultLevel)
	}

	snap := c.env.Snapshot()
	ctx.SetDefault(models.ContextTimestamp, snap.Timestamp.Format(time.RFC3339Nano))
	ctx.SetDefault(models.ContextURL, snap.URL)
	ctx.SetDefault(models.ContextUserAgent, snap.UserAgent)

	origin := ctx.String(models.ContextOrigin)
	if origin == "" {
		origin = OriginManual
	}
	c.metrics.RecordCapture(origin, ctx.String(models.ContextLevel))

	c.recorder.AddError(err, ctx)
}

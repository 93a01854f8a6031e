// File: internal/sink/remote.go
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/errtrail/internal/models"
	"github.com/smartdevs17/errtrail/pkg/utils"
)

const (
	defaultRemoteTimeout    = 5 * time.Second
	defaultRetryBaseDelay   = 200 * time.Millisecond
	defaultRetryMaxBackoff  = 2 * time.Second
	remotePayloadType       = "log_entry"
	remotePayloadVersion    = "1.0"
	defaultRemoteSourceName = "errtrail"
)

// Remote ships a single log entry to a collector endpoint
type Remote interface {
	Send(ctx context.Context, endpoint string, entry models.LogEntry) error
}

// RemoteConfig configures the HTTP remote sink
type RemoteConfig struct {
	Source  string
	Timeout time.Duration
	Retries int
}

// RemotePayload is the body posted to the collector
type RemotePayload struct {
	Source    string          `json:"source"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"sessionId"`
	Data      models.LogEntry `json:"data"`
	Version   string          `json:"version"`
}

// RemoteSink posts log entries as JSON with retry on transient failures
type RemoteSink struct {
	config RemoteConfig
	logger *logrus.Entry
	http   *resty.Client
}

// NewRemoteSink creates a remote sink
func NewRemoteSink(config RemoteConfig, logger *logrus.Logger) *RemoteSink {
	if config.Timeout <= 0 {
		config.Timeout = defaultRemoteTimeout
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	if config.Source == "" {
		config.Source = defaultRemoteSourceName
	}

	httpClient := resty.New().
		SetTimeout(config.Timeout).
		SetRetryCount(config.Retries).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "errtrail-remote-sink/1.0")

	return &RemoteSink{
		config: config,
		logger: utils.ComponentLogger(logger, "remote_sink"),
		http:   httpClient,
	}
}

// isRetryableResp retries transport errors, 5xx, 429 and 408
func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

// Send posts entry to endpoint. Any non-2xx answer after retries is an error.
func (rs *RemoteSink) Send(ctx context.Context, endpoint string, entry models.LogEntry) error {
	if endpoint == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Remote endpoint is required", "")
	}

	payload := RemotePayload{
		Source:    rs.config.Source,
		Type:      remotePayloadType,
		Timestamp: time.Now().UTC(),
		SessionID: entry.SessionID,
		Data:      entry,
		Version:   remotePayloadVersion,
	}

	start := time.Now()
	resp, err := rs.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(endpoint)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeExternal, "Failed to send log entry", err.Error())
	}

	if resp.IsError() {
		return utils.NewAppError(utils.ErrCodeExternal,
			"Remote endpoint rejected log entry",
			fmt.Sprintf("status %d", resp.StatusCode()))
	}

	rs.logger.WithFields(logrus.Fields{
		"endpoint":    endpoint,
		"log_id":      entry.ID,
		"status_code": resp.StatusCode(),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Log entry delivered")

	return nil
}

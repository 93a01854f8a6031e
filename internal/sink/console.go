// File: internal/sink/console.go
package sink

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/errtrail/internal/models"
	"github.com/smartdevs17/errtrail/pkg/utils"
)

// Console receives every entry the structured logger accepts when console output is enabled
type Console interface {
	Write(entry models.LogEntry)
}

// ConsoleSink writes log entries through logrus
type ConsoleSink struct {
	logger *logrus.Entry
}

// NewConsoleSink creates a console sink; a nil logger falls back to the process logger
func NewConsoleSink(logger *logrus.Logger) *ConsoleSink {
	return &ConsoleSink{
		logger: utils.ComponentLogger(logger, "console"),
	}
}

// Write prints "[LEVEL] message" with the entry's context as fields
func (cs *ConsoleSink) Write(entry models.LogEntry) {
	fields := logrus.Fields{
		"log_id":     entry.ID,
		"session_id": entry.SessionID,
	}
	if entry.URL != "" {
		fields["url"] = entry.URL
	}
	if len(entry.Context) > 0 {
		fields["context"] = map[string]interface{}(entry.Context)
	}
	if len(entry.Metadata) > 0 {
		fields["metadata"] = entry.Metadata
	}
	if entry.Error != nil {
		fields["error_name"] = entry.Error.Name
		if entry.Error.Stack != "" {
			fields["stack"] = entry.Error.Stack
		}
	}

	line := cs.logger.WithFields(fields).WithTime(entry.Timestamp)
	message := "[" + strings.ToUpper(string(entry.Level)) + "] " + entry.Message

	switch entry.Level {
	case models.LevelError:
		line.Error(message)
	case models.LevelWarn:
		line.Warn(message)
	case models.LevelInfo:
		line.Info(message)
	default:
		line.Debug(message)
	}
}

package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// TimestampFormat is shared by the json and text formatters
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

var defaultLogger *logrus.Logger

// InitLogger builds the process logger and remembers it as the fallback
// returned by GetLogger. Components receive the result explicitly.
func InitLogger(level, format, output, file string) (*logrus.Logger, error) {
	logger, err := NewLogger(level, format, output, file)
	if err != nil {
		return nil, err
	}
	defaultLogger = logger
	return logger, nil
}

// NewLogger creates a configured logrus logger without touching the fallback
func NewLogger(level, format, output, file string) (*logrus.Logger, error) {
	logger := logrus.New()

	// Set log level
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(logLevel)

	// Set format
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: TimestampFormat})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: TimestampFormat})
	}

	// Set output
	switch {
	case output == "file" && file != "":
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		logger.SetOutput(f)
	case output == "stderr":
		logger.SetOutput(os.Stderr)
	default:
		logger.SetOutput(os.Stdout)
	}

	return logger, nil
}

// GetLogger returns the process logger, creating a default one if needed
func GetLogger() *logrus.Logger {
	if defaultLogger == nil {
		// Initialize with defaults if not already initialized
		InitLogger("info", "json", "stdout", "")
	}
	return defaultLogger
}

// ComponentLogger returns an entry tagged with the component name, falling
// back to the process logger when logger is nil
func ComponentLogger(logger *logrus.Logger, component string) *logrus.Entry {
	if logger == nil {
		logger = GetLogger()
	}
	return logger.WithField("component", component)
}

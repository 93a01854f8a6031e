package models

import "errors"

// ExportVersion is the only export format version accepted on import
const ExportVersion = "1.0"

var (
	// ErrInvalidLogData is returned when a logger import payload is malformed
	ErrInvalidLogData = errors.New("invalid log data")
	// ErrInvalidErrorData is returned when a ledger import payload is malformed
	ErrInvalidErrorData = errors.New("invalid error data")
)

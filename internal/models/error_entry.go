package models

import "time"

// ErrorEntry is a resolvable record in the error ledger
type ErrorEntry struct {
	ID         string    `json:"id"`
	Error      ErrorInfo `json:"error"`
	Context    Context   `json:"context,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Resolved   bool      `json:"resolved"`
	RetryCount *int      `json:"retryCount,omitempty"`
}

// Level returns the capture scope stored in the entry context
func (e *ErrorEntry) Level() CaptureLevel {
	return CaptureLevel(e.Context.String(ContextLevel))
}

// Clone returns a copy that shares nothing mutable with e
func (e ErrorEntry) Clone() ErrorEntry {
	out := e
	out.Context = e.Context.Clone()
	if e.RetryCount != nil {
		n := *e.RetryCount
		out.RetryCount = &n
	}
	return out
}

// ErrorCounts are the ledger's derived counters
type ErrorCounts struct {
	ErrorCount      int `json:"errorCount"`
	UnresolvedCount int `json:"unresolvedCount"`
}

// PersistedErrors is the durable layout of the ledger
type PersistedErrors struct {
	Errors    []ErrorEntry `json:"errors"`
	LastSaved time.Time    `json:"lastSaved"`
}

// ErrorExport is the ledger export file format
type ErrorExport struct {
	Errors     []ErrorEntry `json:"errors"`
	ExportDate time.Time    `json:"exportDate"`
	Version    string       `json:"version"`
}

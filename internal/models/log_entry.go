package models

import "time"

// LogEntry is a leveled record kept by the structured logger
type LogEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level"`
	Message   string                 `json:"message"`
	Error     *ErrorInfo             `json:"error,omitempty"`
	Context   Context                `json:"context,omitempty"`
	UserAgent string                 `json:"userAgent"`
	URL       string                 `json:"url"`
	SessionID string                 `json:"sessionId"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a copy that shares no maps with e
func (e LogEntry) Clone() LogEntry {
	out := e
	out.Context = e.Context.Clone()
	if e.Error != nil {
		info := *e.Error
		out.Error = &info
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// LogStats summarizes the logger buffer
type LogStats struct {
	Total      int    `json:"total"`
	ErrorCount int    `json:"errorCount"`
	WarnCount  int    `json:"warnCount"`
	InfoCount  int    `json:"infoCount"`
	DebugCount int    `json:"debugCount"`
	SessionID  string `json:"sessionId"`
}

// PersistedLogs is the durable layout of the logger buffer
type PersistedLogs struct {
	Logs        []LogEntry `json:"logs"`
	LastUpdated time.Time  `json:"lastUpdated"`
	SessionID   string     `json:"sessionId"`
}

// LogExport is the logger export file format
type LogExport struct {
	Logs       []LogEntry `json:"logs"`
	SessionID  string     `json:"sessionId"`
	ExportedAt time.Time  `json:"exportedAt"`
	Version    string     `json:"version"`
}

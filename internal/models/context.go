package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Level is the severity of a LogEntry
type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// Levels lists every log level, most severe first
var Levels = []Level{LevelError, LevelWarn, LevelInfo, LevelDebug}

// Valid reports whether l is a known level
func (l Level) Valid() bool {
	switch l {
	case LevelError, LevelWarn, LevelInfo, LevelDebug:
		return true
	}
	return false
}

// ParseLevel converts a string into a Level
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// CaptureLevel is the scope a captured error originated from
type CaptureLevel string

const (
	CaptureGlobal    CaptureLevel = "global"
	CapturePage      CaptureLevel = "page"
	CaptureComponent CaptureLevel = "component"
)

// Valid reports whether c is a known capture scope
func (c CaptureLevel) Valid() bool {
	switch c {
	case CaptureGlobal, CapturePage, CaptureComponent:
		return true
	}
	return false
}

// Reserved context keys
const (
	ContextLevel          = "level"
	ContextComponentStack = "componentStack"
	ContextTimestamp      = "timestamp"
	ContextURL            = "url"
	ContextUserAgent      = "userAgent"
	ContextRetryCount     = "retryCount"
	ContextBoundary       = "boundary"
	ContextFilename       = "filename"
	ContextLineno         = "lineno"
	ContextColno          = "colno"
	ContextReason         = "reason"
	ContextOrigin         = "origin"
)

// Context is the open key-value map attached to captured errors and log entries
type Context map[string]interface{}

// Clone returns a shallow copy; nil stays nil
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Normalized returns a copy holding the values as they read back from JSON,
// so a live record equals its persisted and re-imported copies. Values that
// cannot be encoded are kept as their fmt representation. Empty maps become nil.
func (c Context) Normalized() Context {
	return Context(NormalizeMap(c))
}

// NormalizeMap is Normalized for plain metadata maps
func NormalizeMap(m map[string]interface{}) map[string]interface{} {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = jsonValue(v)
	}
	return out
}

func jsonValue(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Sprint(v)
	}
	return out
}

// String returns the value under key when it is a string
func (c Context) String(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// Int returns the value under key as an int. JSON-decoded numbers arrive as float64.
func (c Context) Int(key string) (int, bool) {
	switch v := c[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// SetDefault stores value under key unless the key already holds a non-empty value
func (c Context) SetDefault(key string, value interface{}) {
	if existing, ok := c[key]; ok && existing != nil && existing != "" {
		return
	}
	c[key] = value
}

// ErrorInfo is a captured error held by value
type ErrorInfo struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// stackTracer is implemented by errors that carry their own stack
type stackTracer interface {
	StackTrace() string
}

// ErrorInfoFrom copies err into an ErrorInfo so the record never aliases it
func ErrorInfoFrom(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{Name: "Error", Message: "unknown error"}
	}

	if info, ok := err.(ErrorInfo); ok {
		return info
	}

	named := err
	if se, ok := err.(*StackError); ok && se.Err != nil {
		named = se.Err
	}

	info := ErrorInfo{
		Name:    errorName(named),
		Message: err.Error(),
	}

	var st stackTracer
	if errors.As(err, &st) {
		info.Stack = st.StackTrace()
	}
	return info
}

func errorName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "Error"
	}
	return t.String()
}

// Error re-creates an error value from the record
func (e ErrorInfo) Error() string {
	return e.Message
}

// StackError wraps an error with an explicit stack trace
type StackError struct {
	Err   error
	Stack string
}

func (e *StackError) Error() string      { return e.Err.Error() }
func (e *StackError) Unwrap() error      { return e.Err }
func (e *StackError) StackTrace() string { return e.Stack }

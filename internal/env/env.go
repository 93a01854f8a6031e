// Package env abstracts the ambient values a capture needs (origin URL,
// agent string, current time) so the core never reads process globals.
package env

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Snapshot is the environment at the moment of one event
type Snapshot struct {
	URL       string
	UserAgent string
	Timestamp time.Time
}

// Provider is queried once per capture or log event
type Provider interface {
	Snapshot() Snapshot
}

// ProviderFunc adapts a function to Provider
type ProviderFunc func() Snapshot

// Snapshot implements Provider
func (f ProviderFunc) Snapshot() Snapshot { return f() }

// Process describes the running binary
type Process struct {
	URL       string
	UserAgent string
}

// NewProcess builds a Process provider for the current executable
func NewProcess(appName, version string) *Process {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	exe := appName
	if path, err := os.Executable(); err == nil {
		exe = filepath.Base(path)
	}
	return &Process{
		URL:       fmt.Sprintf("process://%s/%s", host, exe),
		UserAgent: fmt.Sprintf("%s/%s (%s; %s/%s)", appName, version, runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
}

// Snapshot implements Provider
func (p *Process) Snapshot() Snapshot {
	return Snapshot{
		URL:       p.URL,
		UserAgent: p.UserAgent,
		Timestamp: time.Now().UTC(),
	}
}

// FromRequest snapshots an inbound HTTP request. A client-reported page URL
// is carried in the Referer header.
func FromRequest(r *http.Request) Snapshot {
	url := r.Referer()
	if url == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		url = fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.RequestURI())
	}
	return Snapshot{
		URL:       url,
		UserAgent: r.UserAgent(),
		Timestamp: time.Now().UTC(),
	}
}

// Static always returns the same URL and agent with a caller supplied clock
type Static struct {
	URL       string
	UserAgent string
	Now       func() time.Time
}

// Snapshot implements Provider
func (s *Static) Snapshot() Snapshot {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return Snapshot{URL: s.URL, UserAgent: s.UserAgent, Timestamp: now().UTC()}
}

// Ticker returns a clock that starts at start and advances by step per call
func Ticker(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	current := start.Add(-step)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(step)
		return current
	}
}

package env

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProcess(t *testing.T) {
	p := NewProcess("errtrail", "1.2.3")
	assert.True(t, strings.HasPrefix(p.URL, "process://"))
	assert.True(t, strings.HasPrefix(p.UserAgent, "errtrail/1.2.3 ("))

	snap := p.Snapshot()
	assert.Equal(t, p.URL, snap.URL)
	assert.Equal(t, time.UTC, snap.Timestamp.Location())
}

func TestFromRequest(t *testing.T) {
	req := httptest.NewRequest("POST", "http://collector.local/api/v1/capture?x=1", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")

	snap := FromRequest(req)
	assert.Equal(t, "http://collector.local/api/v1/capture?x=1", snap.URL)
	assert.Equal(t, "Mozilla/5.0", snap.UserAgent)

	req.Header.Set("Referer", "https://app.example.com/board")
	assert.Equal(t, "https://app.example.com/board", FromRequest(req).URL)
}

func TestStaticAndTicker(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Static{URL: "test://", UserAgent: "go-test", Now: Ticker(start, time.Second)}

	first := s.Snapshot()
	second := s.Snapshot()
	assert.Equal(t, start, first.Timestamp)
	assert.Equal(t, start.Add(time.Second), second.Timestamp)
	assert.Equal(t, "test://", second.URL)

	var fn Provider = ProviderFunc(func() Snapshot { return Snapshot{URL: "fn://"} })
	assert.Equal(t, "fn://", fn.Snapshot().URL)
}

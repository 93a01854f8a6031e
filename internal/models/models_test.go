package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quotaError struct{}

func (quotaError) Error() string { return "quota exceeded" }

func TestLevels(t *testing.T) {
	for _, l := range Levels {
		parsed, err := ParseLevel(string(l))
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}

	_, err := ParseLevel("fatal")
	assert.Error(t, err)
	assert.False(t, Level("").Valid())

	assert.True(t, CaptureGlobal.Valid())
	assert.True(t, CapturePage.Valid())
	assert.True(t, CaptureComponent.Valid())
	assert.False(t, CaptureLevel("widget").Valid())
}

func TestContext(t *testing.T) {
	t.Run("clone", func(t *testing.T) {
		var nilCtx Context
		assert.Nil(t, nilCtx.Clone())

		ctx := Context{"a": 1}
		clone := ctx.Clone()
		clone["a"] = 2
		assert.Equal(t, 1, ctx["a"])
	})

	t.Run("accessors", func(t *testing.T) {
		ctx := Context{"s": "x", "i": 3, "f": float64(4), "i64": int64(5), "bad": "7"}
		assert.Equal(t, "x", ctx.String("s"))
		assert.Equal(t, "", ctx.String("i"))

		for key, want := range map[string]int{"i": 3, "f": 4, "i64": 5} {
			got, ok := ctx.Int(key)
			assert.True(t, ok, key)
			assert.Equal(t, want, got, key)
		}
		_, ok := ctx.Int("bad")
		assert.False(t, ok)
	})

	t.Run("set default", func(t *testing.T) {
		ctx := Context{"url": "", "level": "page"}
		ctx.SetDefault("url", "process://host/app")
		ctx.SetDefault("level", "component")
		ctx.SetDefault("userAgent", "agent")
		assert.Equal(t, "process://host/app", ctx["url"])
		assert.Equal(t, "page", ctx["level"])
		assert.Equal(t, "agent", ctx["userAgent"])
	})

	t.Run("normalized", func(t *testing.T) {
		type point struct {
			X int `json:"x"`
		}
		ctx := Context{
			"retryCount": 2,
			"ids":        []string{"a", "b"},
			"at":         point{X: 1},
			"ch":         make(chan int),
			"nothing":    nil,
		}
		norm := ctx.Normalized()
		assert.Equal(t, float64(2), norm["retryCount"])
		assert.Equal(t, []interface{}{"a", "b"}, norm["ids"])
		assert.Equal(t, map[string]interface{}{"x": float64(1)}, norm["at"])
		assert.IsType(t, "", norm["ch"])
		assert.Nil(t, norm["nothing"])
		assert.Equal(t, 2, ctx["retryCount"], "receiver is not modified")

		var decoded Context
		data, err := json.Marshal(norm)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, norm, decoded)

		assert.Nil(t, Context{}.Normalized())
		assert.Nil(t, NormalizeMap(nil))
	})
}

func TestErrorInfoFrom(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		info := ErrorInfoFrom(nil)
		assert.Equal(t, "Error", info.Name)
		assert.Equal(t, "unknown error", info.Message)
	})

	t.Run("named error type", func(t *testing.T) {
		info := ErrorInfoFrom(quotaError{})
		assert.Equal(t, "models.quotaError", info.Name)
		assert.Equal(t, "quota exceeded", info.Message)
		assert.Empty(t, info.Stack)
	})

	t.Run("anonymous error", func(t *testing.T) {
		info := ErrorInfoFrom(errors.New("boom"))
		assert.Equal(t, "errors.errorString", info.Name)
	})

	t.Run("stack error", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", &StackError{Err: quotaError{}, Stack: "main.go:1"})
		info := ErrorInfoFrom(err)
		assert.Equal(t, "wrapped: quota exceeded", info.Message)
		assert.Equal(t, "main.go:1", info.Stack)

		direct := ErrorInfoFrom(&StackError{Err: quotaError{}, Stack: "main.go:2"})
		assert.Equal(t, "models.quotaError", direct.Name)
	})

	t.Run("error info passes through", func(t *testing.T) {
		in := ErrorInfo{Name: "TypeError", Message: "x is undefined", Stack: "at f"}
		assert.Equal(t, in, ErrorInfoFrom(in))
	})
}

func TestErrorEntryClone(t *testing.T) {
	n := 2
	entry := ErrorEntry{
		ID:         "1",
		Error:      ErrorInfo{Message: "boom"},
		Context:    Context{ContextLevel: "page"},
		Timestamp:  time.Now().UTC(),
		RetryCount: &n,
	}
	assert.Equal(t, CapturePage, entry.Level())

	clone := entry.Clone()
	clone.Context[ContextLevel] = "global"
	*clone.RetryCount = 5
	assert.Equal(t, "page", entry.Context[ContextLevel])
	assert.Equal(t, 2, *entry.RetryCount)
}

func TestLogEntryJSON(t *testing.T) {
	entry := LogEntry{
		ID:        "1-abc",
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:     LevelWarn,
		Message:   "slow",
		SessionID: "session_1_abc",
		Metadata:  map[string]interface{}{"k": "v"},
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "warn", raw["level"])
	assert.Equal(t, "session_1_abc", raw["sessionId"])
	assert.Contains(t, raw, "userAgent")
	assert.NotContains(t, raw, "error")

	clone := entry.Clone()
	clone.Metadata["k"] = "changed"
	assert.Equal(t, "v", entry.Metadata["k"])
}

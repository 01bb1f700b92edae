package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRecentNewestFirst(t *testing.T) {
	m := NewManager(nil)
	m.Info("scheduler", "first", nil)
	m.Warn("runner", "second", nil)
	m.Error("scheduler", "third", nil)

	entries := m.GetRecent(10, "", "", time.Time{})
	require.Len(t, entries, 3)
	assert.Equal(t, "third", entries[0].Message)
	assert.Equal(t, "first", entries[2].Message)

	limited := m.GetRecent(2, "", "", time.Time{})
	require.Len(t, limited, 2)
	assert.Equal(t, "third", limited[0].Message)
	assert.Equal(t, "second", limited[1].Message)
}

func TestGetRecentFilters(t *testing.T) {
	m := NewManager(nil)
	m.Info("scheduler", "tick", nil)
	m.Error("runner", "spawn failed", nil)

	bySource := m.GetRecent(10, "", "runner", time.Time{})
	require.Len(t, bySource, 1)
	assert.Equal(t, "spawn failed", bySource[0].Message)

	byLevel := m.GetRecent(10, LogLevelInfo, "", time.Time{})
	require.Len(t, byLevel, 1)
	assert.Equal(t, "tick", byLevel[0].Message)

	future := m.GetRecent(10, "", "", time.Now().Add(time.Hour))
	assert.Empty(t, future)
}

func TestParseLine(t *testing.T) {
	level, source, msg := parseLine("2026/01/02 15:04:05 [Scheduler] job morning-brief failed: boom\n")
	assert.Equal(t, LogLevelError, level)
	assert.Equal(t, "scheduler", source)
	assert.Equal(t, "job morning-brief failed: boom", msg)

	level, source, msg = parseLine("plain message")
	assert.Equal(t, LogLevelInfo, level)
	assert.Equal(t, "system", source)
	assert.Equal(t, "plain message", msg)

	level, _, _ = parseLine("[Router] warning: invalid pattern")
	assert.Equal(t, LogLevelWarn, level)
}

func TestMirrorAndHandlers(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(&buf)

	got := make(chan LogEntry, 1)
	m.AddHandler(func(e LogEntry) { got <- e })
	m.Info("api", "listening", nil)

	select {
	case e := <-got:
		assert.Equal(t, "listening", e.Message)
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}
	assert.True(t, strings.Contains(buf.String(), "[api] listening"))
}

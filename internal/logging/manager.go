package logging

import (
	"container/ring"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
)

const (
	// MaxBufferSize is the maximum number of log entries to keep in memory
	MaxBufferSize = 5000

	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// LogEntry represents a single log entry
type LogEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Source    string                 `json:"source"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Manager keeps a bounded in-memory history of log lines and fans them out
// to registered handlers. Lines are optionally mirrored to an io.Writer.
type Manager struct {
	mu       sync.RWMutex
	buffer   *ring.Ring
	handlers []func(LogEntry)
	mirror   io.Writer
	seq      uint64
}

// NewManager creates a new logging manager. mirror may be nil.
func NewManager(mirror io.Writer) *Manager {
	return &Manager{
		buffer: ring.New(MaxBufferSize),
		mirror: mirror,
	}
}

// Log adds a log entry to the buffer and notifies handlers.
func (m *Manager) Log(level, source, message string, metadata map[string]interface{}) {
	now := time.Now()

	m.mu.Lock()
	m.seq++
	entry := LogEntry{
		ID:        fmt.Sprintf("log-%d-%d", now.UnixNano(), m.seq),
		Timestamp: now,
		Level:     level,
		Source:    source,
		Message:   message,
		Metadata:  metadata,
	}
	m.buffer.Value = entry
	m.buffer = m.buffer.Next()
	handlers := append([]func(LogEntry){}, m.handlers...)
	mirror := m.mirror
	m.mu.Unlock()

	if mirror != nil {
		fmt.Fprintf(mirror, "%s %-5s [%s] %s\n", now.Format(time.RFC3339), strings.ToUpper(level), source, message)
	}

	for _, handler := range handlers {
		go handler(entry)
	}
}

// GetRecent returns up to limit of the most recent entries, newest first.
// Empty filters match everything.
func (m *Manager) GetRecent(limit int, levelFilter, sourceFilter string, since time.Time) []LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > MaxBufferSize {
		limit = 100
	}

	// Ring.Do walks oldest to newest starting at the write cursor.
	matched := make([]LogEntry, 0, limit)
	m.buffer.Do(func(v interface{}) {
		entry, ok := v.(LogEntry)
		if !ok {
			return
		}
		if levelFilter != "" && entry.Level != levelFilter {
			return
		}
		if sourceFilter != "" && entry.Source != sourceFilter {
			return
		}
		if !since.IsZero() && entry.Timestamp.Before(since) {
			return
		}
		matched = append(matched, entry)
	})

	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	for i := 0; i < len(matched)/2; i++ {
		matched[i], matched[len(matched)-1-i] = matched[len(matched)-1-i], matched[i]
	}
	return matched
}

// AddHandler registers a handler to be called for each new log entry
func (m *Manager) AddHandler(handler func(LogEntry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

func (m *Manager) Debug(source, message string, metadata map[string]interface{}) {
	m.Log(LogLevelDebug, source, message, metadata)
}

func (m *Manager) Info(source, message string, metadata map[string]interface{}) {
	m.Log(LogLevelInfo, source, message, metadata)
}

func (m *Manager) Warn(source, message string, metadata map[string]interface{}) {
	m.Log(LogLevelWarn, source, message, metadata)
}

func (m *Manager) Error(source, message string, metadata map[string]interface{}) {
	m.Log(LogLevelError, source, message, metadata)
}

// logInterceptWriter implements io.Writer so that Go's standard log package
// output is captured and routed through the logging manager.
type logInterceptWriter struct {
	manager *Manager
}

// Write parses "[Component] message" lines from log.Printf call sites.
func (w *logInterceptWriter) Write(p []byte) (n int, err error) {
	level, source, msg := parseLine(string(p))
	w.manager.Log(level, source, msg, nil)
	return len(p), nil
}

func parseLine(line string) (level, source, msg string) {
	msg = strings.TrimSpace(line)
	// Standard log format: "2006/01/02 15:04:05 message"
	if len(msg) > 20 && msg[4] == '/' && msg[7] == '/' && msg[10] == ' ' {
		msg = strings.TrimSpace(msg[20:])
	}

	level = LogLevelInfo
	source = "system"

	lowerMsg := strings.ToLower(msg)
	if strings.Contains(lowerMsg, "error") || strings.Contains(lowerMsg, "fail") {
		level = LogLevelError
	} else if strings.Contains(lowerMsg, "warn") {
		level = LogLevelWarn
	}

	// "[Scheduler] message" -> source=scheduler
	if len(msg) > 2 && msg[0] == '[' {
		end := strings.Index(msg, "]")
		if end > 1 {
			source = strings.ToLower(msg[1:end])
			msg = strings.TrimSpace(msg[end+1:])
		}
	}
	return level, source, msg
}

// InstallLogInterceptor redirects Go's standard log package through this manager.
// Call this once at startup after creating the manager.
func (m *Manager) InstallLogInterceptor() {
	log.SetOutput(&logInterceptWriter{manager: m})
	log.SetFlags(0)
}

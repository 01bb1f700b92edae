// Package usage records which skill and modifier fragments were pulled into
// assembled prompts. Recording is fire-and-forget and never blocks a caller.
package usage

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jordanhubbard/ensemble/internal/metrics"
)

const defaultQueueSize = 256

// Entry is one usage line in the JSONL log.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	PersonaID string    `json:"persona_id"`
	Kind      string    `json:"kind"` // "skill" or "modifier"
	Name      string    `json:"name"`
}

// Recorder drains usage entries to an append-only JSONL file in the background.
type Recorder struct {
	path    string
	metrics *metrics.Metrics
	queue   chan Entry

	closeOnce sync.Once
	done      chan struct{}
}

// NewRecorder starts a recorder. An empty path disables the file sink; the
// metrics counter still runs when m is non-nil.
func NewRecorder(path string, m *metrics.Metrics) *Recorder {
	r := &Recorder{
		path:    path,
		metrics: m,
		queue:   make(chan Entry, defaultQueueSize),
		done:    make(chan struct{}),
	}
	go r.drain()
	return r
}

// Record enqueues an entry. When the queue is full the entry is dropped.
func (r *Recorder) Record(e Entry) {
	if r == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	defer func() {
		// Record after Close must not panic the prompt path.
		_ = recover()
	}()
	select {
	case r.queue <- e:
	default:
		if r.metrics != nil {
			r.metrics.UsageDropped.Inc()
		}
	}
}

// Close stops accepting entries and waits for the queue to drain.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		close(r.queue)
		<-r.done
	})
}

func (r *Recorder) drain() {
	defer close(r.done)

	var f *os.File
	if r.path != "" {
		if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
			log.Printf("[Usage] Warning: cannot create log dir: %v", err)
		} else if file, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err != nil {
			log.Printf("[Usage] Warning: cannot open %s: %v", r.path, err)
		} else {
			f = file
			defer f.Close()
		}
	}

	var enc *json.Encoder
	if f != nil {
		enc = json.NewEncoder(f)
	}
	for e := range r.queue {
		if r.metrics != nil {
			r.metrics.SkillUsage.WithLabelValues(e.Kind, e.Name).Inc()
		}
		if enc != nil {
			if err := enc.Encode(e); err != nil {
				log.Printf("[Usage] Warning: write failed: %v", err)
			}
		}
	}
}

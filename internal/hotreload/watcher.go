// Package hotreload watches the character configuration root and invalidates
// caches when persona, knowledge or override files change.
package hotreload

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Invalidator is called once per settled burst of changes.
type Invalidator func(changed []string)

// Watcher collapses bursts of file events under root into single
// invalidation calls.
type Watcher struct {
	root     string
	debounce time.Duration

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	targets []Invalidator
	pending map[string]struct{}
	timer   *time.Timer
}

// NewWatcher builds a watcher for root. Nothing is watched until Start.
func NewWatcher(root string, debounce time.Duration) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		root:     filepath.Clean(root),
		debounce: debounce,
		watcher:  w,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]struct{}),
	}, nil
}

// OnChange registers a target. Must be called before Start.
func (w *Watcher) OnChange(fn Invalidator) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.targets = append(w.targets, fn)
}

// Start registers every directory under root and begins dispatching.
func (w *Watcher) Start() error {
	if err := w.addTree(w.root); err != nil {
		return fmt.Errorf("hotreload: failed to register watcher: %w", err)
	}
	go w.loop()
	log.Printf("[HotReload] Watching %s", w.root)
	return nil
}

// addTree watches dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// Stop shuts down the watcher. Safe for repeated use.
func (w *Watcher) Stop() {
	w.cancel()
	_ = w.watcher.Close()
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[HotReload] Watcher error: %v", err)
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !relevantOp(ev.Op) {
		return
	}
	// New directories (e.g. a new persona) need their own watch. Walk them,
	// since children may have been created before the watch existed.
	if ev.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				log.Printf("[HotReload] Cannot watch %s: %v", ev.Name, err)
			}
			w.schedule(ev.Name)
			return
		}
	}
	if !relevantFile(ev.Name) {
		return
	}
	w.schedule(ev.Name)
}

// schedule records path and (re)arms the trailing debounce timer.
func (w *Watcher) schedule(path string) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[filepath.ToSlash(rel)] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if w.ctx.Err() != nil || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	w.pending = make(map[string]struct{})
	targets := append([]Invalidator(nil), w.targets...)
	w.mu.Unlock()

	log.Printf("[HotReload] %d file(s) changed, invalidating caches", len(changed))
	for _, fn := range targets {
		fn(changed)
	}
}

func relevantOp(op fsnotify.Op) bool {
	return op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0
}

// relevantFile accepts configuration documents and ignores editor and
// atomic-write temp files.
func relevantFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".md", ".yaml", ".yml":
		return true
	}
	return false
}

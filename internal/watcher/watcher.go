// Package watcher polls the open container file and reports changes made by
// other programs.
package watcher

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"nsmgr/internal/constants"
)

// ChangeKind classifies a detected change.
type ChangeKind int

const (
	ChangeModified ChangeKind = iota
	ChangeDeleted
	ChangeCreated
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	case ChangeCreated:
		return "created"
	default:
		return "unknown"
	}
}

// Change is one detected difference from the last acknowledged state.
type Change struct {
	Kind     ChangeKind
	Path     string
	Size     int64
	Modified time.Time
}

// Poster runs functions on the session loop.
type Poster interface {
	Post(f func()) bool
}

type snapshot struct {
	exists   bool
	size     int64
	modified time.Time
}

func (s snapshot) equal(o snapshot) bool {
	return s.exists == o.exists && s.size == o.size && s.modified.Equal(o.modified)
}

// ContainerWatcher handles change detection for a single file
type ContainerWatcher struct {
	path     string
	loop     Poster
	logger   *zap.Logger
	interval time.Duration

	mu       sync.RWMutex // protects previous and subscribers
	previous snapshot
	subs     []func(Change)

	ticker     *time.Ticker
	stopChan   chan struct{}
	changeChan chan Change // checker to processor
	stopped    bool
}

// NewContainerWatcher creates a watcher for path. Subscribers run on loop.
func NewContainerWatcher(path string, loop Poster, logger *zap.Logger) *ContainerWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContainerWatcher{
		path:     path,
		loop:     loop,
		logger:   logger.Named("watcher"),
		interval: constants.WatcherInterval,
		stopped:  true,
	}
}

// Path returns the watched file.
func (w *ContainerWatcher) Path() string { return w.path }

// SetInterval changes the polling interval. It takes effect on the next Start.
func (w *ContainerWatcher) SetInterval(d time.Duration) {
	if d > 0 {
		w.interval = d
	}
}

// Subscribe registers a callback for detected changes.
func (w *ContainerWatcher) Subscribe(cb func(Change)) {
	w.mu.Lock()
	w.subs = append(w.subs, cb)
	w.mu.Unlock()
}

// Start begins polling.
func (w *ContainerWatcher) Start() {
	if !w.stopped {
		return // Already running
	}
	w.stopped = false
	w.stopChan = make(chan struct{})
	w.changeChan = make(chan Change, constants.WatcherBufferSize)
	w.ticker = time.NewTicker(w.interval)
	w.Acknowledge() // Take initial snapshot

	ticker, stop, changes := w.ticker, w.stopChan, w.changeChan
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.checkForChanges(stop, changes)
			case <-stop:
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case c := <-changes:
				if !w.loop.Post(func() { w.apply(stop, c) }) {
					return
				}
			case <-stop:
				return
			}
		}
	}()
	w.logger.Debug("watching", zap.String("path", w.path), zap.Duration("interval", w.interval))
}

// Stop stops polling. Changes already posted to the loop are dropped.
func (w *ContainerWatcher) Stop() {
	if w.stopped {
		return // Already stopped, do nothing
	}
	w.stopped = true
	w.ticker = nil
	close(w.stopChan)
}

// Acknowledge records the current state of the file as known, so that the
// session's own writes are not reported.
func (w *ContainerWatcher) Acknowledge() {
	cur := w.stat()
	w.mu.Lock()
	w.previous = cur
	w.mu.Unlock()
}

func (w *ContainerWatcher) stat() snapshot {
	info, err := os.Stat(w.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Debug("stat failed", zap.String("path", w.path), zap.Error(err))
		}
		return snapshot{}
	}
	return snapshot{exists: true, size: info.Size(), modified: info.ModTime()}
}

func (w *ContainerWatcher) checkForChanges(stop <-chan struct{}, changes chan<- Change) {
	c, ok := w.detectChange(w.stat())
	if !ok {
		return
	}
	select {
	case <-stop:
	case changes <- c:
	default:
		// Channel full, skip this update
		w.logger.Debug("change channel full, skipping update")
	}
}

// detectChange compares cur with the acknowledged state.
func (w *ContainerWatcher) detectChange(cur snapshot) (Change, bool) {
	w.mu.RLock()
	prev := w.previous
	w.mu.RUnlock()

	if prev.equal(cur) {
		return Change{}, false
	}
	c := Change{Path: w.path, Size: cur.size, Modified: cur.modified}
	switch {
	case !cur.exists:
		c.Kind = ChangeDeleted
	case !prev.exists:
		c.Kind = ChangeCreated
	default:
		c.Kind = ChangeModified
	}
	return c, true
}

// apply runs on the loop. A change posted before the Stop that closed stop,
// or one that an Acknowledge has since covered, is dropped.
func (w *ContainerWatcher) apply(stop <-chan struct{}, c Change) {
	select {
	case <-stop:
		return
	default:
	}
	if _, ok := w.detectChange(w.stat()); !ok {
		return
	}
	w.Acknowledge()
	w.logger.Debug("container changed on disk", zap.String("path", c.Path), zap.Stringer("kind", c.Kind))

	w.mu.RLock()
	subs := append([]func(Change){}, w.subs...)
	w.mu.RUnlock()
	for _, cb := range subs {
		cb(c)
	}
}

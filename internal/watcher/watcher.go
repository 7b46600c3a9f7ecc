// Package watcher detects deployment drift: deployed files being modified,
// replaced or removed behind the archive's back. It watches the deployment
// root with fsnotify and checks events against the recorded deployments.
package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"mediarchive/internal/archive"
	"mediarchive/internal/store"
)

// Stats tracks watcher activity.
type Stats struct {
	Modified      int
	Removed       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// DriftWatcher watches a deployment root for changes to deployed files.
type DriftWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	meta        *store.Store
	deployRoot  string
	logger      *zap.Logger
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       Stats
}

// New creates a DriftWatcher over the archive's deployment root.
// Bare archives have nothing to deploy, so nothing to watch.
func New(a *archive.Archive, meta *store.Store, debounce time.Duration, logger *zap.Logger) (*DriftWatcher, error) {
	if a.Bare() {
		return nil, errors.New("bare archives have no deployment root to watch")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &DriftWatcher{
		watcher:     w,
		meta:        meta,
		deployRoot:  a.DeployPath(),
		logger:      logger,
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. It walks the deployment root and registers every
// directory except the archive directory itself.
func (dw *DriftWatcher) Start() error {
	dw.mu.Lock()
	if dw.running {
		dw.mu.Unlock()
		return errors.New("watcher already running")
	}
	dw.running = true
	dw.mu.Unlock()

	if err := dw.addRecursive(dw.deployRoot); err != nil {
		dw.mu.Lock()
		dw.running = false
		dw.mu.Unlock()
		_ = dw.watcher.Close()
		return err
	}

	go dw.loop()
	return nil
}

// Stop shuts the watcher down and waits for the event loop to exit.
func (dw *DriftWatcher) Stop() {
	dw.mu.Lock()
	if !dw.running {
		dw.mu.Unlock()
		return
	}
	dw.running = false
	dw.mu.Unlock()

	close(dw.stopCh)
	<-dw.doneCh
	_ = dw.watcher.Close()
}

// Stats returns a copy of the counters.
func (dw *DriftWatcher) Stats() Stats {
	dw.mu.RLock()
	defer dw.mu.RUnlock()
	return dw.stats
}

func (dw *DriftWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == archive.ArchiveDirName {
			return filepath.SkipDir
		}
		return dw.watcher.Add(path)
	})
}

func (dw *DriftWatcher) loop() {
	defer close(dw.doneCh)

	for {
		select {
		case <-dw.stopCh:
			return
		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			dw.handleEvent(event)
		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			dw.mu.Lock()
			dw.stats.Errors++
			dw.mu.Unlock()
			dw.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (dw *DriftWatcher) handleEvent(event fsnotify.Event) {
	// New directories need to be watched for drift inside them.
	if event.Op&fsnotify.Create != 0 {
		if fi, err := os.Lstat(event.Name); err == nil && fi.IsDir() {
			if filepath.Base(event.Name) != archive.ArchiveDirName {
				_ = dw.addRecursive(event.Name)
			}
			return
		}
	}

	rel, err := filepath.Rel(dw.deployRoot, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	// Only deployed files count as drift.
	if _, err := dw.meta.DeploymentByTarget(rel); err != nil {
		return
	}

	if !dw.debounce(event.Name) {
		return
	}

	dw.mu.Lock()
	dw.stats.LastEventTime = time.Now()
	dw.stats.LastEventPath = rel
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		dw.stats.Removed++
	case event.Op&(fsnotify.Write|fsnotify.Chmod|fsnotify.Create) != 0:
		dw.stats.Modified++
	}
	dw.mu.Unlock()

	dw.logger.Warn("deployment drift detected",
		zap.String("target", rel),
		zap.String("op", event.Op.String()))
}

// debounceMapMax bounds the debounce map; past it, entries outside the
// debounce window are evicted so a churning tree cannot grow it forever.
const debounceMapMax = 1024

// debounce reports whether an event for path should be acted on, dropping
// bursts within the debounce window.
func (dw *DriftWatcher) debounce(path string) bool {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	now := time.Now()
	if last, ok := dw.debounceMap[path]; ok && now.Sub(last) < dw.debounceDur {
		return false
	}
	dw.debounceMap[path] = now

	if len(dw.debounceMap) > debounceMapMax {
		for p, ts := range dw.debounceMap {
			if now.Sub(ts) >= dw.debounceDur {
				delete(dw.debounceMap, p)
			}
		}
	}
	return true
}

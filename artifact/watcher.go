package artifact

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher warns when bundle files change under a running service. The loaded bundle
// is never replaced; a restart is needed to pick up new artifacts.
type Watcher struct {
	dir      string
	runID    string
	debounce time.Duration
	watcher  *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op

	changes chan []string
}

// NewWatcher watches dir for changes to the bundle loaded from runID.
func NewWatcher(dir, runID string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		dir:      dir,
		runID:    runID,
		debounce: debounce,
		watcher:  fsw,
		pending:  make(map[string]fsnotify.Op),
		changes:  make(chan []string, 8),
	}, nil
}

// Changes delivers the debounced list of changed bundle files.
func (w *Watcher) Changes() <-chan []string {
	return w.changes
}

// Run processes events until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()
	defer close(w.changes)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			zap.L().Error("artifact watcher error", zap.Error(err))

		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !isBundleFile(name) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	w.pendingMu.Lock()
	w.pending[name] = event.Op
	w.pendingMu.Unlock()
}

func (w *Watcher) flush() {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	files := make([]string, 0, len(w.pending))
	for name := range w.pending {
		files = append(files, name)
	}
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	sort.Strings(files)
	zap.L().Warn("artifacts changed on disk; restart the service to load them",
		zap.String("dir", w.dir),
		zap.String("loaded_run_id", w.runID),
		zap.Strings("files", files),
	)

	select {
	case w.changes <- files:
	default:
	}
}

func isBundleFile(name string) bool {
	for _, kind := range Kinds {
		if FileName(kind) == name {
			return true
		}
	}
	return false
}

package ingest

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pcp-cli/internal/debounce"
)

// Watcher re-imports seed files in a directory when they change. Rapid saves
// are coalesced: the dirty set is imported once the directory has been quiet
// for the debounce delay.
type Watcher struct {
	dir     string
	loader  *Loader
	pending *debounce.Debouncer

	mu    sync.Mutex
	dirty map[string]bool
	stats WatchStats

	// onImport is called after every flush. Tests hook it.
	onImport func(Summary, error)
}

// WatchStats counts watcher activity.
type WatchStats struct {
	Events  int       `json:"events"`
	Flushes int       `json:"flushes"`
	Errors  int       `json:"errors"`
	Last    time.Time `json:"last"`
}

// NewWatcher creates a Watcher for dir.
func NewWatcher(dir string, loader *Loader, delay time.Duration) *Watcher {
	return &Watcher{
		dir:     dir,
		loader:  loader,
		pending: debounce.New(delay),
		dirty:   make(map[string]bool),
	}
}

// Stats returns a snapshot of the watcher counters.
func (w *Watcher) Stats() WatchStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Run watches until ctx is done. It blocks.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "ingest: create watcher")
	}
	defer fw.Close() //nolint:errcheck
	defer w.pending.Stop()

	if err := fw.Add(w.dir); err != nil {
		return eris.Wrapf(err, "ingest: watch %s", w.dir)
	}
	zap.L().Info("ingest: watching seed directory", zap.String("dir", w.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
			zap.L().Warn("ingest: watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !Supported(ev.Name) || !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
		return
	}
	zap.L().Debug("ingest: seed file changed", zap.String("path", ev.Name), zap.Stringer("op", ev.Op))

	w.mu.Lock()
	w.dirty[ev.Name] = true
	w.stats.Events++
	w.stats.Last = time.Now()
	w.mu.Unlock()

	w.pending.Trigger(func() { w.flush(ctx) })
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	files := slices.Sorted(maps.Keys(w.dirty))
	clear(w.dirty)
	w.stats.Flushes++
	w.mu.Unlock()

	var total Summary
	var firstErr error
	for _, f := range files {
		sum, err := w.loader.ImportFile(ctx, f)
		total.add(sum)
		if err != nil {
			// A half-written file is retried on its next write event.
			zap.L().Warn("ingest: import failed", zap.String("path", f), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
	}
	if w.onImport != nil {
		w.onImport(total, firstErr)
	}
}

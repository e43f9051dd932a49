// Package watcher subscribes to filesystem changes across every
// registered collection root, debounces bursts per changed file, and
// runs a back-pressure-safe self-rearming scan loop that drains the
// embedding backlog.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/memoirhq/memoir/internal/observability"
	stderrors "github.com/memoirhq/memoir/pkg/errors"
	"github.com/memoirhq/memoir/pkg/indexer"
	"github.com/memoirhq/memoir/pkg/store"
	"github.com/rs/zerolog"
)

// State is the watcher's lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateWatching State = "watching"
	StateScanning State = "scanning"
	StateStopped  State = "stopped"
)

const (
	DefaultDebounce     = 2 * time.Second
	DefaultScanInterval = 60 * time.Second
)

// EmbedFunc drains the store's embedding backlog. Supplied by the
// caller (the engine facade) so this package never has to know how an
// embedding provider is configured or loaded.
type EmbedFunc func(ctx context.Context) (embedded, failed int, err error)

// Options configures a Watcher.
type Options struct {
	Debounce     time.Duration
	ScanInterval time.Duration
	Incremental  bool
}

// Watcher watches every collection's root directory and keeps the
// store's lexical and vector indexes caught up with disk.
type Watcher struct {
	store   *store.Store
	indexer *indexer.Indexer
	embed   EmbedFunc
	logger  zerolog.Logger
	opts    Options

	mu    sync.Mutex
	state State

	fsw        *fsnotify.Watcher
	collection map[string]store.Collection // root -> collection, for path->collection lookup

	debounceMu sync.Mutex
	debounce   map[string]*time.Timer

	scanTimer *time.Timer
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// New creates a Watcher. Call AddRoot for every collection to watch,
// then Start.
func New(st *store.Store, ix *indexer.Indexer, embed EmbedFunc, logger zerolog.Logger, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = DefaultScanInterval
	}
	return &Watcher{
		store:      st,
		indexer:    ix,
		embed:      embed,
		logger:     logger,
		opts:       opts,
		state:      StateIdle,
		collection: make(map[string]store.Collection),
		debounce:   make(map[string]*time.Timer),
	}
}

// State reports the watcher's current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start subscribes to every given collection's root directory and
// begins the debounced event loop and the self-rearming scan loop.
// Calling Start while already watching is a warning no-op.
func (w *Watcher) Start(ctx context.Context, collections []store.Collection) error {
	w.mu.Lock()
	if w.state == StateWatching || w.state == StateScanning {
		w.mu.Unlock()
		w.logger.Warn().Msg("watcher already running, ignoring start")
		return nil
	}
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeWatcherSetupFailure, "failed to create filesystem watcher")
	}

	for _, col := range collections {
		if err := fsw.Add(col.Root); err != nil {
			fsw.Close()
			return stderrors.Wrap(err, stderrors.CodeWatcherSetupFailure, "failed to watch collection root",
				stderrors.FieldCollection(col.Name), stderrors.FieldPath(col.Root))
		}
		w.collection[col.Root] = col
	}

	w.mu.Lock()
	w.fsw = fsw
	w.stopCh = make(chan struct{})
	w.stopOnce = sync.Once{}
	w.state = StateWatching
	w.mu.Unlock()

	go w.runEvents(ctx)
	w.scheduleScan(ctx)

	w.logger.Info().Int("roots", len(collections)).Msg("watcher started")
	return nil
}

// Stop cancels every pending debounce timer, the scheduled scan, and
// closes the filesystem watcher. Idempotent.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.state == StateStopped || w.state == StateIdle {
		w.mu.Unlock()
		return nil
	}
	stopCh := w.stopCh
	fsw := w.fsw
	w.state = StateStopped
	w.mu.Unlock()

	w.stopOnce.Do(func() { close(stopCh) })

	w.debounceMu.Lock()
	for key, timer := range w.debounce {
		timer.Stop()
		delete(w.debounce, key)
	}
	w.debounceMu.Unlock()

	w.mu.Lock()
	if w.scanTimer != nil {
		w.scanTimer.Stop()
	}
	w.mu.Unlock()

	if fsw != nil {
		return fsw.Close()
	}
	return nil
}

func (w *Watcher) runEvents(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("filesystem watcher error")
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	col, ok := w.collectionFor(event.Name)
	if !ok {
		return
	}
	if !strings.EqualFold(filepath.Ext(event.Name), ".md") {
		return
	}

	w.scheduleDebounced(ctx, event.Name, col)
}

func (w *Watcher) collectionFor(path string) (store.Collection, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for root, col := range w.collection {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return col, true
		}
	}
	return store.Collection{}, false
}

// scheduleDebounced coalesces bursts of events for the same file: a
// new event for a key cancels and replaces any pending timer for that
// key instead of stacking up a second one.
func (w *Watcher) scheduleDebounced(ctx context.Context, key string, col store.Collection) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if existing, ok := w.debounce[key]; ok {
		existing.Stop()
	}
	observability.RecordWatcherDebounce()
	w.debounce[key] = time.AfterFunc(w.opts.Debounce, func() {
		w.debounceMu.Lock()
		delete(w.debounce, key)
		w.debounceMu.Unlock()
		w.reindexCollection(ctx, col)
	})
}

func (w *Watcher) reindexCollection(ctx context.Context, col store.Collection) {
	result, err := w.indexer.Reindex(ctx, col, w.opts.Incremental)
	if err != nil {
		w.logger.Warn().Err(err).Str("collection", col.Name).Msg("reindex after file change failed")
		return
	}
	w.logger.Debug().
		Str("collection", col.Name).
		Int("indexed", result.Indexed).
		Int("failed", result.Failed).
		Msg("reindexed after file change")
}

// scheduleScan arms the next scan via time.AfterFunc rather than a
// ticker, so a slow embed pass can never overlap the next one: the
// next scan is only scheduled once the current pass returns.
func (w *Watcher) scheduleScan(ctx context.Context) {
	timer := time.AfterFunc(w.opts.ScanInterval, func() { w.runScan(ctx) })
	w.mu.Lock()
	w.scanTimer = timer
	w.mu.Unlock()
}

func (w *Watcher) runScan(ctx context.Context) {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return
	}
	w.state = StateScanning
	w.mu.Unlock()

	start := time.Now()
	if w.embed != nil {
		embedded, failed, err := w.embed(ctx)
		if err != nil {
			w.logger.Warn().Err(err).Msg("scheduled embed pass failed")
		} else {
			w.logger.Debug().Int("embedded", embedded).Int("failed", failed).Msg("scheduled embed pass completed")
		}
	}
	observability.RecordWatcherScan(time.Since(start))

	w.mu.Lock()
	stopped := w.state == StateStopped
	if !stopped {
		w.state = StateWatching
	}
	w.mu.Unlock()

	if !stopped {
		w.scheduleScan(ctx)
	}
}

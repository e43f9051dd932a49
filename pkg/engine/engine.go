// Package engine is the facade composing the store, indexer, searcher,
// embedder, watcher, collection registry and memoir into a single
// entry point, mirroring the lifecycle pkg/memory.Manager follows in
// the teacher: open state, wire dependent components, and close them
// down in a fixed order that always runs to completion.
package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/memoirhq/memoir/internal/config"
	"github.com/memoirhq/memoir/internal/logger"
	"github.com/memoirhq/memoir/internal/observability"
	"github.com/memoirhq/memoir/pkg/collections"
	"github.com/memoirhq/memoir/pkg/embedder"
	stderrors "github.com/memoirhq/memoir/pkg/errors"
	"github.com/memoirhq/memoir/pkg/indexer"
	"github.com/memoirhq/memoir/pkg/memoir"
	"github.com/memoirhq/memoir/pkg/searcher"
	"github.com/memoirhq/memoir/pkg/store"
	"github.com/memoirhq/memoir/pkg/watcher"
	"github.com/rs/zerolog"
)

// Engine composes every component into the module's single entry
// point. Construct with New, call Initialize once, and Close when done.
type Engine struct {
	cfg       *config.Config
	appLogger *logger.Logger
	logger    zerolog.Logger

	mu          sync.Mutex
	initialized bool

	store       *store.Store
	indexer     *indexer.Indexer
	searcher    *searcher.Searcher
	embedder    *embedder.Embedder
	watcher     *watcher.Watcher
	collections *collections.Registry
	memoir      *memoir.Memoir
}

// New creates an Engine from cfg. Call Initialize before using it; the
// logger is built from cfg.Logging at that point, not here.
func New(cfg *config.Config) *Engine {
	return &Engine{cfg: cfg}
}

// Logger returns the zerolog.Logger built from cfg.Logging at
// Initialize time. Empty (the zero value) before Initialize runs.
func (e *Engine) Logger() zerolog.Logger {
	return e.logger
}

// Initialize opens the store and wires every component. Idempotent:
// calling it again after a successful run is a no-op.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}

	observability.EnsureRegistered()

	if err := os.MkdirAll(e.cfg.DataDir, 0o755); err != nil {
		return stderrors.Wrap(err, stderrors.CodeEngineNotInitialized, "failed to create data directory")
	}
	appLogger, err := logger.New(logger.Config{
		Level:     e.cfg.Logging.Level,
		File:      e.cfg.Logging.File,
		Console:   e.cfg.Logging.Console,
		Pretty:    e.cfg.Logging.Pretty,
		Redaction: e.cfg.Logging.Redaction,
		MaxSize:   e.cfg.Logging.MaxSize,
		MaxAge:    e.cfg.Logging.MaxAge,
		Compress:  e.cfg.Logging.Compress,
	})
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeEngineNotInitialized, "failed to build logger from configuration")
	}
	e.appLogger = appLogger
	e.logger = appLogger.GetZerolog()

	dbPath := filepath.Join(e.cfg.DataDir, "memoir.db")
	st, err := store.Open(store.Config{Path: dbPath, Dimension: e.cfg.Embedder.Dimension, Logger: e.logger})
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeEngineNotInitialized, "failed to open store")
	}
	e.store = st

	if err := observability.InitAuditLogger(filepath.Join(e.cfg.DataDir, "audit.log")); err != nil {
		e.store.Close()
		return stderrors.Wrap(err, stderrors.CodeEngineNotInitialized, "failed to open audit log")
	}

	e.indexer = indexer.New(st, e.logger)
	e.searcher = searcher.New(st, e.logger)
	e.embedder = embedder.New(e.logger, time.Duration(e.cfg.Embedder.LoadTimeoutSeconds)*time.Second)
	e.collections = collections.New(st)

	for _, c := range e.cfg.Collections {
		if _, err := e.collections.Add(ctx, c.Name, c.Root, c.Glob); err != nil {
			e.store.Close()
			return stderrors.Wrap(err, stderrors.CodeEngineNotInitialized, "failed to register configured collection")
		}
	}

	memoryRoot := filepath.Join(e.cfg.DataDir, "memory")
	if err := os.MkdirAll(memoryRoot, 0o755); err != nil {
		e.store.Close()
		return stderrors.Wrap(err, stderrors.CodeEngineNotInitialized, "failed to create memory root")
	}
	memoirCol, err := e.collections.Add(ctx, indexer.MemoirCollectionName, memoryRoot, "*.md")
	if err != nil {
		e.store.Close()
		return stderrors.Wrap(err, stderrors.CodeEngineNotInitialized, "failed to register memoir collection")
	}
	e.memoir = memoir.New(e.store, *memoirCol, e.logger)
	for _, z := range e.cfg.Zones {
		e.memoir.DefineZone(memoir.Zone{
			Prefix:              z.Prefix,
			MaxDepth:            z.MaxDepth,
			MaxItems:            z.MaxItems,
			DefaultType:         z.DefaultType,
			DefaultHalfLifeDays: z.DefaultHalfLifeDays,
		})
	}

	e.watcher = watcher.New(st, e.indexer, e.autoEmbed, e.logger, watcher.Options{
		Debounce:     time.Duration(e.cfg.Watcher.DebounceMs) * time.Millisecond,
		ScanInterval: time.Duration(e.cfg.Watcher.ScanIntervalSeconds) * time.Second,
		Incremental:  true,
	})

	if e.cfg.Watcher.Enabled {
		cols, listErr := e.collections.List(ctx)
		if listErr != nil {
			e.store.Close()
			return stderrors.Wrap(listErr, stderrors.CodeEngineNotInitialized, "failed to list collections for watcher")
		}
		if err := e.watcher.Start(ctx, cols); err != nil {
			e.store.Close()
			return stderrors.Wrap(err, stderrors.CodeEngineNotInitialized, "failed to start watcher")
		}
	}

	e.initialized = true
	e.logger.Info().Str("data_dir", e.cfg.DataDir).Msg("engine initialized")
	return nil
}

// Close stops the watcher, unloads any loaded models, and closes the
// database, in that order. Every step runs even if an earlier one
// fails; the first error encountered is returned.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if e.watcher != nil {
		record(e.watcher.Stop())
	}
	if e.embedder != nil {
		e.embedder.UnloadEmbeddingModel()
		e.embedder.UnloadRerankModel()
	}
	if e.store != nil {
		record(e.store.Close())
	}
	record(observability.GetAuditLogger().Close())
	if e.appLogger != nil {
		record(e.appLogger.Close())
	}

	e.initialized = false
	if first != nil {
		return stderrors.Wrap(first, stderrors.CodeEngineCloseFailure, "engine close encountered an error")
	}
	return nil
}

func (e *Engine) requireInitialized() error {
	if !e.initialized {
		return stderrors.New(stderrors.CodeEngineNotInitialized, "engine is not initialized")
	}
	return nil
}

// autoEmbed is the watcher's scheduled-scan EmbedFunc: it drains the
// store's embedding backlog using whatever provider is configured.
func (e *Engine) autoEmbed(ctx context.Context) (int, int, error) {
	return e.embedder.EmbedAll(ctx, e.store, e.loadEmbeddingProvider)
}

func (e *Engine) loadEmbeddingProvider(ctx context.Context) (embedder.EmbeddingProvider, error) {
	switch e.cfg.Embedder.Provider {
	case "openai":
		apiKey := os.Getenv(e.cfg.Embedder.APIKeyEnv)
		if apiKey == "" {
			return nil, stderrors.New(stderrors.CodeEmbedderModelUnavailable, "embedder api key env var is unset",
				stderrors.Field("env", e.cfg.Embedder.APIKeyEnv))
		}
		return embedder.NewOpenAIEmbedder(apiKey, e.cfg.Embedder.Model, e.cfg.Embedder.Dimension), nil
	case "none", "":
		return nil, stderrors.New(stderrors.CodeEmbedderModelUnavailable, "no embedding provider is configured")
	default:
		return nil, stderrors.New(stderrors.CodeEmbedderModelUnavailable, "unsupported embedding provider",
			stderrors.Field("provider", e.cfg.Embedder.Provider))
	}
}

func (e *Engine) loadRerankProvider(ctx context.Context) (embedder.RerankProvider, error) {
	switch e.cfg.Embedder.RerankProvider {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, stderrors.New(stderrors.CodeEmbedderModelUnavailable, "ANTHROPIC_API_KEY is unset")
		}
		return embedder.NewAnthropicReranker(apiKey, e.cfg.Embedder.RerankModel), nil
	case "none", "":
		return nil, stderrors.New(stderrors.CodeEmbedderModelUnavailable, "no rerank provider is configured")
	default:
		return nil, stderrors.New(stderrors.CodeEmbedderModelUnavailable, "unsupported rerank provider",
			stderrors.Field("provider", e.cfg.Embedder.RerankProvider))
	}
}

package embedder

import (
	"context"
	"sync"
	"time"

	stderrors "github.com/memoirhq/memoir/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultLoadTimeout is used when a caller does not set one.
const DefaultLoadTimeout = 5 * time.Minute

// LoadFunc constructs a provider. It runs at most once concurrently
// per Loader: a second caller arriving while a load is in flight waits
// on the same attempt instead of starting its own.
type LoadFunc[T any] func(ctx context.Context) (T, error)

// Loader coordinates single-flight loading of a provider of type T.
// Concurrent Ensure calls share one in-flight attempt; a failure
// clears the slot so the next caller retries from scratch rather than
// being stuck replaying a stale error.
type Loader[T any] struct {
	mu       sync.Mutex
	inflight chan struct{}
	loaded   bool
	value    T
	loadErr  error
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewLoader creates a Loader. A zero timeout uses DefaultLoadTimeout.
func NewLoader[T any](timeout time.Duration, logger zerolog.Logger) *Loader[T] {
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}
	return &Loader[T]{timeout: timeout, logger: logger}
}

// Ensure returns the loaded value, loading it via fn if this is the
// first call (or the previous attempt failed or was unloaded).
func (l *Loader[T]) Ensure(ctx context.Context, fn LoadFunc[T]) (T, error) {
	l.mu.Lock()
	if l.loaded {
		v := l.value
		l.mu.Unlock()
		return v, nil
	}
	if l.inflight != nil {
		ch := l.inflight
		l.mu.Unlock()
		select {
		case <-ch:
			l.mu.Lock()
			if l.loaded {
				v := l.value
				l.mu.Unlock()
				return v, nil
			}
			err := l.loadErr
			l.mu.Unlock()
			if err != nil {
				var zero T
				return zero, err
			}
			// The attempt we waited on was cleared without loading
			// (e.g. Unload raced it); fall through and start a fresh one.
			return l.Ensure(ctx, fn)
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}

	ch := make(chan struct{})
	l.inflight = ch
	l.mu.Unlock()

	loadCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	value, err := fn(loadCtx)
	duration := time.Since(start)

	l.mu.Lock()
	defer l.mu.Unlock()
	defer close(ch)
	l.inflight = nil

	if err != nil {
		if loadCtx.Err() == context.DeadlineExceeded {
			err = stderrors.Wrap(err, stderrors.CodeEmbedderLoadTimeout, "model load timed out")
		}
		l.loadErr = err
		var zero T
		return zero, err
	}

	l.loaded = true
	l.value = value
	l.logger.Info().Dur("duration", duration).Msg("model loaded")
	return value, nil
}

// IsLoaded reports whether a value is currently loaded.
func (l *Loader[T]) IsLoaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Unload clears the loaded value so the next Ensure call reloads.
func (l *Loader[T]) Unload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = false
	var zero T
	l.value = zero
}

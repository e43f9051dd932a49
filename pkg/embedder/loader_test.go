package embedder

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}

func TestLoader_LoadsOnceAndCaches(t *testing.T) {
	l := NewLoader[string](time.Second, testLogger())
	var calls int32

	load := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "value", nil
	}

	v1, err := l.Ensure(context.Background(), load)
	require.NoError(t, err)
	assert.Equal(t, "value", v1)

	v2, err := l.Ensure(context.Background(), load)
	require.NoError(t, err)
	assert.Equal(t, "value", v2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.True(t, l.IsLoaded())
}

func TestLoader_ConcurrentCallersShareOneLoad(t *testing.T) {
	l := NewLoader[string](time.Second, testLogger())
	var calls int32
	start := make(chan struct{})

	load := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-start
		return "value", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := l.Ensure(context.Background(), load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, "value", r)
	}
}

func TestLoader_FailureClearsSlotForRetry(t *testing.T) {
	l := NewLoader[string](time.Second, testLogger())
	var calls int32

	load := func(ctx context.Context) (string, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return "", errors.New("boom")
		}
		return "value", nil
	}

	_, err := l.Ensure(context.Background(), load)
	assert.Error(t, err)
	assert.False(t, l.IsLoaded())

	v, err := l.Ensure(context.Background(), load)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
}

func TestLoader_Unload(t *testing.T) {
	l := NewLoader[string](time.Second, testLogger())
	_, err := l.Ensure(context.Background(), func(ctx context.Context) (string, error) { return "v", nil })
	require.NoError(t, err)
	assert.True(t, l.IsLoaded())

	l.Unload()
	assert.False(t, l.IsLoaded())
}

func TestLoader_TimeoutWrapsCodeEmbedderLoadTimeout(t *testing.T) {
	l := NewLoader[string](10*time.Millisecond, testLogger())
	load := func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	_, err := l.Ensure(context.Background(), load)
	assert.Error(t, err)
}

package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoroutinePool_SubmitWait(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 2, QueueSize: 4})
	defer p.Close(context.Background())

	err := p.SubmitWait(context.Background(), "ok", func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	boom := errors.New("boom")
	err = p.SubmitWait(context.Background(), "fail", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestGoroutinePool_RecoversPanics(t *testing.T) {
	var gotName string
	var gotValue any
	p := NewGoroutinePool(GoroutinePoolConfig{
		MaxWorkers: 1,
		QueueSize:  1,
		PanicHandler: func(name string, r any) {
			gotName, gotValue = name, r
		},
	})
	defer p.Close(context.Background())

	err := p.SubmitWait(context.Background(), "explode", func(ctx context.Context) error {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explode")
	assert.Equal(t, "explode", gotName)
	assert.Equal(t, "kaboom", gotValue)
}

func TestGoroutinePool_CloseDrainsQueue(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 2, QueueSize: 16})

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), "count", func(ctx context.Context) error {
			defer wg.Done()
			ran.Add(1)
			return nil
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))
	wg.Wait()
	assert.Equal(t, int32(8), ran.Load())

	assert.ErrorIs(t, p.Submit(context.Background(), "late", func(ctx context.Context) error { return nil }), ErrPoolClosed)
}

func TestGoroutinePool_RejectsWhenFull(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, p.Submit(context.Background(), "block", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, p.Submit(context.Background(), "queued", func(ctx context.Context) error { return nil }))

	err := p.Submit(context.Background(), "extra", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Equal(t, int64(1), p.Stats().Rejected)

	close(release)
	require.NoError(t, p.Close(context.Background()))
}

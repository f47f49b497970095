package workerpool

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_RunsAllTasks(t *testing.T) {
	pool := New(4, 16, slog.Default())
	defer pool.Shutdown()

	var wg sync.WaitGroup
	var count atomic.Int64
	for i := 0; i < 200; i++ {
		wg.Add(1)
		pool.Go(func() {
			defer wg.Done()
			count.Add(1)
		})
	}
	wg.Wait()

	assert.Equal(t, int64(200), count.Load())
}

func TestPool_CallerRunsWhenSaturated(t *testing.T) {
	pool := New(1, 1, slog.Default())
	defer pool.Shutdown()

	block := make(chan struct{})
	started := make(chan struct{})
	pool.Go(func() {
		close(started)
		<-block
	})
	<-started
	pool.Go(func() {})

	// worker 被占用且队列已满，任务必须在调用方执行
	ran := false
	pool.Go(func() { ran = true })
	assert.True(t, ran)

	close(block)
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	pool := New(1, 4, slog.Default())
	defer pool.Shutdown()

	var wg sync.WaitGroup
	wg.Add(2)
	pool.Go(func() {
		defer wg.Done()
		panic("boom")
	})

	var ran atomic.Bool
	pool.Go(func() {
		defer wg.Done()
		ran.Store(true)
	})
	wg.Wait()

	assert.True(t, ran.Load())
}

func TestPool_ShutdownIsIdempotent(t *testing.T) {
	pool := New(2, 2, slog.Default())
	pool.Shutdown()
	pool.Shutdown()

	assert.False(t, pool.TrySubmit(func() {}))

	ran := false
	pool.Go(func() { ran = true })
	assert.True(t, ran)
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Saturate(t *testing.T) {
	pool := NewWithParallelism(5)
	wantTasks := 5

	var count atomic.Int32
	allStarted := make(chan struct{})
	var closeOnce sync.Once
	done := make(chan struct{})

	go func() {
		pool.Saturate(func() {
			got := count.Add(1)
			runtime.Gosched()
			if int(got) == wantTasks {
				closeOnce.Do(func() { close(allStarted) })
				return
			}
			<-allStarted
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Timeout before all tasks were executed.")
	}
	assert.Equal(t, int32(wantTasks), count.Load())

	// No parallelism: only the inline copy runs.
	pool.SetMaxParallelism(0)
	count.Store(0)
	pool.Saturate(func() { count.Add(1) })
	assert.Equal(t, int32(1), count.Load())

	// Unlimited.
	pool.SetMaxParallelism(-1)
	count.Store(0)
	pool.Saturate(func() { count.Add(1) })
	assert.Equal(t, int32(max(runtime.NumCPU(), 1)), count.Load())
}

func TestPool_WaitToStart(t *testing.T) {
	pool := NewWithParallelism(2)
	var wg sync.WaitGroup
	var running, maxRunning atomic.Int32
	for range 20 {
		wg.Add(1)
		pool.WaitToStart(func() {
			defer wg.Done()
			current := running.Add(1)
			for {
				prev := maxRunning.Load()
				if current <= prev || maxRunning.CompareAndSwap(prev, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, int(maxRunning.Load()), goroutineToParallelismRatio*2)
}

func TestPool_ParallelFor(t *testing.T) {
	for _, parallelism := range []int{0, 1, 4, -1} {
		pool := NewWithParallelism(parallelism)
		const n = 1003
		visited := make([]int32, n)
		pool.ParallelFor(n, 64, func(start, end int) {
			assert.LessOrEqual(t, end-start, 64)
			for i := start; i < end; i++ {
				atomic.AddInt32(&visited[i], 1)
			}
		})
		for i, v := range visited {
			require.Equalf(t, int32(1), v, "parallelism=%d, index %d visited %d times", parallelism, i, v)
		}
		pool.ParallelFor(0, 64, func(start, end int) { t.Fatal("no chunks expected") })
	}
}

func TestPool_ParallelForSequential(t *testing.T) {
	pool := NewWithParallelism(0)
	var chunks [][2]int
	pool.ParallelFor(10, 4, func(start, end int) {
		chunks = append(chunks, [2]int{start, end})
	})
	assert.Equal(t, [][2]int{{0, 4}, {4, 8}, {8, 10}}, chunks)
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool implements a bounded pool of goroutines, used by the simulated device to run
// kernel blocks in parallel.
package workerspool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool keeps tabs on the number of running workers. It doesn't keep goroutines alive between tasks.
type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	// The actual number of goroutines is higher than that -- because of waits and such.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning is decreased.
	numRunning     int
}

// New returns a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	return NewWithParallelism(runtime.NumCPU())
}

// NewWithParallelism returns a new Pool with the given maxParallelism. See SetMaxParallelism.
func NewWithParallelism(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism is a soft-target for parallelism (the limit of goroutines is higher that this).
// If set to 0 parallelism is disabled.
// If set to -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// You should only change the parallelism before any workers start running. If changed during the execution
// the behavior is undefined.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

const goroutineToParallelismRatio = 2

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= goroutineToParallelismRatio*w.maxParallelism
}

// WaitToStart waits until there is a worker available to run the task.
//
// If parallelism is disabled (maxParallelism is 0), it runs the task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if w.IsUnlimited() {
		go task()
		return
	} else if w.maxParallelism == 0 {
		task()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.lockedRunTaskInGoroutine(task)
}

// lockedRunTaskInGoroutine and keep tabs on w.numRunning.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedRunTaskInGoroutine(task func()) {
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.cond.Signal()
		w.mu.Unlock()
	}()
}

// StartIfAvailable runs the task in a separate goroutine, if there are enough workers left.
// It returns true if it found workers to run the function, false otherwise.
//
// It's up to the client to synchronize the end of the function execution.
func (w *Pool) StartIfAvailable(task func()) bool {
	if w.IsUnlimited() {
		go task()
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lockedIsFull() {
		return false
	}
	w.lockedRunTaskInGoroutine(task)
	return true
}

// Saturate runs task in as many workers as currently available (up to maxParallelism), plus once
// inline in the calling goroutine, and waits for all of them to finish.
//
// The task is expected to consume work from a shared source (e.g. a channel) and return when there is no
// more work.
// If parallelism is unlimited, runtime.NumCPU() copies of the task are started.
func (w *Pool) Saturate(task func()) {
	var wg sync.WaitGroup
	numExtra := w.maxParallelism - 1
	if w.IsUnlimited() {
		numExtra = runtime.NumCPU() - 1
	}
	for range max(numExtra, 0) {
		wg.Add(1)
		if !w.StartIfAvailable(func() {
			defer wg.Done()
			task()
		}) {
			wg.Done()
			break
		}
	}
	task()
	wg.Wait()
}

// ParallelFor splits the range [0, n) in chunks of at most chunkSize and calls fn(start, end) for each of
// them, in parallel if workers are available. It returns when all chunks are done.
func (w *Pool) ParallelFor(n, chunkSize int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	chunkSize = max(chunkSize, 1)
	if n <= chunkSize {
		fn(0, n)
		return
	}
	if !w.IsEnabled() {
		for start := 0; start < n; start += chunkSize {
			fn(start, min(start+chunkSize, n))
		}
		return
	}
	var next atomic.Int64
	w.Saturate(func() {
		for {
			start := int(next.Add(int64(chunkSize))) - chunkSize
			if start >= n {
				return
			}
			fn(start, min(start+chunkSize, n))
		}
	})
}

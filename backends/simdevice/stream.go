// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simdevice

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelrt/backends"
	"github.com/gomlx/kernelrt/pkg/core/memory"
	"github.com/gomlx/kernelrt/pkg/core/status"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// task is one unit of work in a stream.
type task struct {
	name string
	fn   func() error

	// always tasks run even after the stream failed: used to release memory.
	always bool
}

// Stream implements backends.Stream: a queue of tasks executed in order by a dedicated goroutine.
type Stream struct {
	id      uuid.UUID
	backend *Backend
	device  *device

	mu      sync.Mutex
	cond    sync.Cond // Signaled when the queue changes.
	queue   []task
	pending int // Number of tasks enqueued and not yet finished.
	err     error
	closed  bool
}

var _ backends.Stream = (*Stream)(nil)

func newStream(b *Backend, d *device) *Stream {
	s := &Stream{id: uuid.New(), backend: b, device: d}
	s.cond = sync.Cond{L: &s.mu}
	go s.run()
	return s
}

// ID implements backends.Stream.
func (s *Stream) ID() uuid.UUID { return s.id }

// DeviceNum implements backends.Stream.
func (s *Stream) DeviceNum() int { return s.device.num }

func (s *Stream) enqueue(t task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return status.RuntimeErrorf(ErrorInvalidHandle, "sim stream %s already closed, can't enqueue %q", s.id, t.name)
	}
	s.queue = append(s.queue, t)
	s.pending++
	s.cond.Broadcast()
	return nil
}

// run executes the stream tasks in order, until the stream is closed and the queue is empty.
func (s *Stream) run() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			return
		}
		t := s.queue[0]
		s.queue[0] = task{}
		s.queue = s.queue[1:]
		skip := s.err != nil && !t.always
		s.mu.Unlock()

		var err error
		if !skip {
			err = s.execute(t)
		}

		s.mu.Lock()
		if err != nil && s.err == nil {
			s.err = err
			klog.Warningf("sim stream %s (device %d) failed in %q: %v", s.id, s.device.num, t.name, err)
		}
		s.pending--
		s.cond.Broadcast()
	}
}

// execute the task, converting panics to runtime errors.
func (s *Stream) execute(t task) (err error) {
	exception := exceptions.TryCatch[error](func() { err = t.fn() })
	if exception != nil {
		err = status.RuntimeErrorf(ErrorLaunchFailure, "sim device %d: panic in %q: %v", s.device.num, t.name, exception)
	}
	return
}

// validChunk checks that the chunk is alive and accessible by this device.
func (s *Stream) validChunk(chunk *memory.Chunk) error {
	if chunk == nil || chunk.IsFreed() {
		return status.RuntimeErrorf(ErrorIllegalAddress, "sim device %d: access to freed or nil memory", s.device.num)
	}
	info := chunk.Info()
	if info.DeviceType == memory.DeviceAccelerator && (info.DeviceNum < 0 || info.DeviceNum >= s.backend.NumDevices()) {
		return status.RuntimeErrorf(ErrorInvalidMemcpyDevice, "sim device %d: memory %s not accessible", s.device.num, info)
	}
	return nil
}

// MemcpyAsync implements backends.Stream.
func (s *Stream) MemcpyAsync(dst, src *memory.Chunk) error {
	if dst == nil || src == nil || dst.Len() != src.Len() {
		return status.RuntimeErrorf(ErrorInvalidValue, "sim device %d: invalid memcpy arguments", s.device.num)
	}
	return s.enqueue(task{name: "memcpy", fn: func() error {
		if code := int(s.device.copyFault.Swap(0)); code != 0 {
			return status.RuntimeErrorf(code, "sim device %d: memcpy failed: %s", s.device.num, ErrorName(code))
		}
		if err := s.validChunk(src); err != nil {
			return err
		}
		if err := s.validChunk(dst); err != nil {
			return err
		}
		copy(dst.Bytes(), src.Bytes())
		s.device.numCopies.Add(1)
		return nil
	}})
}

// Launch implements backends.Stream.
func (s *Stream) Launch(name string, numElements int, kernel func(start, end int)) error {
	if numElements < 0 || kernel == nil {
		return status.RuntimeErrorf(ErrorInvalidValue, "sim device %d: invalid launch of %q over %d elements",
			s.device.num, name, numElements)
	}
	return s.enqueue(task{name: name, fn: func() error {
		if code := int(s.device.launchFault.Swap(0)); code != 0 {
			return status.RuntimeErrorf(code, "sim device %d: launch of %q failed: %s", s.device.num, name, ErrorName(code))
		}
		var mu sync.Mutex
		var firstErr error
		s.backend.workers.ParallelFor(numElements, s.backend.config.BlockSize, func(start, end int) {
			if err := exceptions.TryCatch[error](func() { kernel(start, end) }); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = status.RuntimeErrorf(ErrorLaunchFailure, "sim device %d: kernel %q failed in block [%d, %d): %v",
						s.device.num, name, start, end, err)
				}
				mu.Unlock()
			}
		})
		s.device.numLaunches.Add(1)
		klog.V(2).Infof("sim device %d: stream %s executed %q over %d elements", s.device.num, s.id, name, numElements)
		return firstErr
	}})
}

// FreeAsync implements backends.Stream.
func (s *Stream) FreeAsync(allocator memory.Allocator, chunk *memory.Chunk) {
	err := s.enqueue(task{name: "free", always: true, fn: func() error {
		allocator.Free(chunk)
		return nil
	}})
	if err != nil {
		// Stream closed: nothing is pending, free immediately.
		allocator.Free(chunk)
	}
}

// Synchronize implements backends.Stream.
func (s *Stream) Synchronize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending > 0 {
		s.cond.Wait()
	}
	return s.err
}

// Err implements backends.Stream.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements backends.Stream.
func (s *Stream) Close() error {
	err := s.Synchronize()
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	if !alreadyClosed {
		s.backend.removeStream(s)
	}
	return err
}

// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pool

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelForEachIndexOnce(t *testing.T) {
	for _, workers := range []int{0, 1, 3} {
		p := New(workers)
		defer p.Shutdown()

		const n = 1000
		var counts [n]atomic.Int32
		ParallelFor(p, n, func(i int64) {
			counts[i].Add(1)
		}, 0)

		for i := range counts {
			require.Equal(t, int32(1), counts[i].Load(), "index %d with %d workers", i, workers)
		}
	}
}

func TestParallelForSmall(t *testing.T) {
	p := New(2)
	defer p.Shutdown()

	var ran atomic.Int32
	ParallelFor(p, 0, func(int64) { ran.Add(1) }, 0)
	assert.Equal(t, int32(0), ran.Load())

	ParallelFor(p, 1, func(i int64) {
		assert.Equal(t, int64(0), i)
		ran.Add(1)
	}, 0)
	assert.Equal(t, int32(1), ran.Load())
}

func TestParallelForMaxWorkers(t *testing.T) {
	p := New(4)
	defer p.Shutdown()

	var running, peak atomic.Int32
	ParallelFor(p, 100, func(int64) {
		now := running.Add(1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		running.Add(-1)
	}, 1)
	assert.LessOrEqual(t, peak.Load(), int32(1))
}

func TestEnqueueAndWaitFor(t *testing.T) {
	p := New(2)
	defer p.Shutdown()

	var done atomic.Int32
	p.Enqueue(3, func() { done.Add(1) }, NewTaskID())
	p.WaitFor(func() bool { return done.Load() == 3 })
	assert.Equal(t, int32(3), done.Load())
}

func TestCancel(t *testing.T) {
	// No workers: queued tasks only run when a helper waits for them.
	p := New(0)
	defer p.Shutdown()

	var ran atomic.Int32
	id := NewTaskID()
	p.Enqueue(5, func() { ran.Add(1) }, id)
	p.Cancel(id)

	var other atomic.Int32
	p.Enqueue(1, func() { other.Add(1) }, NewTaskID())
	p.WaitFor(func() bool { return other.Load() == 1 })
	assert.Equal(t, int32(0), ran.Load(), "cancelled tasks must not run")
}

func TestAtomicCall(t *testing.T) {
	p := New(3)
	defer p.Shutdown()

	counter := 0
	const n = 200
	var started atomic.Int32
	id := NewTaskID()
	p.Enqueue(n, func() {
		p.AtomicCall(func() { counter++ })
		started.Add(1)
	}, id)
	p.WaitFor(func() bool { return started.Load() == n })
	assert.Equal(t, n, counter)
}

func TestRunWorker(t *testing.T) {
	p := New(0)
	p.ExpectWorkers(1)
	assert.Equal(t, 1, p.ThreadCount())

	// The exit condition is flipped through AtomicCall so the waiting
	// worker is woken when it changes.
	done := false
	go func() {
		var ran atomic.Int32
		p.Enqueue(4, func() { ran.Add(1) }, NewTaskID())
		p.WaitFor(func() bool { return ran.Load() == 4 })
		p.AtomicCall(func() { done = true })
	}()
	p.RunWorker(func() bool { return done })
	assert.True(t, done)
	p.Shutdown()
}

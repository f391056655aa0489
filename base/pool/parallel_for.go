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
	"math"
	"sync/atomic"
)

const cacheLineSize = 64

// loopTask is one slice of a work-stealing loop. The iteration counter is
// padded so counters of adjacent tasks do not share a cache line.
type loopTask struct {
	// i is the next iteration to run.
	i atomic.Int64

	// end is one past the last iteration to run in this task.
	end int64

	_ [cacheLineSize - 16]byte
}

// stealingLoop divides the iterations of a loop among K tasks which can be
// executed independently by separate goroutines. When a goroutine finishes
// its own task, it steals work from the others.
type stealingLoop struct {
	tasks  []loopTask
	worker atomic.Int64
	todo   atomic.Int64
}

func newStealingLoop(n int64, k int) *stealingLoop {
	l := &stealingLoop{tasks: make([]loopTask, k)}
	l.todo.Store(n)
	if k > 1 && n < int64(k) {
		for i := int64(0); i < n; i++ {
			l.tasks[i].i.Store(i)
			l.tasks[i].end = i + 1
		}
	} else {
		begin := int64(0)
		for i := range l.tasks {
			l.tasks[i].i.Store(begin)
			l.tasks[i].end = (int64(i+1) * n) / int64(k)
			begin = l.tasks[i].end
		}
	}
	return l
}

// run works on the loop. It returns when work on all iterations has
// started, which may be before all iterations are complete.
func (l *stealingLoop) run(body func(int64)) {
	k := int64(len(l.tasks))
	w := int64(0)
	if k > 1 {
		w = l.worker.Add(1) - 1
	}
	done := int64(0)
	// The first iteration of this loop runs the work allocated to this
	// worker. Subsequent iterations steal work from other workers.
	for t := int64(0); t < k; t++ {
		task := &l.tasks[(t+w)%k]
		for {
			i := task.i.Add(1) - 1
			if i >= task.end {
				break
			}
			body(i)
			done++
		}
	}
	l.todo.Add(-done)
}

func (l *stealingLoop) done() bool { return l.todo.Load() == 0 }

// ParallelFor runs body(i) for every i in [0, n), distributing iterations
// over the pool's workers. Each index runs at most once; ParallelFor
// returns only when every index has completed.
func ParallelFor(p Pool, n int64, body func(int64), maxWorkers int) {
	if n == 0 {
		return
	}
	if n == 1 {
		body(0)
		return
	}
	if maxWorkers <= 0 {
		maxWorkers = math.MaxInt
	}

	loop := newStealingLoop(n, 1)
	id := NewTaskID()
	worker := func() {
		loop.run(body)
		// No more work to start; drop any tasks still queued.
		p.Cancel(id)
	}
	workers := p.ThreadCount() + 1
	if int64(workers) > n {
		workers = int(n)
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}
	if workers > 1 {
		p.Enqueue(workers-1, worker, id)
	}
	// Running the worker here guarantees forward progress on the loop even
	// if no goroutines in the pool are available.
	p.Run(worker, id)
	// While the loop still isn't done, work on other tasks.
	p.WaitFor(loop.done)
}

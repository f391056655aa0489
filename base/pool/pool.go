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

// Package pool implements the worker pool used by kernels that want to
// parallelize their inner loops. Lowering itself is single threaded and
// never touches this package.
package pool

import (
	"sync"
	"sync/atomic"
)

type (
	// Task is a unit of work enqueued on the pool.
	Task func()

	// Predicate is a condition evaluated under the pool's lock.
	Predicate func() bool

	// TaskID groups enqueued tasks so they can be cancelled together.
	TaskID *taskTag

	taskTag struct{ _ byte }
)

// NewTaskID returns a fresh id for a group of tasks.
func NewTaskID() TaskID { return &taskTag{} }

// Pool schedules tasks on worker goroutines.
//
// Enqueue queues work, Run executes work inline while preventing queued
// copies of the same id from running recursively, WaitFor executes queued
// work while waiting for a condition, and AtomicCall runs serialized with
// respect to WaitFor predicates.
type Pool interface {
	ThreadCount() int

	// Enqueue queues n copies of task t. A task enqueued with an id is
	// never started by WaitFor while a task with the same id is already
	// running through Run or WaitFor on this pool.
	Enqueue(n int, t Task, id TaskID)

	// Run executes t inline on the calling goroutine.
	Run(t Task, id TaskID)

	// Cancel drops queued tasks with the given id. Advisory: tasks that
	// already started are not interrupted.
	Cancel(id TaskID)

	// WaitFor blocks until condition returns true. While waiting, the
	// calling goroutine executes queued tasks. The condition is evaluated
	// atomically with respect to AtomicCall.
	WaitFor(condition Predicate)

	// AtomicCall runs t on the calling goroutine, serialized with respect
	// to other AtomicCall bodies and WaitFor predicates.
	AtomicCall(t Task)
}

type queuedTask struct {
	n  int
	t  Task
	id TaskID
}

// Workers implements Pool with a fixed set of worker goroutines.
type Workers struct {
	expectedThreads int
	workerCount     atomic.Int32

	mu sync.Mutex
	// cvWorker wakes worker goroutines when a task is enqueued.
	// cvHelper additionally wakes when the state of a WaitFor condition
	// may have changed: a task completed or an AtomicCall ran.
	cvWorker *sync.Cond
	cvHelper *sync.Cond
	queue    []queuedTask
	running  map[TaskID]int
	stop     bool
}

var _ Pool = (*Workers)(nil)

// New returns a pool with the given number of worker goroutines.
// Pass workers = 0 to have a pool with no workers of its own and use
// RunWorker to enter caller-owned goroutines into the pool.
func New(workers int) *Workers {
	p := &Workers{running: make(map[TaskID]int)}
	p.cvWorker = sync.NewCond(&p.mu)
	p.cvHelper = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.workerCount.Add(1)
		go func() {
			p.worker(func() bool { return p.stop })
			p.workerCount.Add(-1)
		}()
	}
	return p
}

// Shutdown stops the worker goroutines. Queued tasks that have not started
// are dropped.
func (p *Workers) Shutdown() {
	p.mu.Lock()
	p.stop = true
	p.mu.Unlock()
	p.cvWorker.Broadcast()
	p.cvHelper.Broadcast()
}

// ExpectWorkers communicates how many caller-owned goroutines will enter
// the pool via RunWorker, so ThreadCount is meaningful before they arrive.
func (p *Workers) ExpectWorkers(n int) { p.expectedThreads = n }

// RunWorker enters the calling goroutine into the pool as a worker.
// It does not return until condition returns true.
func (p *Workers) RunWorker(condition Predicate) {
	p.workerCount.Add(1)
	defer p.workerCount.Add(-1)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waitFor(condition, p.cvWorker, false)
}

// ThreadCount returns the number of threads working on the pool's queue.
func (p *Workers) ThreadCount() int {
	n := int(p.workerCount.Load())
	if p.expectedThreads > n {
		return p.expectedThreads
	}
	return n
}

func (p *Workers) worker(done Predicate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waitFor(done, p.cvWorker, false)
}

// dequeue pops one runnable task under the lock. Tasks whose id is already
// running are skipped when skipRunning is set, preventing recursive
// execution of grouped tasks from inside WaitFor.
func (p *Workers) dequeue(skipRunning bool) (Task, TaskID, bool) {
	for i := range p.queue {
		qt := &p.queue[i]
		if skipRunning && qt.id != nil && p.running[qt.id] > 0 {
			continue
		}
		t, id := qt.t, qt.id
		if qt.n > 1 {
			qt.n--
		} else {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
		}
		return t, id, true
	}
	return nil, nil, false
}

func (p *Workers) runTask(t Task, id TaskID) {
	if id != nil {
		p.running[id]++
	}
	p.mu.Unlock()
	t()
	p.mu.Lock()
	if id != nil {
		p.running[id]--
	}
	// A completed task may have changed the state of a condition a
	// worker or helper is waiting on.
	p.cvHelper.Broadcast()
	p.cvWorker.Broadcast()
}

// waitFor runs queued tasks until condition returns true. Helpers pass
// skipRunning to avoid re-entering a task group they are already inside;
// workers run anything. Called with p.mu held; returns with p.mu held.
func (p *Workers) waitFor(condition Predicate, cv *sync.Cond, skipRunning bool) {
	for !condition() {
		if t, id, ok := p.dequeue(skipRunning); ok {
			p.runTask(t, id)
			// Don't wait, the condition may have changed; check again.
			continue
		}
		cv.Wait()
	}
}

// Enqueue queues n copies of t under the given id.
func (p *Workers) Enqueue(n int, t Task, id TaskID) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, queuedTask{n: n, t: t, id: id})
	p.mu.Unlock()
	if n == 1 {
		p.cvWorker.Signal()
		p.cvHelper.Signal()
	} else {
		p.cvWorker.Broadcast()
		p.cvHelper.Broadcast()
	}
}

// Run executes t inline, marking id as running so queued copies of the
// same id do not run recursively via WaitFor on this pool.
func (p *Workers) Run(t Task, id TaskID) {
	p.mu.Lock()
	if id != nil {
		p.running[id]++
	}
	p.mu.Unlock()
	t()
	p.mu.Lock()
	if id != nil {
		p.running[id]--
	}
	p.mu.Unlock()
	p.cvHelper.Broadcast()
	p.cvWorker.Broadcast()
}

// Cancel drops queued tasks with the given id.
func (p *Workers) Cancel(id TaskID) {
	if id == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	queue := p.queue[:0]
	for _, qt := range p.queue {
		if qt.id != id {
			queue = append(queue, qt)
		}
	}
	p.queue = queue
}

// WaitFor blocks until condition returns true, executing queued tasks
// while waiting.
func (p *Workers) WaitFor(condition Predicate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waitFor(condition, p.cvHelper, true)
}

// AtomicCall runs t serialized with respect to WaitFor predicates.
func (p *Workers) AtomicCall(t Task) {
	p.mu.Lock()
	t()
	p.mu.Unlock()
	p.cvHelper.Broadcast()
	p.cvWorker.Broadcast()
}

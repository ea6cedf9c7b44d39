package netmgr

import (
	"sync"
	"sync/atomic"
)

// queueNode is one link in a lock-free MPSC queue.
type queueNode struct {
	next atomic.Pointer[queueNode]
	val  any
}

// mpscQueue is a multi-producer, single-consumer FIFO built on a
// Michael-Scott style linked list: many goroutines may call push
// concurrently, but pop must only ever be called from one goroutine at a
// time (the owning worker's event loop).
//
// depth is incremented before the node is linked into the list and only
// decremented after it is unlinked, so a consumer can observe depth > 0
// for an instant before the corresponding node is actually reachable from
// pop. No library in the retrieved corpus implements this exact primitive
// (a lock-free MPSC queue with a loosely-synchronized depth counter), so
// this one stdlib-only type is hand-rolled rather than grounded on a
// third-party dependency; see DESIGN.md.
type mpscQueue struct {
	head atomic.Pointer[queueNode]
	tail atomic.Pointer[queueNode]

	depth atomic.Int64
}

func newMPSCQueue() (q *mpscQueue) {
	q = &mpscQueue{}

	stub := &queueNode{}
	q.head.Store(stub)
	q.tail.Store(stub)

	return q
}

// push appends val to the queue. Safe for concurrent use by any number of
// producers.
func (q *mpscQueue) push(val any) {
	n := &queueNode{val: val}

	q.depth.Add(1)

	prev := q.head.Swap(n)
	prev.next.Store(n)
}

// pop removes and returns the oldest value in the queue. ok is false if the
// queue was empty. pop must only be called from a single consumer goroutine.
func (q *mpscQueue) pop() (val any, ok bool) {
	tail := q.tail.Load()
	next := tail.next.Load()
	if next == nil {
		return nil, false
	}

	q.tail.Store(next)
	val = next.val
	next.val = nil

	q.depth.Add(-1)

	return val, true
}

// len reports the queue's depth. It is a momentary snapshot: concurrent
// push calls can make the true depth at the instant of the call higher than
// what len returns, and (by construction) len can briefly read nonzero even
// though pop would return ok == false, since depth is bumped before a node
// is linked.
func (q *mpscQueue) len() (n int64) {
	return q.depth.Load()
}

// priorityQueue is a condition-variable-guarded FIFO used for the
// PRIORITY class of events, which a worker must drain to completion before
// touching any other queue (§4.1). Unlike mpscQueue it supports blocking
// waits, which the pause/resume barrier needs.
type priorityQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []any
}

func newPriorityQueue() (q *priorityQueue) {
	q = &priorityQueue{}
	q.cond = sync.NewCond(&q.mu)

	return q
}

func (q *priorityQueue) push(val any) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, val)
	q.cond.Signal()
}

func (q *priorityQueue) pop() (val any, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	val = q.items[0]
	q.items = q.items[1:]

	return val, true
}

// popWait blocks until an item is available and returns it. It is only used
// while a worker is paused, draining nothing but the priority queue.
func (q *priorityQueue) popWait() (val any) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		q.cond.Wait()
	}

	val = q.items[0]
	q.items = q.items[1:]

	return val
}

func (q *priorityQueue) len() (n int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// queueClass identifies one of the four per-worker event queues, in the
// fixed priority order a worker drains them.
type queueClass int

// Queue classes, in drain priority order.
const (
	classPriority queueClass = iota
	classPrivileged
	classTask
	classNormal

	numQueueClasses
)

// String implements the [fmt.Stringer] interface for queueClass.
func (c queueClass) String() (s string) {
	switch c {
	case classPriority:
		return "priority"
	case classPrivileged:
		return "privileged"
	case classTask:
		return "task"
	case classNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// workerQueues bundles a worker's four typed FIFOs and the wake-up signal
// producers use to rouse the owning event loop out of an idle wait.
type workerQueues struct {
	priority   *priorityQueue
	privileged *mpscQueue
	task       *mpscQueue
	normal     *mpscQueue

	wake chan struct{}
}

func newWorkerQueues() (wq *workerQueues) {
	return &workerQueues{
		priority:   newPriorityQueue(),
		privileged: newMPSCQueue(),
		task:       newMPSCQueue(),
		normal:     newMPSCQueue(),
		// Buffered by one: a wake is a level, not an edge — at most one
		// pending wake needs to be outstanding for the loop to notice
		// it has work, so further wakes while one is pending are free
		// to be dropped rather than block the producer.
		wake: make(chan struct{}, 1),
	}
}

// push enqueues val on the named class's queue and wakes the owning worker.
func (wq *workerQueues) push(class queueClass, val any) {
	switch class {
	case classPriority:
		wq.priority.push(val)
	case classPrivileged:
		wq.privileged.push(val)
	case classTask:
		wq.task.push(val)
	case classNormal:
		wq.normal.push(val)
	default:
		panic("netmgr: invalid queue class")
	}

	wq.signal()
}

// signal wakes the owning worker's event loop without blocking.
func (wq *workerQueues) signal() {
	select {
	case wq.wake <- struct{}{}:
	default:
	}
}

// pop drains the queues in strict priority order: every PRIORITY item is
// processed before a single PRIVILEGED item is looked at, and so on. It
// returns at most one item per call so the caller's event loop stays
// responsive to newly-arrived priority work between dispatches.
func (wq *workerQueues) pop() (class queueClass, val any, ok bool) {
	if val, ok = wq.priority.pop(); ok {
		return classPriority, val, true
	}

	if val, ok = wq.privileged.pop(); ok {
		return classPrivileged, val, true
	}

	if val, ok = wq.task.pop(); ok {
		return classTask, val, true
	}

	if val, ok = wq.normal.pop(); ok {
		return classNormal, val, true
	}

	return 0, nil, false
}

// empty reports whether every queue is currently empty. Like mpscQueue.len,
// this is a momentary snapshot subject to the same depth-before-link race.
func (wq *workerQueues) empty() (b bool) {
	return wq.priority.len() == 0 &&
		wq.privileged.len() == 0 &&
		wq.task.len() == 0 &&
		wq.normal.len() == 0
}

package netmgr

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMPSCQueue_FIFOOrder(t *testing.T) {
	q := newMPSCQueue()

	for i := range 10 {
		q.push(i)
	}

	for i := range 10 {
		val, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, i, val)
	}

	_, ok := q.pop()
	assert.False(t, ok)
}

func TestMPSCQueue_ConcurrentProducersPreserveOrderPerProducer(t *testing.T) {
	const producers = 8
	const perProducer = 200

	q := newMPSCQueue()

	var wg sync.WaitGroup
	wg.Add(producers)

	for p := range producers {
		go func(p int) {
			defer wg.Done()

			for i := range perProducer {
				q.push(p*perProducer + i)
			}
		}(p)
	}

	wg.Wait()

	seen := map[int]int{}
	count := 0
	for {
		val, ok := q.pop()
		if !ok {
			break
		}

		count++
		n := val.(int)
		p := n / perProducer
		i := n % perProducer

		require.Equal(t, seen[p], i, "producer %d: events must be consumed in enqueue order", p)
		seen[p] = i + 1
	}

	assert.Equal(t, producers*perProducer, count)
}

func TestMPSCQueue_DepthNeverUnderreportsBeforePop(t *testing.T) {
	q := newMPSCQueue()

	q.push("x")

	assert.Equal(t, int64(1), q.len())

	val, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "x", val)
	assert.Equal(t, int64(0), q.len())
}

func TestPriorityQueue_FIFO(t *testing.T) {
	q := newPriorityQueue()

	q.push(1)
	q.push(2)
	q.push(3)

	for _, want := range []int{1, 2, 3} {
		val, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, want, val)
	}

	_, ok := q.pop()
	assert.False(t, ok)
}

func TestWorkerQueues_DrainsInPriorityOrder(t *testing.T) {
	wq := newWorkerQueues()

	wq.push(classNormal, "normal")
	wq.push(classTask, "task")
	wq.push(classPrivileged, "privileged")
	wq.push(classPriority, "priority")

	var order []queueClass
	for {
		class, _, ok := wq.pop()
		if !ok {
			break
		}

		order = append(order, class)
	}

	assert.Equal(t, []queueClass{classPriority, classPrivileged, classTask, classNormal}, order)
}

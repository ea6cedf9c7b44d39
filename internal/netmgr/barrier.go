package netmgr

import "sync"

// barrier is a reusable N-party rendezvous: once all n parties have called
// wait, every call returns and the barrier resets for its next use. It
// backs the manager's pause/resume protocol, where the manager and every
// worker must agree that all workers have reached a quiescent point before
// the manager proceeds.
type barrier struct {
	mu   sync.Mutex
	cond *sync.Cond

	n       int
	waiting int
	gen     uint64
}

func newBarrier(n int) (b *barrier) {
	b = &barrier{n: n}
	b.cond = sync.NewCond(&b.mu)

	return b
}

// wait blocks until n calls to wait (across any goroutines) have arrived for
// the current generation, then releases all of them and advances to the
// next generation.
func (b *barrier) wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.gen
	b.waiting++

	if b.waiting == b.n {
		b.waiting = 0
		b.gen++
		b.cond.Broadcast()

		return
	}

	for gen == b.gen {
		b.cond.Wait()
	}
}

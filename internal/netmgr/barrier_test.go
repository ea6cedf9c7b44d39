package netmgr

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrier_ReleasesAllPartiesTogether(t *testing.T) {
	const n = 5

	b := newBarrier(n)

	var before atomic.Int32
	var after atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)

	release := make(chan struct{})

	for range n {
		go func() {
			defer wg.Done()

			before.Add(1)
			b.wait()
			after.Add(1)

			<-release
		}()
	}

	require.Eventually(t, func() bool {
		return before.Load() == n
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		return after.Load() == n
	}, time.Second, time.Millisecond)

	close(release)
	wg.Wait()
}

func TestBarrier_ReusableAcrossGenerations(t *testing.T) {
	const n = 3

	b := newBarrier(n)

	for round := range 3 {
		var wg sync.WaitGroup
		wg.Add(n)

		for range n {
			go func() {
				defer wg.Done()

				b.wait()
			}()
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("round %d: barrier did not release all parties", round)
		}
	}
}

func TestBarrier_SingleParty(t *testing.T) {
	b := newBarrier(1)

	done := make(chan struct{})
	go func() {
		b.wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("single-party barrier never released")
	}

	assert.NotNil(t, b)
}

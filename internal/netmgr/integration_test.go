package netmgr_test

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdguardTeam/netmgr/internal/netmgr"
)

func TestTCPDNS_EchoRoundTrip(t *testing.T) {
	ctx := context.Background()

	m := netmgr.New(netmgr.Config{Workers: 2})
	defer m.Destroy(ctx)

	var wg sync.WaitGroup
	wg.Add(1)

	listenCfg := netmgr.ListenConfig{
		Addr: "127.0.0.1:0",
		OnMessage: func(ctx context.Context, h *netmgr.Handle, result error, region []byte) {
			require.NoError(t, result)

			echo := append([]byte(nil), region...)
			h.Send(ctx, echo, nil)
		},
	}

	parent, err := netmgr.ListenTCPDNS(ctx, m, listenCfg)
	require.NoError(t, err)
	defer parent.StopListening(ctx)

	addr := parent.Addr()
	require.NotNil(t, addr)

	payload := []byte("ping")
	var received []byte

	connectCfg := netmgr.ConnectConfig{
		Peer:      addr.String(),
		TimeoutMS: 2000,
		OnConnect: func(ctx context.Context, h *netmgr.Handle, result error) {
			require.NoError(t, result)

			h.Send(ctx, payload, nil)
		},
		OnMessage: func(ctx context.Context, h *netmgr.Handle, result error, region []byte) {
			defer wg.Done()

			require.NoError(t, result)
			received = append([]byte(nil), region...)
		},
	}

	netmgr.ConnectTCPDNS(ctx, m, connectCfg)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for echo round trip")
	}

	assert.Equal(t, payload, received)
}

func TestManager_PauseResume(t *testing.T) {
	ctx := context.Background()

	m := netmgr.New(netmgr.Config{Workers: 3})
	defer m.Destroy(ctx)

	err := m.Pause(ctx)
	require.NoError(t, err)

	err = m.Pause(ctx)
	assert.ErrorIs(t, err, netmgr.ErrAlreadyPaused)

	m.Resume(ctx)

	err = m.Pause(ctx)
	require.NoError(t, err)
	m.Resume(ctx)
}

func TestManager_TimeoutsRoundTrip(t *testing.T) {
	m := netmgr.New(netmgr.Config{Workers: 1})
	defer m.Destroy(context.Background())

	want := netmgr.Timeouts{Init: 100, Idle: 200, Keepalive: 300, Advertised: 400}
	m.SetTimeouts(want)

	assert.Equal(t, want, m.GetTimeouts())
}

// TestQuota_ConcurrentAcceptsBoundedAndDeferredAcceptRuns drives a real
// listener with Soft: 1 and checks both halves of the deferred-accept
// contract: a second concurrent connection is soft-exceeded (deferred, not
// admitted) while the first is still open, and once the first disconnects
// the deferred second connection is finally accepted rather than leaked
// forever.
func TestQuota_ConcurrentAcceptsBoundedAndDeferredAcceptRuns(t *testing.T) {
	ctx := context.Background()

	m := netmgr.New(netmgr.Config{Workers: 1})
	defer m.Destroy(ctx)

	quota := netmgr.NewQuota(netmgr.QuotaConfig{Soft: 1, Hard: 2, Logger: slog.Default()})

	var acceptedFirst, acceptedSecond sync.WaitGroup
	acceptedFirst.Add(1)
	acceptedSecond.Add(1)

	var firstHandle *netmgr.Handle
	var firstOnce, secondOnce sync.Once

	parent, err := netmgr.ListenTCPDNS(ctx, m, netmgr.ListenConfig{
		Addr:  "127.0.0.1:0",
		Quota: quota,
		OnAccept: func(ctx context.Context, h *netmgr.Handle, result error) {
			require.NoError(t, result)

			if firstHandle == nil {
				firstHandle = h
				firstOnce.Do(acceptedFirst.Done)
			} else {
				secondOnce.Do(acceptedSecond.Done)
			}
		},
	})
	require.NoError(t, err)
	defer parent.StopListening(ctx)

	addr := parent.Addr()
	require.NotNil(t, addr)

	firstConn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer firstConn.Close()

	select {
	case <-waitGroupDone(&acceptedFirst):
	case <-time.After(2 * time.Second):
		t.Fatal("first connection was never accepted")
	}

	secondConn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer secondConn.Close()

	// The quota is at its soft threshold: the second connection must not be
	// accepted yet.
	select {
	case <-waitGroupDone(&acceptedSecond):
		t.Fatal("second connection was accepted while the quota was at capacity")
	case <-time.After(200 * time.Millisecond):
	}

	// Closing the first connection must release its admitted slot and run
	// the deferred accept for the second.
	require.NoError(t, firstConn.Close())

	select {
	case <-waitGroupDone(&acceptedSecond):
	case <-time.After(5 * time.Second):
		t.Fatal("deferred second connection was never accepted after the first detached")
	}
}

func waitGroupDone(wg *sync.WaitGroup) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	return done
}

// TestHandle_IdleTimeoutFiresAutomatically checks that an Idle timeout
// configured on the manager arms itself on accept, without the caller ever
// calling [netmgr.Handle.SetTimeout] directly.
func TestHandle_IdleTimeoutFiresAutomatically(t *testing.T) {
	ctx := context.Background()

	m := netmgr.New(netmgr.Config{
		Workers:  1,
		Timeouts: netmgr.Timeouts{Idle: 200},
	})
	defer m.Destroy(ctx)

	timedOut := make(chan struct{})
	var once sync.Once

	parent, err := netmgr.ListenTCPDNS(ctx, m, netmgr.ListenConfig{
		Addr: "127.0.0.1:0",
		OnMessage: func(ctx context.Context, h *netmgr.Handle, result error, region []byte) {
			if result != nil {
				once.Do(func() { close(timedOut) })
			}
		},
	})
	require.NoError(t, err)
	defer parent.StopListening(ctx)

	addr := parent.Addr()
	require.NotNil(t, addr)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-timedOut:
	case <-time.After(2 * time.Second):
		t.Fatal("idle timeout never fired without an explicit SetTimeout call")
	}
}

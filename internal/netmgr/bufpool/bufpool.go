// Package bufpool provides the manager-wide pool used to recycle the
// workers' fixed-size receive/send buffers.  Events and requests are not
// pooled here.  It is a thin wrapper around
// [syncutil.Pool], the same primitive [dnsserver.ServerDNS] uses for its
// UDP/TCP/response buffer pools.
package bufpool

import "github.com/AdguardTeam/golibs/syncutil"

// MinBufferSize is the minimum size of a worker's fixed receive buffer, per
// the manager's data model: large enough to hold the biggest possible UDP
// datagram.
const MinBufferSize = 65535

// Bytes is a pool of reusable byte slices of a fixed nominal length.  Get
// returns a pointer to a slice of at least that length; Put returns it for
// reuse.
type Bytes struct {
	pool *syncutil.Pool[[]byte]
}

// NewBytes returns a *Bytes pool whose slices are at least size bytes long.
func NewBytes(size int) (p *Bytes) {
	return &Bytes{pool: syncutil.NewSlicePool[byte](size)}
}

// Get returns a pointer to a reusable byte slice.
func (p *Bytes) Get() (bufPtr *[]byte) {
	return p.pool.Get()
}

// Put returns bufPtr to the pool for reuse.
func (p *Bytes) Put(bufPtr *[]byte) {
	p.pool.Put(bufPtr)
}

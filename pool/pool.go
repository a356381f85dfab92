// Package pool implements the acceptor-to-source hand-off queue: the
// one piece of shared state an acceptor thread and a source thread
// touch without either owning the other (§4.5 step 1, §6 "pool
// interface").
package pool

import (
	"io"
	"sync"

	"github.com/ntripcaster/caster/transport"
	"github.com/ntripcaster/caster/utils/safemap"
)

// PendingConn is what an acceptor enqueues for a mountpoint: enough to
// build a client.Client once the owning source thread assigns it a
// ring cursor. The pool itself never touches the ring, so it stays
// usable before a source even exists for a given mount.
type PendingConn struct {
	ID         string
	Writer     transport.Writer
	UDPInbound *transport.UDPScratchBuffer
	Conn       io.Closer
}

// Pool is the hand-off queue, keyed by mountpoint. Add is called by
// acceptor threads; Drain is called by the owning source thread once
// per main-loop iteration (§4.5 step 1) and atomically empties the
// queue relative to further Adds, matching pool_get_my_clients's
// "atomically relative to the producer" contract.
type Pool struct {
	byMount *safemap.Map[string, *mountQueue]
}

type mountQueue struct {
	mu      sync.Mutex
	pending []PendingConn
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{byMount: safemap.New[string, *mountQueue]()}
}

// Add enqueues conn for mount, creating the mount's queue on first use.
func (p *Pool) Add(mount string, conn PendingConn) {
	q, _ := p.byMount.GetOrCompute(mount, func() *mountQueue { return &mountQueue{} })
	q.mu.Lock()
	q.pending = append(q.pending, conn)
	q.mu.Unlock()
}

// Drain returns everything enqueued for mount since the last Drain (or
// since creation), leaving the queue empty. A mount with no queue
// (nothing was ever enqueued) drains to nil.
func (p *Pool) Drain(mount string) []PendingConn {
	q, ok := p.byMount.Get(mount)
	if !ok {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}

// Forget drops a mount's queue entirely, used during source teardown's
// final drain (§4.5, "drain the pool one last time so newly-accepted
// clients see a clean refusal rather than orphaned handles").
func (p *Pool) Forget(mount string) []PendingConn {
	out := p.Drain(mount)
	p.byMount.Del(mount)
	return out
}

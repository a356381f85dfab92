// Package source implements the Source record and the source thread:
// the loop that drains newly accepted clients, ingests one chunk from
// the producer, fans it out, and reaps dead clients (§4.5).
package source

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ntripcaster/caster/client"
	"github.com/ntripcaster/caster/logger"
	"github.com/ntripcaster/caster/mount"
	"github.com/ntripcaster/caster/omap"
	"github.com/ntripcaster/caster/pool"
	"github.com/ntripcaster/caster/ring"
	"github.com/ntripcaster/caster/stats"
	"github.com/ntripcaster/caster/transport"
)

// Type is the source's protocol tag (§3).
type Type int32

const (
	TypeHTTP Type = iota
	TypeRTSP
	TypeRelay
	TypeNonNTRIP
)

// innerWritePasses is the 10:1 write:read ratio from §4.5 step 3: a
// tuning knob, not a correctness requirement.
const innerWritePasses = 10

// Catalog is the externally-visible metadata publisher (§6,
// "sourcetable interface"): opaque to the core, which only calls it at
// registration and teardown.
type Catalog interface {
	AddSource(rawMount string)
	RemoveSource(rawMount string)
}

// Source owns a ChunkRing, the ordered set of clients reading from
// it, and the connection state machine. Exactly one goroutine (its
// own Run call) ever advances the ring or mutates the client set;
// every other interaction (kicking, state queries) goes through
// exported methods safe for concurrent use.
type Source struct {
	ID       string
	RawMount string
	Type     Type

	ring    *ring.ChunkRing
	reader  transport.Reader
	clients *omap.Tree[string, *client.Client]
	stats   *stats.Entry
	log     logger.Logger

	mountKey mount.Key
	state    atomic.Int32

	conn interface{ Close() error }
}

// New creates a source for mount in the mount.Unused state, ready to be
// inserted into a mount.Registry (the login package sets it CONNECTED
// once the registry Insert succeeds).
func New(id, rawMount string, typ Type, r *ring.ChunkRing, reader transport.Reader, st *stats.Entry, log logger.Logger) *Source {
	s := &Source{
		ID:       id,
		RawMount: rawMount,
		Type:     typ,
		ring:     r,
		reader:   reader,
		clients:  omap.New[string, *client.Client](func(a, b string) bool { return a < b }),
		stats:    st,
		log:      log,
		mountKey: mount.ParseMount(rawMount),
	}
	s.state.Store(int32(mount.Unused))
	return s
}

// MountKey implements mount.Entry.
func (s *Source) MountKey() mount.Key { return s.mountKey }

// State implements mount.Entry.
func (s *Source) State() mount.State { return mount.State(s.state.Load()) }

// SetState transitions the source's state; CONNECTED<->PAUSED and any
// state->KILLED are the only transitions the loop expects (§4.5).
func (s *Source) SetState(st mount.State) { s.state.Store(int32(st)) }

// Kick transitions the source to KILLED (§5, "kicking a connection is
// a state transition, not a thread-level cancellation") and logs why.
func (s *Source) Kick(reason string) {
	if s.State() == mount.Killed {
		return
	}
	s.log.Logf("Kicking source %s on mount %s: %s", s.ID, s.RawMount, reason)
	s.SetState(mount.Killed)
}

// SetConn attaches the underlying source connection, closed during
// teardown.
func (s *Source) SetConn(c interface{ Close() error }) { s.conn = c }

// NumClients reports the current client-set size, used to seed each
// published slot's ClientsLeft.
func (s *Source) NumClients() int32 { return int32(s.clients.Len()) }

// Clients returns a snapshot of the current client set, for admin
// listing and stats.
func (s *Source) Clients() []*client.Client { return s.clients.Snapshot() }

// KickTrailing implements ring.TrailingKicker (§4.1): rather than the
// original's quadratic traversal-bound sweep
// (kick_clients_on_cid's `max = count*count + 2`), candidates are
// collected by Snapshot (which releases the tree's lock before
// returning) and then kicked outside of any traversal.
func (s *Source) KickTrailing(cid int) {
	threshold := int32(s.ring.Len() - 1)
	for _, c := range s.clients.Snapshot() {
		if c.IsDead() {
			continue
		}
		if c.Errors() >= threshold {
			c.Kick("Too many errors (client not receiving data fast enough)")
		}
	}
}

// drainPool moves everything the acceptor has queued for this mount
// into the client set (§4.5 step 1).
func (s *Source) drainPool(p *pool.Pool) {
	for _, pc := range p.Drain(s.RawMount) {
		c := client.New(pc.ID, s.ID, pc.Writer, s.ring.StartCursor())
		c.UDPInbound = pc.UDPInbound
		c.Conn = pc.Conn
		c.SetLifecycle(client.Alive)
		s.clients.Insert(c.ID, c)
		s.stats.ClientConnected()
	}
}

// ingestChunk reads one chunk from the producer and publishes it
// (§4.2). It returns true if the source should be declared dead (no
// bytes at all after the full retry budget, a hard read error, or a
// mid-ingest kill observed).
func (s *Source) ingestChunk(ctx context.Context) (dead bool) {
	if s.reader.Kind() == transport.RTP {
		return s.ingestRTP(ctx)
	}

	readSize := s.ring.ReadSize()
	maxRead := s.reader.MaxRead(readSize)
	if maxRead <= 0 || maxRead > readSize {
		maxRead = readSize
	}
	scratch := make([]byte, maxRead)
	total := 0
	for try := 0; try < transport.MaxRetries; try++ {
		if s.State() == mount.Killed {
			return true
		}
		a := s.reader.Attempt(ctx, scratch, total)
		if a.Err != nil {
			return true
		}
		total += a.N
		if total >= maxRead {
			break
		}
		if a.N == 0 {
			time.Sleep(transport.ReadRetryDelay)
		}
	}
	if total == 0 {
		return true
	}
	s.publish(scratch[:total])
	return false
}

// ingestRTP drives an RTP Reader, which publishes directly to the
// ring itself rather than filling a caller buffer (§4.3).
func (s *Source) ingestRTP(ctx context.Context) (dead bool) {
	for try := 0; try < transport.MaxRetries; try++ {
		if s.State() == mount.Killed {
			return true
		}
		a := s.reader.Attempt(ctx, nil, 0)
		if a.Err != nil {
			return true
		}
		if a.Absorbed {
			return false
		}
		time.Sleep(transport.ReadRetryDelay)
	}
	return true
}

// publish performs the trailing-kick-before-overwrite check and
// publishes data as the next slot (§4.1 invariant R2).
func (s *Source) publish(data []byte) {
	cid := s.ring.CID()
	if s.ring.ClientsLeftAt(cid) > 0 {
		s.KickTrailing(cid)
		s.ring.ForceZeroClientsLeft(cid)
	}
	buf := s.ring.PrepareWrite()
	buf.Write(data)
	s.ring.Publish(len(data), s.NumClients())
	s.stats.AddIn(len(data))
}

// fanOutPass calls Deliver once for every live client (§4.5 step 3,
// one inner iteration).
func (s *Source) fanOutPass() {
	producerCID := s.ring.CID()
	for _, c := range s.clients.Snapshot() {
		if c.IsDead() {
			continue
		}
		c.Deliver(producerCID, s.ring)
		if n := c.TakeBytesWritten(); n > 0 {
			s.stats.AddOut(int(n))
		}
	}
}

// reapDeadClients closes and removes every DEAD client (§4.5 step 4).
func (s *Source) reapDeadClients() {
	for _, c := range s.clients.Snapshot() {
		if !c.IsDead() {
			continue
		}
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
		s.clients.Delete(c.ID)
		s.log.Debugf("Reaped client %s on mount %s: %s", c.ID, s.RawMount, c.KickReason())
	}
}

// Run is the source thread's main loop (§4.5). It returns once the
// source has been fully torn down; callers normally invoke it as its
// own goroutine immediately after a successful registry Insert.
func (s *Source) Run(ctx context.Context, p *pool.Pool, registry *mount.Registry, table Catalog) {
	for {
		st := s.State()
		if st != mount.Connected && st != mount.Paused {
			break
		}

		s.drainPool(p)

		if st == mount.Connected {
			if dead := s.ingestChunk(ctx); dead {
				s.log.Logf("Didn't receive data from source %s on mount %s, assuming it died", s.ID, s.RawMount)
				s.Kick("Source died")
				break
			}
		}

		for i := 0; i < innerWritePasses; i++ {
			if cur := s.State(); cur == mount.Killed || cur == mount.Paused {
				break
			}
			s.fanOutPass()
		}

		s.reapDeadClients()
	}
	s.teardown(p, registry, table)
}

// teardown performs orderly shutdown once the loop observes KILLED
// (§4.5): deregister, drain the pool one last time so late-arriving
// clients see a clean refusal, close the connection, and evict every
// remaining client.
func (s *Source) teardown(p *pool.Pool, registry *mount.Registry, table Catalog) {
	registry.Remove(s.mountKey)
	if table != nil {
		table.RemoveSource(s.RawMount)
	}

	for _, pc := range p.Forget(s.RawMount) {
		if pc.Conn != nil {
			_ = pc.Conn.Close()
		}
	}

	if s.conn != nil {
		_ = s.conn.Close()
	}

	for _, c := range s.clients.Snapshot() {
		c.Kick("Source disconnected")
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
		s.clients.Delete(c.ID)
	}
}

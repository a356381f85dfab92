// Package client implements the per-subscriber record and the
// fan-out write step: a client's cursor into its source's chunk ring,
// its error count, its lifecycle, and its outbound framing.
package client

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ntripcaster/caster/ring"
	"github.com/ntripcaster/caster/transport"
)

// Lifecycle mirrors the client alive states from §3: a client is
// created VIRGIN, becomes ALIVE once it starts receiving data, may be
// PAUSED/UNPAUSED by admin action, and is DEAD once kicked or reaped.
type Lifecycle int32

const (
	Virgin Lifecycle = iota
	Alive
	Paused
	Unpaused
	Dead
)

func (l Lifecycle) String() string {
	switch l {
	case Virgin:
		return "VIRGIN"
	case Alive:
		return "ALIVE"
	case Paused:
		return "PAUSED"
	case Unpaused:
		return "UNPAUSED"
	case Dead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// DeliverResult reports what Deliver did this call, so the owning
// source loop can decide whether to log, count, or reap.
type DeliverResult int

const (
	// ResultCaughtUp means no payload was written this call: the
	// client's cursor reached the producer's cid (possibly after
	// skipping empty or drained slots), or both attempts were spent
	// skipping such slots.
	ResultCaughtUp DeliverResult = iota
	// ResultProgressed means a payload write was attempted on a slot;
	// a write that moved zero bytes also reports this, after
	// incrementing the error counter.
	ResultProgressed
	// ResultKicked means a write failure or UDP timeout ended the
	// client this call; the caller should reap it on the next sweep.
	ResultKicked
)

// Client is one downstream subscriber of a source's ChunkRing. Per the
// "no back-pointer" design note, it carries only a stable SourceID,
// not a pointer to the Source itself — callers resolve the source via
// the mount registry when they need producer-side state.
type Client struct {
	ID       string
	SourceID string
	Writer   transport.Writer

	// UDPInbound is non-nil only for UDP-framed clients; it is the
	// scratch buffer a dedicated reader goroutine fills with this
	// client's inbound keep-alive datagrams (§4.4, point 5).
	UDPInbound *transport.UDPScratchBuffer

	// Conn is closed by the reaper once the client is collected DEAD.
	Conn io.Closer

	ConnectedAt time.Time

	mu        sync.Mutex
	cursor    ring.Cursor
	lifecycle atomic.Int32
	errors    atomic.Int32
	written   atomic.Int64

	kickMu     sync.Mutex
	kickReason string
}

// New creates a client parked at start (normally ring.StartCursor()),
// in the VIRGIN lifecycle state.
func New(id, sourceID string, w transport.Writer, start ring.Cursor) *Client {
	c := &Client{
		ID:          id,
		SourceID:    sourceID,
		Writer:      w,
		ConnectedAt: time.Now(),
		cursor:      start,
	}
	c.lifecycle.Store(int32(Virgin))
	return c
}

func (c *Client) Lifecycle() Lifecycle {
	return Lifecycle(c.lifecycle.Load())
}

func (c *Client) SetLifecycle(l Lifecycle) {
	c.lifecycle.Store(int32(l))
}

func (c *Client) IsDead() bool {
	return c.Lifecycle() == Dead
}

// Errors reports the current no-progress counter, checked by the
// trailing-kick sweep (§4.1) against CHUNKLEN-1.
func (c *Client) Errors() int32 {
	return c.errors.Load()
}

// Cursor returns the client's current ring position.
func (c *Client) Cursor() ring.Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Kick marks the client DEAD and records why, for the reaper's log
// line. Kicking an already-DEAD client is a no-op (§8, "kick
// idempotence").
func (c *Client) Kick(reason string) {
	if c.Lifecycle() == Dead {
		return
	}
	c.kickMu.Lock()
	c.kickReason = reason
	c.kickMu.Unlock()
	c.SetLifecycle(Dead)
}

// KickReason reports the reason passed to the first Kick call, or ""
// if the client was never kicked.
func (c *Client) KickReason() string {
	c.kickMu.Lock()
	defer c.kickMu.Unlock()
	return c.kickReason
}

// Deliver is write_chunk ported to Go: up to two attempts per call, the
// first of which may just skip past an empty or already-drained slot,
// the second of which performs the actual framed write (§4.4).
func (c *Client) Deliver(producerCID int, r *ring.ChunkRing) DeliverResult {
	if c.IsDead() {
		return ResultCaughtUp
	}
	if c.udpTimedOut() {
		c.Kick("UDP connection timeout")
		return ResultKicked
	}
	ka, hasKeepAlive := c.Writer.(interface {
		KeepAliveDue() bool
		SendKeepAlive() error
	})

	for attempt := 0; attempt < 2; attempt++ {
		cur := c.Cursor()
		if cur.CID == producerCID {
			if hasKeepAlive && ka.KeepAliveDue() {
				if err := ka.SendKeepAlive(); err != nil {
					c.Kick("Broken connection")
					return ResultKicked
				}
			}
			return ResultCaughtUp
		}

		view := r.View(cur.CID)
		length := view.Len - cur.Offset
		if length <= 0 || view.Len == 0 {
			next := r.Advance(cur.CID)
			c.setCursor(ring.Cursor{CID: next, Offset: 0})
			continue // the next chunk might not be empty
		}

		if cur.Offset == 0 {
			if err := c.Writer.BeginSlot(view.Len); err != nil {
				c.Kick("Broken connection")
				return ResultKicked
			}
		}

		n, err := c.Writer.WritePayload(view.Bytes[cur.Offset:view.Len])
		if err != nil {
			c.Kick("Broken connection")
			return ResultKicked
		}
		if n == 0 {
			c.errors.Add(1)
			return ResultProgressed
		}
		c.written.Add(int64(n))

		if cur.Offset+n >= view.Len {
			if err := c.Writer.EndSlot(); err != nil {
				c.Kick("Broken connection")
				return ResultKicked
			}
			next := r.Advance(cur.CID)
			c.setCursor(ring.Cursor{CID: next, Offset: 0})
		} else {
			c.setCursor(ring.Cursor{CID: cur.CID, Offset: cur.Offset + n})
		}
		return ResultProgressed
	}
	return ResultCaughtUp
}

// TakeBytesWritten atomically reports and resets the bytes written
// since the last call, for the owning source thread's per-pass
// statistics accounting.
func (c *Client) TakeBytesWritten() int64 {
	return c.written.Swap(0)
}

func (c *Client) setCursor(cur ring.Cursor) {
	c.mu.Lock()
	c.cursor = cur
	c.mu.Unlock()
}

func (c *Client) udpTimedOut() bool {
	if c.UDPInbound == nil {
		return false
	}
	last := c.UDPInbound.LastKeepAlive()
	if last.IsZero() {
		last = c.ConnectedAt
	}
	return time.Since(last) > transport.UDPLivenessTimeout
}

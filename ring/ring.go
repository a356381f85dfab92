// Package ring implements the per-source chunk ring: a fixed-size
// circular buffer of byte chunks with a per-slot client-reader count,
// the unit of publication from one producer (a source's ingest loop) to
// many consumers (that source's clients). It is the sliding near-live
// window described by the caster: there is no replay, no persistence,
// only a bounded lag tolerance of CHUNKLEN slots.
package ring

import (
	"sync"

	"github.com/valyala/bytebufferpool"
)

// DefaultChunkLen is CHUNKLEN from the original implementation: the
// number of slots in the ring, and therefore the maximum number of
// slots a client may lag behind the producer before eviction.
const DefaultChunkLen = 32

// DefaultReadSize is SOURCE_READSIZE, the nominal size of one published
// slot for TCP/chunked ingest (RTP/UDP framing may publish differently
// sized slots; see Absorb).
const DefaultReadSize = 4096

// Slot is one buffer in the ring: the bytes last published into it, and
// the count of clients that have not yet consumed it (invariant R2: a
// slot with ClientsLeft > 0 must not be overwritten until that backlog
// is cleared).
type Slot struct {
	Data        *bytebufferpool.ByteBuffer
	Len         int
	ClientsLeft int32
}

func newSlot() *Slot {
	return &Slot{Data: bytebufferpool.Get()}
}

// Cursor is a client's position into a ring: the slot index and the byte
// offset already consumed within that slot.
type Cursor struct {
	CID    int
	Offset int
}

// ChunkRing is the fixed CHUNKLEN-slot circular buffer described in
// spec §3/§4.1. Exactly one producer (a source's ingest loop) advances
// CID; any number of readers (that source's clients) read published
// slots at their own cursor. ChunkRing itself holds no knowledge of
// clients — callers coordinate evictions via ClientsLeftAt/ForceZero and
// the TrailingKicker hook passed to Absorb.
type ChunkRing struct {
	mu        sync.RWMutex
	slots     []*Slot
	cid       int
	readSize  int
	broadcast chan struct{}
}

// New creates a ChunkRing with chunkLen slots, each capable of holding
// up to readSize bytes per publication.
func New(chunkLen, readSize int) *ChunkRing {
	if chunkLen <= 0 {
		chunkLen = DefaultChunkLen
	}
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	slots := make([]*Slot, chunkLen)
	for i := range slots {
		slots[i] = newSlot()
	}
	return &ChunkRing{
		slots:     slots,
		readSize:  readSize,
		broadcast: make(chan struct{}),
	}
}

// Len reports CHUNKLEN, the number of slots.
func (r *ChunkRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// ReadSize reports the configured SOURCE_READSIZE.
func (r *ChunkRing) ReadSize() int {
	return r.readSize
}

// CID reports the producer's current write position.
func (r *ChunkRing) CID() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cid
}

// ClientsLeftAt peeks the backlog count of a slot without modifying it.
func (r *ChunkRing) ClientsLeftAt(cid int) int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slots[cid].ClientsLeft
}

// ForceZeroClientsLeft implements the second half of a trailing-client
// kick (§4.1): once the slow clients holding cursors into cid have been
// evicted by the caller, the backlog counter is force-reset so the
// producer can proceed.
func (r *ChunkRing) ForceZeroClientsLeft(cid int) {
	r.mu.Lock()
	r.slots[cid].ClientsLeft = 0
	r.mu.Unlock()
}

// PrepareWrite returns the buffer the producer should fill for the next
// publication, reset and ready for ReadSize()-or-fewer bytes.
func (r *ChunkRing) PrepareWrite() *bytebufferpool.ByteBuffer {
	r.mu.RLock()
	slot := r.slots[r.cid]
	r.mu.RUnlock()
	slot.Data.Reset()
	return slot.Data
}

// Publish records the length just written into the current slot (via
// PrepareWrite), seeds its ClientsLeft from numClients, and advances CID.
// A zero-length publish is valid and still observed by clients (§4.1:
// "a produced slot with len==0 is still published").
func (r *ChunkRing) Publish(n int, numClients int32) (publishedAt int) {
	r.mu.Lock()
	cur := r.cid
	slot := r.slots[cur]
	slot.Len = n
	slot.ClientsLeft = numClients
	r.cid = (r.cid + 1) % len(r.slots)
	old := r.broadcast
	r.broadcast = make(chan struct{})
	r.mu.Unlock()
	close(old)
	return cur
}

// Subscribe returns a channel that closes the next time Publish runs,
// letting a caught-up client block without polling.
func (r *ChunkRing) Subscribe() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.broadcast
}

// StartCursor returns the placement for a newly joined (VIRGIN) client:
// one slot behind the producer, offset zero (§4.1 new-client placement).
func (r *ChunkRing) StartCursor() Cursor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Cursor{CID: r.prevLocked(r.cid), Offset: 0}
}

func (r *ChunkRing) prevLocked(cid int) int {
	if cid > 0 {
		return cid - 1
	}
	return len(r.slots) - 1
}

// SlotView is a read-only snapshot of one slot's bytes, safe to hold
// after the ring's lock is released (the underlying byte slice is only
// valid until the next Publish recycles that slot, so callers must copy
// out what they need before yielding).
type SlotView struct {
	Bytes []byte
	Len   int
}

// View returns the current contents of slot cid.
func (r *ChunkRing) View(cid int) SlotView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.slots[cid]
	return SlotView{Bytes: s.Data.Bytes(), Len: s.Len}
}

// Advance implements the client-side half of the cursor protocol
// (§4.1): after fully consuming slot `from`, the client's cursor moves
// to the next slot at offset 0, and that slot's backlog count drops by
// one.
func (r *ChunkRing) Advance(from int) (next int) {
	r.mu.Lock()
	r.slots[from].ClientsLeft--
	next = (from + 1) % len(r.slots)
	r.mu.Unlock()
	return next
}

// TrailingKicker is implemented by the owning source: before the
// producer overwrites a slot that still has ClientsLeft > 0, it must
// evict the clients responsible (§4.1, invariant R2) and then call
// ForceZeroClientsLeft.
type TrailingKicker interface {
	KickTrailing(cid int)
}

// Absorb prepends the remainder the previous call left in the current
// slot to buf, splits the combined bytes across as many whole
// ReadSize slots as they contain, publishing and advancing once per
// slot (kicking trailing clients first, as §4.1 requires for any
// overwrite), then leaves the new remainder in the *current*, not yet
// advanced, slot, where the next Absorb call merges it with its
// datagram — this is source_fill_chunks from the original (§4.3).
func (r *ChunkRing) Absorb(buf []byte, numClients int32, kicker TrailingKicker) (remainder int) {
	readSize := r.ReadSize()
	if carried := r.View(r.CID()).Bytes; len(carried) > 0 {
		buf = append(append(make([]byte, 0, len(carried)+len(buf)), carried...), buf...)
	}
	p := 0
	for len(buf)-p >= readSize {
		cid := r.CID()
		if r.ClientsLeftAt(cid) > 0 {
			kicker.KickTrailing(cid)
			r.ForceZeroClientsLeft(cid)
		}
		dst := r.PrepareWrite()
		dst.Write(buf[p : p+readSize])
		r.Publish(readSize, numClients)
		p += readSize
	}
	rest := buf[p:]
	dst := r.PrepareWrite()
	dst.Write(rest)
	return len(rest)
}

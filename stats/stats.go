// Package stats implements the persistent per-mountpoint statistics
// set: unlike a Source, an Entry survives across successive source
// connections on the same mount (§3, "Statistics entry").
package stats

import (
	"sync/atomic"
	"time"

	"github.com/ntripcaster/caster/utils/safemap"
)

// Entry accumulates byte counters and connection history for one
// mountpoint. All fields are safe for concurrent use from the owning
// source thread (writes) and admin/stats readers (reads).
type Entry struct {
	Mount string

	bytesIn         atomic.Int64
	bytesOut        atomic.Int64
	clientConnects  atomic.Int64
	connectTimeNano atomic.Int64
	lastIngestNano  atomic.Int64

	firstConnected time.Time
}

func newEntry(mount string) *Entry {
	return &Entry{Mount: mount, firstConnected: time.Now()}
}

// AddIn records bytes ingested from the source and stamps the ingest
// clock the maintenance scheduler's stale-mount sweep reads from
// (§4.7/§2 NEW, "stale-mount reap").
func (e *Entry) AddIn(n int) {
	e.bytesIn.Add(int64(n))
	e.lastIngestNano.Store(time.Now().UnixNano())
}

// AddOut records bytes written to clients.
func (e *Entry) AddOut(n int) { e.bytesOut.Add(int64(n)) }

// ClientConnected records one client connection against this mount's
// lifetime totals.
func (e *Entry) ClientConnected() { e.clientConnects.Add(1) }

// AddConnectedDuration accumulates cumulative client connect time.
func (e *Entry) AddConnectedDuration(d time.Duration) {
	e.connectTimeNano.Add(int64(d))
}

// BytesIn reports total bytes ingested across every source connection
// this mount has ever had.
func (e *Entry) BytesIn() int64 { return e.bytesIn.Load() }

// BytesOut reports total bytes written to clients across this mount's
// lifetime.
func (e *Entry) BytesOut() int64 { return e.bytesOut.Load() }

// ClientConnections reports the lifetime count of client connections.
func (e *Entry) ClientConnections() int64 { return e.clientConnects.Load() }

// ConnectedDuration reports cumulative client connect time.
func (e *Entry) ConnectedDuration() time.Duration {
	return time.Duration(e.connectTimeNano.Load())
}

// FirstConnected reports when this mount's statistics entry was first
// created.
func (e *Entry) FirstConnected() time.Time { return e.firstConnected }

// LastIngest reports when AddIn was last called for this mount, the
// zero Time if the mount has never ingested a byte. The maintenance
// scheduler uses this as a backstop liveness signal independent of the
// per-source read-timeout detection already running inside Run, for a
// source goroutine that has stalled without itself observing the
// timeout (§2 NEW, "stale-mount reap").
func (e *Entry) LastIngest() time.Time {
	nano := e.lastIngestNano.Load()
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// Set is the persistent mount -> Entry table (sourcesstats_mutex's
// role in §5, here enforced by the xsync map rather than a dedicated
// mutex).
type Set struct {
	entries *safemap.Map[string, *Entry]
}

// NewSet creates an empty statistics set.
func NewSet() *Set {
	return &Set{entries: safemap.New[string, *Entry]()}
}

// GetOrCreate returns the statistics entry for mount, creating one if
// this is the first time the mount has ever had a source (§4.7 step
// 5, "register its statistics entry, creating one if new for this
// mount").
func (s *Set) GetOrCreate(mount string) *Entry {
	e, _ := s.entries.GetOrCompute(mount, func() *Entry { return newEntry(mount) })
	return e
}

// Get looks up an existing entry without creating one.
func (s *Set) Get(mount string) (*Entry, bool) {
	return s.entries.Get(mount)
}

// Mounts lists every mount with a statistics entry, live or not.
func (s *Set) Mounts() []string {
	return s.entries.Keys()
}

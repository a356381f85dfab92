package transport

import (
	"context"
	"net"
	"sync"
	"time"
)

// UDPScratchBuffer is the per-connection inbox a dedicated UDP reader
// goroutine fills and the source thread's Attempt drains (§4.2,
// "consumes from a per-connection scratch buffer filled by a dedicated
// UDP reader"). It carries its own mutex, distinct from the caster's
// source/client/double/misc locks (§6, "each UDP connection has its own
// buffer mutex").
type UDPScratchBuffer struct {
	mu            sync.Mutex
	buf           []byte
	lastKeepAlive time.Time
}

// Pump reads datagrams from conn until it errors or ctx-equivalent
// shutdown closes the connection, appending each packet's bytes to the
// scratch buffer. Every datagram, including an empty one, counts as a
// keep-alive.
func (b *UDPScratchBuffer) Pump(conn net.PacketConn) error {
	packet := make([]byte, maxDatagram)
	for {
		n, _, err := conn.ReadFrom(packet)
		if err != nil {
			return err
		}
		b.mu.Lock()
		b.buf = append(b.buf, packet[:n]...)
		b.lastKeepAlive = time.Now()
		b.mu.Unlock()
	}
}

// Feed appends a single datagram's payload to the scratch buffer and
// stamps the keep-alive clock, the same bookkeeping Pump does per
// packet. It exists for a caller demuxing one shared listening socket
// across many UDP clients by remote address, rather than owning a
// dedicated net.PacketConn per connection the way Pump does — the
// casterd UDP listener's inbound-keepalive path (§4.2, §4.4).
func (b *UDPScratchBuffer) Feed(packet []byte) {
	b.mu.Lock()
	b.buf = append(b.buf, packet...)
	b.lastKeepAlive = time.Now()
	b.mu.Unlock()
}

// Drain copies up to len(dst) buffered bytes out, FIFO, returning how
// many were copied.
func (b *UDPScratchBuffer) Drain(dst []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := copy(dst, b.buf)
	b.buf = b.buf[n:]
	return n
}

// LastKeepAlive reports when the dedicated reader last saw a datagram
// on this connection, for the 60s UDP liveness check (§4.4, scenario
// "Consumer UDP timeout").
func (b *UDPScratchBuffer) LastKeepAlive() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastKeepAlive
}

// UDPFramedReader is the ingest-side half of UDP framing: it never
// touches the network directly, only the scratch buffer a Pump
// goroutine keeps filled.
type UDPFramedReader struct {
	Scratch *UDPScratchBuffer
}

func (r *UDPFramedReader) Kind() Kind { return UDPFramed }

func (r *UDPFramedReader) MaxRead(remaining int) int {
	half := remaining / 2
	if half <= 0 {
		return remaining
	}
	return half
}

func (r *UDPFramedReader) Attempt(ctx context.Context, dst []byte, off int) Attempt {
	n := r.Scratch.Drain(dst[off:])
	return Attempt{N: n}
}

// UDPKeepAliveInterval is the idle threshold past which the fan-out
// side must emit an empty keep-alive write (§4.4).
const UDPKeepAliveInterval = 20 * time.Second

// UDPLivenessTimeout is how long a UDP client connection may go without
// an inbound keep-alive before it is kicked (§4.4, §6).
const UDPLivenessTimeout = 60 * time.Second

// UDPFramedWriter is the fan-out-side half of UDP framing: raw payload
// writes with no per-slot header, plus idle-keepalive bookkeeping that
// client.Deliver consults whenever the client has caught up with the
// producer.
type UDPFramedWriter struct {
	Conn net.Conn

	mu        sync.Mutex
	lastWrite time.Time
}

func (w *UDPFramedWriter) Kind() Kind          { return UDPFramed }
func (w *UDPFramedWriter) BeginSlot(int) error { return nil }
func (w *UDPFramedWriter) EndSlot() error      { return nil }

func (w *UDPFramedWriter) WritePayload(p []byte) (int, error) {
	_ = w.Conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	n, err := w.Conn.Write(p)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, nil
		}
		return n, err
	}
	w.mu.Lock()
	w.lastWrite = time.Now()
	w.mu.Unlock()
	return n, nil
}

// KeepAliveDue reports whether UDPKeepAliveInterval has elapsed since
// the last outbound byte.
func (w *UDPFramedWriter) KeepAliveDue() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastWrite.IsZero() || time.Since(w.lastWrite) > UDPKeepAliveInterval
}

// SendKeepAlive emits a zero-length write to reset the idle timer
// without advancing any client cursor.
func (w *UDPFramedWriter) SendKeepAlive() error {
	_, err := w.Conn.Write(nil)
	w.mu.Lock()
	w.lastWrite = time.Now()
	w.mu.Unlock()
	return err
}

package transport

import (
	"context"
	"net"
	"time"
)

// PlainTCPReader performs one nonblocking-equivalent recv per Attempt:
// Go exposes no nonblocking socket mode on net.Conn, so a short read
// deadline stands in for it, exactly as the teacher's coordinator uses
// deadlines rather than raw fcntl(O_NONBLOCK).
type PlainTCPReader struct {
	Conn net.Conn
}

func (r *PlainTCPReader) Kind() Kind { return PlainTCP }

func (r *PlainTCPReader) MaxRead(remaining int) int {
	half := remaining / 2
	if half <= 0 {
		return remaining
	}
	return half
}

func (r *PlainTCPReader) Attempt(ctx context.Context, dst []byte, off int) Attempt {
	_ = r.Conn.SetReadDeadline(time.Now().Add(ReadRetryDelay))
	n, err := r.Conn.Read(dst[off:])
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return Attempt{N: 0}
		}
		return Attempt{N: n, Err: err}
	}
	return Attempt{N: n}
}

// PlainTCPWriter writes the slot's bytes to the client with no extra
// framing.
type PlainTCPWriter struct {
	Conn net.Conn
}

func (w *PlainTCPWriter) Kind() Kind          { return PlainTCP }
func (w *PlainTCPWriter) BeginSlot(int) error { return nil }
func (w *PlainTCPWriter) EndSlot() error      { return nil }

// WritePayload bounds the write with WriteTimeout so a stalled client
// reports a (possibly zero) partial count instead of blocking the
// fan-out pass forever: a timed-out Write is not treated as a hard
// error, just as no (or partial) progress this attempt.
func (w *PlainTCPWriter) WritePayload(p []byte) (int, error) {
	_ = w.Conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	n, err := w.Conn.Write(p)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, nil
		}
		return n, err
	}
	return n, nil
}

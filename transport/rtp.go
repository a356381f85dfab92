package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/ntripcaster/caster/ring"
)

// rtpHeaderLen is the fixed 12-byte RTP header (no CSRC list, no
// extension); the caster neither reads nor writes either.
const rtpHeaderLen = 12

// maxDatagram bounds the scratch buffer used to receive one RTP packet;
// RTP payloads are datagram-sized, never stream-sized.
const maxDatagram = 65536

// RTPReader demuxes one RTP datagram per Attempt and hands the payload
// straight to the ring's fill-chunks operation, bypassing the caller's
// destination buffer entirely (§4.3): an oversized datagram may publish
// several slots in a single Attempt.
type RTPReader struct {
	Conn       net.Conn
	Ring       *ring.ChunkRing
	Kicker     ring.TrailingKicker
	NumClients func() int32

	scratch [maxDatagram]byte
}

func (r *RTPReader) Kind() Kind { return RTP }

// MaxRead is meaningless for a datagram framing; RTP always reads
// whatever the next packet contains.
func (r *RTPReader) MaxRead(remaining int) int { return remaining }

// Attempt reports Absorbed only when a datagram was actually demuxed
// and handed to the ring; a bare timeout (no datagram this attempt)
// comes back as a plain zero Attempt so the caller's retry loop treats
// it exactly like the other framings' "nothing yet, keep retrying".
func (r *RTPReader) Attempt(ctx context.Context, dst []byte, off int) Attempt {
	_ = r.Conn.SetReadDeadline(time.Now().Add(ReadRetryDelay))
	n, err := r.Conn.Read(r.scratch[:])
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return Attempt{N: 0}
		}
		return Attempt{Err: err, Absorbed: true}
	}
	if n < rtpHeaderLen {
		return Attempt{Err: fmt.Errorf("transport: short RTP datagram (%d bytes)", n), Absorbed: true}
	}
	payload := r.scratch[rtpHeaderLen:n]
	remainder := r.Ring.Absorb(payload, r.NumClients(), r.Kicker)
	return Attempt{N: remainder, Absorbed: true}
}

// RTPWriter frames each ring slot as one RTP packet: a 12-byte header
// (incrementing sequence, timestamp advanced by the slot's byte count,
// a fixed per-client SSRC) followed by the slot's payload, sent as a
// single datagram write (§4.4, "write header+payload in one send").
type RTPWriter struct {
	Conn net.Conn
	SSRC uint32

	seq           uint16
	timestamp     uint32
	pendingHeader []byte
}

func (w *RTPWriter) Kind() Kind { return RTP }

func (w *RTPWriter) BeginSlot(slotLen int) error {
	header := make([]byte, rtpHeaderLen)
	header[0] = 0x80 // V=2, P=0, X=0, CC=0
	header[1] = 0x00 // M=0, PT=0 (dynamic payload type, unspecified by the caster)
	binary.BigEndian.PutUint16(header[2:4], w.seq)
	binary.BigEndian.PutUint32(header[4:8], w.timestamp)
	binary.BigEndian.PutUint32(header[8:12], w.SSRC)
	w.seq++
	w.timestamp += uint32(slotLen)
	w.pendingHeader = header
	return nil
}

func (w *RTPWriter) WritePayload(p []byte) (int, error) {
	if w.pendingHeader == nil {
		// A retry after a short write with no header pending: the
		// remaining payload bytes still need to go out, but RTP framing
		// only ever sends one packet per slot, so treat this as a hard
		// stall rather than re-sending a bare header-less datagram.
		return 0, fmt.Errorf("transport: rtp write without pending header")
	}
	packet := make([]byte, 0, len(w.pendingHeader)+len(p))
	packet = append(packet, w.pendingHeader...)
	packet = append(packet, p...)
	_ = w.Conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	n, err := w.Conn.Write(packet)
	w.pendingHeader = nil
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil
		}
		return 0, err
	}
	if n < len(packet) {
		return 0, fmt.Errorf("transport: truncated rtp datagram write (%d of %d)", n, len(packet))
	}
	return len(p), nil
}

func (w *RTPWriter) EndSlot() error { return nil }

package transport

import (
	"context"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntripcaster/caster/ring"
)

type noopKicker struct{ kicked []int }

func (k *noopKicker) KickTrailing(cid int) { k.kicked = append(k.kicked, cid) }

func TestRTPReaderStripsHeaderAndAbsorbsPayload(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	r := ring.New(8, 4)
	kicker := &noopKicker{}
	reader := &RTPReader{
		Conn:       server,
		Ring:       r,
		Kicker:     kicker,
		NumClients: func() int32 { return 1 },
	}

	header := make([]byte, rtpHeaderLen)
	header[0] = 0x80
	binary.BigEndian.PutUint32(header[8:12], 0xCAFEBABE)
	payload := []byte("ABCDEFGHIJKL") // exactly 3 * readsize(4)
	packet := append(header, payload...)

	go func() {
		_, _ = client.Write(packet)
	}()

	a := reader.Attempt(context.Background(), nil, 0)
	require.NoError(t, a.Err)
	assert.True(t, a.Absorbed)
	assert.Equal(t, 0, a.N)
	assert.Equal(t, 3, r.CID())
}

func TestRTPWriterEmitsHeaderThenPayloadAsOneDatagram(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	w := &RTPWriter{Conn: server, SSRC: 0x11223344}
	require.NoError(t, w.BeginSlot(4))

	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := w.WritePayload([]byte("data"))
		assert.NoError(t, err)
		assert.Equal(t, 4, n)
	}()

	buf := make([]byte, rtpHeaderLen+4)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, rtpHeaderLen+4, n)
	assert.Equal(t, byte(0x80), buf[0])
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(buf[2:4]))
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(buf[4:8]))
	assert.Equal(t, uint32(0x11223344), binary.BigEndian.Uint32(buf[8:12]))
	assert.Equal(t, "data", string(buf[12:]))
	<-done
	assert.Equal(t, uint16(1), w.seq)
	assert.Equal(t, uint32(4), w.timestamp)
}

package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPScratchBufferDrainIsFIFO(t *testing.T) {
	b := &UDPScratchBuffer{}
	b.mu.Lock()
	b.buf = append(b.buf, []byte("abcdef")...)
	b.mu.Unlock()

	dst := make([]byte, 3)
	n := b.Drain(dst)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", string(dst))

	n = b.Drain(dst)
	assert.Equal(t, 3, n)
	assert.Equal(t, "def", string(dst))
}

func TestUDPScratchBufferFeedAppendsAndStampsKeepAlive(t *testing.T) {
	b := &UDPScratchBuffer{}
	assert.True(t, b.LastKeepAlive().IsZero())

	b.Feed([]byte("abc"))
	b.Feed([]byte("def"))

	assert.False(t, b.LastKeepAlive().IsZero())
	dst := make([]byte, 6)
	n := b.Drain(dst)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcdef", string(dst))
}

func TestUDPFramedReaderDrainsScratchBuffer(t *testing.T) {
	b := &UDPScratchBuffer{}
	b.mu.Lock()
	b.buf = append(b.buf, []byte("hello")...)
	b.mu.Unlock()

	r := &UDPFramedReader{Scratch: b}
	dst := make([]byte, 16)
	a := r.Attempt(context.Background(), dst, 0)
	require.NoError(t, a.Err)
	assert.Equal(t, 5, a.N)
	assert.Equal(t, "hello", string(dst[:a.N]))
}

func TestUDPScratchBufferTracksLastKeepAlive(t *testing.T) {
	b := &UDPScratchBuffer{}
	assert.True(t, b.LastKeepAlive().IsZero())

	b.mu.Lock()
	b.lastKeepAlive = time.Now()
	b.mu.Unlock()
	assert.False(t, b.LastKeepAlive().IsZero())
}

func TestUDPFramedWriterKeepAliveDue(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	w := &UDPFramedWriter{Conn: server}
	assert.True(t, w.KeepAliveDue(), "no writes yet: keepalive should be due")

	go func() {
		_, _ = w.WritePayload([]byte("x"))
	}()
	buf := make([]byte, 1)
	_, err := client.Read(buf)
	require.NoError(t, err)
	assert.False(t, w.KeepAliveDue())
}

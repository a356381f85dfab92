package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkedReaderDecodesSingleChunk(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte("5\r\nhello\r\n"))
	}()

	r := &ChunkedReader{Conn: server}
	dst := make([]byte, 64)
	got := 0
	deadline := time.After(2 * time.Second)
	for got < 5 {
		select {
		case <-deadline:
			t.Fatal("timed out decoding chunk")
		default:
		}
		a := r.Attempt(context.Background(), dst, got)
		require.NoError(t, a.Err)
		got += a.N
	}
	assert.Equal(t, "hello", string(dst[:got]))
}

func TestChunkedReaderDecodesMultipleChunks(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte("3\r\nfoo\r\n4\r\nbarz\r\n"))
	}()

	r := &ChunkedReader{Conn: server}
	dst := make([]byte, 64)
	got := 0
	deadline := time.After(2 * time.Second)
	for got < 7 {
		select {
		case <-deadline:
			t.Fatal("timed out decoding chunks")
		default:
		}
		a := r.Attempt(context.Background(), dst, got)
		require.NoError(t, a.Err)
		got += a.N
	}
	assert.Equal(t, "foobarz", string(dst[:got]))
}

func TestChunkedWriterFramesOneSlot(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	w := &ChunkedWriter{Conn: server}
	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, w.BeginSlot(5))
		n, err := w.WritePayload([]byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		require.NoError(t, w.EndSlot())
	}()

	buf := make([]byte, 10)
	_, err := io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "5\r\nhello\r\n", string(buf))
	<-done
}

// TestChunkedWriterDoesNotHangOnStalledClient mirrors the plain-TCP
// case: a chunked payload write against a client that never reads
// still returns within WriteTimeout instead of blocking the fan-out
// pass forever.
func TestChunkedWriterDoesNotHangOnStalledClient(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	w := &ChunkedWriter{Conn: server}

	done := make(chan struct{})
	var n int
	var err error
	go func() {
		n, err = w.WritePayload([]byte("stalled"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WritePayload blocked past its write deadline with no reader present")
	}

	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

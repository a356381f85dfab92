package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainTCPRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte("abcdef"))
	}()

	r := &PlainTCPReader{Conn: server}
	dst := make([]byte, 6)
	got := 0
	for got < 6 {
		a := r.Attempt(context.Background(), dst, got)
		require.NoError(t, a.Err)
		got += a.N
	}
	assert.Equal(t, "abcdef", string(dst))
}

func TestPlainTCPMaxReadIsHalfRemaining(t *testing.T) {
	r := &PlainTCPReader{}
	assert.Equal(t, 50, r.MaxRead(100))
	assert.Equal(t, 1, r.MaxRead(1))
}

func TestPlainTCPWriterPassesThroughBytes(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	w := &PlainTCPWriter{Conn: server}
	require.NoError(t, w.BeginSlot(3))
	go func() {
		n, err := w.WritePayload([]byte("xyz"))
		assert.NoError(t, err)
		assert.Equal(t, 3, n)
	}()

	buf := make([]byte, 3)
	_, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(buf))
	require.NoError(t, w.EndSlot())
}

// TestPlainTCPWriterDoesNotHangOnStalledClient proves, against a real
// net.Conn rather than a fake Writer, that a client never reading its
// side of the connection still produces a bounded, non-error
// WritePayload result instead of blocking the caller indefinitely —
// the scenario a fake Writer can't demonstrate.
func TestPlainTCPWriterDoesNotHangOnStalledClient(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	w := &PlainTCPWriter{Conn: server}

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

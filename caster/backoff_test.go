package caster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffNextDoublesAndCaps(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 40*time.Millisecond)

	assert.Equal(t, 10*time.Millisecond, b.Next())
	assert.Equal(t, 20*time.Millisecond, b.Next())
	assert.Equal(t, 40*time.Millisecond, b.Next())
	assert.Equal(t, 40*time.Millisecond, b.Next())
}

func TestBackoffResetReturnsToInitial(t *testing.T) {
	b := NewBackoff(5*time.Millisecond, 100*time.Millisecond)
	b.Next()
	b.Next()
	b.Reset()
	assert.Equal(t, 5*time.Millisecond, b.Next())
}

func TestBackoffZeroMaxNeverGrows(t *testing.T) {
	b := NewBackoff(3*time.Millisecond, 0)
	assert.Equal(t, 3*time.Millisecond, b.Next())
	assert.Equal(t, 3*time.Millisecond, b.Next())
	assert.Equal(t, 3*time.Millisecond, b.Next())
}

func TestBackoffSleepReturnsOnContextCancel(t *testing.T) {
	b := NewBackoff(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		b.Sleep(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after context cancellation")
	}
}

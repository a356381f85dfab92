package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetOrCreateIsIdempotentPerMount(t *testing.T) {
	s := NewSet()
	a := s.GetOrCreate("/RTCM3")
	b := s.GetOrCreate("/RTCM3")
	assert.Same(t, a, b)
}

func TestEntrySurvivesAcrossSimulatedReconnects(t *testing.T) {
	s := NewSet()
	e := s.GetOrCreate("/RTCM3")
	e.AddIn(100)
	e.ClientConnected()

	// A second source connection on the same mount reuses the entry.
	e2 := s.GetOrCreate("/RTCM3")
	e2.AddIn(50)

	assert.Equal(t, int64(150), e.BytesIn())
	assert.EqualValues(t, 1, e.ClientConnections())
}

func TestAddConnectedDurationAccumulates(t *testing.T) {
	s := NewSet()
	e := s.GetOrCreate("/RTCM3")
	e.AddConnectedDuration(2 * time.Second)
	e.AddConnectedDuration(3 * time.Second)
	assert.Equal(t, 5*time.Second, e.ConnectedDuration())
}

func TestGetMissingEntryReturnsFalse(t *testing.T) {
	s := NewSet()
	_, ok := s.Get("/MISSING")
	assert.False(t, ok)
}

func TestLastIngestZeroBeforeAnyIngest(t *testing.T) {
	s := NewSet()
	e := s.GetOrCreate("/RTCM3")
	assert.True(t, e.LastIngest().IsZero())
}

func TestLastIngestAdvancesOnAddIn(t *testing.T) {
	s := NewSet()
	e := s.GetOrCreate("/RTCM3")

	before := time.Now()
	e.AddIn(10)
	after := time.Now()

	got := e.LastIngest()
	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

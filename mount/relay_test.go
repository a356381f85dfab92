package mount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelayTableAddLookupRemove(t *testing.T) {
	rt := NewRelayTable()

	_, found := rt.Lookup(9001)
	assert.False(t, found)

	rt.Add(9001, "/RELAY1")
	mount, found := rt.Lookup(9001)
	assert.True(t, found)
	assert.Equal(t, "/RELAY1", mount)

	assert.True(t, rt.Remove(9001))
	_, found = rt.Lookup(9001)
	assert.False(t, found)
	assert.False(t, rt.Remove(9001))
}

func TestRelayTableAddReplacesExistingPort(t *testing.T) {
	rt := NewRelayTable()
	rt.Add(9001, "/FIRST")
	rt.Add(9001, "/SECOND")

	mount, found := rt.Lookup(9001)
	assert.True(t, found)
	assert.Equal(t, "/SECOND", mount)
	assert.Equal(t, 1, rt.Len())
}

func TestRelayTableSnapshotListsAllPorts(t *testing.T) {
	rt := NewRelayTable()
	rt.Add(9002, "/B")
	rt.Add(9001, "/A")

	snap := rt.Snapshot()
	assert.Equal(t, map[int]string{9001: "/A", 9002: "/B"}, snap)
}

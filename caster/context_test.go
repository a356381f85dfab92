package caster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntripcaster/caster/config"
	"github.com/ntripcaster/caster/mount"
)

func TestNewWiresLoginHandlerAgainstSharedRegistry(t *testing.T) {
	cfg := config.FromEnv()
	cfg.MaxSources = 2
	ctx := New(cfg)

	require.NotNil(t, ctx.LoginHandler)
	assert.Same(t, ctx.Registry, ctx.LoginHandler.Registry)
	assert.Same(t, ctx.Pool, ctx.LoginHandler.Pool)
	assert.Same(t, ctx.Stats, ctx.LoginHandler.Stats)
}

func TestContextLocksAreIndependent(t *testing.T) {
	ctx := New(config.FromEnv())

	ctx.SourceMu.Lock()
	ctx.ClientMu.Lock()
	ctx.ClientMu.Unlock()
	ctx.SourceMu.Unlock()
}

type fakeKickable struct {
	key         mount.Key
	state       mount.State
	kickReason  string
	kickedTimes int
}

func (f *fakeKickable) MountKey() mount.Key { return f.key }
func (f *fakeKickable) State() mount.State  { return f.state }
func (f *fakeKickable) Kick(reason string) {
	f.kickReason = reason
	f.kickedTimes++
}

func TestKickMountTerminatesLiveSource(t *testing.T) {
	ctx := New(config.FromEnv())
	key := mount.ParseMount("/RTCM3")
	entry := &fakeKickable{key: key, state: mount.Connected}
	require.NoError(t, ctx.Registry.Insert(key, entry))

	require.NoError(t, ctx.KickMount("/RTCM3", "admin requested"))
	assert.Equal(t, "admin requested", entry.kickReason)
	assert.Equal(t, 1, entry.kickedTimes)
}

func TestKickMountReturnsErrorForUnknownMount(t *testing.T) {
	ctx := New(config.FromEnv())

	err := ctx.KickMount("/MISSING", "admin requested")
	assert.ErrorIs(t, err, ErrMountNotFound)
}

func TestNewWiresRelayTableAndUDPInbound(t *testing.T) {
	ctx := New(config.FromEnv())

	require.NotNil(t, ctx.RelayTable)
	require.NotNil(t, ctx.UDPInbound)
	assert.Equal(t, 0, ctx.RelayTable.Len())
}

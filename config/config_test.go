package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvAppliesDefaultsWhenUnset(t *testing.T) {
	t.Setenv("MAX_SOURCES", "")
	t.Setenv("CHUNKLEN", "")
	t.Setenv("CLUSTER_REDIS_ADDR", "")

	c := FromEnv()
	assert.Equal(t, 100, c.MaxSources)
	assert.Equal(t, 32, c.ChunkLen)
	assert.Equal(t, "", c.ClusterRedisAddr)
}

func TestFromEnvReadsOverrides(t *testing.T) {
	t.Setenv("MAX_SOURCES", "5")
	t.Setenv("CHUNKLEN", "64")
	t.Setenv("CLUSTER_REDIS_ADDR", "redis:6379")

	c := FromEnv()
	assert.Equal(t, 5, c.MaxSources)
	assert.Equal(t, 64, c.ChunkLen)
	assert.Equal(t, "redis:6379", c.ClusterRedisAddr)
}

func TestFromEnvIgnoresMalformedInt(t *testing.T) {
	t.Setenv("MAX_CLIENTS", "not-a-number")

	c := FromEnv()
	assert.Equal(t, 1000, c.MaxClients)
}

func TestGetSetConfigRoundTrips(t *testing.T) {
	custom := &Config{MaxSources: 7}
	SetConfig(custom)
	defer SetConfig(FromEnv())

	assert.Equal(t, 7, GetConfig().MaxSources)
}

func TestFromFileOverlaysEnvDefaults(t *testing.T) {
	t.Setenv("MAX_CLIENTS", "")
	dir := t.TempDir()
	path := dir + "/caster.json"
	require.NoError(t, os.WriteFile(path, []byte(`{"max_sources": 3, "alias_file": "/etc/caster/aliases.conf"}`), 0o600))

	c, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.MaxSources)
	assert.Equal(t, "/etc/caster/aliases.conf", c.AliasFile)
	// Fields the file omits keep FromEnv's default.
	assert.Equal(t, 1000, c.MaxClients)
}

func TestFromFileReturnsErrorForMissingFile(t *testing.T) {
	_, err := FromFile("/nonexistent/path/caster.json")
	assert.Error(t, err)
}

func TestLoadFallsBackToEnvWithoutConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("MAX_SOURCES", "9")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9, c.MaxSources)
}

func TestLoadReadsConfigFileWhenSet(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/caster.json"
	require.NoError(t, os.WriteFile(path, []byte(`{"sourcetable_seed_file": "/etc/caster/sourcetable.seed"}`), 0o600))
	t.Setenv("CONFIG_FILE", path)

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/etc/caster/sourcetable.seed", c.SourcetableSeedFile)
}

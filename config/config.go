// Package config centralizes the constants the core exposes through
// its environment, optionally overlaid by a JSON config file named by
// CONFIG_FILE (§6, "constants exposed through config"): source/client
// caps, ring sizing, retry timing, and the optional cluster Redis
// address for the distributed mount claim.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ntripcaster/caster/ring"
	"github.com/ntripcaster/caster/transport"
)

type Config struct {
	MaxSources int `json:"max_sources,omitempty"`
	MaxClients int `json:"max_clients,omitempty"`

	ChunkLen       int           `json:"chunk_len,omitempty"`
	SourceReadSize int           `json:"source_read_size,omitempty"`
	ReadRetryDelay time.Duration `json:"read_retry_delay,omitempty"`
	ReadTimeout    time.Duration `json:"read_timeout,omitempty"`

	// ClusterRedisAddr, when non-empty, enables the distributed
	// mount-claim lock in the login package (§4.7, "(NEW) distributed
	// mount claim"). Empty means single-process mode: no Redis
	// dependency, no lock acquired.
	ClusterRedisAddr string `json:"cluster_redis_addr,omitempty"`

	EncoderPassword string `json:"encoder_password,omitempty"`

	// AliasFile, when non-empty, is the flat file the maintenance
	// scheduler reloads mount.Registry's alias table from (§2 NEW,
	// "alias table ... reloadable from a config file").
	AliasFile string `json:"alias_file,omitempty"`

	// SourcetableSeedFile, when non-empty, is the flat file the
	// maintenance scheduler reloads the sourcetable.FileCatalog seed
	// listing from.
	SourcetableSeedFile string `json:"sourcetable_seed_file,omitempty"`
}

var globalConfig = FromEnv()

func GetConfig() *Config {
	return globalConfig
}

func SetConfig(c *Config) {
	globalConfig = c
}

// FromEnv builds a Config from the process environment, applying the
// same defaults the core packages fall back to when unset.
func FromEnv() *Config {
	return &Config{
		MaxSources:       envInt("MAX_SOURCES", 100),
		MaxClients:       envInt("MAX_CLIENTS", 1000),
		ChunkLen:         envInt("CHUNKLEN", ring.DefaultChunkLen),
		SourceReadSize:   envInt("SOURCE_READSIZE", ring.DefaultReadSize),
		ReadRetryDelay:   envDuration("READ_RETRY_DELAY", transport.ReadRetryDelay),
		ReadTimeout:      envDuration("READ_TIMEOUT", transport.ReadTimeout),
		ClusterRedisAddr: os.Getenv("CLUSTER_REDIS_ADDR"),
		EncoderPassword:  os.Getenv("ENCODER_PASSWORD"),
	}
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// FromFile loads a Config from a JSON file at path, starting from the
// environment defaults (FromEnv) and overlaying any field the file
// sets. Fields the file omits keep their environment/default value,
// matching the overlay behavior Load documents. A stdlib-only JSON
// reader, not a new flags/config library: the module-map's "env + JSON
// file loading" promise is the file-reading capability itself, not a
// particular config framework (§6).
func FromFile(path string) (*Config, error) {
	c := FromEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return c, nil
}

// Load builds the process Config the way main wires it up: from the
// environment, then overlaid with a JSON file if CONFIG_FILE names
// one. A missing or unparseable CONFIG_FILE is a startup error, not a
// silently-ignored one, since an operator naming a bad path almost
// always wants to know.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		return FromEnv(), nil
	}
	return FromFile(path)
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

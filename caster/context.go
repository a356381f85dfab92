// Package caster wires the core packages (mount, pool, stats, auth,
// sourcetable, login) into the top-level Context a cmd/casterd process
// builds once at startup, and carries the explicit lock-ordering
// discipline from §5 as named fields rather than an implicit global.
package caster

import (
	"fmt"

	"github.com/ntripcaster/caster/auth"
	"github.com/ntripcaster/caster/caster/lockdbg"
	"github.com/ntripcaster/caster/config"
	"github.com/ntripcaster/caster/login"
	"github.com/ntripcaster/caster/logger"
	"github.com/ntripcaster/caster/mount"
	"github.com/ntripcaster/caster/pool"
	"github.com/ntripcaster/caster/sourcetable"
	"github.com/ntripcaster/caster/stats"
	"github.com/ntripcaster/caster/transport"
	"github.com/ntripcaster/caster/utils/safemap"
	"github.com/redis/go-redis/v9"
)

// Context holds every piece of shared state a running caster needs,
// plus the locks guarding cross-cutting operations, named and ordered
// per §5: double -> source -> client -> authentication -> misc.
// SourceMu/ClientMu/DoubleMu/MiscMu exist for callers that must
// coordinate across package boundaries (e.g. an admin "kick mount"
// command touching both the registry and every client on it); the
// packages' own internal locks (Registry.live, Pool.byMount, ...)
// remain the authoritative guard for single-package operations and are
// unaffected by these.
type Context struct {
	Registry     *mount.Registry
	Pool         *pool.Pool
	Stats        *stats.Set
	Auth         auth.Authenticator
	Catalog      *sourcetable.FileCatalog
	LoginHandler *login.Handler
	Log          logger.Logger

	// RelayTable maps raw-TCP relay ports (bypassing NTRIP framing
	// entirely) to the mountpoint they feed, the Go-native replacement
	// for add_nontrip_source's nontripsources table (§3 NEW, "NonNTRIP
	// relay table").
	RelayTable *mount.RelayTable

	// UDPInbound maps a registered UDP client's remote address to the
	// scratch buffer its keep-alive datagrams are fed into by the
	// shared UDP listener (§4.2, §4.4). Populated by the acceptor when
	// it admits a UDP-framed client, consulted by the UDP listener's
	// demux loop.
	UDPInbound *safemap.Map[string, *transport.UDPScratchBuffer]

	SourceMu lockdbg.Mutex
	ClientMu lockdbg.Mutex
	DoubleMu lockdbg.Mutex
	AuthMu   lockdbg.Mutex
	MiscMu   lockdbg.Mutex
}

// New builds a Context from cfg, wiring the default Authenticator
// (auth.FileStore) and Catalog (sourcetable.FileCatalog) and building
// ctx.LoginHandler over them with login.NewHandler. A non-empty
// cfg.ClusterRedisAddr enables the handler's distributed mount claim.
// Callers that need a different credential store or metadata catalog
// replace ctx.Auth/ctx.Catalog and rebuild ctx.LoginHandler with
// login.NewHandler themselves.
func New(cfg *config.Config) *Context {
	ctx := &Context{
		Registry: mount.New(cfg.MaxSources),
		Pool:     pool.New(),
		Stats:    stats.NewSet(),
		Auth:     auth.NewFileStore(),
		Catalog:  sourcetable.NewFileCatalog(nil),
		Log:      logger.Default,

		RelayTable: mount.NewRelayTable(),
		UDPInbound: safemap.New[string, *transport.UDPScratchBuffer](),
	}
	ctx.LoginHandler = login.NewHandler(ctx.Registry, ctx.Pool, ctx.Stats, ctx.Auth, nil, ctx.Catalog, cfg.ChunkLen, cfg.SourceReadSize, cfg.EncoderPassword)
	ctx.LoginHandler.Log = ctx.Log
	if cfg.ClusterRedisAddr != "" {
		ctx.LoginHandler.WithClusterLock(redis.NewClient(&redis.Options{Addr: cfg.ClusterRedisAddr}))
	}
	return ctx
}

// ErrMountNotFound is returned by KickMount when mount has no live
// source.
var ErrMountNotFound = fmt.Errorf("caster: mount not found")

// KickMount terminates the live source registered at mount, the
// cross-package operation SourceMu/ClientMu exist to serialize: the
// admin command listener's "kick" verb (the original's kick_source)
// resolves to this, acquiring the registry and client locks in the
// documented double -> source -> client order before touching the
// registry at all.
func (c *Context) KickMount(mount string, reason string) error {
	c.DoubleMu.Lock()
	defer c.DoubleMu.Unlock()
	c.SourceMu.Lock()
	defer c.SourceMu.Unlock()
	c.ClientMu.Lock()
	defer c.ClientMu.Unlock()

	entry, found := c.Registry.Find(mount, "", 0)
	if !found {
		return ErrMountNotFound
	}
	entry.Kick(reason)
	return nil
}

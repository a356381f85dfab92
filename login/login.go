// Package login implements the source-upload login sequence (§4.7):
// ACL check, user-agent check, authentication, an empty-request
// rejection, Source allocation, and the registry insert that either
// admits the source or refuses it with the right status code.
package login

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/ntripcaster/caster/auth"
	"github.com/ntripcaster/caster/logger"
	"github.com/ntripcaster/caster/mount"
	"github.com/ntripcaster/caster/pool"
	"github.com/ntripcaster/caster/ring"
	"github.com/ntripcaster/caster/source"
	"github.com/ntripcaster/caster/stats"
	"github.com/ntripcaster/caster/transport"
)

// Status is the outcome of HandleSourceUpload, carrying enough
// information for the acceptor to write the right response line and
// decide whether to keep the connection open.
type Status int

const (
	StatusOK Status = iota
	StatusForbidden    // ACL/wrappers refusal -> 403
	StatusUnauthorized // bad user-agent or failed auth -> 401
	StatusBadRequest   // empty request -> 400
	StatusConflict     // mount already registered -> 409
	StatusUnavailable  // at capacity -> 503
)

// Request is everything HandleSourceUpload needs from the accepted
// connection and parsed NTRIP request, independent of how the request
// was actually parsed (that parser is out of scope per §1).
type Request struct {
	RemoteAddr    string
	UserAgent     string
	Authorization string
	Username      string
	Mount         string
	Empty         bool
	SSRC          uint32
}

// ACLChecker is the TCP-wrappers/ACL collaborator (§4.7 step 1),
// opaque to login the same way auth and sourcetable are.
type ACLChecker interface {
	Allowed(remoteAddr string) bool
}

// Result bundles a successful login's Source record with whatever the
// caller needs to finish wiring it up (starting Source.Run, replying
// 200/SSRC to the encoder).
type Result struct {
	Status Status
	Source *source.Source
}

// Handler holds the collaborators HandleSourceUpload needs: they are
// passed in rather than looked up globally so tests can substitute
// fakes for every external boundary (§1, "out of scope: external
// collaborators").
type Handler struct {
	Registry    *mount.Registry
	Pool        *pool.Pool
	Stats       *stats.Set
	Auth        auth.Authenticator
	ACL         ACLChecker
	Catalog     source.Catalog
	ChunkLen    int
	ReadSize    int
	EncoderHash [32]byte
	Log         logger.Logger

	// ClusterLocker, when non-nil, is consulted for a distributed
	// mount claim before the local registry insert (§4.7, "(NEW)
	// distributed mount claim"). Nil means single-process mode.
	ClusterLocker *redislock.Client
}

// NewHandler wires a Handler for single-process operation. Pass a
// non-nil redis.Client via WithClusterLock to enable the distributed
// mount claim.
func NewHandler(registry *mount.Registry, p *pool.Pool, st *stats.Set, authenticator auth.Authenticator, acl ACLChecker, catalog source.Catalog, chunkLen, readSize int, encoderPassword string) *Handler {
	return &Handler{
		Registry:    registry,
		Pool:        p,
		Stats:       st,
		Auth:        authenticator,
		ACL:         acl,
		Catalog:     catalog,
		ChunkLen:    chunkLen,
		ReadSize:    readSize,
		EncoderHash: auth.HashEncoderPassword(encoderPassword),
		Log:         logger.Default,
	}
}

// WithClusterLock attaches a distributed-lock client backed by redisClient
// (§4.7, "(NEW) distributed mount claim").
func (h *Handler) WithClusterLock(redisClient *redis.Client) *Handler {
	h.ClusterLocker = redislock.New(redisClient)
	return h
}

const clusterLockTTL = 5 * time.Second

// HandleSourceUpload implements the 7-step sequence from §4.7. It does
// not itself run the source thread; on StatusOK the caller is expected
// to start result.Source.Run in its own goroutine immediately after
// writing the success response (step 7's "enter the source loop").
// reader is the already-negotiated transport.Reader for this
// connection's framing (plain TCP, chunked, or RTP), built by the
// acceptor from the parsed request headers before login is ever
// consulted — login only decides admission, never framing.
func (h *Handler) HandleSourceUpload(ctx context.Context, req Request, id string, reader transport.Reader) Result {
	log := h.Log
	if log == nil {
		log = logger.Default
	}
	log.Debugf("login attempt: remote=%s mount=%s user=%s auth=%s ua=%q",
		req.RemoteAddr, req.Mount, req.Username, req.Authorization, req.UserAgent)

	if h.ACL != nil && !h.ACL.Allowed(req.RemoteAddr) {
		log.Warnf("login rejected (ACL): remote=%s mount=%s", req.RemoteAddr, req.Mount)
		return Result{Status: StatusForbidden}
	}
	if h.Auth != nil && h.Auth.Banned(req.RemoteAddr) {
		log.Warnf("login rejected (banned): remote=%s mount=%s", req.RemoteAddr, req.Mount)
		return Result{Status: StatusForbidden}
	}

	if !strings.HasPrefix(strings.ToLower(req.UserAgent), "ntrip") {
		return Result{Status: StatusUnauthorized}
	}

	if !h.authenticate(req) {
		log.Warnf("login rejected (auth): remote=%s mount=%s auth=%s", req.RemoteAddr, req.Mount, req.Authorization)
		return Result{Status: StatusUnauthorized}
	}

	if req.Empty {
		return Result{Status: StatusBadRequest}
	}

	st := h.Stats.GetOrCreate(req.Mount)
	st.ClientConnected()

	key := mount.ParseMount(req.Mount)

	release, err := h.claimCluster(ctx, key)
	if err != nil {
		return Result{Status: StatusUnavailable}
	}
	if release != nil {
		defer release()
	}

	r := ring.New(h.ChunkLen, h.ReadSize)
	src := source.New(id, req.Mount, source.TypeHTTP, r, reader, st, log)

	if err := h.Registry.Insert(key, src); err != nil {
		log.Warnf("login rejected (%v): remote=%s mount=%s", err, req.RemoteAddr, req.Mount)
		if err == mount.ErrMountConflict {
			return Result{Status: StatusConflict}
		}
		return Result{Status: StatusUnavailable}
	}
	src.SetState(mount.Connected)

	if h.Catalog != nil {
		h.Catalog.AddSource(req.Mount)
	}

	log.Logf("source connected: remote=%s mount=%s id=%s", req.RemoteAddr, req.Mount, id)
	return Result{Status: StatusOK, Source: src}
}

// authenticate implements authenticate_source_request (§4.7 point 3):
// either the global encoder password (constant-time compared against
// its pre-hashed form) or a per-user credential.
func (h *Handler) authenticate(req Request) bool {
	if req.Authorization != "" && auth.CompareEncoderPassword(h.EncoderHash, req.Authorization) {
		return true
	}
	if h.Auth == nil {
		return false
	}
	return h.Auth.Authenticate(auth.Request{
		RemoteAddr: req.RemoteAddr,
		Username:   req.Username,
		Password:   req.Authorization,
		Scope:      auth.ScopeSource,
	})
}

// claimCluster acquires a distributed lock keyed by the canonical
// mountpoint when clustering is enabled, generalizing the single-
// process 409 rule to a small caster fleet sharing one Redis instance
// (§4.7, "(NEW) distributed mount claim"). It is a no-op returning a
// nil release function when ClusterLocker is nil.
func (h *Handler) claimCluster(ctx context.Context, key mount.Key) (release func(), err error) {
	if h.ClusterLocker == nil {
		return nil, nil
	}
	lockKey := fmt.Sprintf("ntripcaster:mount:%s", key.String())
	lock, err := h.ClusterLocker.Obtain(ctx, lockKey, clusterLockTTL, nil)
	if err != nil {
		return nil, err
	}
	return func() { _ = lock.Release(ctx) }, nil
}

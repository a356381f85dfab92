// Package mount implements the mountpoint registry: the ordered set of
// live sources, alias resolution, and the canonical-path matching rule
// find_mount_with_req uses to bind an inbound request to a Source
// (§4.6).
package mount

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ntripcaster/caster/omap"
)

// Key identifies a registration slot by the triple a request is
// matched against: (canonical path, virtual host, virtual port).
// Host/Port are empty/zero when the registered mount is a bare path
// rather than a full URL — see ParseMount.
type Key struct {
	Path string
	Host string
	Port int
}

func (k Key) String() string {
	if k.Host == "" {
		return k.Path
	}
	return fmt.Sprintf("%s:%d%s", k.Host, k.Port, k.Path)
}

func lessKey(a, b Key) bool {
	if a.Host != b.Host {
		return a.Host < b.Host
	}
	if a.Port != b.Port {
		return a.Port < b.Port
	}
	return a.Path < b.Path
}

// ParseMount computes the canonical (host, port, path) triple for a
// registered mount string, once, at source registration — per the
// design note "parse once at source registration and cache the
// triple on the Source; iterate on the parsed form" rather than
// re-parsing a URL on every lookup.
func ParseMount(raw string) Key {
	if strings.HasPrefix(raw, "/") {
		return Key{Path: raw}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		// Not a well-formed URL; treat the whole string as an
		// un-rooted path, matched against the request path with its
		// own leading slash stripped (§4.6 point 2).
		return Key{Path: strings.TrimPrefix(raw, "/")}
	}
	host := u.Hostname()
	port := 0
	if p := u.Port(); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}
	return Key{Path: u.Path, Host: host, Port: port}
}

// State is a source's lifecycle state as the registry needs to know
// it (§3).
type State int32

const (
	Unused State = iota
	Connected
	Paused
	Killed
)

// Entry is the subset of a Source the registry needs: its precomputed
// mount key and a live read of its current state. Defined as an
// interface (rather than importing the source package directly) so
// mount and source can each depend on the other's public surface
// without a cyclic import — source registers itself by implementing
// this.
type Entry interface {
	MountKey() Key
	State() State
	// Kick terminates the underlying source with reason, the same
	// admin/maintenance action available over the NTRIP console in the
	// original (`kick_source`). Exposed here, rather than left for
	// callers to type-assert down to *source.Source, so the registry's
	// own maintenance and admin-command callers never need to import
	// the source package.
	Kick(reason string)
}

// Alias is a one-hop (virtual path/host/port) -> (real path/host/port)
// rewrite rule (§3).
type Alias struct {
	From Key
	To   Key
}

const lookupCacheTTL = 250 * time.Millisecond

// Registry is the mountpoint -> Source binding. Its internal lock
// plays the role of source_mutex from §5; the double_mutex ordering
// discipline (serializing operations that touch both the registry and
// client-side state) is the caller's responsibility, held in the
// caster package's Context, not here.
type Registry struct {
	maxSources int
	live       *omap.Tree[Key, Entry]
	aliases    map[Key]Key
	lookup     *cache.Cache
}

// New creates an empty registry accepting at most maxSources live
// entries.
func New(maxSources int) *Registry {
	return &Registry{
		maxSources: maxSources,
		live:       omap.New[Key, Entry](lessKey),
		aliases:    make(map[Key]Key),
		lookup:     cache.New(lookupCacheTTL, 2*lookupCacheTTL),
	}
}

// ErrMountConflict is returned by Insert when the mount is already
// registered (§4.7 step 6, response 409).
var ErrMountConflict = fmt.Errorf("mount: already registered")

// ErrCapacityExceeded is returned by Insert when inserting would push
// the live count past maxSources (§4.7 step 6, response 503).
var ErrCapacityExceeded = fmt.Errorf("mount: capacity exceeded")

// Insert registers a new live source at key, enforcing mount
// uniqueness (I5) and the configured source cap.
func (r *Registry) Insert(key Key, e Entry) error {
	if _, exists := r.live.Get(key); exists {
		return ErrMountConflict
	}
	if r.live.Len()+1 > r.maxSources {
		return ErrCapacityExceeded
	}
	r.live.Insert(key, e)
	r.lookup.Flush()
	return nil
}

// Remove deregisters key, normally called during source teardown
// before the Source record itself is released (§3, "removal from the
// registry happens before the Source is destroyed").
func (r *Registry) Remove(key Key) {
	r.live.Delete(key)
	r.lookup.Flush()
}

// SetAlias installs or replaces a one-hop alias rule.
func (r *Registry) SetAlias(from, to Key) {
	r.aliases[from] = to
	r.lookup.Flush()
}

// LoadAliases (re)loads the alias table from a flat file, one rule per
// line, "<from-mount> <to-mount>" (blank lines and "#"-prefixed
// comments skipped), each side parsed with ParseMount exactly like a
// login request's mount string. This is the Go-native replacement for
// add_nontrip_source's alias-file parsing in the original, wired to the
// maintenance scheduler's periodic alias-file reload rather than a
// SIGHUP handler. Existing aliases not present in the file are left in
// place; LoadAliases only adds or overwrites, it never clears.
func (r *Registry) LoadAliases(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		r.SetAlias(ParseMount(fields[0]), ParseMount(fields[1]))
	}
	return scanner.Err()
}

// canonicalMatches reports whether a registered mount key M matches
// request path p, per §4.6 point 2: if M's path starts with '/',
// compare directly; otherwise compare against p with its own leading
// slash stripped. When M carries a host/port (was a full URL), those
// must also match the request's.
func canonicalMatches(m Key, reqPath, reqHost string, reqPort int) bool {
	if m.Host != "" {
		if m.Host != reqHost || m.Port != reqPort {
			return false
		}
	}
	candidate := m.Path
	if !strings.HasPrefix(candidate, "/") {
		reqPath = strings.TrimPrefix(reqPath, "/")
	}
	// Required prefix test (§4.6 point 3): the stored mount must be no
	// longer than the request path, since it has to end with it.
	if len(candidate) > len(reqPath) {
		return false
	}
	return strings.HasSuffix(reqPath, candidate) && candidate == reqPath
}

// Find resolves (path, host, port) to a live, CONNECTED Source,
// following at most one alias hop (§4.6). A matching but disconnecting
// source yields "not found", never a fall-through to another source.
func (r *Registry) Find(path, host string, port int) (Entry, bool) {
	cacheKey := fmt.Sprintf("%s|%s|%d", path, host, port)
	if v, ok := r.lookup.Get(cacheKey); ok {
		hit := v.(cacheHit)
		if !hit.found {
			return nil, false
		}
		// Re-validate state on every hit: a cached source may have
		// disconnected since it was cached (§4.6 point 4).
		if hit.entry.State() != Connected {
			r.lookup.Delete(cacheKey)
			return r.findUncached(path, host, port)
		}
		return hit.entry, true
	}
	return r.findUncached(path, host, port)
}

type cacheHit struct {
	entry Entry
	found bool
}

func (r *Registry) findUncached(path, host string, port int) (Entry, bool) {
	reqKey := Key{Path: path, Host: host, Port: port}
	if to, ok := r.aliases[reqKey]; ok {
		path, host, port = to.Path, to.Host, to.Port
	}

	var found Entry
	r.live.Range(func(m Key, e Entry) bool {
		if canonicalMatches(m, path, host, port) {
			found = e
			return false
		}
		return true
	})

	cacheKey := fmt.Sprintf("%s|%s|%d", path, host, port)
	if found == nil || found.State() != Connected {
		r.lookup.Set(cacheKey, cacheHit{found: false}, cache.DefaultExpiration)
		return nil, false
	}
	r.lookup.Set(cacheKey, cacheHit{entry: found, found: true}, cache.DefaultExpiration)
	return found, true
}

// Len reports the current live-source count.
func (r *Registry) Len() int {
	return r.live.Len()
}

// Snapshot returns every live entry, for the admin listing and the
// maintenance scheduler's stale-mount sweep.
func (r *Registry) Snapshot() []Entry {
	return r.live.Snapshot()
}

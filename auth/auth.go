// Package auth implements the credential store the login sequence
// consults: a flat user/ban file format mirroring the original
// implementation's parse_user_authentication_file/parse_ban_file,
// behind the Authenticator interface the core depends on (§6,
// "authentication interface").
package auth

import (
	"bufio"
	"crypto/subtle"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/sha3"
)

// Scope distinguishes the credential namespace a request authenticates
// against (spec.md §4.7 point 3: NTRIP/2 "delegates to the user
// database under the source scope").
type Scope int

const (
	ScopeSource Scope = iota
	ScopeClient
)

// Request is the subset of an inbound login the authenticator needs:
// enough to check a password and log a ban-list hit without the auth
// package depending on any particular transport or HTTP type.
type Request struct {
	RemoteAddr string
	Username   string
	Password   string
	Scope      Scope
}

// Authenticator is the interface the login sequence depends on; the
// core never knows the credential store's layout (§6).
type Authenticator interface {
	Authenticate(req Request) bool
	Banned(remoteAddr string) bool
}

const negativeCacheTTL = 5 * time.Second

// FileStore is the default Authenticator: a flat "user:password" file
// and a flat "ip:reason" ban file, both reloadable, guarded by a single
// mutex, with a short negative cache to blunt repeated-auth-failure
// hammering from a single source.
type FileStore struct {
	mu    sync.RWMutex
	users map[string]string
	bans  map[string]string

	negative *cache.Cache
}

// NewFileStore creates an empty store; call LoadUsers/LoadBans to
// populate it, or mutate directly via AddUser/AddBan for tests and
// runtime admin commands.
func NewFileStore() *FileStore {
	return &FileStore{
		users:    make(map[string]string),
		bans:     make(map[string]string),
		negative: cache.New(negativeCacheTTL, 2*negativeCacheTTL),
	}
}

// AddUser registers or replaces a user's password.
func (s *FileStore) AddUser(name, password string) {
	s.mu.Lock()
	s.users[name] = password
	s.mu.Unlock()
}

// AddBan bans remoteAddr for reason.
func (s *FileStore) AddBan(remoteAddr, reason string) {
	s.mu.Lock()
	s.bans[remoteAddr] = reason
	s.mu.Unlock()
}

// LoadUsers parses one "user:password" pair per line from path,
// mirroring parse_user_authentication_file. Blank lines and lines
// starting with '#' are skipped.
func (s *FileStore) LoadUsers(path string) error {
	return s.loadLines(path, func(line string) {
		name, pass, ok := strings.Cut(line, ":")
		if !ok {
			return
		}
		s.AddUser(name, pass)
	})
}

// LoadBans parses one "ip:reason" pair per line from path, mirroring
// parse_ban_file.
func (s *FileStore) LoadBans(path string) error {
	return s.loadLines(path, func(line string) {
		addr, reason, ok := strings.Cut(line, ":")
		if !ok {
			reason = "banned"
			addr = line
		}
		s.AddBan(addr, reason)
	})
}

func (s *FileStore) loadLines(path string, handle func(line string)) error {
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
		handle(line)
	}
	return scanner.Err()
}

// Banned reports whether remoteAddr (with or without a port suffix) is
// on the ban list.
func (s *FileStore) Banned(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, banned := s.bans[host]
	return banned
}

// Authenticate checks req.Username/Password against the user table in
// constant time, short-circuiting on a cached recent failure for the
// same (addr, username) pair.
func (s *FileStore) Authenticate(req Request) bool {
	cacheKey := fmt.Sprintf("%s|%s", req.RemoteAddr, req.Username)
	if _, failed := s.negative.Get(cacheKey); failed {
		return false
	}

	s.mu.RLock()
	want, ok := s.users[req.Username]
	s.mu.RUnlock()

	if !ok || !constantTimeEqual(want, req.Password) {
		s.negative.Set(cacheKey, true, cache.DefaultExpiration)
		return false
	}
	return true
}

// constantTimeEqual compares two strings without leaking their common
// prefix length through timing, mirroring the caster-wide policy of
// never using a raw strncmp for credential comparison (§4.7, "(NEW)
// encoder-password hashing").
func constantTimeEqual(a, b string) bool {
	ah := sha3.Sum256([]byte(a))
	bh := sha3.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ah[:], bh[:]) == 1
}

// HashEncoderPassword pre-hashes the configured global encoder
// password once at startup, so the per-request comparison in
// CompareEncoderPassword never touches the plaintext again.
func HashEncoderPassword(plain string) [32]byte {
	return sha3.Sum256([]byte(plain))
}

// CompareEncoderPassword implements authenticate_source_request's
// NTRIP/1 global-password branch (strncmp(info.encoder_pass, var,
// BUFSIZE)), replacing the raw strncmp with a constant-time compare of
// SHA3-256 digests (§4.7, "a correctness-preserving hardening, not a
// behavior change").
func CompareEncoderPassword(hashed [32]byte, candidate string) bool {
	ch := sha3.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(hashed[:], ch[:]) == 1
}

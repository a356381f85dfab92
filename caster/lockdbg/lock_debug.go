//go:build lockdebug

package lockdbg

import (
	"fmt"
	"runtime"
	"sync"
)

// Mutex records which goroutine, file, and line last acquired it, and
// panics on a same-goroutine re-entrant Lock — the Go analogue of the
// original implementation's macro-recorded file/line/thread mutex
// tracking, compiled in only under -tags lockdebug.
type Mutex struct {
	mu sync.Mutex

	heldMu   sync.Mutex
	held     bool
	holder   int64
	acquired string
}

func (m *Mutex) Lock() {
	gid := goroutineID()
	m.heldMu.Lock()
	if m.held && m.holder == gid {
		loc := m.acquired
		m.heldMu.Unlock()
		panic(fmt.Sprintf("lockdbg: re-entrant Lock by goroutine %d, previously acquired at %s", gid, loc))
	}
	m.heldMu.Unlock()

	m.mu.Lock()

	_, file, line, _ := runtime.Caller(1)
	m.heldMu.Lock()
	m.held = true
	m.holder = gid
	m.acquired = fmt.Sprintf("%s:%d", file, line)
	m.heldMu.Unlock()
}

func (m *Mutex) Unlock() {
	m.heldMu.Lock()
	m.held = false
	m.heldMu.Unlock()
	m.mu.Unlock()
}

// goroutineID parses runtime.Stack's "goroutine NNN [...]" header. It
// is debug-only scaffolding, never called in release builds.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id int64
	fmt.Sscanf(string(buf[:n]), "goroutine %d ", &id)
	return id
}

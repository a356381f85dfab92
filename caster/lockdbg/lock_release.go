//go:build !lockdebug

// Package lockdbg provides Mutex, a drop-in for sync.Mutex used
// throughout caster.Context. Built without the lockdebug tag (the
// common case), it is a zero-overhead alias: no tracking, no
// indirection beyond what sync.Mutex itself costs.
package lockdbg

import "sync"

// Mutex is sync.Mutex verbatim in release builds.
type Mutex = sync.Mutex

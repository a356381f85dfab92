package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ntripcaster/caster/caster"
	"github.com/ntripcaster/caster/pool"
	"github.com/ntripcaster/caster/transport"
)

var (
	activeRelayMu        sync.Mutex
	activeRelayListeners = make(map[int]net.Listener)
)

// runRelayListeners opens one plain-TCP listener per port currently
// registered in cc.RelayTable and admits every connection accepted on
// it directly into the pool for the mapped mountpoint, with no NTRIP
// framing or login sequence at all — the Go-native replacement for
// add_nontrip_source's raw relay path (§3 NEW, "NonNTRIP relay
// table"). Called once at startup and again from the maintenance
// sweep, so any port present in the table that has no listener yet
// gets one without a process restart; ports already listening from a
// prior call are skipped via the package-level activeRelayListeners set.
func runRelayListeners(ctx context.Context, cc *caster.Context) {
	activeRelayMu.Lock()
	defer activeRelayMu.Unlock()

	for port, mountpoint := range cc.RelayTable.Snapshot() {
		if _, ok := activeRelayListeners[port]; ok {
			continue
		}
		addr := fmt.Sprintf(":%d", port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			log.Printf("casterd: relay listen on port %d (%s): %v", port, mountpoint, err)
			continue
		}
		activeRelayListeners[port] = ln
		go acceptRelayLoop(ctx, ln, mountpoint, cc)
		log.Printf("casterd: relay listener for %s running on %s", mountpoint, addr)
	}
}

func acceptRelayLoop(ctx context.Context, ln net.Listener, mountpoint string, cc *caster.Context) {
	backoff := caster.NewBackoff(10*time.Millisecond, time.Second)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("casterd: relay accept error on %s: %v", mountpoint, err)
				backoff.Sleep(ctx)
				continue
			}
		}
		backoff.Reset()
		cc.Pool.Add(mountpoint, pool.PendingConn{
			ID:     uuid.NewString(),
			Writer: &transport.PlainTCPWriter{Conn: conn},
			Conn:   conn,
		})
	}
}

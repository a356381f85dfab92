package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/ntripcaster/caster/caster"
)

// runAdminLoop services a plain-text line-protocol admin listener, the
// Go-native replacement for the original console's operator commands
// (kick_source, list_mounts). Every accepted connection is read one
// line at a time until it closes; each line is one command. This is
// the real caller SourceMu/ClientMu were documented for but never
// exercised outside tests.
func runAdminLoop(ctx context.Context, ln net.Listener, cc *caster.Context) {
	backoff := caster.NewBackoff(10*time.Millisecond, time.Second)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("casterd: admin accept error: %v", err)
				backoff.Sleep(ctx)
				continue
			}
		}
		backoff.Reset()
		go handleAdminConn(conn, cc)
	}
}

func handleAdminConn(conn net.Conn, cc *caster.Context) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply := runAdminCommand(line, cc)
		fmt.Fprintf(conn, "%s\n", reply)
	}
}

// runAdminCommand dispatches one admin line and returns the reply text.
// Supported commands:
//
//	KICK <mount> [reason...]   terminate the live source on mount
//	LIST                       one "<mount>" line per live source
func runAdminCommand(line string, cc *caster.Context) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERR empty command"
	}

	switch strings.ToUpper(fields[0]) {
	case "KICK":
		if len(fields) < 2 {
			return "ERR usage: KICK <mount> [reason]"
		}
		reason := "admin kick"
		if len(fields) > 2 {
			reason = strings.Join(fields[2:], " ")
		}
		if err := cc.KickMount(fields[1], reason); err != nil {
			return fmt.Sprintf("ERR %v", err)
		}
		return "OK"
	case "LIST":
		var b strings.Builder
		for _, e := range cc.Registry.Snapshot() {
			fmt.Fprintf(&b, "%s\n", e.MountKey())
		}
		if b.Len() == 0 {
			return "OK (no live mounts)"
		}
		return "OK\n" + b.String()
	default:
		return fmt.Sprintf("ERR unknown command %q", fields[0])
	}
}

package main

import (
	"log"
	"net"

	"github.com/ntripcaster/caster/caster"
)

// maxDatagram bounds the read buffer for one inbound keep-alive
// datagram, matching transport's own per-packet scratch size.
const maxDatagram = 65536

// runUDPListener services the shared UDP socket a UDP-framed client's
// keep-alive datagrams arrive on (§4.2, "consumes from a per-connection
// scratch buffer filled by a dedicated UDP reader"; §4.4, the 60s
// no-keepalive kick). One socket is shared by every UDP-framed client
// rather than one per connection, since the caster never dials a
// client before it has announced its address over the ordinary
// TCP/HTTP handshake; inbound datagrams are demuxed to the right
// client's scratch buffer by remote address via cc.UDPInbound, which
// the acceptor populates at GET time. A datagram from an address with
// no registered buffer is silently dropped — it belongs to a client
// that never finished its handshake, or one already reaped.
func runUDPListener(ln net.PacketConn, cc *caster.Context) {
	packet := make([]byte, maxDatagram)
	for {
		n, addr, err := ln.ReadFrom(packet)
		if err != nil {
			log.Printf("casterd: udp listener stopped: %v", err)
			return
		}
		scratch, ok := cc.UDPInbound.Get(addr.String())
		if !ok {
			continue
		}
		scratch.Feed(packet[:n])
	}
}

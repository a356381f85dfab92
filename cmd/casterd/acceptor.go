package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ntripcaster/caster/caster"
	"github.com/ntripcaster/caster/login"
	"github.com/ntripcaster/caster/pool"
	"github.com/ntripcaster/caster/transport"
)

// acceptLoop services the plain-TCP listener: NTRIP/1 "SOURCE <pass>
// /<mount>" uploads and bare GET client requests (§6, "Inbound source
// upload (NTRIP/1)").
func acceptLoop(ctx context.Context, ln net.Listener, cc *caster.Context) {
	backoff := caster.NewBackoff(10*time.Millisecond, time.Second)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("casterd: accept error: %v", err)
				backoff.Sleep(ctx)
				continue
			}
		}
		backoff.Reset()
		go handleConn(ctx, conn, cc)
	}
}

func handleConn(ctx context.Context, conn net.Conn, cc *caster.Context) {
	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	if err != nil {
		conn.Close()
		return
	}
	line = strings.TrimRight(line, "\r\n")

	if strings.HasPrefix(line, "SOURCE ") {
		handleSourceLogin(ctx, conn, br, line, cc)
		return
	}
	if strings.HasPrefix(line, "GET ") {
		handleClientGet(conn, br, line, cc)
		return
	}
	conn.Close()
}

// handleSourceLogin parses "SOURCE <password> /<mount>", drains the
// remaining request headers, then runs the full login sequence
// (§4.7).
func handleSourceLogin(ctx context.Context, conn net.Conn, br *bufio.Reader, firstLine string, cc *caster.Context) {
	fields := strings.Fields(firstLine)
	if len(fields) != 3 {
		fmt.Fprintf(conn, "HTTP/1.0 400 Bad Request\r\n\r\n")
		conn.Close()
		return
	}
	password, mountpoint := fields[1], fields[2]

	userAgent := "NTRIP casterd-client"
	for {
		h, err := br.ReadString('\n')
		if err != nil || h == "\r\n" || h == "\n" {
			break
		}
		if name, val, ok := strings.Cut(strings.TrimRight(h, "\r\n"), ":"); ok && strings.EqualFold(strings.TrimSpace(name), "user-agent") {
			userAgent = strings.TrimSpace(val)
		}
	}

	req := login.Request{
		RemoteAddr:    conn.RemoteAddr().String(),
		UserAgent:     userAgent,
		Authorization: password,
		Mount:         mountpoint,
	}

	reader := &transport.PlainTCPReader{Conn: conn}
	id := uuid.NewString()
	res := cc.LoginHandler.HandleSourceUpload(ctx, req, id, reader)

	switch res.Status {
	case login.StatusOK:
		fmt.Fprintf(conn, "ICY 200 OK\r\n\r\n")
		res.Source.SetConn(conn)
		go res.Source.Run(ctx, cc.Pool, cc.Registry, cc.Catalog)
	case login.StatusForbidden:
		fmt.Fprintf(conn, "HTTP/1.0 403 Forbidden\r\n\r\n")
		conn.Close()
	case login.StatusUnauthorized:
		fmt.Fprintf(conn, "HTTP/1.0 401 Unauthorized\r\n\r\n")
		conn.Close()
	case login.StatusBadRequest:
		fmt.Fprintf(conn, "HTTP/1.0 400 Bad Request\r\n\r\n")
		conn.Close()
	case login.StatusConflict:
		fmt.Fprintf(conn, "HTTP/1.0 409 Conflict\r\n\r\n")
		conn.Close()
	case login.StatusUnavailable:
		fmt.Fprintf(conn, "HTTP/1.0 503 Service Unavailable\r\n\r\n")
		conn.Close()
	}
}

// handleClientGet admits a plain-TCP client requesting mountpoint
// directly by path (no HTTP framing beyond the request line) into the
// pool for whichever source is currently connected on that mount.
func handleClientGet(conn net.Conn, br *bufio.Reader, firstLine string, cc *caster.Context) {
	fields := strings.Fields(firstLine)
	if len(fields) < 2 {
		conn.Close()
		return
	}
	path := fields[1]
	for {
		h, err := br.ReadString('\n')
		if err != nil || h == "\r\n" || h == "\n" {
			break
		}
	}

	host, portStr, _ := net.SplitHostPort(conn.LocalAddr().String())
	port, _ := strconv.Atoi(portStr)

	if _, found := cc.Registry.Find(path, host, port); !found {
		fmt.Fprintf(conn, "HTTP/1.0 404 Not Found\r\n\r\n")
		conn.Close()
		return
	}

	fmt.Fprintf(conn, "ICY 200 OK\r\n\r\n")
	cc.Pool.Add(path, pool.PendingConn{
		ID:     uuid.NewString(),
		Writer: &transport.PlainTCPWriter{Conn: conn},
		Conn:   conn,
	})
}

// ntripHandler serves NTRIP/2 HTTP uploads and downloads: POST is a
// chunked or plain source upload, GET "/" renders the sourcetable, GET
// "/<mount>" admits a client.
func ntripHandler(cc *caster.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handleNTRIP2Upload(w, r, cc)
		case http.MethodGet:
			handleNTRIP2Get(w, r, cc)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func handleNTRIP2Upload(w http.ResponseWriter, r *http.Request, cc *caster.Context) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var reader transport.Reader
	if r.Header.Get("Transfer-Encoding") == "chunked" {
		reader = &transport.ChunkedReader{Conn: conn}
	} else {
		reader = &transport.PlainTCPReader{Conn: conn}
	}

	username, password, _ := r.BasicAuth()
	req := login.Request{
		RemoteAddr:    r.RemoteAddr,
		UserAgent:     r.UserAgent(),
		Authorization: password,
		Username:      username,
		Mount:         r.URL.Path,
	}

	id := uuid.NewString()
	res := cc.LoginHandler.HandleSourceUpload(r.Context(), req, id, reader)

	switch res.Status {
	case login.StatusOK:
		rw.WriteString("HTTP/1.1 200 OK\r\n\r\n")
		rw.Flush()
		res.Source.SetConn(conn)
		go res.Source.Run(context.Background(), cc.Pool, cc.Registry, cc.Catalog)
	case login.StatusForbidden:
		rw.WriteString("HTTP/1.1 403 Forbidden\r\n\r\n")
		rw.Flush()
		conn.Close()
	case login.StatusUnauthorized:
		rw.WriteString("HTTP/1.1 401 Unauthorized\r\n\r\n")
		rw.Flush()
		conn.Close()
	case login.StatusBadRequest:
		rw.WriteString("HTTP/1.1 400 Bad Request\r\n\r\n")
		rw.Flush()
		conn.Close()
	case login.StatusConflict:
		rw.WriteString("HTTP/1.1 409 Conflict\r\n\r\n")
		rw.Flush()
		conn.Close()
	case login.StatusUnavailable:
		rw.WriteString("HTTP/1.1 503 Service Unavailable\r\n\r\n")
		rw.Flush()
		conn.Close()
	}
}

func handleNTRIP2Get(w http.ResponseWriter, r *http.Request, cc *caster.Context) {
	if r.URL.Path == "/" {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(cc.Catalog.Render()))
		return
	}

	host, portStr, _ := net.SplitHostPort(r.Host)
	port, _ := strconv.Atoi(portStr)
	if _, found := cc.Registry.Find(r.URL.Path, host, port); !found {
		http.NotFound(w, r)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.WriteString("HTTP/1.1 200 OK\r\n\r\n")
	rw.Flush()

	if udpAddr := r.URL.Query().Get("udp"); udpAddr != "" {
		admitUDPClient(r.URL.Path, udpAddr, conn, cc)
		return
	}

	cc.Pool.Add(r.URL.Path, pool.PendingConn{
		ID:     uuid.NewString(),
		Writer: &transport.PlainTCPWriter{Conn: conn},
		Conn:   conn,
	})
}

// admitUDPClient registers a UDP-framed client: udpAddr is the
// "host:port" the client listens on for data and sends keep-alive
// datagrams from, declared via the "?udp=" query parameter on its GET
// request (§4.2, "UDP-framed"). The underlying TCP connection stays
// open only long enough to confirm the 200 OK; it plays no further
// part once the client is admitted, since all further traffic in both
// directions is the UDP socket casterd's own listener (runUDPListener)
// and the per-client UDPFramedWriter exchange directly.
func admitUDPClient(mountpoint, udpAddr string, conn net.Conn, cc *caster.Context) {
	defer conn.Close()

	raddr, err := net.ResolveUDPAddr("udp", udpAddr)
	if err != nil {
		log.Printf("casterd: udp client %s: bad udp addr %q: %v", mountpoint, udpAddr, err)
		return
	}
	udpConn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		log.Printf("casterd: udp client %s: dial %s: %v", mountpoint, udpAddr, err)
		return
	}

	scratch := &transport.UDPScratchBuffer{}
	cc.UDPInbound.Set(raddr.String(), scratch)
	// TODO: cc.UDPInbound never forgets raddr once the client is reaped
	// by source.reapDeadClients; a long-running caster with UDP churn
	// leaks one map entry per UDP client that ever connected.

	cc.Pool.Add(mountpoint, pool.PendingConn{
		ID:         uuid.NewString(),
		Writer:     &transport.UDPFramedWriter{Conn: udpConn},
		UDPInbound: scratch,
		Conn:       udpConn,
	})
}

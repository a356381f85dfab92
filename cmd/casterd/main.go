// Command casterd is the caster process entrypoint: it wires a
// caster.Context from the environment, starts the source-upload,
// client, relay, UDP, and admin listeners, and runs the maintenance
// scheduler.
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ntripcaster/caster/caster"
	"github.com/ntripcaster/caster/config"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("casterd: loading config: %v", err)
	}
	cc := caster.New(cfg)

	if cfg.AliasFile != "" {
		if err := cc.Registry.LoadAliases(cfg.AliasFile); err != nil {
			log.Printf("casterd: initial alias load from %s: %v", cfg.AliasFile, err)
		}
	}
	if cfg.SourcetableSeedFile != "" {
		if err := cc.Catalog.LoadSeed(cfg.SourcetableSeedFile); err != nil {
			log.Printf("casterd: initial sourcetable seed load from %s: %v", cfg.SourcetableSeedFile, err)
		}
	}

	cronSched := os.Getenv("MAINTENANCE_CRON")
	if len(strings.TrimSpace(cronSched)) == 0 {
		log.Println("MAINTENANCE_CRON not set. Defaulting to */5 * * * * (every 5 minutes).")
		cronSched = "*/5 * * * *"
	}

	sched := cron.New()
	_, err = sched.AddFunc(cronSched, func() {
		runMaintenance(cc, cfg)
	})
	if err != nil {
		log.Fatalf("casterd: error scheduling maintenance job: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	tcpAddr := envOr("TCP_LISTEN_ADDR", ":2101")
	ln, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		log.Fatalf("casterd: tcp listen on %s: %v", tcpAddr, err)
	}
	go acceptLoop(ctx, ln, cc)
	log.Printf("casterd: source/client TCP listener running on %s", tcpAddr)

	if adminAddr := os.Getenv("ADMIN_LISTEN_ADDR"); adminAddr != "" {
		adminLn, err := net.Listen("tcp", adminAddr)
		if err != nil {
			log.Fatalf("casterd: admin listen on %s: %v", adminAddr, err)
		}
		go runAdminLoop(ctx, adminLn, cc)
		log.Printf("casterd: admin listener running on %s", adminAddr)
	}

	if udpAddr := os.Getenv("UDP_LISTEN_ADDR"); udpAddr != "" {
		udpLn, err := net.ListenPacket("udp", udpAddr)
		if err != nil {
			log.Fatalf("casterd: udp listen on %s: %v", udpAddr, err)
		}
		go runUDPListener(udpLn, cc)
		log.Printf("casterd: udp keep-alive listener running on %s", udpAddr)
	}

	runRelayListeners(ctx, cc)

	httpAddr := envOr("HTTP_LISTEN_ADDR", ":2102")
	log.Printf("casterd: NTRIP/2 HTTP listener running on %s", httpAddr)
	if err := http.ListenAndServe(httpAddr, ntripHandler(cc)); err != nil {
		log.Fatalf("casterd: HTTP server error: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// staleMountTimeout bounds how long a registered mount may go without
// an ingest byte before the maintenance sweep kicks it as a backstop
// independent of the per-source read-timeout detection already inside
// Run (§2 NEW, "stale-mount reap"): a source goroutine wedged badly
// enough to never observe its own read timeout is still caught here.
const staleMountTimeout = 2 * time.Minute

// runMaintenance performs the periodic housekeeping spec.md leaves
// implicit in the original's cron-less C daemon (§2 NEW): flush a
// stats summary to the log, reap mounts whose source has gone quiet
// past staleMountTimeout, reload the alias table and sourcetable seed
// listing from their configured files, and open relay listeners for
// any port newly added to the relay table.
func runMaintenance(cc *caster.Context, cfg *config.Config) {
	reaped := 0
	for _, e := range cc.Registry.Snapshot() {
		st, ok := cc.Stats.Get(e.MountKey().String())
		if !ok {
			continue
		}
		last := st.LastIngest()
		if last.IsZero() || time.Since(last) <= staleMountTimeout {
			continue
		}
		e.Kick("stale: no ingest in maintenance sweep")
		reaped++
	}

	for _, mountpoint := range cc.Stats.Mounts() {
		st, ok := cc.Stats.Get(mountpoint)
		if !ok {
			continue
		}
		log.Printf("casterd: stats flush: mount=%s in=%d out=%d clients=%d connected=%s",
			mountpoint, st.BytesIn(), st.BytesOut(), st.ClientConnections(), st.ConnectedDuration())
	}

	if cfg.AliasFile != "" {
		if err := cc.Registry.LoadAliases(cfg.AliasFile); err != nil {
			log.Printf("casterd: maintenance: reloading aliases from %s: %v", cfg.AliasFile, err)
		}
	}
	if cfg.SourcetableSeedFile != "" {
		if err := cc.Catalog.LoadSeed(cfg.SourcetableSeedFile); err != nil {
			log.Printf("casterd: maintenance: reloading sourcetable seed from %s: %v", cfg.SourcetableSeedFile, err)
		}
	}

	runRelayListeners(context.Background(), cc)

	log.Printf("casterd: maintenance sweep: %d live mounts, %d reaped stale, %d relay ports",
		cc.Registry.Len(), reaped, cc.RelayTable.Len())
}

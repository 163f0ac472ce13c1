// Command sslxrayd wires together everything sslxray provides into a
// minimal, runnable transparent proxy: it accepts plaintext connections,
// hands each one to an auto-SSL detector, and forwards the (possibly
// now-TLS) stream to a fixed upstream. It does not parse flags or config
// files: the listen and upstream addresses are Go constants, and the
// certificate/key paths, the optional DNS server and the optional user
// database path come from the SSLXRAYD_CERT, SSLXRAYD_KEY,
// SSLXRAYD_DNS_SERVER and SSLXRAYD_USERDB environment variables. A real
// deployment would replace the address constants and those environment
// variables with whatever config system it already has.
package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"log"
	"net"
	"os"
	"time"

	"github.com/proxycore/sslxray"
	"github.com/proxycore/sslxray/logging"

	_ "github.com/mattn/go-sqlite3"
)

const (
	listenAddr   = "127.0.0.1:10443"
	upstreamHost = "backend.internal"
	upstreamPort = "443"
)

func main() {
	certFile := os.Getenv("SSLXRAYD_CERT")
	keyFile := os.Getenv("SSLXRAYD_KEY")
	if certFile == "" || keyFile == "" {
		log.Fatal("sslxrayd: set SSLXRAYD_CERT and SSLXRAYD_KEY to a PEM certificate/key pair")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		log.Fatalf("sslxrayd: load certificate: %v", err)
	}
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}}

	opts := sslxray.Options{
		ConnIdleTimeout:        120 * time.Second,
		ExpiredConnCheckPeriod: 10 * time.Second,
		StatsPeriod:            6,
		StatsLog:               true,
		Sinks:                  logging.Default,
	}
	if dnsServer := os.Getenv("SSLXRAYD_DNS_SERVER"); dnsServer != "" {
		opts.DNSRequired = true
		opts.DNSServer = dnsServer
		opts.DNSTimeout = 2 * time.Second
	}
	if userdbPath := os.Getenv("SSLXRAYD_USERDB"); userdbPath != "" {
		db, err := sql.Open("sqlite3", userdbPath)
		if err != nil {
			log.Fatalf("sslxrayd: open user db: %v", err)
		}
		defer db.Close()
		opts.UserAuth = true
		opts.UserDB = db
	}

	pool := sslxray.NewPool(opts)
	if err := pool.Run(); err != nil {
		log.Fatalf("sslxrayd: start worker pool: %v", err)
	}
	defer pool.Free()

	ln, err := sslxray.ListenTCP(listenAddr)
	if err != nil {
		log.Fatalf("sslxrayd: listen on %s: %v", listenAddr, err)
	}
	defer ln.Close()

	log.Printf("sslxrayd: listening on %s, forwarding to %s:%s", listenAddr, upstreamHost, upstreamPort)
	for {
		raw, err := ln.Accept()
		if err != nil {
			log.Printf("sslxrayd: accept: %v", err)
			continue
		}
		go handle(pool, tlsConfig, raw)
	}
}

// handle is the accept handler the sslxray package itself deliberately
// does not own: it builds the Connection Record, attaches it to the pool
// (so its Worker's DNS/user-lookup handles become available), resolves
// and dials the upstream, installs the auto-SSL detector, and starts the
// read pumps.
func handle(pool *sslxray.Pool, tlsConfig *tls.Config, raw net.Conn) {
	conn := sslxray.NewConn(raw)
	if err := pool.Attach(conn); err != nil {
		conn.Close()
		return
	}

	dst, err := dialUpstream(conn.Worker())
	if err != nil {
		pool.Detach(conn)
		conn.Close()
		return
	}
	conn.Dst = dst

	proto := sslxray.NewAutoSSLHandler(tlsConfig)
	if err := proto.Setup(conn); err != nil {
		pool.Detach(conn)
		conn.Close()
		return
	}
	conn.ProtoCtx = proto

	pool.AddConn(conn)
	pool.Serve(conn)
}

// dialUpstream resolves upstreamHost through w's DNS resolver when one is
// configured, falling back to the system resolver via net.Dial otherwise.
func dialUpstream(w *sslxray.Worker) (net.Conn, error) {
	host := upstreamHost
	if dns := w.DNS(); dns != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if ip, err := dns.LookupHost(ctx, upstreamHost); err == nil {
			host = ip
		}
	}
	return net.DialTimeout("tcp", net.JoinHostPort(host, upstreamPort), 5*time.Second)
}

// Package sslxray implements the connection-handling core of a transparent
// TLS/SSL interception proxy: a fixed-size pool of worker threads that each
// own an event loop and a share of the live connections, and an auto-SSL
// protocol handler that watches a cleartext stream for an inline upgrade to
// TLS (e.g. STARTTLS) and promotes the connection to an intercepted TLS
// session mid-stream.
//
// The package does not run an accept loop, parse configuration files, or
// forge certificates; those are the embedding program's job. ListenTCP only
// creates the listening socket an embedder accepts on. A typical embedder
// wires things up like this:
//
//	pool := sslxray.NewPool(sslxray.Options{
//		ConnIdleTimeout:        120 * time.Second,
//		ExpiredConnCheckPeriod: 10 * time.Second,
//		StatsPeriod:            6,
//		StatsLog:               true,
//		Sinks:                  logging.New(os.Stderr),
//	})
//
//	if err := pool.Run(); err != nil {
//		log.Fatal(err)
//	}
//	defer pool.Free()
//
//	for {
//		raw, err := listener.Accept()
//		if err != nil {
//			continue
//		}
//		conn := sslxray.NewConn(raw)
//		pool.Attach(conn)
//		proto := sslxray.NewAutoSSLHandler(tlsConfig)
//		if err := proto.Setup(conn); err != nil {
//			pool.Detach(conn)
//			conn.Close()
//			continue
//		}
//		conn.ProtoCtx = proto
//		pool.AddConn(conn)
//		pool.Serve(conn)
//	}
package sslxray

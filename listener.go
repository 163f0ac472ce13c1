//go:build unix

package sslxray

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
)

// ListenTCP opens a plain (cleartext) TCP listening socket bound to
// addr: a manual syscall.Socket/Bind/Listen sequence with SO_REUSEADDR
// and non-blocking mode, rather than net.Listen, so an embedder keeps
// control of the raw socket options its accept loop needs. The accept
// loop itself belongs to the embedding program (cmd/sslxrayd shows one);
// the pool only ever sees already-accepted connections.
//
// There is no ALPN routing here and no SO_REUSEPORT sharding: auto-SSL
// detection watches a connection that arrives in cleartext and may or
// may not upgrade mid-stream, so there is nothing to negotiate at
// accept time.
func ListenTCP(addr string) (net.Listener, error) {
	sockAddr, family, err := resolveSockaddr(addr)
	if err != nil {
		return nil, fmt.Errorf("sslxray: resolve listen address: %w", err)
	}

	fd, err := syscall.Socket(family, syscall.SOCK_STREAM, syscall.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("sslxray: create listen socket: %w", err)
	}

	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("sslxray: set SO_REUSEADDR: %w", err)
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("sslxray: set non-blocking: %w", err)
	}
	if err := syscall.Bind(fd, sockAddr); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("sslxray: bind listen socket: %w", err)
	}
	if err := syscall.Listen(fd, syscall.SOMAXCONN); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("sslxray: listen: %w", err)
	}

	ln, err := net.FileListener(os.NewFile(uintptr(fd), "sslxray-listener"))
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("sslxray: wrap listen socket: %w", err)
	}
	return ln, nil
}

// resolveSockaddr parses "host:port" into a syscall.Sockaddr plus the
// matching address family: split host/port, resolve, branch on IP
// length.
func resolveSockaddr(addr string) (syscall.Sockaddr, int, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, 0, fmt.Errorf("split host and port: %w", err)
	}

	portInt, err := strconv.ParseInt(port, 10, 32)
	if err != nil {
		return nil, 0, fmt.Errorf("parse port: %w", err)
	}

	resolved, err := net.ResolveIPAddr("ip", host)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve host: %w", err)
	}

	switch len(resolved.IP) {
	case net.IPv4len:
		var ip [4]byte
		copy(ip[:], resolved.IP)
		return &syscall.SockaddrInet4{Addr: ip, Port: int(portInt)}, syscall.AF_INET, nil
	case net.IPv6len:
		var ip [16]byte
		copy(ip[:], resolved.IP)
		return &syscall.SockaddrInet6{Addr: ip, Port: int(portInt)}, syscall.AF_INET6, nil
	default:
		return nil, 0, fmt.Errorf("unexpected resolved IP length: %d", len(resolved.IP))
	}
}

// Package dnsresolver provides the per-Worker DNS resolver handle,
// created only when configuration declares DNS is needed. Recursive
// resolution and caching belong to whatever full resolver a deployment
// points at; this package owns just the handle lifecycle and a
// single-question lookup, built on github.com/miekg/dns.
package dnsresolver

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// Resolver is one Worker's DNS handle. It is deliberately minimal: a
// bound client plus the upstream server address, created once per Worker
// at Pool.Run time and reused for the Worker's lifetime so per-connection
// lookups do not pay per-query setup cost.
type Resolver struct {
	client *dns.Client
	server string
}

// New builds a Resolver that queries server (host:port) with timeout as
// both the dial and read deadline.
func New(server string, timeout time.Duration) *Resolver {
	return &Resolver{
		client: &dns.Client{Timeout: timeout},
		server: server,
	}
}

// LookupHost resolves name to its first A record's textual address. Only
// A records are queried; there is no AAAA lookup, caching, or recursion.
// The Worker holds this concrete *Resolver type, not an interface, so it
// cannot be swapped for another implementation.
func (r *Resolver) LookupHost(ctx context.Context, name string) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)

	reply, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return "", fmt.Errorf("dnsresolver: exchange: %w", err)
	}
	for _, rr := range reply.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("dnsresolver: no A record for %s", name)
}

// Close releases the Resolver. DNS clients in this library hold no
// kernel resources beyond the sockets opened per query, but Close is
// provided for lifecycle parity with Pool.Free's reverse-order teardown
// of every per-Worker resource.
func (r *Resolver) Close() error {
	return nil
}

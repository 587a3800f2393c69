// Package dnscache keeps host lookups warm for the lifetime of a crawl.
package dnscache

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/dnscache"
)

const lookupTimeout = 5 * time.Second

// Resolver wraps an rs/dnscache resolver and rotates dials across the cached
// addresses of each host.
type Resolver struct {
	cache *dnscache.Resolver
	ttl   time.Duration

	mu   sync.Mutex
	next map[string]int
}

// New wraps lookup. A nil lookup uses net.DefaultResolver. Cached entries are
// refreshed every ttl once Run is started.
func New(lookup dnscache.DNSResolver, ttl time.Duration) *Resolver {
	if lookup == nil {
		lookup = net.DefaultResolver
	}
	return &Resolver{
		cache: &dnscache.Resolver{Timeout: lookupTimeout, Resolver: lookup},
		ttl:   ttl,
		next:  make(map[string]int),
	}
}

// LookupHost returns the cached addresses for host, resolving on a miss.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return r.cache.LookupHost(ctx, host)
}

// Refresh re-resolves hosts used since the last refresh and evicts the rest.
func (r *Resolver) Refresh() {
	r.cache.Refresh(true)
}

// Run refreshes the cache every ttl until ctx ends. A ttl <= 0 keeps entries
// until the process exits.
func (r *Resolver) Run(ctx context.Context) {
	if r.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(r.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh()
		}
	}
}

func (r *Resolver) pick(addrs []string, host string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.next[host] % len(addrs)
	r.next[host] = i + 1
	return addrs[i]
}

// DialContext returns a dial function that resolves through the cache.
func (r *Resolver) DialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if dialer == nil {
		dialer = &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		if net.ParseIP(host) != nil {
			return dialer.DialContext(ctx, network, addr)
		}
		addrs, err := r.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(addrs) == 0 {
			return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
		}
		first := r.pick(addrs, host)
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(first, port))
		if err == nil {
			return conn, nil
		}
		for _, ip := range addrs {
			if ip == first {
				continue
			}
			if conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port)); dialErr == nil {
				return conn, nil
			}
		}
		return nil, err
	}
}

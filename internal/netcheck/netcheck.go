// Package netcheck answers "is the network usable right now?" for the
// recognizer's online/offline provider selection.
//
// A check is one TCP dial against a well-known endpoint. Results are cached
// briefly so that back-to-back turns do not each pay a dial.
package netcheck

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	defaultProbeAddr = "api.deepgram.com:443"
	defaultTimeout   = 2 * time.Second
	defaultCacheTTL  = 10 * time.Second
)

// DialFunc dials a TCP endpoint. Matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Option configures a Checker.
type Option func(*Checker)

// WithProbeAddr sets the host:port dialed by each probe.
func WithProbeAddr(addr string) Option {
	return func(c *Checker) { c.addr = addr }
}

// WithTimeout bounds a single probe dial.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) { c.timeout = d }
}

// WithCacheTTL sets how long a probe result is reused.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Checker) { c.ttl = d }
}

// WithDialFunc replaces the dialer. Used by tests.
func WithDialFunc(dial DialFunc) Option {
	return func(c *Checker) { c.dial = dial }
}

// Checker probes network reachability with a short-lived cache.
// Safe for concurrent use.
type Checker struct {
	addr    string
	timeout time.Duration
	ttl     time.Duration
	dial    DialFunc
	log     *slog.Logger

	mu        sync.Mutex
	lastCheck time.Time
	lastUp    bool
}

// New creates a Checker with the given options.
func New(log *slog.Logger, opts ...Option) *Checker {
	dialer := &net.Dialer{}
	c := &Checker{
		addr:    defaultProbeAddr,
		timeout: defaultTimeout,
		ttl:     defaultCacheTTL,
		dial:    dialer.DialContext,
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Available reports whether the probe endpoint is reachable. Within the cache
// TTL the previous result is returned without dialing.
func (c *Checker) Available(ctx context.Context) bool {
	c.mu.Lock()
	if !c.lastCheck.IsZero() && time.Since(c.lastCheck) < c.ttl {
		up := c.lastUp
		c.mu.Unlock()
		return up
	}
	c.mu.Unlock()

	up := c.probe(ctx)

	c.mu.Lock()
	c.lastCheck = time.Now()
	c.lastUp = up
	c.mu.Unlock()
	return up
}

func (c *Checker) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dial(ctx, "tcp", c.addr)
	if err != nil {
		c.log.Debug("network probe failed", "addr", c.addr, "error", err)
		return false
	}
	conn.Close()
	return true
}

// Invalidate drops the cached result so the next Available dials again.
// Called after an online provider failure mid-TTL.
func (c *Checker) Invalidate() {
	c.mu.Lock()
	c.lastCheck = time.Time{}
	c.mu.Unlock()
}

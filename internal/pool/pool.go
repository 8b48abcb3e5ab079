// Package pool implements the per-endpoint connection pool used by the
// Worker Client to reuse local stream-socket connections instead of
// dialing fresh for every inference request.
//
// Each endpoint gets its own bounded pool of connections, created lazily
// on first acquire. acquire/release/shutdown are all safe for concurrent
// use; a single mutex per endpoint guards its idle list and in-use count.
package pool

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrExhausted is returned by Acquire when an endpoint's pool has no idle
// connections and is already at max_connections in-use. Callers treat this
// as a transient transport failure — there is no implicit waiting.
var ErrExhausted = errors.New("pool: exhausted")

// ErrShutDown is returned by Acquire once Shutdown has been called.
var ErrShutDown = errors.New("pool: shut down")

// ErrConnectFailed wraps the underlying dial error when Acquire must
// establish a new connection and the dial itself fails.
var ErrConnectFailed = errors.New("pool: connect failed")

// Conn is a pooled connection handed out by Acquire. Callers must call
// Release exactly once per successful Acquire.
type Conn struct {
	net.Conn
	endpoint string
}

// DialFunc dials one new connection to endpoint. The default, DialUnix,
// dials a Unix domain socket; Options.Dial lets a caller substitute another
// dialer.
type DialFunc func(endpoint string) (net.Conn, error)

// DialUnix is the default DialFunc: endpoint is a "unix://<path>" URI.
func DialUnix(endpoint string) (net.Conn, error) {
	path, err := socketPath(endpoint)
	if err != nil {
		return nil, err
	}
	return net.DialTimeout("unix", path, 5*time.Second)
}

func socketPath(endpoint string) (string, error) {
	const prefix = "unix://"
	if len(endpoint) <= len(prefix) || endpoint[:len(prefix)] != prefix {
		return "", fmt.Errorf("pool: endpoint %q is not a unix:// address", endpoint)
	}
	return endpoint[len(prefix):], nil
}

// endpointPool is the per-endpoint record described in the data model:
// idle_list, in_use_count, max_connections, all guarded by mu.
type endpointPool struct {
	mu      sync.Mutex
	idle    []net.Conn
	inUse   int
	maxConn int
}

// Pool is a collection of per-endpoint connection pools, created lazily on
// first Acquire and never removed — there is no per-endpoint removal;
// Shutdown closes the idle connections of every endpoint at once.
type Pool struct {
	mu        sync.Mutex
	endpoints map[string]*endpointPool
	dial      DialFunc
	maxConn   int
	shutDown  bool

	logger *zap.Logger

	idleGauge  *prometheus.GaugeVec
	inUseGauge *prometheus.GaugeVec
}

// Options configures a new Pool.
type Options struct {
	// MaxConnectionsPerEndpoint bounds in_use + |idle| for every endpoint.
	MaxConnectionsPerEndpoint int

	// Dial overrides how new connections are established; defaults to
	// DialUnix when nil.
	Dial DialFunc

	Logger *zap.Logger

	// Registerer is where the pool's gauges are registered. If nil, the
	// gauges are created but never registered (useful in tests).
	Registerer prometheus.Registerer
}

// New creates a Pool. Per-endpoint sub-pools are created on demand.
func New(opts Options) *Pool {
	if opts.MaxConnectionsPerEndpoint <= 0 {
		opts.MaxConnectionsPerEndpoint = 8
	}
	if opts.Dial == nil {
		opts.Dial = DialUnix
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	idleGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "anyserve",
		Subsystem: "pool",
		Name:      "idle_connections",
		Help:      "Idle connections currently held per Worker endpoint.",
	}, []string{"endpoint"})
	inUseGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "anyserve",
		Subsystem: "pool",
		Name:      "in_use_connections",
		Help:      "Connections currently checked out per Worker endpoint.",
	}, []string{"endpoint"})

	if opts.Registerer != nil {
		opts.Registerer.MustRegister(idleGauge, inUseGauge)
	}

	return &Pool{
		endpoints:  make(map[string]*endpointPool),
		dial:       opts.Dial,
		maxConn:    opts.MaxConnectionsPerEndpoint,
		logger:     opts.Logger.Named("pool"),
		idleGauge:  idleGauge,
		inUseGauge: inUseGauge,
	}
}

// endpointFor returns (creating if necessary) the per-endpoint sub-pool.
func (p *Pool) endpointFor(endpoint string) *endpointPool {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep, ok := p.endpoints[endpoint]
	if !ok {
		ep = &endpointPool{maxConn: p.maxConn}
		p.endpoints[endpoint] = ep
	}
	return ep
}

// Acquire returns a connection for endpoint: an idle one if available,
// otherwise a freshly dialed one if the endpoint is below its bound.
// Returns ErrExhausted if the bound is reached with no idle connections,
// and ErrShutDown if Shutdown has already been called.
func (p *Pool) Acquire(endpoint string) (*Conn, error) {
	p.mu.Lock()
	shutDown := p.shutDown
	p.mu.Unlock()
	if shutDown {
		return nil, ErrShutDown
	}

	ep := p.endpointFor(endpoint)

	ep.mu.Lock()
	if n := len(ep.idle); n > 0 {
		c := ep.idle[n-1]
		ep.idle = ep.idle[:n-1]
		ep.inUse++
		ep.mu.Unlock()
		p.updateGauges(endpoint, ep)
		return &Conn{Conn: c, endpoint: endpoint}, nil
	}

	if ep.inUse >= ep.maxConn {
		ep.mu.Unlock()
		return nil, ErrExhausted
	}
	// Reserve the slot before dialing so a concurrent Acquire can't also
	// observe room and dial past maxConn; release it again on failure.
	ep.inUse++
	ep.mu.Unlock()
	p.updateGauges(endpoint, ep)

	conn, err := p.dial(endpoint)
	if err != nil {
		ep.mu.Lock()
		ep.inUse--
		ep.mu.Unlock()
		p.updateGauges(endpoint, ep)
		p.logger.Warn("connect failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectFailed, endpoint, err)
	}

	return &Conn{Conn: conn, endpoint: endpoint}, nil
}

// Release returns c to its endpoint's pool. If healthy is false, or the
// pool has already been shut down, the connection is closed instead of
// recycled. Decrements in_use exactly once per prior Acquire.
func (p *Pool) Release(c *Conn, healthy bool) {
	ep := p.endpointFor(c.endpoint)

	ep.mu.Lock()
	ep.inUse--
	if healthy {
		p.mu.Lock()
		shutDown := p.shutDown
		p.mu.Unlock()
		if !shutDown {
			ep.idle = append(ep.idle, c.Conn)
			ep.mu.Unlock()
			p.updateGauges(c.endpoint, ep)
			return
		}
	}
	ep.mu.Unlock()
	p.updateGauges(c.endpoint, ep)
	_ = c.Conn.Close()
}

// Shutdown closes every idle connection across all endpoints and rejects
// further Acquire calls. In-use connections are not force-closed here —
// Release already checks the shutdown flag and closes rather than recycles
// any connection returned after Shutdown runs, so an in-flight request is
// allowed to finish before its connection is closed.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.shutDown = true
	endpoints := make([]*endpointPool, 0, len(p.endpoints))
	names := make([]string, 0, len(p.endpoints))
	for name, ep := range p.endpoints {
		endpoints = append(endpoints, ep)
		names = append(names, name)
	}
	p.mu.Unlock()

	for i, ep := range endpoints {
		ep.mu.Lock()
		for _, c := range ep.idle {
			_ = c.Close()
		}
		ep.idle = nil
		ep.mu.Unlock()
		p.idleGauge.WithLabelValues(names[i]).Set(0)
	}
}

func (p *Pool) updateGauges(endpoint string, ep *endpointPool) {
	ep.mu.Lock()
	idle := len(ep.idle)
	inUse := ep.inUse
	ep.mu.Unlock()
	p.idleGauge.WithLabelValues(endpoint).Set(float64(idle))
	p.inUseGauge.WithLabelValues(endpoint).Set(float64(inUse))
}

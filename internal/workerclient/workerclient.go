// Package workerclient implements the synchronous forward() operation that
// sends one inference request to a Worker over its local stream socket and
// returns the raw response bytes. It is the sole caller of both the
// connection pool and the framing codec.
package workerclient

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simpx/anyserve/internal/framing"
	"github.com/simpx/anyserve/internal/pool"
)

// ErrTransport is returned for any local IPC failure: pool exhaustion,
// connect failure, short write, or short read. The caller must not retry
// against the same endpoint transparently — retry policy belongs to the
// Dispatch service, not here.
var ErrTransport = errors.New("workerclient: transport error")

// ErrProtocol is returned when the Worker's response frame declares a
// length over framing.MaxPayloadSize. Distinct from ErrTransport because
// the connection itself was healthy up to the point the frame failed to
// make sense. The payload itself is never parsed here.
var ErrProtocol = errors.New("workerclient: protocol error")

// Client forwards serialized inference requests to Workers via a shared
// connection pool. It never parses the payload itself.
type Client struct {
	pool   *pool.Pool
	logger *zap.Logger
}

// New creates a Client backed by p.
func New(p *pool.Pool, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{pool: p, logger: logger.Named("workerclient")}
}

// Forward sends requestBytes to the Worker at endpoint and returns its
// response bytes. It does not retry: on any transport failure the caller
// decides whether and how to retry, per the spec's explicit prohibition on
// retrying inside the Worker Client.
func (c *Client) Forward(endpoint string, requestBytes []byte) ([]byte, error) {
	conn, err := c.pool.Acquire(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire %s: %v", ErrTransport, endpoint, err)
	}

	if err := framing.Write(conn, requestBytes); err != nil {
		c.pool.Release(conn, false)
		return nil, fmt.Errorf("%w: send to %s: %v", ErrTransport, endpoint, err)
	}

	responseBytes, err := framing.Read(conn)
	if err != nil {
		c.pool.Release(conn, false)
		if errors.Is(err, framing.ErrMessageTooLarge) {
			return nil, fmt.Errorf("%w: response from %s: %v", ErrProtocol, endpoint, err)
		}
		return nil, fmt.Errorf("%w: receive from %s: %v", ErrTransport, endpoint, err)
	}

	c.pool.Release(conn, true)
	return responseBytes, nil
}

// Package directoryclient is the Dispatcher-side counterpart to the
// Directory's control-stream protocol (internal/directory): it dials the
// Directory's /register endpoint, sends this replica's registration
// payload, and holds the connection open for as long as the Dispatcher
// runs. Reconnection on any failure uses exponential backoff with jitter,
// mirroring the reconnect discipline of a typical agent-to-server link.
//
// Client also implements the lookup half of capability-based delegation
// (§4.5/§9): its Route method asks the Directory for a peer that offers a
// capability this Dispatcher cannot serve locally. Forwarding the request
// to that peer, and the delegation-hop count that bounds the chain to two
// Dispatchers total, are handled by internal/dispatch.
package directoryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/simpx/anyserve/internal/capability"
)

const (
	backoffInitial    = 500 * time.Millisecond
	backoffMax        = 30 * time.Second
	reconnectMaxWait  = 0 // no overall ceiling; the connection should be retried forever
	routeHTTPTimeout  = 5 * time.Second
	readDeadlineSlack = 90 * time.Second
)

// Config describes how this replica presents itself to the Directory.
type Config struct {
	// DirectoryAddr is the Directory's base HTTP address, e.g. "http://directory:8080".
	DirectoryAddr string
	ReplicaID     string
	Endpoint      string
	Capabilities  []capability.Offer
}

// Client maintains the registration control stream and answers routing
// lookups against the Directory on behalf of the local Dispatcher.
type Client struct {
	cfg    Config
	logger *zap.Logger
	http   *http.Client
}

// New creates a Client. Call Run in a goroutine to start the registration
// loop; the Client is usable for Route calls even before the first
// successful registration completes, though routing naturally finds no
// entries (including this replica's own) until registration succeeds.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		logger: logger.Named("directoryclient"),
		http:   &http.Client{Timeout: routeHTTPTimeout},
	}
}

// Run connects to the Directory's control stream and keeps it open,
// reconnecting with exponential backoff on any failure, until ctx is
// cancelled.
func (c *Client) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffInitial
	b.MaxInterval = backoffMax
	b.MaxElapsedTime = reconnectMaxWait

	for {
		if ctx.Err() != nil {
			c.logger.Info("directory client stopped")
			return
		}

		c.logger.Info("connecting to directory", zap.String("addr", c.cfg.DirectoryAddr))
		uptime, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}

		if uptime >= sessionMinUptime {
			b.Reset()
		}

		wait := b.NextBackOff()
		c.logger.Warn("directory connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", wait),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// sessionMinUptime is how long a control stream must stay open before a
// subsequent disconnect resets the reconnect backoff back to
// backoffInitial, rather than continuing to grow from wherever it left off.
const sessionMinUptime = 2 * backoffMax

// session dials the control stream, sends the registration payload, and
// blocks reading frames (keep-alives) until the connection drops or ctx is
// cancelled. The returned duration is how long the session stayed up.
func (c *Client) session(ctx context.Context) (time.Duration, error) {
	started := time.Now()
	err := c.runSession(ctx)
	return time.Since(started), err
}

func (c *Client) runSession(ctx context.Context) error {
	wsURL, err := toWebSocketURL(c.cfg.DirectoryAddr, "/register")
	if err != nil {
		return fmt.Errorf("directoryclient: invalid directory address: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("directoryclient: dial: %w", err)
	}
	defer conn.Close()

	payload := struct {
		ReplicaID    string             `json:"replica_id"`
		Endpoint     string             `json:"endpoint"`
		Capabilities []capability.Offer `json:"capabilities"`
	}{
		ReplicaID:    c.cfg.ReplicaID,
		Endpoint:     c.cfg.Endpoint,
		Capabilities: c.cfg.Capabilities,
	}
	if err := conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("directoryclient: send registration: %w", err)
	}

	c.logger.Info("registered with directory", zap.String("replica_id", c.cfg.ReplicaID))

	conn.SetReadDeadline(time.Now().Add(readDeadlineSlack))

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			select {
			case <-done:
				return nil
			default:
				return fmt.Errorf("directoryclient: control stream closed: %w", err)
			}
		}
		conn.SetReadDeadline(time.Now().Add(readDeadlineSlack))
	}
}

// routeResponse mirrors the Directory's GET /route response body.
type routeResponse struct {
	ReplicaID string `json:"replica_id"`
	Endpoint  string `json:"endpoint"`
}

// Route asks the Directory for a peer replica whose capability offer is a
// superset of query, excluding excludeReplicaID (normally this Client's own
// replica ID, so delegation never routes back to the Dispatcher that could
// not serve the request locally). Returns ok=false if no peer matches.
func (c *Client) Route(ctx context.Context, query capability.Query, excludeReplicaID string) (endpoint, replicaID string, ok bool, err error) {
	base, perr := url.Parse(c.cfg.DirectoryAddr)
	if perr != nil {
		return "", "", false, fmt.Errorf("directoryclient: invalid directory address: %w", perr)
	}
	base.Path = "/route/"

	q := url.Values{}
	for k, v := range query {
		q.Set(k, v)
	}
	if excludeReplicaID != "" {
		q.Set("exclude", excludeReplicaID)
	}
	base.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return "", "", false, fmt.Errorf("directoryclient: build route request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", false, fmt.Errorf("directoryclient: route request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", false, fmt.Errorf("directoryclient: route request returned status %d", resp.StatusCode)
	}

	var rr routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", "", false, fmt.Errorf("directoryclient: decode route response: %w", err)
	}
	return rr.Endpoint, rr.ReplicaID, true, nil
}

func toWebSocketURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already correct
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = path
	return u.String(), nil
}

package directory

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/simpx/anyserve/internal/capability"
)

const (
	// writeWait is the maximum time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long the server waits for a pong reply after sending
	// a ping before treating the connection as dead.
	pongWait = 60 * time.Second

	// keepAliveInterval is how often the server sends a keep-alive frame,
	// per §4.8/§9 ("emitting periodic keep-alive events"). Must be less
	// than pongWait.
	keepAliveInterval = 15 * time.Second

	// maxMessageSize bounds incoming frames; replicas only send the
	// initial registration payload and pong frames.
	maxMessageSize = 4096

	sendBufferSize = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// registrationPayload is the body a Dispatcher sends immediately after the
// control stream opens, per §4.8/§6: {replica_id, endpoint, capabilities[]}.
type registrationPayload struct {
	ReplicaID    string             `json:"replica_id"`
	Endpoint     string             `json:"endpoint"`
	Capabilities []capability.Offer `json:"capabilities"`
}

// keepAliveFrame is the periodic application-level event the Directory
// sends to every registered replica. Unlike the protocol-level ping below,
// this is a data frame: it is what makes the replica's own ReadMessage loop
// return periodically, which is what lets the replica refresh its own read
// deadline (internal/directoryclient.Client.runSession).
type keepAliveFrame struct {
	Type string `json:"type"`
}

// Client is one registered replica's control-stream connection. Its
// lifetime is the entry's lifetime: the entry exists exactly as long as
// this connection is open, per §4.8's liveness discipline.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	send chan struct{} // keep-alive / close signal only; no payload needed

	replicaID    string
	endpoint     string
	capabilities []capability.Offer

	logger *zap.Logger
}

// NewClient upgrades the HTTP connection to WebSocket and reads the
// initial registration payload. Returns an error if the upgrade fails or
// the first frame is not a valid registration.
func NewClient(hub *Hub, w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	var reg registrationPayload
	if err := conn.ReadJSON(&reg); err != nil {
		_ = conn.Close()
		return nil, err
	}

	c := &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan struct{}, sendBufferSize),
		replicaID:    reg.ReplicaID,
		endpoint:     reg.Endpoint,
		capabilities: reg.Capabilities,
		logger:       logger.With(zap.String("replica_id", reg.ReplicaID), zap.String("remote_addr", r.RemoteAddr)),
	}
	return c, nil
}

// Run registers the client with the hub and starts the read and write
// pumps. It blocks until the connection closes.
func (c *Client) Run() {
	c.hub.Subscribe(c)

	go c.writePump()
	c.readPump()
}

// readPump's sole job is detecting disconnection; replicas send nothing
// after the initial registration frame besides pong replies.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unsubscribe(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("directory: failed to set read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Warn("directory: unexpected close", zap.Error(err))
			}
			return
		}
	}
}

// writePump emits both a protocol-level ping and an application-level
// keep_alive frame every keepAliveInterval, per §9's periodic keep-alive
// discipline. The ping's automatic pong reply is what refreshes readPump's
// own read deadline below (SetPongHandler); the JSON frame is what makes
// the replica's ReadMessage loop return periodically so it can refresh its
// own deadline in turn — gorilla/websocket handles control frames like pong
// transparently inside ReadMessage without ever returning them to the
// caller, so the ping alone would keep this end alive but leave the
// replica's read loop blocked indefinitely. Per §9, any write error here —
// including on either frame — is treated as a deregistration event: the
// pump returns, its deferred Close() triggers the readPump's error path,
// which calls Unsubscribe.
func (c *Client) writePump() {
	ticker := time.NewTicker(keepAliveInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	frame := keepAliveFrame{Type: "keep_alive"}

	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("directory: keep-alive ping failed, deregistering", zap.Error(err))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("directory: failed to set write deadline", zap.Error(err))
				return
			}
			if err := writeJSON(c.conn, frame); err != nil {
				c.logger.Warn("directory: keep-alive write failed, deregistering", zap.Error(err))
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

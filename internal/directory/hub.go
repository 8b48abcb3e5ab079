// Package directory implements the API Server: a process-global,
// out-of-band service holding {replica_id -> (endpoint, capabilities)}.
// Entries live exactly as long as their control stream stays open; the
// stream is the sole liveness signal (§4.8, §9).
package directory

import (
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/simpx/anyserve/internal/capability"
)

// Entry is a read-only snapshot of one registered replica.
type Entry struct {
	ReplicaID    string
	Endpoint     string
	Capabilities []capability.Offer
}

// Hub is the central single-writer registry of connected Dispatcher
// replicas, structurally the teacher's websocket.Hub generalized from
// topic-based pub/sub to one-entry-per-connection registration: every
// mutation to the registry (register, unregister) is serialized through
// the Run goroutine via channels, and Run also holds the write lock while
// it mutates the maps so the concurrent read paths see a consistent state.
// Route and Snapshot are the read paths and take a brief read-lock to copy
// state, mirroring Publish's discipline in the teacher's Hub.
type Hub struct {
	clients   map[*Client]struct{}
	byReplica map[string]*Client

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}

	logger *zap.Logger
}

// NewHub creates an idle Hub. Call Run in a goroutine to start it.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		byReplica:  make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		stopped:    make(chan struct{}),
		logger:     logger.Named("directory.hub"),
	}
}

// doneCtx is the minimal context interface Run depends on, matching the
// teacher's Hub.Run signature so it composes with any context.Context.
type doneCtx interface {
	Done() <-chan struct{}
}

// Run starts the hub's event loop. Must be called exactly once, in its
// own goroutine; it exits when ctx is cancelled.
func (h *Hub) Run(ctx doneCtx) {
	defer close(h.stopped)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			// A second register for the same replica_id overwrites the
			// prior entry (§4.8): close the old stream's send channel so
			// its writePump drains and its readPump observes a closed
			// connection, triggering its own Unsubscribe.
			if old, exists := h.byReplica[client.replicaID]; exists && old != client {
				delete(h.clients, old)
				close(old.send)
			}
			h.clients[client] = struct{}{}
			h.byReplica[client.replicaID] = client
			h.mu.Unlock()

			h.logger.Info("replica registered",
				zap.String("replica_id", client.replicaID),
				zap.String("endpoint", client.endpoint),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				// Only remove the replica index entry if it still points
				// at this exact client -- a newer registration for the
				// same replica_id may already have replaced it.
				if h.byReplica[client.replicaID] == client {
					delete(h.byReplica, client.replicaID)
				}
				close(client.send)
			}
			h.mu.Unlock()

			h.logger.Info("replica deregistered", zap.String("replica_id", client.replicaID))

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]struct{})
			h.byReplica = make(map[string]*Client)
			h.mu.Unlock()
			return
		}
	}
}

// Subscribe registers client with the hub. Called by the HTTP upgrade
// handler after the client is initialised.
func (h *Hub) Subscribe(client *Client) {
	h.register <- client
}

// Unsubscribe removes client from the hub. Called by the client's
// readPump when the connection closes, for any reason.
func (h *Hub) Unsubscribe(client *Client) {
	h.unregister <- client
}

// Route returns one entry whose offer set is a superset of query, chosen
// by uniform random selection among all matches. excludeReplicaID, if
// non-empty, is skipped even if it matches -- used by delegation to avoid
// routing a request back to the Dispatcher that could not serve it
// locally. Returns ok=false if no entry matches.
func (h *Hub) Route(query capability.Query, excludeReplicaID string) (Entry, bool) {
	h.mu.RLock()
	var matches []Entry
	for _, c := range h.clients {
		if c.replicaID == excludeReplicaID {
			continue
		}
		for _, offer := range c.capabilities {
			if capability.Matches(query, offer) {
				matches = append(matches, Entry{
					ReplicaID:    c.replicaID,
					Endpoint:     c.endpoint,
					Capabilities: c.capabilities,
				})
				break
			}
		}
	}
	h.mu.RUnlock()

	if len(matches) == 0 {
		return Entry{}, false
	}
	return matches[rand.Intn(len(matches))], true
}

// Snapshot enumerates current entries.
func (h *Hub) Snapshot() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Entry, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, Entry{
			ReplicaID:    c.replicaID,
			Endpoint:     c.endpoint,
			Capabilities: c.capabilities,
		})
	}
	return out
}

// ConnectedCount returns the current number of registered replicas.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

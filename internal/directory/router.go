package directory

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/simpx/anyserve/internal/capability"
)

// RouterConfig wires the Directory's HTTP surface: control-stream
// registration, capability-query routing, and registry enumeration.
type RouterConfig struct {
	Hub    *Hub
	Logger *zap.Logger

	// RouteRateLimit bounds requests per minute per remote address against
	// GET /route, the unauthenticated lookup endpoint clients outside the
	// Dispatcher fleet may hit directly. Defaults to 120 if unset.
	RouteRateLimit int
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.RouteRateLimit <= 0 {
		c.RouteRateLimit = 120
	}
	return c
}

// NewRouter builds the Directory's handler: GET /register upgrades to the
// long-lived control stream (§4.8); GET /route answers a capability-query
// lookup with a single matching entry (§4.8, §9's subset-match routing);
// GET /registry enumerates all currently-registered replicas. The service
// is intentionally unauthenticated — see middleware.go.
func NewRouter(cfg RouterConfig) http.Handler {
	cfg = cfg.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/register", handleRegister(cfg.Hub, logger))

	r.Route("/route", func(sr chi.Router) {
		sr.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet},
		}))
		sr.Use(httprate.LimitByIP(cfg.RouteRateLimit, time.Minute))
		sr.Get("/", handleRoute(cfg.Hub))
	})

	r.Route("/registry", func(sr chi.Router) {
		sr.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet},
		}))
		sr.Get("/", handleSnapshot(cfg.Hub))
	})

	return r
}

// handleRegister upgrades the connection to the control-stream protocol and
// blocks for the stream's lifetime. The replica's entry is removed the
// moment this connection closes, for any reason.
func handleRegister(hub *Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, err := NewClient(hub, w, r, logger)
		if err != nil {
			logger.Warn("directory: registration failed", zap.Error(err))
			return
		}
		client.Run()
	}
}

type routeResponse struct {
	ReplicaID string `json:"replica_id"`
	Endpoint  string `json:"endpoint"`
}

// handleRoute answers GET /route?<key>=<value>&... with one entry whose
// capability offer is a superset of the query, selected uniformly at
// random among matches, or 404 if none match. The optional "exclude"
// parameter is stripped from the capability query and passed through as
// the excluded replica_id, used by delegating Dispatchers to avoid being
// routed back to themselves.
func handleRoute(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values := r.URL.Query()
		exclude := values.Get("exclude")
		values.Del("exclude")

		query := queryFromValues(values)

		entry, ok := hub.Route(query, exclude)
		if !ok {
			http.Error(w, "no worker offers the requested capabilities", http.StatusNotFound)
			return
		}

		writeJSONResponse(w, http.StatusOK, routeResponse{
			ReplicaID: entry.ReplicaID,
			Endpoint:  entry.Endpoint,
		})
	}
}

// handleSnapshot answers GET /registry with every currently-registered
// replica, mainly for operational visibility and debugging.
func handleSnapshot(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusOK, hub.Snapshot())
	}
}

func queryFromValues(values url.Values) capability.Query {
	q := make(capability.Query, len(values))
	for k := range values {
		q[k] = values.Get(k)
	}
	return q
}

func writeJSONResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

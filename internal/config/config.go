// Package config defines the environment-bound configuration structs for
// each of the three binaries, loaded with caarlos0/env and overridable by
// CLI flags the way the teacher's cobra commands override ARKEEP_* env vars.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// DispatcherConfig configures cmd/dispatcher: the Dispatch gRPC service,
// the Management service, and the Worker supervisor all run in this one
// process (§0).
type DispatcherConfig struct {
	ReplicaID     string        `env:"ANYSERVE_REPLICA_ID"`
	GRPCAddr      string        `env:"ANYSERVE_GRPC_ADDR" envDefault:":9090"`
	MetricsAddr   string        `env:"ANYSERVE_METRICS_ADDR" envDefault:":9091"`
	DirectoryAddr string        `env:"ANYSERVE_DIRECTORY_ADDR"`
	LogLevel      string        `env:"ANYSERVE_LOG_LEVEL" envDefault:"info"`
	SocketDir     string        `env:"ANYSERVE_SOCKET_DIR" envDefault:"/tmp/anyserve"`
	ServerName    string        `env:"ANYSERVE_SERVER_NAME" envDefault:"anyserve-dispatcher"`
	ServerVersion string        `env:"ANYSERVE_SERVER_VERSION" envDefault:"dev"`
	ModelPlatform string        `env:"ANYSERVE_MODEL_PLATFORM" envDefault:"anyserve"`
	MaxConnsPerWorker int       `env:"ANYSERVE_MAX_CONNS_PER_WORKER" envDefault:"8"`
	PruneInterval time.Duration `env:"ANYSERVE_PRUNE_INTERVAL" envDefault:"90s"`
	StaleAfter    time.Duration `env:"ANYSERVE_STALE_AFTER" envDefault:"270s"`

	// WorkerCommand, if set, is spawned and supervised directly by this
	// Dispatcher process at startup (§4.7). Empty means this replica only
	// serves models registered by Workers started out-of-band.
	WorkerCommand string `env:"ANYSERVE_WORKER_COMMAND"`
	WorkerArgs    []string `env:"ANYSERVE_WORKER_ARGS" envSeparator:" "`
}

// APIServerConfig configures cmd/apiserver: the standalone Directory HTTP
// service.
type APIServerConfig struct {
	HTTPAddr       string `env:"ANYSERVE_HTTP_ADDR" envDefault:":8080"`
	LogLevel       string `env:"ANYSERVE_LOG_LEVEL" envDefault:"info"`
	RouteRateLimit int    `env:"ANYSERVE_ROUTE_RATE_LIMIT" envDefault:"120"`
}

// DevWorkerConfig configures cmd/devworker: a toy Worker implementing the
// two reference models ("add" and "echo") used to exercise the Dispatcher
// scenarios end to end.
type DevWorkerConfig struct {
	WorkerID          string `env:"ANYSERVE_WORKER_ID"`
	ManagementAddr    string `env:"ANYSERVE_MANAGEMENT_ADDR" envDefault:":9090"`
	LogLevel          string `env:"ANYSERVE_LOG_LEVEL" envDefault:"info"`
	HeartbeatInterval time.Duration `env:"ANYSERVE_HEARTBEAT_INTERVAL" envDefault:"10s"`
}

// Load parses environment variables into T using its `env` struct tags.
func Load[T any]() (T, error) {
	var cfg T
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

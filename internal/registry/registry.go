// Package registry maintains the in-memory Model/Capability Registry: the
// bidirectional index mapping a model key to the Worker endpoint that
// serves it, plus a reverse index by worker id for bulk eviction on Worker
// death.
//
// All state is in-memory and intentionally non-persistent: a Dispatcher
// restart loses every registration, and Workers are expected to
// re-register against the Management service on their own reconnect/retry
// discipline.
package registry

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrNotFound is returned by Lookup when no entry satisfies the request,
// and is the sentinel the Dispatch service maps onto a NOT_FOUND status.
var ErrNotFound = errors.New("registry: model not found")

// entry is the forward-index record for one model key.
type entry struct {
	endpoint string
	workerID string
}

// Registry is the Dispatcher's in-memory bidirectional index between model
// keys and Worker endpoints. It is safe for concurrent use by multiple
// goroutines (the Dispatch service reads, the Management service writes,
// and the supervisor's exit-cleanup writes, all from separate goroutines).
//
// A single mutex covers every index — the registry never blocks on I/O, so
// contention is limited to in-memory map operations.
//
// The zero value is not usable — create instances with New.
type Registry struct {
	mu sync.RWMutex

	// forward maps model_key -> entry. model_key is model_name if version
	// is empty, else model_name + ":" + model_version.
	forward map[string]entry

	// reverse maps worker_id -> set of model_keys it currently owns.
	reverse map[string]map[string]struct{}

	logger *zap.Logger
}

// New creates an empty Registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		forward: make(map[string]entry),
		reverse: make(map[string]map[string]struct{}),
		logger:  logger.Named("registry"),
	}
}

// modelKey builds the forward-index key from a (name, version) pair per
// the data model: version == "" collapses to the bare name.
func modelKey(modelName, modelVersion string) string {
	if modelVersion == "" {
		return modelName
	}
	return modelName + ":" + modelVersion
}

// Register upserts the forward entry for (modelName, modelVersion),
// updates the reverse set for workerID to include this model key, and
// stores the worker's endpoint on that forward entry (there is no
// separate per-worker endpoint record). Last writer wins on conflicting
// re-register — invariant 1 of the data model. Always succeeds.
func (r *Registry) Register(modelName, modelVersion, workerEndpoint, workerID string) {
	key := modelKey(modelName, modelVersion)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.forward[key]; exists && prev.workerID != workerID {
		// Re-registration under a different worker: drop the stale
		// reverse-side membership so invariant 2 (forward/reverse
		// consistency) holds after the upsert below.
		if set, ok := r.reverse[prev.workerID]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(r.reverse, prev.workerID)
			}
		}
	}

	r.forward[key] = entry{endpoint: workerEndpoint, workerID: workerID}

	set, ok := r.reverse[workerID]
	if !ok {
		set = make(map[string]struct{})
		r.reverse[workerID] = set
	}
	set[key] = struct{}{}

	r.logger.Debug("model registered",
		zap.String("model_key", key),
		zap.String("worker_id", workerID),
		zap.String("endpoint", workerEndpoint),
	)
}

// Lookup resolves (modelName, modelVersion) to a worker endpoint using the
// two-step versioning fallback rule: exact (name, version) first, then
// (name, "") if version was non-empty. This is the sole fallback rule —
// no latest-version heuristic, no prefix match, no wildcard.
func (r *Registry) Lookup(modelName, modelVersion string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.forward[modelKey(modelName, modelVersion)]; ok {
		return e.endpoint, nil
	}
	if modelVersion != "" {
		if e, ok := r.forward[modelKey(modelName, "")]; ok {
			return e.endpoint, nil
		}
	}
	return "", ErrNotFound
}

// UnregisterModel removes (modelName, modelVersion) from the forward index
// and from workerID's reverse set. If that worker's reverse set becomes
// empty, its reverse entry is dropped entirely. Reports
// whether an entry was actually removed.
func (r *Registry) UnregisterModel(modelName, modelVersion, workerID string) bool {
	key := modelKey(modelName, modelVersion)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.forward[key]
	if !ok || e.workerID != workerID {
		return false
	}

	delete(r.forward, key)

	if set, ok := r.reverse[workerID]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(r.reverse, workerID)
		}
	}

	r.logger.Debug("model unregistered",
		zap.String("model_key", key),
		zap.String("worker_id", workerID),
	)
	return true
}

// UnregisterWorker removes every model key owned by workerID, plus its
// reverse entry, and returns how many forward entries were dropped. This
// is the supervisor's backstop on observed Worker exit, and the
// Management pruner's eviction of stale workers.
func (r *Registry) UnregisterWorker(workerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.reverse[workerID]
	if !ok {
		return 0
	}

	for key := range set {
		delete(r.forward, key)
	}
	n := len(set)
	delete(r.reverse, workerID)

	r.logger.Info("worker entries removed",
		zap.String("worker_id", workerID),
		zap.Int("count", n),
	)
	return n
}

// ModelInfo is a read-only snapshot of one forward-index entry, returned
// by the enumeration operations below.
type ModelInfo struct {
	ModelName    string
	ModelVersion string
	Endpoint     string
	WorkerID     string
}

// ListModels returns a snapshot of every registered model key. The
// returned slice is a copy; mutating it does not affect the Registry.
func (r *Registry) ListModels() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelInfo, 0, len(r.forward))
	for key, e := range r.forward {
		name, version := splitModelKey(key)
		out = append(out, ModelInfo{
			ModelName:    name,
			ModelVersion: version,
			Endpoint:     e.endpoint,
			WorkerID:     e.workerID,
		})
	}
	return out
}

// ListModelsByWorker returns a snapshot of every model key currently owned
// by workerID.
func (r *Registry) ListModelsByWorker(workerID string) []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.reverse[workerID]
	if !ok {
		return nil
	}

	out := make([]ModelInfo, 0, len(set))
	for key := range set {
		name, version := splitModelKey(key)
		e := r.forward[key]
		out = append(out, ModelInfo{
			ModelName:    name,
			ModelVersion: version,
			Endpoint:     e.endpoint,
			WorkerID:     e.workerID,
		})
	}
	return out
}

// splitModelKey inverts modelKey. A model name containing a literal ":" is
// not representable in this simplified scheme — the data model defines
// model_key as name, or name + ":" + version, so the first colon is always
// the separator.
func splitModelKey(key string) (name, version string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

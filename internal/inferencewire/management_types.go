package inferencewire

// RegisterModelRequest is sent by a Worker to announce a capability it
// now serves.
type RegisterModelRequest struct {
	ModelName     string `json:"model_name"`
	ModelVersion  string `json:"model_version"`
	WorkerAddress string `json:"worker_address"`
	WorkerID      string `json:"worker_id"`
}

// RegisterModelResponse always reports success per §4.6 — registration
// never fails.
type RegisterModelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// UnregisterModelRequest withdraws a previously registered capability.
type UnregisterModelRequest struct {
	ModelName    string `json:"model_name"`
	ModelVersion string `json:"model_version"`
	WorkerID     string `json:"worker_id"`
}

// UnregisterModelResponse reports whether an entry was actually removed.
type UnregisterModelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HeartbeatRequest is sent periodically by a Worker. ResourceUsage is an
// optional supplement beyond the base spec's {worker_id, model_names}
// shape — a Worker that omits it still gets a healthy response.
type HeartbeatRequest struct {
	WorkerID      string          `json:"worker_id"`
	ModelNames    []string        `json:"model_names"`
	ResourceUsage *ResourceUsage  `json:"resource_usage,omitempty"`
}

// ResourceUsage is the optional resource snapshot a Worker may attach to
// its Heartbeat, collected worker-side via gopsutil. The Management
// service only logs it for observability; it is not retained and has no
// effect on routing or the registry invariants.
type ResourceUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryRSSBytes uint64 `json:"memory_rss_bytes"`
}

// HeartbeatResponse reports healthy per §4.6; currently always true, but
// the field exists so a future liveness check has somewhere to report to.
type HeartbeatResponse struct {
	Healthy bool `json:"healthy"`
}

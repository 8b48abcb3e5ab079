// Package inferencewire defines the wire message types for the two gRPC
// surfaces this system exposes — the client-facing "KServe v2" inference
// RPC and the Worker-facing Management RPC — plus the plumbing needed to
// carry them over a real google.golang.org/grpc transport.
//
// These are plain Go structs, not protoc-generated proto.Message
// implementations: this repository cannot invoke protoc. See codec.go for
// how they are still served over genuine gRPC (metadata, interceptors,
// deadlines, streaming all function unmodified) via a custom codec and a
// hand-written grpc.ServiceDesc, the same data structure protoc-gen-go-grpc
// would otherwise emit. A production follow-up would swap this codec for
// generated code without touching internal/dispatch.
package inferencewire

// Tensor is one named input or output of an inference request/response.
// Contents carries the flattened tensor data either as a typed slice (one
// of the *Contents slice fields below) or as opaque raw bytes, mirroring KServe
// v2's two supported encodings.
type Tensor struct {
	Name     string   `json:"name"`
	Datatype string   `json:"datatype"`
	Shape    []int64  `json:"shape"`

	// Exactly one of the following should be populated, matching the
	// tensor's Datatype.
	BoolContents   []bool    `json:"bool_contents,omitempty"`
	Int64Contents  []int64   `json:"int64_contents,omitempty"`
	Fp32Contents   []float32 `json:"fp32_contents,omitempty"`
	Fp64Contents   []float64 `json:"fp64_contents,omitempty"`
	BytesContents  [][]byte  `json:"bytes_contents,omitempty"`

	// RawContents carries the tensor as an opaque byte blob instead of a
	// typed slice above; the spec's Open Question about raw_input_contents
	// explicitly keeps this as a legal escape hatch at the tensor level,
	// not as a whole-request byte tunnel.
	RawContents []byte `json:"raw_contents,omitempty"`
}

// Parameter is one entry of an inference request/response's parameter map.
// KServe v2 parameters are a oneof of bool/int64/string; we keep all three
// and treat "set" as "populated."
type Parameter struct {
	BoolParam   *bool   `json:"bool_param,omitempty"`
	Int64Param  *int64  `json:"int64_param,omitempty"`
	StringParam *string `json:"string_param,omitempty"`
}

// ServerLiveRequest carries no fields; liveness never depends on request
// content.
type ServerLiveRequest struct{}

// ServerLiveResponse reports whether the Dispatcher process is alive at
// all (distinct from ready — see ServerReady).
type ServerLiveResponse struct {
	Live bool `json:"live"`
}

// ServerReadyRequest carries no fields.
type ServerReadyRequest struct{}

// ServerReadyResponse reports whether the Dispatcher is currently
// accepting inference requests.
type ServerReadyResponse struct {
	Ready bool `json:"ready"`
}

// ServerMetadataRequest carries no fields.
type ServerMetadataRequest struct{}

// ServerMetadataResponse is a static descriptive blob about the server.
type ServerMetadataResponse struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Extensions []string `json:"extensions"`
}

// ModelReadyRequest asks whether a specific model/version is routable.
type ModelReadyRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ModelReadyResponse answers ModelReadyRequest.
type ModelReadyResponse struct {
	Ready bool `json:"ready"`
}

// ModelMetadataRequest asks for static descriptive data about a model.
type ModelMetadataRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ModelMetadataResponse echoes Name from the request per §4.5.
type ModelMetadataResponse struct {
	Name     string   `json:"name"`
	Versions []string `json:"versions"`
	Platform string   `json:"platform"`
}

// ModelInferRequest is one inference call. It has no delegation-hop field:
// the §4.8 delegation depth travels only in the x-anyserve-delegation-hop
// gRPC metadata key (dispatch.DelegationHopHeader), which is where
// internal/dispatch reads it.
type ModelInferRequest struct {
	ModelName    string      `json:"model_name"`
	ModelVersion string      `json:"model_version"`
	ID           string      `json:"id"`
	Inputs       []Tensor    `json:"inputs"`
	Outputs      []Tensor    `json:"outputs,omitempty"`
	Parameters   map[string]Parameter `json:"parameters,omitempty"`
}

// ModelInferResponse mirrors ModelInferRequest's shape per §6.
type ModelInferResponse struct {
	ModelName    string               `json:"model_name"`
	ModelVersion string               `json:"model_version"`
	ID           string               `json:"id"`
	Outputs      []Tensor             `json:"outputs"`
	Parameters   map[string]Parameter `json:"parameters,omitempty"`
}

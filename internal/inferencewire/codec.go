package inferencewire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered under the "proto" content-subtype so that a
// plain google.golang.org/grpc.Dial / grpc.NewServer pair uses it without
// any special per-call option — grpc's default content-subtype is "proto",
// and encoding.RegisterCodec overwrites whatever codec previously claimed
// that name for this process.
const codecName = "proto"

// jsonCodec marshals the plain structs in this package with encoding/json
// instead of a real protobuf codec. It satisfies encoding.Codec so the
// gRPC transport (framing, compression, metadata, deadlines) behaves
// exactly as it would with generated code; only the payload encoding
// differs from the published KServe v2 wire format.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("inferencewire: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("inferencewire: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

// init registers the codec at package import time so every caller that
// imports internal/inferencewire gets it for free, the same way a
// protoc-gen-go-grpc package registers its proto file descriptor on import.
func init() {
	encoding.RegisterCodec(jsonCodec{})
}

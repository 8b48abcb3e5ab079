package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/simpx/anyserve/internal/inferencewire"
)

// jsonRequestCodec serializes/deserializes the inference request and
// response for the wire between the Dispatcher and a Worker over the
// §4.1 framing socket. This is a distinct encoding from the gRPC-facing
// codec in internal/inferencewire/codec.go — the two connections (client
// to Dispatcher, Dispatcher to Worker) are not required to share a wire
// format, and keeping them independent lets a Worker be implemented in any
// language that can frame length-prefixed JSON.
type jsonRequestCodec struct{}

func (jsonRequestCodec) encodeRequest(req *inferencewire.ModelInferRequest) ([]byte, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode request: %w", err)
	}
	return b, nil
}

func (jsonRequestCodec) decodeResponse(data []byte) (*inferencewire.ModelInferResponse, error) {
	var resp inferencewire.ModelInferResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("dispatch: decode response: %w", err)
	}
	return &resp, nil
}

package inferencewire

import (
	"testing"

	"google.golang.org/grpc/encoding"
)

func TestCodecRegisteredUnderProtoSubtype(t *testing.T) {
	c := encoding.GetCodec(codecName)
	if c == nil {
		t.Fatal("expected a codec registered under the \"proto\" subtype")
	}
	if _, ok := c.(jsonCodec); !ok {
		t.Fatalf("codec registered under %q is not our jsonCodec, got %T", codecName, c)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}

	req := &ModelInferRequest{
		ModelName:    "add",
		ModelVersion: "",
		ID:           "req-1",
		Inputs: []Tensor{
			{Name: "a", Datatype: "INT64", Shape: []int64{3}, Int64Contents: []int64{1, 2, 3}},
		},
	}

	data, err := c.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got ModelInferRequest
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if got.ModelName != req.ModelName || got.ID != req.ID {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, req)
	}
	if len(got.Inputs) != 1 || got.Inputs[0].Name != "a" {
		t.Errorf("tensor round trip mismatch: got %+v", got.Inputs)
	}
}

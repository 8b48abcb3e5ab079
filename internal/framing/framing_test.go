package framing

import (
	"bytes"
	"io"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte{}},
		{"single byte", []byte{0x42}},
		{"typical", bytes.Repeat([]byte("hello"), 100)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Write(&buf, tc.payload); err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			got, err := Read(&buf)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if !bytes.Equal(got, tc.payload) {
				t.Errorf("Read() = %v, want %v", got, tc.payload)
			}
		})
	}
}

func TestReadShortLength(t *testing.T) {
	// Only 2 of the 4 length bytes are present.
	buf := bytes.NewReader([]byte{0x00, 0x01})
	if _, err := Read(buf); err == nil {
		t.Fatal("expected error on short length read, got nil")
	}
}

func TestReadShortPayload(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{0x00, 0x00, 0x00, 0x0A} // declares 10 bytes
	buf.Write(header)
	buf.Write([]byte("abc")) // only 3 bytes follow

	if _, err := Read(&buf); err == nil {
		t.Fatal("expected error on short payload read, got nil")
	} else if err == io.EOF {
		t.Fatalf("expected wrapped error, got bare io.EOF")
	}
}

func TestReadMessageTooLarge(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 4)
	header[0] = 0xFF // absurdly large declared length
	buf.Write(header)

	_, err := Read(&buf)
	if err != ErrMessageTooLarge {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestWriteThenMultipleReads(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, []byte("first")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := Write(&buf, []byte("second")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	first, err := Read(&buf)
	if err != nil || string(first) != "first" {
		t.Fatalf("first read = %q, %v", first, err)
	}
	second, err := Read(&buf)
	if err != nil || string(second) != "second" {
		t.Fatalf("second read = %q, %v", second, err)
	}
}

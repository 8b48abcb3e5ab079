// Package framing implements the length-prefixed message framing used on
// every local stream-socket connection between the Dispatcher and a Worker.
//
// Wire format: a 4-byte big-endian length N, followed by exactly N bytes of
// opaque payload. The codec never inspects the payload — serializing and
// parsing the inference request/response is the caller's job.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxPayloadSize bounds the length field to guard against a corrupt or
// malicious peer claiming an absurd payload size and exhausting memory
// before the short-read check below even has a chance to fire.
const MaxPayloadSize = 64 << 20 // 64 MiB

// ErrMessageTooLarge is returned by Read when the declared length exceeds
// MaxPayloadSize. The connection must be treated as a transport failure.
var ErrMessageTooLarge = errors.New("framing: message exceeds maximum size")

// Write sends one framed message: a 4-byte big-endian length followed by
// payload, coalesced into a single underlying Write so the two halves can
// never be interleaved with a concurrent writer on the same connection.
func Write(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("framing: write message: %w", err)
	}
	return nil
}

// Read receives one framed message: it reads exactly 4 length bytes, then
// exactly N payload bytes. A short read on either field is a transport
// failure — the caller must not return the connection to its pool.
func Read(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("framing: read length: %w", err)
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > MaxPayloadSize {
		return nil, ErrMessageTooLarge
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("framing: read payload: %w", err)
	}
	return payload, nil
}

package workerclient

import (
	"errors"
	"net"
	"path/filepath"
	"testing"

	"github.com/simpx/anyserve/internal/framing"
	"github.com/simpx/anyserve/internal/pool"
)

// startWorker starts a Unix-socket listener that answers each framed
// request with the framed result of respond(req), simulating a Worker's
// response.
func startWorker(t *testing.T, respond func(req []byte) []byte) string {
	t.Helper()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "worker.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				for {
					req, err := framing.Read(c)
					if err != nil {
						return
					}
					if err := framing.Write(c, respond(req)); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return "unix://" + sockPath
}

func TestForwardRoundTrip(t *testing.T) {
	endpoint := startWorker(t, func(req []byte) []byte {
		return append([]byte("echo:"), req...)
	})

	p := pool.New(pool.Options{MaxConnectionsPerEndpoint: 2})
	c := New(p, nil)

	resp, err := c.Forward(endpoint, []byte("hello"))
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if string(resp) != "echo:hello" {
		t.Errorf("Forward() = %q, want echo:hello", resp)
	}
}

func TestForwardConnectFailedIsTransportError(t *testing.T) {
	p := pool.New(pool.Options{MaxConnectionsPerEndpoint: 1})
	c := New(p, nil)

	_, err := c.Forward("unix:///no/such/socket.sock", []byte("x"))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestForwardShortReadIsTransportError(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "worker.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// Read the request, then close without responding -- this
		// simulates a Worker crash mid-response.
		_, _ = framing.Read(conn)
	}()

	p := pool.New(pool.Options{MaxConnectionsPerEndpoint: 1})
	c := New(p, nil)

	_, err = c.Forward("unix://"+sockPath, []byte("hello"))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error on short read, got %v", err)
	}
}

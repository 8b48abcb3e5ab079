// Package supervisor launches and monitors Worker child processes: it
// creates a readiness pipe, spawns the child with the socket path and
// readiness file descriptor passed via environment, waits for the
// one-shot readiness byte, terminates the child on stop (graceful then
// forceful), and runs an exit callback when the child exits on its own.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/simpx/anyserve/internal/registry"
)

// Environment variable names the child process contract (§6) guarantees:
// the Worker reads these to know where to bind its socket and which file
// descriptor to write its readiness byte to.
const (
	EnvSocketPath = "ANYSERVE_SOCKET_PATH"
	EnvReadyFD    = "ANYSERVE_READY_FD"
)

// State is the Worker handle's lifecycle state per the data model:
// Spawning -> Ready on the readiness byte, Dead on process exit, explicit
// stop, or spawn error.
type State int

const (
	StateSpawning State = iota
	StateReady
	StateDead
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateReady:
		return "ready"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ErrReadyTimeout is returned by Spawn when the Worker does not signal
// readiness within the bounded timeout.
var ErrReadyTimeout = errors.New("supervisor: worker readiness timeout")

// Config describes how to launch one Worker.
type Config struct {
	// Command is the executable path (or name resolved via PATH).
	Command string
	// Args are passed to the child verbatim.
	Args []string
	// SocketPath is the filesystem path the Worker must bind and listen on.
	SocketPath string
	// WorkerID is the id this Worker will present when it registers
	// itself against the Management service; Spawn passes it to the child
	// as ANYSERVE_WORKER_ID and uses it for logging and for the backstop
	// unregister call on unexpected exit.
	WorkerID string
	// ReadyTimeout bounds how long Spawn waits for the readiness byte.
	// Defaults to 10s per §4.7.
	ReadyTimeout time.Duration
	// StopTimeout bounds how long Stop waits after SIGTERM before
	// escalating to SIGKILL. Defaults to 5s per §4.7.
	StopTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	return c
}

// Worker owns one child process's lifecycle. Created by Spawn; all state
// transitions happen under mu, since the exit-monitor goroutine and
// caller-initiated Stop can race.
type Worker struct {
	cfg    Config
	cmd    *exec.Cmd
	logger *zap.Logger

	mu    sync.Mutex
	state State

	// onExit is invoked exactly once, off the state-transition mutex, the
	// first time the supervisor observes the child has died — the
	// Registry.UnregisterWorker backstop per §4.7.
	onExit func(workerID string)

	exited chan struct{}
}

// Spawn creates a readiness pipe, launches the Worker child with the
// socket path and readiness FD passed via environment, and blocks until
// the child signals readiness or the timeout elapses. On any failure the
// Worker transitions straight to Dead.
//
// onExit, if non-nil, is called exactly once when the child is later
// observed to have exited on its own (not via Stop) — the caller should
// wire this to Registry.UnregisterWorker.
func Spawn(ctx context.Context, cfg Config, logger *zap.Logger, onExit func(workerID string)) (*Worker, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("supervisor").With(zap.String("worker_id", cfg.WorkerID))

	readR, readW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: create readiness pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", EnvSocketPath, cfg.SocketPath),
		// The readiness write-end is inherited as the first of ExtraFiles,
		// which os/exec places at fd 3 in the child (0,1,2 are stdio).
		fmt.Sprintf("%s=%d", EnvReadyFD, 3),
	)
	if cfg.WorkerID != "" {
		// Hand the id to the child (read by cmd/devworker's config) so the
		// id it registers under is the one the exit backstop unregisters.
		cmd.Env = append(cmd.Env, "ANYSERVE_WORKER_ID="+cfg.WorkerID)
	}
	cmd.ExtraFiles = []*os.File{readW}

	w := &Worker{
		cfg:    cfg,
		cmd:    cmd,
		logger: logger,
		state:  StateSpawning,
		onExit: onExit,
		exited: make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		_ = readR.Close()
		_ = readW.Close()
		w.setState(StateDead)
		return nil, fmt.Errorf("supervisor: spawn worker: %w", err)
	}

	// The parent's copy of the child-only write end must be closed
	// immediately after spawn, or readR.Read below would block forever
	// waiting for every writer (including our own dangling fd) to close.
	if err := readW.Close(); err != nil {
		logger.Warn("failed to close parent's readiness pipe write end", zap.Error(err))
	}

	go w.monitorExit()

	if err := w.waitForReady(readR, cfg.ReadyTimeout); err != nil {
		_ = w.Stop(context.Background())
		return nil, err
	}

	// Only Spawning -> Ready: if monitorExit has already seen the child die,
	// the Worker stays Dead.
	w.mu.Lock()
	if w.state == StateSpawning {
		w.state = StateReady
	}
	w.mu.Unlock()
	logger.Info("worker ready", zap.String("socket_path", cfg.SocketPath))
	return w, nil
}

// waitForReady blocks on a single byte read from the pipe's read end, with
// a hard timeout — avoids a thundering-herd of socket connection attempts
// during Worker warm-up (§9).
func (w *Worker) waitForReady(r *os.File, timeout time.Duration) error {
	defer r.Close()

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, 1)
		n, err := r.Read(buf)
		done <- result{n, err}
	}()

	select {
	case res := <-done:
		if res.err != nil && res.err != io.EOF {
			w.setState(StateDead)
			return fmt.Errorf("supervisor: read readiness byte: %w", res.err)
		}
		if res.n == 0 {
			w.setState(StateDead)
			return fmt.Errorf("supervisor: readiness pipe closed without a signal byte")
		}
		return nil
	case <-time.After(timeout):
		w.setState(StateDead)
		return ErrReadyTimeout
	}
}

// monitorExit waits for the child to exit and records the transition to
// Dead. If the exit was not caused by our own Stop (i.e. the Worker died
// on its own), onExit is invoked as the supervisor-side registry cleanup
// backstop described in §4.7.
func (w *Worker) monitorExit() {
	err := w.cmd.Wait()
	close(w.exited)

	w.mu.Lock()
	wasStopping := w.state == StateDead // Stop already marked it Dead
	w.state = StateDead
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("worker process exited", zap.Error(err))
	} else {
		w.logger.Info("worker process exited")
	}

	if !wasStopping && w.onExit != nil {
		w.onExit(w.cfg.WorkerID)
	}
}

// Stop sends SIGTERM, waits up to StopTimeout for exit, and escalates to
// SIGKILL on timeout. Safe to call more than once; subsequent calls are a
// no-op once the process has exited.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateDead && w.cmd.Process == nil {
		w.mu.Unlock()
		return nil
	}
	w.state = StateDead
	w.mu.Unlock()

	if w.cmd.Process == nil {
		return nil
	}

	if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		w.logger.Warn("failed to send SIGTERM", zap.Error(err))
	}

	select {
	case <-w.exited:
		return nil
	case <-time.After(w.cfg.StopTimeout):
		w.logger.Warn("worker did not exit gracefully, sending SIGKILL")
		if err := w.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("supervisor: kill worker: %w", err)
		}
		<-w.exited
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsAlive is a non-blocking check of the child's observed status.
func (w *Worker) IsAlive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state != StateDead
}

// State returns the Worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// UnregisterOnExit is a convenience adapter turning a *registry.Registry
// into the onExit callback Spawn expects, matching §4.7's requirement
// that the supervisor invoke Registry.unregister_worker as the backstop
// when a Worker exits without deregistering itself first.
func UnregisterOnExit(reg *registry.Registry, logger *zap.Logger) func(workerID string) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(workerID string) {
		n := reg.UnregisterWorker(workerID)
		logger.Info("supervisor backstop unregister",
			zap.String("worker_id", workerID),
			zap.Int("models_removed", n),
		)
	}
}

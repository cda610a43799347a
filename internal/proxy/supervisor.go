// Package proxy implements the HTTP↔JSON-RPC bridge: it spawns the tool
// server as a child process, multiplexes concurrent HTTP requests onto the
// child's single stdin/stdout pipe pair, and exposes an HTTP surface to
// browser clients.
package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishaddevendra/pdf-qa-core/internal/apperr"
	"github.com/nishaddevendra/pdf-qa-core/internal/logger"
)

// ChildState mirrors the tool server's externally-observable lifecycle,
// reported on the proxy's health endpoint.
type ChildState string

const (
	ChildStarting    ChildState = "starting"
	ChildReady       ChildState = "ready"
	ChildServing     ChildState = "serving"
	ChildDegraded    ChildState = "degraded"
	ChildUnavailable ChildState = "unavailable"
)

type waiter chan rpcResponse

type rpcResponse struct {
	Result json.RawMessage
	Error  *rpcError
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type wireResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

// Supervisor owns the tool-server child process exclusively: its handle,
// the stdin writer, and the stdout reader. Shutdown closes stdin first, then
// gives the child a bounded grace period to exit before killing it.
type Supervisor struct {
	command string
	args    []string

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	writeMu  sync.Mutex

	waitersMu sync.Mutex
	waiters   map[string]waiter

	nextID int64

	state      atomic.Value // ChildState
	restarts   int
	restartAt  []time.Time
	maxRestart int
	window     time.Duration
	permFailed atomic.Bool

	inflight   atomic.Int64
	maxInflight int64

	callTimeout time.Duration
}

func NewSupervisor(command string, args []string, maxRestart int, window time.Duration, maxInflight int64, callTimeout time.Duration) *Supervisor {
	s := &Supervisor{
		command:     command,
		args:        args,
		waiters:     make(map[string]waiter),
		maxRestart:  maxRestart,
		window:      window,
		maxInflight: maxInflight,
		callTimeout: callTimeout,
	}
	s.state.Store(ChildStarting)
	return s
}

func (s *Supervisor) State() ChildState {
	if s.permFailed.Load() {
		return ChildUnavailable
	}
	return s.state.Load().(ChildState)
}

func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Start spawns the child and marks it ready as soon as the process has
// started. It does not wait for a readiness line from the child, and ctx and
// readyTimeout are not used; the child's own stderr carries its internal
// state transitions for operators.
func (s *Supervisor) Start(ctx context.Context, readyTimeout time.Duration) error {
	if err := s.spawn(); err != nil {
		return err
	}
	s.state.Store(ChildReady)
	return nil
}

func (s *Supervisor) spawn() error {
	cmd := exec.Command(s.command, s.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	cmd.Stderr = logWriter{}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting tool server: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.mu.Unlock()

	go s.readLoop(stdout)
	go s.watchExit(cmd)

	return nil
}

// logWriter forwards the child's stderr (its structured logs) into our
// own logger rather than letting it print bare to the proxy's own stderr.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	logger.Info("tool-server", "line", string(p))
	return len(p), nil
}

func (s *Supervisor) watchExit(cmd *exec.Cmd) {
	err := cmd.Wait()
	logger.Warn("tool server child exited", "error", err)
	s.failAllWaiters(apperr.New(apperr.BackendUnavailable, "tool server child process exited"))
	s.attemptRestart()
}

func (s *Supervisor) attemptRestart() {
	s.mu.Lock()
	now := time.Now()
	cutoff := now.Add(-s.window)
	var kept []time.Time
	for _, t := range s.restartAt {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restartAt = kept

	if len(s.restartAt) >= s.maxRestart {
		s.mu.Unlock()
		s.permFailed.Store(true)
		logger.Error("tool server restart budget exhausted; entering permanent failure state")
		return
	}
	s.restartAt = append(s.restartAt, now)
	s.restarts++
	s.mu.Unlock()

	s.state.Store(ChildStarting)
	if err := s.spawn(); err != nil {
		logger.Error("tool server restart failed", "error", err)
		s.permFailed.Store(true)
		return
	}
	s.state.Store(ChildReady)
	logger.Info("tool server restarted")
}

func (s *Supervisor) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var resp wireResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			logger.Warn("discarding malformed line from tool server", "error", err)
			continue
		}
		id := string(resp.ID)

		s.waitersMu.Lock()
		w, ok := s.waiters[id]
		if ok {
			delete(s.waiters, id)
		}
		s.waitersMu.Unlock()

		if !ok {
			logger.Debug("response for unknown or timed-out request discarded", "id", id)
			continue
		}
		w <- rpcResponse{Result: resp.Result, Error: resp.Error}
	}
}

func (s *Supervisor) failAllWaiters(appErr *apperr.Error) {
	s.waitersMu.Lock()
	defer s.waitersMu.Unlock()
	data, _ := json.Marshal(appErr)
	for id, w := range s.waiters {
		w <- rpcResponse{Error: &rpcError{Code: -32000, Message: appErr.Error(), Data: data}}
		delete(s.waiters, id)
	}
}

// CallTool issues a tools/call over the child's stdin and waits for the
// matching response (or the supervisor's configured timeout).
func (s *Supervisor) CallTool(ctx context.Context, name string, arguments any) (json.RawMessage, error) {
	if s.permFailed.Load() {
		return nil, apperr.New(apperr.BackendUnavailable, "tool server restart budget exhausted")
	}
	if s.inflight.Add(1) > s.maxInflight {
		s.inflight.Add(-1)
		return nil, apperr.New(apperr.IndexUnavailable, "too many in-flight tool calls")
	}
	defer s.inflight.Add(-1)

	id := fmt.Sprintf("%d", atomic.AddInt64(&s.nextID, 1))
	argBytes, err := json.Marshal(arguments)
	if err != nil {
		return nil, apperr.Newf(apperr.BadInput, "marshaling arguments: %v", err)
	}

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": json.RawMessage(argBytes),
		},
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.Newf(apperr.Internal, "marshaling request: %v", err)
	}
	line = append(line, '\n')

	w := make(waiter, 1)
	s.waitersMu.Lock()
	s.waiters[idKey(id)] = w
	s.waitersMu.Unlock()

	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return nil, apperr.New(apperr.BackendUnavailable, "tool server is not running")
	}

	s.writeMu.Lock()
	_, writeErr := stdin.Write(line)
	s.writeMu.Unlock()
	if writeErr != nil {
		s.waitersMu.Lock()
		delete(s.waiters, idKey(id))
		s.waitersMu.Unlock()
		return nil, apperr.Newf(apperr.BackendUnavailable, "writing to tool server: %v", writeErr)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if s.callTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	select {
	case resp := <-w:
		if resp.Error != nil {
			return nil, wireErrToAppErr(resp.Error)
		}
		return resp.Result, nil
	case <-callCtx.Done():
		s.waitersMu.Lock()
		delete(s.waiters, idKey(id))
		s.waitersMu.Unlock()
		return nil, apperr.New(apperr.ModelTimeout, "timed out waiting for tool server response")
	}
}

// idKey mirrors how the JSON-RPC id round-trips as a quoted string once
// marshaled into the request and echoed back unmodified.
func idKey(id string) string {
	data, _ := json.Marshal(id)
	return string(data)
}

func wireErrToAppErr(e *rpcError) error {
	if len(e.Data) > 0 {
		var ae apperr.Error
		if err := json.Unmarshal(e.Data, &ae); err == nil && ae.Kind != "" {
			return &ae
		}
	}
	switch e.Code {
	case -32601:
		return apperr.New(apperr.BadInput, e.Message)
	case -32602:
		return apperr.New(apperr.BadInput, e.Message)
	default:
		return apperr.New(apperr.Internal, e.Message)
	}
}

// Shutdown closes stdin (signaling EOF to the child) and waits up to grace
// for watchExit's cmd.Wait to observe it exit, killing it if it overruns —
// releasing stdin, the reader, and the process handle in that order.
func (s *Supervisor) Shutdown(grace time.Duration) {
	s.mu.Lock()
	stdin := s.stdin
	cmd := s.cmd
	s.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return
	}

	deadline := time.After(grace)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			_ = cmd.Process.Kill()
			return
		case <-ticker.C:
			if cmd.ProcessState != nil {
				return
			}
		}
	}
}

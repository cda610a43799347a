package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nishaddevendra/pdf-qa-core/internal/apperr"
	"github.com/nishaddevendra/pdf-qa-core/internal/logger"
)

type serverState string

const (
	stateStarting     serverState = "starting"
	stateReady        serverState = "ready"
	stateServing      serverState = "serving"
	stateShuttingDown serverState = "shutting_down"
	stateExited       serverState = "exited"
)

// Handler processes one tool call's arguments and returns a JSON-able
// result or a structured *apperr.Error.
type Handler func(ctx context.Context, args json.RawMessage) (any, *apperr.Error)

// Server runs the stdin/stdout JSON-RPC loop. Writes to stdout are
// serialized through writeMu so each response is a single atomic line,
// satisfying the response-framing invariant even under concurrent
// handlers.
type Server struct {
	in      io.Reader
	out     io.Writer
	writeMu sync.Mutex

	catalogue map[string]ToolDef
	info      ServerInfo
	wg        sync.WaitGroup

	stateMu sync.Mutex
	state   serverState

	shutdownGrace time.Duration
}

func New(in io.Reader, out io.Writer, catalogue map[string]ToolDef, info ServerInfo, shutdownGrace time.Duration) *Server {
	return &Server{
		in:            in,
		out:           out,
		catalogue:     catalogue,
		info:          info,
		state:         stateStarting,
		shutdownGrace: shutdownGrace,
	}
}

// Run processes requests until stdin is closed or the process is signaled.
func (s *Server) Run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.setState(stateReady)
	logger.Info("tool server ready")

	lines := make(chan []byte)
	go s.readLines(lines)

	firstRequest := true
	for {
		select {
		case <-ctx.Done():
			logger.Info("tool server received shutdown signal")
			s.drain()
			return 0
		case line, ok := <-lines:
			if !ok {
				logger.Info("tool server observed stdin EOF")
				s.drain()
				return 0
			}
			if firstRequest {
				s.setState(stateServing)
				logger.Info("tool server transitioned to serving")
				firstRequest = false
			}
			s.wg.Add(1)
			go func(line []byte) {
				defer s.wg.Done()
				s.handleLine(ctx, line)
			}(line)
		}
	}
}

func (s *Server) readLines(out chan<- []byte) {
	defer close(out)
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		out <- line
	}
}

func (s *Server) drain() {
	s.setState(stateShuttingDown)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.shutdownGrace):
		logger.Warn("tool server shutdown grace period elapsed; abandoning in-flight requests")
	}
	s.setState(stateExited)
}

func (s *Server) setState(st serverState) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.write(newError(nil, CodeInvalidParams, "malformed JSON-RPC request", err.Error()))
		return
	}

	switch req.Method {
	case "tools/list":
		s.write(newResult(req.ID, s.list()))
	case "tools/call":
		s.write(s.call(ctx, req))
	default:
		s.write(newError(req.ID, CodeUnknownMethod, fmt.Sprintf("unknown method %q", req.Method), nil))
	}
}

func (s *Server) list() ListResult {
	defs := make([]ToolDef, 0, len(s.catalogue))
	for _, d := range s.catalogue {
		defs = append(defs, d)
	}
	return ListResult{Tools: defs, ServerInfo: s.info}
}

func (s *Server) call(ctx context.Context, req Request) Response {
	var params callToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return newError(req.ID, CodeInvalidParams, "invalid tools/call params", err.Error())
	}

	def, ok := s.catalogue[params.Name]
	if !ok {
		return newError(req.ID, CodeUnknownMethod, fmt.Sprintf("unknown tool %q", params.Name), nil)
	}

	if missing := firstMissingRequired(def, params.Arguments); missing != "" {
		return newError(req.ID, CodeInvalidParams, "missing required argument", missing)
	}

	result, appErr := def.Handler(ctx, params.Arguments)
	if appErr != nil {
		return newError(req.ID, CodeToolFailure, appErr.Error(), appErr)
	}
	return newResult(req.ID, result)
}

func firstMissingRequired(def ToolDef, args json.RawMessage) string {
	if len(def.Required) == 0 {
		return ""
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(args, &raw); err != nil {
		return def.Required[0]
	}
	for _, name := range def.Required {
		if _, ok := raw[name]; !ok {
			return name
		}
	}
	return ""
}

func (s *Server) write(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		logger.Error("failed to marshal response", "error", err)
		return
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		logger.Error("failed to write response", "error", err)
	}
}

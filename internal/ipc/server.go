package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"padbridge/internal/logging"
)

// ServiceName is the RPC service the server registers.
const ServiceName = "Bridge"

// Handler processes parsed commands. Calls are made on the executor's
// goroutine, one at a time, in receipt order.
type Handler interface {
	HandleQuery(ctx context.Context, cmd Command)
	HandleCommand(ctx context.Context, cmd Command)
}

// Executor runs fn on the primary's dispatch goroutine and returns once it has run.
type Executor interface {
	Do(ctx context.Context, fn func()) error
}

// ServerOptions tunes a Server.
type ServerOptions struct {
	MaxCommandLength int
}

// Server receives commands over JSON-RPC on a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer listens on path and routes commands through exec to handler.
func NewServer(ctx context.Context, path string, handler Handler, exec Executor, logger *slog.Logger, opts ServerOptions) (*Server, error) {
	if handler == nil || exec == nil {
		return nil, errors.New("ipc server requires handler and executor")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.MaxCommandLength <= 0 {
		opts.MaxCommandLength = DefaultMaxCommandLength
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{
		handler: handler,
		exec:    exec,
		logger:  logger,
		ctx:     serverCtx,
		maxLen:  opts.MaxCommandLength,
	}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "clients may fail to deliver commands"),
					logging.String(logging.FieldErrorHint, "Check runtime directory permissions and restart padbridge"))
				continue
			}
			if !s.track(conn) {
				conn.Close()
				return
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.untrack(c)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns != nil {
		delete(s.conns, conn)
	}
}

// Close stops the server, drops open connections and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
	s.mu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "a stale socket may confuse endpoint resolution"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

// DeliverRequest carries one command payload.
type DeliverRequest struct {
	Payload string `json:"payload"`
}

// DeliverResponse reports whether the payload reached a handler.
type DeliverResponse struct {
	Processed bool `json:"processed"`
}

type service struct {
	handler Handler
	exec    Executor
	logger  *slog.Logger
	ctx     context.Context
	maxLen  int
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

// Deliver parses the payload and runs the matching handler on the executor.
// Malformed payloads are dropped; the caller still receives a nil error.
func (s *service) Deliver(req DeliverRequest, resp *DeliverResponse) error {
	cmd, err := Parse(req.Payload, s.maxLen)
	if err != nil {
		logging.WarnWithContext(s.log(), "dropping malformed command", "ipc_command_dropped",
			logging.Error(err),
			logging.Int("payload_bytes", len(req.Payload)),
			logging.String(logging.FieldImpact, "the command was ignored"),
			logging.String(logging.FieldErrorHint, "Check the command grammar with padbridge command --help"))
		resp.Processed = false
		return nil
	}

	s.log().Debug("command received",
		logging.String(logging.FieldCommand, cmd.Raw),
		logging.String("kind", cmd.Kind.String()))

	err = s.exec.Do(s.ctx, func() {
		if cmd.Kind == KindQuery {
			s.handler.HandleQuery(s.ctx, cmd)
			return
		}
		s.handler.HandleCommand(s.ctx, cmd)
	})
	if err != nil {
		logging.WarnWithContext(s.log(), "command not processed", "ipc_command_unprocessed",
			logging.String(logging.FieldCommand, cmd.Raw),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the command was ignored"),
			logging.String(logging.FieldErrorHint, "The primary may be shutting down; retry once it is running"))
		resp.Processed = false
		return nil
	}
	resp.Processed = true
	return nil
}

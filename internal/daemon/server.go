package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/matheus3301/relay/internal/api"
	"github.com/matheus3301/relay/internal/config"
	"github.com/matheus3301/relay/internal/httpapi"
	"github.com/matheus3301/relay/internal/instance"
)

// Server manages the admin gRPC server on the instance's Unix domain socket.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to the instance's Unix domain socket.
func NewServer(p Params, logger *zap.Logger, admin *api.AdminService) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = instance.SocketPath(p.Instance)
	}

	// Clean stale socket if it exists. The instance lock is already held.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer()
	api.Register(srv, admin)

	return &Server{
		grpcServer: srv,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file. Streams
// still open when ctx ends are cut.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	_ = os.Remove(s.socketPath)
}

// HTTPServer serves the JSON API and the websocket gateway.
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// NewHTTPServer binds the configured address. Binding early makes a busy
// port fail daemon startup instead of a background goroutine.
func NewHTTPServer(cfg *config.Config, a *httpapi.API, logger *zap.Logger) (*HTTPServer, error) {
	listener, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
	}
	return &HTTPServer{
		server: &http.Server{
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (h *HTTPServer) Addr() string { return h.listener.Addr().String() }

// Start serves until Stop. Blocks.
func (h *HTTPServer) Start() error {
	h.logger.Info("HTTP server starting", zap.String("addr", h.Addr()))
	if err := h.server.Serve(h.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down. Hijacked websocket connections are not
// tracked by net/http; the gateway closes them when its context ends.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("HTTP server stopping")
	return h.server.Shutdown(ctx)
}

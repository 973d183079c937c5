package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/agent"
	"github.com/nerrad567/gray-logic-agent/internal/audit"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds in-flight requests during Close.
const gracefulShutdownTimeout = 10 * time.Second

// StatusProvider reports the agent's state. *agent.Agent satisfies it.
type StatusProvider interface {
	Status() agent.Status
}

// HealthChecker is a dependency probed by the health route.
// *database.DB and *influxdb.Client satisfy it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the server's collaborators.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Status   StatusProvider

	// Hub receives agent events. Required; share it with agent.Options.Events.
	Hub *Hub

	// CommandLog backs /commands. Optional.
	CommandLog audit.Repository

	// Checks are reported by /health, keyed by name. Optional.
	Checks map[string]HealthChecker

	Version string
}

// Server is the local HTTP API.
type Server struct {
	cfg        config.APIConfig
	secret     string
	logger     *logging.Logger
	status     StatusProvider
	hub        *Hub
	commandLog audit.Repository
	checks     map[string]HealthChecker
	version    string
	tickets    *ticketStore

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Status == nil {
		return nil, fmt.Errorf("status provider is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("websocket hub is required")
	}

	return &Server{
		cfg:        deps.Config,
		secret:     deps.Security.JWT.Secret,
		logger:     deps.Logger,
		status:     deps.Status,
		hub:        deps.Hub,
		commandLog: deps.CommandLog,
		checks:     deps.Checks,
		version:    deps.Version,
		tickets:    newTicketStore(),
	}, nil
}

// Start binds the listener and serves in the background. A bind failure
// (port in use) is returned directly.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("binding api listener: %w", err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server listening", "address", ln.Addr().String(), "auth", s.secret != "")
	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops the hub and shuts the listener down, waiting up to ten
// seconds for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, stop := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer stop()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trapdoor-sh/trapdoor/internal/gateway"
	"github.com/trapdoor-sh/trapdoor/internal/security"
)

// Server is the HTTP front of the gateway. It is transport glue only:
// every decision that matters happens in the dispatcher and below.
type Server struct {
	host       string
	port       int
	dispatcher *gateway.Dispatcher
	exec       *gateway.ExecGateway
	auth       *security.Authenticator
	store      security.TokenStore
	version    string
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates the API server.
func NewServer(host string, port int, dispatcher *gateway.Dispatcher, exec *gateway.ExecGateway,
	auth *security.Authenticator, store security.TokenStore, version string, logger *slog.Logger) *Server {
	return &Server{
		host:       host,
		port:       port,
		dispatcher: dispatcher,
		exec:       exec,
		auth:       auth,
		store:      store,
		version:    version,
		logger:     logger.With("component", "api"),
	}
}

// Handler builds the route table with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/fs/ls", s.handleList)
	mux.HandleFunc("/fs/read", s.handleRead)
	mux.HandleFunc("/fs/write", s.handleWrite)
	mux.HandleFunc("/fs/mkdir", s.handleMkdir)
	mux.HandleFunc("/fs/rm", s.handleRemove)
	mux.HandleFunc("/exec", s.handleExec)
	mux.HandleFunc("/exec/stream", s.handleExecStream)

	return s.corsMiddleware(s.requestIDMiddleware(s.loggingMiddleware(mux)))
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port)),
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("gateway listening", "host", s.host, "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", w.Header().Get("X-Request-Id"),
			"duration", time.Since(start),
		)
	})
}

// requestIDMiddleware tags every request with a unique ID for correlating
// log lines.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers. The gateway is meant to be reached
// from hosted AI chat frontends, so the origin set is open; the bearer
// token is the actual gate.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the credential from the Authorization header.
// Absent or malformed headers yield "", which the authenticator rejects.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

package rest

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/config"
	"github.com/davidleathers/number-provisioning-gateway/internal/metrics"
	"github.com/davidleathers/number-provisioning-gateway/internal/service/dispatch"
)

// Options wires the server's collaborators. Config, Logger, and Dispatcher
// are required; everything else degrades gracefully when absent.
type Options struct {
	Config     *config.Config
	Logger     *zap.Logger
	Dispatcher dispatch.Service

	// Porting enables GET /api/v1/porting lookups. Nil when the gateway
	// runs without a database.
	Porting PortingReader

	// Metrics instruments the HTTP surface. Nil disables instrumentation.
	Metrics *metrics.Registry

	// PromHTTP serves GET /metrics. Nil removes the endpoint.
	PromHTTP http.Handler

	// WebSocket serves the provider event stream at GET /api/v1/events.
	// Nil removes the endpoint.
	WebSocket http.Handler

	// Readiness checks back GET /readyz.
	Readiness []ReadinessCheck
}

// Server is the HTTP front of the gateway.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	opts    Options
	handler *Handler
	tracer  trace.Tracer
	httpSrv *http.Server
}

// NewServer builds the server and its full route table. It fails fast on a
// bad OpenAPI document rather than serving an unvalidated API.
func NewServer(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	s := &Server{
		cfg:     opts.Config,
		logger:  opts.Logger,
		opts:    opts,
		handler: NewHandler(opts.Dispatcher, opts.Porting, opts.Config.Version, opts.Logger),
		tracer:  otel.Tracer("npg.api"),
	}

	root, err := s.routes()
	if err != nil {
		return nil, err
	}

	s.httpSrv = &http.Server{
		Addr:         opts.Config.Server.Address,
		Handler:      root,
		ReadTimeout:  opts.Config.Server.ReadTimeout,
		WriteTimeout: opts.Config.Server.WriteTimeout,
		IdleTimeout:  opts.Config.Server.IdleTimeout,
		ErrorLog:     zap.NewStdLog(opts.Logger.Named("http")),
	}
	return s, nil
}

// Handler exposes the fully wired route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start serves until ctx is cancelled, then drains connections within the
// configured shutdown budget.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("address", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("http server draining", zap.Duration("budget", s.cfg.Server.ShutdownTimeout))
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

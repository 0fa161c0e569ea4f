package rest

import (
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidleathers/number-provisioning-gateway/api"
)

// routes builds the full route table. The /api/v1 surface gets the timeout,
// auth, and contract treatment; operational endpoints stay lean so probes
// and scrapes never queue behind carrier traffic.
func (s *Server) routes() (http.Handler, error) {
	v1 := http.NewServeMux()
	s.handle(v1, "POST /api/v1/numbers/search", s.handler.SearchNumbers)
	s.handle(v1, "POST /api/v1/numbers/reserve", s.handler.ReserveNumber)
	s.handle(v1, "POST /api/v1/numbers/purchase", s.handler.PurchaseNumber)
	s.handle(v1, "GET /api/v1/numbers/availability", s.handler.CheckAvailability)
	s.handle(v1, "POST /api/v1/porting", s.handler.PortNumber)
	s.handle(v1, "GET /api/v1/porting", s.handler.ListPorting)
	s.handle(v1, "GET /api/v1/porting/{porting_id}", s.handler.GetPorting)
	s.handle(v1, "GET /api/v1/providers/health", s.handler.ProviderHealth)
	s.handle(v1, "GET /api/v1/providers/metrics", s.handler.ProviderMetrics)
	s.handle(v1, "GET /api/v1/providers/breakers", s.handler.BreakerStates)
	s.handle(v1, "POST /api/v1/providers/{provider_id}/breaker/open", s.handler.ForceBreakerOpen)
	s.handle(v1, "POST /api/v1/providers/{provider_id}/breaker/close", s.handler.ForceBreakerClose)
	s.handle(v1, "POST /api/v1/providers/{provider_id}/breaker/reset", s.handler.ResetBreaker)
	s.handle(v1, "DELETE /api/v1/providers/{provider_id}/reservations/{reservation_id}", s.handler.ReleaseReservation)

	validator, err := newContractValidator(api.OpenAPISpec, s.logger)
	if err != nil {
		return nil, err
	}
	apiHandler := chain(v1,
		timeoutMiddleware(s.cfg.Server.RequestTimeout),
		authMiddleware(s.cfg.Security, s.logger),
		validator.middleware(),
	)

	root := http.NewServeMux()
	root.Handle("/api/v1/", apiHandler)
	if s.opts.WebSocket != nil {
		// The event stream skips the timeout and contract chain; upgraded
		// connections outlive any request budget.
		root.Handle("GET /api/v1/events", s.opts.WebSocket)
	}
	root.HandleFunc("GET /healthz", s.handler.Liveness)
	root.Handle("GET /readyz", s.handler.Readiness(s.opts.Readiness))
	if s.opts.PromHTTP != nil {
		root.Handle("GET /metrics", s.opts.PromHTTP)
	}
	root.HandleFunc("GET /docs/openapi.yaml", serveOpenAPISpec)

	return chain(root,
		requestIDMiddleware(),
		loggingMiddleware(s.logger),
		recoveryMiddleware(s.logger),
		rateLimitMiddleware(s.cfg.Security.RateLimit, s.logger),
	), nil
}

// handle registers a route with per-route instrumentation so the route
// label on request metrics stays bounded.
func (s *Server) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	route := pattern
	if i := strings.IndexByte(route, ' '); i >= 0 {
		route = route[i+1:]
	}
	mux.Handle(pattern, s.instrument(route, fn))
}

// instrument wraps a handler with a server span and request metrics. The
// span name uses the registered route, not the raw path, so trace and
// metric cardinality stay bounded.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw, wrapped := w.(*responseWriter)
		if !wrapped {
			rw = &responseWriter{ResponseWriter: w}
			w = rw
		}

		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))

		status := rw.statusCode()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		if s.opts.Metrics != nil {
			s.opts.Metrics.RecordAPIRequest(ctx, r.Method, route, status, time.Since(start))
		}
	})
}

func serveOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(api.OpenAPISpec)
}

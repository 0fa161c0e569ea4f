package rest

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/errors"
	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/config"
	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/telemetry"
)

// middleware wraps a handler with one cross-cutting concern.
type middleware func(http.Handler) http.Handler

// chain applies middlewares so the first listed runs outermost.
func chain(h http.Handler, mws ...middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// requestIDHeader is honored from callers and echoed on every response.
const requestIDHeader = "X-Request-ID"

// requestIDMiddleware assigns every request an id for log and envelope
// correlation, reusing the caller's when present.
func requestIDMiddleware() middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.New().String()
			}
			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
		})
	}
}

// responseWriter records the status and size of the response while keeping
// Hijacker and Flusher reachable for websocket upgrades and streaming.
type responseWriter struct {
	http.ResponseWriter
	status   int
	written  bool
	hijacked bool
	bytes    int
}

func (w *responseWriter) WriteHeader(code int) {
	if w.written {
		return
	}
	w.status = code
	w.written = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		w.hijacked = true
	}
	return conn, rw, err
}

// statusCode returns the effective status for logging and metrics. Hijacked
// connections write their status line directly, so report the upgrade.
func (w *responseWriter) statusCode() int {
	if w.hijacked {
		return http.StatusSwitchingProtocols
	}
	if !w.written {
		return http.StatusOK
	}
	return w.status
}

// loggingMiddleware emits one structured line per request, annotated with
// trace ids when a span is active.
func loggingMiddleware(logger *zap.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w}
			next.ServeHTTP(rw, r)

			status := rw.statusCode()
			fields := []zap.Field{
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", rw.bytes),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", clientIP(r)),
			}
			fields = append(fields, telemetry.TraceFields(r.Context())...)

			switch {
			case status >= http.StatusInternalServerError:
				logger.Error("request", fields...)
			case status >= http.StatusBadRequest:
				logger.Warn("request", fields...)
			default:
				logger.Info("request", fields...)
			}
		})
	}
}

// recoveryMiddleware converts handler panics into a 500 envelope.
// http.ErrAbortHandler is re-raised so the server can abort the connection
// the way net/http expects.
func recoveryMiddleware(logger *zap.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && stderrors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				logger.Error("handler panic",
					zap.String("request_id", RequestID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)

				if rw, ok := w.(*responseWriter); ok && rw.written {
					return
				}
				status, body := mapError(errors.NewInternalError("internal server error"))
				writeEnvelope(w, status, ResponseEnvelope{Success: false, Error: body, Meta: newMeta(r)})
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// timeoutMiddleware bounds handler execution through the request context.
// Adapter calls inherit the deadline, so a slow carrier cannot hold a
// request past the budget.
func timeoutMiddleware(d time.Duration) middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// clientRateLimiter applies a token bucket per client address. Buckets live
// for the life of the process; the caller population is a handful of
// internal services, so eviction has not been needed.
type clientRateLimiter struct {
	mu      sync.RWMutex
	clients map[string]*rate.Limiter
	rps     rate.Limit
	burst   int
}

func newClientRateLimiter(cfg config.RateLimitConfig) *clientRateLimiter {
	return &clientRateLimiter{
		clients: make(map[string]*rate.Limiter),
		rps:     rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.BurstSize,
	}
}

func (l *clientRateLimiter) limiter(client string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.clients[client]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.clients[client]; ok {
		return lim
	}
	lim = rate.NewLimiter(l.rps, l.burst)
	l.clients[client] = lim
	return lim
}

// rateLimitMiddleware rejects clients that exceed the configured request
// rate. A non-positive rate disables limiting.
func rateLimitMiddleware(cfg config.RateLimitConfig, logger *zap.Logger) middleware {
	limiter := newClientRateLimiter(cfg)
	return func(next http.Handler) http.Handler {
		if cfg.RequestsPerSecond <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r)
			if !limiter.limiter(client).Allow() {
				writeError(w, r, logger, errors.NewRateLimitError("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the originating address, honoring proxy headers.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

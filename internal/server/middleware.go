package server

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"

	"github.com/charmbracelet/log"
	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/unrolled/secure"

	todohandlers "github.com/Paul-frank/bluegreen-todo-api/internal/handlers"
	"github.com/Paul-frank/bluegreen-todo-api/internal/logging"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// chain applies mws so that the first one is the outermost.
func chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// recovery turns a panic into a 500 envelope. http.ErrAbortHandler is
// re-raised so net/http can drop the connection.
func recovery(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic serving request",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", w.Header().Get(RequestIDHeader),
					"stack", string(debug.Stack()),
				)
				todohandlers.SendErrorResponse(w, http.StatusInternalServerError, "Internal server error", nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLog assigns a request id and writes one access log line per request.
func requestLog(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			r = r.WithContext(logging.WithRequestID(r.Context(), id))

			m := httpsnoop.CaptureMetrics(next, w, r)

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", m.Code,
				"bytes", m.Written,
				"duration", m.Duration,
				"ip", r.RemoteAddr,
				"request_id", id,
			)
		})
	}
}

// securityHeaders sets the standard hardening headers.
func securityHeaders() Middleware {
	sec := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'self'",
		STSSeconds:            15552000,
		STSIncludeSubdomains:  true,
	})
	return sec.Handler
}

// cors allows any origin to call the API.
func cors() Middleware {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
		}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", RequestIDHeader}),
		handlers.ExposedHeaders([]string{
			RequestIDHeader, "RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset", "Retry-After",
		}),
	)
}

// bodyLimit caps request bodies at n bytes.
func bodyLimit(n int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type socketAddrKey struct{}

// proxyHeaders applies the forwarded client address and scheme. A forwarded
// address that is not an IP is dropped in favour of the socket address, so
// such clients keep their own rate limit bucket.
func proxyHeaders(next http.Handler) http.Handler {
	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isIP(r.RemoteAddr) {
			if addr, ok := r.Context().Value(socketAddrKey{}).(string); ok {
				r.RemoteAddr = addr
			}
		}
		next.ServeHTTP(w, r)
	})
	forwarded := handlers.ProxyHeaders(fallback)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), socketAddrKey{}, r.RemoteAddr)
		forwarded.ServeHTTP(w, r.WithContext(ctx))
	})
}

// isIP accepts "ip" and "ip:port", the forms the rate limiter can key on.
func isIP(addr string) bool {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return net.ParseIP(addr) != nil
}

package gateway

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/compass/internal/logging"
)

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// requestIDFrom returns the id assigned by the request-id middleware.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withMiddleware wraps the gateway mux. Request ids are assigned first so
// the access log and CORS rejections can both refer to them.
func withMiddleware(handler http.Handler, log *logging.Logger, corsOrigins []string) http.Handler {
	h := corsMiddleware(handler, corsOrigins)
	h = loggingMiddleware(h, log)
	return requestIDMiddleware(h)
}

func loggingMiddleware(next http.Handler, log *logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		ev := log.Debug()
		if sw.status >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Int("bytes", sw.bytes).
			Bool("upgraded", sw.hijacked).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Str("requestId", requestIDFrom(r.Context())).
			Msg("http request")
	})
}

// requestIDMiddleware keeps a caller's id when it looks like one and mints a
// uuid otherwise, so log lines cannot be forged through the header.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// corsMiddleware lets a browser UI served from an allowed origin call the
// HTTP endpoints. Preflights are answered here.
func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Add("Vary", "Origin")
			if isOriginAllowed(origin, allowedOrigins) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+requestIDHeader)
				h.Set("Access-Control-Expose-Headers", requestIDHeader)
				h.Set("Access-Control-Max-Age", "600")
			}
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isOriginAllowed reports whether origin is listed; an empty list allows no
// cross-origin callers.
func isOriginAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// statusWriter records the status and body size. It passes Hijack through
// so the WebSocket upgrade works behind the middleware.
type statusWriter struct {
	http.ResponseWriter
	status   int
	bytes    int
	hijacked bool
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		w.hijacked = true
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

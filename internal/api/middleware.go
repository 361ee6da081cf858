package api

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/opsdesk/opsdesk/internal/errors"
	"github.com/opsdesk/opsdesk/internal/log"
	"github.com/opsdesk/opsdesk/internal/metrics"
)

type ctxKey string

const requestIDKey ctxKey = "reqid"

// CSRFCookieName is the cookie carrying the anti-forgery token; the
// same value must be echoed back in the CSRFHeaderName header on
// state-changing requests.
const (
	CSRFCookieName = "opsdesk_csrf"
	CSRFHeaderName = "X-CSRF-Token"
)

// RequestID attaches a request id to the context and response, reusing
// the client's X-Request-Id when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request id from the request context.
func GetRequestID(r *http.Request) string {
	if s, ok := r.Context().Value(requestIDKey).(string); ok {
		return s
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Recoverer converts handler panics into structured 500 responses.
func Recoverer(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in handler",
						"panic", rec,
						"reqid", GetRequestID(r),
						"method", r.Method,
						"uri", r.RequestURI,
						"stack", string(debug.Stack()),
					)
					writeErrorBody(w, http.StatusInternalServerError, errorBody{
						Code:    "INTERNAL",
						Message: "unexpected server error",
						ReqID:   GetRequestID(r),
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request with status, size, and
// duration, and records HTTP metrics when configured.
func RequestLogger(logger *log.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(sw, r)
			d := time.Since(start)

			path := r.URL.Path
			if route := routeTemplate(r); route != "" {
				path = route
			}

			logger.Info("http request",
				"reqid", GetRequestID(r),
				"method", r.Method,
				"path", path,
				"status", sw.status,
				"bytes", sw.bytes,
				"duration", d.String(),
				"remote", r.RemoteAddr,
			)
			if m != nil {
				m.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
				m.HTTPDuration.WithLabelValues(r.Method, path).Observe(d.Seconds())
			}
		})
	}
}

// EnsureCSRFCookie issues the anti-forgery cookie when the client does
// not carry one yet.
func EnsureCSRFCookie(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie(CSRFCookieName); err != nil {
			http.SetCookie(w, &http.Cookie{
				Name:     CSRFCookieName,
				Value:    uuid.NewString(),
				Path:     "/",
				HttpOnly: false, // the client script must read it to echo the header
				SameSite: http.SameSiteStrictMode,
			})
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCSRF enforces the double-token check on state-changing
// requests: the CSRF header must match the CSRF cookie.
func RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(CSRFCookieName)
		header := r.Header.Get(CSRFHeaderName)
		if err != nil || header == "" ||
			subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
			WriteError(w, r, errors.New(errors.ErrCodeCSRFRejected, "missing or mismatched anti-forgery token").
				WithSuggestion("Reload the page to obtain a fresh token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ipLimiter keeps a token-bucket limiter per client IP.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIPLimiter(perMinute float64, burst int) *ipLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 5
	}
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perMinute / 60.0),
		burst:    burst,
	}
}

func (l *ipLimiter) allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// RateLimit throttles requests per client IP.
func RateLimit(limiter *ipLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(r.RemoteAddr) {
				w.Header().Set("Retry-After", "60")
				WriteError(w, r, errors.NewRateLimitedError("60s"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

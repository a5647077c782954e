// Package api provides the HTTP API handlers for ratd, mounted under
// /api/v1 (spec.md §6).
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// maxJSONBodySize is the maximum size for JSON request bodies (1MB).
const maxJSONBodySize = 1 << 20

// validNameRe matches lowercase slug resource names.
var validNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

func validName(s string) bool {
	return len(s) <= 128 && validNameRe.MatchString(s)
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// parsePagination reads limit and offset from query params with defaults and bounds.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// paginate applies in-memory offset/limit to a slice.
func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// Structured error type codes for machine-readable error categorization.
const (
	ErrorTypeValidation  = "VALIDATION"
	ErrorTypeNotFound    = "NOT_FOUND"
	ErrorTypeConflict    = "CONFLICT"
	ErrorTypeRateLimit   = "RATE_LIMIT"
	ErrorTypeInternal    = "INTERNAL"
	ErrorTypeUnavailable = "UNAVAILABLE"
)

// APIError is the structured JSON error envelope returned by all API error responses.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

type APIErrorDetail struct {
	Code    string `json:"code"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

func errorTypeFromStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return ErrorTypeValidation
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status == http.StatusConflict:
		return ErrorTypeConflict
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusServiceUnavailable:
		return ErrorTypeUnavailable
	case status >= 500:
		return ErrorTypeInternal
	default:
		return ""
	}
}

// errorJSON writes a structured JSON error response.
func errorJSON(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{
		Error: APIErrorDetail{Code: code, Type: errorTypeFromStatus(status), Message: message},
	}); err != nil {
		slog.Error("failed to encode JSON error response", "error", err)
	}
}

// internalError logs the full error server-side and returns a generic JSON error to clients.
func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	errorJSON(w, msg, "INTERNAL", http.StatusInternalServerError)
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// limitJSONBody caps request body size for non-multipart requests.
func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if r.Body != nil && !strings.HasPrefix(ct, "multipart/") {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// nameParams is the set of URL path parameter names that must pass validName().
var nameParams = map[string]bool{
	"name": true,
}

// ValidatePathParams is middleware that validates URL path parameters.
func ValidatePathParams(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx := chi.RouteContext(r.Context())
		if rctx != nil {
			for i, key := range rctx.URLParams.Keys {
				val := rctx.URLParams.Values[i]
				if val == "" {
					continue
				}
				if nameParams[key] && !validName(val) {
					errorJSON(w, key+" must be a lowercase slug (a-z, 0-9, hyphens, underscores; must start with a letter)", "INVALID_ARGUMENT", http.StatusBadRequest)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds standard HTTP security headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}

// Server holds dependencies for all API handlers (spec.md §6).
type Server struct {
	Pipelines PipelineService
	LogBus    LogBus

	CORSOrigins     []string
	RateLimit       *RateLimitConfig
	RateLimiterStop func()
	SSELimiter      *SSELimiter

	DBHealth HealthChecker // Postgres health check. Nil = skip.
	S3Health HealthChecker // S3/MinIO health check. Nil = skip.
}

// NewRouter creates a configured chi router with all API routes mounted.
func NewRouter(srv *Server) chi.Router {
	if srv.SSELimiter == nil {
		srv.SSELimiter = NewSSELimiter()
	}

	r := chi.NewRouter()

	corsOrigins := srv.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:3000"}
	}

	hasWildcard := false
	for _, o := range corsOrigins {
		if o == "*" {
			hasWildcard = true
			break
		}
	}

	corsOpts := cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "RateLimit-Limit", "RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if hasWildcard {
		slog.Warn("CORS: wildcard origin '*' with AllowCredentials — using dynamic origin reflection")
		corsOpts.AllowOriginFunc = func(_ *http.Request, _ string) bool { return true }
	} else {
		corsOpts.AllowedOrigins = corsOrigins
	}

	r.Use(cors.Handler(corsOpts))
	r.Use(securityHeaders)
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", srv.HandleHealth)
	r.Get("/health/live", srv.HandleHealthLive)
	r.Get("/health/ready", srv.HandleHealthReady)
	r.Get("/metrics", srv.HandleMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limitJSONBody)
		if srv.RateLimit != nil {
			rl, mw := RateLimit(*srv.RateLimit)
			srv.RateLimiterStop = rl.Stop
			r.Use(mw)
		}

		vr := r.With(ValidatePathParams)
		MountPipelineRoutes(vr, srv)
		MountLogStreamRoutes(vr, srv)
	})

	return r
}

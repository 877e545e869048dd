// Package middleware holds the HTTP middleware chain and the shared JSON
// response writers.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Dan9191/bank-ledger/internal/auth"
	"github.com/Dan9191/bank-ledger/internal/models"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// OperatorKeyHeader carries the operator credential.
const OperatorKeyHeader = "X-Operator-Key"

// AuthMiddleware resolves the bearer token to a principal. Requests without
// a valid token never reach the handler.
func AuthMiddleware(gate *auth.Gate) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				WriteError(w, models.ErrUnauthorized)
				return
			}

			p, err := gate.Authenticate(r.Context(), strings.TrimSpace(token))
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// OperatorMiddleware admits only requests carrying the operator key. A
// customer bearer token in place of the key is Forbidden.
func OperatorMiddleware(gate *auth.Gate) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(OperatorKeyHeader)
			if key == "" && r.Header.Get("Authorization") != "" {
				WriteError(w, models.Errorf(models.KindForbidden, "operator credential required"))
				return
			}
			p, err := gate.AuthenticateOperator(key)
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// responseRecorder wraps http.ResponseWriter to capture the status code.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	// Default to 200 OK if WriteHeader is not called.
	return &responseRecorder{w, http.StatusOK}
}

func (rr *responseRecorder) WriteHeader(statusCode int) {
	rr.statusCode = statusCode
	rr.ResponseWriter.WriteHeader(statusCode)
}

// LoggingMiddleware logs details about each incoming request.
func LoggingMiddleware(log *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rr := newResponseRecorder(w)

			next.ServeHTTP(rr, r)

			entry := log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rr.statusCode,
				"duration":   time.Since(start).String(),
				"user_agent": r.UserAgent(),
			})
			if rr.statusCode >= http.StatusInternalServerError {
				entry.Warn("Processed request")
				return
			}
			entry.Info("Processed request")
		})
	}
}

// TimeoutMiddleware bounds the context every handler and store call runs in.
func TimeoutMiddleware(timeout time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

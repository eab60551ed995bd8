package fakeapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/nkiryanov/storefront/internal/models"
)

type ctxKey string

const (
	userKey ctxKey = "user"
	jtiKey  ctxKey = "jti"
)

func newContextWithUser(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func userFromContext(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userKey).(models.User)
	return u, ok
}

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

// authMiddleware accepts bearer access tokens issued by the server and not expired with ExpireAccessTokens
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, jti, ok := s.authenticate(r)
		if !ok {
			renderError(w, "Unauthenticated.", http.StatusUnauthorized)
			return
		}
		ctx := newContextWithUser(r.Context(), user)
		ctx = context.WithValue(ctx, jtiKey, jti)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authenticate(r *http.Request) (models.User, string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return models.User{}, "", false
	}

	claims, err := s.issuer.parseAccess(token)
	if err != nil {
		return models.User{}, "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.access[claims.ID] {
		return models.User{}, "", false
	}
	acc, ok := s.accounts[claims.UserID]
	if !ok {
		return models.User{}, "", false
	}

	return acc.user, claims.ID, true
}

type logData struct {
	responseStatus int
	responseSize   int
}

type logWriter struct {
	http.ResponseWriter
	data logData
}

func (w *logWriter) Write(p []byte) (int, error) {
	size, err := w.ResponseWriter.Write(p)
	w.data.responseSize += size
	return size, err
}

func (w *logWriter) WriteHeader(statusCode int) {
	w.ResponseWriter.WriteHeader(statusCode)
	w.data.responseStatus = statusCode
}

func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lw := &logWriter{
			ResponseWriter: w,
			data:           logData{responseStatus: http.StatusOK},
		}

		next.ServeHTTP(lw, r)

		s.logger.Debug(
			"fake api request served",
			"method", r.Method,
			"uri", r.RequestURI,
			"request_id", r.Header.Get("X-Request-Id"),
			"duration", time.Since(start),
			"status", lw.data.responseStatus,
			"size", lw.data.responseSize,
		)
	})
}

// instrument counts calls of the pattern and applies holds and injected faults
func (s *Server) instrument(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[pattern]++
		gate := s.holds[pattern]
		s.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}

		if f, ok := s.popFault(pattern); ok {
			renderError(w, f.message, f.status)
			return
		}

		next.ServeHTTP(w, r)
	})
}

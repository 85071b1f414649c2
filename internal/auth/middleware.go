package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

const clientContextKey contextKey = "auth_client"

// ClientFromContext returns the authenticated client, if any.
func ClientFromContext(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(clientContextKey).(ClientInfo)
	return info, ok
}

// Middleware enforces bearer-key auth and per-client rate limits on the
// wrapped handler.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		info, err := s.Verify(token)
		if err != nil {
			s.logger.Warn("Authentication rejected",
				zap.String("path", r.URL.Path),
				zap.String("reason", err.Error()),
			)
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusUnauthorized)
			return
		}
		if !s.Allow(info.ClientID) {
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		ctx := context.WithValue(r.Context(), clientContextKey, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/clicker-client/internal/sandbox/hub"
	"github.com/DoyleJ11/clicker-client/internal/sandbox/player"
	"github.com/DoyleJ11/clicker-client/pkg/types"
)

type ctxKey int

const (
	userKey ctxKey = iota
	playerKey
)

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", redactPath(r.URL.Path)),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// redactPath hides the token segment of websocket URLs.
func redactPath(p string) string {
	const wsPrefix = "/game/ws/"
	if strings.HasPrefix(p, wsPrefix) && len(p) > len(wsPrefix) {
		return wsPrefix + "***"
	}
	return p
}

func bearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func requireUser(h *hub.Hub) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearer(r)
			if token == "" {
				unauthorized(w, "Not authenticated")
				return
			}
			user, p, err := h.Authenticate(r.Context(), token)
			if err != nil {
				unauthorized(w, authDetail(err))
				return
			}
			ctx := context.WithValue(r.Context(), userKey, user)
			ctx = context.WithValue(ctx, playerKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authDetail(err error) string {
	switch {
	case errors.Is(err, hub.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, hub.ErrBadCredentials):
		return "Incorrect nickname or password"
	default:
		return "Could not validate credentials"
	}
}

func userFrom(ctx context.Context) types.User {
	u, _ := ctx.Value(userKey).(types.User)
	return u
}

func playerFrom(ctx context.Context) *player.Player {
	p, _ := ctx.Value(playerKey).(*player.Player)
	return p
}

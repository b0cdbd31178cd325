package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/clicker-client/internal/sandbox/hub"
)

func SetupRoutes(h *hub.Hub, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Post("/user/register", Register(h))
	r.Post("/user/login", Login(h))
	r.Post("/user/refresh-token", RefreshToken(h))
	r.Get("/game/leaderboard", Leaderboard(h))
	r.Get("/items", Items(h))
	r.Get("/game/ws/{token}", Handler(h, log))

	// Bearer routes
	r.Group(func(r chi.Router) {
		r.Use(requireUser(h))
		r.Get("/user/me", Me)
		r.Get("/game/state", GameState(false))
		r.Get("/game/state/with-items", GameState(true))
		r.Post("/game/click", Click)
		r.Post("/game/buy/{itemID}", BuyItem)
		r.Get("/items/user", UserItems)
	})
	return r
}

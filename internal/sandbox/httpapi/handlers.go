package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/clicker-client/internal/sandbox/engine"
	"github.com/DoyleJ11/clicker-client/internal/sandbox/hub"
	"github.com/DoyleJ11/clicker-client/internal/sandbox/player"
	"github.com/DoyleJ11/clicker-client/pkg/types"
)

const defaultLeaderboardLimit = 10

// fieldError is one entry of a validation failure body.
type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, types.ErrorBody{Detail: detail})
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, detail)
}

func invalid(w http.ResponseWriter, where string, fields ...string) {
	errs := make([]fieldError, 0, len(fields))
	for _, f := range fields {
		errs = append(errs, fieldError{Loc: []string{where, f}, Msg: "field required", Type: "value_error.missing"})
	}
	writeJSON(w, http.StatusUnprocessableEntity, struct {
		Detail []fieldError `json:"detail"`
	}{Detail: errs})
}

func missing(values map[string]string) []string {
	var out []string
	for _, k := range []string{"nickname", "username", "password"} {
		if v, ok := values[k]; ok && strings.TrimSpace(v) == "" {
			out = append(out, k)
		}
	}
	return out
}

func Register(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if m := missing(map[string]string{"nickname": req.Nickname, "password": req.Password}); len(m) > 0 {
			invalid(w, "body", m...)
			return
		}

		user, err := h.Register(r.Context(), strings.TrimSpace(req.Nickname), req.Email, req.Password)
		if errors.Is(err, hub.ErrNicknameTaken) {
			writeError(w, http.StatusBadRequest, "Nickname already registered")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Registration failed")
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

// Login takes an OAuth2 password form: username and password.
func Login(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid form body")
			return
		}
		username, password := r.PostForm.Get("username"), r.PostForm.Get("password")
		if m := missing(map[string]string{"username": username, "password": password}); len(m) > 0 {
			invalid(w, "body", m...)
			return
		}

		tok, err := h.Login(r.Context(), username, password)
		if err != nil {
			unauthorized(w, authDetail(err))
			return
		}
		writeJSON(w, http.StatusOK, tok)
	}
}

// RefreshToken accepts a token that expired within the grace window.
func RefreshToken(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r)
		if token == "" {
			unauthorized(w, "Not authenticated")
			return
		}
		tok, err := h.Refresh(r.Context(), token)
		if err != nil {
			unauthorized(w, authDetail(err))
			return
		}
		writeJSON(w, http.StatusOK, tok)
	}
}

func Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r.Context()))
}

func GameState(withItems bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := playerFrom(r.Context()).View(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "Game unavailable")
			return
		}
		writeJSON(w, http.StatusOK, engine.ToGameState(v.State, withItems))
	}
}

func Click(w http.ResponseWriter, r *http.Request) {
	res, err := playerFrom(r.Context()).Do(r.Context(), engine.Command{Type: engine.CmdClick})
	if err != nil || res.Err != nil {
		writeError(w, http.StatusServiceUnavailable, "Game unavailable")
		return
	}
	writeJSON(w, http.StatusOK, types.ClickResult{
		NewTotal:       res.State.Points,
		LifetimePoints: res.State.LifetimePoints,
		Clicks:         res.State.Clicks,
		PointsEarned:   res.Events[0].Points,
	})
}

func BuyItem(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "itemID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, struct {
			Detail []fieldError `json:"detail"`
		}{Detail: []fieldError{{Loc: []string{"path", "item_id"}, Msg: "value is not a valid integer", Type: "type_error.integer"}}})
		return
	}

	res, err := playerFrom(r.Context()).Do(r.Context(), engine.Command{Type: engine.CmdBuyItem, ItemID: id})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Game unavailable")
		return
	}
	switch {
	case errors.Is(res.Err, engine.ErrUnknownItem):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Item %d not found", id))
		return
	case res.Err != nil:
		writeError(w, http.StatusBadRequest, player.Message(res.Err))
		return
	}
	writeJSON(w, http.StatusOK, types.PurchaseResult{
		Success:            true,
		NewPoints:          res.State.Points,
		NewPointsPerClick:  engine.PointsPerClick(res.State),
		NewPointsPerSecond: engine.PointsPerSecond(res.State),
	})
}

func Leaderboard(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultLeaderboardLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 100 {
				writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
				return
			}
			limit = n
		}
		board, err := h.Leaderboard(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "Leaderboard unavailable")
			return
		}
		writeJSON(w, http.StatusOK, board)
	}
}

// Items lists the catalog at base prices.
func Items(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, engine.Items(engine.NewState(h.Catalog())))
	}
}

func UserItems(w http.ResponseWriter, r *http.Request) {
	v, err := playerFrom(r.Context()).View(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Game unavailable")
		return
	}
	items := engine.OwnedItems(v.State)
	if items == nil {
		items = []types.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

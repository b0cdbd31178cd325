package types

import "time"

// GameState is the full snapshot returned by /game/state and pushed as game_state.
// Items is nil when the payload carries no item list.
type GameState struct {
	Points          int64  `json:"points"`
	LifetimePoints  int64  `json:"lifetime_points"`
	Clicks          int64  `json:"clicks"`
	PointsPerClick  int64  `json:"points_per_click"`
	PointsPerSecond int64  `json:"points_per_second"`
	Items           []Item `json:"items,omitempty"`
}

type Item struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	BaseCost        int64  `json:"base_cost"`
	CurrentCost     int64  `json:"current_cost"`
	Quantity        int64  `json:"quantity"`
	PointsPerClick  int64  `json:"points_per_click"`
	PointsPerSecond int64  `json:"points_per_second"`
}

type LeaderboardEntry struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Score    int64  `json:"score"`
}

type User struct {
	ID        int64     `json:"id"`
	Nickname  string    `json:"nickname"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

type RegisterRequest struct {
	Nickname string `json:"nickname"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// TokenResponse is returned by login and refresh. ExpiresIn is in seconds; zero means unknown.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
}

// ErrorBody is the error shape of every non-2xx REST response.
type ErrorBody struct {
	Detail string `json:"detail"`
}

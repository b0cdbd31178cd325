package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/DoyleJ11/clicker-client/pkg/types"
)

func (c *Client) Register(ctx context.Context, in types.RegisterRequest) (types.User, error) {
	var user types.User
	err := c.do(ctx, request{op: "register", method: http.MethodPost, path: "/user/register", body: in, explicit: true}, &user)
	return user, err
}

// Login exchanges a nickname and password for a token. The endpoint takes an OAuth2 password form.
func (c *Client) Login(ctx context.Context, nickname, password string) (types.TokenResponse, error) {
	form := url.Values{}
	form.Set("username", nickname)
	form.Set("password", password)

	var tok types.TokenResponse
	err := c.do(ctx, request{op: "login", method: http.MethodPost, path: "/user/login", form: form, explicit: true}, &tok)
	return tok, err
}

func (c *Client) CurrentUser(ctx context.Context, token string) (types.User, error) {
	var user types.User
	err := c.do(ctx, request{op: "current user", method: http.MethodGet, path: "/user/me", token: token, explicit: true}, &user)
	return user, err
}

func (c *Client) RefreshToken(ctx context.Context, token string) (types.TokenResponse, error) {
	var tok types.TokenResponse
	err := c.do(ctx, request{op: "refresh token", method: http.MethodPost, path: "/user/refresh-token", token: token, explicit: true}, &tok)
	return tok, err
}

func (c *Client) GameState(ctx context.Context) (types.GameState, error) {
	var st types.GameState
	err := c.do(ctx, request{op: "game state", method: http.MethodGet, path: "/game/state"}, &st)
	return st, err
}

func (c *Client) GameStateWithItems(ctx context.Context) (types.GameState, error) {
	var st types.GameState
	err := c.do(ctx, request{op: "game state", method: http.MethodGet, path: "/game/state/with-items"}, &st)
	return st, err
}

func (c *Client) Click(ctx context.Context) (types.ClickResult, error) {
	var res types.ClickResult
	err := c.do(ctx, request{op: "click", method: http.MethodPost, path: "/game/click"}, &res)
	return res, err
}

func (c *Client) BuyItem(ctx context.Context, itemID int64) (types.PurchaseResult, error) {
	var res types.PurchaseResult
	path := "/game/buy/" + strconv.FormatInt(itemID, 10)
	err := c.do(ctx, request{op: "buy item", method: http.MethodPost, path: path}, &res)
	return res, err
}

// Leaderboard returns the top entries; limit <= 0 uses the server default.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]types.LeaderboardEntry, error) {
	path := "/game/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var entries []types.LeaderboardEntry
	err := c.do(ctx, request{op: "leaderboard", method: http.MethodGet, path: path}, &entries)
	return entries, err
}

func (c *Client) Items(ctx context.Context) ([]types.Item, error) {
	var items []types.Item
	err := c.do(ctx, request{op: "items", method: http.MethodGet, path: "/items"}, &items)
	return items, err
}

// UserItems returns the items the user owns, with quantities.
func (c *Client) UserItems(ctx context.Context) ([]types.Item, error) {
	var items []types.Item
	err := c.do(ctx, request{op: "user items", method: http.MethodGet, path: "/items/user"}, &items)
	return items, err
}

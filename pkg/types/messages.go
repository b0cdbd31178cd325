package types

import "encoding/json"

// Client -> Server
// click: {}
//
// buy_item:
//   item_id: number
//
// get_state: {}
//
// get_items: {}

// Server -> Client
// game_state:         GameState
// click_result:       ClickResult
// purchase_result:    PurchaseResult
// items_list:         Item[]
// leaderboard_update: LeaderboardEntry[] (ordered, rank = position)
// error:              { message: string }

const (
	MsgClick    = "click"
	MsgBuyItem  = "buy_item"
	MsgGetState = "get_state"
	MsgGetItems = "get_items"
)

const (
	EvtGameState         = "game_state"
	EvtClickResult       = "click_result"
	EvtPurchaseResult    = "purchase_result"
	EvtItemsList         = "items_list"
	EvtLeaderboardUpdate = "leaderboard_update"
	EvtError             = "error"
)

// Envelope is every inbound frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ClientMessage struct {
	Type   string `json:"type"`
	ItemID int64  `json:"item_id,omitempty"`
}

type ClickResult struct {
	NewTotal       int64 `json:"new_total"`
	LifetimePoints int64 `json:"lifetime_points"`
	Clicks         int64 `json:"clicks"`
	PointsEarned   int64 `json:"points_earned"`
}

type PurchaseResult struct {
	Success            bool   `json:"success"`
	NewPoints          int64  `json:"new_points"`
	NewPointsPerClick  int64  `json:"new_points_per_click"`
	NewPointsPerSecond int64  `json:"new_points_per_second"`
	Message            string `json:"message,omitempty"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// NewEnvelope marshals data into a typed frame.
func NewEnvelope(typ string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Data: raw}, nil
}

// Application close codes sent by the game server.
const (
	CloseTokenRejected = 4001 // token missing, expired or unknown
	CloseReplaced      = 4002 // a newer connection for the same user took over
)

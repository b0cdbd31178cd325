package game

import (
	"maps"
	"slices"

	"github.com/DoyleJ11/clicker-client/pkg/types"
)

// Snapshot is the client's single copy of the game state.
type Snapshot struct {
	Points          int64
	LifetimePoints  int64
	Clicks          int64
	PointsPerClick  int64
	PointsPerSecond int64

	Items       []types.Item
	UserItems   map[int64]int64 // item ID -> owned quantity, rebuilt from Items
	Leaderboard []types.LeaderboardEntry

	Loading          bool
	Error            string
	Connected        bool
	ConnectionStatus string // OPEN | CONNECTING | CLOSED
}

func NewSnapshot() Snapshot {
	return Snapshot{
		PointsPerClick:   1,
		UserItems:        map[int64]int64{},
		ConnectionStatus: "CLOSED",
	}
}

// Clone returns a snapshot that shares no memory with s.
func (s Snapshot) Clone() Snapshot {
	s.Items = slices.Clone(s.Items)
	s.UserItems = maps.Clone(s.UserItems)
	s.Leaderboard = slices.Clone(s.Leaderboard)
	return s
}

// ApplyGameState overwrites the counters and, when the payload carries items, the item list.
// A zero points-per-click is read as 1.
func ApplyGameState(s Snapshot, gs types.GameState) Snapshot {
	s.Points = gs.Points
	s.LifetimePoints = gs.LifetimePoints
	s.Clicks = gs.Clicks
	s.PointsPerClick = gs.PointsPerClick
	if s.PointsPerClick == 0 {
		s.PointsPerClick = 1
	}
	s.PointsPerSecond = gs.PointsPerSecond
	if gs.Items != nil {
		return ApplyItems(s, gs.Items)
	}
	return s
}

// ApplyClick touches only the counters a click changes.
func ApplyClick(s Snapshot, r types.ClickResult) Snapshot {
	s.Points = r.NewTotal
	s.LifetimePoints = r.LifetimePoints
	s.Clicks = r.Clicks
	return s
}

// ApplyPurchase merges a purchase outcome. Items are not touched: on success the caller
// must re-pull them, which is what repull reports.
func ApplyPurchase(s Snapshot, r types.PurchaseResult) (next Snapshot, repull bool) {
	if !r.Success {
		s.Error = r.Message
		if s.Error == "" {
			s.Error = "Purchase failed"
		}
		return s, false
	}
	s.Points = r.NewPoints
	s.PointsPerClick = r.NewPointsPerClick
	s.PointsPerSecond = r.NewPointsPerSecond
	return s, true
}

func ApplyItems(s Snapshot, items []types.Item) Snapshot {
	s.Items = slices.Clone(items)
	s.UserItems = BuildUserItems(s.Items)
	return s
}

func ApplyLeaderboard(s Snapshot, entries []types.LeaderboardEntry) Snapshot {
	s.Leaderboard = slices.Clone(entries)
	return s
}

// BuildUserItems derives the owned-quantity index from scratch.
func BuildUserItems(items []types.Item) map[int64]int64 {
	idx := make(map[int64]int64, len(items))
	for _, it := range items {
		idx[it.ID] = it.Quantity
	}
	return idx
}

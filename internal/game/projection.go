package game

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/DoyleJ11/clicker-client/pkg/types"
)

// AvailableItems lists the items the player can pay for right now, in list order.
func AvailableItems(s Snapshot) []types.Item {
	var out []types.Item
	for _, it := range s.Items {
		if it.CurrentCost <= s.Points {
			out = append(out, it)
		}
	}
	return out
}

// CanAfford is false for unknown items.
func CanAfford(s Snapshot, itemID int64) bool {
	for _, it := range s.Items {
		if it.ID == itemID {
			return it.CurrentCost <= s.Points
		}
	}
	return false
}

// UserRank is the 1-based leaderboard position of userID.
func UserRank(s Snapshot, userID int64) (int, bool) {
	for i, e := range s.Leaderboard {
		if e.UserID == userID {
			return i + 1, true
		}
	}
	return 0, false
}

// FormatPoints groups digits, e.g. 1234567 -> "1,234,567".
func FormatPoints(n int64) string {
	return FormatPointsIn(language.English, n)
}

// FormatPointsIn formats for a specific locale.
func FormatPointsIn(tag language.Tag, n int64) string {
	return message.NewPrinter(tag).Sprintf("%d", n)
}

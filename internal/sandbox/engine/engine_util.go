package engine

import "github.com/DoyleJ11/clicker-client/pkg/types"

func NewState(catalog Catalog) State {
	if catalog == nil {
		catalog = DefaultCatalog
	}
	return State{
		Owned:   map[int64]int64{},
		Catalog: catalog,
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// Items renders the catalog with the player's quantities and next-unit costs.
func Items(s State) []types.Item {
	items := make([]types.Item, 0, len(s.Catalog))
	for _, def := range s.Catalog {
		owned := s.Owned[def.ID]
		items = append(items, types.Item{
			ID:              def.ID,
			Name:            def.Name,
			Description:     def.Description,
			BaseCost:        def.BaseCost,
			CurrentCost:     Cost(def, owned),
			Quantity:        owned,
			PointsPerClick:  def.PointsPerClick,
			PointsPerSecond: def.PointsPerSecond,
		})
	}
	return items
}

// OwnedItems is Items restricted to what the player holds.
func OwnedItems(s State) []types.Item {
	var owned []types.Item
	for _, it := range Items(s) {
		if it.Quantity > 0 {
			owned = append(owned, it)
		}
	}
	return owned
}

func ToGameState(s State, withItems bool) types.GameState {
	gs := types.GameState{
		Points:          s.Points,
		LifetimePoints:  s.LifetimePoints,
		Clicks:          s.Clicks,
		PointsPerClick:  PointsPerClick(s),
		PointsPerSecond: PointsPerSecond(s),
	}
	if withItems {
		gs.Items = Items(s)
	}
	return gs
}

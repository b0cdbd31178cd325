package engine

// ItemDef is a purchasable upgrade.
type ItemDef struct {
	ID              int64
	Name            string
	Description     string
	BaseCost        int64
	PointsPerClick  int64
	PointsPerSecond int64
}

type Catalog []ItemDef

var DefaultCatalog = Catalog{
	{ID: 1, Name: "Cursor", Description: "Clicks harder", BaseCost: 15, PointsPerClick: 1},
	{ID: 2, Name: "Intern", Description: "Clicks for you", BaseCost: 100, PointsPerSecond: 1},
	{ID: 3, Name: "Mechanical Keyboard", Description: "Louder, faster clicks", BaseCost: 500, PointsPerClick: 5},
	{ID: 4, Name: "Server Farm", Description: "Passive points at scale", BaseCost: 3000, PointsPerSecond: 10},
	{ID: 5, Name: "Quantum Mouse", Description: "Clicks in every universe", BaseCost: 20000, PointsPerClick: 50, PointsPerSecond: 25},
}

func (c Catalog) Find(id int64) (ItemDef, bool) {
	for _, def := range c {
		if def.ID == id {
			return def, true
		}
	}
	return ItemDef{}, false
}

// Cost of the next unit when owned are already held: base * 1.15^owned, rounded down.
func Cost(def ItemDef, owned int64) int64 {
	cost := def.BaseCost * 100
	for i := int64(0); i < owned; i++ {
		cost = cost * 115 / 100
	}
	return cost / 100
}

package engine

import (
	"errors"
	"maps"
)

var ErrUnknownItem = errors.New("item not found")
var ErrInsufficientPoints = errors.New("not enough points")
var ErrUnsupportedCommand = errors.New("unsupported command")

type State struct {
	Points         int64
	LifetimePoints int64
	Clicks         int64
	Owned          map[int64]int64 // item ID -> quantity
	Catalog        Catalog
}

type CommandType string

const (
	CmdClick   CommandType = "Click"
	CmdBuyItem CommandType = "BuyItem"
	CmdTick    CommandType = "Tick"
)

/*
	CmdClick   -> EvtClicked
	CmdBuyItem -> EvtItemPurchased
	CmdTick    -> EvtPassiveIncome (nothing when the player earns no passive income)
*/

type Command struct {
	Type    CommandType
	ItemID  int64
	Seconds int64 // Tick only
}

type EventType string

const (
	EvtClicked       EventType = "Clicked"
	EvtItemPurchased EventType = "ItemPurchased"
	EvtPassiveIncome EventType = "PassiveIncome"
)

type Event struct {
	Type   EventType
	ItemID int64
	Points int64 // earned, or spent for a purchase
}

func Apply(s State, cmd Command) ([]Event, State, error) {
	newState := s

	switch cmd.Type {
	case CmdClick:
		earned := PointsPerClick(s)
		newState.Points += earned
		newState.LifetimePoints += earned
		newState.Clicks++
		return []Event{{Type: EvtClicked, Points: earned}}, newState, nil

	case CmdBuyItem:
		def, ok := s.Catalog.Find(cmd.ItemID)
		if !ok {
			return nil, s, ErrUnknownItem
		}
		cost := Cost(def, s.Owned[def.ID])
		if cost > s.Points {
			return nil, s, ErrInsufficientPoints
		}

		// Copy so the caller's state keeps its own map
		newState.Owned = maps.Clone(s.Owned)
		if newState.Owned == nil {
			newState.Owned = map[int64]int64{}
		}
		newState.Owned[def.ID]++
		newState.Points -= cost
		return []Event{{Type: EvtItemPurchased, ItemID: def.ID, Points: cost}}, newState, nil

	case CmdTick:
		earned := PointsPerSecond(s) * cmd.Seconds
		if earned <= 0 {
			return nil, s, nil
		}
		newState.Points += earned
		newState.LifetimePoints += earned
		return []Event{{Type: EvtPassiveIncome, Points: earned}}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// Reduce replays events onto a fresh state.
func Reduce(catalog Catalog, events []Event) State {
	s := NewState(catalog)
	for _, event := range events {
		switch event.Type {
		case EvtClicked, EvtPassiveIncome:
			s.Points += event.Points
			s.LifetimePoints += event.Points
			if event.Type == EvtClicked {
				s.Clicks++
			}
		case EvtItemPurchased:
			s.Points -= event.Points
			s.Owned[event.ItemID]++
		}
	}
	return s
}

// PointsPerClick is 1 plus what owned items add.
func PointsPerClick(s State) int64 {
	ppc := int64(1)
	for _, def := range s.Catalog {
		ppc += def.PointsPerClick * s.Owned[def.ID]
	}
	return ppc
}

func PointsPerSecond(s State) int64 {
	var pps int64
	for _, def := range s.Catalog {
		pps += def.PointsPerSecond * s.Owned[def.ID]
	}
	return pps
}

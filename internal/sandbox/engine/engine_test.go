package engine

import (
	"errors"
	"testing"
)

func TestApply_ClickEarnsPointsPerClick(t *testing.T) {
	s := NewState(nil)
	s.Owned[1] = 2 // two cursors: 1 + 2*1

	events, next, err := Apply(s, Command{Type: CmdClick})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !ContainsEvent(events, EvtClicked) {
		t.Fatalf("expected Clicked event, got %+v", events)
	}
	if next.Points != 3 || next.LifetimePoints != 3 || next.Clicks != 1 {
		t.Fatalf("after click: got points=%d lifetime=%d clicks=%d", next.Points, next.LifetimePoints, next.Clicks)
	}
}

func TestApply_BuyItem(t *testing.T) {
	cases := []struct {
		name       string
		points     int64
		owned      int64
		itemID     int64
		wantErr    error
		wantPoints int64
	}{
		{name: "first cursor at base cost", points: 20, itemID: 1, wantPoints: 5},
		{name: "second cursor costs 15% more", points: 20, owned: 1, itemID: 1, wantPoints: 3},
		{name: "cannot afford", points: 14, itemID: 1, wantErr: ErrInsufficientPoints, wantPoints: 14},
		{name: "unknown item", points: 1000, itemID: 99, wantErr: ErrUnknownItem, wantPoints: 1000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewState(nil)
			s.Points = tc.points
			s.Owned[1] = tc.owned

			_, next, err := Apply(s, Command{Type: CmdBuyItem, ItemID: tc.itemID})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want err %v, got %v", tc.wantErr, err)
			}
			if next.Points != tc.wantPoints {
				t.Fatalf("want points=%d, got %d", tc.wantPoints, next.Points)
			}
		})
	}
}

func TestApply_BuyDoesNotMutateInput(t *testing.T) {
	s := NewState(nil)
	s.Points = 100

	_, next, err := Apply(s, Command{Type: CmdBuyItem, ItemID: 1})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.Owned[1] != 0 {
		t.Fatalf("input state was mutated: %+v", s.Owned)
	}
	if next.Owned[1] != 1 {
		t.Fatalf("want 1 cursor owned, got %d", next.Owned[1])
	}
}

func TestApply_TickWithoutIncomeIsSilent(t *testing.T) {
	s := NewState(nil)
	events, next, err := Apply(s, Command{Type: CmdTick, Seconds: 1})
	if err != nil || len(events) != 0 || next.Points != 0 {
		t.Fatalf("want no-op tick, got events=%+v points=%d err=%v", events, next.Points, err)
	}

	s.Owned[2] = 3
	events, next, _ = Apply(s, Command{Type: CmdTick, Seconds: 2})
	if !ContainsEvent(events, EvtPassiveIncome) || next.Points != 6 {
		t.Fatalf("want 6 passive points, got %d (%+v)", next.Points, events)
	}
}

func TestApply_Unsupported(t *testing.T) {
	_, _, err := Apply(NewState(nil), Command{Type: "Prestige"})
	if !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("want ErrUnsupportedCommand, got %v", err)
	}
}

func TestReduce_ReplaysToSameState(t *testing.T) {
	s := NewState(nil)
	var log []Event
	cmds := []Command{
		{Type: CmdClick}, {Type: CmdClick},
	}
	for i := 0; i < 20; i++ {
		cmds = append(cmds, Command{Type: CmdClick})
	}
	cmds = append(cmds, Command{Type: CmdBuyItem, ItemID: 1}, Command{Type: CmdClick})

	for _, cmd := range cmds {
		events, next, err := Apply(s, cmd)
		if err != nil {
			t.Fatalf("apply %s: %v", cmd.Type, err)
		}
		log = append(log, events...)
		s = next
	}

	got := Reduce(DefaultCatalog, log)
	if got.Points != s.Points || got.Clicks != s.Clicks || got.Owned[1] != s.Owned[1] {
		t.Fatalf("replay mismatch: got %+v want %+v", got, s)
	}
}

func TestItemsReflectOwnership(t *testing.T) {
	s := NewState(nil)
	s.Owned[1] = 1

	items := Items(s)
	if len(items) != len(DefaultCatalog) {
		t.Fatalf("want %d items, got %d", len(DefaultCatalog), len(items))
	}
	if items[0].Quantity != 1 || items[0].CurrentCost != 17 {
		t.Fatalf("cursor: got qty=%d cost=%d", items[0].Quantity, items[0].CurrentCost)
	}
	if owned := OwnedItems(s); len(owned) != 1 || owned[0].ID != 1 {
		t.Fatalf("owned items: %+v", owned)
	}

	gs := ToGameState(s, false)
	if gs.Items != nil || gs.PointsPerClick != 2 {
		t.Fatalf("game state: %+v", gs)
	}
}

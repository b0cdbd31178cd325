package game

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/clicker-client/internal/apperr"
	"github.com/DoyleJ11/clicker-client/internal/ws"
	"github.com/DoyleJ11/clicker-client/pkg/types"
)

// Pusher is the real-time side of the connection manager.
type Pusher interface {
	IsConnected() bool
	ReadyState() string
	SendClick() bool
	SendBuyItem(itemID int64) bool
	RequestGameState() bool
	RequestItems() bool
}

// Fetcher is the request/response fallback.
type Fetcher interface {
	GameStateWithItems(ctx context.Context) (types.GameState, error)
	Click(ctx context.Context) (types.ClickResult, error)
	BuyItem(ctx context.Context, itemID int64) (types.PurchaseResult, error)
	Leaderboard(ctx context.Context, limit int) ([]types.LeaderboardEntry, error)
}

type Msg interface{ isGameMsg() }

type GotState struct{ State types.GameState }
type GotClick struct{ Result types.ClickResult }
// GotPurchase re-pulls items on success unless the sender already does so itself.
type GotPurchase struct {
	Result     types.PurchaseResult
	SkipRepull bool
}
type GotItems struct{ Items []types.Item }
type GotLeaderboard struct{ Entries []types.LeaderboardEntry }

type ConnChanged struct {
	Connected bool
	Status    string
}

type SetError struct{ Message string }
type SetLoading struct{ Loading bool }
type ClearError struct{}
type Reset struct{}

type GetView struct {
	Reply chan Snapshot
}

func (GotState) isGameMsg()       {}
func (GotClick) isGameMsg()       {}
func (GotPurchase) isGameMsg()    {}
func (GotItems) isGameMsg()       {}
func (GotLeaderboard) isGameMsg() {}
func (ConnChanged) isGameMsg()    {}
func (SetError) isGameMsg()       {}
func (SetLoading) isGameMsg()     {}
func (ClearError) isGameMsg()     {}
func (Reset) isGameMsg()          {}
func (GetView) isGameMsg()        {}

// Store owns the Snapshot. Every merge runs on its loop goroutine.
type Store struct {
	inbox chan Msg
	state Snapshot

	fetch Fetcher
	push  Pusher
	log   *zap.Logger

	leaderboardLimit int
	subs             []*ws.Subscription

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

func WithLeaderboardLimit(n int) Option {
	return func(s *Store) { s.leaderboardLimit = n }
}

func NewStore(parent context.Context, fetch Fetcher, push Pusher, opts ...Option) *Store {
	ctx, cancel := context.WithCancel(parent)
	s := &Store{
		inbox:            make(chan Msg, 64),
		state:            NewSnapshot(),
		fetch:            fetch,
		push:             push,
		log:              zap.NewNop(),
		leaderboardLimit: 10,
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("game")

	go s.loop()
	return s
}

func (s *Store) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case GotState:
				s.state = ApplyGameState(s.state, msg.State)

			case GotClick:
				s.state = ApplyClick(s.state, msg.Result)
				s.log.Debug("click applied", zap.Int64("points", s.state.Points), zap.Int64("earned", msg.Result.PointsEarned))

			case GotPurchase:
				next, repull := ApplyPurchase(s.state, msg.Result)
				s.state = next
				if repull && !msg.SkipRepull {
					go s.repullItems()
				} else if !repull {
					s.log.Info("purchase rejected", zap.String("message", msg.Result.Message))
				}

			case GotItems:
				s.state = ApplyItems(s.state, msg.Items)

			case GotLeaderboard:
				s.state = ApplyLeaderboard(s.state, msg.Entries)

			case ConnChanged:
				s.state.Connected = msg.Connected
				s.state.ConnectionStatus = msg.Status

			case SetError:
				s.state.Error = msg.Message

			case SetLoading:
				s.state.Loading = msg.Loading

			case ClearError:
				s.state.Error = ""

			case Reset:
				s.state = NewSnapshot()

			case GetView:
				msg.Reply <- s.state.Clone()
			}
		}
	}
}

// Inbox exposes the loop so tests and the session can feed it directly.
func (s *Store) Inbox() chan<- Msg { return s.inbox }

func (s *Store) post(m Msg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

// View returns a copy of the snapshot after every message posted before it was applied.
func (s *Store) View() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case s.inbox <- GetView{Reply: reply}:
	case <-s.ctx.Done():
		return NewSnapshot()
	}
	select {
	case v := <-reply:
		return v
	case <-s.ctx.Done():
		return NewSnapshot()
	}
}

// Attach subscribes the store to the connection's events. Detach undoes it.
func (s *Store) Attach(bus *ws.Bus) {
	s.subs = append(s.subs,
		bus.Subscribe(ws.EventConnected, s.onConnected),
		bus.Subscribe(ws.EventDisconnected, s.onDisconnected),
		bus.Subscribe(ws.EventError, s.onError),
		bus.Subscribe(types.EvtGameState, decodeInto(s, func(v types.GameState) Msg { return GotState{State: v} })),
		bus.Subscribe(types.EvtClickResult, decodeInto(s, func(v types.ClickResult) Msg { return GotClick{Result: v} })),
		bus.Subscribe(types.EvtPurchaseResult, decodeInto(s, func(v types.PurchaseResult) Msg { return GotPurchase{Result: v} })),
		bus.Subscribe(types.EvtItemsList, decodeInto(s, func(v []types.Item) Msg { return GotItems{Items: v} })),
		bus.Subscribe(types.EvtLeaderboardUpdate, decodeInto(s, func(v []types.LeaderboardEntry) Msg { return GotLeaderboard{Entries: v} })),
	)
}

func (s *Store) Detach() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}

// decodeInto turns a typed payload handler into a bus handler. Empty, null or
// undecodable payloads are dropped.
func decodeInto[T any](s *Store, wrap func(T) Msg) ws.Handler {
	return func(ev ws.Event) {
		if raw, ok := ev.Payload.(json.RawMessage); ok {
			if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
				s.log.Warn("dropping event without payload", zap.String("event", ev.Name))
				return
			}
		}
		var v T
		if err := ev.Decode(&v); err != nil {
			s.log.Warn("dropping undecodable event", zap.String("event", ev.Name), zap.Error(err))
			return
		}
		s.post(wrap(v))
	}
}

func (s *Store) onConnected(ws.Event) {
	s.post(ConnChanged{Connected: true, Status: "OPEN"})
	s.push.RequestGameState()
	s.push.RequestItems()
}

func (s *Store) onDisconnected(ev ws.Event) {
	status := "CLOSED"
	if s.push.ReadyState() == "CONNECTING" {
		status = "CONNECTING"
	}
	s.post(ConnChanged{Connected: false, Status: status})
}

// onError handles both transport failures and "error" frames from the server.
func (s *Store) onError(ev ws.Event) {
	if raw, ok := ev.Payload.(json.RawMessage); ok {
		var em types.ErrorMessage
		if err := json.Unmarshal(raw, &em); err == nil && em.Message != "" {
			s.post(SetError{Message: em.Message})
			return
		}
	}
	s.log.Warn("connection error", zap.Any("payload", ev.Payload))
	s.post(SetError{Message: "WebSocket connection error"})
}

func (s *Store) repullItems() {
	if s.push.IsConnected() && s.push.RequestItems() {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	gs, err := s.fetch.GameStateWithItems(ctx)
	if err != nil {
		s.log.Warn("re-pull items", zap.Error(err))
		return
	}
	s.post(GotState{State: gs})
}

// Load pulls the full state and the leaderboard over REST.
func (s *Store) Load(ctx context.Context) error {
	s.post(SetLoading{Loading: true})
	defer s.post(SetLoading{Loading: false})
	s.post(ClearError{})

	gs, err := s.fetch.GameStateWithItems(ctx)
	if err != nil {
		s.post(SetError{Message: userMessage(err, "Failed to load game data")})
		return err
	}
	s.post(GotState{State: gs})

	if err := s.LoadLeaderboard(ctx, s.leaderboardLimit); err != nil {
		s.log.Warn("load leaderboard", zap.Error(err))
	}
	return nil
}

func (s *Store) LoadLeaderboard(ctx context.Context, limit int) error {
	entries, err := s.fetch.Leaderboard(ctx, limit)
	if err != nil {
		return err
	}
	s.post(GotLeaderboard{Entries: entries})
	return nil
}

// Click goes over the live connection when there is one, else over REST.
func (s *Store) Click(ctx context.Context) error {
	if s.push.IsConnected() && s.push.SendClick() {
		return nil
	}
	res, err := s.fetch.Click(ctx)
	if err != nil {
		s.post(SetError{Message: userMessage(err, "Click failed")})
		return err
	}
	s.post(GotClick{Result: res})
	return nil
}

// BuyItem never changes points or items locally before the server answers. Over the
// live connection the outcome arrives later as purchase_result and the zero result is returned.
func (s *Store) BuyItem(ctx context.Context, itemID int64) (types.PurchaseResult, error) {
	if s.push.IsConnected() && s.push.SendBuyItem(itemID) {
		return types.PurchaseResult{}, nil
	}
	res, err := s.fetch.BuyItem(ctx, itemID)
	if err != nil {
		s.post(SetError{Message: userMessage(err, "Purchase failed")})
		return types.PurchaseResult{}, err
	}

	s.post(GotPurchase{Result: res, SkipRepull: true})
	if !res.Success {
		return res, nil
	}
	gs, err := s.fetch.GameStateWithItems(ctx)
	if err != nil {
		s.log.Warn("re-pull after purchase", zap.Error(err))
		return res, nil
	}
	s.post(GotState{State: gs})
	return res, nil
}

func (s *Store) RequestGameState() bool { return s.push.RequestGameState() }
func (s *Store) RequestItems() bool     { return s.push.RequestItems() }

// StartPassiveSync asks for fresh state every interval while the player earns passive income.
// It runs until ctx is done or the returned stop is called.
func (s *Store) StartPassiveSync(ctx context.Context, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			case <-t.C:
				if s.View().PointsPerSecond > 0 && s.push.IsConnected() {
					s.push.RequestGameState()
				}
			}
		}
	}()
	return cancel
}

func (s *Store) ClearError() { s.post(ClearError{}) }

func (s *Store) Reset() { s.post(Reset{}) }

// Close stops the loop and detaches from the bus.
func (s *Store) Close() {
	s.Detach()
	s.cancel()
}

// userMessage prefers the server's own wording.
func userMessage(err error, fallback string) string {
	var e *apperr.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}

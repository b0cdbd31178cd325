package player

import (
	"context"
	"time"

	"github.com/DoyleJ11/clicker-client/internal/sandbox/engine"
	"github.com/DoyleJ11/clicker-client/pkg/types"
)

const closeGoingAway = 1001

type Msg interface{ isPlayerMsg() }

// FromClient applies a command. Reply, when set, gets the outcome.
type FromClient struct {
	Cmd   engine.Command
	Reply chan Result
}

func (FromClient) isPlayerMsg() {}

// Request asks for a state or items frame without changing anything.
type Request struct {
	Type string // types.MsgGetState | types.MsgGetItems
}

func (Request) isPlayerMsg() {}

type Join struct {
	ConnID string
	Outbox chan Frame // where this connection wants to receive frames
}

func (Join) isPlayerMsg() {}

type Leave struct{ ConnID string }

func (Leave) isPlayerMsg() {}

// Broadcast forwards a frame to every connection, e.g. a leaderboard update.
type Broadcast struct{ Frame Frame }

func (Broadcast) isPlayerMsg() {}

// Kick closes every connection with Code.
type Kick struct {
	Code   int
	Reason string
}

func (Kick) isPlayerMsg() {}

type Tick struct{ Seconds int64 }

func (Tick) isPlayerMsg() {}

type Shutdown struct{}

func (Shutdown) isPlayerMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isPlayerMsg() {}

type Result struct {
	Events []engine.Event
	State  engine.State
	Err    error
}

// Frame is one outbound message. A non-zero Close asks the writer to close the socket.
type Frame struct {
	Type   string
	Data   any
	Close  int
	Reason string
}

type View struct {
	Version    int
	NumClients int
	State      engine.State
}

type Options struct {
	// TickInterval drives passive income. Zero disables the ticker.
	TickInterval time.Duration
	// OnScore is called from the player loop after lifetime points change.
	OnScore func(lifetime int64)
	// Exclusive closes older connections with types.CloseReplaced when a new one joins.
	Exclusive bool
}

// Player is the actor owning one user's game state and live connections.
type Player struct {
	inbox   chan Msg
	state   engine.State
	version int
	clients map[string]chan Frame
	opts    Options
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewPlayer(parent context.Context, initial engine.State, opts Options) *Player {
	ctx, cancel := context.WithCancel(parent)

	p := &Player{
		inbox:   make(chan Msg, 64),
		state:   initial,
		clients: make(map[string]chan Frame),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}

	go p.loop()
	return p
}

func (p *Player) loop() {
	var tick <-chan time.Time
	if p.opts.TickInterval > 0 {
		t := time.NewTicker(p.opts.TickInterval)
		defer t.Stop()
		tick = t.C
	}
	seconds := int64(p.opts.TickInterval / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	for {
		select {
		case <-p.ctx.Done():
			p.shutdown(closeGoingAway, "server shutting down")
			return

		case <-tick:
			p.apply(engine.Command{Type: engine.CmdTick, Seconds: seconds}, nil)

		case m := <-p.inbox:
			switch msg := m.(type) {
			case Join:
				if p.opts.Exclusive {
					for id := range p.clients {
						p.kick(id, types.CloseReplaced, "replaced by a newer connection")
					}
				}
				p.clients[msg.ConnID] = msg.Outbox
				// new connections start from the full state
				p.sendTo(msg.ConnID, Frame{Type: types.EvtGameState, Data: engine.ToGameState(p.state, true)})

			case Leave:
				delete(p.clients, msg.ConnID)

			case FromClient:
				p.apply(msg.Cmd, msg.Reply)

			case Request:
				switch msg.Type {
				case types.MsgGetItems:
					p.broadcast(Frame{Type: types.EvtItemsList, Data: engine.Items(p.state)})
				default:
					p.broadcast(Frame{Type: types.EvtGameState, Data: engine.ToGameState(p.state, true)})
				}

			case Broadcast:
				p.broadcast(msg.Frame)

			case Tick:
				p.apply(engine.Command{Type: engine.CmdTick, Seconds: msg.Seconds}, nil)

			case Kick:
				p.closeAll(msg.Code, msg.Reason)

			case GetState:
				msg.Reply <- View{
					Version:    p.version,
					NumClients: len(p.clients),
					State:      p.state,
				}

			case Shutdown:
				p.shutdown(closeGoingAway, "server shutting down")
				return
			}
		}
	}
}

func (p *Player) apply(cmd engine.Command, reply chan Result) {
	events, newState, err := engine.Apply(p.state, cmd)
	if reply != nil {
		reply <- Result{Events: events, State: newState, Err: err}
	}

	if cmd.Type == engine.CmdBuyItem {
		p.broadcast(purchaseFrame(newState, err))
	}
	if err != nil || len(events) == 0 {
		return
	}

	p.state = newState
	p.version++

	switch cmd.Type {
	case engine.CmdClick:
		p.broadcast(Frame{Type: types.EvtClickResult, Data: types.ClickResult{
			NewTotal:       p.state.Points,
			LifetimePoints: p.state.LifetimePoints,
			Clicks:         p.state.Clicks,
			PointsEarned:   events[0].Points,
		}})
	case engine.CmdTick:
		p.broadcast(Frame{Type: types.EvtGameState, Data: engine.ToGameState(p.state, false)})
	}
	if p.opts.OnScore != nil {
		p.opts.OnScore(p.state.LifetimePoints)
	}
}

func purchaseFrame(s engine.State, err error) Frame {
	if err != nil {
		return Frame{Type: types.EvtPurchaseResult, Data: types.PurchaseResult{Success: false, Message: Message(err)}}
	}
	return Frame{Type: types.EvtPurchaseResult, Data: types.PurchaseResult{
		Success:            true,
		NewPoints:          s.Points,
		NewPointsPerClick:  engine.PointsPerClick(s),
		NewPointsPerSecond: engine.PointsPerSecond(s),
	}}
}

// Message is the player-facing wording of an engine error.
func Message(err error) string {
	switch err {
	case engine.ErrInsufficientPoints:
		return "Not enough points"
	case engine.ErrUnknownItem:
		return "Item not found"
	default:
		return err.Error()
	}
}

func (p *Player) shutdown(code int, reason string) {
	p.closeAll(code, reason)
	p.cancel()
}

func (p *Player) closeAll(code int, reason string) {
	for id := range p.clients {
		p.kick(id, code, reason)
	}
}

func (p *Player) kick(id string, code int, reason string) {
	ch := p.clients[id]
	select {
	case ch <- Frame{Close: code, Reason: reason}:
	default:
	}
	close(ch) // Tell the writer no more frames
	delete(p.clients, id)
}

func (p *Player) broadcast(f Frame) {
	for id := range p.clients {
		p.sendTo(id, f)
	}
}

func (p *Player) sendTo(id string, f Frame) {
	ch, ok := p.clients[id]
	if !ok {
		return
	}
	select {
	case ch <- f:
		//ok
	default:
		// Connection is slow/full - drop it.
		close(ch)
		delete(p.clients, id)
	}
}

// Expose the inbox so the hub and the HTTP layer can send messages.
func (p *Player) Inbox() chan<- Msg { return p.inbox }

// Post delivers m unless the player has shut down.
func (p *Player) Post(m Msg) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case p.inbox <- m:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// TryPost drops m instead of blocking when the inbox is full.
func (p *Player) TryPost(m Msg) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case p.inbox <- m:
		return true
	default:
		return false
	}
}

// Done is closed once the player has shut down.
func (p *Player) Done() <-chan struct{} { return p.ctx.Done() }

// Do applies cmd and waits for the outcome.
func (p *Player) Do(ctx context.Context, cmd engine.Command) (Result, error) {
	reply := make(chan Result, 1)
	select {
	case p.inbox <- FromClient{Cmd: cmd, Reply: reply}:
	case <-p.ctx.Done():
		return Result{}, context.Canceled
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-p.ctx.Done():
		return Result{}, context.Canceled
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// View reflects internal state without data races.
func (p *Player) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case p.inbox <- GetState{Reply: reply}:
	case <-p.ctx.Done():
		return View{}, context.Canceled
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-p.ctx.Done():
		return View{}, context.Canceled
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/DoyleJ11/clicker-client/internal/apperr"
	"github.com/DoyleJ11/clicker-client/internal/dependencies/clock"
	"github.com/DoyleJ11/clicker-client/internal/logging"
	"github.com/DoyleJ11/clicker-client/pkg/types"
)

var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
var ErrSuperseded = errors.New("connection attempt superseded")
var ErrClosed = errors.New("connection manager closed")

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Status is a point-in-time view of the manager.
type Status struct {
	State     State
	Attempts  int
	LastError error
}

type Options struct {
	URL                  string // base URL; the token is appended as the last path segment
	ConnectTimeout       time.Duration
	WriteTimeout         time.Duration
	MaxReconnectAttempts int
	BaseDelay            time.Duration

	Dialer Dialer
	Clock  clock.Clock
	Logger *zap.Logger
}

// Manager owns the single real-time connection and its reconnect schedule.
type Manager struct {
	opts Options
	bus  *Bus
	log  *zap.Logger

	mu       sync.Mutex
	state    State
	token    string
	gen      uint64 // bumped by Connect and Disconnect; stale timers and readers compare it
	attempts int
	conn     Transport
	stopRead context.CancelFunc
	timer    clock.Timer
	delays   *backoff.ExponentialBackOff
	lastErr  error
	closed   bool
}

func NewManager(opts Options) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = 0
	}
	if opts.Dialer == nil {
		opts.Dialer = &WebsocketDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.Named("ws")

	return &Manager{
		opts:   opts,
		bus:    NewBus(log),
		log:    log,
		delays: newDelays(opts.BaseDelay, opts.Clock),
	}
}

// newDelays yields base, 2*base, 4*base, ... with no jitter and no overall deadline.
func newDelays(base time.Duration, clk clock.Clock) *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(base),
		backoff.WithRandomizationFactor(0),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(time.Duration(math.MaxInt64)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithClockProvider(clk),
	)
}

func (m *Manager) Bus() *Bus { return m.bus }

func (m *Manager) Subscribe(name string, h Handler) *Subscription {
	return m.bus.Subscribe(name, h)
}

// Connect opens the connection for token. It is a no-op while already connected or
// connecting with the same token; a different token replaces the current connection.
// Only this initial attempt reports failure to the caller.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if token == m.token && m.state != Disconnected {
		m.mu.Unlock()
		return nil
	}
	old, stop := m.detachLocked()
	m.token = token
	m.state = Connecting
	m.attempts = 0
	m.lastErr = nil
	m.delays.Reset()
	gen := m.gen
	m.mu.Unlock()

	if old != nil {
		m.log.Info("replacing connection for new token")
		closeTransport(old, stop, CloseNormal, "token changed", m.log)
	}
	return m.dial(ctx, gen, true)
}

// dial runs one connection attempt for generation gen.
func (m *Manager) dial(ctx context.Context, gen uint64, initial bool) error {
	m.mu.Lock()
	url := m.url(m.token)
	m.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	conn, err := m.opts.Dialer.Dial(dctx, url)
	cancel()

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close(CloseNormal, "superseded")
		}
		return ErrSuperseded
	}

	if err != nil {
		m.lastErr = err
		if initial {
			m.state = Disconnected
			m.mu.Unlock()
			m.log.Warn("connect failed", zap.Error(err))
			m.bus.Emit(EventError, err)
			return apperr.Connection("connect", err)
		}
		m.log.Warn("reconnect failed", zap.Int("attempt", m.attempts), zap.Error(err))
		exhausted := m.scheduleLocked(gen)
		m.mu.Unlock()
		if exhausted {
			m.bus.Emit(EventError, ErrReconnectExhausted)
		}
		return nil
	}

	readCtx, stopRead := context.WithCancel(context.Background())
	m.conn = conn
	m.stopRead = stopRead
	m.state = Connected
	m.attempts = 0
	m.lastErr = nil
	m.delays.Reset()
	m.mu.Unlock()

	m.log.Info("connected", zap.String("url", redactURL(url)))
	m.bus.Emit(EventConnected, nil)
	go m.readLoop(readCtx, gen, conn)
	return nil
}

// readLoop is the only reader of conn, so frames reach subscribers in receipt order.
func (m *Manager) readLoop(ctx context.Context, gen uint64, conn Transport) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			m.handleClose(gen, conn, err)
			return
		}
		if !m.current(gen) {
			return
		}
		m.bus.DispatchFrame(data)
	}
}

func (m *Manager) handleClose(gen uint64, conn Transport, err error) {
	info := closeInfoOf(err)

	m.mu.Lock()
	if gen != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	if m.stopRead != nil {
		m.stopRead()
		m.stopRead = nil
	}
	m.conn = nil

	exhausted := false
	if info.Code == CloseNormal {
		m.state = Disconnected
	} else {
		m.lastErr = err
		exhausted = m.scheduleLocked(gen)
	}
	m.mu.Unlock()

	m.log.Info("disconnected", zap.Int("code", info.Code), zap.String("reason", info.Reason))
	m.bus.Emit(EventDisconnected, info)
	if exhausted {
		m.bus.Emit(EventError, ErrReconnectExhausted)
	}
}

// scheduleLocked arms the next reconnect, or gives up once the attempts are spent.
func (m *Manager) scheduleLocked(gen uint64) (exhausted bool) {
	if m.attempts >= m.opts.MaxReconnectAttempts {
		m.state = Disconnected
		m.lastErr = ErrReconnectExhausted
		m.log.Warn("giving up reconnecting", zap.Int("attempts", m.attempts))
		return true
	}
	m.attempts++
	delay := m.delays.NextBackOff()
	m.state = Connecting
	m.log.Info("reconnect scheduled", zap.Int("attempt", m.attempts), zap.Duration("delay", delay))
	m.timer = m.opts.Clock.AfterFunc(delay, func() { m.reconnect(gen) })
	return false
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.token == "" || m.closed {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	_ = m.dial(context.Background(), gen, false)
}

// Disconnect closes with 1000 and cancels any scheduled reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	wasActive := m.state != Disconnected
	old, stop := m.detachLocked()
	m.state = Disconnected
	m.token = ""
	m.attempts = 0
	m.delays.Reset()
	m.mu.Unlock()

	if old != nil {
		closeTransport(old, stop, CloseNormal, "client disconnect", m.log)
	}
	if wasActive {
		m.log.Info("disconnected by client")
		m.bus.Emit(EventDisconnected, CloseInfo{Code: CloseNormal, Reason: "client disconnect"})
	}
}

// Close disconnects for good; later Connect calls fail with ErrClosed.
func (m *Manager) Close() error {
	m.Disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// detachLocked invalidates every in-flight attempt, timer and reader.
func (m *Manager) detachLocked() (Transport, context.CancelFunc) {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	conn, stop := m.conn, m.stopRead
	m.conn, m.stopRead = nil, nil
	return conn, stop
}

func closeTransport(conn Transport, stop context.CancelFunc, code int, reason string, log *zap.Logger) {
	if err := conn.Close(code, reason); err != nil {
		log.Debug("close transport", zap.Error(err))
	}
	if stop != nil {
		stop()
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// Send writes msg when connected and reports whether it was written.
func (m *Manager) Send(msg any) bool {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()
	if state != Connected || conn == nil {
		m.log.Debug("send skipped, not connected")
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		m.log.Error("marshal outbound message", zap.Error(err))
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, data); err != nil {
		m.log.Warn("write failed", zap.Error(err))
		return false
	}
	return true
}

func (m *Manager) SendClick() bool {
	return m.Send(types.ClientMessage{Type: types.MsgClick})
}

func (m *Manager) SendBuyItem(itemID int64) bool {
	return m.Send(types.ClientMessage{Type: types.MsgBuyItem, ItemID: itemID})
}

func (m *Manager) RequestGameState() bool {
	return m.Send(types.ClientMessage{Type: types.MsgGetState})
}

func (m *Manager) RequestItems() bool {
	return m.Send(types.ClientMessage{Type: types.MsgGetItems})
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Connected
}

// ReadyState mirrors the browser WebSocket names.
func (m *Manager) ReadyState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Connected:
		return "OPEN"
	case Connecting:
		return "CONNECTING"
	default:
		return "CLOSED"
	}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Attempts: m.attempts, LastError: m.lastErr}
}

func (m *Manager) url(token string) string {
	return strings.TrimSuffix(m.opts.URL, "/") + "/" + token
}

// redactURL hides the token carried in the last path segment.
func redactURL(u string) string {
	i := strings.LastIndex(u, "/")
	if i < 0 {
		return u
	}
	return u[:i+1] + logging.RedactToken(u[i+1:])
}

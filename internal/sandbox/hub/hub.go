package hub

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/DoyleJ11/clicker-client/internal/dependencies/clock"
	"github.com/DoyleJ11/clicker-client/internal/sandbox/engine"
	"github.com/DoyleJ11/clicker-client/internal/sandbox/player"
	"github.com/DoyleJ11/clicker-client/pkg/types"
)

var (
	ErrNicknameTaken  = errors.New("nickname already registered")
	ErrBadCredentials = errors.New("incorrect nickname or password")
	ErrInvalidToken   = errors.New("could not validate credentials")
	ErrTokenExpired   = errors.New("token expired")
	ErrUnknownUser    = errors.New("user not found")
	ErrClosed         = errors.New("hub closed")
)

type HubMsg interface{ isHubMsg() }

type CreateUser struct {
	Nickname string
	Email    string
	Hash     []byte
	Reply    chan UserResult
}

// FindUser looks an account up by nickname for password checking.
type FindUser struct {
	Nickname string
	Reply    chan account
}

type IssueToken struct {
	UserID int64
	Reply  chan TokenResult
}

type Authenticate struct {
	Token string
	Reply chan AuthResult
}

// RotateToken swaps a live, or recently expired, token for a new one.
type RotateToken struct {
	Token string
	Reply chan TokenResult
}

type GetLeaderboard struct {
	Limit int
	Reply chan []types.LeaderboardEntry
}

// PublishLeaderboard pushes the current standings to every player if they changed.
type PublishLeaderboard struct{}

type scoreChanged struct {
	UserID int64
	Score  int64
}

type ShutdownHub struct{}

func (CreateUser) isHubMsg()         {}
func (FindUser) isHubMsg()           {}
func (IssueToken) isHubMsg()         {}
func (Authenticate) isHubMsg()       {}
func (RotateToken) isHubMsg()        {}
func (GetLeaderboard) isHubMsg()     {}
func (PublishLeaderboard) isHubMsg() {}
func (scoreChanged) isHubMsg()       {}
func (ShutdownHub) isHubMsg()        {}

type UserResult struct {
	User types.User
	Err  error
}

type TokenResult struct {
	Token types.TokenResponse
	Err   error
}

type AuthResult struct {
	User   types.User
	Player *player.Player
	Err    error
}

type account struct {
	User   types.User
	Hash   []byte
	Player *player.Player
	Score  int64
}

type session struct {
	UserID  int64
	Expires time.Time
}

type Options struct {
	TokenTTL     time.Duration
	RefreshGrace time.Duration
	BcryptCost   int
	// TickInterval is the passive income period of every player. Zero disables it.
	TickInterval time.Duration
	// LeaderboardInterval is how often changed standings are pushed. Zero disables it.
	LeaderboardInterval time.Duration
	LeaderboardSize     int
	// ExclusiveConnections allows one live socket per user.
	ExclusiveConnections bool
	Catalog              engine.Catalog
	Clock                clock.Clock
	Logger               *zap.Logger
}

func (o *Options) defaults() {
	if o.TokenTTL <= 0 {
		o.TokenTTL = 30 * time.Minute
	}
	if o.BcryptCost == 0 {
		o.BcryptCost = bcrypt.DefaultCost
	}
	if o.LeaderboardSize <= 0 {
		o.LeaderboardSize = 10
	}
	if o.Catalog == nil {
		o.Catalog = engine.DefaultCatalog
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Hub is the actor owning accounts, tokens and the leaderboard.
type Hub struct {
	inbox  chan HubMsg
	opts   Options
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	users      map[int64]*account
	byNickname map[string]int64
	tokens     map[string]session
	nextID     int64
	dirty      bool
}

func NewHub(parent context.Context, opts Options) *Hub {
	opts.defaults()
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:      make(chan HubMsg, 64),
		opts:       opts,
		log:        opts.Logger.Named("hub"),
		ctx:        ctx,
		cancel:     cancel,
		users:      make(map[int64]*account),
		byNickname: make(map[string]int64),
		tokens:     make(map[string]session),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg    { return h.inbox }
func (h *Hub) Catalog() engine.Catalog { return h.opts.Catalog }

func (h *Hub) loop() {
	var publish <-chan time.Time
	if h.opts.LeaderboardInterval > 0 {
		t := time.NewTicker(h.opts.LeaderboardInterval)
		defer t.Stop()
		publish = t.C
	}

	for {
		select {
		case <-h.ctx.Done():
			// players are children of h.ctx and close their own connections
			return

		case <-publish:
			h.publish()

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateUser:
				msg.Reply <- h.createUser(msg)

			case FindUser:
				id, ok := h.byNickname[msg.Nickname]
				if !ok {
					msg.Reply <- account{}
					break
				}
				msg.Reply <- *h.users[id]

			case IssueToken:
				msg.Reply <- h.issue(msg.UserID)

			case Authenticate:
				msg.Reply <- h.authenticate(msg.Token)

			case RotateToken:
				msg.Reply <- h.rotate(msg.Token)

			case GetLeaderboard:
				msg.Reply <- h.standings(msg.Limit)

			case PublishLeaderboard:
				h.publish()

			case scoreChanged:
				if acc := h.users[msg.UserID]; acc != nil && acc.Score != msg.Score {
					acc.Score = msg.Score
					h.dirty = true
				}

			case ShutdownHub:
				h.cancel()
			}
		}
	}
}

func (h *Hub) createUser(msg CreateUser) UserResult {
	if _, taken := h.byNickname[msg.Nickname]; taken {
		return UserResult{Err: ErrNicknameTaken}
	}

	h.nextID++
	id := h.nextID
	user := types.User{
		ID:        id,
		Nickname:  msg.Nickname,
		Email:     msg.Email,
		CreatedAt: h.opts.Clock.Now().UTC(),
	}
	p := player.NewPlayer(h.ctx, engine.NewState(h.opts.Catalog), player.Options{
		TickInterval: h.opts.TickInterval,
		OnScore:      func(score int64) { h.post(scoreChanged{UserID: id, Score: score}) },
		Exclusive:    h.opts.ExclusiveConnections,
	})

	h.users[id] = &account{User: user, Hash: msg.Hash, Player: p}
	h.byNickname[msg.Nickname] = id
	h.dirty = true

	h.log.Info("user registered", zap.Int64("user_id", id), zap.String("nickname", user.Nickname))
	return UserResult{User: user}
}

func (h *Hub) issue(userID int64) TokenResult {
	if _, ok := h.users[userID]; !ok {
		return TokenResult{Err: ErrUnknownUser}
	}
	token := ulid.Make().String()
	h.tokens[token] = session{UserID: userID, Expires: h.opts.Clock.Now().Add(h.opts.TokenTTL)}
	return TokenResult{Token: types.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(h.opts.TokenTTL / time.Second),
	}}
}

func (h *Hub) authenticate(token string) AuthResult {
	sess, ok := h.tokens[token]
	if !ok {
		return AuthResult{Err: ErrInvalidToken}
	}
	if !h.opts.Clock.Now().Before(sess.Expires) {
		return AuthResult{Err: ErrTokenExpired}
	}
	acc := h.users[sess.UserID]
	return AuthResult{User: acc.User, Player: acc.Player}
}

func (h *Hub) rotate(token string) TokenResult {
	sess, ok := h.tokens[token]
	if !ok {
		return TokenResult{Err: ErrInvalidToken}
	}
	if h.opts.Clock.Now().After(sess.Expires.Add(h.opts.RefreshGrace)) {
		delete(h.tokens, token)
		return TokenResult{Err: ErrTokenExpired}
	}
	delete(h.tokens, token)
	return h.issue(sess.UserID)
}

// standings orders by score, then by registration.
func (h *Hub) standings(limit int) []types.LeaderboardEntry {
	entries := make([]types.LeaderboardEntry, 0, len(h.users))
	for _, acc := range h.users {
		entries = append(entries, types.LeaderboardEntry{
			UserID:   acc.User.ID,
			Nickname: acc.User.Nickname,
			Score:    acc.Score,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].UserID < entries[j].UserID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func (h *Hub) publish() {
	if !h.dirty {
		return
	}
	h.dirty = false

	frame := player.Frame{Type: types.EvtLeaderboardUpdate, Data: h.standings(h.opts.LeaderboardSize)}
	for _, acc := range h.users {
		// never block the hub on a busy player
		if !acc.Player.TryPost(player.Broadcast{Frame: frame}) {
			h.log.Debug("leaderboard update dropped", zap.Int64("user_id", acc.User.ID))
		}
	}
}

func (h *Hub) post(m HubMsg) bool {
	select {
	case h.inbox <- m:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// ask sends the message built around a fresh reply channel and waits for the answer.
func ask[T any](ctx context.Context, h *Hub, build func(chan T) HubMsg) (T, error) {
	var zero T
	reply := make(chan T, 1)
	select {
	case h.inbox <- build(reply):
	case <-h.ctx.Done():
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-h.ctx.Done():
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Register hashes the password on the caller's goroutine and creates the account.
func (h *Hub) Register(ctx context.Context, nickname, email, password string) (types.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.opts.BcryptCost)
	if err != nil {
		return types.User{}, err
	}
	res, err := ask(ctx, h, func(r chan UserResult) HubMsg {
		return CreateUser{Nickname: nickname, Email: email, Hash: hash, Reply: r}
	})
	if err != nil {
		return types.User{}, err
	}
	return res.User, res.Err
}

func (h *Hub) Login(ctx context.Context, nickname, password string) (types.TokenResponse, error) {
	acc, err := ask(ctx, h, func(r chan account) HubMsg { return FindUser{Nickname: nickname, Reply: r} })
	if err != nil {
		return types.TokenResponse{}, err
	}
	if acc.User.ID == 0 || bcrypt.CompareHashAndPassword(acc.Hash, []byte(password)) != nil {
		return types.TokenResponse{}, ErrBadCredentials
	}

	res, err := ask(ctx, h, func(r chan TokenResult) HubMsg { return IssueToken{UserID: acc.User.ID, Reply: r} })
	if err != nil {
		return types.TokenResponse{}, err
	}
	return res.Token, res.Err
}

func (h *Hub) Authenticate(ctx context.Context, token string) (types.User, *player.Player, error) {
	res, err := ask(ctx, h, func(r chan AuthResult) HubMsg { return Authenticate{Token: token, Reply: r} })
	if err != nil {
		return types.User{}, nil, err
	}
	return res.User, res.Player, res.Err
}

func (h *Hub) Refresh(ctx context.Context, token string) (types.TokenResponse, error) {
	res, err := ask(ctx, h, func(r chan TokenResult) HubMsg { return RotateToken{Token: token, Reply: r} })
	if err != nil {
		return types.TokenResponse{}, err
	}
	return res.Token, res.Err
}

func (h *Hub) Leaderboard(ctx context.Context, limit int) ([]types.LeaderboardEntry, error) {
	return ask(ctx, h, func(r chan []types.LeaderboardEntry) HubMsg { return GetLeaderboard{Limit: limit, Reply: r} })
}

// Close shuts the hub and every player down.
func (h *Hub) Close() {
	h.cancel()
}

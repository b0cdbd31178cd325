package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/clicker-client/internal/api"
	"github.com/DoyleJ11/clicker-client/internal/apperr"
	"github.com/DoyleJ11/clicker-client/internal/config"
	"github.com/DoyleJ11/clicker-client/internal/credential"
	"github.com/DoyleJ11/clicker-client/internal/dependencies/clock"
	"github.com/DoyleJ11/clicker-client/internal/game"
	"github.com/DoyleJ11/clicker-client/internal/logging"
	"github.com/DoyleJ11/clicker-client/internal/ws"
	"github.com/DoyleJ11/clicker-client/pkg/types"
)

var ErrUnknownBackend = errors.New("unknown credential backend")

// Navigator routes the host to its unauthenticated entry point.
type Navigator interface {
	ToLogin()
}

type NavigatorFunc func()

func (f NavigatorFunc) ToLogin() { f() }

type options struct {
	persister  credential.Persister
	dialer     ws.Dialer
	clock      clock.Clock
	httpClient *http.Client
	navigator  Navigator
}

type Option func(*options)

// WithPersister overrides the backend named by the config.
func WithPersister(p credential.Persister) Option {
	return func(o *options) { o.persister = p }
}

func WithDialer(d ws.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

func WithNavigator(n Navigator) Option {
	return func(o *options) { o.navigator = n }
}

// Session is the explicit context shared by everything a logged-in client does.
type Session struct {
	cfg config.ClientConfig
	log *zap.Logger

	api   *api.Client
	creds *credential.Store
	conn  *ws.Manager
	game  *game.Store
	nav   Navigator

	closers []io.Closer
	subs    []*ws.Subscription

	mu        sync.Mutex
	connToken string // token the live connection was opened with

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the session: persister, request client, credential store, connection
// manager and game store, wired together.
func New(ctx context.Context, cfg config.ClientConfig, log *zap.Logger, opts ...Option) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	o := options{clock: clock.New(), navigator: NavigatorFunc(func() {})}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{cfg: cfg, log: log.Named("session"), nav: o.navigator}
	s.ctx, s.cancel = context.WithCancel(ctx)

	persister := o.persister
	if persister == nil {
		p, closer, err := openPersister(ctx, cfg)
		if err != nil {
			s.cancel()
			return nil, err
		}
		persister = p
		if closer != nil {
			s.closers = append(s.closers, closer)
		}
	}

	apiOpts := []api.Option{api.WithTimeout(cfg.RequestTimeout), api.WithLogger(log)}
	if o.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(o.httpClient))
	}
	s.api = api.NewClient(cfg.APIBaseURL, apiOpts...)
	s.creds = credential.NewStore(s.api, persister, o.clock, log)
	s.api.SetCredentials(s.creds)
	s.api.OnAuthLost(s.authLost)

	s.conn = ws.NewManager(ws.Options{
		URL:                  cfg.WSURL,
		ConnectTimeout:       cfg.ConnectTimeout,
		WriteTimeout:         cfg.WriteTimeout,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		BaseDelay:            cfg.ReconnectBaseDelay,
		Dialer:               o.dialer,
		Clock:                o.clock,
		Logger:               log,
	})
	s.game = game.NewStore(s.ctx, s.api, s.conn,
		game.WithLogger(log),
		game.WithLeaderboardLimit(cfg.LeaderboardLimit),
	)
	s.game.Attach(s.conn.Bus())
	s.subs = append(s.subs, s.conn.Subscribe(ws.EventDisconnected, s.onDisconnected))

	return s, nil
}

func openPersister(ctx context.Context, cfg config.ClientConfig) (credential.Persister, io.Closer, error) {
	switch cfg.CredentialBackend {
	case "", "file":
		dir := cfg.CredentialDir
		if dir == "" {
			dir = credential.DefaultDir()
		}
		return credential.NewFilePersister(dir), nil, nil
	case "redis":
		p, err := credential.NewRedisPersister(ctx, cfg.RedisURL, cfg.RedisNamespace)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis credentials: %w", err)
		}
		return p, p, nil
	case "memory":
		return credential.NewMemoryPersister(), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.CredentialBackend)
	}
}

func (s *Session) API() *api.Client               { return s.api }
func (s *Session) Credentials() *credential.Store { return s.creds }
func (s *Session) Connection() *ws.Manager        { return s.conn }
func (s *Session) Game() *game.Store              { return s.game }

// User returns the logged-in identity.
func (s *Session) User() (types.User, bool) {
	cred, ok := s.creds.Current()
	return cred.User, ok
}

// Register creates the account and then logs in with the same credentials.
func (s *Session) Register(ctx context.Context, req types.RegisterRequest) (types.User, error) {
	user, err := s.api.Register(ctx, req)
	if err != nil {
		return types.User{}, err
	}
	s.log.Info("registered", zap.Int64("user_id", user.ID), zap.String("nickname", user.Nickname))

	cred, err := s.Login(ctx, req.Nickname, req.Password)
	if err != nil {
		return user, fmt.Errorf("login after register: %w", err)
	}
	return cred.User, nil
}

// Login authenticates, then opens the live connection and loads the game. Only the
// authentication step can fail the login; the REST fallback covers a failed connection,
// whose error stays visible through Game().View().Error.
func (s *Session) Login(ctx context.Context, nickname, password string) (credential.Credential, error) {
	cred, err := s.creds.Login(ctx, nickname, password)
	if err != nil {
		return credential.Credential{}, err
	}
	s.start(ctx, cred.Token)
	return cred, nil
}

// Restore resumes a persisted session. It reports false when there is nothing to resume
// or the stored credential turned out to be dead.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	cred, ok := s.creds.Restore(ctx)
	if !ok {
		return false, nil
	}
	s.log.Info("restored credential", zap.Int64("user_id", cred.User.ID))
	if err := s.start(ctx, cred.Token); err != nil && !s.creds.LoggedIn() {
		return false, err
	}
	return true, nil
}

// start connects and loads. Failures are logged; the returned error is the load error.
func (s *Session) start(ctx context.Context, token string) error {
	if err := s.connect(ctx, token); err != nil {
		s.log.Warn("live connection unavailable, using REST", zap.Error(err))
	}
	if err := s.game.Load(ctx); err != nil {
		s.log.Warn("initial game load failed", zap.Error(err))
		return err
	}
	return nil
}

func (s *Session) connect(ctx context.Context, token string) error {
	s.mu.Lock()
	s.connToken = token
	s.mu.Unlock()
	return s.conn.Connect(ctx, token)
}

// RefreshToken rotates the token and moves the live connection onto it.
func (s *Session) RefreshToken(ctx context.Context) error {
	cred, err := s.creds.Refresh(ctx)
	if err != nil {
		s.authLost()
		return err
	}
	if s.conn.Status().State != ws.Disconnected {
		if err := s.connect(ctx, cred.Token); err != nil {
			s.log.Warn("reconnect with refreshed token", zap.Error(err))
		}
	}
	return nil
}

// Logout always succeeds locally.
func (s *Session) Logout(ctx context.Context) {
	s.conn.Disconnect()
	s.creds.Logout(ctx)
	s.game.Reset()
	s.log.Info("logged out")
	s.nav.ToLogin()
}

// authLost runs after a refresh failed and the credential is already gone.
func (s *Session) authLost() {
	s.log.Warn("authentication lost")
	s.conn.Disconnect()
	s.game.Reset()
	s.nav.ToLogin()
}

// onDisconnected renews the token when the server rejected the one the connection used.
func (s *Session) onDisconnected(ev ws.Event) {
	info, ok := ev.Payload.(ws.CloseInfo)
	if !ok || info.Code != ws.CloseTokenRejected {
		return
	}
	go s.reauthenticate()
}

func (s *Session) reauthenticate() {
	s.mu.Lock()
	stale := s.connToken
	s.mu.Unlock()

	fresh, err := s.creds.Renew(s.ctx, stale)
	if err != nil {
		if errors.Is(err, apperr.ErrAuth) {
			s.authLost()
		}
		return
	}
	s.log.Info("reconnecting with renewed token", logging.Token(fresh))
	if err := s.connect(s.ctx, fresh); err != nil {
		s.log.Warn("reconnect with renewed token", zap.Error(err))
	}
}

// Close tears the session down without touching persisted credentials.
func (s *Session) Close() error {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.game.Close()
	err := s.conn.Close()
	s.cancel()
	for _, c := range s.closers {
		err = multierr.Append(err, c.Close())
	}
	return err
}

package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/DoyleJ11/clicker-client/internal/apperr"
	"github.com/DoyleJ11/clicker-client/internal/dependencies/clock"
	"github.com/DoyleJ11/clicker-client/internal/logging"
	"github.com/DoyleJ11/clicker-client/pkg/types"
)

var ErrNoCredential = errors.New("not logged in")

// Authenticator is the slice of the request client the store needs.
// Every call takes the token explicitly so it never enters the 401 refresh path.
type Authenticator interface {
	Login(ctx context.Context, nickname, password string) (types.TokenResponse, error)
	CurrentUser(ctx context.Context, token string) (types.User, error)
	RefreshToken(ctx context.Context, token string) (types.TokenResponse, error)
}

type Credential struct {
	Token  string
	Expiry time.Time // zero when the server did not say
	User   types.User
}

func (c Credential) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && !now.Before(c.Expiry)
}

// Store owns the single active credential and its persisted copy.
type Store struct {
	auth    Authenticator
	persist Persister
	clock   clock.Clock
	log     *zap.Logger

	mu      sync.RWMutex
	cred    *Credential
	lastErr error

	refresh singleflight.Group
}

func NewStore(auth Authenticator, persist Persister, clk clock.Clock, log *zap.Logger) *Store {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		auth:    auth,
		persist: persist,
		clock:   clk,
		log:     log.Named("credential"),
	}
}

// Login authenticates and fetches the identity. Nothing is committed unless both succeed
// and the credential was persisted.
func (s *Store) Login(ctx context.Context, nickname, password string) (Credential, error) {
	cred, err := s.login(ctx, nickname, password)
	s.setErr(err)
	return cred, err
}

func (s *Store) login(ctx context.Context, nickname, password string) (Credential, error) {
	tok, err := s.auth.Login(ctx, nickname, password)
	if err != nil {
		return Credential{}, err
	}
	if tok.AccessToken == "" {
		return Credential{}, apperr.Auth("login", "server returned an empty token", nil)
	}

	user, err := s.auth.CurrentUser(ctx, tok.AccessToken)
	if err != nil {
		return Credential{}, fmt.Errorf("fetch identity: %w", err)
	}

	cred := Credential{Token: tok.AccessToken, Expiry: s.expiry(tok), User: user}
	if err := s.save(ctx, cred); err != nil {
		return Credential{}, fmt.Errorf("persist credential: %w", err)
	}

	s.mu.Lock()
	s.cred = &cred
	s.mu.Unlock()

	s.log.Info("logged in", zap.Int64("user_id", user.ID), zap.String("nickname", user.Nickname))
	return cred, nil
}

// Refresh rotates the token. Concurrent callers share one network call.
// A failed refresh destroys the credential.
func (s *Store) Refresh(ctx context.Context) (Credential, error) {
	return s.flight(ctx, "", true)
}

// Renew returns a token newer than stale, refreshing only if none exists yet.
func (s *Store) Renew(ctx context.Context, stale string) (string, error) {
	cred, err := s.flight(ctx, stale, false)
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

// flight runs at most one refresh at a time. The staleness check happens inside the
// flight so a caller arriving just after a rotation reuses its result.
func (s *Store) flight(ctx context.Context, stale string, force bool) (Credential, error) {
	v, err, shared := s.refresh.Do("refresh", func() (any, error) {
		if cur, ok := s.Current(); ok && !force && cur.Token != stale {
			return cur, nil
		}
		return s.doRefresh(context.WithoutCancel(ctx))
	})
	if shared {
		s.log.Debug("joined in-flight refresh")
	}
	s.setErr(err)
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

func (s *Store) doRefresh(ctx context.Context) (Credential, error) {
	cur, ok := s.Current()
	if !ok {
		return Credential{}, apperr.Auth("refresh", "", ErrNoCredential)
	}

	tok, err := s.auth.RefreshToken(ctx, cur.Token)
	if err == nil && tok.AccessToken == "" {
		err = errors.New("server returned an empty token")
	}
	if err != nil {
		s.log.Warn("token refresh failed", zap.Error(err))
		if cerr := s.Clear(ctx); cerr != nil {
			s.log.Warn("clear persisted credential", zap.Error(cerr))
		}
		return Credential{}, apperr.Auth("refresh", "", err)
	}

	next := cur
	next.Token = tok.AccessToken
	next.Expiry = s.expiry(tok)

	s.mu.Lock()
	if s.cred == nil || s.cred.Token != cur.Token {
		s.mu.Unlock()
		return Credential{}, apperr.Auth("refresh", "credential changed during refresh", nil)
	}
	s.cred = &next
	s.mu.Unlock()

	if err := s.persist.Set(ctx, KeyToken, next.Token); err != nil {
		s.log.Warn("persist refreshed token", zap.Error(err))
	}
	s.log.Info("token refreshed", logging.Token(next.Token))
	return next, nil
}

// LastError returns the error of the most recent login or refresh, nil after a success.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Store) ClearError() { s.setErr(nil) }

func (s *Store) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Logout drops the credential. It always succeeds locally.
func (s *Store) Logout(ctx context.Context) {
	if err := s.Clear(ctx); err != nil {
		s.log.Warn("clear persisted credential", zap.Error(err))
	}
}

// Clear drops the in-memory credential and deletes the persisted copy.
// The returned error only concerns persistence.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
	return s.persist.Delete(ctx, KeyToken, KeyUser)
}

// Restore re-hydrates the credential at startup. Malformed or half-present data is
// cleared silently and reported as logged out.
func (s *Store) Restore(ctx context.Context) (Credential, bool) {
	token, okToken, err := s.persist.Get(ctx, KeyToken)
	if err != nil {
		s.log.Warn("read persisted token", zap.Error(err))
		return Credential{}, false
	}
	raw, okUser, err := s.persist.Get(ctx, KeyUser)
	if err != nil {
		s.log.Warn("read persisted user", zap.Error(err))
		return Credential{}, false
	}
	if !okToken && !okUser {
		return Credential{}, false
	}

	var user types.User
	var bad error
	switch {
	case !okToken || token == "":
		bad = errors.New("token missing")
	case !okUser:
		bad = errors.New("user missing")
	default:
		bad = json.Unmarshal([]byte(raw), &user)
	}
	if bad != nil {
		s.log.Warn("discarding persisted credential", zap.Error(bad))
		if err := s.Clear(ctx); err != nil {
			s.log.Warn("clear persisted credential", zap.Error(err))
		}
		return Credential{}, false
	}

	cred := Credential{Token: token, User: user}
	s.mu.Lock()
	s.cred = &cred
	s.mu.Unlock()
	return cred, true
}

// UpdateUser replaces the stored identity.
func (s *Store) UpdateUser(ctx context.Context, user types.User) error {
	s.mu.Lock()
	if s.cred == nil {
		s.mu.Unlock()
		return ErrNoCredential
	}
	next := *s.cred
	next.User = user
	s.cred = &next
	s.mu.Unlock()

	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.persist.Set(ctx, KeyUser, string(data))
}

func (s *Store) Current() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return Credential{}, false
	}
	return *s.cred, true
}

// Token returns the bearer token, or "" when logged out.
func (s *Store) Token() string {
	cred, _ := s.Current()
	return cred.Token
}

func (s *Store) LoggedIn() bool {
	_, ok := s.Current()
	return ok
}

// save writes user then token; if the token write fails the user is rolled back so
// the pair is never half-persisted.
func (s *Store) save(ctx context.Context, cred Credential) error {
	data, err := json.Marshal(cred.User)
	if err != nil {
		return err
	}
	if err := s.persist.Set(ctx, KeyUser, string(data)); err != nil {
		return err
	}
	if err := s.persist.Set(ctx, KeyToken, cred.Token); err != nil {
		return multierr.Append(err, s.persist.Delete(ctx, KeyUser))
	}
	return nil
}

func (s *Store) expiry(tok types.TokenResponse) time.Time {
	if tok.ExpiresIn <= 0 {
		return time.Time{}
	}
	return s.clock.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
}

package credential

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/clicker-client/internal/apperr"
	"github.com/DoyleJ11/clicker-client/internal/dependencies/mocks"
	"github.com/DoyleJ11/clicker-client/pkg/types"
)

type fakeAuth struct {
	loginErr   error
	userErr    error
	refreshErr error

	refreshCalls atomic.Int32
	refreshGate  chan struct{} // when set, RefreshToken blocks until closed
	nextToken    atomic.Int32
}

func (f *fakeAuth) Login(_ context.Context, nickname, password string) (types.TokenResponse, error) {
	if f.loginErr != nil {
		return types.TokenResponse{}, f.loginErr
	}
	return types.TokenResponse{AccessToken: "tok-0", ExpiresIn: 60}, nil
}

func (f *fakeAuth) CurrentUser(_ context.Context, token string) (types.User, error) {
	if f.userErr != nil {
		return types.User{}, f.userErr
	}
	return types.User{ID: 7, Nickname: "alice"}, nil
}

func (f *fakeAuth) RefreshToken(_ context.Context, token string) (types.TokenResponse, error) {
	f.refreshCalls.Add(1)
	if f.refreshGate != nil {
		<-f.refreshGate
	}
	if f.refreshErr != nil {
		return types.TokenResponse{}, f.refreshErr
	}
	n := f.nextToken.Add(1)
	return types.TokenResponse{AccessToken: "tok-" + string(rune('0'+n))}, nil
}

func newTestStore(auth Authenticator) (*Store, *MemoryPersister, *mocks.MockClock) {
	p := NewMemoryPersister()
	clk := mocks.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewStore(auth, p, clk, zap.NewNop()), p, clk
}

func TestLogin_CommitsAndPersists(t *testing.T) {
	s, p, clk := newTestStore(&fakeAuth{})

	cred, err := s.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)

	assert.Equal(t, "tok-0", cred.Token)
	assert.Equal(t, int64(7), cred.User.ID)
	assert.Equal(t, clk.Now().Add(time.Minute), cred.Expiry)
	assert.Equal(t, "tok-0", s.Token())

	tok, ok, _ := p.Get(context.Background(), KeyToken)
	assert.True(t, ok)
	assert.Equal(t, "tok-0", tok)
	raw, ok, _ := p.Get(context.Background(), KeyUser)
	assert.True(t, ok)
	assert.JSONEq(t, `{"id":7,"nickname":"alice"}`, raw)
}

func TestLogin_IdentityFailureLeavesNothingBehind(t *testing.T) {
	s, p, _ := newTestStore(&fakeAuth{userErr: apperr.Request("me", 500, "boom", nil)})

	_, err := s.Login(context.Background(), "alice", "pw")
	require.Error(t, err)

	assert.False(t, s.LoggedIn())
	_, ok, _ := p.Get(context.Background(), KeyToken)
	assert.False(t, ok)
	_, ok, _ = p.Get(context.Background(), KeyUser)
	assert.False(t, ok)
}

func TestLogin_BadCredentials(t *testing.T) {
	s, _, _ := newTestStore(&fakeAuth{loginErr: apperr.Auth("login", "Incorrect nickname or password", nil)})

	_, err := s.Login(context.Background(), "alice", "nope")
	require.ErrorIs(t, err, apperr.ErrAuth)
	assert.Equal(t, "Incorrect nickname or password", apperr.Message(err))
}

func TestLastError_TracksAuthOutcome(t *testing.T) {
	auth := &fakeAuth{loginErr: apperr.Auth("login", "Incorrect nickname or password", nil)}
	s, _, _ := newTestStore(auth)
	assert.NoError(t, s.LastError())

	_, err := s.Login(context.Background(), "alice", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, s.LastError(), apperr.ErrAuth)

	s.ClearError()
	assert.NoError(t, s.LastError())

	_, _ = s.Login(context.Background(), "alice", "nope")
	require.Error(t, s.LastError())
	auth.loginErr = nil
	_, err = s.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.NoError(t, s.LastError())

	auth.refreshErr = apperr.Auth("refresh", "expired", nil)
	_, err = s.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, s.LastError(), apperr.ErrAuth)
}

type failingTokenPersister struct{ *MemoryPersister }

func (f failingTokenPersister) Set(ctx context.Context, key, value string) error {
	if key == KeyToken {
		return errors.New("disk full")
	}
	return f.MemoryPersister.Set(ctx, key, value)
}

func TestLogin_PersistFailureRollsBackUser(t *testing.T) {
	mem := NewMemoryPersister()
	s := NewStore(&fakeAuth{}, failingTokenPersister{mem}, nil, nil)

	_, err := s.Login(context.Background(), "alice", "pw")
	require.Error(t, err)

	assert.False(t, s.LoggedIn())
	_, ok, _ := mem.Get(context.Background(), KeyUser)
	assert.False(t, ok, "user must not be persisted without its token")
}

func TestRenew_ConcurrentCallersShareOneRefresh(t *testing.T) {
	auth := &fakeAuth{refreshGate: make(chan struct{})}
	s, _, _ := newTestStore(auth)
	_, err := s.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)

	const callers = 5
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = s.Renew(context.Background(), "tok-0")
		}(i)
	}

	require.Eventually(t, func() bool { return auth.refreshCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(auth.refreshGate)
	wg.Wait()

	assert.Equal(t, int32(1), auth.refreshCalls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "tok-1", tokens[i])
	}
	assert.Equal(t, "tok-1", s.Token())
}

func TestRenew_SkipsNetworkWhenAlreadyRotated(t *testing.T) {
	auth := &fakeAuth{}
	s, _, _ := newTestStore(auth)
	_, err := s.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)

	tok, err := s.Renew(context.Background(), "tok-0")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// a late 401 carrying the old token must not rotate again
	tok, err = s.Renew(context.Background(), "tok-0")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int32(1), auth.refreshCalls.Load())
}

func TestRefresh_FailureClearsCredential(t *testing.T) {
	auth := &fakeAuth{refreshErr: apperr.Auth("refresh", "expired", nil)}
	s, p, _ := newTestStore(auth)
	_, err := s.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)

	_, err = s.Refresh(context.Background())
	require.ErrorIs(t, err, apperr.ErrAuth)

	assert.False(t, s.LoggedIn())
	_, ok, _ := p.Get(context.Background(), KeyToken)
	assert.False(t, ok)
}

func TestRefresh_WithoutCredential(t *testing.T) {
	s, _, _ := newTestStore(&fakeAuth{})

	_, err := s.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoCredential)
	require.ErrorIs(t, err, apperr.ErrAuth)
}

func TestLogout_ClearsEverything(t *testing.T) {
	s, p, _ := newTestStore(&fakeAuth{})
	_, err := s.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)

	s.Logout(context.Background())

	assert.False(t, s.LoggedIn())
	assert.Equal(t, "", s.Token())
	_, ok, _ := p.Get(context.Background(), KeyUser)
	assert.False(t, ok)
}

func TestRestore(t *testing.T) {
	cases := []struct {
		name     string
		seed     map[string]string
		wantOK   bool
		wantLeft bool // anything left in persistence afterwards
	}{
		{"both present", map[string]string{KeyToken: "t", KeyUser: `{"id":3,"nickname":"bob"}`}, true, true},
		{"nothing stored", map[string]string{}, false, false},
		{"token only", map[string]string{KeyToken: "t"}, false, false},
		{"user only", map[string]string{KeyUser: `{"id":3}`}, false, false},
		{"malformed user", map[string]string{KeyToken: "t", KeyUser: `{"id":`}, false, false},
		{"empty token", map[string]string{KeyToken: "", KeyUser: `{"id":3}`}, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, p, _ := newTestStore(&fakeAuth{})
			for k, v := range tc.seed {
				require.NoError(t, p.Set(context.Background(), k, v))
			}

			cred, ok := s.Restore(context.Background())
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantOK, s.LoggedIn())
			if tc.wantOK {
				assert.Equal(t, "t", cred.Token)
				assert.Equal(t, int64(3), cred.User.ID)
			}

			_, left, _ := p.Get(context.Background(), KeyToken)
			assert.Equal(t, tc.wantLeft, left)
		})
	}
}

func TestUpdateUser(t *testing.T) {
	s, p, _ := newTestStore(&fakeAuth{})
	require.ErrorIs(t, s.UpdateUser(context.Background(), types.User{ID: 1}), ErrNoCredential)

	_, err := s.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	require.NoError(t, s.UpdateUser(context.Background(), types.User{ID: 7, Nickname: "alice2"}))

	cred, _ := s.Current()
	assert.Equal(t, "alice2", cred.User.Nickname)
	raw, _, _ := p.Get(context.Background(), KeyUser)
	assert.JSONEq(t, `{"id":7,"nickname":"alice2"}`, raw)
}

func TestCredentialExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, Credential{}.Expired(now))
	assert.True(t, Credential{Expiry: now}.Expired(now))
	assert.False(t, Credential{Expiry: now.Add(time.Second)}.Expired(now))
}

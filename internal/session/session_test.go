package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/DoyleJ11/clicker-client/internal/apperr"
	"github.com/DoyleJ11/clicker-client/internal/config"
	"github.com/DoyleJ11/clicker-client/internal/credential"
	"github.com/DoyleJ11/clicker-client/internal/dependencies/mocks"
	"github.com/DoyleJ11/clicker-client/internal/sandbox/httpapi"
	"github.com/DoyleJ11/clicker-client/internal/sandbox/hub"
	"github.com/DoyleJ11/clicker-client/internal/session"
	"github.com/DoyleJ11/clicker-client/pkg/types"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type sandbox struct {
	srv   *httptest.Server
	hub   *hub.Hub
	clock *mocks.MockClock
}

func newSandbox(t *testing.T) *sandbox {
	t.Helper()
	return newWrappedSandbox(t, nil)
}

// newWrappedSandbox runs the sandbox behind wrap, if set.
func newWrappedSandbox(t *testing.T, wrap func(http.Handler) http.Handler) *sandbox {
	t.Helper()
	clk := mocks.NewMockClock(time.Now())
	h := hub.NewHub(context.Background(), hub.Options{
		TokenTTL:     30 * time.Minute,
		RefreshGrace: 24 * time.Hour,
		BcryptCost:   bcrypt.MinCost,
		Clock:        clk,
	})
	var handler http.Handler = httpapi.SetupRoutes(h, zap.NewNop())
	if wrap != nil {
		handler = wrap(handler)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		h.Close()
	})
	return &sandbox{srv: srv, hub: h, clock: clk}
}

func (sb *sandbox) config() config.ClientConfig {
	return config.ClientConfig{
		APIBaseURL:           sb.srv.URL,
		WSURL:                "ws" + strings.TrimPrefix(sb.srv.URL, "http") + "/game/ws",
		RequestTimeout:       2 * time.Second,
		ConnectTimeout:       2 * time.Second,
		WriteTimeout:         time.Second,
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   50 * time.Millisecond,
		CredentialBackend:    "memory",
		LeaderboardLimit:     10,
	}
}

type harness struct {
	*session.Session
	persist  *credential.MemoryPersister
	navCalls *atomic.Int32
}

func (sb *sandbox) open(t *testing.T, persist *credential.MemoryPersister) harness {
	t.Helper()
	if persist == nil {
		persist = credential.NewMemoryPersister()
	}
	var calls atomic.Int32
	s, err := session.New(context.Background(), sb.config(), zap.NewNop(),
		session.WithPersister(persist),
		session.WithNavigator(session.NavigatorFunc(func() { calls.Add(1) })),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return harness{Session: s, persist: persist, navCalls: &calls}
}

func TestRegister_LogsInConnectsAndLoads(t *testing.T) {
	sb := newSandbox(t)
	s := sb.open(t, nil)

	user, err := s.Register(context.Background(), types.RegisterRequest{Nickname: "alice", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Nickname)

	me, ok := s.User()
	require.True(t, ok)
	assert.Equal(t, user.ID, me.ID)

	require.Eventually(t, s.Connection().IsConnected, waitFor, tick)
	require.Eventually(t, func() bool { return s.Game().View().Connected }, waitFor, tick)

	v := s.Game().View()
	assert.NotEmpty(t, v.Items)
	assert.Equal(t, int64(1), v.PointsPerClick)
	require.Len(t, v.Leaderboard, 1)
	assert.Equal(t, "alice", v.Leaderboard[0].Nickname)

	tok, ok, _ := s.persist.Get(context.Background(), credential.KeyToken)
	assert.True(t, ok)
	assert.Equal(t, s.Credentials().Token(), tok)
}

func TestRegister_DuplicateSurfacesServerMessage(t *testing.T) {
	sb := newSandbox(t)
	_, err := sb.hub.Register(context.Background(), "alice", "", "secret")
	require.NoError(t, err)

	s := sb.open(t, nil)
	_, err = s.Register(context.Background(), types.RegisterRequest{Nickname: "alice", Password: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nickname already registered")
	assert.False(t, s.Credentials().LoggedIn())
}

func TestRegister_LoginFailureSurfacesLoginError(t *testing.T) {
	sb := newWrappedSandbox(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/user/login" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"detail":"Login unavailable"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	s := sb.open(t, nil)

	user, err := s.Register(context.Background(), types.RegisterRequest{Nickname: "alice", Password: "secret"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrRequest)
	assert.Contains(t, err.Error(), "login after register")
	assert.Equal(t, "Login unavailable", apperr.Message(err))
	assert.Equal(t, http.StatusInternalServerError, apperr.StatusOf(err))
	assert.Equal(t, "alice", user.Nickname)

	assert.False(t, s.Credentials().LoggedIn())
	assert.False(t, s.Connection().IsConnected())
	_, ok, err := s.persist.Get(context.Background(), credential.KeyToken)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLogin_WrongPassword(t *testing.T) {
	sb := newSandbox(t)
	_, err := sb.hub.Register(context.Background(), "alice", "", "secret")
	require.NoError(t, err)

	s := sb.open(t, nil)
	_, err = s.Login(context.Background(), "alice", "nope")
	require.Error(t, err)
	assert.False(t, s.Credentials().LoggedIn())
	assert.False(t, s.Connection().IsConnected())
}

func TestPlay_ClickAndBuyOverLiveConnection(t *testing.T) {
	sb := newSandbox(t)
	s := sb.open(t, nil)
	_, err := s.Register(context.Background(), types.RegisterRequest{Nickname: "alice", Password: "secret"})
	require.NoError(t, err)
	require.Eventually(t, s.Connection().IsConnected, waitFor, tick)

	for i := 0; i < 15; i++ {
		require.NoError(t, s.Game().Click(context.Background()))
	}
	require.Eventually(t, func() bool { return s.Game().View().Clicks == 15 }, waitFor, tick)
	assert.Equal(t, int64(15), s.Game().View().Points)

	res, err := s.Game().BuyItem(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, types.PurchaseResult{}, res, "live purchases answer asynchronously")

	require.Eventually(t, func() bool {
		v := s.Game().View()
		return v.UserItems[1] == 1 && v.PointsPerClick == 2 && v.Points == 0
	}, waitFor, tick)

	// the server agrees
	gs, err := s.API().GameState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), gs.Points)
	assert.Equal(t, int64(2), gs.PointsPerClick)
}

func TestPlay_RejectedPurchaseKeepsNumbers(t *testing.T) {
	sb := newSandbox(t)
	s := sb.open(t, nil)
	_, err := s.Register(context.Background(), types.RegisterRequest{Nickname: "alice", Password: "secret"})
	require.NoError(t, err)
	require.Eventually(t, s.Connection().IsConnected, waitFor, tick)

	_, err = s.Game().BuyItem(context.Background(), 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.Game().View().Error == "Not enough points" }, waitFor, tick)
	v := s.Game().View()
	assert.Equal(t, int64(0), v.Points)
	assert.Equal(t, int64(0), v.UserItems[1])
}

func TestPlay_RESTFallbackWhenDisconnected(t *testing.T) {
	sb := newSandbox(t)
	s := sb.open(t, nil)
	_, err := s.Register(context.Background(), types.RegisterRequest{Nickname: "alice", Password: "secret"})
	require.NoError(t, err)
	require.Eventually(t, s.Connection().IsConnected, waitFor, tick)

	s.Connection().Disconnect()
	require.NoError(t, s.Game().Click(context.Background()))

	v := s.Game().View()
	assert.Equal(t, int64(1), v.Points)
	assert.Equal(t, int64(1), v.Clicks)
	assert.False(t, v.Connected)
}

func TestRefreshToken_MovesConnectionToNewToken(t *testing.T) {
	sb := newSandbox(t)
	s := sb.open(t, nil)
	_, err := s.Register(context.Background(), types.RegisterRequest{Nickname: "alice", Password: "secret"})
	require.NoError(t, err)
	require.Eventually(t, s.Connection().IsConnected, waitFor, tick)
	old := s.Credentials().Token()

	require.NoError(t, s.RefreshToken(context.Background()))
	assert.NotEqual(t, old, s.Credentials().Token())
	require.Eventually(t, s.Connection().IsConnected, waitFor, tick)

	// the old token is revoked, the session keeps working on the new one
	_, err = s.API().CurrentUser(context.Background(), old)
	require.Error(t, err)
	require.NoError(t, s.Game().Click(context.Background()))
	require.Eventually(t, func() bool { return s.Game().View().Clicks == 1 }, waitFor, tick)
}

func TestLogout_ClearsEverythingAndNavigates(t *testing.T) {
	sb := newSandbox(t)
	s := sb.open(t, nil)
	_, err := s.Register(context.Background(), types.RegisterRequest{Nickname: "alice", Password: "secret"})
	require.NoError(t, err)
	require.Eventually(t, s.Connection().IsConnected, waitFor, tick)
	require.NoError(t, s.Game().Click(context.Background()))
	require.Eventually(t, func() bool { return s.Game().View().Clicks == 1 }, waitFor, tick)

	s.Logout(context.Background())

	assert.False(t, s.Credentials().LoggedIn())
	assert.False(t, s.Connection().IsConnected())
	assert.Equal(t, int32(1), s.navCalls.Load())

	v := s.Game().View()
	assert.Equal(t, int64(0), v.Points)
	assert.Empty(t, v.Items)

	_, ok, _ := s.persist.Get(context.Background(), credential.KeyToken)
	assert.False(t, ok)
	_, ok, _ = s.persist.Get(context.Background(), credential.KeyUser)
	assert.False(t, ok)
}

func TestRestore_ResumesPersistedSession(t *testing.T) {
	sb := newSandbox(t)
	first := sb.open(t, nil)
	_, err := first.Register(context.Background(), types.RegisterRequest{Nickname: "alice", Password: "secret"})
	require.NoError(t, err)
	require.Eventually(t, first.Connection().IsConnected, waitFor, tick)
	for i := 0; i < 3; i++ {
		require.NoError(t, first.Game().Click(context.Background()))
	}
	require.Eventually(t, func() bool { return first.Game().View().Clicks == 3 }, waitFor, tick)
	require.NoError(t, first.Close())

	second := sb.open(t, first.persist)
	ok, err := second.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	user, _ := second.User()
	assert.Equal(t, "alice", user.Nickname)
	assert.Equal(t, int64(3), second.Game().View().Points)
	require.Eventually(t, second.Connection().IsConnected, waitFor, tick)
}

func TestRestore_NothingPersisted(t *testing.T) {
	sb := newSandbox(t)
	s := sb.open(t, nil)

	ok, err := s.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, s.Connection().IsConnected())
}

func TestRestore_ExpiredTokenIsRenewed(t *testing.T) {
	sb := newSandbox(t)
	first := sb.open(t, nil)
	_, err := first.Register(context.Background(), types.RegisterRequest{Nickname: "alice", Password: "secret"})
	require.NoError(t, err)
	stale := first.Credentials().Token()
	require.NoError(t, first.Close())

	// past the token lifetime, inside the refresh grace window
	sb.clock.Advance(time.Hour)

	second := sb.open(t, first.persist)
	ok, err := second.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return second.Connection().IsConnected() && second.Credentials().Token() != stale
	}, waitFor, tick)
	assert.NotEmpty(t, second.Game().View().Items)
	assert.Equal(t, int32(0), second.navCalls.Load())

	tok, _, _ := second.persist.Get(context.Background(), credential.KeyToken)
	assert.Equal(t, second.Credentials().Token(), tok)
}

func TestRestore_DeadTokenLogsOut(t *testing.T) {
	sb := newSandbox(t)
	first := sb.open(t, nil)
	_, err := first.Register(context.Background(), types.RegisterRequest{Nickname: "alice", Password: "secret"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// beyond the refresh grace window
	sb.clock.Advance(48 * time.Hour)

	second := sb.open(t, first.persist)
	ok, err := second.Restore(context.Background())
	require.Error(t, err)
	assert.False(t, ok)

	require.Eventually(t, func() bool { return !second.Credentials().LoggedIn() }, waitFor, tick)
	require.Eventually(t, func() bool { return second.navCalls.Load() >= 1 }, waitFor, tick)
	_, stored, _ := second.persist.Get(context.Background(), credential.KeyToken)
	assert.False(t, stored)
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := config.ClientConfig{CredentialBackend: "floppy"}
	_, err := session.New(context.Background(), cfg, nil)
	require.ErrorIs(t, err, session.ErrUnknownBackend)
}

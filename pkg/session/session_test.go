package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oose/oose-sdk-go/internal/mock"
	"github.com/oose/oose-sdk-go/pkg/api"
	"github.com/oose/oose-sdk-go/pkg/session"
)

type fakeResolver struct {
	addrs []string
	err   error
	asked []string
}

func (r *fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	r.asked = append(r.asked, host)
	return r.addrs, r.err
}

func newManager(t *testing.T, opts ...session.Option) (*session.Manager, *mock.Server, string, int) {
	t.Helper()
	srv, host, port := mock.Start(t, mock.Options{})
	cache := api.NewCache(api.DefaultConfig(), nil)
	opts = append([]session.Option{session.WithCredentials(srv.Username(), srv.Password())}, opts...)
	return session.New(cache, api.TypePrism, opts...), srv, host, port
}

func connectAndLogin(t *testing.T, m *session.Manager, host string, port int) *session.Session {
	t.Helper()
	ctx := context.Background()
	_, err := m.Connect(ctx, host, port)
	require.NoError(t, err)
	sess, err := m.Login(ctx, "", "")
	require.NoError(t, err)
	return sess
}

func TestConnect_explicitHost(t *testing.T) {
	m, _, host, port := newManager(t)
	require.False(t, m.IsConnected())

	got, err := m.Connect(context.Background(), host, port)
	require.NoError(t, err)
	require.Equal(t, host, got)
	require.True(t, m.IsConnected())
}

func TestConnect_resolvesDomain(t *testing.T) {
	_, host, port := mock.Start(t, mock.Options{})
	r := &fakeResolver{addrs: []string{host}}
	m := session.New(api.NewCache(api.DefaultConfig(), nil), api.TypePrism,
		session.WithDomain("cdn.example.test"),
		session.WithDestination("", port),
		session.WithResolver(r),
	)

	got, err := m.Connect(context.Background(), "", 0)
	require.NoError(t, err)
	require.Equal(t, host, got)
	require.Equal(t, []string{"cdn.example.test"}, r.asked)
}

func TestConnect_randomPickStaysInResolvedSet(t *testing.T) {
	addrs := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
	m := session.New(api.NewCache(api.DefaultConfig(), nil), api.TypePrism,
		session.WithDomain("cdn.example.test"),
		session.WithResolver(&fakeResolver{addrs: addrs}),
	)
	for i := 0; i < 20; i++ {
		got, err := m.Connect(context.Background(), "", 5971)
		require.NoError(t, err)
		require.Contains(t, addrs, got)
	}
}

func TestConnect_resolveFailures(t *testing.T) {
	m := session.New(api.NewCache(api.DefaultConfig(), nil), api.TypePrism,
		session.WithDomain("cdn.example.test"),
		session.WithResolver(&fakeResolver{}),
	)
	_, err := m.Connect(context.Background(), "", 0)
	require.True(t, api.IsUser(err))
	require.False(t, m.IsConnected())

	m = session.New(api.NewCache(api.DefaultConfig(), nil), api.TypePrism,
		session.WithDomain("cdn.example.test"),
		session.WithResolver(&fakeResolver{err: errors.New("lookup cdn.example.test: no such host")}),
	)
	_, err = m.Connect(context.Background(), "", 0)
	require.True(t, api.IsNetwork(err))
}

func TestLogin(t *testing.T) {
	m, _, host, port := newManager(t)

	_, err := m.Login(context.Background(), "", "")
	require.True(t, api.IsUser(err))
	require.Equal(t, "Not connected", err.Error())

	sess := connectAndLogin(t, m, host, port)
	require.NotEmpty(t, sess.Token)
	require.False(t, sess.Static())
	require.True(t, m.IsAuthenticated())
	require.Equal(t, sess.Token, m.Session().Token)
}

func TestLogin_badPassword(t *testing.T) {
	m, _, host, port := newManager(t)
	_, err := m.Connect(context.Background(), host, port)
	require.NoError(t, err)

	_, err = m.Login(context.Background(), "", "wrong")
	require.True(t, api.IsUser(err))
	require.Equal(t, "Invalid password", err.Error())
	require.False(t, m.IsAuthenticated())
}

func TestPrepare_requiresConnectionAndAuth(t *testing.T) {
	m, _, host, port := newManager(t)

	_, err := m.Prepare(context.Background())
	require.EqualError(t, err, "Not connected")

	_, err = m.Connect(context.Background(), host, port)
	require.NoError(t, err)
	_, err = m.Prepare(context.Background())
	require.EqualError(t, err, "Not authenticated")
	require.True(t, api.IsUser(err))
}

func TestPrepare_freshSessionNotRenewed(t *testing.T) {
	m, _, host, port := newManager(t)
	sess := connectAndLogin(t, m, host, port)

	c, err := m.Prepare(context.Background())
	require.NoError(t, err)
	require.Equal(t, sess.Token, c.Header(api.DefaultSessionTokenName))
	require.Equal(t, sess.Token, m.Session().Token)
}

func TestPrepare_staticSessionNeverRenewed(t *testing.T) {
	m, _, host, port := newManager(t, session.WithClock(func() time.Time {
		return time.Now().Add(100 * time.Hour)
	}))
	_, err := m.Connect(context.Background(), host, port)
	require.NoError(t, err)

	require.True(t, m.SetSession("static-token").IsAuthenticated())
	c, err := m.Prepare(context.Background())
	require.NoError(t, err)
	require.Equal(t, "static-token", c.Header(api.DefaultSessionTokenName))
	require.True(t, m.Session().Static())
}

func TestPrepare_renewsExpiringSession(t *testing.T) {
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	m, _, host, port := newManager(t, session.WithClock(clock))
	old := connectAndLogin(t, m, host, port)

	// Inside the renewal margin of a one hour session.
	mu.Lock()
	now = now.Add(mock.DefaultTTL - session.RenewalMargin + time.Minute)
	mu.Unlock()

	c, err := m.Prepare(context.Background())
	require.NoError(t, err)
	renewed := m.Session()
	require.NotEqual(t, old.Token, renewed.Token)
	require.Equal(t, renewed.Token, c.Header(api.DefaultSessionTokenName))
	require.WithinDuration(t, clock().Add(session.RenewalLifetime), renewed.Expires, 2*time.Second)

	// The renewed session is usable.
	var out json.RawMessage
	require.NoError(t, c.Call(context.Background(), "/user/session/validate", nil, &out))
}

func TestPrepare_concurrentRenewalHappensOnce(t *testing.T) {
	later := time.Now().Add(mock.DefaultTTL)
	m, _, host, port := newManager(t, session.WithClock(func() time.Time { return later }))
	connectAndLogin(t, m, host, port)

	const n = 16
	tokens := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.Prepare(context.Background())
			errs[i] = err
			if err == nil {
				tokens[i] = c.Header(api.DefaultSessionTokenName)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, tokens[0], tokens[i])
	}
	require.Equal(t, m.Session().Token, tokens[0])
}

func TestRenew_failurePropagates(t *testing.T) {
	m, _, host, port := newManager(t)
	_, err := m.Connect(context.Background(), host, port)
	require.NoError(t, err)
	m.SetSession("not-a-session")

	_, err = m.Renew(context.Background())
	require.True(t, api.IsUser(err))
	require.Equal(t, "Invalid session", err.Error())
	require.Equal(t, "not-a-session", m.Session().Token)
}

func TestLogout(t *testing.T) {
	m, _, host, port := newManager(t)
	connectAndLogin(t, m, host, port)

	out, err := m.Logout(context.Background())
	require.NoError(t, err)
	require.Contains(t, string(out), "User logged out")
	require.False(t, m.IsAuthenticated())
	require.Nil(t, m.Session())

	_, err = m.Prepare(context.Background())
	require.EqualError(t, err, "Not authenticated")
}

func TestPasswordResetAndSessionUpdate(t *testing.T) {
	m, srv, host, port := newManager(t)
	connectAndLogin(t, m, host, port)

	out, err := m.PasswordReset(context.Background())
	require.NoError(t, err)
	var reset struct {
		Success  string `json:"success"`
		Password string `json:"password"`
	}
	require.NoError(t, json.Unmarshal(out, &reset))
	require.Equal(t, srv.Password(), reset.Password)

	sess, err := m.SessionUpdate(context.Background(), map[string]string{"theme": "dark"})
	require.NoError(t, err)
	require.JSONEq(t, `{"theme":"dark"}`, string(sess.Data))
	require.JSONEq(t, `{"theme":"dark"}`, string(m.Session().Data))
}

func TestTokenHook_followsSessionChanges(t *testing.T) {
	var got []string
	hook := session.WithTokenHook(func(_ context.Context, token string) error {
		got = append(got, token)
		return nil
	})
	now := time.Now()
	m, _, host, port := newManager(t, hook, session.WithClock(func() time.Time { return now }))
	sess := connectAndLogin(t, m, host, port)
	require.Equal(t, []string{sess.Token}, got)

	renewed, err := m.Renew(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{sess.Token, renewed.Token}, got)

	_, err = m.Logout(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{sess.Token, renewed.Token, ""}, got)
}

func TestTokenHook_errorFailsLogin(t *testing.T) {
	m, _, host, port := newManager(t, session.WithTokenHook(func(context.Context, string) error {
		return errors.New("store down")
	}))
	_, err := m.Connect(context.Background(), host, port)
	require.NoError(t, err)

	_, err = m.Login(context.Background(), "", "")
	require.ErrorContains(t, err, "store down")
}

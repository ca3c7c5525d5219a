// Package session manages the authenticated session a facade holds against
// one destination type: connecting, logging in, renewing the session before
// it expires and logging out.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oose/oose-sdk-go/pkg/api"
)

// RenewalMargin is how long before expiry a session is renewed.
const RenewalMargin = 300 * time.Second

// RenewalLifetime is the lifetime requested from the service on renewal.
const RenewalLifetime = time.Hour

// Session is the authenticated identity returned by the service.
type Session struct {
	Token   string          `json:"token"`
	Expires time.Time       `json:"expires"`
	Data    json.RawMessage `json:"data,omitempty"`
	ID      int64           `json:"id,omitempty"`
	IP      string          `json:"ip,omitempty"`
}

// Static reports whether the session has no known expiry. Static sessions
// are seeded with SetSession and are never renewed.
func (s *Session) Static() bool {
	return s.Expires.IsZero()
}

// expiring reports whether the session must be renewed before use at now.
func (s *Session) expiring(now time.Time) bool {
	if s.Static() {
		return false
	}
	return now.Add(RenewalMargin).After(s.Expires)
}

// Resolver looks up the addresses of a domain.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Manager owns the session of one facade. It is safe for concurrent use;
// renewal is serialised so concurrent callers of an expiring session
// trigger a single renewal call.
type Manager struct {
	cache  *api.Cache
	typ    string
	logger *zap.Logger

	domain      string
	host        string
	port        int
	username    string
	password    string
	tokenHeader string
	resolver    Resolver
	now         func() time.Time
	tokenHooks  []TokenHook

	renewMu sync.Mutex

	mu            sync.RWMutex
	client        *api.Client
	connected     bool
	authenticated bool
	session       *Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithDomain sets the domain resolved by Connect when no host is given.
func WithDomain(domain string) Option {
	return func(m *Manager) { m.domain = domain }
}

// WithCredentials sets the credentials Login falls back to.
func WithCredentials(username, password string) Option {
	return func(m *Manager) {
		m.username = username
		m.password = password
	}
}

// WithDestination pins the host and port used by Connect when it is called
// without an explicit host.
func WithDestination(host string, port int) Option {
	return func(m *Manager) {
		m.host = host
		m.port = port
	}
}

// WithTokenHeader overrides the header carrying the session token.
func WithTokenHeader(name string) Option {
	return func(m *Manager) { m.tokenHeader = name }
}

// WithResolver replaces the DNS resolver used by Connect.
func WithResolver(r Resolver) Option {
	return func(m *Manager) { m.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// TokenHook is told the current session token whenever it changes: after
// Login, after every successful renewal, and with "" after Logout.
type TokenHook func(ctx context.Context, token string) error

// WithTokenHook registers fn as a TokenHook. A hook error fails Login; after
// a renewal or logout it is only logged.
func WithTokenHook(fn TokenHook) Option {
	return func(m *Manager) { m.tokenHooks = append(m.tokenHooks, fn) }
}

// WithClock replaces time.Now. Used by tests that exercise renewal.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager for destination type typ. Clients are drawn from
// cache, which is shared with every other facade of the process.
func New(cache *api.Cache, typ string, opts ...Option) *Manager {
	m := &Manager{
		cache:       cache,
		typ:         typ,
		logger:      zap.NewNop(),
		tokenHeader: cache.Config().SessionTokenName,
		resolver:    net.DefaultResolver,
		now:         time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.logger = m.logger.With(zap.String("type", typ))
	return m
}

// Type returns the destination type of the manager.
func (m *Manager) Type() string { return m.typ }

// Domain returns the configured public domain.
func (m *Manager) Domain() string { return m.domain }

// Cache returns the client cache the manager draws from.
func (m *Manager) Cache() *api.Cache { return m.cache }

// Logger returns the manager's logger.
func (m *Manager) Logger() *zap.Logger { return m.logger }

// TokenHeader returns the name of the session token header.
func (m *Manager) TokenHeader() string { return m.tokenHeader }

// IsConnected reports whether Connect has succeeded.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// IsAuthenticated reports whether a session is held.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.authenticated
}

// Session returns a copy of the current session, or nil.
func (m *Manager) Session() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// Connect selects the destination. An explicit host is used as given (port
// 0 keeps the configured port). Otherwise the pinned destination is used,
// or one address of the configured domain is picked at random.
func (m *Manager) Connect(ctx context.Context, host string, port int) (string, error) {
	if host == "" {
		host = m.host
		if port == 0 {
			port = m.port
		}
	}
	if host == "" && m.domain != "" {
		picked, err := m.pick(ctx)
		if err != nil {
			return "", err
		}
		host = picked
	}
	if port == 0 {
		port = m.port
	}

	client, err := m.cache.Get(m.typ, api.Options{Host: host, Port: port})
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.client = client
	m.connected = true
	m.mu.Unlock()

	m.logger.Debug("connected", zap.String("addr", client.Destination().Addr()))
	return client.Destination().Host, nil
}

// pick resolves the domain and returns one address uniformly at random.
func (m *Manager) pick(ctx context.Context) (string, error) {
	addrs, err := m.resolver.LookupHost(ctx, m.domain)
	if err != nil {
		return "", api.Classify(fmt.Errorf("resolve %s: %w", m.domain, err))
	}
	if len(addrs) == 0 {
		return "", api.UserErrorf("No addresses found for %s", m.domain)
	}
	return addrs[rand.IntN(len(addrs))], nil
}

// Login posts credentials to /user/login and stores the returned session.
// Empty arguments fall back to the configured credentials.
func (m *Manager) Login(ctx context.Context, username, password string) (*Session, error) {
	client, err := m.base()
	if err != nil {
		return nil, err
	}
	if username == "" {
		username = m.username
	}
	if password == "" {
		password = m.password
	}

	var out struct {
		Session *Session `json:"session"`
	}
	err = client.Call(ctx, "/user/login", map[string]string{
		"username": username,
		"password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Session == nil || out.Session.Token == "" {
		return nil, api.UserError("Login failed, no session")
	}

	m.mu.Lock()
	m.session = out.Session
	m.authenticated = true
	m.mu.Unlock()

	if err := m.publish(ctx, out.Session.Token); err != nil {
		return nil, fmt.Errorf("publish session token: %w", err)
	}
	m.logger.Info("logged in", zap.String("username", username))
	return out.Session, nil
}

// SetSession seeds a static session token without contacting the service.
func (m *Manager) SetSession(token string) *Manager {
	m.mu.Lock()
	m.session = &Session{Token: token}
	m.authenticated = true
	m.mu.Unlock()
	return m
}

// Prepare returns the session-bound client for the next call, renewing the
// session first when it expires within RenewalMargin.
func (m *Manager) Prepare(ctx context.Context) (*api.Client, error) {
	if _, err := m.base(); err != nil {
		return nil, err
	}
	sess, err := m.current()
	if err != nil {
		return nil, err
	}

	if sess.expiring(m.now()) {
		m.renewMu.Lock()
		// Another caller may have renewed while this one waited.
		sess, err = m.current()
		if err == nil && sess.expiring(m.now()) {
			sess, err = m.renew(ctx, sess)
		}
		m.renewMu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	return m.bind(sess.Token), nil
}

// Renew unconditionally renews the session.
func (m *Manager) Renew(ctx context.Context) (*Session, error) {
	if _, err := m.base(); err != nil {
		return nil, err
	}
	m.renewMu.Lock()
	defer m.renewMu.Unlock()

	sess, err := m.current()
	if err != nil {
		return nil, err
	}
	return m.renew(ctx, sess)
}

// renew posts to /user/session/renew with the old session and stores the
// session returned. Callers hold renewMu.
func (m *Manager) renew(ctx context.Context, old *Session) (*Session, error) {
	client := m.bind(old.Token)

	var raw json.RawMessage
	err := client.Call(ctx, "/user/session/renew", map[string]time.Time{
		"expires": m.now().Add(RenewalLifetime),
	}, &raw)
	if err == nil {
		var sess *Session
		sess, err = decodeSession(raw)
		if err == nil {
			m.mu.Lock()
			m.session = sess
			m.mu.Unlock()
			api.RecordRenewal(nil)
			m.logger.Debug("session renewed", zap.Time("expires", sess.Expires))
			if err := m.publish(ctx, sess.Token); err != nil {
				m.logger.Warn("publish renewed session token", zap.Error(err))
			}
			return sess, nil
		}
	}
	api.RecordRenewal(err)
	m.logger.Warn("session renewal failed", zap.Error(err))
	return nil, err
}

// decodeSession accepts either {"session": {...}} or a bare session.
func decodeSession(raw json.RawMessage) (*Session, error) {
	var wrapped struct {
		Session *Session `json:"session"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Session != nil && wrapped.Session.Token != "" {
		return wrapped.Session, nil
	}
	var bare Session
	if err := json.Unmarshal(raw, &bare); err == nil && bare.Token != "" {
		return &bare, nil
	}
	return nil, api.UserError("Session renewal failed, no session")
}

// Logout posts to /user/logout and drops the session.
func (m *Manager) Logout(ctx context.Context) (json.RawMessage, error) {
	client, err := m.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := client.Call(ctx, "/user/logout", nil, &out); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.authenticated = false
	m.session = nil
	m.mu.Unlock()

	if err := m.publish(ctx, ""); err != nil {
		m.logger.Warn("clear session token", zap.Error(err))
	}
	m.logger.Info("logged out")
	return out, nil
}

// PasswordReset asks the service to reset the password of the session user.
func (m *Manager) PasswordReset(ctx context.Context) (json.RawMessage, error) {
	client, err := m.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := client.Call(ctx, "/user/password/reset", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SessionUpdate stores data on the remote session and returns the session
// the service reports back.
func (m *Manager) SessionUpdate(ctx context.Context, data any) (*Session, error) {
	client, err := m.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := client.Call(ctx, "/user/session/update", map[string]any{"data": data}, &raw); err != nil {
		return nil, err
	}
	sess, err := decodeSession(raw)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.session != nil && m.session.Token == sess.Token {
		m.session.Data = sess.Data
	}
	m.mu.Unlock()
	return sess, nil
}

func (m *Manager) publish(ctx context.Context, token string) error {
	for _, fn := range m.tokenHooks {
		if err := fn(ctx, token); err != nil {
			return err
		}
	}
	return nil
}

// base returns the connected, unbound client.
func (m *Manager) base() (*api.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return nil, api.UserError("Not connected")
	}
	return m.client, nil
}

func (m *Manager) current() (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.authenticated || m.session == nil {
		return nil, api.UserError("Not authenticated")
	}
	s := *m.session
	return &s, nil
}

func (m *Manager) bind(token string) *api.Client {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	return m.cache.BindSessionHeader(client, token, m.tokenHeader)
}

package api

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Options selects the destination for Cache.Get. Zero fields fall back to
// the per-type defaults of the cache's Config.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string

	// Timeout is an explicit per-client timeout. REQUEST_TIMEOUT in the
	// environment still takes precedence over it.
	Timeout time.Duration
}

// Cache builds and memoizes destination-bound clients. A client for a
// given key is constructed at most once; every caller receives the same
// instance. All clients of one Cache share a single connection pool.
//
// The zero value is not usable; create caches with NewCache. One Cache is
// meant to be owned by a long-lived component and injected into every
// facade that needs clients.
type Cache struct {
	cfg       Config
	transport *http.Transport
	logger    *zap.Logger

	group singleflight.Group

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewCache creates an empty Cache for cfg.
func NewCache(cfg Config, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSockets <= 0 {
		cfg.MaxSockets = DefaultConfig().MaxSockets
	}
	if cfg.SessionTokenName == "" {
		cfg.SessionTokenName = DefaultSessionTokenName
	}
	return &Cache{
		cfg: cfg,
		transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxConnsPerHost:     cfg.MaxSockets,
			MaxIdleConnsPerHost: cfg.MaxSockets,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			// Platform nodes present self-signed certificates.
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		},
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Config returns the configuration the cache was built with.
func (c *Cache) Config() Config {
	return c.cfg
}

// Get returns the client for destination type typ, constructing it on the
// first call for its (type, host, port) key.
func (c *Cache) Get(typ string, opts Options) (*Client, error) {
	dest, timeout, err := c.destination(typ, opts)
	if err != nil {
		return nil, err
	}
	return c.load(dest.key(), func() *Client {
		return &Client{
			dest: dest,
			httpClient: &http.Client{
				Transport: c.transport,
				Timeout:   timeout,
			},
			header: http.Header{},
			logger: c.logger.With(zap.String("destination", dest.key())),
		}
	})
}

// BindSession returns a client derived from base that sends token in the
// configured session header on every request. base is left untouched.
func (c *Cache) BindSession(base *Client, token string) *Client {
	return c.BindSessionHeader(base, token, c.cfg.SessionTokenName)
}

// BindSessionHeader is BindSession with an explicit header name. Clients
// bound to the same token under different headers are distinct.
func (c *Cache) BindSessionHeader(base *Client, token, header string) *Client {
	key := base.key + ":" + http.CanonicalHeaderKey(header) + ":" + token
	cl, _ := c.load(key, func() *Client {
		h := base.header.Clone()
		h.Set(header, token)
		return &Client{
			dest:       base.dest,
			httpClient: base.httpClient,
			header:     h,
			logger:     base.logger,
		}
	})
	return cl
}

// Len returns the number of cached clients.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

// Reset drops every cached client. Clients already handed out keep working.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients = make(map[string]*Client)
}

func (c *Cache) lookup(key string) (*Client, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cl, ok := c.clients[key]
	return cl, ok
}

// load returns the cached client for key or builds it. Concurrent misses on
// the same key share one construction through the singleflight group.
func (c *Cache) load(key string, build func() *Client) (*Client, error) {
	if cl, ok := c.lookup(key); ok {
		RecordCache(true)
		c.logger.Debug("cache hit", zap.String("key", key))
		return cl, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if cl, ok := c.lookup(key); ok {
			return cl, nil
		}
		RecordCache(false)
		c.logger.Debug("cache miss", zap.String("key", key))

		cl := build()
		cl.key = key
		c.mu.Lock()
		c.clients[key] = cl
		c.mu.Unlock()
		return cl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

// destination fills opts from the per-type defaults.
func (c *Cache) destination(typ string, opts Options) (Destination, time.Duration, error) {
	if typ == "" {
		return Destination{}, 0, fmt.Errorf("destination type is required")
	}
	def := c.cfg.Endpoint(typ)
	d := Destination{
		Type:     typ,
		Host:     firstNonEmpty(opts.Host, def.Host, "127.0.0.1"),
		Port:     opts.Port,
		Username: firstNonEmpty(opts.Username, def.Username),
		Password: firstNonEmpty(opts.Password, def.Password),
	}
	if d.Port == 0 {
		d.Port = def.Port
	}
	if d.Port <= 0 || d.Port > 65535 {
		return Destination{}, 0, fmt.Errorf("no valid port for %q destination", typ)
	}
	return d, resolveTimeout(opts.Timeout, def.Timeout), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

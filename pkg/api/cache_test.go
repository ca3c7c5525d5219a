package api_test

import (
	"sync"
	"testing"
	"time"

	"github.com/oose/oose-sdk-go/pkg/api"
	"github.com/stretchr/testify/require"
)

func TestCache_sameKeySameInstance(t *testing.T) {
	cache := api.NewCache(api.DefaultConfig(), nil)

	a, err := cache.Get(api.TypePrism, api.Options{Host: "127.0.0.1", Port: 5971})
	require.NoError(t, err)
	b, err := cache.Get(api.TypePrism, api.Options{Host: "127.0.0.1", Port: 5971})
	require.NoError(t, err)
	require.Same(t, a, b)

	c, err := cache.Get(api.TypePrism, api.Options{Host: "127.0.0.1", Port: 5972})
	require.NoError(t, err)
	require.NotSame(t, a, c)

	d, err := cache.Get(api.TypeStore, api.Options{Host: "127.0.0.1", Port: 5971})
	require.NoError(t, err)
	require.NotSame(t, a, d)

	require.Equal(t, 3, cache.Len())
}

func TestCache_defaultsPerType(t *testing.T) {
	cache := api.NewCache(api.DefaultConfig(), nil)

	c, err := cache.Get(api.TypeMaster, api.Options{})
	require.NoError(t, err)
	dest := c.Destination()
	require.Equal(t, "127.0.0.1", dest.Host)
	require.Equal(t, 3001, dest.Port)
	require.Equal(t, "oose", dest.Username)
	require.Equal(t, "https://127.0.0.1:3001/ping", c.URL("/ping"))
}

func TestCache_unknownTypeNeedsPort(t *testing.T) {
	cache := api.NewCache(api.DefaultConfig(), nil)

	_, err := cache.Get("nope", api.Options{Host: "example.com"})
	require.Error(t, err)

	c, err := cache.Get("nope", api.Options{Host: "example.com", Port: 443})
	require.NoError(t, err)
	require.Equal(t, "example.com:443", c.Destination().Addr())
}

func TestCache_firstConstructionWins(t *testing.T) {
	cache := api.NewCache(api.DefaultConfig(), nil)

	a, err := cache.Get(api.TypePrism, api.Options{Port: 5971, Username: "alice"})
	require.NoError(t, err)
	b, err := cache.Get(api.TypePrism, api.Options{Port: 5971, Username: "bob"})
	require.NoError(t, err)
	require.Same(t, a, b)
	require.Equal(t, "alice", b.Destination().Username)
}

func TestCache_concurrentGet(t *testing.T) {
	cache := api.NewCache(api.DefaultConfig(), nil)

	const n = 64
	got := make([]*api.Client, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := cache.Get(api.TypeWorker, api.Options{Host: "10.0.0.1", Port: 5981})
			if err == nil {
				got[i] = c
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Same(t, got[0], got[i])
	}
	require.Equal(t, 1, cache.Len())
}

func TestCache_bindSession(t *testing.T) {
	cfg := api.DefaultConfig()
	cache := api.NewCache(cfg, nil)

	base, err := cache.Get(api.TypePrism, api.Options{Port: 5971})
	require.NoError(t, err)

	bound := cache.BindSession(base, "token-1")
	require.NotSame(t, base, bound)
	require.Equal(t, "token-1", bound.Header(api.DefaultSessionTokenName))
	require.Empty(t, base.Header(api.DefaultSessionTokenName), "base client must not be mutated")

	require.Same(t, bound, cache.BindSession(base, "token-1"))

	other := cache.BindSession(base, "token-2")
	require.NotSame(t, bound, other)
	require.Equal(t, "token-2", other.Header(api.DefaultSessionTokenName))

	custom := cache.BindSessionHeader(base, "token-3", "X-SHREDDER-Token")
	require.Equal(t, "token-3", custom.Header("X-SHREDDER-Token"))
}

func TestCache_bindSessionKeyedByHeader(t *testing.T) {
	cache := api.NewCache(api.DefaultConfig(), nil)
	base, err := cache.Get(api.TypeShredder, api.Options{})
	require.NoError(t, err)

	oose := cache.BindSessionHeader(base, "token-1", api.DefaultSessionTokenName)
	shred := cache.BindSessionHeader(base, "token-1", "X-SHREDDER-Token")
	require.NotSame(t, oose, shred)
	require.Equal(t, "token-1", shred.Header("X-SHREDDER-Token"))
	require.Empty(t, shred.Header(api.DefaultSessionTokenName))
	require.Equal(t, "token-1", oose.Header(api.DefaultSessionTokenName))
	require.Empty(t, oose.Header("X-SHREDDER-Token"))

	require.Same(t, shred, cache.BindSessionHeader(base, "token-1", "x-shredder-token"))
}

func TestCache_reset(t *testing.T) {
	cache := api.NewCache(api.DefaultConfig(), nil)
	a, err := cache.Get(api.TypePrism, api.Options{})
	require.NoError(t, err)

	cache.Reset()
	require.Equal(t, 0, cache.Len())

	b, err := cache.Get(api.TypePrism, api.Options{})
	require.NoError(t, err)
	require.NotSame(t, a, b)
}

func TestCache_timeoutPrecedence(t *testing.T) {
	cfg := api.DefaultConfig()
	e := cfg.Endpoints[api.TypeStore]
	e.Timeout = 20 * time.Second
	cfg.Endpoints[api.TypeStore] = e

	t.Setenv(api.TimeoutEnv, "")
	cache := api.NewCache(cfg, nil)

	c, err := cache.Get(api.TypeStore, api.Options{Port: 1})
	require.NoError(t, err)
	require.Equal(t, 20*time.Second, c.Timeout(), "per-type default")

	c, err = cache.Get(api.TypeStore, api.Options{Port: 2, Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, c.Timeout(), "explicit beats per-type")

	c, err = cache.Get(api.TypePrism, api.Options{Port: 3})
	require.NoError(t, err)
	require.Zero(t, c.Timeout(), "no source means no client-side deadline")

	t.Setenv(api.TimeoutEnv, "1500")
	c, err = cache.Get(api.TypeStore, api.Options{Port: 4, Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, c.Timeout(), "environment beats everything")

	t.Setenv(api.TimeoutEnv, "2s")
	c, err = cache.Get(api.TypeStore, api.Options{Port: 5})
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, c.Timeout())
}

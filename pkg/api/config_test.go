package api_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oose/oose-sdk-go/pkg/api"
	"github.com/stretchr/testify/require"
)

func TestConfig_merge(t *testing.T) {
	cfg := api.DefaultConfig().Merge(api.Config{
		MaxSockets: 16,
		Endpoints: map[string]api.Endpoint{
			api.TypePrism: {Host: "prism.oose.io"},
			"cdn":         {Host: "cdn.oose.io", Port: 443},
		},
	})

	require.Equal(t, 16, cfg.MaxSockets)
	require.Equal(t, api.DefaultSessionTokenName, cfg.SessionTokenName)
	require.Equal(t, "prism.oose.io", cfg.Endpoint(api.TypePrism).Host)
	require.Equal(t, 3002, cfg.Endpoint(api.TypePrism).Port, "unset fields keep their default")
	require.Equal(t, 443, cfg.Endpoint("cdn").Port)

	require.Equal(t, "127.0.0.1", api.DefaultConfig().Endpoint(api.TypePrism).Host, "defaults untouched")
}

func TestLoadConfig_fileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oose.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  max_sockets: 4
  session_token_name: X-SHREDDER-Token
  endpoints:
    prism:
      host: prism.example.com
      port: 5971
      timeout: 30s
    cdn:
      host: cdn.example.com
      port: 443
`), 0o600))

	t.Setenv("API_ENDPOINTS_PRISM_USERNAME", "envuser")

	v, err := api.NewViper(path)
	require.NoError(t, err)
	cfg, err := api.LoadConfig(v)
	require.NoError(t, err)

	require.Equal(t, 4, cfg.MaxSockets)
	require.Equal(t, "X-SHREDDER-Token", cfg.SessionTokenName)

	prism := cfg.Endpoint(api.TypePrism)
	require.Equal(t, "prism.example.com", prism.Host)
	require.Equal(t, 5971, prism.Port)
	require.Equal(t, 30*time.Second, prism.Timeout)
	require.Equal(t, "envuser", prism.Username)
	require.Equal(t, "oose", prism.Password)

	require.Equal(t, "cdn.example.com", cfg.Endpoint("cdn").Host)
	require.Equal(t, 3001, cfg.Endpoint(api.TypeMaster).Port)
}

func TestLoadConfig_nil(t *testing.T) {
	cfg, err := api.LoadConfig(nil)
	require.NoError(t, err)
	require.Equal(t, api.DefaultConfig(), cfg)
}

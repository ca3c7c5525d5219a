package api

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Destination types known to the default configuration.
const (
	TypeMaster   = "master"
	TypePrism    = "prism"
	TypeStore    = "store"
	TypeShredder = "shredder"
	TypeWorker   = "worker"
)

// TimeoutEnv names the environment variable that overrides every other
// transport timeout source. It accepts a Go duration ("30s") or a plain
// number of milliseconds.
const TimeoutEnv = "REQUEST_TIMEOUT"

// DefaultSessionTokenName is the header carrying the session token.
const DefaultSessionTokenName = "X-OOSE-Token"

// Endpoint holds the per-type connection defaults.
type Endpoint struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Config is the process-wide client configuration.
type Config struct {
	// MaxSockets bounds the connections per host across every client
	// built by one Cache.
	MaxSockets int `mapstructure:"max_sockets"`

	// SessionTokenName is the header used by session-bound clients.
	SessionTokenName string `mapstructure:"session_token_name"`

	// Endpoints holds the defaults keyed by destination type.
	Endpoints map[string]Endpoint `mapstructure:"endpoints"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	def := func(port int) Endpoint {
		return Endpoint{Host: "127.0.0.1", Port: port, Username: "oose", Password: "oose"}
	}
	return Config{
		MaxSockets:       8,
		SessionTokenName: DefaultSessionTokenName,
		Endpoints: map[string]Endpoint{
			TypeMaster:   def(3001),
			TypePrism:    def(3002),
			TypeStore:    def(3003),
			TypeShredder: def(5980),
			TypeWorker:   def(5981),
		},
	}
}

// Merge overlays the non-zero fields of update onto c and returns the result.
// Endpoint entries are merged field by field so a partial update only
// replaces what it sets.
func (c Config) Merge(update Config) Config {
	out := Config{
		MaxSockets:       c.MaxSockets,
		SessionTokenName: c.SessionTokenName,
		Endpoints:        make(map[string]Endpoint, len(c.Endpoints)),
	}
	for k, v := range c.Endpoints {
		out.Endpoints[k] = v
	}
	if update.MaxSockets > 0 {
		out.MaxSockets = update.MaxSockets
	}
	if update.SessionTokenName != "" {
		out.SessionTokenName = update.SessionTokenName
	}
	for k, u := range update.Endpoints {
		e := out.Endpoints[k]
		if u.Host != "" {
			e.Host = u.Host
		}
		if u.Port != 0 {
			e.Port = u.Port
		}
		if u.Username != "" {
			e.Username = u.Username
		}
		if u.Password != "" {
			e.Password = u.Password
		}
		if u.Timeout != 0 {
			e.Timeout = u.Timeout
		}
		out.Endpoints[k] = e
	}
	return out
}

// Endpoint returns the defaults for a destination type (zero if unknown).
func (c Config) Endpoint(typ string) Endpoint {
	return c.Endpoints[typ]
}

// LoadConfig reads the "api" section of v on top of DefaultConfig.
// Keys are read one by one so environment overrides such as
// API_ENDPOINTS_PRISM_HOST apply when v has AutomaticEnv enabled.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()
	if v == nil {
		return cfg, nil
	}

	types := make(map[string]struct{}, len(cfg.Endpoints))
	for typ := range cfg.Endpoints {
		types[typ] = struct{}{}
	}
	for typ := range v.GetStringMap("api.endpoints") {
		types[typ] = struct{}{}
	}

	update := Config{
		MaxSockets:       v.GetInt("api.max_sockets"),
		SessionTokenName: v.GetString("api.session_token_name"),
		Endpoints:        make(map[string]Endpoint, len(types)),
	}
	if update.MaxSockets < 0 {
		return cfg, fmt.Errorf("api.max_sockets must not be negative, got %d", update.MaxSockets)
	}
	for typ := range types {
		prefix := "api.endpoints." + typ + "."
		update.Endpoints[typ] = Endpoint{
			Host:     v.GetString(prefix + "host"),
			Port:     v.GetInt(prefix + "port"),
			Username: v.GetString(prefix + "username"),
			Password: v.GetString(prefix + "password"),
			Timeout:  v.GetDuration(prefix + "timeout"),
		}
	}
	return cfg.Merge(update), nil
}

// NewViper returns a viper instance wired the way the binaries expect:
// optional config file, env overrides with "." -> "_".
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configFile == "" {
		return v, nil
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %q: %w", configFile, err)
	}
	return v, nil
}

// envTimeout parses TimeoutEnv. ok is false when it is unset or invalid.
func envTimeout() (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(TimeoutEnv))
	if raw == "" {
		return 0, false
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms <= 0 {
			return 0, false
		}
		return time.Duration(ms) * time.Millisecond, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// resolveTimeout applies the timeout precedence: environment, explicit
// option, per-type default, then zero (no client-side deadline).
func resolveTimeout(explicit, typeDefault time.Duration) time.Duration {
	if d, ok := envTimeout(); ok {
		return d
	}
	if explicit > 0 {
		return explicit
	}
	if typeDefault > 0 {
		return typeDefault
	}
	return 0
}

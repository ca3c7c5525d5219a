// Command oose is the command-line client for the OOSE content and job
// platform.
//
//	oose login --host 127.0.0.1 --port 5971
//	oose content purchase a03f181dc7dedcfb577511149b8844711efdb04f --ext txt
//	oose job create '{"resource":[{"name":"x.html"}]}' --priority 10
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/oose/oose-sdk-go/pkg/api"
	"github.com/oose/oose-sdk-go/pkg/session"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A .env file next to the binary is optional.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand.
type app struct {
	cfgFile string
	debug   bool

	host     string
	port     int
	username string
	password string
	token    string

	v      *viper.Viper
	cfg    api.Config
	cache  *api.Cache
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "oose",
		Short:         "OOSE platform CLI",
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	f.BoolVar(&a.debug, "debug", false, "enable debug logging")
	f.StringVar(&a.host, "host", "", "destination host (default: resolve the configured domain)")
	f.IntVar(&a.port, "port", 0, "destination port (default: per destination type)")
	f.StringVar(&a.username, "username", "", "login username (env OOSE_USERNAME)")
	f.StringVar(&a.password, "password", "", "login password (env OOSE_PASSWORD)")
	f.StringVar(&a.token, "session", "", "use an existing session token instead of logging in (env OOSE_SESSION)")
	f.String("database-url", "", "Postgres URL for job records and workers (env DATABASE_URL)")
	f.String("redis-url", "", "Redis URL for the shared worker token (env REDIS_URL)")

	root.AddCommand(newLoginCmd(a))
	root.AddCommand(newContentCmd(a))
	root.AddCommand(newJobCmd(a))
	root.AddCommand(newWorkersCmd(a))
	root.AddCommand(newMigrateCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	v, err := api.NewViper(a.cfgFile)
	if err != nil {
		return err
	}
	flags := cmd.Root().PersistentFlags()
	for key, name := range map[string]string{
		"database.url": "database-url",
		"redis.url":    "redis-url",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	a.v = v
	cfg, err := api.LoadConfig(v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.debug {
		a.logger, err = zap.NewDevelopment()
	} else {
		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		a.logger, err = zcfg.Build()
	}
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	if a.username == "" {
		a.username = v.GetString("oose.username")
	}
	if a.password == "" {
		a.password = v.GetString("oose.password")
	}
	if a.token == "" {
		a.token = v.GetString("oose.session")
	}
	a.cache = api.NewCache(cfg, a.logger)
	return nil
}

// sessionOptions are the options every facade is built with.
func (a *app) sessionOptions() []session.Option {
	opts := []session.Option{
		session.WithCredentials(a.username, a.password),
		session.WithLogger(a.logger),
	}
	if d := a.v.GetString("oose.domain"); d != "" {
		opts = append(opts, session.WithDomain(d))
	}
	return opts
}

// facade is what connect needs from a Prism or Shredder.
type facade interface {
	Connect(ctx context.Context, host string, port int) (string, error)
	Login(ctx context.Context, username, password string) (*session.Session, error)
	SetSession(token string) *session.Manager
}

// connect connects f and authenticates it with the static session token
// when one was given, or by logging in.
func (a *app) connect(ctx context.Context, f facade) (*session.Session, error) {
	if _, err := f.Connect(ctx, a.host, a.port); err != nil {
		return nil, err
	}
	if a.token != "" {
		f.SetSession(a.token)
		return &session.Session{Token: a.token}, nil
	}
	return f.Login(ctx, "", "")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

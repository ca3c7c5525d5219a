// Command oose-mock serves the in-memory OOSE platform over HTTPS for local
// development against the SDK and the oose CLI.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/oose/oose-sdk-go/internal/mock"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("oose-mock exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Config ─────────────────────────────────────────────────────────────────
	viper.SetConfigName("oose-mock")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("mock.host", "127.0.0.1")
	viper.SetDefault("mock.port", 5971)
	viper.SetDefault("mock.username", mock.DefaultUsername)
	viper.SetDefault("mock.password", mock.DefaultPassword)
	viper.SetDefault("mock.session_ttl", mock.DefaultTTL.String())
	viper.SetDefault("mock.rate_limit", 0)
	viper.SetDefault("mock.cert_hosts", []string{"localhost", "127.0.0.1", "::1"})
	viper.SetDefault("mock.worker_name", "worker1")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	host := viper.GetString("mock.host")
	port := viper.GetInt("mock.port")

	srv, err := mock.New(mock.Options{
		Username:   viper.GetString("mock.username"),
		Password:   viper.GetString("mock.password"),
		SessionTTL: viper.GetDuration("mock.session_ttl"),
		RateLimit:  viper.GetInt("mock.rate_limit"),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("create mock: %w", err)
	}

	// The mock also plays the only worker, so job content calls loop back.
	if name := viper.GetString("mock.worker_name"); name != "" {
		srv.AddWorker(mock.Worker{Name: name, Host: host, Port: port, Available: true, Active: true})
	}

	cert, err := mock.SelfSignedCert(viper.GetStringSlice("mock.cert_hosts"), 365*24*time.Hour)
	if err != nil {
		return fmt.Errorf("issue server certificate: %w", err)
	}

	httpSrv := &http.Server{
		Addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		Handler: srv.Handler(),
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("oose-mock HTTPS listening",
			zap.String("addr", httpSrv.Addr),
			zap.String("username", srv.Username()),
		)
		if err := httpSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("TLS listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down oose-mock...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("oose-mock stopped")
	return nil
}

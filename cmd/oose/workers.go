package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oose/oose-sdk-go/internal/health"
	"github.com/oose/oose-sdk-go/pkg/shredder"
	"github.com/oose/oose-sdk-go/pkg/store/postgres"
)

func newWorkersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "List workers accepting jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShredder(cmd, a, func(ctx context.Context, s *shredder.Shredder) error {
				workers, err := s.AvailableWorkers(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tHOST\tPORT\tACTIVE")
				for _, wk := range workers {
					fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", wk.Name, wk.Host, wk.Port, wk.Active)
				}
				return w.Flush()
			})
		},
	}
	cmd.AddCommand(newWorkersCheckCmd(a))
	return cmd
}

// ── workers check ──────────────────────────────────────────────────────────

func newWorkersCheckCmd(a *app) *cobra.Command {
	var (
		watch       time.Duration
		threshold   int
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe every worker in the Postgres directory and update its active flag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbURL := a.v.GetString("database.url")
			if dbURL == "" {
				return fmt.Errorf("--database-url (or DATABASE_URL) is required")
			}
			ctx := cmd.Context()
			pool, err := pgxpool.New(ctx, dbURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer pool.Close()

			checker := health.New(postgres.NewWorkerRepository(pool), a.cache, health.Config{
				CheckInterval: watch,
				FailThreshold: threshold,
			}, a.logger)

			if watch > 0 {
				if metricsAddr != "" {
					stop := serveMetrics(metricsAddr, a.logger)
					defer stop()
				}
				checker.Run(ctx)
				return nil
			}
			results, err := checker.CheckAll(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tHEALTHY\tCHANGED\tERROR")
			for _, r := range results {
				msg := ""
				if r.Err != nil {
					msg = r.Err.Error()
				}
				fmt.Fprintf(w, "%s\t%t\t%t\t%s\n", r.Name, r.Healthy, r.Changed, msg)
			}
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&watch, "watch", 0, "keep checking at this interval until interrupted")
	cmd.Flags().IntVar(&threshold, "threshold", 1, "consecutive failures before a worker is deactivated")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve client metrics on this address while watching (e.g. :9090)")
	return cmd
}

// serveMetrics exposes the default Prometheus registry at /metrics on addr
// and returns a func that shuts the listener down.
func serveMetrics(addr string, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listen error", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics shutdown", zap.Error(err))
		}
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/oose/oose-sdk-go/pkg/shredder"
	"github.com/oose/oose-sdk-go/pkg/store/postgres"
)

func newJobCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Create and manage jobs",
	}
	cmd.AddCommand(
		newJobCreateCmd(a),
		newJobDetailCmd(a),
		newJobUpdateCmd(a),
		newJobTransitionCmd(a, "start", "Queue a staged job", (*shredder.Shredder).JobStart),
		newJobTransitionCmd(a, "retry", "Queue a failed or finished job again", (*shredder.Shredder).JobRetry),
		newJobTransitionCmd(a, "abort", "Ask the worker to stop a processing job", (*shredder.Shredder).JobAbort),
		newJobRemoveCmd(a),
		newJobContentCmd(a),
		newJobListCmd(a),
	)
	return cmd
}

// withShredder runs fn with a connected and authenticated Shredder.
func withShredder(cmd *cobra.Command, a *app, fn func(context.Context, *shredder.Shredder) error) error {
	ctx := cmd.Context()
	s, closeStores, err := newShredder(ctx, a)
	if err != nil {
		return err
	}
	defer closeStores()

	if _, err := a.connect(ctx, s); err != nil {
		return err
	}
	return fn(ctx, s)
}

// ── job create ─────────────────────────────────────────────────────────────

func newJobCreateCmd(a *app) *cobra.Command {
	var (
		priority int
		category string
	)
	cmd := &cobra.Command{
		Use:   "create <description-json>",
		Short: "Stage a new job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[0])) {
				return fmt.Errorf("description is not valid JSON")
			}
			return withShredder(cmd, a, func(ctx context.Context, s *shredder.Shredder) error {
				job, err := s.JobCreate(ctx, json.RawMessage(args[0]), priority, category)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), job)
			})
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "job priority")
	cmd.Flags().StringVar(&category, "category", shredder.DefaultCategory, "job category")
	return cmd
}

// ── job detail ─────────────────────────────────────────────────────────────

func newJobDetailCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "detail <handle>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShredder(cmd, a, func(ctx context.Context, s *shredder.Shredder) error {
				job, err := s.JobDetail(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), job)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "HANDLE\tCATEGORY\tSTATUS\tPRIORITY\tSTEPS\tWORKER")
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%s\n",
					job.Handle, job.Category, job.Status, job.Priority,
					job.StepComplete, job.StepTotal, job.Worker)
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full record as JSON")
	return cmd
}

// ── job update ─────────────────────────────────────────────────────────────

func newJobUpdateCmd(a *app) *cobra.Command {
	var (
		description string
		priority    int
		status      string
		force       bool
	)
	cmd := &cobra.Command{
		Use:   "update <handle>",
		Short: "Edit a staged job (any job with --force)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes := shredder.JobChanges{
				Priority: priority,
				Status:   shredder.Status(status),
			}
			if description != "" {
				if !json.Valid([]byte(description)) {
					return fmt.Errorf("description is not valid JSON")
				}
				changes.Description = json.RawMessage(description)
			}
			return withShredder(cmd, a, func(ctx context.Context, s *shredder.Shredder) error {
				job, err := s.JobUpdate(ctx, args[0], changes, force)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), job)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "new description (JSON)")
	cmd.Flags().IntVar(&priority, "priority", 0, "new priority")
	cmd.Flags().StringVar(&status, "status", "", "new status (only with --force)")
	cmd.Flags().BoolVar(&force, "force", false, "edit regardless of status")
	return cmd
}

// ── job start | retry | abort ──────────────────────────────────────────────

func newJobTransitionCmd(a *app, use, short string, fn func(*shredder.Shredder, context.Context, string) (*shredder.Job, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <handle>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShredder(cmd, a, func(ctx context.Context, s *shredder.Shredder) error {
				job, err := fn(s, ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", job.Handle, job.Status)
				return nil
			})
		},
	}
}

// ── job remove ─────────────────────────────────────────────────────────────

func newJobRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <handle>",
		Short: "Remove a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShredder(cmd, a, func(ctx context.Context, s *shredder.Shredder) error {
				res, err := s.JobRemove(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

// ── job content ────────────────────────────────────────────────────────────

func newJobContentCmd(a *app) *cobra.Command {
	var urlOnly bool
	cmd := &cobra.Command{
		Use:   "content <handle> <file>",
		Short: "Check a job output file on the job's worker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShredder(cmd, a, func(ctx context.Context, s *shredder.Shredder) error {
				handle, file := args[0], args[1]
				if !urlOnly {
					exists, err := s.JobContentExists(ctx, handle, file)
					if err != nil {
						return err
					}
					if !exists {
						return fmt.Errorf("%s: %s not found on worker", handle, file)
					}
				}
				u, err := s.JobContentURL(ctx, handle, file)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), u)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&urlOnly, "url-only", false, "print the URL without asking the worker")
	return cmd
}

// ── job list ───────────────────────────────────────────────────────────────

func newJobListCmd(a *app) *cobra.Command {
	var (
		status string
		queued bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List job handles by status from the Postgres job store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := listStatuses(status, queued)
			if err != nil {
				return err
			}
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

			repo := postgres.NewJobRepository(pool, a.logger)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HANDLE\tSTATUS")
			for _, st := range statuses {
				handles, err := repo.ListByStatus(ctx, st, limit)
				if err != nil {
					return err
				}
				for _, h := range handles {
					fmt.Fprintf(w, "%s\t%s\n", h, st)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "list jobs in this status")
	cmd.Flags().BoolVar(&queued, "queued", false, "list jobs in every queued status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum handles per status")
	return cmd
}

// listStatuses resolves the --status and --queued flags of job list.
func listStatuses(status string, queued bool) ([]shredder.Status, error) {
	switch {
	case queued && status != "":
		return nil, fmt.Errorf("--status and --queued are mutually exclusive")
	case queued:
		var out []shredder.Status
		for _, st := range shredder.Statuses {
			if st.Queued() {
				out = append(out, st)
			}
		}
		return out, nil
	case status == "":
		return nil, fmt.Errorf("one of --status or --queued is required")
	}
	for _, st := range shredder.Statuses {
		if string(st) == status {
			return []shredder.Status{st}, nil
		}
	}
	return nil, fmt.Errorf("unknown status %q", status)
}

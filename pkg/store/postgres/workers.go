package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oose/oose-sdk-go/pkg/api"
	"github.com/oose/oose-sdk-go/pkg/shredder"
)

// WorkerRepository is the Postgres-backed shredder.Directory.
type WorkerRepository struct {
	pool *pgxpool.Pool
}

var _ shredder.Directory = (*WorkerRepository)(nil)

// NewWorkerRepository creates a new WorkerRepository.
func NewWorkerRepository(pool *pgxpool.Pool) *WorkerRepository {
	return &WorkerRepository{pool: pool}
}

// Put inserts or replaces a worker record.
func (r *WorkerRepository) Put(ctx context.Context, w shredder.Worker) error {
	const q = `
		INSERT INTO workers (name, host, port, available, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE
		SET host = EXCLUDED.host, port = EXCLUDED.port, available = EXCLUDED.available,
		    active = EXCLUDED.active, updated_at = now()`

	if _, err := r.pool.Exec(ctx, q, w.Name, w.Host, w.Port, w.Available, w.Active); err != nil {
		return fmt.Errorf("upsert worker: %w", err)
	}
	return nil
}

// Get implements shredder.Directory.
func (r *WorkerRepository) Get(ctx context.Context, name string) (*shredder.Worker, error) {
	const q = `SELECT name, host, port, available, active FROM workers WHERE name = $1`

	w := &shredder.Worker{}
	err := r.pool.QueryRow(ctx, q, name).Scan(&w.Name, &w.Host, &w.Port, &w.Available, &w.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, api.NotFoundError("Worker not found: "+name, shredder.ErrWorkerNotFound)
		}
		return nil, fmt.Errorf("scan worker: %w", err)
	}
	return w, nil
}

// Available implements shredder.Directory.
func (r *WorkerRepository) Available(ctx context.Context) ([]shredder.Worker, error) {
	return r.query(ctx, `
		SELECT name, host, port, available, active
		FROM workers
		WHERE available AND active
		ORDER BY name`)
}

// List returns every worker record ordered by name.
func (r *WorkerRepository) List(ctx context.Context) ([]shredder.Worker, error) {
	return r.query(ctx, `SELECT name, host, port, available, active FROM workers ORDER BY name`)
}

// SetActive sets the active flag of the worker called name.
func (r *WorkerRepository) SetActive(ctx context.Context, name string, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE workers SET active = $2, updated_at = now() WHERE name = $1`, name, active)
	if err != nil {
		return fmt.Errorf("update worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return api.NotFoundError("Worker not found: "+name, shredder.ErrWorkerNotFound)
	}
	return nil
}

func (r *WorkerRepository) query(ctx context.Context, q string) ([]shredder.Worker, error) {
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var out []shredder.Worker
	for rows.Next() {
		var w shredder.Worker
		if err := rows.Scan(&w.Name, &w.Host, &w.Port, &w.Available, &w.Active); err != nil {
			return nil, fmt.Errorf("scan worker row: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

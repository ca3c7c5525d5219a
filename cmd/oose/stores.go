package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/oose/oose-sdk-go/pkg/shredder"
	"github.com/oose/oose-sdk-go/pkg/store/postgres"
	"github.com/oose/oose-sdk-go/pkg/store/redis"
)

// newShredder builds the job facade. database.url switches job records and
// the worker directory to Postgres; redis.url shares the worker token
// through Redis. The returned func releases both.
func newShredder(ctx context.Context, a *app) (*shredder.Shredder, func(), error) {
	opts := []shredder.Option{shredder.WithSession(a.sessionOptions()...)}
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if dbURL := a.v.GetString("database.url"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		closers = append(closers, pool.Close)
		opts = append(opts,
			shredder.WithStore(postgres.NewJobRepository(pool, a.logger)),
			shredder.WithDirectory(postgres.NewWorkerRepository(pool)),
		)
		a.logger.Debug("using postgres job store")
	}

	if redisURL := a.v.GetString("redis.url"); redisURL != "" {
		tokens, err := redis.NewTokenStore(redis.Config{
			URL:      redisURL,
			Password: a.v.GetString("redis.password"),
			Key:      a.v.GetString("redis.key"),
			TTL:      a.v.GetDuration("redis.ttl"),
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := tokens.Close(); err != nil {
				a.logger.Warn("close redis", zap.Error(err))
			}
		})
		opts = append(opts, shredder.WithTokenStore(tokens))
	}

	return shredder.New(a.cache, opts...), closeAll, nil
}

// Package health probes the workers of a directory and flips their active
// flag so that Available only returns workers that answer.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oose/oose-sdk-go/pkg/api"
	"github.com/oose/oose-sdk-go/pkg/shredder"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration

	// ProbeTimeout bounds one /ping round trip.
	ProbeTimeout time.Duration

	// FailThreshold is the number of consecutive failed probes after which
	// an active worker is deactivated.
	FailThreshold int

	// Concurrency bounds the probes in flight.
	Concurrency int
}

// Registry lists every worker record and updates its active flag.
type Registry interface {
	List(ctx context.Context) ([]shredder.Worker, error)
	SetActive(ctx context.Context, name string, active bool) error
}

// Result is the outcome of probing one worker.
type Result struct {
	Name    string
	Healthy bool
	Changed bool
	Err     error
}

// Checker runs periodic worker probes.
type Checker struct {
	registry Registry
	cache    *api.Cache
	cfg      Config
	logger   *zap.Logger

	mu         sync.Mutex
	failCounts map[string]int
}

// New creates a Checker. Worker clients are drawn from cache.
func New(registry Registry, cache *api.Cache, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		registry:   registry,
		cache:      cache,
		cfg:        cfg,
		logger:     logger,
		failCounts: make(map[string]int),
	}
}

// Run checks every CheckInterval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.CheckAll(ctx); err != nil {
				c.logger.Error("health: check", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes every worker once and returns the results in directory
// order.
func (c *Checker) CheckAll(ctx context.Context) ([]Result, error) {
	workers, err := c.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(workers))
	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = c.check(ctx, w)
		}()
	}
	wg.Wait()
	return results, nil
}

func (c *Checker) check(ctx context.Context, w shredder.Worker) Result {
	res := Result{Name: w.Name}
	res.Err = c.probe(ctx, w)
	res.Healthy = res.Err == nil

	c.mu.Lock()
	if res.Healthy {
		c.failCounts[w.Name] = 0
	} else {
		c.failCounts[w.Name]++
	}
	count := c.failCounts[w.Name]
	c.mu.Unlock()

	switch {
	case res.Healthy && !w.Active:
		res.Changed = c.setActive(ctx, w.Name, true)
		c.logger.Info("health: worker recovered", zap.String("worker", w.Name))
	case !res.Healthy && w.Active && count >= c.cfg.FailThreshold:
		res.Changed = c.setActive(ctx, w.Name, false)
		c.logger.Warn("health: worker deactivated",
			zap.String("worker", w.Name),
			zap.Int("fail_count", count),
			zap.Error(res.Err),
		)
	case !res.Healthy:
		c.logger.Debug("health: probe failed", zap.String("worker", w.Name), zap.Error(res.Err))
	}
	return res
}

func (c *Checker) setActive(ctx context.Context, name string, active bool) bool {
	if err := c.registry.SetActive(ctx, name, active); err != nil {
		c.logger.Warn("health: update worker", zap.String("worker", name), zap.Error(err))
		return false
	}
	return true
}

// probe posts to the worker's /ping endpoint.
func (c *Checker) probe(ctx context.Context, w shredder.Worker) error {
	client, err := c.cache.Get(api.TypeWorker, api.Options{Host: w.Host, Port: w.Port})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	return client.Call(ctx, "/ping", nil, nil)
}

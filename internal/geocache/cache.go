// Package geocache holds the pipeline result for the lifetime of the process.
//
// The first caller triggers the pipeline and blocks; concurrent first callers
// share that single execution. Entries never expire: the result reflects the
// dataset files as they were when the load ran, and only Refresh replaces it.
package geocache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mdobak/go-xerrors"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
)

const (
	loadKey    = "load"
	refreshKey = "refresh"
)

// ErrNotLoaded is returned by CheckReadiness until a result is cached.
var ErrNotLoaded = errors.New("geodata not loaded")

// Runner computes a fresh pipeline result.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// Cache lazily computes and keeps one pipeline result.
type Cache struct {
	runner  Runner
	timeout time.Duration
	strict  bool
	logger  *slog.Logger
	metrics *observability.Metrics

	group  singleflight.Group
	mu     sync.RWMutex
	result *pipeline.Result
}

// New creates an empty Cache. timeout bounds each pipeline run; in strict mode
// a failed load is returned to the caller and retried on the next Get instead
// of caching an empty result.
func New(runner Runner, timeout time.Duration, strict bool, logger *slog.Logger, metrics *observability.Metrics) *Cache {
	return &Cache{
		runner:  runner,
		timeout: timeout,
		strict:  strict,
		logger:  logger,
		metrics: metrics,
	}
}

// Get returns the cached result, running the pipeline on first use. ctx only
// bounds how long this caller waits: the load itself is detached from it so a
// cancelled request does not abort the load for everyone else.
func (c *Cache) Get(ctx context.Context) (*pipeline.Result, error) {
	if res := c.cached(); res != nil {
		c.metrics.CacheRequests.WithLabelValues("hit").Inc()
		return res, nil
	}
	c.metrics.CacheRequests.WithLabelValues("miss").Inc()
	return c.wait(ctx, c.group.DoChan(loadKey, func() (any, error) {
		if res := c.cached(); res != nil {
			return res, nil
		}
		return c.load()
	}))
}

// Refresh recomputes the result and swaps it in. On failure the previous result
// stays in place and the error is returned in both modes.
func (c *Cache) Refresh(ctx context.Context) (*pipeline.Result, error) {
	return c.wait(ctx, c.group.DoChan(refreshKey, func() (any, error) {
		res, err := c.run()
		if err != nil {
			c.metrics.CacheLoads.WithLabelValues("refresh_error").Inc()
			c.logger.Error("geodata refresh failed, keeping previous result", "error", err)
			return nil, err
		}
		c.metrics.CacheLoads.WithLabelValues("refreshed").Inc()
		c.store(res)
		c.logger.Info("geodata refreshed", "neighborhoods", len(res.Neighborhoods), "with_elevation", len(res.Elevations))
		return res, nil
	}))
}

// CheckReadiness implements the readiness contract: ready once a result is cached.
func (c *Cache) CheckReadiness(_ context.Context) error {
	if c.cached() == nil {
		return ErrNotLoaded
	}
	return nil
}

func (c *Cache) cached() *pipeline.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.result
}

func (c *Cache) store(res *pipeline.Result) {
	c.mu.Lock()
	c.result = res
	c.mu.Unlock()
	c.metrics.CacheReady.Set(1)
}

func (c *Cache) run() (*pipeline.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.runner.Run(ctx)
}

func (c *Cache) load() (*pipeline.Result, error) {
	res, err := c.run()
	if err != nil {
		if c.strict {
			c.metrics.CacheLoads.WithLabelValues("error").Inc()
			c.logger.Error("geodata load failed, will retry on next request", "error", err)
			return nil, err
		}
		c.metrics.CacheLoads.WithLabelValues("empty").Inc()
		c.logger.Error("geodata load failed, caching empty result: every neighborhood will use the rainfall rule",
			slog.Any("error", xerrors.New(err)))
		res = pipeline.EmptyResult()
		res.Degraded = []string{"load"}
	} else {
		c.metrics.CacheLoads.WithLabelValues("success").Inc()
	}
	c.store(res)
	return res, nil
}

func (c *Cache) wait(ctx context.Context, ch <-chan singleflight.Result) (*pipeline.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*pipeline.Result), nil
	}
}

package attributes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OdinBridge/internal/paramtree"
)

// ParamCache holds the flattened client parameters of an adapter. One
// refresh feeds every CachedHandler reading from it.
type ParamCache struct {
	client Client
	path   string
	period time.Duration

	mu     sync.RWMutex
	values map[string]any
}

func NewParamCache(client Client, path string, period time.Duration) *ParamCache {
	if period <= 0 {
		period = DefaultUpdatePeriod
	}
	return &ParamCache{
		client: client,
		path:   path,
		period: period,
		values: make(map[string]any),
	}
}

// Refresh fetches the parameters and returns the unflattened tree.
func (c *ParamCache) Refresh(ctx context.Context) (map[string]any, error) {
	resp, err := c.client.Get(ctx, c.path)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", c.path, err)
	}

	tree, ok := resp["value"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("refresh %s: response has no value object", c.path)
	}

	flat := paramtree.Flatten(tree, "/")

	c.mu.Lock()
	c.values = flat
	c.mu.Unlock()

	return tree, nil
}

func (c *ParamCache) Lookup(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// TaskName implements Task.
func (c *ParamCache) TaskName() string {
	return c.path
}

// Period implements Task.
func (c *ParamCache) Period() time.Duration {
	return c.period
}

// Run implements Task.
func (c *ParamCache) Run(ctx context.Context) error {
	_, err := c.Refresh(ctx)
	return err
}

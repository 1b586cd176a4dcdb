package controller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OdinBridge/internal/attributes"
	"github.com/KevinKickass/OdinBridge/internal/odin"
	"github.com/KevinKickass/OdinBridge/internal/paramtree"
	"github.com/KevinKickass/OdinBridge/internal/types"
	"github.com/avast/retry-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultDiscoveryParallelism = 4

	paramTreePath    = "config/param_tree"
	clientParamsPath = "config/client_params"
)

type Options struct {
	Composition  types.Composition
	UpdatePeriod time.Duration
	VerifyWrites bool
	// Attempts is the number of tries per discovery request.
	Attempts   uint
	RetryDelay time.Duration
	Observer   attributes.Observer
}

// Composer discovers the adapters behind one odin server and composes
// their parameters into a tree of controller nodes.
type Composer struct {
	conn      *odin.Connection
	opts      Options
	describer *paramtree.Describer
	logger    *zap.Logger

	mu     sync.RWMutex
	state  State
	root   *Controller
	report *DiscoveryReport
}

func NewComposer(conn *odin.Connection, opts Options, logger *zap.Logger) (*Composer, error) {
	describer, err := paramtree.NewDescriber(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create describer: %w", err)
	}

	if opts.Attempts == 0 {
		opts.Attempts = 1
	}

	return &Composer{
		conn:      conn,
		opts:      opts,
		describer: describer,
		logger:    logger,
		state:     StateUninitialized,
		root:      newController("", "", opts.Composition.APIPrefix),
	}, nil
}

// Connect (re)opens the shared connection. It does not rediscover.
func (c *Composer) Connect() error {
	return c.conn.Open()
}

func (c *Composer) Close() error {
	return c.conn.Close()
}

func (c *Composer) Connected() bool {
	return c.conn.IsOpen()
}

func (c *Composer) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Root returns the top-level node of the last successful discovery.
func (c *Composer) Root() *Controller {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.root
}

// Report returns the report of the last discovery run, or nil.
func (c *Composer) Report() *DiscoveryReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.report
}

// Discover fetches every adapter tree and replaces the composed tree.
// Adapters that fail to load are left out and listed in the report. An
// unreachable adapter list or a naming conflict fails the whole run and
// keeps the previous tree.
func (c *Composer) Discover(ctx context.Context) (*DiscoveryReport, error) {
	if err := c.setState(StateDiscovering); err != nil {
		return nil, err
	}

	report := newReport()
	c.logger.Info("Starting discovery",
		zap.String("snapshot_id", report.ID.String()),
		zap.String("api_prefix", c.opts.Composition.APIPrefix))

	root, err := c.discover(ctx, report)
	if err == nil {
		err = report.Fatal()
	}
	report.FinishedAt = time.Now()

	c.mu.Lock()
	c.report = report
	if err == nil {
		c.root = root
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("Discovery failed",
			zap.String("snapshot_id", report.ID.String()),
			zap.Error(err))
		if stateErr := c.setState(StateFailed); stateErr != nil {
			return report, multierr.Append(err, stateErr)
		}
		return report, err
	}

	c.logger.Info("Discovery complete",
		zap.String("snapshot_id", report.ID.String()),
		zap.Int("adapters", len(root.Children())),
		zap.Int("attributes", root.AttributeCount()),
		zap.Strings("failed", report.Failed()),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))

	return report, c.setState(StateReady)
}

func (c *Composer) setState(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ValidateTransition(c.state, to); err != nil {
		return err
	}

	c.logger.Debug("Controller state changed",
		zap.Stringer("from", c.state),
		zap.Stringer("to", to))
	c.state = to
	return nil
}

func (c *Composer) discover(ctx context.Context, report *DiscoveryReport) (*Controller, error) {
	apiPrefix := c.opts.Composition.APIPrefix

	var names []string
	err := c.fetch(ctx, "adapters", func() error {
		var err error
		names, err = c.conn.Adapters(ctx, apiPrefix)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list adapters: %w", err)
	}

	selected := make([]string, 0, len(names))
	for _, name := range names {
		if c.opts.Composition.Ignored(name) {
			c.logger.Debug("Skipping adapter", zap.String("adapter", name))
			report.Skipped = append(report.Skipped, name)
			continue
		}
		selected = append(selected, name)
	}

	nodes := make([]*Controller, len(selected))
	errs := make([]error, len(selected))

	var g errgroup.Group
	g.SetLimit(DefaultDiscoveryParallelism)
	for i, name := range selected {
		i, name := i, name
		g.Go(func() error {
			nodes[i], errs[i] = c.composeAdapter(ctx, name)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := newController("", "", apiPrefix)
	for i, name := range selected {
		report.record(name, nodes[i], errs[i])
		if errs[i] != nil {
			c.logger.Error("Adapter discovery failed",
				zap.String("adapter", name),
				zap.Error(errs[i]))
			continue
		}
		root.addChild(nodes[i])
	}

	return root, nil
}

func (c *Composer) composeAdapter(ctx context.Context, adapter string) (*Controller, error) {
	cfg := c.opts.Composition.AdapterConfig(adapter)
	prefix := odin.JoinPath(c.opts.Composition.APIPrefix, adapter)

	var tree map[string]any
	err := c.fetch(ctx, prefix, func() error {
		var err error
		tree, err = c.conn.GetMetadata(ctx, prefix)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tree: %w", err)
	}

	shared, indexed := splitIndexed(tree)

	node := newController(adapter, adapter, prefix)
	if err := c.bindLeaves(node, paramtree.Walk(shared, nil), prefix, ""); err != nil {
		return nil, err
	}

	for _, index := range sortedIndices(indexed) {
		child := newController(childID(adapter, index), processLabel(cfg.ProcessPrefix, index), odin.JoinPath(prefix, index))
		if err := c.bindLeaves(child, paramtree.Walk(indexed[index], nil), child.apiPrefix, ""); err != nil {
			return nil, err
		}
		node.addChild(child)
	}

	if cfg.HasParamTree {
		if err := c.bindParamTree(ctx, node, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.HasProcessParams {
		if err := c.bindProcessParams(ctx, node, cfg); err != nil {
			return nil, err
		}
	}

	c.logger.Info("Adapter composed",
		zap.String("adapter", adapter),
		zap.Int("processes", len(node.children)),
		zap.Int("attributes", node.AttributeCount()))

	return node, nil
}

// bindParamTree binds the flat parameter tree some adapters publish, with
// keys such as "hdf/file/path" relative to the adapter.
func (c *Composer) bindParamTree(ctx context.Context, node *Controller, cfg types.AdapterConfig) error {
	uri := odin.JoinPath(node.apiPrefix, paramTreePath)

	var resp map[string]any
	err := c.fetch(ctx, uri, func() error {
		var err error
		resp, err = c.conn.Get(ctx, uri)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to fetch parameter tree: %w", err)
	}

	flat, ok := resp["value"].(map[string]any)
	if !ok {
		return fmt.Errorf("parameter tree %s has no value object", uri)
	}

	leaves := make([]paramtree.Leaf, 0, len(flat))
	flatKeys := make([]string, 0, len(flat))
	for key := range flat {
		flatKeys = append(flatKeys, key)
	}
	slices.Sort(flatKeys)
	for _, key := range flatKeys {
		metadata, ok := flat[key].(map[string]any)
		if !ok || !paramtree.IsMetadataObject(metadata) {
			c.logger.Warn("Skipping parameter tree entry",
				zap.String("adapter", node.id),
				zap.String("key", key))
			continue
		}
		leaves = append(leaves, paramtree.Leaf{
			Path:     strings.Split(strings.Trim(key, "/"), "/"),
			Metadata: metadata,
		})
	}

	return c.bindLeaves(node, leaves, node.apiPrefix, cfg.ProcessPrefix)
}

// bindProcessParams binds the client parameters of every process as
// read-only attributes fed from one shared cache.
func (c *Composer) bindProcessParams(ctx context.Context, node *Controller, cfg types.AdapterConfig) error {
	cache := attributes.NewParamCache(c.conn, odin.JoinPath(node.apiPrefix, clientParamsPath), c.opts.UpdatePeriod)

	var processes map[string]any
	err := c.fetch(ctx, cache.TaskName(), func() error {
		var err error
		processes, err = cache.Refresh(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to fetch client parameters: %w", err)
	}

	_, indexed := splitIndexed(processes)
	for _, index := range sortedIndices(indexed) {
		params, err := c.describe(paramtree.Walk(indexed[index], nil))
		if err != nil {
			return fmt.Errorf("node %s: %w", childID(node.id, index), err)
		}

		child, ok := node.child(childID(node.id, index))
		if !ok {
			child = newController(childID(node.id, index), processLabel(cfg.ProcessPrefix, index), odin.JoinPath(node.apiPrefix, index))
			node.addChild(child)
		}

		opts := c.bindOptions(node.apiPrefix, processLabel(cfg.ProcessPrefix, index))
		if err := child.register(attributes.BindCached(params, cache, index, opts)); err != nil {
			return err
		}
	}

	node.tasks = append(node.tasks, cache)
	return nil
}

func (c *Composer) bindLeaves(node *Controller, leaves []paramtree.Leaf, apiPrefix, namePrefix string) error {
	params, err := c.describe(leaves)
	if err != nil {
		return fmt.Errorf("node %s: %w", node.id, err)
	}
	return node.register(attributes.Bind(params, c.conn, c.bindOptions(apiPrefix, namePrefix)))
}

func (c *Composer) describe(leaves []paramtree.Leaf) ([]types.DisambiguatedParameter, error) {
	return paramtree.Disambiguate(c.describer.Describe(leaves))
}

func (c *Composer) bindOptions(apiPrefix, namePrefix string) attributes.BindOptions {
	return attributes.BindOptions{
		APIPrefix:    apiPrefix,
		NamePrefix:   namePrefix,
		UpdatePeriod: c.opts.UpdatePeriod,
		VerifyWrites: c.opts.VerifyWrites,
		Observer:     c.opts.Observer,
		Logger:       c.logger,
	}
}

func (c *Composer) fetch(ctx context.Context, request string, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(c.opts.Attempts),
		retry.Delay(c.opts.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, odin.ErrNotConnected)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Retrying odin request",
				zap.String("request", request),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}))
}

// splitIndexed separates the sub-trees of running processes, keyed by a
// purely numeric index, from the adapter's shared parameters.
func splitIndexed(tree map[string]any) (map[string]any, map[string]map[string]any) {
	shared := make(map[string]any, len(tree))
	indexed := make(map[string]map[string]any)
	for key, node := range tree {
		if sub, ok := node.(map[string]any); ok && paramtree.IsIndex(key) && !paramtree.IsMetadataObject(sub) {
			indexed[key] = sub
			continue
		}
		shared[key] = node
	}
	return shared, indexed
}

func sortedIndices(indexed map[string]map[string]any) []string {
	keys := make([]string, 0, len(indexed))
	for key := range indexed {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b string) int {
		x, _ := strconv.Atoi(a)
		y, _ := strconv.Atoi(b)
		return x - y
	})
	return keys
}

func childID(adapter, index string) string {
	return adapter + "." + index
}

func processLabel(prefix, index string) string {
	i, _ := strconv.Atoi(index)
	return prefix + strconv.Itoa(i+1)
}

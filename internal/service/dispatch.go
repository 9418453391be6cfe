package service

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/events"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/logging"
)

// AdapterSource resolves which adapters apply to which files.
// *cli.Registry implements it.
type AdapterSource interface {
	Root() string
	Definitions() []core.AdapterDefinition
	Match(path string) []core.AdapterDefinition
	WorkspaceFiles(ctx context.Context, def core.AdapterDefinition) ([]string, error)
}

// CoordinatorOptions wires a Coordinator. Registry, Runner and Store are
// required.
type CoordinatorOptions struct {
	Registry       AdapterSource
	Runner         core.TestRunner
	Store          *diagnostics.Store
	Events         *events.EventBus
	Backoff        *Backoff
	Status         *AdapterStatus
	Metrics        *MetricsCollector
	MaxConcurrency int
	Logger         *logging.Logger
}

type pairKey struct {
	file    string
	adapter string
}

// task is one unit of dispatched work for a single adapter. It owns the
// (file, adapter) pairs it was issued for until a newer trigger takes
// them over.
type task struct {
	adapter string
	gens    map[string]uint64
	live    int
	ctx     context.Context
	cancel  context.CancelFunc

	// Sequential tasks run one file at a time; superseding that file
	// cancels only its invocation.
	active       string
	activeCancel context.CancelFunc
}

// Coordinator turns triggers into adapter invocations and feeds their
// results into the diagnostics store.
type Coordinator struct {
	registry AdapterSource
	runner   core.TestRunner
	store    *diagnostics.Store
	bus      *events.EventBus
	backoff  *Backoff
	status   *AdapterStatus
	metrics  *MetricsCollector
	sem      *semaphore.Weighted
	logger   *logging.Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	// generations holds the current generation of every pair a task owns.
	// Values come from seq, so a pair that is dropped and issued again never
	// reuses a generation.
	mu          sync.Mutex
	closed      bool
	seq         uint64
	generations map[pairKey]uint64
	owners      map[pairKey]*task
}

// NewCoordinator creates a coordinator.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.Backoff == nil {
		opts.Backoff = NewBackoff()
	}
	if opts.Status == nil {
		opts.Status = NewAdapterStatus()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetricsCollector()
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Coordinator{
		registry:    opts.Registry,
		runner:      opts.Runner,
		store:       opts.Store,
		bus:         opts.Events,
		backoff:     opts.Backoff,
		status:      opts.Status,
		metrics:     opts.Metrics,
		sem:         semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		logger:      opts.Logger,
		ctx:         ctx,
		stop:        stop,
		generations: make(map[pairKey]uint64),
		owners:      make(map[pairKey]*task),
	}
}

// Status returns the adapter health tracker.
func (c *Coordinator) Status() *AdapterStatus { return c.status }

// Metrics returns the metrics collector.
func (c *Coordinator) Metrics() *MetricsCollector { return c.metrics }

// HandleTrigger dispatches the invocations trig calls for and returns once
// they are scheduled. A file no adapter applies to yields a
// NO_MATCHING_ADAPTER error, which callers treat as informational.
func (c *Coordinator) HandleTrigger(ctx context.Context, trig core.Trigger) error {
	if c.ctx.Err() != nil {
		return core.ErrValidation("COORDINATOR_CLOSED", "coordinator is closed")
	}
	logger := logging.FromContext(ctx, c.logger)

	switch trig.Kind {
	case core.TriggerFileChanged:
		return c.handleFileChanged(logger, c.normalize(trig.Path))
	case core.TriggerFileDeleted:
		c.handleFileDeleted(logger, c.normalize(trig.Path))
		return nil
	case core.TriggerWorkspace:
		c.handleWorkspace(logger)
		return nil
	default:
		return core.ErrValidation("UNKNOWN_TRIGGER", fmt.Sprintf("unknown trigger kind %q", trig.Kind))
	}
}

func (c *Coordinator) handleFileChanged(logger *logging.Logger, path string) error {
	if path == "" {
		return core.ErrValidation("EMPTY_PATH", "file trigger without a path")
	}
	defs := c.registry.Match(path)
	if len(defs) == 0 {
		logger.Debug("dispatch: no matching adapter", "file", path)
		c.mu.Lock()
		for key := range c.generations {
			if key.file == path {
				c.forget(key)
			}
		}
		c.mu.Unlock()
		if c.store.Has(path) {
			c.store.Invalidate(path)
		}
		return core.ErrNoMatchingAdapter(path)
	}
	for _, def := range defs {
		c.dispatch(logger, def, []string{path}, nil)
	}
	return nil
}

func (c *Coordinator) handleFileDeleted(logger *logging.Logger, path string) {
	if path == "" {
		return
	}
	c.mu.Lock()
	for key := range c.generations {
		if within(key.file, path) {
			c.forget(key)
		}
	}
	c.mu.Unlock()

	c.store.Invalidate(path)
	for _, file := range c.store.Files() {
		if file != path && within(file, path) {
			c.store.Invalidate(file)
		}
	}
	logger.Debug("dispatch: file deleted, diagnostics cleared", "file", path)
}

func (c *Coordinator) handleWorkspace(logger *logging.Logger) {
	for _, def := range c.registry.Definitions() {
		if !def.WorkspaceDiagnostics {
			continue
		}
		def := def
		c.dispatch(logger, def, nil, func(ctx context.Context) ([]string, error) {
			return c.registry.WorkspaceFiles(ctx, def)
		})
	}
}

// dispatch schedules one task for def. When list is set the targets are
// computed inside the task.
func (c *Coordinator) dispatch(logger *logging.Logger, def core.AdapterDefinition, files []string,
	list func(context.Context) ([]string, error)) {
	logger = logger.WithAdapter(def.Name)
	if suppressed, until := c.backoff.Suppressed(def.Name); suppressed {
		logger.Debug("dispatch: adapter suppressed after spawn failure", "until", until)
		c.metrics.RecordSkipped(def.Name)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	// File triggers take their generations before returning so that the
	// order of triggers is the order of generations.
	var t *task
	if list == nil {
		t = c.issue(def.Name, files)
	}

	go func() {
		defer c.wg.Done()
		if t == nil {
			listed, err := list(c.ctx)
			if err != nil {
				logger.Warn("dispatch: listing workspace files failed", "error", err)
				return
			}
			if len(listed) == 0 {
				logger.Debug("dispatch: no workspace files for adapter")
				return
			}
			files = listed
			t = c.issue(def.Name, files)
		}
		defer c.release(t)
		c.runTask(logger, def, t, files)
	}()
}

func (c *Coordinator) runTask(logger *logging.Logger, def core.AdapterDefinition, t *task, files []string) {
	if def.Batch || len(files) == 1 {
		c.invoke(t.ctx, logger, def, t, files)
		return
	}
	for _, file := range files {
		if t.ctx.Err() != nil {
			return
		}
		ctx, ok := c.activate(t, file)
		if !ok {
			continue
		}
		c.invoke(ctx, logger, def, t, []string{file})
		c.deactivate(t)
	}
}

// invoke runs discover then run for targets and records the outcome.
func (c *Coordinator) invoke(ctx context.Context, logger *logging.Logger, def core.AdapterDefinition, t *task,
	targets []string) {
	gens := make(map[string]uint64, len(targets))
	for _, target := range targets {
		gens[target] = t.gens[target]
	}
	inv := core.NewInvocation(def.Name, targets, gens)
	logger = logger.WithInvocation(inv.ID)

	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.complete(logger, def, inv, nil, core.ErrCancelled(def.Name))
		return
	}
	defer c.sem.Release(1)

	diags, err := c.execute(logging.NewContext(ctx, logger), logger, def, inv)
	c.complete(logger, def, inv, diags, err)
}

func (c *Coordinator) execute(ctx context.Context, logger *logging.Logger, def core.AdapterDefinition,
	inv *core.Invocation) (diags []core.Diagnostic, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dispatch: invocation panicked", "panic", r)
			diags, err = nil, core.ErrPanic(r)
		}
	}()

	if err := inv.Start(core.CommandDiscover, def.Timeout); err != nil {
		return nil, err
	}
	c.publishPriority(events.NewInvocationStartedEvent(def.Name, inv.ID, string(core.CommandDiscover), inv.Targets))

	discovered, err := c.runner.Discover(ctx, def, inv.Targets)
	if err != nil {
		return nil, err
	}
	if discovered == nil {
		discovered = &core.Result{}
	}
	c.forwardMessages(def.Name, discovered.Messages)

	ids := testIDs(discovered.Root)
	if len(ids) == 0 {
		logger.Debug("dispatch: no tests discovered, skipping run")
		return []core.Diagnostic{}, nil
	}

	inv.Command = core.CommandRun
	result, err := c.runner.Run(ctx, def, inv.Targets, ids)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &core.Result{}
	}
	c.forwardMessages(def.Name, result.Messages)
	return core.DiagnosticsFromTree(def.Name, result.Root), nil
}

// complete reports the terminal state of inv exactly once and applies its
// diagnostics when it succeeded.
func (c *Coordinator) complete(logger *logging.Logger, def core.AdapterDefinition, inv *core.Invocation,
	diags []core.Diagnostic, err error) {
	if ferr := inv.Finish(err); ferr != nil {
		logger.Error("dispatch: invalid invocation state", "error", ferr)
		return
	}

	applied := 0
	if inv.State == core.InvocationCompleted {
		applied = c.apply(logger, def, inv, diags)
	}
	c.metrics.RecordInvocation(inv, applied)
	c.publishPriority(events.NewInvocationFinishedEvent(def.Name, inv.ID, string(inv.State), string(inv.Failure),
		inv.Duration(), applied))

	switch inv.State {
	case core.InvocationCompleted:
		c.backoff.Reset(def.Name)
		if recovered, failingFor := c.status.RecordSuccess(def.Name); recovered {
			logger.Info("adapter recovered", "failing_for", failingFor)
			c.publishPriority(events.NewAdapterRecoveredEvent(def.Name, failingFor))
		}
	case core.InvocationCancelled:
		logger.Debug("dispatch: invocation cancelled")
	default:
		msg := failureMessage(def.Name, inv.Failure, err)
		if inv.Failure == core.FailureSpawn {
			window := c.backoff.RecordFailure(def.Name)
			logger.Warn("adapter could not be started, suppressing", "retry_in", window, "error", err)
		} else {
			logger.Warn("adapter invocation failed",
				"failure", string(inv.Failure),
				"state", string(inv.State),
				"duration", inv.Duration(),
				"error", err,
			)
		}
		c.status.RecordFailure(def.Name, inv.Failure, msg)
		c.publishPriority(events.NewAdapterFailedEvent(def.Name, string(inv.Failure), msg, inv.Targets))
	}
}

// apply splits diags per target and stores the targets whose generation is
// still current. It returns the number of diagnostics stored.
func (c *Coordinator) apply(logger *logging.Logger, def core.AdapterDefinition, inv *core.Invocation,
	diags []core.Diagnostic) int {
	grouped := make(map[string][]core.Diagnostic, len(inv.Targets))
	for _, target := range inv.Targets {
		grouped[target] = []core.Diagnostic{}
	}
	for _, d := range diags {
		path := c.resolvePath(def, d.Path, inv.Targets)
		if _, ok := grouped[path]; !ok {
			logger.Debug("dispatch: dropping diagnostic outside targets", "path", d.Path, "code", d.Code)
			continue
		}
		d.Path = path
		grouped[path] = append(grouped[path], d)
	}

	stored := 0
	for _, target := range inv.Targets {
		gen := inv.Generations[target]
		superseded := false
		ok := c.store.ApplyIf(target, def.Name, gen, grouped[target], func() bool {
			superseded = !c.isCurrent(target, def.Name, gen)
			return !superseded
		})
		if superseded {
			logger.Debug("dispatch: dropping result",
				"file", target,
				"error", core.ErrSuperseded(def.Name, target, gen),
			)
			c.metrics.RecordSuperseded()
			continue
		}
		if ok {
			stored += len(grouped[target])
		}
	}
	return stored
}

// Reconcile brings the store and in-flight work in line with the current
// adapter set after a reload. It returns the adapters that were removed.
func (c *Coordinator) Reconcile() []string {
	known := make(map[string]bool)
	for _, def := range c.registry.Definitions() {
		known[def.Name] = true
	}

	matches := make(map[string]map[string]bool)
	matched := func(file string) map[string]bool {
		if m, ok := matches[file]; ok {
			return m
		}
		m := make(map[string]bool)
		for _, def := range c.registry.Match(file) {
			m[def.Name] = true
		}
		matches[file] = m
		return m
	}

	// In-flight pairs the new adapter set no longer covers are dropped first
	// so their results cannot recreate entries removed below.
	c.mu.Lock()
	for key := range c.generations {
		if !known[key.adapter] || !matched(key.file)[key.adapter] {
			c.forget(key)
		}
	}
	c.mu.Unlock()

	removedSet := make(map[string]bool)
	for file, set := range c.store.SnapshotWorkspace() {
		for adapter := range set {
			switch {
			case !known[adapter]:
				removedSet[adapter] = true
			case !matched(file)[adapter]:
				c.store.Remove(file, adapter)
			}
		}
	}
	for _, h := range c.status.All() {
		if !known[h.Adapter] {
			removedSet[h.Adapter] = true
		}
	}

	removed := make([]string, 0, len(removedSet))
	for adapter := range removedSet {
		removed = append(removed, adapter)
	}
	sort.Strings(removed)
	for _, adapter := range removed {
		files := c.store.InvalidateAdapter(adapter)
		c.status.Forget(adapter)
		c.metrics.Forget(adapter)
		c.backoff.Reset(adapter)
		c.logger.Info("adapter removed", "adapter", adapter, "files", len(files))
	}
	return removed
}

// Discovery is one adapter's answer to a discover request.
type Discovery struct {
	Adapter  string                `json:"adapter"`
	Root     *core.TestNode        `json:"root,omitempty"`
	Messages []core.AdapterMessage `json:"messages,omitempty"`
	Err      error                 `json:"-"`
}

// DiscoverFile lists the tests of path with every matching adapter in
// parallel. Adapter failures are reported per adapter.
func (c *Coordinator) DiscoverFile(ctx context.Context, path string) ([]Discovery, error) {
	path = c.normalize(path)
	defs := c.registry.Match(path)
	if len(defs) == 0 {
		return nil, core.ErrNoMatchingAdapter(path)
	}

	out := make([]Discovery, len(defs))
	g, gctx := errgroup.WithContext(ctx)
	for i, def := range defs {
		g.Go(func() error {
			if err := c.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer c.sem.Release(1)

			out[i] = Discovery{Adapter: def.Name}
			res, err := c.runner.Discover(gctx, def, []string{path})
			if err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Root = res.Root
			out[i].Messages = res.Messages
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Wait blocks until every scheduled task has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels in-flight work and waits for it to stop.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.stop()
	c.wg.Wait()
}

// issue bumps the generation of every (file, adapter) pair and hands the
// pairs to a new task.
func (c *Coordinator) issue(adapter string, files []string) *task {
	ctx, cancel := context.WithCancel(c.ctx)
	t := &task{
		adapter: adapter,
		gens:    make(map[string]uint64, len(files)),
		ctx:     ctx,
		cancel:  cancel,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, file := range files {
		key := pairKey{file: file, adapter: adapter}
		c.seq++
		c.generations[key] = c.seq
		t.gens[file] = c.seq
		c.supersede(key)
		c.owners[key] = t
		t.live++
	}
	return t
}

// supersede takes key away from its current owner and cancels the owner
// once it has no pair left. The caller holds c.mu.
func (c *Coordinator) supersede(key pairKey) {
	prev, ok := c.owners[key]
	if !ok {
		return
	}
	delete(c.owners, key)
	prev.live--
	if prev.live <= 0 {
		prev.cancel()
	} else if prev.activeCancel != nil && prev.active == key.file {
		prev.activeCancel()
	}
}

// forget drops key so that no in-flight result for it is current any more.
// The caller holds c.mu.
func (c *Coordinator) forget(key pairKey) {
	delete(c.generations, key)
	c.supersede(key)
}

// activate marks file as the one t is working on. It fails when t no
// longer owns the file.
func (c *Coordinator) activate(t *task, file string) (context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owners[pairKey{file: file, adapter: t.adapter}] != t {
		return nil, false
	}
	ctx, cancel := context.WithCancel(t.ctx)
	t.active = file
	t.activeCancel = cancel
	return ctx, true
}

func (c *Coordinator) deactivate(t *task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.activeCancel != nil {
		t.activeCancel()
	}
	t.active = ""
	t.activeCancel = nil
}

func (c *Coordinator) release(t *task) {
	c.mu.Lock()
	for file := range t.gens {
		key := pairKey{file: file, adapter: t.adapter}
		if c.owners[key] == t {
			delete(c.owners, key)
			delete(c.generations, key)
		}
	}
	c.mu.Unlock()
	t.cancel()
}

func (c *Coordinator) isCurrent(file, adapter string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.generations[pairKey{file: file, adapter: adapter}]
	return ok && cur == gen
}

func (c *Coordinator) forwardMessages(adapter string, msgs []core.AdapterMessage) {
	for _, m := range msgs {
		c.publish(events.NewAdapterMessageEvent(adapter, m.Severity.String(), m.Message))
	}
}

func (c *Coordinator) publish(ev events.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}

func (c *Coordinator) publishPriority(ev events.Event) {
	if c.bus != nil {
		c.bus.PublishPriority(ev)
	}
}

// normalize makes path absolute against the workspace root.
func (c *Coordinator) normalize(path string) string {
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) {
		if root := c.registry.Root(); root != "" {
			path = filepath.Join(root, path)
		}
	}
	return filepath.Clean(path)
}

// resolvePath maps a path reported by an adapter onto a target. Relative
// paths are taken against the adapter's working directory.
func (c *Coordinator) resolvePath(def core.AdapterDefinition, path string, targets []string) string {
	if path == "" {
		if len(targets) == 1 {
			return targets[0]
		}
		return ""
	}
	if !filepath.IsAbs(path) {
		base := c.registry.Root()
		if def.WorkDir != "" {
			if filepath.IsAbs(def.WorkDir) {
				base = def.WorkDir
			} else {
				base = filepath.Join(base, def.WorkDir)
			}
		}
		path = filepath.Join(base, path)
	}
	return filepath.Clean(path)
}

func testIDs(root *core.TestNode) []string {
	tests := root.Tests()
	ids := make([]string, 0, len(tests))
	for _, node := range tests {
		ids = append(ids, node.TestID())
	}
	return ids
}

func failureMessage(adapter string, kind core.FailureKind, err error) string {
	label := strings.ReplaceAll(string(kind), "_", " ")
	if err == nil {
		return fmt.Sprintf("adapter %s failed: %s", adapter, label)
	}
	return fmt.Sprintf("adapter %s failed: %s: %v", adapter, label, err)
}

// within reports whether path is dir or lies below it.
func within(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

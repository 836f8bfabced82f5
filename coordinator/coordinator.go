// Package coordinator implements the mount table, capability map,
// contribution channels, cleanup, injection budget, and approval
// delegation a Session hands to every module it mounts (spec §4.4).
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/agentkernel/core/cancel"
	"github.com/agentkernel/core/causality"
	"github.com/agentkernel/core/hooks"
	"github.com/agentkernel/core/kernelerrors"
	"github.com/agentkernel/core/module"
	"github.com/agentkernel/core/mountplan"
	"github.com/agentkernel/core/observability"
)

// Point identifies one of the coordinator's fixed mount points.
type Point string

const (
	PointOrchestrator Point = "orchestrator"
	PointContext      Point = "context"
	PointProviders    Point = "providers"
	PointTools        Point = "tools"
	PointHooks        Point = "hooks"
	PointAgents       Point = "agents"
)

func (p Point) singleton() bool {
	return p == PointOrchestrator || p == PointContext
}

func (p Point) valid() bool {
	switch p {
	case PointOrchestrator, PointContext, PointProviders, PointTools, PointHooks, PointAgents:
		return true
	default:
		return false
	}
}

// Infra is the read-only infrastructure view a Coordinator exposes (spec
// §4.4's "Infrastructure properties"). Built once at construction rather
// than holding a live back-pointer to the owning Session, avoiding the
// session<->coordinator import cycle noted in spec.md §9's redesign flag.
type Infra struct {
	SessionID causality.SessionID
	ParentID  *causality.SessionID
	Plan      *mountplan.Plan
	Loader    module.Loader
}

// mountEntry is one named module installed at a multi-mount point.
type mountEntry struct {
	name     string
	instance any
	cleanup  module.Cleanup
}

// Coordinator is the per-session registry through which mounted modules
// discover each other. Safe for concurrent use. Construct with New.
type Coordinator struct {
	infra Infra

	hooks     *hooks.Registry
	cancelTok *cancel.Token
	observer  observability.Observer

	approval module.ApprovalSystem
	display  module.DisplaySystem

	mu       sync.Mutex
	singles  map[Point]any
	singleCl map[Point]module.Cleanup
	multi    map[Point][]*mountEntry

	capabilities map[string]any

	contributionsMu sync.Mutex
	contributions   map[string][]contributor
	contributionErr map[string]error

	cleanupsMu sync.Mutex
	cleanups   []module.Cleanup

	seq *causality.Sequencer

	injection injectionState
	approvals approvalCache
}

type contributor struct {
	name string
	fn   func(ctx context.Context) (string, error)
}

// New constructs a Coordinator for one session. approval/display may be
// nil: ResolveApproval then returns a descriptive error, and
// ForwardUserMessages drops the messages.
func New(infra Infra, hookRegistry *hooks.Registry, cancelTok *cancel.Token, observer observability.Observer, approval module.ApprovalSystem, display module.DisplaySystem) *Coordinator {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Coordinator{
		infra:           infra,
		hooks:           hookRegistry,
		cancelTok:       cancelTok,
		observer:        observer,
		approval:        approval,
		display:         display,
		singles:         make(map[Point]any),
		singleCl:        make(map[Point]module.Cleanup),
		multi:           make(map[Point][]*mountEntry),
		capabilities:    make(map[string]any),
		contributions:   make(map[string][]contributor),
		contributionErr: make(map[string]error),
		seq:             causality.NewSequencer(),
		approvals:       newApprovalCache(),
	}
}

// SessionID satisfies module.Coordinator.
func (c *Coordinator) SessionID() string { return string(c.infra.SessionID) }

// ParentID satisfies module.Coordinator. ok is false for a root session.
func (c *Coordinator) ParentID() (string, bool) {
	if c.infra.ParentID == nil {
		return "", false
	}
	return string(*c.infra.ParentID), true
}

// NextSeq returns the next monotonic sequence number for this session.
func (c *Coordinator) NextSeq() uint64 { return c.seq.Next() }

// Hooks returns the hook registry mounted modules register observers on.
func (c *Coordinator) Hooks() *hooks.Registry { return c.hooks }

// Cancellation returns this session's cancellation token (one token for
// the whole session; it is not reset between turns).
func (c *Coordinator) Cancellation() *cancel.Token { return c.cancelTok }

// Plan returns the mount plan this coordinator was constructed from.
func (c *Coordinator) Plan() *mountplan.Plan { return c.infra.Plan }

// Loader returns the module loader inherited from the owning session.
func (c *Coordinator) Loader() module.Loader { return c.infra.Loader }

// Mount installs module at point under name (required for multi-mount
// points, ignored for singletons). Calling module's own Mount entry point
// first; only a successful mount is installed. Mounting a singleton that
// already holds a module fails with kernelerrors.ErrMountConflict.
func (c *Coordinator) Mount(ctx context.Context, point Point, moduleID, name string, mounter module.Mounter, config map[string]any) (any, error) {
	if !point.valid() {
		return nil, fmt.Errorf("coordinator: %w: %q", kernelerrors.ErrMountPointNotFound, point)
	}
	if point.singleton() {
		c.mu.Lock()
		_, occupied := c.singles[point]
		c.mu.Unlock()
		if occupied {
			return nil, fmt.Errorf("coordinator: mount point %q: %w", point, kernelerrors.ErrMountConflict)
		}
	}

	instance, cleanup, err := mounter.Mount(ctx, c, config)
	if err != nil {
		return nil, &kernelerrors.ModuleLoadFailure{ModuleID: moduleID, MountPoint: string(point), Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if point.singleton() {
		if _, occupied := c.singles[point]; occupied {
			return nil, fmt.Errorf("coordinator: mount point %q: %w", point, kernelerrors.ErrMountConflict)
		}
		c.singles[point] = instance
		if cleanup != nil {
			c.singleCl[point] = cleanup
		}
		return instance, nil
	}

	c.multi[point] = append(c.multi[point], &mountEntry{name: name, instance: instance, cleanup: cleanup})
	return instance, nil
}

// Unmount removes a named module from a multi-mount point, invoking its
// teardown callback if one was registered at Mount time.
func (c *Coordinator) Unmount(ctx context.Context, point Point, name string) error {
	if !point.valid() {
		return fmt.Errorf("coordinator: %w: %q", kernelerrors.ErrMountPointNotFound, point)
	}

	c.mu.Lock()
	entries := c.multi[point]
	var found *mountEntry
	idx := -1
	for i, e := range entries {
		if e.name == name {
			found = e
			idx = i
			break
		}
	}
	if found != nil {
		c.multi[point] = append(entries[:idx], entries[idx+1:]...)
	}
	c.mu.Unlock()

	if found == nil {
		return fmt.Errorf("coordinator: %w: %q at %q", kernelerrors.ErrModuleNotFound, name, point)
	}
	if found.cleanup != nil {
		return found.cleanup(ctx)
	}
	return nil
}

// Get retrieves a mounted module. For a singleton point, name is ignored.
// For a multi-mount point, an empty name returns kernelerrors.ErrModuleNotFound
// unless exactly one module is mounted there.
func (c *Coordinator) Get(point Point, name string) (any, error) {
	if !point.valid() {
		return nil, fmt.Errorf("coordinator: %w: %q", kernelerrors.ErrMountPointNotFound, point)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if point.singleton() {
		instance, ok := c.singles[point]
		if !ok {
			return nil, fmt.Errorf("coordinator: %w: %q", kernelerrors.ErrModuleNotFound, point)
		}
		return instance, nil
	}

	entries := c.multi[point]
	if name == "" {
		if len(entries) == 1 {
			return entries[0].instance, nil
		}
		return nil, fmt.Errorf("coordinator: %w: %q requires a name (%d mounted)", kernelerrors.ErrModuleNotFound, point, len(entries))
	}
	for _, e := range entries {
		if e.name == name {
			return e.instance, nil
		}
	}
	return nil, fmt.Errorf("coordinator: %w: %q at %q", kernelerrors.ErrModuleNotFound, name, point)
}

// MountedNames returns the names mounted at a multi-mount point, in
// insertion order.
func (c *Coordinator) MountedNames(point Point) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.multi[point]
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.name
	}
	return out
}

// Snapshot is a read-only view of the mount table, for admin/debug
// surfaces built on top of the coordinator.
type Snapshot struct {
	Singletons map[Point]bool
	Multi      map[Point][]string
}

// Snapshot returns a point-in-time view of what's currently mounted.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	singles := make(map[Point]bool, len(c.singles))
	for p := range c.singles {
		singles[p] = true
	}
	multi := make(map[Point][]string, len(c.multi))
	for p, entries := range c.multi {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.name
		}
		multi[p] = names
	}
	return Snapshot{Singletons: singles, Multi: multi}
}

// RegisterCapability records value under name, last-writer-wins.
func (c *Coordinator) RegisterCapability(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capabilities[name] = value
}

// GetCapability retrieves a previously registered capability.
func (c *Coordinator) GetCapability(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.capabilities[name]
	return v, ok
}

// RegisterContributor appends a contributor callback to channel.
func (c *Coordinator) RegisterContributor(channel, name string, fn func(ctx context.Context) (string, error)) {
	c.contributionsMu.Lock()
	defer c.contributionsMu.Unlock()
	c.contributions[channel] = append(c.contributions[channel], contributor{name: name, fn: fn})
}

// CollectContributions concurrently invokes every contributor on channel,
// waits for all, discards (and logs) failing ones, and returns successful
// outputs concatenated in registration order. Failures are aggregated
// with multierr purely for diagnostic richness; CollectContributions
// itself never returns an error for partial failure.
func (c *Coordinator) CollectContributions(ctx context.Context, channel string) []string {
	c.contributionsMu.Lock()
	contributors := append([]contributor(nil), c.contributions[channel]...)
	c.contributionsMu.Unlock()

	results := make([]string, len(contributors))
	errs := make([]error, len(contributors))

	var wg sync.WaitGroup
	for i, ctrb := range contributors {
		wg.Add(1)
		go func(i int, ctrb contributor) {
			defer wg.Done()
			out, err := ctrb.fn(ctx)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = out
		}(i, ctrb)
	}
	wg.Wait()

	var agg error
	out := make([]string, 0, len(results))
	for i, ctrb := range contributors {
		if errs[i] != nil {
			agg = multierr.Append(agg, fmt.Errorf("contributor %q: %w", ctrb.name, errs[i]))
			c.observer.OnEvent(ctx, observability.Event{
				Type:  "coordinator.contribution.failed",
				Level: observability.LevelWarning,
				Data:  map[string]any{"channel": channel, "contributor": ctrb.name, "error": errs[i].Error()},
			})
			continue
		}
		out = append(out, results[i])
	}

	c.contributionsMu.Lock()
	c.contributionErr[channel] = agg
	c.contributionsMu.Unlock()

	return out
}

// LastContributionError returns the aggregated error from the most recent
// CollectContributions call on channel, or nil if every contributor
// succeeded (or the channel has never been collected).
func (c *Coordinator) LastContributionError(channel string) error {
	c.contributionsMu.Lock()
	defer c.contributionsMu.Unlock()
	return c.contributionErr[channel]
}

// RegisterCleanup records a teardown callback, invoked by Cleanup in
// reverse registration order.
func (c *Coordinator) RegisterCleanup(fn func(context.Context) error) {
	c.cleanupsMu.Lock()
	defer c.cleanupsMu.Unlock()
	c.cleanups = append(c.cleanups, fn)
}

// Cleanup invokes every registered cleanup (plus any singleton/multi mount
// teardown callbacks) in reverse order, catching and logging individual
// failures so one failing cleanup never prevents the rest.
func (c *Coordinator) Cleanup(ctx context.Context) error {
	c.cleanupsMu.Lock()
	cleanups := append([]module.Cleanup(nil), c.cleanups...)
	c.cleanupsMu.Unlock()

	c.mu.Lock()
	for _, entries := range c.multi {
		for _, e := range entries {
			if e.cleanup != nil {
				cleanups = append(cleanups, e.cleanup)
			}
		}
	}
	for _, cl := range c.singleCl {
		cleanups = append(cleanups, cl)
	}
	c.mu.Unlock()

	var agg error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](ctx); err != nil {
			agg = multierr.Append(agg, err)
			c.observer.OnEvent(ctx, observability.Event{
				Type:  "coordinator.cleanup.failed",
				Level: observability.LevelWarning,
				Data:  map[string]any{"error": err.Error()},
			})
		}
	}
	return agg
}

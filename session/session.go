// Package session implements the session lifecycle (spec §4.5):
// construction from a mount plan, module initialization in dependency
// order, turn execution, child-session forking, and idempotent cleanup.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agentkernel/core/cancel"
	"github.com/agentkernel/core/causality"
	"github.com/agentkernel/core/coordinator"
	"github.com/agentkernel/core/hooks"
	"github.com/agentkernel/core/kernelerrors"
	"github.com/agentkernel/core/kernelevents"
	"github.com/agentkernel/core/module"
	"github.com/agentkernel/core/mountplan"
	"github.com/agentkernel/core/observability"
)

// State is the session's lifecycle state (spec §3's "Lifecycle").
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized   State = "initialized"
	StateCleanedUp     State = "cleaned_up"
)

// Option configures a Session at construction. Mirrors the teacher
// kernel's functional-options pattern (kernel.Option).
type Option func(*Session)

// WithSessionID overrides the generated session id.
func WithSessionID(id causality.SessionID) Option {
	return func(s *Session) { s.id = id }
}

// WithParentID marks this session as forked from parent, for lineage.
func WithParentID(id causality.SessionID) Option {
	return func(s *Session) { s.parentID = &id }
}

// WithApprovalSystem installs the external approval system ask_user verdicts
// are delegated to.
func WithApprovalSystem(a module.ApprovalSystem) Option {
	return func(s *Session) { s.approval = a }
}

// WithDisplaySystem installs the external display system user_message
// verdicts are forwarded to.
func WithDisplaySystem(d module.DisplaySystem) Option {
	return func(s *Session) { s.display = d }
}

// WithObserver overrides the default no-op observer.
func WithObserver(o observability.Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithClock overrides the default system clock (test seam).
func WithClock(c causality.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithConfig overrides the default Config.
func WithConfig(cfg Config) Option {
	return func(s *Session) { s.cfg = cfg }
}

// Session ties a mount plan, loader, and coordinator together into one
// conversational session (spec §4.5).
type Session struct {
	id       causality.SessionID
	parentID *causality.SessionID
	plan     mountplan.Plan
	loader   module.Loader
	cfg      Config

	observer observability.Observer
	approval module.ApprovalSystem
	display  module.DisplaySystem
	clock    causality.Clock

	coordinator *coordinator.Coordinator
	cancelTok   *cancel.Token
	hooks       *hooks.Registry

	mu    sync.Mutex
	state State
}

// New constructs a Session from plan. The plan is validated immediately
// (spec.md §9's supplemented construction-time validation, matching the
// Python original's fail-fast ValueError but raised through
// kernelerrors.ConfigInvalid instead of a panic).
func New(plan mountplan.Plan, loader module.Loader, opts ...Option) (*Session, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		plan:   plan.Clone(),
		loader: loader,
		cfg:    DefaultConfig(),
		clock:  causality.SystemClock{},
		state:  StateUninitialized,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.id == "" {
		s.id = causality.NewSessionID()
	}
	if s.observer == nil {
		s.observer = observability.NoOpObserver{}
	}

	s.hooks = hooks.New()
	defaults := hooks.Payload{"session_id": string(s.id)}
	if s.parentID != nil {
		defaults["parent_id"] = string(*s.parentID)
	} else {
		defaults["parent_id"] = nil
	}
	s.hooks.SetDefaultFields(defaults)
	s.hooks.SetErrorLogger(func(event, handlerName string, err error) {
		s.observer.OnEvent(context.Background(), observability.Event{
			Type:  "hooks.handler.failed",
			Level: observability.LevelWarning,
			Data:  map[string]any{"event": event, "handler": handlerName, "error": err.Error()},
		})
	})

	s.cancelTok = cancel.New()

	infra := coordinator.Infra{
		SessionID: s.id,
		ParentID:  s.parentID,
		Plan:      &s.plan,
		Loader:    s.loader,
	}
	s.coordinator = coordinator.New(infra, s.hooks, s.cancelTok, s.observer, s.approval, s.display)
	if s.cfg.SoftInjectionBudget > 0 {
		s.coordinator.SetSoftInjectionBudget(s.cfg.SoftInjectionBudget)
	}

	return s, nil
}

// ID returns the session's identifier.
func (s *Session) ID() causality.SessionID { return s.id }

// ParentID returns the parent session's identifier, if this session was forked.
func (s *Session) ParentID() (causality.SessionID, bool) {
	if s.parentID == nil {
		return "", false
	}
	return *s.parentID, true
}

// Coordinator returns the session's coordinator.
func (s *Session) Coordinator() *coordinator.Coordinator { return s.coordinator }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// envelope builds a causality.Envelope for the current moment, with no
// turn/span context.
func (s *Session) envelope() causality.Envelope {
	return causality.Envelope{
		SessionID: s.id,
		ParentID:  s.parentID,
		Seq:       s.coordinator.NextSeq(),
		Timestamp: s.clock.Now(),
	}
}

// emit fans event out through the hook registry, processes any
// accumulated injections/user-messages/approval request against this
// session's mounted context/display/approval collaborators, and returns
// the final reconciled verdict.
func (s *Session) emit(ctx context.Context, event kernelevents.Name, extra map[string]any, env causality.Envelope) hooks.Reconciled {
	payload := hooks.Payload(env.Fields())
	payload["event"] = string(event)
	for k, v := range extra {
		payload[k] = v
	}

	s.observer.OnEvent(ctx, observability.Event{
		Type:      observability.EventType(event),
		Level:     observability.LevelInfo,
		Timestamp: env.Timestamp,
		Source:    "session",
		Data:      map[string]any(payload.Clone()),
	})

	reconciled := s.hooks.Emit(ctx, string(event), payload)

	if len(reconciled.Injections) > 0 {
		if ctxModule, err := s.coordinator.Get(coordinator.PointContext, ""); err == nil {
			if typed, ok := ctxModule.(module.Context); ok {
				s.coordinator.ProcessInjections(ctx, string(event), reconciled.Injections, typed)
			}
		}
	}
	if len(reconciled.UserMessages) > 0 {
		s.coordinator.ForwardUserMessages(ctx, reconciled.UserMessages)
	}
	if reconciled.Action == hooks.ActionAskUser {
		choice, err := s.coordinator.ResolveApproval(ctx, reconciled)
		if err != nil {
			s.observer.OnEvent(ctx, observability.Event{
				Type:  "coordinator.approval.error",
				Level: observability.LevelWarning,
				Data:  map[string]any{"error": err.Error()},
			})
		}
		if choice == "deny" {
			reconciled.Action = hooks.ActionDeny
		} else {
			reconciled.Action = hooks.ActionContinue
		}
		if err != nil && errors.Is(err, kernelerrors.ErrApprovalTimeout) {
			reconciled.Reason = fmt.Sprintf("timeout: defaulted to %s", choice)
		} else {
			reconciled.Reason = choice
		}
	}

	return reconciled
}

// Initialize walks the mount plan in dependency order (context → providers
// → tools → hooks → agents → orchestrator), mounting each resolved module.
// A missing/failed orchestrator or context is fatal. Provider/tool/hook/
// agent failures are logged and skipped; initialization still requires at least
// one provider to succeed. Idempotent: a second call is a no-op.
func (s *Session) Initialize(ctx context.Context, source string) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.mountContext(ctx); err != nil {
		return err
	}
	providerCount := s.mountMulti(ctx, coordinator.PointProviders, s.plan.Providers)
	if providerCount == 0 {
		return kernelerrors.ErrNoProvider
	}
	s.mountMulti(ctx, coordinator.PointTools, s.plan.Tools)
	s.mountMulti(ctx, coordinator.PointHooks, s.plan.Hooks)
	s.mountMulti(ctx, coordinator.PointAgents, s.plan.Agents)
	if err := s.mountOrchestrator(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateInitialized
	s.mu.Unlock()

	if source == "" {
		source = "startup"
	}
	env := s.envelope()
	s.emit(ctx, kernelevents.SessionStart, map[string]any{"source": source}, env)

	if s.parentID != nil {
		s.emit(ctx, kernelevents.SessionFork, map[string]any{"parent": string(*s.parentID)}, s.envelope())
	}

	return nil
}

func (s *Session) mountContext(ctx context.Context) error {
	moduleID := s.plan.Session.Context
	mounter, err := s.loader.Load(ctx, moduleID)
	if err != nil {
		return fmt.Errorf("session: cannot initialize without context: %w", &kernelerrors.ModuleNotFound{ModuleID: moduleID, Err: err})
	}
	if _, err := s.coordinator.Mount(ctx, coordinator.PointContext, moduleID, "", mounter, s.plan.Context.Config); err != nil {
		return fmt.Errorf("session: cannot initialize without context: %w", err)
	}
	return nil
}

func (s *Session) mountOrchestrator(ctx context.Context) error {
	moduleID := s.plan.Session.Orchestrator
	mounter, err := s.loader.Load(ctx, moduleID)
	if err != nil {
		return fmt.Errorf("session: cannot initialize without orchestrator: %w", &kernelerrors.ModuleNotFound{ModuleID: moduleID, Err: err})
	}
	if _, err := s.coordinator.Mount(ctx, coordinator.PointOrchestrator, moduleID, "", mounter, nil); err != nil {
		return fmt.Errorf("session: cannot initialize without orchestrator: %w", err)
	}
	return nil
}

// mountMulti mounts every ref at point, logging and skipping individual
// failures, and returns the count that mounted successfully.
func (s *Session) mountMulti(ctx context.Context, point coordinator.Point, refs []mountplan.ModuleRef) int {
	mounted := 0
	for i, ref := range refs {
		if ref.Module == "" {
			continue
		}
		name := ref.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", ref.Module, i)
		}

		mounter, err := s.loader.Load(ctx, ref.Module)
		if err != nil {
			s.observer.OnEvent(ctx, observability.Event{
				Type:  "session.mount.failed",
				Level: observability.LevelWarning,
				Data:  map[string]any{"point": string(point), "module": ref.Module, "error": err.Error()},
			})
			continue
		}
		if _, err := s.coordinator.Mount(ctx, point, ref.Module, name, mounter, ref.Config); err != nil {
			s.observer.OnEvent(ctx, observability.Event{
				Type:  "session.mount.failed",
				Level: observability.LevelWarning,
				Data:  map[string]any{"point": string(point), "module": ref.Module, "error": err.Error()},
			})
			continue
		}
		mounted++
	}
	return mounted
}

// Execute runs prompt through the mounted orchestrator (spec §4.5's
// execute). Requires Initialize to have succeeded.
func (s *Session) Execute(ctx context.Context, prompt string) (string, error) {
	if s.State() != StateInitialized {
		return "", kernelerrors.ErrNotInitialized
	}

	turnID := causality.NewTurnID()
	s.coordinator.ResetTurn()

	s.emit(ctx, kernelevents.TurnStart, nil, s.turnEnvelope(turnID))

	orch, err := s.coordinator.Get(coordinator.PointOrchestrator, "")
	if err != nil {
		return s.failTurn(ctx, turnID, err)
	}

	orchestrator, ok := orch.(module.Orchestrator)
	if !ok {
		err := fmt.Errorf("session: mounted orchestrator does not implement module.Orchestrator")
		return s.failTurn(ctx, turnID, err)
	}

	response, runErr := orchestrator.Run(ctx, prompt, s.coordinator, s.cancelTok)
	if runErr == nil && s.cancelTok.IsImmediate() {
		runErr = kernelerrors.ErrCancelled
	}

	if runErr != nil {
		return s.failTurn(ctx, turnID, runErr)
	}

	s.emit(ctx, kernelevents.TurnEnd, nil, s.turnEnvelope(turnID))
	return response, nil
}

// turnEnvelope builds an envelope scoped to turnID, for every event
// emitted while that turn is in progress (invariant: turn_id is non-nil
// iff a turn is in progress).
func (s *Session) turnEnvelope(turnID causality.TurnID) causality.Envelope {
	env := s.envelope()
	env.TurnID = &turnID
	return env
}

// failTurn implements spec §7's fatal in-execute error path: emit
// turn:error and turn:end scoped to the failing turn, emit session:error,
// clean up the session, and return the error to the caller to re-raise.
func (s *Session) failTurn(ctx context.Context, turnID causality.TurnID, err error) (string, error) {
	s.emit(ctx, kernelevents.TurnError, map[string]any{"error": err.Error()}, s.turnEnvelope(turnID))
	s.emit(ctx, kernelevents.TurnEnd, nil, s.turnEnvelope(turnID))
	s.emit(ctx, kernelevents.SessionError, map[string]any{"error": err.Error()}, s.envelope())
	s.Cleanup(ctx)
	return "", err
}

// Fork creates a child session sharing this session's loader, with a
// fresh coordinator, hook registry, and cancellation token. The child's
// mount plan is this session's plan shallow-merged with override. The
// child's lifecycle is independent: cleaning up the parent never cleans
// up children.
func (s *Session) Fork(override mountplan.Plan, opts ...Option) (*Session, error) {
	childPlan := s.plan.Clone()
	childPlan.Merge(&override)

	childOpts := append([]Option{
		WithParentID(s.id),
		WithApprovalSystem(s.approval),
		WithDisplaySystem(s.display),
		WithObserver(s.observer),
		WithClock(s.clock),
		WithConfig(s.cfg),
	}, opts...)

	return New(childPlan, s.loader, childOpts...)
}

// Cleanup idempotently tears the session down: requests graceful
// cancellation, runs every registered module cleanup (failures logged,
// isolated), emits session:end, and marks the session terminal.
func (s *Session) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateCleanedUp {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.cancelTok.RequestGraceful()
	err := s.coordinator.Cleanup(ctx)

	s.mu.Lock()
	s.state = StateCleanedUp
	s.mu.Unlock()

	s.emit(ctx, kernelevents.SessionEnd, nil, s.envelope())
	return err
}

// Use constructs a Session, initializes it, invokes fn, and always cleans
// up afterward — the Go callback analogue of the Python original's
// __aenter__/__aexit__ pair (spec §4.5's "async scope").
func Use(ctx context.Context, plan mountplan.Plan, loader module.Loader, fn func(*Session) error, opts ...Option) error {
	s, err := New(plan, loader, opts...)
	if err != nil {
		return err
	}
	if err := s.Initialize(ctx, "startup"); err != nil {
		return err
	}
	defer s.Cleanup(ctx)

	return fn(s)
}

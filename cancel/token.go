// Package cancel implements the two-level cooperative cancellation token
// (spec §4.2): a running/graceful/immediate state machine, in-flight tool
// tracking, and at-most-once teardown callbacks.
package cancel

import (
	"log/slog"
	"sync"

	"go.uber.org/multierr"
)

// State is one of the token's three lifecycle states.
type State string

const (
	StateRunning   State = "running"
	StateGraceful  State = "graceful"
	StateImmediate State = "immediate"
)

// Callback is a teardown hook run when cancellation is first requested.
// Errors are logged as warnings and otherwise swallowed by the token
// itself; LastTeardownError exposes the aggregate for callers.
type Callback func() error

// ToolRecord identifies one in-flight tool execution.
type ToolRecord struct {
	ID   string
	Name string
}

// Token is the cancellation coordination point shared between a session's
// execute call and the orchestrator/tools it drives. The zero value is not
// usable; construct with New.
type Token struct {
	mu    sync.Mutex
	state State

	tools map[string]string // tool_id -> name

	callbacks    []Callback
	callbacksRan bool
	lastErr      error
}

// New creates a token in the running state.
func New() *Token {
	return &Token{
		state: StateRunning,
		tools: make(map[string]string),
	}
}

// RequestGraceful transitions running -> graceful. Returns false (no-op) if
// the token is already graceful or immediate.
func (t *Token) RequestGraceful() bool {
	t.mu.Lock()
	if t.state != StateRunning {
		t.mu.Unlock()
		return false
	}
	t.state = StateGraceful
	callbacks, run := t.armCallbacksLocked()
	t.mu.Unlock()

	if run {
		t.runCallbacks(callbacks)
	}
	return true
}

// RequestImmediate transitions running or graceful -> immediate. Returns
// false (no-op) if already immediate. Teardown callbacks run exactly once
// across the token's lifetime: if graceful already ran them, immediate
// does not re-run them.
func (t *Token) RequestImmediate() bool {
	t.mu.Lock()
	if t.state == StateImmediate {
		t.mu.Unlock()
		return false
	}
	t.state = StateImmediate
	callbacks, run := t.armCallbacksLocked()
	t.mu.Unlock()

	if run {
		t.runCallbacks(callbacks)
	}
	return true
}

// armCallbacksLocked marks callbacks as having run and returns the snapshot
// to invoke, or reports false if they already ran. Must hold t.mu.
func (t *Token) armCallbacksLocked() ([]Callback, bool) {
	if t.callbacksRan {
		return nil, false
	}
	t.callbacksRan = true
	snapshot := make([]Callback, len(t.callbacks))
	copy(snapshot, t.callbacks)
	return snapshot, true
}

// runCallbacks invokes callbacks outside the lock (spec: "Callback
// invocation happens outside the lock to avoid deadlock"), logging each
// failure as a warning via slog.Default() and swallowing it into an
// aggregate exposed via LastTeardownError.
func (t *Token) runCallbacks(callbacks []Callback) {
	var agg error
	for _, cb := range callbacks {
		if err := cb(); err != nil {
			slog.Warn("cancel: teardown callback failed", "error", err)
			agg = multierr.Append(agg, err)
		}
	}
	t.mu.Lock()
	t.lastErr = agg
	t.mu.Unlock()
}

// Reset returns the token to running, clearing in-flight tool tracking. It
// does not re-arm or re-run teardown callbacks (spec: cancellation is a
// one-shot lifecycle event even after a reset).
func (t *Token) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateRunning
	t.tools = make(map[string]string)
}

// RegisterCallback records a teardown callback. Safe to call at any state;
// if cancellation has already been requested and callbacks already ran,
// registering afterward means the callback is simply never invoked (there
// is no re-arming), matching the "at most once across the token's
// lifetime" contract.
func (t *Token) RegisterCallback(cb Callback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// LastTeardownError returns the aggregated error from the most recent
// teardown callback run, or nil if none failed (or none have run yet).
func (t *Token) LastTeardownError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// IsCancelled is true in graceful or immediate.
func (t *Token) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateGraceful || t.state == StateImmediate
}

// IsGraceful is true only in graceful.
func (t *Token) IsGraceful() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateGraceful
}

// IsImmediate is true only in immediate.
func (t *Token) IsImmediate() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateImmediate
}

// State returns the current state.
func (t *Token) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// TrackTool records an in-flight tool execution.
func (t *Token) TrackTool(id, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tools[id] = name
}

// CompleteTool removes an in-flight tool record.
func (t *Token) CompleteTool(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tools, id)
}

// InFlightTools returns a snapshot of currently tracked tool executions.
func (t *Token) InFlightTools() []ToolRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ToolRecord, 0, len(t.tools))
	for id, name := range t.tools {
		out = append(out, ToolRecord{ID: id, Name: name})
	}
	return out
}

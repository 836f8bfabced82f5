// Package kernelerrors defines the error taxonomy shared by every kernel
// subsystem (spec §7), as sentinel errors plus a small set of wrapped
// error types that carry the offending field, module, or handler name.
package kernelerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers distinguish them with errors.Is.
var (
	// ErrNotInitialized is returned by Session.Execute called before
	// Session.Initialize succeeds.
	ErrNotInitialized = errors.New("kernel: session not initialized")

	// ErrAlreadyInitialized would be raised by a naive double-initialize;
	// Session.Initialize instead swallows it, matching spec §7's
	// "suppressed (idempotent)" recovery. Exported so tests can assert
	// the idempotence behavior explicitly if they need to.
	ErrAlreadyInitialized = errors.New("kernel: session already initialized")

	// ErrMountConflict is returned by mounting a singleton mount point
	// that already holds a module.
	ErrMountConflict = errors.New("kernel: mount point already occupied")

	// ErrCancelled is returned by Session.Execute when the cancellation
	// token transitions to immediate before the orchestrator returns.
	ErrCancelled = errors.New("kernel: execution cancelled")

	// ErrApprovalTimeout marks an approval request that exceeded its
	// timeout. Coordinator.ResolveApproval maps it to approval_default and
	// wraps this sentinel in its returned error; the session logs that
	// error and never re-raises it.
	ErrApprovalTimeout = errors.New("kernel: approval request timed out")

	// ErrNoProvider is returned by Session.Initialize when the mount plan
	// yields zero successfully mounted providers.
	ErrNoProvider = errors.New("kernel: no provider could be mounted")

	// ErrMountPointNotFound is returned by Coordinator.Mount/Get/Unmount
	// for a Point value outside the fixed mount-point set.
	ErrMountPointNotFound = errors.New("kernel: unknown mount point")

	// ErrModuleNotFound is returned by Get for a name with nothing mounted.
	ErrModuleNotFound = errors.New("kernel: module not found")
)

// ConfigInvalid reports a mount plan missing a required key.
type ConfigInvalid struct {
	Field  string
	Reason string
}

func (e *ConfigInvalid) Error() string {
	return fmt.Sprintf("kernel: invalid config field %q: %s", e.Field, e.Reason)
}

// ModuleNotFound reports a loader unable to resolve a module identifier.
type ModuleNotFound struct {
	ModuleID string
	Err      error
}

func (e *ModuleNotFound) Error() string {
	return fmt.Sprintf("kernel: module %q not found: %v", e.ModuleID, e.Err)
}

func (e *ModuleNotFound) Unwrap() error { return e.Err }

// ModuleLoadFailure reports a module's mount entry point returning an error.
type ModuleLoadFailure struct {
	ModuleID   string
	MountPoint string
	Err        error
}

func (e *ModuleLoadFailure) Error() string {
	return fmt.Sprintf("kernel: module %q failed to mount at %q: %v", e.ModuleID, e.MountPoint, e.Err)
}

func (e *ModuleLoadFailure) Unwrap() error { return e.Err }

// InjectionTooLarge reports a hook's inject_context payload exceeding the
// hard per-injection byte limit.
type InjectionTooLarge struct {
	HookName string
	Size     int
	Limit    int
}

func (e *InjectionTooLarge) Error() string {
	return fmt.Sprintf("kernel: injection from hook %q is %d bytes, exceeds hard limit %d", e.HookName, e.Size, e.Limit)
}

// HookHandlerError reports a handler panic or error return, both of which
// are caught at the dispatch boundary and folded to "continue" — this type
// exists purely so the fold can be logged with structure.
type HookHandlerError struct {
	Event       string
	HandlerName string
	Err         error
}

func (e *HookHandlerError) Error() string {
	return fmt.Sprintf("kernel: hook handler %q failed for event %q: %v", e.HandlerName, e.Event, e.Err)
}

func (e *HookHandlerError) Unwrap() error { return e.Err }

package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/agentkernel/core/kernelerrors"
)

// Emit fans payload out to every handler registered for event, in
// priority/insertion order, and folds their verdicts into one Reconciled
// decision (spec §4.3 steps 1-5).
func (r *Registry) Emit(ctx context.Context, event string, payload Payload) Reconciled {
	merged := r.mergedPayload(payload)

	r.mu.Lock()
	handlers := r.sortedLocked(event)
	r.mu.Unlock()

	reconciled := Reconciled{Action: ActionContinue, Data: merged}
	current := merged

	for _, entry := range handlers {
		if err := ctx.Err(); err != nil {
			break
		}

		verdict := r.callHandler(ctx, entry, event, current)

		if verdict.UserMessage != "" {
			reconciled.UserMessages = append(reconciled.UserMessages, UserMessageEntry{
				Text:     verdict.UserMessage,
				Level:    verdict.UserMessageLevel,
				HookName: entry.name,
				Suppress: verdict.SuppressOutput,
			})
		}

		switch verdict.Action {
		case ActionDeny:
			reconciled.Action = ActionDeny
			reconciled.Reason = verdict.Reason
			reconciled.Data = current
			return reconciled

		case ActionAskUser:
			reconciled.Action = ActionAskUser
			reconciled.Reason = verdict.Reason
			reconciled.ApprovalHookName = entry.name
			reconciled.ApprovalPrompt = verdict.ApprovalPrompt
			reconciled.ApprovalOptions = verdict.ApprovalOptions
			reconciled.ApprovalTimeout = verdict.ApprovalTimeout
			reconciled.ApprovalDefault = verdict.ApprovalDefault
			reconciled.Data = current
			return reconciled

		case ActionModify:
			if verdict.Data != nil {
				current = verdict.Data
			}
			reconciled.Action = ActionModify
			reconciled.Data = current

		case ActionInjectContext:
			reconciled.Injections = append(reconciled.Injections, Injection{
				Text:     verdict.ContextInjection,
				Role:     injectionRoleOrDefault(verdict.ContextInjectionRole),
				HookName: entry.name,
			})

		case ActionContinue:
			// no effect

		default:
			// Invalid action from a misbehaving handler: non-interference,
			// treat exactly like continue.
		}
	}

	reconciled.Data = current
	return reconciled
}

func injectionRoleOrDefault(role InjectionRole) InjectionRole {
	if role == "" {
		return RoleSystem
	}
	return role
}

// callHandler invokes entry.handler, converting a panic or returned error
// into a logged continue verdict (spec §4.3 step 5's non-interference rule).
func (r *Registry) callHandler(ctx context.Context, entry *handlerEntry, event string, payload Payload) Result {
	var (
		verdict Result
		err     error
	)

	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		verdict, err = entry.handler(ctx, event, payload)
	}()

	if err != nil {
		r.logHandlerError(event, entry.name, &kernelerrors.HookHandlerError{Event: event, HandlerName: entry.name, Err: err})
		return Continue()
	}
	if !verdict.Action.valid() {
		err := fmt.Errorf("invalid action %q", verdict.Action)
		r.logHandlerError(event, entry.name, &kernelerrors.HookHandlerError{Event: event, HandlerName: entry.name, Err: err})
		return Continue()
	}
	return verdict
}

func (r *Registry) logHandlerError(event, handlerName string, err error) {
	r.mu.Lock()
	logger := r.onHandlerErr
	r.mu.Unlock()
	if logger != nil {
		logger(event, handlerName, err)
	}
}

// CollectedResult pairs a handler's verdict with the handler that produced
// it, for emit_and_collect's "see every observer's decision" contract.
type CollectedResult struct {
	HandlerName string
	Result      Result
	Err         error
}

// EmitAndCollect fans payload out to every handler and returns every raw
// verdict, rather than reconciling them into one decision (spec §4.3's
// emit_and_collect variant). timeout bounds total wall-clock time across
// all handlers combined; a zero timeout means no bound.
func (r *Registry) EmitAndCollect(ctx context.Context, event string, payload Payload, timeout time.Duration) []CollectedResult {
	merged := r.mergedPayload(payload)

	r.mu.Lock()
	handlers := r.sortedLocked(event)
	r.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	results := make([]CollectedResult, 0, len(handlers))
	for _, entry := range handlers {
		if err := ctx.Err(); err != nil {
			results = append(results, CollectedResult{HandlerName: entry.name, Err: err})
			continue
		}
		verdict := r.callHandler(ctx, entry, event, merged)
		results = append(results, CollectedResult{HandlerName: entry.name, Result: verdict})
	}
	return results
}

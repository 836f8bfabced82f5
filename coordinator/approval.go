package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agentkernel/core/hooks"
	"github.com/agentkernel/core/kernelerrors"
	"github.com/agentkernel/core/kernelevents"
	"github.com/agentkernel/core/observability"
)

// approvalCache caches "allow always" decisions for the remainder of a
// session, keyed by (hook_name, prompt, sorted options) (spec §4.4).
type approvalCache struct {
	mu      sync.Mutex
	allowed map[string]bool
}

func newApprovalCache() approvalCache {
	return approvalCache{allowed: make(map[string]bool)}
}

func cacheKey(hookName, prompt string, options []string) string {
	sorted := append([]string(nil), options...)
	sort.Strings(sorted)
	return hookName + "\x00" + prompt + "\x00" + strings.Join(sorted, "\x01")
}

// AllowAlwaysOption is the sentinel response ResolveApproval treats as caching an
// allow decision for the remainder of the session.
const AllowAlwaysOption = "allow_always"

// ResolveApproval resolves an ask_user verdict into a chosen option,
// consulting the allow-always cache first, then the external approval
// system, falling back to reconciled.ApprovalDefault on timeout. Invalid
// option responses (not present in reconciled.ApprovalOptions, and not
// AllowAlwaysOption) are treated as deny.
func (c *Coordinator) ResolveApproval(ctx context.Context, reconciled hooks.Reconciled) (string, error) {
	if reconciled.Action != hooks.ActionAskUser {
		return "", fmt.Errorf("coordinator: ResolveApproval called on non-ask_user verdict %q", reconciled.Action)
	}

	key := cacheKey(reconciled.ApprovalHookName, reconciled.ApprovalPrompt, reconciled.ApprovalOptions)

	c.approvals.mu.Lock()
	cached, hit := c.approvals.allowed[key]
	c.approvals.mu.Unlock()
	if hit && cached {
		return "continue", nil
	}

	c.observer.OnEvent(ctx, observability.Event{
		Type:  observability.EventType(kernelevents.ApprovalRequested),
		Level: observability.LevelInfo,
		Data: map[string]any{
			"hook_name": reconciled.ApprovalHookName,
			"prompt":    reconciled.ApprovalPrompt,
			"options":   reconciled.ApprovalOptions,
		},
	})

	if c.approval == nil {
		return "", fmt.Errorf("coordinator: ask_user requested but no approval system configured")
	}

	choice, err := c.approval.RequestApproval(ctx, reconciled.ApprovalPrompt, reconciled.ApprovalOptions, reconciled.ApprovalTimeout, reconciled.ApprovalDefault)
	if err != nil {
		c.observer.OnEvent(ctx, observability.Event{
			Type:  observability.EventType(kernelevents.ApprovalTimeout),
			Level: observability.LevelWarning,
			Data:  map[string]any{"hook_name": reconciled.ApprovalHookName, "error": err.Error()},
		})
		choice = reconciled.ApprovalDefault
		err = fmt.Errorf("%w: %v", kernelerrors.ErrApprovalTimeout, err)
	}

	valid := choice == AllowAlwaysOption
	for _, opt := range reconciled.ApprovalOptions {
		if opt == choice {
			valid = true
			break
		}
	}
	if !valid {
		choice = "deny"
	}

	if choice == AllowAlwaysOption {
		c.approvals.mu.Lock()
		c.approvals.allowed[key] = true
		c.approvals.mu.Unlock()
		choice = "continue"
	}

	c.observer.OnEvent(ctx, observability.Event{
		Type:  observability.EventType(kernelevents.ApprovalDecision),
		Level: observability.LevelInfo,
		Data:  map[string]any{"hook_name": reconciled.ApprovalHookName, "decision": choice},
	})

	if err != nil {
		return choice, err
	}
	return choice, nil
}

// ForwardUserMessages sends every accumulated user_message verdict to the
// configured display system, tagged with source "hook:<name>" (spec
// §4.4's "User messages"). A nil display system means messages are
// silently dropped — logged at debug level so the gap is visible without
// being treated as an error.
func (c *Coordinator) ForwardUserMessages(ctx context.Context, messages []hooks.UserMessageEntry) {
	for _, msg := range messages {
		if msg.Suppress {
			continue
		}
		if c.display == nil {
			c.observer.OnEvent(ctx, observability.Event{
				Type:  "coordinator.user_message.dropped",
				Level: observability.LevelVerbose,
				Data:  map[string]any{"hook_name": msg.HookName},
			})
			continue
		}
		c.display.ShowMessage(ctx, msg.Text, msg.Level, "hook:"+msg.HookName)
	}
}

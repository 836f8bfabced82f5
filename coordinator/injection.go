package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/agentkernel/core/hooks"
	"github.com/agentkernel/core/kernelerrors"
	"github.com/agentkernel/core/kernelevents"
	"github.com/agentkernel/core/module"
	"github.com/agentkernel/core/observability"
)

// HardInjectionLimit is the per-injection byte ceiling; exceeding it is a
// rejection, not a warning (spec §4.4).
const HardInjectionLimit = 10 * 1024

// DefaultSoftInjectionBudget is the default per-turn byte budget; exceeding
// it only logs a warning and continues (spec §4.4).
const DefaultSoftInjectionBudget = 4000

// injectionState tracks the per-turn injection byte counter.
type injectionState struct {
	mu          sync.Mutex
	softBudget  int
	turnBytes   int
}

// SetSoftInjectionBudget overrides the default soft per-turn budget.
func (c *Coordinator) SetSoftInjectionBudget(bytes int) {
	c.injection.mu.Lock()
	defer c.injection.mu.Unlock()
	c.injection.softBudget = bytes
}

// ResetTurn zeroes the per-turn injection counter. Called by Session.Execute
// at the start of every turn.
func (c *Coordinator) ResetTurn() {
	c.injection.mu.Lock()
	defer c.injection.mu.Unlock()
	c.injection.turnBytes = 0
}

// ProcessInjections applies spec §4.4's "Injection processing" to every
// accumulated inject_context verdict from a hook emission: validate size,
// write to the mounted context module, bump the turn budget, emit
// hook:context_injection. Injections exceeding HardInjectionLimit are
// rejected (logged, not written); injections pushing the turn total past
// the soft budget are still written, with a logged warning.
func (c *Coordinator) ProcessInjections(ctx context.Context, event string, injections []hooks.Injection, ctxModule module.Context) {
	for _, inj := range injections {
		size := len(inj.Text)

		if size > HardInjectionLimit {
			err := &kernelerrors.InjectionTooLarge{HookName: inj.HookName, Size: size, Limit: HardInjectionLimit}
			c.observer.OnEvent(ctx, observability.Event{
				Type:  "coordinator.injection.rejected",
				Level: observability.LevelError,
				Data:  map[string]any{"hook_name": inj.HookName, "size": size, "error": err.Error()},
			})
			continue
		}

		if ctxModule != nil {
			metadata := map[string]any{
				"source":    "hook",
				"hook_name": inj.HookName,
				"event":     event,
				"timestamp": time.Now().UTC(),
			}
			if err := ctxModule.AddMessage(ctx, string(inj.Role), inj.Text, metadata); err != nil {
				c.observer.OnEvent(ctx, observability.Event{
					Type:  "coordinator.injection.write_failed",
					Level: observability.LevelWarning,
					Data:  map[string]any{"hook_name": inj.HookName, "error": err.Error()},
				})
				continue
			}
		}

		c.injection.mu.Lock()
		c.injection.turnBytes += size
		over := c.injection.turnBytes > c.effectiveSoftBudgetLocked()
		totalBytes := c.injection.turnBytes
		c.injection.mu.Unlock()

		if over {
			c.observer.OnEvent(ctx, observability.Event{
				Type:  "coordinator.injection.soft_budget_exceeded",
				Level: observability.LevelWarning,
				Data:  map[string]any{"hook_name": inj.HookName, "turn_bytes": totalBytes},
			})
		}

		c.observer.OnEvent(ctx, observability.Event{
			Type:  observability.EventType(kernelevents.HookContextInjection),
			Level: observability.LevelInfo,
			Data: map[string]any{
				"hook_name": inj.HookName,
				"event":     event,
				"role":      string(inj.Role),
				"size":      size,
			},
		})
	}
}

// effectiveSoftBudgetLocked returns the configured soft budget, or the
// package default if none was set. Must hold c.injection.mu.
func (c *Coordinator) effectiveSoftBudgetLocked() int {
	if c.injection.softBudget > 0 {
		return c.injection.softBudget
	}
	return DefaultSoftInjectionBudget
}

// TurnInjectedBytes returns the running per-turn injection byte total.
func (c *Coordinator) TurnInjectedBytes() int {
	c.injection.mu.Lock()
	defer c.injection.mu.Unlock()
	return c.injection.turnBytes
}

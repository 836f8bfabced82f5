package session

import (
	"context"
	"sync"

	"github.com/agentkernel/core/module"
)

// InMemoryContext is a builtin module.Context backed by an in-memory
// slice, adapted from the teacher kernel's memorySession for the mounted
// context role spec §6 defines (add_message/get_messages/should_compact/
// compact/clear). compactThreshold of 0 means ShouldCompact never fires.
type InMemoryContext struct {
	mu               sync.RWMutex
	messages         []module.Message
	compactThreshold int
}

// NewInMemoryContext constructs an empty context with the given
// compaction threshold (message count past which ShouldCompact reports true).
func NewInMemoryContext(compactThreshold int) *InMemoryContext {
	return &InMemoryContext{compactThreshold: compactThreshold}
}

// MountInMemoryContext adapts NewInMemoryContext to the module.Mounter
// entry point, for plans that reference a builtin in-process context
// rather than an externally loaded one.
func MountInMemoryContext(compactThreshold int) module.MounterFunc {
	return func(ctx context.Context, coord module.Coordinator, config map[string]any) (any, module.Cleanup, error) {
		return NewInMemoryContext(compactThreshold), nil, nil
	}
}

func (c *InMemoryContext) AddMessage(ctx context.Context, role, content string, metadata map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, module.Message{Role: role, Content: content})
	return nil
}

func (c *InMemoryContext) Messages(ctx context.Context) ([]module.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]module.Message, len(c.messages))
	copy(out, c.messages)
	return out, nil
}

func (c *InMemoryContext) ShouldCompact(ctx context.Context) (bool, error) {
	if c.compactThreshold <= 0 {
		return false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages) > c.compactThreshold, nil
}

// Compact drops the oldest half of the conversation, keeping the most
// recent messages. A real context module would summarize; this builtin
// has no provider to summarize with, so it truncates.
func (c *InMemoryContext) Compact(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) <= 1 {
		return nil
	}
	keep := len(c.messages) / 2
	c.messages = append([]module.Message(nil), c.messages[len(c.messages)-keep:]...)
	return nil
}

func (c *InMemoryContext) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	return nil
}

package session_test

import (
	"context"
	"testing"

	"github.com/agentkernel/core/session"
)

func TestInMemoryContextAddAndRead(t *testing.T) {
	ctx := context.Background()
	c := session.NewInMemoryContext(0)

	if err := c.AddMessage(ctx, "user", "hello", nil); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	msgs, err := c.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("got %+v, want one message with content %q", msgs, "hello")
	}
}

func TestInMemoryContextMessagesIsDefensiveCopy(t *testing.T) {
	ctx := context.Background()
	c := session.NewInMemoryContext(0)
	c.AddMessage(ctx, "user", "first", nil)

	msgs, _ := c.Messages(ctx)
	msgs[0].Content = "tampered"

	again, _ := c.Messages(ctx)
	if again[0].Content != "first" {
		t.Fatalf("mutating returned slice affected internal state: %q", again[0].Content)
	}
}

func TestInMemoryContextShouldCompact(t *testing.T) {
	ctx := context.Background()
	c := session.NewInMemoryContext(2)

	if should, _ := c.ShouldCompact(ctx); should {
		t.Fatal("should not need compaction with zero messages")
	}

	c.AddMessage(ctx, "user", "1", nil)
	c.AddMessage(ctx, "assistant", "2", nil)
	c.AddMessage(ctx, "user", "3", nil)

	should, err := c.ShouldCompact(ctx)
	if err != nil {
		t.Fatalf("ShouldCompact: %v", err)
	}
	if !should {
		t.Fatal("expected compaction to be needed past the threshold")
	}
}

func TestInMemoryContextCompactKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	c := session.NewInMemoryContext(0)

	for _, content := range []string{"a", "b", "c", "d"} {
		c.AddMessage(ctx, "user", content, nil)
	}

	if err := c.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	msgs, _ := c.Messages(ctx)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages after compact, want 2", len(msgs))
	}
	if msgs[0].Content != "c" || msgs[1].Content != "d" {
		t.Fatalf("compact kept wrong messages: %+v", msgs)
	}
}

func TestInMemoryContextClear(t *testing.T) {
	ctx := context.Background()
	c := session.NewInMemoryContext(0)
	c.AddMessage(ctx, "user", "x", nil)

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	msgs, _ := c.Messages(ctx)
	if len(msgs) != 0 {
		t.Fatalf("got %d messages after Clear, want 0", len(msgs))
	}
}

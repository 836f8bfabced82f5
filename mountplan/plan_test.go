package mountplan_test

import (
	"testing"

	"github.com/agentkernel/core/mountplan"
)

func validPlan() mountplan.Plan {
	p := mountplan.Default()
	p.Session.Orchestrator = "builtin:orchestrator"
	p.Session.Context = "builtin:context"
	p.Providers = []mountplan.ModuleRef{{Module: "builtin:anthropic"}}
	return p
}

func TestValidateRequiresOrchestratorAndContext(t *testing.T) {
	p := mountplan.Default()
	p.Providers = []mountplan.ModuleRef{{Module: "builtin:anthropic"}}

	if err := p.Validate(); err == nil {
		t.Fatal("expected error when session.orchestrator/context are missing")
	}
}

func TestValidateRequiresAtLeastOneProvider(t *testing.T) {
	p := mountplan.Default()
	p.Session.Orchestrator = "builtin:orchestrator"
	p.Session.Context = "builtin:context"

	if err := p.Validate(); err == nil {
		t.Fatal("expected error when providers list is empty")
	}
}

func TestValidateAcceptsMinimalPlan(t *testing.T) {
	p := validPlan()
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsEmptyModuleRef(t *testing.T) {
	p := validPlan()
	p.Tools = []mountplan.ModuleRef{{Name: "search"}}

	if err := p.Validate(); err == nil {
		t.Fatal("expected error for a tool ref with no module identifier")
	}
}

func TestMergeOverridesSections(t *testing.T) {
	base := validPlan()
	base.Tools = []mountplan.ModuleRef{{Module: "builtin:search"}}

	override := mountplan.Default()
	override.Session.Orchestrator = "builtin:other-orchestrator"
	override.Tools = []mountplan.ModuleRef{{Module: "builtin:calculator"}}

	base.Merge(&override)

	if base.Session.Orchestrator != "builtin:other-orchestrator" {
		t.Fatalf("orchestrator = %q, want override", base.Session.Orchestrator)
	}
	if base.Session.Context != "builtin:context" {
		t.Fatal("context should be unchanged when override leaves it zero")
	}
	if len(base.Tools) != 1 || base.Tools[0].Module != "builtin:calculator" {
		t.Fatalf("tools = %+v, want override replacing wholesale", base.Tools)
	}
}

func TestMergeContextConfigIsKeyLevel(t *testing.T) {
	base := validPlan()
	base.Context.Config = map[string]any{"max_tokens": 4000, "model": "keep-me"}

	override := mountplan.Default()
	override.Context.Config = map[string]any{"max_tokens": 8000}

	base.Merge(&override)

	if base.Context.Config["max_tokens"] != 8000 {
		t.Fatal("expected max_tokens overridden")
	}
	if base.Context.Config["model"] != "keep-me" {
		t.Fatal("expected model preserved from base")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	base := validPlan()
	base.Tools = []mountplan.ModuleRef{{Module: "builtin:search"}}

	clone := base.Clone()
	clone.Tools[0].Module = "mutated"

	if base.Tools[0].Module != "builtin:search" {
		t.Fatal("mutating clone's slice affected the original plan")
	}
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
session:
  orchestrator: builtin:orchestrator
  context: builtin:context
providers:
  - module: builtin:anthropic
    config:
      model: claude-test
tools:
  - module: builtin:search
`)

	p, err := mountplan.Parse(doc)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("parsed plan failed validation: %v", err)
	}
	if len(p.Providers) != 1 || p.Providers[0].Config["model"] != "claude-test" {
		t.Fatalf("unexpected providers: %+v", p.Providers)
	}
	if len(p.Tools) != 1 || p.Tools[0].Module != "builtin:search" {
		t.Fatalf("unexpected tools: %+v", p.Tools)
	}
}

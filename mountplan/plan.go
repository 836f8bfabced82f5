// Package mountplan defines the mount plan: the declarative tree of
// configuration a Session is constructed from (spec §3's "Mount plan").
// The core never resolves module identifiers itself — that's the
// module.Loader's job — and never substitutes ${ENV} placeholders inside
// config values; both are the caller's responsibility before the plan
// reaches Session.Initialize.
package mountplan

import (
	"fmt"

	"github.com/agentkernel/core/kernelerrors"
)

// ModuleRef is one ordered entry in a providers/tools/agents/hooks list:
// an opaque module identifier plus its free-form configuration.
type ModuleRef struct {
	Module string         `yaml:"module"`
	Name   string         `yaml:"name,omitempty"`
	Config map[string]any `yaml:"config,omitempty"`
}

// SessionSection holds the two singleton mount points every plan must name.
type SessionSection struct {
	Orchestrator string `yaml:"orchestrator"`
	Context      string `yaml:"context"`
}

// ContextSection holds free-form config for the mounted context module.
type ContextSection struct {
	Config map[string]any `yaml:"config,omitempty"`
}

// Plan is the Go struct tree mirroring the mount plan's recognized
// top-level keys (spec §3). Unrecognized keys are preserved nowhere —
// this is a fixed schema, not an arbitrary document.
type Plan struct {
	Session   SessionSection  `yaml:"session"`
	Context   ContextSection  `yaml:"context,omitempty"`
	Providers []ModuleRef     `yaml:"providers,omitempty"`
	Tools     []ModuleRef     `yaml:"tools,omitempty"`
	Agents    []ModuleRef     `yaml:"agents,omitempty"`
	Hooks     []ModuleRef     `yaml:"hooks,omitempty"`
}

// Default returns an empty, unvalidated Plan. Callers layer a loaded file
// on top via Merge before calling Validate.
func Default() Plan {
	return Plan{}
}

// Validate enforces spec §3's required-field table: session.orchestrator
// and session.context must be set, and at least one provider must be
// listed.
func (p *Plan) Validate() error {
	if p.Session.Orchestrator == "" {
		return &kernelerrors.ConfigInvalid{Field: "session.orchestrator", Reason: "required"}
	}
	if p.Session.Context == "" {
		return &kernelerrors.ConfigInvalid{Field: "session.context", Reason: "required"}
	}
	if len(p.Providers) == 0 {
		return &kernelerrors.ConfigInvalid{Field: "providers", Reason: "at least one provider is required"}
	}
	for i, ref := range p.Providers {
		if ref.Module == "" {
			return &kernelerrors.ConfigInvalid{Field: fmt.Sprintf("providers[%d].module", i), Reason: "required"}
		}
	}
	for i, ref := range p.Tools {
		if ref.Module == "" {
			return &kernelerrors.ConfigInvalid{Field: fmt.Sprintf("tools[%d].module", i), Reason: "required"}
		}
	}
	for i, ref := range p.Agents {
		if ref.Module == "" {
			return &kernelerrors.ConfigInvalid{Field: fmt.Sprintf("agents[%d].module", i), Reason: "required"}
		}
	}
	for i, ref := range p.Hooks {
		if ref.Module == "" {
			return &kernelerrors.ConfigInvalid{Field: fmt.Sprintf("hooks[%d].module", i), Reason: "required"}
		}
	}
	return nil
}

// Clone returns a deep-enough copy of p suitable for Fork's "independent
// lifecycle" guarantee — mutating the clone's slices never affects p's.
func (p *Plan) Clone() Plan {
	clone := *p

	if p.Providers != nil {
		clone.Providers = append([]ModuleRef(nil), p.Providers...)
	}
	if p.Tools != nil {
		clone.Tools = append([]ModuleRef(nil), p.Tools...)
	}
	if p.Agents != nil {
		clone.Agents = append([]ModuleRef(nil), p.Agents...)
	}
	if p.Hooks != nil {
		clone.Hooks = append([]ModuleRef(nil), p.Hooks...)
	}
	if p.Context.Config != nil {
		cfg := make(map[string]any, len(p.Context.Config))
		for k, v := range p.Context.Config {
			cfg[k] = v
		}
		clone.Context.Config = cfg
	}
	return clone
}

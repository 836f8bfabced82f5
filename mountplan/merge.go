package mountplan

// Merge applies non-zero values from source into p, generalizing the
// original implementation's deep-merge config helper (see DESIGN.md) into
// a shallow, section-by-section override: lists and singleton fields from
// source replace p's wholesale when present, matching how the teacher's
// own Config.Merge treats its sub-configs. Used both by mountplan.Load
// (layering a file over Default) and by Session.Fork (layering a child's
// config override over the parent's plan).
func (p *Plan) Merge(source *Plan) {
	if source.Session.Orchestrator != "" {
		p.Session.Orchestrator = source.Session.Orchestrator
	}
	if source.Session.Context != "" {
		p.Session.Context = source.Session.Context
	}
	if source.Context.Config != nil {
		p.Context.Config = mergeMaps(p.Context.Config, source.Context.Config)
	}
	if len(source.Providers) > 0 {
		p.Providers = source.Providers
	}
	if len(source.Tools) > 0 {
		p.Tools = source.Tools
	}
	if len(source.Agents) > 0 {
		p.Agents = source.Agents
	}
	if len(source.Hooks) > 0 {
		p.Hooks = source.Hooks
	}
}

// mergeMaps returns a new map with base's entries overridden by override's.
func mergeMaps(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Package kernelevents holds the canonical event-name constants emitted by
// the kernel (spec §6), plus lifecycle points present in the original
// amplifier_core implementation that the distilled spec's table omitted
// but which a complete kernel still exposes (decision/error events).
package kernelevents

// Name identifies an event by its canonical dotted/colon-delimited name.
type Name string

// Session lifecycle.
const (
	SessionStart  Name = "session:start"
	SessionEnd    Name = "session:end"
	SessionError  Name = "session:error"
	SessionResume Name = "session:resume"
	SessionFork   Name = "session:fork"
)

// Turn lifecycle.
const (
	TurnStart Name = "turn:start"
	TurnEnd   Name = "turn:end"
	TurnError Name = "turn:error"
)

// Prompt lifecycle.
const (
	PromptSubmit   Name = "prompt:submit"
	PromptComplete Name = "prompt:complete"
)

// Provider calls.
const (
	ProviderRequest  Name = "provider:request"
	ProviderResponse Name = "provider:response"
	ProviderError    Name = "provider:error"
)

// Tool invocations.
const (
	ToolPre   Name = "tool:pre"
	ToolPost  Name = "tool:post"
	ToolError Name = "tool:error"
)

// Context management.
const (
	ContextPreCompact  Name = "context:pre_compact"
	ContextPostCompact Name = "context:post_compact"
)

// Hook-originated context injection.
const (
	HookContextInjection Name = "hook:context_injection"
)

// Cancellation.
const (
	CancelRequested Name = "cancel:requested"
	CancelCompleted Name = "cancel:completed"
)

// Approval delegation.
const (
	ApprovalRequested Name = "approval:requested"
	ApprovalDecision  Name = "approval:decision"
	ApprovalTimeout   Name = "approval:timeout"
)

// User-facing notification via the display system.
const (
	UserNotification Name = "user:notification"
)

// Orchestrator completion.
const (
	OrchestratorComplete Name = "orchestrator:complete"
)

// Decision reconciliation outcomes.
const (
	DecisionToolResolution    Name = "decision:tool_resolution"
	DecisionAgentResolution   Name = "decision:agent_resolution"
	DecisionContextResolution Name = "decision:context_resolution"
)

// Supplemented from original_source/amplifier_core/hooks.py and events.py:
// lifecycle points the Python original exposed that spec.md's table
// doesn't name explicitly, but which a complete kernel still needs so
// agent-spawning orchestrators and error-reporting modules have somewhere
// to hook.
const (
	AgentSpawn        Name = "agent:spawn"
	AgentComplete     Name = "agent:complete"
	ErrorTool         Name = "error:tool"
	ErrorProvider     Name = "error:provider"
	ErrorOrchestrator Name = "error:orchestration"
)

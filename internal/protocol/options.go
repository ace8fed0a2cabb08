package protocol

import "encoding/json"

// TurnContext carries the ambient execution context for a turn.
type TurnContext struct {
	Cwd      string `json:"cwd,omitempty"`
	Approval string `json:"approval,omitempty"`
	Sandbox  string `json:"sandbox,omitempty"`
	Model    string `json:"model,omitempty"`
}

func (t *TurnContext) IsEmpty() bool {
	return t == nil || (t.Cwd == "" && t.Approval == "" && t.Sandbox == "" && t.Model == "")
}

// ContextWindowConfig bounds how much of the model's context window the
// engine is willing to spend before triggering auto-compaction.
type ContextWindowConfig struct {
	MaxInputTokens           int     `json:"max_input_tokens,omitempty"`
	BaselineTokens           int     `json:"baseline_tokens,omitempty"`
	AutoCompactThresholdRatio float64 `json:"auto_compact_threshold_ratio,omitempty"`
}

// DefaultAutoCompactThresholdRatio is applied when a caller leaves the
// ratio unset (zero value).
const DefaultAutoCompactThresholdRatio = 0.85

func (c *ContextWindowConfig) ThresholdRatio() float64 {
	if c == nil || c.AutoCompactThresholdRatio <= 0 {
		return DefaultAutoCompactThresholdRatio
	}
	return c.AutoCompactThresholdRatio
}

func (c *ContextWindowConfig) IsEmpty() bool {
	return c == nil || (c.MaxInputTokens == 0 && c.BaselineTokens == 0 && c.AutoCompactThresholdRatio == 0)
}

// CompactConfig configures manual or automatic history compaction for a turn.
//
// PreserveUserMessages has no wire-level default: an absent CompactConfig
// behaves as if PreserveUserMessages were true (callers that want the
// most-recent-12 truncation must supply CompactConfig explicitly with
// the field set false), matching the reference engine's call-site
// unwrap_or(true) rather than the zero-value struct default.
type CompactConfig struct {
	Manual                bool   `json:"manual,omitempty"`
	PreserveUserMessages   *bool  `json:"preserve_user_messages,omitempty"`
	SummaryHint           string `json:"summary_hint,omitempty"`
}

// PreserveUsers resolves the effective preserve-user-messages flag,
// defaulting to true when unset.
func (c *CompactConfig) PreserveUsers() bool {
	if c == nil || c.PreserveUserMessages == nil {
		return true
	}
	return *c.PreserveUserMessages
}

func (c *CompactConfig) IsManual() bool {
	return c != nil && c.Manual
}

func (c *CompactConfig) Hint() string {
	if c == nil {
		return ""
	}
	return c.SummaryHint
}

func (c *CompactConfig) IsEmpty() bool {
	return c == nil || (!c.Manual && c.PreserveUserMessages == nil && c.SummaryHint == "")
}

// ToolSpec describes one tool the model may call, in JSON-schema shape.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolExecutionConfig points at the external tool daemon.
type ToolExecutionConfig struct {
	DaemonURL string `json:"daemon_url,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
}

func (t *ToolExecutionConfig) IsEmpty() bool {
	return t == nil || (t.DaemonURL == "" && t.AgentID == "")
}

// ContextLedgerOptions configures whether and how this turn touches the
// per-(session, agent, mode) context ledger.
type ContextLedgerOptions struct {
	Enabled        bool     `json:"enabled,omitempty"`
	RootDir        string   `json:"root_dir,omitempty"`
	AgentID        string   `json:"agent_id,omitempty"`
	Role           string   `json:"role,omitempty"`
	Mode           string   `json:"mode,omitempty"`
	CanReadAll     bool     `json:"can_read_all,omitempty"`
	ReadableAgents []string `json:"readable_agents,omitempty"`
	FocusEnabled   bool     `json:"focus_enabled,omitempty"`
	FocusMaxChars  int      `json:"focus_max_chars,omitempty"`
}

func (c *ContextLedgerOptions) IsEmpty() bool {
	return c == nil || (!c.Enabled && c.RootDir == "" && c.AgentID == "" && c.Mode == "" &&
		!c.CanReadAll && len(c.ReadableAgents) == 0 && !c.FocusEnabled && c.FocusMaxChars == 0)
}

// ReasoningOptions controls the responses-API reasoning channel.
type ReasoningOptions struct {
	Enabled                bool   `json:"enabled,omitempty"`
	Effort                 string `json:"effort,omitempty"`
	Summary                string `json:"summary,omitempty"`
	IncludeEncryptedContent *bool `json:"include_encrypted_content,omitempty"`
}

const (
	DefaultReasoningEffort  = "medium"
	DefaultReasoningSummary = "detailed"
)

func (r *ReasoningOptions) IsEnabled() bool { return r != nil && r.Enabled }

func (r *ReasoningOptions) EffortOrDefault() string {
	if r == nil || r.Effort == "" {
		return DefaultReasoningEffort
	}
	return r.Effort
}

func (r *ReasoningOptions) SummaryOrDefault() string {
	if r == nil || r.Summary == "" {
		return DefaultReasoningSummary
	}
	return r.Summary
}

// IncludeEncrypted resolves the include-encrypted-content flag,
// defaulting to true when unset (matches replay-filter defaults).
func (r *ReasoningOptions) IncludeEncrypted() bool {
	if r == nil || r.IncludeEncryptedContent == nil {
		return true
	}
	return *r.IncludeEncryptedContent
}

// TextOptions controls the responses-API text output channel.
type TextOptions struct {
	Enabled      bool            `json:"enabled,omitempty"`
	Verbosity    string          `json:"verbosity,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

const DefaultTextVerbosity = "medium"

func (t *TextOptions) IsEnabled() bool { return t != nil && t.Enabled }

func (t *TextOptions) VerbosityOrDefault() string {
	if t == nil || t.Verbosity == "" {
		return DefaultTextVerbosity
	}
	return t.Verbosity
}

// ResponsesRequestOptions shapes the wire payload sent to the remote
// chat completion service for every round of a turn.
type ResponsesRequestOptions struct {
	Reasoning          *ReasoningOptions `json:"reasoning,omitempty"`
	Text               *TextOptions      `json:"text,omitempty"`
	Include            []string          `json:"include,omitempty"`
	Store              *bool             `json:"store,omitempty"`
	ParallelToolCalls  *bool             `json:"parallel_tool_calls,omitempty"`
}

func (r *ResponsesRequestOptions) IsEmpty() bool {
	return r == nil || (r.Reasoning == nil && r.Text == nil && len(r.Include) == 0 &&
		r.Store == nil && r.ParallelToolCalls == nil)
}

// UserTurnOptions is the wide, optional-heavy configuration attached to
// a UserTurn submission. Every field is nullable; IsEmpty drives wire
// omission of the whole options object.
type UserTurnOptions struct {
	SystemPrompt          string                   `json:"system_prompt,omitempty"`
	Tools                 []ToolSpec               `json:"tools,omitempty"`
	ToolExecution         *ToolExecutionConfig     `json:"tool_execution,omitempty"`
	SessionID             string                   `json:"session_id,omitempty"`
	Mode                  string                   `json:"mode,omitempty"`
	History               []json.RawMessage        `json:"history,omitempty"`
	DeveloperInstructions string                   `json:"developer_instructions,omitempty"`
	UserInstructions      string                   `json:"user_instructions,omitempty"`
	EnvironmentContext    string                   `json:"environment_context,omitempty"`
	TurnContext           *TurnContext             `json:"turn_context,omitempty"`
	ContextWindow         *ContextWindowConfig     `json:"context_window,omitempty"`
	Compact               *CompactConfig           `json:"compact,omitempty"`
	ForkUserMessageIndex  *int                     `json:"fork_user_message_index,omitempty"`
	ContextLedger         *ContextLedgerOptions    `json:"context_ledger,omitempty"`
	Responses             *ResponsesRequestOptions `json:"responses,omitempty"`
}

// IsEmpty reports whether every optional field is at its zero value, so
// that a UserTurn submission can omit "options" entirely on the wire.
func (o *UserTurnOptions) IsEmpty() bool {
	if o == nil {
		return true
	}
	return o.SystemPrompt == "" && len(o.Tools) == 0 && o.ToolExecution.IsEmpty() &&
		o.SessionID == "" && o.Mode == "" && len(o.History) == 0 &&
		o.DeveloperInstructions == "" && o.UserInstructions == "" && o.EnvironmentContext == "" &&
		o.TurnContext.IsEmpty() && o.ContextWindow.IsEmpty() && o.Compact.IsEmpty() &&
		o.ForkUserMessageIndex == nil && o.ContextLedger.IsEmpty() && o.Responses.IsEmpty()
}

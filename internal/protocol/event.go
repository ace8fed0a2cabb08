package protocol

import (
	"encoding/json"
	"fmt"
)

// EventMsg type discriminators, snake_case on the wire.
const (
	EventSessionConfigured = "session_configured"
	EventTaskStarted       = "task_started"
	EventModelRound        = "model_round"
	EventToolCall          = "tool_call"
	EventToolResult        = "tool_result"
	EventToolError         = "tool_error"
	EventTaskComplete      = "task_complete"
	EventTurnAborted       = "turn_aborted"
	EventShutdownComplete  = "shutdown_complete"
	EventError             = "error"
)

// TurnAbortReason enumerates why a turn task was aborted.
type TurnAbortReason string

const (
	AbortUserInterrupt TurnAbortReason = "user_interrupt"
	// AbortTaskReplaced is defined for wire compatibility with the
	// reference protocol; the scheduler never emits it (see DESIGN.md).
	AbortTaskReplaced TurnAbortReason = "task_replaced"
	AbortShutdown     TurnAbortReason = "shutdown"
)

// Usage reports token accounting for one model round, tolerating
// string-encoded integers from the wire.
type Usage struct {
	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
	TotalTokens  int64 `json:"total_tokens,omitempty"`
}

func (u *Usage) UnmarshalJSON(data []byte) error {
	var raw struct {
		InputTokens  json.Number `json:"input_tokens"`
		OutputTokens json.Number `json:"output_tokens"`
		TotalTokens  json.Number `json:"total_tokens"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.InputTokens, _ = raw.InputTokens.Int64()
	u.OutputTokens, _ = raw.OutputTokens.Int64()
	u.TotalTokens, _ = raw.TotalTokens.Int64()
	return nil
}

// ModelRoundEvent reports one request/response exchange with the
// remote model.
type ModelRoundEvent struct {
	Seq                           int    `json:"seq"`
	Round                         int    `json:"round"`
	FunctionCallsCount            int    `json:"function_calls_count"`
	ReasoningCount                int    `json:"reasoning_count"`
	HistoryItemsCount             int    `json:"history_items_count"`
	HasOutputText                 bool   `json:"has_output_text"`
	FinishReason                  string `json:"finish_reason,omitempty"`
	ResponseStatus                string `json:"response_status,omitempty"`
	ResponseIncompleteReason      string `json:"response_incomplete_reason,omitempty"`
	ResponseID                    string `json:"response_id,omitempty"`
	Usage                         *Usage `json:"usage,omitempty"`
	EstimatedTokensInContextWindow int   `json:"estimated_tokens_in_context_window"`
	EstimatedTokensCompactable     int   `json:"estimated_tokens_compactable"`
	ContextUsagePercent            int   `json:"context_usage_percent"`
	MaxInputTokens                  int  `json:"max_input_tokens,omitempty"`
	ThresholdPercent                int  `json:"threshold_percent,omitempty"`
}

// ToolCallEvent reports a model-requested tool invocation about to run.
type ToolCallEvent struct {
	Seq      int             `json:"seq"`
	CallID   string          `json:"call_id"`
	ToolName string          `json:"tool_name"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// ToolResultEvent reports a successful tool invocation outcome.
type ToolResultEvent struct {
	Seq        int             `json:"seq"`
	CallID     string          `json:"call_id"`
	ToolName   string          `json:"tool_name"`
	Output     json.RawMessage `json:"output,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

// ToolErrorEvent reports a failed tool invocation.
type ToolErrorEvent struct {
	Seq        int    `json:"seq"`
	CallID     string `json:"call_id"`
	ToolName   string `json:"tool_name"`
	Error      string `json:"error"`
	DurationMs int64  `json:"duration_ms"`
}

// TaskCompleteEvent reports a turn task reaching a terminal answer.
type TaskCompleteEvent struct {
	LastAgentMessage *string         `json:"last_agent_message,omitempty"`
	MetadataJSON     json.RawMessage `json:"metadata_json,omitempty"`
}

// TurnAbortedEvent reports a turn task that was cancelled.
type TurnAbortedEvent struct {
	Reason TurnAbortReason `json:"reason"`
}

// ErrorEvent reports a non-fatal error surfaced to the client.
type ErrorEvent struct {
	Message string `json:"message"`
}

// EventMsg is an externally-tagged variant holding exactly one of the
// payload pointers below, selected by Type.
type EventMsg struct {
	Type string

	SessionID string // session_configured

	ModelContextWindow *int // task_started

	ModelRound *ModelRoundEvent
	ToolCall   *ToolCallEvent
	ToolResult *ToolResultEvent
	ToolError  *ToolErrorEvent
	TaskComplete *TaskCompleteEvent
	TurnAborted  *TurnAbortedEvent
	Error        *ErrorEvent
	// ShutdownComplete carries no payload.
}

func (m EventMsg) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case EventSessionConfigured:
		return json.Marshal(struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
		}{m.Type, m.SessionID})
	case EventTaskStarted:
		return json.Marshal(struct {
			Type               string `json:"type"`
			ModelContextWindow *int   `json:"model_context_window,omitempty"`
		}{m.Type, m.ModelContextWindow})
	case EventModelRound:
		return marshalTagged(m.Type, m.ModelRound)
	case EventToolCall:
		return marshalTagged(m.Type, m.ToolCall)
	case EventToolResult:
		return marshalTagged(m.Type, m.ToolResult)
	case EventToolError:
		return marshalTagged(m.Type, m.ToolError)
	case EventTaskComplete:
		return marshalTagged(m.Type, m.TaskComplete)
	case EventTurnAborted:
		return marshalTagged(m.Type, m.TurnAborted)
	case EventShutdownComplete:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{m.Type})
	case EventError:
		return marshalTagged(m.Type, m.Error)
	default:
		return nil, fmt.Errorf("protocol: unknown event msg type %q", m.Type)
	}
}

// marshalTagged flattens payload's fields alongside a "type" field by
// round-tripping through a generic map, avoiding one hand-written
// anonymous struct per variant.
func marshalTagged(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	typJSON, _ := json.Marshal(typ)
	fields["type"] = typJSON
	return json.Marshal(fields)
}

func (m *EventMsg) UnmarshalJSON(data []byte) error {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return err
	}
	switch peek.Type {
	case EventSessionConfigured:
		var v struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = EventMsg{Type: peek.Type, SessionID: v.SessionID}
	case EventTaskStarted:
		var v struct {
			ModelContextWindow *int `json:"model_context_window"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = EventMsg{Type: peek.Type, ModelContextWindow: v.ModelContextWindow}
	case EventModelRound:
		var v ModelRoundEvent
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = EventMsg{Type: peek.Type, ModelRound: &v}
	case EventToolCall:
		var v ToolCallEvent
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = EventMsg{Type: peek.Type, ToolCall: &v}
	case EventToolResult:
		var v ToolResultEvent
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = EventMsg{Type: peek.Type, ToolResult: &v}
	case EventToolError:
		var v ToolErrorEvent
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = EventMsg{Type: peek.Type, ToolError: &v}
	case EventTaskComplete:
		var v TaskCompleteEvent
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = EventMsg{Type: peek.Type, TaskComplete: &v}
	case EventTurnAborted:
		var v TurnAbortedEvent
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = EventMsg{Type: peek.Type, TurnAborted: &v}
	case EventShutdownComplete:
		*m = EventMsg{Type: peek.Type}
	case EventError:
		var v ErrorEvent
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = EventMsg{Type: peek.Type, Error: &v}
	default:
		return fmt.Errorf("protocol: unknown event msg type %q", peek.Type)
	}
	return nil
}

// Event is one outbound observation on the kernel's framed output.
type Event struct {
	ID  string   `json:"id"`
	Msg EventMsg `json:"msg"`
}

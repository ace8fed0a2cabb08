package chatengine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/finger-kernel/kernel/internal/ledger"
	"github.com/finger-kernel/kernel/internal/observability"
	"github.com/finger-kernel/kernel/internal/protocol"
)

// MaxToolLoopRounds bounds how many request/response rounds one turn
// may take before it is abandoned as a runaway tool-call loop.
const MaxToolLoopRounds = 64

// ChatEngine drives one user turn to completion, emitting events as it
// goes and returning the updated rolling history.
type ChatEngine interface {
	RunTurn(ctx context.Context, req TurnRequest, emit func(protocol.EventMsg)) (TurnResult, error)
}

// TurnRequest is everything one RunTurn call needs.
type TurnRequest struct {
	Options *protocol.UserTurnOptions
	Items   []protocol.InputItem
	Ledger  *ledger.Ledger
}

// TurnResult is what survives past one RunTurn call.
type TurnResult struct {
	History          []any
	LastAgentMessage *string
	Compacted        bool
}

// ResponsesChatEngine implements ChatEngine against a remote
// Responses-API-shaped chat completion service plus an external tool
// execution daemon, per spec §4.2.
type ResponsesChatEngine struct {
	Transport *Transport
	Model     string
	MaxRounds int
	Metrics   *observability.Metrics
}

func NewResponsesChatEngine(transport *Transport, model string) *ResponsesChatEngine {
	return &ResponsesChatEngine{Transport: transport, Model: model, MaxRounds: MaxToolLoopRounds}
}

func (e *ResponsesChatEngine) maxRounds() int {
	if e.MaxRounds <= 0 {
		return MaxToolLoopRounds
	}
	return e.MaxRounds
}

func itemType(item any) string {
	if obj, ok := item.(map[string]any); ok {
		if t, ok := obj["type"].(string); ok {
			return t
		}
	}
	return ""
}

func stripReasoningItems(items []any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if itemType(item) == "reasoning" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func decodeHistory(raw []json.RawMessage) []any {
	out := make([]any, 0, len(raw))
	for _, r := range raw {
		var v any
		if err := json.Unmarshal(r, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func truncateForError(s string) string {
	const max = 300
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func wireTools(bindings []ToolBinding) []any {
	tools := make([]any, 0, len(bindings))
	for _, b := range bindings {
		schema := b.Spec.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, map[string]any{
			"type":        "function",
			"name":        b.ModelName,
			"description": b.Spec.Description,
			"parameters":  json.RawMessage(schema),
		})
	}
	return tools
}

// buildPayload assembles one round's request body per spec §4.2 step 1.
func (e *ResponsesChatEngine) buildPayload(opts *protocol.UserTurnOptions, rolling []any, bindings []ToolBinding) map[string]any {
	payload := map[string]any{
		"model":  e.Model,
		"stream": true,
		"input":  rolling,
	}
	if opts.SystemPrompt != "" {
		payload["instructions"] = opts.SystemPrompt
	}
	if len(bindings) > 0 {
		payload["tools"] = wireTools(bindings)
		payload["tool_choice"] = "auto"
	}
	if opts.SessionID != "" {
		payload["prompt_cache_key"] = opts.SessionID
	}

	resp := opts.Responses
	store := true
	if resp != nil && resp.Store != nil {
		store = *resp.Store
	}
	payload["store"] = store

	if resp != nil {
		if len(resp.Include) > 0 {
			payload["include"] = resp.Include
		}
		if resp.ParallelToolCalls != nil {
			payload["parallel_tool_calls"] = *resp.ParallelToolCalls
		}
		if resp.Reasoning.IsEnabled() {
			payload["reasoning"] = map[string]any{
				"effort":  resp.Reasoning.EffortOrDefault(),
				"summary": resp.Reasoning.SummaryOrDefault(),
			}
		}
		if resp.Text.IsEnabled() {
			text := map[string]any{"verbosity": resp.Text.VerbosityOrDefault()}
			if len(resp.Text.OutputSchema) > 0 {
				text["format"] = json.RawMessage(resp.Text.OutputSchema)
			}
			payload["text"] = text
		}
	}
	return payload
}

// postWithRecovery retries a round per spec §4.2 step 3's recovery
// classification: store=false rejections retry once with store
// flipped true, stale reasoning-item ids retry with reasoning items
// stripped from rolling, and 401/403 "authentication failed" bodies
// retry up to twice with linear 200ms*attempt backoff. Any other
// non-2xx status is a transport failure.
func (e *ResponsesChatEngine) postWithRecovery(ctx context.Context, payload map[string]any, rolling *[]any) (responsesResult, error) {
	const maxAttempts = 3
	storeRetried := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := e.Transport.postResponses(ctx, payload)
		if err != nil {
			return responsesResult{}, newEngineError(KindTransport, 0, "", err)
		}
		if res.Status >= 200 && res.Status < 300 {
			return res, nil
		}

		body := res.Body
		lower := strings.ToLower(body)
		switch {
		case !storeRetried && strings.Contains(body, "store set to false"):
			storeRetried = true
			payload["store"] = true
		case strings.Contains(lower, "reasoning") && strings.Contains(lower, "rs_"):
			*rolling = stripReasoningItems(*rolling)
			payload["input"] = *rolling
		case (res.Status == 401 || res.Status == 403) && strings.Contains(lower, "authentication failed"):
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
		default:
			return responsesResult{}, newEngineError(KindTransport, 0, fmt.Sprintf("status %d: %s", res.Status, truncateForError(body)), nil)
		}
	}
	return responsesResult{}, newEngineError(KindTransport, 0, "exceeded recovery attempts", nil)
}

type responsePayload struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	IncompleteDetails *incompleteDetail `json:"incomplete_details"`
	Output            []map[string]any  `json:"output"`
	Usage             *protocol.Usage   `json:"usage"`
}

type incompleteDetail struct {
	Reason string `json:"reason"`
}

// extractResponse finds the chunk carrying the completed response
// object: an SSE event named "response.completed" (or, failing that,
// the last chunk whose data decodes to an object with a "status"
// field), matching the streaming shape spec §4.2 step 2 describes.
func extractResponse(chunks []sseChunk) (responsePayload, bool) {
	var fallback *sseChunk
	for i := range chunks {
		c := &chunks[i]
		if c.Event == "response.completed" || c.Event == "response.done" {
			if payload, ok := decodeResponseEnvelope(c.Data); ok {
				return payload, true
			}
		}
		if strings.Contains(c.Data, `"status"`) {
			fallback = c
		}
	}
	if fallback != nil {
		if payload, ok := decodeResponseEnvelope(fallback.Data); ok {
			return payload, true
		}
	}
	return responsePayload{}, false
}

func decodeResponseEnvelope(data string) (responsePayload, bool) {
	var envelope struct {
		Response *responsePayload `json:"response"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err == nil && envelope.Response != nil {
		return *envelope.Response, true
	}
	var direct responsePayload
	if err := json.Unmarshal([]byte(data), &direct); err == nil && direct.Status != "" {
		return direct, true
	}
	return responsePayload{}, false
}

type functionCall struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

func extractFunctionCalls(output []map[string]any) []functionCall {
	var calls []functionCall
	for _, item := range output {
		if item["type"] != "function_call" {
			continue
		}
		callID, _ := item["call_id"].(string)
		name, _ := item["name"].(string)
		var args json.RawMessage
		switch a := item["arguments"].(type) {
		case string:
			args = json.RawMessage(a)
		default:
			if encoded, err := json.Marshal(a); err == nil {
				args = encoded
			}
		}
		calls = append(calls, functionCall{CallID: callID, Name: name, Arguments: args})
	}
	return calls
}

func extractOutputText(output []map[string]any) (string, bool) {
	var b strings.Builder
	found := false
	for _, item := range output {
		if item["type"] != "message" {
			continue
		}
		parts, ok := item["content"].([]any)
		if !ok {
			continue
		}
		for _, p := range parts {
			part, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if part["type"] == "output_text" {
				if text, ok := part["text"].(string); ok {
					b.WriteString(text)
					found = true
				}
			}
		}
	}
	return b.String(), found
}

func countReasoningItems(output []map[string]any) int {
	n := 0
	for _, item := range output {
		if item["type"] == "reasoning" {
			n++
		}
	}
	return n
}

// reasoningReplayEnabled resolves whether reasoning-typed history items
// survive the replay filter (spec §4.2 step 6). Both reasoning.enabled
// and reasoning.include_encrypted_content default true when the
// reasoning options are entirely unset.
func reasoningReplayEnabled(resp *protocol.ResponsesRequestOptions) bool {
	if resp == nil || resp.Reasoning == nil {
		return true
	}
	return resp.Reasoning.Enabled && resp.Reasoning.IncludeEncrypted()
}

// parseFunctionArguments decodes a function call's raw arguments per
// spec §4.2 tool-exec step 2: valid JSON decodes to its value, anything
// else (including an empty string) falls back to a plain value.
func parseFunctionArguments(raw json.RawMessage) any {
	trimmed := strings.TrimSpace(string(raw))
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v
	}
	return trimmed
}

// normalizeShellExecInput copies a bare "cmd" key to "command" for the
// shell.exec runtime tool, per spec §4.2 tool-exec step 3.
func normalizeShellExecInput(input any) any {
	obj, ok := input.(map[string]any)
	if !ok {
		return input
	}
	if _, has := obj["command"]; has {
		return obj
	}
	if cmd, has := obj["cmd"]; has {
		obj["command"] = cmd
	}
	return obj
}

// injectRuntimeContext adds the current ledger scope to a
// context_ledger.memory call's input, per spec §4.2 tool-exec step 4.
func injectRuntimeContext(input any, l *ledger.Ledger) any {
	obj, ok := input.(map[string]any)
	if !ok || l == nil {
		return input
	}
	cfg := l.Config()
	obj["_runtime_context"] = map[string]any{
		"root_dir":        cfg.RootDir,
		"session_id":      cfg.SessionID,
		"agent_id":        cfg.AgentID,
		"mode":            cfg.Mode,
		"can_read_all":    cfg.CanReadAll,
		"readable_agents": cfg.ReadableAgents,
		"focus_max_chars": cfg.FocusMaxChars,
	}
	return obj
}

func (e *ResponsesChatEngine) RunTurn(ctx context.Context, req TurnRequest, emit func(protocol.EventMsg)) (TurnResult, error) {
	opts := req.Options
	if opts == nil {
		opts = &protocol.UserTurnOptions{}
	}

	history := decodeHistory(opts.History)
	history = applyForkTruncate(history, opts.ForkUserMessageIndex)

	var focusText string
	if req.Ledger != nil && opts.ContextLedger != nil && opts.ContextLedger.FocusEnabled {
		if text, err := req.Ledger.ReadFocus(); err == nil {
			focusText = text
		}
	}

	rolling := buildInitialInput(history, opts, focusText, req.Items)
	bindings := buildToolBindings(opts.Tools)

	seq := 0
	nextSeq := func() int { seq++; return seq }

	var lastMessage *string
	baseline := 0
	if opts.ContextWindow != nil {
		baseline = opts.ContextWindow.BaselineTokens
	}
	maxInputTokens := 0
	thresholdRatio := protocol.DefaultAutoCompactThresholdRatio
	if opts.ContextWindow != nil {
		maxInputTokens = opts.ContextWindow.MaxInputTokens
		thresholdRatio = opts.ContextWindow.ThresholdRatio()
	}

	for round := 1; round <= e.maxRounds(); round++ {
		payload := e.buildPayload(opts, rolling, bindings)

		roundStart := time.Now()
		res, err := e.postWithRecovery(ctx, payload, &rolling)
		if e.Metrics != nil {
			e.Metrics.RoundDuration.Observe(time.Since(roundStart).Seconds())
		}
		if err != nil {
			if ee, ok := err.(*EngineError); ok {
				ee.Round = round
			}
			if e.Metrics != nil {
				e.Metrics.TurnCounter.WithLabelValues("error").Inc()
			}
			return TurnResult{History: rolling}, err
		}

		chunks := parseSSE(res.Body)
		response, ok := extractResponse(chunks)
		if !ok {
			return TurnResult{History: rolling}, newEngineError(KindMissingStreamResponse, round, "no completed response in stream", nil)
		}

		calls := extractFunctionCalls(response.Output)
		text, hasText := extractOutputText(response.Output)
		reasoningCount := countReasoningItems(response.Output)

		keepReasoning := reasoningReplayEnabled(opts.Responses)
		for _, item := range response.Output {
			if item["type"] == "reasoning" && !keepReasoning {
				continue
			}
			rolling = append(rolling, item)
		}

		finishReason := "stop"
		incompleteReason := ""
		if response.IncompleteDetails != nil {
			incompleteReason = response.IncompleteDetails.Reason
		}
		switch {
		case len(calls) > 0:
			finishReason = "tool_calls"
		case response.Status == "incomplete":
			finishReason = incompleteReason
			if finishReason == "" {
				finishReason = "incomplete"
			}
		}

		estimatedInWindow := EstimateTokensInHistory(rolling, baseline)
		estimatedCompactable := EstimateTokensExcludingLedgerFocus(rolling, baseline)
		usagePercent := 0
		if maxInputTokens > 0 {
			usagePercent = int(100 * estimatedInWindow / maxInputTokens)
		}

		emit(protocol.EventMsg{
			Type: protocol.EventModelRound,
			ModelRound: &protocol.ModelRoundEvent{
				Seq:                            nextSeq(),
				Round:                          round,
				FunctionCallsCount:             len(calls),
				ReasoningCount:                 reasoningCount,
				HistoryItemsCount:              len(rolling),
				HasOutputText:                  hasText,
				FinishReason:                   finishReason,
				ResponseStatus:                 response.Status,
				ResponseIncompleteReason:       incompleteReason,
				ResponseID:                     response.ID,
				Usage:                          response.Usage,
				EstimatedTokensInContextWindow: estimatedInWindow,
				EstimatedTokensCompactable:     estimatedCompactable,
				ContextUsagePercent:            usagePercent,
				MaxInputTokens:                 maxInputTokens,
				ThresholdPercent:               int(thresholdRatio * 100),
			},
		})

		if len(calls) == 0 {
			if !hasText || strings.TrimSpace(text) == "" {
				return TurnResult{History: rolling}, newEngineError(KindEmptyOutput, round, "turn produced no output text", nil)
			}
			lastMessage = &text
			break
		}

		for _, call := range calls {
			runtimeName, known := resolveRuntimeName(bindings, call.Name)
			if !known {
				runtimeName = call.Name
			}

			parsedInput := parseFunctionArguments(call.Arguments)
			if runtimeName == "shell.exec" {
				parsedInput = normalizeShellExecInput(parsedInput)
			}
			if runtimeName == "context_ledger.memory" {
				parsedInput = injectRuntimeContext(parsedInput, req.Ledger)
			}
			inputJSON, encodeErr := json.Marshal(parsedInput)
			if encodeErr != nil {
				inputJSON = call.Arguments
			}

			emit(protocol.EventMsg{Type: protocol.EventToolCall, ToolCall: &protocol.ToolCallEvent{
				Seq: nextSeq(), CallID: call.CallID, ToolName: runtimeName, Input: inputJSON,
			}})

			start := time.Now()
			output, toolErr := e.runTool(ctx, opts.ToolExecution, runtimeName, inputJSON)
			duration := time.Since(start).Milliseconds()

			if toolErr != nil {
				if e.Metrics != nil {
					e.Metrics.ToolCallCounter.WithLabelValues(runtimeName, "error").Inc()
				}
				emit(protocol.EventMsg{Type: protocol.EventToolError, ToolError: &protocol.ToolErrorEvent{
					Seq: nextSeq(), CallID: call.CallID, ToolName: runtimeName, Error: toolErr.Error(), DurationMs: duration,
				}})
				envelope, _ := json.Marshal(map[string]any{"ok": false, "tool": runtimeName, "error": toolErr.Error()})
				rolling = append(rolling, map[string]any{
					"type":    "function_call_output",
					"call_id": call.CallID,
					"output":  string(envelope),
				})
				continue
			}

			if e.Metrics != nil {
				e.Metrics.ToolCallCounter.WithLabelValues(runtimeName, "success").Inc()
			}
			emit(protocol.EventMsg{Type: protocol.EventToolResult, ToolResult: &protocol.ToolResultEvent{
				Seq: nextSeq(), CallID: call.CallID, ToolName: runtimeName, Output: output, DurationMs: duration,
			}})
			resultValue := output
			if len(resultValue) == 0 {
				resultValue = json.RawMessage("null")
			}
			envelope, _ := json.Marshal(map[string]any{"ok": true, "tool": runtimeName, "result": resultValue})
			rolling = append(rolling, map[string]any{
				"type":    "function_call_output",
				"call_id": call.CallID,
				"output":  string(envelope),
			})
		}

		if round == e.maxRounds() {
			if e.Metrics != nil {
				e.Metrics.TurnCounter.WithLabelValues("error").Inc()
			}
			return TurnResult{History: rolling}, newEngineError(KindToolLoopExceeded, round, "", ErrToolLoopExceeded)
		}
	}

	if e.Metrics != nil {
		e.Metrics.TurnCounter.WithLabelValues("completed").Inc()
	}
	result := TurnResult{History: rolling, LastAgentMessage: lastMessage}

	if shouldCompact(opts.Compact, EstimateTokensInHistory(rolling, baseline), maxInputTokens, thresholdRatio) {
		compacted := CompactHistory(rolling, opts.Compact, time.Now().UTC())
		result.History = compacted
		result.Compacted = true
		if req.Ledger != nil {
			_, _ = req.Ledger.AppendEvent("context_compact", map[string]any{"items_before": len(rolling), "items_after": len(compacted)})
			if e.Metrics != nil {
				e.Metrics.LedgerAppendCounter.WithLabelValues("context_compact").Inc()
			}
			if summary, ok := extractHistorySummaryBody(summaryTextOf(compacted)); ok {
				_, _ = req.Ledger.AppendCompactMemory(map[string]any{"summary": summary})
				if e.Metrics != nil {
					e.Metrics.LedgerAppendCounter.WithLabelValues("compact_memory").Inc()
				}
			}
		}
	}

	return result, nil
}

func summaryTextOf(history []any) string {
	if len(history) == 0 {
		return ""
	}
	if text, ok := extractItemText(history[len(history)-1]); ok {
		return text
	}
	return ""
}

// runTool dispatches one tool call to the external daemon. A turn with
// no ToolExecution configuration cannot run tools at all.
func (e *ResponsesChatEngine) runTool(ctx context.Context, cfg *protocol.ToolExecutionConfig, name string, args json.RawMessage) (json.RawMessage, error) {
	if cfg.IsEmpty() {
		return nil, newEngineError(KindToolExecution, 0, "no tool execution daemon configured", nil)
	}
	result, err := e.Transport.executeTool(ctx, cfg.DaemonURL, cfg.AgentID, name, args)
	if err != nil {
		return nil, err
	}
	return result.Result, nil
}

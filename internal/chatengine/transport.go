package chatengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Transport is the HTTP client pair this engine depends on: the remote
// chat completion service and the external tool execution daemon.
// Neither surface is a generic SDK target in the example pack (see
// SPEC_FULL.md §6), so both are small net/http clients.
type Transport struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
}

func (t *Transport) client() *http.Client {
	if t.HTTPClient != nil {
		return t.HTTPClient
	}
	return http.DefaultClient
}

// responsesResult is one POST /v1/responses attempt's raw outcome.
type responsesResult struct {
	Status int
	Body   string
}

func (t *Transport) postResponses(ctx context.Context, payload map[string]any) (responsesResult, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return responsesResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(t.BaseURL, "/")+"/v1/responses", bytes.NewReader(encoded))
	if err != nil {
		return responsesResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("OpenAI-Beta", "responses=experimental")
	if t.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
	}

	resp, err := t.client().Do(req)
	if err != nil {
		return responsesResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return responsesResult{}, err
	}
	return responsesResult{Status: resp.StatusCode, Body: string(body)}, nil
}

// toolExecuteResult is the outcome of one tool-daemon invocation.
type toolExecuteResult struct {
	Result json.RawMessage
}

// executeTool POSTs to {daemonURL}/api/v1/tools/execute and returns the
// "result" field on success. A non-2xx status or a body containing a
// non-empty "error" string fails the call; there are no retries.
func (t *Transport) executeTool(ctx context.Context, daemonURL, agentID, toolName string, input json.RawMessage) (toolExecuteResult, error) {
	body := map[string]any{
		"agentId":  agentID,
		"toolName": toolName,
		"input":    json.RawMessage(input),
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return toolExecuteResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(daemonURL, "/")+"/api/v1/tools/execute", bytes.NewReader(encoded))
	if err != nil {
		return toolExecuteResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client().Do(req)
	if err != nil {
		return toolExecuteResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return toolExecuteResult{}, err
	}

	var parsed struct {
		Error  string          `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := parsed.Error
		if msg == "" {
			msg = fmt.Sprintf("tool daemon returned status %d", resp.StatusCode)
		}
		return toolExecuteResult{}, newEngineError(KindToolExecution, 0, msg, nil)
	}
	if parsed.Error != "" {
		return toolExecuteResult{}, newEngineError(KindToolExecution, 0, parsed.Error, nil)
	}
	return toolExecuteResult{Result: parsed.Result}, nil
}

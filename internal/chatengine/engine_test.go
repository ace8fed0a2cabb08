package chatengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/finger-kernel/kernel/internal/protocol"
	"github.com/stretchr/testify/require"
)

func sseBody(t *testing.T, response map[string]any) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{"response": response})
	require.NoError(t, err)
	return "event: response.completed\ndata: " + string(data) + "\n\n"
}

func TestRunTurnToolCallLoop(t *testing.T) {
	var calls int

	responsesSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		if calls == 1 {
			fmt.Fprint(w, sseBody(t, map[string]any{
				"id":     "resp_1",
				"status": "completed",
				"output": []any{
					map[string]any{
						"type":      "function_call",
						"call_id":   "call_1",
						"name":      "echo",
						"arguments": `{"text":"hi"}`,
					},
				},
			}))
			return
		}

		input, _ := payload["input"].([]any)
		found := false
		for _, item := range input {
			obj, _ := item.(map[string]any)
			if obj != nil && obj["type"] == "function_call_output" && obj["call_id"] == "call_1" {
				found = true
			}
		}
		require.True(t, found, "expected function_call_output to be fed back on round 2")

		fmt.Fprint(w, sseBody(t, map[string]any{
			"id":     "resp_2",
			"status": "completed",
			"output": []any{
				map[string]any{
					"type": "message",
					"role": "assistant",
					"content": []any{
						map[string]any{"type": "output_text", "text": "done"},
					},
				},
			},
		}))
	}))
	defer responsesSrv.Close()

	daemonSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "echo", req["toolName"])
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"result":{"ok":true}}`)
	}))
	defer daemonSrv.Close()

	engine := NewResponsesChatEngine(&Transport{BaseURL: responsesSrv.URL}, "gpt-test")

	var events []protocol.EventMsg
	result, err := engine.RunTurn(context.Background(), TurnRequest{
		Options: &protocol.UserTurnOptions{
			Tools:         []protocol.ToolSpec{{Name: "echo"}},
			ToolExecution: &protocol.ToolExecutionConfig{DaemonURL: daemonSrv.URL, AgentID: "agent-1"},
		},
		Items: []protocol.InputItem{protocol.NewTextItem("hello")},
	}, func(e protocol.EventMsg) { events = append(events, e) })

	require.NoError(t, err)
	require.NotNil(t, result.LastAgentMessage)
	require.Equal(t, "done", *result.LastAgentMessage)
	require.Equal(t, 2, calls)

	var kinds []string
	for _, e := range events {
		kinds = append(kinds, e.Type)
	}
	require.Contains(t, kinds, protocol.EventToolCall)
	require.Contains(t, kinds, protocol.EventToolResult)
	require.Contains(t, kinds, protocol.EventModelRound)
}

func TestRunTurnNormalizesShellExecAndWrapsToolOutputEnvelope(t *testing.T) {
	var modelCalls int

	responsesSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		modelCalls++
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		if modelCalls == 1 {
			fmt.Fprint(w, sseBody(t, map[string]any{
				"id":     "resp_1",
				"status": "completed",
				"output": []any{
					map[string]any{
						"type":      "function_call",
						"call_id":   "call_1",
						"name":      "shell_exec",
						"arguments": `{"cmd":"pwd"}`,
					},
				},
			}))
			return
		}

		input, _ := payload["input"].([]any)
		var output string
		for _, item := range input {
			obj, _ := item.(map[string]any)
			if obj != nil && obj["type"] == "function_call_output" && obj["call_id"] == "call_1" {
				output, _ = obj["output"].(string)
			}
		}
		require.NotEmpty(t, output, "expected function_call_output to be fed back on round 2")

		var envelope map[string]any
		require.NoError(t, json.Unmarshal([]byte(output), &envelope))
		require.Equal(t, true, envelope["ok"])
		require.Equal(t, "shell.exec", envelope["tool"])
		result, _ := envelope["result"].(map[string]any)
		require.Equal(t, "/tmp", result["stdout"])

		fmt.Fprint(w, sseBody(t, map[string]any{
			"id":     "resp_2",
			"status": "completed",
			"output": []any{
				map[string]any{
					"type": "message",
					"role": "assistant",
					"content": []any{
						map[string]any{"type": "output_text", "text": "final answer"},
					},
				},
			},
		}))
	}))
	defer responsesSrv.Close()

	daemonSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "shell.exec", req["toolName"])
		input, _ := req["input"].(map[string]any)
		require.Equal(t, "pwd", input["command"])
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"result":{"stdout":"/tmp"}}`)
	}))
	defer daemonSrv.Close()

	engine := NewResponsesChatEngine(&Transport{BaseURL: responsesSrv.URL}, "gpt-test")

	var events []protocol.EventMsg
	result, err := engine.RunTurn(context.Background(), TurnRequest{
		Options: &protocol.UserTurnOptions{
			Tools:         []protocol.ToolSpec{{Name: "shell.exec"}},
			ToolExecution: &protocol.ToolExecutionConfig{DaemonURL: daemonSrv.URL, AgentID: "agent-1"},
		},
		Items: []protocol.InputItem{protocol.NewTextItem("hello")},
	}, func(e protocol.EventMsg) { events = append(events, e) })

	require.NoError(t, err)
	require.NotNil(t, result.LastAgentMessage)
	require.Equal(t, "final answer", *result.LastAgentMessage)

	var toolCall *protocol.ToolCallEvent
	var toolResult *protocol.ToolResultEvent
	for _, e := range events {
		if e.Type == protocol.EventToolCall {
			toolCall = e.ToolCall
		}
		if e.Type == protocol.EventToolResult {
			toolResult = e.ToolResult
		}
	}
	require.NotNil(t, toolCall)
	require.Equal(t, "shell.exec", toolCall.ToolName)
	var inputObj map[string]any
	require.NoError(t, json.Unmarshal(toolCall.Input, &inputObj))
	require.Equal(t, "pwd", inputObj["command"])
	require.NotNil(t, toolResult)
	require.Equal(t, "shell.exec", toolResult.ToolName)
}

func TestRunTurnRetriesOnStoreFalseRejection(t *testing.T) {
	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		if calls == 1 {
			require.Equal(t, false, payload["store"])
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"Items with store set to false can not be used with this model"}`)
			return
		}

		require.Equal(t, true, payload["store"])
		fmt.Fprint(w, sseBody(t, map[string]any{
			"id":     "resp_1",
			"status": "completed",
			"output": []any{
				map[string]any{
					"type": "message",
					"role": "assistant",
					"content": []any{
						map[string]any{"type": "output_text", "text": "ok"},
					},
				},
			},
		}))
	}))
	defer srv.Close()

	engine := NewResponsesChatEngine(&Transport{BaseURL: srv.URL}, "gpt-test")
	storeFalse := false
	result, err := engine.RunTurn(context.Background(), TurnRequest{
		Options: &protocol.UserTurnOptions{
			Responses: &protocol.ResponsesRequestOptions{Store: &storeFalse},
		},
		Items: []protocol.InputItem{protocol.NewTextItem("hello")},
	}, func(protocol.EventMsg) {})

	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.NotNil(t, result.LastAgentMessage)
	require.Equal(t, "ok", *result.LastAgentMessage)
}

func TestRunTurnDropsReasoningItemsWhenEncryptedContentDisabled(t *testing.T) {
	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		if calls == 1 {
			fmt.Fprint(w, sseBody(t, map[string]any{
				"id":     "resp_1",
				"status": "completed",
				"output": []any{
					map[string]any{"type": "reasoning", "id": "rs_1", "summary": []any{}},
					map[string]any{
						"type":      "function_call",
						"call_id":   "call_1",
						"name":      "echo",
						"arguments": `{}`,
					},
				},
			}))
			return
		}

		input, _ := payload["input"].([]any)
		for _, item := range input {
			obj, _ := item.(map[string]any)
			require.False(t, obj != nil && obj["type"] == "reasoning", "reasoning item should have been dropped from replay")
		}

		fmt.Fprint(w, sseBody(t, map[string]any{
			"id":     "resp_2",
			"status": "completed",
			"output": []any{
				map[string]any{
					"type": "message",
					"role": "assistant",
					"content": []any{
						map[string]any{"type": "output_text", "text": "done"},
					},
				},
			},
		}))
	}))
	defer srv.Close()

	daemonSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"result":{}}`)
	}))
	defer daemonSrv.Close()

	engine := NewResponsesChatEngine(&Transport{BaseURL: srv.URL}, "gpt-test")
	includeEncrypted := false
	result, err := engine.RunTurn(context.Background(), TurnRequest{
		Options: &protocol.UserTurnOptions{
			Tools:         []protocol.ToolSpec{{Name: "echo"}},
			ToolExecution: &protocol.ToolExecutionConfig{DaemonURL: daemonSrv.URL, AgentID: "agent-1"},
			Responses: &protocol.ResponsesRequestOptions{
				Reasoning: &protocol.ReasoningOptions{Enabled: true, IncludeEncryptedContent: &includeEncrypted},
			},
		},
		Items: []protocol.InputItem{protocol.NewTextItem("hello")},
	}, func(protocol.EventMsg) {})

	require.NoError(t, err)
	require.NotNil(t, result.LastAgentMessage)
	require.Equal(t, "done", *result.LastAgentMessage)
	require.Equal(t, 2, calls)
}

func TestRunTurnExceedingToolLoopFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseBody(t, map[string]any{
			"id":     "resp_x",
			"status": "completed",
			"output": []any{
				map[string]any{
					"type":      "function_call",
					"call_id":   "call_x",
					"name":      "echo",
					"arguments": `{}`,
				},
			},
		}))
	}))
	defer srv.Close()

	daemonSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":{}}`)
	}))
	defer daemonSrv.Close()

	engine := NewResponsesChatEngine(&Transport{BaseURL: srv.URL}, "gpt-test")
	engine.MaxRounds = 2

	_, err := engine.RunTurn(context.Background(), TurnRequest{
		Options: &protocol.UserTurnOptions{
			Tools:         []protocol.ToolSpec{{Name: "echo"}},
			ToolExecution: &protocol.ToolExecutionConfig{DaemonURL: daemonSrv.URL, AgentID: "agent-1"},
		},
		Items: []protocol.InputItem{protocol.NewTextItem("hello")},
	}, func(protocol.EventMsg) {})

	require.Error(t, err)
	require.True(t, IsTransportClass(err))
}

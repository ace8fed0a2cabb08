package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubmissionRoundTrip(t *testing.T) {
	cases := []Submission{
		{ID: "sub-1", Op: NewUserTurnOp([]InputItem{NewTextItem("hello")}, nil)},
		{ID: "sub-2", Op: NewInterruptOp()},
		{ID: "sub-3", Op: NewShutdownOp()},
		{ID: "sub-4", Op: NewExecApprovalOp("call-1", ReviewApproved)},
		{ID: "sub-5", Op: NewPatchApprovalOp("call-2", ReviewDenied)},
	}

	for _, original := range cases {
		data, err := json.Marshal(original)
		require.NoError(t, err)

		var decoded Submission
		require.NoError(t, json.Unmarshal(data, &decoded))
		require.Equal(t, original, decoded)
	}
}

func TestUserTurnOptionsOmittedWhenEmpty(t *testing.T) {
	op := NewUserTurnOp([]InputItem{NewTextItem("hi")}, nil)
	data, err := json.Marshal(op)
	require.NoError(t, err)
	require.NotContains(t, string(data), "options")
}

func TestUserTurnOptionsPresentWhenPopulated(t *testing.T) {
	opts := &UserTurnOptions{SystemPrompt: "be terse"}
	op := NewUserTurnOp([]InputItem{NewTextItem("hi")}, opts)
	data, err := json.Marshal(op)
	require.NoError(t, err)
	require.Contains(t, string(data), `"system_prompt":"be terse"`)
}

func TestEventRoundTrip(t *testing.T) {
	msg := "hello"
	cases := []Event{
		{ID: "session", Msg: EventMsg{Type: EventSessionConfigured, SessionID: "finger-kernel"}},
		{ID: "sub-1", Msg: EventMsg{Type: EventTaskStarted}},
		{ID: "sub-1", Msg: EventMsg{Type: EventTaskComplete, TaskComplete: &TaskCompleteEvent{LastAgentMessage: &msg}}},
		{ID: "sub-1", Msg: EventMsg{Type: EventTurnAborted, TurnAborted: &TurnAbortedEvent{Reason: AbortUserInterrupt}}},
		{ID: "shutdown", Msg: EventMsg{Type: EventShutdownComplete}},
		{ID: "sub-1", Msg: EventMsg{Type: EventError, Error: &ErrorEvent{Message: "boom"}}},
		{ID: "sub-1", Msg: EventMsg{Type: EventModelRound, ModelRound: &ModelRoundEvent{Seq: 1, Round: 1}}},
		{ID: "sub-1", Msg: EventMsg{Type: EventToolCall, ToolCall: &ToolCallEvent{Seq: 2, CallID: "c1", ToolName: "shell.exec"}}},
	}

	for _, original := range cases {
		data, err := json.Marshal(original)
		require.NoError(t, err)

		var decoded Event
		require.NoError(t, json.Unmarshal(data, &decoded))
		require.Equal(t, original, decoded)
	}
}

func TestInputItemVariants(t *testing.T) {
	items := []InputItem{
		NewTextItem("hi"),
		NewImageItem("https://example.com/a.png"),
		NewLocalImageItem("/tmp/a.png"),
	}
	for _, item := range items {
		data, err := json.Marshal(item)
		require.NoError(t, err)
		var decoded InputItem
		require.NoError(t, json.Unmarshal(data, &decoded))
		require.Equal(t, item, decoded)
	}
}

package kernel

import (
	"context"

	"github.com/finger-kernel/kernel/internal/chatengine"
	"github.com/finger-kernel/kernel/internal/protocol"
)

// EchoChatEngine is the runtime's default chat engine: it answers with
// the text of the last text input item, performing no model call.
// Grounded on _examples/original_source/rust/kernel-core's EchoChatEngine,
// used by tests and as Spawn's zero-configuration default.
type EchoChatEngine struct{}

func NewEchoChatEngine() *EchoChatEngine { return &EchoChatEngine{} }

func (e *EchoChatEngine) RunTurn(_ context.Context, req chatengine.TurnRequest, _ func(protocol.EventMsg)) (chatengine.TurnResult, error) {
	var last *string
	for i := len(req.Items) - 1; i >= 0; i-- {
		if req.Items[i].Type == protocol.InputItemText {
			text := req.Items[i].Text
			last = &text
			break
		}
	}
	return chatengine.TurnResult{LastAgentMessage: last}, nil
}

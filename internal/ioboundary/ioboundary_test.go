package ioboundary

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/finger-kernel/kernel/internal/kernel"
	"github.com/finger-kernel/kernel/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestRunRoundTripsSubmissionsAndEvents(t *testing.T) {
	turn, err := json.Marshal(protocol.Submission{
		ID: "sub-1",
		Op: protocol.NewUserTurnOp([]protocol.InputItem{protocol.NewTextItem("hi")}, nil),
	})
	require.NoError(t, err)
	shutdown, err := json.Marshal(protocol.Submission{ID: "shutdown", Op: protocol.NewShutdownOp()})
	require.NoError(t, err)

	stdin := strings.NewReader(string(turn) + "\n\n" + string(shutdown) + "\n")
	var stdout bytes.Buffer

	rt := kernel.Spawn(kernel.DefaultConfig())
	logger := slog.Default()

	done := make(chan error, 1)
	go func() { done <- Run(stdin, &stdout, logger, rt) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Run to finish")
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 4)

	var types []string
	for _, line := range lines {
		var e protocol.Event
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		types = append(types, e.Msg.Type)
	}
	require.Equal(t, protocol.EventSessionConfigured, types[0])
	require.Contains(t, types, protocol.EventTaskStarted)
	// Shutdown arrives while the task is still in its idle window, so the
	// task is aborted rather than completed.
	require.Contains(t, types, protocol.EventTurnAborted)
	require.Equal(t, protocol.EventShutdownComplete, types[len(types)-1])
}

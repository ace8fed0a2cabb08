// Package kernel implements the turn scheduler: one goroutine consuming
// submissions, running at most one chat-engine turn at a time, and
// absorbing a second UserTurn into the running task's pending queue
// instead of starting a concurrent one.
//
// Grounded on _examples/original_source/rust/kernel-core (submission_loop,
// spawn_task), translated from tokio mpsc channels + JoinHandle.abort()
// to Go channels + context.CancelFunc.
package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/finger-kernel/kernel/internal/chatengine"
	"github.com/finger-kernel/kernel/internal/ledger"
	"github.com/finger-kernel/kernel/internal/protocol"
)

// Config mirrors kernel-core's KernelConfig defaults.
type Config struct {
	SessionID       string
	ChannelCapacity int
	TaskIdleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		SessionID:       "finger-kernel",
		ChannelCapacity: 128,
		TaskIdleTimeout:  200 * time.Millisecond,
	}
}

func normalizeConfig(cfg Config) Config {
	if cfg.SessionID == "" {
		cfg.SessionID = "finger-kernel"
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = 128
	}
	if cfg.TaskIdleTimeout <= 0 {
		cfg.TaskIdleTimeout = 200 * time.Millisecond
	}
	return cfg
}

// LedgerFactory resolves the context ledger handle (if any) a turn's
// options ask for. A nil return means the turn runs without one.
type LedgerFactory func(opts *protocol.UserTurnOptions) *ledger.Ledger

// Runtime is a spawned kernel: a submission channel in, an event
// channel out, and the scheduling goroutine between them.
type Runtime struct {
	submissionTx chan protocol.Submission
	eventRx      chan protocol.Event
	doneCh       chan struct{}
}

// Spawn starts a runtime using the default EchoChatEngine.
func Spawn(cfg Config) *Runtime {
	return SpawnWithEngine(cfg, NewEchoChatEngine(), nil)
}

// SpawnWithEngine starts a runtime against the given chat engine and
// (optional) per-turn ledger resolver.
func SpawnWithEngine(cfg Config, engine chatengine.ChatEngine, ledgerFactory LedgerFactory) *Runtime {
	cfg = normalizeConfig(cfg)
	submissionCh := make(chan protocol.Submission, cfg.ChannelCapacity)
	eventCh := make(chan protocol.Event, cfg.ChannelCapacity)
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		defer close(eventCh)
		submissionLoop(cfg, submissionCh, eventCh, engine, ledgerFactory)
	}()

	return &Runtime{submissionTx: submissionCh, eventRx: eventCh, doneCh: doneCh}
}

// ErrSubmissionChannelClosed mirrors KernelError::SubmissionChannelClosed.
type ErrSubmissionChannelClosed struct{}

func (ErrSubmissionChannelClosed) Error() string {
	return "failed to send submission: runtime channel closed"
}

// Submit enqueues a submission, blocking if the channel is full.
func (r *Runtime) Submit(sub protocol.Submission) (err error) {
	defer func() {
		if recover() != nil {
			err = ErrSubmissionChannelClosed{}
		}
	}()
	r.submissionTx <- sub
	return nil
}

// Events returns the channel of outbound events. It closes once the
// runtime has processed Shutdown and exited.
func (r *Runtime) Events() <-chan protocol.Event { return r.eventRx }

// Join blocks until the runtime's scheduling goroutine has exited.
func (r *Runtime) Join() { <-r.doneCh }

type continuation struct {
	Items   []protocol.InputItem
	Options *protocol.UserTurnOptions
}

type runningTask struct {
	subID   string
	inputTx chan continuation
	cancel  context.CancelFunc
	done    chan struct{}
}

func submissionLoop(cfg Config, submissionRx <-chan protocol.Submission, eventTx chan<- protocol.Event, engine chatengine.ChatEngine, ledgerFactory LedgerFactory) {
	eventTx <- protocol.Event{ID: "session", Msg: protocol.EventMsg{Type: protocol.EventSessionConfigured, SessionID: cfg.SessionID}}

	var running *runningTask

	for sub := range submissionRx {
		if running != nil {
			select {
			case <-running.done:
				running = nil
			default:
			}
		}

		switch sub.Op.Type {
		case protocol.OpUserTurn:
			cont := continuation{Items: sub.Op.UserTurnItems, Options: sub.Op.UserTurnOptions}

			if running != nil {
				select {
				case running.inputTx <- cont:
					continue
				case <-running.done:
					running = nil
				}
			}

			var ledgerHandle *ledger.Ledger
			if ledgerFactory != nil {
				ledgerHandle = ledgerFactory(cont.Options)
			}
			running = spawnTask(sub.ID, cont, cfg.TaskIdleTimeout, eventTx, engine, ledgerHandle)

		case protocol.OpInterrupt:
			if running != nil {
				running.cancel()
				eventTx <- protocol.Event{ID: sub.ID, Msg: protocol.EventMsg{
					Type:        protocol.EventTurnAborted,
					TurnAborted: &protocol.TurnAbortedEvent{Reason: protocol.AbortUserInterrupt},
				}}
				running = nil
			}

		case protocol.OpShutdown:
			if running != nil {
				running.cancel()
				eventTx <- protocol.Event{ID: sub.ID, Msg: protocol.EventMsg{
					Type:        protocol.EventTurnAborted,
					TurnAborted: &protocol.TurnAbortedEvent{Reason: protocol.AbortShutdown},
				}}
				running = nil
			}
			eventTx <- protocol.Event{ID: sub.ID, Msg: protocol.EventMsg{Type: protocol.EventShutdownComplete}}
			return

		case protocol.OpExecApproval, protocol.OpPatchApproval:
			eventTx <- protocol.Event{ID: sub.ID, Msg: protocol.EventMsg{
				Type:  protocol.EventError,
				Error: &protocol.ErrorEvent{Message: "approval flow is not implemented"},
			}}
		}
	}
}

func spawnTask(subID string, initial continuation, idleTimeout time.Duration, eventTx chan<- protocol.Event, engine chatengine.ChatEngine, ledgerHandle *ledger.Ledger) *runningTask {
	inputTx := make(chan continuation, 32)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		eventTx <- protocol.Event{ID: subID, Msg: protocol.EventMsg{Type: protocol.EventTaskStarted}}

		pending := initial
		var lastAgentMessage *string

	loop:
		for {
			if len(pending.Items) > 0 {
				result, err := engine.RunTurn(ctx, chatengine.TurnRequest{
					Options: pending.Options,
					Items:   pending.Items,
					Ledger:  ledgerHandle,
				}, func(msg protocol.EventMsg) {
					eventTx <- protocol.Event{ID: subID, Msg: msg}
				})
				if err != nil {
					eventTx <- protocol.Event{ID: subID, Msg: protocol.EventMsg{
						Type:  protocol.EventError,
						Error: &protocol.ErrorEvent{Message: fmt.Sprintf("run_turn failed: %v", err)},
					}}
					break loop
				}
				if result.LastAgentMessage != nil {
					lastAgentMessage = result.LastAgentMessage
				}
				pending = continuation{}
			}

			select {
			case next, ok := <-inputTx:
				if !ok {
					break loop
				}
				pending = next
			case <-time.After(idleTimeout):
				break loop
			case <-ctx.Done():
				break loop
			}
		}

		// An aborted task ends silently: the scheduler has already
		// emitted TurnAborted for it.
		if ctx.Err() != nil {
			return
		}

		eventTx <- protocol.Event{ID: subID, Msg: protocol.EventMsg{
			Type:         protocol.EventTaskComplete,
			TaskComplete: &protocol.TaskCompleteEvent{LastAgentMessage: lastAgentMessage},
		}}
	}()

	return &runningTask{subID: subID, inputTx: inputTx, cancel: cancel, done: done}
}

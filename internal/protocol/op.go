package protocol

import (
	"encoding/json"
	"fmt"
)

// Op type discriminators, snake_case on the wire.
const (
	OpUserTurn       = "user_turn"
	OpInterrupt      = "interrupt"
	OpShutdown       = "shutdown"
	OpExecApproval   = "exec_approval"
	OpPatchApproval  = "patch_approval"
)

// ReviewDecision is a snake_case string enum carried by approval ops.
type ReviewDecision string

const (
	ReviewApproved           ReviewDecision = "approved"
	ReviewApprovedForSession ReviewDecision = "approved_for_session"
	ReviewDenied             ReviewDecision = "denied"
	ReviewAbort              ReviewDecision = "abort"
)

// Op is an externally-tagged variant over UserTurn/Interrupt/Shutdown/
// ExecApproval/PatchApproval. Exactly one of the pointer fields is set
// for the approval/user-turn variants; Interrupt and Shutdown carry no
// payload.
type Op struct {
	Type string

	UserTurnItems   []InputItem
	UserTurnOptions *UserTurnOptions

	ApprovalID       string
	ApprovalDecision ReviewDecision
}

// NewUserTurnOp builds a UserTurn op.
func NewUserTurnOp(items []InputItem, options *UserTurnOptions) Op {
	return Op{Type: OpUserTurn, UserTurnItems: items, UserTurnOptions: options}
}

// NewInterruptOp builds an Interrupt op.
func NewInterruptOp() Op { return Op{Type: OpInterrupt} }

// NewShutdownOp builds a Shutdown op.
func NewShutdownOp() Op { return Op{Type: OpShutdown} }

// NewExecApprovalOp builds an ExecApproval op.
func NewExecApprovalOp(id string, decision ReviewDecision) Op {
	return Op{Type: OpExecApproval, ApprovalID: id, ApprovalDecision: decision}
}

// NewPatchApprovalOp builds a PatchApproval op.
func NewPatchApprovalOp(id string, decision ReviewDecision) Op {
	return Op{Type: OpPatchApproval, ApprovalID: id, ApprovalDecision: decision}
}

func (o Op) MarshalJSON() ([]byte, error) {
	switch o.Type {
	case OpUserTurn:
		payload := struct {
			Type    string           `json:"type"`
			Items   []InputItem      `json:"items"`
			Options *UserTurnOptions `json:"options,omitempty"`
		}{o.Type, o.UserTurnItems, nil}
		if !o.UserTurnOptions.IsEmpty() {
			payload.Options = o.UserTurnOptions
		}
		return json.Marshal(payload)
	case OpInterrupt, OpShutdown:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{o.Type})
	case OpExecApproval, OpPatchApproval:
		return json.Marshal(struct {
			Type     string         `json:"type"`
			ID       string         `json:"id"`
			Decision ReviewDecision `json:"decision"`
		}{o.Type, o.ApprovalID, o.ApprovalDecision})
	default:
		return nil, fmt.Errorf("protocol: unknown op type %q", o.Type)
	}
}

func (o *Op) UnmarshalJSON(data []byte) error {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return err
	}
	switch peek.Type {
	case OpUserTurn:
		var v struct {
			Items   []InputItem      `json:"items"`
			Options *UserTurnOptions `json:"options"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*o = Op{Type: OpUserTurn, UserTurnItems: v.Items, UserTurnOptions: v.Options}
	case OpInterrupt:
		*o = Op{Type: OpInterrupt}
	case OpShutdown:
		*o = Op{Type: OpShutdown}
	case OpExecApproval, OpPatchApproval:
		var v struct {
			ID       string         `json:"id"`
			Decision ReviewDecision `json:"decision"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*o = Op{Type: peek.Type, ApprovalID: v.ID, ApprovalDecision: v.Decision}
	default:
		return fmt.Errorf("protocol: unknown op type %q", peek.Type)
	}
	return nil
}

// Submission is one inbound command on the kernel's framed input.
type Submission struct {
	ID string `json:"id"`
	Op Op     `json:"op"`
}

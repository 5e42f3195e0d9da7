package workflow

import "fmt"

// State is a NegotiationSession's position in the workflow. States only move
// forward through the order below; Completed and Rejected are terminal.
type State string

const (
	StatePendingShipper    State = "PENDING_SHIPPER"
	StatePendingCarrier    State = "PENDING_CARRIER"
	StateAINegotiating     State = "AI_NEGOTIATING"
	StateAwaitingApprovals State = "AWAITING_APPROVALS"
	StateCompleted         State = "COMPLETED"
	StateRejected          State = "REJECTED"
)

var stateOrder = map[State]int{
	StatePendingShipper:    0,
	StatePendingCarrier:    1,
	StateAINegotiating:     2,
	StateAwaitingApprovals: 3,
	StateCompleted:         4,
	StateRejected:          4,
}

// Rank orders states for monotonicity checks. Unknown states rank -1.
func (s State) Rank() int {
	if r, ok := stateOrder[s]; ok {
		return r
	}
	return -1
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRejected
}

// agreementShared reports whether the agreement has been shown to the parties.
func (s State) agreementShared() bool {
	return s == StateAwaitingApprovals || s.Terminal()
}

// Role is a negotiating party.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleShipper  Role = "shipper"
	RoleCarrier  Role = "carrier"
)

// Parties lists the roles whose approval completes a session, in notification order.
var Parties = []Role{RoleCustomer, RoleShipper, RoleCarrier}

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleShipper, RoleCarrier:
		return true
	default:
		return false
	}
}

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// ApprovalStatus is the outcome of an approval.
type ApprovalStatus string

const (
	ApprovalPartial   ApprovalStatus = "PARTIAL"
	ApprovalFinalized ApprovalStatus = "FINALIZED"
)

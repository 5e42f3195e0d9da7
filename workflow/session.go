package workflow

import (
	"time"

	"negotiatex/negotiation"
)

// Snapshot is a copy of a session's data. Mutating it never affects the session.
type Snapshot struct {
	ID                  string                 `json:"id"`
	Owner               string                 `json:"owner,omitempty"`
	State               State                  `json:"state"`
	CustomerIntent      map[string]any         `json:"customer_intent"`
	ShipperRequirements map[string]any         `json:"shipper_requirements"`
	CarrierFeasibility  map[string]any         `json:"carrier_feasibility"`
	Approvals           map[Role]bool          `json:"approvals"`
	Agreement           *negotiation.Agreement `json:"agreement,omitempty"`
	RejectedBy          Role                   `json:"rejected_by,omitempty"`
	RejectReason        string                 `json:"reject_reason,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

type session struct {
	id                  string
	owner               string
	participants        map[Role]string
	state               State
	customerIntent      map[string]any
	shipperRequirements map[string]any
	carrierFeasibility  map[string]any
	approvals           map[Role]bool
	agreement           *negotiation.Agreement
	rejectedBy          Role
	rejectReason        string
	createdAt           time.Time
	updatedAt           time.Time
}

func newSession(id, owner string, at time.Time) session {
	approvals := make(map[Role]bool, len(Parties))
	for _, r := range Parties {
		approvals[r] = false
	}
	return session{
		id:           id,
		owner:        owner,
		participants: make(map[Role]string, len(Parties)),
		state:        StatePendingShipper,
		approvals:    approvals,
		createdAt:    at,
		updatedAt:    at,
	}
}

func (s *session) snapshot() Snapshot {
	approvals := make(map[Role]bool, len(s.approvals))
	for k, v := range s.approvals {
		approvals[k] = v
	}
	var ag *negotiation.Agreement
	if s.agreement != nil {
		cp := cloneAgreement(*s.agreement)
		ag = &cp
	}
	return Snapshot{
		ID:                  s.id,
		Owner:               s.owner,
		State:               s.state,
		CustomerIntent:      cloneMap(s.customerIntent),
		ShipperRequirements: cloneMap(s.shipperRequirements),
		CarrierFeasibility:  cloneMap(s.carrierFeasibility),
		Approvals:           approvals,
		Agreement:           ag,
		RejectedBy:          s.rejectedBy,
		RejectReason:        s.rejectReason,
		CreatedAt:           s.createdAt,
		UpdatedAt:           s.updatedAt,
	}
}

func cloneAgreement(a negotiation.Agreement) negotiation.Agreement {
	a.Clauses = append([]negotiation.Clause(nil), a.Clauses...)
	a.TransparencyReport = cloneMap(a.TransparencyReport)
	return a
}

// cloneMap deep-copies JSON-shaped values. Other values are shared.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

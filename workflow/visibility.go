package workflow

import "negotiatex/negotiation"

// Projection is the subset of a session one role may observe.
type Projection struct {
	SessionID           string                 `json:"session_id,omitempty"`
	Role                Role                   `json:"role,omitempty"`
	State               State                  `json:"state,omitempty"`
	CustomerIntent      map[string]any         `json:"customer_intent,omitempty"`
	ShipperRequirements map[string]any         `json:"shipper_requirements,omitempty"`
	CarrierFeasibility  map[string]any         `json:"carrier_feasibility,omitempty"`
	Agreement           *negotiation.Agreement `json:"agreement,omitempty"`
	Approvals           map[Role]bool          `json:"approvals,omitempty"`
}

// Visible projects a snapshot for role. Stages a role may see but that have
// not been submitted yet project as empty maps. Unknown roles get an empty
// projection.
//
//	customer: own intent
//	shipper:  customer intent, own requirements
//	carrier:  customer intent, shipper requirements, own feasibility
//
// Every party sees the agreement and approvals once it has been shared.
func Visible(snap Snapshot, role Role) Projection {
	if !role.Valid() {
		return Projection{}
	}

	p := Projection{
		SessionID:      snap.ID,
		Role:           role,
		State:          snap.State,
		CustomerIntent: orEmpty(snap.CustomerIntent),
	}
	switch role {
	case RoleShipper:
		p.ShipperRequirements = orEmpty(snap.ShipperRequirements)
	case RoleCarrier:
		p.ShipperRequirements = orEmpty(snap.ShipperRequirements)
		p.CarrierFeasibility = orEmpty(snap.CarrierFeasibility)
	}

	if snap.State.agreementShared() && snap.Agreement != nil {
		ag := cloneAgreement(*snap.Agreement)
		p.Agreement = &ag
		p.Approvals = make(map[Role]bool, len(snap.Approvals))
		for k, v := range snap.Approvals {
			p.Approvals[k] = v
		}
	}
	return p
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return cloneMap(m)
}

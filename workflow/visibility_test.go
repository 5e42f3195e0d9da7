package workflow

import (
	"encoding/json"
	"testing"

	"negotiatex/negotiation"
)

func TestVisible_CarrierBeforeRequirements(t *testing.T) {
	c := NewController("s-1", "", nil)
	c.SubmitCustomerIntent(ctx, map[string]any{"goods": "steel"})

	p, err := c.GetVisibleData("carrier")
	if err != nil {
		t.Fatalf("visible: %v", err)
	}
	if p.ShipperRequirements == nil || len(p.ShipperRequirements) != 0 {
		t.Fatalf("expected empty shipper requirements, got %v", p.ShipperRequirements)
	}
	if p.CustomerIntent["goods"] != "steel" {
		t.Fatalf("carrier should see customer intent, got %v", p.CustomerIntent)
	}
	if p.Agreement != nil {
		t.Fatal("agreement visible before it exists")
	}
}

func TestVisible_RoleScopes(t *testing.T) {
	snap := Snapshot{
		ID:                  "s-1",
		State:               StateAINegotiating,
		CustomerIntent:      map[string]any{"i": 1},
		ShipperRequirements: map[string]any{"r": 1},
		CarrierFeasibility:  map[string]any{"f": 1},
		Agreement:           &negotiation.Agreement{ID: "agr"},
	}

	customer := Visible(snap, RoleCustomer)
	if customer.ShipperRequirements != nil || customer.CarrierFeasibility != nil {
		t.Fatalf("customer sees staged data: %+v", customer)
	}
	shipper := Visible(snap, RoleShipper)
	if shipper.CarrierFeasibility != nil || shipper.ShipperRequirements["r"] != 1 {
		t.Fatalf("unexpected shipper projection: %+v", shipper)
	}
	carrier := Visible(snap, RoleCarrier)
	if carrier.CarrierFeasibility["f"] != 1 || carrier.ShipperRequirements["r"] != 1 {
		t.Fatalf("unexpected carrier projection: %+v", carrier)
	}
	for _, p := range []Projection{customer, shipper, carrier} {
		if p.Agreement != nil {
			t.Fatalf("agreement visible while negotiating: %+v", p)
		}
	}
}

func TestVisible_UnknownRoleIsEmpty(t *testing.T) {
	snap := Snapshot{ID: "s-1", State: StateCompleted, CustomerIntent: map[string]any{"i": 1}}
	p := Visible(snap, Role("operator"))
	b, _ := json.Marshal(p)
	if string(b) != "{}" {
		t.Fatalf("expected empty projection, got %s", b)
	}

	c := NewController("s-1", "", nil)
	if _, err := c.GetVisibleData("operator"); err == nil {
		t.Fatal("expected invalid role error from controller")
	}
}

// Once a stage becomes visible to a role it stays visible in every later state.
func TestVisible_MonotonicInProgress(t *testing.T) {
	c := NewController("s-1", "", nil)
	steps := []func(){
		func() { c.SubmitCustomerIntent(ctx, map[string]any{"i": 1}) },
		func() { c.SubmitShipperRequirements(ctx, map[string]any{"r": 1}) },
		func() { c.SubmitCarrierFeasibility(ctx, map[string]any{"f": 1}) },
		func() { c.FinalizeNegotiation(ctx, negotiation.Agreement{ID: "agr"}) },
		func() {
			for _, r := range Parties {
				c.ApproveContract(ctx, string(r))
			}
		},
	}

	seen := map[Role]map[string]bool{}
	for i, step := range steps {
		step()
		for _, role := range Parties {
			p, err := c.GetVisibleData(string(role))
			if err != nil {
				t.Fatalf("visible: %v", err)
			}
			now := map[string]bool{
				"intent":       len(p.CustomerIntent) > 0,
				"requirements": len(p.ShipperRequirements) > 0,
				"feasibility":  len(p.CarrierFeasibility) > 0,
				"agreement":    p.Agreement != nil,
			}
			for k, was := range seen[role] {
				if was && !now[k] {
					t.Fatalf("step %d: %s lost visibility of %s", i, role, k)
				}
			}
			if now["requirements"] && i < 1 {
				t.Fatalf("step %d: %s sees requirements before submission", i, role)
			}
			if now["feasibility"] && i < 2 {
				t.Fatalf("step %d: %s sees feasibility before submission", i, role)
			}
			if now["agreement"] && i < 3 {
				t.Fatalf("step %d: %s sees agreement before finalization", i, role)
			}
			seen[role] = now
		}
	}

	final, _ := c.GetVisibleData("customer")
	if final.Agreement == nil || final.State != StateCompleted {
		t.Fatalf("customer should see the completed agreement: %+v", final)
	}
}

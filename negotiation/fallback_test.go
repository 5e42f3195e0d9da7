package negotiation

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"negotiatex/signals"
)

func scenarioContext() Context {
	return Context{
		ShipmentID: "s-1",
		CarrierID:  "c-1",
		Requester:  "ops@shipper.example",
		Shipper:    map[string]any{"budget": "10000–25000", "source_location": "Mumbai", "destination_location": "Pune"},
		Carrier:    map[string]any{"cost": 8000},
		Weather: WeatherReport{
			Origin:      signals.UnknownWeather(),
			Destination: signals.UnknownWeather(),
		},
		News: []string{signals.NewsUnavailable},
	}
}

func TestSynthesize_ScenarioPrice(t *testing.T) {
	ag := Synthesize(scenarioContext(), "agr-1")

	if ag.JustifiedPrice != 16575 {
		t.Fatalf("expected (25000+8000+150)/2 = 16575, got %v", ag.JustifiedPrice)
	}
	if ag.ConfidenceScore != 85 {
		t.Fatalf("expected confidence 85, got %d", ag.ConfidenceScore)
	}
	if ag.Source != SourceFallback || ag.ID != "agr-1" {
		t.Fatalf("unexpected source/id: %s %s", ag.Source, ag.ID)
	}
	if len(ag.Clauses) == 0 || ag.Clauses[0].ID != "pricing" {
		t.Fatalf("expected pricing clause first, got %+v", ag.Clauses)
	}
	for _, c := range ag.Clauses {
		if c.Status != ClauseAgreed {
			t.Fatalf("clause %s status %s", c.ID, c.Status)
		}
	}
	if !strings.Contains(ag.Text, "Mumbai to Pune") || !strings.Contains(ag.Text, "16575") {
		t.Fatalf("agreement text missing route or rate:\n%s", ag.Text)
	}
}

func TestSynthesize_Defaults(t *testing.T) {
	ag := Synthesize(Context{}, "agr-2")
	if ag.JustifiedPrice != 600 {
		t.Fatalf("expected (600+450+150)/2 = 600, got %v", ag.JustifiedPrice)
	}
}

func TestSynthesize_Deterministic(t *testing.T) {
	first, err := json.Marshal(Synthesize(scenarioContext(), "agr-1"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for i := 0; i < 20; i++ {
		next, err := json.Marshal(Synthesize(scenarioContext(), "agr-1"))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if !bytes.Equal(first, next) {
			t.Fatalf("run %d differs:\n%s\n%s", i, first, next)
		}
	}
}

func TestSynthesize_PeakFlagSelectsMultiplier(t *testing.T) {
	nc := scenarioContext()
	if got := clauseValue(Synthesize(nc, "a"), "holidays"); got != offPeakPolicy {
		t.Fatalf("expected off-peak policy, got %q", got)
	}
	nc.Shipper["peak_season"] = true
	if got := clauseValue(Synthesize(nc, "a"), "holidays"); got != peakPolicy {
		t.Fatalf("expected peak policy, got %q", got)
	}
	if got := clauseValue(Synthesize(nc, "a"), "penalty"); got != penaltyPolicy {
		t.Fatalf("unexpected penalty policy %q", got)
	}
}

func TestSynthesize_ReadsPersistedSLARules(t *testing.T) {
	nc := scenarioContext()
	nc.Shipper["sla_rules"] = map[string]any{
		"peakSeason":           true,
		"delayPenalty":         "20%",
		"fuelAdjustmentCap":    "7%",
		"peakChargeMultiplier": "1.3x",
	}
	ag := Synthesize(nc, "a")

	if got := clauseValue(ag, "holidays"); got != peakPolicy {
		t.Fatalf("expected peak policy from sla_rules.peakSeason, got %q", got)
	}
	want := map[string]string{"penalty": "20%", "fuel": "7%", "holidays": "1.3x"}
	for _, c := range ag.Clauses {
		if w, ok := want[c.ID]; ok && c.ShipperPosition != w {
			t.Fatalf("clause %s: expected shipper position %q, got %q", c.ID, w, c.ShipperPosition)
		}
	}
}

func TestFallback_NeverFails(t *testing.T) {
	if _, err := (Fallback{}).Mediate(context.Background(), Context{}, "x"); err != nil {
		t.Fatalf("fallback returned error: %v", err)
	}
}

func clauseValue(ag Agreement, id string) string {
	for _, c := range ag.Clauses {
		if c.ID == id {
			return c.Negotiated
		}
	}
	return ""
}

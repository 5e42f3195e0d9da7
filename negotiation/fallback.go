package negotiation

import (
	"context"
	"fmt"
	"math"
	"strings"
)

const (
	// FallbackMargin is added to the carrier's cost before splitting the difference.
	FallbackMargin = 150
	// FallbackConfidence is lower than anything the external mediator reports
	// for a well-reasoned agreement.
	FallbackConfidence = 85

	defaultBudget = 600
	defaultCost   = 450

	penaltyPolicy    = "10% progressive"
	fuelPolicy       = "Flexible (BCO standard)"
	peakPolicy       = "1.25x tiered"
	offPeakPolicy    = "1.0x standard"
	unspecifiedValue = "not specified"
)

var (
	budgetKeys   = []string{"baseBudget", "base_budget", "max_budget", "budget_range.max", "budget"}
	costKeys     = []string{"baseOperationalCost", "base_operational_cost", "operational_cost", "cost", "cost_structure.base_rate", "proposedPrice", "proposed_price"}
	peakKeys     = []string{"peakSeason", "peak_season", "slaRules.peakSeason", "sla_rules.peakSeason", "sla_rules.peak_season"}
	penaltyKeys  = []string{"slaRules.delayPenalty", "sla_rules.delayPenalty", "sla_rules.delay_penalty"}
	fuelCapKeys  = []string{"slaRules.fuelAdjustmentCap", "sla_rules.fuelAdjustmentCap", "sla_rules.fuel_adjustment_cap"}
	peakRateKeys = []string{"slaRules.peakChargeMultiplier", "sla_rules.peakChargeMultiplier", "sla_rules.peak_charge_multiplier"}
	deadlineKeys = []string{"deadline", "delivery_deadline", "required_delivery_date"}
	etaKeys      = []string{"estimated_delivery_date", "eta", "delivery_date"}
	shipperKeys  = []string{"company_name", "shipper_name", "name", "email"}
	carrierKeys  = []string{"company_name", "carrier_name", "name"}
)

// Fallback synthesizes an agreement from context alone. It makes no external
// calls and the same context always yields the same agreement.
type Fallback struct{}

func (Fallback) Mediate(_ context.Context, nc Context, sessionID string) (Agreement, error) {
	return Synthesize(nc, sessionID), nil
}

// Synthesize is the pure form of Fallback.Mediate.
func Synthesize(nc Context, sessionID string) Agreement {
	budget, ok := lookupNumber(nc.Shipper, budgetKeys...)
	if !ok {
		budget = defaultBudget
	}
	cost, ok := lookupNumber(nc.Carrier, costKeys...)
	if !ok {
		cost = defaultCost
	}
	price := math.Floor((budget + cost + FallbackMargin) / 2)

	peak := peakFlag(nc)
	peakValue := offPeakPolicy
	if peak {
		peakValue = peakPolicy
	}

	deadline := lookupString(nc.Shipper, deadlineKeys...)
	if deadline == "" {
		deadline = lookupString(nc.Carrier, etaKeys...)
	}

	origin := orDefault(lookupString(nc.Shipper, originKeys...), unspecifiedValue)
	destination := orDefault(lookupString(nc.Shipper, destinationKeys...), unspecifiedValue)
	shipper := orDefault(lookupString(nc.Shipper, shipperKeys...), orDefault(nc.Requester, "Shipper"))
	carrier := orDefault(lookupString(nc.CarrierProfile, carrierKeys...), orDefault(nc.CarrierID, "Carrier"))

	clauses := []Clause{
		{
			ID:              "pricing",
			Title:           "Base Pricing & Rate",
			ShipperPosition: "INR " + formatAmount(budget),
			CarrierPosition: "INR " + formatAmount(cost+FallbackMargin),
			Negotiated:      "INR " + formatAmount(price),
			Reasoning:       fmt.Sprintf("Midpoint of the shipper budget and the carrier cost plus a fixed INR %d margin.", FallbackMargin),
			Status:          ClauseAgreed,
		},
		{
			ID:              "penalty",
			Title:           "SLA & Delay Penalties",
			ShipperPosition: orDefault(lookupString(nc.Shipper, penaltyKeys...), unspecifiedValue),
			CarrierPosition: "5% max cap",
			Negotiated:      penaltyPolicy,
			Reasoning:       "Standard progressive delay penalty applied.",
			Status:          ClauseAgreed,
		},
		{
			ID:              "fuel",
			Title:           "Fuel Surcharge & Volatility",
			ShipperPosition: orDefault(lookupString(nc.Shipper, fuelCapKeys...), unspecifiedValue),
			CarrierPosition: orDefault(lookupString(nc.Carrier, "fuelConstraintLevel", "fuel_constraint_level"), unspecifiedValue),
			Negotiated:      fuelPolicy,
			Reasoning:       "Fuel adjustments follow the BCO standard index.",
			Status:          ClauseAgreed,
		},
		{
			ID:              "holidays",
			Title:           "Peak Season & Holidays",
			ShipperPosition: orDefault(lookupString(nc.Shipper, peakRateKeys...), unspecifiedValue),
			CarrierPosition: "1.5x during risk events",
			Negotiated:      peakValue,
			Reasoning:       peakReasoning(peak),
			Status:          ClauseAgreed,
		},
	}

	return Agreement{
		ID:              sessionID,
		Text:            agreementText(sessionID, shipper, carrier, origin, destination, price, deadline, clauses),
		JustifiedPrice:  price,
		FixedDeadline:   deadline,
		Clauses:         clauses,
		ConfidenceScore: FallbackConfidence,
		TransparencyReport: map[string]any{
			"weather_traffic": map[string]any{
				"origin":      nc.Weather.Origin,
				"destination": nc.Weather.Destination,
			},
			"schedule_efficiency": map[string]any{"deadline": deadline},
			"cost_transparency": map[string]any{
				"shipper_budget": budget,
				"carrier_cost":   cost,
				"margin":         FallbackMargin,
				"justified":      price,
			},
			"risk_assessment":   map[string]any{"penalty": penaltyPolicy, "fuel": fuelPolicy, "peak": peakValue},
			"operational_check": map[string]any{"mode": "deterministic fallback"},
			"market_signals":    append([]string(nil), nc.News...),
		},
		Summary:        fmt.Sprintf("Fallback mediation settled %d clauses at INR %s.", len(clauses), formatAmount(price)),
		Recommendation: RecommendAccept,
		Source:         SourceFallback,
	}
}

func peakFlag(nc Context) bool {
	return lookupBool(nc.Shipper, peakKeys...) || lookupBool(nc.Carrier, peakKeys...)
}

func peakReasoning(peak bool) string {
	if peak {
		return "Peak season declared; tiered multiplier applies."
	}
	return "No peak season declared; standard rate applies."
}

func agreementText(id, shipper, carrier, origin, destination string, price float64, deadline string, clauses []Clause) string {
	var b strings.Builder
	b.WriteString("# MASTER TRANSPORTATION SERVICES AGREEMENT\n\n")
	fmt.Fprintf(&b, "Agreement ID: %s\n\n", id)
	b.WriteString("## Parties\n")
	fmt.Fprintf(&b, "- Shipper: %s\n", shipper)
	fmt.Fprintf(&b, "- Carrier: %s\n\n", carrier)
	b.WriteString("## Route\n")
	fmt.Fprintf(&b, "%s to %s\n\n", origin, destination)
	b.WriteString("## Rate\n")
	fmt.Fprintf(&b, "INR %s, all inclusive.\n\n", formatAmount(price))
	b.WriteString("## Delivery\n")
	fmt.Fprintf(&b, "Deadline: %s\n\n", orDefault(deadline, unspecifiedValue))
	b.WriteString("## Terms\n")
	for i, c := range clauses {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, c.Title, c.Negotiated)
	}
	return b.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

package negotiation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// factors is the reasoning framework the external mediator must walk through.
var factors = []string{
	"Weather conditions at origin and destination",
	"Peak-hour congestion",
	"Public and regional holidays",
	"Live traffic",
	"Route selection and distance",
	"Delay risk",
	"Carrier availability and capacity",
	"Profit-margin caps",
	"Cost transparency",
	"Anti-overcharging checks",
	"Risk-adjusted penalties",
	"Customer cost protection",
	"Operational feasibility",
	"Final trust score (0-100)",
}

const responseContract = `Respond with ONE JSON object and nothing else, using exactly these keys:
{
  "agreement_text": string,            // full Master Transportation Services Agreement (MTSA) in markdown
  "justified_price": number,
  "fixed_deadline": "YYYY-MM-DD",
  "clauses": [
    {"id": string, "title": string, "shipper_position": string, "carrier_position": string,
     "negotiated": string, "reasoning": string, "status": "agreed"}
  ],                                   // at least one clause with id "pricing"
  "confidence_score": number,          // 0-100
  "transparency_report": {             // one entry per factor category
    "weather_traffic": object, "schedule_efficiency": object, "cost_transparency": object,
    "risk_assessment": object, "operational_check": object, "trust_score": object
  },
  "summary": string,
  "recommendation": "accept" | "counter" | "reject"
}`

func systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a neutral logistics contract mediator between a shipper and a carrier, acting for the customer's business intent.\n")
	b.WriteString("Reason over every factor below before fixing price, deadline and penalties:\n")
	for i, f := range factors {
		fmt.Fprintf(&b, "%d. %s\n", i+1, f)
	}
	b.WriteString("Never invent party details that are absent from the input. Keep the carrier's margin within a fair cap and protect the customer from hidden charges.\n\n")
	b.WriteString(responseContract)
	return b.String()
}

func userPrompt(nc Context) (string, error) {
	payload, err := json.MarshalIndent(nc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("negotiation: marshal context: %w", err)
	}
	return "Mediate this shipment negotiation. Negotiation context:\n" + string(payload), nil
}

package negotiation

import (
	"encoding/json"
	"fmt"

	"negotiatex/signals"
)

// Request is what a caller supplies to start a mediation.
type Request struct {
	ShipperTerms       map[string]any
	CarrierConstraints map[string]any
	ShipmentID         string
	CarrierID          string
	RequesterEmail     string
}

// WeatherReport holds the snapshots for both ends of the route.
type WeatherReport struct {
	Origin      signals.Weather `json:"origin"`
	Destination signals.Weather `json:"destination"`
}

// Context is the fused input to a Mediator. It is built per attempt and
// never shared between sessions.
type Context struct {
	ShipmentID     string         `json:"shipment_id,omitempty"`
	CarrierID      string         `json:"carrier_id,omitempty"`
	Requester      string         `json:"requester,omitempty"`
	Shipper        map[string]any `json:"shipper_requirements"`
	Carrier        map[string]any `json:"carrier_offer"`
	CarrierProfile map[string]any `json:"carrier_profile"`
	Weather        WeatherReport  `json:"weather"`
	News           []string       `json:"news"`
}

// ClauseStatus tags where a clause sits in the offer/counter-offer protocol.
type ClauseStatus string

const (
	ClauseProposed  ClauseStatus = "proposed"
	ClauseCountered ClauseStatus = "countered"
	ClauseAgreed    ClauseStatus = "agreed"
	ClauseRejected  ClauseStatus = "rejected"
)

func (s ClauseStatus) Valid() bool {
	switch s {
	case ClauseProposed, ClauseCountered, ClauseAgreed, ClauseRejected:
		return true
	default:
		return false
	}
}

// UnmarshalJSON defaults an empty status to agreed and rejects unknown tags.
func (s *ClauseStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == "" {
		*s = ClauseAgreed
		return nil
	}
	st := ClauseStatus(raw)
	if !st.Valid() {
		return fmt.Errorf("negotiation: unknown clause status %q", raw)
	}
	*s = st
	return nil
}

// Clause is one negotiated term.
type Clause struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	ShipperPosition string       `json:"shipper_position,omitempty"`
	CarrierPosition string       `json:"carrier_position,omitempty"`
	Negotiated      string       `json:"negotiated"`
	Reasoning       string       `json:"reasoning"`
	Status          ClauseStatus `json:"status"`
}

// Source records which mediator variant produced an agreement.
type Source string

const (
	SourceMediator Source = "mediator"
	SourceFallback Source = "fallback"
)

// Recommendation values accepted by the agreements table.
const (
	RecommendAccept  = "accept"
	RecommendCounter = "counter"
	RecommendReject  = "reject"
)

// NormalizeRecommendation maps anything outside accept|counter|reject to counter.
func NormalizeRecommendation(r string) string {
	switch r {
	case RecommendAccept, RecommendCounter, RecommendReject:
		return r
	default:
		return RecommendCounter
	}
}

// Agreement is the immutable result of one mediation.
type Agreement struct {
	ID                 string         `json:"agreement_id"`
	Text               string         `json:"agreement"`
	JustifiedPrice     float64        `json:"justified_price"`
	FixedDeadline      string         `json:"fixed_deadline"`
	Clauses            []Clause       `json:"clauses"`
	ConfidenceScore    int            `json:"confidence_score"`
	TransparencyReport map[string]any `json:"transparency_report"`
	Summary            string         `json:"summary"`
	Recommendation     string         `json:"recommendation"`
	Source             Source         `json:"source"`
}

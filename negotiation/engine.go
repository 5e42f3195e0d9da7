package negotiation

import (
	"context"
	"errors"
	"time"

	"negotiatex/pkg/logger"
)

// Result is the response of a direct negotiate call.
type Result struct {
	Status             string         `json:"status"`
	AgreementID        string         `json:"agreement_id"`
	Agreement          string         `json:"agreement"`
	JustifiedPrice     float64        `json:"justified_price"`
	FixedDeadline      string         `json:"fixed_deadline"`
	Clauses            []Clause       `json:"clauses"`
	ConfidenceScore    int            `json:"confidence_score"`
	Summary            string         `json:"summary"`
	TransparencyReport map[string]any `json:"transparency_report"`
	Recommendation     string         `json:"recommendation"`
	Source             Source         `json:"source"`
	CarrierID          string         `json:"carrier_id"`
	ShipmentID         string         `json:"shipment_id"`
	Weather            WeatherReport  `json:"weather"`
}

// Engine runs aggregation followed by mediation. The external mediator is
// optional; the fallback is always available.
type Engine struct {
	aggregator *Aggregator
	external   Mediator
	fallback   Mediator
	timeout    time.Duration
	now        func() time.Time
}

// NewEngine builds an engine. A nil external mediator means fallback only.
func NewEngine(aggregator *Aggregator, external Mediator, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if m, ok := external.(*ExternalMediator); ok && m == nil {
		external = nil
	}
	return &Engine{
		aggregator: aggregator,
		external:   external,
		fallback:   Fallback{},
		timeout:    timeout,
		now:        time.Now,
	}
}

// WithClock overrides the clock used for agreement ids.
func (e *Engine) WithClock(clock func() time.Time) {
	if clock != nil {
		e.now = clock
	}
}

// Negotiate is the direct request/response path. It always yields an agreement.
func (e *Engine) Negotiate(ctx context.Context, req Request) Result {
	identity := req.RequesterEmail
	if identity == "" {
		identity = req.ShipmentID + "/" + req.CarrierID
	}
	ag, nc := e.Mediate(ctx, req, NewAgreementID(identity, e.now()))

	return Result{
		Status:             "success",
		AgreementID:        ag.ID,
		Agreement:          ag.Text,
		JustifiedPrice:     ag.JustifiedPrice,
		FixedDeadline:      ag.FixedDeadline,
		Clauses:            ag.Clauses,
		ConfidenceScore:    ag.ConfidenceScore,
		Summary:            ag.Summary,
		TransparencyReport: ag.TransparencyReport,
		Recommendation:     ag.Recommendation,
		Source:             ag.Source,
		CarrierID:          req.CarrierID,
		ShipmentID:         req.ShipmentID,
		Weather:            nc.Weather,
	}
}

// Mediate aggregates context and produces an agreement with the given id.
// Once started it is not cancelled by ctx; the mediator timeout still applies.
func (e *Engine) Mediate(ctx context.Context, req Request, agreementID string) (Agreement, Context) {
	ctx = context.WithoutCancel(ctx)

	var nc Context
	if e.aggregator != nil {
		nc = e.aggregator.Build(ctx, req)
	} else {
		nc = Context{
			ShipmentID: req.ShipmentID,
			CarrierID:  req.CarrierID,
			Requester:  req.RequesterEmail,
			Shipper:    merge(req.ShipperTerms, nil),
			Carrier:    merge(req.CarrierConstraints, nil),
		}
	}

	if e.external != nil {
		mctx, cancel := context.WithTimeout(ctx, e.timeout)
		ag, err := e.external.Mediate(mctx, nc, agreementID)
		cancel()
		if err == nil {
			return ag, nc
		}
		level := logger.Warn
		if errors.Is(err, ErrMediatorParse) {
			level = logger.Error
		}
		level(ctx, "external mediator failed, using fallback", "component", "mediator", "error", err)
	}

	ag, _ := e.fallback.Mediate(ctx, nc, agreementID)
	return ag, nc
}

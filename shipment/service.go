package shipment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"negotiatex/notify"
	"negotiatex/pkg/logger"
)

const (
	TopicCreated           = "shipment.created"
	TopicResponseSubmitted = "shipment.response_submitted"
	TopicMatched           = "shipment.matched"

	// Warehouse is where customer orders ship from.
	Warehouse = "NovaMart Central Warehouse, Bangalore"
)

var (
	ErrInvalidRequest = errors.New("shipment: invalid request")
	ErrNotOpen        = errors.New("shipment: shipment is no longer pending")
)

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Notifier interface {
	Dispatch(ctx context.Context, n notify.Notification) notify.Ack
}

type Service struct {
	pool        TxBeginner
	repo        Repository
	outbox      OutboxWriter
	notifier    Notifier
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, outbox OutboxWriter, notifier Notifier) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		outbox:      outbox,
		notifier:    notifier,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Create(ctx context.Context, params CreateParams) (Request, error) {
	source := strings.TrimSpace(params.Source)
	destination := strings.TrimSpace(params.Destination)
	if source == "" || destination == "" {
		return Request{}, fmt.Errorf("%w: source and destination required", ErrInvalidRequest)
	}
	if params.MinBudget < 0 || params.MaxBudget < params.MinBudget {
		return Request{}, fmt.Errorf("%w: invalid budget range", ErrInvalidRequest)
	}

	priority := params.Priority
	if priority == "" {
		priority = "standard"
	}
	conditions := params.SpecialConditions
	if conditions == nil {
		conditions = []string{}
	}
	sla := params.SLARules
	if sla == nil {
		sla = map[string]any{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("shipment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, Request{
		ID:                s.idGenerator(),
		ShipperID:         params.ShipperID,
		ProductName:       params.ProductName,
		Source:            source,
		Destination:       destination,
		MinBudget:         params.MinBudget,
		MaxBudget:         params.MaxBudget,
		Deadline:          params.Deadline,
		Priority:          priority,
		SpecialConditions: conditions,
		SLARules:          sla,
		Status:            StatusPending,
	})
	if err != nil {
		return Request{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"shipment_id": created.ID,
			"source":      created.Source,
			"destination": created.Destination,
			"status":      created.Status,
		}
		if err := s.outbox.Enqueue(ctx, tx, TopicCreated, payload); err != nil {
			return Request{}, fmt.Errorf("shipment: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("shipment: commit tx: %w", err)
	}

	from, to := cityOf(created.Source), cityOf(created.Destination)
	s.notify(ctx, notify.RoleCarrier, fmt.Sprintf("NEW SHIPMENT: %s to %s. Budget: $%s-$%s",
		from, to, money(created.MinBudget), money(created.MaxBudget)))
	s.notify(ctx, notify.RoleShipper, fmt.Sprintf("Broadcast sent to carriers for shipment from %s.", from))

	return created, nil
}

// PlaceOrder turns a customer order into a shipment request from the
// central warehouse. Shipping budget is estimated at 10 to 20 percent of the
// order value.
func (s *Service) PlaceOrder(ctx context.Context, params OrderParams) (Request, error) {
	if params.CustomerID == "" || strings.TrimSpace(params.Address) == "" || len(params.Items) == 0 {
		return Request{}, fmt.Errorf("%w: missing order details", ErrInvalidRequest)
	}

	express := strings.EqualFold(params.Priority, "express")
	days, priority := 5, "Normal"
	delayPenalty, maxDelay := 5, 72
	if express {
		days, priority = 2, "Urgent"
		delayPenalty, maxDelay = 20, 24
	}

	now := s.now().UTC()
	deadline := time.Date(now.Year(), now.Month(), now.Day()+days, 0, 0, 0, 0, time.UTC)

	items := make([]string, 0, len(params.Items))
	for _, item := range params.Items {
		items = append(items, item.Name)
	}

	return s.Create(ctx, CreateParams{
		ShipperID:         params.CustomerID,
		ProductName:       fmt.Sprintf("B2C Order #%06d - Customer: %s", now.UnixMilli()%1000000, params.CustomerName),
		Source:            Warehouse,
		Destination:       params.Address,
		MinBudget:         params.Total * 0.1,
		MaxBudget:         params.Total * 0.2,
		Deadline:          &deadline,
		Priority:          priority,
		SpecialConditions: items,
		SLARules: map[string]any{
			"delayPenalty":      delayPenalty,
			"maxDelayTolerance": maxDelay,
		},
	})
}

func (s *Service) List(ctx context.Context, filters Filters) (ListResult, error) {
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// Respond records a carrier's quote for a pending shipment.
func (s *Service) Respond(ctx context.Context, params RespondParams) (Response, error) {
	if params.ShipmentID == "" || params.CarrierID == "" {
		return Response{}, fmt.Errorf("%w: shipment and carrier required", ErrInvalidRequest)
	}
	if params.ProposedPrice <= 0 {
		return Response{}, fmt.Errorf("%w: proposed price must be positive", ErrInvalidRequest)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("shipment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, params.ShipmentID)
	if err != nil {
		return Response{}, err
	}
	if req.Status != StatusPending {
		return Response{}, ErrNotOpen
	}

	resp, err := s.repo.UpsertResponse(ctx, tx, Response{
		ShipmentID:        params.ShipmentID,
		CarrierID:         params.CarrierID,
		ProposedPrice:     params.ProposedPrice,
		EstimatedDelivery: params.EstimatedDelivery,
		Notes:             params.Notes,
	})
	if err != nil {
		return Response{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"shipment_id":    resp.ShipmentID,
			"carrier_id":     resp.CarrierID,
			"proposed_price": resp.ProposedPrice,
		}
		if err := s.outbox.Enqueue(ctx, tx, TopicResponseSubmitted, payload); err != nil {
			return Response{}, fmt.Errorf("shipment: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Response{}, fmt.Errorf("shipment: commit tx: %w", err)
	}

	s.notify(ctx, notify.RoleShipper, fmt.Sprintf("Carrier quoted $%s for shipment from %s to %s.",
		money(resp.ProposedPrice), cityOf(req.Source), cityOf(req.Destination)))
	return resp, nil
}

// Accept runs the acceptance cascade: the carrier's response is accepted,
// the shipment is matched, the shipper is told and other pending shipments
// to the same destination are reported as batching opportunities.
func (s *Service) Accept(ctx context.Context, params AcceptParams) (AcceptResult, error) {
	if params.ShipmentID == "" || params.CarrierID == "" {
		return AcceptResult{}, fmt.Errorf("%w: shipment and carrier required", ErrInvalidRequest)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("shipment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, params.ShipmentID)
	if err != nil {
		return AcceptResult{}, err
	}
	if req.Status != StatusPending {
		return AcceptResult{}, ErrNotOpen
	}

	resp, err := s.repo.AcceptResponse(ctx, tx, params.ShipmentID, params.CarrierID)
	if err != nil {
		return AcceptResult{}, err
	}

	matched, err := s.repo.UpdateStatus(ctx, tx, params.ShipmentID, StatusMatched)
	if err != nil {
		return AcceptResult{}, err
	}

	opportunities, err := s.repo.PendingTo(ctx, tx, matched.Destination, matched.ID)
	if err != nil {
		return AcceptResult{}, err
	}

	trackingID := trackingID(s.idGenerator())

	if s.outbox != nil {
		payload := map[string]any{
			"shipment_id": matched.ID,
			"carrier_id":  resp.CarrierID,
			"tracking_id": trackingID,
		}
		if err := s.outbox.Enqueue(ctx, tx, TopicMatched, payload); err != nil {
			return AcceptResult{}, fmt.Errorf("shipment: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return AcceptResult{}, fmt.Errorf("shipment: commit tx: %w", err)
	}

	s.notify(ctx, notify.RoleShipper, fmt.Sprintf(
		"Carrier has ACCEPTED the fair agreement for route %s to %s. Tracking initialized.",
		matched.Source, matched.Destination))

	result := AcceptResult{
		Shipment:      matched,
		Response:      resp,
		TrackingID:    trackingID,
		Opportunities: opportunities,
	}
	if len(opportunities) > 0 {
		result.BatchingAlert = fmt.Sprintf(
			"We found %d other pending shipments to %s. You will be notified if you are matched for grouped delivery.",
			len(opportunities), matched.Destination)
	}
	return result, nil
}

func (s *Service) notify(ctx context.Context, role, message string) {
	if s.notifier == nil {
		return
	}
	ack := s.notifier.Dispatch(ctx, notify.Notification{
		Role:      role,
		Message:   message,
		Status:    notify.StatusUnread,
		CreatedAt: s.now().UTC(),
	})
	if !ack.Accepted {
		logger.Warn(ctx, "shipment notification dropped", "component", "shipment", "role", role)
	}
}

func trackingID(id string) string {
	clean := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(clean) > 7 {
		clean = clean[:7]
	}
	return "TRK-" + clean
}

func cityOf(location string) string {
	city, _, _ := strings.Cut(location, ",")
	return strings.TrimSpace(city)
}

func money(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

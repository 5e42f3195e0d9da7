package shipment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"negotiatex/notify"
)

var ctx = context.Background()

func TestService_CreateWritesOutboxAndNotifies(t *testing.T) {
	pool := &fakePool{}
	repo := newFakeRepository()
	outbox := &fakeOutbox{}
	notifier := &recordingNotifier{}
	svc := NewService(pool, repo, outbox, notifier).WithIDGenerator(func() string { return "ship-1" })

	created, err := svc.Create(ctx, CreateParams{
		ShipperID:   "shipper-1",
		Source:      "Chennai, TN",
		Destination: "Bangalore, KA",
		MinBudget:   10000,
		MaxBudget:   25000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "ship-1" || created.Status != StatusPending || created.Priority != "standard" {
		t.Fatalf("unexpected shipment %+v", created)
	}
	if !pool.tx.committed {
		t.Fatal("expected commit")
	}
	if len(outbox.topics) != 1 || outbox.topics[0] != TopicCreated {
		t.Fatalf("expected created outbox message, got %v", outbox.topics)
	}

	sent := notifier.all()
	if len(sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(sent))
	}
	if sent[0].Role != notify.RoleCarrier || sent[0].Message != "NEW SHIPMENT: Chennai to Bangalore. Budget: $10000-$25000" {
		t.Fatalf("unexpected carrier notification %+v", sent[0])
	}
	if sent[1].Role != notify.RoleShipper {
		t.Fatalf("expected shipper notification, got %+v", sent[1])
	}
}

func TestService_CreateValidation(t *testing.T) {
	svc := NewService(&fakePool{}, newFakeRepository(), nil, nil)

	cases := []CreateParams{
		{Source: "", Destination: "B"},
		{Source: "A", Destination: " "},
		{Source: "A", Destination: "B", MinBudget: 500, MaxBudget: 100},
		{Source: "A", Destination: "B", MinBudget: -1},
	}
	for _, params := range cases {
		if _, err := svc.Create(ctx, params); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for %+v, got %v", params, err)
		}
	}
}

func TestService_PlaceOrder(t *testing.T) {
	repo := newFakeRepository()
	now := time.Date(2026, 3, 30, 15, 0, 0, 0, time.UTC)
	svc := NewService(&fakePool{}, repo, nil, nil).
		WithClock(func() time.Time { return now }).
		WithIDGenerator(func() string { return "order-1" })

	order, err := svc.PlaceOrder(ctx, OrderParams{
		CustomerID:   "cust-1",
		CustomerName: "Asha",
		Address:      "12 MG Road, Bangalore",
		Items:        []OrderItem{{Name: "Laptop"}, {Name: "Mouse"}},
		Total:        1000,
		Priority:     "express",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.Source != Warehouse {
		t.Fatalf("expected warehouse source, got %q", order.Source)
	}
	if order.MinBudget != 100 || order.MaxBudget != 200 {
		t.Fatalf("expected budget 100-200, got %v-%v", order.MinBudget, order.MaxBudget)
	}
	if order.Priority != "Urgent" {
		t.Fatalf("expected Urgent priority, got %q", order.Priority)
	}
	want := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if order.Deadline == nil || !order.Deadline.Equal(want) {
		t.Fatalf("expected deadline %v, got %v", want, order.Deadline)
	}
	if len(order.SpecialConditions) != 2 || order.SpecialConditions[0] != "Laptop" {
		t.Fatalf("expected item names as conditions, got %v", order.SpecialConditions)
	}
	if order.SLARules["delayPenalty"] != 20 || order.SLARules["maxDelayTolerance"] != 24 {
		t.Fatalf("unexpected sla rules %v", order.SLARules)
	}
	if !strings.HasSuffix(order.ProductName, "Customer: Asha") {
		t.Fatalf("unexpected product name %q", order.ProductName)
	}

	if _, err := svc.PlaceOrder(ctx, OrderParams{CustomerID: "cust-1", Address: "x"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty order, got %v", err)
	}
}

func TestService_RespondUpserts(t *testing.T) {
	repo := newFakeRepository()
	repo.requests["s1"] = Request{ID: "s1", Source: "Chennai", Destination: "Madurai", Status: StatusPending}
	outbox := &fakeOutbox{}
	svc := NewService(&fakePool{}, repo, outbox, &recordingNotifier{})

	if _, err := svc.Respond(ctx, RespondParams{ShipmentID: "s1", CarrierID: "c1", ProposedPrice: 9000}); err != nil {
		t.Fatalf("first respond: %v", err)
	}
	resp, err := svc.Respond(ctx, RespondParams{ShipmentID: "s1", CarrierID: "c1", ProposedPrice: 8500})
	if err != nil {
		t.Fatalf("second respond: %v", err)
	}
	if resp.ProposedPrice != 8500 || len(repo.responses) != 1 {
		t.Fatalf("expected single upserted response at 8500, got %+v (%d rows)", resp, len(repo.responses))
	}
	if len(outbox.topics) != 2 || outbox.topics[1] != TopicResponseSubmitted {
		t.Fatalf("unexpected outbox topics %v", outbox.topics)
	}

	if _, err := svc.Respond(ctx, RespondParams{ShipmentID: "s1", CarrierID: "c1"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for zero price, got %v", err)
	}
	if _, err := svc.Respond(ctx, RespondParams{ShipmentID: "missing", CarrierID: "c1", ProposedPrice: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_AcceptCascade(t *testing.T) {
	repo := newFakeRepository()
	repo.requests["s1"] = Request{ID: "s1", Source: "Chennai", Destination: "Bangalore", Status: StatusPending}
	repo.requests["s2"] = Request{ID: "s2", Source: "Madurai", Destination: "Bangalore", Status: StatusPending}
	repo.requests["s3"] = Request{ID: "s3", Source: "Trichy", Destination: "Bangalore", Status: StatusMatched}
	repo.requests["s4"] = Request{ID: "s4", Source: "Trichy", Destination: "Mumbai", Status: StatusPending}
	repo.responses[responseKey("s1", "c1")] = Response{ShipmentID: "s1", CarrierID: "c1", Status: ResponsePending}

	outbox := &fakeOutbox{}
	notifier := &recordingNotifier{}
	svc := NewService(&fakePool{}, repo, outbox, notifier).
		WithIDGenerator(func() string { return "abcdef12-3456-7890-abcd-ef1234567890" })

	result, err := svc.Accept(ctx, AcceptParams{ShipmentID: "s1", CarrierID: "c1"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if result.Shipment.Status != StatusMatched || repo.requests["s1"].Status != StatusMatched {
		t.Fatalf("expected shipment matched, got %s", result.Shipment.Status)
	}
	if result.Response.Status != ResponseAccepted {
		t.Fatalf("expected response accepted, got %s", result.Response.Status)
	}
	if result.TrackingID != "TRK-ABCDEF1" {
		t.Fatalf("unexpected tracking id %q", result.TrackingID)
	}
	if len(result.Opportunities) != 1 || result.Opportunities[0].ID != "s2" {
		t.Fatalf("expected s2 as the only batching opportunity, got %+v", result.Opportunities)
	}
	if !strings.HasPrefix(result.BatchingAlert, "We found 1 other pending shipments to Bangalore") {
		t.Fatalf("unexpected batching alert %q", result.BatchingAlert)
	}
	if len(outbox.topics) != 1 || outbox.topics[0] != TopicMatched {
		t.Fatalf("unexpected outbox topics %v", outbox.topics)
	}
	sent := notifier.all()
	if len(sent) != 1 || sent[0].Role != notify.RoleShipper || !strings.Contains(sent[0].Message, "ACCEPTED") {
		t.Fatalf("expected shipper acceptance notification, got %+v", sent)
	}

	if _, err := svc.Accept(ctx, AcceptParams{ShipmentID: "s1", CarrierID: "c1"}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen on second accept, got %v", err)
	}
}

func TestService_AcceptWithoutResponseRollsBack(t *testing.T) {
	repo := newFakeRepository()
	repo.requests["s1"] = Request{ID: "s1", Destination: "Bangalore", Status: StatusPending}
	pool := &fakePool{}
	svc := NewService(pool, repo, &fakeOutbox{}, nil)

	if _, err := svc.Accept(ctx, AcceptParams{ShipmentID: "s1", CarrierID: "nobody"}); !errors.Is(err, ErrResponseNotFound) {
		t.Fatalf("expected ErrResponseNotFound, got %v", err)
	}
	if pool.tx.committed || !pool.tx.rolled {
		t.Fatal("expected rollback without commit")
	}
}

func TestService_BeginFailure(t *testing.T) {
	boom := errors.New("db down")
	svc := NewService(&fakePool{err: boom}, newFakeRepository(), nil, nil)
	if _, err := svc.Create(ctx, CreateParams{Source: "A", Destination: "B"}); !errors.Is(err, boom) {
		t.Fatalf("expected begin error, got %v", err)
	}
}

func TestTrackingIDShortInput(t *testing.T) {
	if got := trackingID("ab"); got != "TRK-AB" {
		t.Fatalf("unexpected tracking id %q", got)
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Dispatch(_ context.Context, n notify.Notification) notify.Ack {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return notify.Ack{Role: n.Role, Message: n.Message, Accepted: true}
}

func (r *recordingNotifier) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.sent...)
}

type fakeOutbox struct {
	topics []string
}

func (f *fakeOutbox) Enqueue(_ context.Context, _ pgx.Tx, topic string, _ map[string]any) error {
	f.topics = append(f.topics, topic)
	return nil
}

func responseKey(shipmentID, carrierID string) string { return shipmentID + "/" + carrierID }

type fakeRepository struct {
	requests  map[string]Request
	responses map[string]Response
	order     []string
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		requests:  make(map[string]Request),
		responses: make(map[string]Response),
	}
}

func (f *fakeRepository) Create(_ context.Context, _ pgx.Tx, req Request) (Request, error) {
	f.requests[req.ID] = req
	f.order = append(f.order, req.ID)
	return req, nil
}

func (f *fakeRepository) List(_ context.Context, filters Filters) ([]Request, int, error) {
	out := []Request{}
	for _, id := range f.order {
		if filters.ShipperID == "" || f.requests[id].ShipperID == filters.ShipperID {
			out = append(out, f.requests[id])
		}
	}
	return out, len(out), nil
}

func (f *fakeRepository) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (Request, error) {
	req, ok := f.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (f *fakeRepository) UpdateStatus(_ context.Context, _ pgx.Tx, id string, status Status) (Request, error) {
	req, ok := f.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	req.Status = status
	f.requests[id] = req
	return req, nil
}

func (f *fakeRepository) UpsertResponse(_ context.Context, _ pgx.Tx, resp Response) (Response, error) {
	resp.Status = ResponsePending
	f.responses[responseKey(resp.ShipmentID, resp.CarrierID)] = resp
	return resp, nil
}

func (f *fakeRepository) AcceptResponse(_ context.Context, _ pgx.Tx, shipmentID, carrierID string) (Response, error) {
	key := responseKey(shipmentID, carrierID)
	resp, ok := f.responses[key]
	if !ok {
		return Response{}, ErrResponseNotFound
	}
	resp.Status = ResponseAccepted
	f.responses[key] = resp
	return resp, nil
}

func (f *fakeRepository) PendingTo(_ context.Context, _ pgx.Tx, destination, excludeID string) ([]Request, error) {
	out := []Request{}
	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		req, ok := f.requests[id]
		if ok && id != excludeID && req.Destination == destination && req.Status == StatusPending {
			out = append(out, req)
		}
	}
	return out, nil
}

type fakePool struct {
	tx  *fakeTx
	err error
}

func (f *fakePool) Begin(context.Context) (pgx.Tx, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolled = true
	}
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

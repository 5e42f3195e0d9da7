package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"negotiatex/agreement"
	"negotiatex/negotiation"
)

type countingNegotiator struct {
	calls atomic.Int32
	delay time.Duration
}

func (n *countingNegotiator) Mediate(ctx context.Context, req negotiation.Request, agreementID string) (negotiation.Agreement, negotiation.Context) {
	n.calls.Add(1)
	if n.delay > 0 {
		time.Sleep(n.delay)
	}
	nc := negotiation.Context{Shipper: req.ShipperTerms, Carrier: req.CarrierConstraints}
	return negotiation.Synthesize(nc, agreementID), nc
}

type fakeCommitter struct {
	mu   sync.Mutex
	reqs []agreement.CommitRequest
	err  error
}

func (f *fakeCommitter) Commit(_ context.Context, req agreement.CommitRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.err
}

type fakeStatuses struct {
	mu     sync.Mutex
	params []agreement.TransitionParams
}

func (f *fakeStatuses) Transition(_ context.Context, p agreement.TransitionParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, p)
	return nil
}

func newTestService(n Negotiator) *Service {
	svc := NewService(n, nil)
	var seq atomic.Int64
	svc.WithIDGenerator(func() string { return fmt.Sprintf("session-%d", seq.Add(1)) })
	svc.WithClock(func() time.Time { return time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC) })
	return svc
}

func TestService_FallbackScenario(t *testing.T) {
	svc := newTestService(nil)
	snap := svc.Create(ctx, "customer@example.com")
	if snap.State != StatePendingShipper || snap.ID != "session-1" {
		t.Fatalf("unexpected new session %+v", snap)
	}

	if _, err := svc.SubmitIntent(ctx, snap.ID, map[string]any{"goods": "electronics"}); err != nil {
		t.Fatalf("intent: %v", err)
	}
	if _, err := svc.SubmitRequirements(ctx, snap.ID, map[string]any{"budget": "10000–25000"}); err != nil {
		t.Fatalf("requirements: %v", err)
	}
	got, err := svc.SubmitFeasibility(ctx, snap.ID, map[string]any{"cost": 8000})
	if err != nil {
		t.Fatalf("feasibility: %v", err)
	}

	if got.State != StateAwaitingApprovals || got.Agreement == nil {
		t.Fatalf("expected agreement awaiting approvals, got %+v", got)
	}
	if got.Agreement.JustifiedPrice != 16575 || got.Agreement.ConfidenceScore != 85 {
		t.Fatalf("unexpected fallback agreement price=%v confidence=%d", got.Agreement.JustifiedPrice, got.Agreement.ConfidenceScore)
	}
	if got.Agreement.Source != negotiation.SourceFallback {
		t.Fatalf("expected fallback source, got %s", got.Agreement.Source)
	}
}

func TestService_OutOfOrderLeavesState(t *testing.T) {
	svc := newTestService(nil)
	snap := svc.Create(ctx, "")

	if _, err := svc.SubmitRequirements(ctx, snap.ID, map[string]any{}); !errors.Is(err, ErrOutOfOrderSubmission) {
		t.Fatalf("expected ErrOutOfOrderSubmission, got %v", err)
	}
	after, _ := svc.Snapshot(snap.ID)
	if after.State != StatePendingShipper {
		t.Fatalf("state changed to %s", after.State)
	}
}

func TestService_UnknownSession(t *testing.T) {
	svc := newTestService(nil)
	if _, err := svc.SubmitIntent(ctx, "nope", nil); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.Visible("nope", "customer"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestService_PersistsCommitAndStatuses(t *testing.T) {
	committer := &fakeCommitter{}
	statuses := &fakeStatuses{}
	svc := newTestService(nil)
	svc.WithPersistence(committer, statuses)

	id := svc.Create(ctx, "c@example.com").ID
	svc.SubmitIntent(ctx, id, map[string]any{"shipment_id": "ship-7"})
	svc.SubmitRequirements(ctx, id, map[string]any{})
	if _, err := svc.SubmitFeasibility(ctx, id, map[string]any{"carrier_id": "carrier-3"}); err != nil {
		t.Fatalf("feasibility: %v", err)
	}

	if len(committer.reqs) != 1 {
		t.Fatalf("expected one commit, got %d", len(committer.reqs))
	}
	commit := committer.reqs[0]
	if commit.SessionID != id || commit.ShipmentID != "ship-7" || commit.CarrierID != "carrier-3" || commit.Agreement.ID == "" {
		t.Fatalf("unexpected commit %+v", commit)
	}

	svc.Approve(ctx, id, "customer")
	svc.Approve(ctx, id, "customer")
	svc.Approve(ctx, id, "shipper")
	svc.Approve(ctx, id, "carrier")

	if len(statuses.params) != 3 {
		t.Fatalf("expected one status event per first approval, got %d", len(statuses.params))
	}
	last := statuses.params[2]
	if last.NextStatus != agreement.StatusCompleted || last.ActorRole != "carrier" {
		t.Fatalf("unexpected final transition %+v", last)
	}
	if statuses.params[0].Event != agreement.EventApprovalRecorded {
		t.Fatalf("unexpected approval event %+v", statuses.params[0])
	}
}

func TestService_CommitFailureDoesNotBlockWorkflow(t *testing.T) {
	svc := newTestService(nil)
	svc.WithPersistence(&fakeCommitter{err: errors.New("db down")}, nil)

	id := svc.Create(ctx, "").ID
	svc.SubmitIntent(ctx, id, nil)
	svc.SubmitRequirements(ctx, id, nil)
	snap, err := svc.SubmitFeasibility(ctx, id, nil)
	if err != nil {
		t.Fatalf("feasibility: %v", err)
	}
	if snap.State != StateAwaitingApprovals {
		t.Fatalf("unexpected state %s", snap.State)
	}
}

func TestService_RejectPersists(t *testing.T) {
	statuses := &fakeStatuses{}
	svc := newTestService(nil)
	svc.WithPersistence(nil, statuses)

	id := svc.Create(ctx, "").ID
	svc.SubmitIntent(ctx, id, nil)
	svc.SubmitRequirements(ctx, id, nil)
	svc.SubmitFeasibility(ctx, id, nil)

	res, err := svc.Reject(ctx, id, "shipper", "deadline too tight")
	if err != nil || res.State != StateRejected {
		t.Fatalf("reject: %+v %v", res, err)
	}
	svc.Reject(ctx, id, "carrier", "")

	if len(statuses.params) != 1 || statuses.params[0].NextStatus != agreement.StatusRejected {
		t.Fatalf("unexpected transitions %+v", statuses.params)
	}
}

func TestService_ConcurrentFeasibilityMediatesOnce(t *testing.T) {
	n := &countingNegotiator{delay: 20 * time.Millisecond}
	svc := newTestService(n)

	id := svc.Create(ctx, "").ID
	svc.SubmitIntent(ctx, id, nil)
	svc.SubmitRequirements(ctx, id, nil)

	var g errgroup.Group
	var wins atomic.Int32
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			if _, err := svc.SubmitFeasibility(ctx, id, map[string]any{}); err == nil {
				wins.Add(1)
			} else if !errors.Is(err, ErrOutOfOrderSubmission) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if wins.Load() != 1 || n.calls.Load() != 1 {
		t.Fatalf("expected one mediation, got wins=%d calls=%d", wins.Load(), n.calls.Load())
	}
}

func TestService_SessionsAreIndependent(t *testing.T) {
	n := &countingNegotiator{delay: 5 * time.Millisecond}
	svc := NewService(n, nil)

	const sessions = 50
	var g errgroup.Group
	for i := 0; i < sessions; i++ {
		g.Go(func() error {
			id := svc.Create(ctx, "").ID
			if _, err := svc.SubmitIntent(ctx, id, map[string]any{}); err != nil {
				return err
			}
			if _, err := svc.SubmitRequirements(ctx, id, map[string]any{}); err != nil {
				return err
			}
			if _, err := svc.SubmitFeasibility(ctx, id, map[string]any{}); err != nil {
				return err
			}
			for _, r := range Parties {
				if _, err := svc.Approve(ctx, id, string(r)); err != nil {
					return err
				}
			}
			snap, err := svc.Snapshot(id)
			if err != nil {
				return err
			}
			if snap.State != StateCompleted {
				return fmt.Errorf("session %s ended in %s", id, snap.State)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if n.calls.Load() != sessions {
		t.Fatalf("expected %d mediations, got %d", sessions, n.calls.Load())
	}
}

func TestService_AuthorizeBindsFirstPrincipal(t *testing.T) {
	svc := newTestService(nil)
	id := svc.Create(ctx, "").ID

	if err := svc.Authorize(id, "shipper", "user-a"); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := svc.Authorize(id, "shipper", "user-a"); err != nil {
		t.Fatalf("same principal rebind: %v", err)
	}
	if err := svc.Authorize(id, "shipper", "user-b"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if err := svc.Authorize(id, "carrier", "user-b"); err != nil {
		t.Fatalf("other role bind: %v", err)
	}
	if err := svc.Authorize(id, "shipper", ""); err != nil {
		t.Fatalf("empty principal: %v", err)
	}
	if err := svc.Authorize(id, "operator", "user-a"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if err := svc.Authorize("nope", "shipper", "user-a"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestService_PruneFinished(t *testing.T) {
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestService(nil)
	svc.WithClock(func() time.Time { return now })

	open := svc.Create(ctx, "").ID
	rejected := svc.Create(ctx, "").ID
	svc.SubmitIntent(ctx, rejected, nil)
	svc.SubmitRequirements(ctx, rejected, nil)
	svc.SubmitFeasibility(ctx, rejected, nil)
	if _, err := svc.Reject(ctx, rejected, "carrier", "no trucks"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	if n := svc.PruneFinished(now.Add(-time.Minute)); n != 0 {
		t.Fatalf("expected recent session kept, pruned %d", n)
	}

	now = now.Add(2 * time.Hour)
	if n := svc.PruneFinished(now.Add(-time.Hour)); n != 1 {
		t.Fatalf("expected one pruned session, got %d", n)
	}
	if _, err := svc.Snapshot(rejected); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected pruned session gone, got %v", err)
	}
	if _, err := svc.Snapshot(open); err != nil {
		t.Fatalf("open session must survive pruning: %v", err)
	}
}

func TestService_RunJanitorStopsWithContext(t *testing.T) {
	start := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	var now atomic.Value
	now.Store(start)
	svc := newTestService(nil)
	svc.WithClock(func() time.Time { return now.Load().(time.Time) })

	id := svc.Create(ctx, "").ID
	svc.SubmitIntent(ctx, id, nil)
	svc.SubmitRequirements(ctx, id, nil)
	svc.SubmitFeasibility(ctx, id, nil)
	svc.Reject(ctx, id, "customer", "")
	now.Store(start.Add(2 * time.Hour))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		svc.RunJanitor(runCtx, 5*time.Millisecond, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for {
		if _, err := svc.Snapshot(id); errors.Is(err, ErrSessionNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("janitor did not prune the rejected session")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}

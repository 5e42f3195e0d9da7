package actors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"negotiatex/agreement"
	"negotiatex/negotiation"
	"negotiatex/shipment"
	"negotiatex/telemetry"
	"negotiatex/workflow"
)

var parties = []string{"customer", "shipper", "carrier"}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(base, jitter int) {
	time.Sleep(time.Duration(base+rand.Intn(jitter)) * time.Millisecond)
}

// tolerated reports errors a healthy system may return under contention or
// while chaos is killing backends.
func tolerated(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for _, sentinel := range []error{
		workflow.ErrOutOfOrderSubmission,
		workflow.ErrAgreementCommitted,
		workflow.ErrSessionClosed,
		shipment.ErrNotOpen,
		telemetry.ErrPersistenceUnavailable,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "57P") || strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		strings.Contains(err.Error(), "conn closed")
}

// SessionDriver runs whole sessions through the workflow service. Each
// session races three feasibility submissions, then either races the three
// approvals (plus a duplicate) or a rejection against them.
func SessionDriver(ctx context.Context, svc *workflow.Service, shipmentID, carrierID string, finished *atomic.Int64, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		id := svc.Create(ctx, "stress@example.com").ID

		if _, err := svc.SubmitIntent(ctx, id, map[string]any{"goods": "electronics", "shipment_id": shipmentID}); err != nil {
			return fmt.Errorf("intent: %w", err)
		}
		if _, err := svc.SubmitRequirements(ctx, id, map[string]any{"budget": "10000-25000", "source": "Chennai", "destination": "Bangalore"}); err != nil {
			return fmt.Errorf("requirements: %w", err)
		}

		var committed atomic.Int32
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < 3; i++ {
			i := i
			g.Go(func() error {
				_, err := svc.SubmitFeasibility(gctx, id, map[string]any{"cost": 8000 + i, "carrier_id": carrierID})
				if err == nil {
					committed.Add(1)
					return nil
				}
				if tolerated(err) {
					return nil
				}
				return fmt.Errorf("feasibility: %w", err)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if n := committed.Load(); n != 1 {
			return fmt.Errorf("session %s: %d feasibility submissions finalized", id, n)
		}

		reject := rand.Intn(5) == 0
		g, gctx = errgroup.WithContext(ctx)
		for _, role := range append(parties, "customer") {
			role := role
			g.Go(func() error {
				_, err := svc.Approve(gctx, id, role)
				if tolerated(err) {
					return nil
				}
				return fmt.Errorf("approve %s: %w", role, err)
			})
		}
		if reject {
			g.Go(func() error {
				_, err := svc.Reject(gctx, id, parties[rand.Intn(len(parties))], "stress")
				if tolerated(err) {
					return nil
				}
				return fmt.Errorf("reject: %w", err)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		snap, err := svc.Snapshot(id)
		if err != nil {
			return err
		}
		if !snap.State.Terminal() {
			return fmt.Errorf("session %s left in %s", id, snap.State)
		}
		finished.Add(1)
		pause(5, 20)
	}
	return nil
}

// CommitReplayer re-commits agreements for sessions that were already
// committed. Every replay must be absorbed by the idempotency key.
func CommitReplayer(ctx context.Context, committer *agreement.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		var sessionID string
		err := pool.QueryRow(ctx, `SELECT session_id FROM ai_negotiations ORDER BY random() LIMIT 1`).Scan(&sessionID)
		if err != nil {
			pause(50, 50)
			continue
		}

		nc := negotiation.Context{Shipper: map[string]any{"budget": "1-2"}}
		ag := negotiation.Synthesize(nc, negotiation.NewAgreementID(sessionID+"/replay", time.Now()))
		err = committer.Commit(ctx, agreement.CommitRequest{SessionID: sessionID, ActorRole: "carrier", Agreement: ag})
		if !tolerated(err) {
			return fmt.Errorf("replay commit: %w", err)
		}
		pause(20, 40)
	}
	return nil
}

// AcceptRacer creates a shipment, has every carrier respond and then races
// all of them to accept. At most one acceptance may win.
func AcceptRacer(ctx context.Context, svc *shipment.Service, shipperID string, carrierIDs []string, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		req, err := svc.Create(ctx, shipment.CreateParams{
			ShipperID:   shipperID,
			Source:      "Chennai, TN",
			Destination: "Bangalore, KA",
			MinBudget:   10000,
			MaxBudget:   25000,
		})
		if err != nil {
			if tolerated(err) {
				continue
			}
			return fmt.Errorf("create shipment: %w", err)
		}

		for _, carrierID := range carrierIDs {
			_, err := svc.Respond(ctx, shipment.RespondParams{
				ShipmentID:    req.ID,
				CarrierID:     carrierID,
				ProposedPrice: float64(12000 + rand.Intn(5000)),
			})
			if !tolerated(err) {
				return fmt.Errorf("respond: %w", err)
			}
		}

		var wins atomic.Int32
		g, gctx := errgroup.WithContext(ctx)
		for _, carrierID := range carrierIDs {
			carrierID := carrierID
			g.Go(func() error {
				_, err := svc.Accept(gctx, shipment.AcceptParams{ShipmentID: req.ID, CarrierID: carrierID})
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, shipment.ErrResponseNotFound), tolerated(err):
				default:
					return fmt.Errorf("accept: %w", err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if n := wins.Load(); n > 1 {
			return fmt.Errorf("shipment %s accepted %d times", req.ID, n)
		}
		pause(10, 30)
	}
	return nil
}

// LocationReporter streams positions for the given carriers the way a
// truck simulator would.
func LocationReporter(ctx context.Context, svc *telemetry.Service, carrierIDs []string, stop <-chan struct{}) error {
	lat, lng := 13.0827, 80.2707
	for !stopped(ctx, stop) {
		lat += (rand.Float64() - 0.3) * 0.01
		lng -= (rand.Float64() - 0.3) * 0.01
		_, err := svc.Report(ctx, telemetry.Location{
			CarrierID: carrierIDs[rand.Intn(len(carrierIDs))],
			Lat:       lat,
			Lng:       lng,
			Speed:     float64(40 + rand.Intn(30)),
			Heading:   float64(rand.Intn(360)),
		})
		if !tolerated(err) {
			return fmt.Errorf("report location: %w", err)
		}
		pause(20, 30)
	}
	return nil
}

// OutboxWorker drains pending outbox rows with SKIP LOCKED, failing one in
// ten deliveries so attempts accumulate.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if err := drainOutbox(ctx, pool); !tolerated(err) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

func drainOutbox(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status = 'pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		status := "processed"
		if rand.Intn(10) == 0 {
			status = "pending"
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = $1, attempts = attempts + 1 WHERE id = $2`, status, id); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

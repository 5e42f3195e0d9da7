package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"negotiatex/agreement"
	"negotiatex/negotiation"
	"negotiatex/notify"
	"negotiatex/records"
	"negotiatex/shipment"
	"negotiatex/telemetry"
	"negotiatex/test/actors"
	"negotiatex/test/chaos"
	"negotiatex/test/infra"
	"negotiatex/test/oracles"
	"negotiatex/workflow"
)

var (
	flDuration    = flag.Duration("duration", 60*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 6, "number of concurrent session drivers")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", true, "terminate random backends while running")
)

func TestNegotiationStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test skipped in short mode")
	}
	seed := *flSeed
	rand.Seed(seed)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	pool, cleanup := startDatabase(t, ctx)
	defer cleanup()

	ids := mustSeed(t, ctx, pool)

	// Everything a running server would wire, minus HTTP.
	dispatcher := notify.NewDispatcher(notify.Fanout{notify.NewPGStore(pool)}, 1024)
	go dispatcher.Run(ctx)
	defer dispatcher.Close()

	engine := negotiation.NewEngine(negotiation.NewAggregator(records.NewStore(pool), nil, negotiation.Timeouts{}), nil, 0)
	committer := agreement.NewService(pool, agreement.NewRepository())
	sessions := workflow.NewService(engine, dispatcher)
	sessions.WithPersistence(committer, agreement.NewStatusService(pool))
	shipments := shipment.NewService(pool, shipment.NewRepository(pool), agreement.Outbox{}, dispatcher)
	locations := telemetry.NewService(pool)

	g, gctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})
	var finished atomic.Int64

	for i := 0; i < *flConcurrency; i++ {
		i := i
		g.Go(func() error {
			return actors.SessionDriver(gctx, sessions, ids.shipmentID, ids.carrierIDs[i%len(ids.carrierIDs)], &finished, stop)
		})
	}
	g.Go(func() error { return actors.CommitReplayer(gctx, committer, pool, stop) })
	g.Go(func() error { return actors.AcceptRacer(gctx, shipments, ids.shipperID, ids.carrierIDs, stop) })
	g.Go(func() error { return actors.AcceptRacer(gctx, shipments, ids.shipperID, ids.carrierIDs, stop) })
	g.Go(func() error { return actors.LocationReporter(gctx, locations, ids.carrierIDs, stop) })
	g.Go(func() error { return actors.OutboxWorker(gctx, pool, stop) })
	if *flChaos {
		go chaos.TerminateRandomBackend(gctx, pool, 2*time.Second, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	failed := false
loop:
	for time.Now().Before(deadline) {
		select {
		case <-gctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(gctx, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				// A chaos kill can land on the oracle's own connection.
				t.Logf("oracle query error: %v", err)
				continue
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx, pool)
				t.Fatalf("oracle %s failed, first row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v (seed=%d)", err, seed)
		}
	}

	if name, row, err := oracles.Run(context.Background(), pool); err != nil {
		t.Fatalf("final oracle error: %v", err)
	} else if name != "" {
		t.Fatalf("final oracle %s failed, first row: %s (seed=%d)", name, row, seed)
	}
	if finished.Load() == 0 {
		t.Fatal("no session reached a terminal state")
	}
	t.Logf("sessions finished: %d (seed=%d)", finished.Load(), seed)
}

func startDatabase(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	var (
		pgC    = &infra.PGContainer{}
		dsn    string
		shared bool
		err    error
	)
	switch {
	case *flDSN != "":
		dsn, shared = *flDSN, true
	case os.Getenv("NEGOTIATEX_STRESS_DSN") != "":
		dsn, shared = os.Getenv("NEGOTIATEX_STRESS_DSN"), true
	case dockerAvailable(ctx):
		pgC, dsn, err = infra.StartPostgres(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
	default:
		dsn, err = infra.InitLocalDatabase(ctx)
		if err != nil {
			t.Skipf("no postgres available: %v", err)
		}
	}

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, shared)
	if err != nil {
		_ = pgC.Terminate(context.Background())
		t.Fatalf("apply migrations: %v", err)
	}

	return pool, func() {
		pool.Close()
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
		_ = pgC.Terminate(context.Background())
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	shipperID  string
	shipmentID string
	carrierIDs []string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seedIDs {
	t.Helper()
	var s seedIDs

	if err := pool.QueryRow(ctx, `
		INSERT INTO users (email, full_name, password_hash, role)
		VALUES ($1, 'Stress Shipper', 'x', 'shipper') RETURNING id`,
		fmt.Sprintf("shipper%d@example.com", rand.Int63())).Scan(&s.shipperID); err != nil {
		t.Fatalf("seed shipper: %v", err)
	}

	for i, name := range []string{"Swift Haulers", "Deccan Freight", "Coastal Movers"} {
		var id string
		if err := pool.QueryRow(ctx, `
			INSERT INTO carrier_profiles (company_name, vehicle_type, capacity_tons, available_routes, rating)
			VALUES ($1, 'truck', $2, $3, $4) RETURNING id`,
			name, 10+i*5, []string{"Chennai", "Bangalore"}, 4.0+float64(i)/10).Scan(&id); err != nil {
			t.Fatalf("seed carrier %s: %v", name, err)
		}
		s.carrierIDs = append(s.carrierIDs, id)
	}

	if err := pool.QueryRow(ctx, `
		INSERT INTO shipment_requests (shipper_id, product_name, source_location, destination_location, min_budget, max_budget)
		VALUES ($1, 'Electronics', 'Chennai', 'Bangalore', 10000, 25000) RETURNING id`,
		s.shipperID).Scan(&s.shipmentID); err != nil {
		t.Fatalf("seed shipment: %v", err)
	}
	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	dumps := []struct {
		name string
		sql  string
	}{
		{"ai_negotiations", `SELECT id, session_id, status, updated_at FROM ai_negotiations ORDER BY updated_at DESC LIMIT 20`},
		{"timeline_events", `SELECT negotiation_id, seq, type, actor_role, created_at FROM timeline_events ORDER BY id DESC LIMIT 50`},
		{"carrier_responses", `SELECT shipment_id, carrier_id, status FROM carrier_responses ORDER BY created_at DESC LIMIT 30`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 30`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			line := make([]string, 0, len(vals))
			for i := range vals {
				line = append(line, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Log(line)
		}
		rows.Close()
	}
}

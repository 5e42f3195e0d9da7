package main

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"negotiatex/agreement"
	"negotiatex/auth"
	"negotiatex/carrier"
	"negotiatex/config"
	"negotiatex/middleware"
	"negotiatex/negotiation"
	"negotiatex/notify"
	"negotiatex/records"
	"negotiatex/shipment"
	"negotiatex/signals"
	"negotiatex/telemetry"
	"negotiatex/workflow"
)

const (
	rateLimitRequests = 30
	rateLimitWindow   = time.Minute
)

type app struct {
	server     *Server
	dispatcher *notify.Dispatcher
	sessions   *workflow.Service
}

// newApp wires every component. A nil pool leaves the database-backed
// services unset.
func newApp(cfg *config.Config, pool *pgxpool.Pool) *app {
	aggregator := negotiation.NewAggregator(
		records.NewStore(pool),
		signals.NewProvider(cfg),
		negotiation.Timeouts{
			Records: cfg.Database.Timeout,
			Weather: cfg.Weather.Timeout,
			News:    cfg.News.Timeout,
		},
	)
	engine := negotiation.NewEngine(aggregator, negotiation.NewExternalMediator(&cfg.Mediator), cfg.Mediator.Timeout)

	sinks := notify.Fanout{notify.LogSink{}}
	if pool != nil {
		sinks = append(sinks, notify.NewPGStore(pool))
	}
	dispatcher := notify.NewDispatcher(sinks, cfg.Notify.QueueSize)

	sessions := workflow.NewService(engine, dispatcher)
	authRepo := auth.Repository(nil)

	srv := &Server{
		negotiator: engine,
		sessions:   sessions,
		locations:  telemetry.NewService(pool),
		limiter:    middleware.NewRateLimiter(rateLimitRequests, rateLimitWindow),
	}

	if pool != nil {
		sessions.WithPersistence(
			agreement.NewService(pool, agreement.NewRepository()),
			agreement.NewStatusService(pool),
		)
		authRepo = auth.NewRepository(pool)

		srv.carriers = carrier.NewService(carrier.NewRepository(pool))
		srv.shipments = shipment.NewService(pool, shipment.NewRepository(pool), agreement.Outbox{}, dispatcher)
		srv.notifications = notify.NewPGStore(pool)
		srv.agreements = agreement.NewQueryService(pool)
	}

	users := auth.NewService(authRepo, cfg.Auth.JWTSecret)
	srv.tokens = users
	if pool != nil {
		srv.users = users
	}

	return &app{server: srv, dispatcher: dispatcher, sessions: sessions}
}

func (a *app) close() {
	a.dispatcher.Close()
}

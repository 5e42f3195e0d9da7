package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"negotiatex/agreement"
	"negotiatex/auth"
	"negotiatex/carrier"
	"negotiatex/middleware"
	"negotiatex/negotiation"
	"negotiatex/notify"
	"negotiatex/shipment"
	"negotiatex/telemetry"
	"negotiatex/workflow"
)

type Negotiator interface {
	Negotiate(ctx context.Context, req negotiation.Request) negotiation.Result
}

type SessionService interface {
	Create(ctx context.Context, owner string) workflow.Snapshot
	Authorize(id, role, principal string) error
	SubmitIntent(ctx context.Context, id string, intent map[string]any) (workflow.Snapshot, error)
	SubmitRequirements(ctx context.Context, id string, data map[string]any) (workflow.Snapshot, error)
	SubmitFeasibility(ctx context.Context, id string, data map[string]any) (workflow.Snapshot, error)
	Approve(ctx context.Context, id, role string) (workflow.ApprovalResult, error)
	Reject(ctx context.Context, id, role, reason string) (workflow.RejectResult, error)
	Visible(id, role string) (workflow.Projection, error)
}

type CarrierService interface {
	GetByID(ctx context.Context, id string) (carrier.Profile, error)
	List(ctx context.Context, limit int) ([]carrier.Profile, error)
	Search(ctx context.Context, source string) ([]carrier.Match, error)
}

type ShipmentService interface {
	Create(ctx context.Context, params shipment.CreateParams) (shipment.Request, error)
	PlaceOrder(ctx context.Context, params shipment.OrderParams) (shipment.Request, error)
	List(ctx context.Context, filters shipment.Filters) (shipment.ListResult, error)
	Respond(ctx context.Context, params shipment.RespondParams) (shipment.Response, error)
	Accept(ctx context.Context, params shipment.AcceptParams) (shipment.AcceptResult, error)
}

type NotificationStore interface {
	List(ctx context.Context, role string, unreadOnly bool) ([]notify.Notification, error)
	MarkRead(ctx context.Context, role, id string) (notify.Notification, error)
}

type AgreementReader interface {
	GetBySession(ctx context.Context, sessionID string) (agreement.Record, error)
	List(ctx context.Context, filters agreement.ListFilters) ([]agreement.Record, int, error)
}

type LocationService interface {
	Report(ctx context.Context, loc telemetry.Location) (telemetry.Location, error)
	Latest(ctx context.Context, carrierID string) (telemetry.Location, error)
}

type UserService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
}

// Server holds the HTTP-facing dependencies. Services backed by the database
// are nil when persistence is not configured; their routes answer 503.
type Server struct {
	negotiator    Negotiator
	sessions      SessionService
	carriers      CarrierService
	shipments     ShipmentService
	notifications NotificationStore
	agreements    AgreementReader
	locations     LocationService
	users         UserService
	tokens        middleware.TokenVerifier
	limiter       *middleware.RateLimiter
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())

	limit := func(c *gin.Context) { c.Next() }
	if s.limiter != nil {
		limit = middleware.RateLimit(s.limiter)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	router.POST("/negotiate", limit, s.handleNegotiate)
	router.POST("/carrier/live-location", s.handleReportLocation)
	router.GET("/carrier/live-location/:carrier_id", s.handleLatestLocation)
	router.POST("/auth/register", s.handleRegister)
	router.POST("/auth/login", s.handleLogin)

	api := router.Group("/api")
	api.Use(middleware.Auth(s.tokens))
	{
		parties := middleware.RequireRole(auth.RoleCustomer, auth.RoleShipper, auth.RoleCarrier)

		api.POST("/sessions", parties, s.handleCreateSession)
		api.GET("/sessions/:id", parties, s.handleSessionView)
		api.POST("/sessions/:id/intent", middleware.RequireRole(auth.RoleCustomer), s.handleSubmitIntent)
		api.POST("/sessions/:id/requirements", middleware.RequireRole(auth.RoleShipper), s.handleSubmitRequirements)
		api.POST("/sessions/:id/feasibility", middleware.RequireRole(auth.RoleCarrier), limit, s.handleSubmitFeasibility)
		api.POST("/sessions/:id/approve", parties, s.handleApprove)
		api.POST("/sessions/:id/reject", parties, s.handleReject)

		api.GET("/carriers", s.handleListCarriers)
		api.GET("/carriers/search", s.handleSearchCarriers)
		api.GET("/carriers/:id", s.handleCarrier)

		api.GET("/shipments", s.handleListShipments)
		api.POST("/shipments", middleware.RequireRole(auth.RoleShipper, auth.RoleOperator), s.handleCreateShipment)
		api.POST("/shipments/:id/responses", middleware.RequireRole(auth.RoleCarrier), s.handleRespond)
		api.POST("/shipments/:id/accept", middleware.RequireRole(auth.RoleShipper, auth.RoleCarrier, auth.RoleOperator), s.handleAccept)
		api.POST("/orders", middleware.RequireRole(auth.RoleCustomer), s.handlePlaceOrder)

		api.GET("/notifications", s.handleNotifications)
		api.POST("/notifications/:id/read", s.handleMarkRead)

		api.GET("/agreements", s.handleListAgreements)
		api.GET("/agreements/:session_id", s.handleAgreement)
	}

	return router
}

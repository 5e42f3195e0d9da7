package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"negotiatex/agreement"
	"negotiatex/auth"
	"negotiatex/carrier"
	"negotiatex/middleware"
	"negotiatex/negotiation"
	"negotiatex/pkg/logger"
	"negotiatex/shipment"
	"negotiatex/telemetry"
	"negotiatex/workflow"
)

type negotiateRequest struct {
	ShipperTerms       map[string]any `json:"shipperTerms"`
	CarrierConstraints map[string]any `json:"carrierConstraints"`
	ShipmentID         string         `json:"shipmentId"`
	CarrierID          string         `json:"carrierId"`
	Email              string         `json:"email"`
}

func (s *Server) handleNegotiate(c *gin.Context) {
	var body negotiateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	result := s.negotiator.Negotiate(c.Request.Context(), negotiation.Request{
		ShipperTerms:       body.ShipperTerms,
		CarrierConstraints: body.CarrierConstraints,
		ShipmentID:         body.ShipmentID,
		CarrierID:          body.CarrierID,
		RequesterEmail:     body.Email,
	})
	c.JSON(http.StatusOK, result)
}

// sessionContext tags the request context with the session id for log lines.
func sessionContext(c *gin.Context) string {
	id := c.Param("id")
	c.Request = c.Request.WithContext(logger.WithSession(c.Request.Context(), id))
	return id
}

func callerRole(c *gin.Context) string {
	claims, _ := middleware.GetClaims(c)
	return string(claims.Role)
}

// participant resolves the session id and checks that the caller holds its
// role in that session. It writes the error response and returns false on failure.
func (s *Server) participant(c *gin.Context) (string, bool) {
	id := sessionContext(c)
	claims, _ := middleware.GetClaims(c)
	if err := s.sessions.Authorize(id, string(claims.Role), claims.UserID); err != nil {
		writeError(c, err)
		return "", false
	}
	return id, true
}

func (s *Server) handleCreateSession(c *gin.Context) {
	claims, _ := middleware.GetClaims(c)
	owner := claims.Email
	if owner == "" {
		owner = claims.UserID
	}

	snap := s.sessions.Create(c.Request.Context(), owner)
	if err := s.sessions.Authorize(snap.ID, string(claims.Role), claims.UserID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session_id": snap.ID,
		"state":      snap.State,
		"created_at": snap.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleSessionView(c *gin.Context) {
	id, ok := s.participant(c)
	if !ok {
		return
	}
	view, err := s.sessions.Visible(id, callerRole(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type submitFunc func(c *gin.Context, id string, data map[string]any) (workflow.Snapshot, error)

func (s *Server) submit(c *gin.Context, fn submitFunc) {
	id, ok := s.participant(c)
	if !ok {
		return
	}

	data, err := bindPayload(c)
	if err != nil {
		badRequest(c, "payload must be a JSON object")
		return
	}

	if _, err := fn(c, id, data); err != nil {
		writeError(c, err)
		return
	}

	view, err := s.sessions.Visible(id, callerRole(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleSubmitIntent(c *gin.Context) {
	s.submit(c, func(c *gin.Context, id string, data map[string]any) (workflow.Snapshot, error) {
		return s.sessions.SubmitIntent(c.Request.Context(), id, data)
	})
}

func (s *Server) handleSubmitRequirements(c *gin.Context) {
	s.submit(c, func(c *gin.Context, id string, data map[string]any) (workflow.Snapshot, error) {
		return s.sessions.SubmitRequirements(c.Request.Context(), id, data)
	})
}

func (s *Server) handleSubmitFeasibility(c *gin.Context) {
	s.submit(c, func(c *gin.Context, id string, data map[string]any) (workflow.Snapshot, error) {
		return s.sessions.SubmitFeasibility(c.Request.Context(), id, data)
	})
}

func (s *Server) handleApprove(c *gin.Context) {
	id, ok := s.participant(c)
	if !ok {
		return
	}
	res, err := s.sessions.Approve(c.Request.Context(), id, callerRole(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleReject(c *gin.Context) {
	id, ok := s.participant(c)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request body")
		return
	}

	res, err := s.sessions.Reject(c.Request.Context(), id, callerRole(c), strings.TrimSpace(body.Reason))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// bindPayload decodes a JSON object body. An empty body is an empty object.
func bindPayload(c *gin.Context) (map[string]any, error) {
	var data map[string]any
	if err := c.ShouldBindJSON(&data); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

type carrierResponse struct {
	ID                string   `json:"id"`
	CompanyName       string   `json:"company_name"`
	Email             string   `json:"email,omitempty"`
	Phone             string   `json:"phone,omitempty"`
	VehicleType       string   `json:"vehicle_type,omitempty"`
	CapacityTons      *float64 `json:"capacity_tons,omitempty"`
	AvailableRoutes   []string `json:"available_routes"`
	InsuranceCoverage string   `json:"insurance_coverage,omitempty"`
	Rating            float64  `json:"rating"`
	Latitude          *float64 `json:"latitude,omitempty"`
	Longitude         *float64 `json:"longitude,omitempty"`
	CreatedAt         string   `json:"created_at"`
}

func newCarrierResponse(p carrier.Profile) carrierResponse {
	routes := p.AvailableRoutes
	if routes == nil {
		routes = []string{}
	}
	return carrierResponse{
		ID:                p.ID,
		CompanyName:       p.CompanyName,
		Email:             p.Email,
		Phone:             p.Phone,
		VehicleType:       p.VehicleType,
		CapacityTons:      p.CapacityTons,
		AvailableRoutes:   routes,
		InsuranceCoverage: p.InsuranceCoverage,
		Rating:            p.Rating,
		Latitude:          p.Latitude,
		Longitude:         p.Longitude,
		CreatedAt:         p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleCarrier(c *gin.Context) {
	if s.carriers == nil {
		unavailable(c)
		return
	}
	profile, err := s.carriers.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCarrierResponse(profile))
}

func (s *Server) handleListCarriers(c *gin.Context) {
	if s.carriers == nil {
		unavailable(c)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	profiles, err := s.carriers.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]carrierResponse, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, newCarrierResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

func (s *Server) handleSearchCarriers(c *gin.Context) {
	if s.carriers == nil {
		unavailable(c)
		return
	}
	matches, err := s.carriers.Search(c.Request.Context(), c.Query("source"))
	if err != nil {
		writeError(c, err)
		return
	}

	type matchResponse struct {
		carrierResponse
		DistanceKM *float64 `json:"distance_km"`
		TravelTime string   `json:"travel_time"`
	}
	items := make([]matchResponse, 0, len(matches))
	for _, m := range matches {
		items = append(items, matchResponse{
			carrierResponse: newCarrierResponse(m.Profile),
			DistanceKM:      m.DistanceKM,
			TravelTime:      m.TravelTime,
		})
	}
	c.JSON(http.StatusOK, gin.H{"carriers": items})
}

type createShipmentRequest struct {
	ProductName       string         `json:"productName"`
	Source            string         `json:"source"`
	Destination       string         `json:"destination"`
	MinBudget         float64        `json:"minBudget"`
	MaxBudget         float64        `json:"maxBudget"`
	Deadline          string         `json:"deadline"`
	PriorityLevel     string         `json:"priorityLevel"`
	SpecialConditions []string       `json:"specialConditions"`
	SLARules          map[string]any `json:"slaRules"`
}

func (s *Server) handleCreateShipment(c *gin.Context) {
	if s.shipments == nil {
		unavailable(c)
		return
	}
	var body createShipmentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	deadline, err := parseDate(body.Deadline)
	if err != nil {
		badRequest(c, "deadline must be YYYY-MM-DD")
		return
	}

	claims, _ := middleware.GetClaims(c)
	created, err := s.shipments.Create(c.Request.Context(), shipment.CreateParams{
		ShipperID:         claims.UserID,
		ProductName:       body.ProductName,
		Source:            body.Source,
		Destination:       body.Destination,
		MinBudget:         body.MinBudget,
		MaxBudget:         body.MaxBudget,
		Deadline:          deadline,
		Priority:          body.PriorityLevel,
		SpecialConditions: body.SpecialConditions,
		SLARules:          body.SLARules,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handlePlaceOrder(c *gin.Context) {
	if s.shipments == nil {
		unavailable(c)
		return
	}
	var body struct {
		CustomerName string               `json:"customerName"`
		Address      string               `json:"address"`
		Items        []shipment.OrderItem `json:"items"`
		Total        float64              `json:"total"`
		Priority     string               `json:"priority"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	claims, _ := middleware.GetClaims(c)
	order, err := s.shipments.PlaceOrder(c.Request.Context(), shipment.OrderParams{
		CustomerID:   claims.UserID,
		CustomerName: body.CustomerName,
		Address:      body.Address,
		Items:        body.Items,
		Total:        body.Total,
		Priority:     body.Priority,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"order_id": order.ID,
		"message":  "Order placed and logistics requested.",
	})
}

func (s *Server) handleListShipments(c *gin.Context) {
	if s.shipments == nil {
		unavailable(c)
		return
	}
	claims, _ := middleware.GetClaims(c)
	filters := shipment.Filters{
		Status:      shipment.Status(c.Query("status")),
		Destination: c.Query("destination"),
	}
	filters.Page, _ = strconv.Atoi(c.Query("page"))
	filters.PageSize, _ = strconv.Atoi(c.Query("pageSize"))
	if claims.Role == auth.RoleShipper || claims.Role == auth.RoleCustomer {
		filters.ShipperID = claims.UserID
	}

	result, err := s.shipments.List(c.Request.Context(), filters)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleRespond(c *gin.Context) {
	if s.shipments == nil {
		unavailable(c)
		return
	}
	var body struct {
		CarrierID             string         `json:"carrierId"`
		ProposedPrice         float64        `json:"proposedPrice"`
		EstimatedDeliveryDate string         `json:"estimatedDeliveryDate"`
		Notes                 map[string]any `json:"notes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	eta, err := parseDate(body.EstimatedDeliveryDate)
	if err != nil {
		badRequest(c, "estimatedDeliveryDate must be YYYY-MM-DD")
		return
	}

	resp, err := s.shipments.Respond(c.Request.Context(), shipment.RespondParams{
		ShipmentID:        c.Param("id"),
		CarrierID:         body.CarrierID,
		ProposedPrice:     body.ProposedPrice,
		EstimatedDelivery: eta,
		Notes:             body.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAccept(c *gin.Context) {
	if s.shipments == nil {
		unavailable(c)
		return
	}
	var body struct {
		CarrierID string `json:"carrierId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	result, err := s.shipments.Accept(c.Request.Context(), shipment.AcceptParams{
		ShipmentID: c.Param("id"),
		CarrierID:  body.CarrierID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleNotifications(c *gin.Context) {
	if s.notifications == nil {
		unavailable(c)
		return
	}
	unreadOnly := c.Query("unread") == "true"
	items, err := s.notifications.List(c.Request.Context(), callerRole(c), unreadOnly)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	if s.notifications == nil {
		unavailable(c)
		return
	}
	n, err := s.notifications.MarkRead(c.Request.Context(), callerRole(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (s *Server) handleListAgreements(c *gin.Context) {
	if s.agreements == nil {
		unavailable(c)
		return
	}
	filters := agreement.ListFilters{Status: agreement.Status(c.Query("status"))}
	filters.Page, _ = strconv.Atoi(c.Query("page"))
	filters.PageSize, _ = strconv.Atoi(c.Query("pageSize"))

	items, total, err := s.agreements.List(c.Request.Context(), filters)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

func (s *Server) handleAgreement(c *gin.Context) {
	if s.agreements == nil {
		unavailable(c)
		return
	}
	rec, err := s.agreements.GetBySession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleReportLocation answers 200 even when the position could not be
// stored; the status field says whether it was.
func (s *Server) handleReportLocation(c *gin.Context) {
	var body telemetry.Location
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	loc, err := s.locations.Report(c.Request.Context(), body)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "location": loc})
	case errors.Is(err, telemetry.ErrPersistenceUnavailable):
		c.JSON(http.StatusOK, gin.H{"status": "degraded", "location": loc})
	default:
		writeError(c, err)
	}
}

func (s *Server) handleLatestLocation(c *gin.Context) {
	loc, err := s.locations.Latest(c.Request.Context(), c.Param("carrier_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, loc)
}

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

func newUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleRegister(c *gin.Context) {
	if s.users == nil {
		unavailable(c)
		return
	}
	var body auth.RegisterRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	user, err := s.users.Register(c.Request.Context(), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newUserResponse(*user))
}

func (s *Server) handleLogin(c *gin.Context) {
	if s.users == nil {
		unavailable(c)
		return
	}
	var body auth.LoginRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	res, err := s.users.Login(c.Request.Context(), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": res.Token, "user": newUserResponse(res.User)})
}

func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

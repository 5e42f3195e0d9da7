package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"negotiatex/agreement"
	"negotiatex/auth"
	"negotiatex/carrier"
	"negotiatex/middleware"
	"negotiatex/notify"
	"negotiatex/pkg/logger"
	"negotiatex/shipment"
	"negotiatex/telemetry"
	"negotiatex/workflow"
)

var errStatus = []struct {
	err    error
	status int
}{
	{workflow.ErrOutOfOrderSubmission, http.StatusConflict},
	{workflow.ErrAgreementCommitted, http.StatusConflict},
	{workflow.ErrSessionClosed, http.StatusConflict},
	{shipment.ErrNotOpen, http.StatusConflict},
	{notify.ErrAlreadyRead, http.StatusConflict},
	{auth.ErrDuplicateEmail, http.StatusConflict},

	{workflow.ErrInvalidRole, http.StatusBadRequest},
	{shipment.ErrInvalidRequest, http.StatusBadRequest},
	{shipment.ErrUnknownCarrier, http.StatusBadRequest},
	{telemetry.ErrInvalidLocation, http.StatusBadRequest},
	{auth.ErrWeakPassword, http.StatusBadRequest},
	{auth.ErrInvalidRole, http.StatusBadRequest},
	{auth.ErrMissingFields, http.StatusBadRequest},

	{auth.ErrInvalidCredentials, http.StatusUnauthorized},

	{workflow.ErrNotParticipant, http.StatusForbidden},

	{workflow.ErrSessionNotFound, http.StatusNotFound},
	{carrier.ErrNotFound, http.StatusNotFound},
	{shipment.ErrNotFound, http.StatusNotFound},
	{shipment.ErrResponseNotFound, http.StatusNotFound},
	{notify.ErrNotFound, http.StatusNotFound},
	{agreement.ErrAgreementNotFound, http.StatusNotFound},
	{telemetry.ErrNotFound, http.StatusNotFound},

	{telemetry.ErrPersistenceUnavailable, http.StatusServiceUnavailable},
}

// writeError maps domain errors to HTTP statuses. Anything unrecognised is
// logged and answered with 500 and the request id.
func writeError(c *gin.Context, err error) {
	for _, m := range errStatus {
		if errors.Is(err, m.err) {
			c.JSON(m.status, gin.H{"error": err.Error()})
			return
		}
	}

	logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":      "Internal server error",
		"request_id": middleware.GetRequestID(c),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func unavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence unavailable"})
}

package agreement

import (
	"time"

	"negotiatex/negotiation"
)

// Status is the persisted lifecycle of a committed agreement.
type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusCompleted       Status = "completed"
	StatusRejected        Status = "rejected"
)

// Record mirrors the ai_negotiations table.
type Record struct {
	ID              string
	SessionID       string
	ShipmentID      string
	CarrierID       string
	Source          string
	Recommendation  string
	JustifiedPrice  float64
	FixedDeadline   string
	ConfidenceScore int
	Agreement       []byte
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TimelineEvent captures an immutable business event for a negotiation.
type TimelineEvent struct {
	ID            int64
	NegotiationID string
	Seq           int
	Type          string
	ActorRole     *string
	CreatedAt     time.Time
	Payload       []byte
}

// CommitRequest is a mediated agreement ready to be persisted for a session.
type CommitRequest struct {
	SessionID  string
	ShipmentID string
	CarrierID  string
	ActorRole  string
	Agreement  negotiation.Agreement
}

// CommitParams enumerates the writes executed inside a single commit transaction.
type CommitParams struct {
	SessionID     string
	ShipmentID    string
	CarrierID     string
	ActorRole     string
	Agreement     negotiation.Agreement
	OutboxTopic   string
	OutboxPayload map[string]any
}

const (
	// OutboxTopicAgreementCommitted is published once per session when mediation finishes.
	OutboxTopicAgreementCommitted = "agreement.committed"
	// OutboxTopicStatusChanged is published on every persisted status change.
	OutboxTopicStatusChanged = "agreement.status_changed"

	EventAgreementCommitted = "AGREEMENT_COMMITTED"
	EventApprovalRecorded   = "APPROVAL_RECORDED"
	EventStatusChanged      = "AGREEMENT_STATUS_CHANGED"
)

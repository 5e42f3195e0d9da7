package agreement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"negotiatex/negotiation"
)

var (
	// ErrDuplicateIdempotencyKey signals the idempotency insert hit an existing key.
	ErrDuplicateIdempotencyKey = errors.New("agreement: duplicate idempotency key")
	// ErrAgreementNotFound is returned when no agreement row exists for the session.
	ErrAgreementNotFound = errors.New("agreement: not found")
	// ErrInvalidTransition is returned when the requested status change is not allowed.
	ErrInvalidTransition = errors.New("agreement: invalid status transition")
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// InsertIdempotencyKey attempts to reserve the idempotency key inside the active transaction.
func (r *Repository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("agreement: empty idempotency key")
	}

	_, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("agreement: insert idempotency key: %w", err)
	}

	return nil
}

// ExecuteCommitTx inserts the negotiation row, its first timeline event and
// the outbox message.
func (r *Repository) ExecuteCommitTx(ctx context.Context, tx pgx.Tx, params CommitParams) error {
	if params.SessionID == "" {
		return fmt.Errorf("agreement: missing session id")
	}
	if params.Agreement.ID == "" {
		return fmt.Errorf("agreement: missing agreement id")
	}

	if err := r.insertNegotiation(ctx, tx, params); err != nil {
		return err
	}

	timeline := map[string]any{
		"session_id":       params.SessionID,
		"source":           params.Agreement.Source,
		"justified_price":  params.Agreement.JustifiedPrice,
		"confidence_score": params.Agreement.ConfidenceScore,
	}
	if err := insertTimelineEvent(ctx, tx, params.Agreement.ID, EventAgreementCommitted, params.ActorRole, timeline); err != nil {
		return err
	}

	payload := params.OutboxPayload
	if payload == nil {
		payload = make(map[string]any, 4)
	}
	payload["agreement_id"] = params.Agreement.ID
	payload["session_id"] = params.SessionID
	payload["shipment_id"] = params.ShipmentID
	payload["carrier_id"] = params.CarrierID

	topic := params.OutboxTopic
	if topic == "" {
		topic = OutboxTopicAgreementCommitted
	}
	return enqueueOutbox(ctx, tx, topic, payload)
}

func (r *Repository) insertNegotiation(ctx context.Context, tx pgx.Tx, params CommitParams) error {
	body, err := json.Marshal(params.Agreement)
	if err != nil {
		return fmt.Errorf("agreement: marshal agreement: %w", err)
	}

	const insertSQL = `
INSERT INTO ai_negotiations (
    id, session_id, shipment_id, carrier_id, source, recommendation,
    justified_price, fixed_deadline, confidence_score, agreement, status
)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9, $10::jsonb, 'pending_approval');
`
	ag := params.Agreement
	if _, err := tx.Exec(ctx, insertSQL,
		ag.ID,
		params.SessionID,
		params.ShipmentID,
		params.CarrierID,
		string(ag.Source),
		negotiation.NormalizeRecommendation(ag.Recommendation),
		ag.JustifiedPrice,
		ag.FixedDeadline,
		ag.ConfidenceScore,
		body,
	); err != nil {
		return fmt.Errorf("agreement: insert negotiation: %w", err)
	}
	return nil
}

// insertTimelineEvent appends the next event in the negotiation's sequence.
// Callers serialize appends per negotiation through the surrounding
// transaction.
func insertTimelineEvent(ctx context.Context, tx pgx.Tx, negotiationID, eventType, actorRole string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("agreement: marshal timeline payload: %w", err)
	}
	var actor any
	if actorRole != "" {
		actor = actorRole
	}
	const q = `
INSERT INTO timeline_events (negotiation_id, seq, type, actor_role, payload)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4::jsonb
FROM timeline_events
WHERE negotiation_id = $1
`
	if _, err := tx.Exec(ctx, q, negotiationID, eventType, actor, body); err != nil {
		return fmt.Errorf("agreement: insert timeline event: %w", err)
	}
	return nil
}

func enqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("agreement: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("agreement: enqueue outbox: %w", err)
	}
	return nil
}

// Outbox writes messages to the outbox table inside a caller's transaction.
type Outbox struct{}

func (Outbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	return enqueueOutbox(ctx, tx, topic, payload)
}

package agreement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// StatusService handles status transitions on committed agreements ensuring
// timeline and outbox writes are captured in the same transaction.
type StatusService struct {
	pool TxBeginner
}

func NewStatusService(pool TxBeginner) *StatusService {
	return &StatusService{pool: pool}
}

type TransitionParams struct {
	SessionID  string
	ActorRole  string
	NextStatus Status
	// Event overrides the timeline event type. Defaults to AGREEMENT_STATUS_CHANGED.
	Event   string
	Payload map[string]any
}

var allowedTransitions = map[Status][]Status{
	StatusPendingApproval: {StatusPendingApproval, StatusCompleted, StatusRejected},
}

// CanTransition reports whether current may move to next. pending_approval
// to itself records an event without changing status.
func CanTransition(current, next Status) bool {
	for _, s := range allowedTransitions[current] {
		if s == next {
			return true
		}
	}
	return false
}

func (s *StatusService) Transition(ctx context.Context, params TransitionParams) error {
	if params.SessionID == "" {
		return fmt.Errorf("agreement: missing session id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		negotiationID string
		current       Status
	)
	if err := tx.QueryRow(ctx, `SELECT id, status FROM ai_negotiations WHERE session_id = $1 FOR UPDATE`, params.SessionID).
		Scan(&negotiationID, &current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAgreementNotFound
		}
		return fmt.Errorf("agreement: fetch current status: %w", err)
	}

	if !CanTransition(current, params.NextStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, params.NextStatus)
	}

	changed := current != params.NextStatus
	if changed {
		if _, err := tx.Exec(ctx, `
UPDATE ai_negotiations
SET status = $1,
    updated_at = now()
WHERE id = $2
`, string(params.NextStatus), negotiationID); err != nil {
			return fmt.Errorf("agreement: update status: %w", err)
		}
	}

	payload := map[string]any{
		"previous_status": current,
		"next_status":     params.NextStatus,
	}
	for k, v := range params.Payload {
		payload[k] = v
	}

	event := params.Event
	if event == "" {
		event = EventStatusChanged
	}
	if err := insertTimelineEvent(ctx, tx, negotiationID, event, params.ActorRole, payload); err != nil {
		return err
	}

	if changed {
		outboxPayload := map[string]any{
			"agreement_id": negotiationID,
			"session_id":   params.SessionID,
			"previous":     current,
			"next":         params.NextStatus,
		}
		if err := enqueueOutbox(ctx, tx, OutboxTopicStatusChanged, outboxPayload); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("agreement: commit transition: %w", err)
	}

	return nil
}

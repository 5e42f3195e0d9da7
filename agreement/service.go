package agreement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CommitRepository defines the data access required by the service.
type CommitRepository interface {
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	ExecuteCommitTx(ctx context.Context, tx pgx.Tx, params CommitParams) error
}

type Service struct {
	pool TxBeginner
	repo CommitRepository
}

func NewService(pool TxBeginner, repo CommitRepository) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool: pool,
		repo: repo,
	}
}

// CommitKey is the idempotency key reserved for a session's agreement.
func CommitKey(sessionID string) string {
	return "agreement-commit:" + sessionID
}

// Commit persists a session's agreement at most once. Replays for a session
// that already committed are silently accepted.
func (s *Service) Commit(ctx context.Context, req CommitRequest) error {
	if req.SessionID == "" {
		return fmt.Errorf("agreement: missing session id")
	}
	if req.Agreement.ID == "" {
		return fmt.Errorf("agreement: missing agreement id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertIdempotencyKey(ctx, tx, CommitKey(req.SessionID)); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return nil
		}
		return err
	}

	params := CommitParams{
		SessionID:  req.SessionID,
		ShipmentID: req.ShipmentID,
		CarrierID:  req.CarrierID,
		ActorRole:  req.ActorRole,
		Agreement:  req.Agreement,
	}
	if err := s.repo.ExecuteCommitTx(ctx, tx, params); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("agreement: commit tx: %w", err)
	}

	return nil
}

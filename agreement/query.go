package agreement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is the read side of pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type ListFilters struct {
	Status   Status
	Page     int
	PageSize int
}

// QueryService reads committed agreements.
type QueryService struct {
	db Querier
}

func NewQueryService(db Querier) *QueryService {
	return &QueryService{db: db}
}

const recordColumns = `id, session_id, COALESCE(shipment_id, ''), COALESCE(carrier_id, ''), source, recommendation,
       justified_price::float8, COALESCE(fixed_deadline, ''), confidence_score, agreement, status, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.ShipmentID, &rec.CarrierID, &rec.Source, &rec.Recommendation,
		&rec.JustifiedPrice, &rec.FixedDeadline, &rec.ConfidenceScore, &rec.Agreement, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

func (s *QueryService) GetBySession(ctx context.Context, sessionID string) (Record, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM ai_negotiations WHERE session_id = $1`, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrAgreementNotFound
		}
		return Record{}, fmt.Errorf("agreement: get: %w", err)
	}
	return rec, nil
}

func (s *QueryService) List(ctx context.Context, filters ListFilters) ([]Record, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	query := `SELECT ` + recordColumns + ` FROM ai_negotiations WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := s.db.Query(ctx, query, string(filters.Status), filters.PageSize, (filters.Page-1)*filters.PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("agreement: list: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("agreement: scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("agreement: iterate: %w", err)
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM ai_negotiations WHERE ($1 = '' OR status = $1)`, string(filters.Status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("agreement: count: %w", err)
	}

	return records, total, nil
}

package shipment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound         = errors.New("shipment: not found")
	ErrResponseNotFound = errors.New("shipment: carrier response not found")
	ErrUnknownCarrier   = errors.New("shipment: unknown shipment or carrier")
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, req Request) (Request, error)
	List(ctx context.Context, filters Filters) ([]Request, int, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Request, error)
	UpsertResponse(ctx context.Context, tx pgx.Tx, resp Response) (Response, error)
	AcceptResponse(ctx context.Context, tx pgx.Tx, shipmentID, carrierID string) (Response, error)
	PendingTo(ctx context.Context, tx pgx.Tx, destination, excludeID string) ([]Request, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const requestColumns = `id::text, COALESCE(shipper_id::text, ''), COALESCE(product_name, ''), source_location,
	destination_location, min_budget::float8, max_budget::float8, deadline, priority_level,
	special_conditions, sla_rules, status, created_at, updated_at`

const responseColumns = `id::text, shipment_id::text, carrier_id::text, proposed_price::float8,
	estimated_delivery_date, notes, status, created_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	const query = `
		INSERT INTO shipment_requests (id, shipper_id, product_name, source_location, destination_location,
			min_budget, max_budget, deadline, priority_level, special_conditions, sla_rules, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), NULLIF($2, '')::uuid, NULLIF($3, ''), $4, $5,
			$6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + requestColumns

	row := tx.QueryRow(ctx, query,
		req.ID,
		req.ShipperID,
		req.ProductName,
		req.Source,
		req.Destination,
		req.MinBudget,
		req.MaxBudget,
		req.Deadline,
		req.Priority,
		req.SpecialConditions,
		req.SLARules,
		req.Status,
	)

	created, err := scanRequest(row)
	if err != nil {
		return Request{}, fmt.Errorf("shipment: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.ShipperID != "" {
		where = append(where, fmt.Sprintf("shipper_id::text=$%d", len(args)+1))
		args = append(args, filters.ShipperID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.Destination != "" {
		where = append(where, fmt.Sprintf("destination_location ILIKE '%%' || $%d || '%%'", len(args)+1))
		args = append(args, filters.Destination)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")
	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`SELECT %s FROM shipment_requests%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		requestColumns, whereClause, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("shipment: query list: %w", err)
	}
	defer rows.Close()

	list, err := collectRequests(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM shipment_requests"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("shipment: count list: %w", err)
	}

	return list, total, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	query := `SELECT ` + requestColumns + ` FROM shipment_requests WHERE id::text = $1 FOR UPDATE`

	req, err := scanRequest(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("shipment: get for update: %w", err)
	}
	return req, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Request, error) {
	query := `
		UPDATE shipment_requests
		SET status = $2, updated_at = now()
		WHERE id::text = $1
		RETURNING ` + requestColumns

	req, err := scanRequest(tx.QueryRow(ctx, query, id, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("shipment: update status: %w", err)
	}
	return req, nil
}

// UpsertResponse stores a carrier's response. A carrier answering the same
// shipment again replaces its previous price, date and notes and returns the
// response to pending.
func (r *PGRepository) UpsertResponse(ctx context.Context, tx pgx.Tx, resp Response) (Response, error) {
	const query = `
		INSERT INTO carrier_responses (shipment_id, carrier_id, proposed_price, estimated_delivery_date, notes, status)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, 'pending')
		ON CONFLICT (shipment_id, carrier_id) DO UPDATE
		SET proposed_price = EXCLUDED.proposed_price,
		    estimated_delivery_date = EXCLUDED.estimated_delivery_date,
		    notes = EXCLUDED.notes,
		    status = 'pending'
		RETURNING ` + responseColumns

	notes := resp.Notes
	if notes == nil {
		notes = map[string]any{}
	}
	saved, err := scanResponse(tx.QueryRow(ctx, query, resp.ShipmentID, resp.CarrierID, resp.ProposedPrice, resp.EstimatedDelivery, notes))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Response{}, ErrUnknownCarrier
		}
		return Response{}, fmt.Errorf("shipment: upsert response: %w", err)
	}
	return saved, nil
}

func (r *PGRepository) AcceptResponse(ctx context.Context, tx pgx.Tx, shipmentID, carrierID string) (Response, error) {
	const query = `
		UPDATE carrier_responses
		SET status = 'accepted'
		WHERE shipment_id::text = $1 AND carrier_id::text = $2
		RETURNING ` + responseColumns

	resp, err := scanResponse(tx.QueryRow(ctx, query, shipmentID, carrierID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Response{}, ErrResponseNotFound
		}
		return Response{}, fmt.Errorf("shipment: accept response: %w", err)
	}
	return resp, nil
}

// PendingTo lists other pending shipments heading to the same destination.
func (r *PGRepository) PendingTo(ctx context.Context, tx pgx.Tx, destination, excludeID string) ([]Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM shipment_requests
		WHERE destination_location = $1 AND status = 'pending' AND id::text <> $2
		ORDER BY created_at ASC
	`
	rows, err := tx.Query(ctx, query, destination, excludeID)
	if err != nil {
		return nil, fmt.Errorf("shipment: pending to destination: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]Request, error) {
	list := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("shipment: scan request: %w", err)
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("shipment: iterate requests: %w", err)
	}
	return list, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(
		&req.ID,
		&req.ShipperID,
		&req.ProductName,
		&req.Source,
		&req.Destination,
		&req.MinBudget,
		&req.MaxBudget,
		&req.Deadline,
		&req.Priority,
		&req.SpecialConditions,
		&req.SLARules,
		&req.Status,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	return req, err
}

func scanResponse(row pgx.Row) (Response, error) {
	var resp Response
	err := row.Scan(
		&resp.ID,
		&resp.ShipmentID,
		&resp.CarrierID,
		&resp.ProposedPrice,
		&resp.EstimatedDelivery,
		&resp.Notes,
		&resp.Status,
		&resp.CreatedAt,
	)
	return resp, err
}

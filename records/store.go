package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals no row exists for the key.
	ErrNotFound = errors.New("records: not found")
	// ErrUnavailable signals the store has no backing database.
	ErrUnavailable = errors.New("records: persistence unavailable")
)

// Record is a persisted row rendered as JSON-compatible values.
type Record map[string]any

// Store fetches persisted negotiation inputs by key.
type Store interface {
	Shipment(ctx context.Context, shipmentID string) (Record, error)
	CarrierProfile(ctx context.Context, carrierID string) (Record, error)
	CarrierResponse(ctx context.Context, shipmentID, carrierID string) (Record, error)
}

// Querier is the part of pgxpool.Pool the store needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore reads records from PostgreSQL.
type PGStore struct {
	db Querier
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{db: pool}
}

// NewStore returns a PGStore, or Unavailable when pool is nil.
func NewStore(pool *pgxpool.Pool) Store {
	if pool == nil {
		return Unavailable{}
	}
	return NewPGStore(pool)
}

func (s *PGStore) Shipment(ctx context.Context, shipmentID string) (Record, error) {
	const query = `SELECT to_jsonb(s) FROM shipment_requests s WHERE s.id::text = $1`
	return s.one(ctx, "shipment", query, shipmentID)
}

func (s *PGStore) CarrierProfile(ctx context.Context, carrierID string) (Record, error) {
	const query = `SELECT to_jsonb(c) FROM carrier_profiles c WHERE c.id::text = $1`
	return s.one(ctx, "carrier profile", query, carrierID)
}

func (s *PGStore) CarrierResponse(ctx context.Context, shipmentID, carrierID string) (Record, error) {
	const query = `
		SELECT to_jsonb(r)
		FROM carrier_responses r
		WHERE r.shipment_id::text = $1 AND r.carrier_id::text = $2
		ORDER BY r.created_at DESC
		LIMIT 1
	`
	rec, err := s.one(ctx, "carrier response", query, shipmentID, carrierID)
	if err != nil {
		return nil, err
	}
	return flattenNotes(rec), nil
}

func (s *PGStore) one(ctx context.Context, what, query string, args ...any) (Record, error) {
	for _, a := range args {
		if a == "" {
			return nil, ErrNotFound
		}
	}

	var rec map[string]any
	if err := s.db.QueryRow(ctx, query, args...).Scan(&rec); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("records: query %s: %w", what, err)
	}
	return Record(rec), nil
}

// flattenNotes lifts keys from the free-form notes object onto the record
// without overwriting columns.
func flattenNotes(rec Record) Record {
	notes, ok := rec["notes"].(map[string]any)
	if !ok {
		return rec
	}
	for k, v := range notes {
		if _, exists := rec[k]; !exists {
			rec[k] = v
		}
	}
	return rec
}

// Unavailable is the Store used when no database is configured.
type Unavailable struct{}

func (Unavailable) Shipment(context.Context, string) (Record, error) { return nil, ErrUnavailable }

func (Unavailable) CarrierProfile(context.Context, string) (Record, error) {
	return nil, ErrUnavailable
}

func (Unavailable) CarrierResponse(context.Context, string, string) (Record, error) {
	return nil, ErrUnavailable
}

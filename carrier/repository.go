package carrier

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested carrier does not exist.
var ErrNotFound = errors.New("carrier: not found")

// Querier is the part of pgxpool.Pool the repository reads through.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides read access to carrier profiles.
type Repository struct {
	db Querier
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

const profileSelect = `
	SELECT p.id::text, p.user_id::text, p.company_name, COALESCE(p.email, ''), COALESCE(p.phone, ''),
	       COALESCE(p.vehicle_type, ''), p.capacity_tons::float8, p.available_routes,
	       COALESCE(p.insurance_coverage, ''), p.rating::float8,
	       l.lat, l.lng, l.updated_at, p.created_at
	FROM carrier_profiles p
	LEFT JOIN carrier_locations l ON l.carrier_id = p.id::text
`

// GetByID fetches a carrier profile by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	profile, err := scanProfile(r.db.QueryRow(ctx, profileSelect+` WHERE p.id::text = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("carrier: query by id: %w", err)
	}
	return profile, nil
}

// List fetches up to limit carrier profiles, best rated first.
func (r *Repository) List(ctx context.Context, limit int) ([]Profile, error) {
	limit = clampLimit(limit)
	return r.query(ctx, "list", profileSelect+` ORDER BY p.rating DESC, p.company_name ASC LIMIT $1`, limit)
}

// ByRoute fetches carriers with at least one route mentioning city.
func (r *Repository) ByRoute(ctx context.Context, city string, limit int) ([]Profile, error) {
	limit = clampLimit(limit)
	const where = `
		WHERE EXISTS (
			SELECT 1 FROM unnest(p.available_routes) AS route
			WHERE route ILIKE '%' || $1 || '%'
		)
		ORDER BY p.rating DESC, p.company_name ASC
		LIMIT $2
	`
	return r.query(ctx, "by route", profileSelect+where, city, limit)
}

func (r *Repository) query(ctx context.Context, what, sql string, args ...any) ([]Profile, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("carrier: %s: %w", what, err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, 16)
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("carrier: scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("carrier: iterate profiles: %w", err)
	}
	return profiles, nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.CompanyName,
		&p.Email,
		&p.Phone,
		&p.VehicleType,
		&p.CapacityTons,
		&p.AvailableRoutes,
		&p.InsuranceCoverage,
		&p.Rating,
		&p.Latitude,
		&p.Longitude,
		&p.LocatedAt,
		&p.CreatedAt,
	)
	return p, err
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 100
	}
	return limit
}

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"negotiatex/pkg/logger"
)

var (
	// ErrPersistenceUnavailable signals the position could not be stored. It
	// is reported to the caller as a degraded status, not a failure.
	ErrPersistenceUnavailable = errors.New("telemetry: persistence unavailable")
	ErrInvalidLocation        = errors.New("telemetry: invalid location")
	ErrNotFound               = errors.New("telemetry: no location for carrier")
)

// Location is a carrier's reported position.
type Location struct {
	CarrierID string    `json:"carrier_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DB is the subset of pgxpool.Pool used by Service.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Service keeps the latest position per carrier.
type Service struct {
	db  DB
	now func() time.Time
}

// NewService returns a Service writing through pool. A nil pool yields a
// Service whose writes all report ErrPersistenceUnavailable.
func NewService(pool *pgxpool.Pool) *Service {
	if pool == nil {
		return &Service{now: time.Now}
	}
	return &Service{db: pool, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Report upserts the carrier's position keyed by carrier id.
func (s *Service) Report(ctx context.Context, loc Location) (Location, error) {
	loc.CarrierID = strings.TrimSpace(loc.CarrierID)
	if err := validate(loc); err != nil {
		return Location{}, err
	}
	loc.UpdatedAt = s.now().UTC()

	if s.db == nil {
		return loc, ErrPersistenceUnavailable
	}

	const q = `
		INSERT INTO carrier_locations (carrier_id, lat, lng, speed, heading, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (carrier_id) DO UPDATE
		SET lat = EXCLUDED.lat,
		    lng = EXCLUDED.lng,
		    speed = EXCLUDED.speed,
		    heading = EXCLUDED.heading,
		    updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.Exec(ctx, q, loc.CarrierID, loc.Lat, loc.Lng, loc.Speed, loc.Heading, loc.UpdatedAt); err != nil {
		logger.Warn(ctx, "location upsert failed", "component", "telemetry", "carrier_id", loc.CarrierID, "error", err)
		return loc, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return loc, nil
}

// Latest returns the last stored position for a carrier.
func (s *Service) Latest(ctx context.Context, carrierID string) (Location, error) {
	if s.db == nil {
		return Location{}, ErrPersistenceUnavailable
	}
	const q = `
		SELECT carrier_id, lat, lng, speed, heading, updated_at
		FROM carrier_locations
		WHERE carrier_id = $1
	`
	var loc Location
	err := s.db.QueryRow(ctx, q, carrierID).Scan(&loc.CarrierID, &loc.Lat, &loc.Lng, &loc.Speed, &loc.Heading, &loc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, ErrNotFound
		}
		return Location{}, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return loc, nil
}

func validate(loc Location) error {
	if loc.CarrierID == "" {
		return fmt.Errorf("%w: carrier_id required", ErrInvalidLocation)
	}
	for _, v := range []float64{loc.Lat, loc.Lng, loc.Speed, loc.Heading} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidLocation)
		}
	}
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
		return fmt.Errorf("%w: coordinates out of range", ErrInvalidLocation)
	}
	if loc.Speed < 0 {
		return fmt.Errorf("%w: negative speed", ErrInvalidLocation)
	}
	return nil
}

package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound    = errors.New("notify: not found")
	ErrAlreadyRead = errors.New("notify: already read")
)

// DB is the subset of pgxpool.Pool used by PGStore.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGStore persists notifications so parties can read them later. It is also
// a Sink.
type PGStore struct {
	db DB
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{db: pool}
}

func (s *PGStore) Notify(ctx context.Context, n Notification) error {
	const query = `
		INSERT INTO notifications (recipient_role, session_id, message)
		VALUES ($1, NULLIF($2, ''), $3)
	`
	if _, err := s.db.Exec(ctx, query, n.Role, n.SessionID, n.Message); err != nil {
		return fmt.Errorf("notify: insert: %w", err)
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, role string, unreadOnly bool) ([]Notification, error) {
	query := `
		SELECT id::text, recipient_role, COALESCE(session_id, ''), message, status, created_at, read_at
		FROM notifications
		WHERE recipient_role = $1
	`
	if unreadOnly {
		query += " AND status = 'unread'"
	}
	query += " ORDER BY created_at DESC LIMIT 100"

	rows, err := s.db.Query(ctx, query, role)
	if err != nil {
		return nil, fmt.Errorf("notify: list: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0, 8)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Role, &n.SessionID, &n.Message, &n.Status, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, fmt.Errorf("notify: scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate: %w", err)
	}
	return out, nil
}

func (s *PGStore) MarkRead(ctx context.Context, role, id string) (Notification, error) {
	const query = `
		UPDATE notifications
		SET status = 'read', read_at = now()
		WHERE id::text = $1 AND recipient_role = $2 AND status <> 'read'
		RETURNING id::text, recipient_role, COALESCE(session_id, ''), message, status, created_at, read_at
	`

	var n Notification
	err := s.db.QueryRow(ctx, query, id, role).
		Scan(&n.ID, &n.Role, &n.SessionID, &n.Message, &n.Status, &n.CreatedAt, &n.ReadAt)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Notification{}, fmt.Errorf("notify: mark read: %w", err)
	}

	const check = `SELECT status FROM notifications WHERE id::text = $1 AND recipient_role = $2`
	var status Status
	if err := s.db.QueryRow(ctx, check, id, role).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, fmt.Errorf("notify: mark read fetch: %w", err)
	}
	return Notification{}, ErrAlreadyRead
}

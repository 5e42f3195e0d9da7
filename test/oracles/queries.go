package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_commit_has_idempotency_key",
			SQL: `SELECT n.session_id FROM ai_negotiations n
                  WHERE NOT EXISTS (
                      SELECT 1 FROM idempotency i WHERE i.key = 'agreement-commit:' || n.session_id)`,
		},
		{
			Name: "O2_commit_event_first",
			SQL: `SELECT n.id FROM ai_negotiations n
                  WHERE NOT EXISTS (
                      SELECT 1 FROM timeline_events e
                      WHERE e.negotiation_id = n.id AND e.seq = 1 AND e.type = 'AGREEMENT_COMMITTED')`,
		},
		{
			Name: "O3_timeline_seq_contiguous",
			SQL: `SELECT negotiation_id, COUNT(*), MAX(seq) FROM timeline_events
                  GROUP BY negotiation_id HAVING MAX(seq) <> COUNT(*)`,
		},
		{
			Name: "O4_single_terminal_status",
			SQL: `SELECT negotiation_id FROM timeline_events
                  WHERE type = 'AGREEMENT_STATUS_CHANGED'
                  GROUP BY negotiation_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_terminal_status_has_event",
			SQL: `SELECT n.id, n.status FROM ai_negotiations n
                  WHERE n.status <> 'pending_approval'
                    AND NOT EXISTS (
                        SELECT 1 FROM timeline_events e
                        WHERE e.negotiation_id = n.id AND e.type = 'AGREEMENT_STATUS_CHANGED')`,
		},
		{
			Name: "O6_single_accepted_response",
			SQL: `SELECT shipment_id, COUNT(*) FROM carrier_responses
                  WHERE status = 'accepted'
                  GROUP BY shipment_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O7_matched_iff_accepted",
			SQL: `SELECT s.id, s.status FROM shipment_requests s
                  WHERE (s.status = 'matched') <> EXISTS (
                      SELECT 1 FROM carrier_responses r
                      WHERE r.shipment_id = s.id AND r.status = 'accepted')`,
		},
		{
			Name: "O8_matched_has_outbox",
			SQL: `SELECT s.id FROM shipment_requests s
                  WHERE s.status = 'matched'
                    AND NOT EXISTS (
                        SELECT 1 FROM outbox o
                        WHERE o.topic = 'shipment.matched' AND o.payload->>'shipment_id' = s.id::text)`,
		},
		{
			Name: "O9_location_in_range",
			SQL: `SELECT carrier_id FROM carrier_locations
                  WHERE lat NOT BETWEEN -90 AND 90 OR lng NOT BETWEEN -180 AND 180 OR speed < 0`,
		},
	}
}

// Run executes every oracle and returns the first that found rows, with its
// first row rendered as text. An empty name means all passed.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprint(vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}

package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariants the store must hold at every instant. Each
// query returns the offending rows, so an empty result means it holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_accepted_bid_per_project",
			SQL: `SELECT project_id, COUNT(*) FROM bids
                  WHERE status = 'accepted'
                  GROUP BY project_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_accepted_bid_awards_project",
			SQL: `SELECT b.id, p.status FROM bids b
                  JOIN projects p ON p.id = b.project_id
                  WHERE b.status = 'accepted'
                    AND p.status NOT IN ('awarded','in_progress','completed')`,
		},
		{
			Name: "O3_completed_deposit_cascade",
			SQL: `SELECT d.id, b.status, p.status FROM deposits d
                  JOIN bids b ON b.id = d.bid_id
                  JOIN projects p ON p.id = d.project_id
                  WHERE d.status = 'completed'
                    AND (b.status <> 'accepted' OR p.status NOT IN ('awarded','in_progress','completed'))`,
		},
		{
			Name: "O4_deposit_amount_fixed_at_creation",
			SQL: `SELECT d.id, d.amount, b.amount, e.payload->>'deposit_percentage' FROM deposits d
                  JOIN bids b ON b.id = d.bid_id
                  JOIN timeline_events e ON e.type = 'DEPOSIT_INITIATED' AND e.payload->>'deposit_id' = d.id::text
                  WHERE d.amount <> round(b.amount * (e.payload->>'deposit_percentage')::numeric / 100) * 100`,
		},
		{
			Name: "O5_paid_at_matches_status",
			SQL: `SELECT id, status, paid_at FROM deposits
                  WHERE (status = 'completed') <> (paid_at IS NOT NULL)`,
		},
		{
			Name: "O6_accepted_bid_has_timeline_event",
			SQL: `SELECT b.id FROM bids b
                  WHERE b.status = 'accepted'
                    AND NOT EXISTS (
                        SELECT 1 FROM timeline_events e
                        WHERE e.project_id = b.project_id
                          AND e.type = 'BID_ACCEPTED'
                          AND e.payload->>'bid_id' = b.id::text)`,
		},
		{
			Name: "O7_outbox_stale",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending'
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_one_active_deposit_per_bid",
			SQL: `SELECT bid_id, COUNT(*) FROM deposits
                  WHERE status IN ('pending','processing','completed')
                  GROUP BY bid_id HAVING COUNT(*) > 1`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}

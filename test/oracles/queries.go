// Package oracles holds the SQL invariant checks the stress test runs
// against a live database. Each query returns zero rows when the invariant
// holds; any row is a violation.
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

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_reanalysis_bounded",
			SQL:  `SELECT id, reanalysis_count FROM disputes WHERE reanalysis_count < 0 OR reanalysis_count > 2`,
		},
		{
			Name: "O2_no_choices_during_analysis",
			SQL: `SELECT id, status::text FROM disputes
                  WHERE status IN ('analyzing', 'reanalyzing')
                    AND (plaintiff_choice IS NOT NULL OR respondent_choice IS NOT NULL)`,
		},
		{
			Name: "O3_round_has_zero_or_three_proposals",
			SQL: `SELECT dispute_id, round, COUNT(*) FROM dispute_proposals
                  GROUP BY dispute_id, round HAVING COUNT(*) <> 3`,
		},
		{
			Name: "O4_decision_phase_has_proposals",
			SQL: `SELECT d.id FROM disputes d
                  WHERE d.status = 'awaiting_decision'
                    AND NOT EXISTS (
                        SELECT 1 FROM dispute_proposals p
                        WHERE p.dispute_id = d.id AND p.round = d.reanalysis_count)`,
		},
		{
			Name: "O5_resolution_started_once",
			SQL: `SELECT dispute_id, COUNT(*) FROM dispute_events
                  WHERE type = 'RESOLUTION_STARTED'
                  GROUP BY dispute_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_escalated_once",
			SQL: `SELECT dispute_id, COUNT(*) FROM dispute_events
                  WHERE type IN ('ESCALATED_TO_COURT', 'ADMIN_FORCED_TO_COURT')
                  GROUP BY dispute_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O7_event_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT dispute_id, seq,
                             LAG(seq) OVER (PARTITION BY dispute_id ORDER BY seq) AS prev
                      FROM dispute_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O8_court_flag_consistent",
			SQL: `SELECT id FROM disputes
                  WHERE forwarded_to_court <> (status = 'forwarded_to_court')`,
		},
		{
			Name: "O9_resolved_has_timestamp",
			SQL: `SELECT id FROM disputes
                  WHERE (status = 'resolved') <> (resolved_at IS NOT NULL)`,
		},
		{
			Name: "O10_consensus_before_resolution",
			SQL: `SELECT id FROM disputes
                  WHERE status IN ('resolution_in_progress', 'resolution_verified', 'resolution_signed', 'admin_review', 'resolved')
                    AND (plaintiff_choice IS NULL
                         OR respondent_choice IS NULL
                         OR plaintiff_choice <> respondent_choice
                         OR plaintiff_choice = -1)`,
		},
		{
			Name: "O11_outbox_not_stuck",
			SQL: `SELECT id::text FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O12_dispute_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_delete_disputes')`,
		},
	}
}

// Run executes all oracles and returns the first failing oracle's name with
// a sample row, or an empty name when every invariant holds.
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
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}

package notify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Outbox is the pgx-backed Source implementation. One dispatcher per
// deployment drains it; delivery bookkeeping lives in the status column.
type Outbox struct {
	pool *pgxpool.Pool
}

func NewOutbox(pool *pgxpool.Pool) *Outbox {
	return &Outbox{pool: pool}
}

func (o *Outbox) NextPending(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	const query = `
		SELECT id, topic, payload
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := o.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: query pending: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.Payload); err != nil {
			return nil, fmt.Errorf("notify: scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate events: %w", err)
	}
	return out, nil
}

func (o *Outbox) MarkProcessed(ctx context.Context, id string) error {
	if _, err := o.pool.Exec(ctx, `
		UPDATE outbox SET status = 'processed', attempts = attempts + 1 WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("notify: mark processed: %w", err)
	}
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, maxAttempts int) error {
	if _, err := o.pool.Exec(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $2 THEN 'dead' ELSE 'pending' END
		WHERE id = $1
	`, id, maxAttempts); err != nil {
		return fmt.Errorf("notify: mark failed: %w", err)
	}
	return nil
}

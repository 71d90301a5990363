package transcript

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides append-only access to dispute messages and evidence.
// Rows are never updated or deleted; ordering is creation time.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertMessage appends a message inside the caller's transaction so the
// insert and the dispute's cached count move together.
func (r *Repository) InsertMessage(ctx context.Context, tx pgx.Tx, disputeID, senderID, body string) (Message, error) {
	const query = `
		INSERT INTO dispute_messages (dispute_id, sender_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, dispute_id, sender_id, body, created_at
	`
	var msg Message
	err := tx.QueryRow(ctx, query, disputeID, senderID, body).
		Scan(&msg.ID, &msg.DisputeID, &msg.SenderID, &msg.Body, &msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("transcript: insert message: %w", err)
	}
	return msg, nil
}

// InsertEvidence appends an evidence metadata row inside the caller's
// transaction.
func (r *Repository) InsertEvidence(ctx context.Context, tx pgx.Tx, disputeID, uploaderID, fileName, fileRef string) (Evidence, error) {
	const query = `
		INSERT INTO dispute_evidence (dispute_id, uploader_id, file_name, file_ref)
		VALUES ($1, $2, $3, $4)
		RETURNING id, dispute_id, uploader_id, file_name, file_ref, created_at
	`
	var ev Evidence
	err := tx.QueryRow(ctx, query, disputeID, uploaderID, fileName, fileRef).
		Scan(&ev.ID, &ev.DisputeID, &ev.UploaderID, &ev.FileName, &ev.FileRef, &ev.CreatedAt)
	if err != nil {
		return Evidence{}, fmt.Errorf("transcript: insert evidence: %w", err)
	}
	return ev, nil
}

// ListMessages returns the full transcript for a dispute in creation order.
func (r *Repository) ListMessages(ctx context.Context, disputeID string) ([]Message, error) {
	const query = `
		SELECT id, dispute_id, sender_id, body, created_at
		FROM dispute_messages
		WHERE dispute_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("transcript: list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 16)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.DisputeID, &msg.SenderID, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("transcript: scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript: iterate messages: %w", err)
	}
	return out, nil
}

// ListEvidence returns evidence metadata for a dispute in upload order.
func (r *Repository) ListEvidence(ctx context.Context, disputeID string) ([]Evidence, error) {
	const query = `
		SELECT id, dispute_id, uploader_id, file_name, file_ref, created_at
		FROM dispute_evidence
		WHERE dispute_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("transcript: list evidence: %w", err)
	}
	defer rows.Close()

	out := make([]Evidence, 0, 8)
	for rows.Next() {
		var ev Evidence
		if err := rows.Scan(&ev.ID, &ev.DisputeID, &ev.UploaderID, &ev.FileName, &ev.FileRef, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("transcript: scan evidence: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript: iterate evidence: %w", err)
	}
	return out, nil
}

package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the pgx-backed Store implementation.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `
	id, plaintiff_id, respondent_id, plaintiff_contact, respondent_contact,
	facts, status::text, message_count, reanalysis_count,
	plaintiff_choice, respondent_choice,
	plaintiff_verified, respondent_verified,
	plaintiff_signature, respondent_signature,
	proposals_origin, forwarded_to_court, court_details,
	resolved_at, created_at, updated_at
`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec               Record
		plaintiffContact  []byte
		respondentContact []byte
		courtDetails      []byte
		plaintiffID       string
		respondentID      string
		origin            *string
	)
	err := row.Scan(
		&rec.ID, &plaintiffID, &respondentID, &plaintiffContact, &respondentContact,
		&rec.Facts, &rec.Status, &rec.MessageCount, &rec.ReanalysisCount,
		&rec.PlaintiffChoice, &rec.RespondentChoice,
		&rec.PlaintiffVerified, &rec.RespondentVerified,
		&rec.PlaintiffSignature, &rec.RespondentSignature,
		&origin, &rec.ForwardedToCourt, &courtDetails,
		&rec.ResolvedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(plaintiffContact, &rec.Plaintiff); err != nil {
		return Record{}, fmt.Errorf("dispute: decode plaintiff contact: %w", err)
	}
	if err := json.Unmarshal(respondentContact, &rec.Respondent); err != nil {
		return Record{}, fmt.Errorf("dispute: decode respondent contact: %w", err)
	}
	if len(courtDetails) > 0 {
		if err := json.Unmarshal(courtDetails, &rec.CourtDetails); err != nil {
			return Record{}, fmt.Errorf("dispute: decode court details: %w", err)
		}
	}
	if origin != nil {
		rec.ProposalsOrigin = ProposalOrigin(*origin)
	}
	// Contact snapshots carry the canonical party ids.
	rec.Plaintiff.UserID = plaintiffID
	rec.Respondent.UserID = respondentID
	return rec, nil
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	plaintiffContact, err := json.Marshal(rec.Plaintiff)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: marshal plaintiff contact: %w", err)
	}
	respondentContact, err := json.Marshal(rec.Respondent)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: marshal respondent contact: %w", err)
	}

	query := `
		INSERT INTO disputes (id, plaintiff_id, respondent_id, plaintiff_contact, respondent_contact, facts, status)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, 'pending')
		RETURNING ` + recordColumns

	created, err := scanRecord(tx.QueryRow(ctx, query,
		rec.ID, rec.Plaintiff.UserID, rec.Respondent.UserID,
		plaintiffContact, respondentContact, rec.Facts,
	))
	if err != nil {
		return Record{}, fmt.Errorf("dispute: insert: %w", err)
	}
	return created, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	query := `SELECT ` + recordColumns + ` FROM disputes WHERE id = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	rec.Proposals, err = r.currentProposals(ctx, r.pool, id, rec.Round())
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// GetForUpdate locks the dispute row for the remainder of the transaction
// and loads the current round's proposals under that lock.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	query := `SELECT ` + recordColumns + ` FROM disputes WHERE id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get for update: %w", err)
	}
	rec.Proposals, err = r.currentProposals(ctx, tx, id, rec.Round())
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repository) currentProposals(ctx context.Context, q querier, id string, round int) ([]Proposal, error) {
	const query = `
		SELECT title, description, plaintiff_rationale, respondent_rationale
		FROM dispute_proposals
		WHERE dispute_id = $1 AND round = $2
		ORDER BY idx ASC
	`
	rows, err := q.Query(ctx, query, id, round)
	if err != nil {
		return nil, fmt.Errorf("dispute: load proposals: %w", err)
	}
	defer rows.Close()

	var out []Proposal
	for rows.Next() {
		var p Proposal
		if err := rows.Scan(&p.Title, &p.Description, &p.PlaintiffRationale, &p.RespondentRationale); err != nil {
			return nil, fmt.Errorf("dispute: scan proposal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate proposals: %w", err)
	}
	return out, nil
}

func (r *Repository) ListForUser(ctx context.Context, userID string) ([]Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM disputes
		WHERE plaintiff_id = $1 OR respondent_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// SetStatus applies a status transition with an optimistic guard on the
// expected current status. Zero rows updated means the row moved underneath
// the caller.
func (r *Repository) SetStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status) error {
	tag, err := tx.Exec(ctx, `
		UPDATE disputes
		SET status = $1::dispute_status, updated_at = now()
		WHERE id = $2 AND status = $3::dispute_status
	`, to, id, from)
	if err != nil {
		return fmt.Errorf("dispute: set status %s -> %s: %w", from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *Repository) SetChoice(ctx context.Context, tx pgx.Tx, id string, role Role, choice int) error {
	column := "plaintiff_choice"
	if role == RoleRespondent {
		column = "respondent_choice"
	}
	tag, err := tx.Exec(ctx,
		`UPDATE disputes SET `+column+` = $1, updated_at = now() WHERE id = $2`,
		choice, id)
	if err != nil {
		return fmt.Errorf("dispute: set %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetRound starts a fresh proposal round: bumps the reanalysis counter and
// clears both choices. Proposals of earlier rounds stay on disk as history;
// the current round simply has none until analysis completes.
func (r *Repository) ResetRound(ctx context.Context, tx pgx.Tx, id string, newCount int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE disputes
		SET reanalysis_count = $1,
		    plaintiff_choice = NULL,
		    respondent_choice = NULL,
		    proposals_origin = NULL,
		    updated_at = now()
		WHERE id = $2 AND reanalysis_count = $1 - 1
	`, newCount, id)
	if err != nil {
		return fmt.Errorf("dispute: reset round: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *Repository) InstallProposals(ctx context.Context, tx pgx.Tx, id string, round int, proposals []Proposal, origin ProposalOrigin) error {
	for idx, p := range proposals {
		if _, err := tx.Exec(ctx, `
			INSERT INTO dispute_proposals (dispute_id, round, idx, title, description, plaintiff_rationale, respondent_rationale, origin)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, id, round, idx, p.Title, p.Description, p.PlaintiffRationale, p.RespondentRationale, string(origin)); err != nil {
			return fmt.Errorf("dispute: insert proposal %d: %w", idx, err)
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE disputes SET proposals_origin = $1, updated_at = now() WHERE id = $2`,
		string(origin), id); err != nil {
		return fmt.Errorf("dispute: set proposals origin: %w", err)
	}
	return nil
}

func (r *Repository) IncrementMessageCount(ctx context.Context, tx pgx.Tx, id string) (int, error) {
	var count int
	err := tx.QueryRow(ctx, `
		UPDATE disputes
		SET message_count = message_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING message_count
	`, id).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("dispute: increment message count: %w", err)
	}
	return count, nil
}

func (r *Repository) SetVerified(ctx context.Context, tx pgx.Tx, id string, role Role) error {
	column := "plaintiff_verified"
	if role == RoleRespondent {
		column = "respondent_verified"
	}
	if _, err := tx.Exec(ctx,
		`UPDATE disputes SET `+column+` = true, updated_at = now() WHERE id = $1`,
		id); err != nil {
		return fmt.Errorf("dispute: set %s: %w", column, err)
	}
	return nil
}

func (r *Repository) SetSignature(ctx context.Context, tx pgx.Tx, id string, role Role, sigRef string) error {
	column := "plaintiff_signature"
	if role == RoleRespondent {
		column = "respondent_signature"
	}
	if _, err := tx.Exec(ctx,
		`UPDATE disputes SET `+column+` = $1, updated_at = now() WHERE id = $2`,
		sigRef, id); err != nil {
		return fmt.Errorf("dispute: set %s: %w", column, err)
	}
	return nil
}

func (r *Repository) MarkResolved(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE disputes
		SET status = 'resolved', resolved_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'admin_review'
	`, id)
	if err != nil {
		return fmt.Errorf("dispute: mark resolved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// ForceCourt flips the dispute into its terminal court-referral state. The
// status and the forwarded flag move in one statement so the table's
// consistency check always holds.
func (r *Repository) ForceCourt(ctx context.Context, tx pgx.Tx, id string, from Status, details map[string]any) error {
	var payload []byte
	if details != nil {
		var err error
		payload, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("dispute: marshal court details: %w", err)
		}
	}
	tag, err := tx.Exec(ctx, `
		UPDATE disputes
		SET status = 'forwarded_to_court',
		    forwarded_to_court = true,
		    court_details = $1,
		    updated_at = now()
		WHERE id = $2 AND status = $3::dispute_status
	`, payload, id, from)
	if err != nil {
		return fmt.Errorf("dispute: forward to court: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// AppendEvent writes one audit ledger row. The per-dispute sequence is
// computed under the row lock held by the surrounding transaction.
func (r *Repository) AppendEvent(ctx context.Context, tx pgx.Tx, id, eventType string, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispute: marshal event payload: %w", err)
	}
	var actor any
	if actorID != "" {
		actor = actorID
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO dispute_events (dispute_id, seq, type, actor_id, payload)
		VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM dispute_events WHERE dispute_id = $1), $2, $3::uuid, $4::jsonb)
	`, id, eventType, actor, body); err != nil {
		return fmt.Errorf("dispute: append event: %w", err)
	}
	return nil
}

func (r *Repository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispute: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("dispute: enqueue outbox: %w", err)
	}
	return nil
}

package dispute

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the persistence contract the state machine drives. Every mutating
// method runs inside the caller's transaction; the dispute row is locked by
// GetForUpdate first, so per-dispute transitions are linearizable.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	ListForUser(ctx context.Context, userID string) ([]Record, error)

	SetStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status) error
	SetChoice(ctx context.Context, tx pgx.Tx, id string, role Role, choice int) error
	ResetRound(ctx context.Context, tx pgx.Tx, id string, newCount int) error
	InstallProposals(ctx context.Context, tx pgx.Tx, id string, round int, proposals []Proposal, origin ProposalOrigin) error
	IncrementMessageCount(ctx context.Context, tx pgx.Tx, id string) (int, error)
	SetVerified(ctx context.Context, tx pgx.Tx, id string, role Role) error
	SetSignature(ctx context.Context, tx pgx.Tx, id string, role Role, sigRef string) error
	MarkResolved(ctx context.Context, tx pgx.Tx, id string) error
	ForceCourt(ctx context.Context, tx pgx.Tx, id string, from Status, details map[string]any) error

	AppendEvent(ctx context.Context, tx pgx.Tx, id, eventType string, actorID string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

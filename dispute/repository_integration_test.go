package dispute_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"caseflow/dispute"
	"caseflow/transcript"
)

type fixedOracle struct {
	fail bool
}

func (o fixedOracle) GenerateProposals(_ context.Context, _ dispute.OracleRequest) ([]dispute.Proposal, error) {
	if o.fail {
		return nil, fmt.Errorf("oracle down")
	}
	return []dispute.Proposal{
		{Title: "Refund", Description: "Full refund.", PlaintiffRationale: "pr", RespondentRationale: "rr"},
		{Title: "Partial refund", Description: "Half refund.", PlaintiffRationale: "pr", RespondentRationale: "rr"},
		{Title: "Replacement", Description: "Replace the goods.", PlaintiffRationale: "pr", RespondentRationale: "rr"},
	}, nil
}

type syncRunner struct{}

func (syncRunner) Submit(_ string, task func(ctx context.Context)) {
	task(context.Background())
}

// TestDisputeLifecycle_Integration connects to a real PostgreSQL via
// DATABASE_URL and drives one dispute from filing to resolution through the
// pgx repository, verifying rows, the event ledger, and the outbox.
func TestDisputeLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"users", "disputes", "dispute_proposals", "dispute_messages", "dispute_events", "outbox"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skipf("table %s missing; apply migrations/ first", table)
		}
	}

	nonce := time.Now().UnixNano()
	var plaintiffID, respondentID string
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name) VALUES ($1, $2) RETURNING id::text`,
		fmt.Sprintf("plaintiff+%d@example.com", nonce), "Ivy Plaintiff").Scan(&plaintiffID); err != nil {
		t.Fatalf("seed plaintiff: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name) VALUES ($1, $2) RETURNING id::text`,
		fmt.Sprintf("respondent+%d@example.com", nonce), "Rex Respondent").Scan(&respondentID); err != nil {
		t.Fatalf("seed respondent: %v", err)
	}
	var adminID string
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, role) VALUES ($1, $2, 'admin') RETURNING id::text`,
		fmt.Sprintf("admin+%d@example.com", nonce), "Ada Admin").Scan(&adminID); err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	repo := dispute.NewRepository(pool)
	transcripts := transcript.NewRepository(pool)
	svc := dispute.NewService(pool, repo, transcripts, fixedOracle{}, syncRunner{}, dispute.DefaultConfig())

	rec, err := svc.File(ctx, dispute.FileParams{
		Plaintiff:  dispute.Contact{UserID: plaintiffID, FullName: "Ivy Plaintiff", Email: "ivy@example.com"},
		Respondent: dispute.Contact{UserID: respondentID, FullName: "Rex Respondent", Email: "rex@example.com"},
		Facts:      "goods delivered damaged, refund refused",
	})
	if err != nil {
		t.Fatalf("file: %v", err)
	}

	// dispute rows survive terminal states; only the derived tables are
	// cleaned up (the disputes table itself refuses deletes)
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'dispute_id' = $1`, rec.ID)
	})

	if _, err := svc.AcceptCase(ctx, rec.ID, respondentID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	senders := []string{plaintiffID, respondentID}
	for i := 0; i < 10; i++ {
		if _, err := svc.AppendMessage(ctx, rec.ID, dispute.Actor{ID: senders[i%2]}, fmt.Sprintf("message %d", i+1)); err != nil {
			t.Fatalf("message %d: %v", i+1, err)
		}
	}

	got, err := svc.Get(ctx, rec.ID, dispute.Actor{ID: plaintiffID})
	if err != nil {
		t.Fatalf("get after threshold: %v", err)
	}
	if got.Status != dispute.StatusAwaitingDecision {
		t.Fatalf("expected awaiting_decision, got %s", got.Status)
	}
	if len(got.Proposals) != dispute.ProposalsPerRound {
		t.Fatalf("expected %d proposals, got %d", dispute.ProposalsPerRound, len(got.Proposals))
	}

	// round 0 mismatch burns the first reanalysis
	if _, err := svc.RecordChoice(ctx, rec.ID, plaintiffID, 0); err != nil {
		t.Fatalf("plaintiff vote round 0: %v", err)
	}
	if _, err := svc.RecordChoice(ctx, rec.ID, respondentID, 2); err != nil {
		t.Fatalf("respondent vote round 0: %v", err)
	}

	got, err = svc.Get(ctx, rec.ID, dispute.Actor{ID: plaintiffID})
	if err != nil {
		t.Fatalf("get after mismatch: %v", err)
	}
	if got.ReanalysisCount != 1 || got.Status != dispute.StatusAwaitingDecision {
		t.Fatalf("expected round 1 awaiting decision, got round %d status %s", got.ReanalysisCount, got.Status)
	}
	if got.PlaintiffChoice != nil || got.RespondentChoice != nil {
		t.Fatal("round reset left choices set")
	}

	// round 0 proposals stay on disk as history
	var historyRows int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM dispute_proposals WHERE dispute_id = $1`, rec.ID).Scan(&historyRows); err != nil {
		t.Fatalf("count proposals: %v", err)
	}
	if historyRows != 2*dispute.ProposalsPerRound {
		t.Fatalf("expected %d proposal rows across rounds, got %d", 2*dispute.ProposalsPerRound, historyRows)
	}

	// round 1 consensus enters the resolution phase
	if _, err := svc.RecordChoice(ctx, rec.ID, plaintiffID, 1); err != nil {
		t.Fatalf("plaintiff vote round 1: %v", err)
	}
	if _, err := svc.RecordChoice(ctx, rec.ID, respondentID, 1); err != nil {
		t.Fatalf("respondent vote round 1: %v", err)
	}

	if _, err := svc.VerifyResolution(ctx, rec.ID, plaintiffID); err != nil {
		t.Fatalf("plaintiff verify: %v", err)
	}
	if _, err := svc.VerifyResolution(ctx, rec.ID, respondentID); err != nil {
		t.Fatalf("respondent verify: %v", err)
	}
	if _, err := svc.SubmitSignature(ctx, rec.ID, plaintiffID, "sig-plaintiff"); err != nil {
		t.Fatalf("plaintiff sign: %v", err)
	}
	if _, err := svc.SubmitSignature(ctx, rec.ID, respondentID, "sig-respondent"); err != nil {
		t.Fatalf("respondent sign: %v", err)
	}

	final, err := svc.AdminFinalize(ctx, rec.ID, dispute.Actor{ID: adminID, Admin: true})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final.Status != dispute.StatusResolved {
		t.Fatalf("expected resolved, got %s", final.Status)
	}

	// row-level assertions
	var status string
	var resolvedAt *time.Time
	if err := pool.QueryRow(ctx, `SELECT status::text, resolved_at FROM disputes WHERE id = $1`, rec.ID).Scan(&status, &resolvedAt); err != nil {
		t.Fatalf("verify dispute row: %v", err)
	}
	if status != "resolved" || resolvedAt == nil {
		t.Fatalf("dispute row: status=%s resolved_at=%v", status, resolvedAt)
	}

	// the event ledger is gapless per dispute
	var evCount, maxSeq int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(MAX(seq), 0) FROM dispute_events WHERE dispute_id = $1`, rec.ID).Scan(&evCount, &maxSeq); err != nil {
		t.Fatalf("verify events: %v", err)
	}
	if evCount == 0 || evCount != maxSeq {
		t.Fatalf("event ledger has gaps: count=%d max seq=%d", evCount, maxSeq)
	}
	var resolutionStarts int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM dispute_events WHERE dispute_id = $1 AND type = 'RESOLUTION_STARTED'`, rec.ID).Scan(&resolutionStarts); err != nil {
		t.Fatalf("verify resolution events: %v", err)
	}
	if resolutionStarts != 1 {
		t.Fatalf("expected exactly 1 RESOLUTION_STARTED, got %d", resolutionStarts)
	}

	var outboxCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE payload->>'dispute_id' = $1 AND topic = 'dispute.resolved'`, rec.ID).Scan(&outboxCount); err != nil {
		t.Fatalf("verify outbox: %v", err)
	}
	if outboxCount != 1 {
		t.Fatalf("expected 1 dispute.resolved outbox row, got %d", outboxCount)
	}

	// terminal rows cannot be deleted
	if _, err := pool.Exec(ctx, `DELETE FROM disputes WHERE id = $1`, rec.ID); err == nil {
		t.Fatal("expected delete on disputes to be rejected")
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}

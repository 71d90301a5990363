// Package actors contains the concurrent workloads of the stress test. Each
// actor drives the dispute service the way a client would and treats the
// contention errors of the state machine as expected outcomes.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"caseflow/dispute"
	"caseflow/notify"
)

// expected reports whether err is a normal consequence of racing another
// actor or of chaos killing a backend, rather than a defect.
func expected(err error) bool {
	if errors.Is(err, dispute.ErrStaleState) ||
		errors.Is(err, dispute.ErrAlreadyTerminal) ||
		errors.Is(err, dispute.ErrLimitExceeded) ||
		errors.Is(err, dispute.ErrInvalidChoice) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// admin_shutdown and connection_failure show up when the chaos
		// actor terminates a backend mid-statement
		return pgErr.Code == "57P01" || pgErr.Code == "08006"
	}
	return strings.Contains(err.Error(), "conn closed") ||
		strings.Contains(err.Error(), "unexpected EOF")
}

// Party identifies one seeded user available to the actors.
type Party struct {
	ID    string
	Name  string
	Email string
}

// Litigant repeatedly runs full dispute lifecycles between two seeded users:
// file, accept, message past the analysis threshold, then vote until the
// dispute reaches a terminal or resolution state.
func Litigant(ctx context.Context, svc *dispute.Service, plaintiff, respondent Party, threshold int, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := runLifecycle(ctx, svc, plaintiff, respondent, threshold); err != nil {
			return err
		}
		time.Sleep(time.Duration(20+rand.Intn(60)) * time.Millisecond)
	}
}

func runLifecycle(ctx context.Context, svc *dispute.Service, plaintiff, respondent Party, threshold int) error {
	rec, err := svc.File(ctx, dispute.FileParams{
		Plaintiff:  dispute.Contact{UserID: plaintiff.ID, FullName: plaintiff.Name, Email: plaintiff.Email},
		Respondent: dispute.Contact{UserID: respondent.ID, FullName: respondent.Name, Email: respondent.Email},
		Facts:      fmt.Sprintf("stress case %d", rand.Int63()),
	})
	if err != nil {
		if expected(err) {
			return nil
		}
		return fmt.Errorf("litigant file: %w", err)
	}
	if _, err := svc.AcceptCase(ctx, rec.ID, respondent.ID); err != nil && !expected(err) {
		return fmt.Errorf("litigant accept: %w", err)
	}

	senders := []string{plaintiff.ID, respondent.ID}
	for i := 0; i < threshold; i++ {
		if _, err := svc.AppendMessage(ctx, rec.ID, dispute.Actor{ID: senders[i%2]}, fmt.Sprintf("line %d", i)); err != nil {
			if expected(err) {
				return nil
			}
			return fmt.Errorf("litigant message: %w", err)
		}
	}

	// vote until the dispute leaves the decision loop; analysis runs in the
	// background, so awaiting the proposals means polling
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		got, err := svc.Get(ctx, rec.ID, dispute.Actor{ID: plaintiff.ID})
		if err != nil {
			if expected(err) {
				return nil
			}
			return fmt.Errorf("litigant get: %w", err)
		}
		if got.Status.Terminal() || got.Status.InResolution() {
			return nil
		}
		if got.Status == dispute.StatusAwaitingDecision {
			for _, voter := range senders {
				choice := rand.Intn(dispute.ProposalsPerRound+1) - 1
				if _, err := svc.RecordChoice(ctx, rec.ID, voter, choice); err != nil && !expected(err) {
					return fmt.Errorf("litigant vote: %w", err)
				}
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
	return nil
}

// Voter hammers one shared dispute with votes. Most attempts fail with a
// stale-state error; the point is that the failures are clean and the
// transitions they race against fire exactly once.
func Voter(ctx context.Context, svc *dispute.Service, disputeID, userID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		choice := rand.Intn(dispute.ProposalsPerRound+1) - 1
		if _, err := svc.RecordChoice(ctx, disputeID, userID, choice); err != nil && !expected(err) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("voter: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Messenger keeps a shared dispute's transcript growing so analysis triggers
// fire under contention.
func Messenger(ctx context.Context, svc *dispute.Service, disputeID, userID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := svc.AppendMessage(ctx, disputeID, dispute.Actor{ID: userID}, fmt.Sprintf("stress %d", rand.Int63())); err != nil && !expected(err) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("messenger: %w", err)
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Verifier drives the resolution phase of a shared dispute whenever it gets
// there: verify, sign, and count on the admin reviewer to finalize.
func Verifier(ctx context.Context, svc *dispute.Service, disputeID, userID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := svc.VerifyResolution(ctx, disputeID, userID); err != nil && !expected(err) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("verifier: %w", err)
		}
		if _, err := svc.SubmitSignature(ctx, disputeID, userID, fmt.Sprintf("sig-%s", userID)); err != nil && !expected(err) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("verifier sign: %w", err)
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// AdminReviewer finalizes every dispute sitting in admin review. Racing
// reviewers are fine: one finalize wins, the rest see a terminal record.
func AdminReviewer(ctx context.Context, svc *dispute.Service, pool *pgxpool.Pool, adminID string, stop <-chan struct{}) error {
	admin := dispute.Actor{ID: adminID, Admin: true}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		rows, err := pool.Query(ctx, `SELECT id FROM disputes WHERE status = 'admin_review' LIMIT 20`)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err == nil {
				ids = append(ids, id)
			}
		}
		rows.Close()
		for _, id := range ids {
			if _, err := svc.AdminFinalize(ctx, id, admin); err != nil && !expected(err) && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("admin finalize: %w", err)
			}
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// AdminForcer picks disputes by id from the provided feed and forces them to
// court. Forcing an already terminal dispute must fail cleanly.
func AdminForcer(ctx context.Context, svc *dispute.Service, adminID string, feed <-chan string, stop <-chan struct{}) error {
	admin := dispute.Actor{ID: adminID, Admin: true}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case id := <-feed:
			if rand.Intn(4) != 0 {
				continue
			}
			if _, err := svc.AdminForceCourt(ctx, id, admin, map[string]any{"court": "stress-court"}); err != nil && !expected(err) && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("admin force: %w", err)
			}
		}
	}
}

// OutboxWorker drains the outbox through the notify dispatcher with a sink
// that fails a fraction of deliveries, exercising the retry bookkeeping.
func OutboxWorker(ctx context.Context, source notify.Source, stop <-chan struct{}) error {
	d := notify.NewDispatcher(source, flakySink{}, 100*time.Millisecond)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := d.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("outbox drain: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

type flakySink struct{}

func (flakySink) Deliver(_ context.Context, _ notify.Event) error {
	if rand.Intn(10) == 0 {
		return errors.New("simulated delivery failure")
	}
	return nil
}

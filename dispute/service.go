package dispute

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"caseflow/escalation"
	"caseflow/transcript"
)

// Config carries the business constants of the lifecycle. They are fixed at
// wiring time, never changed mid-flight.
type Config struct {
	// MessageThreshold is the transcript size that triggers the first
	// automatic analysis.
	MessageThreshold int
	// MaxReanalysis bounds extra proposal rounds beyond the original.
	MaxReanalysis int
	// OracleTimeout bounds one proposal-generation attempt.
	OracleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MessageThreshold: 10,
		MaxReanalysis:    escalation.MaxReanalysis,
		OracleTimeout:    45 * time.Second,
	}
}

// TaskRunner schedules background oracle calls. Tasks for unrelated disputes
// run concurrently; completion re-enters the state machine through the same
// transactional path as every other event.
type TaskRunner interface {
	Submit(disputeID string, task func(ctx context.Context))
}

// TranscriptStore is the slice of the transcript repository the state
// machine needs: appending rows inside its transactions and reading the full
// transcript for an oracle call.
type TranscriptStore interface {
	InsertMessage(ctx context.Context, tx pgx.Tx, disputeID, senderID, body string) (transcript.Message, error)
	InsertEvidence(ctx context.Context, tx pgx.Tx, disputeID, uploaderID, fileName, fileRef string) (transcript.Evidence, error)
	ListMessages(ctx context.Context, disputeID string) ([]transcript.Message, error)
}

// Actor identifies the caller of an operation. Admin actions bypass the
// party check but share the same locking discipline as party actions.
type Actor struct {
	ID    string
	Admin bool
}

// Service is the dispute lifecycle state machine. Every mutating operation
// loads the dispute row under a lock, validates the event against the
// current state, applies the transition, and commits before any side effect
// leaves the process.
type Service struct {
	pool        TxBeginner
	store       Store
	transcripts TranscriptStore
	oracle      Oracle
	runner      TaskRunner
	cfg         Config
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, store Store, transcripts TranscriptStore, oracle Oracle, runner TaskRunner, cfg Config) *Service {
	if cfg.MessageThreshold <= 0 {
		cfg.MessageThreshold = DefaultConfig().MessageThreshold
	}
	if cfg.MaxReanalysis <= 0 {
		cfg.MaxReanalysis = DefaultConfig().MaxReanalysis
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = DefaultConfig().OracleTimeout
	}
	return &Service{
		pool:        pool,
		store:       store,
		transcripts: transcripts,
		oracle:      oracle,
		runner:      runner,
		cfg:         cfg,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// FileParams carries the filing input. Contact snapshots are captured here
// and stay immutable for the life of the dispute.
type FileParams struct {
	Plaintiff  Contact
	Respondent Contact
	Facts      string
}

// File creates a dispute in pending state.
func (s *Service) File(ctx context.Context, params FileParams) (Record, error) {
	if err := validateContact(params.Plaintiff); err != nil {
		return Record{}, err
	}
	if err := validateContact(params.Respondent); err != nil {
		return Record{}, err
	}
	if params.Plaintiff.UserID == params.Respondent.UserID {
		return Record{}, fmt.Errorf("%w: plaintiff and respondent must differ", ErrValidation)
	}
	if params.Facts == "" {
		return Record{}, fmt.Errorf("%w: facts required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.Insert(ctx, tx, Record{
		ID:         s.idGenerator(),
		Plaintiff:  params.Plaintiff,
		Respondent: params.Respondent,
		Facts:      params.Facts,
		Status:     StatusPending,
	})
	if err != nil {
		return Record{}, err
	}

	if err := s.store.AppendEvent(ctx, tx, rec.ID, EventFiled, params.Plaintiff.UserID, map[string]any{
		"respondent_id": params.Respondent.UserID,
	}); err != nil {
		return Record{}, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, TopicDisputeFiled, map[string]any{
		"dispute_id":    rec.ID,
		"plaintiff_id":  rec.Plaintiff.UserID,
		"respondent_id": rec.Respondent.UserID,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit filing: %w", err)
	}
	return rec, nil
}

func validateContact(c Contact) error {
	if c.UserID == "" || c.FullName == "" || c.Email == "" {
		return fmt.Errorf("%w: party contact requires user id, full name and email", ErrValidation)
	}
	return nil
}

// AcceptCase moves a pending dispute to active. Only the named respondent
// may accept; anyone else is rejected without a transition.
func (s *Service) AcceptCase(ctx context.Context, disputeID, respondentID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Respondent.UserID != respondentID {
		return Record{}, ErrNotAuthorized
	}
	if rec.Status != StatusPending {
		return Record{}, ErrStaleState
	}

	mustTransition(rec.Status, StatusActive)
	if err := s.store.SetStatus(ctx, tx, rec.ID, rec.Status, StatusActive); err != nil {
		return Record{}, err
	}
	if err := s.store.AppendEvent(ctx, tx, rec.ID, EventAccepted, respondentID, nil); err != nil {
		return Record{}, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, TopicDisputeAccepted, map[string]any{
		"dispute_id": rec.ID,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit accept: %w", err)
	}
	rec.Status = StatusActive
	return rec, nil
}

// AppendMessage appends a transcript message and evaluates the analysis
// trigger. The trigger is a level check guarded by the active status, so
// re-evaluating it after the threshold is satisfied is a no-op even when
// concurrent sends race.
func (s *Service) AppendMessage(ctx context.Context, disputeID string, sender Actor, body string) (transcript.Message, error) {
	if body == "" {
		return transcript.Message{}, fmt.Errorf("%w: empty message body", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return transcript.Message{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return transcript.Message{}, err
	}
	if rec.Status.Terminal() {
		return transcript.Message{}, ErrAlreadyTerminal
	}
	if !sender.Admin && rec.RoleOf(sender.ID) == "" {
		return transcript.Message{}, ErrNotAParty
	}

	msg, err := s.transcripts.InsertMessage(ctx, tx, rec.ID, sender.ID, body)
	if err != nil {
		return transcript.Message{}, err
	}
	count, err := s.store.IncrementMessageCount(ctx, tx, rec.ID)
	if err != nil {
		return transcript.Message{}, err
	}
	if err := s.store.AppendEvent(ctx, tx, rec.ID, EventMessageAdded, sender.ID, map[string]any{
		"message_id":    msg.ID,
		"message_count": count,
	}); err != nil {
		return transcript.Message{}, err
	}

	triggered := rec.Status == StatusActive && count >= s.cfg.MessageThreshold
	if triggered {
		mustTransition(StatusActive, StatusAnalyzing)
		if err := s.store.SetStatus(ctx, tx, rec.ID, StatusActive, StatusAnalyzing); err != nil {
			return transcript.Message{}, err
		}
		if err := s.store.AppendEvent(ctx, tx, rec.ID, EventAnalysisStarted, "", map[string]any{
			"trigger":       "message_threshold",
			"message_count": count,
		}); err != nil {
			return transcript.Message{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return transcript.Message{}, fmt.Errorf("dispute: commit message: %w", err)
	}

	if triggered {
		s.scheduleAnalysis(rec, false)
	}
	return msg, nil
}

// AttachEvidence records evidence metadata against a non-terminal dispute.
func (s *Service) AttachEvidence(ctx context.Context, disputeID string, uploader Actor, fileName, fileRef string) (transcript.Evidence, error) {
	if fileName == "" || fileRef == "" {
		return transcript.Evidence{}, fmt.Errorf("%w: file name and reference required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return transcript.Evidence{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return transcript.Evidence{}, err
	}
	if rec.Status.Terminal() {
		return transcript.Evidence{}, ErrAlreadyTerminal
	}
	if !uploader.Admin && rec.RoleOf(uploader.ID) == "" {
		return transcript.Evidence{}, ErrNotAParty
	}

	ev, err := s.transcripts.InsertEvidence(ctx, tx, rec.ID, uploader.ID, fileName, fileRef)
	if err != nil {
		return transcript.Evidence{}, err
	}
	if err := s.store.AppendEvent(ctx, tx, rec.ID, EventEvidenceAdded, uploader.ID, map[string]any{
		"evidence_id": ev.ID,
		"file_name":   fileName,
	}); err != nil {
		return transcript.Evidence{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return transcript.Evidence{}, fmt.Errorf("dispute: commit evidence: %w", err)
	}
	return ev, nil
}

// RecordChoice writes the caller's vote and evaluates both slots inside the
// same transaction as the write, so two "simultaneous" votes cannot both see
// a half-empty ledger. Whichever write lands second fires the transition.
func (s *Service) RecordChoice(ctx context.Context, disputeID, callerID string, choice int) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status.Terminal() {
		return Record{}, ErrAlreadyTerminal
	}
	role := rec.RoleOf(callerID)
	if role == "" {
		return Record{}, ErrNotAParty
	}
	if rec.Status != StatusAwaitingDecision {
		return Record{}, ErrStaleState
	}
	if choice != ChoiceRejectAll && (choice < 0 || choice >= len(rec.Proposals)) {
		return Record{}, ErrInvalidChoice
	}

	if err := s.store.SetChoice(ctx, tx, rec.ID, role, choice); err != nil {
		return Record{}, err
	}
	if err := s.store.AppendEvent(ctx, tx, rec.ID, EventChoiceRecorded, callerID, map[string]any{
		"role":   string(role),
		"choice": choice,
		"round":  rec.Round(),
	}); err != nil {
		return Record{}, err
	}

	if role == RolePlaintiff {
		rec.PlaintiffChoice = &choice
	} else {
		rec.RespondentChoice = &choice
	}

	outcome := s.evaluateRound(rec)
	switch outcome {
	case escalation.AwaitMore:
		// wait for the other party

	case escalation.Resolve:
		mustTransition(StatusAwaitingDecision, StatusResolutionInProgress)
		if err := s.store.SetStatus(ctx, tx, rec.ID, StatusAwaitingDecision, StatusResolutionInProgress); err != nil {
			return Record{}, err
		}
		if err := s.store.AppendEvent(ctx, tx, rec.ID, EventResolutionStarted, "", map[string]any{
			"proposal_index": choice,
			"round":          rec.Round(),
		}); err != nil {
			return Record{}, err
		}
		if err := s.store.EnqueueOutbox(ctx, tx, TopicResolutionPhase, map[string]any{
			"dispute_id": rec.ID,
			"phase":      string(StatusResolutionInProgress),
		}); err != nil {
			return Record{}, err
		}
		rec.Status = StatusResolutionInProgress

	case escalation.Reanalyze:
		if err := s.beginReanalysis(ctx, tx, &rec, "vote_mismatch", callerID); err != nil {
			return Record{}, err
		}

	case escalation.Escalate:
		if err := s.escalateToCourt(ctx, tx, &rec); err != nil {
			return Record{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit choice: %w", err)
	}

	if outcome == escalation.Reanalyze {
		s.scheduleAnalysis(rec, true)
	}
	return rec, nil
}

func (s *Service) evaluateRound(rec Record) escalation.Outcome {
	p, r := rec.PlaintiffChoice, rec.RespondentChoice
	bothVoted := p != nil && r != nil
	round := escalation.Round{
		ReanalysisCount: rec.ReanalysisCount,
		MaxReanalysis:   s.cfg.MaxReanalysis,
		BothVoted:       bothVoted,
	}
	if bothVoted {
		round.ChoicesMatch = *p == *r
		round.RejectAll = *p == ChoiceRejectAll || *r == ChoiceRejectAll
	}
	return escalation.Decide(round)
}

// beginReanalysis moves the dispute into a fresh round inside the caller's
// transaction. The oracle call itself happens after commit, off the lock.
func (s *Service) beginReanalysis(ctx context.Context, tx pgx.Tx, rec *Record, trigger, actorID string) error {
	mustTransition(StatusAwaitingDecision, StatusReanalyzing)
	if err := s.store.SetStatus(ctx, tx, rec.ID, StatusAwaitingDecision, StatusReanalyzing); err != nil {
		return err
	}
	newCount := rec.ReanalysisCount + 1
	if err := s.store.ResetRound(ctx, tx, rec.ID, newCount); err != nil {
		return err
	}
	if err := s.store.AppendEvent(ctx, tx, rec.ID, EventRoundReset, actorID, map[string]any{
		"trigger": trigger,
		"round":   newCount,
	}); err != nil {
		return err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, TopicRoundReset, map[string]any{
		"dispute_id": rec.ID,
		"round":      newCount,
	}); err != nil {
		return err
	}

	rec.Status = StatusReanalyzing
	rec.ReanalysisCount = newCount
	rec.PlaintiffChoice = nil
	rec.RespondentChoice = nil
	rec.Proposals = nil
	rec.ProposalsOrigin = ""
	return nil
}

func (s *Service) escalateToCourt(ctx context.Context, tx pgx.Tx, rec *Record) error {
	mustTransition(rec.Status, StatusForwardedToCourt)
	if err := s.store.ForceCourt(ctx, tx, rec.ID, rec.Status, nil); err != nil {
		return err
	}
	if err := s.store.AppendEvent(ctx, tx, rec.ID, EventEscalated, "", map[string]any{
		"reanalysis_count": rec.ReanalysisCount,
	}); err != nil {
		return err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, TopicForwardedToCourt, map[string]any{
		"dispute_id": rec.ID,
		"automatic":  true,
	}); err != nil {
		return err
	}
	rec.Status = StatusForwardedToCourt
	rec.ForwardedToCourt = true
	return nil
}

// RequestReanalysis is the party-initiated round reset. It shares the same
// bounded counter as mismatch-driven rounds and fails once exhausted.
func (s *Service) RequestReanalysis(ctx context.Context, disputeID, callerID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status.Terminal() {
		return Record{}, ErrAlreadyTerminal
	}
	if rec.RoleOf(callerID) == "" {
		return Record{}, ErrNotAParty
	}
	if rec.Status != StatusAwaitingDecision {
		return Record{}, ErrStaleState
	}
	if !escalation.Allowed(rec.ReanalysisCount, s.cfg.MaxReanalysis) {
		return Record{}, ErrLimitExceeded
	}

	if err := s.beginReanalysis(ctx, tx, &rec, "party_request", callerID); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit reanalysis request: %w", err)
	}

	s.scheduleAnalysis(rec, true)
	return rec, nil
}

// scheduleAnalysis hands the oracle call to the runner. The dispute row is
// not locked while the oracle runs; completion re-validates state through
// completeAnalysis.
func (s *Service) scheduleAnalysis(rec Record, reanalysis bool) {
	disputeID := rec.ID
	facts := rec.Facts
	s.runner.Submit(disputeID, func(ctx context.Context) {
		var lines []string
		msgs, err := s.transcripts.ListMessages(ctx, disputeID)
		if err != nil {
			log.Printf("dispute %s: transcript read failed, oracle sees facts only: %v", disputeID, err)
		} else {
			lines = make([]string, 0, len(msgs))
			for _, m := range msgs {
				lines = append(lines, m.Body)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.OracleTimeout)
		proposals, origin := generate(callCtx, s.oracle, OracleRequest{
			DisputeID:  disputeID,
			Facts:      facts,
			Transcript: lines,
			Reanalysis: reanalysis,
		})
		cancel()

		if err := s.completeAnalysis(ctx, disputeID, proposals, origin); err != nil {
			if errors.Is(err, ErrStaleState) {
				// the dispute moved while the oracle ran, e.g. an admin
				// forced it to court; the completion is obsolete
				log.Printf("dispute %s: discarding stale analysis result", disputeID)
				return
			}
			log.Printf("dispute %s: install proposals failed: %v", disputeID, err)
		}
	})
}

// completeAnalysis installs a proposal set and opens the decision phase. It
// is the single re-entry point for oracle completions, fallback included.
func (s *Service) completeAnalysis(ctx context.Context, disputeID string, proposals []Proposal, origin ProposalOrigin) error {
	if len(proposals) != ProposalsPerRound {
		panic(fmt.Sprintf("dispute: analysis completed with %d proposals", len(proposals)))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return err
	}
	if rec.Status != StatusAnalyzing && rec.Status != StatusReanalyzing {
		return ErrStaleState
	}

	if err := s.store.InstallProposals(ctx, tx, rec.ID, rec.Round(), proposals, origin); err != nil {
		return err
	}
	mustTransition(rec.Status, StatusAwaitingDecision)
	if err := s.store.SetStatus(ctx, tx, rec.ID, rec.Status, StatusAwaitingDecision); err != nil {
		return err
	}
	if err := s.store.AppendEvent(ctx, tx, rec.ID, EventProposalsReady, "", map[string]any{
		"round":  rec.Round(),
		"origin": string(origin),
	}); err != nil {
		return err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, TopicProposalsReady, map[string]any{
		"dispute_id": rec.ID,
		"round":      rec.Round(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit analysis: %w", err)
	}
	return nil
}

// VerifyResolution marks the caller's verification of the agreed proposal.
// Both verifications advance the resolution phase.
func (s *Service) VerifyResolution(ctx context.Context, disputeID, callerID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status.Terminal() {
		return Record{}, ErrAlreadyTerminal
	}
	role := rec.RoleOf(callerID)
	if role == "" {
		return Record{}, ErrNotAParty
	}
	if rec.Status != StatusResolutionInProgress {
		return Record{}, ErrStaleState
	}

	if err := s.store.SetVerified(ctx, tx, rec.ID, role); err != nil {
		return Record{}, err
	}
	if err := s.store.AppendEvent(ctx, tx, rec.ID, EventPartyVerified, callerID, map[string]any{
		"role": string(role),
	}); err != nil {
		return Record{}, err
	}
	if role == RolePlaintiff {
		rec.PlaintiffVerified = true
	} else {
		rec.RespondentVerified = true
	}

	if rec.PlaintiffVerified && rec.RespondentVerified {
		mustTransition(rec.Status, StatusResolutionVerified)
		if err := s.store.SetStatus(ctx, tx, rec.ID, rec.Status, StatusResolutionVerified); err != nil {
			return Record{}, err
		}
		rec.Status = StatusResolutionVerified
		if err := s.maybeAdvanceToReview(ctx, tx, &rec); err != nil {
			return Record{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit verification: %w", err)
	}
	return rec, nil
}

// SubmitSignature records the caller's signature reference. Signatures may
// arrive during verification; the phase only advances once both parties have
// verified and signed.
func (s *Service) SubmitSignature(ctx context.Context, disputeID, callerID, sigRef string) (Record, error) {
	if sigRef == "" {
		return Record{}, fmt.Errorf("%w: signature reference required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status.Terminal() {
		return Record{}, ErrAlreadyTerminal
	}
	role := rec.RoleOf(callerID)
	if role == "" {
		return Record{}, ErrNotAParty
	}
	if rec.Status != StatusResolutionInProgress && rec.Status != StatusResolutionVerified {
		return Record{}, ErrStaleState
	}

	if err := s.store.SetSignature(ctx, tx, rec.ID, role, sigRef); err != nil {
		return Record{}, err
	}
	if err := s.store.AppendEvent(ctx, tx, rec.ID, EventPartySigned, callerID, map[string]any{
		"role": string(role),
	}); err != nil {
		return Record{}, err
	}
	if role == RolePlaintiff {
		rec.PlaintiffSignature = &sigRef
	} else {
		rec.RespondentSignature = &sigRef
	}

	if err := s.maybeAdvanceToReview(ctx, tx, &rec); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit signature: %w", err)
	}
	return rec, nil
}

// maybeAdvanceToReview fires resolution_verified -> resolution_signed ->
// admin_review once both flags and both signatures are present.
func (s *Service) maybeAdvanceToReview(ctx context.Context, tx pgx.Tx, rec *Record) error {
	if rec.Status != StatusResolutionVerified {
		return nil
	}
	if rec.PlaintiffSignature == nil || rec.RespondentSignature == nil {
		return nil
	}

	mustTransition(StatusResolutionVerified, StatusResolutionSigned)
	if err := s.store.SetStatus(ctx, tx, rec.ID, StatusResolutionVerified, StatusResolutionSigned); err != nil {
		return err
	}
	mustTransition(StatusResolutionSigned, StatusAdminReview)
	if err := s.store.SetStatus(ctx, tx, rec.ID, StatusResolutionSigned, StatusAdminReview); err != nil {
		return err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, TopicResolutionPhase, map[string]any{
		"dispute_id": rec.ID,
		"phase":      string(StatusAdminReview),
	}); err != nil {
		return err
	}
	rec.Status = StatusAdminReview
	return nil
}

// AdminFinalize is the human compliance checkpoint: an admin confirms the
// signed settlement and the dispute becomes resolved, terminally.
func (s *Service) AdminFinalize(ctx context.Context, disputeID string, actor Actor) (Record, error) {
	if !actor.Admin {
		return Record{}, ErrNotAuthorized
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status.Terminal() {
		return Record{}, ErrAlreadyTerminal
	}
	if rec.Status != StatusAdminReview {
		return Record{}, ErrStaleState
	}

	mustTransition(rec.Status, StatusResolved)
	if err := s.store.MarkResolved(ctx, tx, rec.ID); err != nil {
		return Record{}, err
	}
	if err := s.store.AppendEvent(ctx, tx, rec.ID, EventAdminFinalized, actor.ID, nil); err != nil {
		return Record{}, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, TopicDisputeResolved, map[string]any{
		"dispute_id": rec.ID,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit finalize: %w", err)
	}
	rec.Status = StatusResolved
	now := s.now().UTC()
	rec.ResolvedAt = &now
	return rec, nil
}

// AdminForceCourt forwards a non-terminal dispute to court, bypassing the
// escalation path. Audited under its own event type.
func (s *Service) AdminForceCourt(ctx context.Context, disputeID string, actor Actor, courtDetails map[string]any) (Record, error) {
	if !actor.Admin {
		return Record{}, ErrNotAuthorized
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status.Terminal() {
		return Record{}, ErrAlreadyTerminal
	}

	mustTransition(rec.Status, StatusForwardedToCourt)
	if err := s.store.ForceCourt(ctx, tx, rec.ID, rec.Status, courtDetails); err != nil {
		return Record{}, err
	}
	if err := s.store.AppendEvent(ctx, tx, rec.ID, EventForcedToCourt, actor.ID, map[string]any{
		"from_status": string(rec.Status),
	}); err != nil {
		return Record{}, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, TopicForwardedToCourt, map[string]any{
		"dispute_id": rec.ID,
		"automatic":  false,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit court referral: %w", err)
	}
	rec.Status = StatusForwardedToCourt
	rec.ForwardedToCourt = true
	rec.CourtDetails = courtDetails
	return rec, nil
}

// Get returns the dispute visible to the caller: parties and admins only.
func (s *Service) Get(ctx context.Context, disputeID string, caller Actor) (Record, error) {
	rec, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if !caller.Admin && rec.RoleOf(caller.ID) == "" {
		return Record{}, ErrNotAParty
	}
	return rec, nil
}

// ListForUser returns disputes where the user is a party, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Record, error) {
	return s.store.ListForUser(ctx, userID)
}

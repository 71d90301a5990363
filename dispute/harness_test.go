package dispute

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"caseflow/transcript"
)

// memPool emulates the database's per-row serialization: one transaction at
// a time, so concurrent service calls contend the way they would on a
// locked dispute row.
type memPool struct {
	mu sync.Mutex
}

func (p *memPool) Begin(ctx context.Context) (pgx.Tx, error) {
	p.mu.Lock()
	return &memTx{pool: p}, nil
}

type memTx struct {
	pool *memPool
	done bool
}

func (t *memTx) Commit(context.Context) error {
	if !t.done {
		t.done = true
		t.pool.mu.Unlock()
	}
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if !t.done {
		t.done = true
		t.pool.mu.Unlock()
	}
	return nil
}

func (t *memTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("memTx does not support nested transactions")
}

func (t *memTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (t *memTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (t *memTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (t *memTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (t *memTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (t *memTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (t *memTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (t *memTx) Conn() *pgx.Conn {
	return nil
}

type memEvent struct {
	DisputeID string
	Type      string
	ActorID   string
	Payload   map[string]any
}

type memOutbox struct {
	Topic   string
	Payload map[string]any
}

// memStore is an in-memory Store with the same stale-state semantics as the
// pgx repository.
type memStore struct {
	recs      map[string]*Record
	proposals map[string]map[int][]Proposal
	events    []memEvent
	outbox    []memOutbox
}

func newMemStore() *memStore {
	return &memStore{
		recs:      make(map[string]*Record),
		proposals: make(map[string]map[int][]Proposal),
	}
}

func (s *memStore) snapshot(rec *Record) Record {
	out := *rec
	out.Proposals = append([]Proposal(nil), s.proposals[rec.ID][rec.ReanalysisCount]...)
	if rec.PlaintiffChoice != nil {
		v := *rec.PlaintiffChoice
		out.PlaintiffChoice = &v
	}
	if rec.RespondentChoice != nil {
		v := *rec.RespondentChoice
		out.RespondentChoice = &v
	}
	return out
}

func (s *memStore) Insert(_ context.Context, _ pgx.Tx, rec Record) (Record, error) {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	stored := rec
	s.recs[rec.ID] = &stored
	s.proposals[rec.ID] = make(map[int][]Proposal)
	return s.snapshot(&stored), nil
}

func (s *memStore) Get(_ context.Context, id string) (Record, error) {
	rec, ok := s.recs[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return s.snapshot(rec), nil
}

func (s *memStore) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (Record, error) {
	rec, ok := s.recs[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return s.snapshot(rec), nil
}

func (s *memStore) ListForUser(_ context.Context, userID string) ([]Record, error) {
	var out []Record
	for _, rec := range s.recs {
		if rec.Plaintiff.UserID == userID || rec.Respondent.UserID == userID {
			out = append(out, s.snapshot(rec))
		}
	}
	return out, nil
}

func (s *memStore) SetStatus(_ context.Context, _ pgx.Tx, id string, from, to Status) error {
	rec, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != from {
		return ErrStaleState
	}
	rec.Status = to
	return nil
}

func (s *memStore) SetChoice(_ context.Context, _ pgx.Tx, id string, role Role, choice int) error {
	rec, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	v := choice
	if role == RolePlaintiff {
		rec.PlaintiffChoice = &v
	} else {
		rec.RespondentChoice = &v
	}
	return nil
}

func (s *memStore) ResetRound(_ context.Context, _ pgx.Tx, id string, newCount int) error {
	rec, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	if rec.ReanalysisCount != newCount-1 {
		return ErrStaleState
	}
	rec.ReanalysisCount = newCount
	rec.PlaintiffChoice = nil
	rec.RespondentChoice = nil
	rec.ProposalsOrigin = ""
	return nil
}

func (s *memStore) InstallProposals(_ context.Context, _ pgx.Tx, id string, round int, proposals []Proposal, origin ProposalOrigin) error {
	rec, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	s.proposals[id][round] = append([]Proposal(nil), proposals...)
	rec.ProposalsOrigin = origin
	return nil
}

func (s *memStore) IncrementMessageCount(_ context.Context, _ pgx.Tx, id string) (int, error) {
	rec, ok := s.recs[id]
	if !ok {
		return 0, ErrNotFound
	}
	rec.MessageCount++
	return rec.MessageCount, nil
}

func (s *memStore) SetVerified(_ context.Context, _ pgx.Tx, id string, role Role) error {
	rec, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	if role == RolePlaintiff {
		rec.PlaintiffVerified = true
	} else {
		rec.RespondentVerified = true
	}
	return nil
}

func (s *memStore) SetSignature(_ context.Context, _ pgx.Tx, id string, role Role, sigRef string) error {
	rec, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	v := sigRef
	if role == RolePlaintiff {
		rec.PlaintiffSignature = &v
	} else {
		rec.RespondentSignature = &v
	}
	return nil
}

func (s *memStore) MarkResolved(_ context.Context, _ pgx.Tx, id string) error {
	rec, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != StatusAdminReview {
		return ErrStaleState
	}
	rec.Status = StatusResolved
	now := time.Now().UTC()
	rec.ResolvedAt = &now
	return nil
}

func (s *memStore) ForceCourt(_ context.Context, _ pgx.Tx, id string, from Status, details map[string]any) error {
	rec, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != from {
		return ErrStaleState
	}
	rec.Status = StatusForwardedToCourt
	rec.ForwardedToCourt = true
	rec.CourtDetails = details
	return nil
}

func (s *memStore) AppendEvent(_ context.Context, _ pgx.Tx, id, eventType string, actorID string, payload map[string]any) error {
	s.events = append(s.events, memEvent{DisputeID: id, Type: eventType, ActorID: actorID, Payload: payload})
	return nil
}

func (s *memStore) EnqueueOutbox(_ context.Context, _ pgx.Tx, topic string, payload map[string]any) error {
	s.outbox = append(s.outbox, memOutbox{Topic: topic, Payload: payload})
	return nil
}

func (s *memStore) countEvents(eventType string) int {
	n := 0
	for _, ev := range s.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// memTranscripts is an in-memory TranscriptStore.
type memTranscripts struct {
	mu       sync.Mutex
	messages map[string][]transcript.Message
	nextID   int
}

func newMemTranscripts() *memTranscripts {
	return &memTranscripts{messages: make(map[string][]transcript.Message)}
}

func (m *memTranscripts) InsertMessage(_ context.Context, _ pgx.Tx, disputeID, senderID, body string) (transcript.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg := transcript.Message{
		ID:        "msg-" + strconv.Itoa(m.nextID),
		DisputeID: disputeID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	m.messages[disputeID] = append(m.messages[disputeID], msg)
	return msg, nil
}

func (m *memTranscripts) InsertEvidence(_ context.Context, _ pgx.Tx, disputeID, uploaderID, fileName, fileRef string) (transcript.Evidence, error) {
	return transcript.Evidence{
		ID:         "ev-1",
		DisputeID:  disputeID,
		UploaderID: uploaderID,
		FileName:   fileName,
		FileRef:    fileRef,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (m *memTranscripts) ListMessages(_ context.Context, disputeID string) ([]transcript.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transcript.Message(nil), m.messages[disputeID]...), nil
}

// stubOracle returns a scripted proposal set or error per call.
type stubOracle struct {
	mu        sync.Mutex
	proposals []Proposal
	err       error
	calls     []OracleRequest
}

func (o *stubOracle) GenerateProposals(_ context.Context, req OracleRequest) ([]Proposal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, req)
	if o.err != nil {
		return nil, o.err
	}
	return append([]Proposal(nil), o.proposals...), nil
}

func threeProposals() []Proposal {
	return []Proposal{
		{Title: "Refund", Description: "Full refund of the contested amount.", PlaintiffRationale: "pr", RespondentRationale: "rr"},
		{Title: "Partial refund", Description: "Refund of half the contested amount.", PlaintiffRationale: "pr", RespondentRationale: "rr"},
		{Title: "Replacement", Description: "Replacement of the goods in question.", PlaintiffRationale: "pr", RespondentRationale: "rr"},
	}
}

// inlineRunner executes oracle tasks synchronously, after the triggering
// transaction has committed.
type inlineRunner struct{}

func (inlineRunner) Submit(_ string, task func(ctx context.Context)) {
	task(context.Background())
}

// captureRunner holds tasks for the test to release manually, simulating an
// oracle call still in flight.
type captureRunner struct {
	mu    sync.Mutex
	tasks []func(ctx context.Context)
}

func (r *captureRunner) Submit(_ string, task func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
}

func (r *captureRunner) runAll() {
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = nil
	r.mu.Unlock()
	for _, task := range tasks {
		task(context.Background())
	}
}

type fixture struct {
	pool        *memPool
	store       *memStore
	transcripts *memTranscripts
	oracle      *stubOracle
	svc         *Service
}

func newFixture(runner TaskRunner) *fixture {
	f := &fixture{
		pool:        &memPool{},
		store:       newMemStore(),
		transcripts: newMemTranscripts(),
		oracle:      &stubOracle{proposals: threeProposals()},
	}
	if runner == nil {
		runner = inlineRunner{}
	}
	f.svc = NewService(f.pool, f.store, f.transcripts, f.oracle, runner, DefaultConfig())
	return f
}

var (
	alice = Contact{UserID: "user-alice", FullName: "Alice Plain", Email: "alice@example.com"}
	bob   = Contact{UserID: "user-bob", FullName: "Bob Respond", Email: "bob@example.com"}
)

func (f *fixture) file(ctx context.Context) Record {
	rec, err := f.svc.File(ctx, FileParams{Plaintiff: alice, Respondent: bob, Facts: "unpaid invoice for delivered goods"})
	if err != nil {
		panic(err)
	}
	return rec
}

// fileAwaiting drives a fresh dispute through acceptance and the message
// threshold so it sits in awaiting_decision with a proposal set.
func (f *fixture) fileAwaiting(ctx context.Context) Record {
	rec := f.file(ctx)
	if _, err := f.svc.AcceptCase(ctx, rec.ID, bob.UserID); err != nil {
		panic(err)
	}
	senders := []Actor{{ID: alice.UserID}, {ID: bob.UserID}}
	for i := 0; i < f.svc.cfg.MessageThreshold; i++ {
		if _, err := f.svc.AppendMessage(ctx, rec.ID, senders[i%2], "message body"); err != nil {
			panic(err)
		}
	}
	out, err := f.store.Get(ctx, rec.ID)
	if err != nil {
		panic(err)
	}
	return out
}

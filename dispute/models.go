package dispute

import "time"

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusPending              Status = "pending"
	StatusActive               Status = "active"
	StatusAnalyzing            Status = "analyzing"
	StatusAwaitingDecision     Status = "awaiting_decision"
	StatusReanalyzing          Status = "reanalyzing"
	StatusResolutionInProgress Status = "resolution_in_progress"
	StatusResolutionVerified   Status = "resolution_verified"
	StatusResolutionSigned     Status = "resolution_signed"
	StatusAdminReview          Status = "admin_review"
	StatusResolved             Status = "resolved"
	StatusForwardedToCourt     Status = "forwarded_to_court"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusForwardedToCourt
}

// InResolution reports whether the dispute is in the post-consensus branch.
func (s Status) InResolution() bool {
	switch s {
	case StatusResolutionInProgress, StatusResolutionVerified, StatusResolutionSigned, StatusAdminReview, StatusResolved:
		return true
	default:
		return false
	}
}

// Role identifies which side of the dispute an actor occupies.
type Role string

const (
	RolePlaintiff  Role = "plaintiff"
	RoleRespondent Role = "respondent"
)

// ChoiceRejectAll is the sentinel a party records to reject every proposal
// of the current round.
const ChoiceRejectAll = -1

// ProposalsPerRound is the exact number of settlement options a round holds
// once analysis completes, oracle-generated or fallback.
const ProposalsPerRound = 3

// Contact is the party contact snapshot captured at filing time. It is
// immutable once the dispute exists, independent of later account changes.
type Contact struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
}

// ProposalOrigin records whether the current round's proposals came from the
// analysis oracle or the deterministic fallback set. It affects audit only.
type ProposalOrigin string

const (
	OriginOracle   ProposalOrigin = "oracle"
	OriginFallback ProposalOrigin = "fallback"
)

// Proposal is one settlement option within a round. Proposals are referenced
// by index and scoped to exactly one round of one dispute.
type Proposal struct {
	Title               string
	Description         string
	PlaintiffRationale  string
	RespondentRationale string
}

// Record mirrors the disputes table. It is the aggregate root the state
// machine operates on.
type Record struct {
	ID                  string
	Plaintiff           Contact
	Respondent          Contact
	Facts               string
	Status              Status
	MessageCount        int
	ReanalysisCount     int
	PlaintiffChoice     *int
	RespondentChoice    *int
	PlaintiffVerified   bool
	RespondentVerified  bool
	PlaintiffSignature  *string
	RespondentSignature *string
	Proposals           []Proposal
	ProposalsOrigin     ProposalOrigin
	ForwardedToCourt    bool
	CourtDetails        map[string]any
	ResolvedAt          *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// RoleOf resolves which side userID occupies, or "" if not a party.
func (r Record) RoleOf(userID string) Role {
	switch userID {
	case r.Plaintiff.UserID:
		return RolePlaintiff
	case r.Respondent.UserID:
		return RoleRespondent
	default:
		return ""
	}
}

// Choice returns the recorded choice for role, or nil when not voted.
func (r Record) Choice(role Role) *int {
	if role == RolePlaintiff {
		return r.PlaintiffChoice
	}
	return r.RespondentChoice
}

// Round is the current proposal round: 0 for the original analysis, then one
// per reanalysis.
func (r Record) Round() int {
	return r.ReanalysisCount
}

// Event types appended to the dispute_events audit ledger. Automatic
// escalation and the admin override are audited under distinct types.
const (
	EventFiled             = "DISPUTE_FILED"
	EventAccepted          = "CASE_ACCEPTED"
	EventMessageAdded      = "MESSAGE_ADDED"
	EventEvidenceAdded     = "EVIDENCE_ADDED"
	EventAnalysisStarted   = "ANALYSIS_STARTED"
	EventProposalsReady    = "PROPOSALS_READY"
	EventChoiceRecorded    = "CHOICE_RECORDED"
	EventRoundReset        = "ROUND_RESET"
	EventResolutionStarted = "RESOLUTION_STARTED"
	EventPartyVerified     = "PARTY_VERIFIED"
	EventPartySigned       = "PARTY_SIGNED"
	EventAdminFinalized    = "ADMIN_FINALIZED"
	EventEscalated         = "ESCALATED_TO_COURT"
	EventForcedToCourt     = "ADMIN_FORCED_TO_COURT"
)

// Outbox topics emitted alongside state changes for the notification fanout.
const (
	TopicDisputeFiled     = "dispute.filed"
	TopicDisputeAccepted  = "dispute.accepted"
	TopicProposalsReady   = "dispute.proposals_ready"
	TopicRoundReset       = "dispute.round_reset"
	TopicResolutionPhase  = "dispute.resolution_phase"
	TopicDisputeResolved  = "dispute.resolved"
	TopicForwardedToCourt = "dispute.forwarded_to_court"
)

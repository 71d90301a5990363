package dispute

import "context"

// OracleRequest carries the case context handed to the analysis oracle.
type OracleRequest struct {
	DisputeID  string
	Facts      string
	Transcript []string
	Reanalysis bool
}

// Oracle generates settlement proposals from case facts and transcript. It
// is slow, non-deterministic, and must be treated as unreliable; the state
// machine calls it at most once per trigger and absorbs every failure
// through the fallback set.
type Oracle interface {
	GenerateProposals(ctx context.Context, req OracleRequest) ([]Proposal, error)
}

// generate runs one bounded oracle attempt and returns either a validated
// three-proposal set or the deterministic fallback. There is no retry loop;
// retries happen only at the next natural trigger point.
func generate(ctx context.Context, oracle Oracle, req OracleRequest) ([]Proposal, ProposalOrigin) {
	proposals, err := oracle.GenerateProposals(ctx, req)
	if err != nil || len(proposals) != ProposalsPerRound {
		return FallbackProposals(), OriginFallback
	}
	for _, p := range proposals {
		if p.Title == "" || p.Description == "" {
			return FallbackProposals(), OriginFallback
		}
	}
	return proposals, OriginOracle
}

// FallbackProposals returns the fixed mediation proposal set installed
// whenever the oracle fails, so a dispute always progresses to the decision
// phase even with the oracle down. The origin is recorded for audit but
// does not change subsequent behavior.
func FallbackProposals() []Proposal {
	return []Proposal{
		{
			Title:               "Structured compromise",
			Description:         "Each party concedes the smaller half of the contested items and splits the remainder evenly.",
			PlaintiffRationale:  "Secures a guaranteed partial recovery without the cost and delay of court proceedings.",
			RespondentRationale: "Caps the exposure at half of the contested value and closes the matter quickly.",
		},
		{
			Title:               "Staged settlement with review",
			Description:         "The respondent fulfils the undisputed obligations immediately; the remaining items are settled in two instalments with a joint review between them.",
			PlaintiffRationale:  "Immediate movement on the undisputed part plus a checkpoint before the final instalment.",
			RespondentRationale: "Spreads the burden over time and keeps a say at the mid-point review.",
		},
		{
			Title:               "Neutral third-party appraisal",
			Description:         "Both parties appoint a jointly chosen neutral appraiser whose valuation of the contested items becomes the settlement basis.",
			PlaintiffRationale:  "An independent valuation protects against undervaluation of the claim.",
			RespondentRationale: "An independent valuation protects against inflated demands.",
		},
	}
}

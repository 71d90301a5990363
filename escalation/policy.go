// Package escalation decides what happens to a dispute round once votes are
// in: award another analysis round, refer the case to court, resolve, or keep
// waiting. It is deliberately free of persistence concerns so the bounds can
// be reasoned about and tested in isolation.
package escalation

import "fmt"

// MaxReanalysis caps how many fresh proposal rounds a dispute may consume
// beyond the original analysis, whether triggered by vote mismatch or by an
// explicit party request.
const MaxReanalysis = 2

// Outcome is the policy verdict for one evaluation of the decision ledger.
type Outcome int

const (
	// AwaitMore means at least one party has not voted yet.
	AwaitMore Outcome = iota
	// Resolve means both parties picked the same non-reject proposal.
	Resolve
	// Reanalyze means the round failed but the retry budget is not exhausted.
	Reanalyze
	// Escalate means the round failed and no retries remain.
	Escalate
)

func (o Outcome) String() string {
	switch o {
	case AwaitMore:
		return "await_more"
	case Resolve:
		return "resolve"
	case Reanalyze:
		return "reanalyze"
	case Escalate:
		return "escalate"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Round captures the inputs the policy needs about the current voting round.
type Round struct {
	ReanalysisCount int
	MaxReanalysis   int
	BothVoted       bool
	ChoicesMatch    bool
	RejectAll       bool
}

// Decide maps a round to its outcome. A ReanalysisCount above the configured
// maximum indicates a broken transition table upstream and panics.
func Decide(r Round) Outcome {
	if r.ReanalysisCount > r.MaxReanalysis {
		panic(fmt.Sprintf("escalation: reanalysis count %d exceeds max %d", r.ReanalysisCount, r.MaxReanalysis))
	}
	if !r.BothVoted {
		return AwaitMore
	}
	if r.ChoicesMatch && !r.RejectAll {
		return Resolve
	}
	if r.ReanalysisCount < r.MaxReanalysis {
		return Reanalyze
	}
	return Escalate
}

// Allowed reports whether one more reanalysis round may be consumed. Manual
// reanalysis requests share the same budget as mismatch-driven rounds.
func Allowed(reanalysisCount, max int) bool {
	return reanalysisCount < max
}

package dispute

import "fmt"

// transitions is the single source of truth for legal status changes. The
// admin force-to-court override is handled separately because it is legal
// from every non-terminal state.
var transitions = map[Status][]Status{
	StatusPending:              {StatusActive},
	StatusActive:               {StatusAnalyzing},
	StatusAnalyzing:            {StatusAwaitingDecision},
	StatusAwaitingDecision:     {StatusResolutionInProgress, StatusReanalyzing, StatusForwardedToCourt},
	StatusReanalyzing:          {StatusAwaitingDecision},
	StatusResolutionInProgress: {StatusResolutionVerified},
	StatusResolutionVerified:   {StatusResolutionSigned},
	StatusResolutionSigned:     {StatusAdminReview},
	StatusAdminReview:          {StatusResolved},
	StatusResolved:             nil,
	StatusForwardedToCourt:     nil,
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	if to == StatusForwardedToCourt {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// mustTransition guards every status write. An illegal pair here means the
// service logic disagrees with the transition table, which is a programming
// error, not a recoverable condition.
func mustTransition(from, to Status) {
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("dispute: illegal transition %s -> %s", from, to))
	}
}

package dispute

import "errors"

var (
	// ErrNotFound signals no dispute row exists for the identifier.
	ErrNotFound = errors.New("dispute: not found")
	// ErrValidation signals bad input the caller can correct and retry.
	ErrValidation = errors.New("dispute: invalid input")
	// ErrNotAuthorized signals the caller's identity does not permit the action.
	ErrNotAuthorized = errors.New("dispute: not authorized")
	// ErrNotAParty signals the caller is neither plaintiff nor respondent.
	ErrNotAParty = errors.New("dispute: caller is not a party")
	// ErrStaleState signals the dispute moved since the caller last observed
	// it; re-fetch and decide whether to retry.
	ErrStaleState = errors.New("dispute: stale state")
	// ErrInvalidChoice signals a vote outside the current proposal round.
	ErrInvalidChoice = errors.New("dispute: invalid choice")
	// ErrLimitExceeded signals the reanalysis budget is exhausted.
	ErrLimitExceeded = errors.New("dispute: reanalysis limit exceeded")
	// ErrAlreadyTerminal signals the dispute reached a final state.
	ErrAlreadyTerminal = errors.New("dispute: already terminal")
)

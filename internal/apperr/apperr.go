package apperr

import "errors"

// Sentinel errors shared by services and handlers. Services wrap these with
// fmt.Errorf("...: %w", err) and handlers unwrap them with errors.Is to pick
// an HTTP status.
var (
	// ErrValidation marks malformed or out-of-range input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a referenced entity that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds marks a debit larger than the current balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAlreadyClaimed marks a claim attempt on an already-claimed reward.
	ErrAlreadyClaimed = errors.New("reward already claimed")

	// ErrAlreadyReferred marks an account whose referrer is already set.
	ErrAlreadyReferred = errors.New("user already referred")

	// ErrAlreadyAssigned marks an account that already owns a referral code.
	ErrAlreadyAssigned = errors.New("referral code already assigned")

	// ErrConflict is surfaced after the optimistic-concurrency retries for
	// an entity write are exhausted.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrInternal covers retry exhaustion, code-space exhaustion and storage
	// failures that need manual remediation.
	ErrInternal = errors.New("internal error")

	// Poll voting errors.
	ErrNotAPoll      = errors.New("post is not a poll")
	ErrPollExpired   = errors.New("poll has expired")
	ErrAlreadyVoted  = errors.New("already voted on this poll")
	ErrInvalidOption = errors.New("invalid poll option")
)

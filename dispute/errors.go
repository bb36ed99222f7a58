package dispute

import "errors"

// Dispute errors
var (
	ErrInsufficientStake = errors.New("insufficient stake")
	ErrDuplicateVote     = errors.New("identity already voted on this report")
	ErrVotingClosed      = errors.New("voting closed")
	ErrVotingOpen        = errors.New("voting period has not elapsed")
	ErrAlreadyResolved   = errors.New("report already resolved")
	ErrReportOpen        = errors.New("an open report already exists for this product")
	ErrInvalidChoice     = errors.New("vote choice must be uphold or reject")
	ErrMissingIdentity   = errors.New("caller identity is required")
	ErrInvalidReport     = errors.New("invalid report")
)

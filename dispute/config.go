package dispute

import (
	"errors"
	"time"
)

// Config holds dispute configuration
type Config struct {
	// MinimumStake is the least a reporter must lock to open a report
	MinimumStake uint64
	// VotingPeriod is how long a report accepts votes after opening
	VotingPeriod time.Duration
	// MinimumVotes is the quorum below which a report expires inconclusive
	MinimumVotes int

	// RewardPercent of the reporter stake is paid from the penalty pool
	// when a report is upheld, capped by the pool balance
	RewardPercent uint64
	// ReputationPenalty is subtracted from the manufacturer on an upheld report
	ReputationPenalty int
	// ReputationRestore is added to the manufacturer on a rejected report
	ReputationRestore int
}

// DefaultConfig returns the default dispute configuration
func DefaultConfig() Config {
	return Config{
		MinimumStake:      10,
		VotingPeriod:      7 * 24 * time.Hour,
		MinimumVotes:      3,
		RewardPercent:     50,
		ReputationPenalty: 10,
		ReputationRestore: 0,
	}
}

// ValidateBasic performs basic validation of the config
func (cfg Config) ValidateBasic() error {
	if cfg.MinimumStake == 0 {
		return errors.New("dispute: minimum stake must be positive")
	}
	if cfg.VotingPeriod <= 0 {
		return errors.New("dispute: voting period must be positive")
	}
	if cfg.MinimumVotes <= 0 {
		return errors.New("dispute: minimum votes must be positive")
	}
	if cfg.ReputationPenalty < 0 || cfg.ReputationRestore < 0 {
		return errors.New("dispute: reputation adjustments must not be negative")
	}
	return nil
}

package models

import "time"

// ReportStatus is the lifecycle state of a counterfeit report.
type ReportStatus string

const (
	ReportOpen     ReportStatus = "open"
	ReportUpheld   ReportStatus = "resolved_upheld"
	ReportRejected ReportStatus = "resolved_rejected"
	ReportExpired  ReportStatus = "expired"
)

// Terminal reports whether no further transition is possible from s.
func (s ReportStatus) Terminal() bool {
	return s == ReportUpheld || s == ReportRejected || s == ReportExpired
}

// CounterfeitReport is a stake-backed dispute against a product verdict
type CounterfeitReport struct {
	ID         string       `json:"id"`
	ProductID  string       `json:"product_id"`
	Reporter   Identity     `json:"reporter"`
	Stake      uint64       `json:"stake"`
	Reason     string       `json:"reason,omitempty"`
	OpenedAt   time.Time    `json:"opened_at"`
	Deadline   time.Time    `json:"deadline"` // OpenedAt + voting period
	Status     ReportStatus `json:"status"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
}

// VoteChoice is the side a ballot supports.
type VoteChoice string

const (
	ChoiceUphold VoteChoice = "uphold"
	ChoiceReject VoteChoice = "reject"
)

// Valid reports whether c is a known choice.
func (c VoteChoice) Valid() bool {
	return c == ChoiceUphold || c == ChoiceReject
}

// Vote is one stake-weighted ballot, immutable once cast
type Vote struct {
	ReportID string     `json:"report_id"`
	Voter    Identity   `json:"voter"`
	Weight   uint64     `json:"weight"`
	Choice   VoteChoice `json:"choice"`
	CastAt   time.Time  `json:"cast_at"`
}

// Tally sums the ballots of a report.
type Tally struct {
	Votes        int    `json:"votes"`
	UpholdWeight uint64 `json:"uphold_weight"`
	RejectWeight uint64 `json:"reject_weight"`
}

// Payout credits stake back to an identity on resolution.
type Payout struct {
	Identity Identity `json:"identity"`
	Amount   uint64   `json:"amount"`
}

// Resolution is the binding outcome of a report, committed once.
type Resolution struct {
	ReportID        string       `json:"report_id"`
	ProductID       string       `json:"product_id"`
	Manufacturer    Identity     `json:"manufacturer"`
	Outcome         ReportStatus `json:"outcome"`
	Tally           Tally        `json:"tally"`
	Payouts         []Payout     `json:"payouts,omitempty"`
	PoolCredit      uint64       `json:"pool_credit"` // forfeited stake moved into the penalty pool
	PoolDebit       uint64       `json:"pool_debit"`  // reward paid out of the penalty pool
	ReputationDelta int          `json:"reputation_delta"`
	ResolvedAt      time.Time    `json:"resolved_at"`
}

// ReputationAdjustment changes a manufacturer reputation; ID makes it idempotent.
type ReputationAdjustment struct {
	ID           string   `json:"id"`
	Manufacturer Identity `json:"manufacturer"`
	Delta        int      `json:"delta"`
	Reason       string   `json:"reason,omitempty"`
}

// Package anomaly flags custody transfers whose timing or chain of custody
// contradicts the expected sequence. Flags are advisory inputs to scoring.
package anomaly

import (
	"iter"
	"strings"

	"verifychain/models"
)

// Reason codes attached to flagged transfers.
const (
	ReasonNonIncreasingTimestamp = "non_increasing_timestamp"
	ReasonBrokenCustodyChain     = "broken_custody_chain"
	ReasonMissingParty           = "missing_party"
	ReasonMissingLocation        = "missing_location"
	ReasonImplausibleTransit     = "implausible_transit"
)

// DefaultGenesisAddress is the sentinel sender of a product's first transfer.
const DefaultGenesisAddress models.Identity = "0x0000000000000000000000000000000000000000"

// Config holds detector configuration
type Config struct {
	// GenesisAddress is accepted as sender of the first transfer, besides
	// any all-zero address and the manufacturer itself.
	GenesisAddress models.Identity
	// MaxSpeedKmh bounds travel between declared coordinates; 0 disables the check.
	MaxSpeedKmh float64
}

// DefaultConfig returns the default detector configuration
func DefaultConfig() Config {
	return Config{
		GenesisAddress: DefaultGenesisAddress,
		MaxSpeedKmh:    DefaultMaxSpeedKmh,
	}
}

// Subject carries the product context the rules depend on.
type Subject struct {
	Manufacturer *models.Manufacturer
}

func (s Subject) requireLocation() bool {
	return s.Manufacturer != nil && s.Manufacturer.RequireLocation
}

// Detector evaluates transfer sequences.
type Detector struct {
	genesis models.Identity
	travel  TravelPolicy
}

// NewDetector builds a detector with the speed-based travel policy.
func NewDetector(cfg Config) *Detector {
	return &Detector{
		genesis: cfg.GenesisAddress,
		travel:  SpeedPolicy{MaxSpeedKmh: cfg.MaxSpeedKmh},
	}
}

// WithTravelPolicy replaces the transit-time heuristic. A nil policy disables it.
func (d *Detector) WithTravelPolicy(p TravelPolicy) *Detector {
	d.travel = p
	return d
}

// Detect returns the transfers, in input order, with their anomaly flags set.
// The sequence is evaluated lazily and may be ranged over any number of
// times; the input slice is never modified.
func (d *Detector) Detect(subject Subject, transfers []models.Transfer) iter.Seq[models.Transfer] {
	return func(yield func(models.Transfer) bool) {
		for i := range transfers {
			var prev *models.Transfer
			if i > 0 {
				prev = &transfers[i-1]
			}
			if !yield(d.evaluate(subject, prev, transfers[i])) {
				return
			}
		}
	}
}

func (d *Detector) evaluate(subject Subject, prev *models.Transfer, t models.Transfer) models.Transfer {
	var reasons []string

	if t.To.IsZero() {
		reasons = append(reasons, ReasonMissingParty)
	}

	if prev == nil {
		if !d.validGenesisSender(subject, t.From) {
			reasons = append(reasons, ReasonBrokenCustodyChain)
		}
	} else {
		switch {
		case t.From.IsZero():
			reasons = append(reasons, ReasonMissingParty)
		case !sameIdentity(t.From, prev.To):
			reasons = append(reasons, ReasonBrokenCustodyChain)
		}

		if !t.Timestamp.After(prev.Timestamp) {
			reasons = append(reasons, ReasonNonIncreasingTimestamp)
		} else if d.travel != nil && prev.Location != "" && t.Location != "" {
			if least, ok := d.travel.MinTransit(prev.Location, t.Location); ok && t.Timestamp.Sub(prev.Timestamp) < least {
				reasons = append(reasons, ReasonImplausibleTransit)
			}
		}
	}

	if subject.requireLocation() && strings.TrimSpace(t.Location) == "" {
		reasons = append(reasons, ReasonMissingLocation)
	}

	t.Anomalous = len(reasons) > 0
	t.AnomalyReasons = reasons
	return t
}

func (d *Detector) validGenesisSender(subject Subject, from models.Identity) bool {
	if isZeroAddress(from) {
		return true
	}
	if !d.genesis.IsZero() && sameIdentity(from, d.genesis) {
		return true
	}
	return subject.Manufacturer != nil && sameIdentity(from, subject.Manufacturer.Address)
}

// sameIdentity compares addresses case-insensitively, as hex wallet
// addresses are commonly written in mixed case.
func sameIdentity(a, b models.Identity) bool {
	return strings.EqualFold(strings.TrimSpace(string(a)), strings.TrimSpace(string(b)))
}

// isZeroAddress reports whether id is empty or an all-zero hex address such as 0x0.
func isZeroAddress(id models.Identity) bool {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return true
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return s != "" && strings.Trim(s, "0") == ""
}

// Summary aggregates a detected sequence.
type Summary struct {
	Total     int
	Anomalous int
	Flagged   []models.Transfer
	Last      *models.Transfer
}

// Summarize consumes seq once.
func Summarize(seq iter.Seq[models.Transfer]) Summary {
	var s Summary
	for t := range seq {
		s.Total++
		if t.Anomalous {
			s.Anomalous++
			s.Flagged = append(s.Flagged, t)
		}
		last := t
		s.Last = &last
	}
	return s
}

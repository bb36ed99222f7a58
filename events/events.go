// Package events publishes the observable outcomes of the engines:
// rate-limit admissions, verdicts and dispute transitions.
package events

import (
	"context"
	"errors"
	"time"

	"verifychain/models"
)

// Event kinds, also used as AMQP routing key suffixes.
const (
	KindAdmission     = "ratelimit.admission"
	KindVerdict       = "verification.verdict"
	KindDisputeOpened = "dispute.opened"
	KindVoteCast      = "dispute.vote"
	KindResolved      = "dispute.resolved"
)

// Event is anything a Sink accepts.
type Event interface {
	Kind() string
}

// Admission is the outcome of one rate-limit check.
type Admission struct {
	Identity  models.Identity `json:"identity"`
	Allowed   bool            `json:"allowed"`
	Limit     int             `json:"limit"`
	Remaining int             `json:"remaining"`
	ResetAt   time.Time       `json:"resetAt"`
}

func (Admission) Kind() string { return KindAdmission }

// Verdict is a computed verification result.
type Verdict struct {
	Result *models.VerificationResult `json:"result"`
}

func (Verdict) Kind() string { return KindVerdict }

type DisputeOpened struct {
	Report *models.CounterfeitReport `json:"report"`
}

func (DisputeOpened) Kind() string { return KindDisputeOpened }

type VoteCast struct {
	Vote *models.Vote `json:"vote"`
}

func (VoteCast) Kind() string { return KindVoteCast }

type Resolved struct {
	Resolution *models.Resolution `json:"resolution"`
}

func (Resolved) Kind() string { return KindResolved }

// Sink receives events. Emit must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, Event) error { return nil }

// Package ledger defines the ledger-access capability consumed by the
// verification and dispute engines. Implementations live elsewhere; the
// LevelDB one is in package repository.
package ledger

import (
	"context"
	"errors"

	"verifychain/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("ledger: not found")
	// ErrUnavailable is returned when the ledger did not answer in time. Callers may retry.
	ErrUnavailable = errors.New("ledger: unavailable")
	// ErrInsufficientBalance is returned by LockStake when the stake balance is too low.
	ErrInsufficientBalance = errors.New("ledger: insufficient stake balance")
	// ErrConflict is returned when a write contradicts an already committed record.
	ErrConflict = errors.New("ledger: conflicting write")
)

// Reader exposes the ledger facts read by the engines.
type Reader interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	GetManufacturer(ctx context.Context, addr models.Identity) (*models.Manufacturer, error)
	// GetTransfers returns the custody transfers of a product in insertion order.
	GetTransfers(ctx context.Context, productID string) ([]models.Transfer, error)
	GetStakeBalance(ctx context.Context, id models.Identity) (uint64, error)
	GetPenaltyPool(ctx context.Context) (uint64, error)

	GetReport(ctx context.Context, id string) (*models.CounterfeitReport, error)
	// ListReports returns reports with the given status, or all reports when status is empty.
	ListReports(ctx context.Context, status models.ReportStatus) ([]*models.CounterfeitReport, error)
	GetVotes(ctx context.Context, reportID string) ([]models.Vote, error)
	GetResolution(ctx context.Context, reportID string) (*models.Resolution, error)
}

// Writer exposes the ledger writes. Every write is idempotent: submitting an
// already committed write again is a no-op.
type Writer interface {
	// LockStake records a new report and moves its stake out of the reporter balance.
	LockStake(ctx context.Context, report *models.CounterfeitReport) error
	RecordVote(ctx context.Context, vote *models.Vote) error
	// CommitResolution marks the report terminal and applies the stake movements.
	CommitResolution(ctx context.Context, res *models.Resolution) error
	AdjustReputation(ctx context.Context, adj *models.ReputationAdjustment) error
}

// Ledger is the full read/write capability.
type Ledger interface {
	Reader
	Writer
}

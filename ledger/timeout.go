package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"verifychain/models"
)

// WithTimeout wraps l so that every call is bounded by d and honours
// cancellation of the caller context. A call that does not finish in time
// fails with ErrUnavailable.
func WithTimeout(l Ledger, d time.Duration) Ledger {
	if d <= 0 {
		return l
	}
	return &timeoutLedger{next: l, timeout: d}
}

type timeoutLedger struct {
	next    Ledger
	timeout time.Duration
}

type result[T any] struct {
	val T
	err error
}

// call runs fn in its own goroutine so backends that ignore ctx cannot block the caller.
func call[T any](ctx context.Context, d time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && (errors.Is(r.err, context.DeadlineExceeded) || errors.Is(r.err, context.Canceled)) {
			return r.val, fmt.Errorf("%w: %s: %v", ErrUnavailable, op, r.err)
		}
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %s: %v", ErrUnavailable, op, ctx.Err())
	}
}

func exec(ctx context.Context, d time.Duration, op string, fn func(ctx context.Context) error) error {
	_, err := call(ctx, d, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (t *timeoutLedger) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return call(ctx, t.timeout, "get product", func(ctx context.Context) (*models.Product, error) {
		return t.next.GetProduct(ctx, id)
	})
}

func (t *timeoutLedger) GetManufacturer(ctx context.Context, addr models.Identity) (*models.Manufacturer, error) {
	return call(ctx, t.timeout, "get manufacturer", func(ctx context.Context) (*models.Manufacturer, error) {
		return t.next.GetManufacturer(ctx, addr)
	})
}

func (t *timeoutLedger) GetTransfers(ctx context.Context, productID string) ([]models.Transfer, error) {
	return call(ctx, t.timeout, "get transfers", func(ctx context.Context) ([]models.Transfer, error) {
		return t.next.GetTransfers(ctx, productID)
	})
}

func (t *timeoutLedger) GetStakeBalance(ctx context.Context, id models.Identity) (uint64, error) {
	return call(ctx, t.timeout, "get stake balance", func(ctx context.Context) (uint64, error) {
		return t.next.GetStakeBalance(ctx, id)
	})
}

func (t *timeoutLedger) GetPenaltyPool(ctx context.Context) (uint64, error) {
	return call(ctx, t.timeout, "get penalty pool", t.next.GetPenaltyPool)
}

func (t *timeoutLedger) GetReport(ctx context.Context, id string) (*models.CounterfeitReport, error) {
	return call(ctx, t.timeout, "get report", func(ctx context.Context) (*models.CounterfeitReport, error) {
		return t.next.GetReport(ctx, id)
	})
}

func (t *timeoutLedger) ListReports(ctx context.Context, status models.ReportStatus) ([]*models.CounterfeitReport, error) {
	return call(ctx, t.timeout, "list reports", func(ctx context.Context) ([]*models.CounterfeitReport, error) {
		return t.next.ListReports(ctx, status)
	})
}

func (t *timeoutLedger) GetVotes(ctx context.Context, reportID string) ([]models.Vote, error) {
	return call(ctx, t.timeout, "get votes", func(ctx context.Context) ([]models.Vote, error) {
		return t.next.GetVotes(ctx, reportID)
	})
}

func (t *timeoutLedger) GetResolution(ctx context.Context, reportID string) (*models.Resolution, error) {
	return call(ctx, t.timeout, "get resolution", func(ctx context.Context) (*models.Resolution, error) {
		return t.next.GetResolution(ctx, reportID)
	})
}

func (t *timeoutLedger) LockStake(ctx context.Context, report *models.CounterfeitReport) error {
	return exec(ctx, t.timeout, "lock stake", func(ctx context.Context) error {
		return t.next.LockStake(ctx, report)
	})
}

func (t *timeoutLedger) RecordVote(ctx context.Context, vote *models.Vote) error {
	return exec(ctx, t.timeout, "record vote", func(ctx context.Context) error {
		return t.next.RecordVote(ctx, vote)
	})
}

func (t *timeoutLedger) CommitResolution(ctx context.Context, res *models.Resolution) error {
	return exec(ctx, t.timeout, "commit resolution", func(ctx context.Context) error {
		return t.next.CommitResolution(ctx, res)
	})
}

func (t *timeoutLedger) AdjustReputation(ctx context.Context, adj *models.ReputationAdjustment) error {
	return exec(ctx, t.timeout, "adjust reputation", func(ctx context.Context) error {
		return t.next.AdjustReputation(ctx, adj)
	})
}

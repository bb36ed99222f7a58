package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"verifychain/ledger"
	"verifychain/models"
)

// LockStake stores a new report and debits its stake from the reporter balance.
// Submitting the same report again is a no-op.
func (r *LedgerRepository) LockStake(ctx context.Context, report *models.CounterfeitReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	existing, err := r.GetReport(ctx, report.ID)
	switch {
	case err == nil:
		if existing.Reporter == report.Reporter && existing.Stake == report.Stake && existing.ProductID == report.ProductID {
			return nil
		}
		return fmt.Errorf("%w: report %q already exists", ledger.ErrConflict, report.ID)
	case !errors.Is(err, ledger.ErrNotFound):
		return err
	}

	balance, err := r.getUint(stakeKey(report.Reporter))
	if err != nil {
		return err
	}
	if balance < report.Stake {
		return fmt.Errorf("%w: %d available, %d required", ledger.ErrInsufficientBalance, balance, report.Stake)
	}

	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	key := reportKey(report.ID)
	batch := new(leveldb.Batch)
	batch.Put(key, data)
	batch.Put(stakeKey(report.Reporter), encodeUint(balance-report.Stake))
	return r.commit(batch, "lock_stake", key, data)
}

// RecordVote stores a ballot. Submitting the same ballot again is a no-op;
// a different ballot from the same voter is a conflict.
func (r *LedgerRepository) RecordVote(ctx context.Context, vote *models.Vote) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	if _, err := r.GetReport(ctx, vote.ReportID); err != nil {
		return err
	}

	key := voteKey(vote.ReportID, vote.Voter)
	var existing models.Vote
	err := r.getJSON(key, &existing)
	switch {
	case err == nil:
		if existing.Choice == vote.Choice && existing.Weight == vote.Weight {
			return nil
		}
		return fmt.Errorf("%w: %q already voted on %q", ledger.ErrConflict, vote.Voter, vote.ReportID)
	case !errors.Is(err, ledger.ErrNotFound):
		return err
	}

	data, err := json.Marshal(vote)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(key, data)
	return r.commit(batch, "record_vote", key, data)
}

// CommitResolution marks the report terminal, credits the payouts and moves
// stake into or out of the penalty pool, all in one batch. A resolution is
// committed at most once.
func (r *LedgerRepository) CommitResolution(ctx context.Context, res *models.Resolution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !res.Outcome.Terminal() {
		return fmt.Errorf("%w: outcome %q is not terminal", ErrInvalidRecord, res.Outcome)
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	var existing models.Resolution
	err := r.getJSON(resolutionKey(res.ReportID), &existing)
	switch {
	case err == nil:
		if existing.Outcome == res.Outcome {
			return nil
		}
		return fmt.Errorf("%w: report %q already resolved as %s", ledger.ErrConflict, res.ReportID, existing.Outcome)
	case !errors.Is(err, ledger.ErrNotFound):
		return err
	}

	report, err := r.GetReport(ctx, res.ReportID)
	if err != nil {
		return err
	}
	pool, err := r.getUint([]byte(keyPenaltyPool))
	if err != nil {
		return err
	}
	if pool+res.PoolCredit < res.PoolDebit {
		return fmt.Errorf("%w: penalty pool holds %d, %d requested", ledger.ErrInsufficientBalance, pool+res.PoolCredit, res.PoolDebit)
	}

	batch := new(leveldb.Batch)

	// several payouts may target the same identity
	balances := make(map[models.Identity]uint64)
	for _, p := range res.Payouts {
		b, ok := balances[p.Identity]
		if !ok {
			if b, err = r.getUint(stakeKey(p.Identity)); err != nil {
				return err
			}
		}
		balances[p.Identity] = b + p.Amount
	}
	for id, b := range balances {
		batch.Put(stakeKey(id), encodeUint(b))
	}
	batch.Put([]byte(keyPenaltyPool), encodeUint(pool+res.PoolCredit-res.PoolDebit))

	resolvedAt := res.ResolvedAt
	report.Status = res.Outcome
	report.ResolvedAt = &resolvedAt
	reportData, err := json.Marshal(report)
	if err != nil {
		return err
	}
	batch.Put(reportKey(report.ID), reportData)

	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	key := resolutionKey(res.ReportID)
	batch.Put(key, data)
	return r.commit(batch, "commit_resolution", key, data)
}

// AdjustReputation applies a reputation delta to a manufacturer, clamped to
// [0, 100]. Each adjustment ID is applied at most once.
func (r *LedgerRepository) AdjustReputation(ctx context.Context, adj *models.ReputationAdjustment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if adj.ID == "" {
		return fmt.Errorf("%w: adjustment id is required", ErrInvalidRecord)
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	marker := reputationKey(adj.ID)
	applied, err := r.db.Has(marker)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	m, err := r.GetManufacturer(ctx, adj.Manufacturer)
	if err != nil {
		return err
	}
	m.Reputation = models.ClampReputation(m.Reputation + adj.Delta)

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	adjData, err := json.Marshal(adj)
	if err != nil {
		return err
	}
	key := manufacturerKey(m.Address)
	batch := new(leveldb.Batch)
	batch.Put(key, data)
	batch.Put(marker, adjData)
	return r.commit(batch, "adjust_reputation", marker, adjData)
}

package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"

	"verifychain/db"
	"verifychain/ledger"
	"verifychain/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (*LedgerRepository, *db.LevelDB) {
	t.Helper()
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { ldb.Close() })
	return NewLedgerRepository(ldb).WithClock(func() time.Time { return t0 }), ldb
}

func seedProduct(t *testing.T, r *LedgerRepository) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.RegisterManufacturer(ctx, &models.Manufacturer{Address: "0xmaker", Name: "Maker", Reputation: 80, Verified: true}))
	require.NoError(t, r.RegisterProduct(ctx, &models.Product{ID: "P-1", Manufacturer: "0xmaker", Active: true}))
}

func TestRegisterProduct_RequiresManufacturer(t *testing.T) {
	r, _ := newTestRepo(t)
	err := r.RegisterProduct(context.Background(), &models.Product{ID: "P-1", Manufacturer: "0xnobody"})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRegisterProduct_DuplicateID(t *testing.T) {
	r, _ := newTestRepo(t)
	seedProduct(t, r)
	err := r.RegisterProduct(context.Background(), &models.Product{ID: "P-1", Manufacturer: "0xmaker"})
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestAppendTransfer_KeepsInsertionOrder(t *testing.T) {
	r, _ := newTestRepo(t)
	seedProduct(t, r)
	ctx := context.Background()

	// a product whose id extends P-1 must not leak into P-1's transfers
	require.NoError(t, r.RegisterProduct(ctx, &models.Product{ID: "P-1:x", Manufacturer: "0xmaker"}))
	_, err := r.AppendTransfer(ctx, &models.Transfer{ProductID: "P-1:x", From: "0x0", To: "A", Timestamp: t0})
	require.NoError(t, err)

	stamps := []time.Time{t0.Add(2 * time.Hour), t0.Add(time.Hour), t0.Add(3 * time.Hour)}
	for _, ts := range stamps {
		_, err := r.AppendTransfer(ctx, &models.Transfer{ProductID: "P-1", From: "A", To: "B", Timestamp: ts, Anomalous: true})
		require.NoError(t, err)
	}

	got, err := r.GetTransfers(ctx, "P-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, tr := range got {
		assert.Equal(t, uint64(i+1), tr.Seq)
		assert.True(t, tr.Timestamp.Equal(stamps[i]))
		assert.False(t, tr.Anomalous, "stored transfers carry no anomaly flag")
	}
}

func TestLockStake_DebitsAndIsIdempotent(t *testing.T) {
	r, _ := newTestRepo(t)
	seedProduct(t, r)
	ctx := context.Background()

	_, err := r.DepositStake(ctx, "0xreporter", 50)
	require.NoError(t, err)

	rep := &models.CounterfeitReport{ID: "R-1", ProductID: "P-1", Reporter: "0xreporter", Stake: 20, OpenedAt: t0, Status: models.ReportOpen}
	require.NoError(t, r.LockStake(ctx, rep))
	require.NoError(t, r.LockStake(ctx, rep))

	bal, err := r.GetStakeBalance(ctx, "0xreporter")
	require.NoError(t, err)
	assert.Equal(t, uint64(30), bal)

	other := *rep
	other.Stake = 10
	assert.ErrorIs(t, r.LockStake(ctx, &other), ledger.ErrConflict)
}

func TestLockStake_InsufficientBalance(t *testing.T) {
	r, _ := newTestRepo(t)
	seedProduct(t, r)
	ctx := context.Background()

	rep := &models.CounterfeitReport{ID: "R-1", ProductID: "P-1", Reporter: "0xpoor", Stake: 20, Status: models.ReportOpen}
	assert.ErrorIs(t, r.LockStake(ctx, rep), ledger.ErrInsufficientBalance)

	_, err := r.GetReport(ctx, "R-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRecordVote_IdempotentAndConflicting(t *testing.T) {
	r, _ := newTestRepo(t)
	seedProduct(t, r)
	ctx := context.Background()
	_, err := r.DepositStake(ctx, "0xreporter", 20)
	require.NoError(t, err)
	require.NoError(t, r.LockStake(ctx, &models.CounterfeitReport{ID: "R-1", ProductID: "P-1", Reporter: "0xreporter", Stake: 20, Status: models.ReportOpen}))

	v := &models.Vote{ReportID: "R-1", Voter: "0xv1", Weight: 5, Choice: models.ChoiceUphold, CastAt: t0}
	require.NoError(t, r.RecordVote(ctx, v))
	require.NoError(t, r.RecordVote(ctx, v))

	flipped := *v
	flipped.Choice = models.ChoiceReject
	assert.ErrorIs(t, r.RecordVote(ctx, &flipped), ledger.ErrConflict)

	votes, err := r.GetVotes(ctx, "R-1")
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, models.ChoiceUphold, votes[0].Choice)
}

func TestCommitResolution_AppliesOnce(t *testing.T) {
	r, _ := newTestRepo(t)
	seedProduct(t, r)
	ctx := context.Background()
	_, err := r.DepositStake(ctx, "0xreporter", 20)
	require.NoError(t, err)
	require.NoError(t, r.LockStake(ctx, &models.CounterfeitReport{ID: "R-1", ProductID: "P-1", Reporter: "0xreporter", Stake: 20, Status: models.ReportOpen}))

	res := &models.Resolution{ReportID: "R-1", Outcome: models.ReportRejected, PoolCredit: 20, ResolvedAt: t0}
	require.NoError(t, r.CommitResolution(ctx, res))
	require.NoError(t, r.CommitResolution(ctx, res))

	pool, err := r.GetPenaltyPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), pool)

	rep, err := r.GetReport(ctx, "R-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReportRejected, rep.Status)
	require.NotNil(t, rep.ResolvedAt)

	other := *res
	other.Outcome = models.ReportUpheld
	assert.ErrorIs(t, r.CommitResolution(ctx, &other), ledger.ErrConflict)
}

func TestCommitResolution_PoolCannotGoNegative(t *testing.T) {
	r, _ := newTestRepo(t)
	seedProduct(t, r)
	ctx := context.Background()
	_, err := r.DepositStake(ctx, "0xreporter", 20)
	require.NoError(t, err)
	require.NoError(t, r.LockStake(ctx, &models.CounterfeitReport{ID: "R-1", ProductID: "P-1", Reporter: "0xreporter", Stake: 20, Status: models.ReportOpen}))

	res := &models.Resolution{
		ReportID:   "R-1",
		Outcome:    models.ReportUpheld,
		Payouts:    []models.Payout{{Identity: "0xreporter", Amount: 25}},
		PoolDebit:  5,
		ResolvedAt: t0,
	}
	assert.ErrorIs(t, r.CommitResolution(ctx, res), ledger.ErrInsufficientBalance)
}

func TestAdjustReputation_ClampedAndIdempotent(t *testing.T) {
	r, _ := newTestRepo(t)
	seedProduct(t, r)
	ctx := context.Background()

	adj := &models.ReputationAdjustment{ID: "R-1", Manufacturer: "0xmaker", Delta: -100}
	require.NoError(t, r.AdjustReputation(ctx, adj))
	require.NoError(t, r.AdjustReputation(ctx, adj))

	m, err := r.GetManufacturer(ctx, "0xmaker")
	require.NoError(t, err)
	assert.Equal(t, 0, m.Reputation)
}

func TestVerifyJournal_DetectsTampering(t *testing.T) {
	r, ldb := newTestRepo(t)
	seedProduct(t, r)
	ctx := context.Background()

	status, err := r.VerifyJournal(ctx)
	require.NoError(t, err)
	assert.True(t, status.Valid)
	assert.Equal(t, uint64(2), status.Entries)

	var e JournalEntry
	raw, err := ldb.Get(journalKey(1))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &e))
	e.Key = "prod:forged"
	forged, err := json.Marshal(&e)
	require.NoError(t, err)
	batch := new(leveldb.Batch)
	batch.Put(journalKey(1), forged)
	require.NoError(t, ldb.Write(batch))

	status, err = r.VerifyJournal(ctx)
	assert.ErrorIs(t, err, ErrJournalCorrupt)
	require.NotNil(t, status)
	assert.False(t, status.Valid)
	assert.Equal(t, uint64(1), status.BrokenAt)
}

func TestLedgerCallsHonourCancellation(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.GetProduct(ctx, "P-1")
	assert.ErrorIs(t, err, context.Canceled)
}

package repository

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"verifychain/db"
	"verifychain/ledger"
	"verifychain/models"
)

// Key prefixes of the ledger layout. Variable parts that are not the last
// key segment are hex encoded so one id can never be a prefix of another.
const (
	prefixManufacturer = "mfr:"
	prefixProduct      = "prod:"
	prefixTransfer     = "xfer:"
	prefixTransferSeq  = "xferseq:"
	prefixStake        = "stake:"
	prefixReport       = "report:"
	prefixVote         = "vote:"
	prefixResolution   = "resolution:"
	prefixReputation   = "repadj:"
	keyPenaltyPool     = "pool"
)

// It abstracts the operator-side registry writes from the business logic
type RegistryInterface interface {
	RegisterManufacturer(ctx context.Context, m *models.Manufacturer) error
	RegisterProduct(ctx context.Context, p *models.Product) error
	AppendTransfer(ctx context.Context, t *models.Transfer) (*models.Transfer, error)
	DepositStake(ctx context.Context, id models.Identity, amount uint64) (uint64, error)
	VerifyJournal(ctx context.Context) (*JournalStatus, error)
	Ping(ctx context.Context) error
}

// LedgerRepository implements ledger.Ledger and RegistryInterface using LevelDB as the storage backend
type LedgerRepository struct {
	db  *db.LevelDB
	mux sync.Mutex // serializes read-modify-write sequences
	now func() time.Time
}

var (
	_ ledger.Ledger     = (*LedgerRepository)(nil)
	_ RegistryInterface = (*LedgerRepository)(nil)
)

// NewLedgerRepository creates and returns a new LedgerRepository instance
func NewLedgerRepository(db *db.LevelDB) *LedgerRepository {
	return &LedgerRepository{db: db, now: time.Now}
}

// WithClock replaces the clock used to stamp journal entries and registrations
func (r *LedgerRepository) WithClock(now func() time.Time) *LedgerRepository {
	r.now = now
	return r
}

func manufacturerKey(addr models.Identity) []byte { return []byte(prefixManufacturer + string(addr)) }
func productKey(id string) []byte                 { return []byte(prefixProduct + id) }
func transferSeqKey(id string) []byte             { return []byte(prefixTransferSeq + id) }
func stakeKey(id models.Identity) []byte          { return []byte(prefixStake + string(id)) }
func reportKey(id string) []byte                  { return []byte(prefixReport + id) }
func resolutionKey(id string) []byte              { return []byte(prefixResolution + id) }
func reputationKey(id string) []byte              { return []byte(prefixReputation + id) }

func transferPrefix(productID string) []byte {
	return []byte(prefixTransfer + hex.EncodeToString([]byte(productID)) + ":")
}

func transferKey(productID string, seq uint64) []byte {
	return append(transferPrefix(productID), []byte(fmt.Sprintf("%020d", seq))...)
}

func votePrefix(reportID string) []byte {
	return []byte(prefixVote + hex.EncodeToString([]byte(reportID)) + ":")
}

func voteKey(reportID string, voter models.Identity) []byte {
	return append(votePrefix(reportID), []byte(voter)...)
}

// getJSON loads the value at key into v, mapping a missing key to ledger.ErrNotFound
func (r *LedgerRepository) getJSON(key []byte, v any) error {
	data, err := r.db.Get(key)
	if err != nil {
		if db.IsNotFound(err) {
			return ledger.ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func (r *LedgerRepository) getUint(key []byte) (uint64, error) {
	data, err := r.db.Get(key)
	if err != nil {
		if db.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

func encodeUint(v uint64) []byte {
	return []byte(strconv.FormatUint(v, 10))
}

// GetProduct retrieves a product by its ID
func (r *LedgerRepository) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p models.Product
	if err := r.getJSON(productKey(id), &p); err != nil {
		return nil, fmt.Errorf("product %q: %w", id, err)
	}
	return &p, nil
}

// GetManufacturer retrieves a manufacturer by its address
func (r *LedgerRepository) GetManufacturer(ctx context.Context, addr models.Identity) (*models.Manufacturer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var m models.Manufacturer
	if err := r.getJSON(manufacturerKey(addr), &m); err != nil {
		return nil, fmt.Errorf("manufacturer %q: %w", addr, err)
	}
	return &m, nil
}

// GetTransfers retrieves the transfers of a product in insertion order
func (r *LedgerRepository) GetTransfers(ctx context.Context, productID string) ([]models.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	iter := r.db.NewPrefixIterator(transferPrefix(productID))
	defer iter.Release()

	var transfers []models.Transfer
	for iter.Next() {
		var t models.Transfer
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, iter.Error()
}

// GetStakeBalance returns the unlocked stake of an identity
func (r *LedgerRepository) GetStakeBalance(ctx context.Context, id models.Identity) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return r.getUint(stakeKey(id))
}

// GetPenaltyPool returns the stake forfeited by rejected reports and not yet paid out
func (r *LedgerRepository) GetPenaltyPool(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return r.getUint([]byte(keyPenaltyPool))
}

// GetReport retrieves a counterfeit report by its ID
func (r *LedgerRepository) GetReport(ctx context.Context, id string) (*models.CounterfeitReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rep models.CounterfeitReport
	if err := r.getJSON(reportKey(id), &rep); err != nil {
		return nil, fmt.Errorf("report %q: %w", id, err)
	}
	return &rep, nil
}

// ListReports returns the reports with the given status ordered by opening time
func (r *LedgerRepository) ListReports(ctx context.Context, status models.ReportStatus) ([]*models.CounterfeitReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	iter := r.db.NewPrefixIterator([]byte(prefixReport))
	defer iter.Release()

	var reports []*models.CounterfeitReport
	for iter.Next() {
		var rep models.CounterfeitReport
		if err := json.Unmarshal(iter.Value(), &rep); err != nil {
			return nil, err
		}
		if status != "" && rep.Status != status {
			continue
		}
		reports = append(reports, &rep)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(reports, func(i, j int) bool {
		if !reports[i].OpenedAt.Equal(reports[j].OpenedAt) {
			return reports[i].OpenedAt.Before(reports[j].OpenedAt)
		}
		return reports[i].ID < reports[j].ID
	})
	return reports, nil
}

// GetVotes returns the votes of a report ordered by cast time, then voter
func (r *LedgerRepository) GetVotes(ctx context.Context, reportID string) ([]models.Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	iter := r.db.NewPrefixIterator(votePrefix(reportID))
	defer iter.Release()

	var votes []models.Vote
	for iter.Next() {
		var v models.Vote
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(votes, func(i, j int) bool {
		if !votes[i].CastAt.Equal(votes[j].CastAt) {
			return votes[i].CastAt.Before(votes[j].CastAt)
		}
		return votes[i].Voter < votes[j].Voter
	})
	return votes, nil
}

// GetResolution retrieves the committed resolution of a report
func (r *LedgerRepository) GetResolution(ctx context.Context, reportID string) (*models.Resolution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var res models.Resolution
	if err := r.getJSON(resolutionKey(reportID), &res); err != nil {
		return nil, fmt.Errorf("resolution %q: %w", reportID, err)
	}
	return &res, nil
}

// Ping checks that the store answers reads
func (r *LedgerRepository) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := r.db.Has([]byte(keyPenaltyPool))
	return err
}

// Package dispute runs the stake-weighted counterfeit report lifecycle:
// a report is opened with locked stake, collects one weighted vote per
// identity during its voting window and is then resolved exactly once.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"verifychain/ledger"
	"verifychain/models"
)

// OpenRequest describes a new counterfeit report.
type OpenRequest struct {
	ProductID string          `json:"productId"`
	Reporter  models.Identity `json:"-"`
	Stake     uint64          `json:"stake"`
	Reason    string          `json:"reason,omitempty"`
}

// ReportView is a report with its ballots, running tally and, once
// terminal, its resolution.
type ReportView struct {
	Report     *models.CounterfeitReport `json:"report"`
	Votes      []models.Vote             `json:"votes"`
	Tally      models.Tally              `json:"tally"`
	Resolution *models.Resolution        `json:"resolution,omitempty"`
}

// Engine applies dispute transitions against a ledger. Transitions on the
// same report are serialized; different reports proceed independently.
type Engine struct {
	ledger ledger.Ledger
	cfg    Config
	now    func() time.Time
	newID  func() string

	openMu sync.Mutex

	mu    sync.Mutex
	locks map[string]*reportLock
}

// reportLock serializes transitions on one report. The entry lives only
// while some caller holds or waits on it.
type reportLock struct {
	sync.Mutex
	refs int
}

// NewEngine builds an engine over l.
func NewEngine(l ledger.Ledger, cfg Config) *Engine {
	return &Engine{
		ledger: l,
		cfg:    cfg,
		now:    time.Now,
		newID:  uuid.NewString,
		locks:  make(map[string]*reportLock),
	}
}

// WithClock replaces the engine clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// lock acquires the report lock and returns its release function.
func (e *Engine) lock(reportID string) func() {
	e.mu.Lock()
	l, ok := e.locks[reportID]
	if !ok {
		l = new(reportLock)
		e.locks[reportID] = l
	}
	l.refs++
	e.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		e.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(e.locks, reportID)
		}
		e.mu.Unlock()
	}
}

// Open locks req.Stake from the reporter and opens a report against the
// product. A product has at most one open report at a time.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (*models.CounterfeitReport, error) {
	if req.Reporter.IsZero() {
		return nil, ErrMissingIdentity
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrInvalidReport)
	}
	if req.Stake < e.cfg.MinimumStake {
		return nil, fmt.Errorf("%w: stake %d is below the minimum of %d", ErrInsufficientStake, req.Stake, e.cfg.MinimumStake)
	}

	if _, err := e.ledger.GetProduct(ctx, productID); err != nil {
		return nil, err
	}

	e.openMu.Lock()
	defer e.openMu.Unlock()

	open, err := e.ledger.ListReports(ctx, models.ReportOpen)
	if err != nil {
		return nil, err
	}
	for _, r := range open {
		if r.ProductID == productID {
			return nil, fmt.Errorf("%w: report %s", ErrReportOpen, r.ID)
		}
	}

	now := e.now().UTC()
	report := &models.CounterfeitReport{
		ID:        e.newID(),
		ProductID: productID,
		Reporter:  req.Reporter,
		Stake:     req.Stake,
		Reason:    strings.TrimSpace(req.Reason),
		OpenedAt:  now,
		Deadline:  now.Add(e.cfg.VotingPeriod),
		Status:    models.ReportOpen,
	}
	if err := e.ledger.LockStake(ctx, report); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientStake, err)
		}
		return nil, err
	}
	return report, nil
}

// CastVote records voter's ballot on an open report. The ballot weight is
// the voter's stake balance at the time of casting.
func (e *Engine) CastVote(ctx context.Context, reportID string, voter models.Identity, choice models.VoteChoice) (*models.Vote, error) {
	if voter.IsZero() {
		return nil, ErrMissingIdentity
	}
	if !choice.Valid() {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidChoice, choice)
	}

	unlock := e.lock(reportID)
	defer unlock()

	report, err := e.ledger.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	if report.Status != models.ReportOpen || !now.Before(report.Deadline) {
		return nil, fmt.Errorf("%w: report %s", ErrVotingClosed, reportID)
	}

	votes, err := e.ledger.GetVotes(ctx, reportID)
	if err != nil {
		return nil, err
	}
	for _, v := range votes {
		if strings.EqualFold(string(v.Voter), string(voter)) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateVote, voter)
		}
	}

	weight, err := e.ledger.GetStakeBalance(ctx, voter)
	if err != nil {
		return nil, err
	}
	if weight == 0 {
		return nil, fmt.Errorf("%w: %s holds no stake", ErrInsufficientStake, voter)
	}

	vote := &models.Vote{
		ReportID: reportID,
		Voter:    voter,
		Weight:   weight,
		Choice:   choice,
		CastAt:   now,
	}
	if err := e.ledger.RecordVote(ctx, vote); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateVote, err)
		}
		return nil, err
	}
	return vote, nil
}

// Resolve settles a report whose voting window has elapsed.
//
// Fewer than MinimumVotes ballots expire the report and return the stake.
// Otherwise the heavier side wins; a tie rejects. An upheld report returns
// the stake plus a reward from the penalty pool and lowers the manufacturer
// reputation. A rejected report forfeits the stake to the pool.
func (e *Engine) Resolve(ctx context.Context, reportID string) (*models.Resolution, error) {
	unlock := e.lock(reportID)
	defer unlock()

	report, err := e.ledger.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report.Status.Terminal() {
		// finish a resolution interrupted before its reputation change
		if res, err := e.ledger.GetResolution(ctx, reportID); err == nil {
			if err := e.adjustReputation(ctx, res); err != nil {
				return nil, err
			}
		}
		return nil, fmt.Errorf("%w: report %s is %s", ErrAlreadyResolved, reportID, report.Status)
	}

	now := e.now().UTC()
	if now.Before(report.Deadline) {
		return nil, fmt.Errorf("%w: report %s closes at %s", ErrVotingOpen, reportID, report.Deadline.Format(time.RFC3339))
	}

	votes, err := e.ledger.GetVotes(ctx, reportID)
	if err != nil {
		return nil, err
	}
	product, err := e.ledger.GetProduct(ctx, report.ProductID)
	if err != nil {
		return nil, err
	}

	res := &models.Resolution{
		ReportID:     report.ID,
		ProductID:    report.ProductID,
		Manufacturer: product.Manufacturer,
		Tally:        TallyVotes(votes),
		ResolvedAt:   now,
	}
	switch {
	case res.Tally.Votes < e.cfg.MinimumVotes:
		res.Outcome = models.ReportExpired
		res.Payouts = []models.Payout{{Identity: report.Reporter, Amount: report.Stake}}

	case res.Tally.UpholdWeight > res.Tally.RejectWeight:
		pool, err := e.ledger.GetPenaltyPool(ctx)
		if err != nil {
			return nil, err
		}
		reward := min(report.Stake*e.cfg.RewardPercent/100, pool)
		res.Outcome = models.ReportUpheld
		res.Payouts = []models.Payout{{Identity: report.Reporter, Amount: report.Stake + reward}}
		res.PoolDebit = reward
		res.ReputationDelta = -e.cfg.ReputationPenalty

	default:
		res.Outcome = models.ReportRejected
		res.PoolCredit = report.Stake
		res.ReputationDelta = e.cfg.ReputationRestore
	}

	if err := e.ledger.CommitResolution(ctx, res); err != nil {
		return nil, err
	}
	if err := e.adjustReputation(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) adjustReputation(ctx context.Context, res *models.Resolution) error {
	if res.ReputationDelta == 0 || res.Manufacturer.IsZero() {
		return nil
	}
	return e.ledger.AdjustReputation(ctx, &models.ReputationAdjustment{
		ID:           "report:" + res.ReportID,
		Manufacturer: res.Manufacturer,
		Delta:        res.ReputationDelta,
		Reason:       fmt.Sprintf("counterfeit report %s %s", res.ReportID, res.Outcome),
	})
}

// ResolveDue resolves every open report whose voting window has elapsed.
// Reports that fail to resolve are skipped and reported in the joined error.
func (e *Engine) ResolveDue(ctx context.Context) ([]*models.Resolution, error) {
	open, err := e.ledger.ListReports(ctx, models.ReportOpen)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var (
		resolved []*models.Resolution
		errs     []error
	)
	for _, r := range open {
		if now.Before(r.Deadline) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := e.Resolve(ctx, r.ID)
		switch {
		case err == nil:
			resolved = append(resolved, res)
		case errors.Is(err, ErrAlreadyResolved):
		default:
			errs = append(errs, fmt.Errorf("report %s: %w", r.ID, err))
		}
	}
	return resolved, errors.Join(errs...)
}

// Report returns the current view of a report.
func (e *Engine) Report(ctx context.Context, reportID string) (*ReportView, error) {
	report, err := e.ledger.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	votes, err := e.ledger.GetVotes(ctx, reportID)
	if err != nil {
		return nil, err
	}
	view := &ReportView{Report: report, Votes: votes, Tally: TallyVotes(votes)}
	if report.Status.Terminal() {
		if view.Resolution, err = e.ledger.GetResolution(ctx, reportID); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
	}
	if view.Votes == nil {
		view.Votes = []models.Vote{}
	}
	return view, nil
}

// TallyVotes sums the weight on each side.
func TallyVotes(votes []models.Vote) models.Tally {
	var t models.Tally
	for _, v := range votes {
		t.Votes++
		switch v.Choice {
		case models.ChoiceUphold:
			t.UpholdWeight += v.Weight
		case models.ChoiceReject:
			t.RejectWeight += v.Weight
		}
	}
	return t
}

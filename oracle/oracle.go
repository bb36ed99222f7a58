// Package oracle turns ledger facts about a product into an authenticity
// verdict with a 0-100 confidence score.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"verifychain/anomaly"
	"verifychain/ledger"
	"verifychain/models"
)

var (
	// ErrInvalidInput is returned for a product id that fails validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrScoring is returned when the ledger facts are inconsistent and no
	// verdict can be produced.
	ErrScoring = errors.New("scoring failed")
)

// Weights are the maximum points of each factor. They should sum to 100.
type Weights struct {
	Verified   int
	Reputation int
	Active     int
	Custody    int
	Recency    int
}

// Config holds oracle configuration
type Config struct {
	// AuthenticThreshold is the minimum score of an authentic verdict.
	AuthenticThreshold int
	MaxProductIDLength int
	// RecencyFresh is the custody age that still earns full recency points;
	// points decay linearly to zero at RecencyStale.
	RecencyFresh time.Duration
	RecencyStale time.Duration
	Weights      Weights
}

// DefaultConfig returns the default oracle configuration
func DefaultConfig() Config {
	return Config{
		AuthenticThreshold: 70,
		MaxProductIDLength: 256,
		RecencyFresh:       30 * 24 * time.Hour,
		RecencyStale:       365 * 24 * time.Hour,
		Weights: Weights{
			Verified:   25,
			Reputation: 25,
			Active:     15,
			Custody:    25,
			Recency:    10,
		},
	}
}

// Oracle computes verdicts. It holds no mutable state.
type Oracle struct {
	ledger   ledger.Reader
	detector *anomaly.Detector
	cfg      Config
	now      func() time.Time
}

// New builds an oracle reading from l.
func New(l ledger.Reader, detector *anomaly.Detector, cfg Config) *Oracle {
	return &Oracle{ledger: l, detector: detector, cfg: cfg, now: time.Now}
}

// WithClock replaces the clock used for the recency factor.
func (o *Oracle) WithClock(now func() time.Time) *Oracle {
	o.now = now
	return o
}

// ValidateProductID trims id and checks it is non-empty and within the length limit.
func (o *Oracle) ValidateProductID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(id) > o.cfg.MaxProductIDLength {
		return "", fmt.Errorf("%w: product id exceeds %d characters", ErrInvalidInput, o.cfg.MaxProductIDLength)
	}
	return id, nil
}

// Verify returns the verdict for productID. An unknown product fails with
// ledger.ErrNotFound; no error path yields a result.
func (o *Oracle) Verify(ctx context.Context, productID string, requester models.Identity) (*models.VerificationResult, error) {
	id, err := o.ValidateProductID(productID)
	if err != nil {
		return nil, err
	}

	product, err := o.ledger.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		manufacturer *models.Manufacturer
		transfers    []models.Transfer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := o.ledger.GetManufacturer(gctx, product.Manufacturer)
		if errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("%w: product %q references unknown manufacturer %q", ErrScoring, product.ID, product.Manufacturer)
		}
		manufacturer = m
		return err
	})
	g.Go(func() error {
		ts, err := o.ledger.GetTransfers(gctx, product.ID)
		transfers = ts
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, t := range transfers {
		if t.ProductID != product.ID {
			return nil, fmt.Errorf("%w: transfer %d belongs to %q", ErrScoring, t.Seq, t.ProductID)
		}
	}

	summary := anomaly.Summarize(o.detector.Detect(anomaly.Subject{Manufacturer: manufacturer}, transfers))
	checkedAt := o.now().UTC()
	factors := o.factors(product, manufacturer, summary, checkedAt)

	score := 0
	for _, f := range factors {
		score += f.Points
	}
	score = clamp(score, 0, 100)

	return &models.VerificationResult{
		ProductID:          product.ID,
		Manufacturer:       product.Manufacturer,
		IsAuthentic:        product.Active && score >= o.cfg.AuthenticThreshold,
		ConfidenceScore:    score,
		Factors:            factors,
		AnomalousTransfers: summary.Flagged,
		Requester:          requester,
		CheckedAt:          checkedAt,
	}, nil
}

func (o *Oracle) factors(p *models.Product, m *models.Manufacturer, s anomaly.Summary, now time.Time) []models.Factor {
	w := o.cfg.Weights
	factors := make([]models.Factor, 0, 5)

	verified := models.Factor{Code: models.FactorManufacturerVerified, MaxPoints: w.Verified, Detail: "manufacturer is not verified"}
	if m.Verified {
		verified.Points = w.Verified
		verified.Detail = "manufacturer is verified"
	}
	factors = append(factors, verified)

	rep := models.ClampReputation(m.Reputation)
	factors = append(factors, models.Factor{
		Code:      models.FactorManufacturerRep,
		Points:    scale(w.Reputation, float64(rep)/models.MaxReputation),
		MaxPoints: w.Reputation,
		Detail:    fmt.Sprintf("manufacturer reputation %d/%d", rep, models.MaxReputation),
	})

	active := models.Factor{Code: models.FactorProductActive, MaxPoints: w.Active, Detail: "product registration is inactive"}
	if p.Active {
		active.Points = w.Active
		active.Detail = "product registration is active"
	}
	factors = append(factors, active)

	integrity := 1.0
	if s.Total > 0 {
		integrity = float64(s.Total-s.Anomalous) / float64(s.Total)
	}
	factors = append(factors, models.Factor{
		Code:      models.FactorCustodyIntegrity,
		Points:    scale(w.Custody, integrity),
		MaxPoints: w.Custody,
		Detail:    fmt.Sprintf("%d of %d transfers anomalous", s.Anomalous, s.Total),
	})

	last := p.RegisteredAt
	if s.Last != nil {
		last = s.Last.Timestamp
	}
	age := now.Sub(last)
	factors = append(factors, models.Factor{
		Code:      models.FactorCustodyRecency,
		Points:    scale(w.Recency, o.freshness(age)),
		MaxPoints: w.Recency,
		Detail:    fmt.Sprintf("last custody event %s ago", age.Truncate(time.Second)),
	})
	return factors
}

// freshness maps custody age to [0,1]: 1 up to RecencyFresh, linear to 0 at RecencyStale.
func (o *Oracle) freshness(age time.Duration) float64 {
	if age <= o.cfg.RecencyFresh {
		return 1
	}
	if age >= o.cfg.RecencyStale || o.cfg.RecencyStale <= o.cfg.RecencyFresh {
		return 0
	}
	return 1 - float64(age-o.cfg.RecencyFresh)/float64(o.cfg.RecencyStale-o.cfg.RecencyFresh)
}

func scale(points int, fraction float64) int {
	return clamp(int(math.Round(float64(points)*fraction)), 0, points)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

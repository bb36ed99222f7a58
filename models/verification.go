package models

import "time"

// VerificationRequest is the body accepted by the verification endpoint.
type VerificationRequest struct {
	ProductID     string `json:"productId"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

// FactorCode names one input of the confidence score.
type FactorCode string

const (
	FactorManufacturerVerified FactorCode = "manufacturer_verified"
	FactorManufacturerRep      FactorCode = "manufacturer_reputation"
	FactorProductActive        FactorCode = "product_active"
	FactorCustodyIntegrity     FactorCode = "custody_integrity"
	FactorCustodyRecency       FactorCode = "custody_recency"
)

// Factor is one weighted contribution to a verdict.
type Factor struct {
	Code      FactorCode `json:"code"`
	Points    int        `json:"points"`
	MaxPoints int        `json:"max_points"`
	Detail    string     `json:"detail"`
}

// VerificationResult is the oracle verdict for a product
type VerificationResult struct {
	ProductID          string     `json:"productId"`
	Manufacturer       Identity   `json:"manufacturer"`
	IsAuthentic        bool       `json:"isAuthentic"`
	ConfidenceScore    int        `json:"confidenceScore"`
	Factors            []Factor   `json:"factors"`
	AnomalousTransfers []Transfer `json:"anomalousTransfers,omitempty"`
	Requester          Identity   `json:"requester,omitempty"`
	CheckedAt          time.Time  `json:"checkedAt"`
}

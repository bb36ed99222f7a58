package models

import "time"

// Transfer is one custody-change event of a product
type Transfer struct {
	ProductID      string    `json:"product_id"`
	Seq            uint64    `json:"seq"` // ledger insertion order, starting at 1
	From           Identity  `json:"from"`
	To             Identity  `json:"to"`
	Timestamp      time.Time `json:"timestamp"`
	Location       string    `json:"location,omitempty"`
	Anomalous      bool      `json:"anomalous"`
	AnomalyReasons []string  `json:"anomaly_reasons,omitempty"`
}

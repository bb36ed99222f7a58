package models

import "time"

// MaxReputation is the upper bound of a manufacturer reputation score.
const MaxReputation = 100

// Identity is an opaque caller identity: a wallet address or a network address.
type Identity string

// IsZero reports whether the identity is empty.
func (id Identity) IsZero() bool {
	return id == ""
}

// Manufacturer is a registered producer
type Manufacturer struct {
	Address         Identity  `json:"address"`          // ledger account of the producer
	Name            string    `json:"name"`             // display name
	Reputation      int       `json:"reputation"`       // 0..100, changed only by resolved disputes
	Verified        bool      `json:"verified"`         // identity checked by the registry operator
	RequireLocation bool      `json:"require_location"` // every transfer must declare a location
	RegisteredAt    time.Time `json:"registered_at"`
}

// Product is a registered item
type Product struct {
	ID           string    `json:"id"`
	Manufacturer Identity  `json:"manufacturer"`
	Name         string    `json:"name,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	Active       bool      `json:"active"`
}

// ClampReputation bounds a reputation score to [0, MaxReputation].
func ClampReputation(r int) int {
	if r < 0 {
		return 0
	}
	if r > MaxReputation {
		return MaxReputation
	}
	return r
}

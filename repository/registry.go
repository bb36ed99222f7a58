package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"

	"verifychain/ledger"
	"verifychain/models"
)

// ErrInvalidRecord is returned when a registry write is missing required fields
var ErrInvalidRecord = errors.New("invalid ledger record")

// RegisterManufacturer stores a new manufacturer; addresses are unique
func (r *LedgerRepository) RegisterManufacturer(ctx context.Context, m *models.Manufacturer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(string(m.Address)) == "" {
		return fmt.Errorf("%w: manufacturer address is required", ErrInvalidRecord)
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	key := manufacturerKey(m.Address)
	exists, err := r.db.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: manufacturer %q already registered", ledger.ErrConflict, m.Address)
	}

	m.Reputation = models.ClampReputation(m.Reputation)
	if m.RegisteredAt.IsZero() {
		m.RegisteredAt = r.now().UTC()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(key, data)
	return r.commit(batch, "register_manufacturer", key, data)
}

// RegisterProduct stores a new product; the manufacturer must already exist
func (r *LedgerRepository) RegisterProduct(ctx context.Context, p *models.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidRecord)
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	if _, err := r.GetManufacturer(ctx, p.Manufacturer); err != nil {
		return err
	}
	key := productKey(p.ID)
	exists, err := r.db.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: product %q already registered", ledger.ErrConflict, p.ID)
	}

	if p.RegisteredAt.IsZero() {
		p.RegisteredAt = r.now().UTC()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(key, data)
	return r.commit(batch, "register_product", key, data)
}

// AppendTransfer records a custody change at the end of the product's sequence.
// Transfers are stored as submitted; plausibility is judged on read.
func (r *LedgerRepository) AppendTransfer(ctx context.Context, t *models.Transfer) (*models.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	if _, err := r.GetProduct(ctx, t.ProductID); err != nil {
		return nil, err
	}
	seq, err := r.getUint(transferSeqKey(t.ProductID))
	if err != nil {
		return nil, err
	}

	stored := *t
	stored.Seq = seq + 1
	stored.Anomalous = false
	stored.AnomalyReasons = nil
	if stored.Timestamp.IsZero() {
		stored.Timestamp = r.now().UTC()
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, err
	}

	key := transferKey(t.ProductID, stored.Seq)
	batch := new(leveldb.Batch)
	batch.Put(key, data)
	batch.Put(transferSeqKey(t.ProductID), encodeUint(stored.Seq))
	if err := r.commit(batch, "append_transfer", key, data); err != nil {
		return nil, err
	}
	return &stored, nil
}

// DepositStake credits amount to the stake balance of id and returns the new balance
func (r *LedgerRepository) DepositStake(ctx context.Context, id models.Identity, amount uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if id.IsZero() || amount == 0 {
		return 0, fmt.Errorf("%w: deposit needs an identity and a positive amount", ErrInvalidRecord)
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	balance, err := r.getUint(stakeKey(id))
	if err != nil {
		return 0, err
	}
	balance += amount

	key := stakeKey(id)
	value := encodeUint(balance)
	batch := new(leveldb.Batch)
	batch.Put(key, value)
	if err := r.commit(batch, "deposit_stake", key, value); err != nil {
		return 0, err
	}
	return balance, nil
}

package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/syndtr/goleveldb/leveldb"

	"verifychain/db"
)

const (
	prefixJournal  = "journal:"
	keyJournalHead = "jhead"
)

// ErrJournalCorrupt is returned when the hash chain of the journal does not verify
var ErrJournalCorrupt = errors.New("journal: hash chain broken")

// JournalEntry records one ledger write. Each entry commits to the previous
// one through PrevHash, so rewriting history changes every later hash.
type JournalEntry struct {
	Seq      uint64    `json:"seq"`
	Kind     string    `json:"kind"`
	Key      string    `json:"key"`
	Digest   string    `json:"digest"` // sha256 of the written value
	PrevHash string    `json:"prev_hash"`
	Hash     string    `json:"hash"`
	At       time.Time `json:"at"`
}

type journalHead struct {
	Seq  uint64 `json:"seq"`
	Hash string `json:"hash"`
}

// JournalStatus is the outcome of a full journal verification
type JournalStatus struct {
	Entries  uint64 `json:"entries"`
	Head     string `json:"head"`
	Valid    bool   `json:"valid"`
	BrokenAt uint64 `json:"broken_at,omitempty"`
}

func journalKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixJournal, seq))
}

func entryHash(e *JournalEntry) string {
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write([]byte(strconv.FormatUint(e.Seq, 10)))
	h.Write([]byte(e.Kind))
	h.Write([]byte(e.Key))
	h.Write([]byte(e.Digest))
	h.Write([]byte(e.At.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

func (r *LedgerRepository) head() (journalHead, error) {
	var head journalHead
	data, err := r.db.Get([]byte(keyJournalHead))
	if err != nil {
		if db.IsNotFound(err) {
			return head, nil
		}
		return head, err
	}
	err = json.Unmarshal(data, &head)
	return head, err
}

// commit appends a journal entry for the write to batch and applies it atomically.
// Caller must hold r.mux.
func (r *LedgerRepository) commit(batch *leveldb.Batch, kind string, key []byte, value []byte) error {
	head, err := r.head()
	if err != nil {
		return err
	}
	digest := sha256.Sum256(value)
	entry := &JournalEntry{
		Seq:      head.Seq + 1,
		Kind:     kind,
		Key:      string(key),
		Digest:   hex.EncodeToString(digest[:]),
		PrevHash: head.Hash,
		At:       r.now().UTC(),
	}
	entry.Hash = entryHash(entry)

	entryData, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	headData, err := json.Marshal(journalHead{Seq: entry.Seq, Hash: entry.Hash})
	if err != nil {
		return err
	}
	batch.Put(journalKey(entry.Seq), entryData)
	batch.Put([]byte(keyJournalHead), headData)
	return r.db.Write(batch)
}

// VerifyJournal recomputes the hash chain over every journal entry
func (r *LedgerRepository) VerifyJournal(ctx context.Context) (*JournalStatus, error) {
	iter := r.db.NewPrefixIterator([]byte(prefixJournal))
	defer iter.Release()

	status := &JournalStatus{Valid: true}
	prev := ""
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e JournalEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, err
		}
		if e.Seq != status.Entries+1 || e.PrevHash != prev || entryHash(&e) != e.Hash {
			status.Valid = false
			status.BrokenAt = e.Seq
			return status, fmt.Errorf("%w at entry %d", ErrJournalCorrupt, e.Seq)
		}
		status.Entries = e.Seq
		prev = e.Hash
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	status.Head = prev
	return status, nil
}

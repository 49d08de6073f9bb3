// Package storage keeps the transaction journal and the last known good
// account state on top of a db.DB.
package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celer-network/go-dsu/db"
	"github.com/celer-network/go-dsu/serialization"
	"github.com/celer-network/go-dsu/types"
)

var (
	NamespaceRecords   = []byte("records")
	NamespaceRecordIDs = []byte("recordIDs")
	NamespaceSnapshots = []byte("snapshots")
)

type Storage struct {
	db db.DB
}

func NewStorage(db db.DB) *Storage {
	return &Storage{
		db: db,
	}
}

// recordKey orders records by creation time, then by id.
func recordKey(r types.TransactionRecord) []byte {
	key := make([]byte, 8, 8+len(r.ID))
	binary.BigEndian.PutUint64(key, uint64(r.CreatedAt.UnixNano()))
	return append(key, r.ID...)
}

func snapshotKey(chainID uint64, account common.Address) []byte {
	key := make([]byte, 8, 8+common.AddressLength)
	binary.BigEndian.PutUint64(key, chainID)
	return append(key, account.Bytes()...)
}

// PutRecord journals r, replacing any earlier entry with the same id.
func (s *Storage) PutRecord(r types.TransactionRecord) error {
	if r.ID == "" {
		return fmt.Errorf("journal record without id")
	}
	value, err := serialization.SerializeRecord(r)
	if err != nil {
		return err
	}
	key := recordKey(r)

	tx := s.db.NewTx()
	defer tx.Discard()
	if err = tx.Set(NamespaceRecords, key, value); err != nil {
		return err
	}
	if err = tx.Set(NamespaceRecordIDs, []byte(r.ID), key); err != nil {
		return err
	}
	return tx.Commit()
}

// Record looks a journal entry up by id.
func (s *Storage) Record(id string) (types.TransactionRecord, bool, error) {
	key, ok, err := s.db.Get(NamespaceRecordIDs, []byte(id))
	if err != nil || !ok {
		return types.TransactionRecord{}, false, err
	}
	value, ok, err := s.db.Get(NamespaceRecords, key)
	if err != nil || !ok {
		return types.TransactionRecord{}, false, err
	}
	r, err := serialization.DeserializeRecord(value)
	if err != nil {
		return types.TransactionRecord{}, false, err
	}
	return r, true, nil
}

// Records returns up to limit journal entries, newest first. A limit of zero
// returns everything.
func (s *Storage) Records(limit int) ([]types.TransactionRecord, error) {
	start, end := db.NamespaceRange(NamespaceRecords)
	iter := s.db.Iterator(end, start)
	defer iter.Close()

	var records []types.TransactionRecord
	for ; iter.Valid(); iter.Next() {
		if limit > 0 && len(records) >= limit {
			break
		}
		value, err := iter.Value()
		if err != nil {
			return nil, err
		}
		r, err := serialization.DeserializeRecord(value)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// PruneRecords drops everything but the newest keep entries and returns how
// many were removed.
func (s *Storage) PruneRecords(keep int) (int, error) {
	start, end := db.NamespaceRange(NamespaceRecords)
	iter := s.db.Iterator(end, start)

	type stale struct {
		key []byte
		id  string
	}
	var drop []stale
	seen := 0
	for ; iter.Valid(); iter.Next() {
		seen++
		if seen <= keep {
			continue
		}
		key, err := iter.Key()
		if err != nil {
			iter.Close()
			return 0, err
		}
		key = db.StripNamespace(NamespaceRecords, key)
		if len(key) < 8 {
			continue
		}
		drop = append(drop, stale{key: key, id: string(key[8:])})
	}
	iter.Close()

	if len(drop) == 0 {
		return 0, nil
	}

	bulk := s.db.NewBulk()
	for _, d := range drop {
		if err := bulk.Delete(NamespaceRecords, d.key); err != nil {
			bulk.DiscardLast()
			return 0, err
		}
		if err := bulk.Delete(NamespaceRecordIDs, []byte(d.id)); err != nil {
			bulk.DiscardLast()
			return 0, err
		}
	}
	if err := bulk.Flush(); err != nil {
		return 0, err
	}
	return len(drop), nil
}

// PutSnapshot stores state as the last known good view of its account.
func (s *Storage) PutSnapshot(state types.AccountState) error {
	value, err := serialization.SerializeAccountState(state)
	if err != nil {
		return err
	}
	return s.db.Set(NamespaceSnapshots, snapshotKey(state.ChainID, state.Account), value)
}

// Snapshot returns the stored state for (chainID, account).
func (s *Storage) Snapshot(chainID uint64, account common.Address) (types.AccountState, bool, error) {
	value, ok, err := s.db.Get(NamespaceSnapshots, snapshotKey(chainID, account))
	if err != nil || !ok {
		return types.AccountState{}, false, err
	}
	state, err := serialization.DeserializeAccountState(value)
	if err != nil {
		return types.AccountState{}, false, err
	}
	return state, true, nil
}

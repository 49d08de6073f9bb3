package memorydb

import (
	"errors"
	"sync"

	"github.com/celer-network/go-dsu/db"
)

var (
	errCommitAfterDiscard = errors.New("commit after discard is not allowed")
	errCommitTwice        = errors.New("commit occurs two times")
)

type batchOp struct {
	isSet bool
	key   []byte
	value []byte
}

// batch buffers writes and applies them under the db lock on Commit.
type batch struct {
	lock      sync.Mutex
	db        *DB
	ops       []batchOp
	isDiscard bool
	isCommit  bool
}

func (b *batch) Set(namespace []byte, key []byte, value []byte) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	key = db.ConvNilToBytes(db.PrependNamespace(namespace, key))
	b.ops = append(b.ops, batchOp{true, key, append([]byte{}, value...)})
	return nil
}

func (b *batch) Delete(namespace []byte, key []byte) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	key = db.ConvNilToBytes(db.PrependNamespace(namespace, key))
	b.ops = append(b.ops, batchOp{false, key, nil})
	return nil
}

func (b *batch) Commit() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.isDiscard {
		return errCommitAfterDiscard
	} else if b.isCommit {
		return errCommitTwice
	}

	b.db.lock.Lock()
	defer b.db.lock.Unlock()

	for _, op := range b.ops {
		if op.isSet {
			b.db.db[string(op.key)] = op.value
		} else {
			delete(b.db.db, string(op.key))
		}
	}
	b.isCommit = true
	return nil
}

func (b *batch) Discard() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.isDiscard = true
}

type bulk struct {
	batch
}

func (b *bulk) Flush() error {
	return b.Commit()
}

func (b *bulk) DiscardLast() {
	b.Discard()
}

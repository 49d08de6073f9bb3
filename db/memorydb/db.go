// Package memorydb is a map backed db.DB used by tests and dry runs.
package memorydb

import (
	"sync"

	"github.com/celer-network/go-dsu/db"
)

func NewDB() *DB {
	return &DB{
		db: make(map[string][]byte),
	}
}

var _ db.DB = (*DB)(nil)

type DB struct {
	lock sync.Mutex
	db   map[string][]byte
}

func (mdb *DB) Type() string {
	return "memorydb"
}

func (mdb *DB) Set(namespace []byte, key []byte, value []byte) error {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()

	key = db.ConvNilToBytes(db.PrependNamespace(namespace, key))
	mdb.db[string(key)] = append([]byte{}, value...)
	return nil
}

func (mdb *DB) Delete(namespace []byte, key []byte) error {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()

	key = db.ConvNilToBytes(db.PrependNamespace(namespace, key))
	delete(mdb.db, string(key))
	return nil
}

func (mdb *DB) Get(namespace []byte, key []byte) ([]byte, bool, error) {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()

	key = db.ConvNilToBytes(db.PrependNamespace(namespace, key))
	value, exists := mdb.db[string(key)]
	if !exists {
		return nil, false, nil
	}
	return append([]byte{}, value...), true, nil
}

func (mdb *DB) Exist(namespace []byte, key []byte) (bool, error) {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()

	key = db.ConvNilToBytes(db.PrependNamespace(namespace, key))
	_, ok := mdb.db[string(key)]
	return ok, nil
}

func (mdb *DB) Close() error {
	return nil
}

func (mdb *DB) NewTx() db.Transaction {
	return &batch{db: mdb}
}

func (mdb *DB) NewBulk() db.Bulk {
	return &bulk{batch{db: mdb}}
}

// Package badgerdb is the on-disk db.DB used by the dsu CLI for its journal.
package badgerdb

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/dgraph-io/badger/v2/options"

	"github.com/celer-network/go-dsu/db"
	"github.com/celer-network/go-dsu/log"
)

const (
	badgerDbDiscardRatio   = 0.5 // run gc when 50% of samples can be collected
	badgerDbGcInterval     = 10 * time.Minute
	badgerDbGcSize         = 1 << 20 // 1 MB
	badgerValueLogFileSize = 1<<26 - 1
)

var (
	logger     *extendedLog
	loggerOnce sync.Once
)

// NewDB opens or creates a database in dir.
func NewDB(dir string) (*DB, error) {
	loggerOnce.Do(func() {
		logger = &extendedLog{Logger: log.NewLogger("db")}
	})
	return newBadgerDB(dir)
}

func (bdb *DB) runBadgerGC() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	lastGcT := time.Now()
	_, lastDbVlogSize := bdb.db.Size()
	for {
		select {
		case <-ticker.C:
			currentDblsmSize, currentDbVlogSize := bdb.db.Size()

			// gc when the interval elapsed or the value log is growing slowly
			if time.Since(lastGcT) > badgerDbGcInterval || lastDbVlogSize+badgerDbGcSize > currentDbVlogSize {
				startGcT := time.Now()
				logger.Debug().Str("name", bdb.name).Int64("lsmSize", currentDblsmSize).Int64("vlogSize", currentDbVlogSize).Msg("Start to GC at badger")
				err := bdb.db.RunValueLogGC(badgerDbDiscardRatio)
				if err != nil {
					if err == badger.ErrNoRewrite {
						logger.Debug().Str("name", bdb.name).Str("msg", err.Error()).Msg("Nothing to GC at badger")
					} else {
						logger.Error().Str("name", bdb.name).Err(err).Msg("Fail to GC at badger")
					}
					lastDbVlogSize = currentDbVlogSize
				} else {
					afterGcDblsmSize, afterGcDbVlogSize := bdb.db.Size()
					logger.Debug().Str("name", bdb.name).Int64("lsmSize", afterGcDblsmSize).Int64("vlogSize", afterGcDbVlogSize).
						Dur("takenTime", time.Since(startGcT)).Msg("Finish to GC at badger")
					lastDbVlogSize = afterGcDbVlogSize
				}
				lastGcT = time.Now()
			}

		case <-bdb.ctx.Done():
			return
		}
	}
}

func newBadgerDB(dir string) (*DB, error) {
	opts := badger.DefaultOptions(dir)

	// the journal is small; keep memory flat
	opts.ValueLogLoadingMode = options.FileIO
	opts.TableLoadingMode = options.FileIO
	opts.ValueThreshold = 1024
	opts.ValueLogFileSize = badgerValueLogFileSize
	opts.Logger = logger

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancelFunc := context.WithCancel(context.Background())
	database := &DB{
		db:         bdb,
		ctx:        ctx,
		cancelFunc: cancelFunc,
		name:       dir,
	}
	go database.runBadgerGC()

	return database, nil
}

var _ db.DB = (*DB)(nil)

type DB struct {
	db         *badger.DB
	ctx        context.Context
	cancelFunc context.CancelFunc
	name       string
}

func (bdb *DB) Type() string {
	return "badgerdb"
}

func (bdb *DB) Set(namespace []byte, key []byte, value []byte) error {
	key = db.ConvNilToBytes(db.PrependNamespace(namespace, key))
	value = db.ConvNilToBytes(value)

	return bdb.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (bdb *DB) Delete(namespace []byte, key []byte) error {
	key = db.ConvNilToBytes(db.PrependNamespace(namespace, key))

	return bdb.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (bdb *DB) Get(namespace []byte, key []byte) ([]byte, bool, error) {
	key = db.ConvNilToBytes(db.PrependNamespace(namespace, key))

	var val []byte
	err := bdb.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (bdb *DB) Exist(namespace []byte, key []byte) (bool, error) {
	key = db.ConvNilToBytes(db.PrependNamespace(namespace, key))

	err := bdb.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close stops the gc goroutine and closes badger.
func (bdb *DB) Close() error {
	bdb.cancelFunc()
	return bdb.db.Close()
}

func (bdb *DB) NewTx() db.Transaction {
	return &Transaction{
		db:      bdb,
		tx:      bdb.db.NewTransaction(true),
		createT: time.Now(),
	}
}

func (bdb *DB) NewBulk() db.Bulk {
	return &Bulk{
		db:      bdb,
		bulk:    bdb.db.NewWriteBatch(),
		createT: time.Now(),
	}
}

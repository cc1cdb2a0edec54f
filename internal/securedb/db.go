/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package securedb

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"securedb/internal/crypto"
	dberrors "securedb/internal/errors"
	"securedb/internal/logging"
	"securedb/internal/metrics"
	"securedb/internal/storage"
)

// Persisted layout. Data and metadata share one table.
var (
	tableName  = []byte("data")
	uuidKey    = []byte("__db_uuid")
	counterKey = []byte("__nonce_counter")
)

const counterSize = 8

// Options configures a DB.
type Options struct {
	// Backend selects the storage engine used by OpenWithOptions.
	Backend storage.StorageEngineType

	// NoncePolicy selects when the nonce counter is persisted.
	NoncePolicy NoncePolicy

	// NonceInterval is the allocation interval for the periodic and
	// reserve policies. Zero means DefaultNonceInterval.
	NonceInterval uint64

	// SyncOnCommit makes every commit durable before it returns.
	SyncOnCommit bool

	// Logger defaults to a logger for the "securedb" component.
	Logger *logging.Logger

	// Metrics defaults to a private counter set.
	Metrics *metrics.Metrics
}

// DefaultOptions returns the options used by Open.
func DefaultOptions() Options {
	return Options{
		Backend:       storage.EngineTypeBolt,
		NoncePolicy:   PolicyReserve,
		NonceInterval: DefaultNonceInterval,
		SyncOnCommit:  true,
	}
}

// DB is an encrypted key-value store. Every value is sealed with
// XChaCha20-Poly1305 under a key derived from the master key; keys are
// stored as given.
//
// Thread Safety: All methods are safe for concurrent use.
type DB struct {
	engine   storage.Engine
	codec    *entryCodec
	nonces   *nonceAllocator
	identity [IdentitySize]byte
	opts     Options
	logger   *logging.Logger
	metrics  *metrics.Metrics

	// closeMu is held for reading by every operation and for writing by
	// Close.
	closeMu sync.RWMutex
	closed  bool
}

// Open opens or creates the store at path with DefaultOptions.
//
// Example:
//
//	db, err := securedb.Open("./db", masterKey)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	prev, err := db.Insert([]byte("k1"), []byte("v1"))
func Open(path string, masterKey []byte) (*DB, error) {
	return OpenWithOptions(path, masterKey, DefaultOptions())
}

// OpenWithOptions opens or creates the store at path using the backend
// named in opts.
func OpenWithOptions(path string, masterKey []byte, opts Options) (*DB, error) {
	key, err := crypto.DeriveKey(masterKey)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key[:])

	engine, err := storage.Open(storage.StorageConfig{
		Engine:       opts.Backend,
		Path:         path,
		SyncOnCommit: opts.SyncOnCommit,
	})
	if err != nil {
		return nil, dberrors.StoreOpen("failed to open underlying store", err).WithDetail(path)
	}

	db, err := newDB(engine, key, opts)
	if err != nil {
		engine.Close()
		return nil, err
	}
	return db, nil
}

// OpenEngine opens a DB on an already open engine. Close closes the engine.
func OpenEngine(engine storage.Engine, masterKey []byte, opts Options) (*DB, error) {
	key, err := crypto.DeriveKey(masterKey)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key[:])
	return newDB(engine, key, opts)
}

func newDB(engine storage.Engine, key [crypto.KeySize]byte, opts Options) (*DB, error) {
	if opts.NonceInterval == 0 {
		opts.NonceInterval = DefaultNonceInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger("securedb")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	codec, err := newEntryCodec(key)
	if err != nil {
		return nil, err
	}

	if err := initMetadata(engine); err != nil {
		return nil, err
	}
	identity, counter, err := loadMetadata(engine)
	if err != nil {
		return nil, err
	}

	db := &DB{
		engine:   engine,
		codec:    codec,
		identity: identity,
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	db.nonces = newNonceAllocator(identity, counter, opts.NoncePolicy, opts.NonceInterval, db.writeCounter)
	db.metrics.PersistedCounter.Store(counter)

	db.logger.Debug("Secure database opened",
		"backend", backendName(opts.Backend),
		"nonce_policy", opts.NoncePolicy.String(),
		"identity", hex.EncodeToString(identity[:4]),
		"counter", counter)
	return db, nil
}

// initMetadata creates the table, the identity and the counter when absent,
// in one write transaction.
func initMetadata(engine storage.Engine) error {
	tx, err := engine.Begin(true)
	if err != nil {
		return dberrors.StoreTransaction("failed to begin metadata write transaction", err)
	}
	defer tx.Rollback()

	b, err := tx.Bucket(tableName)
	if err != nil {
		return dberrors.StoreTable("failed to open data table", err)
	}

	if _, err := b.Get(uuidKey); errors.Is(err, storage.ErrNotFound) {
		id, err := uuid.NewRandom()
		if err != nil {
			return dberrors.Metadata("failed to generate database uuid").WithCause(err)
		}
		if err := b.Put(uuidKey, id[:]); err != nil {
			return dberrors.StoreIO("failed to write database uuid", err)
		}
	} else if err != nil {
		return dberrors.StoreIO("failed to read database uuid", err)
	}

	if _, err := b.Get(counterKey); errors.Is(err, storage.ErrNotFound) {
		if err := b.Put(counterKey, encodeCounter(0)); err != nil {
			return dberrors.StoreIO("failed to write nonce counter", err)
		}
	} else if err != nil {
		return dberrors.StoreIO("failed to read nonce counter", err)
	}

	if err := tx.Commit(); err != nil {
		return dberrors.StoreCommit("failed to commit metadata initialization", err)
	}
	return nil
}

// loadMetadata reads the identity and counter back in a read transaction.
func loadMetadata(engine storage.Engine) (identity [IdentitySize]byte, counter uint64, err error) {
	tx, err := engine.Begin(false)
	if err != nil {
		return identity, 0, dberrors.StoreTransaction("failed to begin metadata read transaction", err)
	}
	defer tx.Rollback()

	b, err := tx.Bucket(tableName)
	if err != nil {
		return identity, 0, dberrors.StoreTable("failed to open data table", err)
	}

	raw, err := b.Get(uuidKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return identity, 0, dberrors.Metadata("database uuid not found after initialization")
	case err != nil:
		return identity, 0, dberrors.StoreIO("failed to read database uuid", err)
	case len(raw) != IdentitySize:
		return identity, 0, dberrors.Metadata("stored database uuid has invalid length")
	}
	copy(identity[:], raw)

	raw, err = b.Get(counterKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return identity, 0, dberrors.Metadata("nonce counter not found after initialization")
	case err != nil:
		return identity, 0, dberrors.StoreIO("failed to read nonce counter", err)
	case len(raw) != counterSize:
		return identity, 0, dberrors.Metadata("stored nonce counter has invalid length")
	}
	return identity, binary.LittleEndian.Uint64(raw), nil
}

func encodeCounter(v uint64) []byte {
	buf := make([]byte, counterSize)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

// writeCounter persists the nonce counter in its own write transaction.
func (db *DB) writeCounter(v uint64) error {
	err := db.update("nonce counter persist", func(b storage.Bucket) error {
		if err := b.Put(counterKey, encodeCounter(v)); err != nil {
			return dberrors.StoreIO("failed to write nonce counter", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	db.metrics.Persisted(v)
	db.logger.Debug("Nonce counter persisted", "counter", v, "policy", db.opts.NoncePolicy.String())
	return nil
}

// Insert stores value under key and returns the previous plaintext, or nil
// when there was none. A previous entry that fails authentication is
// reported as absent; a malformed one aborts the insert.
func (db *DB) Insert(key, value []byte) (prev []byte, err error) {
	defer db.observe(metrics.OpInsert, time.Now(), &err)
	if err := db.enter(); err != nil {
		return nil, err
	}
	defer db.closeMu.RUnlock()

	if err := validateKey(key); err != nil {
		return nil, err
	}

	nonce, err := db.allocate()
	if err != nil {
		return nil, err
	}
	entry, err := db.codec.encode(nonce, value)
	if err != nil {
		return nil, err
	}

	err = db.update("insert", func(b storage.Bucket) error {
		old, err := b.Get(key)
		found := err == nil
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return dberrors.StoreIO("failed to read previous entry for insert", err)
		}
		if err := b.Put(key, entry); err != nil {
			return dberrors.StoreIO("failed to write entry for insert", err)
		}
		if !found {
			return nil
		}

		plaintext, err := db.codec.decode(old)
		switch {
		case errors.Is(err, ErrDecryptionFailed):
			db.decryptionFailed("insert")
			return nil
		case err != nil:
			return err
		}
		prev = plaintext
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

// Get returns the plaintext stored under key, or nil when absent.
func (db *DB) Get(key []byte) (value []byte, err error) {
	defer db.observe(metrics.OpGet, time.Now(), &err)
	if err := db.enter(); err != nil {
		return nil, err
	}
	defer db.closeMu.RUnlock()

	if err := validateKey(key); err != nil {
		return nil, err
	}

	var (
		entry []byte
		found bool
	)
	err = db.view("get", func(b storage.Bucket) error {
		v, err := b.Get(key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil
		case err != nil:
			return dberrors.StoreIO("failed to read entry for get", err)
		}
		entry, found = v, true
		return nil
	})
	if err != nil || !found {
		return nil, err
	}

	value, err = db.codec.decode(entry)
	if errors.Is(err, ErrDecryptionFailed) {
		db.decryptionFailed("get")
	}
	return value, err
}

// Remove deletes key and returns its plaintext, or nil when absent. The
// entry is left in place when it cannot be decoded; use Delete to purge it.
func (db *DB) Remove(key []byte) (prev []byte, err error) {
	defer db.observe(metrics.OpRemove, time.Now(), &err)
	if err := db.enter(); err != nil {
		return nil, err
	}
	defer db.closeMu.RUnlock()

	if err := validateKey(key); err != nil {
		return nil, err
	}

	err = db.update("remove", func(b storage.Bucket) error {
		old, err := b.Get(key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil
		case err != nil:
			return dberrors.StoreIO("failed to read entry for remove", err)
		}

		plaintext, err := db.codec.decode(old)
		if err != nil {
			if errors.Is(err, ErrDecryptionFailed) {
				db.decryptionFailed("remove")
			}
			return err
		}
		if err := b.Delete(key); err != nil {
			return dberrors.StoreIO("failed to delete entry for remove", err)
		}
		prev = plaintext
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

// Delete removes key without decrypting it and reports whether it existed.
func (db *DB) Delete(key []byte) (existed bool, err error) {
	defer db.observe(metrics.OpDelete, time.Now(), &err)
	if err := db.enter(); err != nil {
		return false, err
	}
	defer db.closeMu.RUnlock()

	if err := validateKey(key); err != nil {
		return false, err
	}

	err = db.update("delete", func(b storage.Bucket) error {
		_, err := b.Get(key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil
		case err != nil:
			return dberrors.StoreIO("failed to read entry for delete", err)
		}
		if err := b.Delete(key); err != nil {
			return dberrors.StoreIO("failed to delete entry", err)
		}
		existed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

// Scan calls fn with the decrypted value of every entry whose key starts
// with prefix, in ascending key order. Metadata keys are skipped. fn runs
// after the read transaction has ended, so it may call other DB methods.
// Scan stops at the first decode error or error returned by fn.
func (db *DB) Scan(prefix []byte, fn func(key, value []byte) error) (err error) {
	defer db.observe(metrics.OpScan, time.Now(), &err)
	if err := db.enter(); err != nil {
		return err
	}
	defer db.closeMu.RUnlock()

	type rawEntry struct{ key, entry []byte }
	var entries []rawEntry

	err = db.view("scan", func(b storage.Bucket) error {
		return b.Scan(prefix, func(k, v []byte) error {
			if isReserved(k) {
				return nil
			}
			entries = append(entries, rawEntry{bytes.Clone(k), bytes.Clone(v)})
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, e := range entries {
		value, err := db.codec.decode(e.entry)
		if err != nil {
			if errors.Is(err, ErrDecryptionFailed) {
				db.decryptionFailed("scan")
			}
			return err
		}
		if err := fn(e.key, value); err != nil {
			return err
		}
	}
	return nil
}

// Flush persists the nonce counter and forces the store to durable
// storage. It is idempotent.
func (db *DB) Flush() (err error) {
	defer db.observe(metrics.OpFlush, time.Now(), &err)
	if err := db.enter(); err != nil {
		return err
	}
	defer db.closeMu.RUnlock()
	return db.flush()
}

func (db *DB) flush() error {
	counter, err := db.nonces.current()
	if err != nil {
		return err
	}
	if err := db.nonces.persistCounter(counter); err != nil {
		return err
	}
	if err := db.engine.Sync(); err != nil {
		return dberrors.StoreIO("failed to sync store", err)
	}
	db.logger.Debug("Flushed", "counter", counter)
	return nil
}

// NextNonce allocates a nonce exactly as Insert does, without writing an
// entry. It exists for validation and tests.
func (db *DB) NextNonce() ([NonceSize]byte, error) {
	if err := db.enter(); err != nil {
		return [NonceSize]byte{}, err
	}
	defer db.closeMu.RUnlock()
	return db.allocate()
}

// Counter returns the counter value the next allocation will use.
func (db *DB) Counter() (uint64, error) {
	if err := db.enter(); err != nil {
		return 0, err
	}
	defer db.closeMu.RUnlock()
	return db.nonces.current()
}

// Check verifies that the store is readable and that the persisted
// metadata still matches this handle.
func (db *DB) Check() error {
	if err := db.enter(); err != nil {
		return err
	}
	defer db.closeMu.RUnlock()

	persisted := db.nonces.lastPersisted()
	identity, counter, err := loadMetadata(db.engine)
	if err != nil {
		return err
	}
	if identity != db.identity {
		return dberrors.Metadata("database uuid changed while open")
	}
	if counter < persisted {
		return dberrors.Metadata("persisted nonce counter went backwards")
	}
	return nil
}

// Identity returns the database identity embedded in every nonce.
func (db *DB) Identity() [IdentitySize]byte {
	return db.identity
}

// Stats returns a snapshot of the operation counters.
func (db *DB) Stats() metrics.Snapshot {
	return db.metrics.Snapshot()
}

// Close flushes and closes the underlying store. Later calls on db return
// ErrClosed; calling Close again returns nil.
func (db *DB) Close() error {
	db.closeMu.Lock()
	defer db.closeMu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	flushErr := db.flush()
	if err := db.engine.Close(); err != nil {
		return errors.Join(flushErr, dberrors.StoreIO("failed to close store", err))
	}
	db.logger.Debug("Secure database closed")
	return flushErr
}

func (db *DB) allocate() ([NonceSize]byte, error) {
	nonce, _, err := db.nonces.allocate()
	if err != nil {
		return nonce, err
	}
	db.metrics.NoncesAllocated.Add(1)
	return nonce, nil
}

// enter takes the read side of closeMu. On success the caller must
// release it.
func (db *DB) enter() error {
	db.closeMu.RLock()
	if db.closed {
		db.closeMu.RUnlock()
		return dberrors.Closed()
	}
	return nil
}

// update runs fn in a write transaction on the data table. fn's error
// rolls the transaction back and is returned unchanged.
func (db *DB) update(op string, fn func(b storage.Bucket) error) error {
	tx, err := db.engine.Begin(true)
	if err != nil {
		return dberrors.StoreTransaction("failed to begin write transaction for "+op, err)
	}
	b, err := tx.Bucket(tableName)
	if err != nil {
		tx.Rollback()
		return dberrors.StoreTable("failed to open data table for "+op, err)
	}
	if err := fn(b); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return dberrors.StoreCommit("failed to commit "+op, err)
	}
	return nil
}

// view runs fn in a read transaction on the data table.
func (db *DB) view(op string, fn func(b storage.Bucket) error) error {
	tx, err := db.engine.Begin(false)
	if err != nil {
		return dberrors.StoreTransaction("failed to begin read transaction for "+op, err)
	}
	defer tx.Rollback()

	b, err := tx.Bucket(tableName)
	if err != nil {
		return dberrors.StoreTable("failed to open data table for "+op, err)
	}
	return fn(b)
}

func (db *DB) observe(op metrics.Op, start time.Time, err *error) {
	db.metrics.Record(op, time.Since(start), *err)
}

func (db *DB) decryptionFailed(op string) {
	db.metrics.DecryptionFailures.Add(1)
	db.logger.Warn("Stored entry failed authentication", "op", op)
}

func validateKey(key []byte) error {
	if isReserved(key) {
		return dberrors.ReservedKey(string(key))
	}
	return nil
}

func isReserved(key []byte) bool {
	return bytes.Equal(key, uuidKey) || bytes.Equal(key, counterKey)
}

func backendName(t storage.StorageEngineType) string {
	if t == "" {
		return string(storage.EngineTypeBolt)
	}
	return string(t)
}

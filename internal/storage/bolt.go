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

/*
BoltStore Implementation
========================

BoltStore adapts go.etcd.io/bbolt to the Engine interface. bbolt is a
single-file copy-on-write B+tree with serializable write transactions and
MVCC read transactions, which gives SecureDB ordered scans and atomic
commits without any extra machinery.

Mapping:

	Engine.Begin(writable) → bolt.DB.Begin(writable)
	Tx.Bucket(name)        → CreateBucketIfNotExists / Bucket
	Bucket.Scan(prefix)    → Cursor.Seek(prefix) + Next while prefix matches
	Engine.Sync()          → bolt.DB.Sync()

bbolt refuses zero-length keys, so every caller key is stored behind a
one-byte tag (boltKeyTag + key). The tag is added and stripped inside the
bucket adapter and never reaches callers.

The file is locked exclusively while open; a second Open of the same path
waits up to BoltOpenTimeout before failing.
*/
package storage

import (
	"bytes"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltOpenTimeout bounds how long Open waits for the file lock.
const BoltOpenTimeout = time.Second

// boltKeyTag prefixes every stored key.
const boltKeyTag byte = 'k'

func boltKey(key []byte) []byte {
	k := make([]byte, 1+len(key))
	k[0] = boltKeyTag
	copy(k[1:], key)
	return k
}

// BoltStore is an Engine backed by a bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates a bbolt database at path.
// With syncOnCommit false, commits skip fsync until Sync is called.
func OpenBolt(path string, syncOnCommit bool) (*BoltStore, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: BoltOpenTimeout,
		NoSync:  !syncOnCommit,
	})
	if err != nil {
		return nil, wrapPathError(err, path, "open database file")
	}
	return &BoltStore{db: db}, nil
}

// Begin starts a bbolt transaction.
func (s *BoltStore) Begin(writable bool) (Tx, error) {
	tx, err := s.db.Begin(writable)
	if err != nil {
		if err == bolt.ErrDatabaseNotOpen {
			return nil, ErrClosed
		}
		return nil, err
	}
	return &boltTx{tx: tx}, nil
}

// Sync fsyncs the database file.
func (s *BoltStore) Sync() error {
	return s.db.Sync()
}

// Close closes the database file and releases its lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.db.Path()
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) Bucket(name []byte) (Bucket, error) {
	if err := validateBucketName(name); err != nil {
		return nil, err
	}
	if t.tx.Writable() {
		b, err := t.tx.CreateBucketIfNotExists(name)
		if err != nil {
			return nil, err
		}
		return &boltBucket{b: b, writable: true}, nil
	}
	b := t.tx.Bucket(name)
	if b == nil {
		return nil, ErrBucketNotFound
	}
	return &boltBucket{b: b}, nil
}

func (t *boltTx) Writable() bool {
	return t.tx.Writable()
}

func (t *boltTx) Commit() error {
	if !t.tx.Writable() {
		return t.Rollback()
	}
	if err := t.tx.Commit(); err != nil {
		if err == bolt.ErrTxClosed {
			return ErrTxClosed
		}
		return err
	}
	return nil
}

func (t *boltTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		if err == bolt.ErrTxClosed {
			return ErrTxClosed
		}
		return err
	}
	return nil
}

type boltBucket struct {
	b        *bolt.Bucket
	writable bool
}

func (b *boltBucket) Get(key []byte) ([]byte, error) {
	v := b.b.Get(boltKey(key))
	if v == nil {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (b *boltBucket) Put(key, value []byte) error {
	if !b.writable {
		return ErrTxNotWritable
	}
	return b.b.Put(boltKey(key), value)
}

func (b *boltBucket) Delete(key []byte) error {
	if !b.writable {
		return ErrTxNotWritable
	}
	return b.b.Delete(boltKey(key))
}

func (b *boltBucket) Scan(prefix []byte, fn func(key, value []byte) error) error {
	seek := boltKey(prefix)
	c := b.b.Cursor()
	for k, v := c.Seek(seek); k != nil && bytes.HasPrefix(k, seek); k, v = c.Next() {
		if v == nil {
			// nested bucket
			continue
		}
		if err := fn(k[1:], v); err != nil {
			return err
		}
	}
	return nil
}

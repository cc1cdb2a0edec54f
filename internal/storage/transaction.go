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
Transaction Implementation
===========================

Transactions on KVStore buffer writes until Commit.

  - Atomicity: the buffer is written as a single WAL frame, then applied
    to the map under one lock acquisition
  - Isolation: reads see committed data plus the transaction's own writes
  - Durability: committed frames are fsynced when SyncOnCommit is set

Transaction Lifecycle:
======================

  1. BEGIN: Begin(writable) creates a transaction with an empty buffer
  2. Operations: writes go to the buffer, reads check buffer then store
  3. COMMIT: the buffer is logged and applied atomically
  4. ROLLBACK: the buffer is discarded
*/
package storage

import (
	"bytes"
	"strings"
)

// TxState represents the current state of a transaction.
type TxState int

const (
	TxStateActive TxState = iota
	TxStateCommitted
	TxStateRolledBack
)

// Transaction is an active KVStore transaction.
//
// Thread Safety: A single Transaction should only be used by one goroutine.
type Transaction struct {
	store    *KVStore
	writable bool
	state    TxState

	buffer     []Record
	readCache  map[string][]byte // values written in this tx
	deleteSet  map[string]bool   // keys deleted in this tx
	newBuckets map[string]bool
}

func newTransaction(store *KVStore, writable bool) *Transaction {
	tx := &Transaction{
		store:    store,
		writable: writable,
		state:    TxStateActive,
	}
	if writable {
		tx.readCache = make(map[string][]byte)
		tx.deleteSet = make(map[string]bool)
		tx.newBuckets = make(map[string]bool)
	}
	return tx
}

// Writable reports whether the transaction may modify data.
func (tx *Transaction) Writable() bool {
	return tx.writable
}

// State returns the current transaction state.
func (tx *Transaction) State() TxState {
	return tx.state
}

// Bucket opens a bucket, creating it in a writable transaction.
func (tx *Transaction) Bucket(name []byte) (Bucket, error) {
	if tx.state != TxStateActive {
		return nil, ErrTxClosed
	}
	if err := validateBucketName(name); err != nil {
		return nil, err
	}

	n := string(name)
	if !tx.store.hasBucket(n) && !tx.newBuckets[n] {
		if !tx.writable {
			return nil, ErrBucketNotFound
		}
		tx.newBuckets[n] = true
		tx.buffer = append(tx.buffer, Record{Op: OpCreateBucket, Key: []byte(n)})
	}
	return &kvBucket{tx: tx, name: n}, nil
}

// Commit logs and applies all buffered operations.
// After Commit, the transaction cannot be used for further operations.
func (tx *Transaction) Commit() error {
	if tx.state != TxStateActive {
		return ErrTxClosed
	}
	if !tx.writable {
		tx.state = TxStateCommitted
		return nil
	}
	defer tx.store.writer.Unlock()

	if len(tx.buffer) > 0 {
		if tx.store.wal != nil {
			if err := tx.store.wal.WriteBatch(tx.buffer); err != nil {
				tx.state = TxStateRolledBack
				return err
			}
		}
		tx.store.mu.Lock()
		tx.store.apply(tx.buffer)
		tx.store.mu.Unlock()
	}

	tx.state = TxStateCommitted
	return nil
}

// Rollback discards all buffered operations.
func (tx *Transaction) Rollback() error {
	if tx.state != TxStateActive {
		return ErrTxClosed
	}
	tx.buffer = nil
	tx.readCache = nil
	tx.deleteSet = nil
	tx.state = TxStateRolledBack
	if tx.writable {
		tx.store.writer.Unlock()
	}
	return nil
}

// kvBucket is a bucket view inside a Transaction.
type kvBucket struct {
	tx   *Transaction
	name string
}

func (b *kvBucket) Get(key []byte) ([]byte, error) {
	tx := b.tx
	if tx.state != TxStateActive {
		return nil, ErrTxClosed
	}

	k := bucketKey(b.name, key)
	if tx.writable {
		if tx.deleteSet[k] {
			return nil, ErrNotFound
		}
		if v, ok := tx.readCache[k]; ok {
			return bytes.Clone(v), nil
		}
	}

	v, ok := tx.store.get(k)
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (b *kvBucket) Put(key, value []byte) error {
	tx := b.tx
	if tx.state != TxStateActive {
		return ErrTxClosed
	}
	if !tx.writable {
		return ErrTxNotWritable
	}

	k := bucketKey(b.name, key)
	v := bytes.Clone(value)
	tx.buffer = append(tx.buffer, Record{Op: OpPut, Key: []byte(k), Value: v})
	tx.readCache[k] = v
	delete(tx.deleteSet, k)
	return nil
}

func (b *kvBucket) Delete(key []byte) error {
	tx := b.tx
	if tx.state != TxStateActive {
		return ErrTxClosed
	}
	if !tx.writable {
		return ErrTxNotWritable
	}

	k := bucketKey(b.name, key)
	tx.buffer = append(tx.buffer, Record{Op: OpDelete, Key: []byte(k)})
	delete(tx.readCache, k)
	tx.deleteSet[k] = true
	return nil
}

func (b *kvBucket) Scan(prefix []byte, fn func(key, value []byte) error) error {
	tx := b.tx
	if tx.state != TxStateActive {
		return ErrTxClosed
	}

	full := bucketKey(b.name, prefix)
	result := tx.store.scan(full)
	if tx.writable {
		for k, v := range tx.readCache {
			if strings.HasPrefix(k, full) {
				result[k] = v
			}
		}
		for k := range tx.deleteSet {
			delete(result, k)
		}
	}

	strip := len(b.name) + 1
	for _, k := range sortedKeys(result) {
		if err := fn([]byte(k[strip:]), result[k]); err != nil {
			return err
		}
	}
	return nil
}

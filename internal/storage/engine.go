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
Package storage provides the ordered, transactional key-value stores that
SecureDB layers encryption on top of.

Storage Engine Overview:
========================

The storage package defines the Engine capability and three backends:

	┌─────────────────────────────────────────────────────┐
	│                  SecureDB facade                    │
	└─────────────────────────────────────────────────────┘
	                         │
	                         ▼
	┌─────────────────────────────────────────────────────┐
	│                 Engine Interface                    │
	│   Begin(writable) → Tx → Bucket → Get/Put/Delete/   │
	│                  Scan, Commit, Sync                 │
	└─────────────────────────────────────────────────────┘
	          │                 │                 │
	          ▼                 ▼                 ▼
	   ┌────────────┐   ┌──────────────┐   ┌────────────┐
	   │ BoltStore  │   │ KVStore+WAL  │   │ KVStore    │
	   │ (bbolt)    │   │ (log file)   │   │ (memory)   │
	   └────────────┘   └──────────────┘   └────────────┘

Transaction Model:
==================

  - Write transactions are exclusive: Begin(true) blocks until any other
    write transaction has committed or rolled back.
  - Read transactions may run concurrently with each other and with a
    writer; they observe committed data only.
  - A commit applies every buffered operation or none of them.

Buckets:
========

A bucket is a named key space (a "table"). Opening a bucket in a write
transaction creates it if needed; in a read transaction a missing bucket is
reported as ErrBucketNotFound.

Thread Safety:
==============

Engines are safe for concurrent use. A single Tx and the buckets obtained
from it must be used by one goroutine at a time.
*/
package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested key does not exist in a bucket.
// This is a sentinel error that callers can check using errors.Is().
var ErrNotFound = errors.New("key not found")

// Sentinel errors shared by all engines.
var (
	ErrBucketNotFound = errors.New("bucket not found")
	ErrTxNotWritable  = errors.New("transaction is read-only")
	ErrTxClosed       = errors.New("transaction is not active")
	ErrClosed         = errors.New("storage engine is closed")
	ErrInvalidBucket  = errors.New("invalid bucket name")
)

// Engine defines the interface for an ordered, transactional key-value store.
//
// All implementations must be thread-safe for concurrent access.
type Engine interface {
	// Begin starts a transaction. Only one writable transaction may be
	// active at a time; Begin(true) blocks until the previous one ends.
	Begin(writable bool) (Tx, error)

	// Sync forces committed data to durable storage.
	Sync() error

	// Close releases the engine's resources. Transactions must be
	// finished before Close is called.
	Close() error
}

// Tx is an active transaction.
type Tx interface {
	// Bucket opens the named key space. Writable transactions create it
	// when absent; read-only transactions return ErrBucketNotFound.
	Bucket(name []byte) (Bucket, error)

	// Writable reports whether the transaction may modify data.
	Writable() bool

	// Commit applies all buffered writes atomically. Committing a read
	// transaction simply releases it.
	Commit() error

	// Rollback discards all buffered writes. It is safe to call after
	// Commit, in which case it returns ErrTxClosed.
	Rollback() error
}

// Bucket is a key space inside a transaction.
//
// Slices passed to Scan callbacks are only valid for the duration of the
// callback; Get returns a copy the caller owns.
type Bucket interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key []byte) ([]byte, error)

	// Put stores value under key, replacing any existing value. Any byte
	// string, including the empty one, is a valid key.
	Put(key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key []byte) error

	// Scan calls fn for every key with the given prefix in ascending
	// byte order. An empty prefix visits the whole bucket. Iteration
	// stops at the first error returned by fn.
	Scan(prefix []byte, fn func(key, value []byte) error) error
}

// StorageEngineType identifies an Engine implementation.
type StorageEngineType string

const (
	// EngineTypeBolt is the single-file B+tree engine backed by bbolt.
	EngineTypeBolt StorageEngineType = "bolt"

	// EngineTypeWAL is the in-memory store persisted by a write-ahead log.
	EngineTypeWAL StorageEngineType = "wal"

	// EngineTypeMemory is the in-memory store with no persistence.
	EngineTypeMemory StorageEngineType = "memory"
)

// ParseEngineType validates an engine name.
func ParseEngineType(s string) (StorageEngineType, error) {
	switch StorageEngineType(s) {
	case EngineTypeBolt, EngineTypeWAL, EngineTypeMemory:
		return StorageEngineType(s), nil
	case "":
		return EngineTypeBolt, nil
	default:
		return "", fmt.Errorf("unknown storage engine %q (expected bolt, wal or memory)", s)
	}
}

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
KVStore Overview:
=================

KVStore keeps every bucket in an in-memory HashMap for fast reads and,
when opened with a path, persists committed transactions to a Write-Ahead
Log (WAL). Without a path it is a purely in-memory engine, which is what
tests inject as a fake store.

Keys are namespaced per bucket as "<bucket>\x00<key>"; bucket names may
not contain a zero byte.

Write Path:
===========

 1. Begin(true) takes the writer lock (one writer at a time)
 2. Puts and deletes are buffered in the transaction
 3. Commit appends the whole buffer to the WAL as one frame
 4. Commit takes the data lock and applies the buffer to the map
 5. The writer lock is released

Read Path:
==========

Reads take the data read lock per call and see committed data only.

Startup/Recovery:
=================

The WAL is replayed batch by batch; a torn tail is discarded, so the map
always reflects a prefix of whole committed transactions.
*/
package storage

import (
	"sort"
	"strings"
	"sync"
)

// KVStore is an in-memory ordered key-value engine with optional
// WAL-backed persistence. It implements the Engine interface.
//
// Thread Safety: All methods are safe for concurrent use.
type KVStore struct {
	// data maps namespaced keys to values. Values are never mutated in
	// place, so they can be handed to readers without copying.
	data map[string][]byte

	// buckets records the names of created buckets.
	buckets map[string]struct{}

	// mu protects data, buckets and closed.
	mu sync.RWMutex

	// writer serializes write transactions.
	writer sync.Mutex

	// wal is nil for a memory-only store.
	wal *WAL

	closed bool
}

// NewMemoryStore creates a KVStore with no persistence.
func NewMemoryStore() *KVStore {
	return &KVStore{
		data:    make(map[string][]byte),
		buckets: make(map[string]struct{}),
	}
}

// OpenKVStore opens a WAL-backed KVStore at walPath, replaying existing
// batches to restore the state.
//
// Example:
//
//	store, err := storage.OpenKVStore("/var/lib/securedb/data.wal", true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
func OpenKVStore(walPath string, syncOnCommit bool) (*KVStore, error) {
	wal, err := OpenWAL(walPath, syncOnCommit)
	if err != nil {
		return nil, err
	}

	store := NewMemoryStore()
	store.wal = wal

	if _, err := wal.Replay(store.apply); err != nil {
		wal.Close()
		return nil, err
	}
	return store, nil
}

// apply applies a committed batch. Callers hold mu for writing, except
// during replay when the store is not yet shared.
func (s *KVStore) apply(batch []Record) {
	for _, r := range batch {
		switch r.Op {
		case OpPut:
			s.data[string(r.Key)] = r.Value
		case OpDelete:
			delete(s.data, string(r.Key))
		case OpCreateBucket:
			s.buckets[string(r.Key)] = struct{}{}
		}
	}
}

// Begin starts a transaction. A writable transaction holds the writer
// lock until Commit or Rollback.
func (s *KVStore) Begin(writable bool) (Tx, error) {
	if writable {
		s.writer.Lock()
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		if writable {
			s.writer.Unlock()
		}
		return nil, ErrClosed
	}
	return newTransaction(s, writable), nil
}

// Sync forces the WAL to disk. It is a no-op for a memory store.
func (s *KVStore) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if s.wal == nil {
		return nil
	}
	return s.wal.Sync()
}

// Close closes the underlying WAL file. It waits for an active write
// transaction to finish.
func (s *KVStore) Close() error {
	s.writer.Lock()
	defer s.writer.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.wal == nil {
		return nil
	}
	return s.wal.Close()
}

// hasBucket reports whether a bucket has been committed.
func (s *KVStore) hasBucket(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[name]
	return ok
}

// get returns a committed value.
func (s *KVStore) get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// scan returns the committed entries whose key has prefix.
func (s *KVStore) scan(prefix string) map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]byte)
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			result[k] = v
		}
	}
	return result
}

// bucketKey namespaces key under bucket.
func bucketKey(bucket string, key []byte) string {
	return bucket + "\x00" + string(key)
}

// sortedKeys returns the keys of m in ascending byte order.
func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

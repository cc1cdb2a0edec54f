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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"securedb/internal/logging"
	"securedb/internal/storage"
)

var zeroKey = make([]byte, 32)

func setupTestDB(t *testing.T, opts Options) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secure.db")
	db, err := OpenWithOptions(path, zeroKey, opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func optionsFor(backend storage.StorageEngineType) Options {
	opts := DefaultOptions()
	opts.Backend = backend
	return opts
}

func forEachBackend(t *testing.T, fn func(t *testing.T, db *DB)) {
	for _, backend := range []storage.StorageEngineType{storage.EngineTypeBolt, storage.EngineTypeWAL, storage.EngineTypeMemory} {
		t.Run(string(backend), func(t *testing.T) {
			db, _ := setupTestDB(t, optionsFor(backend))
			fn(t, db)
		})
	}
}

// crash abandons db without flushing, as a killed process would.
func crash(t *testing.T, db *DB) {
	t.Helper()
	db.closeMu.Lock()
	db.closed = true
	db.closeMu.Unlock()
	require.NoError(t, db.engine.Close())
}

func rawPut(t *testing.T, e storage.Engine, key, value []byte) {
	t.Helper()
	tx, err := e.Begin(true)
	require.NoError(t, err)
	b, err := tx.Bucket(tableName)
	require.NoError(t, err)
	require.NoError(t, b.Put(key, value))
	require.NoError(t, tx.Commit())
}

func rawGet(t *testing.T, e storage.Engine, key []byte) []byte {
	t.Helper()
	tx, err := e.Begin(false)
	require.NoError(t, err)
	defer tx.Rollback()
	b, err := tx.Bucket(tableName)
	require.NoError(t, err)
	v, err := b.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	require.NoError(t, err)
	return v
}

func TestExampleScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		prev, err := db.Insert([]byte("k1"), []byte("v1"))
		require.NoError(t, err)
		assert.Nil(t, prev)

		prev, err = db.Insert([]byte("k1"), []byte("v2"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), prev)

		got, err := db.Get([]byte("k1"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)

		removed, err := db.Remove([]byte("k1"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), removed)

		got, err = db.Get([]byte("k1"))
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		cases := map[string][]byte{
			"empty":  {},
			"binary": {0, 1, 2, 0xFF, 0},
			"large":  bytes.Repeat([]byte("x"), 1<<16),
			"\x00k":  []byte("key with zero byte"),
		}
		for k, v := range cases {
			_, err := db.Insert([]byte(k), v)
			require.NoError(t, err, k)
		}
		for k, v := range cases {
			got, err := db.Get([]byte(k))
			require.NoError(t, err, k)
			require.NotNil(t, got, k)
			assert.Equal(t, v, got, k)
		}
	})
}

func TestEmptyKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		_, err := db.Insert([]byte{}, []byte("v"))
		require.NoError(t, err)
		_, err = db.Insert([]byte("a"), []byte("1"))
		require.NoError(t, err)

		got, err := db.Get(nil)
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)

		var keys []string
		require.NoError(t, db.Scan(nil, func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		}))
		assert.Equal(t, []string{"", "a"}, keys)

		removed, err := db.Remove([]byte{})
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), removed)
		got, err = db.Get([]byte{})
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestRemoveAbsent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		prev, err := db.Remove([]byte("missing"))
		require.NoError(t, err)
		assert.Nil(t, prev)

		existed, err := db.Delete([]byte("missing"))
		require.NoError(t, err)
		assert.False(t, existed)
	})
}

func TestNextNonceUniqueWithinSession(t *testing.T) {
	db, _ := setupTestDB(t, DefaultOptions())

	seen := make(map[[NonceSize]byte]bool)
	for i := 0; i < 500; i++ {
		n, err := db.NextNonce()
		require.NoError(t, err)
		require.False(t, seen[n])
		seen[n] = true
		assert.Equal(t, db.Identity(), NonceIdentity(n))
	}
}

func TestNonceMonotonicAcrossReopen(t *testing.T) {
	for _, policy := range []NoncePolicy{PolicyReserve, PolicyFlush, PolicyPeriodic} {
		t.Run(policy.String(), func(t *testing.T) {
			opts := DefaultOptions()
			opts.NoncePolicy = policy
			opts.NonceInterval = 10
			path := filepath.Join(t.TempDir(), "secure.db")

			db, err := OpenWithOptions(path, zeroKey, opts)
			require.NoError(t, err)
			var last [NonceSize]byte
			for i := 0; i < 25; i++ {
				last, err = db.NextNonce()
				require.NoError(t, err)
			}
			identity := db.Identity()
			require.NoError(t, db.Flush())
			require.NoError(t, db.Close())

			db, err = OpenWithOptions(path, zeroKey, opts)
			require.NoError(t, err)
			defer db.Close()

			next, err := db.NextNonce()
			require.NoError(t, err)
			assert.Greater(t, NonceCounter(next), NonceCounter(last))
			assert.Equal(t, identity, db.Identity())
		})
	}
}

func TestNoPlaintextOnDisk(t *testing.T) {
	marker := []byte("PLAINTEXT-MARKER-7f3a9c")

	for _, backend := range []storage.StorageEngineType{storage.EngineTypeBolt, storage.EngineTypeWAL} {
		t.Run(string(backend), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "secure.db")
			db, err := OpenWithOptions(path, zeroKey, optionsFor(backend))
			require.NoError(t, err)

			for i := 0; i < 10; i++ {
				_, err := db.Insert([]byte(fmt.Sprintf("key-%d", i)), marker)
				require.NoError(t, err)
			}
			_, err = db.Insert([]byte("key-0"), append([]byte("prefix "), marker...))
			require.NoError(t, err)
			require.NoError(t, db.Flush())
			require.NoError(t, db.Close())

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.NotEmpty(t, raw)
			assert.False(t, bytes.Contains(raw, marker), "marker found in store file")
		})
	}
}

func TestWrongKeyFailsClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secure.db")

	db, err := Open(path, []byte("key-A"))
	require.NoError(t, err)
	_, err = db.Insert([]byte("k"), []byte("secret"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path, []byte("key-B"))
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.Nil(t, got)

	removed, err := db.Remove([]byte("k"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.Nil(t, removed)

	err = db.Scan(nil, func(_, _ []byte) error { return nil })
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	assert.Equal(t, uint64(3), db.Stats().DecryptionFailures)
}

func TestFlushIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		_, err := db.Insert([]byte("k"), []byte("v"))
		require.NoError(t, err)

		require.NoError(t, db.Flush())
		persists := db.Stats().CounterPersists
		counter := rawGet(t, db.engine, counterKey)

		require.NoError(t, db.Flush())
		assert.Equal(t, persists, db.Stats().CounterPersists)
		assert.Equal(t, counter, rawGet(t, db.engine, counterKey))

		got, err := db.Get([]byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
	})
}

func TestFlushPolicyPersistsCounter(t *testing.T) {
	opts := optionsFor(storage.EngineTypeMemory)
	opts.NoncePolicy = PolicyFlush
	db, _ := setupTestDB(t, opts)

	for i := 0; i < 3; i++ {
		_, err := db.NextNonce()
		require.NoError(t, err)
	}
	assert.Equal(t, encodeCounter(0), rawGet(t, db.engine, counterKey))

	require.NoError(t, db.Flush())
	assert.Equal(t, encodeCounter(3), rawGet(t, db.engine, counterKey))
}

func TestConcurrentInserts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		const n = 64
		value := []byte("same value for everyone")

		var g errgroup.Group
		for i := 0; i < n; i++ {
			key := []byte(fmt.Sprintf("key-%03d", i))
			g.Go(func() error {
				_, err := db.Insert(key, value)
				return err
			})
		}
		require.NoError(t, g.Wait())

		nonces := make(map[string]bool)
		for i := 0; i < n; i++ {
			key := []byte(fmt.Sprintf("key-%03d", i))
			got, err := db.Get(key)
			require.NoError(t, err)
			assert.Equal(t, value, got)

			entry := rawGet(t, db.engine, key)
			nonces[string(entry[:NonceSize])] = true
		}
		assert.Len(t, nonces, n)
	})
}

func TestInsertSwallowsUndecryptablePrevious(t *testing.T) {
	engine := storage.NewMemoryStore()
	t.Cleanup(func() { engine.Close() })

	dbA, err := OpenEngine(engine, []byte("key-A"), DefaultOptions())
	require.NoError(t, err)
	dbB, err := OpenEngine(engine, []byte("key-B"), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, dbA.Identity(), dbB.Identity())

	_, err = dbA.Insert([]byte("k"), []byte("from A"))
	require.NoError(t, err)

	prev, err := dbB.Insert([]byte("k"), []byte("from B"))
	require.NoError(t, err)
	assert.Nil(t, prev)
	assert.Equal(t, uint64(1), dbB.Stats().DecryptionFailures)

	got, err := dbB.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("from B"), got)

	_, err = dbA.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestMalformedEntryPropagatesAndRollsBack(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		short := []byte("too short")
		rawPut(t, db.engine, []byte("bad"), short)

		_, err := db.Get([]byte("bad"))
		assert.ErrorIs(t, err, ErrMalformedEntry)

		prev, err := db.Insert([]byte("bad"), []byte("replacement"))
		assert.ErrorIs(t, err, ErrMalformedEntry)
		assert.Nil(t, prev)
		assert.Equal(t, short, rawGet(t, db.engine, []byte("bad")))

		prev, err = db.Remove([]byte("bad"))
		assert.ErrorIs(t, err, ErrMalformedEntry)
		assert.Nil(t, prev)
		assert.Equal(t, short, rawGet(t, db.engine, []byte("bad")))

		existed, err := db.Delete([]byte("bad"))
		require.NoError(t, err)
		assert.True(t, existed)
		assert.Nil(t, rawGet(t, db.engine, []byte("bad")))

		prev, err = db.Insert([]byte("bad"), []byte("replacement"))
		require.NoError(t, err)
		assert.Nil(t, prev)
	})
}

func TestTamperedEntryFailsAndStays(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		_, err := db.Insert([]byte("k"), []byte("value"))
		require.NoError(t, err)

		entry := rawGet(t, db.engine, []byte("k"))
		entry[len(entry)-1] ^= 0x80
		rawPut(t, db.engine, []byte("k"), entry)

		_, err = db.Get([]byte("k"))
		assert.ErrorIs(t, err, ErrDecryptionFailed)

		_, err = db.Remove([]byte("k"))
		assert.ErrorIs(t, err, ErrDecryptionFailed)
		assert.Equal(t, entry, rawGet(t, db.engine, []byte("k")))
	})
}

func TestReservedKeys(t *testing.T) {
	db, _ := setupTestDB(t, optionsFor(storage.EngineTypeMemory))

	for _, key := range [][]byte{uuidKey, counterKey} {
		_, err := db.Insert(key, []byte("x"))
		assert.ErrorIs(t, err, ErrReservedKey)
		_, err = db.Get(key)
		assert.ErrorIs(t, err, ErrReservedKey)
		_, err = db.Remove(key)
		assert.ErrorIs(t, err, ErrReservedKey)
		_, err = db.Delete(key)
		assert.ErrorIs(t, err, ErrReservedKey)
	}

	// reserved names only match exactly
	_, err := db.Insert([]byte("__db_uuid_backup"), []byte("x"))
	assert.NoError(t, err)
}

func TestScan(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		for _, k := range []string{"user:2", "user:1", "order:1", "user:3"} {
			_, err := db.Insert([]byte(k), []byte("v-"+k))
			require.NoError(t, err)
		}

		var keys []string
		require.NoError(t, db.Scan([]byte("user:"), func(k, v []byte) error {
			keys = append(keys, string(k))
			assert.Equal(t, "v-"+string(k), string(v))
			return nil
		}))
		assert.Equal(t, []string{"user:1", "user:2", "user:3"}, keys)

		// metadata keys are never yielded, and fn may write back
		var all []string
		require.NoError(t, db.Scan(nil, func(k, _ []byte) error {
			all = append(all, string(k))
			_, err := db.Insert(append([]byte("copy:"), k...), []byte("c"))
			return err
		}))
		assert.Equal(t, []string{"order:1", "user:1", "user:2", "user:3"}, all)

		stop := errors.New("stop")
		assert.ErrorIs(t, db.Scan(nil, func(_, _ []byte) error { return stop }), stop)
	})
}

func TestClose(t *testing.T) {
	db, err := OpenWithOptions("", zeroKey, optionsFor(storage.EngineTypeMemory))
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err = db.Insert([]byte("k"), []byte("v"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.Remove([]byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.NextNonce()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.Flush(), ErrClosed)
	assert.ErrorIs(t, db.Scan(nil, func(_, _ []byte) error { return nil }), ErrClosed)
}

func TestOpenRejectsMalformedMetadata(t *testing.T) {
	for name, tc := range map[string]struct{ key, value []byte }{
		"short uuid":    {uuidKey, []byte{1, 2, 3}},
		"short counter": {counterKey, []byte{1}},
	} {
		t.Run(name, func(t *testing.T) {
			engine := storage.NewMemoryStore()
			defer engine.Close()
			rawPut(t, engine, tc.key, tc.value)

			_, err := OpenEngine(engine, zeroKey, DefaultOptions())
			assert.ErrorIs(t, err, ErrMetadata)
		})
	}
}

func TestOpenFailsOnUnusablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := Open(filepath.Join(blocker, "secure.db"), zeroKey)
	assert.ErrorIs(t, err, ErrStoreOpen)
	assert.ErrorIs(t, err, ErrStore)
}

func TestOpenPersistsMetadataOnce(t *testing.T) {
	engine := storage.NewMemoryStore()
	defer engine.Close()

	db, err := OpenEngine(engine, zeroKey, DefaultOptions())
	require.NoError(t, err)
	id := rawGet(t, engine, uuidKey)
	require.Len(t, id, IdentitySize)
	assert.Equal(t, byte(4), id[6]>>4, "version 4 uuid")

	again, err := OpenEngine(engine, zeroKey, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, db.Identity(), again.Identity())
}

func TestOpenIsQuietAtInfo(t *testing.T) {
	var logs bytes.Buffer
	logging.SetGlobalOutput(&logs)
	logging.SetGlobalLevel(logging.INFO)
	t.Cleanup(func() { logging.SetGlobalOutput(os.Stderr) })

	db, _ := setupTestDB(t, optionsFor(storage.EngineTypeBolt))
	_, err := db.Insert([]byte("k"), []byte("v"))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.Empty(t, logs.String())

	logging.SetGlobalLevel(logging.DEBUG)
	t.Cleanup(func() { logging.SetGlobalLevel(logging.INFO) })
	setupTestDB(t, optionsFor(storage.EngineTypeMemory))
	assert.Contains(t, logs.String(), "Secure database opened")
}

func TestReservePolicySurvivesCrash(t *testing.T) {
	opts := DefaultOptions()
	opts.NonceInterval = 8
	path := filepath.Join(t.TempDir(), "secure.db")

	used := make(map[uint64]bool)
	for session := 0; session < 3; session++ {
		db, err := OpenWithOptions(path, zeroKey, opts)
		require.NoError(t, err)
		for i := 0; i < 13; i++ {
			n, err := db.NextNonce()
			require.NoError(t, err)
			c := NonceCounter(n)
			require.False(t, used[c], "counter %d reissued after crash", c)
			used[c] = true
		}
		crash(t, db)
	}
}

func TestFlushPolicyReissuesAfterCrash(t *testing.T) {
	opts := DefaultOptions()
	opts.NoncePolicy = PolicyFlush
	path := filepath.Join(t.TempDir(), "secure.db")

	db, err := OpenWithOptions(path, zeroKey, opts)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := db.NextNonce()
		require.NoError(t, err)
	}
	crash(t, db)

	db, err = OpenWithOptions(path, zeroKey, opts)
	require.NoError(t, err)
	defer db.Close()

	n, err := db.NextNonce()
	require.NoError(t, err)
	// counter 0 was already used before the crash
	assert.Equal(t, uint64(0), NonceCounter(n))
}

func TestPeriodicPolicyBoundsReissue(t *testing.T) {
	opts := DefaultOptions()
	opts.NoncePolicy = PolicyPeriodic
	opts.NonceInterval = 4
	path := filepath.Join(t.TempDir(), "secure.db")

	db, err := OpenWithOptions(path, zeroKey, opts)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := db.NextNonce()
		require.NoError(t, err)
	}
	crash(t, db)

	db, err = OpenWithOptions(path, zeroKey, opts)
	require.NoError(t, err)
	defer db.Close()

	n, err := db.NextNonce()
	require.NoError(t, err)
	assert.Equal(t, uint64(8), NonceCounter(n))
}

func TestStats(t *testing.T) {
	db, _ := setupTestDB(t, optionsFor(storage.EngineTypeMemory))

	_, err := db.Insert([]byte("a"), []byte("1"))
	require.NoError(t, err)
	_, err = db.Get([]byte("a"))
	require.NoError(t, err)
	_, err = db.Get(nil)
	require.Error(t, err)

	s := db.Stats()
	assert.Equal(t, uint64(1), s.Operations["insert"])
	assert.Equal(t, uint64(2), s.Operations["get"])
	assert.Equal(t, uint64(1), s.Failures["get"])
	assert.Equal(t, uint64(1), s.NoncesAllocated)
	assert.Equal(t, DefaultNonceInterval, s.PersistedCounter)
}

func TestCounterAndCheck(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		c, err := db.Counter()
		require.NoError(t, err)
		assert.Equal(t, uint64(0), c)

		_, err = db.NextNonce()
		require.NoError(t, err)
		c, err = db.Counter()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), c)

		require.NoError(t, db.Check())
	})
}

func TestCheckDetectsMetadataDrift(t *testing.T) {
	db, _ := setupTestDB(t, optionsFor(storage.EngineTypeMemory))
	_, err := db.NextNonce()
	require.NoError(t, err)

	// the reserve policy has persisted a ceiling above zero
	rawPut(t, db.engine, counterKey, encodeCounter(0))
	assert.ErrorIs(t, db.Check(), ErrMetadata)

	rawPut(t, db.engine, counterKey, encodeCounter(db.nonces.lastPersisted()))
	require.NoError(t, db.Check())

	rawPut(t, db.engine, uuidKey, make([]byte, IdentitySize))
	assert.ErrorIs(t, db.Check(), ErrMetadata)

	require.NoError(t, db.Close())
	assert.ErrorIs(t, db.Check(), ErrClosed)
	_, err = db.Counter()
	assert.ErrorIs(t, err, ErrClosed)
}

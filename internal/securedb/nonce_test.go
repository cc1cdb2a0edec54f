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
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIdentity = [IdentitySize]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

// persistRecorder records every counter write.
type persistRecorder struct {
	mu     sync.Mutex
	writes []uint64
	err    error
}

func (r *persistRecorder) persist(v uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.writes = append(r.writes, v)
	return nil
}

func (r *persistRecorder) values() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.writes...)
}

func TestNonceLayout(t *testing.T) {
	rec := &persistRecorder{}
	a := newNonceAllocator(testIdentity, 0x0102030405060708, PolicyFlush, 0, rec.persist)

	nonce, c, err := a.allocate()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), c)
	assert.Equal(t, []byte{8, 7, 6, 5, 4, 3, 2, 1}, nonce[:8])
	assert.Equal(t, testIdentity[:], nonce[8:])
	assert.Equal(t, c, NonceCounter(nonce))
	assert.Equal(t, testIdentity, NonceIdentity(nonce))
}

func TestNonceSequentialUniqueness(t *testing.T) {
	a := newNonceAllocator(testIdentity, 0, PolicyFlush, 0, (&persistRecorder{}).persist)

	seen := make(map[[NonceSize]byte]bool)
	for i := 0; i < 1000; i++ {
		nonce, c, err := a.allocate()
		require.NoError(t, err)
		assert.Equal(t, uint64(i), c)
		require.False(t, seen[nonce], "nonce %d reissued", i)
		seen[nonce] = true
	}
}

func TestNonceConcurrentUniqueness(t *testing.T) {
	a := newNonceAllocator(testIdentity, 0, PolicyReserve, 16, (&persistRecorder{}).persist)

	const workers, per = 8, 250
	var (
		mu   sync.Mutex
		seen = make(map[uint64]bool)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				_, c, err := a.allocate()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				if seen[c] {
					t.Errorf("counter %d issued twice", c)
				}
				seen[c] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*per)
}

func TestNonceOverflow(t *testing.T) {
	a := newNonceAllocator(testIdentity, math.MaxUint64, PolicyFlush, 0, (&persistRecorder{}).persist)

	_, _, err := a.allocate()
	assert.ErrorIs(t, err, ErrNonceOverflow)

	c, err := a.current()
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), c)
}

func TestFlushPolicyNeverPersistsOnAllocate(t *testing.T) {
	rec := &persistRecorder{}
	a := newNonceAllocator(testIdentity, 0, PolicyFlush, 4, rec.persist)

	for i := 0; i < 20; i++ {
		_, _, err := a.allocate()
		require.NoError(t, err)
	}
	assert.Empty(t, rec.values())
}

func TestPeriodicPolicyPersistsEveryInterval(t *testing.T) {
	rec := &persistRecorder{}
	a := newNonceAllocator(testIdentity, 0, PolicyPeriodic, 4, rec.persist)

	for i := 0; i < 10; i++ {
		_, _, err := a.allocate()
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{4, 8}, rec.values())
}

func TestReservePolicyPersistsCeilingFirst(t *testing.T) {
	rec := &persistRecorder{}
	a := newNonceAllocator(testIdentity, 10, PolicyReserve, 4, rec.persist)

	var issued []uint64
	for i := 0; i < 9; i++ {
		_, c, err := a.allocate()
		require.NoError(t, err)
		issued = append(issued, c)
		// every issued value is below the persisted ceiling
		assert.Less(t, c, a.lastPersisted())
	}
	assert.Equal(t, []uint64{10, 11, 12, 13, 14, 15, 16, 17, 18}, issued)
	assert.Equal(t, []uint64{14, 18, 22}, rec.values())
}

func TestReservePolicyWritesCeilingUnderLock(t *testing.T) {
	var a *nonceAllocator
	var held []bool
	a = newNonceAllocator(testIdentity, 0, PolicyReserve, 2, func(uint64) error {
		locked := !a.mu.TryLock()
		if !locked {
			a.mu.Unlock()
		}
		held = append(held, locked)
		return nil
	})

	for i := 0; i < 4; i++ {
		_, _, err := a.allocate()
		require.NoError(t, err)
	}
	assert.Equal(t, []bool{true, true}, held)
}

func TestReservePolicyFailureHandsOutNothing(t *testing.T) {
	rec := &persistRecorder{err: errors.New("disk full")}
	a := newNonceAllocator(testIdentity, 0, PolicyReserve, 4, rec.persist)

	_, _, err := a.allocate()
	assert.EqualError(t, err, "disk full")

	c, err := a.current()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c)

	rec.err = nil
	_, c, err = a.allocate()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c)
}

func TestPersistedCounterIsMonotonic(t *testing.T) {
	rec := &persistRecorder{}
	a := newNonceAllocator(testIdentity, 5, PolicyFlush, 0, rec.persist)

	require.NoError(t, a.persistCounter(9))
	require.NoError(t, a.persistCounter(7))
	require.NoError(t, a.persistCounter(9))
	require.NoError(t, a.persistCounter(5))
	require.NoError(t, a.persistCounter(12))

	assert.Equal(t, []uint64{9, 12}, rec.values())
	assert.Equal(t, uint64(12), a.lastPersisted())
}

func TestPanicPoisonsAllocator(t *testing.T) {
	a := newNonceAllocator(testIdentity, 0, PolicyReserve, 4, func(uint64) error {
		panic("store exploded")
	})

	assert.PanicsWithValue(t, "store exploded", func() {
		a.allocate()
	})

	_, _, err := a.allocate()
	assert.ErrorIs(t, err, ErrLockPoisoned)
	_, err = a.current()
	assert.ErrorIs(t, err, ErrLockPoisoned)
}

func TestParseNoncePolicy(t *testing.T) {
	for in, want := range map[string]NoncePolicy{
		"":         PolicyReserve,
		"reserve":  PolicyReserve,
		"FLUSH":    PolicyFlush,
		"periodic": PolicyPeriodic,
	} {
		got, err := ParseNoncePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseNoncePolicy("random")
	assert.Error(t, err)
	assert.Equal(t, "periodic", PolicyPeriodic.String())
	assert.Equal(t, "NoncePolicy(9)", NoncePolicy(9).String())
}

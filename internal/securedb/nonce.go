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
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	dberrors "securedb/internal/errors"
)

const (
	// NonceSize is the XChaCha20-Poly1305 nonce width.
	NonceSize = chacha20poly1305.NonceSizeX

	// IdentitySize is the length of the database identity.
	IdentitySize = 16

	// DefaultNonceInterval is the allocation interval for the periodic and
	// reserve policies.
	DefaultNonceInterval uint64 = 128
)

// NoncePolicy selects when the nonce counter is written to the store.
type NoncePolicy int

const (
	// PolicyReserve persists a ceiling of counter+interval before any
	// value at or above the previous ceiling is handed out. A reopened
	// store resumes at the ceiling, so counter values are never reissued,
	// even after a crash. The ceiling write happens under the allocator
	// lock, so once per interval allocations every caller waits for one
	// store commit.
	PolicyReserve NoncePolicy = iota

	// PolicyFlush persists the counter only on Flush and Close. A crash
	// before Flush reissues every counter value allocated since the last
	// Flush.
	PolicyFlush

	// PolicyPeriodic persists the counter every interval allocations and
	// on Flush. A crash reissues at most interval values.
	PolicyPeriodic
)

// String returns the configuration name of the policy.
func (p NoncePolicy) String() string {
	switch p {
	case PolicyReserve:
		return "reserve"
	case PolicyFlush:
		return "flush"
	case PolicyPeriodic:
		return "periodic"
	default:
		return fmt.Sprintf("NoncePolicy(%d)", int(p))
	}
}

// ParseNoncePolicy parses a policy name. The empty string selects reserve.
func ParseNoncePolicy(s string) (NoncePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reserve":
		return PolicyReserve, nil
	case "flush":
		return PolicyFlush, nil
	case "periodic":
		return PolicyPeriodic, nil
	default:
		return 0, fmt.Errorf("unknown nonce policy %q (want reserve, flush or periodic)", s)
	}
}

// nonceAllocator hands out counter-based nonces:
//
//	nonce = little-endian(counter) (8 bytes) || identity (16 bytes)
//
// mu guards the in-memory counter. persistMu serializes counter writes and
// guards persisted, which only ever grows. Lock order is mu, then persistMu.
type nonceAllocator struct {
	identity [IdentitySize]byte
	policy   NoncePolicy
	interval uint64
	persist  func(counter uint64) error

	mu       sync.Mutex
	counter  uint64
	ceiling  uint64
	pending  uint64
	poisoned bool

	persistMu sync.Mutex
	persisted uint64
}

func newNonceAllocator(identity [IdentitySize]byte, start uint64, policy NoncePolicy, interval uint64, persist func(uint64) error) *nonceAllocator {
	if interval == 0 {
		interval = DefaultNonceInterval
	}
	return &nonceAllocator{
		identity:  identity,
		policy:    policy,
		interval:  interval,
		persist:   persist,
		counter:   start,
		ceiling:   start,
		persisted: start,
	}
}

// allocate returns a fresh nonce and the counter value embedded in it.
func (a *nonceAllocator) allocate() ([NonceSize]byte, uint64, error) {
	var nonce [NonceSize]byte

	c, checkpoint, err := a.advance()
	if err != nil {
		return nonce, 0, err
	}

	binary.LittleEndian.PutUint64(nonce[:8], c)
	copy(nonce[8:], a.identity[:])

	if checkpoint != 0 {
		if err := a.persistCounter(checkpoint); err != nil {
			return nonce, 0, err
		}
	}
	return nonce, c, nil
}

// advance increments the counter under mu. It returns the value to embed
// and, for the periodic policy, a counter value to persist once mu is
// released (0 for none). The reserve policy writes its ceiling with mu
// held.
func (a *nonceAllocator) advance() (c uint64, checkpoint uint64, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.poisoned {
		return 0, 0, dberrors.LockPoisoned()
	}
	// A panic below leaves the counter in an unknown state.
	defer func() {
		if r := recover(); r != nil {
			a.poisoned = true
			panic(r)
		}
	}()

	c = a.counter
	if c == math.MaxUint64 {
		return 0, 0, dberrors.NonceOverflow()
	}

	switch a.policy {
	case PolicyReserve:
		if c >= a.ceiling {
			next := c + a.interval
			if next < c {
				next = math.MaxUint64
			}
			if err := a.persistCounter(next); err != nil {
				return 0, 0, err
			}
			a.ceiling = next
		}
	case PolicyPeriodic:
		a.pending++
		if a.pending >= a.interval {
			a.pending = 0
			checkpoint = c + 1
		}
	}

	a.counter = c + 1
	return c, checkpoint, nil
}

// current returns the next counter value to be handed out.
func (a *nonceAllocator) current() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.poisoned {
		return 0, dberrors.LockPoisoned()
	}
	return a.counter, nil
}

// persistCounter writes v unless a value at least as large has already
// been written.
func (a *nonceAllocator) persistCounter(v uint64) error {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()

	if v <= a.persisted {
		return nil
	}
	if err := a.persist(v); err != nil {
		return err
	}
	a.persisted = v
	return nil
}

// lastPersisted returns the largest counter value written so far.
func (a *nonceAllocator) lastPersisted() uint64 {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()
	return a.persisted
}

// NonceCounter returns the counter value embedded in a nonce.
func NonceCounter(nonce [NonceSize]byte) uint64 {
	return binary.LittleEndian.Uint64(nonce[:8])
}

// NonceIdentity returns the database identity embedded in a nonce.
func NonceIdentity(nonce [NonceSize]byte) [IdentitySize]byte {
	var id [IdentitySize]byte
	copy(id[:], nonce[8:])
	return id
}

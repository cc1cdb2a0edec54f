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
Package metrics provides operation counters for a SecureDB instance.

METRIC CATEGORIES:
==================
- Operations: inserts, gets, removes, deletes, scans, flushes, failures
- Crypto: nonces allocated, decryption failures
- Nonce persistence: counter writes, last persisted counter
- Latency: sum and count of operation durations

Counters are lock-free atomics; Snapshot reads them into a plain struct
and WritePrometheus renders that struct in the Prometheus text format.

EXAMPLE OUTPUT:
===============

	securedb_operations_total{op="insert"} 1234
	securedb_decryption_failures_total 0
	securedb_nonce_counter_persisted 1280
*/
package metrics

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Op identifies a facade operation.
type Op int

const (
	OpInsert Op = iota
	OpGet
	OpRemove
	OpDelete
	OpScan
	OpFlush
	numOps
)

var opNames = [numOps]string{"insert", "get", "remove", "delete", "scan", "flush"}

// String returns the label value used for op.
func (o Op) String() string {
	if o < 0 || o >= numOps {
		return "unknown"
	}
	return opNames[o]
}

// Metrics holds the counters of one database instance.
type Metrics struct {
	ops      [numOps]atomic.Uint64
	failures [numOps]atomic.Uint64

	// latency metrics (in microseconds)
	latencySum   atomic.Uint64
	latencyCount atomic.Uint64

	NoncesAllocated    atomic.Uint64
	DecryptionFailures atomic.Uint64
	CounterPersists    atomic.Uint64
	PersistedCounter   atomic.Uint64
}

// New returns a zeroed Metrics.
func New() *Metrics {
	return &Metrics{}
}

// Record counts one completed operation and its latency.
func (m *Metrics) Record(op Op, latency time.Duration, err error) {
	if op < 0 || op >= numOps {
		return
	}
	m.ops[op].Add(1)
	if err != nil {
		m.failures[op].Add(1)
	}
	m.latencySum.Add(uint64(latency.Microseconds()))
	m.latencyCount.Add(1)
}

// Persisted records a counter write.
func (m *Metrics) Persisted(counter uint64) {
	m.CounterPersists.Add(1)
	m.PersistedCounter.Store(counter)
}

// AverageLatency returns the average operation latency in microseconds.
func (m *Metrics) AverageLatency() float64 {
	count := m.latencyCount.Load()
	if count == 0 {
		return 0
	}
	return float64(m.latencySum.Load()) / float64(count)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Operations         map[string]uint64
	Failures           map[string]uint64
	NoncesAllocated    uint64
	DecryptionFailures uint64
	CounterPersists    uint64
	PersistedCounter   uint64
	AvgLatencyMicros   float64
}

// Snapshot copies the current values.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Operations:         make(map[string]uint64, numOps),
		Failures:           make(map[string]uint64, numOps),
		NoncesAllocated:    m.NoncesAllocated.Load(),
		DecryptionFailures: m.DecryptionFailures.Load(),
		CounterPersists:    m.CounterPersists.Load(),
		PersistedCounter:   m.PersistedCounter.Load(),
		AvgLatencyMicros:   m.AverageLatency(),
	}
	for op := Op(0); op < numOps; op++ {
		s.Operations[op.String()] = m.ops[op].Load()
		s.Failures[op.String()] = m.failures[op].Load()
	}
	return s
}

// WritePrometheus writes s in the Prometheus text exposition format.
func (s Snapshot) WritePrometheus(w io.Writer) error {
	p := &promWriter{w: w}

	p.printf("# HELP securedb_operations_total Facade operations executed\n")
	p.printf("# TYPE securedb_operations_total counter\n")
	for op := Op(0); op < numOps; op++ {
		p.printf("securedb_operations_total{op=%q} %d\n", op.String(), s.Operations[op.String()])
	}

	p.printf("# HELP securedb_operations_failed_total Facade operations that returned an error\n")
	p.printf("# TYPE securedb_operations_failed_total counter\n")
	for op := Op(0); op < numOps; op++ {
		p.printf("securedb_operations_failed_total{op=%q} %d\n", op.String(), s.Failures[op.String()])
	}

	p.printf("# HELP securedb_operation_latency_avg_microseconds Average operation latency\n")
	p.printf("# TYPE securedb_operation_latency_avg_microseconds gauge\n")
	p.printf("securedb_operation_latency_avg_microseconds %.2f\n", s.AvgLatencyMicros)

	p.printf("# HELP securedb_nonces_allocated_total Nonces handed out\n")
	p.printf("# TYPE securedb_nonces_allocated_total counter\n")
	p.printf("securedb_nonces_allocated_total %d\n", s.NoncesAllocated)

	p.printf("# HELP securedb_decryption_failures_total Entries that failed authentication\n")
	p.printf("# TYPE securedb_decryption_failures_total counter\n")
	p.printf("securedb_decryption_failures_total %d\n", s.DecryptionFailures)

	p.printf("# HELP securedb_counter_persists_total Nonce counter writes\n")
	p.printf("# TYPE securedb_counter_persists_total counter\n")
	p.printf("securedb_counter_persists_total %d\n", s.CounterPersists)

	p.printf("# HELP securedb_nonce_counter_persisted Last persisted nonce counter\n")
	p.printf("# TYPE securedb_nonce_counter_persisted gauge\n")
	p.printf("securedb_nonce_counter_persisted %d\n", s.PersistedCounter)

	return p.err
}

// promWriter remembers the first write error.
type promWriter struct {
	w   io.Writer
	err error
}

func (p *promWriter) printf(format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

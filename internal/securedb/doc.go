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
Package securedb implements an encrypted key-value store on top of a
transactional storage engine.

Architecture Overview:
======================

	┌──────────────────────────────────────────────┐
	│                      DB                      │
	│  Open / Insert / Get / Remove / Flush / Scan │
	├───────────────┬──────────────┬───────────────┤
	│ Key Derivation│ Nonce        │ Entry Codec   │
	│ HKDF-SHA256   │ Allocator    │ XChaCha20-    │
	│               │              │ Poly1305      │
	├───────────────┴──────────────┴───────────────┤
	│        storage.Engine (bolt / wal / memory)  │
	└──────────────────────────────────────────────┘

Persisted Layout:
=================

A single table named "data" holds both caller entries and metadata:

	__db_uuid        16 random bytes, the database identity
	__nonce_counter  8 bytes, little-endian, last persisted counter
	<caller key>     nonce (24) || ciphertext || tag (16)

Keys are stored in clear; only values are encrypted.

Nonces:
=======

Every encryption uses little-endian(counter) || identity as its nonce. The
counter is advanced under a mutex, so no two calls in one process share a
value. The NoncePolicy decides how the counter survives a restart; the
default, PolicyReserve, never reissues a counter value even after a crash.

Atomicity:
==========

Insert and Remove decode the previous entry before their write transaction
commits. An operation that returns an error leaves the store as it was.
*/
package securedb

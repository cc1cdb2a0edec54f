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
Package crypto provides key material handling for SecureDB.

Key Management:
===============

SecureDB never stores key material. The caller supplies a master key on
every open and the storage key is derived from it:

	master key ──HKDF-SHA256(info="securedb xchacha20poly1305 v1")──▶ 32-byte key

The derivation is deterministic, so reopening a store with the same master
key yields the same storage key.

Operators who hold a passphrase rather than raw key bytes can stretch it
into a master key with PassphraseKey (PBKDF2 with SHA-256). This is the
configuration layer's job; the store itself only ever sees master keys.
*/
package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	dberrors "securedb/internal/errors"
)

// KeySize is the length of the derived storage key in bytes.
const KeySize = 32

// derivationInfo binds derived keys to this store format.
var derivationInfo = []byte("securedb xchacha20poly1305 v1")

// DefaultSalt is used for passphrase stretching when no salt is configured.
// In production, always configure a unique salt per deployment.
var DefaultSalt = []byte("securedb-default-salt-v1")

// KeyDerivationIterations is the number of PBKDF2 iterations.
const KeyDerivationIterations = 100000

// DeriveKey derives the storage encryption key from a master key.
// There is no minimum master key length; callers choose key strength.
func DeriveKey(masterKey []byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	okm, err := deriveKey(masterKey, KeySize)
	if err != nil {
		return key, err
	}
	copy(key[:], okm)
	Zero(okm)
	return key, nil
}

// deriveKey expands masterKey into length bytes. HKDF-SHA256 can produce at
// most 255*32 bytes; longer requests fail.
func deriveKey(masterKey []byte, length int) ([]byte, error) {
	okm := make([]byte, length)
	r := hkdf.New(sha256.New, masterKey, nil, derivationInfo)
	if _, err := io.ReadFull(r, okm); err != nil {
		return nil, dberrors.KeyDerivation(err)
	}
	return okm, nil
}

// PassphraseKey stretches a passphrase into a master key using PBKDF2.
// An empty salt falls back to DefaultSalt.
func PassphraseKey(passphrase string, salt []byte) []byte {
	if len(salt) == 0 {
		salt = DefaultSalt
	}
	return pbkdf2.Key([]byte(passphrase), salt, KeyDerivationIterations, KeySize, sha256.New)
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

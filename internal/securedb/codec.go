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
	"crypto/cipher"

	"golang.org/x/crypto/chacha20poly1305"

	"securedb/internal/crypto"
	dberrors "securedb/internal/errors"
)

// entryCodec seals values as stored entries:
//
//	┌────────────┬──────────────────────────┐
//	│ Nonce (24) │ Ciphertext || Tag (16)   │
//	└────────────┴──────────────────────────┘
//
// No associated data is bound; the key is not part of the entry.
type entryCodec struct {
	aead cipher.AEAD
}

func newEntryCodec(key [crypto.KeySize]byte) (*entryCodec, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, dberrors.KeyDerivation(err)
	}
	return &entryCodec{aead: aead}, nil
}

// encode encrypts plaintext under nonce and prefixes the nonce.
func (c *entryCodec) encode(nonce [NonceSize]byte, plaintext []byte) (entry []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			entry, err = nil, dberrors.EncryptionFailed()
		}
	}()

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+c.aead.Overhead())
	copy(out, nonce[:])
	return c.aead.Seal(out, nonce[:], plaintext, nil), nil
}

// decode authenticates and decrypts a stored entry. Every authentication
// failure yields the same error.
func (c *entryCodec) decode(entry []byte) ([]byte, error) {
	if len(entry) < NonceSize {
		return nil, dberrors.MalformedEntry()
	}
	plaintext, err := c.aead.Open(nil, entry[:NonceSize], entry[NonceSize:], nil)
	if err != nil {
		return nil, dberrors.DecryptionFailed()
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

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
	dberrors "securedb/internal/errors"
)

// Error is the structured error returned by every DB operation.
type Error = dberrors.SecureDBError

// Sentinels for errors.Is. Matching is by error code; ErrStore matches
// every storage sub-kind. Do not modify these values.
var (
	ErrKeyDerivation    = dberrors.New(dberrors.ErrCodeKeyDerivation, "key derivation failed")
	ErrStore            = dberrors.New(dberrors.ErrCodeStore, "store error")
	ErrStoreOpen        = dberrors.New(dberrors.ErrCodeStoreOpen, "store open failed")
	ErrStoreTransaction = dberrors.New(dberrors.ErrCodeStoreTransaction, "store transaction failed")
	ErrStoreTable       = dberrors.New(dberrors.ErrCodeStoreTable, "store table failed")
	ErrStoreCommit      = dberrors.New(dberrors.ErrCodeStoreCommit, "store commit failed")
	ErrStoreIO          = dberrors.New(dberrors.ErrCodeStoreIO, "store I/O failed")
	ErrMetadata         = dberrors.New(dberrors.ErrCodeMetadataInvalid, "invalid metadata")
	ErrNonceOverflow    = dberrors.New(dberrors.ErrCodeNonceOverflow, "nonce overflow")
	ErrLockPoisoned     = dberrors.New(dberrors.ErrCodeLockPoisoned, "lock poisoned")
	ErrEncryptionFailed = dberrors.New(dberrors.ErrCodeEncryption, "encryption failed")
	ErrDecryptionFailed = dberrors.New(dberrors.ErrCodeDecryption, "decryption failed")
	ErrMalformedEntry   = dberrors.New(dberrors.ErrCodeMalformedEntry, "malformed entry")
	ErrReservedKey      = dberrors.New(dberrors.ErrCodeReservedKey, "reserved key")
	ErrClosed           = dberrors.New(dberrors.ErrCodeClosed, "closed")
)

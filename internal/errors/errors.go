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
Package errors provides the structured error taxonomy for SecureDB.

Every failure surfaced by the encrypted store is a *SecureDBError carrying:
  - a numeric code for programmatic handling
  - a category grouping related codes
  - a static, human-readable message naming the failing operation
  - an optional detail, hint and wrapped cause

Error Categories:
  - KEY: key derivation failures
  - STORAGE: failures reported by the underlying key-value store
  - METADATA: missing or malformed persisted identity/counter
  - NONCE: nonce counter overflow and lock poisoning
  - CRYPTO: encryption, authentication and entry framing failures
  - USAGE: invalid caller input or use after close

Matching:

Two errors match under errors.Is when their codes are equal. A category base
code (a multiple of 1000) matches every code in its category, so

	errors.Is(err, errors.StoreError(errors.ErrCodeStore, "", nil))

is true for any storage sub-kind. Callers normally compare against the
sentinels exported by the securedb package instead of building targets.
*/
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error identifier.
type ErrorCode int

const (
	// Key errors (1000-1999)
	ErrCodeKey           ErrorCode = 1000
	ErrCodeKeyDerivation ErrorCode = 1001

	// Storage errors (2000-2999)
	ErrCodeStore            ErrorCode = 2000
	ErrCodeStoreOpen        ErrorCode = 2001
	ErrCodeStoreTransaction ErrorCode = 2002
	ErrCodeStoreTable       ErrorCode = 2003
	ErrCodeStoreCommit      ErrorCode = 2004
	ErrCodeStoreIO          ErrorCode = 2005

	// Metadata errors (3000-3999)
	ErrCodeMetadata        ErrorCode = 3000
	ErrCodeMetadataInvalid ErrorCode = 3001

	// Nonce errors (4000-4999)
	ErrCodeNonce         ErrorCode = 4000
	ErrCodeNonceOverflow ErrorCode = 4001
	ErrCodeLockPoisoned  ErrorCode = 4002

	// Crypto errors (5000-5999)
	ErrCodeCrypto         ErrorCode = 5000
	ErrCodeEncryption     ErrorCode = 5001
	ErrCodeDecryption     ErrorCode = 5002
	ErrCodeMalformedEntry ErrorCode = 5003

	// Usage errors (6000-6999)
	ErrCodeUsage       ErrorCode = 6000
	ErrCodeReservedKey ErrorCode = 6002
	ErrCodeClosed      ErrorCode = 6003
)

// Category represents the error category.
type Category string

const (
	CategoryKey      Category = "KEY"
	CategoryStorage  Category = "STORAGE"
	CategoryMetadata Category = "METADATA"
	CategoryNonce    Category = "NONCE"
	CategoryCrypto   Category = "CRYPTO"
	CategoryUsage    Category = "USAGE"
)

// categoryOf maps a code to its category by its thousands range.
func categoryOf(code ErrorCode) Category {
	switch code / 1000 {
	case 1:
		return CategoryKey
	case 2:
		return CategoryStorage
	case 3:
		return CategoryMetadata
	case 4:
		return CategoryNonce
	case 5:
		return CategoryCrypto
	default:
		return CategoryUsage
	}
}

// SecureDBError represents a structured error in SecureDB.
type SecureDBError struct {
	Code     ErrorCode
	Category Category
	Message  string
	Detail   string
	Hint     string
	Cause    error
}

// Error implements the error interface.
func (e *SecureDBError) Error() string {
	msg := fmt.Sprintf("ERROR %d (%s): %s", e.Code, e.Category, e.Message)
	if e.Detail != "" {
		msg += " - " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SecureDBError) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code, or is the base code of
// this error's category.
func (e *SecureDBError) Is(target error) bool {
	t, ok := target.(*SecureDBError)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return t.Code%1000 == 0 && t.Code/1000 == e.Code/1000
}

// UserMessage returns a user-friendly error message.
func (e *SecureDBError) UserMessage() string {
	msg := fmt.Sprintf("ERROR: %s", e.Message)
	if e.Detail != "" {
		msg += fmt.Sprintf(" (%s)", e.Detail)
	}
	if e.Hint != "" {
		msg += fmt.Sprintf("\nHINT: %s", e.Hint)
	}
	return msg
}

// WithDetail adds detail to the error.
func (e *SecureDBError) WithDetail(detail string) *SecureDBError {
	e.Detail = detail
	return e
}

// WithHint adds a hint to the error.
func (e *SecureDBError) WithHint(hint string) *SecureDBError {
	e.Hint = hint
	return e
}

// WithCause adds a cause to the error.
func (e *SecureDBError) WithCause(cause error) *SecureDBError {
	e.Cause = cause
	return e
}

// New creates an error with the given code and message.
func New(code ErrorCode, message string) *SecureDBError {
	return &SecureDBError{
		Code:     code,
		Category: categoryOf(code),
		Message:  message,
	}
}

// CodeOf returns the code of the first SecureDBError in err's chain, or 0.
func CodeOf(err error) ErrorCode {
	var e *SecureDBError
	if stderrors.As(err, &e) {
		return e.Code
	}
	return 0
}

// ============================================================================
// Key Error Constructors
// ============================================================================

// KeyDerivation creates an error for a rejected key-derivation request.
func KeyDerivation(cause error) *SecureDBError {
	return New(ErrCodeKeyDerivation, "failed to derive encryption key").WithCause(cause)
}

// ============================================================================
// Storage Error Constructors
// ============================================================================

// StoreError wraps an error from the underlying store. context is a static
// description of the failing operation.
func StoreError(code ErrorCode, context string, cause error) *SecureDBError {
	return New(code, context).WithCause(cause)
}

// StoreOpen creates an error for a store that could not be opened or created.
func StoreOpen(context string, cause error) *SecureDBError {
	return StoreError(ErrCodeStoreOpen, context, cause).
		WithHint("Check that the path is writable and not locked by another process")
}

// StoreTransaction creates an error for a transaction that could not begin.
func StoreTransaction(context string, cause error) *SecureDBError {
	return StoreError(ErrCodeStoreTransaction, context, cause)
}

// StoreTable creates an error for a table that could not be opened.
func StoreTable(context string, cause error) *SecureDBError {
	return StoreError(ErrCodeStoreTable, context, cause)
}

// StoreCommit creates an error for a failed commit.
func StoreCommit(context string, cause error) *SecureDBError {
	return StoreError(ErrCodeStoreCommit, context, cause)
}

// StoreIO creates an error for a failed read, write or sync.
func StoreIO(context string, cause error) *SecureDBError {
	return StoreError(ErrCodeStoreIO, context, cause)
}

// ============================================================================
// Metadata Error Constructors
// ============================================================================

// Metadata creates an error for missing or malformed persisted metadata.
func Metadata(description string) *SecureDBError {
	return New(ErrCodeMetadataInvalid, description).
		WithHint("The store metadata is damaged; restore from backup")
}

// ============================================================================
// Nonce Error Constructors
// ============================================================================

// NonceOverflow creates an error for an exhausted nonce counter.
func NonceOverflow() *SecureDBError {
	return New(ErrCodeNonceOverflow, "nonce counter overflowed")
}

// LockPoisoned creates an error for a counter lock whose holder panicked.
func LockPoisoned() *SecureDBError {
	return New(ErrCodeLockPoisoned, "nonce counter lock was poisoned").
		WithHint("Discard this instance and open the store again")
}

// ============================================================================
// Crypto Error Constructors
// ============================================================================

// EncryptionFailed creates an error for a failed seal operation.
func EncryptionFailed() *SecureDBError {
	return New(ErrCodeEncryption, "failed to encrypt value")
}

// DecryptionFailed creates an error for a failed authentication check.
// It never carries a cause.
func DecryptionFailed() *SecureDBError {
	return New(ErrCodeDecryption, "failed to decrypt value")
}

// MalformedEntry creates an error for a stored entry too short to hold a nonce.
func MalformedEntry() *SecureDBError {
	return New(ErrCodeMalformedEntry, "stored entry shorter than nonce prefix")
}

// ============================================================================
// Usage Error Constructors
// ============================================================================

// ReservedKey creates an error for a caller key that collides with metadata.
func ReservedKey(key string) *SecureDBError {
	return New(ErrCodeReservedKey, "key is reserved for store metadata").
		WithDetail(fmt.Sprintf("Key: %s", key))
}

// Closed creates an error for use of a closed store.
func Closed() *SecureDBError {
	return New(ErrCodeClosed, "secure database is closed")
}

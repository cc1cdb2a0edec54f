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

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// StorageConfig contains configuration for creating a storage engine.
type StorageConfig struct {
	// Engine selects the backend. Defaults to EngineTypeBolt.
	Engine StorageEngineType

	// Path is the database file. Ignored by the memory engine.
	Path string

	// SyncOnCommit forces every commit to durable storage before it
	// returns. When false, durability is only guaranteed after Sync.
	SyncOnCommit bool
}

// DefaultStorageConfig returns default storage configuration.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Engine:       EngineTypeBolt,
		Path:         "securedb.db",
		SyncOnCommit: true,
	}
}

// Open creates or opens the storage engine described by config.
func Open(config StorageConfig) (Engine, error) {
	switch config.Engine {
	case EngineTypeBolt, "":
		return OpenBolt(config.Path, config.SyncOnCommit)
	case EngineTypeWAL:
		return OpenKVStore(config.Path, config.SyncOnCommit)
	case EngineTypeMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage engine %q", config.Engine)
	}
}

// ensureParentDir creates the directory holding path if it is missing.
func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return wrapPathError(err, dir, "create directory")
	}
	return nil
}

// wrapPathError wraps a path-related error with helpful context.
// For permission errors, it provides guidance on how to fix the issue.
func wrapPathError(err error, path string, operation string) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("permission denied: cannot %s '%s'. "+
			"Use a different path or fix the permissions of %s: %w",
			operation, path, filepath.Dir(path), err)
	}
	return fmt.Errorf("failed to %s '%s': %w", operation, path, err)
}

// validateBucketName rejects names that cannot be namespaced safely.
func validateBucketName(name []byte) error {
	if len(name) == 0 {
		return ErrInvalidBucket
	}
	for _, b := range name {
		if b == 0 {
			return ErrInvalidBucket
		}
	}
	return nil
}

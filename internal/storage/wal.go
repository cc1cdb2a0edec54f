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
Write-Ahead Log (WAL) Implementation
=====================================

The WAL provides durability for the KVStore engine by persisting every
committed transaction to disk before it is applied to the in-memory state.

How WAL Works:
==============

 1. A transaction commit encodes all of its operations as one batch frame
 2. The frame is appended to the log (and fsynced when configured)
 3. Only then is the batch applied to the in-memory map
 4. On startup, the WAL is replayed to rebuild the in-memory state

File Format:
============

	┌───────────┬─────────────┬───────────┬──────────────┐
	│ Magic(4B) │ Version(1B) │ Flags(1B) │ Reserved(2B) │   header
	└───────────┴─────────────┴───────────┴──────────────┘
	┌─────────────┬───────────┬────────────────────────────┐
	│ Length (4B) │ CRC32(4B) │ Payload (Length bytes)     │   frame, repeated
	└─────────────┴───────────┴────────────────────────────┘

Payload:

	┌───────────┬──────────────────────────────────────────────────────┐
	│ Count(4B) │ Count × [Op(1B) KeyLen(4B) Key ValLen(4B) Value]     │
	└───────────┴──────────────────────────────────────────────────────┘

All integers are big-endian. The CRC is CRC-32 (Castagnoli) of the payload.

Crash Recovery:
===============

A crash while appending leaves a torn frame at the end of the file. Replay
stops at the first frame that is short, oversized or fails its checksum,
and the file is truncated back to the last complete frame. Because a frame
holds a whole transaction, recovery never applies half a commit.

A failed append is cut off the same way while the store is running: the
file is truncated to the end of the previous frame, so later commits never
land behind a broken frame. A failed fsync also fails the WAL for good;
every later WriteBatch returns ErrWALFailed until the store is reopened.
*/
package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// Operation type constants for WAL records.
const (
	// OpPut stores Value under Key.
	OpPut byte = 1

	// OpDelete removes Key. Value is empty.
	OpDelete byte = 2

	// OpCreateBucket creates the bucket named by Key.
	OpCreateBucket byte = 3
)

// WAL file header constants.
const (
	// WALMagic is the magic number identifying SecureDB WAL files.
	// "SDBW" in ASCII.
	WALMagic uint32 = 0x53444257

	// WALVersion is the current WAL format version.
	WALVersion byte = 1

	// WALHeaderSize is the size of the WAL header in bytes.
	// Magic (4) + Version (1) + Flags (1) + Reserved (2) = 8 bytes
	WALHeaderSize = 8

	// walFrameHeaderSize is Length (4) + CRC (4).
	walFrameHeaderSize = 8

	// maxBatchSize bounds a single frame; larger lengths are treated as
	// corruption.
	maxBatchSize = 1 << 30
)

// ErrInvalidWALFile is returned when the WAL file has an invalid format.
var ErrInvalidWALFile = errors.New("invalid WAL file format")

// ErrWALFailed is returned by WriteBatch after an append could not be
// undone or an fsync failed.
var ErrWALFailed = errors.New("WAL failed, reopen the store")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Record is a single operation inside a batch.
type Record struct {
	Op    byte
	Key   []byte
	Value []byte
}

// walFile is the part of *os.File the WAL uses.
type walFile interface {
	io.ReadWriteSeeker
	io.ReaderAt
	io.Closer
	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
}

// WAL (Write-Ahead Log) provides durability for the KVStore.
//
// Thread Safety: All methods are safe for concurrent use.
type WAL struct {
	// file is the underlying WAL file handle, opened for appending.
	file walFile

	// mu serializes appends and protects end and failed.
	mu sync.Mutex

	// end is the offset just past the last complete frame.
	end int64

	// failed is set once the log can no longer be trusted.
	failed error

	// syncOnWrite fsyncs after every batch.
	syncOnWrite bool
}

// OpenWAL opens or creates a WAL file at path.
//
// Example:
//
//	wal, err := storage.OpenWAL("/var/lib/securedb/data.wal", true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer wal.Close()
func OpenWAL(path string, syncOnWrite bool) (*WAL, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, wrapPathError(err, path, "open database file")
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat database file: %w", err)
	}

	end := stat.Size()
	if end == 0 {
		end = WALHeaderSize
		if err := writeWALHeader(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write WAL header: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to sync WAL header: %w", err)
		}
	} else if err := validateWALHeader(f); err != nil {
		f.Close()
		return nil, err
	}

	return &WAL{file: f, end: end, syncOnWrite: syncOnWrite}, nil
}

// writeWALHeader writes the WAL file header.
func writeWALHeader(f *os.File) error {
	header := make([]byte, WALHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], WALMagic)
	header[4] = WALVersion
	_, err := f.Write(header)
	return err
}

// validateWALHeader reads and validates the WAL file header.
func validateWALHeader(f *os.File) error {
	header := make([]byte, WALHeaderSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		return fmt.Errorf("%w: short header: %v", ErrInvalidWALFile, err)
	}

	if magic := binary.BigEndian.Uint32(header[0:4]); magic != WALMagic {
		return fmt.Errorf("%w: bad magic %#x", ErrInvalidWALFile, magic)
	}

	if version := header[4]; version > WALVersion {
		return fmt.Errorf("%w: WAL version %d is newer than supported version %d",
			ErrInvalidWALFile, version, WALVersion)
	}
	return nil
}

// encodeBatch serializes records into a frame payload.
func encodeBatch(records []Record) []byte {
	size := 4
	for _, r := range records {
		size += 1 + 4 + len(r.Key) + 4 + len(r.Value)
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf, uint32(len(records)))
	off := 4
	for _, r := range records {
		buf[off] = r.Op
		off++
		binary.BigEndian.PutUint32(buf[off:], uint32(len(r.Key)))
		off += 4
		off += copy(buf[off:], r.Key)
		binary.BigEndian.PutUint32(buf[off:], uint32(len(r.Value)))
		off += 4
		off += copy(buf[off:], r.Value)
	}
	return buf
}

// decodeBatch parses a frame payload.
func decodeBatch(payload []byte) ([]Record, error) {
	if len(payload) < 4 {
		return nil, io.ErrUnexpectedEOF
	}
	count := binary.BigEndian.Uint32(payload)
	off := 4

	// each record needs at least 9 bytes
	if uint64(count)*9 > uint64(len(payload)-off) {
		return nil, io.ErrUnexpectedEOF
	}

	records := make([]Record, 0, count)
	readField := func() ([]byte, error) {
		if len(payload)-off < 4 {
			return nil, io.ErrUnexpectedEOF
		}
		n := int(binary.BigEndian.Uint32(payload[off:]))
		off += 4
		if n < 0 || len(payload)-off < n {
			return nil, io.ErrUnexpectedEOF
		}
		field := payload[off : off+n]
		off += n
		return field, nil
	}

	for i := uint32(0); i < count; i++ {
		if off >= len(payload) {
			return nil, io.ErrUnexpectedEOF
		}
		op := payload[off]
		off++
		key, err := readField()
		if err != nil {
			return nil, err
		}
		value, err := readField()
		if err != nil {
			return nil, err
		}
		records = append(records, Record{Op: op, Key: key, Value: value})
	}
	if off != len(payload) {
		return nil, fmt.Errorf("%w: %d trailing bytes in batch", ErrInvalidWALFile, len(payload)-off)
	}
	return records, nil
}

// WriteBatch appends records as one atomic frame. On error nothing of the
// frame remains in the log.
func (w *WAL) WriteBatch(records []Record) error {
	payload := encodeBatch(records)
	if len(payload) > maxBatchSize {
		return fmt.Errorf("batch of %d bytes exceeds WAL frame limit", len(payload))
	}

	frame := make([]byte, walFrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(frame[4:8], crc32.Checksum(payload, castagnoli))
	copy(frame[walFrameHeaderSize:], payload)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failed != nil {
		return fmt.Errorf("%w: %v", ErrWALFailed, w.failed)
	}

	// A single write keeps the frame contiguous.
	if _, err := w.file.Write(frame); err != nil {
		if terr := w.truncate(w.end); terr != nil {
			w.failed = err
		}
		return fmt.Errorf("failed to append WAL frame: %w", err)
	}
	if w.syncOnWrite {
		if err := w.file.Sync(); err != nil {
			// The page cache state is unknown after a failed fsync.
			w.failed = err
			_ = w.truncate(w.end)
			return fmt.Errorf("failed to sync WAL frame: %w", err)
		}
	}
	w.end += int64(len(frame))
	return nil
}

// Sync flushes all pending writes to the underlying storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Close closes the underlying WAL file.
func (w *WAL) Close() error {
	return w.file.Close()
}

// Size returns the current size of the WAL file in bytes.
func (w *WAL) Size() (int64, error) {
	info, err := w.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Replay reads every complete batch in order and invokes fn for each.
// A torn or corrupt tail is truncated away. The returned count is the
// number of batches applied.
func (w *WAL) Replay(fn func(batch []Record)) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(WALHeaderSize, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to seek in WAL: %w", err)
	}
	reader := bufio.NewReader(w.file)

	var (
		good    int64 = WALHeaderSize
		batches int
		header  [walFrameHeaderSize]byte
	)
	for {
		if _, err := io.ReadFull(reader, header[:]); err != nil {
			if err == io.EOF {
				w.end = good
				return batches, nil
			}
			if err == io.ErrUnexpectedEOF {
				return batches, w.truncate(good)
			}
			return batches, err
		}

		length := binary.BigEndian.Uint32(header[0:4])
		sum := binary.BigEndian.Uint32(header[4:8])
		if length > maxBatchSize {
			return batches, w.truncate(good)
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(reader, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return batches, w.truncate(good)
			}
			return batches, err
		}
		if crc32.Checksum(payload, castagnoli) != sum {
			return batches, w.truncate(good)
		}

		records, err := decodeBatch(payload)
		if err != nil {
			return batches, w.truncate(good)
		}

		fn(records)
		batches++
		good += walFrameHeaderSize + int64(length)
	}
}

// truncate discards everything after offset.
func (w *WAL) truncate(offset int64) error {
	if err := w.file.Truncate(offset); err != nil {
		return fmt.Errorf("failed to truncate torn WAL tail: %w", err)
	}
	w.end = offset
	return w.file.Sync()
}

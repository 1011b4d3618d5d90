// Package wal implements the append-only, memory-mapped write-ahead log
// the matcher goroutine writes every accepted command to before applying
// it to the book. Grounded directly on original_source/src/wal.rs: the
// record layout (4-byte little-endian length, 4-byte CRC32, payload,
// zero padding to 8-byte alignment), the scan-on-open recovery walk, and
// the doubling-remap growth policy are carried over line for line. Go's
// golang.org/x/sys/unix stands in for the Rust memmap2 crate; stdlib
// hash/crc32 stands in for crc32fast since no third-party CRC
// implementation appears anywhere in the retrieved example pack.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"

	"fenrir/internal/domain"
	"fenrir/internal/protocol"

	"golang.org/x/sys/unix"
)

// headerSize is 4 bytes payload length + 4 bytes CRC32.
const headerSize = 8

const alignment = 8

// DefaultInitialSize is the mmap size a freshly created WAL file is
// truncated to.
const DefaultInitialSize = 64 * 1024 * 1024

func alignUp(n int) int {
	return (n + alignment - 1) &^ (alignment - 1)
}

var (
	// ErrCorruption is returned by the iterator when a record's CRC does
	// not match its payload.
	ErrCorruption = errors.New("wal: corruption detected")
	// ErrTruncatedRecord is returned by the iterator when a record's
	// header claims more bytes than remain before the log's write
	// position.
	ErrTruncatedRecord = errors.New("wal: truncated record")
)

// CorruptionError carries the byte offset of the bad record.
type CorruptionError struct{ Offset uint64 }

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("wal: corruption at offset %d", e.Offset)
}
func (e *CorruptionError) Is(target error) bool { return target == ErrCorruption }

// TruncatedRecordError carries the byte offset of the incomplete record.
type TruncatedRecordError struct{ Offset uint64 }

func (e *TruncatedRecordError) Error() string {
	return fmt.Sprintf("wal: truncated record at offset %d", e.Offset)
}
func (e *TruncatedRecordError) Is(target error) bool { return target == ErrTruncatedRecord }

// Wal is an append-only log backed by a memory-mapped file. It is not
// safe for concurrent use; exactly one goroutine (the matcher) may own
// a Wal at a time.
type Wal struct {
	file        *os.File
	mmap        []byte
	path        string
	writePos    uint64
	mappedSize  uint64
	encodeBuf   [protocol.NewOrderSize]byte
	recordCount uint64
}

// Open opens or creates a WAL file at path with the default initial
// mapping size, scanning any existing records to restore write position
// and record count.
func Open(path string) (*Wal, error) {
	return OpenWithSize(path, DefaultInitialSize)
}

// OpenWithSize opens or creates a WAL file with a custom initial mmap
// size, primarily for tests that want to exercise the remap path.
func OpenWithSize(path string, initialSize uint64) (*Wal, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("wal: stat %s: %w", path, err)
	}

	mappedSize := uint64(info.Size())
	if mappedSize < initialSize {
		if err := file.Truncate(int64(initialSize)); err != nil {
			file.Close()
			return nil, fmt.Errorf("wal: truncate %s: %w", path, err)
		}
		mappedSize = initialSize
	}

	mmap, err := unix.Mmap(int(file.Fd()), 0, int(mappedSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("wal: mmap %s: %w", path, err)
	}

	w := &Wal{
		file:       file,
		mmap:       mmap,
		path:       path,
		mappedSize: mappedSize,
	}

	w.scanToEnd()

	return w, nil
}

// RecordCount reports how many valid records have been appended.
func (w *Wal) RecordCount() uint64 { return w.recordCount }

// WritePos reports the current write offset, for tests.
func (w *Wal) WritePos() uint64 { return w.writePos }

// Close unmaps and closes the underlying file.
func (w *Wal) Close() error {
	if err := unix.Munmap(w.mmap); err != nil {
		return fmt.Errorf("wal: munmap: %w", err)
	}
	return w.file.Close()
}

// Append encodes cmd and writes it to the log, returning its 1-based
// record number.
func (w *Wal) Append(cmd domain.EngineCommand) (uint64, error) {
	var payloadLen int
	switch c := cmd.(type) {
	case domain.NewOrderCommand:
		if err := protocol.EncodeNewOrder(w.encodeBuf[:], c.Order); err != nil {
			return 0, fmt.Errorf("wal: encode new order: %w", err)
		}
		payloadLen = protocol.NewOrderSize
	case domain.CancelOrderCommand:
		if err := protocol.EncodeCancelOrder(w.encodeBuf[:], c.OrderID); err != nil {
			return 0, fmt.Errorf("wal: encode cancel order: %w", err)
		}
		payloadLen = protocol.CancelOrderSize
	default:
		return 0, fmt.Errorf("wal: unsupported command type %T", cmd)
	}

	recordSize := alignUp(headerSize + payloadLen)
	if err := w.ensureCapacity(uint64(recordSize)); err != nil {
		return 0, err
	}

	pos := int(w.writePos)

	crc := crc32.ChecksumIEEE(w.encodeBuf[:payloadLen])
	binary.LittleEndian.PutUint32(w.mmap[pos:pos+4], uint32(payloadLen))
	binary.LittleEndian.PutUint32(w.mmap[pos+4:pos+8], crc)
	copy(w.mmap[pos+headerSize:pos+headerSize+payloadLen], w.encodeBuf[:payloadLen])

	padStart := pos + headerSize + payloadLen
	padEnd := pos + recordSize
	for i := padStart; i < padEnd; i++ {
		w.mmap[i] = 0
	}

	w.writePos += uint64(recordSize)
	w.recordCount++

	return w.recordCount, nil
}

// TruncateTo rewinds the log to offset, zeroing everything after it and
// resetting the record count. Used by recovery when a trailing record
// fails validation.
func (w *Wal) TruncateTo(offset, recordCount uint64) {
	start, end := int(offset), int(w.writePos)
	if end > start {
		for i := start; i < end; i++ {
			w.mmap[i] = 0
		}
	}
	w.writePos = offset
	w.recordCount = recordCount
}

// FlushAsync requests the OS write back dirty mmap pages without
// blocking for the write to complete, matching the reference WAL's
// flush_async semantics: durability is best-effort on the hot path.
func (w *Wal) FlushAsync() error {
	return unix.Msync(w.mmap, unix.MS_ASYNC)
}

func (w *Wal) ensureCapacity(needed uint64) error {
	if w.writePos+needed <= w.mappedSize {
		return nil
	}

	newSize := w.mappedSize * 2
	if w.writePos+needed > newSize {
		newSize = w.writePos + needed
	}

	if err := w.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("wal: grow %s: %w", w.path, err)
	}

	if err := unix.Munmap(w.mmap); err != nil {
		return fmt.Errorf("wal: munmap for remap: %w", err)
	}

	mmap, err := unix.Mmap(int(w.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("wal: remap %s: %w", w.path, err)
	}

	w.mmap = mmap
	w.mappedSize = newSize
	return nil
}

// scanToEnd walks from the start of the mapped file to the first
// unwritten, truncated, or corrupt record, restoring writePos and
// recordCount to match the last known-good record.
func (w *Wal) scanToEnd() {
	var pos, count uint64
	fileLen := w.mappedSize

	for {
		if pos+headerSize > fileLen {
			break
		}

		p := int(pos)
		payloadLen := uint64(binary.LittleEndian.Uint32(w.mmap[p : p+4]))

		if payloadLen == 0 {
			break
		}

		recordSize := uint64(alignUp(int(headerSize + payloadLen)))
		if pos+recordSize > fileLen {
			break
		}

		storedCRC := binary.LittleEndian.Uint32(w.mmap[p+4 : p+8])
		computedCRC := crc32.ChecksumIEEE(w.mmap[p+headerSize : p+headerSize+int(payloadLen)])
		if storedCRC != computedCRC {
			break
		}

		pos += recordSize
		count++
	}

	w.writePos = pos
	w.recordCount = count
}

// Record pairs a 1-based record number with its decoded command.
type Record struct {
	Number  uint64
	Command domain.EngineCommand
}

// IterFrom returns every valid record after startRecord (1-based; pass
// 0 to read from the beginning) in order, stopping at the first
// corruption or truncation. It never reads past the log's current
// write position.
func (w *Wal) IterFrom(startRecord uint64) ([]Record, error) {
	var records []Record
	var readPos uint64
	var current uint64

	for readPos+headerSize <= w.writePos {
		p := int(readPos)
		payloadLen := uint64(binary.LittleEndian.Uint32(w.mmap[p : p+4]))
		if payloadLen == 0 {
			break
		}

		recordSize := uint64(alignUp(int(headerSize + payloadLen)))
		if readPos+recordSize > w.writePos {
			return records, &TruncatedRecordError{Offset: readPos}
		}

		storedCRC := binary.LittleEndian.Uint32(w.mmap[p+4 : p+8])
		payload := w.mmap[p+headerSize : p+headerSize+int(payloadLen)]
		computedCRC := crc32.ChecksumIEEE(payload)
		if storedCRC != computedCRC {
			return records, &CorruptionError{Offset: readPos}
		}

		readPos += recordSize
		current++

		if current <= startRecord {
			continue
		}

		cmd, err := protocol.DecodeMessage(payload)
		if err != nil {
			return records, fmt.Errorf("wal: decode record at offset %d: %w", p, err)
		}
		records = append(records, Record{Number: current, Command: cmd})
	}

	return records, nil
}

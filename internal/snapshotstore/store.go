// Package snapshotstore implements a narrow persistence interface:
// BeginTransaction/Append/Commit on write, and Count/Get/Iterate on
// read. It has no offset lookup of its own: mapping a byte offset to
// an entry is done by internal/plan.Locate over the start offsets the
// caller loads with Iterate. It is a concrete indexed flat-file implementation —
// fixed-size records behind a small header — deliberately simpler than
// a relational store, which this access pattern never needs.
//
// Pairs github.com/google/renameio for atomic temp-file+rename
// publication of an immutable image with golang.org/x/exp/mmap for
// zero-copy random-access reads of that image once published.
package snapshotstore

import (
	"encoding/binary"

	"github.com/google/renameio"
	"golang.org/x/exp/mmap"
	"golang.org/x/xerrors"
)

const (
	magic       = "TTPS" // TarTape Snapshot
	formatVers  = 1
	headerSize  = 64
	maxArcPath  = 255
	maxLinkName = 100

	// recordSize is the fixed width of one entry record: 2(arcLen) +
	// maxArcPath + 1(kind) + 8(size) + 4(mode) + 8(mtime) + 2(linkLen)
	// + maxLinkName + 8(startOffset) + 8(payloadBlocks).
	recordSize = 2 + maxArcPath + 1 + 8 + 4 + 8 + 2 + maxLinkName + 8 + 8
)

// Record is the on-disk shape of one entry, independent of the
// top-level tartape.Entry type so this package has no import-cycle
// dependency on it.
type Record struct {
	ArcPath       string
	Kind          uint8
	Size          uint64
	Mode          uint32
	Mtime         int64
	LinkTarget    string
	StartOffset   uint64
	PayloadBlocks uint64
}

func encodeRecord(r Record) ([recordSize]byte, error) {
	var buf [recordSize]byte
	if len(r.ArcPath) > maxArcPath {
		return buf, xerrors.Errorf("snapshotstore: arc_path %q exceeds %d bytes", r.ArcPath, maxArcPath)
	}
	if len(r.LinkTarget) > maxLinkName {
		return buf, xerrors.Errorf("snapshotstore: link target %q exceeds %d bytes", r.LinkTarget, maxLinkName)
	}
	off := 0
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(r.ArcPath)))
	off += 2
	copy(buf[off:off+maxArcPath], r.ArcPath)
	off += maxArcPath
	buf[off] = r.Kind
	off++
	binary.LittleEndian.PutUint64(buf[off:], r.Size)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], r.Mode)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], uint64(r.Mtime))
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(r.LinkTarget)))
	off += 2
	copy(buf[off:off+maxLinkName], r.LinkTarget)
	off += maxLinkName
	binary.LittleEndian.PutUint64(buf[off:], r.StartOffset)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], r.PayloadBlocks)
	return buf, nil
}

func decodeRecord(buf []byte) (Record, error) {
	if len(buf) != recordSize {
		return Record{}, xerrors.Errorf("snapshotstore: short record (%d bytes)", len(buf))
	}
	var r Record
	off := 0
	arcLen := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	if int(arcLen) > maxArcPath {
		return Record{}, &CorruptError{Reason: "arc_path length out of range"}
	}
	r.ArcPath = string(buf[off : off+int(arcLen)])
	off += maxArcPath
	r.Kind = buf[off]
	off++
	r.Size = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	r.Mode = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	r.Mtime = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	linkLen := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	if int(linkLen) > maxLinkName {
		return Record{}, &CorruptError{Reason: "link target length out of range"}
	}
	r.LinkTarget = string(buf[off : off+int(linkLen)])
	off += maxLinkName
	r.StartOffset = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	r.PayloadBlocks = binary.LittleEndian.Uint64(buf[off:])
	return r, nil
}

// CorruptError reports that a persisted snapshot failed its own
// internal consistency check on load.
type CorruptError struct{ Reason string }

func (e *CorruptError) Error() string { return "snapshot corrupt: " + e.Reason }

// Writer accumulates entries for a single recording and commits them
// atomically.
type Writer struct {
	path    string
	records []Record
}

// BeginTransaction starts a new snapshot write targeting path (e.g.
// root/.tartape/index.db).
func BeginTransaction(path string) *Writer {
	return &Writer{path: path}
}

// Append adds one entry record. The caller is responsible for
// appending in canonical order — the store does not re-sort.
func (w *Writer) Append(r Record) {
	w.records = append(w.records, r)
}

// Commit serializes the header and all records to a temp file in the
// same directory as path and renames it into place atomically: either
// the full file is visible or nothing is. The fingerprint is supplied
// by the caller (tartape.ComputeFingerprint) and stamped into the
// header as given; Commit returns only an error.
func (w *Writer) Commit(fingerprint [16]byte, rootMtimeAtT0 int64) error {
	t, err := renameio.TempFile("", w.path)
	if err != nil {
		return xerrors.Errorf("snapshotstore: open temp file: %w", err)
	}
	defer t.Cleanup()

	var hdr [headerSize]byte
	copy(hdr[0:4], magic)
	binary.LittleEndian.PutUint32(hdr[4:8], formatVers)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(w.records)))
	copy(hdr[12:28], fingerprint[:])
	binary.LittleEndian.PutUint64(hdr[28:36], uint64(rootMtimeAtT0))
	if _, err := t.Write(hdr[:]); err != nil {
		return xerrors.Errorf("snapshotstore: write header: %w", err)
	}
	for _, r := range w.records {
		buf, err := encodeRecord(r)
		if err != nil {
			return err
		}
		if _, err := t.Write(buf[:]); err != nil {
			return xerrors.Errorf("snapshotstore: write record: %w", err)
		}
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return xerrors.Errorf("snapshotstore: commit: %w", err)
	}
	return nil
}

// Store is a read-only, opened snapshot, backed by a memory-mapped
// flat file for random-access Get/Locate without loading the whole
// file into the Go heap.
type Store struct {
	r             *mmap.ReaderAt
	count         int
	fingerprint   [16]byte
	rootMtimeAtT0 int64
}

// Open loads and validates a snapshot previously written by Writer.
// It performs an internal consistency check, returning CorruptError on
// failure: magic, version, and file-length vs. declared record count
// must agree.
func Open(path string) (*Store, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("snapshotstore: open %s: %w", path, err)
	}
	var hdr [headerSize]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		r.Close()
		return nil, &CorruptError{Reason: "truncated header: " + err.Error()}
	}
	if string(hdr[0:4]) != magic {
		r.Close()
		return nil, &CorruptError{Reason: "bad magic"}
	}
	if binary.LittleEndian.Uint32(hdr[4:8]) != formatVers {
		r.Close()
		return nil, &CorruptError{Reason: "unsupported format version"}
	}
	count := int(binary.LittleEndian.Uint32(hdr[8:12]))
	var fp [16]byte
	copy(fp[:], hdr[12:28])
	rootMtime := int64(binary.LittleEndian.Uint64(hdr[28:36]))

	wantLen := int64(headerSize) + int64(count)*int64(recordSize)
	if int64(r.Len()) != wantLen {
		r.Close()
		return nil, &CorruptError{Reason: "record table length mismatch"}
	}

	return &Store{r: r, count: count, fingerprint: fp, rootMtimeAtT0: rootMtime}, nil
}

// Close releases the memory mapping.
func (s *Store) Close() error { return s.r.Close() }

// Count returns N, the number of entries.
func (s *Store) Count() int { return s.count }

// Fingerprint returns the fingerprint stamped at commit time.
func (s *Store) Fingerprint() [16]byte { return s.fingerprint }

// RootMtimeAtT0 returns the root directory's recorded mtime, excluded
// from integrity checks.
func (s *Store) RootMtimeAtT0() int64 { return s.rootMtimeAtT0 }

// Get returns the entry at index i.
func (s *Store) Get(i int) (Record, error) {
	if i < 0 || i >= s.count {
		return Record{}, xerrors.Errorf("snapshotstore: index %d out of range [0,%d)", i, s.count)
	}
	buf := make([]byte, recordSize)
	off := int64(headerSize) + int64(i)*int64(recordSize)
	if _, err := s.r.ReadAt(buf, off); err != nil {
		return Record{}, xerrors.Errorf("snapshotstore: read record %d: %w", i, err)
	}
	return decodeRecord(buf)
}

// Iterate returns every entry from index `from` onward, in order.
// Exposed as a slice rather than a channel: the player drives a
// simple for-loop over it and the whole snapshot already fits in
// memory-mapped pages, so a generator adds indirection without
// reducing memory use.
func (s *Store) Iterate(from int) ([]Record, error) {
	out := make([]Record, 0, s.count-from)
	for i := from; i < s.count; i++ {
		r, err := s.Get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

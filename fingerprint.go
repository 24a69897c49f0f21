package tartape

import (
	"crypto/md5"
	"encoding/binary"
	"hash"
	"io"
)

// Fingerprint is a content-addressable identifier of a Snapshot,
// stable across machines given identical inputs: two independent
// recordings of the same tree produce the same Fingerprint.
type Fingerprint [md5.Size]byte

// fingerprintWriter accumulates the canonical wire form of a snapshot
// — (arc_path, kind, size, mode, mtime, link_target) per entry, in
// canonical order — into a running hash, the same streaming-hash
// shape as hashing any serialized stream incrementally, using MD5
// because the fingerprint is defined as a 128-bit value.
type fingerprintWriter struct {
	h   hash.Hash
	buf [8]byte
}

func newFingerprintWriter() *fingerprintWriter {
	return &fingerprintWriter{h: md5.New()}
}

func (fw *fingerprintWriter) writeUint64(v uint64) {
	binary.LittleEndian.PutUint64(fw.buf[:], v)
	fw.h.Write(fw.buf[:])
}

func (fw *fingerprintWriter) writeInt64(v int64) {
	fw.writeUint64(uint64(v))
}

func (fw *fingerprintWriter) writeBytes(b []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	fw.h.Write(lenBuf[:])
	fw.h.Write(b)
}

func (fw *fingerprintWriter) writeEntry(e Entry) {
	fw.writeBytes([]byte(e.ArcPath))
	fw.h.Write([]byte{byte(e.Kind)})
	fw.writeUint64(e.Size)
	fw.writeUint64(uint64(e.Mode))
	fw.writeInt64(e.Mtime)
	fw.writeBytes([]byte(e.LinkTarget))
}

func (fw *fingerprintWriter) sum() Fingerprint {
	var fp Fingerprint
	copy(fp[:], fw.h.Sum(nil))
	return fp
}

// ComputeFingerprint hashes entries in the order given, which must
// already be the canonical order produced by internal/order — the
// fingerprint is defined over the canonical sequence, not an arbitrary
// one.
func ComputeFingerprint(entries []Entry) Fingerprint {
	fw := newFingerprintWriter()
	for _, e := range entries {
		fw.writeEntry(e)
	}
	return fw.sum()
}

// digestWriter accumulates an MD5 digest over emitted payload bytes
// only (never header or padding bytes). It is an
// io.Writer so the player can wrap a chunked copy loop with it exactly
// the way build.go wraps io.Copy with a hash.Hash.
type digestWriter struct {
	h hash.Hash
}

func newDigestWriter() *digestWriter {
	return &digestWriter{h: md5.New()}
}

func (d *digestWriter) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

func (d *digestWriter) sum() [16]byte {
	var out [16]byte
	copy(out[:], d.h.Sum(nil))
	return out
}

var _ io.Writer = (*digestWriter)(nil)

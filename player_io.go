package tartape

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/calumrakk/tartape/internal/ustar"
)

// errYieldStopped is an internal sentinel meaning the consumer broke
// out of the range loop (yield returned false), not a playback
// failure — Play must stop quietly rather than surface it as an
// error.
var errYieldStopped = errors.New("tartape: consumer stopped iteration")

// verifyIntegrity re-lstats the source path for entry and compares it
// against the promise recorded at snapshot time. Any mismatch is fatal and
// aborts the stream before any byte of this entry is emitted.
func (p *Player) verifyIntegrity(entry Entry) error {
	srcPath := p.sourcePath(entry)
	var st unix.Stat_t
	if err := unix.Lstat(srcPath, &st); err != nil {
		return &IoError{Path: srcPath, Err: err}
	}

	switch entry.Kind {
	case KindFile:
		size := uint64(st.Size)
		mtime := int64(st.Mtim.Sec)
		if size != entry.Size {
			return &IntegrityError{ArcPath: entry.ArcPath, Reason: "size changed"}
		}
		if mtime != entry.Mtime {
			return &IntegrityError{ArcPath: entry.ArcPath, Reason: "mtime changed"}
		}
	case KindDir:
		mtime := int64(st.Mtim.Sec)
		if mtime != entry.Mtime {
			return &IntegrityError{ArcPath: entry.ArcPath, Reason: "mtime changed"}
		}
	case KindSymlink:
		target, err := os.Readlink(srcPath)
		if err != nil {
			return &IoError{Path: srcPath, Err: err}
		}
		if target != entry.LinkTarget {
			return &IntegrityError{ArcPath: entry.ArcPath, Reason: "symlink target changed"}
		}
	}
	return nil
}

// sourcePath resolves entry's archive path against the player's
// source root for file-system access.
func (p *Player) sourcePath(entry Entry) string {
	rel := strings.TrimSuffix(entry.ArcPath, "/")
	return filepath.Join(p.sourceRoot, filepath.FromSlash(rel))
}

// encodeHeader renders entry's 512-byte USTAR header via the pure
// codec, applying the player's identity overrides (the configured
// uid/gid/uname/gname substitution) or the flattened defaults.
func (p *Player) encodeHeader(entry Entry) ([ustar.Len]byte, error) {
	name := entry.ArcPath
	prefix, suffix, ok := ustar.SplitPath(name)
	if !ok {
		return [ustar.Len]byte{}, &PathTooLongError{Path: entry.ArcPath}
	}
	h := ustar.Header{
		Name:     suffix,
		Mode:     entry.Mode,
		Uid:      p.opts.uid(),
		Gid:      p.opts.gid(),
		Size:     entry.Size,
		Mtime:    entry.Mtime,
		Typeflag: entry.Kind.typeflag(),
		Linkname: entry.LinkTarget,
		Uname:    p.opts.uname(),
		Gname:    p.opts.gname(),
	}
	return ustar.Encode(h, prefix)
}

// streamBody emits entry's file body as FILE_DATA chunks of
// p.opts.chunkSize bytes, optionally starting mid-body (local > 0,
// which implies digestDisabled per Play's caller). It returns the MD5
// of every emitted payload byte; the return value is meaningless when
// digestDisabled is true, since the caller discards it in that case:
// the digest is irrecoverable once bytes are skipped via seek, so
// FILE_END's md5 is optional when resuming mid-body.
func (p *Player) streamBody(ctx context.Context, yield func(Event, error) bool, entry Entry, local uint64, digestDisabled bool) ([16]byte, error) {
	srcPath := p.sourcePath(entry)
	f, err := os.Open(srcPath)
	if err != nil {
		return [16]byte{}, &IoError{Path: srcPath, Err: err}
	}
	defer f.Close()

	want := entry.Size
	if local > 0 {
		if _, err := f.Seek(int64(local), io.SeekStart); err != nil {
			return [16]byte{}, &IoError{Path: srcPath, Err: err}
		}
		want -= local
	}

	digest := newDigestWriter()
	chunkSize := p.opts.chunkSize()
	buf := make([]byte, chunkSize)
	var total uint64
	for total < want {
		if err := ctx.Err(); err != nil {
			return [16]byte{}, err
		}
		n := chunkSize
		if remaining := want - total; uint64(n) > remaining {
			n = int(remaining)
		}
		read, err := io.ReadFull(f, buf[:n])
		if read > 0 {
			chunk := append([]byte(nil), buf[:read]...)
			if !digestDisabled {
				digest.Write(chunk)
			}
			total += uint64(read)
			if !yield(Event{Kind: EventFileData, Data: chunk}, nil) {
				return [16]byte{}, errYieldStopped
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return [16]byte{}, &IntegrityError{ArcPath: entry.ArcPath, Reason: "file body shorter than promised size"}
			}
			return [16]byte{}, &IoError{Path: srcPath, Err: err}
		}
	}

	// Confirm there isn't more data than promised: a further byte of
	// read should report EOF immediately.
	var probe [1]byte
	if n, err := f.Read(probe[:]); n > 0 && err == nil {
		return [16]byte{}, &IntegrityError{ArcPath: entry.ArcPath, Reason: "file body longer than promised size"}
	}

	return digest.sum(), nil
}

// paddingLen returns the zero-padding length for a file of the given
// size, rounding its body up to the next 512-byte block.
func paddingLen(size uint64) uint64 {
	return (BlockSize - size%BlockSize) % BlockSize
}

// terminatorBytes returns the tail of the 1024-byte terminator
// starting at local, for resumption into the terminator region.
func terminatorBytes(local uint64) []byte {
	if local >= TerminatorLen {
		return nil
	}
	return make([]byte, TerminatorLen-local)
}

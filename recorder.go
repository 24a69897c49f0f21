package tartape

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/calumrakk/tartape/internal/order"
	"github.com/calumrakk/tartape/internal/plan"
	"github.com/calumrakk/tartape/internal/snapshotstore"
	"github.com/calumrakk/tartape/internal/walk"
)

// snapshotDirName is the engine's own metadata subdirectory beneath
// the tape root, excluded from the stream.
const snapshotDirName = ".tartape"

// snapshotFileName is the persisted index beneath snapshotDirName.
const snapshotFileName = "index.db"

// Recorder walks a root at T0 and produces a persisted Snapshot: the
// ordered Entry sequence, offset-planned, with its aggregate
// Fingerprint. It drives walk/order/plan/snapshotstore from one
// orchestrating call.
type Recorder struct {
	root string
	opts Options

	entries     []Entry
	fingerprint Fingerprint
	committed   bool
}

// NewRecorder prepares a Recorder for root. It does not touch the
// file system until Record is called.
func NewRecorder(root string, opts Options) (*Recorder, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, xerrors.Errorf("tartape: resolve root: %w", err)
	}
	return &Recorder{root: abs, opts: opts}, nil
}

// Record performs the walk, deterministic ordering, and offset
// planning, populating the in-memory entry list. It does not persist
// anything; call Commit afterward. Record may be called at most once.
func (r *Recorder) Record(ctx context.Context) error {
	if r.entries != nil {
		return xerrors.New("tartape: Record called twice on the same Recorder")
	}

	walkOpts := walk.Options{StrictUnsupportedKind: r.opts.StrictUnsupportedKind}
	candidates, err := walk.Walk(ctx, r.root, walkOpts)
	if err != nil {
		return wrapWalkErr(err)
	}

	order.Sort(len(candidates), func(i int) string { return candidates[i].ArcPath },
		func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

	entries := make([]Entry, len(candidates))
	footprints := make([]plan.Footprint, len(candidates))
	for i, c := range candidates {
		e := Entry{
			ArcPath:    c.ArcPath,
			Kind:       convertKind(c.Kind),
			Size:       c.Size,
			Mode:       c.Mode,
			Mtime:      c.Mtime,
			LinkTarget: c.LinkTarget,
		}
		if e.Kind == KindFile {
			e.PayloadBlocks = ceilBlocks(e.Size)
		}
		entries[i] = e
		footprints[i] = plan.Footprint{Size: e.Size, PayloadBlocks: e.PayloadBlocks}
	}

	starts, _ := plan.Plan(footprints)
	for i := range entries {
		entries[i].StartOffset = starts[i]
	}

	r.entries = entries
	return nil
}

// Entries returns the recorded, ordered, offset-planned entries.
// Valid only after Record has returned successfully.
func (r *Recorder) Entries() []Entry {
	return r.entries
}

// Commit persists the recorded entries to root/.tartape/index.db
// atomically (temp file + rename) and returns the snapshot's
// fingerprint. Commit may be called at most once; once it returns
// successfully the snapshot is immutable for the lifetime of the tape
// once recorded.
func (r *Recorder) Commit() (Fingerprint, error) {
	if r.entries == nil {
		return Fingerprint{}, xerrors.New("tartape: Commit called before Record")
	}
	if r.committed {
		return Fingerprint{}, xerrors.New("tartape: Commit called twice")
	}

	fp := ComputeFingerprint(r.entries)

	snapshotDir := filepath.Join(r.root, snapshotDirName)
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return Fingerprint{}, xerrors.Errorf("tartape: prepare %s: %w", snapshotDir, err)
	}

	w := snapshotstore.BeginTransaction(filepath.Join(snapshotDir, snapshotFileName))
	for _, e := range r.entries {
		w.Append(snapshotstore.Record{
			ArcPath:       e.ArcPath,
			Kind:          uint8(e.Kind),
			Size:          e.Size,
			Mode:          e.Mode,
			Mtime:         e.Mtime,
			LinkTarget:    e.LinkTarget,
			StartOffset:   e.StartOffset,
			PayloadBlocks: e.PayloadBlocks,
		})
	}

	var st unix.Stat_t
	if err := unix.Lstat(r.root, &st); err != nil {
		return Fingerprint{}, xerrors.Errorf("tartape: stat root: %w", err)
	}
	rootMtime := int64(st.Mtim.Sec)

	if err := w.Commit(fp, rootMtime); err != nil {
		return Fingerprint{}, xerrors.Errorf("tartape: commit snapshot: %w", err)
	}

	r.fingerprint = fp
	r.committed = true
	return fp, nil
}

func convertKind(k walk.Kind) Kind {
	switch k {
	case walk.KindDir:
		return KindDir
	case walk.KindSymlink:
		return KindSymlink
	default:
		return KindFile
	}
}

func wrapWalkErr(err error) error {
	switch e := err.(type) {
	case *walk.PathTooLongError:
		return &PathTooLongError{Path: e.Path}
	case *walk.DirectoryNameTooLongError:
		return &DirectoryNameTooLongError{Path: e.Path}
	case *walk.UnsupportedKindError:
		return &UnsupportedKindError{Path: e.Path}
	default:
		return &IoError{Path: "", Err: err}
	}
}


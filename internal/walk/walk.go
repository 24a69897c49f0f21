// Package walk performs the depth-first traversal and classification
// step of the recording pipeline. It has no dependency on the
// top-level tartape package — it returns its own lightweight
// Candidate values, which the recorder converts to tartape.Entry,
// keeping the traversal ignorant of the public package's types.
package walk

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Kind mirrors tartape.Kind's three values in the same order so
// conversion at the call site is a plain numeric cast.
type Kind uint8

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
)

// Candidate is one discovered, classified, validated path, not yet
// ordered or offset-planned.
type Candidate struct {
	ArcPath    string
	Kind       Kind
	Size       uint64
	Mode       uint32
	Mtime      int64
	LinkTarget string

	// supported is false for lstat kinds other than regular
	// file/dir/symlink; Walk drops these unless opts.StrictUnsupportedKind.
	supported bool
}

// PathTooLongError and DirectoryNameTooLongError mirror the top-level
// error types by name so the recorder can convert them into the
// public error kinds without this
// package importing the top-level package (avoiding the import cycle
// noted above). The recorder type-switches on these.
type PathTooLongError struct{ Path string }

func (e *PathTooLongError) Error() string { return "path too long: " + e.Path }

type DirectoryNameTooLongError struct{ Path string }

func (e *DirectoryNameTooLongError) Error() string { return "directory component too long: " + e.Path }

type UnsupportedKindError struct{ Path string }

func (e *UnsupportedKindError) Error() string { return "unsupported file kind: " + e.Path }

const (
	maxArcPathLen    = 255
	maxNameSplitLen  = 100
	maxPrefixLen     = 155
	maxLinkTargetLen = 100
)

// snapshotDirName is the engine's own metadata subdirectory, excluded
// from the stream.
const snapshotDirName = ".tartape"

// Options controls walker leniency; mirrors the relevant fields of
// tartape.Options without importing it.
type Options struct {
	StrictUnsupportedKind bool
}

// Walk enumerates root depth-first and returns every FILE/DIR/SYMLINK
// candidate beneath it (never the root itself), lstat-based so
// symlinks are classified without being followed. lstat calls for
// already-discovered paths are fanned out across a bounded worker pool
// with errgroup, since the deterministic orderer sorts by arc_path
// afterward regardless of discovery order.
func Walk(ctx context.Context, root string, opts Options) ([]Candidate, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return xerrors.Errorf("walk %s: %w", path, err)
		}
		if path == root {
			return nil // root itself is never an entry
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return xerrors.Errorf("relativize %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)
		if rel == snapshotDirName || strings.HasPrefix(rel, snapshotDirName+"/") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, len(paths))
	g, _ := errgroup.WithContext(ctx)
	const maxWorkers = 16
	sem := make(chan struct{}, maxWorkers)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			c, err := classify(root, p)
			if err != nil {
				return err
			}
			if !c.supported {
				if opts.StrictUnsupportedKind {
					return &UnsupportedKindError{Path: c.ArcPath}
				}
			}
			candidates[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := candidates[:0]
	for _, c := range candidates {
		if !c.supported {
			continue // dropped: unsupported kind, lenient mode
		}
		out = append(out, c)
	}

	if err := validatePaths(out, opts); err != nil {
		return nil, err
	}

	// Discovery order is otherwise unspecified; internal/order imposes
	// the canonical byte-lexicographic arc_path ordering downstream, so
	// Walk itself makes no ordering guarantee.
	return out, nil
}

func mtimeOf(st unix.Stat_t) int64 {
	return int64(st.Mtim.Sec)
}

func classify(root, path string) (Candidate, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return Candidate{}, xerrors.Errorf("lstat %s: %w", path, err)
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return Candidate{}, xerrors.Errorf("relativize %s: %w", path, err)
	}
	arcPath := filepath.ToSlash(rel)

	mode := st.Mode
	switch mode & unix.S_IFMT {
	case unix.S_IFREG:
		return Candidate{
			ArcPath:   arcPath,
			Kind:      KindFile,
			Size:      uint64(st.Size),
			Mode:      uint32(mode) & 07777,
			Mtime:     mtimeOf(st),
			supported: true,
		}, nil
	case unix.S_IFDIR:
		return Candidate{
			ArcPath:   arcPath + "/",
			Kind:      KindDir,
			Mode:      uint32(mode) & 07777,
			Mtime:     mtimeOf(st),
			supported: true,
		}, nil
	case unix.S_IFLNK:
		target, err := os.Readlink(path)
		if err != nil {
			return Candidate{}, xerrors.Errorf("readlink %s: %w", path, err)
		}
		return Candidate{
			ArcPath:    arcPath,
			Kind:       KindSymlink,
			Mode:       uint32(mode) & 07777,
			Mtime:      mtimeOf(st),
			LinkTarget: target,
			supported:  true,
		}, nil
	default:
		// Sockets, pipes, devices: silently dropped unless the caller
		// requested strict mode, in which case Walk reports this path.
		return Candidate{ArcPath: arcPath, supported: false}, nil
	}
}

func validatePaths(cands []Candidate, opts Options) error {
	for _, c := range cands {
		if len(c.ArcPath) > maxArcPathLen {
			return &PathTooLongError{Path: c.ArcPath}
		}
		switch c.Kind {
		case KindDir:
			// A directory's full arc_path, trailing slash included, must
			// fit in the 100-byte name field outright: unlike files,
			// directories get no 155-byte prefix split.
			if len(c.ArcPath) > maxNameSplitLen {
				return &DirectoryNameTooLongError{Path: c.ArcPath}
			}
		case KindFile, KindSymlink:
			if _, _, ok := splitPath(c.ArcPath); !ok {
				return &PathTooLongError{Path: c.ArcPath}
			}
			if c.Kind == KindSymlink && len(c.LinkTarget) > maxLinkTargetLen {
				return &PathTooLongError{Path: c.ArcPath}
			}
		}
	}
	return nil
}

// splitPath mirrors internal/ustar.SplitPath's rule without importing
// it, so the walker can fail fast at recording time rather than
// discovering an unsplittable path only when the codec runs.
func splitPath(arcPath string) (prefix, name string, ok bool) {
	if len(arcPath) <= maxNameSplitLen {
		return "", arcPath, true
	}
	for i := len(arcPath) - 1; i >= 0; i-- {
		if arcPath[i] != '/' {
			continue
		}
		suffix := arcPath[i+1:]
		head := arcPath[:i]
		if len(suffix) <= maxNameSplitLen && len(head) <= maxPrefixLen && len(suffix) > 0 {
			return head, suffix, true
		}
	}
	return "", "", false
}

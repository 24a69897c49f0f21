package tartape

import (
	"context"
	"iter"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/calumrakk/tartape/internal/plan"
	"github.com/calumrakk/tartape/internal/snapshotstore"
)

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	EventFileStart EventKind = iota
	EventFileData
	EventFileEnd
	EventTapeCompleted
)

// Event is one unit of playback output. Only the fields relevant to
// Kind are populated.
type Event struct {
	Kind EventKind

	// FILE_START / FILE_END
	Entry       Entry
	StartOffset uint64 // FILE_START only
	EndOffset   uint64 // FILE_END only
	Resumed     bool   // FILE_START only

	// FILE_DATA
	Data []byte

	// FILE_END: present only when the entry was played in full, i.e.
	// not resumed mid-body or mid-padding.
	MD5 *[16]byte
}

// Tape is a loaded, read-only snapshot: the ordered entries with their
// planned offsets, ready to drive playback. Discover loads it;
// nothing about a Tape ever mutates after that.
type Tape struct {
	store        *snapshotstore.Store
	entries      []Entry
	startOffsets []uint64
	footprints   []plan.Footprint
	length       uint64
}

// Discover loads the snapshot persisted under root/.tartape/index.db.
// It returns *SnapshotCorruptError if the snapshot file fails the
// consistency check made when it is opened.
func Discover(root string) (*Tape, error) {
	path := filepath.Join(root, snapshotDirName, snapshotFileName)
	store, err := snapshotstore.Open(path)
	if err != nil {
		if ce, ok := err.(*snapshotstore.CorruptError); ok {
			return nil, &SnapshotCorruptError{Reason: ce.Reason}
		}
		return nil, xerrors.Errorf("tartape: discover %s: %w", path, err)
	}

	records, err := store.Iterate(0)
	if err != nil {
		store.Close()
		return nil, xerrors.Errorf("tartape: read snapshot records: %w", err)
	}

	entries := make([]Entry, len(records))
	footprints := make([]plan.Footprint, len(records))
	startOffsets := make([]uint64, len(records))
	for i, rec := range records {
		entries[i] = Entry{
			ArcPath:       rec.ArcPath,
			Kind:          Kind(rec.Kind),
			Size:          rec.Size,
			Mode:          rec.Mode,
			Mtime:         rec.Mtime,
			LinkTarget:    rec.LinkTarget,
			StartOffset:   rec.StartOffset,
			PayloadBlocks: rec.PayloadBlocks,
		}
		footprints[i] = plan.Footprint{Size: rec.Size, PayloadBlocks: rec.PayloadBlocks}
		startOffsets[i] = rec.StartOffset
	}

	var length uint64 = TerminatorLen
	if n := len(entries); n > 0 {
		length = entries[n-1].EndOffset() + TerminatorLen
	}

	return &Tape{store: store, entries: entries, startOffsets: startOffsets, footprints: footprints, length: length}, nil
}

// Close releases the snapshot's underlying memory mapping.
func (t *Tape) Close() error { return t.store.Close() }

// Entries returns the tape's ordered, offset-planned entries.
func (t *Tape) Entries() []Entry { return t.entries }

// Length returns L, the total stream length including the terminator.
func (t *Tape) Length() uint64 { return t.length }

// Fingerprint returns the fingerprint stamped at recording time.
func (t *Tape) Fingerprint() Fingerprint {
	return Fingerprint(t.store.Fingerprint())
}

// Player drives playback of a Tape against a (possibly re-mounted)
// source tree, verifying each entry against its T0 promise and
// emitting the byte stream as a lazy Event sequence.
type Player struct {
	tape       *Tape
	sourceRoot string
	opts       Options
}

// NewPlayer returns a Player for tape, reading file bodies from
// sourceRoot (ordinarily the same root the Recorder walked, but
// playback may target a different mount of the same tree).
func NewPlayer(tape *Tape, sourceRoot string, opts Options) *Player {
	return &Player{tape: tape, sourceRoot: sourceRoot, opts: opts}
}

// Play returns a lazy, single-pass, pull-driven sequence of Event
// starting at the given absolute stream offset. The sequence is
// range-over-func (iter.Seq2): a consumer's `for event, err := range
// p.Play(ctx, 0) { ... break ... }` both pulls events one at a time and
// gives cooperative cancellation for free — breaking out of the loop,
// or the context being canceled, stops the generator on its next yield
// and releases the current open file handle.
func (p *Player) Play(ctx context.Context, startOffset uint64) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		t := p.tape
		if startOffset > t.length {
			yield(Event{}, &InvalidOffsetError{Offset: startOffset, Length: t.length})
			return
		}
		if startOffset == t.length {
			yield(Event{Kind: EventTapeCompleted}, nil)
			return
		}

		located, ok := plan.Locate(t.startOffsets, t.footprints, t.length, startOffset)
		if !ok {
			yield(Event{}, &InvalidOffsetError{Offset: startOffset, Length: t.length})
			return
		}

		n := len(t.entries)
		if located.Index >= n {
			// Inside the terminator, past the last entry.
			tail := terminatorBytes(located.Local)
			if len(tail) > 0 && !yield(Event{Kind: EventFileData, Data: tail}, nil) {
				return
			}
			yield(Event{Kind: EventTapeCompleted}, nil)
			return
		}

		i0 := located.Index
		for i := i0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				yield(Event{}, err)
				return
			}

			entry := t.entries[i]
			region, local := plan.RegionHeader, uint64(0)
			if i == i0 {
				region, local = located.Region, located.Local
			}
			resumed := i == i0 && (region != plan.RegionHeader || local != 0)

			if err := p.verifyIntegrity(entry); err != nil {
				yield(Event{}, err)
				return
			}

			if !yield(Event{Kind: EventFileStart, Entry: entry, StartOffset: entry.StartOffset, Resumed: resumed}, nil) {
				return
			}

			digestDisabled := resumed && (region == plan.RegionBody || region == plan.RegionPadding)

			if region == plan.RegionHeader {
				hdrBytes, err := p.encodeHeader(entry)
				if err != nil {
					yield(Event{}, err)
					return
				}
				slice := hdrBytes[local:]
				if len(slice) > 0 && !yield(Event{Kind: EventFileData, Data: slice}, nil) {
					return
				}
				region, local = plan.RegionBody, 0
			}

			var md5 [16]byte
			haveMD5 := false
			if entry.Kind == KindFile && region == plan.RegionBody {
				sum, err := p.streamBody(ctx, yield, entry, local, digestDisabled)
				if err != nil {
					if err == errYieldStopped {
						return
					}
					yield(Event{}, err)
					return
				}
				if !digestDisabled {
					md5, haveMD5 = sum, true
				}
				region, local = plan.RegionPadding, 0
			}

			if region == plan.RegionPadding {
				pad := paddingLen(entry.Size)
				remaining := pad - local
				if remaining > 0 && !yield(Event{Kind: EventFileData, Data: make([]byte, remaining)}, nil) {
					return
				}
			}

			var md5Ptr *[16]byte
			if haveMD5 {
				md5Ptr = &md5
			}
			if !yield(Event{Kind: EventFileEnd, Entry: entry, EndOffset: entry.EndOffset(), MD5: md5Ptr}, nil) {
				return
			}
		}

		if !yield(Event{Kind: EventFileData, Data: make([]byte, TerminatorLen)}, nil) {
			return
		}
		yield(Event{Kind: EventTapeCompleted}, nil)
	}
}

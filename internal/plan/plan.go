// Package plan implements the offset planner: a single left-to-right
// pass that assigns each entry its start_offset, and a binary search
// that maps any absolute stream offset back to (index, region,
// local_offset). A running cursor advanced by each preceding member's
// on-disk footprint.
package plan

// Region identifies which part of an entry's footprint a byte offset
// falls into.
type Region int

const (
	RegionHeader Region = iota
	RegionBody
	RegionPadding
	RegionTerminator
)

const (
	headerLen     = 512
	blockSize     = 512
	terminatorLen = 1024
)

// Footprint is the minimal per-entry shape the planner needs. Size is
// 0 and PayloadBlocks is 0 for non-file entries; PayloadBlocks is
// ceil(Size/512) for files, so Size <= PayloadBlocks*blockSize always,
// with the difference being the zero-padding region.
type Footprint struct {
	Size          uint64
	PayloadBlocks uint64
}

// Plan assigns StartOffset (returned in parallel with the input) to
// each entry in order and returns the total stream length L including
// the terminator.
func Plan(footprints []Footprint) (startOffsets []uint64, length uint64) {
	startOffsets = make([]uint64, len(footprints))
	var cursor uint64
	for i, f := range footprints {
		startOffsets[i] = cursor
		cursor += headerLen + f.PayloadBlocks*blockSize
	}
	return startOffsets, cursor + terminatorLen
}

// Located is the result of mapping a byte offset into the stream.
type Located struct {
	Index  int // entry index; may equal len(entries) if offset is in the terminator
	Region Region
	Local  uint64 // offset within Region
}

// Locate maps offset into (index, region, local) via binary search on
// startOffsets. length is L, the total stream length
// (startOffsets[last] + header + payload blocks + 1024). offset must
// be in [0, length]; offset == length is valid and denotes the exact
// end of stream (caller emits only TAPE_COMPLETED).
func Locate(startOffsets []uint64, footprints []Footprint, length uint64, offset uint64) (Located, bool) {
	if offset > length {
		return Located{}, false
	}
	n := len(startOffsets)
	if n == 0 {
		return Located{Index: 0, Region: RegionTerminator, Local: offset}, true
	}
	terminatorStart := length - terminatorLen
	if offset >= terminatorStart {
		return Located{Index: n, Region: RegionTerminator, Local: offset - terminatorStart}, true
	}

	// Binary search for the last entry whose StartOffset <= offset.
	lo, hi := 0, n-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if startOffsets[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	i := lo
	local := offset - startOffsets[i]
	size := footprints[i].Size

	switch {
	case local < headerLen:
		return Located{Index: i, Region: RegionHeader, Local: local}, true
	case local < headerLen+size:
		return Located{Index: i, Region: RegionBody, Local: local - headerLen}, true
	default:
		return Located{Index: i, Region: RegionPadding, Local: local - headerLen - size}, true
	}
}

package tartape

// Options configures a Recorder or Player. The zero value is usable: a
// 64 KiB chunk size, lenient filtering (unsupported path kinds are
// silently dropped), and no uid/gid/uname/gname overrides (identity
// fields are flattened to the USTAR defaults: 0/0/"root"/"root").
type Options struct {
	// ChunkSize is the buffer size used when streaming file bodies
	// during playback. Zero means DefaultChunkSize.
	ChunkSize int

	// StrictUnsupportedKind makes the walker return UnsupportedKindError
	// instead of silently skipping sockets, pipes, and devices.
	StrictUnsupportedKind bool

	// OverrideUID, if non-nil, is written to the header's uid field
	// instead of 0.
	OverrideUID *uint32
	// OverrideGID, if non-nil, is written to the header's gid field
	// instead of 0.
	OverrideGID *uint32
	// OverrideUname, if non-nil, replaces the "root" uname field.
	OverrideUname *string
	// OverrideGname, if non-nil, replaces the "root" gname field.
	OverrideGname *string
}

// DefaultChunkSize is the body read/emit chunk size used when
// Options.ChunkSize is zero.
const DefaultChunkSize = 64 * 1024

func (o Options) chunkSize() int {
	if o.ChunkSize > 0 {
		return o.ChunkSize
	}
	return DefaultChunkSize
}

func (o Options) uid() uint32 {
	if o.OverrideUID != nil {
		return *o.OverrideUID
	}
	return 0
}

func (o Options) gid() uint32 {
	if o.OverrideGID != nil {
		return *o.OverrideGID
	}
	return 0
}

func (o Options) uname() string {
	if o.OverrideUname != nil {
		return *o.OverrideUname
	}
	return "root"
}

func (o Options) gname() string {
	if o.OverrideGname != nil {
		return *o.OverrideGname
	}
	return "root"
}

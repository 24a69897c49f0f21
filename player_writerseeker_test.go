package tartape

import (
	"context"
	"io"
	"testing"

	"github.com/orcaman/writerseeker"
)

// TestPlayStreamWritesToWriteSeeker exercises play(0) against an
// io.WriteSeeker-shaped sink, the same seekable-destination assumption
// a real upload sink would make, using an in-memory buffer instead of
// a real file so the test needs no disk I/O beyond the source tree
// itself.
func TestPlayStreamWritesToWriteSeeker(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "hello world"}, []string{"dir"})

	tape := recordAndDiscover(t, root, Options{})
	defer tape.Close()
	player := NewPlayer(tape, root, Options{})

	var ws writerseeker.WriterSeeker
	var total int64
	for ev, err := range player.Play(context.Background(), 0) {
		if err != nil {
			t.Fatalf("Play: %v", err)
		}
		if ev.Kind != EventFileData {
			continue
		}
		n, err := ws.Write(ev.Data)
		if err != nil {
			t.Fatalf("write to sink: %v", err)
		}
		total += int64(n)
	}

	if uint64(total) != tape.Length() {
		t.Fatalf("wrote %d bytes to sink, want L=%d", total, tape.Length())
	}

	full, err := io.ReadAll(ws.Reader())
	if err != nil {
		t.Fatalf("read back sink contents: %v", err)
	}
	if int64(len(full)) != total {
		t.Fatalf("read back %d bytes, want %d", len(full), total)
	}
	tail := full[len(full)-TerminatorLen:]
	for i, b := range tail {
		if b != 0 {
			t.Fatalf("terminator byte %d = %d, want 0", i, b)
		}
	}
}

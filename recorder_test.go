package tartape

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeTree(t *testing.T, root string, files map[string]string, dirs []string) {
	t.Helper()
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range files {
		if err := os.MkdirAll(filepath.Dir(filepath.Join(root, name)), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRecordAndCommitEmptyDir(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, nil, []string{"D"})

	r, err := NewRecorder(root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Record(context.Background()); err != nil {
		t.Fatalf("Record: %v", err)
	}
	entries := r.Entries()
	if len(entries) != 1 || entries[0].Kind != KindDir || entries[0].ArcPath != "D/" {
		t.Fatalf("entries = %+v, want a single D/ directory entry", entries)
	}
	if entries[0].StartOffset != 0 {
		t.Fatalf("start_offset = %d, want 0", entries[0].StartOffset)
	}

	fp, err := r.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if fp != ComputeFingerprint(entries) {
		t.Fatalf("Commit fingerprint != ComputeFingerprint(entries)")
	}

	if _, err := os.Stat(filepath.Join(root, snapshotDirName, snapshotFileName)); err != nil {
		t.Fatalf("snapshot not persisted: %v", err)
	}
}

func TestRecordTwiceFails(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "x"}, nil)

	r, err := NewRecorder(root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Record(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.Record(context.Background()); err == nil {
		t.Fatalf("second Record call: want error")
	}
}

func TestCommitTwiceFails(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "x"}, nil)

	r, err := NewRecorder(root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Record(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Commit(); err == nil {
		t.Fatalf("second Commit call: want error")
	}
}

func TestRecordDeterministicFingerprint(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "hello", "sub/b.txt": "world"}, nil)

	record := func() []Entry {
		r, err := NewRecorder(root, Options{})
		if err != nil {
			t.Fatal(err)
		}
		if err := r.Record(context.Background()); err != nil {
			t.Fatal(err)
		}
		return r.Entries()
	}

	entries1 := record()
	entries2 := record()
	if diff := cmp.Diff(entries1, entries2); diff != "" {
		t.Fatalf("two independent recordings of the same tree produced different entry lists (-first +second):\n%s", diff)
	}
	if ComputeFingerprint(entries1) != ComputeFingerprint(entries2) {
		t.Fatalf("two independent recordings of the same tree produced different fingerprints")
	}
}

func TestRecordOffsetArithmetic(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "hello", "b.txt": "0123456789"}, nil)

	r, err := NewRecorder(root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Record(context.Background()); err != nil {
		t.Fatal(err)
	}
	entries := r.Entries()
	if entries[0].StartOffset != 0 {
		t.Fatalf("entries[0].StartOffset = %d, want 0", entries[0].StartOffset)
	}
	for i := 1; i < len(entries); i++ {
		want := entries[i-1].StartOffset + HeaderLen + entries[i-1].PayloadBlocks*BlockSize
		if entries[i].StartOffset != want {
			t.Fatalf("entries[%d].StartOffset = %d, want %d", i, entries[i].StartOffset, want)
		}
	}
}

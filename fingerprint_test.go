package tartape

import "testing"

func TestComputeFingerprintDeterministic(t *testing.T) {
	entries := []Entry{
		{ArcPath: "a.txt", Kind: KindFile, Size: 5, Mode: 0644, Mtime: 100},
		{ArcPath: "b/", Kind: KindDir, Mode: 0755, Mtime: 200},
	}
	fp1 := ComputeFingerprint(entries)
	fp2 := ComputeFingerprint(entries)
	if fp1 != fp2 {
		t.Fatalf("ComputeFingerprint is not deterministic: %x != %x", fp1, fp2)
	}
}

func TestComputeFingerprintSensitiveToOrder(t *testing.T) {
	a := []Entry{
		{ArcPath: "a.txt", Kind: KindFile, Size: 1, Mtime: 1},
		{ArcPath: "b.txt", Kind: KindFile, Size: 2, Mtime: 2},
	}
	b := []Entry{a[1], a[0]}
	if ComputeFingerprint(a) == ComputeFingerprint(b) {
		t.Fatalf("fingerprint must depend on order")
	}
}

func TestComputeFingerprintSensitiveToEveryField(t *testing.T) {
	base := Entry{ArcPath: "a.txt", Kind: KindFile, Size: 1, Mode: 0644, Mtime: 1}
	variants := []Entry{
		{ArcPath: "b.txt", Kind: KindFile, Size: 1, Mode: 0644, Mtime: 1},
		{ArcPath: "a.txt", Kind: KindDir, Size: 1, Mode: 0644, Mtime: 1},
		{ArcPath: "a.txt", Kind: KindFile, Size: 2, Mode: 0644, Mtime: 1},
		{ArcPath: "a.txt", Kind: KindFile, Size: 1, Mode: 0600, Mtime: 1},
		{ArcPath: "a.txt", Kind: KindFile, Size: 1, Mode: 0644, Mtime: 2},
		{ArcPath: "a.txt", Kind: KindFile, Size: 1, Mode: 0644, Mtime: 1, LinkTarget: "x"},
	}
	baseFp := ComputeFingerprint([]Entry{base})
	for i, v := range variants {
		if ComputeFingerprint([]Entry{v}) == baseFp {
			t.Fatalf("variant %d did not change the fingerprint: %+v", i, v)
		}
	}
}

func TestDigestWriterMatchesMD5OfPayload(t *testing.T) {
	d := newDigestWriter()
	d.Write([]byte("hello "))
	d.Write([]byte("world"))
	got := d.sum()

	want := newDigestWriter()
	want.Write([]byte("hello world"))
	if got != want.sum() {
		t.Fatalf("chunked writes must hash identically to one write")
	}
}

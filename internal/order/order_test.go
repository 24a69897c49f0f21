package order

import "testing"

func TestLessByteLexicographic(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"a", "b", true},
		{"b", "a", false},
		{"a", "a", false},
		{"A", "a", true}, // 'A' (0x41) < 'a' (0x61), no case folding
		{"dir/", "dir/child", true},
		{"dir/child", "dir0", true}, // '/' (0x2F) < '0' (0x30)
	}
	for _, c := range cases {
		if got := Less(c.a, c.b); got != c.want {
			t.Errorf("Less(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestSortOrdersByArcPath(t *testing.T) {
	paths := []string{"z.txt", "dir/", "dir/a.txt", "a.txt"}
	Sort(len(paths), func(i int) string { return paths[i] },
		func(i, j int) { paths[i], paths[j] = paths[j], paths[i] })

	want := []string{"a.txt", "dir/", "dir/a.txt", "z.txt"}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("got %v, want %v", paths, want)
		}
	}
}

func TestSortDirectoryPrecedesChildren(t *testing.T) {
	paths := []string{"dir/child", "dir/"}
	Sort(len(paths), func(i int) string { return paths[i] },
		func(i, j int) { paths[i], paths[j] = paths[j], paths[i] })
	if paths[0] != "dir/" || paths[1] != "dir/child" {
		t.Fatalf("directory did not sort before its own children: %v", paths)
	}
}

package magnet

import "testing"

const sample = "13600b294191fc92924bb3ce4b969c1e7e2bab8f4c93c3fc6d0a51733df3c060"

func TestIsMagnet(t *testing.T) {
	cases := map[string]bool{
		sample: true,
		"123":  false,
		"x3600b294191fc92924bb3ce4b969c1e7e2bab8f4c93c3fc6d0a51733df3c060": false,
		"": false,
	}
	for value, want := range cases {
		if got := IsMagnet(value); got != want {
			t.Fatalf("IsMagnet(%q) = %v, want %v", value, got, want)
		}
	}
}

func TestPathSplitsIntoSegments(t *testing.T) {
	got, err := Path(sample)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	want := "13600b294191fc92/924bb3ce4b969c1e/7e2bab8f4c93c3fc/6d0a51733df3c060"
	if got != want {
		t.Fatalf("Path = %q, want %q", got, want)
	}
	if _, err := Path("123"); err == nil {
		t.Fatalf("expected error for short magnet")
	}
}

func TestNormalizeAndShort(t *testing.T) {
	if got := Normalize("  ABCDEF "); got != "abcdef" {
		t.Fatalf("Normalize = %q", got)
	}
	if got := Short(sample); got != "13600b294191fc92…" {
		t.Fatalf("Short = %q", got)
	}
	if got := Short("m1"); got != "m1" {
		t.Fatalf("Short(m1) = %q", got)
	}
}

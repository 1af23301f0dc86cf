package storage

import "testing"

func TestSplitNumbered(t *testing.T) {
	cases := []struct {
		stem string
		base string
		n    int
	}{
		{"doc", "doc", 0},
		{"doc (1)", "doc", 1},
		{"doc (12)", "doc", 12},
		{"doc (a)", "doc (a)", 0},
		{"doc(1)", "doc(1)", 0},
	}
	for _, tc := range cases {
		base, n := SplitNumbered(tc.stem)
		if base != tc.base || n != tc.n {
			t.Fatalf("SplitNumbered(%q) = (%q, %d), want (%q, %d)", tc.stem, base, n, tc.base, tc.n)
		}
	}
}

func TestNextAvailablePath(t *testing.T) {
	cases := []struct {
		target string
		used   []string
		want   string
	}{
		{"report.pdf", []string{"report.pdf"}, "report (1).pdf"},
		{"report.pdf", []string{"report.pdf", "report (1).pdf"}, "report (2).pdf"},
		{"report.pdf", []string{"report.pdf", "report (2).pdf"}, "report (1).pdf"},
		{"report (1).pdf", []string{"report.pdf", "report (1).pdf"}, "report (2).pdf"},
		{"docs/report.pdf", []string{"docs/report.pdf", "other/report.pdf"}, "docs/report (1).pdf"},
		{"noext", []string{"noext"}, "noext (1)"},
		{"a.tar.gz", []string{"a.tar.gz"}, "a.tar (1).gz"},
	}
	for _, tc := range cases {
		if got := NextAvailablePath(tc.target, tc.used); got != tc.want {
			t.Fatalf("NextAvailablePath(%q, %v) = %q, want %q", tc.target, tc.used, got, tc.want)
		}
	}
}

func TestStemPattern(t *testing.T) {
	if got := StemPattern("docs/report.pdf"); got != `docs/report%.pdf` {
		t.Fatalf("got %q", got)
	}
	if got := StemPattern("pct_50%.txt"); got != `pct\_50\%%.txt` {
		t.Fatalf("escaping wrong: %q", got)
	}
	// A numbered target probes its base stem.
	if got := StemPattern("report (3).pdf"); got != `report%.pdf` {
		t.Fatalf("got %q", got)
	}
}

// Package storage is the gateway side of the blob store: a shared streaming
// HTTP client to the worker plus the duplicate-name resolution applied before
// an upload lands.
package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var numberedNameRE = regexp.MustCompile(`^(.*) \((\d+)\)$`)

// SplitNumbered decomposes a file stem into its base and its duplicate
// number. "doc" is (doc, 0); "doc (3)" is (doc, 3).
func SplitNumbered(stem string) (string, int) {
	m := numberedNameRE.FindStringSubmatch(stem)
	if m == nil {
		return stem, 0
	}
	var n int
	fmt.Sscanf(m[2], "%d", &n)
	return m[1], n
}

// NextAvailablePath resolves a duplicate the way macOS Finder does: keep the
// directory and extension, append " (n)" to the stem, probing from 1 and
// skipping numbers already in use. used holds the live paths that share the
// stem.
func NextAvailablePath(target string, used []string) string {
	dir, file := path.Split(target)
	ext := path.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	base, _ := SplitNumbered(stem)

	taken := map[int]bool{}
	for _, p := range used {
		d, f := path.Split(p)
		if d != dir || path.Ext(f) != ext {
			continue
		}
		s := strings.TrimSuffix(f, path.Ext(f))
		b, n := SplitNumbered(s)
		if b == base {
			taken[n] = true
		}
	}
	for n := 1; ; n++ {
		if !taken[n] {
			return dir + fmt.Sprintf("%s (%d)%s", base, n, ext)
		}
	}
}

// StemPattern returns the LIKE pattern matching every numbered sibling of a
// path, for the registry probe feeding NextAvailablePath.
func StemPattern(target string) string {
	dir, file := path.Split(target)
	ext := path.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	base, _ := SplitNumbered(stem)
	return likeEscape(dir+base) + "%" + likeEscape(ext)
}

func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

package fileindex

import (
	"path"
	"strings"
)

// CanonicalKey case-folds and cleans a file path into the index key.
//
// Examples:
//   - /Docs/Report.PDF -> /docs/report.pdf
//   - docs//a/../b.txt -> /docs/b.txt
func CanonicalKey(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.ToLower(path.Clean(p))
}

// FileName returns the last element of a canonical key.
//
// Examples:
//   - /docs/report.pdf -> report.pdf
//   - / -> ""
func FileName(key string) string {
	if key == "/" {
		return ""
	}
	return path.Base(key)
}

// Directory returns the parent directory of a canonical key.
//
// Examples:
//   - /docs/reports/q1.pdf -> /docs/reports
//   - /q1.pdf -> /
func Directory(key string) string {
	return path.Dir(key)
}

// Ancestors returns every directory above a canonical key, nearest first, up to and including the root.
//
// Examples:
//   - /a/b/c.txt -> [/a/b /a /]
//   - /c.txt -> [/]
func Ancestors(key string) []string {
	var out []string
	dir := path.Dir(key)
	for {
		out = append(out, dir)
		if dir == "/" || dir == "." {
			return out
		}
		dir = path.Dir(dir)
	}
}

// Level returns the depth of a canonical key below the root.
//
// Examples:
//   - /c.txt -> 1
//   - /a/b/c.txt -> 3
func Level(key string) int {
	if key == "/" {
		return 0
	}
	return strings.Count(key, "/")
}

// Reverse returns s with its characters in reverse order.
// Reversed fields let a leading wildcard become a trailing one.
func Reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// reverseAll reverses each element of in.
func reverseAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = Reverse(s)
	}
	return out
}

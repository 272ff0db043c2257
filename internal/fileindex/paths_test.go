package fileindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/Docs/Report.PDF", "/docs/report.pdf"},
		{"docs//a/../b.txt", "/docs/b.txt"},
		{"  /a/b.txt  ", "/a/b.txt"},
		{`C:\Temp\X.txt`, "/c:/temp/x.txt"},
		{"/a/b/", "/a/b"},
		{"/", "/"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalKey(tt.input))
		})
	}
}

func TestFileNameAndDirectory(t *testing.T) {
	tests := []struct {
		key  string
		name string
		dir  string
	}{
		{"/docs/reports/q1.pdf", "q1.pdf", "/docs/reports"},
		{"/q1.pdf", "q1.pdf", "/"},
		{"/", "", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.name, FileName(tt.key))
			assert.Equal(t, tt.dir, Directory(tt.key))
		})
	}
}

func TestAncestors(t *testing.T) {
	assert.Equal(t, []string{"/a/b", "/a", "/"}, Ancestors("/a/b/c.txt"))
	assert.Equal(t, []string{"/"}, Ancestors("/c.txt"))
}

func TestLevel(t *testing.T) {
	assert.Equal(t, 0, Level("/"))
	assert.Equal(t, 1, Level("/c.txt"))
	assert.Equal(t, 3, Level("/a/b/c.txt"))
}

func TestReverse(t *testing.T) {
	assert.Equal(t, "fdp.1q", Reverse("q1.pdf"))
	assert.Equal(t, "", Reverse(""))
	assert.Equal(t, "ßäü", Reverse("üäß"))
	assert.Equal(t, []string{"b/a/", "/"}, reverseAll([]string{"/a/b", "/"}))
}

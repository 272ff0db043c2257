package fileindex

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sha1n/mcp-fileindex-server/internal/domain"
)

// fieldValues is an insertion-ordered multi-map from field name to its values.
type fieldValues struct {
	names  []string
	values map[string][]string
}

func newFieldValues() *fieldValues {
	return &fieldValues{values: make(map[string][]string)}
}

func (f *fieldValues) add(name string, values ...string) {
	if len(values) == 0 {
		return
	}
	if _, ok := f.values[name]; !ok {
		f.names = append(f.names, name)
	}
	f.values[name] = append(f.values[name], values...)
}

// metadataFields groups metadata values by normalized field name.
// Keys are trimmed, so " tag" and "tag" contribute to the same field.
func metadataFields(metadata domain.Metadata) *fieldValues {
	fields := newFieldValues()
	for _, k := range metadata.Keys() {
		name := strings.TrimSpace(k)
		if name == "" || domain.SystemFields[name] {
			continue
		}
		fields.add(name, domain.Values(metadata[k])...)
	}
	return fields
}

// buildDocument derives the indexed document for a canonical key.
func buildDocument(key string, metadata domain.Metadata, now time.Time) map[string]interface{} {
	name := FileName(key)
	dir := Directory(key)
	ancestors := Ancestors(key)
	size := contentLength(metadata)

	doc := map[string]interface{}{
		domain.FieldKey:               key,
		domain.FieldFileName:          name,
		domain.FieldFileNameReversed:  Reverse(name),
		domain.FieldDirectory:         dir,
		domain.FieldDirectoryReversed: Reverse(dir),
		domain.FieldAncestor:          ancestors,
		domain.FieldAncestorReversed:  reverseAll(ancestors),
		domain.FieldLevel:             float64(Level(key)),
		domain.FieldModified:          now.UTC().Format(domain.ModifiedTimestampLayout),
		domain.FieldSize:              fmt.Sprintf("%020d", size),
		domain.FieldSizeNumeric:       float64(size),
	}

	fields := metadataFields(metadata)
	for _, name := range fields.names {
		values := fields.values[name]
		if len(values) == 1 {
			doc[name] = values[0]
		} else {
			doc[name] = values
		}
	}

	return doc
}

// contentLength returns the file size recorded in metadata, or 0 when absent or malformed.
func contentLength(metadata domain.Metadata) int64 {
	values := domain.Values(metadata[domain.MetadataContentLength])
	if len(values) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(values[0]), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

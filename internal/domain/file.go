package domain

import (
	"context"
	"fmt"
	"sort"
	"strconv"
)

// Position identifies a point in the primary store's append-only change history.
// Positions are totally ordered; the zero value precedes every recorded change.
type Position uint64

// String renders the position in decimal form.
func (p Position) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

// Metadata is the caller-supplied metadata attached to a file.
// Values are scalars (string, bool, numbers) or slices of scalars; a slice
// produces one indexed value per element under the same field name.
type Metadata map[string]any

// Record is a single file entry streamed from the primary store.
type Record struct {
	// Path is the file path as stored by the primary store.
	// Example: "/docs/reports/2024/q1.pdf"
	Path string

	// Metadata holds the file metadata at Position.
	Metadata Metadata

	// Position is the change that produced this version of the record.
	Position Position
}

// Accessor is the read-only view of the primary record store consumed by the index.
type Accessor interface {
	// GetLastPosition returns the high-water mark of applied changes.
	GetLastPosition(ctx context.Context) (Position, error)

	// GetRecordsAfter returns up to maxCount live records whose position is
	// strictly greater than after, ordered by ascending position.
	GetRecordsAfter(ctx context.Context, after Position, maxCount int) ([]Record, error)
}

// Indexed field names for consistent references in mappings, documents and queries.
const (
	FieldKey                = "key"
	FieldFileName           = "fileName"
	FieldFileNameReversed   = "rfileName"
	FieldDirectory          = "directory"
	FieldDirectoryReversed  = "rdirectory"
	FieldAncestor           = "ancestor"
	FieldAncestorReversed   = "rancestor"
	FieldLevel              = "level"
	FieldModified           = "modified"
	FieldSize               = "size"
	FieldSizeNumeric        = "size_numeric"
	MetadataContentLength   = "Content-Length"
	ModifiedTimestampLayout = "20060102150405.000"
)

// SystemFields lists the fields produced by the indexer itself.
// Metadata entries with one of these names are not indexed.
var SystemFields = map[string]bool{
	FieldKey:               true,
	FieldFileName:          true,
	FieldFileNameReversed:  true,
	FieldDirectory:         true,
	FieldDirectoryReversed: true,
	FieldAncestor:          true,
	FieldAncestorReversed:  true,
	FieldLevel:             true,
	FieldModified:          true,
	FieldSize:              true,
	FieldSizeNumeric:       true,
}

// NumericFields lists the fields indexed as numbers; they sort and range numerically.
var NumericFields = map[string]bool{
	FieldLevel:       true,
	FieldSizeNumeric: true,
}

// Values flattens a metadata value into its string representations.
// Nil values produce no output.
func Values(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, Values(e)...)
		}
		return out
	case fmt.Stringer:
		return []string{t.String()}
	default:
		return []string{fmt.Sprint(t)}
	}
}

// Keys returns the metadata keys in ascending order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

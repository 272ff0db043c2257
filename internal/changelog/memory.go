// Package changelog provides primary record stores that expose the
// domain.Accessor contract consumed by the file index.
package changelog

import (
	"context"
	"sort"
	"sync"

	"github.com/sha1n/mcp-fileindex-server/internal/domain"
)

// Memory is an in-process change log. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	last    domain.Position
	records map[string]domain.Record
}

var _ domain.Accessor = (*Memory)(nil)

// NewMemory creates an empty in-memory change log.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]domain.Record)}
}

// Put stores or replaces the metadata for path.
func (m *Memory) Put(path string, metadata domain.Metadata) domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last++
	m.records[path] = domain.Record{Path: path, Metadata: metadata, Position: m.last}
	return m.last
}

// Remove deletes the record for path, appending a change either way.
func (m *Memory) Remove(path string) domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last++
	delete(m.records, path)
	return m.last
}

// Len returns the number of live records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// GetLastPosition implements domain.Accessor.
func (m *Memory) GetLastPosition(context.Context) (domain.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, nil
}

// GetRecordsAfter implements domain.Accessor.
func (m *Memory) GetRecordsAfter(_ context.Context, after domain.Position, maxCount int) ([]domain.Record, error) {
	if maxCount <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Record
	for _, r := range m.records {
		if r.Position > after {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	if len(out) > maxCount {
		out = out[:maxCount]
	}
	return out, nil
}

package fileindex

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	index "github.com/blevesearch/bleve_index_api"
)

// snapshot is a published reader plus the references held on it.
// The holder owns one reference while the snapshot is current.
type snapshot struct {
	reader     index.IndexReader
	generation uint64
	refs       atomic.Int32
}

func (s *snapshot) tryRetain() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops one reference and closes the reader when it was the last.
func (s *snapshot) release() error {
	if s.refs.Add(-1) != 0 {
		return nil
	}
	if err := s.reader.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot %d: %w", s.generation, err)
	}
	return nil
}

// SearcherHolder publishes the current read snapshot. Swaps are a single
// pointer exchange; a retired snapshot stays open until its last handle is released.
type SearcherHolder struct {
	current    atomic.Pointer[snapshot]
	generation atomic.Uint64
	logger     *slog.Logger
}

// NewSearcherHolder creates an empty holder.
func NewSearcherHolder(logger *slog.Logger) *SearcherHolder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearcherHolder{logger: logger}
}

// Set makes reader the current snapshot and returns its generation.
// The holder takes ownership of reader.
func (h *SearcherHolder) Set(reader index.IndexReader) uint64 {
	s := &snapshot{reader: reader, generation: h.generation.Add(1)}
	s.refs.Store(1)

	old := h.current.Swap(s)
	if old != nil {
		if err := old.release(); err != nil {
			h.logger.Warn("Failed to close retired snapshot", "error", err)
		}
	}

	snapshotGeneration.Set(float64(s.generation))
	return s.generation
}

// Acquire returns a handle on the current snapshot. The caller must Release it.
func (h *SearcherHolder) Acquire() (*SearcherHandle, error) {
	for {
		s := h.current.Load()
		if s == nil {
			return nil, ErrNotInitialized
		}
		if s.tryRetain() {
			return &SearcherHandle{snap: s, logger: h.logger}, nil
		}
		// retired between Load and tryRetain
	}
}

// Use runs fn with the current snapshot and releases it afterwards.
func (h *SearcherHolder) Use(fn func(r index.IndexReader) error) error {
	handle, err := h.Acquire()
	if err != nil {
		return err
	}
	defer handle.Release()
	return fn(handle.Reader())
}

// Generation returns the generation of the current snapshot, or 0 when empty.
func (h *SearcherHolder) Generation() uint64 {
	if s := h.current.Load(); s != nil {
		return s.generation
	}
	return 0
}

// Close retires the current snapshot. Outstanding handles stay valid.
func (h *SearcherHolder) Close() error {
	old := h.current.Swap(nil)
	if old == nil {
		return nil
	}
	return old.release()
}

// SearcherHandle is a scoped reference to a snapshot.
type SearcherHandle struct {
	snap     *snapshot
	logger   *slog.Logger
	released atomic.Bool
}

// Reader returns the snapshot reader. It must not be used after Release.
func (h *SearcherHandle) Reader() index.IndexReader {
	return h.snap.reader
}

// Generation returns the generation of the held snapshot.
func (h *SearcherHandle) Generation() uint64 {
	return h.snap.generation
}

// Release drops the reference. Extra calls are no-ops.
func (h *SearcherHandle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	if err := h.snap.release(); err != nil {
		h.logger.Warn("Failed to close retired snapshot", "error", err)
	}
}

package fileindex

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	index "github.com/blevesearch/bleve_index_api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingReader records Close calls; no other method is used by the holder.
type countingReader struct {
	index.IndexReader
	closed atomic.Int32
}

func (r *countingReader) Close() error {
	r.closed.Add(1)
	return nil
}

type failingReader struct {
	index.IndexReader
}

func (failingReader) Close() error {
	return errors.New("segment busy")
}

func TestSearcherHandle_ReleaseLogsToHolderLogger(t *testing.T) {
	var buf bytes.Buffer
	h := NewSearcherHolder(slog.New(slog.NewTextHandler(&buf, nil)))
	h.Set(failingReader{})

	handle, err := h.Acquire()
	require.NoError(t, err)
	require.NoError(t, h.Close())
	assert.Empty(t, buf.String())

	handle.Release()
	assert.Contains(t, buf.String(), "Failed to close retired snapshot")
	assert.Contains(t, buf.String(), "segment busy")
}

func TestSearcherHolder_EmptyAcquire(t *testing.T) {
	h := NewSearcherHolder(nil)

	_, err := h.Acquire()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, uint64(0), h.Generation())
}

func TestSearcherHolder_SetAdvancesGeneration(t *testing.T) {
	h := NewSearcherHolder(nil)

	g1 := h.Set(&countingReader{})
	g2 := h.Set(&countingReader{})

	assert.Equal(t, uint64(1), g1)
	assert.Equal(t, uint64(2), g2)
	assert.Equal(t, g2, h.Generation())
}

func TestSearcherHolder_RetiredSnapshotClosesAfterLastRelease(t *testing.T) {
	h := NewSearcherHolder(nil)
	first := &countingReader{}
	h.Set(first)

	handle, err := h.Acquire()
	require.NoError(t, err)
	assert.Same(t, first, handle.Reader())

	h.Set(&countingReader{})
	assert.Equal(t, int32(0), first.closed.Load(), "snapshot in use must stay open")

	handle.Release()
	assert.Equal(t, int32(1), first.closed.Load())

	handle.Release()
	assert.Equal(t, int32(1), first.closed.Load(), "extra release must be a no-op")
}

func TestSearcherHolder_UnusedSnapshotClosesOnSwap(t *testing.T) {
	h := NewSearcherHolder(nil)
	first := &countingReader{}
	h.Set(first)
	h.Set(&countingReader{})

	assert.Equal(t, int32(1), first.closed.Load())
}

func TestSearcherHolder_Close(t *testing.T) {
	h := NewSearcherHolder(nil)
	r := &countingReader{}
	h.Set(r)

	handle, err := h.Acquire()
	require.NoError(t, err)

	require.NoError(t, h.Close())
	assert.Equal(t, int32(0), r.closed.Load())

	_, err = h.Acquire()
	assert.ErrorIs(t, err, ErrNotInitialized)

	handle.Release()
	assert.Equal(t, int32(1), r.closed.Load())
	assert.NoError(t, h.Close())
}

func TestSearcherHolder_Use(t *testing.T) {
	h := NewSearcherHolder(nil)
	r := &countingReader{}
	h.Set(r)

	var seen index.IndexReader
	require.NoError(t, h.Use(func(ir index.IndexReader) error {
		seen = ir
		return nil
	}))
	assert.Same(t, r, seen)

	require.NoError(t, h.Close())
	assert.Equal(t, int32(1), r.closed.Load())
}

func TestSearcherHolder_ConcurrentSwapAndAcquire(t *testing.T) {
	h := NewSearcherHolder(nil)
	readers := make([]*countingReader, 50)
	for i := range readers {
		readers[i] = &countingReader{}
	}
	h.Set(readers[0])

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				handle, err := h.Acquire()
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				if c := handle.Reader().(*countingReader).closed.Load(); c != 0 {
					t.Errorf("acquired a closed snapshot")
				}
				handle.Release()
			}
		}()
	}
	for _, r := range readers[1:] {
		h.Set(r)
	}
	wg.Wait()
	require.NoError(t, h.Close())

	for i, r := range readers {
		assert.Equal(t, int32(1), r.closed.Load(), "reader %d", i)
	}
}

package fileindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/index/scorch"
	"github.com/blevesearch/bleve/v2/index/scorch/mergeplan"

	"github.com/sha1n/mcp-fileindex-server/internal/domain"
)

// Indexer is the single writer of the index. Index, Delete and rebuilds are
// mutually exclusive; each call commits durably and publishes a new snapshot
// before returning.
type Indexer struct {
	mu         sync.Mutex
	writer     bleve.Index
	holder     *SearcherHolder
	accessor   domain.Accessor
	markerPath string
	batchSize  int
	now        func() time.Time
	logger     *slog.Logger
}

// NewIndexer creates an indexer without a writer; install one before use.
func NewIndexer(holder *SearcherHolder, accessor domain.Accessor, markerPath string, batchSize int, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		holder:     holder,
		accessor:   accessor,
		markerPath: markerPath,
		batchSize:  batchSize,
		now:        time.Now,
		logger:     logger,
	}
}

// install swaps the writer, waiting for any in-flight write. A nil writer detaches it.
func (i *Indexer) install(w bleve.Index) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.writer = w
}

// Index replaces the document for key with one built from metadata.
func (i *Indexer) Index(ctx context.Context, key string, metadata domain.Metadata) error {
	k := CanonicalKey(key)
	if k == "" {
		return ErrEmptyKey
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.writer == nil {
		return ErrNotInitialized
	}

	pos, err := i.accessor.GetLastPosition(ctx)
	if err != nil {
		return fmt.Errorf("failed to read primary store position: %w", err)
	}

	batch := i.writer.NewBatch()
	batch.Delete(k)
	if err := batch.Index(k, buildDocument(k, metadata, i.now())); err != nil {
		return fmt.Errorf("failed to build document %s: %w", k, err)
	}
	batch.SetInternal(positionKey, encodePosition(pos))

	if err := i.commit("index", batch); err != nil {
		return err
	}
	DocumentsIndexed.Inc()

	return i.publish()
}

// Delete removes the document for key and compacts the index.
// Deleting an unknown key still commits the current position.
func (i *Indexer) Delete(ctx context.Context, key string) error {
	k := CanonicalKey(key)
	if k == "" {
		return ErrEmptyKey
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.writer == nil {
		return ErrNotInitialized
	}

	pos, err := i.accessor.GetLastPosition(ctx)
	if err != nil {
		return fmt.Errorf("failed to read primary store position: %w", err)
	}

	batch := i.writer.NewBatch()
	batch.Delete(k)
	batch.SetInternal(positionKey, encodePosition(pos))

	if err := i.commit("delete", batch); err != nil {
		return err
	}
	DocumentsDeleted.Inc()

	i.compact(ctx)

	return i.publish()
}

// rebuild streams every record from the primary store into the index, one
// commit per page. It returns the number of documents indexed.
// The final commit records the store position observed before streaming began,
// or the last record's position if that is higher.
func (i *Indexer) rebuild(ctx context.Context) (count int, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.writer == nil {
		return 0, ErrNotInitialized
	}

	start, err := i.accessor.GetLastPosition(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read primary store position: %w", err)
	}

	var after domain.Position
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		records, err := i.accessor.GetRecordsAfter(ctx, after, i.batchSize)
		if err != nil {
			return count, fmt.Errorf("failed to read records after %s: %w", after, err)
		}
		if len(records) == 0 {
			break
		}

		last := records[len(records)-1].Position
		if last <= after {
			return count, fmt.Errorf("primary store returned non-increasing position %s after %s", last, after)
		}

		batch := i.writer.NewBatch()
		now := i.now()
		indexed := 0
		for _, r := range records {
			k := CanonicalKey(r.Path)
			if k == "" {
				i.logger.Warn("Skipping record with empty path", "position", r.Position)
				continue
			}
			if err := batch.Index(k, buildDocument(k, r.Metadata, now)); err != nil {
				return count, fmt.Errorf("failed to build document %s: %w", k, err)
			}
			indexed++
		}
		batch.SetInternal(positionKey, encodePosition(last))

		if err := i.commit("rebuild", batch); err != nil {
			return count, err
		}
		count += indexed
		after = last
	}

	if start > after {
		batch := i.writer.NewBatch()
		batch.SetInternal(positionKey, encodePosition(start))
		if err := i.commit("rebuild", batch); err != nil {
			return count, err
		}
	}

	DocumentsIndexed.Add(float64(count))
	return count, nil
}

// commit executes batch between setting and clearing the writing marker.
// A failed commit leaves the marker for the next start to find.
func (i *Indexer) commit(op string, batch *bleve.Batch) error {
	start := time.Now()

	if err := os.WriteFile(i.markerPath, []byte(op+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write commit marker: %w", err)
	}
	if err := i.writer.Batch(batch); err != nil {
		return fmt.Errorf("failed to commit %s batch: %w", op, err)
	}
	if err := os.Remove(i.markerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear commit marker: %w", err)
	}

	CommitDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return nil
}

// compact merges segments so deleted documents stop occupying space.
// Failures are logged; the delete itself is already durable.
func (i *Indexer) compact(ctx context.Context) {
	adv, err := i.writer.Advanced()
	if err != nil {
		i.logger.Warn("Failed to access index for compaction", "error", err)
		return
	}
	s, ok := adv.(*scorch.Scorch)
	if !ok {
		return
	}
	if err := s.ForceMerge(ctx, &mergeplan.SingleSegmentMergePlanOptions); err != nil {
		i.logger.Warn("Index compaction failed", "error", err)
	}
}

// publish opens a snapshot of the writer's current state and makes it current.
func (i *Indexer) publish() error {
	adv, err := i.writer.Advanced()
	if err != nil {
		return fmt.Errorf("failed to access index: %w", err)
	}
	reader, err := adv.Reader()
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	i.holder.Set(reader)
	return nil
}

package fileindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/index/scorch"
	"github.com/blevesearch/bleve/v2/mapping"
	index "github.com/blevesearch/bleve_index_api"
	"github.com/google/uuid"

	"github.com/sha1n/mcp-fileindex-server/internal/config"
	"github.com/sha1n/mcp-fileindex-server/internal/domain"
)

const (
	// CrashMarkerFilename exists in the data directory while an instance is running.
	CrashMarkerFilename = "fileindex.running"

	// LockFilename guards the data directory against a second live instance.
	LockFilename = "index.lock"

	// VersionFilename holds the on-disk format tag of the index directory.
	VersionFilename = "index.version"

	// WritingMarkerFilename exists in the index directory while a commit is in flight.
	WritingMarkerFilename = "write.inprogress"

	// IndexVersion is the format tag written by this build.
	IndexVersion = "fileindex/1/scorch"

	indexMetaFilename = "index_meta.json"

	maxOpenAttempts = 2
)

type serviceState int

const (
	stateNew serviceState = iota
	stateReady
	stateClosed
)

// Service owns one on-disk index: it opens, validates, recovers and resets it,
// and exposes the write, query and backup operations over it.
type Service struct {
	settings config.IndexSettings
	accessor domain.Accessor
	mapping  *mapping.IndexMappingImpl
	logger   *slog.Logger

	holder   *SearcherHolder
	indexer  *Indexer
	queries  *QueryExecutor
	lock     *FileLock
	backup   *BackupCoordinator
	writer   bleve.Index
	crash    *os.File
	instance string

	resetOnUncleanShutdown bool

	state serviceState
	mu    sync.RWMutex
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger used by the service and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a service for the index described by settings. The
// index is not touched until Initialize.
func NewService(settings config.IndexSettings, accessor domain.Accessor, opts ...Option) (*Service, error) {
	if accessor == nil {
		return nil, fmt.Errorf("accessor cannot be nil")
	}
	if err := config.ValidateIndexSettings(&settings); err != nil {
		return nil, err
	}

	m, err := CreateIndexMapping()
	if err != nil {
		return nil, err
	}

	s := &Service{
		settings: settings,
		accessor: accessor,
		mapping:  m,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.holder = NewSearcherHolder(s.logger)
	s.indexer = NewIndexer(s.holder, accessor,
		filepath.Join(settings.IndexDir(), WritingMarkerFilename),
		settings.RebuildBatchSize, s.logger)
	s.queries, err = NewQueryExecutor(s.holder, m, settings.QueryCacheSize, s.logger)
	if err != nil {
		return nil, err
	}
	s.lock = NewFileLock(filepath.Join(settings.DataDir, LockFilename))
	s.backup = NewBackupCoordinator(settings.IndexDir(), s.logger)

	return s, nil
}

// Initialize opens the index, validating it against the primary store and
// resetting it if it cannot be trusted. It must not run concurrently with
// itself and succeeds at most once per Service.
func (s *Service) Initialize(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateReady:
		return nil
	case stateClosed:
		return ErrClosed
	}

	indexDir := s.settings.IndexDir()
	if err := os.MkdirAll(indexDir, 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	if err := s.acquireOwnership(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if terr := s.teardown(); terr != nil {
				s.logger.Warn("Failed to release index after failed initialization", "error", terr)
			}
		}
	}()

	if err := s.openWithRecovery(ctx); err != nil {
		return err
	}

	s.indexer.install(s.writer)
	if err := s.indexer.publish(); err != nil {
		return err
	}

	s.state = stateReady
	count, cerr := s.writer.DocCount()
	if cerr != nil {
		s.logger.Warn("Failed to count indexed documents", "error", cerr)
	}
	s.logger.Info("File index ready", "dir", indexDir, "documents", count, "instance", s.instance)
	return nil
}

// acquireOwnership takes the owner lock and replaces the crash marker.
func (s *Service) acquireOwnership() error {
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire index lock: %w", err)
	}
	if !locked {
		return ErrIndexLocked
	}
	markerPath := filepath.Join(s.settings.DataDir, CrashMarkerFilename)
	if _, err := os.Stat(markerPath); err == nil {
		s.logger.Warn("Previous run did not shut down cleanly", "marker", markerPath)
		s.resetOnUncleanShutdown = true
	}

	f, err := os.OpenFile(markerPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		_ = s.lock.Unlock()
		return fmt.Errorf("failed to create crash marker: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		_ = f.Close()
		_ = s.lock.Unlock()
		return fmt.Errorf("failed to write crash marker: %w", err)
	}
	s.crash = f
	return nil
}

// openWithRecovery tries to open and validate the index, resetting it on the
// second failure. An interrupted commit after an unclean shutdown goes straight
// to the reset.
func (s *Service) openWithRecovery(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= maxOpenAttempts; attempt++ {
		err := s.tryOpen(ctx)
		if err == nil {
			err = isIndexStateValid(ctx, s.writer, s.accessor)
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrIndexLocked) || ctx.Err() != nil {
			return err
		}

		lastErr = err
		s.closeWriter()
		if errors.Is(err, ErrUncleanShutdown) {
			break
		}
		if attempt < maxOpenAttempts {
			s.logger.Warn("Index failed validation, retrying", "attempt", attempt, "error", err)
		}
	}

	s.logger.Warn("Resetting index", "error", lastErr)
	if err := s.reset(ctx); err != nil {
		return fmt.Errorf("index reset failed after %v: %w", lastErr, err)
	}
	return nil
}

// tryOpen opens the index directory, creating and building the index when the directory is empty.
func (s *Service) tryOpen(ctx context.Context) error {
	indexDir := s.settings.IndexDir()

	empty, err := isEmptyDir(indexDir)
	if err != nil {
		return err
	}
	if empty {
		return s.create(ctx)
	}

	if err := checkVersion(indexDir); err != nil {
		return err
	}
	if err := checkIndexMeta(indexDir); err != nil {
		return err
	}

	w, err := bleve.OpenUsing(indexDir, s.runtimeConfig())
	if err != nil {
		return corruption("open", err)
	}
	s.writer = w

	markerPath := filepath.Join(indexDir, WritingMarkerFilename)
	_, statErr := os.Stat(markerPath)
	interrupted := statErr == nil
	if interrupted && s.resetOnUncleanShutdown {
		return ErrUncleanShutdown
	}

	if err := checkStructure(ctx, w); err != nil {
		return err
	}
	if interrupted {
		s.logger.Info("Clearing interrupted commit marker", "path", markerPath)
		if err := os.Remove(markerPath); err != nil {
			return fmt.Errorf("failed to clear commit marker: %w", err)
		}
	}

	s.instance, err = readInstance(w)
	return err
}

// create initializes a new index in the (empty) index directory and builds it from the primary store.
func (s *Service) create(ctx context.Context) error {
	indexDir := s.settings.IndexDir()

	w, err := bleve.NewUsing(indexDir, s.mapping, scorch.Name, scorch.Name, s.runtimeConfig())
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	s.writer = w

	s.instance = uuid.NewString()
	batch := w.NewBatch()
	batch.SetInternal(instanceKey, []byte(s.instance))
	batch.SetInternal(positionKey, encodePosition(0))
	if err := w.Batch(batch); err != nil {
		return fmt.Errorf("failed to initialize index metadata: %w", err)
	}

	s.indexer.install(w)
	defer s.indexer.install(nil)

	count, err := s.indexer.rebuild(ctx)
	if err != nil {
		return fmt.Errorf("failed to build index from primary store: %w", err)
	}

	// Written last: a directory without a version tag is an unfinished build
	if err := os.WriteFile(filepath.Join(indexDir, VersionFilename), []byte(IndexVersion+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write version tag: %w", err)
	}
	s.logger.Info("Built index from primary store", "documents", count, "instance", s.instance)
	return nil
}

// reset deletes the index directory and rebuilds the index from the primary store.
func (s *Service) reset(ctx context.Context) error {
	IndexResets.Inc()
	s.closeWriter()

	indexDir := s.settings.IndexDir()
	if err := os.RemoveAll(indexDir); err != nil {
		return fmt.Errorf("failed to delete index directory: %w", err)
	}
	if err := os.MkdirAll(indexDir, 0755); err != nil {
		return fmt.Errorf("failed to recreate index directory: %w", err)
	}
	if err := s.create(ctx); err != nil {
		s.closeWriter()
		return err
	}
	if err := isIndexStateValid(ctx, s.writer, s.accessor); err != nil {
		s.closeWriter()
		return err
	}
	return nil
}

func (s *Service) closeWriter() {
	if s.writer == nil {
		return
	}
	if err := s.writer.Close(); err != nil {
		s.logger.Warn("Failed to close index writer", "error", err)
	}
	s.writer = nil
}

// runtimeConfig returns the scorch options used when creating or opening the index.
// A new map is built per call since the engine mutates it.
func (s *Service) runtimeConfig() map[string]interface{} {
	return map[string]interface{}{
		"scorchMergePlanOptions": map[string]interface{}{
			"MaxSegmentsPerTier": s.settings.MergeMaxSegmentsPerTier,
		},
	}
}

// Index replaces the document for key. It is durable and visible to
// subsequent queries when it returns.
func (s *Service) Index(ctx context.Context, key string, metadata domain.Metadata) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	return s.indexer.Index(ctx, key, metadata)
}

// Delete removes the document for key.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	return s.indexer.Delete(ctx, key)
}

// Query returns a page of keys matching text, ordered by sortFields.
func (s *Service) Query(ctx context.Context, text string, sortFields []string, start, pageSize int) (*QueryResult, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	return s.queries.Query(ctx, text, sortFields, start, pageSize)
}

// GetTermsFor yields the live values of field in ascending order after from.
func (s *Service) GetTermsFor(ctx context.Context, field, from string) iter.Seq2[string, error] {
	if err := s.checkReady(); err != nil {
		return func(yield func(string, error) bool) { yield("", err) }
	}
	return s.queries.GetTermsFor(ctx, field, from)
}

// Backup copies a consistent point-in-time view of the index to dir.
func (s *Service) Backup(ctx context.Context, dir string) (*BackupReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkStateLocked(); err != nil {
		return nil, err
	}
	return s.backup.Run(ctx, s.writer, s.instance, dir)
}

// IsReady reports whether the index is initialized and open.
func (s *Service) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == stateReady
}

// DocCount returns the number of live documents in the current snapshot.
func (s *Service) DocCount() (uint64, error) {
	var n uint64
	err := s.holder.Use(func(r index.IndexReader) error {
		var err error
		n, err = r.DocCount()
		return err
	})
	return n, err
}

// Position returns the primary store position recorded in the current snapshot.
func (s *Service) Position() (domain.Position, error) {
	var p domain.Position
	err := s.holder.Use(func(r index.IndexReader) error {
		var err error
		p, err = readPosition(r)
		return err
	})
	return p, err
}

// Settings returns the index settings.
func (s *Service) Settings() config.IndexSettings {
	return s.settings
}

// Close releases the snapshot, writer, lock and crash marker. Every resource
// is released even if another fails; all failures are returned together.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed
	return s.teardown()
}

func (s *Service) teardown() error {
	var errs []error

	s.indexer.install(nil)
	if err := s.holder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release searcher: %w", err))
	}
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close writer: %w", err))
		}
		s.writer = nil
	}
	if s.crash != nil {
		if err := s.crash.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close crash marker: %w", err))
		}
		if err := os.Remove(s.crash.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove crash marker: %w", err))
		}
		s.crash = nil
	}
	// The lock file stays in place; unlinking it would let a waiter and a
	// newcomer lock different inodes.
	if s.lock.IsLocked() {
		if err := s.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("failed to release index lock: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (s *Service) checkReady() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkStateLocked()
}

func (s *Service) checkStateLocked() error {
	switch s.state {
	case stateReady:
		return nil
	case stateClosed:
		return ErrClosed
	default:
		return ErrNotInitialized
	}
}

func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("failed to read index directory: %w", err)
	}
	return len(entries) == 0, nil
}

// checkVersion verifies the format tag of the index directory.
func checkVersion(indexDir string) error {
	data, err := os.ReadFile(filepath.Join(indexDir, VersionFilename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return corruption("missing version tag", nil)
		}
		return fmt.Errorf("failed to read version tag: %w", err)
	}
	if v := strings.TrimSpace(string(data)); v != IndexVersion {
		return corruption("version mismatch", fmt.Errorf("found %q, want %q", v, IndexVersion))
	}
	return nil
}

// checkIndexMeta verifies that the engine metadata is present and names the expected index type.
func checkIndexMeta(indexDir string) error {
	data, err := os.ReadFile(filepath.Join(indexDir, indexMetaFilename))
	if err != nil {
		return corruption("missing index metadata", err)
	}
	var meta struct {
		Storage   string `json:"storage"`
		IndexType string `json:"index_type"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return corruption("unreadable index metadata", err)
	}
	if meta.IndexType != scorch.Name {
		return corruption("unexpected index type", fmt.Errorf("%q", meta.IndexType))
	}
	return nil
}

// checkStructure walks every live document of a fresh snapshot and verifies
// that each resolves to a key, that the count agrees with the document count,
// and that the position marker decodes.
func checkStructure(ctx context.Context, w bleve.Index) error {
	adv, err := w.Advanced()
	if err != nil {
		return corruption("structural check", err)
	}
	r, err := adv.Reader()
	if err != nil {
		return corruption("structural check", err)
	}
	defer func() { _ = r.Close() }()

	expected, err := r.DocCount()
	if err != nil {
		return corruption("structural check", err)
	}

	ids, err := r.DocIDReaderAll()
	if err != nil {
		return corruption("structural check", err)
	}
	defer func() { _ = ids.Close() }()

	var seen uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, err := ids.Next()
		if err != nil {
			return corruption("structural check", err)
		}
		if id == nil {
			break
		}
		key, err := r.ExternalID(id)
		if err != nil {
			return corruption("structural check", err)
		}
		if key == "" {
			return corruption("structural check", fmt.Errorf("document without key"))
		}
		seen++
	}
	if seen != expected {
		return corruption("structural check", fmt.Errorf("found %d documents, expected %d", seen, expected))
	}

	if _, err := readPosition(r); err != nil {
		return err
	}
	return nil
}

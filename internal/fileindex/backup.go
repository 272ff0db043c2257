package fileindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	index "github.com/blevesearch/bleve_index_api"
	"github.com/google/uuid"
)

// rootFile is the engine's generation pointer. It changes with every commit
// and is copied on every backup.
var rootFile = filepath.Join("store", "root.bolt")

// BackupReport describes a completed backup.
type BackupReport struct {
	ID       string
	Dir      string
	Copied   []string
	Skipped  []string
	Required []string
	Duration time.Duration
}

// BackupCoordinator copies a consistent point-in-time view of an index into a
// backup directory. Files already present there from earlier runs are not copied again.
type BackupCoordinator struct {
	indexDir string
	logger   *slog.Logger

	// openFile creates destination files; replaced in tests.
	openFile func(name string, flag int, perm os.FileMode) (*os.File, error)
}

// NewBackupCoordinator creates a coordinator for the index in indexDir.
func NewBackupCoordinator(indexDir string, logger *slog.Logger) *BackupCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackupCoordinator{
		indexDir: indexDir,
		logger:   logger,
		openFile: os.OpenFile,
	}
}

// Run backs up w to dir. instance identifies the index incarnation; a
// cumulative manifest written for a different instance is started over.
// On failure no restore manifest is left in dir.
func (b *BackupCoordinator) Run(ctx context.Context, w bleve.Index, instance, dir string) (report *BackupReport, err error) {
	started := time.Now()
	report = &BackupReport{ID: uuid.NewString(), Dir: dir}
	logger := b.logger.With("backup_id", report.ID, "dir", dir)

	restorePath := filepath.Join(dir, RestoreManifestFilename)
	defer func() {
		if err != nil {
			Backups.WithLabelValues(resultError).Inc()
			_ = os.Remove(restorePath + ".tmp")
			_ = os.Remove(restorePath)
			logger.Error("Backup failed", "error", err)
		}
	}()

	if err := os.MkdirAll(filepath.Join(dir, "store"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	if err := os.Remove(restorePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove previous restore manifest: %w", err)
	}

	required := NewFileManifest(instance)
	for _, name := range []string{VersionFilename, indexMetaFilename} {
		if err := copyFile(filepath.Join(b.indexDir, name), filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("failed to copy %s: %w", name, err)
		}
		required.Add(name)
	}

	allPath := filepath.Join(dir, AllFilesManifestFilename)
	all, err := LoadFileManifest(allPath)
	if err != nil {
		return nil, err
	}
	rewrite := all.Instance != instance
	if rewrite {
		if all.Len() > 0 {
			logger.Info("Backup directory belongs to another index instance, starting over",
				"previous_instance", all.Instance, "instance", instance)
		}
		all = NewFileManifest(instance)
	}

	adv, err := w.Advanced()
	if err != nil {
		return nil, fmt.Errorf("failed to access index: %w", err)
	}
	ci, ok := adv.(index.CopyIndex)
	if !ok {
		return nil, fmt.Errorf("index does not support online backup")
	}

	target := &backupDirectory{
		root:     dir,
		known:    all,
		openFile: b.openFile,
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.copySnapshot(ci, target); err != nil {
		return nil, err
	}

	for _, f := range target.required {
		required.Add(f)
	}
	if rewrite {
		for _, f := range target.copied {
			all.Add(f)
		}
		if err := all.Save(allPath); err != nil {
			return nil, err
		}
	} else if err := all.AppendTo(allPath, target.copied); err != nil {
		return nil, err
	}
	if err := required.Save(restorePath); err != nil {
		return nil, err
	}

	report.Copied = target.copied
	report.Skipped = target.skipped
	report.Required = required.Files()
	report.Duration = time.Since(started)

	Backups.WithLabelValues(resultOK).Inc()
	BackupFiles.WithLabelValues("copied").Add(float64(len(report.Copied)))
	BackupFiles.WithLabelValues("skipped").Add(float64(len(report.Skipped)))
	logger.Info("Backup complete",
		"copied", len(report.Copied), "skipped", len(report.Skipped),
		"required", len(report.Required), "duration", report.Duration)
	return report, nil
}

// copySnapshot pins the current snapshot's files against merge-time removal,
// copies them through target and releases the pin, also on failure.
func (b *BackupCoordinator) copySnapshot(ci index.CopyIndex, target *backupDirectory) (err error) {
	reader := ci.CopyReader()
	defer func() {
		if cerr := reader.CloseCopyReader(); cerr != nil {
			if err == nil {
				err = fmt.Errorf("failed to release backup snapshot: %w", cerr)
			} else {
				b.logger.Warn("Failed to release backup snapshot", "error", cerr)
			}
		}
	}()

	copyErr := reader.CopyTo(target)
	closeErr := target.closeAll()
	if copyErr != nil {
		return fmt.Errorf("failed to copy index files: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to finish index files: %w", closeErr)
	}
	return nil
}

// backupDirectory receives the files of a pinned snapshot. Files the
// cumulative manifest already holds and that still exist at the destination
// are read and discarded instead of written.
type backupDirectory struct {
	root     string
	known    *FileManifest
	openFile func(name string, flag int, perm os.FileMode) (*os.File, error)

	mu       sync.Mutex
	open     []*os.File
	copied   []string
	skipped  []string
	required []string
}

func (d *backupDirectory) GetWriter(filePath string) (io.WriteCloser, error) {
	rel := filepath.ToSlash(filepath.Clean(filePath))
	if !filepath.IsLocal(filePath) {
		return nil, fmt.Errorf("refusing to write outside backup directory: %s", filePath)
	}
	dest := filepath.Join(d.root, filePath)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.required = append(d.required, rel)

	if rel != filepath.ToSlash(rootFile) && d.known.Has(rel) {
		if _, err := os.Stat(dest); err == nil {
			d.skipped = append(d.skipped, rel)
			return discardWriter{}, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, err
	}
	f, err := d.openFile(dest, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	d.open = append(d.open, f)
	if rel != filepath.ToSlash(rootFile) {
		d.copied = append(d.copied, rel)
	}
	return f, nil
}

// closeAll closes files the engine left open. Files it already closed are ignored.
func (d *backupDirectory) closeAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, f := range d.open {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	d.open = nil
	return errors.Join(errs...)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
func (discardWriter) Close() error                { return nil }
func (discardWriter) Sync() error                 { return nil }
func (discardWriter) Flush() error                { return nil }

// copyFile copies src to dst and syncs it.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

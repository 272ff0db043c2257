package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/sha1n/mcp-fileindex-server/internal/config"
	"github.com/sha1n/mcp-fileindex-server/internal/domain"
	"github.com/sha1n/mcp-fileindex-server/internal/fileindex"
)

// RestoreLockTimeout bounds how long restore waits for a running instance to release the data directory.
var RestoreLockTimeout = 5 * time.Second

// QueryOptions are the arguments of the query command
type QueryOptions struct {
	Text     string
	Sort     []string
	Start    int
	PageSize int
}

// PutOptions are the arguments of the put command
type PutOptions struct {
	Path string
	// Meta holds key=value pairs; a repeated key becomes a multi-valued property.
	Meta []string
	// Size sets Content-Length when not negative.
	Size int64
}

// ParseMetadata converts key=value pairs into metadata.
func ParseMetadata(pairs []string) (domain.Metadata, error) {
	md := domain.Metadata{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q, expected key=value", pair)
		}
		switch prev := md[key].(type) {
		case nil:
			md[key] = value
		case string:
			md[key] = []string{prev, value}
		case []string:
			md[key] = append(prev, value)
		}
	}
	return md, nil
}

// loadIndexSettings loads and validates the index settings and installs the logger.
func loadIndexSettings(flags *pflag.FlagSet) (config.IndexSettings, error) {
	settings, err := config.LoadSettingsWithFlags(flags)
	if err != nil {
		return config.IndexSettings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if err := config.ValidateIndexSettings(&settings.Index); err != nil {
		return config.IndexSettings{}, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := config.NewLogger(settings.Log, os.Stderr)
	if err != nil {
		return config.IndexSettings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	slog.SetDefault(logger)

	return settings.Index, nil
}

// RunQuery opens the index, runs one query and prints the matching keys to out.
func RunQuery(ctx context.Context, flags *pflag.FlagSet, opts QueryOptions, out io.Writer) error {
	settings, err := loadIndexSettings(flags)
	if err != nil {
		return err
	}

	svc, _, cleanup, err := OpenIndex(ctx, settings)
	if err != nil {
		return err
	}
	defer cleanup()

	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > settings.MaxPageSize {
		pageSize = settings.MaxPageSize
	}

	result, err := svc.Query(ctx, opts.Text, opts.Sort, opts.Start, pageSize)
	if err != nil {
		return err
	}

	for _, key := range result.Keys {
		if _, err := fmt.Fprintln(out, key); err != nil {
			return err
		}
	}
	slog.Info("Query complete", "query", opts.Text, "total", result.Total, "returned", len(result.Keys))
	return nil
}

// RunBackup opens the index and backs it up to dir, or to the configured backup directory when dir is empty.
func RunBackup(ctx context.Context, flags *pflag.FlagSet, dir string, out io.Writer) error {
	settings, err := loadIndexSettings(flags)
	if err != nil {
		return err
	}
	if dir == "" {
		dir = settings.BackupDir
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("invalid backup directory: %w", err)
	}

	svc, _, cleanup, err := OpenIndex(ctx, settings)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := svc.Backup(ctx, dir)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "Backup %s complete: %d files copied, %d unchanged, %d required for restore (%s)\n",
		report.ID, len(report.Copied), len(report.Skipped), len(report.Required), report.Dir)
	return err
}

// RunRestore rebuilds the index directory from the latest backup in from, or in the
// configured backup directory when from is empty. The data directory lock is held
// for the duration so a live instance is never written under.
func RunRestore(ctx context.Context, flags *pflag.FlagSet, from string, out io.Writer) error {
	settings, err := loadIndexSettings(flags)
	if err != nil {
		return err
	}
	if from == "" {
		from = settings.BackupDir
	}

	lock := fileindex.NewFileLock(filepath.Join(settings.DataDir, fileindex.LockFilename))
	if err := lock.LockWithContext(ctx, RestoreLockTimeout); err != nil {
		if errors.Is(err, fileindex.ErrLockTimeout) {
			return fmt.Errorf("%w: %s", fileindex.ErrIndexLocked, settings.DataDir)
		}
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("Failed to release data directory lock", "error", err)
		}
	}()

	files, err := fileindex.Restore(ctx, from, settings.IndexDir())
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "Restored %d files from %s into %s\n", files, from, settings.IndexDir())
	return err
}

// RunPut records a file in the change log and indexes it.
func RunPut(ctx context.Context, flags *pflag.FlagSet, opts PutOptions, out io.Writer) error {
	key := fileindex.CanonicalKey(opts.Path)
	if key == "" {
		return fileindex.ErrEmptyKey
	}
	md, err := ParseMetadata(opts.Meta)
	if err != nil {
		return err
	}
	if opts.Size >= 0 {
		md[domain.MetadataContentLength] = strconv.FormatInt(opts.Size, 10)
	}

	settings, err := loadIndexSettings(flags)
	if err != nil {
		return err
	}
	svc, store, cleanup, err := OpenIndex(ctx, settings)
	if err != nil {
		return err
	}
	defer cleanup()

	position, err := store.Put(ctx, opts.Path, md)
	if err != nil {
		return err
	}
	if err := svc.Index(ctx, opts.Path, md); err != nil {
		return fmt.Errorf("failed to index %s: %w", key, err)
	}

	_, err = fmt.Fprintf(out, "Indexed %s at position %d\n", key, position)
	return err
}

// RunRemove records the removal of a file in the change log and drops it from the index.
func RunRemove(ctx context.Context, flags *pflag.FlagSet, path string, out io.Writer) error {
	key := fileindex.CanonicalKey(path)
	if key == "" {
		return fileindex.ErrEmptyKey
	}

	settings, err := loadIndexSettings(flags)
	if err != nil {
		return err
	}
	svc, store, cleanup, err := OpenIndex(ctx, settings)
	if err != nil {
		return err
	}
	defer cleanup()

	position, err := store.Remove(ctx, path)
	if err != nil {
		return err
	}
	if err := svc.Delete(ctx, path); err != nil {
		return fmt.Errorf("failed to remove %s from index: %w", key, err)
	}

	_, err = fmt.Fprintf(out, "Removed %s at position %d\n", key, position)
	return err
}

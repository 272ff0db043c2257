package fileindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sourcegraph/conc/pool"
)

// MaxParallelCopies is the maximum number of files copied concurrently during a restore.
const MaxParallelCopies = 4

// Restore materializes an index directory from the latest completed backup in
// backupDir. indexDir must be absent or empty. It returns the number of files copied.
func Restore(ctx context.Context, backupDir, indexDir string) (int, error) {
	manifest, err := loadRestoreManifest(backupDir)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(indexDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create index directory: %w", err)
	}
	empty, err := isEmptyDir(indexDir)
	if err != nil {
		return 0, err
	}
	if !empty {
		return 0, fmt.Errorf("restore target %s is not empty", indexDir)
	}

	files := manifest.Files()
	p := pool.New().WithMaxGoroutines(MaxParallelCopies).WithContext(ctx).WithCancelOnError()
	for _, f := range files {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rel := filepath.FromSlash(f)
			if err := copyFile(filepath.Join(backupDir, rel), filepath.Join(indexDir, rel)); err != nil {
				return fmt.Errorf("failed to restore %s: %w", f, err)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return 0, err
	}

	slog.Info("Index restored", "from", backupDir, "to", indexDir, "files", len(files), "instance", manifest.Instance)
	return len(files), nil
}

func loadRestoreManifest(backupDir string) (*FileManifest, error) {
	path := filepath.Join(backupDir, RestoreManifestFilename)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoRestoreManifest, backupDir)
		}
		return nil, fmt.Errorf("failed to read restore manifest: %w", err)
	}

	m, err := LoadFileManifest(path)
	if err != nil {
		return nil, err
	}
	for _, f := range m.Files() {
		if !filepath.IsLocal(filepath.FromSlash(f)) {
			return nil, fmt.Errorf("restore manifest entry escapes backup directory: %s", f)
		}
	}
	return m, nil
}

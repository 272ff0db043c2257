package fileindex

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// AllFilesManifestFilename lists every index file ever copied to a backup directory.
	AllFilesManifestFilename = "all-existing-index-files"

	// RestoreManifestFilename lists the files needed to restore the latest completed backup.
	RestoreManifestFilename = "required-for-index-restore"

	instanceHeader = "# instance "
)

// FileManifest is an ordered set of index-relative file paths, stored as one
// path per line. An optional header records the index instance the files belong to.
type FileManifest struct {
	Instance string
	files    []string
	seen     map[string]bool
	mu       sync.RWMutex
}

// NewFileManifest creates an empty manifest for the given index instance.
func NewFileManifest(instance string) *FileManifest {
	return &FileManifest{
		Instance: instance,
		seen:     make(map[string]bool),
	}
}

// LoadFileManifest reads a manifest from disk, or returns an empty one if it doesn't exist.
func LoadFileManifest(path string) (*FileManifest, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewFileManifest(""), nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	m := NewFileManifest("")
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, instanceHeader):
			m.Instance = strings.TrimSpace(strings.TrimPrefix(line, instanceHeader))
		case strings.HasPrefix(line, "#"):
		default:
			m.Add(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}

// Add records a file. It returns false if the file was already present.
func (m *FileManifest) Add(file string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[file] {
		return false
	}
	m.seen[file] = true
	m.files = append(m.files, file)
	return true
}

// Has returns true if the file is recorded.
func (m *FileManifest) Has(file string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seen[file]
}

// Files returns the recorded files in insertion order.
func (m *FileManifest) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.files))
	copy(out, m.files)
	return out
}

// Len returns the number of recorded files.
func (m *FileManifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

func (m *FileManifest) encode() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder
	if m.Instance != "" {
		b.WriteString(instanceHeader + m.Instance + "\n")
	}
	for _, f := range m.files {
		b.WriteString(f)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Save writes the manifest to disk atomically.
// Uses write-to-temp + rename so a reader never sees a partial manifest.
func (m *FileManifest) Save(path string) error {
	data := m.encode()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := writeFileSync(tempPath, data); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to write manifest temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename manifest file: %w", err)
	}

	return nil
}

// AppendTo appends files to the manifest file at path, which must already
// hold this manifest's earlier contents, and records them in memory.
func (m *FileManifest) AppendTo(path string, files []string) error {
	if len(files) == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}

	var b strings.Builder
	for _, file := range files {
		if m.Add(file) {
			b.WriteString(file)
			b.WriteByte('\n')
		}
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append to manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	return f.Close()
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

package fileindex

import (
	"context"
	"sync"
	"testing"

	"github.com/sha1n/mcp-fileindex-server/internal/config"
	"github.com/sha1n/mcp-fileindex-server/internal/domain"
)

// FaultyAccessor wraps a primary store and injects failures or a rolled back position.
// This is exported for use in integration tests.
type FaultyAccessor struct {
	domain.Accessor

	mu           sync.Mutex
	positionErr  error
	recordsErr   error
	lastPosition *domain.Position
	recordsCalls int
}

// NewFaultyAccessor wraps accessor without injecting anything.
func NewFaultyAccessor(accessor domain.Accessor) *FaultyAccessor {
	return &FaultyAccessor{Accessor: accessor}
}

// FailPosition makes GetLastPosition return err. A nil err clears the failure.
func (a *FaultyAccessor) FailPosition(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positionErr = err
}

// FailRecords makes GetRecordsAfter return err. A nil err clears the failure.
func (a *FaultyAccessor) FailRecords(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordsErr = err
}

// SetLastPosition makes GetLastPosition report p regardless of the wrapped store.
func (a *FaultyAccessor) SetLastPosition(p domain.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastPosition = &p
}

// RecordsCalls returns how many times GetRecordsAfter was called.
func (a *FaultyAccessor) RecordsCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recordsCalls
}

func (a *FaultyAccessor) GetLastPosition(ctx context.Context) (domain.Position, error) {
	a.mu.Lock()
	err, override := a.positionErr, a.lastPosition
	a.mu.Unlock()

	if err != nil {
		return 0, err
	}
	if override != nil {
		return *override, nil
	}
	return a.Accessor.GetLastPosition(ctx)
}

func (a *FaultyAccessor) GetRecordsAfter(ctx context.Context, after domain.Position, maxCount int) ([]domain.Record, error) {
	a.mu.Lock()
	a.recordsCalls++
	err := a.recordsErr
	a.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return a.Accessor.GetRecordsAfter(ctx, after, maxCount)
}

// NewTestService creates and initializes a service with default settings
// rooted at dataDir. The service is closed when the test ends.
func NewTestService(t testing.TB, dataDir string, accessor domain.Accessor) *Service {
	t.Helper()

	settings := config.DefaultIndexSettings(dataDir)
	svc, err := NewService(settings, accessor)
	if err != nil {
		t.Fatalf("Failed to create file index service: %v", err)
	}
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Failed to initialize file index service: %v", err)
	}
	t.Cleanup(func() {
		if err := svc.Close(); err != nil {
			t.Errorf("Failed to close file index service: %v", err)
		}
	})
	return svc
}

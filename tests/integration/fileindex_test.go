package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-fileindex-server/internal/app"
	"github.com/sha1n/mcp-fileindex-server/internal/changelog"
	"github.com/sha1n/mcp-fileindex-server/internal/config"
	"github.com/sha1n/mcp-fileindex-server/internal/domain"
	"github.com/sha1n/mcp-fileindex-server/internal/fileindex"
	mcputil "github.com/sha1n/mcp-fileindex-server/internal/mcp"
	"github.com/sha1n/mcp-fileindex-server/tests/integration/testkit"
)

// ========================================
// Service Lifecycle Tests
// ========================================

func TestServiceLifecycle_CreatesDirectoryStructure(t *testing.T) {
	dir := t.TempDir()
	settings := config.DefaultIndexSettings(dir)

	svc, _, cleanup := openIndex(t, settings)

	if !svc.IsReady() {
		t.Error("Expected service to be ready after initialization")
	}
	for _, path := range []string{
		filepath.Join(dir, fileindex.LockFilename),
		filepath.Join(dir, fileindex.CrashMarkerFilename),
		filepath.Join(settings.IndexDir(), fileindex.VersionFilename),
		settings.StorePath,
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Expected %s to exist: %v", path, err)
		}
	}

	cleanup()

	if _, err := os.Stat(filepath.Join(dir, fileindex.CrashMarkerFilename)); !os.IsNotExist(err) {
		t.Error("Expected crash marker to be removed on graceful shutdown")
	}
}

func TestServiceLifecycle_ReopenKeepsDocuments(t *testing.T) {
	settings := config.DefaultIndexSettings(t.TempDir())

	svc, store, cleanup := openIndex(t, settings)
	putAndIndex(t, svc, store, "/a.txt", domain.Metadata{"Content-Length": "10"})
	putAndIndex(t, svc, store, "/b.txt", domain.Metadata{"Content-Length": "20"})
	cleanup()

	svc, _, cleanup = openIndex(t, settings)
	defer cleanup()

	result, err := svc.Query(context.Background(), "", nil, 0, 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.Total != 2 {
		t.Errorf("Expected 2 documents after reopen, got %d", result.Total)
	}
	pos, err := svc.Position()
	if err != nil {
		t.Fatalf("Position failed: %v", err)
	}
	if pos != 2 {
		t.Errorf("Expected committed position 2, got %d", pos)
	}
}

func TestServiceLifecycle_AcceptsStoreAhead(t *testing.T) {
	settings := config.DefaultIndexSettings(t.TempDir())

	svc, store, cleanup := openIndex(t, settings)
	putAndIndex(t, svc, store, "/a.txt", nil)
	cleanup()

	// Changes written while the index was offline leave the store ahead; the
	// index keeps its committed state and accepts later writes.
	offline, err := changelog.OpenSQLite(settings.StorePath)
	if err != nil {
		t.Fatalf("Failed to open change log: %v", err)
	}
	if _, err := offline.Put(context.Background(), "/offline.txt", nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := offline.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	svc, store, cleanup = openIndex(t, settings)
	defer cleanup()

	putAndIndex(t, svc, store, "/later.txt", nil)
	keys := queryKeys(t, svc, "", "fileName")
	if !slices.Contains(keys, "/a.txt") || !slices.Contains(keys, "/later.txt") {
		t.Errorf("Expected committed and new documents, got %v", keys)
	}
}

func TestServiceLifecycle_SecondInstanceIsRejected(t *testing.T) {
	settings := config.DefaultIndexSettings(t.TempDir())
	_, _, cleanup := openIndex(t, settings)
	defer cleanup()

	_, _, second, err := app.OpenIndex(context.Background(), settings)
	if err == nil {
		second()
		t.Fatal("Expected second instance to fail")
	}
	if !strings.Contains(err.Error(), fileindex.ErrIndexLocked.Error()) {
		t.Errorf("Expected lock error, got: %v", err)
	}
}

// ========================================
// Index Tests
// ========================================

func TestIndex_ConcurrentWritersAndReaders(t *testing.T) {
	settings := config.DefaultIndexSettings(t.TempDir())
	svc, store, cleanup := openIndex(t, settings)
	defer cleanup()

	const writers, perWriter = 4, 10
	ctx := context.Background()

	// Store appends and index commits must happen in the same order.
	var writeMu sync.Mutex
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("/w%d/file%02d.txt", w, i)
				writeMu.Lock()
				_, err := store.Put(ctx, key, domain.Metadata{"writer": fmt.Sprint(w)})
				if err == nil {
					err = svc.Index(ctx, key, domain.Metadata{"writer": fmt.Sprint(w)})
				}
				writeMu.Unlock()
				if err != nil {
					errs <- err
					return
				}
				if _, err := svc.Query(ctx, "writer:"+fmt.Sprint(w), nil, 0, 100); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Concurrent operation failed: %v", err)
	}

	count, err := svc.DocCount()
	if err != nil {
		t.Fatalf("DocCount failed: %v", err)
	}
	if count != writers*perWriter {
		t.Errorf("Expected %d documents, got %d", writers*perWriter, count)
	}
}

func TestIndex_DeleteRemovesDocument(t *testing.T) {
	svc, store := startEnv(t)
	ctx := context.Background()

	putAndIndex(t, svc, store, "/keep.txt", nil)
	putAndIndex(t, svc, store, "/drop.txt", nil)

	if _, err := store.Remove(ctx, "/drop.txt"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := svc.Delete(ctx, "/drop.txt"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if keys := queryKeys(t, svc, "", ""); !slices.Equal(keys, []string{"/keep.txt"}) {
		t.Errorf("Expected only /keep.txt, got %v", keys)
	}
}

// ========================================
// Backup and Restore Tests
// ========================================

func TestBackup_RestoreRoundTrip(t *testing.T) {
	settings := config.DefaultIndexSettings(t.TempDir())
	backupDir := t.TempDir()

	svc, store, cleanup := openIndex(t, settings)
	putAndIndex(t, svc, store, "/docs/a.txt", domain.Metadata{"author": "alice"})
	putAndIndex(t, svc, store, "/docs/b.txt", domain.Metadata{"author": "bob"})

	if _, err := svc.Backup(context.Background(), backupDir); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	cleanup()

	if err := os.RemoveAll(settings.IndexDir()); err != nil {
		t.Fatalf("Failed to remove index: %v", err)
	}
	if _, err := fileindex.Restore(context.Background(), backupDir, settings.IndexDir()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	svc, _, cleanup = openIndex(t, settings)
	defer cleanup()

	if keys := queryKeys(t, svc, "author:alice", ""); !slices.Equal(keys, []string{"/docs/a.txt"}) {
		t.Errorf("Expected restored document, got %v", keys)
	}
}

// ========================================
// MCP Server Integration Tests
// ========================================

func TestMCPServer_ToolsOverInMemoryTransport(t *testing.T) {
	svc, store := startEnv(t)
	putAndIndex(t, svc, store, "/docs/report.pdf", domain.Metadata{"Content-Length": "1500"})
	putAndIndex(t, svc, store, "/docs/notes.txt", domain.Metadata{"Content-Length": "20"})

	server := mcputil.CreateServer(mcputil.ServerConfig{
		Name:     "test-server",
		Version:  "1.0.0",
		IndexSvc: svc,
	})
	session := connectClient(t, server)

	tools, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	if want := []string{"backup_index", "list_terms", "search_files"}; !slices.Equal(names, want) {
		t.Errorf("Expected tools %v, got %v", want, names)
	}

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "search_files",
		Arguments: map[string]any{"query": "fileName:*.pdf"},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if text := extractTextContent(result); !strings.Contains(text, "/docs/report.pdf") || strings.Contains(text, "notes.txt") {
		t.Errorf("Unexpected search result: %s", text)
	}

	result, err = session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "list_terms",
		Arguments: map[string]any{"field": "fileName"},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if text := extractTextContent(result); !strings.Contains(text, "notes.txt\nreport.pdf") {
		t.Errorf("Unexpected terms result: %s", text)
	}
}

func TestMCPServer_NoToolsWhenServiceNil(t *testing.T) {
	server := mcputil.CreateServer(mcputil.ServerConfig{
		Name:    "test-server",
		Version: "1.0.0",
	})
	session := connectClient(t, server)

	tools, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools.Tools) != 0 {
		t.Errorf("Expected no tools, got %d", len(tools.Tools))
	}
}

func TestMCPServer_FullWiringOverHTTP(t *testing.T) {
	flags := testkit.NewTestFlags(t, nil)

	params := app.DefaultRunParams()
	params.StartSSEServer = func(c *app.Components, settings *config.Settings) error {
		srv, err := app.NewSSEServer(c, settings)
		if err != nil {
			return err
		}
		ts := httptest.NewServer(srv.Handler)
		defer ts.Close()

		if body := httpGet(t, ts.URL+"/health"); body != "ok" {
			t.Errorf("Expected health 'ok', got %q", body)
		}
		if body := httpGet(t, ts.URL+"/metrics"); !strings.Contains(body, "fileindex_ready 1") {
			t.Error("Expected the ready gauge on /metrics")
		}
		return nil
	}

	if err := app.RunWithDeps(context.Background(), params, flags, "test"); err != nil {
		t.Fatalf("RunWithDeps failed: %v", err)
	}

	dataDir, _ := flags.GetString("data-dir")
	if _, err := os.Stat(filepath.Join(dataDir, fileindex.CrashMarkerFilename)); !os.IsNotExist(err) {
		t.Error("Expected the server to close the index on return")
	}
}

// ========================================
// Helper Functions
// ========================================

// openIndex opens the change log and index and registers a safety cleanup.
// The returned cleanup may be called earlier to close them explicitly.
func openIndex(t *testing.T, settings config.IndexSettings) (*fileindex.Service, *changelog.SQLiteStore, func()) {
	t.Helper()

	svc, store, cleanup, err := app.OpenIndex(context.Background(), settings)
	if err != nil {
		t.Fatalf("OpenIndex failed: %v", err)
	}

	var once sync.Once
	closeAll := func() { once.Do(cleanup) }
	t.Cleanup(closeAll)
	return svc, store, closeAll
}

// startEnv starts a test environment holding one index service and stops it on cleanup.
func startEnv(t *testing.T) (*fileindex.Service, *changelog.SQLiteStore) {
	t.Helper()
	env := testkit.NewTestEnv(testkit.NewIndexService(t.TempDir()))
	props, err := env.Start()
	if err != nil {
		t.Fatalf("Failed to start environment: %v", err)
	}
	t.Cleanup(func() {
		if err := env.Stop(); err != nil {
			t.Errorf("Failed to stop environment: %v", err)
		}
	})
	return props[testkit.PropIndex].(*fileindex.Service), props[testkit.PropStore].(*changelog.SQLiteStore)
}

// putAndIndex records a change in the store and applies it to the index.
func putAndIndex(t *testing.T, svc *fileindex.Service, store *changelog.SQLiteStore, key string, md domain.Metadata) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.Put(ctx, key, md); err != nil {
		t.Fatalf("Put %s failed: %v", key, err)
	}
	if err := svc.Index(ctx, key, md); err != nil {
		t.Fatalf("Index %s failed: %v", key, err)
	}
}

func queryKeys(t *testing.T, svc *fileindex.Service, query, sortField string) []string {
	t.Helper()
	var sortFields []string
	if sortField != "" {
		sortFields = []string{sortField}
	}
	result, err := svc.Query(context.Background(), query, sortFields, 0, 100)
	if err != nil {
		t.Fatalf("Query %q failed: %v", query, err)
	}
	return result.Keys
}

// connectClient connects an MCP client to server over in-memory transports.
func connectClient(t *testing.T, server *mcp.Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("Server connect failed: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("Client connect failed: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func httpGet(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Reading %s failed: %v", url, err)
	}
	return string(body)
}

// extractTextContent extracts text from MCP result
func extractTextContent(result *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

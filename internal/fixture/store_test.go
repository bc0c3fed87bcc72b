package fixture

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stillpointlabs/vidmark/internal/types"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	id := NewID()
	html := []byte(`<html><body><video src="x.mp4"></video></body></html>`)
	meta := Meta{
		ID:      id,
		URL:     "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Title:   "Test page",
		Adapter: "youtube",
		ItemKey: "youtube:dQw4w9WgXcQ",
	}
	if err := store.Save(meta, html); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.URL != meta.URL || got.Adapter != "youtube" {
		t.Fatalf("meta = %+v, want %+v", got, meta)
	}
	if got.SizeBytes != len(html) {
		t.Fatalf("SizeBytes = %d, want %d", got.SizeBytes, len(html))
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not stamped")
	}

	body, err := store.ReadHTML(id)
	if err != nil {
		t.Fatalf("ReadHTML: %v", err)
	}
	if !bytes.Equal(body, html) {
		t.Fatalf("html round-trip mangled: %q", body)
	}

	if err := store.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(id); types.ErrorCode(err) != types.CodeFixtureNotFound {
		t.Fatalf("Get after delete error = %v, want %s", err, types.CodeFixtureNotFound)
	}
}

func TestSaveRejectsBadID(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	err = store.Save(Meta{ID: "../escape", URL: "https://example.com"}, []byte("x"))
	if types.ErrorCode(err) != types.CodeValidation {
		t.Fatalf("Save error = %v, want %s", err, types.CodeValidation)
	}
}

func TestListNewestFirst(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	older := Meta{ID: NewID(), URL: "https://a.example", CreatedAt: time.Now().Add(-time.Hour)}
	newer := Meta{ID: NewID(), URL: "https://b.example", CreatedAt: time.Now()}
	if err := store.Save(older, []byte("a")); err != nil {
		t.Fatalf("Save(older): %v", err)
	}
	if err := store.Save(newer, []byte("b")); err != nil {
		t.Fatalf("Save(newer): %v", err)
	}

	metas, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("len(metas) = %d, want 2", len(metas))
	}
	if metas[0].ID != newer.ID || metas[1].ID != older.ID {
		t.Fatalf("order = [%s %s], want newest first", metas[0].URL, metas[1].URL)
	}
}

func TestDeleteLogsHTMLCleanupFailureWhenHTMLMissing(t *testing.T) {
	dir := t.TempDir()
	store := &Store{dir: dir}
	id := "123e4567-e89b-12d3-a456-426614174000"

	meta := Meta{ID: id, URL: "https://example.com"}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("json.Marshal() failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".json"), metaBytes, 0o644); err != nil {
		t.Fatalf("os.WriteFile() failed: %v", err)
	}

	var buf bytes.Buffer
	oldLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() {
		slog.SetDefault(oldLogger)
	})

	if err := store.Delete(id); err != nil {
		t.Fatalf("Delete() = %v; want nil", err)
	}

	if !strings.Contains(buf.String(), "fixture html cleanup failed") {
		t.Fatalf("expected html cleanup debug log, got %q", buf.String())
	}
}

// Package fixture stores captured page HTML with a JSON sidecar and checks
// saved documents against the static half of the scrubber heuristics. A
// fixture corpus catches selector rot offline, before a site change breaks
// live detection.
package fixture

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stillpointlabs/vidmark/internal/types"
)

var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Meta describes one stored fixture.
type Meta struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Adapter   string    `json:"adapter,omitempty"`
	ItemKey   string    `json:"item_key,omitempty"`
	SizeBytes int       `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	Notes     string    `json:"notes,omitempty"`
}

// Store manages fixture files on disk.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.NewError(types.CodeStoreFailure, "fixture store: mkdir "+dir, err)
	}
	return &Store{dir: dir}, nil
}

// NewID returns a fresh fixture id.
func NewID() string { return uuid.NewString() }

func (s *Store) validateID(id string) error {
	if !uuidRe.MatchString(id) {
		return types.NewError(types.CodeValidation, "invalid fixture id: "+id, nil)
	}
	return nil
}

// Save writes both the HTML file and the metadata sidecar.
func (s *Store) Save(meta Meta, html []byte) error {
	if err := s.validateID(meta.ID); err != nil {
		return err
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	meta.SizeBytes = len(html)

	s.mu.Lock()
	defer s.mu.Unlock()

	htmlPath := filepath.Join(s.dir, meta.ID+".html")
	jsonPath := filepath.Join(s.dir, meta.ID+".json")

	if err := os.WriteFile(htmlPath, html, 0o644); err != nil {
		return types.NewError(types.CodeStoreFailure, "fixture store: write html", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		_ = os.Remove(htmlPath)
		return types.NewError(types.CodeStoreFailure, "fixture store: marshal meta", err)
	}

	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		_ = os.Remove(htmlPath)
		return types.NewError(types.CodeStoreFailure, "fixture store: write meta", err)
	}

	return nil
}

// SaveScreenshot writes a PNG next to an already stored fixture. Screenshots
// carry the page's visual state when the DOM alone is ambiguous, e.g. a
// scrubber hidden behind an overlay.
func (s *Store) SaveScreenshot(id string, png []byte) error {
	if err := s.validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(filepath.Join(s.dir, id+".png"), png, 0o644); err != nil {
		return types.NewError(types.CodeStoreFailure, "fixture store: write screenshot", err)
	}
	return nil
}

// Get reads fixture metadata by id.
func (s *Store) Get(id string) (Meta, error) {
	if err := s.validateID(id); err != nil {
		return Meta{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, types.NewError(types.CodeFixtureNotFound, "fixture not found: "+id, nil)
		}
		return Meta{}, types.NewError(types.CodeStoreFailure, "fixture store: read meta", err)
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, types.NewError(types.CodeStoreFailure, "fixture store: unmarshal meta", err)
	}
	return meta, nil
}

// ReadHTML returns the raw document bytes for one fixture.
func (s *Store) ReadHTML(id string) ([]byte, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, id+".html"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewError(types.CodeFixtureNotFound, "fixture html not found: "+id, nil)
		}
		return nil, types.NewError(types.CodeStoreFailure, "fixture store: read html", err)
	}
	return data, nil
}

// List returns all fixtures sorted by creation time, newest first.
func (s *Store) List() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, types.NewError(types.CodeStoreFailure, "fixture store: glob", err)
	}

	metas := make([]Meta, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})

	return metas, nil
}

// Delete removes both the HTML and metadata files.
func (s *Store) Delete(id string) error {
	// Get first so a missing fixture reports as such.
	if _, err := s.Get(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.dir, id+".html")); err != nil {
		slog.Debug("fixture html cleanup failed", "id", id, "error", err)
	}
	if err := os.Remove(filepath.Join(s.dir, id+".png")); err != nil && !os.IsNotExist(err) {
		slog.Debug("fixture screenshot cleanup failed", "id", id, "error", err)
	}
	if err := os.Remove(filepath.Join(s.dir, id+".json")); err != nil {
		return types.NewError(types.CodeStoreFailure, "fixture store: remove meta", err)
	}
	return nil
}

// Package store persists markers and tab contexts in SQLite. It backs the
// annotation loader's local cache and the tab router's restart persistence,
// so a killed agent comes back up knowing which tab was on which item and
// what markers the user already placed.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/stillpointlabs/vidmark/internal/tabrouter"
	"github.com/stillpointlabs/vidmark/internal/types"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store wraps the SQLite handle. One instance is shared across tabs.
type Store struct {
	DB *sqlx.DB
}

// Open connects to the SQLite database at dsn and brings the schema up to
// date. Use ":memory:" for a throwaway database.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, types.NewError(types.CodeStoreFailure, "open database", err)
	}
	// The loader and the router share the handle; busy_timeout covers the
	// rare write overlap between them.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, types.NewError(types.CodeStoreFailure, "apply pragma", err)
		}
	}
	s := &Store{DB: db}
	if err := s.applyMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) applyMigrations() error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		return types.NewError(types.CodeStoreFailure, "set migration dialect", err)
	}

	if err := goose.Up(s.DB.DB, "migrations"); err != nil {
		return types.NewError(types.CodeStoreFailure, "apply migrations", err)
	}

	return nil
}

func (s *Store) Close() error { return s.DB.Close() }

// Timestamps live as unix seconds in the database.
type markerRow struct {
	ID        string  `db:"id"`
	ItemKey   string  `db:"item_key"`
	Position  float64 `db:"position"`
	Category  string  `db:"category"`
	Text      string  `db:"text"`
	CreatedAt int64   `db:"created_at"`
	UpdatedAt int64   `db:"updated_at"`
}

func (r markerRow) marker() types.Marker {
	return types.Marker{
		ID:        r.ID,
		ItemKey:   r.ItemKey,
		Position:  r.Position,
		Category:  r.Category,
		Text:      r.Text,
		CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
		UpdatedAt: time.Unix(r.UpdatedAt, 0).UTC(),
	}
}

// SaveMarker inserts or updates one marker. Timestamps already carried by
// the marker are kept so backend-synced rows retain their authored times;
// bare local markers get stamped here. created_at never changes on update.
func (s *Store) SaveMarker(ctx context.Context, m types.Marker) error {
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	row := markerRow{
		ID:        m.ID,
		ItemKey:   m.ItemKey,
		Position:  m.Position,
		Category:  m.Category,
		Text:      m.Text,
		CreatedAt: m.CreatedAt.Unix(),
		UpdatedAt: m.UpdatedAt.Unix(),
	}
	_, err := s.DB.NamedExecContext(ctx, `
		INSERT INTO markers (id, item_key, position, category, text, created_at, updated_at)
		VALUES (:id, :item_key, :position, :category, :text, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			item_key = excluded.item_key,
			position = excluded.position,
			category = excluded.category,
			text = excluded.text,
			updated_at = excluded.updated_at`, row)
	if err != nil {
		return types.NewError(types.CodeStoreFailure, "save marker "+m.ID, err)
	}
	return nil
}

// MarkersForItem returns every marker cached for one item, ordered by
// position on the timeline.
func (s *Store) MarkersForItem(ctx context.Context, itemKey string) ([]types.Marker, error) {
	rows := []markerRow{}
	err := s.DB.SelectContext(ctx, &rows,
		"SELECT id, item_key, position, category, text, created_at, updated_at FROM markers WHERE item_key = ? ORDER BY position ASC, id ASC",
		itemKey)
	if err != nil {
		return nil, types.NewError(types.CodeStoreFailure, "list markers for "+itemKey, err)
	}
	ms := make([]types.Marker, 0, len(rows))
	for _, r := range rows {
		ms = append(ms, r.marker())
	}
	return ms, nil
}

// GetMarker fetches one marker by id.
func (s *Store) GetMarker(ctx context.Context, id string) (types.Marker, error) {
	var r markerRow
	err := s.DB.GetContext(ctx, &r,
		"SELECT id, item_key, position, category, text, created_at, updated_at FROM markers WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Marker{}, types.NewError(types.CodeMarkerNotFound, "marker "+id+" not found", nil)
	}
	if err != nil {
		return types.Marker{}, types.NewError(types.CodeStoreFailure, "get marker "+id, err)
	}
	return r.marker(), nil
}

// DeleteMarker removes one marker and reports whether it existed.
func (s *Store) DeleteMarker(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM markers WHERE id = ?", id)
	if err != nil {
		return false, types.NewError(types.CodeStoreFailure, "delete marker "+id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, types.NewError(types.CodeStoreFailure, "delete marker "+id, err)
	}
	return n > 0, nil
}

// PruneMarkers drops markers not touched since cutoff and returns how many
// rows went away. The cache refills from the backend on the next load, so
// pruning only ever costs a refetch.
func (s *Store) PruneMarkers(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM markers WHERE updated_at < ?", cutoff.Unix())
	if err != nil {
		return 0, types.NewError(types.CodeStoreFailure, "prune markers", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, types.NewError(types.CodeStoreFailure, "prune markers", err)
	}
	return n, nil
}

type tabContextRow struct {
	TabID         string  `db:"tab_id"`
	Platform      string  `db:"platform"`
	ItemID        string  `db:"item_id"`
	LastTimestamp float64 `db:"last_timestamp"`
	Recording     bool    `db:"recording"`
	UpdatedAt     int64   `db:"updated_at"`
}

// SaveTabContext writes through one tab's context record.
func (s *Store) SaveTabContext(ctx context.Context, tc tabrouter.TabContext) error {
	if tc.UpdatedAt.IsZero() {
		tc.UpdatedAt = time.Now()
	}
	row := tabContextRow{
		TabID:         tc.TabID,
		Platform:      tc.Item.Platform,
		ItemID:        tc.Item.ID,
		LastTimestamp: tc.LastTimestamp,
		Recording:     tc.Recording,
		UpdatedAt:     tc.UpdatedAt.Unix(),
	}
	_, err := s.DB.NamedExecContext(ctx, `
		INSERT INTO tab_contexts (tab_id, platform, item_id, last_timestamp, recording, updated_at)
		VALUES (:tab_id, :platform, :item_id, :last_timestamp, :recording, :updated_at)
		ON CONFLICT (tab_id) DO UPDATE SET
			platform = excluded.platform,
			item_id = excluded.item_id,
			last_timestamp = excluded.last_timestamp,
			recording = excluded.recording,
			updated_at = excluded.updated_at`, row)
	if err != nil {
		return types.NewError(types.CodeStoreFailure, "save tab context "+tc.TabID, err)
	}
	return nil
}

// DeleteTabContext removes one tab's record. Deleting an unknown tab is
// not an error; expiry and explicit close can race.
func (s *Store) DeleteTabContext(ctx context.Context, tabID string) error {
	if _, err := s.DB.ExecContext(ctx, "DELETE FROM tab_contexts WHERE tab_id = ?", tabID); err != nil {
		return types.NewError(types.CodeStoreFailure, "delete tab context "+tabID, err)
	}
	return nil
}

// LoadTabContexts returns every persisted tab context, ordered by tab id.
func (s *Store) LoadTabContexts(ctx context.Context) ([]tabrouter.TabContext, error) {
	rows := []tabContextRow{}
	err := s.DB.SelectContext(ctx, &rows,
		"SELECT tab_id, platform, item_id, last_timestamp, recording, updated_at FROM tab_contexts ORDER BY tab_id ASC")
	if err != nil {
		return nil, types.NewError(types.CodeStoreFailure, "load tab contexts", err)
	}
	out := make([]tabrouter.TabContext, 0, len(rows))
	for _, r := range rows {
		out = append(out, tabrouter.TabContext{
			TabID:         r.TabID,
			Item:          types.ItemID{Platform: r.Platform, ID: r.ItemID},
			LastTimestamp: r.LastTimestamp,
			Recording:     r.Recording,
			UpdatedAt:     time.Unix(r.UpdatedAt, 0).UTC(),
		})
	}
	return out, nil
}

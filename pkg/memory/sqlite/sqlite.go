// Package sqlite provides the default on-device memory.Store backed by an
// embedded SQLite database (modernc.org/sqlite, no CGO).
//
// Record IDs are ULIDs, which sort lexicographically by creation time.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/lalavoice/lala/pkg/memory"
)

const defaultQueryLimit = 50

var _ memory.Store = (*Store)(nil)

// Store implements memory.Store on a local SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS records (
		id            TEXT    PRIMARY KEY,
		kind          TEXT    NOT NULL,
		content       TEXT    NOT NULL,
		tags          TEXT    NOT NULL DEFAULT '[]',
		created_at    TEXT    NOT NULL,
		expires_at    TEXT,
		importance    INTEGER NOT NULL DEFAULT 50,
		last_accessed TEXT,
		access_count  INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_records_kind    ON records(kind);
	CREATE INDEX IF NOT EXISTS idx_records_created ON records(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_records_expires ON records(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert implements memory.Store.
func (s *Store) Insert(ctx context.Context, rec *memory.Record) (string, error) {
	if rec.Kind != "" && !rec.Kind.Valid() {
		return "", fmt.Errorf("sqlite: invalid kind %q", rec.Kind)
	}

	rec.ID = ulid.Make().String()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Importance = memory.ClampImportance(rec.Importance)

	tags, err := json.Marshal(nonNil(rec.Tags))
	if err != nil {
		return "", fmt.Errorf("sqlite: marshal tags: %w", err)
	}

	const q = `
	INSERT INTO records (id, kind, content, tags, created_at, expires_at, importance, last_accessed, access_count)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		rec.ID, string(rec.Kind), rec.Content, string(tags),
		formatTime(rec.CreatedAt), nullTime(rec.ExpiresAt),
		rec.Importance, nullTime(rec.LastAccessed), rec.AccessCount,
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert: %w", memory.ErrStorage, err)
	}
	return rec.ID, nil
}

// Update implements memory.Store.
func (s *Store) Update(ctx context.Context, rec memory.Record) error {
	tags, err := json.Marshal(nonNil(rec.Tags))
	if err != nil {
		return fmt.Errorf("sqlite: marshal tags: %w", err)
	}

	const q = `
	UPDATE records
	SET kind = ?, content = ?, tags = ?, expires_at = ?, importance = ?, last_accessed = ?, access_count = ?
	WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q,
		string(rec.Kind), rec.Content, string(tags),
		nullTime(rec.ExpiresAt), memory.ClampImportance(rec.Importance),
		nullTime(rec.LastAccessed), rec.AccessCount, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: update: %w", memory.ErrStorage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// Delete implements memory.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete: %w", memory.ErrStorage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// Query implements memory.Store.
func (s *Store) Query(ctx context.Context, q memory.Query) ([]memory.Record, error) {
	var (
		conds []string
		args  []any
	)
	if len(q.Kinds) > 0 {
		ph := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			ph[i] = "?"
			args = append(args, string(k))
		}
		conds = append(conds, "kind IN ("+strings.Join(ph, ", ")+")")
	}
	if len(q.AnyTags) > 0 {
		ph := make([]string, len(q.AnyTags))
		for i, tag := range q.AnyTags {
			ph[i] = "?"
			args = append(args, tag)
		}
		conds = append(conds,
			"EXISTS (SELECT 1 FROM json_each(records.tags) WHERE json_each.value IN ("+strings.Join(ph, ", ")+"))")
	}
	if q.ContentContains != "" {
		conds = append(conds, "content LIKE '%' || ? || '%'")
		args = append(args, q.ContentContains)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	args = append(args, limit)

	stmt := fmt.Sprintf(`
	SELECT id, kind, content, tags, created_at, expires_at, importance, last_accessed, access_count
	FROM records %s
	ORDER BY created_at DESC, id DESC
	LIMIT ?`, where)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", memory.ErrStorage, err)
	}
	defer rows.Close()

	var out []memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %w", memory.ErrStorage, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query: %w", memory.ErrStorage, err)
	}
	return out, nil
}

// MarkAccessed implements memory.Store.
func (s *Store) MarkAccessed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	ph := make([]string, len(ids))
	args := []any{formatTime(at)}
	for i, id := range ids {
		ph[i] = "?"
		args = append(args, id)
	}
	stmt := fmt.Sprintf(
		`UPDATE records SET last_accessed = ?, access_count = access_count + 1 WHERE id IN (%s)`,
		strings.Join(ph, ", "))
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("%w: mark accessed: %w", memory.ErrStorage, err)
	}
	return nil
}

// DeleteExpired implements memory.Store.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE expires_at IS NOT NULL AND expires_at < ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired: %w", memory.ErrStorage, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close implements memory.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── row mapping ───

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (memory.Record, error) {
	var (
		rec          memory.Record
		kind         string
		tags         string
		createdAt    string
		expiresAt    sql.NullString
		lastAccessed sql.NullString
	)
	if err := row.Scan(&rec.ID, &kind, &rec.Content, &tags, &createdAt,
		&expiresAt, &rec.Importance, &lastAccessed, &rec.AccessCount); err != nil {
		return memory.Record{}, err
	}
	rec.Kind = memory.Kind(kind)
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return memory.Record{}, fmt.Errorf("unmarshal tags: %w", err)
	}

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return memory.Record{}, err
	}
	if expiresAt.Valid {
		if rec.ExpiresAt, err = parseTime(expiresAt.String); err != nil {
			return memory.Record{}, err
		}
	}
	if lastAccessed.Valid {
		if rec.LastAccessed, err = parseTime(lastAccessed.String); err != nil {
			return memory.Record{}, err
		}
	}
	return rec, nil
}

// timeLayout is RFC 3339 in UTC with a fixed nine-digit fraction, so stored
// strings sort chronologically. RFC3339Nano trims trailing fraction zeros,
// and "…05Z" sorts after "…05.5Z" ("Z" > ".").
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

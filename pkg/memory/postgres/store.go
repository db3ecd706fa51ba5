// Package postgres provides a PostgreSQL-backed memory.Store with an optional
// pgvector semantic index.
//
// The pgvector extension must be available in the target database; Migrate
// installs it via CREATE EXTENSION IF NOT EXISTS. All operations share a
// single pgxpool.Pool and are safe for concurrent use.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/lalavoice/lala/pkg/memory"
)

const defaultQueryLimit = 50

var (
	_ memory.Store         = (*Store)(nil)
	_ memory.SemanticIndex = (*Store)(nil)
)

// Store implements memory.Store and memory.SemanticIndex on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, registers pgvector types on every
// connection, and runs Migrate.
//
// embeddingDimensions must match the embedding model in use (e.g. 1536 for
// OpenAI text-embedding-3-small). Changing it after the first migration
// requires a manual schema change.
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the records table, indexes, and the pgvector extension.
// Idempotent; safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS records (
    id            TEXT         PRIMARY KEY,
    kind          TEXT         NOT NULL,
    content       TEXT         NOT NULL,
    tags          TEXT[]       NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expires_at    TIMESTAMPTZ,
    importance    INTEGER      NOT NULL DEFAULT 50,
    last_accessed TIMESTAMPTZ,
    access_count  INTEGER      NOT NULL DEFAULT 0,
    embedding     vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_records_kind    ON records (kind);
CREATE INDEX IF NOT EXISTS idx_records_created ON records (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_records_expires ON records (expires_at);
CREATE INDEX IF NOT EXISTS idx_records_tags    ON records USING GIN (tags);
CREATE INDEX IF NOT EXISTS idx_records_embedding
    ON records USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Insert implements memory.Store.
func (s *Store) Insert(ctx context.Context, rec *memory.Record) (string, error) {
	if rec.Kind != "" && !rec.Kind.Valid() {
		return "", fmt.Errorf("postgres: invalid kind %q", rec.Kind)
	}

	rec.ID = ulid.Make().String()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Importance = memory.ClampImportance(rec.Importance)

	const q = `
	INSERT INTO records (id, kind, content, tags, created_at, expires_at, importance, last_accessed, access_count)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, q,
		rec.ID, string(rec.Kind), rec.Content, rec.Tags,
		rec.CreatedAt, nullTime(rec.ExpiresAt),
		rec.Importance, nullTime(rec.LastAccessed), rec.AccessCount,
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert: %w", memory.ErrStorage, err)
	}
	return rec.ID, nil
}

// Update implements memory.Store.
func (s *Store) Update(ctx context.Context, rec memory.Record) error {
	const q = `
	UPDATE records
	SET kind = $2, content = $3, tags = $4, expires_at = $5, importance = $6,
	    last_accessed = $7, access_count = $8
	WHERE id = $1`
	res, err := s.pool.Exec(ctx, q,
		rec.ID, string(rec.Kind), rec.Content, rec.Tags,
		nullTime(rec.ExpiresAt), memory.ClampImportance(rec.Importance),
		nullTime(rec.LastAccessed), rec.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("%w: update: %w", memory.ErrStorage, err)
	}
	if res.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// Delete implements memory.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.pool.Exec(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: delete: %w", memory.ErrStorage, err)
	}
	if res.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// Query implements memory.Store.
func (s *Store) Query(ctx context.Context, q memory.Query) ([]memory.Record, error) {
	stmt, args := buildQuery(q)
	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", memory.ErrStorage, err)
	}

	out, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("%w: scan rows: %w", memory.ErrStorage, err)
	}
	return out, nil
}

// buildQuery assembles the SELECT for q. Split out for testability.
func buildQuery(q memory.Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(q.Kinds) > 0 {
		kinds := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			kinds[i] = string(k)
		}
		conds = append(conds, "kind = ANY("+next(kinds)+")")
	}
	if len(q.AnyTags) > 0 {
		conds = append(conds, "tags && "+next(q.AnyTags))
	}
	if q.ContentContains != "" {
		conds = append(conds, "content ILIKE "+next("%"+escapeLike(q.ContentContains)+"%"))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	stmt := fmt.Sprintf(`
	SELECT id, kind, content, tags, created_at, expires_at, importance, last_accessed, access_count
	FROM records %s
	ORDER BY created_at DESC, id DESC
	LIMIT %s`, where, next(limit))
	return stmt, args
}

// MarkAccessed implements memory.Store.
func (s *Store) MarkAccessed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `
	UPDATE records SET last_accessed = $1, access_count = access_count + 1
	WHERE id = ANY($2)`
	if _, err := s.pool.Exec(ctx, q, at, ids); err != nil {
		return fmt.Errorf("%w: mark accessed: %w", memory.ErrStorage, err)
	}
	return nil
}

// DeleteExpired implements memory.Store.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired: %w", memory.ErrStorage, err)
	}
	return int(res.RowsAffected()), nil
}

// Close implements memory.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ─── semantic index ───

// IndexEmbedding implements memory.SemanticIndex.
func (s *Store) IndexEmbedding(ctx context.Context, id string, embedding []float32) error {
	res, err := s.pool.Exec(ctx,
		`UPDATE records SET embedding = $2 WHERE id = $1`,
		id, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("%w: index embedding: %w", memory.ErrStorage, err)
	}
	if res.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// SearchSimilar implements memory.SemanticIndex. Results are ordered by
// ascending cosine distance from the query embedding.
func (s *Store) SearchSimilar(ctx context.Context, embedding []float32, topK int) ([]memory.Record, error) {
	const q = `
	SELECT id, kind, content, tags, created_at, expires_at, importance, last_accessed, access_count
	FROM records
	WHERE embedding IS NOT NULL
	ORDER BY embedding <=> $1
	LIMIT $2`
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: search similar: %w", memory.ErrStorage, err)
	}

	out, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("%w: scan rows: %w", memory.ErrStorage, err)
	}
	return out, nil
}

// ─── row mapping ───

func scanRecord(row pgx.CollectableRow) (memory.Record, error) {
	var (
		rec          memory.Record
		kind         string
		expiresAt    *time.Time
		lastAccessed *time.Time
	)
	if err := row.Scan(&rec.ID, &kind, &rec.Content, &rec.Tags, &rec.CreatedAt,
		&expiresAt, &rec.Importance, &lastAccessed, &rec.AccessCount); err != nil {
		return memory.Record{}, err
	}
	rec.Kind = memory.Kind(kind)
	if expiresAt != nil {
		rec.ExpiresAt = *expiresAt
	}
	if lastAccessed != nil {
		rec.LastAccessed = *lastAccessed
	}
	return rec, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// escapeLike escapes LIKE metacharacters in user-supplied substrings.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/docindex/internal/embed"
	"github.com/Aman-CERP/docindex/internal/errors"
)

// SQLiteFileName is the database file inside the store directory.
const SQLiteFileName = "docindex.db"

// SQLiteStore is the row-oriented backend. Elements are JSON payload rows;
// each collection row records the embedding function (model name and
// dimension) it was created with, and the store embeds content on write and
// queries on search. Keyword search uses FTS5 bm25(); vector search is a
// brute-force cosine scan.
type SQLiteStore struct {
	mu        sync.RWMutex
	path      string // database file, empty for in-memory
	names     CollectionNames
	embedder  embed.Embedder
	db        *sql.DB
	connected bool
}

var _ KnowledgeStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates an unconnected store. dir empty means in-memory.
func NewSQLiteStore(dir string, names CollectionNames, embedder embed.Embedder) *SQLiteStore {
	path := ""
	if dir != "" {
		path = filepath.Join(dir, SQLiteFileName)
	}
	return &SQLiteStore{
		path:     path,
		names:    names.withDefaults(),
		embedder: embedder,
	}
}

// Backend returns "sqlite".
func (s *SQLiteStore) Backend() string { return BackendSQLite }

// Connect opens the database, pings it and creates the schema.
func (s *SQLiteStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	dsn := ":memory:"
	if s.path != "" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return errors.ConnectionError(BackendSQLite, err).WithDetail("path", s.path)
		}
		dsn = s.path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return errors.ConnectionError(BackendSQLite, err).WithDetail("path", s.path)
	}

	// One connection: writes are serialised and an in-memory database is
	// shared by every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.ConnectionError(BackendSQLite, err).WithDetail("path", s.path)
	}

	// modernc.org/sqlite ignores most DSN parameters, so pragmas are set here.
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	if s.path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return errors.ConnectionError(BackendSQLite, fmt.Errorf("%s: %w", pragma, err))
		}
	}

	if err := initSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return errors.New(errors.ErrCodeCorruptIndex, "failed to initialize schema", err).WithDetail("path", s.path)
	}

	s.db = db
	s.connected = true
	slog.Debug("store_connected", slog.String("backend", BackendSQLite), slog.String("path", s.path))
	return nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- embedding_model and dimensions form the collection's embedding function
	CREATE TABLE IF NOT EXISTS collections (
		name            TEXT PRIMARY KEY,
		embedding_model TEXT NOT NULL,
		dimensions      INTEGER NOT NULL,
		created_at      TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS elements (
		collection TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
		id         TEXT NOT NULL,
		payload    TEXT NOT NULL,
		vector     BLOB,
		PRIMARY KEY (collection, id)
	);

	-- collection and id are stored but not searchable
	CREATE VIRTUAL TABLE IF NOT EXISTS elements_fts USING fts5(
		collection UNINDEXED,
		id UNINDEXED,
		content,
		tokenize='unicode61'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// sqliteCollection is a row of the collections table.
type sqliteCollection struct {
	model string
	dims  int
}

// lookupCollection reads the collection row or returns a not-found error.
func (s *SQLiteStore) lookupCollection(ctx context.Context, name string) (sqliteCollection, error) {
	if !s.connected {
		return sqliteCollection{}, errNotConnected(BackendSQLite)
	}

	var c sqliteCollection
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding_model, dimensions FROM collections WHERE name = ?`, name).
		Scan(&c.model, &c.dims)
	if err == sql.ErrNoRows {
		available, listErr := s.listNames(ctx)
		if listErr != nil {
			return c, errors.InternalError("failed to list collections", listErr)
		}
		return c, errors.CollectionNotFound(name, available)
	}
	if err != nil {
		return c, errors.InternalError("failed to read collection", err).WithDetail("collection", name)
	}
	return c, nil
}

func (s *SQLiteStore) listNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// embedFor embeds text with the collection's embedding function.
func (s *SQLiteStore) embedFor(ctx context.Context, name string, c sqliteCollection, text string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "failed to embed text", err).
			WithDetail("collection", name)
	}
	if len(vec) != c.dims {
		return nil, errDimensionMismatch(name, c.dims, len(vec))
	}
	if c.model != s.embedder.ModelName() {
		slog.Warn("embedding_model_differs",
			slog.String("collection", name),
			slog.String("collection_model", c.model),
			slog.String("embedder_model", s.embedder.ModelName()))
	}
	return vec, nil
}

// CreateCollection inserts the collection row with the current embedding function.
func (s *SQLiteStore) CreateCollection(ctx context.Context, name string, existOK bool) error {
	if err := checkManaged(s.names, name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return errNotConnected(BackendSQLite)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO collections (name, embedding_model, dimensions) VALUES (?, ?, ?)`,
		name, s.embedder.ModelName(), s.embedder.Dimensions())
	if err != nil {
		return errors.InternalError("failed to create collection", err).WithDetail("collection", name)
	}
	if n, _ := res.RowsAffected(); n == 0 && !existOK {
		return errors.CollectionExists(name)
	}
	return nil
}

// DeleteCollection removes the collection row, its elements and FTS rows.
func (s *SQLiteStore) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookupCollection(ctx, name); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.InternalError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM elements_fts WHERE collection = ?`,
		`DELETE FROM elements WHERE collection = ?`,
		`DELETE FROM collections WHERE name = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, name); err != nil {
			return errors.InternalError("failed to delete collection", err).WithDetail("collection", name)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.InternalError("failed to commit collection delete", err)
	}
	return nil
}

// ListCollections returns existing collection names, sorted.
func (s *SQLiteStore) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return nil, errNotConnected(BackendSQLite)
	}
	names, err := s.listNames(ctx)
	if err != nil {
		return nil, errors.InternalError("failed to list collections", err)
	}
	return names, nil
}

// Insert embeds and upserts the element row and its FTS entry.
func (s *SQLiteStore) Insert(ctx context.Context, el Element, collection string) (Element, error) {
	s.mu.RLock()
	c, err := s.lookupCollection(ctx, collection)
	s.mu.RUnlock()
	if err != nil {
		return Element{}, err
	}

	el, err = prepareElement(el)
	if err != nil {
		return Element{}, err
	}
	vec, err := s.embedFor(ctx, collection, c, el.Text())
	if err != nil {
		return Element{}, err
	}
	payload, err := encodePayload(el)
	if err != nil {
		return Element{}, errors.InternalError("failed to encode element", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Element{}, errors.InternalError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Existing rows keep their rowid so Scroll order is stable across upserts.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO elements (collection, id, payload, vector) VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET payload = excluded.payload, vector = excluded.vector`,
		collection, el.ID, payload, encodeVector(vec))
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return Element{}, errors.CollectionNotFound(collection, nil)
		}
		return Element{}, errors.InternalError("failed to upsert element", err).WithDetail("id", el.ID)
	}

	// FTS5 tables do not support upsert.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM elements_fts WHERE collection = ? AND id = ?`, collection, el.ID); err != nil {
		return Element{}, errors.InternalError("failed to replace keyword entry", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO elements_fts (collection, id, content) VALUES (?, ?, ?)`,
		collection, el.ID, strings.Join(KeywordTerms(el.Text()), " ")); err != nil {
		return Element{}, errors.InternalError("failed to index keywords", err)
	}

	if err := tx.Commit(); err != nil {
		return Element{}, errors.InternalError("failed to commit element", err)
	}
	return el, nil
}

// Update is Insert.
func (s *SQLiteStore) Update(ctx context.Context, el Element, collection string) (Element, error) {
	return s.Insert(ctx, el, collection)
}

// Delete removes one element.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookupCollection(ctx, collection); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.InternalError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM elements WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return errors.InternalError("failed to delete element", err).WithDetail("id", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ElementNotFound(collection, id)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM elements_fts WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return errors.InternalError("failed to delete keyword entry", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.InternalError("failed to commit delete", err)
	}
	return nil
}

// Search runs FTS5 bm25 for keyword mode and a cosine scan for vector mode.
func (s *SQLiteStore) Search(ctx context.Context, query, collection string, mode SearchMode, limit int) ([]Element, error) {
	s.mu.RLock()
	c, err := s.lookupCollection(ctx, collection)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if err := checkQuery(query); err != nil {
		return nil, err
	}

	keyword := func(ctx context.Context, limit int) ([]Element, error) {
		terms := KeywordTerms(query)
		if len(terms) == 0 {
			return []Element{}, nil
		}
		// Quoted terms joined by OR: any term matches, bm25 ranks the rest.
		quoted := make([]string, len(terms))
		for i, t := range terms {
			quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
		}

		s.mu.RLock()
		defer s.mu.RUnlock()
		rows, err := s.db.QueryContext(ctx, `
			SELECT e.payload
			FROM elements_fts f
			JOIN elements e ON e.collection = f.collection AND e.id = f.id
			WHERE elements_fts MATCH ? AND f.collection = ?
			ORDER BY bm25(elements_fts)
			LIMIT ?`, strings.Join(quoted, " OR "), collection, limit)
		if err != nil {
			return nil, errors.New(errors.ErrCodeSearchFailed, "keyword search failed", err)
		}
		defer func() { _ = rows.Close() }()
		return scanPayloads(rows)
	}

	vector := func(ctx context.Context, limit int) ([]Element, error) {
		q, err := s.embedFor(ctx, collection, c, query)
		if err != nil {
			return nil, err
		}

		s.mu.RLock()
		defer s.mu.RUnlock()
		rows, err := s.db.QueryContext(ctx,
			`SELECT payload, vector FROM elements WHERE collection = ? ORDER BY rowid`, collection)
		if err != nil {
			return nil, errors.New(errors.ErrCodeSearchFailed, "vector search failed", err)
		}
		defer func() { _ = rows.Close() }()

		type scored struct {
			payload string
			score   float64
		}
		var candidates []scored
		for rows.Next() {
			var payload string
			var blob []byte
			if err := rows.Scan(&payload, &blob); err != nil {
				return nil, errors.New(errors.ErrCodeSearchFailed, "failed to scan vector row", err)
			}
			vec := decodeVector(blob)
			if len(vec) != len(q) {
				continue
			}
			score := cosineSimilarity(q, vec)
			if score <= 0 {
				continue
			}
			candidates = append(candidates, scored{payload: payload, score: score})
		}
		if err := rows.Err(); err != nil {
			return nil, errors.New(errors.ErrCodeSearchFailed, "vector scan failed", err)
		}

		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
		results := make([]Element, 0, min(limit, len(candidates)))
		for _, cand := range candidates[:min(limit, len(candidates))] {
			el, err := decodePayload(cand.payload)
			if err != nil {
				return nil, err
			}
			results = append(results, el)
		}
		return results, nil
	}

	return runSearch(ctx, mode, limit, keyword, vector)
}

// Scroll pages through a collection in insertion (rowid) order.
func (s *SQLiteStore) Scroll(ctx context.Context, collection string, offset, limit int) ([]Element, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.lookupCollection(ctx, collection); err != nil {
		return nil, -1, err
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM elements WHERE collection = ?`, collection).Scan(&total); err != nil {
		return nil, -1, errors.InternalError("failed to count elements", err)
	}
	start, end, next := scrollWindow(total, offset, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM elements WHERE collection = ? ORDER BY rowid LIMIT ? OFFSET ?`,
		collection, end-start, start)
	if err != nil {
		return nil, -1, errors.InternalError("failed to scroll collection", err)
	}
	defer func() { _ = rows.Close() }()

	page, err := scanPayloads(rows)
	if err != nil {
		return nil, -1, err
	}
	return page, next, nil
}

// Flush checkpoints the WAL. Committed writes survive a crash without it.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return errNotConnected(BackendSQLite)
	}
	if s.path == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return errors.InternalError("failed to checkpoint database", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.connected = false
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

func scanPayloads(rows *sql.Rows) ([]Element, error) {
	results := []Element{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.New(errors.ErrCodeSearchFailed, "failed to scan row", err)
		}
		el, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}
		results = append(results, el)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "row iteration failed", err)
	}
	return results, nil
}

// encodeVector packs float32s little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

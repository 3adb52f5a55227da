package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/JCHanratty/CASearch/internal/query"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore implements DocumentStore and LexicalIndex on a single SQLite
// database. Pages and chunks are mirrored into FTS5 tables inside the same
// transaction that writes them, so the lexical index can never disagree with
// the stored content.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Verify interface implementation at compile time
var (
	_ DocumentStore = (*SQLiteStore)(nil)
	_ LexicalIndex  = (*SQLiteStore)(nil)
)

// DefaultSearchLimit is used when a search is issued with limit <= 0.
const DefaultSearchLimit = 50

// snippetTokens is the approximate snippet length in tokens.
const snippetTokens = 24

// validateSQLiteIntegrity checks if an existing database is usable before
// opening it. Returns nil for a missing file.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name IN ('documents', 'page_fts', 'chunk_fts')`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count != 3 {
		return fmt.Errorf("schema incomplete: found %d of 3 core tables", count)
	}

	return nil
}

// NewSQLiteStore opens or creates the store at path.
// If path is empty, creates an in-memory store for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("sqlite_store_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("store corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("sqlite_store_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: in-memory databases are per-connection, and a
	// single writer avoids lock contention between our own goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the tables and FTS5 virtual tables.
//
// FTS5 uses the plain unicode61 tokenizer. Stemming is left to the
// re-ranker so that prefix queries (term*) match exactly what was typed.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		path TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT NOT NULL DEFAULT '',
		page_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pages (
		document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		page_number INTEGER NOT NULL,
		clean_text TEXT NOT NULL,
		raw_text TEXT NOT NULL,
		PRIMARY KEY (document_id, page_number)
	);

	CREATE TABLE IF NOT EXISTS chunks (
		document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		ordinal INTEGER NOT NULL,
		text TEXT NOT NULL,
		heading TEXT NOT NULL DEFAULT '',
		parent_heading TEXT NOT NULL DEFAULT '',
		section_number TEXT NOT NULL DEFAULT '',
		page_start INTEGER NOT NULL DEFAULT 0,
		page_end INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (document_id, ordinal)
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS page_fts USING fts5(
		document_id UNINDEXED,
		page_number UNINDEXED,
		text,
		tokenize='unicode61'
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunk_fts USING fts5(
		document_id UNINDEXED,
		ordinal UNINDEXED,
		heading,
		text,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS custom_synonyms (
		term TEXT PRIMARY KEY,
		synonyms TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// ============================================================================
// Documents
// ============================================================================

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CreateDocument registers a document in pending state.
func (s *SQLiteStore) CreateDocument(ctx context.Context, name, path string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	ts := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents(name, path, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		name, path, string(StatusPending), ts, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to create document %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read document id: %w", err)
	}

	created := parseTime(ts)
	return &Document{
		ID:        id,
		Name:      name,
		Path:      path,
		Status:    StatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}, nil
}

const documentColumns = `id, name, path, status, error, page_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		d                Document
		status           string
		created, updated string
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Path, &status, &d.Error, &d.PageCount, &created, &updated); err != nil {
		return nil, err
	}
	d.Status = DocumentStatus(status)
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return &d, nil
}

// GetDocument returns a document by id, or ErrNotFound.
func (s *SQLiteStore) GetDocument(ctx context.Context, id int64) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %d: %w", id, err)
	}
	return d, nil
}

// FindDocumentByPath returns the document registered for path, or ErrNotFound.
func (s *SQLiteStore) FindDocumentByPath(ctx context.Context, path string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE path = ?`, path)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find document %s: %w", path, err)
	}
	return d, nil
}

// ListDocuments returns all documents ordered by id.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SetStatus moves a document to status. errMsg is stored only for
// StatusError and cleared otherwise.
func (s *SQLiteStore) SetStatus(ctx context.Context, id int64, status DocumentStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if status != StatusError {
		errMsg = ""
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, now(), id)
	if err != nil {
		return fmt.Errorf("failed to set status of document %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: document %d", ErrNotFound, id)
	}
	return nil
}

// RenameDocument changes the display name of a document.
func (s *SQLiteStore) RenameDocument(ctx context.Context, id int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET name = ?, updated_at = ? WHERE id = ?`, name, now(), id)
	if err != nil {
		return fmt.Errorf("failed to rename document %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: document %d", ErrNotFound, id)
	}
	return nil
}

// DeleteDocument removes a document with its pages, chunks and lexical
// postings. Vectors live outside SQLite and are removed by the caller.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteContent(ctx, tx, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: document %d", ErrNotFound, id)
	}

	return tx.Commit()
}

// deleteContent removes pages, chunks and FTS rows of a document.
// FTS5 virtual tables do not take part in foreign key cascades.
func deleteContent(ctx context.Context, tx *sql.Tx, id int64) error {
	stmts := []string{
		`DELETE FROM page_fts WHERE document_id = ?`,
		`DELETE FROM chunk_fts WHERE document_id = ?`,
		`DELETE FROM pages WHERE document_id = ?`,
		`DELETE FROM chunks WHERE document_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete content of document %d: %w", id, err)
		}
	}
	return nil
}

// ReplaceContent swaps the pages and chunks of a document and updates its
// page count, all in one transaction.
func (s *SQLiteStore) ReplaceContent(ctx context.Context, id int64, pages []Page, chunks []Chunk) error {
	for _, p := range pages {
		if len(p.CleanText) > len(p.RawText) {
			return fmt.Errorf("page %d of document %d: clean text longer than raw text", p.Number, id)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check document %d: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: document %d", ErrNotFound, id)
	}

	if err := deleteContent(ctx, tx, id); err != nil {
		return err
	}

	pageStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO pages(document_id, page_number, clean_text, raw_text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare page statement: %w", err)
	}
	defer pageStmt.Close()

	pageFTS, err := tx.PrepareContext(ctx,
		`INSERT INTO page_fts(document_id, page_number, text) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare page FTS statement: %w", err)
	}
	defer pageFTS.Close()

	for _, p := range pages {
		if _, err := pageStmt.ExecContext(ctx, id, p.Number, p.CleanText, p.RawText); err != nil {
			return fmt.Errorf("failed to insert page %d: %w", p.Number, err)
		}
		if _, err := pageFTS.ExecContext(ctx, id, p.Number, p.CleanText); err != nil {
			return fmt.Errorf("failed to index page %d: %w", p.Number, err)
		}
	}

	chunkStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks(document_id, ordinal, text, heading, parent_heading, section_number, page_start, page_end)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk statement: %w", err)
	}
	defer chunkStmt.Close()

	chunkFTS, err := tx.PrepareContext(ctx,
		`INSERT INTO chunk_fts(document_id, ordinal, heading, text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk FTS statement: %w", err)
	}
	defer chunkFTS.Close()

	for _, c := range chunks {
		if _, err := chunkStmt.ExecContext(ctx, id, c.Ordinal, c.Text, c.Heading, c.ParentHeading,
			c.SectionNumber, c.PageStart, c.PageEnd); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.Ordinal, err)
		}
		if _, err := chunkFTS.ExecContext(ctx, id, c.Ordinal, c.Heading, c.Text); err != nil {
			return fmt.Errorf("failed to index chunk %d: %w", c.Ordinal, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET page_count = ?, updated_at = ? WHERE id = ?`,
		len(pages), now(), id); err != nil {
		return fmt.Errorf("failed to update page count: %w", err)
	}

	return tx.Commit()
}

// ============================================================================
// Pages and chunks
// ============================================================================

// GetPage returns one page, or ErrNotFound.
func (s *SQLiteStore) GetPage(ctx context.Context, documentID int64, number int) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	p := Page{DocumentID: documentID, Number: number}
	err := s.db.QueryRowContext(ctx,
		`SELECT clean_text, raw_text FROM pages WHERE document_id = ? AND page_number = ?`,
		documentID, number).Scan(&p.CleanText, &p.RawText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: page %d of document %d", ErrNotFound, number, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return &p, nil
}

const chunkColumns = `document_id, ordinal, text, heading, parent_heading, section_number, page_start, page_end`

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	if err := row.Scan(&c.DocumentID, &c.Ordinal, &c.Text, &c.Heading, &c.ParentHeading,
		&c.SectionNumber, &c.PageStart, &c.PageEnd); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChunk returns one chunk, or ErrNotFound.
func (s *SQLiteStore) GetChunk(ctx context.Context, documentID int64, ordinal int) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? AND ordinal = ?`,
		documentID, ordinal)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chunk %d of document %d", ErrNotFound, ordinal, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return c, nil
}

// ListChunks returns the chunks of a document in ordinal order.
func (s *SQLiteStore) ListChunks(ctx context.Context, documentID int64) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? ORDER BY ordinal`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ExistingRefs returns the subset of refs that still resolve to a page or
// chunk.
func (s *SQLiteStore) ExistingRefs(ctx context.Context, refs []Ref) (map[Ref]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	found := make(map[Ref]bool, len(refs))
	for _, ref := range refs {
		var stmt string
		switch ref.Kind {
		case KindPage:
			stmt = `SELECT 1 FROM pages WHERE document_id = ? AND page_number = ?`
		case KindChunk:
			stmt = `SELECT 1 FROM chunks WHERE document_id = ? AND ordinal = ?`
		default:
			continue
		}
		var one int
		err := s.db.QueryRowContext(ctx, stmt, ref.DocumentID, ref.Ordinal).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check ref %s: %w", ref, err)
		}
		found[ref] = true
	}
	return found, nil
}

// Stats returns document, page and chunk counts.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	st := &Stats{ByStatus: make(map[DocumentStatus]int)}
	counts := []struct {
		stmt string
		dst  *int
	}{
		{`SELECT COUNT(*) FROM documents`, &st.Documents},
		{`SELECT COUNT(*) FROM pages`, &st.Pages},
		{`SELECT COUNT(*) FROM chunks`, &st.Chunks},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.stmt).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to count: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		st.ByStatus[DocumentStatus(status)] = n
	}
	return st, rows.Err()
}

// ============================================================================
// Lexical search
// ============================================================================

// Search runs an FTS5 MATCH over pages or chunks. Chunk headings weigh twice
// as much as chunk text. Scores are negated bm25() values, so higher is
// better. Ties break on document id then ordinal.
func (s *SQLiteStore) Search(ctx context.Context, coll Collection, q query.Query, limit int) ([]LexicalHit, error) {
	expr := query.BuildLexicalQuery(q)
	if expr == "" {
		return []LexicalHit{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var (
		stmt string
		kind Kind
	)
	filter := ""
	args := []any{expr}
	if q.DocumentID != 0 {
		filter = " AND document_id = ?"
		args = append(args, q.DocumentID)
	}
	args = append(args, limit)

	switch coll {
	case CollectionPages:
		kind = KindPage
		stmt = fmt.Sprintf(`
			SELECT document_id, page_number, bm25(page_fts) AS score,
			       snippet(page_fts, 2, '[', ']', '...', %d)
			FROM page_fts
			WHERE page_fts MATCH ?%s
			ORDER BY score, document_id, page_number
			LIMIT ?`, snippetTokens, filter)
	case CollectionChunks:
		kind = KindChunk
		stmt = fmt.Sprintf(`
			SELECT document_id, ordinal, bm25(chunk_fts, 0.0, 0.0, 2.0, 1.0) AS score,
			       snippet(chunk_fts, 3, '[', ']', '...', %d)
			FROM chunk_fts
			WHERE chunk_fts MATCH ?%s
			ORDER BY score, document_id, ordinal
			LIMIT ?`, snippetTokens, filter)
	default:
		return nil, fmt.Errorf("unknown collection %q", coll)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		// FTS5 returns error for invalid match queries, treat as no results
		if isFTSSyntaxError(err) {
			slog.Debug("fts_query_rejected",
				slog.String("expr", expr),
				slog.String("error", err.Error()))
			return []LexicalHit{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	hits := []LexicalHit{}
	for rows.Next() {
		var (
			docID   int64
			ordinal int
			score   float64
			snippet sql.NullString
		)
		if err := rows.Scan(&docID, &ordinal, &score, &snippet); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		hits = append(hits, LexicalHit{
			Ref:     Ref{Kind: kind, DocumentID: docID, Ordinal: ordinal},
			Score:   -score,
			Snippet: snippet.String,
		})
	}
	if err := rows.Err(); err != nil {
		if isFTSSyntaxError(err) {
			return []LexicalHit{}, nil
		}
		return nil, err
	}
	return hits, nil
}

func isFTSSyntaxError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fts5:") || strings.Contains(msg, "syntax error")
}

// Count returns the number of pages or chunks stored.
func (s *SQLiteStore) Count(ctx context.Context, coll Collection) (int, error) {
	var table string
	switch coll {
	case CollectionPages:
		table = "pages"
	case CollectionChunks:
		table = "chunks"
	default:
		return 0, fmt.Errorf("unknown collection %q", coll)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// ============================================================================
// Custom synonyms
// ============================================================================

// ListSynonyms returns the persisted synonym groups ordered by term.
func (s *SQLiteStore) ListSynonyms(ctx context.Context) ([]Synonym, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT term, synonyms FROM custom_synonyms ORDER BY term`)
	if err != nil {
		return nil, fmt.Errorf("failed to list synonyms: %w", err)
	}
	defer rows.Close()

	var out []Synonym
	for rows.Next() {
		var (
			syn  Synonym
			list string
		)
		if err := rows.Scan(&syn.Term, &list); err != nil {
			return nil, fmt.Errorf("failed to scan synonym: %w", err)
		}
		if err := json.Unmarshal([]byte(list), &syn.Synonyms); err != nil {
			slog.Warn("synonym_row_invalid",
				slog.String("term", syn.Term),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, syn)
	}
	return out, rows.Err()
}

// SaveSynonyms upserts synonym groups by term.
func (s *SQLiteStore) SaveSynonyms(ctx context.Context, synonyms []Synonym) error {
	if len(synonyms) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO custom_synonyms(term, synonyms, updated_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare synonym statement: %w", err)
	}
	defer stmt.Close()

	ts := now()
	for _, syn := range synonyms {
		term := strings.ToLower(strings.TrimSpace(syn.Term))
		if term == "" {
			continue
		}
		list, err := json.Marshal(syn.Synonyms)
		if err != nil {
			return fmt.Errorf("failed to encode synonyms for %s: %w", term, err)
		}
		if _, err := stmt.ExecContext(ctx, term, string(list), ts); err != nil {
			return fmt.Errorf("failed to save synonyms for %s: %w", term, err)
		}
	}

	return tx.Commit()
}

// DeleteSynonym removes the group for term, or returns ErrNotFound.
func (s *SQLiteStore) DeleteSynonym(ctx context.Context, term string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM custom_synonyms WHERE term = ?`,
		strings.ToLower(strings.TrimSpace(term)))
	if err != nil {
		return fmt.Errorf("failed to delete synonym %s: %w", term, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: synonym %s", ErrNotFound, term)
	}
	return nil
}

// ============================================================================
// Lifecycle
// ============================================================================

// Checkpoint forces a WAL checkpoint so the main database file is complete.
func (s *SQLiteStore) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.path == "" {
		return nil
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return nil
}

// DB returns the underlying database so query telemetry can share it. The
// store keeps ownership; callers must not close it.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close releases the database. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

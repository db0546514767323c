// Package chunkstore persists document chunks in SQLite and serves the
// lexical half of the hybrid index through an FTS5 full-text table.
package chunkstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/docscope/docscope/internal/rag"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	document_id TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL,
	title       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_project ON documents(project_id);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id        TEXT PRIMARY KEY,
	document_id     TEXT NOT NULL,
	document_title  TEXT NOT NULL,
	project_id      TEXT NOT NULL,
	page_number     INTEGER NOT NULL DEFAULT 0,
	char_start      INTEGER NOT NULL DEFAULT 0,
	char_end        INTEGER NOT NULL DEFAULT 0,
	bounding_region TEXT,
	text            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_project ON chunks(project_id);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	text,
	content='chunks',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
	INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
END;

CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
	INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
END;

CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
	INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
	INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
END;
`

// Document is one ingested file's registry entry.
type Document struct {
	DocumentID string `json:"document_id"`
	ProjectID  string `json:"project_id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

// Store is the SQLite-backed chunk store.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewStore opens (creating if necessary) the store at path. Use
// ":memory:" for an ephemeral store.
func NewStore(path string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		path += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveDocument upserts a document registry entry.
func (s *Store) SaveDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (document_id, project_id, title, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			project_id = excluded.project_id,
			title = excluded.title,
			status = excluded.status`,
		doc.DocumentID, doc.ProjectID, doc.Title, doc.Status)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// SetDocumentStatus updates a document's ingestion status.
func (s *Store) SetDocumentStatus(ctx context.Context, documentID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ? WHERE document_id = ?`, status, documentID)
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s not found", documentID)
	}
	return nil
}

// Documents returns the registry entries for the given ids; missing ids
// are silently absent.
func (s *Store) Documents(ctx context.Context, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, project_id, title, status, created_at
		 FROM documents WHERE document_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// ProjectDocuments lists all documents in a project.
func (s *Store) ProjectDocuments(ctx context.Context, projectID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, project_id, title, status, created_at
		 FROM documents WHERE project_id = ? ORDER BY created_at, document_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying project documents: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.DocumentID, &d.ProjectID, &d.Title, &d.Status, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SaveChunks upserts chunks in a single transaction. The FTS index stays
// in sync through triggers.
func (s *Store) SaveChunks(ctx context.Context, chunks []rag.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, document_id, document_title, project_id,
			page_number, char_start, char_end, bounding_region, text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			document_id = excluded.document_id,
			document_title = excluded.document_title,
			project_id = excluded.project_id,
			page_number = excluded.page_number,
			char_start = excluded.char_start,
			char_end = excluded.char_end,
			bounding_region = excluded.bounding_region,
			text = excluded.text`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		var region interface{}
		if c.BoundingRegion != nil {
			data, err := json.Marshal(c.BoundingRegion)
			if err != nil {
				return fmt.Errorf("marshaling bounding region: %w", err)
			}
			region = string(data)
		}
		if _, err := stmt.ExecContext(ctx, c.ChunkID, c.DocumentID, c.DocumentTitle,
			c.ProjectID, c.PageNumber, c.CharStart, c.CharEnd, region, c.Text); err != nil {
			return fmt.Errorf("upserting chunk %s: %w", c.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chunks: %w", err)
	}

	s.logger.WithField("count", len(chunks)).Debug("Chunks saved")
	return nil
}

// DeleteDocumentChunks removes all chunks of a document.
func (s *Store) DeleteDocumentChunks(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

// ChunksByIDs implements rag.ChunkReader.
func (s *Store) ChunksByIDs(ctx context.Context, ids []string) ([]rag.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, document_id, document_title, project_id,
			page_number, char_start, char_end, bounding_region, text
		FROM chunks WHERE chunk_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// DocumentChunks implements rag.ChunkReader: chunks of one document in
// reading order.
func (s *Store) DocumentChunks(ctx context.Context, documentID string, limit int) ([]rag.Chunk, error) {
	query := `
		SELECT chunk_id, document_id, document_title, project_id,
			page_number, char_start, char_end, bounding_region, text
		FROM chunks WHERE document_id = ?
		ORDER BY page_number, char_start`
	args := []interface{}{documentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying document chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// Search implements rag.LexicalSearcher with BM25 ranking. The raw query
// is reduced to alphanumeric tokens ORed together so user punctuation
// cannot break the FTS5 query syntax.
func (s *Store) Search(ctx context.Context, query string, scope rag.Scope, limit int) ([]rag.LexicalHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	sqlQuery := `
		SELECT c.chunk_id, c.document_id, c.document_title, c.project_id,
			c.page_number, c.char_start, c.char_end, c.bounding_region, c.text,
			bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?`
	args := []interface{}{match}

	if scope.DocumentID != "" {
		sqlQuery += ` AND c.document_id = ?`
		args = append(args, scope.DocumentID)
	} else if scope.ProjectID != "" {
		sqlQuery += ` AND c.project_id = ?`
		args = append(args, scope.ProjectID)
	}

	sqlQuery += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var hits []rag.LexicalHit
	for rows.Next() {
		var c rag.Chunk
		var region sql.NullString
		var rank float64
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.DocumentTitle, &c.ProjectID,
			&c.PageNumber, &c.CharStart, &c.CharEnd, &region, &c.Text, &rank); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		if err := unmarshalRegion(region, &c); err != nil {
			return nil, err
		}
		// bm25() reports better matches as smaller values
		hits = append(hits, rag.LexicalHit{Chunk: c, Score: -rank})
	}
	return hits, rows.Err()
}

func scanChunks(rows *sql.Rows) ([]rag.Chunk, error) {
	var chunks []rag.Chunk
	for rows.Next() {
		var c rag.Chunk
		var region sql.NullString
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.DocumentTitle, &c.ProjectID,
			&c.PageNumber, &c.CharStart, &c.CharEnd, &region, &c.Text); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if err := unmarshalRegion(region, &c); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func unmarshalRegion(region sql.NullString, c *rag.Chunk) error {
	if !region.Valid || region.String == "" {
		return nil
	}
	var br rag.BoundingRegion
	if err := json.Unmarshal([]byte(region.String), &br); err != nil {
		return fmt.Errorf("unmarshaling bounding region for chunk %s: %w", c.ChunkID, err)
	}
	c.BoundingRegion = &br
	return nil
}

// ftsQuery converts free text into a safe FTS5 OR query.
func ftsQuery(query string) string {
	tokens := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	quoted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		quoted = append(quoted, `"`+tok+`"`)
	}
	return strings.Join(quoted, " OR ")
}

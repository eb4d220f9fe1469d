// Package store persists embedded documents in sqlite and serves hybrid
// vector+lexical retrieval over them. The lexical side is an FTS5 index
// kept consistent with the documents table by a full rebuild after every
// write batch.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Napageneral/recall/internal/embed"
)

var (
	// ErrStoreUnavailable indicates the backing index could not be reached.
	ErrStoreUnavailable = errors.New("document store unavailable")
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")
)

// SourceAgentSuggestion marks machine-generated reply suggestions awaiting
// human review. Combined with the annotated flag it distinguishes pending
// suggestions from golden examples.
const SourceAgentSuggestion = "agent_suggestion"

// Document is one embedded, retrievable text snippet.
type Document struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Path      string    `json:"path"`
	Annotated bool      `json:"annotated"`
	Vector    []float32 `json:"-"`
}

// DocumentInput is a document before embedding.
type DocumentInput struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	Source    string `json:"source,omitempty"`
	Path      string `json:"path,omitempty"`
	Annotated bool   `json:"annotated,omitempty"`
}

// Store owns the documents table and its FTS5 index.
type Store struct {
	db       *sql.DB
	provider embed.Provider

	// rebuildMu serializes write batches so one writer's FTS rebuild is
	// never clobbered mid-flight by another.
	rebuildMu sync.Mutex
}

// New creates a store over an open database handle.
func New(db *sql.DB, provider embed.Provider) *Store {
	return &Store{db: db, provider: provider}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL DEFAULT '',
			annotated INTEGER NOT NULL DEFAULT 0,
			embedding BLOB
		);
		CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path);
		CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
			text,
			content='documents',
			content_rowid='rowid'
		)
	`)
	if err != nil {
		return fmt.Errorf("%w: ensure schema: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeriveID computes the deterministic document id used when the caller
// supplies none, so re-ingesting identical content upserts the same row.
func DeriveID(source, path, text string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + path + "\x00" + text))
	return "doc:" + hex.EncodeToString(sum[:16])
}

// Upsert embeds and persists a batch of documents. One row per id: re-adding
// an existing id replaces its text, provenance and vector but keeps its
// annotation state. Rows whose id and text are already stored are skipped
// without re-embedding.
func (s *Store) Upsert(ctx context.Context, inputs []DocumentInput) error {
	if len(inputs) == 0 {
		return nil
	}

	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	if err := s.ensureSchema(ctx); err != nil {
		return err
	}

	type pending struct {
		input  DocumentInput
		vector []float32
	}

	var rows []pending
	for _, input := range inputs {
		text := strings.TrimSpace(input.Text)
		if text == "" {
			continue
		}
		input.Text = text
		if input.ID == "" {
			input.ID = DeriveID(input.Source, input.Path, text)
		}

		var storedText string
		err := s.db.QueryRowContext(ctx, `SELECT text FROM documents WHERE id = ?`, input.ID).Scan(&storedText)
		switch {
		case err == nil && storedText == text:
			// Unchanged: embedding is the expensive step, skip it.
			continue
		case err != nil && err != sql.ErrNoRows:
			return fmt.Errorf("%w: check existing: %v", ErrStoreUnavailable, err)
		}

		vector, err := s.provider.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("embed document %s: %w", input.ID, err)
		}
		rows = append(rows, pending{input: input, vector: vector})
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin upsert: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, text, source, path, annotated, embedding)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				text = excluded.text,
				source = excluded.source,
				path = excluded.path,
				embedding = excluded.embedding
		`, row.input.ID, row.input.Text, row.input.Source, row.input.Path,
			boolToInt(row.input.Annotated), embed.VectorToBlob(row.vector))
		if err != nil {
			return fmt.Errorf("%w: upsert %s: %v", ErrStoreUnavailable, row.input.ID, err)
		}
	}

	// Rebuild replaces the FTS contents wholesale so the lexical index
	// always mirrors the documents table, never accumulates duplicates.
	if _, err := tx.ExecContext(ctx, `INSERT INTO documents_fts(documents_fts) VALUES('rebuild')`); err != nil {
		return fmt.Errorf("%w: rebuild fts: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit upsert: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Exists reports whether a document with the given id is stored.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: exists: %v", ErrStoreUnavailable, err)
	}
	return true, nil
}

// Annotate flips the golden-example flag on a document.
func (s *Store) Annotate(ctx context.Context, id string, isGolden bool) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET annotated = ? WHERE id = ?`, boolToInt(isGolden), id)
	if err != nil {
		return fmt.Errorf("%w: annotate: %v", ErrStoreUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Delete removes a document and refreshes the lexical index.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	if err := s.ensureSchema(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin delete: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrStoreUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO documents_fts(documents_fts) VALUES('rebuild')`); err != nil {
		return fmt.Errorf("%w: rebuild fts: %v", ErrStoreUnavailable, err)
	}
	return tx.Commit()
}

// HistoryByPrefix returns all documents whose path starts with pathPrefix,
// deduplicated by id (path+text when id is blank). Callers order results
// by the embedded timestamp themselves.
func (s *Store) HistoryByPrefix(ctx context.Context, pathPrefix string) ([]Document, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, source, path, annotated
		FROM documents
		WHERE path LIKE ? ESCAPE '\'
	`, escapeLike(pathPrefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("%w: history query: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var docs []Document
	for rows.Next() {
		var d Document
		var annotated int
		if err := rows.Scan(&d.ID, &d.Text, &d.Source, &d.Path, &annotated); err != nil {
			continue
		}
		d.Annotated = annotated == 1
		key := d.ID
		if key == "" {
			key = d.Path + "\x00" + d.Text
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// escapeLike neutralizes LIKE metacharacters so a prefix matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// GoldenExamples returns curated exemplar documents.
func (s *Store) GoldenExamples(ctx context.Context, limit int) ([]Document, error) {
	return s.annotatedDocs(ctx, limit, false)
}

// PendingSuggestions returns machine-generated suggestions awaiting review.
func (s *Store) PendingSuggestions(ctx context.Context, limit int) ([]Document, error) {
	return s.annotatedDocs(ctx, limit, true)
}

func (s *Store) annotatedDocs(ctx context.Context, limit int, suggestions bool) ([]Document, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	op := "!="
	if suggestions {
		op = "="
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, source, path, annotated
		FROM documents
		WHERE annotated = 1 AND source `+op+` ?
		LIMIT ?
	`, SourceAgentSuggestion, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: annotated query: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var annotated int
		if err := rows.Scan(&d.ID, &d.Text, &d.Source, &d.Path, &annotated); err != nil {
			continue
		}
		d.Annotated = annotated == 1
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

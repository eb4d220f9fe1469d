package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Napageneral/recall/internal/embed"
)

const defaultSearchLimit = 10

// SearchResult is a document with its fused relevance score.
type SearchResult struct {
	Document
	Score          float64            `json:"score"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown,omitempty"`
}

// HybridSearch ranks documents by a fused score of vector similarity and
// FTS5 bm25 relevance. Exact keyword hits surface highly even when
// semantically unrelated to the query; semantically related text surfaces
// even without shared vocabulary.
func (s *Store) HybridSearch(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("store: query is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	queryVector, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	lexicalScores, err := s.searchLexical(ctx, query, limit*4)
	if err != nil {
		return nil, err
	}
	maxLexical := 0.0
	for _, score := range lexicalScores {
		if score > maxLexical {
			maxLexical = score
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, text, source, path, annotated, embedding FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("%w: scan documents: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var d Document
		var annotated int
		var blob []byte
		if err := rows.Scan(&d.ID, &d.Text, &d.Source, &d.Path, &annotated, &blob); err != nil {
			continue
		}
		d.Annotated = annotated == 1

		breakdown := map[string]float64{}

		vectorScore := 0.0
		if vector := embed.BlobToVector(blob); len(vector) == len(queryVector) {
			vectorScore = normalizeCosine(embed.Dot(queryVector, vector))
			breakdown["vector"] = vectorScore
		}

		lexicalScore := 0.0
		if maxLexical > 0 {
			lexicalScore = lexicalScores[d.ID] / maxLexical
		}
		if lexicalScore > 0 {
			breakdown["lexical"] = lexicalScore
		}

		if vectorScore == 0 && lexicalScore == 0 {
			continue
		}

		results = append(results, SearchResult{
			Document:       d,
			Score:          0.6*vectorScore + 0.4*lexicalScore,
			ScoreBreakdown: breakdown,
		})
	}
	if err := rows.Err(); err != nil {
		return results, fmt.Errorf("%w: scan documents: %v", ErrStoreUnavailable, err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// searchLexical returns bm25 relevance per document id. BM25 reports
// negative scores with lower as better; they are negated here so higher
// means more relevant, matching the vector side.
func (s *Store) searchLexical(ctx context.Context, query string, limit int) (map[string]float64, error) {
	safeQuery := escapeFTS5Query(query)
	if safeQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, bm25(documents_fts) AS score
		FROM documents_fts f
		JOIN documents d ON d.rowid = f.rowid
		WHERE documents_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, safeQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: fts query: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			continue
		}
		scores[id] = -score
	}
	return scores, rows.Err()
}

func splitTerms(query string) []string {
	query = strings.ToLower(query)
	parts := strings.FieldsFunc(query, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == ',' || r == '.' || r == ':' || r == ';' || r == '/' || r == '\\' || r == '-'
	})
	var terms []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			terms = append(terms, part)
		}
	}
	return terms
}

func escapeFTS5Query(query string) string {
	// FTS5 special chars: AND OR NOT NEAR ( ) " * - + :
	// Quote each term to escape them.
	terms := splitTerms(query)
	escaped := make([]string, 0, len(terms))
	for _, term := range terms {
		escaped = append(escaped, "\""+strings.ReplaceAll(term, "\"", "\"\"")+"\"")
	}
	if len(escaped) == 0 {
		return ""
	}
	// Join with OR for broader matching.
	return strings.Join(escaped, " OR ")
}

func normalizeCosine(score float64) float64 {
	if score < -1 {
		score = -1
	} else if score > 1 {
		score = 1
	}
	return (score + 1) / 2
}

// Get returns a single document by id.
func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return Document{}, err
	}
	var d Document
	var annotated int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, text, source, path, annotated FROM documents WHERE id = ?
	`, id).Scan(&d.ID, &d.Text, &d.Source, &d.Path, &annotated)
	if err == sql.ErrNoRows {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("%w: get: %v", ErrStoreUnavailable, err)
	}
	d.Annotated = annotated == 1
	return d, nil
}

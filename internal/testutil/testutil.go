// Package testutil provides shared helpers for package tests.
package testutil

import (
	"context"
	"database/sql"
	"hash/fnv"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Napageneral/recall/internal/db"
	"github.com/Napageneral/recall/internal/embed"
)

// OpenTestDB opens a fresh database in a per-test temp directory.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.OpenPath(filepath.Join(t.TempDir(), "recall.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// StubDimension is the vector width of StubProvider.
const StubDimension = 64

// StubProvider is a deterministic in-process embedder: each token hashes to
// one dimension, so texts sharing tokens have high cosine similarity.
// Output is unit-normalized like any real provider.
type StubProvider struct{}

// Embed generates the token-hash vector for text.
func (StubProvider) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, StubDimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		v[h.Sum32()%StubDimension] += 1
	}
	return embed.Normalize(v), nil
}

// Dimension returns the stub vector width.
func (StubProvider) Dimension() int {
	return StubDimension
}

package store

import (
	"context"
	"testing"
)

func TestHybridSearchPrefersKeywordMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, []DocumentInput{
		{ID: "dog", Text: "dog barks"},
		{ID: "cat", Text: "cat meows"},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := s.HybridSearch(ctx, "dog", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected results")
	}
	if results[0].ID != "dog" {
		t.Fatalf("expected dog first, got %s", results[0].ID)
	}
	for _, r := range results[1:] {
		if r.ID == "cat" && r.Score >= results[0].Score {
			t.Fatalf("cat must not outrank dog")
		}
	}
}

func TestHybridSearchSurfacesLiteralToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, []DocumentInput{
		{ID: "target", Text: "shipment code XY-99-BETA confirmed"},
		{ID: "noise1", Text: "lunch on thursday works for me"},
		{ID: "noise2", Text: "see you at the gym later"},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := s.HybridSearch(ctx, "XY-99-BETA", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected results")
	}
	if results[0].ID != "target" {
		t.Fatalf("expected literal-token document first, got %s", results[0].ID)
	}
}

func TestHybridSearchSemanticWithoutSharedVocabulary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// The stub embedder scores shared tokens; "running" overlaps "running
	// shoes" semantically here while the other document shares nothing.
	if err := s.Upsert(ctx, []DocumentInput{
		{ID: "shoes", Text: "new running shoes arrived"},
		{ID: "taxes", Text: "quarterly filing deadline approaching"},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := s.HybridSearch(ctx, "running", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 || results[0].ID != "shoes" {
		t.Fatalf("expected shoes first, got %+v", results)
	}
	if results[0].ScoreBreakdown["vector"] == 0 {
		t.Fatalf("expected a vector contribution, got %+v", results[0].ScoreBreakdown)
	}
}

func TestHybridSearchEmptyQuery(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.HybridSearch(context.Background(), "   ", 5); err == nil {
		t.Fatalf("expected error for blank query")
	}
}

func TestEscapeFTS5Query(t *testing.T) {
	cases := map[string]string{
		"dog":            `"dog"`,
		"XY-99-BETA":     `"xy" OR "99" OR "beta"`,
		`say "hi" there`: `"say" OR """hi""" OR "there"`,
		"   ":            "",
	}
	for in, want := range cases {
		if got := escapeFTS5Query(in); got != want {
			t.Errorf("escapeFTS5Query(%q) = %q, want %q", in, got, want)
		}
	}
}

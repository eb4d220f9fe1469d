package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageSuggestionIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.RecordContact(ctx, "ana@example.com", time.Unix(1000, 0), "email")
	require.NoError(t, err)

	first, staged, err := r.StageSuggestion(ctx, "ana@example.com", SuggestionProfession, "architect")
	require.NoError(t, err)
	require.True(t, staged)
	require.NotNil(t, first)

	// Identical pending content is not staged twice.
	_, staged, err = r.StageSuggestion(ctx, "ana@example.com", SuggestionProfession, "architect")
	require.NoError(t, err)
	assert.False(t, staged)

	pending, err := r.ListSuggestions(ctx, first.ContactID, StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDeclineSuppressesForever(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	c, err := r.RecordContact(ctx, "ana@example.com", time.Unix(1000, 0), "email")
	require.NoError(t, err)

	s, staged, err := r.StageSuggestion(ctx, "ana@example.com", SuggestionNote, "has two kids")
	require.NoError(t, err)
	require.True(t, staged)

	require.NoError(t, r.DeclineSuggestion(ctx, s.ID))

	// Declined content never comes back.
	_, staged, err = r.StageSuggestion(ctx, "ana@example.com", SuggestionNote, "has two kids")
	require.NoError(t, err)
	assert.False(t, staged)

	pending, err := r.ListSuggestions(ctx, c.ID, StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	rejected, err := r.ListSuggestions(ctx, c.ID, StatusRejected)
	require.NoError(t, err)
	assert.Len(t, rejected, 1)
}

func TestAcceptSuggestionAppliesByKind(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	c, err := r.RecordContact(ctx, "+15551234", time.Unix(1000, 0), "imessage")
	require.NoError(t, err)

	stage := func(kind, content string) *Suggestion {
		t.Helper()
		s, staged, err := r.StageSuggestion(ctx, "+15551234", kind, content)
		require.NoError(t, err)
		require.True(t, staged)
		return s
	}

	require.NoError(t, r.AcceptSuggestion(ctx, stage(SuggestionProfession, "architect").ID))
	require.NoError(t, r.AcceptSuggestion(ctx, stage(SuggestionNote, "moving to Lisbon").ID))
	require.NoError(t, r.AcceptSuggestion(ctx, stage(SuggestionEmail, "ana@example.com").ID))

	loaded, err := r.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "architect", loaded.Profession)
	assert.Contains(t, loaded.Channels["email"], "ana@example.com")
	require.Len(t, loaded.Notes, 1)
	assert.Equal(t, "moving to Lisbon", loaded.Notes[0].Text)

	// Accepting twice fails: the suggestion is no longer pending.
	s := stage(SuggestionRelationship, "client")
	require.NoError(t, r.AcceptSuggestion(ctx, s.ID))
	assert.ErrorIs(t, r.AcceptSuggestion(ctx, s.ID), ErrNotFound)
}

func TestStageSuggestionUnknownContact(t *testing.T) {
	r := newTestRegistry(t)
	_, _, err := r.StageSuggestion(context.Background(), "nobody@example.com", SuggestionNote, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStageSuggestionBadKind(t *testing.T) {
	r := newTestRegistry(t)
	_, _, err := r.StageSuggestion(context.Background(), "x", "shoe_size", "44")
	assert.Error(t, err)
}

package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Napageneral/recall/internal/testutil"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(testutil.OpenTestDB(t))
}

func TestRecordContactCreatesAndClassifies(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	phone, err := r.RecordContact(ctx, "+15551234", time.Unix(1000, 0), "imessage")
	require.NoError(t, err)
	assert.Contains(t, phone.Channels["phone"], "+15551234")
	assert.Equal(t, "imessage", phone.LastChannel)

	mail, err := r.RecordContact(ctx, "ana@example.com", time.Unix(2000, 0), "")
	require.NoError(t, err)
	assert.Contains(t, mail.Channels["email"], "ana@example.com")
	assert.Equal(t, "email", mail.LastChannel)
	assert.NotEqual(t, phone.ID, mail.ID)
}

func TestResolveCaseInsensitiveExact(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	created, err := r.RecordContact(ctx, "Ana@Example.com", time.Unix(1000, 0), "email")
	require.NoError(t, err)

	resolved, err := r.Resolve(ctx, "ana@example.COM")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, created.ID, resolved.ID)

	// No fuzzy matching.
	miss, err := r.Resolve(ctx, "ana@example")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestRecordContactMonotonicMax(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.RecordContact(ctx, "+15551234", time.Unix(5000, 0), "imessage")
	require.NoError(t, err)

	// An older timestamp never moves the stamp backwards.
	c, err := r.RecordContact(ctx, "+15551234", time.Unix(3000, 0), "whatsapp")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), c.LastContacted.Unix())
	assert.Equal(t, "imessage", c.LastChannel)

	c, err = r.RecordContact(ctx, "+15551234", time.Unix(9000, 0), "whatsapp")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), c.LastContacted.Unix())
	assert.Equal(t, "whatsapp", c.LastChannel)
}

func TestRecordContactConcurrentMonotonicMax(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	created, err := r.RecordContact(ctx, "+15551234", time.Unix(1, 0), "imessage")
	require.NoError(t, err)

	timestamps := []int64{100, 9000, 50, 7000, 300, 8500, 42, 6000}
	var wg sync.WaitGroup
	for _, ts := range timestamps {
		wg.Add(1)
		go func(ts int64) {
			defer wg.Done()
			_, err := r.RecordContact(ctx, "+15551234", time.Unix(ts, 0), "imessage")
			assert.NoError(t, err)
		}(ts)
	}
	wg.Wait()

	final, err := r.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), final.LastContacted.Unix(), "max timestamp must win regardless of interleaving")
}

func TestMergeCompleteness(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	target, err := r.RecordContact(ctx, "+15551234", time.Unix(1000, 0), "imessage")
	require.NoError(t, err)
	source, err := r.RecordContact(ctx, "ana@example.com", time.Unix(2000, 0), "email")
	require.NoError(t, err)

	_, err = r.UpdateProfile(ctx, source.ID, "Ana Torres", "architect", "")
	require.NoError(t, err)
	_, err = r.AddNote(ctx, source.ID, "met at the conference")
	require.NoError(t, err)
	_, err = r.AddNote(ctx, target.ID, "prefers calls over text")
	require.NoError(t, err)
	// Exact-duplicate note text on both sides must not double up.
	_, err = r.AddNote(ctx, source.ID, "prefers calls over text")
	require.NoError(t, err)

	require.NoError(t, r.Merge(ctx, target.ID, source.ID))

	merged, err := r.Get(ctx, target.ID)
	require.NoError(t, err)
	assert.Contains(t, merged.Channels["phone"], "+15551234")
	assert.Contains(t, merged.Channels["email"], "ana@example.com")
	assert.Equal(t, "architect", merged.Profession)
	assert.Equal(t, int64(2000), merged.LastContacted.Unix())
	assert.Equal(t, "email", merged.LastChannel)

	texts := make([]string, 0, len(merged.Notes))
	for _, n := range merged.Notes {
		texts = append(texts, n.Text)
	}
	assert.ElementsMatch(t, []string{"met at the conference", "prefers calls over text"}, texts)

	// The source's former alias now resolves to the target.
	resolved, err := r.Resolve(ctx, "ana@example.com")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, target.ID, resolved.ID)

	// The source record is gone, and the cascade took its child rows with
	// it: no orphaned aliases, notes or suggestions remain behind.
	_, err = r.Get(ctx, source.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	for _, table := range []string{"contact_channels", "contact_notes", "contact_suggestions"} {
		var n int
		err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE contact_id = ?`, source.ID).Scan(&n)
		require.NoError(t, err)
		assert.Zero(t, n, "orphan rows in %s", table)
	}
}

func TestMergeKeepsTargetProfile(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	target, err := r.RecordContact(ctx, "+1", time.Time{}, "")
	require.NoError(t, err)
	source, err := r.RecordContact(ctx, "+2", time.Time{}, "")
	require.NoError(t, err)

	_, err = r.UpdateProfile(ctx, target.ID, "", "engineer", "")
	require.NoError(t, err)
	_, err = r.UpdateProfile(ctx, source.ID, "", "plumber", "friend")
	require.NoError(t, err)

	require.NoError(t, r.Merge(ctx, target.ID, source.ID))

	merged, err := r.Get(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, "engineer", merged.Profession, "non-empty target field wins")
	assert.Equal(t, "friend", merged.Relationship, "empty target field filled from source")
}

func TestNoteCRUD(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	c, err := r.RecordContact(ctx, "+15551234", time.Unix(1000, 0), "")
	require.NoError(t, err)

	note, err := r.AddNote(ctx, c.ID, "first note")
	require.NoError(t, err)

	require.NoError(t, r.UpdateNote(ctx, c.ID, note.ID, "updated note"))

	loaded, err := r.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Notes, 1)
	assert.Equal(t, "updated note", loaded.Notes[0].Text)

	require.NoError(t, r.DeleteNote(ctx, c.ID, note.ID))
	assert.ErrorIs(t, r.DeleteNote(ctx, c.ID, note.ID), ErrNotFound)
}

func TestSearchContacts(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	ana, err := r.RecordContact(ctx, "ana@example.com", time.Unix(1000, 0), "email")
	require.NoError(t, err)
	_, err = r.RecordContact(ctx, "+15551234", time.Unix(2000, 0), "imessage")
	require.NoError(t, err)

	byAlias, err := r.SearchContacts(ctx, "example.com")
	require.NoError(t, err)
	require.Len(t, byAlias, 1)
	assert.Equal(t, ana.ID, byAlias[0].ID)

	all, err := r.ListContacts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Recency ordering: the phone contact was touched later.
	assert.Equal(t, int64(2000), all[0].LastContacted.Unix())
}

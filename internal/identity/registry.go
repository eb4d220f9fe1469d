// Package identity maintains canonical contact records and resolves
// channel handles (phone numbers, email addresses, platform usernames)
// to them. Mutations are serialized per contact id so racing writers
// cannot lose updates.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates no contact matches the given id or handle.
var ErrNotFound = errors.New("contact not found")

// Contact is the canonical identity for a person.
type Contact struct {
	ID            string              `json:"id"`
	DisplayName   string              `json:"display_name"`
	Profession    string              `json:"profession,omitempty"`
	Relationship  string              `json:"relationship,omitempty"`
	Channels      map[string][]string `json:"channels"`
	LastContacted time.Time           `json:"last_contacted,omitzero"`
	LastChannel   string              `json:"last_channel,omitempty"`
	Notes         []Note              `json:"notes,omitempty"`
}

// Note is one independently addressable note on a contact.
type Note struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry owns the contacts tables.
type Registry struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a registry over an open database handle.
func New(db *sql.DB) *Registry {
	return &Registry{db: db, locks: make(map[string]*sync.Mutex)}
}

// contactLock returns the mutex serializing mutations for one contact id.
func (r *Registry) contactLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[id]
	if !ok {
		m = &sync.Mutex{}
		r.locks[id] = m
	}
	return m
}

func (r *Registry) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			profession TEXT NOT NULL DEFAULT '',
			relationship TEXT NOT NULL DEFAULT '',
			last_contacted INTEGER,
			last_channel TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS contact_channels (
			contact_id TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			alias TEXT NOT NULL,
			UNIQUE(contact_id, kind, alias)
		);
		CREATE INDEX IF NOT EXISTS idx_contact_channels_alias ON contact_channels(alias);
		CREATE TABLE IF NOT EXISTS contact_notes (
			id TEXT PRIMARY KEY,
			contact_id TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS contact_suggestions (
			id TEXT PRIMARY KEY,
			contact_id TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at INTEGER NOT NULL,
			reviewed_at INTEGER,
			UNIQUE(contact_id, kind, content)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure contacts schema: %w", err)
	}
	return nil
}

// Resolve finds the contact matching an identifier: case-insensitive exact
// match against contact id, display name, or any channel alias. No fuzzy
// matching. Returns nil when nothing matches.
func (r *Registry) Resolve(ctx context.Context, identifier string) (*Contact, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(identifier))
	if needle == "" {
		return nil, nil
	}

	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT DISTINCT c.id
		FROM contacts c
		LEFT JOIN contact_channels ch ON ch.contact_id = c.id
		WHERE LOWER(c.id) = ? OR LOWER(c.display_name) = ? OR LOWER(ch.alias) = ?
		LIMIT 1
	`, needle, needle, needle).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", identifier, err)
	}
	return r.load(ctx, id)
}

// Get returns a contact by id.
func (r *Registry) Get(ctx context.Context, id string) (*Contact, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return r.load(ctx, id)
}

func (r *Registry) load(ctx context.Context, id string) (*Contact, error) {
	c := &Contact{Channels: make(map[string][]string)}
	var lastContacted sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, profession, relationship, last_contacted, last_channel
		FROM contacts WHERE id = ?
	`, id).Scan(&c.ID, &c.DisplayName, &c.Profession, &c.Relationship, &lastContacted, &c.LastChannel)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contact: %w", err)
	}
	if lastContacted.Valid {
		c.LastContacted = time.Unix(lastContacted.Int64, 0).UTC()
	}

	chRows, err := r.db.QueryContext(ctx, `
		SELECT kind, alias FROM contact_channels WHERE contact_id = ? ORDER BY kind, alias
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load channels: %w", err)
	}
	for chRows.Next() {
		var kind, alias string
		if err := chRows.Scan(&kind, &alias); err != nil {
			chRows.Close()
			return nil, err
		}
		c.Channels[kind] = append(c.Channels[kind], alias)
	}
	chRows.Close()
	if err := chRows.Err(); err != nil {
		return nil, err
	}

	noteRows, err := r.db.QueryContext(ctx, `
		SELECT id, text, created_at FROM contact_notes WHERE contact_id = ? ORDER BY created_at, id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load notes: %w", err)
	}
	for noteRows.Next() {
		var n Note
		var createdAt int64
		if err := noteRows.Scan(&n.ID, &n.Text, &createdAt); err != nil {
			noteRows.Close()
			return nil, err
		}
		n.CreatedAt = time.Unix(createdAt, 0).UTC()
		c.Notes = append(c.Notes, n)
	}
	noteRows.Close()
	return c, noteRows.Err()
}

// ClassifyHandle reports the channel kind for a bare handle: email when it
// contains '@', phone otherwise.
func ClassifyHandle(handle string) string {
	if strings.Contains(handle, "@") {
		return "email"
	}
	return "phone"
}

// RecordContact resolves the handle, creating a contact on first sight, and
// advances last_contacted/last_channel with monotonic-max semantics: a write
// only takes effect if the timestamp is strictly newer than the stored one,
// no matter how calls interleave.
func (r *Registry) RecordContact(ctx context.Context, handle string, ts time.Time, channel string) (*Contact, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, errors.New("identity: handle is required")
	}

	kind := ClassifyHandle(handle)
	if channel == "" {
		channel = kind
	}

	existing, err := r.Resolve(ctx, handle)
	if err != nil {
		return nil, err
	}

	var id string
	if existing != nil {
		id = existing.ID
	} else {
		id = uuid.New().String()
	}

	lock := r.contactLock(id)
	lock.Lock()
	defer lock.Unlock()

	if existing == nil {
		// Two racers can both miss the resolve; the alias insert below is
		// best-effort and duplicates are reconciled via Merge.
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO contacts (id, display_name) VALUES (?, ?)
		`, id, handle)
		if err != nil {
			return nil, fmt.Errorf("failed to create contact: %w", err)
		}
		if _, err := r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO contact_channels (contact_id, kind, alias) VALUES (?, ?, ?)
		`, id, kind, handle); err != nil {
			return nil, fmt.Errorf("failed to add alias: %w", err)
		}
	}

	// Monotonic-max guard in SQL; the per-contact lock prevents two racing
	// newer-timestamp checks from both reading stale state.
	if !ts.IsZero() {
		_, err := r.db.ExecContext(ctx, `
			UPDATE contacts
			SET last_contacted = ?, last_channel = ?
			WHERE id = ? AND (last_contacted IS NULL OR last_contacted < ?)
		`, ts.Unix(), channel, id, ts.Unix())
		if err != nil {
			return nil, fmt.Errorf("failed to advance last_contacted: %w", err)
		}
	}

	return r.load(ctx, id)
}

// UpdateProfile sets free-text profile fields. Blank arguments leave the
// stored value untouched.
func (r *Registry) UpdateProfile(ctx context.Context, id, displayName, profession, relationship string) (*Contact, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	lock := r.contactLock(id)
	lock.Lock()
	defer lock.Unlock()

	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET
			display_name = CASE WHEN ? != '' THEN ? ELSE display_name END,
			profession = CASE WHEN ? != '' THEN ? ELSE profession END,
			relationship = CASE WHEN ? != '' THEN ? ELSE relationship END
		WHERE id = ?
	`, displayName, displayName, profession, profession, relationship, relationship, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.load(ctx, id)
}

// AddChannelAlias attaches an alias to a contact under a channel kind.
// Set semantics: adding an existing alias is a no-op.
func (r *Registry) AddChannelAlias(ctx context.Context, id, kind, alias string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return errors.New("identity: alias is required")
	}
	if kind == "" {
		kind = ClassifyHandle(alias)
	}

	lock := r.contactLock(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO contact_channels (contact_id, kind, alias) VALUES (?, ?, ?)
	`, id, kind, alias)
	if err != nil {
		return fmt.Errorf("failed to add alias: %w", err)
	}
	return nil
}

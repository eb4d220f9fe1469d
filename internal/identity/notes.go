package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AddNote appends a note to a contact and returns it.
func (r *Registry) AddNote(ctx context.Context, contactID, text string) (Note, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return Note{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Note{}, errors.New("identity: note text is required")
	}

	lock := r.contactLock(contactID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := r.Get(ctx, contactID); err != nil {
		return Note{}, err
	}

	note := Note{ID: uuid.New().String(), Text: text, CreatedAt: time.Now().UTC()}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contact_notes (id, contact_id, text, created_at) VALUES (?, ?, ?, ?)
	`, note.ID, contactID, note.Text, note.CreatedAt.Unix())
	if err != nil {
		return Note{}, fmt.Errorf("failed to add note: %w", err)
	}
	return note, nil
}

// UpdateNote replaces a note's text. The current row is re-read inside the
// per-contact lock so a stale caller cannot silently overwrite newer state.
func (r *Registry) UpdateNote(ctx context.Context, contactID, noteID, text string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("identity: note text is required")
	}

	lock := r.contactLock(contactID)
	lock.Lock()
	defer lock.Unlock()

	res, err := r.db.ExecContext(ctx, `
		UPDATE contact_notes SET text = ? WHERE id = ? AND contact_id = ?
	`, text, noteID, contactID)
	if err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: note %s", ErrNotFound, noteID)
	}
	return nil
}

// DeleteNote removes a note from a contact.
func (r *Registry) DeleteNote(ctx context.Context, contactID, noteID string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}

	lock := r.contactLock(contactID)
	lock.Lock()
	defer lock.Unlock()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM contact_notes WHERE id = ? AND contact_id = ?
	`, noteID, contactID)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: note %s", ErrNotFound, noteID)
	}
	return nil
}

package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Suggestion kinds. Profile kinds overwrite the matching field on accept;
// "note" appends a note; "email"/"phone" append a channel alias.
const (
	SuggestionDisplayName  = "display_name"
	SuggestionProfession   = "profession"
	SuggestionRelationship = "relationship"
	SuggestionNote         = "note"
	SuggestionEmail        = "email"
	SuggestionPhone        = "phone"
)

const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Suggestion is a staged profile extraction awaiting human review.
type Suggestion struct {
	ID         string     `json:"id"`
	ContactID  string     `json:"contact_id"`
	Kind       string     `json:"kind"`
	Content    string     `json:"content"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

func validSuggestionKind(kind string) bool {
	switch kind {
	case SuggestionDisplayName, SuggestionProfession, SuggestionRelationship,
		SuggestionNote, SuggestionEmail, SuggestionPhone:
		return true
	}
	return false
}

// StageSuggestion records a pending suggestion for the contact resolved from
// handle. Idempotent: an identical pending or previously declined suggestion
// for that contact suppresses the new one, reported by staged=false.
func (r *Registry) StageSuggestion(ctx context.Context, handle, kind, content string) (s *Suggestion, staged bool, err error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, false, err
	}
	if !validSuggestionKind(kind) {
		return nil, false, fmt.Errorf("identity: unknown suggestion kind %q", kind)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false, errors.New("identity: suggestion content is required")
	}

	contact, err := r.Resolve(ctx, handle)
	if err != nil {
		return nil, false, err
	}
	if contact == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}

	lock := r.contactLock(contact.ID)
	lock.Lock()
	defer lock.Unlock()

	// Declined content is permanently suppressed; pending content is not
	// staged twice. Accepted rows do not block a fresh suggestion (the
	// value may have changed since).
	var status string
	err = r.db.QueryRowContext(ctx, `
		SELECT status FROM contact_suggestions
		WHERE contact_id = ? AND kind = ? AND content = ? AND status IN (?, ?)
		LIMIT 1
	`, contact.ID, kind, content, StatusPending, StatusRejected).Scan(&status)
	if err == nil {
		return nil, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to check suggestion: %w", err)
	}

	s = &Suggestion{
		ID:        uuid.New().String(),
		ContactID: contact.ID,
		Kind:      kind,
		Content:   content,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO contact_suggestions (id, contact_id, kind, content, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_id, kind, content) DO NOTHING
	`, s.ID, s.ContactID, s.Kind, s.Content, s.Status, s.CreatedAt.Unix())
	if err != nil {
		return nil, false, fmt.Errorf("failed to stage suggestion: %w", err)
	}
	return s, true, nil
}

// ListSuggestions returns a contact's suggestions filtered by status
// (all statuses when blank).
func (r *Registry) ListSuggestions(ctx context.Context, contactID, status string) ([]Suggestion, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, contact_id, kind, content, status, created_at, reviewed_at
		FROM contact_suggestions
		WHERE contact_id = ?`
	args := []any{contactID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	defer rows.Close()

	var out []Suggestion
	for rows.Next() {
		var s Suggestion
		var createdAt int64
		var reviewedAt sql.NullInt64
		if err := rows.Scan(&s.ID, &s.ContactID, &s.Kind, &s.Content, &s.Status, &createdAt, &reviewedAt); err != nil {
			return nil, err
		}
		s.CreatedAt = time.Unix(createdAt, 0).UTC()
		if reviewedAt.Valid {
			t := time.Unix(reviewedAt.Int64, 0).UTC()
			s.ReviewedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AcceptSuggestion applies a pending suggestion per its kind and marks it
// accepted. Application and status change commit together; a failure rolls
// both back.
func (r *Registry) AcceptSuggestion(ctx context.Context, suggestionID string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}

	var contactID, kind, content string
	err := r.db.QueryRowContext(ctx, `
		SELECT contact_id, kind, content FROM contact_suggestions
		WHERE id = ? AND status = ?
	`, suggestionID, StatusPending).Scan(&contactID, &kind, &content)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: suggestion %s not pending", ErrNotFound, suggestionID)
	}
	if err != nil {
		return fmt.Errorf("failed to load suggestion: %w", err)
	}

	lock := r.contactLock(contactID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin accept: %w", err)
	}
	defer tx.Rollback()

	switch kind {
	case SuggestionDisplayName, SuggestionProfession, SuggestionRelationship:
		if _, err := tx.ExecContext(ctx,
			`UPDATE contacts SET `+kind+` = ? WHERE id = ?`, content, contactID); err != nil {
			return fmt.Errorf("failed to apply %s: %w", kind, err)
		}
	case SuggestionNote:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO contact_notes (id, contact_id, text, created_at) VALUES (?, ?, ?, ?)
		`, uuid.New().String(), contactID, content, time.Now().Unix()); err != nil {
			return fmt.Errorf("failed to apply note: %w", err)
		}
	case SuggestionEmail, SuggestionPhone:
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO contact_channels (contact_id, kind, alias) VALUES (?, ?, ?)
		`, contactID, kind, content); err != nil {
			return fmt.Errorf("failed to apply alias: %w", err)
		}
	default:
		return fmt.Errorf("identity: unknown suggestion kind %q", kind)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE contact_suggestions SET status = ?, reviewed_at = ?
		WHERE id = ? AND status = ?
	`, StatusAccepted, time.Now().Unix(), suggestionID, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark accepted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: suggestion %s not pending", ErrNotFound, suggestionID)
	}
	return tx.Commit()
}

// DeclineSuggestion marks a pending suggestion rejected. Its content is
// permanently suppressed for that contact via StageSuggestion's check.
func (r *Registry) DeclineSuggestion(ctx context.Context, suggestionID string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE contact_suggestions SET status = ?, reviewed_at = ?
		WHERE id = ? AND status = ?
	`, StatusRejected, time.Now().Unix(), suggestionID, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to decline suggestion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: suggestion %s not pending", ErrNotFound, suggestionID)
	}
	return nil
}

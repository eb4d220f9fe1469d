package identity

import (
	"context"
	"fmt"
)

// Merge absorbs the source contact into the target: aliases are unioned,
// notes appended (skipping exact-text duplicates), profile fields filled
// only where the target's are empty, and the source removed. The whole
// operation is one transaction, so a reader never observes the source gone
// while the target has not yet absorbed its aliases.
func (r *Registry) Merge(ctx context.Context, targetID, sourceID string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	if targetID == sourceID {
		return fmt.Errorf("identity: cannot merge a contact into itself")
	}

	// Lock both contacts in a stable order to avoid deadlock with a
	// concurrent merge in the opposite direction.
	first, second := targetID, sourceID
	if second < first {
		first, second = second, first
	}
	lockA, lockB := r.contactLock(first), r.contactLock(second)
	lockA.Lock()
	defer lockA.Unlock()
	lockB.Lock()
	defer lockB.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin merge: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts WHERE id IN (?, ?)`, targetID, sourceID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check contacts: %w", err)
	}
	if exists != 2 {
		return fmt.Errorf("%w: merge %s <- %s", ErrNotFound, targetID, sourceID)
	}

	// Union channel aliases.
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO contact_channels (contact_id, kind, alias)
		SELECT ?, kind, alias FROM contact_channels WHERE contact_id = ?
	`, targetID, sourceID); err != nil {
		return fmt.Errorf("failed to union aliases: %w", err)
	}

	// Append notes the target does not already have verbatim.
	if _, err := tx.ExecContext(ctx, `
		UPDATE contact_notes SET contact_id = ?
		WHERE contact_id = ?
		  AND text NOT IN (SELECT text FROM contact_notes WHERE contact_id = ?)
	`, targetID, sourceID, targetID); err != nil {
		return fmt.Errorf("failed to move notes: %w", err)
	}

	// Carry the suggestion history so declined content stays suppressed.
	if _, err := tx.ExecContext(ctx, `
		UPDATE OR IGNORE contact_suggestions SET contact_id = ?
		WHERE contact_id = ?
	`, targetID, sourceID); err != nil {
		return fmt.Errorf("failed to move suggestions: %w", err)
	}

	// Fill-if-missing profile fields and keep the newer recency stamp.
	if _, err := tx.ExecContext(ctx, `
		UPDATE contacts SET
			display_name = CASE WHEN display_name = '' THEN (SELECT display_name FROM contacts WHERE id = ?) ELSE display_name END,
			profession = CASE WHEN profession = '' THEN (SELECT profession FROM contacts WHERE id = ?) ELSE profession END,
			relationship = CASE WHEN relationship = '' THEN (SELECT relationship FROM contacts WHERE id = ?) ELSE relationship END,
			last_channel = CASE
				WHEN last_contacted IS NULL OR COALESCE((SELECT last_contacted FROM contacts WHERE id = ?), 0) > last_contacted
				THEN (SELECT last_channel FROM contacts WHERE id = ?)
				ELSE last_channel END,
			last_contacted = CASE
				WHEN last_contacted IS NULL THEN (SELECT last_contacted FROM contacts WHERE id = ?)
				ELSE MAX(last_contacted, COALESCE((SELECT last_contacted FROM contacts WHERE id = ?), 0))
				END
		WHERE id = ?
	`, sourceID, sourceID, sourceID, sourceID, sourceID, sourceID, sourceID, targetID); err != nil {
		return fmt.Errorf("failed to merge profile: %w", err)
	}

	// Cascades clear any remaining rows still pointing at the source.
	if _, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, sourceID); err != nil {
		return fmt.Errorf("failed to remove source contact: %w", err)
	}

	return tx.Commit()
}

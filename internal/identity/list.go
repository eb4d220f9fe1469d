package identity

import (
	"context"
	"fmt"
	"strings"
)

// ListContacts returns all contacts ordered by recency of last contact.
func (r *Registry) ListContacts(ctx context.Context) ([]*Contact, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM contacts
		ORDER BY last_contacted DESC NULLS LAST, display_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	contacts := make([]*Contact, 0, len(ids))
	for _, id := range ids {
		c, err := r.load(ctx, id)
		if err != nil {
			continue
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}

// SearchContacts finds contacts whose display name or aliases contain the
// search term (case-insensitive substring match).
func (r *Registry) SearchContacts(ctx context.Context, term string) ([]*Contact, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(term)) + "%"

	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT c.id
		FROM contacts c
		LEFT JOIN contact_channels ch ON ch.contact_id = c.id
		WHERE LOWER(c.display_name) LIKE ? OR LOWER(ch.alias) LIKE ?
		ORDER BY c.id
	`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search contacts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	contacts := make([]*Contact, 0, len(ids))
	for _, id := range ids {
		c, err := r.load(ctx, id)
		if err != nil {
			continue
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}

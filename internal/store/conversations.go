package store

import (
	"context"
	"fmt"
	"strings"
)

// ConversationSummary is the per-handle rollup used for conversation-list
// previews.
type ConversationSummary struct {
	Handle        string `json:"handle"`
	Channel       string `json:"channel"`
	Count         int    `json:"count"`
	LastTimestamp string `json:"last_timestamp,omitempty"`
	LastText      string `json:"last_text,omitempty"`
	LastSource    string `json:"last_source,omitempty"`
}

// ConversationIndex builds a summary per counterparty handle in a single
// columnar pass over (path, text, source). For each handle it tracks a
// running count and the document with the lexicographically latest embedded
// timestamp. It must stay one scan: it runs over the full corpus.
func (s *Store) ConversationIndex(ctx context.Context) (map[string]ConversationSummary, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT path, text, source FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("%w: conversation scan: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	index := make(map[string]ConversationSummary)
	for rows.Next() {
		var path, text, source string
		if err := rows.Scan(&path, &text, &source); err != nil {
			continue
		}
		channel, handle := SplitPath(path)
		if handle == "" {
			continue
		}

		summary := index[handle]
		summary.Handle = handle
		summary.Channel = channel
		summary.Count++

		ts := extractTimestamp(text)
		// ISO8601 timestamps order lexicographically; a blank timestamp
		// never displaces a real one.
		if summary.LastTimestamp == "" || ts > summary.LastTimestamp {
			summary.LastTimestamp = ts
			summary.LastText = text
			summary.LastSource = source
		}
		index[handle] = summary
	}
	return index, rows.Err()
}

// SplitPath splits a document path into its channel scheme and counterparty
// handle ("imessage://+15551234" -> "imessage", "+15551234";
// "mailto:a@b.c" -> "mailto", "a@b.c").
func SplitPath(path string) (channel, handle string) {
	if path == "" {
		return "", ""
	}
	if i := strings.Index(path, "://"); i >= 0 {
		return path[:i], path[i+3:]
	}
	if i := strings.Index(path, ":"); i >= 0 {
		return path[:i], path[i+1:]
	}
	return "", path
}

// extractTimestamp pulls the bracketed ISO8601 prefix out of a document
// text, empty string when absent.
func extractTimestamp(text string) string {
	if !strings.HasPrefix(text, "[") {
		return ""
	}
	end := strings.Index(text, "]")
	if end < 0 {
		return ""
	}
	return text[1:end]
}

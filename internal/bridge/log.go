package bridge

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"
)

// LogEntry is one append-only audit record of an inbound-event attempt.
type LogEntry struct {
	Seq      int64     `json:"seq"`
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	Channel  string    `json:"channel"`
	Status   string    `json:"status"`
	EventRef string    `json:"event_ref,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

func (b *Bridge) ensureLogTable(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bridge_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			at INTEGER NOT NULL,
			channel TEXT NOT NULL,
			status TEXT NOT NULL,
			event_ref TEXT,
			detail TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure bridge_events table: %w", err)
	}
	return nil
}

// appendLog records one processing attempt. Log failures are reported but
// never fail the ingestion path itself.
func (b *Bridge) appendLog(ctx context.Context, channel, status, eventRef, detail string) {
	if err := b.ensureLogTable(ctx); err != nil {
		log.Error().Err(err).Msg("bridge event log unavailable")
		return
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO bridge_events (id, at, channel, status, event_ref, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), b.now().Unix(), channel, status, eventRef, detail)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Str("status", status).Msg("bridge event log append failed")
	}
}

// ReadEventLog returns the most recent entries, newest first.
func (b *Bridge) ReadEventLog(ctx context.Context, limit int) ([]LogEntry, error) {
	if err := b.ensureLogTable(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT seq, id, at, channel, status, event_ref, detail
		FROM bridge_events
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read bridge event log: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var at int64
		var eventRef, detail sql.NullString
		if err := rows.Scan(&e.Seq, &e.ID, &at, &e.Channel, &e.Status, &eventRef, &detail); err != nil {
			return nil, err
		}
		e.At = time.Unix(at, 0).UTC()
		e.EventRef = eventRef.String
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LogSummary is the derived observability rollup over the event log.
type LogSummary struct {
	Total        int               `json:"total"`
	ByStatus     map[string]int    `json:"by_status"`
	ByChannel    map[string]int    `json:"by_channel"`
	LastEventAt  time.Time         `json:"last_event_at,omitzero"`
	LastErrorAt  time.Time         `json:"last_error_at,omitzero"`
	ChannelModes map[string]string `json:"channel_modes"`
}

// Summary aggregates event counts by status and channel, the last event and
// error times, and the current per-channel rollout modes.
func (b *Bridge) Summary(ctx context.Context) (LogSummary, error) {
	summary := LogSummary{
		ByStatus:     make(map[string]int),
		ByChannel:    make(map[string]int),
		ChannelModes: b.cfg.ChannelModes(),
	}
	if err := b.ensureLogTable(ctx); err != nil {
		return summary, err
	}

	rows, err := b.db.QueryContext(ctx, `SELECT at, channel, status FROM bridge_events`)
	if err != nil {
		return summary, fmt.Errorf("failed to summarize bridge event log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var at int64
		var channel, status string
		if err := rows.Scan(&at, &channel, &status); err != nil {
			continue
		}
		summary.Total++
		summary.ByStatus[status]++
		summary.ByChannel[channel]++

		t := time.Unix(at, 0).UTC()
		if t.After(summary.LastEventAt) {
			summary.LastEventAt = t
		}
		if status == StatusError && t.After(summary.LastErrorAt) {
			summary.LastErrorAt = t
		}
	}
	return summary, rows.Err()
}

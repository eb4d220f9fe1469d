// Package bridge normalizes raw inbound events from arbitrary external
// sources into canonical documents and ingests each exactly once. Every
// processing attempt lands in an append-only event log.
package bridge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"

	"github.com/Napageneral/recall/internal/config"
	"github.com/Napageneral/recall/internal/identity"
	"github.com/Napageneral/recall/internal/store"
)

var (
	// ErrPolicyDenied indicates inbound handling is disabled for a channel.
	ErrPolicyDenied = errors.New("channel inbound disabled by policy")
	// ErrMalformedEvent indicates a raw event missing required fields.
	ErrMalformedEvent = errors.New("malformed inbound event")
)

// Terminal statuses of one inbound-event processing attempt.
const (
	StatusIngested  = "ingested"
	StatusDuplicate = "duplicate"
	StatusError     = "error"
	StatusDryRun    = "dry_run"
)

// RawEvent is the wire shape inbound bridges submit.
type RawEvent struct {
	Channel   string          `json:"channel"`
	Peer      string          `json:"peer"`
	Text      string          `json:"text"`
	MessageID string          `json:"messageId,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// CanonicalEvent is the channel-agnostic form of an inbound message.
type CanonicalEvent struct {
	Channel   string    `json:"channel"`
	Handle    string    `json:"handle"`
	Text      string    `json:"text"`
	MessageID string    `json:"message_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bridge ties the normalizer to the document store, the identity registry
// and the per-channel inbound policy.
type Bridge struct {
	db       *sql.DB
	store    *store.Store
	registry *identity.Registry
	cfg      *config.Config

	// now is swapped in tests to pin the default timestamp.
	now func() time.Time

	// eventLocks is a fixed stripe pool: one id always hashes to the same
	// mutex, so memory stays bounded no matter how many ids flow through.
	eventLocks [eventLockStripes]sync.Mutex
}

const eventLockStripes = 256

// New creates a bridge. cfg supplies the per-channel rollout modes and may
// be hot-reloaded underneath it.
func New(db *sql.DB, st *store.Store, registry *identity.Registry, cfg *config.Config) *Bridge {
	return &Bridge{
		db:       db,
		store:    st,
		registry: registry,
		cfg:      cfg,
		now:      time.Now,
	}
}

// eventLock serializes the duplicate check-then-insert for one canonical id
// so two concurrent identical events cannot both classify as ingested.
// Distinct ids may share a stripe; that only over-serializes, never under.
func (b *Bridge) eventLock(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &b.eventLocks[h.Sum32()%eventLockStripes]
}

// DecodePayload accepts either a single raw event object or a batch under
// an "events" key and normalizes both shapes to a slice at the boundary.
func DecodePayload(data []byte) ([]RawEvent, error) {
	var batch struct {
		Events []RawEvent `json:"events"`
	}
	if err := json.Unmarshal(data, &batch); err == nil && batch.Events != nil {
		return batch.Events, nil
	}

	var single RawEvent
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return []RawEvent{single}, nil
}

// Normalize maps a raw external payload into a canonical event, defaulting
// a missing timestamp to the ingestion time.
func (b *Bridge) Normalize(raw RawEvent) (CanonicalEvent, error) {
	channel := strings.ToLower(strings.TrimSpace(raw.Channel))
	peer := strings.TrimSpace(raw.Peer)
	text := strings.TrimSpace(raw.Text)
	if channel == "" || peer == "" || text == "" {
		return CanonicalEvent{}, fmt.Errorf("%w: channel, peer and text are required", ErrMalformedEvent)
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return CanonicalEvent{}, err
	}
	if ts.IsZero() {
		ts = b.now().UTC()
	}

	return CanonicalEvent{
		Channel:   channel,
		Handle:    peer,
		Text:      text,
		MessageID: strings.TrimSpace(raw.MessageID),
		Timestamp: ts,
	}, nil
}

// parseTimestamp accepts an RFC3339 string or a unix-seconds number.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedEvent, s)
		}
		return t.UTC(), nil
	}

	var unix float64
	if err := json.Unmarshal(raw, &unix); err == nil {
		sec := int64(unix)
		return time.Unix(sec, int64((unix-float64(sec))*1e9)).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("%w: bad timestamp %s", ErrMalformedEvent, strconv.Quote(string(raw)))
}

// EventID derives the stable document id for a canonical event. Events
// carrying a channel-native message id hash that; the rest fall back to
// content identity so replays of the same message dedupe either way.
func EventID(ev CanonicalEvent) string {
	var key string
	if ev.MessageID != "" {
		key = ev.Channel + "\x00" + ev.Handle + "\x00" + ev.MessageID
	} else {
		key = ev.Channel + "\x00" + ev.Handle + "\x00" + ev.Text + "\x00" + ev.Timestamp.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(key))
	return "bridge:" + hex.EncodeToString(sum[:16])
}

// Document renders the canonical event in the store's record shape.
func Document(ev CanonicalEvent) store.DocumentInput {
	return store.DocumentInput{
		ID:     EventID(ev),
		Text:   fmt.Sprintf("[%s] %s: %s", ev.Timestamp.UTC().Format(time.RFC3339), ev.Handle, ev.Text),
		Source: ev.Channel,
		Path:   eventPath(ev),
	}
}

func eventPath(ev CanonicalEvent) string {
	if ev.Channel == "email" || ev.Channel == "mailto" {
		return "mailto:" + ev.Handle
	}
	return ev.Channel + "://" + ev.Handle
}

// PolicyError reports which channels of a batch were denied and at which
// indices. The whole batch is rejected; nothing was written.
type PolicyError struct {
	// Denied maps channel name to the indices of the offending events.
	Denied map[string][]int
}

func (e *PolicyError) Error() string {
	channels := make([]string, 0, len(e.Denied))
	for ch := range e.Denied {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	parts := make([]string, 0, len(channels))
	for _, ch := range channels {
		idx := make([]string, len(e.Denied[ch]))
		for i, n := range e.Denied[ch] {
			idx[i] = strconv.Itoa(n)
		}
		parts = append(parts, ch+" (events "+strings.Join(idx, ", ")+")")
	}
	return "channel inbound disabled by policy: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is(err, ErrPolicyDenied) match.
func (e *PolicyError) Unwrap() error {
	return ErrPolicyDenied
}

// checkPolicy scans a batch against per-channel rollout modes. Any disabled
// channel rejects the whole batch.
func (b *Bridge) checkPolicy(raws []RawEvent) error {
	denied := make(map[string][]int)
	for i, raw := range raws {
		channel := strings.ToLower(strings.TrimSpace(raw.Channel))
		if b.cfg.ChannelMode(channel) == config.ModeDisabled {
			denied[channel] = append(denied[channel], i)
		}
	}
	if len(denied) > 0 {
		return &PolicyError{Denied: denied}
	}
	return nil
}

// IngestResult is the outcome of one inbound event.
type IngestResult struct {
	Status   string               `json:"status"`
	Document *store.DocumentInput `json:"document,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// IngestOne processes a single raw event through
// received -> normalized -> {ingested | duplicate | error}.
// With dryRun the canonical document is computed and returned without
// writing anything, the event log included.
func (b *Bridge) IngestOne(ctx context.Context, raw RawEvent, dryRun bool) (IngestResult, error) {
	if err := b.checkPolicy([]RawEvent{raw}); err != nil {
		if !dryRun {
			b.appendLog(ctx, raw.Channel, StatusError, "", err.Error())
		}
		return IngestResult{Status: StatusError, Error: err.Error()}, err
	}

	ev, err := b.Normalize(raw)
	if err != nil {
		if !dryRun {
			b.appendLog(ctx, raw.Channel, StatusError, "", err.Error())
		}
		return IngestResult{Status: StatusError, Error: err.Error()}, err
	}

	doc := Document(ev)
	if dryRun {
		return IngestResult{Status: StatusDryRun, Document: &doc}, nil
	}

	lock := b.eventLock(doc.ID)
	lock.Lock()
	defer lock.Unlock()

	// Duplicate check happens before embedding: embedding is the expensive
	// step and a known duplicate must not pay it again.
	exists, err := b.store.Exists(ctx, doc.ID)
	if err != nil {
		b.appendLog(ctx, ev.Channel, StatusError, doc.ID, err.Error())
		return IngestResult{Status: StatusError, Error: err.Error()}, err
	}
	if exists {
		b.appendLog(ctx, ev.Channel, StatusDuplicate, doc.ID, "")
		return IngestResult{Status: StatusDuplicate, Document: &doc}, nil
	}

	if err := b.store.Upsert(ctx, []store.DocumentInput{doc}); err != nil {
		b.appendLog(ctx, ev.Channel, StatusError, doc.ID, err.Error())
		return IngestResult{Status: StatusError, Error: err.Error()}, err
	}

	if _, err := b.registry.RecordContact(ctx, ev.Handle, ev.Timestamp, ev.Channel); err != nil {
		// The document is in; contact stamping is best-effort but logged.
		log.Warn().Err(err).Str("channel", ev.Channel).Str("handle", ev.Handle).Msg("contact stamp failed")
	}

	b.appendLog(ctx, ev.Channel, StatusIngested, doc.ID, "")
	return IngestResult{Status: StatusIngested, Document: &doc}, nil
}

// BatchResult summarizes an IngestMany call.
type BatchResult struct {
	Accepted int            `json:"accepted"`
	Skipped  int            `json:"skipped"`
	Errors   int            `json:"errors"`
	Results  []IngestResult `json:"results"`
}

// IngestOptions controls batch processing.
type IngestOptions struct {
	DryRun   bool
	FailFast bool
}

// IngestMany processes a batch. A batch containing any disabled channel is
// rejected whole; otherwise items are isolated from one another's errors
// unless FailFast is set.
func (b *Bridge) IngestMany(ctx context.Context, raws []RawEvent, opts IngestOptions) (BatchResult, error) {
	var result BatchResult

	if err := b.checkPolicy(raws); err != nil {
		// Every denied event still lands in the log so denials show up in
		// the summary rollup, same as a denial through IngestOne.
		if !opts.DryRun {
			var policyErr *PolicyError
			if errors.As(err, &policyErr) {
				for channel, indices := range policyErr.Denied {
					for range indices {
						b.appendLog(ctx, channel, StatusError, "", err.Error())
					}
				}
			}
		}
		log.Warn().Err(err).Int("events", len(raws)).Msg("inbound batch rejected by policy")
		return result, err
	}

	for _, raw := range raws {
		res, err := b.IngestOne(ctx, raw, opts.DryRun)
		result.Results = append(result.Results, res)
		switch res.Status {
		case StatusIngested, StatusDryRun:
			result.Accepted++
		case StatusDuplicate:
			result.Skipped++
		default:
			result.Errors++
		}
		if err != nil && opts.FailFast {
			return result, err
		}
	}

	log.Info().
		Int("accepted", result.Accepted).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Bool("dry_run", opts.DryRun).
		Msg("inbound batch processed")
	return result, nil
}

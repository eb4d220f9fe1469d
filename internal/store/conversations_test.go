package store

import (
	"context"
	"testing"
)

func TestConversationIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docs := []DocumentInput{
		{ID: "m1", Text: "[2024-01-01T10:00:00Z] Me: call me", Source: "imessage", Path: "imessage://+15551234"},
		{ID: "m2", Text: "[2024-01-05T11:00:00Z] Ana: done", Source: "imessage", Path: "imessage://+15551234"},
		{ID: "m3", Text: "[2024-01-03T09:00:00Z] Me: thanks", Source: "imessage", Path: "imessage://+15551234"},
		{ID: "e1", Text: "[2024-02-01T08:00:00Z] Bob: invoice attached", Source: "gmail", Path: "mailto:bob@example.com"},
		{ID: "x1", Text: "no timestamp prefix", Source: "notes", Path: "notes://self"},
	}
	if err := s.Upsert(ctx, docs); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	index, err := s.ConversationIndex(ctx)
	if err != nil {
		t.Fatalf("index: %v", err)
	}

	phone, ok := index["+15551234"]
	if !ok {
		t.Fatalf("expected +15551234 in index, got %v", index)
	}
	if phone.Count != 3 {
		t.Fatalf("expected count 3, got %d", phone.Count)
	}
	if phone.Channel != "imessage" {
		t.Fatalf("expected channel imessage, got %s", phone.Channel)
	}
	if phone.LastTimestamp != "2024-01-05T11:00:00Z" {
		t.Fatalf("expected latest timestamp, got %s", phone.LastTimestamp)
	}
	if phone.LastText != "[2024-01-05T11:00:00Z] Ana: done" {
		t.Fatalf("unexpected latest text %q", phone.LastText)
	}

	mail, ok := index["bob@example.com"]
	if !ok || mail.Channel != "mailto" || mail.Count != 1 {
		t.Fatalf("unexpected mailto summary %+v", mail)
	}

	// A doc with no timestamp still counts toward its conversation.
	notes, ok := index["self"]
	if !ok || notes.Count != 1 || notes.LastTimestamp != "" {
		t.Fatalf("unexpected notes summary %+v", notes)
	}
}

func TestSplitPath(t *testing.T) {
	cases := []struct {
		path    string
		channel string
		handle  string
	}{
		{"imessage://+15551234", "imessage", "+15551234"},
		{"whatsapp://+4479", "whatsapp", "+4479"},
		{"mailto:a@b.c", "mailto", "a@b.c"},
		{"linkedin://jane-doe", "linkedin", "jane-doe"},
		{"bare-handle", "", "bare-handle"},
		{"", "", ""},
	}
	for _, tc := range cases {
		channel, handle := SplitPath(tc.path)
		if channel != tc.channel || handle != tc.handle {
			t.Errorf("SplitPath(%q) = (%q, %q), want (%q, %q)", tc.path, channel, handle, tc.channel, tc.handle)
		}
	}
}

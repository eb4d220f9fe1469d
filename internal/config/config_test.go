package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestChannelModeDefaults(t *testing.T) {
	cfg := defaultConfig()

	if mode := cfg.ChannelMode("telegram"); mode != ModeDraftOnly {
		t.Fatalf("unknown channel must default to draft_only, got %q", mode)
	}

	cfg.SetChannelMode("Telegram", ModeDisabled)
	if mode := cfg.ChannelMode("TELEGRAM"); mode != ModeDisabled {
		t.Fatalf("channel lookup must be case-insensitive, got %q", mode)
	}

	modes := cfg.ChannelModes()
	if modes["telegram"] != ModeDisabled {
		t.Fatalf("snapshot missing telegram, got %v", modes)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Embedder.Model == "" {
		t.Fatal("default model must be set")
	}
	if cfg.Embedder.Dimension != 768 {
		t.Fatalf("default dimension: got %d, want 768", cfg.Embedder.Dimension)
	}
	if cfg.Embedder.RequestsPerSecond <= 0 || cfg.Embedder.BurstSize <= 0 {
		t.Fatal("rate limit defaults must be positive")
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	t.Setenv("RECALL_CONFIG_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load without a file must return defaults: %v", err)
	}

	cfg.SetChannelMode("imessage", ModeDisabled)
	cfg.Embedder.Dimension = 256
	if err := cfg.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.ChannelMode("imessage") != ModeDisabled {
		t.Fatal("channel mode did not survive the round trip")
	}
	if loaded.Embedder.Dimension != 256 {
		t.Fatalf("dimension did not survive: got %d", loaded.Embedder.Dimension)
	}
}

func TestGetConfigDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RECALL_CONFIG_DIR", dir)

	got, err := GetConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	if got != dir {
		t.Fatalf("override ignored: got %q, want %q", got, dir)
	}

	path, err := Path()
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "config.yaml") {
		t.Fatalf("unexpected config path %q", path)
	}

	if _, err := os.Stat(dir); err != nil {
		t.Fatal(err)
	}
}

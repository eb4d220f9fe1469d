package db

import (
	"path/filepath"
	"testing"
)

func TestOpenPathAppliesPragmasPerConnection(t *testing.T) {
	conn, err := OpenPath(filepath.Join(t.TempDir(), "recall.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// No idle reuse: each query below runs on a freshly opened connection,
	// which is exactly where an Exec-once pragma would be missing.
	conn.SetMaxIdleConns(0)

	for i := 0; i < 3; i++ {
		var fk int
		if err := conn.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
			t.Fatal(err)
		}
		if fk != 1 {
			t.Fatalf("connection %d: foreign_keys = %d, want 1", i, fk)
		}
	}

	var mode string
	if err := conn.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}

package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/Napageneral/recall/internal/config"
)

// Init creates the data directory and the database file if needed.
// Tables are created lazily by the packages that own them on first write.
func Init() error {
	dataDir, err := config.GetDataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := Open()
	if err != nil {
		return err
	}
	return db.Close()
}

// Open opens a connection to the database
func Open() (*sql.DB, error) {
	dbPath, err := GetPath()
	if err != nil {
		return nil, err
	}
	return OpenPath(dbPath)
}

// OpenPath opens a connection to the database at an explicit path.
//
// Pragmas ride in the DSN so the driver applies them to every connection
// the pool opens, not just the first. synchronous, busy_timeout and
// foreign_keys are per-connection settings; WAL persists in the file but
// is harmless to re-request.
func OpenPath(dbPath string) (*sql.DB, error) {
	dsn := dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// GetPath returns the path to the database file
func GetPath() (string, error) {
	dataDir, err := config.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "recall.db"), nil
}

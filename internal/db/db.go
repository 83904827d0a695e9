// Package db opens the local SQLite database holding episodes and chat sessions.
package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// FileName is the database file inside the storage directory.
const FileName = "podcastrag.db"

// CurrentSchemaVersion is the latest schema version. Bump it when adding migrations.
const CurrentSchemaVersion = 1

// Init opens baseDir/podcastrag.db, creating the directory and schema as needed.
func Init(baseDir string) (*sqlx.DB, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	_ = os.Chmod(dbPath, 0o600)
	return db, nil
}

func migrate(db *sqlx.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS episodes (
		  id                  TEXT PRIMARY KEY,
		  guest               TEXT NOT NULL,
		  guest_expertise     TEXT NOT NULL DEFAULT '',
		  industry_tags_json  TEXT NOT NULL DEFAULT '[]',
		  episode_themes_json TEXT NOT NULL DEFAULT '[]',
		  youtube_url         TEXT NOT NULL DEFAULT '',
		  date                TEXT NOT NULL DEFAULT '',
		  transcript          TEXT NOT NULL,
		  summary             TEXT NOT NULL DEFAULT '',
		  updated_at          INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_episodes_guest ON episodes(guest);

		CREATE TABLE IF NOT EXISTS sessions (
		  id                 TEXT PRIMARY KEY,
		  active_guests_json TEXT NOT NULL DEFAULT '[]',
		  recent_topics_json TEXT NOT NULL DEFAULT '[]',
		  created_at         INTEGER NOT NULL,
		  updated_at         INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);

		CREATE TABLE IF NOT EXISTS turns (
		  session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		  seq        INTEGER NOT NULL,
		  role       TEXT NOT NULL,
		  content    TEXT NOT NULL,
		  PRIMARY KEY (session_id, seq)
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}
	return nil
}

func verifyWALMode(db *sqlx.DB) error {
	var mode string
	if err := db.Get(&mode, "PRAGMA journal_mode;"); err != nil {
		return fmt.Errorf("verify journal mode: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", mode)
	}
	return nil
}

// GetUserVersion returns the schema version stored in the user_version pragma.
func GetUserVersion(db *sqlx.DB) (int, error) {
	var version int
	if err := db.Get(&version, "PRAGMA user_version;"); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

func SetUserVersion(db *sqlx.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

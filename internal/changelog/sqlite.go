package changelog

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the dialect for github.com/mattn/go-sqlite3.
var SQLite = Dialect{
	Name: "sqlite3",
	Schema: `
    CREATE TABLE IF NOT EXISTS changes (
        collection   TEXT    NOT NULL,
        idx          INTEGER NOT NULL,
        external_id  INTEGER NOT NULL,
        change_type  TEXT    NOT NULL,
        created_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (collection, idx)
    );
    CREATE INDEX IF NOT EXISTS idx_changes_tuple ON changes (collection, external_id, change_type);
    `,
}

// OpenSQLite opens (creating if needed) a SQLite change log at path.
//
// The database is configured with WAL journaling, NORMAL synchronous mode
// and a 5-second busy timeout. SQLite allows one writer, so the pool is
// limited to a single connection.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	store, err := NewSQLStore(db, SQLite)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

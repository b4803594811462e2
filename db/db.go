package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS param_records (
	device_id    TEXT NOT NULL,
	param_id     TEXT NOT NULL,
	raw_value    REAL NOT NULL,
	supported    INTEGER NOT NULL DEFAULT 1,
	last_updated TEXT NOT NULL,
	PRIMARY KEY (device_id, param_id)
);
`

// Open opens (creating if needed) the parameter record database.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return conn, nil
}

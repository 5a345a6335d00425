package settings

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS plugin_data (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const (
	keyGeneratorRoot = "generator_root"
	keyLauncherPath  = "launcher_path"
	keyPreviewPort   = "preview_port"
)

// SQLiteStore keeps settings as key/value rows in a SQLite database.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn and applies the schema.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("settings: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("settings: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("settings: apply schema: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Load reads every stored key and merges the rows over Defaults.
func (s *SQLiteStore) Load(ctx context.Context) (Settings, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT key, value FROM plugin_data`)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: query: %w", err)
	}
	defer rows.Close()

	var p partial
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Settings{}, fmt.Errorf("settings: scan: %w", err)
		}
		switch k {
		case keyGeneratorRoot:
			p.GeneratorRoot = &v
		case keyLauncherPath:
			p.LauncherPath = &v
		case keyPreviewPort:
			port, err := strconv.Atoi(v)
			if err != nil {
				return Settings{}, fmt.Errorf("settings: bad %s %q: %w", keyPreviewPort, v, err)
			}
			p.PreviewPort = &port
		}
	}
	if err := rows.Err(); err != nil {
		return Settings{}, fmt.Errorf("settings: rows: %w", err)
	}
	return p.merge(), nil
}

// Save replaces all three keys within a transaction.
func (s *SQLiteStore) Save(ctx context.Context, st Settings) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("settings: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO plugin_data (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`)
	if err != nil {
		return fmt.Errorf("settings: prepare: %w", err)
	}
	defer stmt.Close()

	for k, v := range map[string]string{
		keyGeneratorRoot: st.GeneratorRoot,
		keyLauncherPath:  st.LauncherPath,
		keyPreviewPort:   strconv.Itoa(st.PreviewPort),
	} {
		if _, err := stmt.ExecContext(ctx, k, v); err != nil {
			return fmt.Errorf("settings: upsert %s: %w", k, err)
		}
	}
	return tx.Commit()
}

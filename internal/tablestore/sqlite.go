package tablestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nantokaworks/guild-gatekeeper/internal/shared/logger"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLiteStore is a local implementation of Store used when no spreadsheet is
// configured, and by tests. Logical tables are stored as JSON-encoded rows
// keyed by table name and position.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the local database file.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL mode and busy timeout, same reasoning as any single-writer sqlite use.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS logical_tables (
		name TEXT PRIMARY KEY,
		header TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("failed to create logical_tables: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS logical_rows (
		table_name TEXT NOT NULL,
		position INTEGER NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (table_name, position)
	)`); err != nil {
		return nil, fmt.Errorf("failed to create logical_rows: %w", err)
	}

	logger.Debug("Local table store ready", zap.String("path", dbPath))
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetTable(ctx context.Context, name string) ([]Row, error) {
	var headerJSON string
	err := s.db.QueryRowContext(ctx, `SELECT header FROM logical_tables WHERE name = ?`, name).Scan(&headerJSON)
	if err == sql.ErrNoRows {
		return nil, ErrTableNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read table %q: %w", name, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM logical_rows WHERE table_name = ? ORDER BY position`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of %q: %w", name, err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan row of %q: %w", name, err)
		}
		row := Row{}
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			logger.Warn("Skipping malformed row", zap.String("table", name), zap.Error(err))
			continue
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows of %q: %w", name, err)
	}

	return result, nil
}

func (s *SQLiteStore) CreateTable(ctx context.Context, name string, rowHint, colHint int) error {
	// Sizing hints are meaningless for sqlite; only the header record matters.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO logical_tables (name, header) VALUES (?, '[]')`, name)
	if err != nil {
		return fmt.Errorf("failed to create table %q: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) OverwriteTable(ctx context.Context, name string, header []string, rows []Row) error {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode header of %q: %w", name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin overwrite of %q: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO logical_tables (name, header) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET header = excluded.header`,
		name, string(headerJSON)); err != nil {
		return fmt.Errorf("failed to write header of %q: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM logical_rows WHERE table_name = ?`, name); err != nil {
		return fmt.Errorf("failed to clear rows of %q: %w", name, err)
	}

	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to encode row of %q: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO logical_rows (table_name, position, data) VALUES (?, ?, ?)`,
			name, i+1, string(data)); err != nil {
			return fmt.Errorf("failed to insert row of %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit overwrite of %q: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) AppendRow(ctx context.Context, name string, header []string, row Row) error {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode header of %q: %w", name, err)
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode row of %q: %w", name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append to %q: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO logical_tables (name, header) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET header = excluded.header WHERE logical_tables.header = '[]'`,
		name, string(headerJSON)); err != nil {
		return fmt.Errorf("failed to ensure header of %q: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO logical_rows (table_name, position, data)
		VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM logical_rows WHERE table_name = ?), ?)`,
		name, name, string(data)); err != nil {
		return fmt.Errorf("failed to append row to %q: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append to %q: %w", name, err)
	}
	return nil
}

// Package sqlite implements store.Store on an embedded SQLite database.
// It serves local dry runs and tests; tables are unqualified because SQLite
// has no schemas.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/rollload/internal/fixedwidth"
	"github.com/JonMunkholm/rollload/internal/store"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

const loadLogDDL = `CREATE TABLE IF NOT EXISTS data_load_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT,
	file_name TEXT NOT NULL,
	table_name TEXT NOT NULL,
	records_loaded INTEGER NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT,
	load_end TEXT NOT NULL
)`

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path. Use ":memory:" for a
// throwaway database. SQLite allows one writer, so the pool holds a single
// connection and sessions run one at a time.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, loadLogDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create load log: %w", err)
	}
	return &Store{db: db}, nil
}

// Exec runs a statement outside any session, such as table DDL.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// Open acquires the connection for one file load.
func (s *Store) Open(ctx context.Context) (store.Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrConnLost, err)
	}
	return &session{conn: conn}, nil
}

// Truncate deletes every row from table.
func (s *Store) Truncate(ctx context.Context, table string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+store.QuoteIdentifier(table)); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	return nil
}

// Count returns the row count of table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+store.QuoteIdentifier(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// RecordLoad appends a row to data_load_log.
func (s *Store) RecordLoad(ctx context.Context, e store.LoadLogEntry) error {
	completed := e.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	var errMsg any
	if e.ErrorMessage != "" {
		errMsg = e.ErrorMessage
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO data_load_log
		(run_id, file_name, table_name, records_loaded, status, error_message, load_end)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.FileName, e.Table, e.RecordsLoaded, e.Status, errMsg, completed.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record load: %w", err)
	}
	return nil
}

// LoadLog returns the recorded entries, oldest first.
func (s *Store) LoadLog(ctx context.Context) ([]store.LoadLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT COALESCE(run_id, ''), file_name, table_name,
		records_loaded, status, COALESCE(error_message, ''), load_end
		FROM data_load_log ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []store.LoadLogEntry
	for rows.Next() {
		var e store.LoadLogEntry
		var end string
		if err := rows.Scan(&e.RunID, &e.FileName, &e.Table, &e.RecordsLoaded, &e.Status, &e.ErrorMessage, &end); err != nil {
			return nil, err
		}
		e.CompletedAt, _ = time.Parse(time.RFC3339Nano, end)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() {
	_ = s.db.Close()
}

type session struct {
	conn *sql.Conn
}

func placeholder(int) string { return "?" }

// InsertBatch inserts rows through one prepared statement in one transaction.
func (ss *session) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error {
	tx, err := ss.conn.BeginTx(ctx, nil)
	if err != nil {
		return ss.wrap(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, store.InsertSQL(store.QuoteIdentifier(table), columns, placeholder))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, convertRow(row)...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// InsertRow inserts a single row in its own transaction.
func (ss *session) InsertRow(ctx context.Context, table string, columns []string, row []any) error {
	tx, err := ss.conn.BeginTx(ctx, nil)
	if err != nil {
		return ss.wrap(err)
	}
	defer tx.Rollback()

	query := store.InsertSQL(store.QuoteIdentifier(table), columns, placeholder)
	if _, err := tx.ExecContext(ctx, query, convertRow(row)...); err != nil {
		return err
	}
	return tx.Commit()
}

// wrap reports a dead connection as store.ErrConnLost.
func (ss *session) wrap(err error) error {
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", store.ErrConnLost, err)
	}
	return err
}

// Close returns the connection to the pool.
func (ss *session) Close() error {
	return ss.conn.Close()
}

// convertRow maps decoder values onto types the driver accepts.
// Decimals become float64 since SQLite has no exact numeric type.
func convertRow(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		switch n := v.(type) {
		case pgtype.Numeric:
			if f, ok := fixedwidth.NumericFloat(n); ok {
				out[i] = f
			} else {
				out[i] = nil
			}
		default:
			out[i] = v
		}
	}
	return out
}

// Package postgres implements store.Store on a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/rollload/internal/store"
)

// InsertMode selects how a batch is written.
type InsertMode string

const (
	// ModeCopy streams each batch with COPY FROM STDIN.
	ModeCopy InsertMode = "copy"
	// ModeBatch pipelines one INSERT per row in a single round trip.
	ModeBatch InsertMode = "batch"
)

// Config holds pool and loader settings.
type Config struct {
	URL               string
	Schema            string
	MaxConns          int
	MinConns          int
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	Mode              InsertMode
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
	LoadLogTable      string
}

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool    *pgxpool.Pool
	schema  string
	mode    InsertMode
	retries int
	backoff time.Duration
	logTbl  string
}

// New connects a pool and verifies it with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return NewWithPool(pool, cfg), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool, cfg Config) *Store {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeCopy
	}
	logTbl := cfg.LoadLogTable
	if logTbl == "" {
		logTbl = "data_load_log"
	}
	backoff := cfg.ReconnectBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Store{
		pool:    pool,
		schema:  cfg.Schema,
		mode:    mode,
		retries: cfg.ReconnectAttempts,
		backoff: backoff,
		logTbl:  logTbl,
	}
}

func (s *Store) table(name string) string {
	return store.QualifiedName(s.schema, name)
}

func (s *Store) identifier(name string) pgx.Identifier {
	if s.schema == "" {
		return pgx.Identifier{name}
	}
	return pgx.Identifier{s.schema, name}
}

// Open acquires a dedicated connection for one file load.
func (s *Store) Open(ctx context.Context) (store.Session, error) {
	sess := &session{store: s, stmts: make(map[string]string)}
	if err := sess.ensureConn(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// Truncate empties table and any tables referencing it.
func (s *Store) Truncate(ctx context.Context, table string) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE TABLE "+s.table(table)+" CASCADE"); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	return nil
}

// Count returns the row count of table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+s.table(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// RecordLoad appends a row to the load log table.
func (s *Store) RecordLoad(ctx context.Context, e store.LoadLogEntry) error {
	query := `INSERT INTO ` + s.table(s.logTbl) + `
		(file_name, table_name, records_loaded, status, error_message, load_end)
		VALUES ($1, $2, $3, $4, $5, $6)`

	var errMsg *string
	if e.ErrorMessage != "" {
		errMsg = &e.ErrorMessage
	}
	completed := e.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}

	if _, err := s.pool.Exec(ctx, query, e.FileName, e.Table, e.RecordsLoaded, e.Status, errMsg, completed); err != nil {
		return fmt.Errorf("record load: %w", err)
	}
	return nil
}

// Ping checks the pool can reach the server.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// session owns one pooled connection for the duration of a file load.
type session struct {
	store *Store
	conn  *pgxpool.Conn
	stmts map[string]string // insert SQL by table
}

// ensureConn re-acquires the connection if it was closed, retrying with
// linear backoff. Exhausted retries return store.ErrConnLost.
func (ss *session) ensureConn(ctx context.Context) error {
	if ss.conn != nil && !ss.conn.Conn().IsClosed() {
		return nil
	}
	if ss.conn != nil {
		ss.conn.Release()
		ss.conn = nil
	}

	var lastErr error
	for attempt := 0; attempt <= ss.store.retries; attempt++ {
		if attempt > 0 {
			slog.Warn("reconnecting to database", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ss.store.backoff * time.Duration(attempt)):
			}
		}

		conn, err := ss.store.pool.Acquire(ctx)
		if err == nil {
			if err = conn.Ping(ctx); err == nil {
				ss.conn = conn
				return nil
			}
			conn.Release()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", store.ErrConnLost, lastErr)
}

// after checks the connection following a failed statement. If it dropped
// and cannot be restored the caller sees ErrConnLost instead of err.
func (ss *session) after(ctx context.Context, err error) error {
	if err == nil || !ss.conn.Conn().IsClosed() {
		return err
	}
	if rerr := ss.ensureConn(ctx); rerr != nil {
		return fmt.Errorf("%w (after: %v)", rerr, err)
	}
	return err
}

func (ss *session) insertSQL(table string, columns []string) string {
	if q, ok := ss.stmts[table]; ok {
		return q
	}
	q := store.InsertSQL(ss.store.table(table), columns, func(i int) string {
		return "$" + strconv.Itoa(i)
	})
	ss.stmts[table] = q
	return q
}

// InsertBatch writes rows in one transaction using the store's insert mode.
func (ss *session) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error {
	if err := ss.ensureConn(ctx); err != nil {
		return err
	}

	err := pgx.BeginFunc(ctx, ss.conn, func(tx pgx.Tx) error {
		if ss.store.mode == ModeBatch {
			return ss.sendBatch(ctx, tx, table, columns, rows)
		}
		_, err := tx.CopyFrom(ctx, ss.store.identifier(table), columns, pgx.CopyFromRows(rows))
		return err
	})
	return ss.after(ctx, err)
}

func (ss *session) sendBatch(ctx context.Context, tx pgx.Tx, table string, columns []string, rows [][]any) error {
	query := ss.insertSQL(table, columns)
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(query, row...)
	}

	br := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}

// InsertRow writes a single row in its own transaction.
func (ss *session) InsertRow(ctx context.Context, table string, columns []string, row []any) error {
	if err := ss.ensureConn(ctx); err != nil {
		return err
	}

	query := ss.insertSQL(table, columns)
	err := pgx.BeginFunc(ctx, ss.conn, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query, row...)
		return err
	})
	return ss.after(ctx, err)
}

// Close returns the connection to the pool.
func (ss *session) Close() error {
	if ss.conn != nil {
		ss.conn.Release()
		ss.conn = nil
	}
	return nil
}

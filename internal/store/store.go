// Package store defines the relational store the loader writes to.
//
// Implementations live in sub-packages: postgres (pgx pool, COPY or batched
// inserts) and sqlite (modernc.org/sqlite, used for local runs and tests).
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrConnLost is returned when a session's connection dropped and could not
// be re-established. It aborts the file being loaded.
var ErrConnLost = errors.New("store connection lost")

// Store opens sessions and runs table-level statements.
type Store interface {
	// Open acquires a connection scoped to one file load.
	Open(ctx context.Context) (Session, error)
	// Truncate removes every row from table.
	Truncate(ctx context.Context, table string) error
	// Count returns the number of rows in table.
	Count(ctx context.Context, table string) (int64, error)
	// RecordLoad persists one file load outcome to the load log.
	RecordLoad(ctx context.Context, entry LoadLogEntry) error
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases all resources.
	Close()
}

// Session inserts rows over one connection. Each call runs in its own
// transaction: a failed call leaves nothing behind.
type Session interface {
	InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error
	InsertRow(ctx context.Context, table string, columns []string, row []any) error
	Close() error
}

// LoadLogEntry is one row of the data load log.
type LoadLogEntry struct {
	RunID         string
	FileName      string
	Table         string
	RecordsLoaded int64
	Status        string
	ErrorMessage  string
	CompletedAt   time.Time
}

// QuoteIdentifier quotes a SQL identifier, doubling embedded quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedName joins an optional schema and a table as quoted identifiers.
func QualifiedName(schema, table string) string {
	if schema == "" {
		return QuoteIdentifier(table)
	}
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(table)
}

// InsertSQL builds a single-row INSERT with placeholders from placeholder(i),
// where i counts from 1.
func InsertSQL(qualified string, columns []string, placeholder func(i int) string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(qualified)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(QuoteIdentifier(c))
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholder(i + 1))
	}
	b.WriteString(")")
	return b.String()
}

// IsConnLost reports whether err means the session is unusable.
func IsConnLost(err error) bool {
	return errors.Is(err, ErrConnLost)
}

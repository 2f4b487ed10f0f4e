package core

// loader.go implements the streaming insert-with-fallback protocol.
//
// Records are pulled from a RecordSource into a batch of BatchSize rows. Each
// batch is written in one transaction. If that fails the batch is replayed
// one row per transaction so a single bad row costs one extra insert and
// never takes its neighbours down with it. Only a lost connection or a
// cancelled context stops the load early; rows already committed stay.

import (
	"context"

	"github.com/JonMunkholm/rollload/internal/fixedwidth"
	"github.com/JonMunkholm/rollload/internal/observe"
	"github.com/JonMunkholm/rollload/internal/store"
)

// DefaultBatchSize is the number of rows per batch transaction.
const DefaultBatchSize = 1000

// DefaultProgressEvery is how many inserted rows pass between progress events.
const DefaultProgressEvery = 10000

// RecordSource is a pull-based stream of decoded records. *fixedwidth.Scanner
// satisfies it.
type RecordSource interface {
	Next() bool
	Record() fixedwidth.Record
	Err() error
}

// lineSource is implemented by sources that know the physical line of the
// current record.
type lineSource interface {
	Line() int
}

// Target names where a stream is written.
type Target struct {
	RunID    string
	FileType string
	Table    string
	Columns  []string
	// Percent reports how much of the source has been read. Optional.
	Percent func() int
}

// LoadCounts tallies rows written and rows the store rejected.
type LoadCounts struct {
	Inserted int64
	Skipped  int64
}

// Loader streams records into a store session.
type Loader struct {
	BatchSize     int
	ProgressEvery int
	Reporter      observe.Reporter
}

func (l *Loader) batchSize() int {
	if l.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return l.BatchSize
}

func (l *Loader) reporter() observe.Reporter {
	if l.Reporter == nil {
		return observe.Nop()
	}
	return l.Reporter
}

// Load inserts every record from src into t.Table and returns the counts.
// A non-nil error means the load stopped early (lost connection, cancelled
// context, or a read error from src); the counts still describe what was
// committed before that.
func (l *Loader) Load(ctx context.Context, sess store.Session, src RecordSource, t Target) (LoadCounts, error) {
	var (
		counts LoadCounts
		proj   projection
		size   = l.batchSize()
		batch  = make([][]any, 0, size)
		lines  = make([]int, 0, size)
	)
	liner, _ := src.(lineSource)

	for src.Next() {
		batch = append(batch, proj.row(src.Record(), t.Columns))
		if liner != nil {
			lines = append(lines, liner.Line())
		} else {
			lines = append(lines, 0)
		}
		if len(batch) < size {
			continue
		}
		if err := l.flush(ctx, sess, t, batch, lines, &counts); err != nil {
			return counts, err
		}
		batch, lines = batch[:0], lines[:0]
	}

	if len(batch) > 0 {
		if err := l.flush(ctx, sess, t, batch, lines, &counts); err != nil {
			return counts, err
		}
	}
	return counts, src.Err()
}

// flush writes one batch, falling back to row-at-a-time on failure.
func (l *Loader) flush(ctx context.Context, sess store.Session, t Target, batch [][]any, lines []int, counts *LoadCounts) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rep := l.reporter()
	before := counts.Inserted

	err := sess.InsertBatch(ctx, t.Table, t.Columns, batch)
	if err == nil {
		counts.Inserted += int64(len(batch))
		rep.Report(observe.Event{Kind: observe.BatchCommitted, RunID: t.RunID, FileType: t.FileType, Table: t.Table, Rows: len(batch)})
		l.progress(t, before, counts.Inserted)
		return nil
	}
	if fatal(ctx, err) {
		return err
	}

	rep.Report(observe.Event{Kind: observe.BatchRejected, RunID: t.RunID, FileType: t.FileType, Table: t.Table, Rows: len(batch), Err: err})
	for i, row := range batch {
		if err := sess.InsertRow(ctx, t.Table, t.Columns, row); err != nil {
			if fatal(ctx, err) {
				l.progress(t, before, counts.Inserted)
				return err
			}
			counts.Skipped++
			rep.Report(observe.Event{Kind: observe.RowSkipped, RunID: t.RunID, FileType: t.FileType, Table: t.Table, Line: lines[i], Err: err})
			continue
		}
		counts.Inserted++
	}
	l.progress(t, before, counts.Inserted)
	return nil
}

// progress reports each ProgressEvery boundary crossed between before and now.
func (l *Loader) progress(t Target, before, now int64) {
	every := int64(l.ProgressEvery)
	if every <= 0 {
		every = DefaultProgressEvery
	}
	if now/every > before/every {
		e := observe.Event{Kind: observe.Progress, RunID: t.RunID, FileType: t.FileType, Table: t.Table, Rows: int(now)}
		if t.Percent != nil {
			e.Percent = t.Percent()
		}
		l.reporter().Report(e)
	}
}

// fatal reports whether err ends the whole file rather than one batch or row.
func fatal(ctx context.Context, err error) bool {
	return store.IsConnLost(err) || ctx.Err() != nil
}

// projection maps record values onto the target column order. It rebinds
// whenever the record shape changes.
type projection struct {
	shape    *fixedwidth.Shape
	idx      []int
	identity bool
}

func (p *projection) bind(shape *fixedwidth.Shape, columns []string) {
	p.shape = shape
	p.idx = make([]int, len(columns))
	p.identity = shape.Len() == len(columns)
	for i, name := range columns {
		p.idx[i] = shape.Index(name)
		if p.idx[i] != i {
			p.identity = false
		}
	}
}

func (p *projection) row(rec fixedwidth.Record, columns []string) []any {
	if rec.Shape() != p.shape {
		p.bind(rec.Shape(), columns)
	}
	if p.identity {
		return rec.Values()
	}
	values := rec.Values()
	out := make([]any, len(p.idx))
	for i, j := range p.idx {
		if j >= 0 {
			out[i] = values[j]
		}
	}
	return out
}

// Package observe carries load diagnostics from the decoder and loader to
// whatever is listening: structured logs, Prometheus counters, or tests.
package observe

import (
	"sync"
	"time"
)

// Kind identifies a diagnostic event.
type Kind int

const (
	FieldCoerceFailed Kind = iota
	LineDropped
	BatchCommitted
	BatchRejected
	RowSkipped
	Progress
	FileStarted
	FileFinished
)

func (k Kind) String() string {
	switch k {
	case FieldCoerceFailed:
		return "field_coerce_failed"
	case LineDropped:
		return "line_dropped"
	case BatchCommitted:
		return "batch_committed"
	case BatchRejected:
		return "batch_rejected"
	case RowSkipped:
		return "row_skipped"
	case Progress:
		return "progress"
	case FileStarted:
		return "file_started"
	case FileFinished:
		return "file_finished"
	default:
		return "unknown"
	}
}

// Event is a single diagnostic. Only the fields relevant to Kind are set.
type Event struct {
	Kind     Kind
	RunID    string
	FileType string
	Table    string
	Line     int    // 1-based physical line number
	Column   string // column name for field events
	Value    string // raw text that failed to coerce
	Rows     int    // batch size or running total
	Percent  int    // share of the source read, for Progress; 0 if unknown
	Skipped  int    // rows rejected by the store, for FileFinished
	Status   string // file outcome for FileFinished
	Duration time.Duration
	Err      error
}

// Reporter receives diagnostic events. Implementations must be safe for
// concurrent use; files in the same tier load in parallel.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(Event)

// Report calls f(e).
func (f ReporterFunc) Report(e Event) { f(e) }

type nop struct{}

func (nop) Report(Event) {}

// Nop returns a Reporter that discards every event.
func Nop() Reporter { return nop{} }

type multi []Reporter

func (m multi) Report(e Event) {
	for _, r := range m {
		r.Report(e)
	}
}

// Multi fans events out to every non-nil reporter.
func Multi(reporters ...Reporter) Reporter {
	var m multi
	for _, r := range reporters {
		if r != nil {
			m = append(m, r)
		}
	}
	if len(m) == 0 {
		return Nop()
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Report appends e.
func (r *Recorder) Report(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of kind k were recorded.
func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

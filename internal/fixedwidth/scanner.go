package fixedwidth

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"

	"github.com/JonMunkholm/rollload/internal/observe"
)

// ScanOptions control a Scanner.
type ScanOptions struct {
	// Encoding of the source bytes. Nil means UTF-8.
	Encoding encoding.Encoding
	// MaxRecords stops the scan after this many records. 0 means no cap.
	MaxRecords int
	// SkipHeader discards the first physical line.
	SkipHeader bool
	// MaxLineBytes drops lines longer than this. 0 means DefaultMaxLineBytes.
	MaxLineBytes int
	// RunID tags reported events.
	RunID string
}

// Scanner reads Records lazily from a stream, one line at a time.
//
// Blank lines are skipped. A line that cannot be decoded as a whole is
// dropped and reported; field-level failures are handled by the Decoder.
// A Scanner is forward-only and not safe for concurrent use.
//
//	sc := fixedwidth.NewScanner(f, dec, opts, reporter)
//	defer sc.Close()
//	for sc.Next() {
//	    rec := sc.Record()
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner struct {
	dec      *Decoder
	lines    *lineReader
	closer   io.Closer
	opts     ScanOptions
	reporter observe.Reporter

	lineNo  int
	yielded int
	dropped int
	rec     Record
	err     error
	done    bool
	closed  bool
}

// NewScanner wraps r. If r is an io.Closer it is closed when the scan is
// exhausted or Close is called.
func NewScanner(r io.Reader, dec *Decoder, opts ScanOptions, reporter observe.Reporter) *Scanner {
	if reporter == nil {
		reporter = observe.Nop()
	}
	s := &Scanner{
		dec:      dec,
		lines:    newLineReader(decodeReader(r, opts.Encoding), opts.MaxLineBytes),
		opts:     opts,
		reporter: reporter,
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Next advances to the next record. It returns false when the stream is
// exhausted, the record cap is reached, or a read error occurs.
func (s *Scanner) Next() bool {
	if s.done {
		return false
	}
	if s.opts.MaxRecords > 0 && s.yielded >= s.opts.MaxRecords {
		s.finish(nil)
		return false
	}

	for {
		line, err := s.lines.next()
		if errors.Is(err, io.EOF) {
			s.finish(nil)
			return false
		}
		s.lineNo++
		if errors.Is(err, errLineTooLong) {
			s.drop(err)
			continue
		}
		if err != nil {
			s.finish(fmt.Errorf("read line %d: %w", s.lineNo, err))
			return false
		}

		if s.lineNo == 1 && s.opts.SkipHeader {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		rec, err := s.decodeLine(line)
		if err != nil {
			s.drop(err)
			continue
		}

		s.rec = rec
		s.yielded++
		return true
	}
}

// decodeLine recovers from a panic while decoding so one bad line cannot
// end the scan.
func (s *Scanner) decodeLine(line string) (rec Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode panic: %v", r)
		}
	}()
	return s.dec.decode(line, s.lineNo), nil
}

func (s *Scanner) drop(err error) {
	s.dropped++
	s.reporter.Report(observe.Event{
		Kind:     observe.LineDropped,
		RunID:    s.opts.RunID,
		FileType: s.dec.spec.FileType,
		Line:     s.lineNo,
		Err:      err,
	})
}

func (s *Scanner) finish(err error) {
	s.done = true
	s.rec = Record{}
	if err != nil {
		s.err = err
	}
	if cerr := s.Close(); cerr != nil && s.err == nil {
		s.err = cerr
	}
}

// Record returns the record produced by the last successful call to Next.
func (s *Scanner) Record() Record { return s.rec }

// Err returns the first read or close error. A clean end of input is nil.
func (s *Scanner) Err() error { return s.err }

// Line returns the physical line number of the last line read.
func (s *Scanner) Line() int { return s.lineNo }

// Yielded returns how many records Next has produced.
func (s *Scanner) Yielded() int { return s.yielded }

// Dropped returns how many lines were dropped as undecodable.
func (s *Scanner) Dropped() int { return s.dropped }

// Shape returns the shape of every record this scanner yields.
func (s *Scanner) Shape() *Shape { return s.dec.shape }

// Close releases the underlying reader. It is safe to call more than once.
func (s *Scanner) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.done = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

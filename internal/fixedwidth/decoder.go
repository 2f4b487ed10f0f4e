// Package fixedwidth decodes positional text records into typed values.
//
// A Decoder turns one line into a Record using a layout.LayoutSpec. A
// Scanner pulls lines lazily from a reader, skipping blank and unreadable
// lines, and yields Records one at a time.
package fixedwidth

import (
	"strings"

	"github.com/JonMunkholm/rollload/internal/layout"
	"github.com/JonMunkholm/rollload/internal/observe"
)

// field is a column with its range and coercer resolved.
type field struct {
	col    *layout.ColumnSpec
	start  int
	end    int
	out    int // index in the record, -1 for skipped columns
	coerce coerceFunc
}

// Decoder converts lines to Records for a single layout.
// It is safe for concurrent use.
type Decoder struct {
	spec     *layout.LayoutSpec
	fields   []field
	shape    *Shape
	reporter observe.Reporter
}

// NewDecoder resolves spec's column ranges once. Field coercion failures
// are sent to reporter, which may be nil.
func NewDecoder(spec *layout.LayoutSpec, reporter observe.Reporter) *Decoder {
	if reporter == nil {
		reporter = observe.Nop()
	}

	ranges := spec.Ranges()
	fields := make([]field, len(spec.Columns))
	out := 0
	for i := range spec.Columns {
		col := &spec.Columns[i]
		f := field{
			col:    col,
			start:  ranges[i].Start,
			end:    ranges[i].End,
			out:    -1,
			coerce: coercerFor(col.Type),
		}
		if !col.Skip {
			f.out = out
			out++
		}
		fields[i] = f
	}

	return &Decoder{
		spec:     spec,
		fields:   fields,
		shape:    newShape(spec.ActiveColumnNames()),
		reporter: reporter,
	}
}

// Shape returns the shape shared by every record this decoder produces.
func (d *Decoder) Shape() *Shape { return d.shape }

// Layout returns the layout the decoder was built from.
func (d *Decoder) Layout() *layout.LayoutSpec { return d.spec }

// Decode converts one line. It never fails: fields past the end of a short
// line are null and fields that do not coerce are null.
func (d *Decoder) Decode(line string) Record {
	return d.decode(line, 0)
}

func (d *Decoder) decode(line string, lineNo int) Record {
	values := make([]any, d.shape.Len())
	text := newLineText(line)

	for i := range d.fields {
		f := &d.fields[i]
		if f.out < 0 {
			continue
		}
		raw := strings.TrimSpace(text.slice(f.start, f.end))
		values[f.out] = d.value(raw, f, lineNo)
	}

	return Record{shape: d.shape, values: values}
}

func (d *Decoder) value(raw string, f *field, lineNo int) any {
	if raw == "" {
		return nil
	}
	if mapped, ok := f.col.CodeMap[raw]; ok {
		raw = mapped
	}

	v, err := f.coerce(raw, f.col)
	if err != nil {
		d.reporter.Report(observe.Event{
			Kind:     observe.FieldCoerceFailed,
			FileType: d.spec.FileType,
			Line:     lineNo,
			Column:   f.col.Name,
			Value:    raw,
			Err:      err,
		})
		return nil
	}
	return v
}

// lineText slices a line by character position. ASCII lines, the common
// case, are sliced by byte without conversion.
type lineText struct {
	s     string
	runes []rune
	n     int
}

func newLineText(s string) lineText {
	if isAllASCII(s) {
		return lineText{s: s, n: len(s)}
	}
	r := []rune(s)
	return lineText{runes: r, n: len(r)}
}

// slice applies the short-line policy: a field that starts past the end is
// empty, a field cut off mid-way is truncated to the line.
func (t lineText) slice(start, end int) string {
	if t.n <= start {
		return ""
	}
	if end > t.n {
		end = t.n
	}
	if t.runes != nil {
		return string(t.runes[start:end])
	}
	return t.s[start:end]
}

// isAllASCII returns true if all bytes are ASCII (< 128).
func isAllASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

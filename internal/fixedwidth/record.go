package fixedwidth

// Shape is the fixed, ordered set of column names a decoder produces.
// It is built once per layout and shared by every record of that layout.
type Shape struct {
	names []string
	index map[string]int
}

func newShape(names []string) *Shape {
	s := &Shape{
		names: names,
		index: make(map[string]int, len(names)),
	}
	for i, n := range names {
		s.index[n] = i
	}
	return s
}

// Names returns the column names in layout order.
func (s *Shape) Names() []string { return s.names }

// Len returns the number of columns.
func (s *Shape) Len() int { return len(s.names) }

// Index returns the position of name, or -1.
func (s *Shape) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Record is one decoded line. Values are int64, pgtype.Numeric, string, or
// nil for null, positioned by the record's Shape.
type Record struct {
	shape  *Shape
	values []any
}

// Shape returns the record's column layout.
func (r Record) Shape() *Shape { return r.shape }

// Values returns the values in shape order. The slice is owned by the record.
func (r Record) Values() []any { return r.values }

// Len returns the number of values.
func (r Record) Len() int { return len(r.values) }

// Get returns the value for a column and whether the column exists.
// A present column may still hold nil.
func (r Record) Get(name string) (any, bool) {
	i := r.shape.Index(name)
	if i < 0 {
		return nil, false
	}
	return r.values[i], true
}

// Map copies the record into a name-keyed map.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.values))
	for i, n := range r.shape.names {
		m[n] = r.values[i]
	}
	return m
}

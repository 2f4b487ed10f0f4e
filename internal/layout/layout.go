// Package layout describes fixed-width file types: the ordered columns of each
// record, how they are typed, and which table they load into.
//
// A Catalog is parsed once from a layout document and shared read-only by every
// decode operation for its file types.
package layout

import (
	"errors"
	"fmt"
	"strings"
)

// ColumnSpec defines one field of a fixed-width record.
type ColumnSpec struct {
	Index       int               `json:"index"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Type        SemanticType      `json:"dataType"`
	Length      int               `json:"length"`
	Nullable    bool              `json:"nullable"`
	Precision   int               `json:"precision,omitempty"` // implied decimal places; 0 means none
	Start       int               `json:"start,omitempty"`     // 1-based explicit offset; 0 means sequential
	Skip        bool              `json:"skip,omitempty"`      // consumes width, excluded from output
	CodeMap     map[string]string `json:"codeMappings,omitempty"`
}

// HasExplicitStart reports whether the column declares its own start offset.
func (c ColumnSpec) HasExplicitStart() bool {
	return c.Start > 0
}

// Range is a resolved 0-based, half-open character range [Start, End).
type Range struct {
	Start int
	End   int
}

// LayoutSpec describes one file type and the table it maps to.
type LayoutSpec struct {
	FileType    string       `json:"fileName"`
	Table       string       `json:"tableName"`
	Description string       `json:"description,omitempty"`
	Columns     []ColumnSpec `json:"columns"`
	PrimaryKey  []string     `json:"primaryKey,omitempty"` // informational only
}

// ActiveColumns returns the columns that appear in decoded records.
func (l *LayoutSpec) ActiveColumns() []ColumnSpec {
	active := make([]ColumnSpec, 0, len(l.Columns))
	for _, c := range l.Columns {
		if !c.Skip {
			active = append(active, c)
		}
	}
	return active
}

// ActiveColumnNames returns non-skipped column names in declared order.
// This is the column list used for inserts.
func (l *LayoutSpec) ActiveColumnNames() []string {
	names := make([]string, 0, len(l.Columns))
	for _, c := range l.Columns {
		if !c.Skip {
			names = append(names, c.Name)
		}
	}
	return names
}

// TotalWidth is the sum of all column lengths, skipped columns included.
func (l *LayoutSpec) TotalWidth() int {
	total := 0
	for _, c := range l.Columns {
		total += c.Length
	}
	return total
}

// Ranges resolves every column's character range.
//
// A running cursor starts at 0. A column with an explicit start uses
// [start-1, start-1+length) and moves the cursor to its end, forward or
// backward. Any other column starts at the cursor and advances it.
func (l *LayoutSpec) Ranges() []Range {
	ranges := make([]Range, len(l.Columns))
	cursor := 0
	for i, c := range l.Columns {
		var start int
		if c.HasExplicitStart() {
			start = c.Start - 1
		} else {
			start = cursor
		}
		end := start + c.Length
		cursor = end
		ranges[i] = Range{Start: start, End: end}
	}
	return ranges
}

// Validate checks the column invariants that decoding depends on.
func (l *LayoutSpec) Validate() error {
	var errs []error

	if strings.TrimSpace(l.Table) == "" {
		errs = append(errs, fmt.Errorf("file type %q: table name is required", l.FileType))
	}
	if len(l.Columns) == 0 {
		errs = append(errs, fmt.Errorf("file type %q: no columns defined", l.FileType))
	}

	seen := make(map[string]bool, len(l.Columns))
	for _, c := range l.Columns {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("file type %q: column at index %d has no name", l.FileType, c.Index))
			continue
		}
		if seen[c.Name] {
			errs = append(errs, fmt.Errorf("file type %q: duplicate column %q", l.FileType, c.Name))
		}
		seen[c.Name] = true

		if c.Length <= 0 {
			errs = append(errs, fmt.Errorf("file type %q: column %q length must be positive", l.FileType, c.Name))
		}
		if c.Start < 0 {
			errs = append(errs, fmt.Errorf("file type %q: column %q start must be 1 or greater", l.FileType, c.Name))
		}
		if c.Precision < 0 {
			errs = append(errs, fmt.Errorf("file type %q: column %q precision must be non-negative", l.FileType, c.Name))
		}
	}

	return errors.Join(errs...)
}

// Catalog is the root of a layout document: every file type of one export.
type Catalog struct {
	Description string       `json:"description"`
	Version     string       `json:"version"`
	Source      string       `json:"source"`
	TaxYear     int          `json:"taxYear"`
	FilePrefix  string       `json:"filePrefix"`
	Encoding    string       `json:"encoding"`
	Files       []LayoutSpec `json:"files"`
}

// Layout returns the layout for a file type.
func (c *Catalog) Layout(fileType string) (*LayoutSpec, bool) {
	for i := range c.Files {
		if c.Files[i].FileType == fileType {
			return &c.Files[i], true
		}
	}
	return nil, false
}

// FileTypes returns the configured file types in document order.
func (c *Catalog) FileTypes() []string {
	names := make([]string, len(c.Files))
	for i, f := range c.Files {
		names[i] = f.FileType
	}
	return names
}

// Validate checks every layout and rejects duplicate file types.
func (c *Catalog) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Files))
	for i := range c.Files {
		f := &c.Files[i]
		if f.FileType == "" {
			errs = append(errs, fmt.Errorf("file %d: fileName is required", i))
			continue
		}
		if seen[f.FileType] {
			errs = append(errs, fmt.Errorf("duplicate file type %q", f.FileType))
		}
		seen[f.FileType] = true
		if err := f.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

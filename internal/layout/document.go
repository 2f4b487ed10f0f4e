package layout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// rawColumn mirrors a column entry in a layout document.
// Nullable is a pointer so an absent key defaults to true.
type rawColumn struct {
	Index        int               `json:"index" yaml:"index"`
	Name         string            `json:"name" yaml:"name"`
	Description  string            `json:"description" yaml:"description"`
	DataType     string            `json:"dataType" yaml:"dataType"`
	Length       int               `json:"length" yaml:"length"`
	Nullable     *bool             `json:"nullable" yaml:"nullable"`
	Precision    *int              `json:"precision" yaml:"precision"`
	Skip         bool              `json:"skip" yaml:"skip"`
	Start        *int              `json:"start" yaml:"start"`
	CodeMappings map[string]string `json:"codeMappings" yaml:"codeMappings"`
}

type rawFile struct {
	FileName    string      `json:"fileName" yaml:"fileName"`
	TableName   string      `json:"tableName" yaml:"tableName"`
	Description string      `json:"description" yaml:"description"`
	Columns     []rawColumn `json:"columns" yaml:"columns"`
	PrimaryKey  []string    `json:"primaryKey" yaml:"primaryKey"`
}

type rawDocument struct {
	Description string    `json:"description" yaml:"description"`
	Version     string    `json:"version" yaml:"version"`
	Source      string    `json:"source" yaml:"source"`
	TaxYear     int       `json:"taxYear" yaml:"taxYear"`
	FilePrefix  string    `json:"filePrefix" yaml:"filePrefix"`
	Encoding    string    `json:"encoding" yaml:"encoding"`
	Files       []rawFile `json:"files" yaml:"files"`
}

// LoadFile reads a layout document from disk. Files ending in .yaml or .yml
// are parsed as YAML, everything else as JSON.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON builds a Catalog from a JSON layout document.
func ParseJSON(data []byte) (*Catalog, error) {
	var doc rawDocument
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse layout json: %w", err)
	}
	return doc.catalog()
}

// ParseYAML builds a Catalog from a YAML layout document.
func ParseYAML(data []byte) (*Catalog, error) {
	var doc rawDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse layout yaml: %w", err)
	}
	return doc.catalog()
}

func (d *rawDocument) catalog() (*Catalog, error) {
	cat := &Catalog{
		Description: d.Description,
		Version:     d.Version,
		Source:      d.Source,
		TaxYear:     d.TaxYear,
		FilePrefix:  d.FilePrefix,
		Encoding:    d.Encoding,
		Files:       make([]LayoutSpec, 0, len(d.Files)),
	}
	if cat.Encoding == "" {
		cat.Encoding = "utf-8"
	}

	for _, f := range d.Files {
		spec := LayoutSpec{
			FileType:    f.FileName,
			Table:       f.TableName,
			Description: f.Description,
			PrimaryKey:  f.PrimaryKey,
			Columns:     make([]ColumnSpec, 0, len(f.Columns)),
		}
		for _, rc := range f.Columns {
			col, err := rc.column()
			if err != nil {
				return nil, fmt.Errorf("file type %q column %q: %w", f.FileName, rc.Name, err)
			}
			spec.Columns = append(spec.Columns, col)
		}
		cat.Files = append(cat.Files, spec)
	}

	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}
	return cat, nil
}

func (rc rawColumn) column() (ColumnSpec, error) {
	t, err := ParseSemanticType(rc.DataType)
	if err != nil {
		return ColumnSpec{}, err
	}

	col := ColumnSpec{
		Index:       rc.Index,
		Name:        rc.Name,
		Description: rc.Description,
		Type:        t,
		Length:      rc.Length,
		Nullable:    true,
		Skip:        rc.Skip,
		CodeMap:     rc.CodeMappings,
	}
	if rc.Nullable != nil {
		col.Nullable = *rc.Nullable
	}
	if rc.Precision != nil {
		col.Precision = *rc.Precision
	}
	if rc.Start != nil {
		if *rc.Start < 1 {
			return ColumnSpec{}, fmt.Errorf("start must be 1 or greater, got %d", *rc.Start)
		}
		col.Start = *rc.Start
	}
	return col, nil
}

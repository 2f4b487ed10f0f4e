package layout

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownType is returned when a layout document names a data type that
// does not map to a SemanticType.
var ErrUnknownType = errors.New("unknown data type")

// SemanticType is the closed set of value types a column can decode to.
type SemanticType int

const (
	Text SemanticType = iota
	Integer
	BigInteger
	Decimal
)

// dataTypeNames maps layout document dataType strings (upper-cased) to semantic types.
var dataTypeNames = map[string]SemanticType{
	"INTEGER": Integer,
	"INT":     Integer,
	"BIGINT":  BigInteger,
	"DECIMAL": Decimal,
	"NUMERIC": Decimal,
	"VARCHAR": Text,
	"CHAR":    Text,
	"TEXT":    Text,
}

// ParseSemanticType converts a layout dataType string to a SemanticType.
// Matching is case-insensitive.
func ParseSemanticType(s string) (SemanticType, error) {
	t, ok := dataTypeNames[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return Text, fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

func (t SemanticType) String() string {
	switch t {
	case Integer:
		return "INTEGER"
	case BigInteger:
		return "BIGINT"
	case Decimal:
		return "DECIMAL"
	default:
		return "TEXT"
	}
}

// MarshalText implements encoding.TextMarshaler so layouts serialize with readable types.
func (t SemanticType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

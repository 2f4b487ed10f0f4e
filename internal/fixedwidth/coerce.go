package fixedwidth

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/rollload/internal/layout"
)

// numericRegex matches integers, decimals, and scientific notation.
// Groups: sign, integer digits, fraction digits, exponent.
var numericRegex = regexp.MustCompile(`^([+-]?)(\d*)(?:\.(\d*))?(?:[eE]([+-]?\d+))?$`)

var (
	errNotNumeric = errors.New("not a number")
	errOutOfRange = errors.New("out of range")
)

// numericExpLimit bounds the decimal exponent; PostgreSQL numeric allows
// 131072 digits before the point and 16383 after.
const numericExpLimit = 131072

// coerceFunc converts a trimmed, code-mapped, non-empty raw value.
type coerceFunc func(raw string, col *layout.ColumnSpec) (any, error)

// coercers is indexed by layout.SemanticType.
var coercers = [...]coerceFunc{
	layout.Text:       coerceText,
	layout.Integer:    coerceInteger,
	layout.BigInteger: coerceBigInteger,
	layout.Decimal:    coerceDecimal,
}

func coercerFor(t layout.SemanticType) coerceFunc {
	if int(t) < 0 || int(t) >= len(coercers) {
		return coerceText
	}
	return coercers[t]
}

func coerceText(raw string, _ *layout.ColumnSpec) (any, error) {
	return raw, nil
}

// coerceInteger parses a 32-bit integer. A value outside the INTEGER range
// becomes null and keeps the row; the event error wraps errOutOfRange so it
// can be told apart from text that is not a number.
func coerceInteger(raw string, _ *layout.ColumnSpec) (any, error) {
	return parseInt(raw, 32)
}

func coerceBigInteger(raw string, _ *layout.ColumnSpec) (any, error) {
	return parseInt(raw, 64)
}

func parseInt(raw string, bits int) (any, error) {
	n, err := strconv.ParseInt(raw, 10, bits)
	if errors.Is(err, strconv.ErrRange) {
		return nil, fmt.Errorf("%w: %q exceeds %d-bit integer", errOutOfRange, raw, bits)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// coerceDecimal parses raw into an exact pgtype.Numeric.
//
// Without a decimal point and with a declared precision, the value carries
// an implied point precision digits from the right: "0012345" at precision
// 2 is 123.45. A decimal point in the raw text disables the implied point.
func coerceDecimal(raw string, col *layout.ColumnSpec) (any, error) {
	n, err := ParseNumeric(raw, impliedScale(raw, col.Precision))
	if err != nil {
		return nil, err
	}
	return n, nil
}

func impliedScale(raw string, precision int) int {
	if precision <= 0 || strings.Contains(raw, ".") {
		return 0
	}
	return precision
}

// ParseNumeric parses a decimal string and shifts the result scale digits
// to the right of the decimal point.
func ParseNumeric(s string, scale int) (pgtype.Numeric, error) {
	m := numericRegex.FindStringSubmatch(s)
	if m == nil || m[2]+m[3] == "" {
		return pgtype.Numeric{}, fmt.Errorf("%w: %q", errNotNumeric, s)
	}
	sign, whole, frac, expText := m[1], m[2], m[3], m[4]

	exp := -len(frac) - scale
	if expText != "" {
		e, err := strconv.Atoi(expText)
		if err != nil {
			return pgtype.Numeric{}, fmt.Errorf("%w: %q", errNotNumeric, s)
		}
		exp += e
	}
	if exp > numericExpLimit || exp < -numericExpLimit {
		return pgtype.Numeric{}, fmt.Errorf("%w: exponent of %q %w", errNotNumeric, s, errOutOfRange)
	}

	digits := new(big.Int)
	if _, ok := digits.SetString(whole+frac, 10); !ok {
		return pgtype.Numeric{}, fmt.Errorf("%w: %q", errNotNumeric, s)
	}
	if sign == "-" {
		digits.Neg(digits)
	}

	return pgtype.Numeric{Int: digits, Exp: int32(exp), Valid: true}, nil
}

// NumericFloat converts n to float64 for stores without an exact decimal type.
func NumericFloat(n pgtype.Numeric) (float64, bool) {
	if !n.Valid {
		return 0, false
	}
	f, err := n.Float64Value()
	if err != nil || !f.Valid {
		return 0, false
	}
	return f.Float64, true
}

package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency scales
const (
	USDPlaces int32 = 2
	LBPPlaces int32 = 0
)

// ParseError reports a money field that is not a number.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid amount %q: %v", e.Value, e.Err)
	}
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse reads a decimal amount from a request value. Blank input is zero.
func Parse(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, nil
	}
	s = strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ParseError{Value: raw, Err: err}
	}
	return d, nil
}

// ParseField is Parse with the field name attached to the error.
func ParseField(field, raw string) (decimal.Decimal, error) {
	d, err := Parse(raw)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Field = field
			return decimal.Zero, pe
		}
		return decimal.Zero, err
	}
	return d, nil
}

// Coerce is the lenient variant used for stored values: garbage becomes zero.
func Coerce(raw string) decimal.Decimal {
	d, err := Parse(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// USD rounds to cents.
func USD(d decimal.Decimal) decimal.Decimal { return d.Round(USDPlaces) }

// LBP rounds to whole pounds.
func LBP(d decimal.Decimal) decimal.Decimal { return d.Round(LBPPlaces) }

// Pair is one amount expressed in both currencies.
type Pair struct {
	USD decimal.Decimal `json:"usd"`
	LBP decimal.Decimal `json:"lbp"`
}

// NewPair rounds both sides.
func NewPair(usd, lbp decimal.Decimal) Pair {
	return Pair{USD: USD(usd), LBP: LBP(lbp)}
}

// Add sums two pairs, rounding each currency.
func (p Pair) Add(o Pair) Pair {
	return NewPair(USD(p.USD).Add(USD(o.USD)), LBP(p.LBP).Add(LBP(o.LBP)))
}

// Neg flips the sign of both sides.
func (p Pair) Neg() Pair {
	return Pair{USD: p.USD.Neg(), LBP: p.LBP.Neg()}
}

// IsZero reports whether both sides are zero.
func (p Pair) IsZero() bool {
	return p.USD.IsZero() && p.LBP.IsZero()
}

// IsNegative reports whether either side is below zero.
func (p Pair) IsNegative() bool {
	return p.USD.IsNegative() || p.LBP.IsNegative()
}

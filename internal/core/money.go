// Package core provides the ledger's value types and money parsing.
//
// Amounts are always integer minor units ("cents"). Decimal strings coming
// from users are converted here with half-up rounding using an exact
// decimal type, never binary floating point.
package core

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of minor-unit digits for most currencies.
const DefaultPrecision = 2

// ParseDecimalToCents converts a decimal string to cents with half-up rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and rounds
// on the third decimal place. Negative, signed, or zero values are rejected.
//
// Examples:
//
//	ParseDecimalToCents("12.34")  -> 1234, nil
//	ParseDecimalToCents("12,34")  -> 1234, nil
//	ParseDecimalToCents("12.345") -> 1235, nil
//	ParseDecimalToCents("12.344") -> 1234, nil
func ParseDecimalToCents(s string) (int64, error) {
	return ParseAmount(s, DefaultPrecision)
}

// ParseAmount is ParseDecimalToCents for currencies with a precision other
// than two digits (JPY has 0, BHD has 3).
func ParseAmount(s string, precision int32) (int64, error) {
	d, err := parseUnsignedDecimal(s)
	if err != nil {
		return 0, err
	}
	minor := d.Shift(precision).Round(0)
	if !minor.IsPositive() || minor.Cmp(maxMinor) > 0 {
		return 0, ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

// ParsePercent parses a percentage such as "33.3" or "33,3%".
func ParsePercent(s string) (decimal.Decimal, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	d, err := parseUnsignedDecimal(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

var maxMinor = decimal.NewFromInt(1<<63 - 1)

func parseUnsignedDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	// decimal.NewFromString also accepts exponents; user input should not.
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatCents renders minor units as a plain decimal string ("-12.05").
func FormatCents(cents int64, precision int32) string {
	return decimal.New(cents, -precision).StringFixed(precision)
}

// String renders the amount with its currency code, e.g. "12.34 EUR".
func (m Money) String() string {
	return FormatCents(m.Cents, DefaultPrecision) + " " + string(m.Currency)
}

// FormatUserID is used wherever a UserID becomes a map key on the wire.
func FormatUserID(id UserID) string {
	return strconv.FormatInt(int64(id), 10)
}

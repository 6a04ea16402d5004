package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidNumber   = errors.New("invalid number")
	ErrTooManyDecimals = errors.New("number has too many decimal places")
	ErrRateTooLarge    = errors.New("rate exceeds the largest storable value")
)

// MaxRateScale and MaxRateIntegerDigits match NUMERIC(24,8) on
// exchange_rates.rate.
const (
	MaxRateScale         = 8
	MaxRateIntegerDigits = 16
)

// rateLimit is the smallest magnitude the rate column cannot hold.
var rateLimit = decimal.New(1, MaxRateIntegerDigits)

// RateFits reports whether rate has at most MaxRateIntegerDigits digits
// before the decimal point.
func RateFits(rate decimal.Decimal) bool {
	return rate.Abs().LessThan(rateLimit)
}

// ParseDecimal accepts the shapes a JSON body can carry a number in: a JSON
// number (decoded with UseNumber), a float, an int or a numeric string.
// Sign is not checked here.
func ParseDecimal(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case nil:
		return decimal.Zero, ErrInvalidNumber
	case decimal.Decimal:
		return v, nil
	case json.Number:
		return fromString(v.String())
	case string:
		return fromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	default:
		return fromString(fmt.Sprint(v))
	}
}

// ParseRate parses a rate and rejects values with more precision than the
// ledger column stores. It does not reject non-positive values; that is a
// ledger rule.
func ParseRate(value any) (decimal.Decimal, error) {
	rate, err := ParseDecimal(value)
	if err != nil {
		return decimal.Zero, err
	}
	if rate.Exponent() < -MaxRateScale {
		trimmed := rate.Truncate(MaxRateScale)
		if !trimmed.Equal(rate) {
			return decimal.Zero, ErrTooManyDecimals
		}
		rate = trimmed
	}
	if !RateFits(rate) {
		return decimal.Zero, ErrRateTooLarge
	}
	return rate, nil
}

// Convert applies rate to amount, rounding half away from zero to places.
func Convert(amount, rate decimal.Decimal, places int32) decimal.Decimal {
	return amount.Mul(rate).Round(places)
}

func fromString(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, ErrInvalidNumber
	}
	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, ErrInvalidNumber
	}
	return parsed, nil
}

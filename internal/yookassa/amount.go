package yookassa

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount reports an amount that is not a finite positive number.
var ErrInvalidAmount = errors.New("amount must be a positive number")

// NormalizeAmount converts a numeric input into the provider's fixed-point
// string representation with exactly two fraction digits. Rounding is half
// away from zero on the decimal literal: 10.005 becomes "10.01".
func NormalizeAmount(value json.Number) (string, error) {
	raw := value.String()
	if raw == "" {
		return "", ErrInvalidAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if d.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	return d.StringFixed(2), nil
}

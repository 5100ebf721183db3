// Package metrics derives annualized yield series from pair snapshots.
package metrics

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// HoursPerYear is the annualization base (365 days, no leap years).
const HoursPerYear = 365 * 24

// AllowedWindows lists the window sizes accepted from callers.
var AllowedWindows = []int{1, 12, 24}

// ErrInvalidWindow is the sentinel wrapped by every window ValidationError.
var ErrInvalidWindow = errors.New("invalid window")

// ValidationError reports a rejected window parameter.
type ValidationError struct {
	Field string
	Value int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s must be one of %v, got %d", e.Field, AllowedWindows, e.Value)
}

// Unwrap allows errors.Is(err, ErrInvalidWindow).
func (e *ValidationError) Unwrap() error {
	return ErrInvalidWindow
}

// ValidateWindow returns a *ValidationError unless w is an allowed window.
func ValidateWindow(field string, w int) error {
	for _, allowed := range AllowedWindows {
		if w == allowed {
			return nil
		}
	}
	return &ValidationError{Field: field, Value: w}
}

var (
	hoursPerYear = decimal.NewFromInt(HoursPerYear)
	hundred      = decimal.NewFromInt(100)
)

// CalculateAPR annualizes fees earned on liquidity over a period of hours, as a percentage:
//
//	(fees / liquidity) * (8760 / hours) * 100
//
// Returns 0 when liquidity or hours is not positive.
func CalculateAPR(fees, liquidity decimal.Decimal, hours int) float64 {
	if !liquidity.IsPositive() || hours <= 0 {
		return 0
	}

	// Multiply first so exact inputs stay exact through the single division.
	num := fees.Mul(hoursPerYear).Mul(hundred)
	den := liquidity.Mul(decimal.NewFromInt(int64(hours)))
	return num.Div(den).InexactFloat64()
}

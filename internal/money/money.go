// Package money holds currency precision rules for decimal prices.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "ISK": true,
	"JPY": true, "KMF": true, "KRW": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

var threeDecimal = map[string]bool{
	"BHD": true, "IQD": true, "JOD": true, "KWD": true, "LYD": true, "OMR": true, "TND": true,
}

// Precision returns the number of minor-unit digits for an ISO 4217 code
func Precision(currency string) int32 {
	c := strings.ToUpper(strings.TrimSpace(currency))
	switch {
	case zeroDecimal[c]:
		return 0
	case threeDecimal[c]:
		return 3
	default:
		return 2
	}
}

// Round rounds half away from zero to the currency's precision
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(Precision(currency))
}

// FromMinor converts an integer minor-unit amount, e.g. cents
func FromMinor(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -Precision(currency))
}

// ToMinor converts a price to integer minor units after rounding
func ToMinor(amount decimal.Decimal, currency string) int64 {
	return Round(amount, currency).Shift(Precision(currency)).IntPart()
}

package pricing

import (
	"fmt"
	"strings"

	"esl-sync-service/internal/model"
	"esl-sync-service/internal/money"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ResolvePrice returns the price one schedule item sets for action, rounded
// to the currency's precision. A revert restores the baseline; an apply
// uses the explicit target, or the baseline adjusted by the percentage.
func ResolvePrice(item model.ScheduleItem, action model.ScheduleAction, currency string) (decimal.Decimal, error) {
	var price decimal.Decimal
	switch {
	case action == model.ActionRevert:
		price = item.BaselinePrice
	case item.TargetPrice != nil:
		price = *item.TargetPrice
	case item.Percentage != nil:
		factor := hundred.Add(*item.Percentage).Div(hundred)
		price = item.BaselinePrice.Mul(factor)
	default:
		return decimal.Zero, fmt.Errorf("%w: item %s has neither target price nor percentage", ErrInvalidSchedule, item.ExternalCode)
	}

	price = money.Round(price, currency)
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: item %s resolves to negative price %s", ErrInvalidSchedule, item.ExternalCode, price)
	}
	return price, nil
}

// ValidateItems checks the price definition of every schedule item
func ValidateItems(items []model.ScheduleItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidSchedule)
	}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		code := strings.TrimSpace(item.ExternalCode)
		if code == "" {
			return fmt.Errorf("%w: item external_code is required", ErrInvalidSchedule)
		}
		if seen[code] {
			return fmt.Errorf("%w: item %s is listed twice", ErrInvalidSchedule, code)
		}
		seen[code] = true

		if (item.TargetPrice == nil) == (item.Percentage == nil) {
			return fmt.Errorf("%w: item %s needs exactly one of target_price and percentage", ErrInvalidSchedule, code)
		}
		if item.BaselinePrice.IsNegative() {
			return fmt.Errorf("%w: item %s has a negative baseline price", ErrInvalidSchedule, code)
		}
		if item.TargetPrice != nil && item.TargetPrice.IsNegative() {
			return fmt.Errorf("%w: item %s has a negative target price", ErrInvalidSchedule, code)
		}
		if item.Percentage != nil && item.Percentage.LessThanOrEqual(hundred.Neg()) {
			return fmt.Errorf("%w: item %s percentage must be above -100", ErrInvalidSchedule, code)
		}
	}
	return nil
}

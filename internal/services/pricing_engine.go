package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	domain "github.com/hanko-field/storefront/internal/domain"
)

// PricingConfig holds the flat pricing rules applied at checkout.
type PricingConfig struct {
	Currency         string
	TaxRate          decimal.Decimal
	FreeShippingOver int64
	FlatShippingFee  int64
}

// PricingEngine computes order totals in minor currency units.
type PricingEngine struct {
	currency string
	taxRate  decimal.Decimal
	freeOver int64
	flatFee  int64
}

// NewPricingEngine validates the currency code and rate.
func NewPricingEngine(cfg PricingConfig) (*PricingEngine, error) {
	code := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("pricing engine: invalid currency %q: %w", cfg.Currency, err)
	}
	if cfg.TaxRate.IsNegative() || cfg.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errors.New("pricing engine: tax rate must be within [0, 1)")
	}
	if cfg.FreeShippingOver < 0 || cfg.FlatShippingFee < 0 {
		return nil, errors.New("pricing engine: shipping amounts must not be negative")
	}
	return &PricingEngine{
		currency: unit.String(),
		taxRate:  cfg.TaxRate,
		freeOver: cfg.FreeShippingOver,
		flatFee:  cfg.FlatShippingFee,
	}, nil
}

// Totals prices the lines. Shipping is waived once the subtotal reaches the
// free-shipping threshold; tax is the subtotal times the flat rate, rounded
// half away from zero to the minor unit.
func (e *PricingEngine) Totals(lines []domain.OrderLine) domain.OrderTotals {
	var subtotal int64
	for _, line := range lines {
		subtotal += line.TotalPrice
	}
	shipping := e.flatFee
	if subtotal >= e.freeOver {
		shipping = 0
	}
	tax := decimal.NewFromInt(subtotal).Mul(e.taxRate).Round(0).IntPart()
	return domain.OrderTotals{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal + shipping + tax,
		Currency: e.currency,
	}
}

// FormatAmount renders a minor-unit amount with its ISO code, e.g. 10800 USD as
// "USD 108.00". Unknown codes fall back to the bare minor units.
func FormatAmount(amount int64, code string) string {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return strconv.FormatInt(amount, 10)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return fmt.Sprintf("%s %s", unit.String(), decimal.New(amount, int32(-scale)).StringFixed(int32(scale)))
}

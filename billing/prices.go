package billing

import (
	"fmt"
	"strings"

	"github.com/bibliolivre/storefront/store"
)

// PriceTable resolves a subscription plan and settlement currency to the
// provider price id. The table is closed: combinations outside it fail
// loudly instead of defaulting to a currency the customer didn't pick.
type PriceTable struct {
	prices map[store.PlanType]map[string]string
}

// NewPriceTable builds the table from configuration. Empty entries are
// omitted so lookups against them fail with ErrPriceNotConfigured.
func NewPriceTable(cfg Config) PriceTable {
	t := PriceTable{prices: map[store.PlanType]map[string]string{
		store.PlanMonthly: {},
		store.PlanYearly:  {},
	}}
	set := func(plan store.PlanType, currency, priceID string) {
		if priceID != "" {
			t.prices[plan][currency] = priceID
		}
	}
	set(store.PlanMonthly, "usd", cfg.MonthlyPriceUSD)
	set(store.PlanMonthly, "brl", cfg.MonthlyPriceBRL)
	set(store.PlanYearly, "usd", cfg.YearlyPriceUSD)
	set(store.PlanYearly, "brl", cfg.YearlyPriceBRL)
	return t
}

// PriceID returns the provider price id for the given plan and currency.
// Currency comparison is case-insensitive; Stripe reports lowercase codes.
func (t PriceTable) PriceID(plan store.PlanType, currency string) (string, error) {
	byCurrency, ok := t.prices[plan]
	if !ok {
		return "", fmt.Errorf("%w: plan %q", ErrPriceNotConfigured, plan)
	}
	priceID, ok := byCurrency[strings.ToLower(currency)]
	if !ok {
		return "", fmt.Errorf("%w: plan %q currency %q", ErrPriceNotConfigured, plan, currency)
	}
	return priceID, nil
}

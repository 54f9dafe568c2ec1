package discount

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCanApplyDiscountChecksInOrder(t *testing.T) {
	start := evalTime.Add(-time.Hour)
	end := evalTime.Add(time.Hour)
	later := evalTime.Add(time.Minute)
	earlier := evalTime.Add(-time.Minute)
	code := "VIP"
	limit := int32(3)
	floor := dec("100")

	base := percentRule("base", 10, TypeAllProducts, ScopePerProduct)
	base.StartDate = &start
	base.EndDate = &end

	cases := []struct {
		name    string
		mutate  func(r *Rule)
		subtot  string
		voucher string
		want    error
	}{
		{name: "eligible", mutate: func(r *Rule) {}, subtot: "50"},
		{name: "inactive beats everything", mutate: func(r *Rule) { r.IsActive = false; r.StartDate = &later }, subtot: "50", want: ErrInactive},
		{name: "not started", mutate: func(r *Rule) { r.StartDate = &later }, subtot: "50", want: ErrNotStarted},
		{name: "expired", mutate: func(r *Rule) { r.EndDate = &earlier }, subtot: "50", want: ErrExpired},
		{name: "voucher required", mutate: func(r *Rule) { r.VoucherCode = &code }, subtot: "50", want: ErrVoucherRequired},
		{name: "voucher mismatch", mutate: func(r *Rule) { r.VoucherCode = &code }, subtot: "50", voucher: "OTHER", want: ErrVoucherMismatch},
		{name: "voucher match", mutate: func(r *Rule) { r.VoucherCode = &code }, subtot: "50", voucher: "VIP"},
		{name: "automatic rule with voucher", mutate: func(r *Rule) {}, subtot: "50", voucher: "VIP", want: ErrVoucherExclusive},
		{name: "min order value before usage", mutate: func(r *Rule) { r.MinOrderValue = &floor; r.MaxUsageCount = &limit; r.UsageCount = 3 }, subtot: "99.99", want: ErrMinOrderValueUnmet},
		{name: "min order value boundary", mutate: func(r *Rule) { r.MinOrderValue = &floor }, subtot: "100"},
		{name: "usage exhausted", mutate: func(r *Rule) { r.MaxUsageCount = &limit; r.UsageCount = 3 }, subtot: "50", want: ErrUsageLimitReached},
		{name: "usage left", mutate: func(r *Rule) { r.MaxUsageCount = &limit; r.UsageCount = 2 }, subtot: "50"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := base.clone()
			tc.mutate(&rule)
			got := CanApplyDiscount(rule, dec(tc.subtot), tc.voucher, evalTime)
			if tc.want == nil {
				require.True(t, got.CanApply, got.Reason)
				require.Empty(t, got.Reason)
				return
			}
			require.False(t, got.CanApply)
			require.Equal(t, tc.want.Error(), got.Reason)
		})
	}
}

func TestDateWindowIsInclusive(t *testing.T) {
	rule := percentRule("window", 10, TypeAllProducts, ScopePerProduct)
	start := evalTime
	end := evalTime
	rule.StartDate = &start
	rule.EndDate = &end

	require.True(t, CanApplyDiscount(rule, decimal.Zero, "", evalTime).CanApply)
	require.False(t, CanApplyDiscount(rule, decimal.Zero, "", evalTime.Add(time.Nanosecond)).CanApply)
}

func TestCanApplyAgreesWithCalculate(t *testing.T) {
	code := "CODE"
	floor := dec("150")
	gated := percentRule("gated", 10, TypeAllProducts, ScopeOrderTotal)
	gated.VoucherCode = &code
	floored := percentRule("floored", 10, TypeAllProducts, ScopeOrderTotal)
	floored.MinOrderValue = &floor
	inactive := percentRule("inactive", 10, TypeAllProducts, ScopeOrderTotal)
	inactive.IsActive = false
	rules := []Rule{gated, floored, inactive, percentRule("plain", 5, TypeAllProducts, ScopePerProduct)}
	items := []OrderItem{item(uuid.New(), 2, 100)}

	for _, voucher := range []string{"", code} {
		result, err := newTestEngine().Calculate(rules, items, Options{VoucherCode: voucher, Now: evalTime})
		require.NoError(t, err)
		applicable := map[uuid.UUID]bool{}
		for _, r := range result.ApplicableDiscounts {
			applicable[r.ID] = true
		}
		for _, r := range rules {
			got := CanApplyDiscount(r, result.SubtotalBeforeDiscount, voucher, evalTime)
			require.Equal(t, applicable[r.ID], got.CanApply, "rule %s voucher %q", r.Name, voucher)
		}
	}
}

func TestFilterEligiblePreservesOrder(t *testing.T) {
	first := percentRule("first", 1, TypeAllProducts, ScopePerProduct)
	second := percentRule("second", 2, TypeAllProducts, ScopePerProduct)
	off := percentRule("off", 3, TypeAllProducts, ScopePerProduct)
	off.IsActive = false
	third := percentRule("third", 4, TypeAllProducts, ScopePerProduct)

	applicable, inapplicable := FilterEligible([]Rule{first, off, second, third}, decimal.Zero, "", evalTime)
	require.Len(t, applicable, 3)
	require.Equal(t, []string{"first", "second", "third"}, []string{applicable[0].Name, applicable[1].Name, applicable[2].Name})
	require.Len(t, inapplicable, 1)
	require.Equal(t, "off", inapplicable[0].Rule.Name)
}

func TestEngineCanApplyDiscountUsesEngineClock(t *testing.T) {
	rule := percentRule("closing soon", 10, TypeAllProducts, ScopePerProduct)
	end := evalTime.Add(time.Minute)
	rule.EndDate = &end
	engine := newTestEngine()

	got := engine.CanApplyDiscount(rule, decimal.Zero, "", time.Time{})
	require.True(t, got.CanApply, got.Reason)

	result, err := engine.Calculate([]Rule{rule}, nil, Options{})
	require.NoError(t, err)
	require.Len(t, result.ApplicableDiscounts, 1)

	require.False(t, CanApplyDiscount(rule, decimal.Zero, "", time.Time{}).CanApply)
}

package discount

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ProductOptions tunes a GetDiscount call.
type ProductOptions struct {
	VoucherCode string
	Now         time.Time
}

// GetDiscount evaluates rules against a single product without any order context. The minimum
// order value is not checked, ORDER_TOTAL rules never reduce the price, and every passing rule
// stacks on the same product.
func (e *Engine) GetDiscount(p Product, rules []Rule, opts ProductOptions) ProductPrice {
	now := e.now(opts.Now)
	out := ProductPrice{
		NewPrice:         p.Price,
		DiscountsApplied: make([]AppliedDiscount, 0),
		Constraints:      make([]string, 0),
	}
	total := decimal.Zero
	for _, r := range rules {
		if reason := productConstraint(r, p, opts.VoucherCode, now); reason != "" {
			out.Constraints = append(out.Constraints, fmt.Sprintf("%s: %s", r.Name, reason))
			continue
		}
		amount := calculateAmount(r, p.Price)
		total = total.Add(amount)
		out.DiscountsApplied = append(out.DiscountsApplied, appliedFrom(r, amount))
	}
	out.NewPrice = decimal.Max(decimal.Zero, p.Price.Sub(total))
	return out
}

// productConstraint returns the reason r cannot reduce the price of p, or "" when it can.
func productConstraint(r Rule, p Product, voucherCode string, now time.Time) string {
	if err := validateRule(r); err != nil {
		return err.Error()
	}
	if err := checkWindow(r, voucherCode, now); err != nil {
		return err.Error()
	}
	if err := checkUsage(r); err != nil {
		return err.Error()
	}
	switch r.Type {
	case TypeAllProducts:
	case TypeSelectedProducts:
		if len(r.ProductIDs) == 0 || !containsID(r.ProductIDs, p.ID) {
			return "product is not part of the selected products"
		}
	case TypeSelectedCategories:
		if !categoryMatch(p.CategoryID, p.SubCategoryID, r.CategoryIDs, r.SubCategoryIDs) {
			return "product is not part of the selected categories"
		}
	}
	if r.Scope == ScopeOrderTotal {
		return "discount requires order total"
	}
	return ""
}

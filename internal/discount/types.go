package discount

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscountType selects which order items a rule targets.
type DiscountType string

const (
	TypeAllProducts        DiscountType = "FLAT_ALL_PRODUCTS"
	TypeSelectedProducts   DiscountType = "FLAT_SELECTED_PRODUCTS"
	TypeSelectedCategories DiscountType = "FLAT_SELECTED_CATEGORIES"
)

// Valid reports whether t is one of the known discount types.
func (t DiscountType) Valid() bool {
	switch t {
	case TypeAllProducts, TypeSelectedProducts, TypeSelectedCategories:
		return true
	}
	return false
}

// ValueType controls how Rule.Value is interpreted.
type ValueType string

const (
	ValuePercentage  ValueType = "PERCENTAGE"
	ValueFixedAmount ValueType = "FIXED_AMOUNT"
)

// Valid reports whether v is one of the known value types.
func (v ValueType) Valid() bool {
	switch v {
	case ValuePercentage, ValueFixedAmount:
		return true
	}
	return false
}

// Scope decides whether a rule reduces line items or the order total.
type Scope string

const (
	ScopePerProduct Scope = "PER_PRODUCT"
	ScopeOrderTotal Scope = "ORDER_TOTAL"
)

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopePerProduct, ScopeOrderTotal:
		return true
	}
	return false
}

// Rule is a discount definition as supplied by the rule store. The engine only reads it.
type Rule struct {
	ID             uuid.UUID        `json:"id"`
	Name           string           `json:"name"`
	Type           DiscountType     `json:"discountType"`
	ValueType      ValueType        `json:"valueType"`
	Value          decimal.Decimal  `json:"discountValue"`
	Scope          Scope            `json:"discountScope"`
	StartDate      *time.Time       `json:"startDate,omitempty"`
	EndDate        *time.Time       `json:"endDate,omitempty"`
	IsActive       bool             `json:"isActive"`
	MaxUsageCount  *int32           `json:"maxUsageCount,omitempty"`
	UsageCount     int32            `json:"usageCount"`
	MinOrderValue  *decimal.Decimal `json:"minOrderValue,omitempty"`
	VoucherCode    *string          `json:"voucherCode,omitempty"`
	ProductIDs     []uuid.UUID      `json:"productIds,omitempty"`
	CategoryIDs    []uuid.UUID      `json:"categoryIds,omitempty"`
	SubCategoryIDs []uuid.UUID      `json:"subCategoryIds,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// HasVoucher reports whether the rule is voucher gated.
func (r Rule) HasVoucher() bool {
	return r.VoucherCode != nil
}

// clone returns a copy that shares no mutable state with r.
func (r Rule) clone() Rule {
	out := r
	if r.StartDate != nil {
		start := *r.StartDate
		out.StartDate = &start
	}
	if r.EndDate != nil {
		end := *r.EndDate
		out.EndDate = &end
	}
	if r.MaxUsageCount != nil {
		limit := *r.MaxUsageCount
		out.MaxUsageCount = &limit
	}
	if r.MinOrderValue != nil {
		floor := *r.MinOrderValue
		out.MinOrderValue = &floor
	}
	if r.VoucherCode != nil {
		code := *r.VoucherCode
		out.VoucherCode = &code
	}
	out.ProductIDs = cloneIDs(r.ProductIDs)
	out.CategoryIDs = cloneIDs(r.CategoryIDs)
	out.SubCategoryIDs = cloneIDs(r.SubCategoryIDs)
	return out
}

func cloneIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return nil
	}
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	return out
}

// OrderItem is one line of the order under evaluation.
type OrderItem struct {
	ProductID     uuid.UUID       `json:"productId"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	CategoryID    *uuid.UUID      `json:"productCategoryId,omitempty"`
	SubCategoryID *uuid.UUID      `json:"productSubCategoryId,omitempty"`
}

// Subtotal returns unit price times quantity.
func (it OrderItem) Subtotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Product is the input of the single product evaluator.
type Product struct {
	ID            uuid.UUID       `json:"id"`
	Price         decimal.Decimal `json:"price"`
	CategoryID    *uuid.UUID      `json:"categoryId,omitempty"`
	SubCategoryID *uuid.UUID      `json:"subCategoryId,omitempty"`
}

// Options tunes a Calculate call.
type Options struct {
	// VoucherCode is the code supplied by the customer; empty means none.
	VoucherCode string
	// Now overrides the evaluation instant; zero uses the engine clock.
	Now time.Time
	// OrderSubtotal overrides the subtotal computed from the order items.
	OrderSubtotal *decimal.Decimal
}

// LineItemDiscount is the per-line outcome. One row is emitted per input item.
type LineItemDiscount struct {
	ProductID       uuid.UUID       `json:"productId"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	OriginalPrice   decimal.Decimal `json:"originalPrice"`
	Discount        decimal.Decimal `json:"discountAmount"`
	DiscountedPrice decimal.Decimal `json:"discountedPrice"`
	DiscountID      *uuid.UUID      `json:"discountId,omitempty"`
	DiscountName    string          `json:"discountName,omitempty"`
}

// AppliedDiscount describes a rule that contributed to the result.
type AppliedDiscount struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Type      DiscountType    `json:"discountType"`
	ValueType ValueType       `json:"valueType"`
	Value     decimal.Decimal `json:"discountValue"`
	Scope     Scope           `json:"discountScope"`
	Amount    decimal.Decimal `json:"amount"`
}

// BreakdownEntry is one line of the human readable audit trail.
type BreakdownEntry struct {
	DiscountID   uuid.UUID       `json:"discountId"`
	DiscountName string          `json:"discountName"`
	ProductID    *uuid.UUID      `json:"productId,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
}

// Ineligible pairs a rejected rule with the reason it was rejected.
type Ineligible struct {
	Rule   Rule   `json:"discount"`
	Reason string `json:"reason"`
}

// Result is the reconciled outcome of a Calculate call.
type Result struct {
	OrderDiscount          decimal.Decimal    `json:"orderDiscount"`
	LineItemDiscounts      []LineItemDiscount `json:"lineItemDiscounts"`
	AppliedDiscounts       []AppliedDiscount  `json:"appliedDiscounts"`
	Breakdown              []BreakdownEntry   `json:"discountBreakdown"`
	SubtotalBeforeDiscount decimal.Decimal    `json:"subtotalBeforeDiscount"`
	// SubtotalAfterDiscount is not clamped and may be negative; FinalTotal is.
	SubtotalAfterDiscount decimal.Decimal `json:"subtotalAfterDiscount"`
	FinalTotal            decimal.Decimal `json:"finalTotal"`
	ApplicableDiscounts   []Rule          `json:"applicableDiscounts"`
	InapplicableDiscounts []Ineligible    `json:"inapplicableDiscounts"`
}

// Eligibility is the answer of CanApplyDiscount.
type Eligibility struct {
	CanApply bool   `json:"canApply"`
	Reason   string `json:"reason,omitempty"`
}

// ProductPrice is the answer of GetDiscount.
type ProductPrice struct {
	NewPrice         decimal.Decimal   `json:"newPrice"`
	DiscountsApplied []AppliedDiscount `json:"discountsApplied"`
	Constraints      []string          `json:"constraints"`
}

// RuleSummary is the customer facing view of a rule. Voucher codes, usage counters and
// target lists stay server side.
type RuleSummary struct {
	ID              uuid.UUID        `json:"id"`
	Name            string           `json:"name"`
	Type            DiscountType     `json:"discountType"`
	ValueType       ValueType        `json:"valueType"`
	Value           decimal.Decimal  `json:"discountValue"`
	Scope           Scope            `json:"discountScope"`
	StartDate       *time.Time       `json:"startDate,omitempty"`
	EndDate         *time.Time       `json:"endDate,omitempty"`
	MinOrderValue   *decimal.Decimal `json:"minOrderValue,omitempty"`
	VoucherRequired bool             `json:"voucherRequired"`
}

// Summary returns the customer facing view of r.
func (r Rule) Summary() RuleSummary {
	return RuleSummary{
		ID:              r.ID,
		Name:            r.Name,
		Type:            r.Type,
		ValueType:       r.ValueType,
		Value:           r.Value,
		Scope:           r.Scope,
		StartDate:       r.StartDate,
		EndDate:         r.EndDate,
		MinOrderValue:   r.MinOrderValue,
		VoucherRequired: r.HasVoucher(),
	}
}

// IneligibleSummary is the customer facing view of an Ineligible entry.
type IneligibleSummary struct {
	Rule   RuleSummary `json:"discount"`
	Reason string      `json:"reason"`
}

// Quote is the customer facing rendition of a Result.
type Quote struct {
	OrderDiscount          decimal.Decimal     `json:"orderDiscount"`
	LineItemDiscounts      []LineItemDiscount  `json:"lineItemDiscounts"`
	AppliedDiscounts       []AppliedDiscount   `json:"appliedDiscounts"`
	Breakdown              []BreakdownEntry    `json:"discountBreakdown"`
	SubtotalBeforeDiscount decimal.Decimal     `json:"subtotalBeforeDiscount"`
	SubtotalAfterDiscount  decimal.Decimal     `json:"subtotalAfterDiscount"`
	FinalTotal             decimal.Decimal     `json:"finalTotal"`
	ApplicableDiscounts    []RuleSummary       `json:"applicableDiscounts"`
	InapplicableDiscounts  []IneligibleSummary `json:"inapplicableDiscounts"`
}

// Quote strips res down to what may be shown to a customer.
func (res Result) Quote() Quote {
	q := Quote{
		OrderDiscount:          res.OrderDiscount,
		LineItemDiscounts:      res.LineItemDiscounts,
		AppliedDiscounts:       res.AppliedDiscounts,
		Breakdown:              res.Breakdown,
		SubtotalBeforeDiscount: res.SubtotalBeforeDiscount,
		SubtotalAfterDiscount:  res.SubtotalAfterDiscount,
		FinalTotal:             res.FinalTotal,
		ApplicableDiscounts:    make([]RuleSummary, 0, len(res.ApplicableDiscounts)),
		InapplicableDiscounts:  make([]IneligibleSummary, 0, len(res.InapplicableDiscounts)),
	}
	for _, r := range res.ApplicableDiscounts {
		q.ApplicableDiscounts = append(q.ApplicableDiscounts, r.Summary())
	}
	for _, in := range res.InapplicableDiscounts {
		q.InapplicableDiscounts = append(q.InapplicableDiscounts, IneligibleSummary{Rule: in.Rule.Summary(), Reason: in.Reason})
	}
	return q
}

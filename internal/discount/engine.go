package discount

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidOrderItem is returned when an order line carries a negative quantity or price.
	ErrInvalidOrderItem = errors.New("invalid order item")
	// ErrInvalidRule marks a rule definition the engine cannot apply.
	ErrInvalidRule = errors.New("invalid discount rule")
)

var hundred = decimal.NewFromInt(100)

// Engine evaluates discount rules against an order. It performs no I/O and keeps no state
// between calls, so a single Engine can be shared by concurrent callers.
type Engine struct {
	Logger zerolog.Logger
	Now    func() time.Time
}

// NewEngine constructs an engine logging through logger.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{Logger: logger, Now: time.Now}
}

func (e *Engine) now(override time.Time) time.Time {
	if !override.IsZero() {
		return override
	}
	if e != nil && e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *zerolog.Logger {
	if e == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return &e.Logger
}

// Calculate filters rules by eligibility, applies the applicable ones in input order and
// reconciles the per-line and order-level discounts into a Result.
func (e *Engine) Calculate(rules []Rule, items []OrderItem, opts Options) (Result, error) {
	if err := validateItems(items); err != nil {
		return Result{}, err
	}
	now := e.now(opts.Now)
	subtotal := itemsSubtotal(items)
	if opts.OrderSubtotal != nil {
		subtotal = *opts.OrderSubtotal
	}

	applicable, inapplicable := FilterEligible(rules, subtotal, opts.VoucherCode, now)

	run := newApplication(items, subtotal)
	for _, r := range applicable {
		out := run.apply(r)
		switch out.status {
		case outcomeFailed:
			e.logger().Warn().Err(out.err).
				Str("discount_id", r.ID.String()).
				Str("discount_name", r.Name).
				Msg("discount application failed")
		case outcomeSkipped:
			e.logger().Debug().
				Str("discount_id", r.ID.String()).
				Str("reason", out.reason).
				Msg("discount not applied")
		}
	}

	result := run.aggregate()
	result.ApplicableDiscounts = applicable
	result.InapplicableDiscounts = inapplicable
	return result, nil
}

// GetProductPriceAfterDiscount runs a full calculation and returns the discounted price of the
// first line for productID, or originalPrice when the product is not part of the order.
func (e *Engine) GetProductPriceAfterDiscount(productID uuid.UUID, originalPrice decimal.Decimal, rules []Rule, items []OrderItem, opts Options) (decimal.Decimal, error) {
	result, err := e.Calculate(rules, items, opts)
	if err != nil {
		return decimal.Zero, err
	}
	for _, line := range result.LineItemDiscounts {
		if line.ProductID == productID {
			return line.DiscountedPrice, nil
		}
	}
	return originalPrice, nil
}

func validateItems(items []OrderItem) error {
	for i, it := range items {
		if it.Quantity < 0 {
			return fmt.Errorf("%w: item %d has negative quantity", ErrInvalidOrderItem, i)
		}
		if it.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: item %d has negative unit price", ErrInvalidOrderItem, i)
		}
	}
	return nil
}

func itemsSubtotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

func validateRule(r Rule) error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown discount type %q", ErrInvalidRule, r.Type)
	}
	if !r.ValueType.Valid() {
		return fmt.Errorf("%w: unknown value type %q", ErrInvalidRule, r.ValueType)
	}
	if !r.Scope.Valid() {
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidRule, r.Scope)
	}
	if r.Value.IsNegative() {
		return fmt.Errorf("%w: negative discount value", ErrInvalidRule)
	}
	return nil
}

// calculateAmount returns the discount a rule grants on amount. Fixed amounts are returned
// verbatim and may exceed amount; clamping happens during aggregation.
func calculateAmount(r Rule, amount decimal.Decimal) decimal.Decimal {
	switch r.ValueType {
	case ValuePercentage:
		return amount.Mul(r.Value).Div(hundred)
	case ValueFixedAmount:
		return r.Value
	}
	return decimal.Zero
}

type outcomeStatus int

const (
	outcomeApplied outcomeStatus = iota
	outcomeSkipped
	outcomeFailed
)

type outcome struct {
	status outcomeStatus
	reason string
	err    error
}

func applied() outcome { return outcome{status: outcomeApplied} }
func skipped(reason string) outcome { return outcome{status: outcomeSkipped, reason: reason} }
func failed(err error) outcome { return outcome{status: outcomeFailed, err: err} }

// ledgerEntry is the discount a product received and the order line that earned it.
type ledgerEntry struct {
	line     int
	amount   decimal.Decimal
	ruleID   uuid.UUID
	ruleName string
}

// application owns every accumulator of one Calculate call.
type application struct {
	items         []OrderItem
	subtotal      decimal.Decimal
	ledger        map[uuid.UUID]*ledgerEntry
	discounted    map[uuid.UUID]struct{}
	orderDiscount decimal.Decimal
	applied       []AppliedDiscount
	breakdown     []BreakdownEntry
}

func newApplication(items []OrderItem, subtotal decimal.Decimal) *application {
	return &application{
		items:         items,
		subtotal:      subtotal,
		ledger:        make(map[uuid.UUID]*ledgerEntry, len(items)),
		discounted:    make(map[uuid.UUID]struct{}, len(items)),
		orderDiscount: decimal.Zero,
		applied:       make([]AppliedDiscount, 0),
		breakdown:     make([]BreakdownEntry, 0),
	}
}

// apply validates r before touching any accumulator, so a failing rule leaves no trace.
func (a *application) apply(r Rule) outcome {
	if err := validateRule(r); err != nil {
		return failed(err)
	}
	switch r.Type {
	case TypeAllProducts:
		switch r.Scope {
		case ScopeOrderTotal:
			a.applyOrderTotal(r)
			return applied()
		case ScopePerProduct:
			if len(a.items) == 0 {
				return skipped("order has no items")
			}
			a.applyPerProduct(r, allLines(a.items))
			return applied()
		}
	case TypeSelectedProducts:
		matched := matchProducts(a.items, r.ProductIDs)
		if len(matched) == 0 {
			return skipped("no order item matches the selected products")
		}
		a.applyPerProduct(r, matched)
		return applied()
	case TypeSelectedCategories:
		matched := matchCategories(a.items, r.CategoryIDs, r.SubCategoryIDs)
		if len(matched) == 0 {
			return skipped("no order item matches the selected categories")
		}
		a.applyPerProduct(r, matched)
		return applied()
	}
	return failed(fmt.Errorf("%w: unsupported combination %s/%s", ErrInvalidRule, r.Type, r.Scope))
}

func (a *application) applyOrderTotal(r Rule) {
	amount := calculateAmount(r, a.subtotal)
	a.orderDiscount = a.orderDiscount.Add(amount)
	a.breakdown = append(a.breakdown, BreakdownEntry{
		DiscountID:   r.ID,
		DiscountName: r.Name,
		Amount:       amount,
		Description:  fmt.Sprintf("%s: -%s on order total", r.Name, amount.StringFixed(2)),
	})
	a.applied = append(a.applied, appliedFrom(r, amount))
}

// applyPerProduct writes at most one discount per product across the whole call; products
// already present in the discounted set are skipped. targets are indexes into a.items.
func (a *application) applyPerProduct(r Rule, targets []int) {
	total := decimal.Zero
	for _, idx := range targets {
		it := a.items[idx]
		if _, done := a.discounted[it.ProductID]; done {
			continue
		}
		amount := calculateAmount(r, it.Subtotal())
		a.ledger[it.ProductID] = &ledgerEntry{line: idx, amount: amount, ruleID: r.ID, ruleName: r.Name}
		a.discounted[it.ProductID] = struct{}{}

		productID := it.ProductID
		a.breakdown = append(a.breakdown, BreakdownEntry{
			DiscountID:   r.ID,
			DiscountName: r.Name,
			ProductID:    &productID,
			Amount:       amount,
			Description:  fmt.Sprintf("%s: -%s on product %s", r.Name, amount.StringFixed(2), productID),
		})
		total = total.Add(amount)
	}
	a.applied = append(a.applied, appliedFrom(r, total))
}

func (a *application) aggregate() Result {
	lines := make([]LineItemDiscount, 0, len(a.items))
	for i, it := range a.items {
		lineSubtotal := it.Subtotal()
		line := LineItemDiscount{
			ProductID:     it.ProductID,
			Quantity:      it.Quantity,
			UnitPrice:     it.UnitPrice,
			OriginalPrice: lineSubtotal,
			Discount:      decimal.Zero,
		}
		// A repeated product line keeps its full price; the discount stays on the line that earned it.
		if entry, ok := a.ledger[it.ProductID]; ok && entry.line == i {
			id := entry.ruleID
			line.Discount = entry.amount
			line.DiscountID = &id
			line.DiscountName = entry.ruleName
		}
		line.DiscountedPrice = decimal.Max(decimal.Zero, lineSubtotal.Sub(line.Discount))
		lines = append(lines, line)
	}

	lineTotal := decimal.Zero
	for _, entry := range a.ledger {
		lineTotal = lineTotal.Add(entry.amount)
	}

	after := a.subtotal.Sub(lineTotal).Sub(a.orderDiscount)
	return Result{
		OrderDiscount:          a.orderDiscount,
		LineItemDiscounts:      lines,
		AppliedDiscounts:       a.applied,
		Breakdown:              a.breakdown,
		SubtotalBeforeDiscount: a.subtotal,
		SubtotalAfterDiscount:  after,
		FinalTotal:             decimal.Max(decimal.Zero, after),
	}
}

func appliedFrom(r Rule, amount decimal.Decimal) AppliedDiscount {
	return AppliedDiscount{
		ID:        r.ID,
		Name:      r.Name,
		Type:      r.Type,
		ValueType: r.ValueType,
		Value:     r.Value,
		Scope:     r.Scope,
		Amount:    amount,
	}
}

func allLines(items []OrderItem) []int {
	lines := make([]int, len(items))
	for i := range items {
		lines[i] = i
	}
	return lines
}

func matchProducts(items []OrderItem, productIDs []uuid.UUID) []int {
	if len(productIDs) == 0 {
		return nil
	}
	var matched []int
	for i, it := range items {
		if containsID(productIDs, it.ProductID) {
			matched = append(matched, i)
		}
	}
	return matched
}

func matchCategories(items []OrderItem, categoryIDs, subCategoryIDs []uuid.UUID) []int {
	var matched []int
	for i, it := range items {
		if categoryMatch(it.CategoryID, it.SubCategoryID, categoryIDs, subCategoryIDs) {
			matched = append(matched, i)
		}
	}
	return matched
}

// categoryMatch checks the subcategory first and falls back to the category.
func categoryMatch(categoryID, subCategoryID *uuid.UUID, categoryIDs, subCategoryIDs []uuid.UUID) bool {
	if subCategoryID != nil && containsID(subCategoryIDs, *subCategoryID) {
		return true
	}
	return categoryID != nil && containsID(categoryIDs, *categoryID)
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

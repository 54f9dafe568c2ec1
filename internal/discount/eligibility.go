package discount

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInactive is returned when the rule has been switched off.
	ErrInactive = errors.New("discount is not active")
	// ErrNotStarted is returned before the rule's start date.
	ErrNotStarted = errors.New("discount has not started yet")
	// ErrExpired is returned after the rule's end date.
	ErrExpired = errors.New("discount has expired")
	// ErrVoucherRequired indicates a voucher gated rule evaluated without a code.
	ErrVoucherRequired = errors.New("discount requires a voucher code")
	// ErrVoucherMismatch indicates the supplied code belongs to another rule.
	ErrVoucherMismatch = errors.New("voucher code does not match")
	// ErrVoucherExclusive indicates an automatic rule evaluated while a code was supplied.
	ErrVoucherExclusive = errors.New("automatic discounts are not applied when a voucher code is used")
	// ErrMinOrderValueUnmet indicates the order subtotal is below the rule floor.
	ErrMinOrderValueUnmet = errors.New("order subtotal is below the minimum order value")
	// ErrUsageLimitReached indicates the rule exhausted its usage cap.
	ErrUsageLimitReached = errors.New("discount usage limit reached")
)

// checkEligibility runs the eligibility checks in their fixed order and returns the first failure.
func checkEligibility(r Rule, subtotal decimal.Decimal, voucherCode string, now time.Time) error {
	if err := checkWindow(r, voucherCode, now); err != nil {
		return err
	}
	if r.MinOrderValue != nil && subtotal.LessThan(*r.MinOrderValue) {
		return ErrMinOrderValueUnmet
	}
	return checkUsage(r)
}

// checkWindow covers the active flag, the date window and voucher gating.
func checkWindow(r Rule, voucherCode string, now time.Time) error {
	if !r.IsActive {
		return ErrInactive
	}
	if r.StartDate != nil && now.Before(*r.StartDate) {
		return ErrNotStarted
	}
	if r.EndDate != nil && now.After(*r.EndDate) {
		return ErrExpired
	}
	if voucherCode != "" {
		if r.VoucherCode == nil {
			return ErrVoucherExclusive
		}
		if *r.VoucherCode != voucherCode {
			return ErrVoucherMismatch
		}
		return nil
	}
	if r.VoucherCode != nil {
		return ErrVoucherRequired
	}
	return nil
}

func checkUsage(r Rule) error {
	if r.MaxUsageCount != nil && r.UsageCount >= *r.MaxUsageCount {
		return ErrUsageLimitReached
	}
	return nil
}

// FilterEligible partitions rules into applicable and inapplicable sets, preserving input order.
// Entries are copies; later mutation of the input does not leak into the output.
func FilterEligible(rules []Rule, subtotal decimal.Decimal, voucherCode string, now time.Time) ([]Rule, []Ineligible) {
	applicable := make([]Rule, 0, len(rules))
	inapplicable := make([]Ineligible, 0)
	for _, r := range rules {
		if err := checkEligibility(r, subtotal, voucherCode, now); err != nil {
			inapplicable = append(inapplicable, Ineligible{Rule: r.clone(), Reason: err.Error()})
			continue
		}
		applicable = append(applicable, r.clone())
	}
	return applicable, inapplicable
}

// CanApplyDiscount checks a single rule against an order subtotal at now. A zero now means
// time.Now(); use Engine.CanApplyDiscount to evaluate against an injected clock.
func CanApplyDiscount(r Rule, orderSubtotal decimal.Decimal, voucherCode string, now time.Time) Eligibility {
	return (*Engine)(nil).CanApplyDiscount(r, orderSubtotal, voucherCode, now)
}

// CanApplyDiscount is the single-rule check evaluated at the same clock as Calculate. A zero
// now falls back to the engine clock.
func (e *Engine) CanApplyDiscount(r Rule, orderSubtotal decimal.Decimal, voucherCode string, now time.Time) Eligibility {
	if err := checkEligibility(r, orderSubtotal, voucherCode, e.now(now)); err != nil {
		return Eligibility{CanApply: false, Reason: err.Error()}
	}
	return Eligibility{CanApply: true}
}

package cfdi

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// CheckInvariants verifies the arithmetic and lifecycle rules that must hold for a persisted
// document. Every violation found is reported, joined under ErrInvariantViolation.
func CheckInvariants(rec DocumentRecord) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(rec.Lines) == 0 {
		fail("document has no concepts")
	}
	if rec.StampedAt.Before(rec.IssuedAt) {
		fail("stamped at %s before issuance %s", rec.StampedAt, rec.IssuedAt)
	}

	var subtotal, discount, tax decimal.Decimal
	for i, line := range rec.Lines {
		if !line.Amount.Equal(line.Quantity.Mul(line.UnitValue)) {
			fail("concept %d amount %s != quantity x unit value", i+1, line.Amount)
		}
		subtotal = subtotal.Add(line.Amount)
		discount = discount.Add(line.Discount)
		if line.TaxObject.Taxed() {
			tax = tax.Add(line.Amount.Mul(line.TaxRate))
		} else if line.TaxRate.IsPositive() {
			fail("exempt concept %d carries tax rate %s", i+1, line.TaxRate)
		}
	}
	if !rec.Subtotal.Equal(subtotal) {
		fail("subtotal %s != sum of concepts %s", rec.Subtotal, subtotal)
	}
	if !rec.Discount.Equal(discount) {
		fail("discount %s != sum of concept discounts %s", rec.Discount, discount)
	}
	if !rec.Tax.Equal(tax) {
		fail("tax %s != computed tax %s", rec.Tax, tax)
	}
	if total := subtotal.Sub(discount).Add(tax).Round(MoneyPlaces); !rec.Total.Equal(total) {
		fail("total %s != computed total %s", rec.Total, total)
	}

	var paid decimal.Decimal
	for i, p := range rec.Payments {
		if !p.Amount.IsPositive() {
			fail("payment %d has non-positive amount %s", i+1, p.Amount)
		}
		if p.PaidAt.Before(rec.IssuedAt) {
			fail("payment %d dated before issuance", i+1)
		}
		paid = paid.Add(p.Amount)
	}
	if !rec.PaidAmount.Equal(paid) {
		fail("paid amount %s != sum of payments %s", rec.PaidAmount, paid)
	}
	if balance := rec.Total.Sub(rec.PaidAmount); !rec.Balance.Equal(balance) {
		fail("balance %s != total - paid %s", rec.Balance, balance)
	}
	if rec.Balance.IsNegative() {
		fail("negative balance %s", rec.Balance)
	}
	if rec.FullySettled != rec.Balance.IsZero() {
		fail("fully settled flag %t inconsistent with balance %s", rec.FullySettled, rec.Balance)
	}

	switch rec.Status {
	case StatusActive:
		if rec.CancelledAt != nil {
			fail("active document carries a cancellation timestamp")
		}
		if rec.SettlementMode == SettlementPUE && !rec.FullySettled {
			fail("active pay-upon-receipt document is not fully settled")
		}
	case StatusCancelled:
		if rec.CancelledAt == nil {
			fail("cancelled document has no cancellation timestamp")
		} else if rec.CancelledAt.Before(rec.IssuedAt) {
			fail("cancelled before issuance")
		}
	default:
		fail("unknown status %q", rec.Status)
	}

	if len(errs) == 0 {
		return nil
	}
	return &Error{
		Op:         "check invariants",
		DocumentID: rec.UUID.String(),
		Detail:     errors.Join(errs...).Error(),
		Err:        ErrInvariantViolation,
	}
}

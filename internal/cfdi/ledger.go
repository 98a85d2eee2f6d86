package cfdi

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger is the only writer of a document's paid amount, balance and status.
type Ledger interface {
	// ApplyPayment appends a payment and recomputes paid amount and balance.
	ApplyPayment(d *Document, in PaymentInput) (Payment, error)
	// Cancel moves an active document to Cancelled, freezing its balance.
	Cancel(d *Document, at time.Time) error
}

type ledger struct{}

// NewLedger returns the payment ledger.
func NewLedger() Ledger {
	return ledger{}
}

func (ledger) ApplyPayment(d *Document, in PaymentInput) (Payment, error) {
	const op = "apply payment"
	docID := d.header.UUID.String()
	if d.state.Status == StatusCancelled {
		return Payment{}, newError(op, ErrDocumentCancelled, docID, "", "")
	}
	if d.header.SettlementMode == SettlementPUE {
		return Payment{}, newError(op, ErrInvalidSettlementMode, docID, "metodo_pago", "pay-upon-receipt documents are settled at issuance")
	}
	if !in.Amount.IsPositive() {
		return Payment{}, newError(op, ErrInvalidAmount, docID, "monto", "amount must be greater than zero")
	}
	if !in.Amount.Equal(in.Amount.Round(MoneyPlaces)) {
		return Payment{}, newError(op, ErrInvalidAmount, docID, "monto", "amount cannot have more than two decimals")
	}
	if in.Amount.GreaterThan(d.state.Balance) {
		return Payment{}, newError(op, ErrOverpayment, docID, "monto",
			"amount "+in.Amount.StringFixed(MoneyPlaces)+" exceeds balance "+d.state.Balance.StringFixed(MoneyPlaces))
	}
	if in.PaidAt.IsZero() || in.PaidAt.Before(d.header.IssuedAt) {
		return Payment{}, newError(op, ErrBackdatedPayment, docID, "fecha_pago", "payment must not precede issuance")
	}
	return apply(d, in.Amount, in.PaidAt, in.Method, in.Reference)
}

func (ledger) Cancel(d *Document, at time.Time) error {
	const op = "cancel"
	docID := d.header.UUID.String()
	next, err := d.State().next(eventCancel)
	if err != nil {
		return newError(op, err, docID, "", "")
	}
	if at.IsZero() || at.Before(d.header.IssuedAt) {
		return newError(op, ErrInvalidTimestamp, docID, "fecha_cancelacion", "cancellation must not precede issuance")
	}
	cancelledAt := at
	d.state.CancelledAt = &cancelledAt
	d.setState(next)
	return nil
}

// settleOnIssue records the implicit full payment of a pay-upon-receipt document.
func settleOnIssue(d *Document) error {
	_, err := apply(d, d.totals.Total, d.header.IssuedAt, d.header.PaymentForm, "")
	return err
}

func apply(d *Document, amount decimal.Decimal, at time.Time, method, reference string) (Payment, error) {
	p := Payment{
		DocumentID: d.header.ID,
		PaidAt:     at,
		Amount:     amount,
		Method:     method,
		Reference:  reference,
	}
	paid := d.state.PaidAmount.Add(amount)
	balance := d.totals.Total.Sub(paid)
	state := d.State()
	if balance.IsZero() {
		next, err := state.next(eventSettled)
		if err != nil {
			return Payment{}, newError("apply payment", err, d.header.UUID.String(), "", "")
		}
		state = next
	}
	d.payments = append(d.payments, p)
	d.state.PaidAmount = paid
	d.state.Balance = balance
	if d.state.LastPaymentAt == nil || at.After(*d.state.LastPaymentAt) {
		last := at
		d.state.LastPaymentAt = &last
	}
	d.setState(state)
	return p, nil
}

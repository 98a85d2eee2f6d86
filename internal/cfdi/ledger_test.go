package cfdi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newPPD(t *testing.T) *Document {
	t.Helper()
	d, err := NewDocument(MixedTaxInput(1, 1, SettlementPPD))
	require.NoError(t, err)
	return d
}

func pay(amount string, at time.Time) PaymentInput {
	return PaymentInput{Amount: dec(amount), PaidAt: at, Method: "03", Reference: "REF"}
}

func requireConsistent(t *testing.T, d *Document) {
	t.Helper()
	require.NoError(t, CheckInvariants(d.Record()))
}

func TestNewDocumentPUEIsSettledAtCreation(t *testing.T) {
	d, err := NewDocument(MixedTaxInput(1, 1, SettlementPUE))
	require.NoError(t, err)
	require.Equal(t, StatusActive, d.Status())
	require.True(t, d.FullySettled())
	require.True(t, d.Balance().IsZero())
	require.Equal(t, "1410.00", d.PaidAmount().StringFixed(2))

	payments := d.Payments()
	require.Len(t, payments, 1)
	require.True(t, payments[0].PaidAt.Equal(IssuedAt))
	require.Equal(t, "03", payments[0].Method)
	requireConsistent(t, d)
}

func TestNewDocumentPPDStartsUnsettled(t *testing.T) {
	d := newPPD(t)
	require.False(t, d.FullySettled())
	require.Equal(t, "1410.00", d.Balance().StringFixed(2))
	require.True(t, d.PaidAmount().IsZero())
	require.Empty(t, d.Payments())
	require.Nil(t, d.LedgerState().LastPaymentAt)
	requireConsistent(t, d)
}

func TestLedgerPartialThenFullPayment(t *testing.T) {
	ledger := NewLedger()
	d := newPPD(t)

	_, err := ledger.ApplyPayment(d, pay("500", IssuedAt.Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, "500.00", d.PaidAmount().StringFixed(2))
	require.Equal(t, "910.00", d.Balance().StringFixed(2))
	require.False(t, d.FullySettled())
	requireConsistent(t, d)

	_, err = ledger.ApplyPayment(d, pay("910", IssuedAt.Add(2*time.Hour)))
	require.NoError(t, err)
	require.True(t, d.Balance().IsZero())
	require.True(t, d.FullySettled())
	require.Equal(t, StatusActive, d.Status())
	requireConsistent(t, d)

	_, err = ledger.ApplyPayment(d, pay("0.01", IssuedAt.Add(3*time.Hour)))
	require.ErrorIs(t, err, ErrOverpayment)
	require.Len(t, d.Payments(), 2)
}

func TestLedgerOverpaymentHasNoEffect(t *testing.T) {
	ledger := NewLedger()
	d := newPPD(t)
	_, err := ledger.ApplyPayment(d, pay("500", IssuedAt))
	require.NoError(t, err)
	before := d.Record()

	_, err = ledger.ApplyPayment(d, pay("1500", IssuedAt.Add(time.Hour)))
	require.ErrorIs(t, err, ErrOverpayment)
	require.Equal(t, before, d.Record())
	require.Equal(t, "910.00", d.Balance().StringFixed(2))
}

func TestLedgerRejectsInvalidPayments(t *testing.T) {
	cases := []struct {
		name string
		in   PaymentInput
		want error
	}{
		{"zero amount", pay("0", IssuedAt), ErrInvalidAmount},
		{"negative amount", pay("-5", IssuedAt), ErrInvalidAmount},
		{"sub-cent amount", pay("10.005", IssuedAt), ErrInvalidAmount},
		{"backdated", pay("10", IssuedAt.Add(-time.Second)), ErrBackdatedPayment},
		{"missing timestamp", pay("10", time.Time{}), ErrBackdatedPayment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newPPD(t)
			before := d.Record()
			_, err := NewLedger().ApplyPayment(d, tc.in)
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, before, d.Record())
		})
	}
}

func TestLedgerRejectsPaymentOnPUE(t *testing.T) {
	d, err := NewDocument(MixedTaxInput(1, 1, SettlementPUE))
	require.NoError(t, err)
	_, err = NewLedger().ApplyPayment(d, pay("1", IssuedAt))
	require.ErrorIs(t, err, ErrInvalidSettlementMode)
}

func TestLedgerCancel(t *testing.T) {
	ledger := NewLedger()
	d := newPPD(t)
	_, err := ledger.ApplyPayment(d, pay("100", IssuedAt))
	require.NoError(t, err)

	at := IssuedAt.Add(24 * time.Hour)
	require.NoError(t, ledger.Cancel(d, at))
	require.Equal(t, StatusCancelled, d.Status())
	require.NotNil(t, d.CancelledAt())
	require.True(t, d.CancelledAt().Equal(at))
	require.Equal(t, "1310.00", d.Balance().StringFixed(2), "balance frozen at cancellation")
	requireConsistent(t, d)
	frozen := d.Record()

	err = ledger.Cancel(d, at.Add(time.Hour))
	require.ErrorIs(t, err, ErrAlreadyCancelled)
	require.Equal(t, frozen, d.Record())

	_, err = ledger.ApplyPayment(d, pay("10", at))
	require.ErrorIs(t, err, ErrDocumentCancelled)
	require.Equal(t, frozen, d.Record())
}

func TestLedgerCancelSettledDocument(t *testing.T) {
	d, err := NewDocument(MixedTaxInput(1, 1, SettlementPUE))
	require.NoError(t, err)
	require.NoError(t, NewLedger().Cancel(d, IssuedAt))
	require.Equal(t, StatusCancelled, d.Status())
	require.True(t, d.FullySettled())
	requireConsistent(t, d)
}

func TestLedgerCancelBeforeIssueRejected(t *testing.T) {
	d := newPPD(t)
	err := NewLedger().Cancel(d, IssuedAt.Add(-time.Minute))
	require.ErrorIs(t, err, ErrInvalidTimestamp)
	require.Equal(t, StatusActive, d.Status())
	require.Nil(t, d.CancelledAt())
}

func TestLedgerInvariantsHoldAfterEveryPayment(t *testing.T) {
	ledger := NewLedger()
	d := newPPD(t)
	amounts := []string{"0.01", "99.99", "250", "360.50", "699.50"}
	sum := dec("0")
	for i, a := range amounts {
		_, err := ledger.ApplyPayment(d, pay(a, IssuedAt.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
		sum = sum.Add(dec(a))
		require.True(t, sum.Equal(d.PaidAmount()))
		require.True(t, d.Totals().Total.Sub(sum).Equal(d.Balance()))
		requireConsistent(t, d)
	}
	require.True(t, d.FullySettled())
}

func TestLastPaymentAtTracksLatest(t *testing.T) {
	ledger := NewLedger()
	d := newPPD(t)
	late := IssuedAt.Add(48 * time.Hour)
	_, err := ledger.ApplyPayment(d, pay("10", late))
	require.NoError(t, err)
	_, err = ledger.ApplyPayment(d, pay("10", IssuedAt.Add(time.Hour)))
	require.NoError(t, err)
	require.True(t, d.LedgerState().LastPaymentAt.Equal(late))
}

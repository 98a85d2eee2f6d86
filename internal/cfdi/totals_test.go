package cfdi

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeTotalsMixedTax(t *testing.T) {
	totals, lines, err := ComputeTotals(MixedTaxLines())
	require.NoError(t, err)
	require.Equal(t, "1250.00", totals.Subtotal.StringFixed(2))
	require.Equal(t, "160.00", totals.Tax.StringFixed(2))
	require.Equal(t, "1410.00", totals.Total.StringFixed(2))
	require.True(t, totals.Discount.IsZero())

	require.Len(t, lines, 2)
	require.Equal(t, "1000", lines[0].Amount.String())
	require.Equal(t, "Tasa", lines[0].FactorType)
	require.Equal(t, "002", lines[0].TaxCode)
	require.Equal(t, "Exento", lines[1].FactorType)
	require.Empty(t, lines[1].TaxCode)
}

func TestComputeTotalsStableUnderReordering(t *testing.T) {
	base := []LineItemInput{
		{ProductCode: "1", Quantity: dec("3"), UnitCode: "H87", Description: "a", UnitValue: dec("33.333"), TaxObject: TaxObjectTaxed, TaxRate: dec("0.16")},
		{ProductCode: "2", Quantity: dec("7"), UnitCode: "H87", Description: "b", UnitValue: dec("0.015"), TaxObject: TaxObjectTaxed, TaxRate: dec("0.08")},
		{ProductCode: "3", Quantity: dec("1.5"), UnitCode: "H87", Description: "c", UnitValue: dec("19.99"), TaxObject: TaxObjectExempt, Discount: dec("0.49")},
		{ProductCode: "4", Quantity: dec("11"), UnitCode: "H87", Description: "d", UnitValue: dec("4.445"), TaxObject: TaxObjectTaxed, TaxRate: dec("0.16")},
	}
	want, _, err := ComputeTotals(base)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]LineItemInput(nil), base...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, _, err := ComputeTotals(shuffled)
		require.NoError(t, err)
		require.True(t, want.Total.Equal(got.Total), "total changed under reordering: %s vs %s", want.Total, got.Total)
		require.True(t, want.Subtotal.Equal(got.Subtotal))
		require.True(t, want.Tax.Equal(got.Tax))
	}
	require.True(t, want.Total.Equal(want.Subtotal.Sub(want.Discount).Add(want.Tax).Round(2)))
}

func TestComputeTotalsRoundsOnceHalfUp(t *testing.T) {
	// Three lines of 0.333 each: per-line rounding would give 0.99, rounding once gives 1.00.
	line := LineItemInput{ProductCode: "1", Quantity: dec("1"), UnitCode: "H87", Description: "x", UnitValue: dec("0.333"), TaxObject: TaxObjectExempt}
	totals, _, err := ComputeTotals([]LineItemInput{line, line, line})
	require.NoError(t, err)
	require.Equal(t, "1.00", totals.Total.StringFixed(2))

	half := LineItemInput{ProductCode: "1", Quantity: dec("1"), UnitCode: "H87", Description: "x", UnitValue: dec("10.125"), TaxObject: TaxObjectExempt}
	totals, _, err = ComputeTotals([]LineItemInput{half})
	require.NoError(t, err)
	require.Equal(t, "10.13", totals.Total.StringFixed(2))
}

func TestComputeTotalsDiscount(t *testing.T) {
	lines := MixedTaxLines()
	lines[0].Discount = dec("100")
	totals, _, err := ComputeTotals(lines)
	require.NoError(t, err)
	require.Equal(t, "100.00", totals.Discount.StringFixed(2))
	require.Equal(t, "1310.00", totals.Total.StringFixed(2))
}

func TestComputeTotalsRejectsInvalidLines(t *testing.T) {
	valid := MixedTaxLines()[0]
	cases := []struct {
		name   string
		mutate func(*LineItemInput)
		field  string
	}{
		{"zero quantity", func(l *LineItemInput) { l.Quantity = dec("0") }, "conceptos[1].cantidad"},
		{"negative quantity", func(l *LineItemInput) { l.Quantity = dec("-1") }, "conceptos[1].cantidad"},
		{"negative unit value", func(l *LineItemInput) { l.UnitValue = dec("-0.01") }, "conceptos[1].valor_unitario"},
		{"exempt with rate", func(l *LineItemInput) { l.TaxObject = TaxObjectExempt }, "conceptos[1].tasa_o_cuota"},
		{"rate above one", func(l *LineItemInput) { l.TaxRate = dec("1.5") }, "conceptos[1].tasa_o_cuota"},
		{"negative rate", func(l *LineItemInput) { l.TaxRate = dec("-0.16") }, "conceptos[1].tasa_o_cuota"},
		{"unknown tax object", func(l *LineItemInput) { l.TaxObject = "03" }, "conceptos[1].objeto_imp"},
		{"discount above amount", func(l *LineItemInput) { l.Discount = dec("1000.01") }, "conceptos[1].descuento"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			line := valid
			tc.mutate(&line)
			_, _, err := ComputeTotals([]LineItemInput{line})
			require.ErrorIs(t, err, ErrInvalidLineItem)
			var e *Error
			require.True(t, errors.As(err, &e))
			require.Equal(t, tc.field, e.Field)
		})
	}
}

func TestComputeTotalsRejectsEmpty(t *testing.T) {
	_, _, err := ComputeTotals(nil)
	require.ErrorIs(t, err, ErrInvalidDocument)
}

func TestComputeTotalsAcceptsZeroRateTaxedAndFreeLines(t *testing.T) {
	lines := []LineItemInput{
		{ProductCode: "1", Quantity: dec("2"), UnitCode: "H87", Description: "zero rated", UnitValue: dec("10"), TaxObject: TaxObjectTaxed, TaxRate: dec("0")},
		{ProductCode: "2", Quantity: dec("1"), UnitCode: "H87", Description: "gift", UnitValue: dec("0"), TaxObject: TaxObjectExempt},
	}
	totals, _, err := ComputeTotals(lines)
	require.NoError(t, err)
	require.Equal(t, "20.00", totals.Total.StringFixed(2))
	require.True(t, totals.Tax.IsZero())
}

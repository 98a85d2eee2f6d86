package cfdi

import (
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimals money totals are rounded to.
const MoneyPlaces = 2

var maxTaxRate = decimal.NewFromInt(1)

// Totals are the amounts derived from a document's concepts.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"descuento"`
	Tax      decimal.Decimal `json:"impuestos"`
	Total    decimal.Decimal `json:"total"`
}

// ComputeTotals validates the concepts and derives subtotal, discount, tax and total.
// Sums are exact; the only rounding is half-up to MoneyPlaces on the final total, so the
// result does not depend on line order.
func ComputeTotals(inputs []LineItemInput) (Totals, []LineItem, error) {
	if len(inputs) == 0 {
		return Totals{}, nil, newError("totals", ErrInvalidDocument, "", "conceptos", "at least one concept is required")
	}
	lines := make([]LineItem, 0, len(inputs))
	var subtotal, discount, tax decimal.Decimal
	for i, in := range inputs {
		line, err := buildLine(i, in)
		if err != nil {
			return Totals{}, nil, err
		}
		subtotal = subtotal.Add(line.Amount)
		discount = discount.Add(line.Discount)
		if line.TaxObject.Taxed() {
			tax = tax.Add(line.Amount.Mul(line.TaxRate))
		}
		lines = append(lines, line)
	}
	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Total:    subtotal.Sub(discount).Add(tax).Round(MoneyPlaces),
	}, lines, nil
}

func buildLine(i int, in LineItemInput) (LineItem, error) {
	switch {
	case !in.Quantity.IsPositive():
		return LineItem{}, lineError(i, "cantidad", "quantity must be greater than zero")
	case in.UnitValue.IsNegative():
		return LineItem{}, lineError(i, "valor_unitario", "unit value cannot be negative")
	case !in.TaxObject.Valid():
		return LineItem{}, lineError(i, "objeto_imp", "unknown tax object code "+string(in.TaxObject))
	case in.TaxRate.IsNegative() || in.TaxRate.GreaterThan(maxTaxRate):
		return LineItem{}, lineError(i, "tasa_o_cuota", "tax rate must be between 0 and 1")
	case !in.TaxObject.Taxed() && in.TaxRate.IsPositive():
		return LineItem{}, lineError(i, "tasa_o_cuota", "exempt concept cannot carry a tax rate")
	}
	amount := in.Quantity.Mul(in.UnitValue)
	if in.Discount.IsNegative() || in.Discount.GreaterThan(amount) {
		return LineItem{}, lineError(i, "descuento", "discount must be between 0 and the concept amount")
	}
	line := LineItem{
		ProductCode:      in.ProductCode,
		IdentificationNo: in.IdentificationNo,
		Quantity:         in.Quantity,
		UnitCode:         in.UnitCode,
		UnitName:         in.UnitName,
		Description:      in.Description,
		UnitValue:        in.UnitValue,
		Amount:           amount,
		Discount:         in.Discount,
		TaxObject:        in.TaxObject,
		TaxRate:          in.TaxRate,
	}
	if in.TaxObject.Taxed() {
		line.TaxCode = in.TaxCode
		if line.TaxCode == "" {
			line.TaxCode = "002"
		}
		line.FactorType = "Tasa"
	} else {
		line.FactorType = "Exento"
	}
	return line, nil
}

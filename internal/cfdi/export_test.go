package cfdi

import (
	"time"

	"github.com/shopspring/decimal"
)

var issuedAt = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// IssuedAt is the issue timestamp used by the fixtures.
var IssuedAt = issuedAt

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// MixedTaxLines are two concepts: 10 x 100 taxed at 16% and 5 x 50 exempt.
func MixedTaxLines() []LineItemInput {
	return []LineItemInput{
		{ProductCode: "01010101", Quantity: dec("10"), UnitCode: "H87", Description: "Widget", UnitValue: dec("100"), TaxObject: TaxObjectTaxed, TaxRate: dec("0.16")},
		{ProductCode: "01010102", Quantity: dec("5"), UnitCode: "H87", Description: "Exempt service", UnitValue: dec("50"), TaxObject: TaxObjectExempt},
	}
}

// MixedTaxInput builds a document with total 1410.
func MixedTaxInput(issuerID, recipientID int64, mode SettlementMode) DocumentInput {
	return DocumentInput{
		Series:         "A",
		Folio:          "1001",
		IssuedAt:       issuedAt,
		Type:           DocumentTypeIncome,
		Currency:       "MXN",
		SettlementMode: mode,
		PaymentForm:    "03",
		PlaceOfIssue:   "06600",
		IssuerID:       issuerID,
		RecipientID:    recipientID,
		Lines:          MixedTaxLines(),
	}
}

package cfdi

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementMode enumerates how a document is expected to be paid (metodo de pago).
type SettlementMode string

const (
	// SettlementPUE means pay-upon-receipt: paid in full at issuance.
	SettlementPUE SettlementMode = "PUE"
	// SettlementPPD means deferred payment through one or more later payments.
	SettlementPPD SettlementMode = "PPD"
)

// Valid reports whether the mode is a known code.
func (m SettlementMode) Valid() bool {
	return m == SettlementPUE || m == SettlementPPD
}

// DocumentType enumerates CFDI voucher types.
type DocumentType string

const (
	DocumentTypeIncome  DocumentType = "I"
	DocumentTypeEgress  DocumentType = "E"
	DocumentTypePayment DocumentType = "P"
	DocumentTypePayroll DocumentType = "N"
)

// Status enumerates the SAT status of a document.
type Status string

const (
	StatusActive    Status = "Vigente"
	StatusCancelled Status = "Cancelado"
)

// TaxObject flags whether a line item is subject to tax (objeto de impuesto).
type TaxObject string

const (
	TaxObjectExempt TaxObject = "01"
	TaxObjectTaxed  TaxObject = "02"
)

// Taxed reports whether the line contributes to tax.
func (t TaxObject) Taxed() bool {
	return t == TaxObjectTaxed
}

// Valid reports whether the flag is a known code.
func (t TaxObject) Valid() bool {
	return t == TaxObjectExempt || t == TaxObjectTaxed
}

// DefaultTaxRate is the general IVA rate.
var DefaultTaxRate = decimal.RequireFromString("0.16")

// Issuer is the emitting taxpayer (emisor). Immutable once created.
type Issuer struct {
	ID           int64     `json:"id"`
	RFC          string    `json:"rfc"`
	Name         string    `json:"nombre"`
	FiscalRegime string    `json:"regimen_fiscal"`
	CreatedAt    time.Time `json:"created_at"`
}

// IssuerInput carries data to register an issuer.
type IssuerInput struct {
	RFC          string `json:"rfc" validate:"required,min=12,max=13"`
	Name         string `json:"nombre" validate:"required"`
	FiscalRegime string `json:"regimen_fiscal" validate:"required,len=3"`
}

// Recipient is the receiving taxpayer (receptor). Immutable once created.
type Recipient struct {
	ID           int64     `json:"id"`
	RFC          string    `json:"rfc"`
	Name         string    `json:"nombre"`
	PostalCode   string    `json:"domicilio_fiscal_cp"`
	FiscalRegime string    `json:"regimen_fiscal_receptor"`
	UsageCode    string    `json:"uso_cfdi"`
	CreatedAt    time.Time `json:"created_at"`
}

// RecipientInput carries data to register a recipient.
type RecipientInput struct {
	RFC          string `json:"rfc" validate:"required,min=12,max=13"`
	Name         string `json:"nombre" validate:"required"`
	PostalCode   string `json:"domicilio_fiscal_cp" validate:"required,len=5,numeric"`
	FiscalRegime string `json:"regimen_fiscal_receptor" validate:"required,len=3"`
	UsageCode    string `json:"uso_cfdi" validate:"required,len=3"`
}

// LineItem is one priced concept of a document (concepto).
type LineItem struct {
	ID               int64           `json:"id"`
	DocumentID       int64           `json:"comprobante_id"`
	ProductCode      string          `json:"clave_prod_serv"`
	IdentificationNo string          `json:"no_identificacion,omitempty"`
	Quantity         decimal.Decimal `json:"cantidad"`
	UnitCode         string          `json:"clave_unidad"`
	UnitName         string          `json:"unidad,omitempty"`
	Description      string          `json:"descripcion"`
	UnitValue        decimal.Decimal `json:"valor_unitario"`
	Amount           decimal.Decimal `json:"importe"`
	Discount         decimal.Decimal `json:"descuento"`
	TaxObject        TaxObject       `json:"objeto_imp"`
	TaxCode          string          `json:"impuesto_codigo,omitempty"`
	FactorType       string          `json:"tipo_factor,omitempty"`
	TaxRate          decimal.Decimal `json:"tasa_o_cuota"`
}

// LineItemInput is the caller-provided part of a line item; Amount is always derived.
type LineItemInput struct {
	ProductCode      string          `json:"clave_prod_serv" validate:"required"`
	IdentificationNo string          `json:"no_identificacion"`
	Quantity         decimal.Decimal `json:"cantidad"`
	UnitCode         string          `json:"clave_unidad" validate:"required"`
	UnitName         string          `json:"unidad"`
	Description      string          `json:"descripcion" validate:"required"`
	UnitValue        decimal.Decimal `json:"valor_unitario"`
	Discount         decimal.Decimal `json:"descuento"`
	TaxObject        TaxObject       `json:"objeto_imp" validate:"required"`
	TaxCode          string          `json:"impuesto_codigo"`
	TaxRate          decimal.Decimal `json:"tasa_o_cuota"`
}

// Payment is a settlement event applied to a document (pago).
type Payment struct {
	ID         int64           `json:"id"`
	DocumentID int64           `json:"comprobante_id"`
	PaidAt     time.Time       `json:"fecha_pago"`
	Amount     decimal.Decimal `json:"monto"`
	Method     string          `json:"metodo"`
	Reference  string          `json:"referencia,omitempty"`
}

// PaymentInput carries data for one ledger application.
type PaymentInput struct {
	Amount    decimal.Decimal
	PaidAt    time.Time
	Method    string
	Reference string
	// IdempotencyKey, when set, makes retries of the same request fail instead of paying twice.
	IdempotencyKey string
}

// DocumentInput carries the header and concepts of a document to create.
type DocumentInput struct {
	UUID               uuid.UUID
	Version            string
	Series             string
	Folio              string
	IssuedAt           time.Time
	StampedAt          time.Time
	Type               DocumentType
	Currency           string
	Export             string
	SettlementMode     SettlementMode
	PaymentForm        string
	PlaceOfIssue       string
	IssuerID           int64
	RecipientID        int64
	ReceivedAt         *time.Time
	ScheduledPaymentAt *time.Time
	DueAt              *time.Time
	Notes              string
	Lines              []LineItemInput
}

// DocumentFilter narrows document listings.
type DocumentFilter struct {
	Skip  int
	Limit int
	// Query matches UUID or folio substrings.
	Query string
}

// DocumentPage is one page of a listing. Items carry header, totals and ledger state only;
// concepts and payments are loaded by GetDocument.
type DocumentPage struct {
	Items []DocumentRecord `json:"items"`
	Total int              `json:"total"`
	Skip  int              `json:"skip"`
	Limit int              `json:"limit"`
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Normalize clamps paging values to sane bounds.
func (f DocumentFilter) Normalize() DocumentFilter {
	if f.Skip < 0 {
		f.Skip = 0
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return f
}

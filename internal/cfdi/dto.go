package cfdi

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type createDocumentRequest struct {
	UUID               *uuid.UUID      `json:"uuid"`
	Version            string          `json:"version"`
	Series             string          `json:"serie"`
	Folio              string          `json:"folio"`
	IssuedAt           time.Time       `json:"fecha_emision" validate:"required"`
	StampedAt          *time.Time      `json:"fecha_timbrado"`
	Type               string          `json:"tipo_comprobante"`
	Currency           string          `json:"moneda" validate:"required,len=3"`
	Export             string          `json:"exportacion"`
	SettlementMode     string          `json:"metodo_pago" validate:"required"`
	PaymentForm        string          `json:"forma_pago"`
	PlaceOfIssue       string          `json:"lugar_expedicion_cp"`
	IssuerID           int64           `json:"emisor_id" validate:"required,gt=0"`
	RecipientID        int64           `json:"receptor_id" validate:"required,gt=0"`
	ReceivedAt         *time.Time      `json:"fecha_recepcion"`
	ScheduledPaymentAt *time.Time      `json:"fecha_programacion_pago"`
	DueAt              *time.Time      `json:"fecha_vencimiento"`
	Notes              string          `json:"notas"`
	Lines              []LineItemInput `json:"conceptos" validate:"required,min=1,dive"`
}

func (r createDocumentRequest) toInput() DocumentInput {
	in := DocumentInput{
		Version:            r.Version,
		Series:             r.Series,
		Folio:              r.Folio,
		IssuedAt:           r.IssuedAt,
		Type:               DocumentType(r.Type),
		Currency:           r.Currency,
		Export:             r.Export,
		SettlementMode:     SettlementMode(r.SettlementMode),
		PaymentForm:        r.PaymentForm,
		PlaceOfIssue:       r.PlaceOfIssue,
		IssuerID:           r.IssuerID,
		RecipientID:        r.RecipientID,
		ReceivedAt:         r.ReceivedAt,
		ScheduledPaymentAt: r.ScheduledPaymentAt,
		DueAt:              r.DueAt,
		Notes:              r.Notes,
		Lines:              r.Lines,
	}
	if r.UUID != nil {
		in.UUID = *r.UUID
	}
	if r.StampedAt != nil {
		in.StampedAt = *r.StampedAt
	}
	if in.Type == "" {
		in.Type = DocumentTypeIncome
	}
	return in
}

type paymentRequest struct {
	Amount    decimal.Decimal `json:"monto"`
	PaidAt    *time.Time      `json:"fecha_pago"`
	Method    string          `json:"metodo" validate:"max=20"`
	Reference string          `json:"referencia" validate:"max=100"`
}

type paymentResponse struct {
	Payment  Payment   `json:"pago"`
	Document *Document `json:"comprobante"`
}

type cancelRequest struct {
	CancelledAt *time.Time `json:"fecha_cancelacion"`
}

package cfdi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Header holds the descriptive fields of a document. They never change after creation.
type Header struct {
	ID                 int64          `json:"id"`
	UUID               uuid.UUID      `json:"uuid"`
	Version            string         `json:"version"`
	Series             string         `json:"serie"`
	Folio              string         `json:"folio"`
	IssuedAt           time.Time      `json:"fecha_emision"`
	StampedAt          time.Time      `json:"fecha_timbrado"`
	Type               DocumentType   `json:"tipo_comprobante"`
	Currency           string         `json:"moneda"`
	Export             string         `json:"exportacion"`
	SettlementMode     SettlementMode `json:"metodo_pago"`
	PaymentForm        string         `json:"forma_pago"`
	PlaceOfIssue       string         `json:"lugar_expedicion_cp"`
	IssuerID           int64          `json:"emisor_id"`
	RecipientID        int64          `json:"receptor_id"`
	ReceivedAt         *time.Time     `json:"fecha_recepcion,omitempty"`
	ScheduledPaymentAt *time.Time     `json:"fecha_programacion_pago,omitempty"`
	DueAt              *time.Time     `json:"fecha_vencimiento,omitempty"`
	Notes              string         `json:"notas,omitempty"`
}

// LedgerState is the part of a document owned by the payment ledger.
type LedgerState struct {
	Status        Status          `json:"estatus_sat"`
	CancelledAt   *time.Time      `json:"fecha_cancelacion,omitempty"`
	PaidAmount    decimal.Decimal `json:"monto_pagado"`
	Balance       decimal.Decimal `json:"saldo"`
	FullySettled  bool            `json:"liquidado"`
	LastPaymentAt *time.Time      `json:"fecha_pago,omitempty"`
}

// DocumentRecord is the flat persisted form of a document. Stores read and write records;
// business code works on *Document, which can only be built from a record through Rehydrate.
type DocumentRecord struct {
	Header
	Totals
	LedgerState
	Lines    []LineItem `json:"conceptos,omitempty"`
	Payments []Payment  `json:"pagos,omitempty"`
}

// Document is the invoice aggregate. Its ledger state is only mutated through Ledger.
type Document struct {
	header   Header
	totals   Totals
	state    LedgerState
	lines    []LineItem
	payments []Payment
}

const (
	defaultVersion = "4.0"
	defaultExport  = "01"
)

// NewDocument validates the input, derives totals and returns an unsaved document in its
// initial state. Pay-upon-receipt documents come back fully settled through their implicit payment.
func NewDocument(in DocumentInput) (*Document, error) {
	if err := validateHeader(in); err != nil {
		return nil, err
	}
	totals, lines, err := ComputeTotals(in.Lines)
	if err != nil {
		var e *Error
		if errors.As(err, &e) && in.UUID != uuid.Nil {
			e.DocumentID = in.UUID.String()
		}
		return nil, err
	}
	if !totals.Total.IsPositive() {
		return nil, newError("create document", ErrInvalidDocument, in.UUID.String(), "total", "total must be greater than zero")
	}
	id := in.UUID
	if id == uuid.Nil {
		id = uuid.New()
	}
	d := &Document{
		header: Header{
			UUID:               id,
			Version:            orDefault(in.Version, defaultVersion),
			Series:             in.Series,
			Folio:              in.Folio,
			IssuedAt:           in.IssuedAt,
			StampedAt:          in.StampedAt,
			Type:               in.Type,
			Currency:           strings.ToUpper(in.Currency),
			Export:             orDefault(in.Export, defaultExport),
			SettlementMode:     in.SettlementMode,
			PaymentForm:        in.PaymentForm,
			PlaceOfIssue:       in.PlaceOfIssue,
			IssuerID:           in.IssuerID,
			RecipientID:        in.RecipientID,
			ReceivedAt:         in.ReceivedAt,
			ScheduledPaymentAt: in.ScheduledPaymentAt,
			DueAt:              in.DueAt,
			Notes:              in.Notes,
		},
		totals: totals,
		lines:  lines,
		state: LedgerState{
			Status:  StatusActive,
			Balance: totals.Total,
		},
	}
	if d.header.StampedAt.IsZero() {
		d.header.StampedAt = d.header.IssuedAt
	}
	if in.SettlementMode == SettlementPUE {
		if err := settleOnIssue(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func validateHeader(in DocumentInput) error {
	docID := ""
	if in.UUID != uuid.Nil {
		docID = in.UUID.String()
	}
	fail := func(field, detail string) error {
		return newError("create document", ErrInvalidDocument, docID, field, detail)
	}
	switch {
	case in.IssuedAt.IsZero():
		return fail("fecha_emision", "issue timestamp is required")
	case !in.StampedAt.IsZero() && in.StampedAt.Before(in.IssuedAt):
		return fail("fecha_timbrado", "stamping cannot precede issuance")
	case in.Type != DocumentTypeIncome:
		return fail("tipo_comprobante", "only income documents (I) are supported")
	case !in.SettlementMode.Valid():
		return newError("create document", ErrInvalidSettlementMode, docID, "metodo_pago", "unknown settlement mode "+string(in.SettlementMode))
	case len(strings.TrimSpace(in.Currency)) != 3:
		return fail("moneda", "currency must be a 3-letter code")
	case in.IssuerID <= 0:
		return fail("emisor_id", "issuer is required")
	case in.RecipientID <= 0:
		return fail("receptor_id", "recipient is required")
	case len(in.Lines) == 0:
		return fail("conceptos", "at least one concept is required")
	}
	return nil
}

// Rehydrate rebuilds a document from its persisted record after checking every invariant.
func Rehydrate(rec DocumentRecord) (*Document, error) {
	if err := CheckInvariants(rec); err != nil {
		return nil, err
	}
	d := &Document{
		header:   rec.Header,
		totals:   rec.Totals,
		state:    rec.LedgerState,
		lines:    append([]LineItem(nil), rec.Lines...),
		payments: append([]Payment(nil), rec.Payments...),
	}
	return d, nil
}

// Record returns a detached copy of the document in persisted form.
func (d *Document) Record() DocumentRecord {
	return DocumentRecord{
		Header:      d.header,
		Totals:      d.totals,
		LedgerState: d.state,
		Lines:       append([]LineItem(nil), d.lines...),
		Payments:    append([]Payment(nil), d.payments...),
	}
}

// MarshalJSON renders the document in its flat record form.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Record())
}

// AssignIDs stamps store-allocated identifiers on a freshly inserted document, its concepts
// and its payments, in order.
func (d *Document) AssignIDs(id int64, lineIDs, paymentIDs []int64) error {
	if len(lineIDs) != len(d.lines) || len(paymentIDs) != len(d.payments) {
		return fmt.Errorf("cfdi: assign ids: got %d/%d ids for %d concepts and %d payments",
			len(lineIDs), len(paymentIDs), len(d.lines), len(d.payments))
	}
	d.header.ID = id
	for i := range d.lines {
		d.lines[i].ID = lineIDs[i]
		d.lines[i].DocumentID = id
	}
	for i := range d.payments {
		d.payments[i].ID = paymentIDs[i]
		d.payments[i].DocumentID = id
	}
	return nil
}

func (d *Document) Header() Header              { return d.header }
func (d *Document) ID() int64                   { return d.header.ID }
func (d *Document) UUID() uuid.UUID             { return d.header.UUID }
func (d *Document) Totals() Totals              { return d.totals }
func (d *Document) LedgerState() LedgerState    { return d.state }
func (d *Document) Status() Status              { return d.state.Status }
func (d *Document) PaidAmount() decimal.Decimal { return d.state.PaidAmount }
func (d *Document) Balance() decimal.Decimal    { return d.state.Balance }
func (d *Document) FullySettled() bool          { return d.state.FullySettled }
func (d *Document) CancelledAt() *time.Time     { return d.state.CancelledAt }
func (d *Document) Lines() []LineItem           { return append([]LineItem(nil), d.lines...) }
func (d *Document) Payments() []Payment         { return append([]Payment(nil), d.payments...) }

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

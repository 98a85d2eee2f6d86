package cfdi

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors. All of them are recoverable and safe to report to callers.
var (
	ErrInvalidLineItem       = errors.New("cfdi: invalid line item")
	ErrInvalidAmount         = errors.New("cfdi: invalid amount")
	ErrOverpayment           = errors.New("cfdi: payment exceeds balance")
	ErrBackdatedPayment      = errors.New("cfdi: payment dated before issuance")
	ErrDocumentCancelled     = errors.New("cfdi: document is cancelled")
	ErrAlreadyCancelled      = errors.New("cfdi: document already cancelled")
	ErrInvalidSettlementMode = errors.New("cfdi: operation not allowed for settlement mode")
	ErrNotFound              = errors.New("cfdi: not found")
	ErrConstraintViolation   = errors.New("cfdi: constraint violation")
	ErrInvalidDocument       = errors.New("cfdi: invalid document")
	ErrInvalidTimestamp      = errors.New("cfdi: invalid timestamp")
	ErrInvariantViolation    = errors.New("cfdi: invariant violation")
)

// Error decorates a domain sentinel with the context needed to retry.
type Error struct {
	Op         string
	DocumentID string
	Field      string
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Err.Error())
	if e.DocumentID != "" {
		fmt.Fprintf(&b, " (document %s)", e.DocumentID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " [%s]", e.Field)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, sentinel error, documentID, field, detail string) *Error {
	return &Error{Op: op, DocumentID: documentID, Field: field, Detail: detail, Err: sentinel}
}

// lineError reports an invalid concept by its 1-based position.
func lineError(index int, field, detail string) *Error {
	return newError("totals", ErrInvalidLineItem, "", fmt.Sprintf("conceptos[%d].%s", index+1, field), detail)
}

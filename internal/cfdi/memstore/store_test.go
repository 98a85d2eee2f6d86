package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cfdilab/cfdilab/internal/cfdi"
)

var issuedAt = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func documentInput(issuerID, recipientID int64, mode cfdi.SettlementMode) cfdi.DocumentInput {
	return cfdi.DocumentInput{
		Folio:          "1001",
		IssuedAt:       issuedAt,
		Type:           cfdi.DocumentTypeIncome,
		Currency:       "MXN",
		SettlementMode: mode,
		PaymentForm:    "03",
		IssuerID:       issuerID,
		RecipientID:    recipientID,
		Lines: []cfdi.LineItemInput{
			{ProductCode: "01010101", Quantity: decimal.NewFromInt(10), UnitCode: "H87", Description: "Widget", UnitValue: decimal.NewFromInt(100), TaxObject: cfdi.TaxObjectTaxed, TaxRate: cfdi.DefaultTaxRate},
			{ProductCode: "01010102", Quantity: decimal.NewFromInt(5), UnitCode: "H87", Description: "Service", UnitValue: decimal.NewFromInt(50), TaxObject: cfdi.TaxObjectExempt},
		},
	}
}

func seedStore(t *testing.T) (*Store, []*cfdi.Document) {
	t.Helper()
	ctx := context.Background()
	s := New()
	alfa, err := s.CreateIssuer(ctx, cfdi.IssuerInput{RFC: "AAA010101AAA", Name: "Alfa", FiscalRegime: "601"})
	require.NoError(t, err)
	beta, err := s.CreateIssuer(ctx, cfdi.IssuerInput{RFC: "BBB010101BBB", Name: "Beta", FiscalRegime: "601"})
	require.NoError(t, err)
	rcpt, err := s.CreateRecipient(ctx, cfdi.RecipientInput{RFC: "XAXX010101000", Name: "Publico", PostalCode: "06600", FiscalRegime: "616", UsageCode: "S01"})
	require.NoError(t, err)

	var docs []*cfdi.Document
	for _, issuer := range []int64{alfa.ID, beta.ID, beta.ID} {
		d, err := cfdi.NewDocument(documentInput(issuer, rcpt.ID, cfdi.SettlementPPD))
		require.NoError(t, err)
		docs = append(docs, d)
	}
	require.NoError(t, s.InsertDocuments(ctx, docs))
	return s, docs
}

func TestWithDocumentDiscardsOnError(t *testing.T) {
	s, docs := seedStore(t)
	ctx := context.Background()
	id := docs[0].UUID()
	boom := errors.New("boom")

	err := s.WithDocument(ctx, id, func(ctx context.Context, tx cfdi.DocumentTx) error {
		_, err := tx.AppendPayment(ctx, cfdi.Payment{Amount: decimal.NewFromInt(10), PaidAt: issuedAt})
		require.NoError(t, err)
		require.Len(t, tx.Record().Payments, 1)
		return boom
	})
	require.ErrorIs(t, err, boom)

	rec, err := s.GetDocument(ctx, id)
	require.NoError(t, err)
	require.Empty(t, rec.Payments)
}

func TestWithDocumentCommits(t *testing.T) {
	s, docs := seedStore(t)
	ctx := context.Background()
	id := docs[1].UUID()
	err := s.WithDocument(ctx, id, func(ctx context.Context, tx cfdi.DocumentTx) error {
		d, err := cfdi.Rehydrate(tx.Record())
		require.NoError(t, err)
		p, err := cfdi.NewLedger().ApplyPayment(d, cfdi.PaymentInput{Amount: d.Balance(), PaidAt: issuedAt.Add(time.Hour)})
		require.NoError(t, err)
		if _, err := tx.AppendPayment(ctx, p); err != nil {
			return err
		}
		return tx.SaveLedgerState(ctx, d.LedgerState())
	})
	require.NoError(t, err)

	rec, err := s.GetDocument(ctx, id)
	require.NoError(t, err)
	require.Len(t, rec.Payments, 1)
	require.True(t, rec.FullySettled)
	require.NoError(t, cfdi.CheckInvariants(rec))
}

func TestSnapshot(t *testing.T) {
	s, docs := seedStore(t)
	ctx := context.Background()
	d, err := cfdi.Rehydrate(docs[2].Record())
	require.NoError(t, err)
	err = s.WithDocument(ctx, d.UUID(), func(ctx context.Context, tx cfdi.DocumentTx) error {
		require.NoError(t, cfdi.NewLedger().Cancel(d, issuedAt))
		return tx.SaveLedgerState(ctx, d.LedgerState())
	})
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, snap.KPIs.TotalDocs)
	require.Equal(t, 2, snap.KPIs.Active)
	require.Equal(t, "4230.00", snap.KPIs.TotalAmount.StringFixed(2))
	byRFC := map[string]string{}
	for _, it := range snap.Issuers {
		byRFC[it.RFC] = it.Value.StringFixed(2)
	}
	require.Equal(t, map[string]string{"AAA010101AAA": "1410.00", "BBB010101BBB": "2820.00"}, byRFC)
}

func TestScanDocumentsHonoursContext(t *testing.T) {
	s, _ := seedStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	seen := 0
	err := s.ScanDocuments(ctx, func(rec cfdi.DocumentRecord) error {
		seen++
		require.Len(t, rec.Lines, 2)
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, seen)
}

func TestInsertDocumentsRejectsDuplicateWithinBatch(t *testing.T) {
	s, docs := seedStore(t)
	rec := docs[0].Record()
	in := documentInput(rec.IssuerID, rec.RecipientID, cfdi.SettlementPUE)
	in.UUID = rec.UUID
	dup, err := cfdi.NewDocument(in)
	require.NoError(t, err)
	require.ErrorIs(t, s.InsertDocuments(context.Background(), []*cfdi.Document{dup}), cfdi.ErrConstraintViolation)
}

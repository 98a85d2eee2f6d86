package cfdi_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfdilab/cfdilab/internal/cfdi"
	"github.com/cfdilab/cfdilab/internal/cfdi/memstore"
	"github.com/cfdilab/cfdilab/internal/shared"
)

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.logs))
	for i, l := range a.logs {
		out[i] = l.Action
	}
	return out
}

type countingMetrics struct {
	created, cancelled, applied atomic.Int32
	mu                          sync.Mutex
	rejected                    map[string]int
}

func (m *countingMetrics) DocumentCreated(string) { m.created.Add(1) }
func (m *countingMetrics) DocumentCancelled()     { m.cancelled.Add(1) }
func (m *countingMetrics) PaymentApplied()        { m.applied.Add(1) }
func (m *countingMetrics) PaymentRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejected == nil {
		m.rejected = map[string]int{}
	}
	m.rejected[reason]++
}

type countingCache struct{ bumps atomic.Int32 }

func (c *countingCache) Bump(context.Context) error {
	c.bumps.Add(1)
	return nil
}

type fixture struct {
	svc       *cfdi.Service
	store     *memstore.Store
	audit     *recordingAudit
	metrics   *countingMetrics
	cache     *countingCache
	issuer    cfdi.Issuer
	recipient cfdi.Recipient
}

func newFixture(t *testing.T, locker shared.Locker) *fixture {
	t.Helper()
	f := &fixture{
		store:   memstore.New(),
		audit:   &recordingAudit{},
		metrics: &countingMetrics{},
		cache:   &countingCache{},
	}
	f.svc = cfdi.NewService(f.store, cfdi.ServiceDeps{
		Locker:  locker,
		Audit:   f.audit,
		Metrics: f.metrics,
		Cache:   f.cache,
		Now:     func() time.Time { return cfdi.IssuedAt.Add(72 * time.Hour) },
	})
	ctx := context.Background()
	var err error
	f.issuer, err = f.svc.CreateIssuer(ctx, cfdi.IssuerInput{RFC: "AAA010101AAA", Name: "Alfa SA de CV", FiscalRegime: "601"})
	require.NoError(t, err)
	f.recipient, err = f.svc.CreateRecipient(ctx, cfdi.RecipientInput{RFC: "BEBB800101XY1", Name: "Beatriz", PostalCode: "06600", FiscalRegime: "612", UsageCode: "G03"})
	require.NoError(t, err)
	return f
}

func (f *fixture) create(t *testing.T, mode cfdi.SettlementMode) *cfdi.Document {
	t.Helper()
	d, err := f.svc.CreateDocument(context.Background(), cfdi.MixedTaxInput(f.issuer.ID, f.recipient.ID, mode))
	require.NoError(t, err)
	return d
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func payment(amount string, offset time.Duration) cfdi.PaymentInput {
	return cfdi.PaymentInput{Amount: money(amount), PaidAt: cfdi.IssuedAt.Add(offset), Method: "03"}
}

func TestServiceCreateDocumentMixedTax(t *testing.T) {
	f := newFixture(t, nil)
	d := f.create(t, cfdi.SettlementPUE)

	require.NotZero(t, d.ID())
	require.Equal(t, "1410.00", d.Totals().Total.StringFixed(2))
	require.True(t, d.FullySettled())

	stored, err := f.svc.GetDocument(context.Background(), d.UUID())
	require.NoError(t, err)
	require.Len(t, stored.Lines(), 2)
	require.Len(t, stored.Payments(), 1)
	require.Equal(t, d.ID(), stored.Payments()[0].DocumentID)
	require.EqualValues(t, 1, f.metrics.created.Load())
	require.Contains(t, f.audit.actions(), "cfdi:create")
	require.EqualValues(t, 1, f.cache.bumps.Load())
}

func TestServiceCreateDocumentUnknownReferences(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.CreateDocument(context.Background(), cfdi.MixedTaxInput(999, f.recipient.ID, cfdi.SettlementPPD))
	require.ErrorIs(t, err, cfdi.ErrNotFound)
	_, err = f.svc.CreateDocument(context.Background(), cfdi.MixedTaxInput(f.issuer.ID, 999, cfdi.SettlementPPD))
	require.ErrorIs(t, err, cfdi.ErrNotFound)
}

func TestServiceDuplicateUUIDAndRFC(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	in := cfdi.MixedTaxInput(f.issuer.ID, f.recipient.ID, cfdi.SettlementPPD)
	in.UUID = uuid.New()
	_, err := f.svc.CreateDocument(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.CreateDocument(ctx, in)
	require.ErrorIs(t, err, cfdi.ErrConstraintViolation)

	_, err = f.svc.CreateIssuer(ctx, cfdi.IssuerInput{RFC: "aaa010101aaa", Name: "dup", FiscalRegime: "601"})
	require.ErrorIs(t, err, cfdi.ErrConstraintViolation)
}

func TestServiceCreateDocumentsIsAtomic(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	good := cfdi.MixedTaxInput(f.issuer.ID, f.recipient.ID, cfdi.SettlementPPD)
	bad := cfdi.MixedTaxInput(f.issuer.ID, f.recipient.ID, cfdi.SettlementPPD)
	bad.Lines[1].TaxRate = money("0.16")

	_, err := f.svc.CreateDocuments(ctx, []cfdi.DocumentInput{good, bad})
	require.ErrorIs(t, err, cfdi.ErrInvalidLineItem)

	orphan := cfdi.MixedTaxInput(f.issuer.ID, 4242, cfdi.SettlementPPD)
	_, err = f.svc.CreateDocuments(ctx, []cfdi.DocumentInput{good, orphan})
	require.ErrorIs(t, err, cfdi.ErrNotFound)

	page, err := f.svc.ListDocuments(ctx, cfdi.DocumentFilter{})
	require.NoError(t, err)
	require.Zero(t, page.Total)

	docs, err := f.svc.CreateDocuments(ctx, []cfdi.DocumentInput{good, good})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.NotEqual(t, docs[0].ID(), docs[1].ID())
}

func TestServicePartialPaymentThenOverpayment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	d := f.create(t, cfdi.SettlementPPD)

	p, doc, err := f.svc.ApplyPayment(ctx, d.UUID(), payment("500", time.Hour))
	require.NoError(t, err)
	require.NotZero(t, p.ID)
	require.Equal(t, "910.00", doc.Balance().StringFixed(2))
	require.False(t, doc.FullySettled())

	_, _, err = f.svc.ApplyPayment(ctx, d.UUID(), payment("1500", 2*time.Hour))
	require.ErrorIs(t, err, cfdi.ErrOverpayment)
	stored, err := f.svc.GetDocument(ctx, d.UUID())
	require.NoError(t, err)
	require.Equal(t, "910.00", stored.Balance().StringFixed(2))
	require.Len(t, stored.Payments(), 1)

	_, doc, err = f.svc.ApplyPayment(ctx, d.UUID(), payment("910", 3*time.Hour))
	require.NoError(t, err)
	require.True(t, doc.FullySettled())
	require.True(t, doc.Balance().IsZero())

	_, _, err = f.svc.ApplyPayment(ctx, d.UUID(), payment("1", 4*time.Hour))
	require.ErrorIs(t, err, cfdi.ErrOverpayment)

	require.EqualValues(t, 2, f.metrics.applied.Load())
	require.Equal(t, 2, f.metrics.rejected["overpayment"])
}

func TestServiceCancelLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	d := f.create(t, cfdi.SettlementPPD)
	_, _, err := f.svc.ApplyPayment(ctx, d.UUID(), payment("10", time.Hour))
	require.NoError(t, err)

	cancelled, err := f.svc.CancelDocument(ctx, d.UUID(), time.Time{})
	require.NoError(t, err)
	require.Equal(t, cfdi.StatusCancelled, cancelled.Status())
	require.True(t, cancelled.CancelledAt().Equal(cfdi.IssuedAt.Add(72*time.Hour)))

	_, err = f.svc.CancelDocument(ctx, d.UUID(), cfdi.IssuedAt.Add(100*time.Hour))
	require.ErrorIs(t, err, cfdi.ErrAlreadyCancelled)

	_, _, err = f.svc.ApplyPayment(ctx, d.UUID(), payment("10", 2*time.Hour))
	require.ErrorIs(t, err, cfdi.ErrDocumentCancelled)

	stored, err := f.svc.GetDocument(ctx, d.UUID())
	require.NoError(t, err)
	require.Equal(t, cancelled.Record(), stored.Record())
	require.EqualValues(t, 1, f.metrics.cancelled.Load())
}

func TestServicePaymentOnPUERejected(t *testing.T) {
	f := newFixture(t, nil)
	d := f.create(t, cfdi.SettlementPUE)
	_, _, err := f.svc.ApplyPayment(context.Background(), d.UUID(), payment("1", time.Hour))
	require.ErrorIs(t, err, cfdi.ErrInvalidSettlementMode)
}

func TestServiceUnknownDocument(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, _, err := f.svc.ApplyPayment(ctx, uuid.New(), payment("1", 0))
	require.ErrorIs(t, err, cfdi.ErrNotFound)
	_, err = f.svc.CancelDocument(ctx, uuid.New(), time.Time{})
	require.ErrorIs(t, err, cfdi.ErrNotFound)
	require.ErrorIs(t, f.svc.DeleteDocument(ctx, uuid.New()), cfdi.ErrNotFound)
	_, err = f.svc.GetDocument(ctx, uuid.New())
	require.ErrorIs(t, err, cfdi.ErrNotFound)
}

func TestServiceIdempotentPayment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	d := f.create(t, cfdi.SettlementPPD)

	in := payment("100", time.Hour)
	in.IdempotencyKey = "pay-1"
	_, _, err := f.svc.ApplyPayment(ctx, d.UUID(), in)
	require.NoError(t, err)
	_, _, err = f.svc.ApplyPayment(ctx, d.UUID(), in)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	// A failed attempt releases its key so a corrected retry can reuse it.
	bad := payment("5000", time.Hour)
	bad.IdempotencyKey = "pay-2"
	_, _, err = f.svc.ApplyPayment(ctx, d.UUID(), bad)
	require.ErrorIs(t, err, cfdi.ErrOverpayment)
	good := payment("50", time.Hour)
	good.IdempotencyKey = "pay-2"
	_, doc, err := f.svc.ApplyPayment(ctx, d.UUID(), good)
	require.NoError(t, err)
	require.Equal(t, "1260.00", doc.Balance().StringFixed(2))
}

func TestServiceConcurrentPaymentsNeverOverpay(t *testing.T) {
	for name, locker := range map[string]shared.Locker{
		"keyed mutex": shared.NewKeyedMutex(),
		"redis":       newRedisLocker(t),
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, locker)
			ctx := context.Background()
			d := f.create(t, cfdi.SettlementPPD)

			var wg sync.WaitGroup
			var ok, over atomic.Int32
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, _, err := f.svc.ApplyPayment(ctx, d.UUID(), payment("100", time.Duration(i)*time.Minute))
					switch {
					case err == nil:
						ok.Add(1)
					case assert.ErrorIs(t, err, cfdi.ErrOverpayment):
						over.Add(1)
					}
				}(i)
			}
			wg.Wait()

			require.EqualValues(t, 14, ok.Load())
			require.EqualValues(t, 6, over.Load())
			stored, err := f.svc.GetDocument(ctx, d.UUID())
			require.NoError(t, err)
			require.Equal(t, "1400.00", stored.PaidAmount().StringFixed(2))
			require.Equal(t, "10.00", stored.Balance().StringFixed(2))
			require.NoError(t, cfdi.CheckInvariants(stored.Record()))
		})
	}
}

func TestServiceConcurrentCancelAndPay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	d := f.create(t, cfdi.SettlementPPD)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, _ = f.svc.ApplyPayment(ctx, d.UUID(), payment("1410", time.Hour))
	}()
	go func() {
		defer wg.Done()
		_, _ = f.svc.CancelDocument(ctx, d.UUID(), cfdi.IssuedAt.Add(time.Hour))
	}()
	wg.Wait()

	stored, err := f.svc.GetDocument(ctx, d.UUID())
	require.NoError(t, err)
	require.Equal(t, cfdi.StatusCancelled, stored.Status())
	require.NoError(t, cfdi.CheckInvariants(stored.Record()))
}

func TestServiceDeleteCascades(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	d := f.create(t, cfdi.SettlementPUE)
	require.NoError(t, f.svc.DeleteDocument(ctx, d.UUID()))
	_, err := f.svc.GetDocument(ctx, d.UUID())
	require.ErrorIs(t, err, cfdi.ErrNotFound)

	checked, violations, err := f.svc.VerifyIntegrity(ctx)
	require.NoError(t, err)
	require.Zero(t, checked)
	require.Empty(t, violations)
	require.Contains(t, f.audit.actions(), "cfdi:delete")
}

func TestServiceListDocuments(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	var inputs []cfdi.DocumentInput
	for i := 0; i < 5; i++ {
		in := cfdi.MixedTaxInput(f.issuer.ID, f.recipient.ID, cfdi.SettlementPPD)
		in.Folio = fmt.Sprintf("F-%03d", i)
		in.IssuedAt = cfdi.IssuedAt.Add(time.Duration(i) * time.Hour)
		inputs = append(inputs, in)
	}
	docs, err := f.svc.CreateDocuments(ctx, inputs)
	require.NoError(t, err)

	page, err := f.svc.ListDocuments(ctx, cfdi.DocumentFilter{Skip: 1, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 5, page.Total)
	require.Len(t, page.Items, 2)
	require.Equal(t, "F-003", page.Items[0].Folio)
	require.Equal(t, "F-002", page.Items[1].Folio)
	require.Empty(t, page.Items[0].Lines)

	page, err = f.svc.ListDocuments(ctx, cfdi.DocumentFilter{Query: "f-004"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)

	prefix := docs[2].UUID().String()[:13]
	page, err = f.svc.ListDocuments(ctx, cfdi.DocumentFilter{Query: prefix})
	require.NoError(t, err)
	require.GreaterOrEqual(t, page.Total, 1)

	page, err = f.svc.ListDocuments(ctx, cfdi.DocumentFilter{Skip: 50})
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.Equal(t, 100, page.Limit)
}

func TestServiceVerifyIntegrity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, cfdi.SettlementPUE)
	d := f.create(t, cfdi.SettlementPPD)
	_, _, err := f.svc.ApplyPayment(ctx, d.UUID(), payment("10", time.Hour))
	require.NoError(t, err)

	checked, violations, err := f.svc.VerifyIntegrity(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, checked)
	require.Empty(t, violations)
}

func TestServiceAuditActor(t *testing.T) {
	f := newFixture(t, nil)
	ctx := shared.ContextWithActor(context.Background(), "tester")
	_, err := f.svc.CreateDocument(ctx, cfdi.MixedTaxInput(f.issuer.ID, f.recipient.ID, cfdi.SettlementPPD))
	require.NoError(t, err)
	f.audit.mu.Lock()
	defer f.audit.mu.Unlock()
	last := f.audit.logs[len(f.audit.logs)-1]
	require.Equal(t, "tester", last.Actor)
	require.Equal(t, "cfdi:create", last.Action)
	require.Equal(t, "1410.00", last.Meta["total"])
}

func newRedisLocker(t *testing.T) shared.Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewRedisLocker(client, 5*time.Second)
}

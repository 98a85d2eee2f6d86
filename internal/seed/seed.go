// Package seed fills the store with synthetic but internally consistent documents.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/cfdilab/cfdilab/internal/cfdi"
)

// DocumentService is the subset of cfdi.Service the seeder drives.
type DocumentService interface {
	CreateIssuer(ctx context.Context, in cfdi.IssuerInput) (cfdi.Issuer, error)
	CreateRecipient(ctx context.Context, in cfdi.RecipientInput) (cfdi.Recipient, error)
	ListIssuers(ctx context.Context) ([]cfdi.Issuer, error)
	ListRecipients(ctx context.Context) ([]cfdi.Recipient, error)
	CreateDocuments(ctx context.Context, inputs []cfdi.DocumentInput) ([]*cfdi.Document, error)
	ApplyPayment(ctx context.Context, id uuid.UUID, in cfdi.PaymentInput) (cfdi.Payment, *cfdi.Document, error)
	CancelDocument(ctx context.Context, id uuid.UUID, at time.Time) (*cfdi.Document, error)
}

// Scale tiers.
const (
	ScaleSmall  = "small"
	ScaleMedium = "medium"
	ScaleLarge  = "large"
)

const (
	defaultBatchSize   = 100
	defaultParallelism = 8
	historyDays        = 365
)

var (
	issuerRegimes    = []string{"601", "612", "626"}
	recipientRegimes = []string{"616", "605", "612"}
	usageCodes       = []string{"G03", "D04", "P01"}
	seriesCodes      = []string{"A", "B", "F", "NC"}
	paymentForms     = []string{"01", "03", "99"}
	paymentMethods   = []string{"03", "01"}
)

// DocumentCount maps a scale name to the number of documents generated.
func DocumentCount(scale string) int {
	switch scale {
	case ScaleSmall:
		return 200
	case ScaleMedium:
		return 2000
	case ScaleLarge:
		return 10000
	default:
		return 50
	}
}

// Options tune a Seeder. Zero values pick defaults.
type Options struct {
	BatchSize   int
	Parallelism int
	// Seed fixes the random stream; zero draws a random one.
	Seed   uint64
	Now    func() time.Time
	Logger *slog.Logger
}

// Result summarises one seeding run.
type Result struct {
	Scale      string `json:"scale"`
	Documents  int    `json:"documents"`
	Issuers    int    `json:"emisores"`
	Recipients int    `json:"receptores"`
	Payments   int    `json:"pagos"`
	Cancelled  int    `json:"cancelados"`
}

// Message is the human summary returned by the HTTP endpoint.
func (r Result) Message() string {
	return fmt.Sprintf("Seeded %d records successfully", r.Documents)
}

// Seeder generates demo data through the document service, so every record passes the
// same validation, totals and ledger rules as API traffic.
type Seeder struct {
	svc         DocumentService
	batchSize   int
	parallelism int
	seed        uint64
	now         func() time.Time
	logger      *slog.Logger
}

// New builds a Seeder.
func New(svc DocumentService, opts Options) *Seeder {
	s := &Seeder{
		svc:         svc,
		batchSize:   opts.BatchSize,
		parallelism: opts.Parallelism,
		seed:        opts.Seed,
		now:         opts.Now,
		logger:      opts.Logger,
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.parallelism <= 0 {
		s.parallelism = defaultParallelism
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// followUp is a ledger action planned for a stored document.
type followUp struct {
	id       uuid.UUID
	payment  *cfdi.PaymentInput
	cancelAt time.Time
}

type generator struct {
	rng   *rand.Rand
	faker *gofakeit.Faker
	now   time.Time
}

// Run seeds documents for the given scale and their payments and cancellations.
func (s *Seeder) Run(ctx context.Context, scale string) (Result, error) {
	seed := s.seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	gen := &generator{rng: rand.New(src), faker: gofakeit.NewFaker(src, false), now: s.now().UTC()}

	count := DocumentCount(scale)
	res := Result{Scale: scale}
	s.logger.InfoContext(ctx, "seeding documents", slog.String("scale", scale), slog.Int("count", count))

	parties := max(10, count/20)
	issuers, err := s.ensureIssuers(ctx, gen, parties)
	if err != nil {
		return res, err
	}
	recipients, err := s.ensureRecipients(ctx, gen, parties)
	if err != nil {
		return res, err
	}
	res.Issuers, res.Recipients = len(issuers), len(recipients)

	batch := make([]cfdi.DocumentInput, 0, s.batchSize)
	var plans []followUp
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		docs, err := s.svc.CreateDocuments(ctx, batch)
		if err != nil {
			return fmt.Errorf("seed: flush batch: %w", err)
		}
		for _, d := range docs {
			if plan, ok := gen.planFollowUp(d); ok {
				plans = append(plans, plan)
			}
		}
		res.Documents += len(docs)
		batch = batch[:0]
		return nil
	}

	for range count {
		batch = append(batch, gen.document(issuers, recipients))
		if len(batch) == s.batchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	payments, cancelled, err := s.applyFollowUps(ctx, plans)
	res.Payments, res.Cancelled = payments, cancelled
	if err != nil {
		return res, err
	}
	s.logger.InfoContext(ctx, "seed complete",
		slog.String("scale", scale),
		slog.Int("documents", res.Documents),
		slog.Int("payments", res.Payments),
		slog.Int("cancelled", res.Cancelled),
	)
	return res, nil
}

func (s *Seeder) ensureIssuers(ctx context.Context, gen *generator, n int) ([]int64, error) {
	for range n {
		_, err := s.svc.CreateIssuer(ctx, cfdi.IssuerInput{
			RFC:          gen.rfc(),
			Name:         gen.faker.Company(),
			FiscalRegime: pick(gen.rng, issuerRegimes),
		})
		if err != nil && !errors.Is(err, cfdi.ErrConstraintViolation) {
			return nil, fmt.Errorf("seed: create issuer: %w", err)
		}
	}
	items, err := s.svc.ListIssuers(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed: list issuers: %w", err)
	}
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return ids, nil
}

func (s *Seeder) ensureRecipients(ctx context.Context, gen *generator, n int) ([]int64, error) {
	for range n {
		_, err := s.svc.CreateRecipient(ctx, cfdi.RecipientInput{
			RFC:          gen.rfc(),
			Name:         gen.faker.Name(),
			PostalCode:   gen.postcode(),
			FiscalRegime: pick(gen.rng, recipientRegimes),
			UsageCode:    pick(gen.rng, usageCodes),
		})
		if err != nil && !errors.Is(err, cfdi.ErrConstraintViolation) {
			return nil, fmt.Errorf("seed: create recipient: %w", err)
		}
	}
	items, err := s.svc.ListRecipients(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed: list recipients: %w", err)
	}
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return ids, nil
}

// applyFollowUps runs payments and cancellations with bounded parallelism. Each plan touches
// one document, so plans never contend with each other.
func (s *Seeder) applyFollowUps(ctx context.Context, plans []followUp) (payments, cancelled int, err error) {
	if len(plans) == 0 {
		return 0, 0, nil
	}
	paid := make([]bool, len(plans))
	voided := make([]bool, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, plan := range plans {
		g.Go(func() error {
			if plan.payment != nil {
				if _, _, err := s.svc.ApplyPayment(gctx, plan.id, *plan.payment); err != nil {
					return fmt.Errorf("seed: pay %s: %w", plan.id, err)
				}
				paid[i] = true
			}
			if !plan.cancelAt.IsZero() {
				if _, err := s.svc.CancelDocument(gctx, plan.id, plan.cancelAt); err != nil {
					return fmt.Errorf("seed: cancel %s: %w", plan.id, err)
				}
				voided[i] = true
			}
			return nil
		})
	}
	err = g.Wait()
	for i := range plans {
		if paid[i] {
			payments++
		}
		if voided[i] {
			cancelled++
		}
	}
	return payments, cancelled, err
}

func (g *generator) document(issuers, recipients []int64) cfdi.DocumentInput {
	issuedAt := g.now.Add(-time.Duration(g.rng.Int64N(int64(historyDays * 24 * time.Hour)))).Truncate(time.Second)
	mode := cfdi.SettlementPPD
	if g.rng.Float64() < 0.7 {
		mode = cfdi.SettlementPUE
	}
	currency := "USD"
	if g.rng.Float64() < 0.9 {
		currency = "MXN"
	}
	lines := make([]cfdi.LineItemInput, 1+g.rng.IntN(4))
	for i := range lines {
		lines[i] = g.line()
	}
	return cfdi.DocumentInput{
		UUID:           uuid.New(),
		Version:        "4.0",
		Series:         pick(g.rng, seriesCodes),
		Folio:          fmt.Sprint(1000 + g.rng.IntN(99000)),
		IssuedAt:       issuedAt,
		StampedAt:      issuedAt.Add(time.Duration(1+g.rng.IntN(300)) * time.Second),
		Type:           cfdi.DocumentTypeIncome,
		Currency:       currency,
		Export:         "01",
		SettlementMode: mode,
		PaymentForm:    pick(g.rng, paymentForms),
		PlaceOfIssue:   g.postcode(),
		IssuerID:       issuers[g.rng.IntN(len(issuers))],
		RecipientID:    recipients[g.rng.IntN(len(recipients))],
		Lines:          lines,
	}
}

func (g *generator) line() cfdi.LineItemInput {
	in := cfdi.LineItemInput{
		ProductCode: fmt.Sprint(10000000 + g.rng.IntN(90000000)),
		Quantity:    decimal.NewFromInt(int64(1 + g.rng.IntN(100))),
		UnitCode:    "H87",
		Description: g.faker.ProductName(),
		// 10.00 .. 5000.00 in whole cents.
		UnitValue: decimal.New(1000+g.rng.Int64N(499001), -2),
		TaxObject: cfdi.TaxObjectTaxed,
		TaxCode:   "002",
		TaxRate:   cfdi.DefaultTaxRate,
	}
	if g.rng.Float64() < 0.1 {
		in.TaxObject = cfdi.TaxObjectExempt
		in.TaxCode = ""
		in.TaxRate = decimal.Zero
	}
	return in
}

// planFollowUp decides what happens to a stored document after issuance. Cancelled
// documents are never paid, matching how voided invoices behave in the field.
func (g *generator) planFollowUp(d *cfdi.Document) (followUp, bool) {
	issued := d.Header().IssuedAt
	plan := followUp{id: d.UUID()}
	if g.rng.Float64() < 0.15 {
		plan.cancelAt = g.clamp(issued.Add(time.Duration(1+g.rng.IntN(30)) * 24 * time.Hour))
		return plan, true
	}
	if d.Header().SettlementMode != cfdi.SettlementPPD || g.rng.Float64() >= 0.5 {
		return plan, false
	}
	total := d.Totals().Total
	share := decimal.NewFromFloat(0.1 + 0.9*g.rng.Float64())
	amount := total.Mul(share).Round(cfdi.MoneyPlaces)
	if amount.GreaterThan(total) {
		amount = total
	}
	if !amount.IsPositive() {
		return plan, false
	}
	plan.payment = &cfdi.PaymentInput{
		Amount:    amount,
		PaidAt:    g.clamp(issued.Add(time.Duration(1+g.rng.IntN(60)) * 24 * time.Hour)),
		Method:    pick(g.rng, paymentMethods),
		Reference: g.faker.Numerify("##################"),
	}
	return plan, true
}

// clamp keeps follow-up events from landing after the seeding clock.
func (g *generator) clamp(t time.Time) time.Time {
	if t.After(g.now) {
		return g.now
	}
	return t
}

// rfc builds a fake RFC: four letters, a yymmdd birth date and a three character homoclave.
func (g *generator) rfc() string {
	const alnum = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	born := g.now.AddDate(-18-g.rng.IntN(72), 0, -g.rng.IntN(365))
	var b strings.Builder
	b.WriteString(strings.ToUpper(g.faker.Lexify("????")))
	b.WriteString(born.Format("060102"))
	for range 3 {
		b.WriteByte(alnum[g.rng.IntN(len(alnum))])
	}
	return b.String()
}

func (g *generator) postcode() string {
	return g.faker.Numerify("#####")
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.IntN(len(values))]
}

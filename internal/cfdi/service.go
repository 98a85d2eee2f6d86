package cfdi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cfdilab/cfdilab/internal/shared"
)

// Repository is the Entity Store port. Implementations must make every write atomic.
type Repository interface {
	CreateIssuer(ctx context.Context, in IssuerInput) (Issuer, error)
	CreateRecipient(ctx context.Context, in RecipientInput) (Recipient, error)
	GetIssuer(ctx context.Context, id int64) (Issuer, error)
	GetRecipient(ctx context.Context, id int64) (Recipient, error)
	ListIssuers(ctx context.Context) ([]Issuer, error)
	ListRecipients(ctx context.Context) ([]Recipient, error)
	// InsertDocuments stores the documents with their concepts and payments in one atomic write
	// and assigns their identifiers.
	InsertDocuments(ctx context.Context, docs []*Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (DocumentRecord, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) (DocumentPage, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error
	// WithDocument runs fn with exclusive write access to one document. Changes made through
	// the DocumentTx are committed only when fn returns nil.
	WithDocument(ctx context.Context, id uuid.UUID, fn func(context.Context, DocumentTx) error) error
	// ScanDocuments streams every full record, concepts and payments included.
	ScanDocuments(ctx context.Context, fn func(DocumentRecord) error) error
}

// DocumentTx exposes a locked document to a read-modify-write cycle.
type DocumentTx interface {
	Record() DocumentRecord
	AppendPayment(ctx context.Context, p Payment) (Payment, error)
	SaveLedgerState(ctx context.Context, state LedgerState) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards payment retries.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsPort receives ledger events.
type MetricsPort interface {
	DocumentCreated(mode string)
	DocumentCancelled()
	PaymentApplied()
	PaymentRejected(reason string)
}

// CacheInvalidator is notified after every committed write.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// ServiceDeps groups optional collaborators. Nil members fall back to in-process defaults.
type ServiceDeps struct {
	Locker      shared.Locker
	Idempotency IdempotencyPort
	Audit       AuditPort
	Metrics     MetricsPort
	Cache       CacheInvalidator
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service coordinates document creation, payments and cancellation.
type Service struct {
	repo        Repository
	ledger      Ledger
	locker      shared.Locker
	idempotency IdempotencyPort
	audit       AuditPort
	metrics     MetricsPort
	cache       CacheInvalidator
	logger      *slog.Logger
	now         func() time.Time
}

const idempotencyModule = "cfdi:payment"

// NewService builds Service.
func NewService(repo Repository, deps ServiceDeps) *Service {
	s := &Service{
		repo:        repo,
		ledger:      NewLedger(),
		locker:      deps.Locker,
		idempotency: deps.Idempotency,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		cache:       deps.Cache,
		logger:      deps.Logger,
		now:         deps.Now,
	}
	if s.locker == nil {
		s.locker = shared.NewKeyedMutex()
	}
	if s.idempotency == nil {
		s.idempotency = shared.NewMemoryIdempotencyStore()
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// CreateIssuer registers an issuer.
func (s *Service) CreateIssuer(ctx context.Context, in IssuerInput) (Issuer, error) {
	issuer, err := s.repo.CreateIssuer(ctx, in)
	if err != nil {
		return Issuer{}, err
	}
	s.record(ctx, "cfdi:issuer:create", "cfdi_emisores", fmt.Sprint(issuer.ID), map[string]any{"rfc": issuer.RFC})
	return issuer, nil
}

// CreateRecipient registers a recipient.
func (s *Service) CreateRecipient(ctx context.Context, in RecipientInput) (Recipient, error) {
	recipient, err := s.repo.CreateRecipient(ctx, in)
	if err != nil {
		return Recipient{}, err
	}
	s.record(ctx, "cfdi:recipient:create", "cfdi_receptores", fmt.Sprint(recipient.ID), map[string]any{"rfc": recipient.RFC})
	return recipient, nil
}

// ListIssuers returns every issuer ordered by id.
func (s *Service) ListIssuers(ctx context.Context) ([]Issuer, error) {
	return s.repo.ListIssuers(ctx)
}

// ListRecipients returns every recipient ordered by id.
func (s *Service) ListRecipients(ctx context.Context) ([]Recipient, error) {
	return s.repo.ListRecipients(ctx)
}

// CreateDocument validates, computes and persists a single document.
func (s *Service) CreateDocument(ctx context.Context, in DocumentInput) (*Document, error) {
	docs, err := s.CreateDocuments(ctx, []DocumentInput{in})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

// CreateDocuments builds every document first and persists the batch atomically. Nothing is
// stored when any input is invalid.
func (s *Service) CreateDocuments(ctx context.Context, inputs []DocumentInput) ([]*Document, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	docs := make([]*Document, 0, len(inputs))
	for i, in := range inputs {
		d, err := NewDocument(in)
		if err != nil {
			if len(inputs) > 1 {
				return nil, fmt.Errorf("cfdi: document %d of batch: %w", i+1, err)
			}
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := s.repo.InsertDocuments(ctx, docs); err != nil {
		return nil, err
	}
	for _, d := range docs {
		s.metrics.DocumentCreated(string(d.header.SettlementMode))
	}
	if len(docs) == 1 {
		d := docs[0]
		s.record(ctx, "cfdi:create", "cfdi_comprobantes", d.UUID().String(), map[string]any{
			"total":       d.totals.Total.StringFixed(MoneyPlaces),
			"metodo_pago": string(d.header.SettlementMode),
		})
	} else {
		s.record(ctx, "cfdi:create_batch", "cfdi_comprobantes", docs[0].UUID().String(), map[string]any{"count": len(docs)})
	}
	s.invalidate(ctx)
	return docs, nil
}

// ApplyPayment records a payment against a deferred-payment document. Concurrent calls for the
// same document are serialized; on any error the document is left untouched.
func (s *Service) ApplyPayment(ctx context.Context, id uuid.UUID, in PaymentInput) (Payment, *Document, error) {
	unlock, err := s.locker.Lock(ctx, shared.DocumentLockKey(id.String()))
	if err != nil {
		return Payment{}, nil, fmt.Errorf("cfdi: lock document %s: %w", id, err)
	}
	defer unlock()

	if in.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, in.IdempotencyKey, idempotencyModule); err != nil {
			s.metrics.PaymentRejected(rejectReason(err))
			return Payment{}, nil, err
		}
	}

	var (
		applied Payment
		doc     *Document
	)
	err = s.repo.WithDocument(ctx, id, func(ctx context.Context, tx DocumentTx) error {
		d, err := Rehydrate(tx.Record())
		if err != nil {
			return err
		}
		p, err := s.ledger.ApplyPayment(d, in)
		if err != nil {
			return err
		}
		stored, err := tx.AppendPayment(ctx, p)
		if err != nil {
			return err
		}
		if err := tx.SaveLedgerState(ctx, d.state); err != nil {
			return err
		}
		d.payments[len(d.payments)-1] = stored
		applied, doc = stored, d
		return nil
	})
	if err != nil {
		if in.IdempotencyKey != "" {
			if delErr := s.idempotency.Delete(ctx, in.IdempotencyKey); delErr != nil {
				s.logger.WarnContext(ctx, "release idempotency key", slog.String("key", in.IdempotencyKey), slog.Any("error", delErr))
			}
		}
		s.metrics.PaymentRejected(rejectReason(err))
		return Payment{}, nil, err
	}

	s.metrics.PaymentApplied()
	s.record(ctx, "cfdi:payment", "cfdi_comprobantes", id.String(), map[string]any{
		"monto":   applied.Amount.StringFixed(MoneyPlaces),
		"saldo":   doc.state.Balance.StringFixed(MoneyPlaces),
		"pago_id": applied.ID,
	})
	s.invalidate(ctx)
	return applied, doc, nil
}

// CancelDocument moves an active document to Cancelled at the given time. A zero time means now.
func (s *Service) CancelDocument(ctx context.Context, id uuid.UUID, at time.Time) (*Document, error) {
	if at.IsZero() {
		at = s.now()
	}
	unlock, err := s.locker.Lock(ctx, shared.DocumentLockKey(id.String()))
	if err != nil {
		return nil, fmt.Errorf("cfdi: lock document %s: %w", id, err)
	}
	defer unlock()

	var doc *Document
	err = s.repo.WithDocument(ctx, id, func(ctx context.Context, tx DocumentTx) error {
		d, err := Rehydrate(tx.Record())
		if err != nil {
			return err
		}
		if err := s.ledger.Cancel(d, at); err != nil {
			return err
		}
		if err := tx.SaveLedgerState(ctx, d.state); err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.DocumentCancelled()
	s.record(ctx, "cfdi:cancel", "cfdi_comprobantes", id.String(), map[string]any{"fecha_cancelacion": at.Format(time.RFC3339)})
	s.invalidate(ctx)
	return doc, nil
}

// DeleteDocument removes a document with its concepts and payments.
func (s *Service) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	unlock, err := s.locker.Lock(ctx, shared.DocumentLockKey(id.String()))
	if err != nil {
		return fmt.Errorf("cfdi: lock document %s: %w", id, err)
	}
	defer unlock()
	if err := s.repo.DeleteDocument(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "cfdi:delete", "cfdi_comprobantes", id.String(), nil)
	s.invalidate(ctx)
	return nil
}

// GetDocument loads a document with its concepts and payments.
func (s *Service) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	rec, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return Rehydrate(rec)
}

// ListDocuments pages through documents, newest first.
func (s *Service) ListDocuments(ctx context.Context, filter DocumentFilter) (DocumentPage, error) {
	return s.repo.ListDocuments(ctx, filter.Normalize())
}

// VerifyIntegrity re-checks every stored document and returns the violations found, keyed by UUID.
func (s *Service) VerifyIntegrity(ctx context.Context) (checked int, violations map[string]error, err error) {
	violations = make(map[string]error)
	err = s.repo.ScanDocuments(ctx, func(rec DocumentRecord) error {
		checked++
		if vErr := CheckInvariants(rec); vErr != nil {
			violations[rec.UUID.String()] = vErr
		}
		return ctx.Err()
	})
	return checked, violations, err
}

func (s *Service) record(ctx context.Context, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.WarnContext(ctx, "dashboard cache bump failed", slog.Any("error", err))
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrOverpayment):
		return "overpayment"
	case errors.Is(err, ErrDocumentCancelled):
		return "cancelled"
	case errors.Is(err, ErrInvalidSettlementMode):
		return "settlement_mode"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrBackdatedPayment):
		return "backdated"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return "duplicate"
	default:
		return "error"
	}
}

type noopMetrics struct{}

func (noopMetrics) DocumentCreated(string) {}
func (noopMetrics) DocumentCancelled()     {}
func (noopMetrics) PaymentApplied()        {}
func (noopMetrics) PaymentRejected(string) {}

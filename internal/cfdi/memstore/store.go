// Package memstore is the in-process Entity Store: entities live in arenas keyed by identifier
// and relationships are foreign-key indexes resolved through lookups.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cfdilab/cfdilab/internal/cfdi"
	"github.com/cfdilab/cfdilab/internal/reporting"
	"github.com/cfdilab/cfdilab/internal/shared"
)

type documentRow struct {
	cfdi.Header
	cfdi.Totals
	cfdi.LedgerState
}

// Store implements cfdi.Repository and reporting.Repository in memory.
type Store struct {
	mu sync.RWMutex

	issuers        map[int64]cfdi.Issuer
	issuerByRFC    map[string]int64
	recipients     map[int64]cfdi.Recipient
	recipientByRFC map[string]int64
	documents      map[int64]documentRow
	documentByUUID map[uuid.UUID]int64
	lines          map[int64]cfdi.LineItem
	linesByDoc     map[int64][]int64
	payments       map[int64]cfdi.Payment
	paymentsByDoc  map[int64][]int64

	issuerSeq    atomic.Int64
	recipientSeq atomic.Int64
	documentSeq  atomic.Int64
	lineSeq      atomic.Int64
	paymentSeq   atomic.Int64

	writers *shared.KeyedMutex
	now     func() time.Time
}

var (
	_ cfdi.Repository      = (*Store)(nil)
	_ reporting.Repository = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		issuers:        make(map[int64]cfdi.Issuer),
		issuerByRFC:    make(map[string]int64),
		recipients:     make(map[int64]cfdi.Recipient),
		recipientByRFC: make(map[string]int64),
		documents:      make(map[int64]documentRow),
		documentByUUID: make(map[uuid.UUID]int64),
		lines:          make(map[int64]cfdi.LineItem),
		linesByDoc:     make(map[int64][]int64),
		payments:       make(map[int64]cfdi.Payment),
		paymentsByDoc:  make(map[int64][]int64),
		writers:        shared.NewKeyedMutex(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func notFound(op, what string, id any) error {
	return &cfdi.Error{Op: op, Err: cfdi.ErrNotFound, Detail: fmt.Sprintf("%s %v", what, id)}
}

func duplicate(op, field, value string) error {
	return &cfdi.Error{Op: op, Err: cfdi.ErrConstraintViolation, Field: field, Detail: "duplicate " + value}
}

// CreateIssuer stores an issuer; RFCs are unique.
func (s *Store) CreateIssuer(_ context.Context, in cfdi.IssuerInput) (cfdi.Issuer, error) {
	rfc := strings.ToUpper(strings.TrimSpace(in.RFC))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issuerByRFC[rfc]; ok {
		return cfdi.Issuer{}, duplicate("create issuer", "rfc", rfc)
	}
	issuer := cfdi.Issuer{
		ID:           s.issuerSeq.Add(1),
		RFC:          rfc,
		Name:         in.Name,
		FiscalRegime: in.FiscalRegime,
		CreatedAt:    s.now(),
	}
	s.issuers[issuer.ID] = issuer
	s.issuerByRFC[rfc] = issuer.ID
	return issuer, nil
}

// CreateRecipient stores a recipient; RFCs are unique.
func (s *Store) CreateRecipient(_ context.Context, in cfdi.RecipientInput) (cfdi.Recipient, error) {
	rfc := strings.ToUpper(strings.TrimSpace(in.RFC))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recipientByRFC[rfc]; ok {
		return cfdi.Recipient{}, duplicate("create recipient", "rfc", rfc)
	}
	recipient := cfdi.Recipient{
		ID:           s.recipientSeq.Add(1),
		RFC:          rfc,
		Name:         in.Name,
		PostalCode:   in.PostalCode,
		FiscalRegime: in.FiscalRegime,
		UsageCode:    in.UsageCode,
		CreatedAt:    s.now(),
	}
	s.recipients[recipient.ID] = recipient
	s.recipientByRFC[rfc] = recipient.ID
	return recipient, nil
}

func (s *Store) GetIssuer(_ context.Context, id int64) (cfdi.Issuer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	issuer, ok := s.issuers[id]
	if !ok {
		return cfdi.Issuer{}, notFound("get issuer", "issuer", id)
	}
	return issuer, nil
}

func (s *Store) GetRecipient(_ context.Context, id int64) (cfdi.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recipient, ok := s.recipients[id]
	if !ok {
		return cfdi.Recipient{}, notFound("get recipient", "recipient", id)
	}
	return recipient, nil
}

func (s *Store) ListIssuers(_ context.Context) ([]cfdi.Issuer, error) {
	s.mu.RLock()
	out := make([]cfdi.Issuer, 0, len(s.issuers))
	for _, issuer := range s.issuers {
		out = append(out, issuer)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListRecipients(_ context.Context) ([]cfdi.Recipient, error) {
	s.mu.RLock()
	out := make([]cfdi.Recipient, 0, len(s.recipients))
	for _, recipient := range s.recipients {
		out = append(out, recipient)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertDocuments validates references and uniqueness for the whole batch before writing any of it.
func (s *Store) InsertDocuments(_ context.Context, docs []*cfdi.Document) error {
	const op = "insert documents"
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(docs))
	for _, d := range docs {
		h := d.Header()
		if _, ok := s.documentByUUID[h.UUID]; ok {
			return duplicate(op, "uuid", h.UUID.String())
		}
		if _, ok := seen[h.UUID]; ok {
			return duplicate(op, "uuid", h.UUID.String())
		}
		seen[h.UUID] = struct{}{}
		if _, ok := s.issuers[h.IssuerID]; !ok {
			return notFound(op, "issuer", h.IssuerID)
		}
		if _, ok := s.recipients[h.RecipientID]; !ok {
			return notFound(op, "recipient", h.RecipientID)
		}
	}

	for _, d := range docs {
		lineIDs := make([]int64, len(d.Lines()))
		for i := range lineIDs {
			lineIDs[i] = s.lineSeq.Add(1)
		}
		paymentIDs := make([]int64, len(d.Payments()))
		for i := range paymentIDs {
			paymentIDs[i] = s.paymentSeq.Add(1)
		}
		if err := d.AssignIDs(s.documentSeq.Add(1), lineIDs, paymentIDs); err != nil {
			return err
		}
		rec := d.Record()
		s.documents[rec.ID] = documentRow{Header: rec.Header, Totals: rec.Totals, LedgerState: rec.LedgerState}
		s.documentByUUID[rec.UUID] = rec.ID
		for _, line := range rec.Lines {
			s.lines[line.ID] = line
			s.linesByDoc[rec.ID] = append(s.linesByDoc[rec.ID], line.ID)
		}
		for _, p := range rec.Payments {
			s.payments[p.ID] = p
			s.paymentsByDoc[rec.ID] = append(s.paymentsByDoc[rec.ID], p.ID)
		}
	}
	return nil
}

// GetDocument returns the full record with concepts and payments.
func (s *Store) GetDocument(_ context.Context, id uuid.UUID) (cfdi.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docID, ok := s.documentByUUID[id]
	if !ok {
		return cfdi.DocumentRecord{}, notFound("get document", "document", id)
	}
	return s.fullRecordLocked(docID), nil
}

func (s *Store) fullRecordLocked(docID int64) cfdi.DocumentRecord {
	row := s.documents[docID]
	rec := cfdi.DocumentRecord{Header: row.Header, Totals: row.Totals, LedgerState: row.LedgerState}
	for _, id := range s.linesByDoc[docID] {
		rec.Lines = append(rec.Lines, s.lines[id])
	}
	for _, id := range s.paymentsByDoc[docID] {
		rec.Payments = append(rec.Payments, s.payments[id])
	}
	return rec
}

// ListDocuments filters by UUID or folio substring, newest issue first.
func (s *Store) ListDocuments(_ context.Context, filter cfdi.DocumentFilter) (cfdi.DocumentPage, error) {
	filter = filter.Normalize()
	q := strings.ToLower(strings.TrimSpace(filter.Query))
	s.mu.RLock()
	matched := make([]documentRow, 0, len(s.documents))
	for _, row := range s.documents {
		if q == "" || strings.Contains(row.UUID.String(), q) || strings.Contains(strings.ToLower(row.Folio), q) {
			matched = append(matched, row)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].IssuedAt.Equal(matched[j].IssuedAt) {
			return matched[i].IssuedAt.After(matched[j].IssuedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	page := cfdi.DocumentPage{Items: []cfdi.DocumentRecord{}, Total: len(matched), Skip: filter.Skip, Limit: filter.Limit}
	if filter.Skip >= len(matched) {
		return page, nil
	}
	end := min(filter.Skip+filter.Limit, len(matched))
	for _, row := range matched[filter.Skip:end] {
		page.Items = append(page.Items, cfdi.DocumentRecord{Header: row.Header, Totals: row.Totals, LedgerState: row.LedgerState})
	}
	return page, nil
}

// DeleteDocument removes the document and cascades to its concepts and payments.
func (s *Store) DeleteDocument(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docID, ok := s.documentByUUID[id]
	if !ok {
		return notFound("delete document", "document", id)
	}
	for _, lineID := range s.linesByDoc[docID] {
		delete(s.lines, lineID)
	}
	for _, paymentID := range s.paymentsByDoc[docID] {
		delete(s.payments, paymentID)
	}
	delete(s.linesByDoc, docID)
	delete(s.paymentsByDoc, docID)
	delete(s.documents, docID)
	delete(s.documentByUUID, id)
	return nil
}

// WithDocument gives fn a private copy of the document; its changes are committed together
// when fn succeeds and discarded otherwise.
func (s *Store) WithDocument(ctx context.Context, id uuid.UUID, fn func(context.Context, cfdi.DocumentTx) error) error {
	unlock, err := s.writers.Lock(ctx, id.String())
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.RLock()
	docID, ok := s.documentByUUID[id]
	var rec cfdi.DocumentRecord
	if ok {
		rec = s.fullRecordLocked(docID)
	}
	s.mu.RUnlock()
	if !ok {
		return notFound("load document", "document", id)
	}

	tx := &documentTx{store: s, record: rec}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *documentTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.documents[tx.record.ID]
	if !ok {
		return notFound("commit document", "document", tx.record.UUID)
	}
	for _, p := range tx.appended {
		s.payments[p.ID] = p
		s.paymentsByDoc[p.DocumentID] = append(s.paymentsByDoc[p.DocumentID], p.ID)
	}
	if tx.state != nil {
		row.LedgerState = *tx.state
		s.documents[row.ID] = row
	}
	return nil
}

// ScanDocuments calls fn for every full record, in id order, outside the store lock.
func (s *Store) ScanDocuments(ctx context.Context, fn func(cfdi.DocumentRecord) error) error {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.documents))
	for id := range s.documents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	records := make([]cfdi.DocumentRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, s.fullRecordLocked(id))
	}
	s.mu.RUnlock()

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot folds every document under one read lock.
func (s *Store) Snapshot(_ context.Context) (reporting.Snapshot, error) {
	s.mu.RLock()
	rows := make([]reporting.DocumentRow, 0, len(s.documents))
	for _, doc := range s.documents {
		issuer := s.issuers[doc.IssuerID]
		rows = append(rows, reporting.DocumentRow{
			IssuerRFC:  issuer.RFC,
			IssuerName: issuer.Name,
			Total:      doc.Total,
			Active:     doc.Status == cfdi.StatusActive,
		})
	}
	s.mu.RUnlock()
	return reporting.Summarize(rows), nil
}

type documentTx struct {
	store    *Store
	record   cfdi.DocumentRecord
	appended []cfdi.Payment
	state    *cfdi.LedgerState
}

func (tx *documentTx) Record() cfdi.DocumentRecord {
	rec := tx.record
	rec.Lines = append([]cfdi.LineItem(nil), tx.record.Lines...)
	rec.Payments = append(append([]cfdi.Payment(nil), tx.record.Payments...), tx.appended...)
	if tx.state != nil {
		rec.LedgerState = *tx.state
	}
	return rec
}

func (tx *documentTx) AppendPayment(_ context.Context, p cfdi.Payment) (cfdi.Payment, error) {
	p.ID = tx.store.paymentSeq.Add(1)
	p.DocumentID = tx.record.ID
	tx.appended = append(tx.appended, p)
	return p, nil
}

func (tx *documentTx) SaveLedgerState(_ context.Context, state cfdi.LedgerState) error {
	tx.state = &state
	return nil
}

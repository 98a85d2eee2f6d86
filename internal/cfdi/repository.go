package cfdi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cfdilab/cfdilab/internal/platform/db"
	"github.com/cfdilab/cfdilab/internal/reporting"
	"github.com/cfdilab/cfdilab/internal/shared"
)

// PGRepository persists the Entity Store in PostgreSQL.
type PGRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

var (
	_ Repository           = (*PGRepository)(nil)
	_ reporting.Repository = (*PGRepository)(nil)
)

// NewPGRepository constructs PGRepository. timeout bounds every store call; zero disables it.
func NewPGRepository(pool *pgxpool.Pool, timeout time.Duration) *PGRepository {
	return &PGRepository{pool: pool, timeout: timeout}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// mapPgError translates driver errors into the domain taxonomy.
func mapPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &Error{Op: op, Err: ErrNotFound}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return &Error{Op: op, Err: ErrConstraintViolation, Field: pgErr.ConstraintName, Detail: pgErr.Detail}
		case "23503":
			return &Error{Op: op, Err: ErrNotFound, Field: pgErr.ConstraintName, Detail: pgErr.Detail}
		case "23514":
			return &Error{Op: op, Err: ErrInvariantViolation, Field: pgErr.ConstraintName, Detail: pgErr.Message}
		case "22001", "22003":
			return &Error{Op: op, Err: ErrInvalidDocument, Field: pgErr.ColumnName, Detail: pgErr.Message}
		case "40001", "40P01":
			return &Error{Op: op, Err: shared.ErrLockNotObtained, Detail: pgErr.Message}
		}
	}
	return fmt.Errorf("cfdi: %s: %w", op, err)
}

func (r *PGRepository) CreateIssuer(ctx context.Context, in IssuerInput) (Issuer, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	issuer := Issuer{RFC: strings.ToUpper(strings.TrimSpace(in.RFC)), Name: in.Name, FiscalRegime: in.FiscalRegime}
	err := r.pool.QueryRow(ctx, `INSERT INTO cfdi_emisores (rfc, nombre, regimen_fiscal) VALUES ($1, $2, $3)
		RETURNING id, created_at`, issuer.RFC, issuer.Name, issuer.FiscalRegime).Scan(&issuer.ID, &issuer.CreatedAt)
	if err != nil {
		return Issuer{}, mapPgError("create issuer", err)
	}
	return issuer, nil
}

func (r *PGRepository) CreateRecipient(ctx context.Context, in RecipientInput) (Recipient, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	rec := Recipient{
		RFC:          strings.ToUpper(strings.TrimSpace(in.RFC)),
		Name:         in.Name,
		PostalCode:   in.PostalCode,
		FiscalRegime: in.FiscalRegime,
		UsageCode:    in.UsageCode,
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO cfdi_receptores (rfc, nombre, domicilio_fiscal_cp, regimen_fiscal_receptor, uso_cfdi)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		rec.RFC, rec.Name, rec.PostalCode, rec.FiscalRegime, rec.UsageCode).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return Recipient{}, mapPgError("create recipient", err)
	}
	return rec, nil
}

const issuerColumns = `id, rfc, nombre, regimen_fiscal, created_at`

const recipientColumns = `id, rfc, nombre, domicilio_fiscal_cp, regimen_fiscal_receptor, uso_cfdi, created_at`

func (r *PGRepository) GetIssuer(ctx context.Context, id int64) (Issuer, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	var i Issuer
	err := r.pool.QueryRow(ctx, `SELECT `+issuerColumns+` FROM cfdi_emisores WHERE id = $1`, id).
		Scan(&i.ID, &i.RFC, &i.Name, &i.FiscalRegime, &i.CreatedAt)
	if err != nil {
		return Issuer{}, mapPgError(fmt.Sprintf("get issuer %d", id), err)
	}
	return i, nil
}

func (r *PGRepository) GetRecipient(ctx context.Context, id int64) (Recipient, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	var rc Recipient
	err := r.pool.QueryRow(ctx, `SELECT `+recipientColumns+` FROM cfdi_receptores WHERE id = $1`, id).
		Scan(&rc.ID, &rc.RFC, &rc.Name, &rc.PostalCode, &rc.FiscalRegime, &rc.UsageCode, &rc.CreatedAt)
	if err != nil {
		return Recipient{}, mapPgError(fmt.Sprintf("get recipient %d", id), err)
	}
	return rc, nil
}

func (r *PGRepository) ListIssuers(ctx context.Context) ([]Issuer, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT `+issuerColumns+` FROM cfdi_emisores ORDER BY id`)
	if err != nil {
		return nil, mapPgError("list issuers", err)
	}
	defer rows.Close()
	var out []Issuer
	for rows.Next() {
		var i Issuer
		if err := rows.Scan(&i.ID, &i.RFC, &i.Name, &i.FiscalRegime, &i.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (r *PGRepository) ListRecipients(ctx context.Context) ([]Recipient, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT `+recipientColumns+` FROM cfdi_receptores ORDER BY id`)
	if err != nil {
		return nil, mapPgError("list recipients", err)
	}
	defer rows.Close()
	var out []Recipient
	for rows.Next() {
		var rc Recipient
		if err := rows.Scan(&rc.ID, &rc.RFC, &rc.Name, &rc.PostalCode, &rc.FiscalRegime, &rc.UsageCode, &rc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

const insertDocumentSQL = `INSERT INTO cfdi_comprobantes (
	uuid, version, serie, folio, fecha_emision, fecha_timbrado, tipo_comprobante, moneda, exportacion,
	metodo_pago, forma_pago, lugar_expedicion_cp, emisor_id, receptor_id,
	subtotal, descuento, impuestos, total,
	estatus_sat, fecha_cancelacion, monto_pagado, saldo, liquidado, fecha_pago,
	fecha_recepcion, fecha_programacion_pago, fecha_vencimiento, notas
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
RETURNING id`

const insertLineSQL = `INSERT INTO cfdi_conceptos (
	comprobante_id, clave_prod_serv, no_identificacion, cantidad, clave_unidad, unidad, descripcion,
	valor_unitario, importe, descuento, objeto_imp, impuesto_codigo, tipo_factor, tasa_o_cuota
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) RETURNING id`

const insertPaymentSQL = `INSERT INTO pagos (comprobante_id, fecha_pago, monto, metodo, referencia)
VALUES ($1,$2,$3,$4,$5) RETURNING id`

// InsertDocuments writes the batch in one transaction: headers first, then concepts and
// payments, each as a pipelined pgx batch.
func (r *PGRepository) InsertDocuments(ctx context.Context, docs []*Document) error {
	const op = "insert documents"
	if len(docs) == 0 {
		return nil
	}
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	records := make([]DocumentRecord, len(docs))
	docIDs := make([]int64, len(docs))
	lineIDs := make([][]int64, len(docs))
	paymentIDs := make([][]int64, len(docs))

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		headers := &pgx.Batch{}
		for i, d := range docs {
			records[i] = d.Record()
			h, t, s := records[i].Header, records[i].Totals, records[i].LedgerState
			headers.Queue(insertDocumentSQL,
				h.UUID, h.Version, h.Series, h.Folio, h.IssuedAt, h.StampedAt, h.Type, h.Currency, h.Export,
				h.SettlementMode, h.PaymentForm, h.PlaceOfIssue, h.IssuerID, h.RecipientID,
				t.Subtotal, t.Discount, t.Tax, t.Total,
				s.Status, s.CancelledAt, s.PaidAmount, s.Balance, s.FullySettled, s.LastPaymentAt,
				h.ReceivedAt, h.ScheduledPaymentAt, h.DueAt, h.Notes,
			)
		}
		if err := scanBatchIDs(ctx, tx, headers, docIDs); err != nil {
			return err
		}

		children := &pgx.Batch{}
		total := 0
		for i, rec := range records {
			for _, l := range rec.Lines {
				children.Queue(insertLineSQL, docIDs[i], l.ProductCode, l.IdentificationNo, l.Quantity, l.UnitCode,
					l.UnitName, l.Description, l.UnitValue, l.Amount, l.Discount, l.TaxObject, l.TaxCode,
					l.FactorType, l.TaxRate)
			}
			for _, p := range rec.Payments {
				children.Queue(insertPaymentSQL, docIDs[i], p.PaidAt, p.Amount, p.Method, p.Reference)
			}
			total += len(rec.Lines) + len(rec.Payments)
		}
		ids := make([]int64, total)
		if err := scanBatchIDs(ctx, tx, children, ids); err != nil {
			return err
		}
		for i, rec := range records {
			lineIDs[i], ids = ids[:len(rec.Lines)], ids[len(rec.Lines):]
			paymentIDs[i], ids = ids[:len(rec.Payments)], ids[len(rec.Payments):]
		}
		return nil
	})
	if err != nil {
		return mapPgError(op, err)
	}
	for i, d := range docs {
		if err := d.AssignIDs(docIDs[i], lineIDs[i], paymentIDs[i]); err != nil {
			return err
		}
	}
	return nil
}

func scanBatchIDs(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, ids []int64) error {
	if batch.Len() == 0 {
		return nil
	}
	results := tx.SendBatch(ctx, batch)
	for i := range ids {
		if err := results.QueryRow().Scan(&ids[i]); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

const documentColumns = `id, uuid, version, serie, folio, fecha_emision, fecha_timbrado, tipo_comprobante, moneda,
	exportacion, metodo_pago, forma_pago, lugar_expedicion_cp, emisor_id, receptor_id,
	subtotal, descuento, impuestos, total,
	estatus_sat, fecha_cancelacion, monto_pagado, saldo, liquidado, fecha_pago,
	fecha_recepcion, fecha_programacion_pago, fecha_vencimiento, notas`

func scanDocument(row pgx.Row) (DocumentRecord, error) {
	var rec DocumentRecord
	h, t, s := &rec.Header, &rec.Totals, &rec.LedgerState
	err := row.Scan(
		&h.ID, &h.UUID, &h.Version, &h.Series, &h.Folio, &h.IssuedAt, &h.StampedAt, &h.Type, &h.Currency,
		&h.Export, &h.SettlementMode, &h.PaymentForm, &h.PlaceOfIssue, &h.IssuerID, &h.RecipientID,
		&t.Subtotal, &t.Discount, &t.Tax, &t.Total,
		&s.Status, &s.CancelledAt, &s.PaidAmount, &s.Balance, &s.FullySettled, &s.LastPaymentAt,
		&h.ReceivedAt, &h.ScheduledPaymentAt, &h.DueAt, &h.Notes,
	)
	return rec, err
}

const lineColumns = `id, comprobante_id, clave_prod_serv, no_identificacion, cantidad, clave_unidad, unidad,
	descripcion, valor_unitario, importe, descuento, objeto_imp, impuesto_codigo, tipo_factor, tasa_o_cuota`

func scanLine(row pgx.Row) (LineItem, error) {
	var l LineItem
	err := row.Scan(&l.ID, &l.DocumentID, &l.ProductCode, &l.IdentificationNo, &l.Quantity, &l.UnitCode,
		&l.UnitName, &l.Description, &l.UnitValue, &l.Amount, &l.Discount, &l.TaxObject, &l.TaxCode,
		&l.FactorType, &l.TaxRate)
	return l, err
}

const paymentColumns = `id, comprobante_id, fecha_pago, monto, metodo, referencia`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.DocumentID, &p.PaidAt, &p.Amount, &p.Method, &p.Reference)
	return p, err
}

// loadDocument reads a full record; forUpdate locks the header row until the transaction ends.
func loadDocument(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (DocumentRecord, error) {
	sql := `SELECT ` + documentColumns + ` FROM cfdi_comprobantes WHERE uuid = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rec, err := scanDocument(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DocumentRecord{}, &Error{Op: "load document", DocumentID: id.String(), Err: ErrNotFound}
		}
		return DocumentRecord{}, err
	}
	children, err := loadChildren(ctx, q, []int64{rec.ID})
	if err != nil {
		return DocumentRecord{}, err
	}
	rec.Lines = children[rec.ID].lines
	rec.Payments = children[rec.ID].payments
	return rec, nil
}

type documentChildren struct {
	lines    []LineItem
	payments []Payment
}

func loadChildren(ctx context.Context, q querier, ids []int64) (map[int64]*documentChildren, error) {
	out := make(map[int64]*documentChildren, len(ids))
	for _, id := range ids {
		out[id] = &documentChildren{}
	}
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM cfdi_conceptos WHERE comprobante_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out[l.DocumentID].lines = append(out[l.DocumentID].lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows, err = q.Query(ctx, `SELECT `+paymentColumns+` FROM pagos WHERE comprobante_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out[p.DocumentID].payments = append(out[p.DocumentID].payments, p)
	}
	return out, rows.Err()
}

func (r *PGRepository) GetDocument(ctx context.Context, id uuid.UUID) (DocumentRecord, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	var rec DocumentRecord
	err := db.WithReadOnlyTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		rec, err = loadDocument(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return DocumentRecord{}, mapPgError("get document", err)
	}
	return rec, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *PGRepository) ListDocuments(ctx context.Context, filter DocumentFilter) (DocumentPage, error) {
	filter = filter.Normalize()
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	pattern := ""
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern = "%" + likeEscaper.Replace(q) + "%"
	}
	const where = ` WHERE ($1 = '' OR uuid::text ILIKE $1 OR folio ILIKE $1)`
	page := DocumentPage{Items: []DocumentRecord{}, Skip: filter.Skip, Limit: filter.Limit}
	err := db.WithReadOnlyTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM cfdi_comprobantes`+where, pattern).Scan(&page.Total); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT `+documentColumns+` FROM cfdi_comprobantes`+where+
			` ORDER BY fecha_emision DESC, id DESC OFFSET $2 LIMIT $3`, pattern, filter.Skip, filter.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanDocument(rows)
			if err != nil {
				return err
			}
			page.Items = append(page.Items, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return DocumentPage{}, mapPgError("list documents", err)
	}
	return page, nil
}

// DeleteDocument relies on ON DELETE CASCADE for concepts and payments.
func (r *PGRepository) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM cfdi_comprobantes WHERE uuid = $1`, id)
	if err != nil {
		return mapPgError("delete document", err)
	}
	if tag.RowsAffected() == 0 {
		return &Error{Op: "delete document", DocumentID: id.String(), Err: ErrNotFound}
	}
	return nil
}

// WithDocument locks the document row with SELECT ... FOR UPDATE for the duration of fn.
func (r *PGRepository) WithDocument(ctx context.Context, id uuid.UUID, fn func(context.Context, DocumentTx) error) error {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rec, err := loadDocument(ctx, tx, id, true)
		if err != nil {
			return mapPgError("load document", err)
		}
		return fn(ctx, &pgDocumentTx{tx: tx, record: rec})
	})
}

const scanPageSize = 500

// ScanDocuments walks documents in id order, pageSize at a time, from one read-only snapshot.
func (r *PGRepository) ScanDocuments(ctx context.Context, fn func(DocumentRecord) error) error {
	return db.WithReadOnlyTx(ctx, r.pool, func(tx pgx.Tx) error {
		var after int64
		for {
			rows, err := tx.Query(ctx, `SELECT `+documentColumns+` FROM cfdi_comprobantes WHERE id > $1 ORDER BY id LIMIT $2`, after, scanPageSize)
			if err != nil {
				return err
			}
			var batch []DocumentRecord
			for rows.Next() {
				rec, err := scanDocument(rows)
				if err != nil {
					rows.Close()
					return err
				}
				batch = append(batch, rec)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}
			if len(batch) == 0 {
				return nil
			}
			ids := make([]int64, len(batch))
			for i, rec := range batch {
				ids[i] = rec.ID
			}
			children, err := loadChildren(ctx, tx, ids)
			if err != nil {
				return err
			}
			for _, rec := range batch {
				rec.Lines = children[rec.ID].lines
				rec.Payments = children[rec.ID].payments
				if err := fn(rec); err != nil {
					return err
				}
			}
			after = batch[len(batch)-1].ID
		}
	})
}

// Snapshot reads KPIs and issuer totals inside one repeatable-read transaction.
func (r *PGRepository) Snapshot(ctx context.Context) (reporting.Snapshot, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	var snap reporting.Snapshot
	err := db.WithReadOnlyTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(total), 0),
			COUNT(*) FILTER (WHERE estatus_sat = $1) FROM cfdi_comprobantes`, StatusActive).
			Scan(&snap.KPIs.TotalDocs, &snap.KPIs.TotalAmount, &snap.KPIs.Active)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT e.rfc, e.nombre, SUM(c.total)
			FROM cfdi_comprobantes c JOIN cfdi_emisores e ON e.id = c.emisor_id
			GROUP BY e.id, e.rfc, e.nombre`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var it reporting.IssuerTotal
			if err := rows.Scan(&it.RFC, &it.Name, &it.Value); err != nil {
				return err
			}
			snap.Issuers = append(snap.Issuers, it)
		}
		return rows.Err()
	})
	if err != nil {
		return reporting.Snapshot{}, mapPgError("snapshot", err)
	}
	return snap, nil
}

type pgDocumentTx struct {
	tx     pgx.Tx
	record DocumentRecord
}

func (t *pgDocumentTx) Record() DocumentRecord {
	rec := t.record
	rec.Lines = append([]LineItem(nil), t.record.Lines...)
	rec.Payments = append([]Payment(nil), t.record.Payments...)
	return rec
}

func (t *pgDocumentTx) AppendPayment(ctx context.Context, p Payment) (Payment, error) {
	p.DocumentID = t.record.ID
	err := t.tx.QueryRow(ctx, insertPaymentSQL, p.DocumentID, p.PaidAt, p.Amount, p.Method, p.Reference).Scan(&p.ID)
	if err != nil {
		return Payment{}, mapPgError("append payment", err)
	}
	t.record.Payments = append(t.record.Payments, p)
	return p, nil
}

func (t *pgDocumentTx) SaveLedgerState(ctx context.Context, s LedgerState) error {
	_, err := t.tx.Exec(ctx, `UPDATE cfdi_comprobantes SET estatus_sat = $2, fecha_cancelacion = $3,
		monto_pagado = $4, saldo = $5, liquidado = $6, fecha_pago = $7 WHERE id = $1`,
		t.record.ID, s.Status, s.CancelledAt, s.PaidAmount, s.Balance, s.FullySettled, s.LastPaymentAt)
	if err != nil {
		return mapPgError("save ledger state", err)
	}
	t.record.LedgerState = s
	return nil
}

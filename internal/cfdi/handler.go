package cfdi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cfdilab/cfdilab/internal/platform/httpx"
	"github.com/cfdilab/cfdilab/internal/shared"
)

// Handler exposes documents, issuers and recipients over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	now       func() time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), now: service.now}
}

// MountRoutes registers document routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/comprobantes", func(r chi.Router) {
		r.Get("/", h.listDocuments)
		r.Post("/", h.createDocument)
		r.Get("/{uuid}", h.getDocument)
		r.Delete("/{uuid}", h.deleteDocument)
		r.Post("/{uuid}/pagos", h.applyPayment)
		r.Post("/{uuid}/cancelar", h.cancelDocument)
	})
	r.Route("/emisores", func(r chi.Router) {
		r.Get("/", h.listIssuers)
		r.Post("/", h.createIssuer)
	})
	r.Route("/receptores", func(r chi.Router) {
		r.Get("/", h.listRecipients)
		r.Post("/", h.createRecipient)
	})
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	skip, limit := shared.SkipLimit(r.URL.Query(), defaultListLimit)
	page, err := h.service.ListDocuments(r.Context(), DocumentFilter{Skip: skip, Limit: limit, Query: r.URL.Query().Get("q")})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	doc, err := h.service.CreateDocument(withActor(r), req.toInput())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.GetDocument(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteDocument(withActor(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) applyPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	in := PaymentInput{
		Amount:         req.Amount,
		Method:         req.Method,
		Reference:      req.Reference,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	if req.PaidAt != nil {
		in.PaidAt = *req.PaidAt
	} else {
		in.PaidAt = h.now()
	}
	payment, doc, err := h.service.ApplyPayment(withActor(r), id, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, paymentResponse{Payment: payment, Document: doc})
}

func (h *Handler) cancelDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	var at time.Time
	if req.CancelledAt != nil {
		at = *req.CancelledAt
	}
	doc, err := h.service.CancelDocument(withActor(r), id, at)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) listIssuers(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListIssuers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []Issuer{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) createIssuer(w http.ResponseWriter, r *http.Request) {
	var req IssuerInput
	if !h.decode(w, r, &req, false) {
		return
	}
	issuer, err := h.service.CreateIssuer(withActor(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, issuer)
}

func (h *Handler) listRecipients(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListRecipients(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []Recipient{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) createRecipient(w http.ResponseWriter, r *http.Request) {
	var req RecipientInput
	if !h.decode(w, r, &req, false) {
		return
	}
	recipient, err := h.service.CreateRecipient(withActor(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, recipient)
}

// decode reads and validates the body. allowEmpty accepts a missing body as the zero value.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fieldErr := range verrs {
			fields[fieldErr.Namespace()] = fieldErr.Error()
		}
		httpx.ValidationProblem(w, "request validation failed", fields)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "cfdi request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		if status == http.StatusInternalServerError {
			httpx.RespondError(w, err)
			return
		}
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Field != "" && status == http.StatusUnprocessableEntity {
		httpx.ValidationProblem(w, err.Error(), map[string]string{domainErr.Field: domainErr.Detail})
		return
	}
	httpx.Problem(w, status, title, err.Error())
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, ErrConstraintViolation), errors.Is(err, ErrOverpayment),
		errors.Is(err, ErrDocumentCancelled), errors.Is(err, ErrAlreadyCancelled),
		errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, ErrInvalidLineItem), errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrBackdatedPayment), errors.Is(err, ErrInvalidSettlementMode),
		errors.Is(err, ErrInvalidDocument), errors.Is(err, ErrInvalidTimestamp):
		return http.StatusUnprocessableEntity, "Validation Failed"
	case errors.Is(err, shared.ErrLockNotObtained):
		return http.StatusServiceUnavailable, "Busy"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}

func parseUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid document uuid")
		return uuid.Nil, false
	}
	return id, true
}

func withActor(r *http.Request) context.Context {
	actor := "http"
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		actor = "http:" + reqID
	}
	return shared.ContextWithActor(r.Context(), actor)
}

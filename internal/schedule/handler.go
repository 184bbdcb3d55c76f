package schedule

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/defter-erp/defter/internal/money"
	"github.com/defter-erp/defter/internal/platform/httpx"
)

// Handler manages schedule endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers schedule routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/installments", h.createInstallments)
	r.Post("/recurring", h.createRecurring)
	r.Get("/invoice/{invoiceID}", h.listByInvoice)
}

type installmentsRequest struct {
	InvoiceID        int64     `json:"invoice_id" validate:"required"`
	InstallmentCount int       `json:"installment_count" validate:"required"`
	IntervalDays     int       `json:"interval_days"`
	FeePercent       string    `json:"fee_percent"`
	FirstDueDate     time.Time `json:"first_due_date" validate:"required"`
}

func (h *Handler) createInstallments(w http.ResponseWriter, r *http.Request) {
	var req installmentsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	fee := decimal.Zero
	if req.FeePercent != "" {
		var err error
		if fee, err = decimal.NewFromString(req.FeePercent); err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
			return
		}
	}

	entries, err := h.service.CreateInstallmentPlan(r.Context(), req.InvoiceID, PaymentPlan{
		InstallmentCount: req.InstallmentCount,
		IntervalDays:     req.IntervalDays,
		FeePercent:       fee,
	}, req.FirstDueDate)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"entries": entries})
}

type recurringRequest struct {
	Description  string    `json:"description" validate:"required"`
	Amount       string    `json:"amount" validate:"required"`
	Currency     string    `json:"currency" validate:"required,len=3"`
	StartDate    time.Time `json:"start_date" validate:"required"`
	Period       string    `json:"period" validate:"required,oneof=MONTHLY QUARTERLY YEARLY"`
	HorizonCount int       `json:"horizon_count" validate:"required"`
}

func (h *Handler) createRecurring(w http.ResponseWriter, r *http.Request) {
	var req recurringRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	amount, err := money.FromString(req.Amount, req.Currency)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	entries, err := h.service.CreateRecurring(r.Context(), req.Description, amount, req.StartDate, RecurringPeriod(req.Period), req.HorizonCount)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"entries": entries})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	req := ListRequest{UnpaidOnly: r.URL.Query().Get("unpaid") == "true"}
	if due := r.URL.Query().Get("due_before"); due != "" {
		parsed, err := time.Parse(time.RFC3339, due)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "due_before must be RFC3339")
			return
		}
		req.DueBefore = parsed
	}
	if limit, _ := strconv.Atoi(r.URL.Query().Get("limit")); limit > 0 && limit <= 500 {
		req.Limit = limit
	}

	entries, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list schedule entries", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entry id")
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) listByInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := strconv.ParseInt(chi.URLParam(r, "invoiceID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	entries, err := h.service.ListByInvoice(r.Context(), invoiceID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidPlan),
		errors.Is(err, ErrInvalidHorizon),
		errors.Is(err, ErrInvalidPeriod):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvoiceNotPayable),
		errors.Is(err, ErrAlreadyScheduled):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("schedule request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

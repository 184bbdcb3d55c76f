package invoice

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/defter-erp/defter/internal/masterdata/taxes"
	"github.com/defter-erp/defter/internal/money"
	"github.com/defter-erp/defter/internal/platform/httpx"
)

// Handler manages invoice endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	now      func() time.Time
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), now: time.Now}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}/lines", h.replaceLines)
	r.Post("/{id}/transition", h.transition)
	r.Delete("/{id}", h.remove)
}

type lineRequest struct {
	Description    string `json:"description" validate:"required"`
	Quantity       string `json:"quantity" validate:"required"`
	UnitPrice      string `json:"unit_price" validate:"required"`
	TaxRatePercent string `json:"tax_rate_percent" validate:"required_without=TaxID"`
	TaxID          *int64 `json:"tax_id"`
}

type createRequest struct {
	Direction  string        `json:"direction" validate:"required,oneof=SALES PURCHASE"`
	CustomerID *int64        `json:"customer_id"`
	SupplierID *int64        `json:"supplier_id"`
	Currency   string        `json:"currency" validate:"required,len=3"`
	IssueDate  time.Time     `json:"issue_date"`
	DueDate    time.Time     `json:"due_date" validate:"required"`
	Lines      []lineRequest `json:"lines"`
}

type invoiceResponse struct {
	*Invoice
	EffectiveStatus Status      `json:"effective_status"`
	Outstanding     money.Money `json:"outstanding"`
}

func (h *Handler) respondInvoice(w http.ResponseWriter, status int, inv *Invoice) {
	httpx.JSON(w, status, invoiceResponse{
		Invoice:         inv,
		EffectiveStatus: DeriveStatus(inv, h.now()),
		Outstanding:     inv.Outstanding(),
	})
}

func parseLines(currency string, reqs []lineRequest) ([]LineInput, error) {
	lines := make([]LineInput, 0, len(reqs))
	for _, lr := range reqs {
		qty, err := decimal.NewFromString(lr.Quantity)
		if err != nil {
			return nil, err
		}
		rate := decimal.Zero
		if lr.TaxRatePercent != "" {
			if rate, err = decimal.NewFromString(lr.TaxRatePercent); err != nil {
				return nil, err
			}
		}
		price, err := money.FromString(lr.UnitPrice, currency)
		if err != nil {
			return nil, err
		}
		lines = append(lines, LineInput{
			Description:    lr.Description,
			Quantity:       qty,
			UnitPrice:      price,
			TaxRatePercent: rate,
			TaxID:          lr.TaxID,
		})
	}
	return lines, nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	lines, err := parseLines(req.Currency, req.Lines)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	inv, err := h.service.Create(r.Context(), CreateInput{
		Direction:  Direction(req.Direction),
		CustomerID: req.CustomerID,
		SupplierID: req.SupplierID,
		Currency:   req.Currency,
		IssueDate:  req.IssueDate,
		DueDate:    req.DueDate,
		Lines:      lines,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondInvoice(w, http.StatusCreated, inv)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 100
	}
	invoices, err := h.service.List(r.Context(), ListRequest{
		Status:    Status(r.URL.Query().Get("status")),
		Direction: Direction(r.URL.Query().Get("direction")),
		Limit:     limit,
	})
	if err != nil {
		h.logger.Error("list invoices", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	now := h.now()
	type listed struct {
		Invoice
		EffectiveStatus Status `json:"effective_status"`
	}
	out := make([]listed, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, listed{Invoice: inv, EffectiveStatus: DeriveStatus(&inv, now)})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respondInvoice(w, http.StatusOK, inv)
}

type replaceLinesRequest struct {
	Lines []lineRequest `json:"lines" validate:"required"`
}

func (h *Handler) replaceLines(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	var req replaceLinesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}

	current, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines, err := parseLines(current.Currency, req.Lines)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	inv, err := h.service.ReplaceLines(r.Context(), id, lines)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondInvoice(w, http.StatusOK, inv)
}

type transitionRequest struct {
	Target string `json:"target" validate:"required,oneof=SENT PAID OVERDUE CANCELLED"`
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	inv, err := h.service.Transition(r.Context(), id, Status(req.Target))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondInvoice(w, http.StatusOK, inv)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// respondDomainError maps invoice domain errors onto problem responses.
func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidTaxRate),
		errors.Is(err, ErrInvalidParty),
		errors.Is(err, ErrDueBeforeIssue),
		errors.Is(err, ErrEmptyInvoice),
		errors.Is(err, ErrZeroTotal),
		errors.Is(err, taxes.ErrInactive),
		errors.Is(err, money.ErrCurrencyMismatch):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrCannotCancelPaid),
		errors.Is(err, ErrNotDraft),
		errors.Is(err, ErrInvoiceReferenced):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("invoice request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

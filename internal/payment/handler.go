package payment

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/defter-erp/defter/internal/invoice"
	"github.com/defter-erp/defter/internal/money"
	"github.com/defter-erp/defter/internal/observability"
	"github.com/defter-erp/defter/internal/platform/httpx"
)

const idempotencyScope = "payments:reconcile"

// KeyClaimer guards the reconcile endpoint against blind request retries.
type KeyClaimer interface {
	Claim(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
}

// Handler manages payment endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	keys     KeyClaimer
	metrics  *observability.Metrics
}

// NewHandler builds Handler instance. keys may be nil to disable the
// Idempotency-Key header; metrics may be nil to skip recording.
func NewHandler(logger *slog.Logger, service *Service, keys KeyClaimer, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), keys: keys, metrics: metrics}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.reconcile)
	r.Get("/{id}", h.get)
}

type reconcileRequest struct {
	ID                string    `json:"id" validate:"required,uuid"`
	TargetKind        string    `json:"target_kind" validate:"required,oneof=INVOICE SCHEDULE_ENTRY"`
	TargetID          int64     `json:"target_id" validate:"required"`
	Amount            string    `json:"amount" validate:"required"`
	Currency          string    `json:"currency" validate:"required,len=3"`
	PaymentDate       time.Time `json:"payment_date" validate:"required"`
	Method            string    `json:"method"`
	Status            string    `json:"status" validate:"required,oneof=PENDING COMPLETED FAILED"`
	Kind              string    `json:"kind" validate:"omitempty,oneof=NORMAL ADJUSTMENT"`
	InstallmentNumber *int      `json:"installment_number"`
	PlanRef           *string   `json:"plan_ref"`
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	id, err := uuid.Parse(req.ID)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "id must be a UUID")
		return
	}
	amount, err := money.FromString(req.Amount, req.Currency)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if h.keys != nil && key != "" {
		claimed, err := h.keys.Claim(r.Context(), idempotencyScope, key)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		if !claimed {
			httpx.Problem(w, http.StatusConflict, "Conflict", "request already processed")
			return
		}
	}

	kind := Kind(req.Kind)
	if kind == "" {
		kind = KindNormal
	}
	result, err := h.service.Reconcile(r.Context(), Payment{
		ID:                id,
		Target:            TargetRef{Kind: TargetKind(req.TargetKind), ID: req.TargetID},
		Amount:            amount,
		PaymentDate:       req.PaymentDate,
		Method:            req.Method,
		Status:            Status(req.Status),
		Kind:              kind,
		InstallmentNumber: req.InstallmentNumber,
		PlanRef:           req.PlanRef,
	})
	h.metrics.RecordReconciliation(reconcileOutcome(err))
	if err != nil {
		if h.keys != nil && key != "" {
			if relErr := h.keys.Release(r.Context(), idempotencyScope, key); relErr != nil {
				h.logger.Error("release idempotency key", slog.Any("error", relErr))
			}
		}
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payment id")
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

// reconcileOutcome folds a reconciliation error into a bounded metric label.
func reconcileOutcome(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, ErrDuplicatePayment):
		return "duplicate"
	case errors.Is(err, ErrOverpayment):
		return "overpayment"
	case errors.Is(err, ErrAlreadySettled),
		errors.Is(err, ErrTargetNotPayable),
		errors.Is(err, ErrUnknownTarget),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, money.ErrCurrencyMismatch):
		return "rejected"
	default:
		return "error"
	}
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownTarget):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicatePayment),
		errors.Is(err, ErrAlreadySettled),
		errors.Is(err, ErrTargetNotPayable),
		errors.Is(err, invoice.ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrOverpayment),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, money.ErrCurrencyMismatch):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		h.logger.Error("reconcile payment failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

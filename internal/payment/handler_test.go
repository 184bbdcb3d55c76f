package payment

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/defter-erp/defter/internal/invoice"
	"github.com/defter-erp/defter/internal/observability"
)

func newPaymentServer(t *testing.T, store *memoryStore) *httptest.Server {
	t.Helper()
	metrics := observability.NewMetrics()
	h := NewHandler(slog.Default(), testService(store), nil, metrics)

	r := chi.NewRouter()
	r.Route("/payments", h.MountRoutes)
	r.Handle("/metrics", metrics.Handler())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func reconcileBody(id uuid.UUID, targetID int64, amount, status string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"target_kind": "INVOICE",
		"target_id": %d,
		"amount": %q,
		"currency": "TRY",
		"payment_date": "2026-04-15T10:00:00Z",
		"method": "bank_transfer",
		"status": %q
	}`, id, targetID, amount, status)
}

func postReconcile(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/payments/", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func scrapeMetrics(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

func TestReconcileEndpointCountsAppliedOutcome(t *testing.T) {
	store := newMemoryStore()
	store.invoices[7] = sentInvoice(7, "290.00")
	srv := newPaymentServer(t, store)

	resp := postReconcile(t, srv, reconcileBody(uuid.New(), 7, "290.00", "COMPLETED"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	scraped := scrapeMetrics(t, srv)
	require.Contains(t, scraped, `defter_reconciliations_total{outcome="applied"} 1`)
}

func TestReconcileEndpointCountsRejectedOutcomes(t *testing.T) {
	store := newMemoryStore()
	store.invoices[7] = sentInvoice(7, "290.00")
	cancelled := sentInvoice(8, "100.00")
	cancelled.Status = invoice.StatusCancelled
	store.invoices[8] = cancelled
	srv := newPaymentServer(t, store)

	resp := postReconcile(t, srv, reconcileBody(uuid.New(), 7, "300.00", "COMPLETED"))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = postReconcile(t, srv, reconcileBody(uuid.New(), 8, "100.00", "COMPLETED"))
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	scraped := scrapeMetrics(t, srv)
	require.Contains(t, scraped, `defter_reconciliations_total{outcome="overpayment"} 1`)
	require.Contains(t, scraped, `defter_reconciliations_total{outcome="rejected"} 1`)
}

func TestReconcileEndpointAcceptsPlanRef(t *testing.T) {
	store := newMemoryStore()
	store.invoices[7] = sentInvoice(7, "290.00")
	srv := newPaymentServer(t, store)

	id := uuid.New()
	body := fmt.Sprintf(`{
		"id": %q,
		"target_kind": "INVOICE",
		"target_id": 7,
		"amount": "100.00",
		"currency": "TRY",
		"payment_date": "2026-04-15T10:00:00Z",
		"status": "COMPLETED",
		"plan_ref": "PLAN-2026-0007"
	}`, id)
	resp := postReconcile(t, srv, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	stored, ok := store.payments[id]
	require.True(t, ok)
	require.NotNil(t, stored.PlanRef)
	require.Equal(t, "PLAN-2026-0007", *stored.PlanRef)
}

package installments

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serat-auto/backoffice/internal/sales"
)

func newTestRouter(t *testing.T, store *memoryStore, now time.Time) http.Handler {
	t.Helper()
	svc, _, _ := newTestService(t, store, nil)
	h := NewHandler(nil, svc, func() time.Time { return now })
	r := chi.NewRouter()
	r.Route("/installments", h.MountRoutes)
	return r
}

func TestHandlerMarkPaid(t *testing.T) {
	store := newMemoryStore(scheduleSale())
	router := newTestRouter(t, store, day(10))

	req := httptest.NewRequest(http.MethodPut, "/installments/1/2/paid", strings.NewReader(`{"paymentMethod":"transfer","notes":"virement"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Message     string `json:"message"`
		Installment Change `json:"installment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1_2", body.Installment.ID)
	assert.Equal(t, sales.StatusPaid, body.Installment.Installment.Status)
	require.NotNil(t, body.Installment.Installment.PaymentMethod)
	assert.Equal(t, sales.MethodTransfer, *body.Installment.Installment.PaymentMethod)
}

func TestHandlerRejectsBadParams(t *testing.T) {
	router := newTestRouter(t, newMemoryStore(scheduleSale()), day(10))

	cases := []struct {
		method, path, body string
		status             int
	}{
		{http.MethodPut, "/installments/abc/0/paid", "", http.StatusBadRequest},
		{http.MethodPut, "/installments/1/-1/unpaid", "", http.StatusBadRequest},
		{http.MethodPut, "/installments/1/9/paid", "", http.StatusNotFound},
		{http.MethodPut, "/installments/1/0/paid", `{"paymentMethod":"gold"}`, http.StatusBadRequest},
		{http.MethodGet, "/installments/all?status=late", "", http.StatusBadRequest},
		{http.MethodGet, "/installments/customer/42", "", http.StatusNotFound},
		{http.MethodGet, "/installments/dashboard/upcoming?daysAhead=soon", "", http.StatusBadRequest},
		{http.MethodGet, "/installments/dashboard/upcoming?includeAll=yes", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestHandlerSweepReportsCount(t *testing.T) {
	router := newTestRouter(t, newMemoryStore(scheduleSale()), day(20))

	req := httptest.NewRequest(http.MethodPut, "/installments/update-overdue", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["updatedCount"])
}

func TestHandlerDashboard(t *testing.T) {
	router := newTestRouter(t, newMemoryStore(scheduleSale()), day(10))

	req := httptest.NewRequest(http.MethodGet, "/installments/dashboard/upcoming?includeAll=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var board Dashboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
	require.Len(t, board.Customers, 1)
	assert.Equal(t, 3, len(board.Customers[0].UpcomingInstallments))
}

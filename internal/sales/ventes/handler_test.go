package ventes

import (
	"context"
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
	"github.com/serat-auto/backoffice/internal/shared"
)

func TestSaleRequestAcceptsEveryLineShape(t *testing.T) {
	body := `{
		"customer": {"_id": "1"},
		"articles": [
			2,
			"1",
			{"product": 1, "quantity": 3},
			{"product": {"id": 2}},
			{"_id": "2", "quantity": 0}
		],
		"services": [
			"1",
			{"service": 1, "cost": "99.50", "description": " pose "},
			{"_id": 1}
		],
		"reduction": 10,
		"reductionType": "percent",
		"paymentType": "facilite",
		"installments": [
			{"amount": 100, "dueDate": "2025-05-01"},
			{"amount": "50.25", "dueDate": "2025-06-01T10:00:00+02:00"}
		]
	}`
	var req saleRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	in, err := req.input()
	require.NoError(t, err)

	assert.Equal(t, int64(1), in.CustomerID)
	require.Len(t, in.Articles, 5)
	assert.Equal(t, int64(2), in.Articles[0].ProductID)
	assert.Equal(t, 1, in.Articles[0].Quantity)
	assert.Equal(t, int64(1), in.Articles[1].ProductID)
	assert.Equal(t, 3, in.Articles[2].Quantity)
	assert.Equal(t, int64(2), in.Articles[3].ProductID)
	assert.Equal(t, 1, in.Articles[4].Quantity)

	require.Len(t, in.Services, 3)
	assert.Nil(t, in.Services[0].Cost)
	require.NotNil(t, in.Services[1].Cost)
	assert.True(t, in.Services[1].Cost.Equal(dec("99.50")))
	assert.Equal(t, "pose", in.Services[1].Description)
	assert.Equal(t, int64(1), in.Services[2].ServiceID)

	assert.True(t, in.Reduction.Equal(dec("10")))
	require.Len(t, in.Installments, 2)
	assert.True(t, in.Installments[0].DueDate.Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, in.Installments[1].DueDate.Equal(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)))
	assert.True(t, in.Installments[1].Amount.Equal(dec("50.25")))
}

func TestSaleRequestRejectsMissingReferences(t *testing.T) {
	for name, body := range map[string]string{
		"article":  `{"paymentType":"comptant","articles":[{"quantity":2}]}`,
		"service":  `{"paymentType":"comptant","services":[{"cost":5}]}`,
		"bad id":   `{"paymentType":"comptant","articles":["abc"]}`,
		"bad date": `{"paymentType":"facilite","installments":[{"amount":1,"dueDate":"soon"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			var req saleRequest
			err := json.Unmarshal([]byte(body), &req)
			if err == nil {
				_, err = req.input()
			}
			require.Error(t, err)
		})
	}
}

func newTestRouter(t *testing.T) (http.Handler, fixture) {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(nil, f.svc)
	h.clock = func() time.Time { return now }
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.ContextWithActor(r.Context(), shared.Actor{ID: 42, Role: shared.RoleEmployee})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	r.Route("/ventes", h.MountRoutes)
	return r, f
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerSaleLifecycle(t *testing.T) {
	router, f := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/ventes", `{"customer":1,"articles":[{"product":1,"quantity":3}],"paymentType":"comptant"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Message string     `json:"message"`
		Vente   sales.Sale `json:"vente"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Vente created successfully", created.Message)
	assert.True(t, created.Vente.TotalCost.Equal(dec("300")))
	assert.Equal(t, int64(42), created.Vente.CreatedBy)
	assert.Equal(t, 7, f.world.stock[1])

	rec = do(t, router, http.MethodPut, "/ventes/1", `{"articles":[1],"paymentType":"comptant"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 9, f.world.stock[1])

	rec = do(t, router, http.MethodGet, "/ventes?page=1&limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Total  int          `json:"total"`
		Ventes []sales.Sale `json:"ventes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, 1, listed.Total)

	rec = do(t, router, http.MethodDelete, "/ventes/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, f.world.stock[1])

	rec = do(t, router, http.MethodDelete, "/ventes/1", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, router, http.MethodGet, "/ventes/1", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerErrorStatuses(t *testing.T) {
	router, f := newTestRouter(t)

	cases := []struct {
		name, method, path, body string
		status                   int
	}{
		{"missing payment type", http.MethodPost, "/ventes", `{"customer":1}`, http.StatusBadRequest},
		{"unknown customer", http.MethodPost, "/ventes", `{"customer":8,"paymentType":"comptant"}`, http.StatusNotFound},
		{"oversell", http.MethodPost, "/ventes", `{"customer":1,"articles":[{"product":2,"quantity":6}],"paymentType":"comptant"}`, http.StatusBadRequest},
		{"mismatch", http.MethodPost, "/ventes", `{"customer":1,"articles":[1],"paymentType":"facilite","installments":[{"amount":10,"dueDate":"2025-05-01"}]}`, http.StatusBadRequest},
		{"malformed", http.MethodPost, "/ventes", `{"customer":`, http.StatusBadRequest},
		{"bad id", http.MethodPut, "/ventes/x", `{}`, http.StatusBadRequest},
		{"bad filter", http.MethodGet, "/ventes?customer=abc", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, router, tc.method, tc.path, tc.body, nil)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
	assert.Empty(t, f.world.sales)
}

func TestHandlerIdempotencyKeyReplayConflicts(t *testing.T) {
	router, f := newTestRouter(t)
	body := `{"customer":1,"articles":[2],"paymentType":"comptant"}`
	headers := map[string]string{"Idempotency-Key": "k-1"}

	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/ventes", body, headers).Code)
	assert.Equal(t, http.StatusConflict, do(t, router, http.MethodPost, "/ventes", body, headers).Code)
	assert.Equal(t, 4, f.world.stock[2])

	stored, err := f.world.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(42), stored.CreatedBy)
}

package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesSalesCollectors(t *testing.T) {
	body := scrape(t, NewMetrics())
	assert.Contains(t, body, `backoffice_sales_total{op="create"} 0`)
	assert.Contains(t, body, "backoffice_installments_overdue_swept_total 0")
	assert.Contains(t, body, "backoffice_stock_rejections_total 0")
}

func TestMetricsDomainCounters(t *testing.T) {
	m := NewMetrics()
	m.SaleRecorded("create")
	m.SaleRecorded("create")
	m.SaleRecorded("delete")
	m.OverdueSwept(4)
	m.OverdueSwept(0)
	m.StockRejected()

	body := scrape(t, m)
	assert.Contains(t, body, `backoffice_sales_total{op="create"} 2`)
	assert.Contains(t, body, `backoffice_sales_total{op="delete"} 1`)
	assert.Contains(t, body, "backoffice_installments_overdue_swept_total 4")
	assert.Contains(t, body, "backoffice_stock_rejections_total 1")

	var nilMetrics *Metrics
	nilMetrics.SaleRecorded("create")
	nilMetrics.OverdueSwept(1)
	nilMetrics.StockRejected()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/ventes/{id}")

	req := httptest.NewRequest(http.MethodGet, "/ventes/12", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `backoffice_http_requests_total{code="418",route="/ventes/{id}"} 1`)
	assert.Contains(t, body, `backoffice_http_request_duration_seconds_bucket{route="/ventes/{id}"`)
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(Middleware)
	router.HandleFunc("/api/books/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/books/{id}", "418"))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/books/17", nil))
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/books/{id}", "418"))

	if after-before != 1 {
		t.Fatalf("expected one request recorded under the template, got %v", after-before)
	}
}

func TestHandlerExposesDomainMetrics(t *testing.T) {
	RecordLoanEvent("borrowed")
	RecordPayment("CASH", "CONFIRMED")
	RecordFine(15000)
	RecordJobRun("overdue-sweep", 10*time.Millisecond, true)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{
		"library_loans_events_total",
		"library_payments_total",
		"library_loans_fines_assessed_vnd_total",
		"library_jobs_runs_total",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("metric %s missing from exposition", name)
		}
	}
}

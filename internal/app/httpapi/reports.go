package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/qltv/library_service/internal/middleware"
)

func (h *handler) registerReports(api *mux.Router) {
	rep := api.PathPrefix("/reports").Subrouter()
	rep.Use(middleware.RequireRole(admin...))
	rep.HandleFunc("/dashboard", h.dashboard).Methods(http.MethodGet)
	rep.HandleFunc("/loans/monthly", h.monthlyLoans).Methods(http.MethodGet)
	rep.HandleFunc("/loans/daily", h.dailyLoans).Methods(http.MethodGet)
	rep.HandleFunc("/popular-books", h.popularBooks).Methods(http.MethodGet)
	rep.HandleFunc("/active-patrons", h.report(func(r *http.Request) (interface{}, error) {
		return h.app.Reports.ActivePatrons(r.Context())
	})).Methods(http.MethodGet)
	rep.HandleFunc("/overdue", h.report(func(r *http.Request) (interface{}, error) {
		return h.app.Reports.OverdueReport(r.Context())
	})).Methods(http.MethodGet)
	rep.HandleFunc("/fines", h.report(func(r *http.Request) (interface{}, error) {
		return h.app.Reports.FinesReport(r.Context())
	})).Methods(http.MethodGet)
	rep.HandleFunc("/inventory", h.report(func(r *http.Request) (interface{}, error) {
		return h.app.Reports.Inventory(r.Context())
	})).Methods(http.MethodGet)

	an := api.PathPrefix("/analytics").Subrouter()
	an.Use(middleware.RequireRole(admin...))
	an.HandleFunc("/genres", h.report(func(r *http.Request) (interface{}, error) {
		return h.app.Reports.GenreDistribution(r.Context())
	})).Methods(http.MethodGet)
	an.HandleFunc("/categories", h.report(func(r *http.Request) (interface{}, error) {
		return h.app.Reports.CategoryDistribution(r.Context())
	})).Methods(http.MethodGet)
	an.HandleFunc("/trends", h.report(func(r *http.Request) (interface{}, error) {
		return h.app.Reports.LoanTrends(r.Context(), intQuery(r, "months", 6))
	})).Methods(http.MethodGet)
	an.HandleFunc("/membership", h.report(func(r *http.Request) (interface{}, error) {
		return h.app.Reports.MembershipDistribution(r.Context())
	})).Methods(http.MethodGet)
	an.HandleFunc("/top-patrons", h.report(func(r *http.Request) (interface{}, error) {
		return h.app.Reports.TopActivePatrons(r.Context(), intQuery(r, "limit", 10))
	})).Methods(http.MethodGet)
	an.HandleFunc("/late-returners", h.report(func(r *http.Request) (interface{}, error) {
		return h.app.Reports.FrequentLateReturners(r.Context(), intQuery(r, "limit", 10))
	})).Methods(http.MethodGet)
}

func (h *handler) report(fn func(r *http.Request) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := fn(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func (h *handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.app.Reports.Dashboard(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// monthlyLoans defaults to the twelve months ending today.
func (h *handler) monthlyLoans(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	to, err := dateQuery(r, "to", now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, err := dateQuery(r, "from", time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -11, 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := h.app.Reports.MonthlyLoans(r.Context(), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) dailyLoans(w http.ResponseWriter, r *http.Request) {
	date, err := dateQuery(r, "date", time.Now().UTC())
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := h.app.Reports.DailyLoans(r.Context(), date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) popularBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.app.Reports.PopularBooks(r.Context(), intQuery(r, "limit", 10))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

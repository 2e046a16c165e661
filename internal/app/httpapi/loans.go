package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/domain/payment"
	"github.com/qltv/library_service/internal/app/storage"
	svcerrors "github.com/qltv/library_service/internal/errors"
)

func (h *handler) registerLoans(api *mux.Router) {
	loans := api.PathPrefix("/loans").Subrouter()

	loans.Handle("/eligibility", authed(h.eligibility)).Methods(http.MethodGet)
	loans.Handle("/borrow-with-payment", authed(h.borrowWithPayment)).Methods(http.MethodPost)
	loans.Handle("/me", authed(h.myLoans)).Methods(http.MethodGet)
	loans.Handle("/me/history", authed(h.myHistory)).Methods(http.MethodGet)
	loans.Handle("/me/fines", authed(h.myFines)).Methods(http.MethodGet)
	loans.Handle("/patron/{id}", authed(h.patronLoans)).Methods(http.MethodGet)
	loans.Handle("/patron/{id}/history", authed(h.patronHistory)).Methods(http.MethodGet)
	loans.Handle("/{id}/request-return", authed(h.requestReturn)).Methods(http.MethodPut)
	loans.Handle("/{id}/renew", authed(h.renew)).Methods(http.MethodPut)

	loans.Handle("", roles(h.listLoans, staff...)).Methods(http.MethodGet)
	loans.Handle("/borrow", roles(h.borrow, staff...)).Methods(http.MethodPost)
	loans.Handle("/active", roles(h.loanList(h.app.Loans.Active), staff...)).Methods(http.MethodGet)
	loans.Handle("/overdue", roles(h.loanList(h.app.Loans.Overdue), staff...)).Methods(http.MethodGet)
	loans.Handle("/pending-returns", roles(h.loanList(h.app.Loans.PendingReturns), staff...)).Methods(http.MethodGet)
	loans.Handle("/fines", roles(h.loanList(h.app.Loans.WithFines), staff...)).Methods(http.MethodGet)
	loans.Handle("/book/{bookId}", roles(h.bookLoans, staff...)).Methods(http.MethodGet)
	loans.Handle("/{id}/return", roles(h.returnLoan, staff...)).Methods(http.MethodPut)
	loans.Handle("/{id}/confirm-return", roles(h.confirmReturn, staff...)).Methods(http.MethodPut)
	loans.Handle("/{id}/return-with-damage", roles(h.returnWithDamage, staff...)).Methods(http.MethodPut)
	loans.Handle("/{id}/cancel", roles(h.cancelLoan, staff...)).Methods(http.MethodPut)

	loans.Handle("/{id}", authed(h.getLoan)).Methods(http.MethodGet)
}

// ownedLoan loads a loan the caller may act on.
func (h *handler) ownedLoan(r *http.Request) (loan.Loan, error) {
	l, err := h.app.Loans.Get(r.Context(), pathVar(r, "id"))
	if err != nil {
		return loan.Loan{}, err
	}
	if err := ownerOrStaff(r, l.PatronID); err != nil {
		return loan.Loan{}, err
	}
	return l, nil
}

func (h *handler) loanList(fn func(context.Context) ([]loan.Loan, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loans, err := fn(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, loans)
	}
}

func (h *handler) listLoans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.LoanFilter{
		PatronID: q.Get("patronId"),
		BookID:   q.Get("bookId"),
		CopyID:   q.Get("copyId"),
	}
	for _, raw := range strings.Split(q.Get("status"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			filter.Statuses = append(filter.Statuses, loan.Status(strings.ToUpper(raw)))
		}
	}
	page, err := h.app.Loans.List(r.Context(), filter, pageFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) getLoan(w http.ResponseWriter, r *http.Request) {
	l, err := h.ownedLoan(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *handler) eligibility(w http.ResponseWriter, r *http.Request) {
	bookID := r.URL.Query().Get("bookId")
	if bookID == "" {
		writeError(w, r, svcerrors.InvalidInput("bookId is required"))
		return
	}
	resp := map[string]interface{}{"eligible": true}
	if err := h.app.Loans.CheckEligibility(r.Context(), bookID, callerID(r)); err != nil {
		svcErr := svcerrors.GetServiceError(err)
		if svcErr == nil || svcErr.HTTPStatus >= http.StatusInternalServerError {
			writeError(w, r, err)
			return
		}
		resp["eligible"] = false
		resp["reason"] = svcErr.Message
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) borrow(w http.ResponseWriter, r *http.Request) {
	var in struct {
		BookID   string `json:"bookId"`
		PatronID string `json:"userId"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := h.app.Loans.Borrow(r.Context(), in.BookID, in.PatronID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (h *handler) borrowWithPayment(w http.ResponseWriter, r *http.Request) {
	var in struct {
		BookID   string         `json:"bookId"`
		PatronID string         `json:"userId,omitempty"`
		Method   payment.Method `json:"paymentMethod"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	patronID := callerID(r)
	if in.PatronID != "" {
		if err := ownerOrStaff(r, in.PatronID); err != nil {
			writeError(w, r, err)
			return
		}
		patronID = in.PatronID
	}
	checkout, err := h.app.Loans.BorrowWithPayment(r.Context(), in.BookID, patronID, in.Method, clientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkout)
}

func (h *handler) myLoans(w http.ResponseWriter, r *http.Request) {
	h.writeLoans(w, r, func() ([]loan.Loan, error) { return h.app.Loans.ListByPatron(r.Context(), callerID(r)) })
}

func (h *handler) myHistory(w http.ResponseWriter, r *http.Request) {
	h.writeLoans(w, r, func() ([]loan.Loan, error) { return h.app.Loans.History(r.Context(), callerID(r)) })
}

func (h *handler) myFines(w http.ResponseWriter, r *http.Request) {
	h.writeLoans(w, r, func() ([]loan.Loan, error) { return h.app.Loans.UnpaidFines(r.Context(), callerID(r)) })
}

func (h *handler) patronLoans(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	if err := ownerOrStaff(r, id); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeLoans(w, r, func() ([]loan.Loan, error) { return h.app.Loans.ListByPatron(r.Context(), id) })
}

func (h *handler) patronHistory(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	if err := ownerOrStaff(r, id); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeLoans(w, r, func() ([]loan.Loan, error) { return h.app.Loans.History(r.Context(), id) })
}

func (h *handler) bookLoans(w http.ResponseWriter, r *http.Request) {
	h.writeLoans(w, r, func() ([]loan.Loan, error) { return h.app.Loans.ListByBook(r.Context(), pathVar(r, "bookId")) })
}

func (h *handler) writeLoans(w http.ResponseWriter, r *http.Request, fn func() ([]loan.Loan, error)) {
	loans, err := fn()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []loan.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

func (h *handler) requestReturn(w http.ResponseWriter, r *http.Request) {
	l, err := h.app.Loans.RequestReturn(r.Context(), pathVar(r, "id"), callerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *handler) renew(w http.ResponseWriter, r *http.Request) {
	current, err := h.ownedLoan(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	l, err := h.app.Loans.Renew(r.Context(), current.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *handler) returnLoan(w http.ResponseWriter, r *http.Request) {
	l, err := h.app.Loans.Return(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *handler) confirmReturn(w http.ResponseWriter, r *http.Request) {
	l, err := h.app.Loans.ConfirmReturn(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *handler) returnWithDamage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DamageFine int64  `json:"damageFine"`
		Notes      string `json:"notes"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := h.app.Loans.ReturnWithDamage(r.Context(), pathVar(r, "id"), in.DamageFine, in.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *handler) cancelLoan(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &in); err != nil {
			writeError(w, r, err)
			return
		}
	}
	l, err := h.app.Loans.Cancel(r.Context(), pathVar(r, "id"), in.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

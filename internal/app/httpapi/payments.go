package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/qltv/library_service/internal/app/domain/payment"
	"github.com/qltv/library_service/internal/app/storage"
)

func (h *handler) registerPayments(api *mux.Router) {
	api.HandleFunc("/payments/vnpay/return", h.vnpayReturn).Methods(http.MethodGet)
	api.HandleFunc("/payments/vnpay/ipn", h.vnpayIPN).Methods(http.MethodGet)
	api.Handle("/payments/fines/{loanId}", authed(h.payFine)).Methods(http.MethodPost)

	pays := api.PathPrefix("/loan-payments").Subrouter()
	pays.Handle("/me", authed(h.myPayments)).Methods(http.MethodGet)
	pays.Handle("/me/pending", authed(h.myPendingPayments)).Methods(http.MethodGet)
	pays.Handle("/patron/{id}", authed(h.patronPayments)).Methods(http.MethodGet)
	pays.Handle("/loan/{loanId}", authed(h.loanPayments)).Methods(http.MethodGet)

	pays.Handle("", roles(h.listPayments, staff...)).Methods(http.MethodGet)
	pays.Handle("/pending-cash", roles(h.pendingCash, staff...)).Methods(http.MethodGet)
	pays.Handle("/pending-count", roles(h.pendingCount, staff...)).Methods(http.MethodGet)
	pays.Handle("/order/{ref}", roles(h.paymentByOrderRef, staff...)).Methods(http.MethodGet)
	pays.Handle("/{id}/confirm-cash", roles(h.confirmCash, staff...)).Methods(http.MethodPut)

	pays.Handle("/{id}", authed(h.getPayment)).Methods(http.MethodGet)
	pays.Handle("/{id}/payment-url", authed(h.resumePayment)).Methods(http.MethodGet)
	pays.Handle("/{id}", authed(h.cancelPayment)).Methods(http.MethodDelete)
}

func (h *handler) ownedPayment(r *http.Request) (payment.Payment, error) {
	p, err := h.app.Payments.Get(r.Context(), pathVar(r, "id"))
	if err != nil {
		return payment.Payment{}, err
	}
	if err := ownerOrStaff(r, p.PatronID); err != nil {
		return payment.Payment{}, err
	}
	return p, nil
}

func writePayments(w http.ResponseWriter, r *http.Request, payments []payment.Payment, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	if payments == nil {
		payments = []payment.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *handler) listPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.PaymentFilter{
		LoanID:   q.Get("loanId"),
		PatronID: q.Get("patronId"),
		Kind:     payment.Kind(strings.ToUpper(q.Get("kind"))),
		Method:   payment.Method(strings.ToUpper(q.Get("method"))),
		Status:   payment.Status(strings.ToUpper(q.Get("status"))),
	}
	page, err := h.app.Payments.List(r.Context(), filter, pageFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.ownedPayment(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) paymentByOrderRef(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Payments.GetByOrderRef(r.Context(), pathVar(r, "ref"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) myPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.app.Payments.ByPatron(r.Context(), callerID(r))
	writePayments(w, r, payments, err)
}

func (h *handler) myPendingPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.app.Payments.PendingByPatron(r.Context(), callerID(r))
	writePayments(w, r, payments, err)
}

func (h *handler) patronPayments(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	if err := ownerOrStaff(r, id); err != nil {
		writeError(w, r, err)
		return
	}
	payments, err := h.app.Payments.ByPatron(r.Context(), id)
	writePayments(w, r, payments, err)
}

func (h *handler) loanPayments(w http.ResponseWriter, r *http.Request) {
	l, err := h.app.Loans.Get(r.Context(), pathVar(r, "loanId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := ownerOrStaff(r, l.PatronID); err != nil {
		writeError(w, r, err)
		return
	}
	payments, err := h.app.Payments.ByLoan(r.Context(), l.ID)
	writePayments(w, r, payments, err)
}

func (h *handler) pendingCash(w http.ResponseWriter, r *http.Request) {
	payments, err := h.app.Payments.PendingCash(r.Context())
	writePayments(w, r, payments, err)
}

func (h *handler) pendingCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Payments.CountPending(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *handler) confirmCash(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Payments.ConfirmCash(r.Context(), pathVar(r, "id"), callerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	current, err := h.ownedPayment(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.app.Payments.Cancel(r.Context(), current.ID, callerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) resumePayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.ownedPayment(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	link, err := h.app.Payments.PaymentURL(p, clientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payment_url": link})
}

func (h *handler) payFine(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Method payment.Method `json:"paymentMethod"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	patronID := callerID(r)
	if callerIsStaff(r) {
		patronID = ""
	}
	checkout, err := h.app.Payments.PayFine(r.Context(), pathVar(r, "loanId"), patronID, in.Method, clientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkout)
}

// vnpayReturn settles the payment the browser was redirected back with.
func (h *handler) vnpayReturn(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Payments.HandleReturn(r.Context(), r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": p.Status == payment.StatusConfirmed,
		"payment": p,
	})
}

// vnpayIPN always answers 200; the outcome travels in RspCode.
func (h *handler) vnpayIPN(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Payments.HandleIPN(r.Context(), r.URL.Query()))
}

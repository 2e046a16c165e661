package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/qltv/library_service/internal/app/domain/review"
	svcerrors "github.com/qltv/library_service/internal/errors"
)

func (h *handler) registerReviews(api *mux.Router) {
	rv := api.PathPrefix("/reviews").Subrouter()
	rv.HandleFunc("/approved", h.reviewPage(h.app.Reviews.ListApproved)).Methods(http.MethodGet)
	rv.HandleFunc("/book/{bookId}", h.bookReviews).Methods(http.MethodGet)
	rv.HandleFunc("/book/{bookId}/stats", h.reviewStats).Methods(http.MethodGet)

	rv.Handle("", authed(h.createReview)).Methods(http.MethodPost)
	rv.Handle("/can-review", authed(h.canReview)).Methods(http.MethodGet)
	rv.Handle("/me", authed(h.myReviews)).Methods(http.MethodGet)

	rv.Handle("", roles(h.reviewPage(h.app.Reviews.ListAll), staff...)).Methods(http.MethodGet)
	rv.Handle("/pending", roles(h.reviewPage(h.app.Reviews.ListPending), staff...)).Methods(http.MethodGet)
	rv.Handle("/patron/{id}", roles(h.patronReviews, staff...)).Methods(http.MethodGet)
	rv.Handle("/loan/{loanId}", roles(h.loanReview, staff...)).Methods(http.MethodGet)
	rv.Handle("/{id}", roles(getHandler(h.app.Reviews.Get), staff...)).Methods(http.MethodGet)
	rv.Handle("/{id}/approve", roles(h.approveReview, staff...)).Methods(http.MethodPut)
	rv.Handle("/{id}", authed(h.deleteReview)).Methods(http.MethodDelete)
}

func (h *handler) reviewPage(fn pageFunc[review.Review]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := fn(r.Context(), pageFrom(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func writeReviews(w http.ResponseWriter, r *http.Request, reviews []review.Review, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reviews == nil {
		reviews = []review.Review{}
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (h *handler) bookReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.app.Reviews.ForBook(r.Context(), pathVar(r, "bookId"))
	writeReviews(w, r, reviews, err)
}

func (h *handler) reviewStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Reviews.Stats(r.Context(), pathVar(r, "bookId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) myReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.app.Reviews.ByPatron(r.Context(), callerID(r))
	writeReviews(w, r, reviews, err)
}

func (h *handler) patronReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.app.Reviews.ByPatron(r.Context(), pathVar(r, "id"))
	writeReviews(w, r, reviews, err)
}

func (h *handler) loanReview(w http.ResponseWriter, r *http.Request) {
	rv, err := h.app.Reviews.ByLoan(r.Context(), pathVar(r, "loanId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

func (h *handler) canReview(w http.ResponseWriter, r *http.Request) {
	bookID := r.URL.Query().Get("bookId")
	if bookID == "" {
		writeError(w, r, svcerrors.InvalidInput("bookId is required"))
		return
	}
	ok, err := h.app.Reviews.CanReview(r.Context(), callerID(r), bookID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"canReview": ok})
}

func (h *handler) createReview(w http.ResponseWriter, r *http.Request) {
	var in struct {
		BookID  string `json:"bookId"`
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	rv, err := h.app.Reviews.Create(r.Context(), callerID(r), in.BookID, in.Rating, in.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rv)
}

func (h *handler) approveReview(w http.ResponseWriter, r *http.Request) {
	rv, err := h.app.Reviews.Approve(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

// deleteReview lets authors withdraw their own review; staff may delete any.
func (h *handler) deleteReview(w http.ResponseWriter, r *http.Request) {
	rv, err := h.app.Reviews.Get(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := ownerOrStaff(r, rv.PatronID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.app.Reviews.Delete(r.Context(), rv.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/qltv/library_service/internal/app/domain/inventory"
	inventorysvc "github.com/qltv/library_service/internal/app/services/inventory"
	svcerrors "github.com/qltv/library_service/internal/errors"
)

func (h *handler) registerCopies(api *mux.Router) {
	copies := api.PathPrefix("/book-copies").Subrouter()
	copies.HandleFunc("/book/{bookId}", h.copiesOfBook).Methods(http.MethodGet)
	copies.HandleFunc("/book/{bookId}/available", h.availableCopies).Methods(http.MethodGet)
	copies.HandleFunc("/book/{bookId}/available/count", h.countAvailable).Methods(http.MethodGet)

	copies.Handle("", roles(h.listCopies, staff...)).Methods(http.MethodGet)
	copies.Handle("/maintenance", roles(h.maintenance, staff...)).Methods(http.MethodGet)
	copies.Handle("/barcode/{barcode}", roles(h.copyByBarcode, staff...)).Methods(http.MethodGet)
	copies.Handle("/book/{bookId}", roles(h.createCopy, staff...)).Methods(http.MethodPost)
	copies.Handle("/book/{bookId}/bulk", roles(h.createCopies, staff...)).Methods(http.MethodPost)
	copies.Handle("/{id}", roles(getHandler(h.app.Inventory.GetCopy), staff...)).Methods(http.MethodGet)
	copies.Handle("/{id}", roles(updateHandler(h.app.Inventory.UpdateCopy), staff...)).Methods(http.MethodPut)
	copies.Handle("/{id}/status", roles(h.setCopyStatus, staff...)).Methods(http.MethodPut)
	copies.Handle("/{id}", roles(deleteHandler(h.app.Inventory.DeleteCopy), staff...)).Methods(http.MethodDelete)
}

func (h *handler) copiesOfBook(w http.ResponseWriter, r *http.Request) {
	copies, err := h.app.Inventory.ListCopies(r.Context(), pathVar(r, "bookId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, copies)
}

func (h *handler) availableCopies(w http.ResponseWriter, r *http.Request) {
	copies, err := h.app.Inventory.AvailableCopies(r.Context(), pathVar(r, "bookId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, copies)
}

func (h *handler) countAvailable(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Inventory.CountAvailable(r.Context(), pathVar(r, "bookId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *handler) listCopies(w http.ResponseWriter, r *http.Request) {
	var (
		copies []inventory.Copy
		err    error
	)
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := inventory.Status(strings.ToUpper(raw))
		if !status.Valid() {
			writeError(w, r, svcerrors.InvalidInputf("unknown copy status %q", raw))
			return
		}
		copies, err = h.app.Inventory.ListByStatus(r.Context(), status)
	} else {
		copies, err = h.app.Inventory.All(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, copies)
}

func (h *handler) maintenance(w http.ResponseWriter, r *http.Request) {
	copies, err := h.app.Inventory.NeedingMaintenance(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, copies)
}

func (h *handler) copyByBarcode(w http.ResponseWriter, r *http.Request) {
	c, err := h.app.Inventory.GetByBarcode(r.Context(), pathVar(r, "barcode"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) createCopy(w http.ResponseWriter, r *http.Request) {
	var in inventorysvc.CopyInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.app.Inventory.CreateCopy(r.Context(), pathVar(r, "bookId"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *handler) createCopies(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Quantity      int    `json:"quantity"`
		Location      string `json:"location"`
		PurchasePrice int64  `json:"purchasePrice"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	copies, err := h.app.Inventory.CreateCopies(r.Context(), pathVar(r, "bookId"), in.Quantity, in.Location, in.PurchasePrice)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, copies)
}

func (h *handler) setCopyStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status inventory.Status `json:"status"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.app.Inventory.SetStatus(r.Context(), pathVar(r, "id"), in.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

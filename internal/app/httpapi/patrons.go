package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/qltv/library_service/internal/app/domain/patron"
	"github.com/qltv/library_service/internal/app/services/accounts"
	"github.com/qltv/library_service/internal/app/services/patrons"
	"github.com/qltv/library_service/internal/app/storage"
	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/internal/middleware"
)

func (h *handler) registerAuth(api *mux.Router) {
	api.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)

	api.Handle("/me", authed(h.me)).Methods(http.MethodGet)
	api.Handle("/me", authed(h.updateMe)).Methods(http.MethodPut)
	api.Handle("/me/password", authed(h.changePassword)).Methods(http.MethodPut)
	api.Handle("/me/statistics", authed(h.myStatistics)).Methods(http.MethodGet)
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var in accounts.Registration
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.app.Accounts.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := h.app.Accounts.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Patrons.Get(r.Context(), callerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) updateMe(w http.ResponseWriter, r *http.Request) {
	var in patrons.Profile
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.app.Patrons.UpdateProfile(r.Context(), callerID(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.app.Patrons.ChangePassword(r.Context(), callerID(r), in.CurrentPassword, in.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) myStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Patrons.Statistics(r.Context(), callerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// admin patron management ------------------------------------------------------

func (h *handler) registerPatrons(api *mux.Router) {
	users := api.PathPrefix("/admin/users").Subrouter()
	users.Use(middleware.RequireRole(admin...))
	users.HandleFunc("", h.listPatrons).Methods(http.MethodGet)
	users.HandleFunc("", h.createStaff).Methods(http.MethodPost)
	users.HandleFunc("/search", h.searchPatrons).Methods(http.MethodGet)
	users.HandleFunc("/bulk/role", h.bulkRole).Methods(http.MethodPut)
	users.HandleFunc("/bulk/deactivate", h.bulkDeactivate).Methods(http.MethodPut)
	users.HandleFunc("/email/{email}", h.patronByEmail).Methods(http.MethodGet)
	users.HandleFunc("/{id}", h.getPatron).Methods(http.MethodGet)
	users.HandleFunc("/{id}", h.deletePatron).Methods(http.MethodDelete)
	users.HandleFunc("/{id}/role", h.updateRole).Methods(http.MethodPut)
	users.HandleFunc("/{id}/activate", h.patronAction(h.app.Patrons.Activate)).Methods(http.MethodPut)
	users.HandleFunc("/{id}/deactivate", h.patronAction(h.app.Patrons.Deactivate)).Methods(http.MethodPut)
	users.HandleFunc("/{id}/toggle-status", h.patronAction(h.app.Patrons.ToggleStatus)).Methods(http.MethodPut)
	users.HandleFunc("/{id}/statistics", h.patronStatistics).Methods(http.MethodGet)
}

func (h *handler) listPatrons(w http.ResponseWriter, r *http.Request) {
	active, err := boolQuery(r, "active")
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter := storage.PatronFilter{
		Query:  r.URL.Query().Get("q"),
		Role:   patron.Role(r.URL.Query().Get("role")),
		Active: active,
	}
	if filter.Role != "" && !filter.Role.Valid() {
		writeError(w, r, svcerrors.InvalidInputf("unknown role %q", filter.Role))
		return
	}
	page, err := h.app.Patrons.List(r.Context(), filter, pageFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) searchPatrons(w http.ResponseWriter, r *http.Request) {
	page, err := h.app.Patrons.Search(r.Context(), r.URL.Query().Get("q"), pageFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) createStaff(w http.ResponseWriter, r *http.Request) {
	var in struct {
		accounts.Registration
		Role patron.Role `json:"role"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.app.Accounts.CreateStaff(r.Context(), in.Registration, in.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handler) getPatron(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Patrons.Get(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) patronByEmail(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Patrons.GetByEmail(r.Context(), pathVar(r, "email"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) deletePatron(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	if id == callerID(r) {
		writeError(w, r, svcerrors.InvalidInput("cannot delete your own account"))
		return
	}
	if err := h.app.Patrons.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) updateRole(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Role patron.Role `json:"role"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.app.Patrons.UpdateRole(r.Context(), pathVar(r, "id"), in.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) patronAction(fn func(ctx context.Context, id string) (patron.Patron, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := fn(r.Context(), pathVar(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (h *handler) bulkRole(w http.ResponseWriter, r *http.Request) {
	var in struct {
		IDs  []string    `json:"userIds"`
		Role patron.Role `json:"role"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.app.Patrons.BulkUpdateRole(r.Context(), in.IDs, in.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) bulkDeactivate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		IDs []string `json:"userIds"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.app.Patrons.BulkDeactivate(r.Context(), in.IDs))
}

func (h *handler) patronStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Patrons.Statistics(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

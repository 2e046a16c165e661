package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/qltv/library_service/internal/app/domain/membership"
	membershipsvc "github.com/qltv/library_service/internal/app/services/membership"
	"github.com/qltv/library_service/internal/middleware"
)

func (h *handler) registerMembership(api *mux.Router) {
	m := api.PathPrefix("/membership").Subrouter()
	m.HandleFunc("/tiers", h.tiers).Methods(http.MethodGet)
	m.HandleFunc("/tiers/level/{level}", h.tierByLevel).Methods(http.MethodGet)
	m.HandleFunc("/tiers/{id}", getHandler(h.app.Membership.Tier)).Methods(http.MethodGet)
	m.Handle("/me", authed(h.myMembership)).Methods(http.MethodGet)
	m.Handle("/me/policy", authed(h.myPolicy)).Methods(http.MethodGet)

	adm := m.NewRoute().Subrouter()
	adm.Use(middleware.RequireRole(admin...))
	adm.HandleFunc("", h.listMemberships).Methods(http.MethodGet)
	adm.HandleFunc("/distribution", h.membershipDistribution).Methods(http.MethodGet)
	adm.HandleFunc("/tiers/{id}", updateHandler(h.app.Membership.UpdateTier)).Methods(http.MethodPut)
	adm.HandleFunc("/tiers/{id}/members", h.tierMembers).Methods(http.MethodGet)
	adm.HandleFunc("/patron/{id}", getHandler(h.app.Membership.Get)).Methods(http.MethodGet)
	adm.HandleFunc("/patron/{id}", h.createMembership).Methods(http.MethodPost)
	adm.HandleFunc("/patron/{id}", h.updateMembership).Methods(http.MethodPut)
	adm.HandleFunc("/patron/{id}/points", h.addPoints).Methods(http.MethodPost)
	adm.HandleFunc("/patron/{id}/violations", h.recordViolation).Methods(http.MethodPost)
	adm.HandleFunc("/patron/{id}/upgrade", h.upgradeMembership).Methods(http.MethodPut)
}

func (h *handler) tiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.app.Membership.Tiers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tiers)
}

func (h *handler) tierByLevel(w http.ResponseWriter, r *http.Request) {
	level := membership.Level(strings.ToUpper(pathVar(r, "level")))
	tier, err := h.app.Membership.TierByLevel(r.Context(), level)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tier)
}

func (h *handler) myMembership(w http.ResponseWriter, r *http.Request) {
	m, err := h.app.Membership.Get(r.Context(), callerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *handler) myPolicy(w http.ResponseWriter, r *http.Request) {
	tier, err := h.app.Membership.PolicyFor(r.Context(), callerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tier)
}

func (h *handler) listMemberships(w http.ResponseWriter, r *http.Request) {
	all, err := h.app.Membership.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *handler) membershipDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := h.app.Membership.Distribution(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

func (h *handler) tierMembers(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Membership.TierMemberCount(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *handler) createMembership(w http.ResponseWriter, r *http.Request) {
	m, err := h.app.Membership.Create(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *handler) updateMembership(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Points     *int `json:"currentPoints"`
		Loans      *int `json:"totalLoans"`
		Violations *int `json:"violationCount"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := h.app.Membership.Update(r.Context(), pathVar(r, "id"), membershipsvc.Changes{
		Points:     in.Points,
		Loans:      in.Loans,
		Violations: in.Violations,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *handler) addPoints(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Points int `json:"points"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := h.app.Membership.AddPoints(r.Context(), pathVar(r, "id"), in.Points)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *handler) recordViolation(w http.ResponseWriter, r *http.Request) {
	m, err := h.app.Membership.RecordViolation(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *handler) upgradeMembership(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TierID string `json:"tierId"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := h.app.Membership.Upgrade(r.Context(), pathVar(r, "id"), in.TierID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

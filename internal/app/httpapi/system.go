package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/qltv/library_service/internal/app/services/assistant"
	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/internal/middleware"
)

func (h *handler) registerSystem(api *mux.Router) {
	adm := api.PathPrefix("/admin").Subrouter()
	adm.Use(middleware.RequireRole(admin...))
	adm.HandleFunc("/health", h.systemHealth).Methods(http.MethodGet)
	adm.HandleFunc("/jobs", h.listJobs).Methods(http.MethodGet)
	adm.HandleFunc("/jobs/{name}/run", h.runJob).Methods(http.MethodPost)
	adm.HandleFunc("/audit", h.auditEntries).Methods(http.MethodGet)

	api.Handle("/assistant/chat", authed(h.chat)).Methods(http.MethodPost)
	api.Handle("/notifications/recent", roles(h.recentNotifications, staff...)).Methods(http.MethodGet)
	api.Handle("/ws/notifications", roles(h.app.Hub.ServeWS, staff...)).Methods(http.MethodGet)
}

func (h *handler) systemHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Reports.SystemHealth(r.Context()))
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Jobs.Jobs())
}

func (h *handler) runJob(w http.ResponseWriter, r *http.Request) {
	name := pathVar(r, "name")
	known := false
	for _, j := range h.app.Jobs.Jobs() {
		if j.Name == name {
			known = true
			break
		}
	}
	if !known {
		writeError(w, r, svcerrors.NotFound("job", name))
		return
	}
	if err := h.app.Jobs.RunNow(r.Context(), name); err != nil {
		writeError(w, r, svcerrors.Internal("job "+name+" failed", err))
		return
	}
	for _, j := range h.app.Jobs.Jobs() {
		if j.Name == name {
			writeJSON(w, http.StatusOK, j)
			return
		}
	}
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.audit.recent(intQuery(r, "limit", 0)))
}

func (h *handler) chat(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Message string           `json:"message"`
		History []assistant.Turn `json:"history"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	reply, err := h.app.Assistant.Chat(r.Context(), in.Message, in.History)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *handler) recentNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Hub.Recent(intQuery(r, "limit", 20)))
}

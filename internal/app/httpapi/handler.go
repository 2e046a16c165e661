// Package httpapi exposes the library services over a JSON REST API.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/qltv/library_service/internal/app"
	"github.com/qltv/library_service/internal/app/domain/patron"
	"github.com/qltv/library_service/internal/app/metrics"
	"github.com/qltv/library_service/internal/app/storage"
	svcerrors "github.com/qltv/library_service/internal/errors"
	internalhttputil "github.com/qltv/library_service/internal/httputil"
	"github.com/qltv/library_service/internal/middleware"
	"github.com/qltv/library_service/pkg/logger"
)

// Options configures the HTTP surface.
type Options struct {
	CORSOrigins []string
	RateLimit   float64
	RateBurst   int
	// RateLimiter overrides RateLimit and RateBurst so callers can run its cleanup loop.
	RateLimiter *middleware.RateLimiter
	// TrustedProxies may set X-Forwarded-For; everyone else is keyed by socket address.
	TrustedProxies internalhttputil.TrustedProxies

	AuditSize int
	AuditPath string

	// UploadsDir is served under UploadsPrefix when covers are stored locally.
	UploadsDir    string
	UploadsPrefix string

	Log *logger.Logger
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditTrail
	log   *logger.Logger
}

var (
	staff = []string{string(patron.RoleLibrarian), string(patron.RoleAdmin)}
	admin = []string{string(patron.RoleAdmin)}
)

// NewHandler returns the router wrapped in tracing, CORS, authentication and
// rate limiting.
func NewHandler(application *app.Application, opts Options) (http.Handler, error) {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("http")
	}
	sink, err := openAuditSink(opts.AuditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	h := &handler{app: application, audit: newAuditTrail(opts.AuditSize, sink, log.Component("audit")), log: log}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		internalhttputil.WriteErrorResponse(w, req, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		internalhttputil.WriteErrorResponse(w, req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})
	r.Use(metrics.Middleware)
	r.Use(h.auditMiddleware)

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	if opts.UploadsDir != "" {
		prefix := "/" + strings.Trim(opts.UploadsPrefix, "/") + "/"
		r.PathPrefix(prefix).Handler(http.StripPrefix(prefix, http.FileServer(http.Dir(opts.UploadsDir)))).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	h.registerAuth(api)
	h.registerCatalog(api)
	h.registerCopies(api)
	h.registerLoans(api)
	h.registerPayments(api)
	h.registerMembership(api)
	h.registerReviews(api)
	h.registerPatrons(api)
	h.registerReports(api)
	h.registerSystem(api)

	limiter := opts.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(opts.RateLimit, opts.RateBurst, log.Component("ratelimit"))
	}

	var chain http.Handler = r
	chain = limiter.Handler(chain)
	chain = middleware.NewAuthMiddleware(application.Tokens, log.Component("auth")).Handler(chain)
	chain = middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(chain)
	chain = middleware.NewClientIPMiddleware(opts.TrustedProxies).Handler(chain)
	chain = middleware.NewTracingMiddleware(log).Handler(chain)
	return chain, nil
}

// route helpers ---------------------------------------------------------------

func authed(fn http.HandlerFunc) http.Handler {
	return middleware.RequireUserID(fn)
}

func roles(fn http.HandlerFunc, allowed ...string) http.Handler {
	return middleware.RequireRole(allowed...)(fn)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"time":     time.Now().UTC(),
		"services": h.app.Services(),
	})
}

// request helpers -------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	internalhttputil.WriteJSON(w, status, v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	internalhttputil.WriteError(w, r, err)
}

func decode(r *http.Request, dst interface{}) error {
	return internalhttputil.DecodeJSON(r.Body, dst)
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func callerID(r *http.Request) string {
	return middleware.GetUserID(r.Context())
}

func callerIsStaff(r *http.Request) bool {
	return patron.Role(middleware.GetUserRole(r.Context())).IsStaff()
}

// ownerOrStaff admits the patron named by id or any staff member.
func ownerOrStaff(r *http.Request, id string) error {
	if callerIsStaff(r) || callerID(r) == id {
		return nil
	}
	return svcerrors.Forbidden("not allowed to access another patron's data")
}

func pageFrom(r *http.Request) storage.Page {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))
	return storage.Page{Page: page, Size: size}.Normalize()
}

func intQuery(r *http.Request, name string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil {
		return v
	}
	return fallback
}

func boolQuery(r *http.Request, name string) (*bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, svcerrors.InvalidInputf("%s must be true or false", name)
	}
	return &v, nil
}

func dateQuery(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, svcerrors.InvalidInputf("%s must be formatted YYYY-MM-DD", name)
	}
	return t, nil
}

func clientIP(r *http.Request) string {
	return internalhttputil.ClientIP(r)
}

type pageFunc[T any] func(context.Context, storage.Page) (storage.PageResult[T], error)

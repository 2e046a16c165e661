package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/qltv/library_service/internal/app/domain/patron"
	"github.com/qltv/library_service/internal/middleware"
	"github.com/qltv/library_service/pkg/logger"
)

const defaultAuditSize = 200

// auditEntry records one mutating request made by a librarian or admin.
type auditEntry struct {
	At       time.Time `json:"at"`
	Actor    string    `json:"actor"`
	Role     string    `json:"role"`
	Method   string    `json:"method"`
	Path     string    `json:"path"`
	Resource string    `json:"resource"`
	Status   int       `json:"status"`
	TraceID  string    `json:"traceId,omitempty"`
	ClientIP string    `json:"clientIp,omitempty"`
}

// auditTrail keeps the newest staff mutations in a fixed ring and mirrors each
// one to an optional sink.
type auditTrail struct {
	mu    sync.Mutex
	slots []auditEntry
	next  int
	full  bool
	sink  auditSink
	log   *logger.Logger
}

type auditSink interface {
	Append(entry auditEntry) error
}

func newAuditTrail(size int, sink auditSink, log *logger.Logger) *auditTrail {
	if size <= 0 {
		size = defaultAuditSize
	}
	if log == nil {
		log = logger.NewDefault("audit")
	}
	return &auditTrail{slots: make([]auditEntry, size), sink: sink, log: log}
}

func (a *auditTrail) record(entry auditEntry) {
	a.mu.Lock()
	a.slots[a.next] = entry
	a.next = (a.next + 1) % len(a.slots)
	if a.next == 0 {
		a.full = true
	}
	a.mu.Unlock()

	if a.sink == nil {
		return
	}
	if err := a.sink.Append(entry); err != nil {
		a.log.WithError(err).Warn("append audit entry")
	}
}

// recent returns up to limit entries, oldest first. A non-positive limit
// returns everything retained.
func (a *auditTrail) recent(limit int) []auditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	held := a.next
	start := 0
	if a.full {
		held = len(a.slots)
		start = a.next
	}
	if limit <= 0 || limit > held {
		limit = held
	}
	out := make([]auditEntry, 0, limit)
	for i := held - limit; i < held; i++ {
		out = append(out, a.slots[(start+i)%len(a.slots)])
	}
	return out
}

// auditMiddleware records mutations performed by staff accounts.
func (h *handler) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := patron.Role(middleware.GetUserRole(r.Context()))
		if !role.IsStaff() || !mutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		h.audit.record(auditEntry{
			At:       time.Now().UTC(),
			Actor:    middleware.GetUserID(r.Context()),
			Role:     string(role),
			Method:   r.Method,
			Path:     r.URL.Path,
			Resource: auditResource(r.URL.Path),
			Status:   sw.status,
			TraceID:  logger.GetTraceID(r.Context()),
			ClientIP: clientIP(r),
		})
	})
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// auditResource names the collection a path belongs to, e.g. "loans" for
// /api/loans/42/return.
func auditResource(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > 0 && parts[0] == "api" {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return ""
	}
	if parts[0] == "admin" && len(parts) > 1 {
		return parts[1]
	}
	return parts[0]
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// jsonlAuditSink appends one JSON document per line.
type jsonlAuditSink struct {
	mu  sync.Mutex
	enc *json.Encoder
	f   *os.File
}

// openAuditSink returns a nil sink when path is empty.
func openAuditSink(path string) (auditSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &jsonlAuditSink{enc: json.NewEncoder(f), f: f}, nil
}

func (s *jsonlAuditSink) Append(entry auditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(entry)
}

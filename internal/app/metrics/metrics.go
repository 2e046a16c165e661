package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "library",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "library",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	loanEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "loans",
			Name:      "events_total",
			Help:      "Loan lifecycle transitions by event.",
		},
		[]string{"event"},
	)

	finesAssessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "loans",
			Name:      "fines_assessed_vnd_total",
			Help:      "Total fines assessed on returned or overdue loans, in VND.",
		},
	)

	overdueSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "loans",
			Name:      "overdue_sweeps_total",
			Help:      "Overdue sweeps executed.",
		},
	)

	overdueMarked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "loans",
			Name:      "overdue_updates_total",
			Help:      "Loans marked overdue or re-fined by sweeps.",
		},
	)

	payments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "payments",
			Name:      "total",
			Help:      "Payments by method and resulting status.",
		},
		[]string{"method", "status"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Scheduled job runs by job and outcome.",
		},
		[]string{"job", "success"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "library",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"job"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		loanEvents,
		finesAssessed,
		overdueSweeps,
		overdueMarked,
		payments,
		jobRuns,
		jobDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records HTTP metrics labelled with the mux route template.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordLoanEvent counts a loan transition such as borrowed or returned.
func RecordLoanEvent(event string) {
	loanEvents.WithLabelValues(event).Inc()
}

// RecordFine adds an assessed fine.
func RecordFine(amount int64) {
	if amount > 0 {
		finesAssessed.Add(float64(amount))
	}
}

// RecordPayment counts a payment outcome.
func RecordPayment(method, status string) {
	payments.WithLabelValues(method, status).Inc()
}

// RecordOverdueSweep counts one sweep and the loans it changed.
func RecordOverdueSweep(changed int) {
	overdueSweeps.Inc()
	if changed > 0 {
		overdueMarked.Add(float64(changed))
	}
}

// RecordJobRun records metrics for a scheduled job run.
func RecordJobRun(job string, duration time.Duration, success bool) {
	if job == "" {
		job = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// canonicalPath prefers the route template so ids do not explode label
// cardinality.
func canonicalPath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

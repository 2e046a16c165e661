// Package jobs runs the periodic library maintenance tasks.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/domain/payment"
	"github.com/qltv/library_service/internal/app/metrics"
	"github.com/qltv/library_service/internal/config"
	"github.com/qltv/library_service/pkg/logger"
)

const (
	JobOverdueSweep  = "overdue-sweep"
	JobPaymentExpiry = "payment-expiry"
)

// Func is the body of a scheduled job.
type Func func(ctx context.Context) error

// Info describes a registered job and its last run.
type Info struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int       `json:"runs"`
	Next      time.Time `json:"next,omitempty"`
}

type job struct {
	info  Info
	fn    Func
	entry cron.EntryID
}

// Scheduler wraps a cron runner as a lifecycle service.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]*job
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	timeout time.Duration
	log     *logger.Logger
}

// New creates an empty scheduler.
func New(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("jobs")
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		jobs:    make(map[string]*job),
		timeout: 5 * time.Minute,
		log:     log,
	}
}

func (s *Scheduler) Name() string { return "jobs" }

// Register adds a job. Specs accept five field cron expressions and
// descriptors such as "@every 5m". An empty spec disables the job.
func (s *Scheduler) Register(name, spec string, fn Func) error {
	name = strings.TrimSpace(name)
	spec = strings.TrimSpace(spec)
	if name == "" || fn == nil {
		return fmt.Errorf("job name and function are required")
	}
	if spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("job %s: invalid schedule %q: %w", name, spec, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}
	j := &job{info: Info{Name: name, Spec: spec}, fn: fn}
	s.jobs[name] = j
	if s.running {
		return s.scheduleLocked(j)
	}
	return nil
}

// Start schedules every registered job. The context bounds job runs until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for _, j := range s.jobs {
		if err := s.scheduleLocked(j); err != nil {
			s.cancel()
			return err
		}
	}
	s.cron.Start()
	s.running = true
	s.log.WithField("jobs", len(s.jobs)).Info("job scheduler started")
	return nil
}

// Stop halts the scheduler and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	done := s.cron.Stop()
	cancel := s.cancel
	s.mu.Unlock()

	select {
	case <-done.Done():
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
	cancel()
	s.log.Info("job scheduler stopped")
	return nil
}

func (s *Scheduler) scheduleLocked(j *job) error {
	if j.info.Spec == "" {
		return nil
	}
	name := j.info.Name
	id, err := s.cron.AddFunc(j.info.Spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		_ = s.run(ctx, name)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	j.entry = id
	return nil
}

// RunNow executes a job synchronously regardless of its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not registered", name)
	}
	return s.run(ctx, name)
}

func (s *Scheduler) run(ctx context.Context, name string) error {
	s.mu.Lock()
	j := s.jobs[name]
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	err := j.fn(ctx)
	elapsed := time.Since(started)
	metrics.RecordJobRun(name, elapsed, err == nil)

	s.mu.Lock()
	j.info.LastRun = started.UTC()
	j.info.Runs++
	j.info.LastError = ""
	if err != nil {
		j.info.LastError = err.Error()
	}
	s.mu.Unlock()

	entry := s.log.WithField("job", name).WithField("duration", elapsed.String())
	if err != nil {
		entry.WithError(err).Warn("job failed")
		return err
	}
	entry.Debug("job completed")
	return nil
}

// Jobs lists the registered jobs by name.
func (s *Scheduler) Jobs() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := j.info
		if j.entry != 0 {
			info.Next = s.cron.Entry(j.entry).Next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// OverdueSweeper marks loans past due.
type OverdueSweeper interface {
	SweepOverdue(ctx context.Context) ([]loan.Loan, error)
}

// PaymentExpirer expires pending payments past their window.
type PaymentExpirer interface {
	ExpireStale(ctx context.Context) ([]payment.Payment, error)
}

// RegisterLibraryJobs adds the overdue sweep and payment expiry jobs.
func RegisterLibraryJobs(s *Scheduler, cfg config.JobsConfig, loans OverdueSweeper, payments PaymentExpirer) error {
	if loans != nil {
		err := s.Register(JobOverdueSweep, cfg.OverdueSweep, func(ctx context.Context) error {
			changed, err := loans.SweepOverdue(ctx)
			if err != nil {
				return err
			}
			metrics.RecordOverdueSweep(len(changed))
			if len(changed) > 0 {
				s.log.WithField("loans", len(changed)).Info("overdue loans updated")
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if payments != nil {
		err := s.Register(JobPaymentExpiry, cfg.PaymentExpiry, func(ctx context.Context) error {
			expired, err := payments.ExpireStale(ctx)
			if err != nil {
				return err
			}
			if len(expired) > 0 {
				s.log.WithField("payments", len(expired)).Info("stale payments expired")
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

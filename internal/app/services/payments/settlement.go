package payments

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/qltv/library_service/internal/app/domain/payment"
	"github.com/qltv/library_service/internal/app/storage"
	"github.com/qltv/library_service/internal/app/system"
	"github.com/qltv/library_service/internal/vnpay"
	"github.com/qltv/library_service/pkg/logger"
)

// Resolution is a resolver's verdict on one pending payment. A zero Status
// means the payment is still open and should be looked at again after
// RetryAfter.
type Resolution struct {
	Status     payment.Status
	Note       string
	RetryAfter time.Duration
}

// Settled reports whether the resolution closes the payment.
func (r Resolution) Settled() bool { return r.Status != "" }

// Resolver decides the outcome of a pending online payment.
type Resolver interface {
	Resolve(ctx context.Context, p payment.Payment) (Resolution, error)
}

// DeadlineResolver expires a payment once its pay URL window and the callback
// grace period have both passed since it was created. It uses the same
// deadline as Service.ExpireStale.
type DeadlineResolver struct {
	deadline time.Duration
	now      func() time.Time
}

// NewDeadlineResolver builds a resolver for pay URLs valid for window.
func NewDeadlineResolver(window time.Duration) *DeadlineResolver {
	if window <= 0 {
		window = defaultGatewayWindow
	}
	return &DeadlineResolver{deadline: window + gatewayGrace, now: time.Now}
}

func (r *DeadlineResolver) Resolve(_ context.Context, p payment.Payment) (Resolution, error) {
	left := p.CreatedAt.Add(r.deadline).Sub(r.now())
	if left > 0 {
		return Resolution{RetryAfter: left}, nil
	}
	return Resolution{Status: payment.StatusExpired, Note: "no gateway confirmation before the deadline"}, nil
}

// Querier looks a transaction up at the gateway.
type Querier interface {
	QueryTransaction(ctx context.Context, txnRef string, createdAt time.Time, clientIP string) (vnpay.QueryResult, error)
}

// QueryResolver asks the gateway's querydr API. Transactions the gateway does
// not report as final are handed to the fallback.
type QueryResolver struct {
	querier  Querier
	fallback Resolver
	retry    time.Duration
}

func NewQueryResolver(querier Querier, fallback Resolver) *QueryResolver {
	if fallback == nil {
		fallback = NewDeadlineResolver(0)
	}
	return &QueryResolver{querier: querier, fallback: fallback, retry: time.Minute}
}

func (r *QueryResolver) Resolve(ctx context.Context, p payment.Payment) (Resolution, error) {
	res, err := r.querier.QueryTransaction(ctx, p.OrderRef, p.CreatedAt, "")
	if errors.Is(err, vnpay.ErrQueryDisabled) {
		return r.fallback.Resolve(ctx, p)
	}
	if err != nil {
		return Resolution{RetryAfter: r.retry}, err
	}
	switch {
	case res.Paid():
		return Resolution{Status: payment.StatusConfirmed, Note: res.Message}, nil
	case res.ResponseCode == vnpay.ResponseSuccess && !res.Pending():
		return Resolution{Status: payment.StatusFailed, Note: "gateway status " + res.TransactionStatus}, nil
	default:
		// Pending at the gateway, or not known there yet.
		return r.fallback.Resolve(ctx, p)
	}
}

// SettlementPoller periodically resolves pending VNPay payments whose
// callbacks never arrived.
type SettlementPoller struct {
	store    storage.PaymentStore
	service  *Service
	resolver Resolver
	interval time.Duration
	log      *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	due     map[string]time.Time
}

var _ system.Service = (*SettlementPoller)(nil)

func NewSettlementPoller(store storage.PaymentStore, service *Service, resolver Resolver, interval time.Duration, log *logger.Logger) *SettlementPoller {
	if log == nil {
		log = logger.NewDefault("payment-settlement")
	}
	if resolver == nil {
		resolver = NewDeadlineResolver(0)
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SettlementPoller{
		store:    store,
		service:  service,
		resolver: resolver,
		interval: interval,
		log:      log,
		now:      time.Now,
		due:      make(map[string]time.Time),
	}
}

func (p *SettlementPoller) Name() string { return "payment-settlement" }

func (p *SettlementPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.stopped = make(chan struct{})
	go p.run(runCtx, p.stopped)
	p.log.WithField("interval", p.interval.String()).Info("payment settlement poller started")
	return nil
}

func (p *SettlementPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, stopped := p.cancel, p.stopped
	p.cancel, p.stopped = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *SettlementPoller) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep resolves every pending VNPay payment whose retry time has come.
func (p *SettlementPoller) sweep(ctx context.Context) {
	pending, err := p.store.ListPayments(ctx, storage.PaymentFilter{Method: payment.MethodVNPay, Status: payment.StatusPending})
	if err != nil {
		p.log.WithError(err).Warn("list pending payments")
		return
	}
	p.prune(pending)

	now := p.now()
	for _, pay := range pending {
		if !p.ready(pay.ID, now) {
			continue
		}
		entry := p.log.WithField("payment_id", pay.ID)

		res, err := p.resolver.Resolve(ctx, pay)
		if err != nil {
			entry.WithError(err).Warn("resolve pending payment")
			p.postpone(pay.ID, res.RetryAfter)
			continue
		}
		if !res.Settled() {
			p.postpone(pay.ID, res.RetryAfter)
			continue
		}

		settled, err := p.service.settle(ctx, pay.ID, res.Status, func(rec *payment.Payment) {
			if res.Status == payment.StatusConfirmed {
				rec.ConfirmedBy = "vnpay-query"
			}
			rec.Description = appendDescription(rec.Description, res.Note)
		})
		if err != nil {
			entry.WithError(err).Warn("settle pending payment")
			p.postpone(pay.ID, 0)
			continue
		}
		p.forget(pay.ID)
		entry.WithField("status", settled.Status).Info("pending payment resolved by poller")
	}
}

// prune drops retry times of payments that left the pending list, whoever
// settled them.
func (p *SettlementPoller) prune(pending []payment.Payment) {
	open := make(map[string]struct{}, len(pending))
	for _, pay := range pending {
		open[pay.ID] = struct{}{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.due {
		if _, ok := open[id]; !ok {
			delete(p.due, id)
		}
	}
}

func (p *SettlementPoller) ready(id string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.due[id]
	return !ok || !now.Before(at)
}

func (p *SettlementPoller) postpone(id string, after time.Duration) {
	if after <= 0 || after > p.interval*10 {
		after = p.interval
	}
	p.mu.Lock()
	p.due[id] = p.now().Add(after)
	p.mu.Unlock()
}

func (p *SettlementPoller) forget(id string) {
	p.mu.Lock()
	delete(p.due, id)
	p.mu.Unlock()
}

func appendDescription(desc, note string) string {
	switch {
	case note == "":
		return desc
	case desc == "":
		return note
	default:
		return desc + " (" + note + ")"
	}
}

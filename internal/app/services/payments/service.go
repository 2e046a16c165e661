package payments

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/domain/payment"
	"github.com/qltv/library_service/internal/app/metrics"
	"github.com/qltv/library_service/internal/app/realtime"
	"github.com/qltv/library_service/internal/app/storage"
	"github.com/qltv/library_service/internal/config"
	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/pkg/logger"
)

const (
	defaultGatewayWindow = 15 * time.Minute
	gatewayGrace         = 5 * time.Minute
)

// LoanSettler applies payment outcomes to loans.
type LoanSettler interface {
	Get(ctx context.Context, id string) (loan.Loan, error)
	Activate(ctx context.Context, loanID string) (loan.Loan, error)
	Abandon(ctx context.Context, loanID, reason string) (loan.Loan, error)
	MarkFinePaid(ctx context.Context, loanID string) (loan.Loan, error)
}

// Checkout is a created payment plus the gateway URL for online methods.
type Checkout struct {
	Payment    payment.Payment `json:"payment"`
	PaymentURL string          `json:"payment_url,omitempty"`
}

// Service records deposits and fines and settles them.
type Service struct {
	store   storage.PaymentStore
	loans   LoanSettler
	gateway Gateway
	window  time.Duration
	policy  *config.Policy
	events  realtime.Publisher
	log     *logger.Logger
	now     func() time.Time

	settleMu sync.Mutex
}

// New constructs the payment service. A nil policy uses the defaults.
func New(store storage.PaymentStore, loans LoanSettler, policy *config.Policy, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("payments")
	}
	if policy == nil {
		policy = config.DefaultPolicy()
	}
	return &Service{
		store:  store,
		loans:  loans,
		window: defaultGatewayWindow,
		policy: policy,
		events: realtime.NopPublisher{},
		log:    log,
		now:    time.Now,
	}
}

// AttachGateway enables VNPay payments. window bounds how long a pay URL stays
// valid.
func (s *Service) AttachGateway(g Gateway, window time.Duration) {
	s.gateway = g
	if window > 0 {
		s.window = window
	}
}

// AttachPublisher routes payment events to p.
func (s *Service) AttachPublisher(p realtime.Publisher) {
	if p != nil {
		s.events = p
	}
}

// CreateDeposit opens the deposit of a loan awaiting payment.
func (s *Service) CreateDeposit(ctx context.Context, l loan.Loan, method payment.Method, clientIP string) (payment.Payment, string, error) {
	if l.Status != loan.StatusPendingPayment {
		return payment.Payment{}, "", svcerrors.Conflict("loan is not awaiting payment")
	}
	out, err := s.open(ctx, payment.Payment{
		LoanID:      l.ID,
		PatronID:    l.PatronID,
		Kind:        payment.KindDeposit,
		Amount:      s.policy.DepositAmount,
		Method:      method,
		Description: "Deposit for loan " + l.ID,
	}, clientIP)
	if err != nil {
		return payment.Payment{}, "", err
	}
	return out.Payment, out.PaymentURL, nil
}

// PayFine opens a payment for the outstanding fine of a returned loan. An
// empty patronID skips the ownership check.
func (s *Service) PayFine(ctx context.Context, loanID, patronID string, method payment.Method, clientIP string) (Checkout, error) {
	l, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return Checkout{}, err
	}
	if patronID != "" && l.PatronID != patronID {
		return Checkout{}, svcerrors.Forbidden("loan belongs to another patron")
	}
	if l.Status != loan.StatusReturned || l.OutstandingFine() <= 0 {
		return Checkout{}, svcerrors.Conflict("loan has no outstanding fine")
	}
	pending, err := s.store.ListPayments(ctx, storage.PaymentFilter{LoanID: loanID, Kind: payment.KindFine, Status: payment.StatusPending})
	if err != nil {
		return Checkout{}, err
	}
	if len(pending) > 0 {
		return Checkout{}, svcerrors.Conflict("a fine payment is already pending").WithDetails("payment_id", pending[0].ID)
	}
	return s.open(ctx, payment.Payment{
		LoanID:      l.ID,
		PatronID:    l.PatronID,
		Kind:        payment.KindFine,
		Amount:      l.OutstandingFine(),
		Method:      method,
		Description: "Fine for loan " + l.ID,
	}, clientIP)
}

func (s *Service) open(ctx context.Context, p payment.Payment, clientIP string) (Checkout, error) {
	p.Method = payment.Method(strings.ToUpper(string(p.Method)))
	if !p.Method.Valid() {
		return Checkout{}, svcerrors.InvalidInputf("unsupported payment method %q", p.Method)
	}
	if p.Method == payment.MethodVNPay && s.gateway == nil {
		return Checkout{}, svcerrors.Unavailable("online payment is not configured", nil)
	}
	if p.Amount < 0 {
		return Checkout{}, svcerrors.InvalidInput("amount cannot be negative")
	}
	p.Status = payment.StatusPending
	created, err := s.store.CreatePayment(ctx, p)
	if err != nil {
		return Checkout{}, err
	}
	created.OrderRef = OrderRef(created, s.now())
	created, err = s.store.UpdatePayment(ctx, created)
	if err != nil {
		return Checkout{}, err
	}

	if created.Amount == 0 {
		settled, err := s.settle(ctx, created.ID, payment.StatusConfirmed, func(p *payment.Payment) {
			p.ConfirmedBy = "system"
		})
		return Checkout{Payment: settled}, err
	}

	out := Checkout{Payment: created}
	if created.Method == payment.MethodVNPay {
		out.PaymentURL, err = s.PaymentURL(created, clientIP)
		if err != nil {
			if _, cerr := s.settle(ctx, created.ID, payment.StatusFailed, nil); cerr != nil {
				s.log.WithError(cerr).WithField("payment_id", created.ID).Warn("fail payment without url")
			}
			return Checkout{}, svcerrors.PaymentFailed("could not build payment url", err)
		}
	}
	metrics.RecordPayment(string(created.Method), string(created.Status))
	s.log.WithField("payment_id", created.ID).
		WithField("kind", created.Kind).
		WithField("method", created.Method).
		WithField("amount", created.Amount).
		Info("payment pending")
	s.events.Publish(ctx, realtime.EventPaymentPending, created)
	return out, nil
}

// ConfirmCash records that staff received cash for a pending payment.
func (s *Service) ConfirmCash(ctx context.Context, paymentID, staffID string) (payment.Payment, error) {
	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return payment.Payment{}, err
	}
	if p.Method != payment.MethodCash {
		return payment.Payment{}, svcerrors.Conflict("only cash payments can be confirmed at the desk")
	}
	if p.Status != payment.StatusPending {
		return payment.Payment{}, svcerrors.Conflict("payment is " + string(p.Status))
	}
	return s.settle(ctx, paymentID, payment.StatusConfirmed, func(p *payment.Payment) {
		p.ConfirmedBy = staffID
	})
}

// Cancel abandons a pending payment. Deposit loans are cancelled with it.
func (s *Service) Cancel(ctx context.Context, paymentID, actorID string) (payment.Payment, error) {
	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return payment.Payment{}, err
	}
	if p.Status != payment.StatusPending {
		return payment.Payment{}, svcerrors.Conflict("payment is " + string(p.Status))
	}
	s.log.WithField("payment_id", paymentID).WithField("actor", actorID).Info("payment cancelled")
	return s.settle(ctx, paymentID, payment.StatusCancelled, nil)
}

// CancelDeposits cancels the pending deposits of a loan. The loan itself is
// closed through the settlement of each deposit.
func (s *Service) CancelDeposits(ctx context.Context, loanID, reason string) error {
	pending, err := s.store.ListPayments(ctx, storage.PaymentFilter{LoanID: loanID, Kind: payment.KindDeposit, Status: payment.StatusPending})
	if err != nil {
		return err
	}
	for _, p := range pending {
		if _, err := s.settle(ctx, p.ID, payment.StatusCancelled, func(p *payment.Payment) {
			p.Description = appendDescription(p.Description, strings.TrimSpace(reason))
		}); err != nil {
			return err
		}
		s.log.WithField("payment_id", p.ID).WithField("loan_id", loanID).Info("deposit cancelled with its loan")
	}
	return nil
}

// ExpireStale expires pending payments older than their window.
func (s *Service) ExpireStale(ctx context.Context) ([]payment.Payment, error) {
	pending, err := s.store.ListPayments(ctx, storage.PaymentFilter{Status: payment.StatusPending})
	if err != nil {
		return nil, err
	}
	now := s.now()
	expired := make([]payment.Payment, 0)
	for _, p := range pending {
		if now.Sub(p.CreatedAt) <= s.expiryWindow(p.Method) {
			continue
		}
		out, err := s.settle(ctx, p.ID, payment.StatusExpired, nil)
		if err != nil {
			s.log.WithError(err).WithField("payment_id", p.ID).Warn("expire payment")
			continue
		}
		expired = append(expired, out)
	}
	if len(expired) > 0 {
		s.log.WithField("count", len(expired)).Info("stale payments expired")
	}
	return expired, nil
}

func (s *Service) expiryWindow(m payment.Method) time.Duration {
	if m == payment.MethodVNPay {
		return s.window + gatewayGrace
	}
	hours := s.policy.CashPaymentWindowHours
	if hours <= 0 {
		hours = 72
	}
	return time.Duration(hours) * time.Hour
}

// settle moves a pending payment to a final status and applies the outcome to
// its loan. Payments that are already final are returned unchanged.
func (s *Service) settle(ctx context.Context, paymentID string, status payment.Status, edit func(*payment.Payment)) (payment.Payment, error) {
	s.settleMu.Lock()
	defer s.settleMu.Unlock()

	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return payment.Payment{}, err
	}
	if p.Status.Final() {
		return p, nil
	}
	if status == payment.StatusConfirmed && p.Kind == payment.KindDeposit {
		if err := s.depositPayable(ctx, p); err != nil {
			return payment.Payment{}, err
		}
	}
	p.Status = status
	if edit != nil {
		edit(&p)
	}
	if status == payment.StatusConfirmed {
		at := s.now().UTC()
		p.ConfirmedAt = &at
	}
	p, err = s.store.UpdatePayment(ctx, p)
	if err != nil {
		return payment.Payment{}, storage.Translate(err, "payment", paymentID)
	}
	metrics.RecordPayment(string(p.Method), string(p.Status))

	entry := s.log.WithField("payment_id", p.ID).WithField("loan_id", p.LoanID).WithField("status", p.Status)
	if status == payment.StatusConfirmed {
		entry.Info("payment confirmed")
		s.events.Publish(ctx, realtime.EventPaymentConfirmed, p)
	} else {
		entry.Info("payment closed without settlement")
		s.events.Publish(ctx, realtime.EventPaymentFailed, p)
	}

	if err := s.applyToLoan(ctx, p); err != nil {
		entry.WithError(err).Error("apply payment outcome to loan")
		return p, err
	}
	return p, nil
}

// depositPayable refuses to confirm a deposit whose loan can no longer start.
func (s *Service) depositPayable(ctx context.Context, p payment.Payment) error {
	if s.loans == nil || p.LoanID == "" {
		return nil
	}
	l, err := s.loans.Get(ctx, p.LoanID)
	if err != nil {
		return err
	}
	if l.Status != loan.StatusPendingPayment && !l.Status.Active() {
		return svcerrors.Conflict("loan is "+string(l.Status)+"; deposit cannot be confirmed").
			WithDetails("payment_id", p.ID)
	}
	return nil
}

func (s *Service) applyToLoan(ctx context.Context, p payment.Payment) error {
	if s.loans == nil || p.LoanID == "" {
		return nil
	}
	var err error
	switch {
	case p.Status == payment.StatusConfirmed && p.Kind == payment.KindDeposit:
		_, err = s.loans.Activate(ctx, p.LoanID)
	case p.Status == payment.StatusConfirmed && p.Kind == payment.KindFine:
		_, err = s.loans.MarkFinePaid(ctx, p.LoanID)
	case p.Kind == payment.KindDeposit:
		_, err = s.loans.Abandon(ctx, p.LoanID, fmt.Sprintf("deposit %s %s", p.ID, strings.ToLower(string(p.Status))))
	}
	return err
}

// OrderRef builds the gateway reference of a payment.
func OrderRef(p payment.Payment, at time.Time) string {
	prefix := "LOAN"
	if p.Kind == payment.KindFine {
		prefix = "FINE"
	}
	return fmt.Sprintf("%s_%s_%d", prefix, p.ID, at.UnixMilli())
}

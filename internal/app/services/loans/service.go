package loans

import (
	"context"
	"strings"
	"time"

	"github.com/qltv/library_service/internal/app/domain/catalog"
	"github.com/qltv/library_service/internal/app/domain/inventory"
	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/domain/membership"
	"github.com/qltv/library_service/internal/app/domain/patron"
	"github.com/qltv/library_service/internal/app/domain/payment"
	"github.com/qltv/library_service/internal/app/metrics"
	"github.com/qltv/library_service/internal/app/realtime"
	"github.com/qltv/library_service/internal/app/storage"
	"github.com/qltv/library_service/internal/config"
	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/pkg/logger"
)

// CopyKeeper moves copies in and out of circulation.
type CopyKeeper interface {
	Claim(ctx context.Context, bookID string, to inventory.Status) (inventory.Copy, error)
	Transition(ctx context.Context, copyID string, from, to inventory.Status) (inventory.Copy, error)
	MarkDamaged(ctx context.Context, copyID, notes string) (inventory.Copy, error)
}

// MembershipLedger supplies lending limits and records borrowing history.
type MembershipLedger interface {
	PolicyFor(ctx context.Context, patronID string) (membership.Tier, error)
	RecordLoan(ctx context.Context, patronID string) (membership.Membership, error)
	AddPoints(ctx context.Context, patronID string, points int) (membership.Membership, error)
	RecordViolation(ctx context.Context, patronID string) (membership.Membership, error)
}

// DepositIssuer opens the deposit payment of a pending loan and returns the
// gateway URL when the method needs one. CancelDeposits closes every pending
// deposit of a loan.
type DepositIssuer interface {
	CreateDeposit(ctx context.Context, l loan.Loan, method payment.Method, clientIP string) (payment.Payment, string, error)
	CancelDeposits(ctx context.Context, loanID, reason string) error
}

// Checkout is the result of a borrow that waits for a deposit.
type Checkout struct {
	Loan       loan.Loan       `json:"loan"`
	Payment    payment.Payment `json:"payment"`
	PaymentURL string          `json:"payment_url,omitempty"`
}

// Service implements the loan lifecycle.
type Service struct {
	loans    storage.LoanStore
	patrons  storage.PatronStore
	books    storage.CatalogStore
	copies   CopyKeeper
	members  MembershipLedger
	deposits DepositIssuer
	policy   *config.Policy
	events   realtime.Publisher
	log      *logger.Logger
	now      func() time.Time
}

// New constructs the loan service. A nil policy uses the defaults.
func New(loans storage.LoanStore, patrons storage.PatronStore, books storage.CatalogStore, copies CopyKeeper, members MembershipLedger, policy *config.Policy, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("loans")
	}
	if policy == nil {
		policy = config.DefaultPolicy()
	}
	return &Service{
		loans:   loans,
		patrons: patrons,
		books:   books,
		copies:  copies,
		members: members,
		policy:  policy,
		events:  realtime.NopPublisher{},
		log:     log,
		now:     time.Now,
	}
}

// AttachDeposits enables BorrowWithPayment.
func (s *Service) AttachDeposits(d DepositIssuer) {
	s.deposits = d
}

// AttachPublisher routes loan events to p.
func (s *Service) AttachPublisher(p realtime.Publisher) {
	if p != nil {
		s.events = p
	}
}

// CheckEligibility reports why patronID may not borrow bookID, or nil.
func (s *Service) CheckEligibility(ctx context.Context, bookID, patronID string) error {
	_, _, err := s.eligible(ctx, bookID, patronID)
	return err
}

// Borrow lends a copy at the desk. The loan starts immediately.
func (s *Service) Borrow(ctx context.Context, bookID, patronID string) (loan.Loan, error) {
	_, tier, err := s.eligible(ctx, bookID, patronID)
	if err != nil {
		return loan.Loan{}, err
	}
	c, err := s.copies.Claim(ctx, bookID, inventory.StatusBorrowed)
	if err != nil {
		return loan.Loan{}, err
	}
	today := s.today()
	l, err := s.loans.CreateLoan(ctx, loan.Loan{
		BookID:   bookID,
		CopyID:   c.ID,
		PatronID: patronID,
		LoanDate: today,
		DueDate:  today.AddDate(0, 0, s.loanDays(tier)),
		Status:   loan.StatusBorrowed,
	})
	if err != nil {
		s.releaseCopy(ctx, c.ID, inventory.StatusBorrowed)
		return loan.Loan{}, err
	}
	s.recordLoan(ctx, l)
	s.log.WithField("loan_id", l.ID).
		WithField("patron_id", patronID).
		WithField("copy_id", c.ID).
		Info("loan created at desk")
	s.emit(ctx, realtime.EventLoanBorrowed, "borrowed", l)
	return l, nil
}

// BorrowWithPayment holds a copy and opens the deposit. The loan becomes
// active once the deposit is confirmed.
func (s *Service) BorrowWithPayment(ctx context.Context, bookID, patronID string, method payment.Method, clientIP string) (Checkout, error) {
	method = payment.Method(strings.ToUpper(string(method)))
	if !method.Valid() {
		return Checkout{}, svcerrors.InvalidInputf("unsupported payment method %q", method)
	}
	if s.deposits == nil {
		return Checkout{}, svcerrors.Unavailable("payments are not configured", nil)
	}
	_, tier, err := s.eligible(ctx, bookID, patronID)
	if err != nil {
		return Checkout{}, err
	}
	c, err := s.copies.Claim(ctx, bookID, inventory.StatusReserved)
	if err != nil {
		return Checkout{}, err
	}
	today := s.today()
	l, err := s.loans.CreateLoan(ctx, loan.Loan{
		BookID:   bookID,
		CopyID:   c.ID,
		PatronID: patronID,
		LoanDate: today,
		DueDate:  today.AddDate(0, 0, s.loanDays(tier)),
		Status:   loan.StatusPendingPayment,
	})
	if err != nil {
		s.releaseCopy(ctx, c.ID, inventory.StatusReserved)
		return Checkout{}, err
	}

	p, url, err := s.deposits.CreateDeposit(ctx, l, method, clientIP)
	if err != nil {
		if _, cerr := s.Abandon(ctx, l.ID, "deposit could not be created"); cerr != nil {
			s.log.WithError(cerr).WithField("loan_id", l.ID).Warn("cancel loan after deposit failure")
		}
		return Checkout{}, err
	}
	// A zero deposit settles at once and activates the loan.
	if p.Status != payment.StatusPending {
		if l, err = s.Get(ctx, l.ID); err != nil {
			return Checkout{}, err
		}
	}
	s.log.WithField("loan_id", l.ID).
		WithField("payment_id", p.ID).
		WithField("method", method).
		Info("loan awaiting deposit")
	metrics.RecordLoanEvent("pending_payment")
	return Checkout{Loan: l, Payment: p, PaymentURL: url}, nil
}

// Activate starts a loan whose deposit was confirmed. Loans that are already
// active are returned unchanged.
func (s *Service) Activate(ctx context.Context, loanID string) (loan.Loan, error) {
	l, err := s.Get(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if l.Status.Active() {
		return l, nil
	}
	if l.Status != loan.StatusPendingPayment {
		return loan.Loan{}, svcerrors.Conflict("loan is " + string(l.Status) + " and cannot be activated")
	}
	if _, err := s.copies.Transition(ctx, l.CopyID, inventory.StatusReserved, inventory.StatusBorrowed); err != nil {
		return loan.Loan{}, err
	}
	tier, err := s.members.PolicyFor(ctx, l.PatronID)
	if err != nil {
		return loan.Loan{}, err
	}
	today := s.today()
	l.LoanDate = today
	l.DueDate = today.AddDate(0, 0, s.loanDays(tier))
	l.Status = loan.StatusBorrowed
	l, err = s.loans.UpdateLoan(ctx, l)
	if err != nil {
		return loan.Loan{}, storage.Translate(err, "loan", loanID)
	}
	s.recordLoan(ctx, l)
	s.log.WithField("loan_id", l.ID).Info("loan activated after deposit")
	s.emit(ctx, realtime.EventLoanBorrowed, "borrowed", l)
	return l, nil
}

// Cancel drops a loan that never started together with its pending deposit,
// so a late payment can no longer confirm it.
func (s *Service) Cancel(ctx context.Context, loanID, reason string) (loan.Loan, error) {
	l, err := s.Abandon(ctx, loanID, reason)
	if err != nil {
		return loan.Loan{}, err
	}
	if s.deposits != nil {
		if err := s.deposits.CancelDeposits(ctx, loanID, reason); err != nil {
			return l, err
		}
	}
	return l, nil
}

// Abandon closes a loan awaiting payment and frees its copy. Payments call it
// once the deposit is final; it does not touch the deposit.
func (s *Service) Abandon(ctx context.Context, loanID, reason string) (loan.Loan, error) {
	l, err := s.Get(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if l.Status == loan.StatusCancelled {
		return l, nil
	}
	if l.Status != loan.StatusPendingPayment {
		return loan.Loan{}, svcerrors.Conflict("only loans awaiting payment can be cancelled")
	}
	l.Status = loan.StatusCancelled
	if reason = strings.TrimSpace(reason); reason != "" {
		l.Notes = appendNote(l.Notes, reason)
	}
	l, err = s.loans.UpdateLoan(ctx, l)
	if err != nil {
		return loan.Loan{}, storage.Translate(err, "loan", loanID)
	}
	s.releaseCopy(ctx, l.CopyID, inventory.StatusReserved)
	s.log.WithField("loan_id", l.ID).WithField("reason", reason).Info("loan cancelled")
	s.emit(ctx, realtime.EventLoanCancelled, "cancelled", l)
	return l, nil
}

// MarkFinePaid settles the fine of a returned loan.
func (s *Service) MarkFinePaid(ctx context.Context, loanID string) (loan.Loan, error) {
	l, err := s.Get(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if l.FinePaid {
		return l, nil
	}
	l.FinePaid = true
	l, err = s.loans.UpdateLoan(ctx, l)
	if err != nil {
		return loan.Loan{}, storage.Translate(err, "loan", loanID)
	}
	s.log.WithField("loan_id", l.ID).WithField("amount", l.FineAmount).Info("fine paid")
	return l, nil
}

func (s *Service) eligible(ctx context.Context, bookID, patronID string) (patron.Patron, membership.Tier, error) {
	p, err := s.patrons.GetPatron(ctx, patronID)
	if err != nil {
		return patron.Patron{}, membership.Tier{}, storage.Translate(err, "patron", patronID)
	}
	if !p.Active {
		return patron.Patron{}, membership.Tier{}, svcerrors.Forbidden("patron account is deactivated")
	}
	b, err := s.books.GetBook(ctx, bookID)
	if err != nil {
		return patron.Patron{}, membership.Tier{}, storage.Translate(err, "book", bookID)
	}
	if b.Status == catalog.StatusDiscontinued {
		return patron.Patron{}, membership.Tier{}, svcerrors.Conflict("book is discontinued")
	}
	tier, err := s.members.PolicyFor(ctx, patronID)
	if err != nil {
		return patron.Patron{}, membership.Tier{}, err
	}

	history, err := s.loans.ListLoans(ctx, storage.LoanFilter{PatronID: patronID})
	if err != nil {
		return patron.Patron{}, membership.Tier{}, err
	}
	today := s.today()
	open := 0
	for _, l := range history {
		if s.isOverdue(l, today) {
			return patron.Patron{}, membership.Tier{}, svcerrors.Conflict("patron has overdue loans")
		}
		if s.policy.BlockOnUnpaidFines && l.Status == loan.StatusReturned && l.OutstandingFine() > 0 {
			return patron.Patron{}, membership.Tier{}, svcerrors.Conflict("patron has unpaid fines").
				WithDetails("loan_id", l.ID)
		}
		if !l.Status.Open() {
			continue
		}
		if l.BookID == bookID {
			return patron.Patron{}, membership.Tier{}, svcerrors.Conflict("patron already has this book on loan")
		}
		open++
	}
	if tier.MaxBooks > 0 && open >= tier.MaxBooks {
		return patron.Patron{}, membership.Tier{}, svcerrors.Conflict("borrowing limit reached").
			WithDetails("max_books", tier.MaxBooks)
	}
	if b.AvailableCopies <= 0 {
		return patron.Patron{}, membership.Tier{}, svcerrors.Conflict("no available copy of this book")
	}
	return p, tier, nil
}

func (s *Service) isOverdue(l loan.Loan, today time.Time) bool {
	if l.Status == loan.StatusOverdue {
		return true
	}
	switch l.Status {
	case loan.StatusBorrowed, loan.StatusRenewed:
		return loan.Day(l.DueDate).Before(today)
	}
	return false
}

func (s *Service) loanDays(tier membership.Tier) int {
	if tier.LoanDurationDays > 0 {
		return tier.LoanDurationDays
	}
	return s.policy.LoanPeriodDays
}

func (s *Service) recordLoan(ctx context.Context, l loan.Loan) {
	if _, err := s.members.RecordLoan(ctx, l.PatronID); err != nil {
		s.log.WithError(err).WithField("patron_id", l.PatronID).Warn("record loan on membership")
	}
}

// releaseCopy puts a copy back on the shelf. Copies that staff already moved
// elsewhere are left alone.
func (s *Service) releaseCopy(ctx context.Context, copyID string, from inventory.Status) {
	if _, err := s.copies.Transition(ctx, copyID, from, inventory.StatusAvailable); err != nil {
		s.log.WithError(err).WithField("copy_id", copyID).Warn("release copy")
	}
}

func (s *Service) emit(ctx context.Context, eventType, metric string, l loan.Loan) {
	metrics.RecordLoanEvent(metric)
	s.events.Publish(ctx, eventType, l)
}

func (s *Service) today() time.Time {
	return loan.Day(s.now())
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}

package loans

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qltv/library_service/internal/app/domain/inventory"
	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/metrics"
	"github.com/qltv/library_service/internal/app/realtime"
	"github.com/qltv/library_service/internal/app/storage"
	svcerrors "github.com/qltv/library_service/internal/errors"
)

// RequestReturn lets a patron flag that they brought the book back.
func (s *Service) RequestReturn(ctx context.Context, loanID, patronID string) (loan.Loan, error) {
	l, err := s.Get(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if l.PatronID != patronID {
		return loan.Loan{}, svcerrors.Forbidden("loan belongs to another patron")
	}
	if l.Status == loan.StatusPendingReturn {
		return l, nil
	}
	if !l.Status.Active() {
		return loan.Loan{}, svcerrors.Conflict("loan is not active")
	}
	l.Status = loan.StatusPendingReturn
	l, err = s.loans.UpdateLoan(ctx, l)
	if err != nil {
		return loan.Loan{}, storage.Translate(err, "loan", loanID)
	}
	s.log.WithField("loan_id", l.ID).Info("return requested")
	s.emit(ctx, realtime.EventReturnRequested, "return_requested", l)
	return l, nil
}

// Return closes an active loan at the desk and assesses the late fine.
func (s *Service) Return(ctx context.Context, loanID string) (loan.Loan, error) {
	return s.complete(ctx, loanID, 0, "")
}

// ConfirmReturn closes a loan the patron flagged as returned.
func (s *Service) ConfirmReturn(ctx context.Context, loanID string) (loan.Loan, error) {
	return s.complete(ctx, loanID, 0, "")
}

// ReturnWithDamage closes the loan, adds damageFine to the fine and sends the
// copy to repair when damageFine is positive.
func (s *Service) ReturnWithDamage(ctx context.Context, loanID string, damageFine int64, notes string) (loan.Loan, error) {
	if damageFine < 0 {
		return loan.Loan{}, svcerrors.InvalidInput("damage fine cannot be negative")
	}
	return s.complete(ctx, loanID, damageFine, strings.TrimSpace(notes))
}

func (s *Service) complete(ctx context.Context, loanID string, damageFine int64, notes string) (loan.Loan, error) {
	l, err := s.Get(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if !l.Status.Active() {
		return loan.Loan{}, svcerrors.Conflict("loan is " + string(l.Status) + " and cannot be returned")
	}
	tier, err := s.members.PolicyFor(ctx, l.PatronID)
	if err != nil {
		return loan.Loan{}, err
	}

	today := s.today()
	l.ReturnDate = &today
	days := l.DaysOverdue(today)
	late := s.Fine(days, tier.LateFeeDiscount)
	l.FineAmount = late + damageFine
	l.FinePaid = false
	l.Status = loan.StatusReturned
	if notes != "" {
		l.Notes = appendNote(l.Notes, notes)
	}
	l, err = s.loans.UpdateLoan(ctx, l)
	if err != nil {
		return loan.Loan{}, storage.Translate(err, "loan", loanID)
	}

	if damageFine > 0 {
		s.repairCopy(ctx, l.CopyID, notes)
	} else {
		s.releaseCopy(ctx, l.CopyID, inventory.StatusBorrowed)
	}

	if days == 0 {
		if _, err := s.members.AddPoints(ctx, l.PatronID, s.policy.OnTimeReturnPoints); err != nil {
			s.log.WithError(err).WithField("patron_id", l.PatronID).Warn("award on-time points")
		}
	} else if _, err := s.members.RecordViolation(ctx, l.PatronID); err != nil {
		s.log.WithError(err).WithField("patron_id", l.PatronID).Warn("record late return")
	}

	metrics.RecordFine(l.FineAmount)
	s.log.WithField("loan_id", l.ID).
		WithField("days_overdue", days).
		WithField("fine", l.FineAmount).
		Info("loan returned")
	s.emit(ctx, realtime.EventLoanReturned, "returned", l)
	return l, nil
}

// Renew extends the due date of a loan in good standing.
func (s *Service) Renew(ctx context.Context, loanID string) (loan.Loan, error) {
	l, err := s.Get(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if l.Status != loan.StatusBorrowed && l.Status != loan.StatusRenewed {
		return loan.Loan{}, svcerrors.Conflict("loan is " + string(l.Status) + " and cannot be renewed")
	}
	if l.RenewalCount >= s.policy.MaxRenewals {
		return loan.Loan{}, svcerrors.Conflict(fmt.Sprintf("loan was already renewed %d times", l.RenewalCount))
	}
	today := s.today()
	others, err := s.loans.ListLoans(ctx, storage.LoanFilter{PatronID: l.PatronID})
	if err != nil {
		return loan.Loan{}, err
	}
	for _, other := range others {
		if s.isOverdue(other, today) {
			return loan.Loan{}, svcerrors.Conflict("patron has overdue loans")
		}
	}
	l.DueDate = loan.Day(l.DueDate).AddDate(0, 0, s.policy.RenewalDays)
	l.RenewalCount++
	l.Status = loan.StatusRenewed
	l, err = s.loans.UpdateLoan(ctx, l)
	if err != nil {
		return loan.Loan{}, storage.Translate(err, "loan", loanID)
	}
	s.log.WithField("loan_id", l.ID).WithField("due_date", l.DueDate.Format("2006-01-02")).Info("loan renewed")
	metrics.RecordLoanEvent("renewed")
	return l, nil
}

// SweepOverdue marks past-due loans OVERDUE and refreshes their accrued fine.
// Loans waiting for return confirmation are skipped.
func (s *Service) SweepOverdue(ctx context.Context) ([]loan.Loan, error) {
	candidates, err := s.loans.ListLoans(ctx, storage.LoanFilter{
		Statuses: []loan.Status{loan.StatusBorrowed, loan.StatusRenewed, loan.StatusOverdue},
	})
	if err != nil {
		return nil, err
	}
	today := s.today()
	discounts := make(map[string]int)
	changed := make([]loan.Loan, 0)
	for _, l := range candidates {
		if !loan.Day(l.DueDate).Before(today) {
			continue
		}
		discount, ok := discounts[l.PatronID]
		if !ok {
			tier, err := s.members.PolicyFor(ctx, l.PatronID)
			if err != nil {
				s.log.WithError(err).WithField("patron_id", l.PatronID).Warn("load tier for overdue fine")
			}
			discount = tier.LateFeeDiscount
			discounts[l.PatronID] = discount
		}
		fine := s.Fine(l.DaysOverdue(today), discount)
		newlyOverdue := l.Status != loan.StatusOverdue
		if !newlyOverdue && fine == l.FineAmount {
			continue
		}
		l.Status = loan.StatusOverdue
		l.FineAmount = fine
		updated, err := s.loans.UpdateLoan(ctx, l)
		if err != nil {
			return changed, err
		}
		changed = append(changed, updated)
		if newlyOverdue {
			s.emit(ctx, realtime.EventLoanOverdue, "overdue", updated)
		}
	}
	if len(changed) > 0 {
		s.log.WithField("count", len(changed)).Info("overdue sweep updated loans")
	}
	return changed, nil
}

// Fine is the late fee for days overdue after a percentage discount.
func (s *Service) Fine(days, discountPercent int) int64 {
	if days <= 0 {
		return 0
	}
	if discountPercent < 0 {
		discountPercent = 0
	}
	if discountPercent > 100 {
		discountPercent = 100
	}
	return int64(days) * s.policy.FinePerDay * int64(100-discountPercent) / 100
}

// DueIn reports how long until the loan is due; negative when overdue.
func (s *Service) DueIn(l loan.Loan) time.Duration {
	return loan.Day(l.DueDate).Sub(s.today())
}

// repairCopy sends a damaged copy from the patron straight to repair so it is
// never offered for loan in between.
func (s *Service) repairCopy(ctx context.Context, copyID, notes string) {
	entry := s.log.WithField("copy_id", copyID)
	if _, err := s.copies.Transition(ctx, copyID, inventory.StatusBorrowed, inventory.StatusRepairing); err != nil {
		entry.WithError(err).Warn("send copy to repair")
	}
	if _, err := s.copies.MarkDamaged(ctx, copyID, notes); err != nil {
		entry.WithError(err).Warn("mark copy damaged")
	}
}

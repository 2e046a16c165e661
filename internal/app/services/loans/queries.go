package loans

import (
	"context"
	"sort"

	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/storage"
)

var activeStatuses = []loan.Status{loan.StatusBorrowed, loan.StatusRenewed, loan.StatusOverdue, loan.StatusPendingReturn}

// Get fetches one loan.
func (s *Service) Get(ctx context.Context, id string) (loan.Loan, error) {
	l, err := s.loans.GetLoan(ctx, id)
	if err != nil {
		return loan.Loan{}, storage.Translate(err, "loan", id)
	}
	return l, nil
}

// List pages through loans matching filter, newest first.
func (s *Service) List(ctx context.Context, filter storage.LoanFilter, page storage.Page) (storage.PageResult[loan.Loan], error) {
	all, err := s.newestFirst(ctx, filter)
	if err != nil {
		return storage.PageResult[loan.Loan]{}, err
	}
	return storage.Paginate(all, page), nil
}

// ListByPatron returns every loan of a patron.
func (s *Service) ListByPatron(ctx context.Context, patronID string) ([]loan.Loan, error) {
	return s.loans.ListLoans(ctx, storage.LoanFilter{PatronID: patronID})
}

// ListByBook returns every loan of a book.
func (s *Service) ListByBook(ctx context.Context, bookID string) ([]loan.Loan, error) {
	return s.loans.ListLoans(ctx, storage.LoanFilter{BookID: bookID})
}

// Active returns loans whose copy is out with a patron.
func (s *Service) Active(ctx context.Context) ([]loan.Loan, error) {
	return s.loans.ListLoans(ctx, storage.LoanFilter{Statuses: activeStatuses})
}

// PendingReturns lists loans waiting for staff to confirm the return.
func (s *Service) PendingReturns(ctx context.Context) ([]loan.Loan, error) {
	return s.loans.ListLoans(ctx, storage.LoanFilter{Statuses: []loan.Status{loan.StatusPendingReturn}})
}

// Overdue sweeps first so the result reflects today.
func (s *Service) Overdue(ctx context.Context) ([]loan.Loan, error) {
	if _, err := s.SweepOverdue(ctx); err != nil {
		return nil, err
	}
	return s.loans.ListLoans(ctx, storage.LoanFilter{Statuses: []loan.Status{loan.StatusOverdue}})
}

// History returns a patron's loans newest first.
func (s *Service) History(ctx context.Context, patronID string) ([]loan.Loan, error) {
	return s.newestFirst(ctx, storage.LoanFilter{PatronID: patronID})
}

// WithFines lists loans that carry a fine.
func (s *Service) WithFines(ctx context.Context) ([]loan.Loan, error) {
	all, err := s.loans.ListLoans(ctx, storage.LoanFilter{})
	if err != nil {
		return nil, err
	}
	out := make([]loan.Loan, 0)
	for _, l := range all {
		if l.FineAmount > 0 {
			out = append(out, l)
		}
	}
	return out, nil
}

// UnpaidFines lists a patron's returned loans with an outstanding fine.
func (s *Service) UnpaidFines(ctx context.Context, patronID string) ([]loan.Loan, error) {
	all, err := s.loans.ListLoans(ctx, storage.LoanFilter{PatronID: patronID, Statuses: []loan.Status{loan.StatusReturned}})
	if err != nil {
		return nil, err
	}
	out := make([]loan.Loan, 0)
	for _, l := range all {
		if l.OutstandingFine() > 0 {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Service) newestFirst(ctx context.Context, filter storage.LoanFilter) ([]loan.Loan, error) {
	all, err := s.loans.ListLoans(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].LoanDate.Equal(all[j].LoanDate) {
			return all[i].LoanDate.After(all[j].LoanDate)
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return all, nil
}

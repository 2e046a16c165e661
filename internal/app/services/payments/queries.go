package payments

import (
	"context"
	"sort"

	"github.com/qltv/library_service/internal/app/domain/payment"
	"github.com/qltv/library_service/internal/app/storage"
)

// Get fetches one payment.
func (s *Service) Get(ctx context.Context, id string) (payment.Payment, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return payment.Payment{}, storage.Translate(err, "payment", id)
	}
	return p, nil
}

// GetByOrderRef fetches a payment by its gateway reference.
func (s *Service) GetByOrderRef(ctx context.Context, ref string) (payment.Payment, error) {
	p, err := s.store.GetPaymentByOrderRef(ctx, ref)
	if err != nil {
		return payment.Payment{}, storage.Translate(err, "payment", ref)
	}
	return p, nil
}

// List pages through payments matching filter, newest first.
func (s *Service) List(ctx context.Context, filter storage.PaymentFilter, page storage.Page) (storage.PageResult[payment.Payment], error) {
	all, err := s.newestFirst(ctx, filter)
	if err != nil {
		return storage.PageResult[payment.Payment]{}, err
	}
	return storage.Paginate(all, page), nil
}

// ByLoan lists the payments of a loan.
func (s *Service) ByLoan(ctx context.Context, loanID string) ([]payment.Payment, error) {
	return s.newestFirst(ctx, storage.PaymentFilter{LoanID: loanID})
}

// ByPatron lists the payments of a patron.
func (s *Service) ByPatron(ctx context.Context, patronID string) ([]payment.Payment, error) {
	return s.newestFirst(ctx, storage.PaymentFilter{PatronID: patronID})
}

// PendingCash lists cash payments waiting at the desk.
func (s *Service) PendingCash(ctx context.Context) ([]payment.Payment, error) {
	return s.newestFirst(ctx, storage.PaymentFilter{Method: payment.MethodCash, Status: payment.StatusPending})
}

// PendingByPatron lists a patron's unsettled payments.
func (s *Service) PendingByPatron(ctx context.Context, patronID string) ([]payment.Payment, error) {
	return s.newestFirst(ctx, storage.PaymentFilter{PatronID: patronID, Status: payment.StatusPending})
}

// CountPending counts unsettled payments.
func (s *Service) CountPending(ctx context.Context) (int, error) {
	pending, err := s.store.ListPayments(ctx, storage.PaymentFilter{Status: payment.StatusPending})
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

func (s *Service) newestFirst(ctx context.Context, filter storage.PaymentFilter) ([]payment.Payment, error) {
	all, err := s.store.ListPayments(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all, nil
}

package loans

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/qltv/library_service/internal/app/domain/catalog"
	"github.com/qltv/library_service/internal/app/domain/inventory"
	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/domain/patron"
	"github.com/qltv/library_service/internal/app/domain/payment"
	"github.com/qltv/library_service/internal/app/realtime"
	inventorysvc "github.com/qltv/library_service/internal/app/services/inventory"
	"github.com/qltv/library_service/internal/app/services/membership"
	"github.com/qltv/library_service/internal/app/storage/memory"
	"github.com/qltv/library_service/internal/config"
	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/pkg/testutil"
)

var base = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	store   *memory.Store
	copies  *inventorysvc.Service
	members *membership.Service
	patron  patron.Patron
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	policy := config.DefaultPolicy()
	members := membership.New(store, store, policy, nil)
	if err := members.EnsureTiers(ctx); err != nil {
		t.Fatalf("ensure tiers: %v", err)
	}
	copies := inventorysvc.New(store, store, nil, nil)
	p, err := store.CreatePatron(ctx, patron.Patron{Name: "Lan", Email: "lan@example.com", Role: patron.RoleUser, Active: true})
	if err != nil {
		t.Fatalf("create patron: %v", err)
	}
	svc := New(store, store, store, copies, members, policy, nil)
	svc.now = func() time.Time { return base }
	return &fixture{svc: svc, store: store, copies: copies, members: members, patron: p}
}

func (f *fixture) book(t *testing.T, title string, copies int) catalog.Book {
	t.Helper()
	ctx := context.Background()
	b, err := f.store.CreateBook(ctx, catalog.Book{Title: title, Status: catalog.StatusUnavailable})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if copies == 0 {
		return b
	}
	if _, err := f.copies.CreateCopies(ctx, b.ID, copies, "", 0); err != nil {
		t.Fatalf("create copies: %v", err)
	}
	return b
}

func (f *fixture) at(days int) {
	f.svc.now = func() time.Time { return base.AddDate(0, 0, days) }
}

func TestBorrowAndReturnOnTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(t, "Dế mèn phiêu lưu ký", 2)

	l, err := f.svc.Borrow(ctx, b.ID, f.patron.ID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if l.Status != loan.StatusBorrowed || !l.DueDate.Equal(loan.Day(base).AddDate(0, 0, 14)) {
		t.Fatalf("unexpected loan %+v", l)
	}
	c, _ := f.store.GetCopy(ctx, l.CopyID)
	if c.Status != inventory.StatusBorrowed || c.CopyNumber != 1 {
		t.Fatalf("copy not lent: %+v", c)
	}
	got, _ := f.store.GetBook(ctx, b.ID)
	if got.AvailableCopies != 1 {
		t.Fatalf("expected one available copy, got %d", got.AvailableCopies)
	}

	if _, err := f.svc.Borrow(ctx, b.ID, f.patron.ID); !svcerrors.HasCode(err, svcerrors.CodeConflict) {
		t.Fatalf("expected duplicate borrow conflict, got %v", err)
	}

	f.at(10)
	returned, err := f.svc.Return(ctx, l.ID)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if returned.Status != loan.StatusReturned || returned.FineAmount != 0 || returned.ReturnDate == nil {
		t.Fatalf("unexpected returned loan %+v", returned)
	}
	c, _ = f.store.GetCopy(ctx, l.CopyID)
	if c.Status != inventory.StatusAvailable {
		t.Fatalf("copy not released: %s", c.Status)
	}
	m, _ := f.members.Get(ctx, f.patron.ID)
	if m.TotalLoans != 1 || m.CurrentPoints != 15 || m.ViolationCount != 0 {
		t.Fatalf("unexpected membership %+v", m)
	}
	if _, err := f.svc.Return(ctx, l.ID); !svcerrors.HasCode(err, svcerrors.CodeConflict) {
		t.Fatalf("expected second return to fail, got %v", err)
	}
}

func TestLateReturnFineBlocksBorrowing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.book(t, "Tắt đèn", 1)
	second := f.book(t, "Vợ nhặt", 1)

	l, err := f.svc.Borrow(ctx, first.ID, f.patron.ID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.at(20)
	returned, err := f.svc.Return(ctx, l.ID)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if returned.FineAmount != 6*5000 {
		t.Fatalf("expected 30000 fine, got %d", returned.FineAmount)
	}
	m, _ := f.members.Get(ctx, f.patron.ID)
	if m.ViolationCount != 1 {
		t.Fatalf("expected a violation, got %+v", m)
	}

	if err := f.svc.CheckEligibility(ctx, second.ID, f.patron.ID); !svcerrors.HasCode(err, svcerrors.CodeConflict) {
		t.Fatalf("expected unpaid fine to block, got %v", err)
	}
	unpaid, err := f.svc.UnpaidFines(ctx, f.patron.ID)
	if err != nil || len(unpaid) != 1 {
		t.Fatalf("unpaid fines: %v %v", unpaid, err)
	}
	if _, err := f.svc.MarkFinePaid(ctx, l.ID); err != nil {
		t.Fatalf("mark fine paid: %v", err)
	}
	if _, err := f.svc.Borrow(ctx, second.ID, f.patron.ID); err != nil {
		t.Fatalf("borrow after paying: %v", err)
	}
}

func TestFineAppliesTierDiscount(t *testing.T) {
	f := newFixture(t)
	if got := f.svc.Fine(4, 10); got != 18000 {
		t.Fatalf("expected 18000, got %d", got)
	}
	if got := f.svc.Fine(0, 0); got != 0 {
		t.Fatalf("expected no fine, got %d", got)
	}
	if got := f.svc.Fine(3, 150); got != 0 {
		t.Fatalf("discount above 100 should waive, got %d", got)
	}
}

func TestBorrowingLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, title := range []string{"A", "B", "C"} {
		b := f.book(t, title, 1)
		if _, err := f.svc.Borrow(ctx, b.ID, f.patron.ID); err != nil {
			t.Fatalf("borrow %d: %v", i, err)
		}
	}
	extra := f.book(t, "D", 1)
	_, err := f.svc.Borrow(ctx, extra.ID, f.patron.ID)
	if !svcerrors.HasCode(err, svcerrors.CodeConflict) {
		t.Fatalf("expected limit conflict, got %v", err)
	}
	if se := svcerrors.GetServiceError(err); se.Details["max_books"] != 3 {
		t.Fatalf("expected max_books detail, got %+v", se.Details)
	}
}

func TestBorrowRejectsInactivePatronAndEmptyShelf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	empty := f.book(t, "Empty", 0)
	if _, err := f.svc.Borrow(ctx, empty.ID, f.patron.ID); !svcerrors.HasCode(err, svcerrors.CodeConflict) {
		t.Fatalf("expected no copy conflict, got %v", err)
	}

	f.patron.Active = false
	if _, err := f.store.UpdatePatron(ctx, f.patron); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	b := f.book(t, "Some", 1)
	if _, err := f.svc.Borrow(ctx, b.ID, f.patron.ID); !svcerrors.HasCode(err, svcerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestRenewLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(t, "Renewable", 1)
	l, err := f.svc.Borrow(ctx, b.ID, f.patron.ID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	due := l.DueDate
	for i := 1; i <= 2; i++ {
		l, err = f.svc.Renew(ctx, l.ID)
		if err != nil {
			t.Fatalf("renew %d: %v", i, err)
		}
		if l.Status != loan.StatusRenewed || l.RenewalCount != i || !l.DueDate.Equal(due.AddDate(0, 0, 14*i)) {
			t.Fatalf("unexpected renewal %d: %+v", i, l)
		}
	}
	if _, err := f.svc.Renew(ctx, l.ID); !svcerrors.HasCode(err, svcerrors.CodeConflict) {
		t.Fatalf("expected renewal limit, got %v", err)
	}
}

func TestSweepOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(t, "Late", 1)
	other := f.book(t, "Other", 1)
	l, err := f.svc.Borrow(ctx, b.ID, f.patron.ID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	changed, err := f.svc.SweepOverdue(ctx)
	if err != nil || len(changed) != 0 {
		t.Fatalf("nothing should be overdue yet: %v %v", changed, err)
	}

	f.at(16)
	changed, err = f.svc.SweepOverdue(ctx)
	if err != nil || len(changed) != 1 {
		t.Fatalf("sweep: %v %v", changed, err)
	}
	if changed[0].Status != loan.StatusOverdue || changed[0].FineAmount != 10000 {
		t.Fatalf("unexpected overdue loan %+v", changed[0])
	}
	if again, _ := f.svc.SweepOverdue(ctx); len(again) != 0 {
		t.Fatalf("repeat sweep on the same day should be a no-op, got %d", len(again))
	}
	if _, err := f.svc.Renew(ctx, l.ID); !svcerrors.HasCode(err, svcerrors.CodeConflict) {
		t.Fatalf("overdue loan renewed: %v", err)
	}
	if _, err := f.svc.Borrow(ctx, other.ID, f.patron.ID); !svcerrors.HasCode(err, svcerrors.CodeConflict) {
		t.Fatalf("expected overdue loan to block borrowing, got %v", err)
	}

	f.at(17)
	overdue, err := f.svc.Overdue(ctx)
	if err != nil || len(overdue) != 1 || overdue[0].FineAmount != 15000 {
		t.Fatalf("overdue listing: %+v %v", overdue, err)
	}
}

func TestRequestAndConfirmReturn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(t, "Pending", 1)
	l, err := f.svc.Borrow(ctx, b.ID, f.patron.ID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := f.svc.RequestReturn(ctx, l.ID, "someone-else"); !svcerrors.HasCode(err, svcerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	pending, err := f.svc.RequestReturn(ctx, l.ID, f.patron.ID)
	if err != nil || pending.Status != loan.StatusPendingReturn {
		t.Fatalf("request return: %+v %v", pending, err)
	}
	f.at(30)
	if changed, _ := f.svc.SweepOverdue(ctx); len(changed) != 0 {
		t.Fatalf("pending return should not be swept")
	}
	done, err := f.svc.ConfirmReturn(ctx, l.ID)
	if err != nil || done.Status != loan.StatusReturned {
		t.Fatalf("confirm return: %+v %v", done, err)
	}
}

func TestReturnWithDamage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(t, "Fragile", 1)
	l, err := f.svc.Borrow(ctx, b.ID, f.patron.ID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := f.svc.ReturnWithDamage(ctx, l.ID, -1, ""); !svcerrors.HasCode(err, svcerrors.CodeInvalidInput) {
		t.Fatalf("expected negative fine rejection, got %v", err)
	}
	done, err := f.svc.ReturnWithDamage(ctx, l.ID, 40000, "water damage")
	if err != nil {
		t.Fatalf("return with damage: %v", err)
	}
	if done.FineAmount != 40000 || done.Notes != "water damage" {
		t.Fatalf("unexpected loan %+v", done)
	}
	c, _ := f.store.GetCopy(ctx, l.CopyID)
	if c.Status != inventory.StatusRepairing || c.Condition != inventory.ConditionDamaged {
		t.Fatalf("copy not sent to repair: %+v", c)
	}
	got, _ := f.store.GetBook(ctx, b.ID)
	if got.AvailableCopies != 0 {
		t.Fatalf("repairing copy counted as available")
	}
}

// trackingCopies records every status a copy is moved to.
type trackingCopies struct {
	*inventorysvc.Service
	moves []inventory.Status
}

func (c *trackingCopies) Transition(ctx context.Context, copyID string, from, to inventory.Status) (inventory.Copy, error) {
	c.moves = append(c.moves, to)
	return c.Service.Transition(ctx, copyID, from, to)
}

func TestDamagedCopyNeverReturnsToShelf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tracked := &trackingCopies{Service: f.copies}
	svc := New(f.store, f.store, f.store, tracked, f.members, config.DefaultPolicy(), nil)
	svc.now = f.svc.now
	b := f.book(t, "Torn", 1)

	l, err := svc.Borrow(ctx, b.ID, f.patron.ID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	tracked.moves = nil
	if _, err := svc.ReturnWithDamage(ctx, l.ID, 20000, "torn pages"); err != nil {
		t.Fatalf("return with damage: %v", err)
	}
	for _, to := range tracked.moves {
		if to == inventory.StatusAvailable {
			t.Fatalf("damaged copy was made available: %v", tracked.moves)
		}
	}
	c, _ := f.store.GetCopy(ctx, l.CopyID)
	if c.Status != inventory.StatusRepairing || !strings.Contains(c.Notes, "torn pages") {
		t.Fatalf("copy not in repair: %+v", c)
	}
}

func TestSweepSkipsPendingReturns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l, err := f.svc.Borrow(ctx, f.book(t, "Handed in", 1).ID, f.patron.ID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := f.svc.RequestReturn(ctx, l.ID, f.patron.ID); err != nil {
		t.Fatalf("request return: %v", err)
	}

	f.at(40)
	changed, err := f.svc.SweepOverdue(ctx)
	if err != nil || len(changed) != 0 {
		t.Fatalf("sweep touched a pending return: %+v %v", changed, err)
	}
	got, _ := f.svc.Get(ctx, l.ID)
	if got.Status != loan.StatusPendingReturn || got.FineAmount != 0 {
		t.Fatalf("pending return changed by sweep: %+v", got)
	}
}

type fakeDeposits struct {
	err       error
	created   []loan.Loan
	cancelled []string
}

func (d *fakeDeposits) CancelDeposits(_ context.Context, loanID, _ string) error {
	d.cancelled = append(d.cancelled, loanID)
	return nil
}

func (d *fakeDeposits) CreateDeposit(_ context.Context, l loan.Loan, method payment.Method, _ string) (payment.Payment, string, error) {
	if d.err != nil {
		return payment.Payment{}, "", d.err
	}
	d.created = append(d.created, l)
	url := ""
	if method == payment.MethodVNPay {
		url = "https://pay.example/" + l.ID
	}
	return payment.Payment{ID: "pay-" + l.ID, LoanID: l.ID, Method: method, Status: payment.StatusPending}, url, nil
}

func TestBorrowWithPaymentActivateAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deposits := &fakeDeposits{}
	b := f.book(t, "Deposit", 2)

	if _, err := f.svc.BorrowWithPayment(ctx, b.ID, f.patron.ID, payment.MethodVNPay, "127.0.0.1"); !svcerrors.HasCode(err, svcerrors.CodeServiceUnavailable) {
		t.Fatalf("expected unavailable without deposits, got %v", err)
	}
	f.svc.AttachDeposits(deposits)

	if _, err := f.svc.BorrowWithPayment(ctx, b.ID, f.patron.ID, "BITCOIN", ""); !svcerrors.HasCode(err, svcerrors.CodeInvalidInput) {
		t.Fatalf("expected invalid method, got %v", err)
	}
	checkout, err := f.svc.BorrowWithPayment(ctx, b.ID, f.patron.ID, "vnpay", "127.0.0.1")
	if err != nil {
		t.Fatalf("borrow with payment: %v", err)
	}
	if checkout.Loan.Status != loan.StatusPendingPayment || checkout.PaymentURL == "" {
		t.Fatalf("unexpected checkout %+v", checkout)
	}
	c, _ := f.store.GetCopy(ctx, checkout.Loan.CopyID)
	if c.Status != inventory.StatusReserved {
		t.Fatalf("copy not held: %s", c.Status)
	}

	f.at(1)
	active, err := f.svc.Activate(ctx, checkout.Loan.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if active.Status != loan.StatusBorrowed || !active.LoanDate.Equal(loan.Day(base).AddDate(0, 0, 1)) {
		t.Fatalf("unexpected active loan %+v", active)
	}
	if again, err := f.svc.Activate(ctx, checkout.Loan.ID); err != nil || again.Status != loan.StatusBorrowed {
		t.Fatalf("activation should be idempotent: %+v %v", again, err)
	}
	m, _ := f.members.Get(ctx, f.patron.ID)
	if m.TotalLoans != 1 {
		t.Fatalf("expected loan recorded once, got %d", m.TotalLoans)
	}
	if _, err := f.svc.Cancel(ctx, checkout.Loan.ID, "late"); !svcerrors.HasCode(err, svcerrors.CodeConflict) {
		t.Fatalf("active loan cancelled: %v", err)
	}

	other := f.book(t, "Cancelled", 1)
	pending, err := f.svc.BorrowWithPayment(ctx, other.ID, f.patron.ID, payment.MethodCash, "")
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	cancelled, err := f.svc.Cancel(ctx, pending.Loan.ID, "payment failed")
	if err != nil || cancelled.Status != loan.StatusCancelled {
		t.Fatalf("cancel: %+v %v", cancelled, err)
	}
	c, _ = f.store.GetCopy(ctx, pending.Loan.CopyID)
	if c.Status != inventory.StatusAvailable {
		t.Fatalf("copy not released after cancel: %s", c.Status)
	}
	if len(deposits.cancelled) != 1 || deposits.cancelled[0] != pending.Loan.ID {
		t.Fatalf("pending deposit not cancelled with the loan: %v", deposits.cancelled)
	}
	if _, err := f.svc.Activate(ctx, pending.Loan.ID); !svcerrors.HasCode(err, svcerrors.CodeConflict) {
		t.Fatalf("cancelled loan activated: %v", err)
	}
}

func TestDepositFailureCancelsLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.AttachDeposits(&fakeDeposits{err: errors.New("gateway down")})
	b := f.book(t, "Unlucky", 1)

	if _, err := f.svc.BorrowWithPayment(ctx, b.ID, f.patron.ID, payment.MethodVNPay, ""); err == nil {
		t.Fatalf("expected deposit error")
	}
	history, err := f.svc.History(ctx, f.patron.ID)
	if err != nil || len(history) != 1 || history[0].Status != loan.StatusCancelled {
		t.Fatalf("expected cancelled loan, got %+v %v", history, err)
	}
	got, _ := f.store.GetBook(ctx, b.ID)
	if got.AvailableCopies != 1 {
		t.Fatalf("copy not released")
	}
}

func TestLoanLifecycleEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clock := testutil.NewClock(base)
	pub := testutil.NewRecordingPublisher()
	f.svc.now = clock.Now
	f.svc.AttachPublisher(pub)

	b := f.book(t, "Tắt đèn", 1)
	l, err := f.svc.Borrow(ctx, b.ID, f.patron.ID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	clock.AdvanceDays(16)
	if _, err := f.svc.SweepOverdue(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if _, err := f.svc.RequestReturn(ctx, l.ID, f.patron.ID); err != nil {
		t.Fatalf("request return: %v", err)
	}
	if _, err := f.svc.ConfirmReturn(ctx, l.ID); err != nil {
		t.Fatalf("confirm return: %v", err)
	}

	want := []string{
		realtime.EventLoanBorrowed,
		realtime.EventLoanOverdue,
		realtime.EventReturnRequested,
		realtime.EventLoanReturned,
	}
	got := pub.Types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	returned, ok := pub.Events()[3].Data.(loan.Loan)
	if !ok || returned.ID != l.ID {
		t.Fatalf("returned event payload %+v", pub.Events()[3].Data)
	}
}

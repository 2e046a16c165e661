package payments

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/qltv/library_service/internal/app/domain/catalog"
	"github.com/qltv/library_service/internal/app/domain/inventory"
	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/domain/patron"
	"github.com/qltv/library_service/internal/app/domain/payment"
	inventorysvc "github.com/qltv/library_service/internal/app/services/inventory"
	"github.com/qltv/library_service/internal/app/services/loans"
	"github.com/qltv/library_service/internal/app/services/membership"
	"github.com/qltv/library_service/internal/app/storage/memory"
	"github.com/qltv/library_service/internal/config"
	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/internal/vnpay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway accepts queries carrying sig=ok and echoes the vnp_ fields.
type fakeGateway struct {
	requests []vnpay.PaymentRequest
}

func (g *fakeGateway) BuildPaymentURL(req vnpay.PaymentRequest) (string, error) {
	g.requests = append(g.requests, req)
	return "https://sandbox.example/pay?vnp_TxnRef=" + req.TxnRef, nil
}

func (g *fakeGateway) VerifyReturn(values url.Values) (vnpay.Result, error) {
	if values.Get("sig") != "ok" {
		return vnpay.Result{}, nil
	}
	amount, err := strconv.ParseInt(values.Get("vnp_Amount"), 10, 64)
	if err != nil {
		return vnpay.Result{}, err
	}
	code := values.Get("vnp_ResponseCode")
	return vnpay.Result{
		Valid:         true,
		Success:       code == vnpay.ResponseSuccess,
		TxnRef:        values.Get("vnp_TxnRef"),
		Amount:        amount / 100,
		ResponseCode:  code,
		TransactionNo: "14000001",
		BankCode:      "NCB",
	}, nil
}

func callback(ref string, amount int64, code string) url.Values {
	return url.Values{
		"sig":              {"ok"},
		"vnp_TxnRef":       {ref},
		"vnp_Amount":       {strconv.FormatInt(amount*100, 10)},
		"vnp_ResponseCode": {code},
	}
}

type fixture struct {
	svc    *Service
	loans  *loans.Service
	store  *memory.Store
	patron patron.Patron
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	policy := config.DefaultPolicy()
	members := membership.New(store, store, policy, nil)
	require.NoError(t, members.EnsureTiers(ctx))
	copies := inventorysvc.New(store, store, nil, nil)
	loanSvc := loans.New(store, store, store, copies, members, policy, nil)
	svc := New(store, loanSvc, policy, nil)
	svc.AttachGateway(&fakeGateway{}, 0)
	loanSvc.AttachDeposits(svc)

	p, err := store.CreatePatron(ctx, patron.Patron{Name: "Minh", Email: "minh@example.com", Role: patron.RoleUser, Active: true})
	require.NoError(t, err)
	return &fixture{svc: svc, loans: loanSvc, store: store, patron: p}
}

func (f *fixture) book(t *testing.T) catalog.Book {
	t.Helper()
	ctx := context.Background()
	b, err := f.store.CreateBook(ctx, catalog.Book{Title: "Truyện Kiều", Status: catalog.StatusUnavailable})
	require.NoError(t, err)
	_, err = inventorysvc.New(f.store, f.store, nil, nil).CreateCopies(ctx, b.ID, 1, "", 0)
	require.NoError(t, err)
	return b
}

func TestCashDepositConfirmedAtDesk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkout, err := f.loans.BorrowWithPayment(ctx, f.book(t).ID, f.patron.ID, payment.MethodCash, "")
	require.NoError(t, err)
	p := checkout.Payment
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Equal(t, payment.KindDeposit, p.Kind)
	assert.Equal(t, int64(50000), p.Amount)
	assert.True(t, strings.HasPrefix(p.OrderRef, "LOAN_"+p.ID+"_"), p.OrderRef)
	assert.Empty(t, checkout.PaymentURL)

	pending, err := f.svc.PendingCash(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	confirmed, err := f.svc.ConfirmCash(ctx, p.ID, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusConfirmed, confirmed.Status)
	assert.Equal(t, "staff-1", confirmed.ConfirmedBy)
	require.NotNil(t, confirmed.ConfirmedAt)

	l, err := f.loans.Get(ctx, checkout.Loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.StatusBorrowed, l.Status)
	c, _ := f.store.GetCopy(ctx, l.CopyID)
	assert.Equal(t, inventory.StatusBorrowed, c.Status)

	_, err = f.svc.ConfirmCash(ctx, p.ID, "staff-1")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))
}

func TestVNPayReturnSettlesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkout, err := f.loans.BorrowWithPayment(ctx, f.book(t).ID, f.patron.ID, payment.MethodVNPay, "10.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, checkout.PaymentURL)
	ref := checkout.Payment.OrderRef

	_, err = f.svc.ConfirmCash(ctx, checkout.Payment.ID, "staff")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict), "online payments cannot be confirmed as cash")

	p, err := f.svc.HandleReturn(ctx, callback(ref, 50000, "00"))
	require.NoError(t, err)
	assert.Equal(t, payment.StatusConfirmed, p.Status)
	assert.Equal(t, "14000001", p.TransactionNo)
	assert.Equal(t, "00", p.GatewayResponse)

	l, _ := f.loans.Get(ctx, checkout.Loan.ID)
	assert.Equal(t, loan.StatusBorrowed, l.Status)

	rsp := f.svc.HandleIPN(ctx, callback(ref, 50000, "00"))
	assert.Equal(t, RspAlreadyConfirmed, rsp.RspCode)

	again, err := f.svc.HandleReturn(ctx, callback(ref, 50000, "24"))
	require.NoError(t, err)
	assert.Equal(t, payment.StatusConfirmed, again.Status, "settled payments are final")
}

func TestIPNResponseCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkout, err := f.loans.BorrowWithPayment(ctx, f.book(t).ID, f.patron.ID, payment.MethodVNPay, "")
	require.NoError(t, err)
	ref := checkout.Payment.OrderRef

	bad := callback(ref, 50000, "00")
	bad.Set("sig", "forged")
	assert.Equal(t, RspInvalidSignature, f.svc.HandleIPN(ctx, bad).RspCode)
	assert.Equal(t, RspOrderNotFound, f.svc.HandleIPN(ctx, callback("LOAN_404_1", 50000, "00")).RspCode)
	assert.Equal(t, RspInvalidAmount, f.svc.HandleIPN(ctx, callback(ref, 1000, "00")).RspCode)

	rsp := f.svc.HandleIPN(ctx, callback(ref, 50000, "24"))
	assert.Equal(t, RspConfirmed, rsp.RspCode)

	p, _ := f.svc.Get(ctx, checkout.Payment.ID)
	assert.Equal(t, payment.StatusFailed, p.Status)
	l, _ := f.loans.Get(ctx, checkout.Loan.ID)
	assert.Equal(t, loan.StatusCancelled, l.Status)
	c, _ := f.store.GetCopy(ctx, l.CopyID)
	assert.Equal(t, inventory.StatusAvailable, c.Status)

	again := f.svc.HandleIPN(ctx, callback(ref, 50000, "00"))
	assert.Equal(t, RspAlreadyConfirmed, again.RspCode, "final payments are acknowledged once")
	p, _ = f.svc.Get(ctx, checkout.Payment.ID)
	assert.Equal(t, payment.StatusFailed, p.Status)
}

func TestCancelAndExpire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.loans.BorrowWithPayment(ctx, f.book(t).ID, f.patron.ID, payment.MethodCash, "")
	require.NoError(t, err)
	second, err := f.loans.BorrowWithPayment(ctx, f.book(t).ID, f.patron.ID, payment.MethodVNPay, "")
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, first.Payment.ID, f.patron.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCancelled, cancelled.Status)
	_, err = f.svc.Cancel(ctx, first.Payment.ID, f.patron.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))

	count, err := f.svc.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expired, err := f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired, "fresh payments stay pending")

	f.svc.now = func() time.Time { return time.Now().Add(21 * time.Minute) }
	expired, err = f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, second.Payment.ID, expired[0].ID)
	assert.Equal(t, payment.StatusExpired, expired[0].Status)

	l, _ := f.loans.Get(ctx, second.Loan.ID)
	assert.Equal(t, loan.StatusCancelled, l.Status)
}

func TestPayFine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	returned := time.Now().UTC()

	l, err := f.store.CreateLoan(ctx, loan.Loan{
		BookID: "1", CopyID: "1", PatronID: f.patron.ID,
		LoanDate: returned.AddDate(0, 0, -20), DueDate: returned.AddDate(0, 0, -6),
		ReturnDate: &returned, Status: loan.StatusReturned, FineAmount: 30000,
	})
	require.NoError(t, err)

	_, err = f.svc.PayFine(ctx, l.ID, "intruder", payment.MethodCash, "")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))

	checkout, err := f.svc.PayFine(ctx, l.ID, f.patron.ID, payment.MethodCash, "")
	require.NoError(t, err)
	assert.Equal(t, payment.KindFine, checkout.Payment.Kind)
	assert.Equal(t, int64(30000), checkout.Payment.Amount)
	assert.True(t, strings.HasPrefix(checkout.Payment.OrderRef, "FINE_"))

	_, err = f.svc.PayFine(ctx, l.ID, f.patron.ID, payment.MethodVNPay, "")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict), "second pending fine payment")

	_, err = f.svc.ConfirmCash(ctx, checkout.Payment.ID, "staff")
	require.NoError(t, err)
	paid, _ := f.loans.Get(ctx, l.ID)
	assert.True(t, paid.FinePaid)

	_, err = f.svc.PayFine(ctx, l.ID, f.patron.ID, payment.MethodCash, "")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))

	history, err := f.svc.ByLoan(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestUnconfiguredGateway(t *testing.T) {
	f := newFixture(t)
	f.svc.AttachGateway(nil, 0)
	_, err := f.loans.BorrowWithPayment(context.Background(), f.book(t).ID, f.patron.ID, payment.MethodVNPay, "")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeServiceUnavailable))
}

type stubResolver struct {
	res Resolution
}

func (r stubResolver) Resolve(context.Context, payment.Payment) (Resolution, error) {
	return r.res, nil
}

func TestSettlementPollerSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkout, err := f.loans.BorrowWithPayment(ctx, f.book(t).ID, f.patron.ID, payment.MethodVNPay, "")
	require.NoError(t, err)

	waiting := NewSettlementPoller(f.store, f.svc, stubResolver{res: Resolution{RetryAfter: time.Minute}}, time.Second, nil)
	waiting.sweep(ctx)
	p, _ := f.svc.Get(ctx, checkout.Payment.ID)
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.False(t, waiting.ready(p.ID, time.Now()), "retry is scheduled")

	poller := NewSettlementPoller(f.store, f.svc, stubResolver{res: Resolution{Status: payment.StatusConfirmed, Note: "settled by query"}}, time.Second, nil)
	poller.sweep(ctx)
	p, _ = f.svc.Get(ctx, checkout.Payment.ID)
	assert.Equal(t, payment.StatusConfirmed, p.Status)
	assert.Equal(t, "vnpay-query", p.ConfirmedBy)
	assert.Contains(t, p.Description, "settled by query")

	require.NoError(t, poller.Start(ctx))
	require.NoError(t, poller.Start(ctx))
	require.NoError(t, poller.Stop(ctx))
	require.NoError(t, poller.Stop(ctx))
}

func TestSettlementPollerForgetsPaymentsSettledElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.loans.BorrowWithPayment(ctx, f.book(t).ID, f.patron.ID, payment.MethodVNPay, "")
	require.NoError(t, err)
	second, err := f.loans.BorrowWithPayment(ctx, f.book(t).ID, f.patron.ID, payment.MethodVNPay, "")
	require.NoError(t, err)

	poller := NewSettlementPoller(f.store, f.svc, stubResolver{res: Resolution{RetryAfter: time.Minute}}, time.Second, nil)
	poller.sweep(ctx)
	assert.Len(t, poller.due, 2)

	rsp := f.svc.HandleIPN(ctx, callback(first.Payment.OrderRef, 50000, "00"))
	require.Equal(t, RspConfirmed, rsp.RspCode)
	_, err = f.svc.Cancel(ctx, second.Payment.ID, f.patron.ID)
	require.NoError(t, err)

	poller.sweep(ctx)
	assert.Empty(t, poller.due)
}

func TestDeadlineResolverUsesExpiryGrace(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	p := payment.Payment{ID: "7", CreatedAt: created}
	r := NewDeadlineResolver(15 * time.Minute)

	r.now = func() time.Time { return created.Add(16 * time.Minute) }
	res, err := r.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.Settled(), "still inside the callback grace")
	assert.Equal(t, 4*time.Minute, res.RetryAfter)

	r.now = func() time.Time { return created.Add(20 * time.Minute) }
	res, err = r.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusExpired, res.Status)
}

func TestIPNArrivingInsideGraceStillConfirms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkout, err := f.loans.BorrowWithPayment(ctx, f.book(t).ID, f.patron.ID, payment.MethodVNPay, "")
	require.NoError(t, err)

	resolver := NewDeadlineResolver(15 * time.Minute)
	resolver.now = func() time.Time { return time.Now().Add(17 * time.Minute) }
	poller := NewSettlementPoller(f.store, f.svc, resolver, time.Second, nil)
	poller.sweep(ctx)

	p, _ := f.svc.Get(ctx, checkout.Payment.ID)
	require.Equal(t, payment.StatusPending, p.Status)

	rsp := f.svc.HandleIPN(ctx, callback(checkout.Payment.OrderRef, 50000, "00"))
	assert.Equal(t, RspConfirmed, rsp.RspCode)
	l, _ := f.loans.Get(ctx, checkout.Loan.ID)
	assert.Equal(t, loan.StatusBorrowed, l.Status)
}

type stubQuerier struct {
	result vnpay.QueryResult
	err    error
}

func (q stubQuerier) QueryTransaction(context.Context, string, time.Time, string) (vnpay.QueryResult, error) {
	return q.result, q.err
}

func TestQueryResolver(t *testing.T) {
	ctx := context.Background()
	p := payment.Payment{ID: "9", OrderRef: "LOAN_9_1", CreatedAt: time.Now()}

	res, err := NewQueryResolver(stubQuerier{result: vnpay.QueryResult{ResponseCode: "00", TransactionStatus: "00"}}, nil).Resolve(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusConfirmed, res.Status)

	res, err = NewQueryResolver(stubQuerier{result: vnpay.QueryResult{ResponseCode: "00", TransactionStatus: "02"}}, nil).Resolve(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, res.Status)

	res, err = NewQueryResolver(stubQuerier{err: vnpay.ErrQueryDisabled}, nil).Resolve(ctx, p)
	require.NoError(t, err)
	assert.False(t, res.Settled(), "deadline fallback waits for fresh payments")
	assert.Positive(t, res.RetryAfter)

	res, err = NewQueryResolver(stubQuerier{err: errors.New("boom")}, nil).Resolve(ctx, p)
	assert.Error(t, err)
	assert.Equal(t, time.Minute, res.RetryAfter)
}

func TestCancelLoanCancelsPendingDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkout, err := f.loans.BorrowWithPayment(ctx, f.book(t).ID, f.patron.ID, payment.MethodCash, "")
	require.NoError(t, err)

	l, err := f.loans.Cancel(ctx, checkout.Loan.ID, "patron changed their mind")
	require.NoError(t, err)
	assert.Equal(t, loan.StatusCancelled, l.Status)
	assert.Contains(t, l.Notes, "patron changed their mind")

	p, _ := f.svc.Get(ctx, checkout.Payment.ID)
	assert.Equal(t, payment.StatusCancelled, p.Status)

	_, err = f.svc.ConfirmCash(ctx, p.ID, "staff-1")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))
	p, _ = f.svc.Get(ctx, checkout.Payment.ID)
	assert.Equal(t, payment.StatusCancelled, p.Status)
	c, _ := f.store.GetCopy(ctx, l.CopyID)
	assert.Equal(t, inventory.StatusAvailable, c.Status)
}

func TestDepositNotConfirmedForClosedLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	online, err := f.loans.BorrowWithPayment(ctx, f.book(t).ID, f.patron.ID, payment.MethodVNPay, "")
	require.NoError(t, err)
	cash, err := f.loans.BorrowWithPayment(ctx, f.book(t).ID, f.patron.ID, payment.MethodCash, "")
	require.NoError(t, err)
	for _, id := range []string{online.Loan.ID, cash.Loan.ID} {
		_, err := f.loans.Abandon(ctx, id, "closed at the desk")
		require.NoError(t, err)
	}

	rsp := f.svc.HandleIPN(ctx, callback(online.Payment.OrderRef, 50000, "00"))
	assert.Equal(t, RspUnknown, rsp.RspCode)
	_, err = f.svc.HandleReturn(ctx, callback(online.Payment.OrderRef, 50000, "00"))
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))
	_, err = f.svc.ConfirmCash(ctx, cash.Payment.ID, "staff-1")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))

	for _, id := range []string{online.Payment.ID, cash.Payment.ID} {
		p, _ := f.svc.Get(ctx, id)
		assert.Equal(t, payment.StatusPending, p.Status, "payment %s must not be confirmed", id)
	}
}

func TestZeroDepositReturnsActiveLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.policy.DepositAmount = 0

	checkout, err := f.loans.BorrowWithPayment(ctx, f.book(t).ID, f.patron.ID, payment.MethodCash, "")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusConfirmed, checkout.Payment.Status)
	assert.Equal(t, loan.StatusBorrowed, checkout.Loan.Status)
}

func TestOrderRef(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "LOAN_5_1700000000123", OrderRef(payment.Payment{ID: "5", Kind: payment.KindDeposit}, at))
	assert.Equal(t, "FINE_5_1700000000123", OrderRef(payment.Payment{ID: "5", Kind: payment.KindFine}, at))
}

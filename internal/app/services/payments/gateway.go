package payments

import (
	"context"
	"errors"
	"net/url"

	"github.com/qltv/library_service/internal/app/domain/payment"
	"github.com/qltv/library_service/internal/app/storage"
	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/internal/vnpay"
)

// Gateway signs pay URLs and verifies callbacks.
type Gateway interface {
	BuildPaymentURL(req vnpay.PaymentRequest) (string, error)
	VerifyReturn(values url.Values) (vnpay.Result, error)
}

// IPN response codes understood by the gateway.
const (
	RspConfirmed        = "00"
	RspOrderNotFound    = "01"
	RspAlreadyConfirmed = "02"
	RspInvalidAmount    = "04"
	RspInvalidSignature = "97"
	RspUnknown          = "99"
)

// IPNResponse is the body returned to the gateway's server callback.
type IPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// PaymentURL signs a redirect for a pending VNPay payment.
func (s *Service) PaymentURL(p payment.Payment, clientIP string) (string, error) {
	if s.gateway == nil {
		return "", svcerrors.Unavailable("online payment is not configured", nil)
	}
	if p.Method != payment.MethodVNPay || p.Status != payment.StatusPending {
		return "", svcerrors.Conflict("payment cannot be paid online")
	}
	info := "Thanh toan dat coc muon sach " + p.LoanID
	if p.Kind == payment.KindFine {
		info = "Thanh toan phi phat " + p.LoanID
	}
	return s.gateway.BuildPaymentURL(vnpay.PaymentRequest{
		TxnRef:    p.OrderRef,
		Amount:    p.Amount,
		OrderInfo: info,
		OrderType: "other",
		IPAddr:    clientIP,
		CreatedAt: s.now(),
		Expire:    s.window,
	})
}

// HandleReturn settles the payment named by the browser return query.
func (s *Service) HandleReturn(ctx context.Context, query url.Values) (payment.Payment, error) {
	p, res, err := s.verify(ctx, query)
	if err != nil {
		return payment.Payment{}, err
	}
	return s.apply(ctx, p, res)
}

// HandleIPN settles a payment from the gateway's server callback and reports
// the outcome in the gateway's response codes.
func (s *Service) HandleIPN(ctx context.Context, query url.Values) IPNResponse {
	p, res, err := s.verify(ctx, query)
	switch {
	case err == nil:
	case svcerrors.HasCode(err, svcerrors.CodeInvalidToken):
		return IPNResponse{RspCode: RspInvalidSignature, Message: "Invalid signature"}
	case svcerrors.HasCode(err, svcerrors.CodeNotFound):
		return IPNResponse{RspCode: RspOrderNotFound, Message: "Order not found"}
	case svcerrors.HasCode(err, svcerrors.CodeInvalidInput):
		return IPNResponse{RspCode: RspInvalidAmount, Message: "Invalid amount"}
	default:
		s.log.WithError(err).Warn("ipn verification failed")
		return IPNResponse{RspCode: RspUnknown, Message: "Unknown error"}
	}
	if p.Status.Final() {
		return IPNResponse{RspCode: RspAlreadyConfirmed, Message: "Order already confirmed"}
	}
	if _, err := s.apply(ctx, p, res); err != nil {
		s.log.WithError(err).WithField("payment_id", p.ID).Warn("ipn settlement failed")
		return IPNResponse{RspCode: RspUnknown, Message: "Unknown error"}
	}
	return IPNResponse{RspCode: RspConfirmed, Message: "Confirm Success"}
}

func (s *Service) verify(ctx context.Context, query url.Values) (payment.Payment, vnpay.Result, error) {
	if s.gateway == nil {
		return payment.Payment{}, vnpay.Result{}, svcerrors.Unavailable("online payment is not configured", nil)
	}
	res, err := s.gateway.VerifyReturn(query)
	if err != nil {
		return payment.Payment{}, vnpay.Result{}, svcerrors.InvalidInput(err.Error())
	}
	if !res.Valid {
		s.log.LogSecurityEvent(ctx, "vnpay_invalid_signature", map[string]interface{}{"txn_ref": query.Get("vnp_TxnRef")})
		return payment.Payment{}, vnpay.Result{}, svcerrors.InvalidToken(errors.New("invalid gateway signature"))
	}
	p, err := s.store.GetPaymentByOrderRef(ctx, res.TxnRef)
	if err != nil {
		return payment.Payment{}, vnpay.Result{}, storage.Translate(err, "payment", res.TxnRef)
	}
	if res.Amount != p.Amount {
		return payment.Payment{}, vnpay.Result{}, svcerrors.InvalidInput("amount does not match the payment").
			WithDetails("expected", p.Amount).
			WithDetails("received", res.Amount)
	}
	return p, res, nil
}

func (s *Service) apply(ctx context.Context, p payment.Payment, res vnpay.Result) (payment.Payment, error) {
	status := payment.StatusFailed
	if res.Success {
		status = payment.StatusConfirmed
	}
	return s.settle(ctx, p.ID, status, func(p *payment.Payment) {
		p.TransactionNo = res.TransactionNo
		p.BankCode = res.BankCode
		p.GatewayResponse = res.ResponseCode
		if res.Success {
			p.ConfirmedBy = "vnpay"
		}
	})
}

package payment

import "time"

// Kind distinguishes what the payment settles.
type Kind string

const (
	KindDeposit Kind = "DEPOSIT"
	KindFine    Kind = "FINE"
)

// Method is how the patron pays.
type Method string

const (
	MethodCash  Method = "CASH"
	MethodVNPay Method = "VNPAY"
)

// Valid reports whether m is a supported method.
func (m Method) Valid() bool { return m == MethodCash || m == MethodVNPay }

// Status is the settlement state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Final reports whether the payment can no longer change.
func (s Status) Final() bool { return s != StatusPending }

// Payment is a deposit or fine payment attached to a loan.
type Payment struct {
	ID              string     `json:"id" db:"id"`
	LoanID          string     `json:"loanId" db:"loan_id"`
	PatronID        string     `json:"patronId" db:"patron_id"`
	Kind            Kind       `json:"kind" db:"kind"`
	Amount          int64      `json:"amount" db:"amount"`
	Method          Method     `json:"paymentMethod" db:"method"`
	Status          Status     `json:"status" db:"status"`
	OrderRef        string     `json:"orderRef,omitempty" db:"order_ref"`
	TransactionNo   string     `json:"transactionNo,omitempty" db:"transaction_no"`
	BankCode        string     `json:"bankCode,omitempty" db:"bank_code"`
	GatewayResponse string     `json:"vnpayResponseCode,omitempty" db:"gateway_response"`
	Description     string     `json:"description,omitempty" db:"description"`
	ConfirmedBy     string     `json:"confirmedBy,omitempty" db:"confirmed_by"`
	ConfirmedAt     *time.Time `json:"confirmedDate,omitempty" db:"confirmed_at"`
	CreatedAt       time.Time  `json:"createdDate" db:"created_at"`
	UpdatedAt       time.Time  `json:"updatedDate" db:"updated_at"`
}

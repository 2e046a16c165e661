package loan

import "time"

// Status is the lifecycle state of a loan.
type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusBorrowed       Status = "BORROWED"
	StatusRenewed        Status = "RENEWED"
	StatusOverdue        Status = "OVERDUE"
	StatusPendingReturn  Status = "PENDING_RETURN"
	StatusReturned       Status = "RETURNED"
	StatusCancelled      Status = "CANCELLED"
)

// Active reports whether the copy is out with the patron.
func (s Status) Active() bool {
	switch s {
	case StatusBorrowed, StatusRenewed, StatusOverdue, StatusPendingReturn:
		return true
	}
	return false
}

// Open reports whether the loan still occupies a borrowing slot.
func (s Status) Open() bool {
	return s.Active() || s == StatusPendingPayment
}

// Loan records a patron borrowing one copy.
type Loan struct {
	ID           string     `json:"id" db:"id"`
	BookID       string     `json:"bookId" db:"book_id"`
	CopyID       string     `json:"copyId" db:"copy_id"`
	PatronID     string     `json:"patronId" db:"patron_id"`
	LoanDate     time.Time  `json:"loanDate" db:"loan_date"`
	DueDate      time.Time  `json:"dueDate" db:"due_date"`
	ReturnDate   *time.Time `json:"returnDate,omitempty" db:"return_date"`
	Status       Status     `json:"status" db:"status"`
	RenewalCount int        `json:"renewalCount" db:"renewal_count"`
	FineAmount   int64      `json:"fineAmount" db:"fine_amount"`
	FinePaid     bool       `json:"finePaid" db:"fine_paid"`
	Notes        string     `json:"notes,omitempty" db:"notes"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
}

// IsRenewed reports whether the loan was renewed at least once.
func (l Loan) IsRenewed() bool { return l.RenewalCount > 0 }

// OutstandingFine is the fine still owed.
func (l Loan) OutstandingFine() int64 {
	if l.FinePaid {
		return 0
	}
	return l.FineAmount
}

// DaysOverdue counts whole days between the due date and at (or the return date).
func (l Loan) DaysOverdue(at time.Time) int {
	end := at
	if l.ReturnDate != nil {
		end = *l.ReturnDate
	}
	due := Day(l.DueDate)
	end = Day(end)
	if !end.After(due) {
		return 0
	}
	return int(end.Sub(due).Hours() / 24)
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

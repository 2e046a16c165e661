package storage

import (
	"strings"

	"github.com/qltv/library_service/internal/app/domain/catalog"
	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/domain/patron"
	"github.com/qltv/library_service/internal/app/domain/payment"
)

// BookFilter narrows ListBooks. Empty fields match everything.
type BookFilter struct {
	Query         string
	CategoryID    string
	AuthorID      string
	PublisherID   string
	Genre         string
	Status        catalog.BookStatus
	AvailableOnly bool
}

// Matches applies the filter to one book.
func (f BookFilter) Matches(b catalog.Book) bool {
	if f.CategoryID != "" && b.CategoryID != f.CategoryID {
		return false
	}
	if f.PublisherID != "" && b.PublisherID != f.PublisherID {
		return false
	}
	if f.Genre != "" && !strings.EqualFold(b.Genre, f.Genre) {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.AvailableOnly && b.AvailableCopies <= 0 {
		return false
	}
	if f.AuthorID != "" {
		found := false
		for _, id := range b.AuthorIDs {
			if id == f.AuthorID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(b.Title), q) &&
			!strings.Contains(strings.ToLower(b.ISBN), q) &&
			!strings.Contains(strings.ToLower(b.Genre), q) {
			return false
		}
	}
	return true
}

// PatronFilter narrows ListPatrons.
type PatronFilter struct {
	Query  string
	Role   patron.Role
	Active *bool
}

// Matches applies the filter to one patron.
func (f PatronFilter) Matches(p patron.Patron) bool {
	if f.Role != "" && p.Role != f.Role {
		return false
	}
	if f.Active != nil && p.Active != *f.Active {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(p.Name), q) &&
			!strings.Contains(strings.ToLower(p.Email), q) &&
			!strings.Contains(p.PhoneNumber, q) {
			return false
		}
	}
	return true
}

// LoanFilter narrows ListLoans.
type LoanFilter struct {
	PatronID string
	BookID   string
	CopyID   string
	Statuses []loan.Status
}

// Matches applies the filter to one loan.
func (f LoanFilter) Matches(l loan.Loan) bool {
	if f.PatronID != "" && l.PatronID != f.PatronID {
		return false
	}
	if f.BookID != "" && l.BookID != f.BookID {
		return false
	}
	if f.CopyID != "" && l.CopyID != f.CopyID {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if l.Status == s {
				return true
			}
		}
		return false
	}
	return true
}

// PaymentFilter narrows ListPayments.
type PaymentFilter struct {
	LoanID   string
	PatronID string
	Kind     payment.Kind
	Method   payment.Method
	Status   payment.Status
}

// Matches applies the filter to one payment.
func (f PaymentFilter) Matches(p payment.Payment) bool {
	return (f.LoanID == "" || p.LoanID == f.LoanID) &&
		(f.PatronID == "" || p.PatronID == f.PatronID) &&
		(f.Kind == "" || p.Kind == f.Kind) &&
		(f.Method == "" || p.Method == f.Method) &&
		(f.Status == "" || p.Status == f.Status)
}

// ReviewFilter narrows ListReviews.
type ReviewFilter struct {
	BookID   string
	PatronID string
	LoanID   string
	Approved *bool
}

// Matches applies the filter to one review.
func (f ReviewFilter) Matches(bookID, patronID, loanID string, approved bool) bool {
	return (f.BookID == "" || bookID == f.BookID) &&
		(f.PatronID == "" || patronID == f.PatronID) &&
		(f.LoanID == "" || loanID == f.LoanID) &&
		(f.Approved == nil || approved == *f.Approved)
}

package storage

import (
	"context"
	"errors"

	"github.com/qltv/library_service/internal/app/domain/catalog"
	"github.com/qltv/library_service/internal/app/domain/inventory"
	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/domain/membership"
	"github.com/qltv/library_service/internal/app/domain/patron"
	"github.com/qltv/library_service/internal/app/domain/payment"
	"github.com/qltv/library_service/internal/app/domain/review"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned on unique constraint violations and failed
	// conditional updates.
	ErrConflict = errors.New("record conflict")
)

// PatronStore persists patrons and staff accounts.
type PatronStore interface {
	CreatePatron(ctx context.Context, p patron.Patron) (patron.Patron, error)
	UpdatePatron(ctx context.Context, p patron.Patron) (patron.Patron, error)
	GetPatron(ctx context.Context, id string) (patron.Patron, error)
	GetPatronByEmail(ctx context.Context, email string) (patron.Patron, error)
	ListPatrons(ctx context.Context, filter PatronFilter) ([]patron.Patron, error)
	DeletePatron(ctx context.Context, id string) error
}

// CatalogStore persists books and their reference data.
type CatalogStore interface {
	CreateBook(ctx context.Context, b catalog.Book) (catalog.Book, error)
	UpdateBook(ctx context.Context, b catalog.Book) (catalog.Book, error)
	GetBook(ctx context.Context, id string) (catalog.Book, error)
	ListBooks(ctx context.Context, filter BookFilter) ([]catalog.Book, error)
	DeleteBook(ctx context.Context, id string) error

	CreateAuthor(ctx context.Context, a catalog.Author) (catalog.Author, error)
	UpdateAuthor(ctx context.Context, a catalog.Author) (catalog.Author, error)
	GetAuthor(ctx context.Context, id string) (catalog.Author, error)
	ListAuthors(ctx context.Context) ([]catalog.Author, error)
	DeleteAuthor(ctx context.Context, id string) error

	CreateCategory(ctx context.Context, c catalog.Category) (catalog.Category, error)
	UpdateCategory(ctx context.Context, c catalog.Category) (catalog.Category, error)
	GetCategory(ctx context.Context, id string) (catalog.Category, error)
	ListCategories(ctx context.Context) ([]catalog.Category, error)
	DeleteCategory(ctx context.Context, id string) error

	CreatePublisher(ctx context.Context, p catalog.Publisher) (catalog.Publisher, error)
	UpdatePublisher(ctx context.Context, p catalog.Publisher) (catalog.Publisher, error)
	GetPublisher(ctx context.Context, id string) (catalog.Publisher, error)
	ListPublishers(ctx context.Context) ([]catalog.Publisher, error)
	DeletePublisher(ctx context.Context, id string) error
}

// CopyStore persists physical copies.
type CopyStore interface {
	CreateCopy(ctx context.Context, c inventory.Copy) (inventory.Copy, error)
	UpdateCopy(ctx context.Context, c inventory.Copy) (inventory.Copy, error)
	GetCopy(ctx context.Context, id string) (inventory.Copy, error)
	GetCopyByBarcode(ctx context.Context, barcode string) (inventory.Copy, error)
	// ListCopies returns copies of a book ordered by copy number. An empty
	// bookID lists every copy.
	ListCopies(ctx context.Context, bookID string) ([]inventory.Copy, error)
	DeleteCopy(ctx context.Context, id string) error
	// TransitionCopy moves a copy from one status to another atomically and
	// returns ErrConflict when the copy is not in the expected status.
	TransitionCopy(ctx context.Context, id string, from, to inventory.Status) (inventory.Copy, error)
}

// LoanStore persists loans.
type LoanStore interface {
	CreateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error)
	UpdateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error)
	GetLoan(ctx context.Context, id string) (loan.Loan, error)
	ListLoans(ctx context.Context, filter LoanFilter) ([]loan.Loan, error)
}

// PaymentStore persists deposit and fine payments.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error)
	UpdatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error)
	GetPayment(ctx context.Context, id string) (payment.Payment, error)
	GetPaymentByOrderRef(ctx context.Context, ref string) (payment.Payment, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]payment.Payment, error)
}

// MembershipStore persists tiers and patron memberships.
type MembershipStore interface {
	CreateTier(ctx context.Context, t membership.Tier) (membership.Tier, error)
	UpdateTier(ctx context.Context, t membership.Tier) (membership.Tier, error)
	GetTier(ctx context.Context, id string) (membership.Tier, error)
	ListTiers(ctx context.Context) ([]membership.Tier, error)

	CreateMembership(ctx context.Context, m membership.Membership) (membership.Membership, error)
	UpdateMembership(ctx context.Context, m membership.Membership) (membership.Membership, error)
	GetMembershipByPatron(ctx context.Context, patronID string) (membership.Membership, error)
	ListMemberships(ctx context.Context) ([]membership.Membership, error)
}

// ReviewStore persists book reviews.
type ReviewStore interface {
	CreateReview(ctx context.Context, r review.Review) (review.Review, error)
	UpdateReview(ctx context.Context, r review.Review) (review.Review, error)
	GetReview(ctx context.Context, id string) (review.Review, error)
	ListReviews(ctx context.Context, filter ReviewFilter) ([]review.Review, error)
	DeleteReview(ctx context.Context, id string) error
}

// Pinger is implemented by stores backed by a remote database.
type Pinger interface {
	Ping(ctx context.Context) error
}

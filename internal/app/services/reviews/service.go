package reviews

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/domain/review"
	"github.com/qltv/library_service/internal/app/realtime"
	"github.com/qltv/library_service/internal/app/storage"
	"github.com/qltv/library_service/internal/cache"
	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/pkg/logger"
)

const (
	maxCommentLength = 2000
	defaultStatsTTL  = 10 * time.Minute
)

// Service moderates patron reviews of returned books.
type Service struct {
	store  storage.ReviewStore
	loans  storage.LoanStore
	books  storage.CatalogStore
	cache  cache.Cache
	ttl    time.Duration
	events realtime.Publisher
	log    *logger.Logger
}

// New constructs the review service.
func New(store storage.ReviewStore, loans storage.LoanStore, books storage.CatalogStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("reviews")
	}
	return &Service{
		store:  store,
		loans:  loans,
		books:  books,
		cache:  cache.Noop{},
		ttl:    defaultStatsTTL,
		events: realtime.NopPublisher{},
		log:    log,
	}
}

// AttachCache enables caching of rating statistics.
func (s *Service) AttachCache(c cache.Cache, ttl time.Duration) {
	if c == nil {
		return
	}
	s.cache = c
	if ttl > 0 {
		s.ttl = ttl
	}
}

// AttachPublisher routes review events to p.
func (s *Service) AttachPublisher(p realtime.Publisher) {
	if p != nil {
		s.events = p
	}
}

// CanReview reports whether the patron returned the book and has not
// reviewed it yet.
func (s *Service) CanReview(ctx context.Context, patronID, bookID string) (bool, error) {
	l, err := s.lastReturned(ctx, patronID, bookID)
	if err != nil {
		return false, err
	}
	if l == nil {
		return false, nil
	}
	existing, err := s.store.ListReviews(ctx, storage.ReviewFilter{PatronID: patronID, BookID: bookID})
	if err != nil {
		return false, err
	}
	return len(existing) == 0, nil
}

// Create submits a review for moderation.
func (s *Service) Create(ctx context.Context, patronID, bookID string, rating int, comment string) (review.Review, error) {
	if rating < 1 || rating > 5 {
		return review.Review{}, svcerrors.InvalidInput("rating must be between 1 and 5")
	}
	comment = strings.TrimSpace(comment)
	if utf8.RuneCountInString(comment) > maxCommentLength {
		return review.Review{}, svcerrors.InvalidInputf("comment cannot exceed %d characters", maxCommentLength)
	}
	if _, err := s.books.GetBook(ctx, bookID); err != nil {
		return review.Review{}, storage.Translate(err, "book", bookID)
	}
	ok, err := s.CanReview(ctx, patronID, bookID)
	if err != nil {
		return review.Review{}, err
	}
	if !ok {
		return review.Review{}, svcerrors.Forbidden("only patrons who returned this book may review it once")
	}
	l, err := s.lastReturned(ctx, patronID, bookID)
	if err != nil {
		return review.Review{}, err
	}

	r, err := s.store.CreateReview(ctx, review.Review{
		BookID:   bookID,
		PatronID: patronID,
		LoanID:   l.ID,
		Rating:   rating,
		Comment:  comment,
	})
	if errors.Is(err, storage.ErrConflict) {
		return review.Review{}, svcerrors.AlreadyExists("review", "bookId", bookID)
	}
	if err != nil {
		return review.Review{}, err
	}
	s.log.WithField("review_id", r.ID).WithField("book_id", bookID).Info("review submitted")
	s.events.Publish(ctx, realtime.EventReviewSubmitted, r)
	return r, nil
}

// Get fetches one review.
func (s *Service) Get(ctx context.Context, id string) (review.Review, error) {
	r, err := s.store.GetReview(ctx, id)
	if err != nil {
		return review.Review{}, storage.Translate(err, "review", id)
	}
	return r, nil
}

// Approve publishes a review.
func (s *Service) Approve(ctx context.Context, id string) (review.Review, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return review.Review{}, err
	}
	if r.Approved {
		return r, nil
	}
	r.Approved = true
	r, err = s.store.UpdateReview(ctx, r)
	if err != nil {
		return review.Review{}, storage.Translate(err, "review", id)
	}
	s.invalidate(ctx, r.BookID)
	s.log.WithField("review_id", id).Info("review approved")
	return r, nil
}

// Delete removes a review.
func (s *Service) Delete(ctx context.Context, id string) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteReview(ctx, id); err != nil {
		return storage.Translate(err, "review", id)
	}
	s.invalidate(ctx, r.BookID)
	s.log.WithField("review_id", id).Info("review deleted")
	return nil
}

// ListAll pages through every review, newest first.
func (s *Service) ListAll(ctx context.Context, page storage.Page) (storage.PageResult[review.Review], error) {
	return s.page(ctx, storage.ReviewFilter{}, page)
}

// ListPending pages through reviews awaiting moderation.
func (s *Service) ListPending(ctx context.Context, page storage.Page) (storage.PageResult[review.Review], error) {
	approved := false
	return s.page(ctx, storage.ReviewFilter{Approved: &approved}, page)
}

// ListApproved pages through published reviews.
func (s *Service) ListApproved(ctx context.Context, page storage.Page) (storage.PageResult[review.Review], error) {
	approved := true
	return s.page(ctx, storage.ReviewFilter{Approved: &approved}, page)
}

// ForBook lists the published reviews of a book.
func (s *Service) ForBook(ctx context.Context, bookID string) ([]review.Review, error) {
	approved := true
	return s.store.ListReviews(ctx, storage.ReviewFilter{BookID: bookID, Approved: &approved})
}

// ByPatron lists every review written by a patron.
func (s *Service) ByPatron(ctx context.Context, patronID string) ([]review.Review, error) {
	return s.store.ListReviews(ctx, storage.ReviewFilter{PatronID: patronID})
}

// ByLoan returns the review attached to a loan.
func (s *Service) ByLoan(ctx context.Context, loanID string) (review.Review, error) {
	found, err := s.store.ListReviews(ctx, storage.ReviewFilter{LoanID: loanID})
	if err != nil {
		return review.Review{}, err
	}
	if len(found) == 0 {
		return review.Review{}, svcerrors.NotFound("review", "loan "+loanID)
	}
	return found[0], nil
}

// Stats averages the published ratings of a book to one decimal.
func (s *Service) Stats(ctx context.Context, bookID string) (review.Stats, error) {
	var cached review.Stats
	if ok, err := s.cache.Get(ctx, statsKey(bookID), &cached); err != nil {
		s.log.WithError(err).Warn("rating stats cache read failed")
	} else if ok {
		return cached, nil
	}

	published, err := s.ForBook(ctx, bookID)
	if err != nil {
		return review.Stats{}, err
	}
	stats := review.Stats{BookID: bookID, ReviewCount: len(published)}
	if len(published) > 0 {
		sum := 0
		for _, r := range published {
			sum += r.Rating
		}
		stats.AverageRating = math.Round(float64(sum)/float64(len(published))*10) / 10
	}
	if err := s.cache.Set(ctx, statsKey(bookID), stats, s.ttl); err != nil {
		s.log.WithError(err).Warn("rating stats cache write failed")
	}
	return stats, nil
}

func (s *Service) page(ctx context.Context, filter storage.ReviewFilter, page storage.Page) (storage.PageResult[review.Review], error) {
	all, err := s.store.ListReviews(ctx, filter)
	if err != nil {
		return storage.PageResult[review.Review]{}, err
	}
	return storage.Paginate(all, page), nil
}

// lastReturned finds the patron's most recently returned loan of the book.
func (s *Service) lastReturned(ctx context.Context, patronID, bookID string) (*loan.Loan, error) {
	returned, err := s.loans.ListLoans(ctx, storage.LoanFilter{
		PatronID: patronID,
		BookID:   bookID,
		Statuses: []loan.Status{loan.StatusReturned},
	})
	if err != nil {
		return nil, err
	}
	var latest *loan.Loan
	for i := range returned {
		l := &returned[i]
		if latest == nil || returnedAt(*l).After(returnedAt(*latest)) {
			latest = l
		}
	}
	return latest, nil
}

func returnedAt(l loan.Loan) time.Time {
	if l.ReturnDate != nil {
		return *l.ReturnDate
	}
	return l.UpdatedAt
}

func statsKey(bookID string) string { return "reviews:stats:" + bookID }

func (s *Service) invalidate(ctx context.Context, bookID string) {
	if err := s.cache.Delete(ctx, statsKey(bookID), "catalog:stats"); err != nil {
		s.log.WithError(err).Warn("rating stats cache invalidation failed")
	}
}

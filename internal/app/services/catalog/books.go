package catalog

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/qltv/library_service/internal/app/domain/catalog"
	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/storage"
	svcerrors "github.com/qltv/library_service/internal/errors"
)

// CreateBook adds a title. Copy counts start at zero and follow the copies.
func (s *Service) CreateBook(ctx context.Context, in catalog.Book) (catalog.Book, error) {
	if err := s.validateBook(ctx, &in); err != nil {
		return catalog.Book{}, err
	}
	in.ID = ""
	in.TotalCopies = 0
	in.AvailableCopies = 0
	if in.Status != catalog.StatusDiscontinued {
		in.Status = catalog.StatusUnavailable
	}
	b, err := s.store.CreateBook(ctx, in)
	if errors.Is(err, storage.ErrConflict) {
		return catalog.Book{}, svcerrors.AlreadyExists("book", "isbn", in.ISBN)
	}
	if err != nil {
		return catalog.Book{}, err
	}
	s.invalidate(ctx)
	s.log.WithField("book_id", b.ID).WithField("title", b.Title).Info("book created")
	return b, nil
}

// UpdateBook replaces the descriptive fields of a book. Setting status to
// DISCONTINUED withdraws it; any other status re-derives it from the copies.
func (s *Service) UpdateBook(ctx context.Context, id string, in catalog.Book) (catalog.Book, error) {
	current, err := s.getBook(ctx, id)
	if err != nil {
		return catalog.Book{}, err
	}
	if err := s.validateBook(ctx, &in); err != nil {
		return catalog.Book{}, err
	}
	in.ID = current.ID
	in.TotalCopies = current.TotalCopies
	in.AvailableCopies = current.AvailableCopies
	in.CreatedAt = current.CreatedAt
	if in.ImageURL == "" {
		in.ImageURL = current.ImageURL
	}
	if in.Status != catalog.StatusDiscontinued {
		in.Status = in.DeriveStatus()
	}

	b, err := s.store.UpdateBook(ctx, in)
	if errors.Is(err, storage.ErrConflict) {
		return catalog.Book{}, svcerrors.AlreadyExists("book", "isbn", in.ISBN)
	}
	if err != nil {
		return catalog.Book{}, storage.Translate(err, "book", id)
	}
	s.invalidate(ctx, id)
	s.log.WithField("book_id", id).Info("book updated")
	return b, nil
}

// DeleteBook removes a book and its copies unless it is on loan.
func (s *Service) DeleteBook(ctx context.Context, id string) error {
	if _, err := s.getBook(ctx, id); err != nil {
		return err
	}
	if s.loans != nil {
		loans, err := s.loans.ListLoans(ctx, storage.LoanFilter{BookID: id})
		if err != nil {
			return err
		}
		for _, l := range loans {
			if l.Status.Open() {
				return svcerrors.Conflict("book has active loans")
			}
		}
	}
	if err := s.store.DeleteBook(ctx, id); err != nil {
		return storage.Translate(err, "book", id)
	}
	s.invalidate(ctx, id)
	s.log.WithField("book_id", id).Info("book deleted")
	return nil
}

// GetBook returns a book, served from cache when possible.
func (s *Service) GetBook(ctx context.Context, id string) (catalog.Book, error) {
	var cached catalog.Book
	if s.cacheGet(ctx, bookKey(id), &cached) {
		return cached, nil
	}
	b, err := s.getBook(ctx, id)
	if err != nil {
		return catalog.Book{}, err
	}
	s.cacheSet(ctx, bookKey(id), b)
	return b, nil
}

func (s *Service) getBook(ctx context.Context, id string) (catalog.Book, error) {
	b, err := s.store.GetBook(ctx, id)
	if err != nil {
		return catalog.Book{}, storage.Translate(err, "book", id)
	}
	return b, nil
}

// ListBooks pages through books matching filter ordered by id.
func (s *Service) ListBooks(ctx context.Context, filter storage.BookFilter, page storage.Page) (storage.PageResult[catalog.Book], error) {
	books, err := s.store.ListBooks(ctx, filter)
	if err != nil {
		return storage.PageResult[catalog.Book]{}, err
	}
	return storage.Paginate(books, page), nil
}

// ApplyCopyCounts stores recounted copy totals and the derived status.
func (s *Service) ApplyCopyCounts(ctx context.Context, bookID string, total, available int) (catalog.Book, error) {
	b, err := s.getBook(ctx, bookID)
	if err != nil {
		return catalog.Book{}, err
	}
	if b.TotalCopies == total && b.AvailableCopies == available && b.Status == b.DeriveStatus() {
		return b, nil
	}
	b.TotalCopies = total
	b.AvailableCopies = available
	b.Status = b.DeriveStatus()
	b, err = s.store.UpdateBook(ctx, b)
	if err != nil {
		return catalog.Book{}, storage.Translate(err, "book", bookID)
	}
	s.invalidate(ctx, bookID)
	return b, nil
}

// SetCover uploads an image and points the book at it.
func (s *Service) SetCover(ctx context.Context, bookID string, body io.Reader) (catalog.Book, error) {
	if s.covers == nil {
		return catalog.Book{}, svcerrors.Unavailable("cover uploads are not configured", nil)
	}
	b, err := s.getBook(ctx, bookID)
	if err != nil {
		return catalog.Book{}, err
	}
	url, err := s.covers.Upload(ctx, bookID, body)
	if err != nil {
		return catalog.Book{}, err
	}
	b.ImageURL = url
	b, err = s.store.UpdateBook(ctx, b)
	if err != nil {
		return catalog.Book{}, storage.Translate(err, "book", bookID)
	}
	s.invalidate(ctx, bookID)
	return b, nil
}

// BookCount pairs a book with a count.
type BookCount struct {
	Book  catalog.Book `json:"book"`
	Count int          `json:"count"`
}

// BookRating pairs a book with its approved review average.
type BookRating struct {
	Book          catalog.Book `json:"book"`
	AverageRating float64      `json:"averageRating"`
	ReviewCount   int          `json:"reviewCount"`
}

// MostBorrowed ranks books by loans that reached the patron.
func (s *Service) MostBorrowed(ctx context.Context, limit int) ([]BookCount, error) {
	limit = clampLimit(limit)
	counts, err := s.loanCounts(ctx)
	if err != nil {
		return nil, err
	}
	books, err := s.store.ListBooks(ctx, storage.BookFilter{})
	if err != nil {
		return nil, err
	}
	out := make([]BookCount, 0, len(books))
	for _, b := range books {
		if counts[b.ID] > 0 {
			out = append(out, BookCount{Book: b, Count: counts[b.ID]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FeaturedBooks lists the best rated books, topped up with the most borrowed.
func (s *Service) FeaturedBooks(ctx context.Context, limit int) ([]catalog.Book, error) {
	limit = clampLimit(limit)
	books, err := s.store.ListBooks(ctx, storage.BookFilter{})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]catalog.Book, len(books))
	for _, b := range books {
		if b.Status != catalog.StatusDiscontinued {
			byID[b.ID] = b
		}
	}

	out := make([]catalog.Book, 0, limit)
	seen := make(map[string]bool)
	ratings, err := s.TopRated(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, r := range ratings {
		if _, ok := byID[r.Book.ID]; ok && len(out) < limit {
			out = append(out, r.Book)
			seen[r.Book.ID] = true
		}
	}
	if len(out) < limit {
		popular, err := s.MostBorrowed(ctx, len(books))
		if err != nil {
			return nil, err
		}
		for _, p := range popular {
			if len(out) >= limit {
				break
			}
			if _, ok := byID[p.Book.ID]; ok && !seen[p.Book.ID] {
				out = append(out, p.Book)
				seen[p.Book.ID] = true
			}
		}
	}
	return out, nil
}

// TopRated ranks books by approved review average, then review count.
func (s *Service) TopRated(ctx context.Context, limit int) ([]BookRating, error) {
	limit = clampLimit(limit)
	if s.reviews == nil {
		return nil, nil
	}
	approved := true
	reviews, err := s.reviews.ListReviews(ctx, storage.ReviewFilter{Approved: &approved})
	if err != nil {
		return nil, err
	}
	sums := make(map[string]int)
	counts := make(map[string]int)
	for _, r := range reviews {
		sums[r.BookID] += r.Rating
		counts[r.BookID]++
	}
	out := make([]BookRating, 0, len(counts))
	for bookID, n := range counts {
		b, err := s.store.GetBook(ctx, bookID)
		if err != nil {
			continue
		}
		avg := float64(sums[bookID]) / float64(n)
		out = append(out, BookRating{Book: b, AverageRating: float64(int(avg*10+0.5)) / 10, ReviewCount: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AverageRating != out[j].AverageRating {
			return out[i].AverageRating > out[j].AverageRating
		}
		if out[i].ReviewCount != out[j].ReviewCount {
			return out[i].ReviewCount > out[j].ReviewCount
		}
		return out[i].Book.ID < out[j].Book.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecentBooks lists the newest additions.
func (s *Service) RecentBooks(ctx context.Context, limit int) ([]catalog.Book, error) {
	limit = clampLimit(limit)
	books, err := s.store.ListBooks(ctx, storage.BookFilter{})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(books, func(i, j int) bool { return books[i].CreatedAt.After(books[j].CreatedAt) })
	if len(books) > limit {
		books = books[:limit]
	}
	return books, nil
}

// StatusSummary counts books per status.
func (s *Service) StatusSummary(ctx context.Context) (map[catalog.BookStatus]int, error) {
	books, err := s.store.ListBooks(ctx, storage.BookFilter{})
	if err != nil {
		return nil, err
	}
	out := map[catalog.BookStatus]int{
		catalog.StatusAvailable:    0,
		catalog.StatusUnavailable:  0,
		catalog.StatusDiscontinued: 0,
	}
	for _, b := range books {
		out[b.Status]++
	}
	return out, nil
}

// Statistics summarises the catalog.
type Statistics struct {
	TotalBooks      int                        `json:"totalBooks"`
	TotalCopies     int                        `json:"totalCopies"`
	AvailableCopies int                        `json:"availableCopies"`
	Authors         int                        `json:"totalAuthors"`
	Categories      int                        `json:"totalCategories"`
	Publishers      int                        `json:"totalPublishers"`
	Genres          int                        `json:"totalGenres"`
	ByStatus        map[catalog.BookStatus]int `json:"byStatus"`
}

// Statistics computes catalog totals, cached until the next mutation.
func (s *Service) Statistics(ctx context.Context) (Statistics, error) {
	var stats Statistics
	if s.cacheGet(ctx, statsKey, &stats) {
		return stats, nil
	}
	books, err := s.store.ListBooks(ctx, storage.BookFilter{})
	if err != nil {
		return Statistics{}, err
	}
	authors, err := s.store.ListAuthors(ctx)
	if err != nil {
		return Statistics{}, err
	}
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return Statistics{}, err
	}
	publishers, err := s.store.ListPublishers(ctx)
	if err != nil {
		return Statistics{}, err
	}

	stats = Statistics{
		TotalBooks: len(books),
		Authors:    len(authors),
		Categories: len(categories),
		Publishers: len(publishers),
		ByStatus:   map[catalog.BookStatus]int{},
	}
	genres := make(map[string]bool)
	for _, b := range books {
		stats.TotalCopies += b.TotalCopies
		stats.AvailableCopies += b.AvailableCopies
		stats.ByStatus[b.Status]++
		if g := strings.ToLower(strings.TrimSpace(b.Genre)); g != "" {
			genres[g] = true
		}
	}
	stats.Genres = len(genres)
	s.cacheSet(ctx, statsKey, stats)
	return stats, nil
}

// Genres lists distinct genres alphabetically.
func (s *Service) Genres(ctx context.Context) ([]string, error) {
	books, err := s.store.ListBooks(ctx, storage.BookFilter{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, b := range books {
		g := strings.TrimSpace(b.Genre)
		if g == "" || seen[strings.ToLower(g)] {
			continue
		}
		seen[strings.ToLower(g)] = true
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Service) loanCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	if s.loans == nil {
		return counts, nil
	}
	loans, err := s.loans.ListLoans(ctx, storage.LoanFilter{})
	if err != nil {
		return nil, err
	}
	for _, l := range loans {
		if l.Status == loan.StatusCancelled || l.Status == loan.StatusPendingPayment {
			continue
		}
		counts[l.BookID]++
	}
	return counts, nil
}

func (s *Service) validateBook(ctx context.Context, b *catalog.Book) error {
	b.Title = strings.TrimSpace(b.Title)
	b.ISBN = strings.TrimSpace(b.ISBN)
	b.Genre = strings.TrimSpace(b.Genre)
	if b.Title == "" {
		return svcerrors.InvalidInput("title is required")
	}
	if len(b.Title) > 255 {
		return svcerrors.InvalidInput("title must be at most 255 characters")
	}
	if b.Fee < 0 {
		return svcerrors.InvalidInput("fee cannot be negative")
	}
	if b.Status != "" && b.Status != catalog.StatusAvailable && b.Status != catalog.StatusUnavailable && b.Status != catalog.StatusDiscontinued {
		return svcerrors.InvalidInputf("unknown status %q", b.Status)
	}
	if b.CategoryID != "" {
		if _, err := s.store.GetCategory(ctx, b.CategoryID); err != nil {
			return referenceError(err, "category", b.CategoryID)
		}
	}
	if b.PublisherID != "" {
		if _, err := s.store.GetPublisher(ctx, b.PublisherID); err != nil {
			return referenceError(err, "publisher", b.PublisherID)
		}
	}
	authors := make([]string, 0, len(b.AuthorIDs))
	seen := make(map[string]bool)
	for _, id := range b.AuthorIDs {
		if id == "" || seen[id] {
			continue
		}
		if _, err := s.store.GetAuthor(ctx, id); err != nil {
			return referenceError(err, "author", id)
		}
		seen[id] = true
		authors = append(authors, id)
	}
	b.AuthorIDs = authors
	return nil
}

func referenceError(err error, resource, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return svcerrors.InvalidInputf("%s %s does not exist", resource, id)
	}
	return err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	if limit > storage.MaxPageSize {
		return storage.MaxPageSize
	}
	return limit
}

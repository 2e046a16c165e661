package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/qltv/library_service/internal/app/domain/catalog"
	"github.com/qltv/library_service/internal/app/domain/inventory"
	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/domain/membership"
	"github.com/qltv/library_service/internal/app/domain/patron"
	"github.com/qltv/library_service/internal/app/domain/payment"
	"github.com/qltv/library_service/internal/app/domain/review"
	"github.com/qltv/library_service/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu          sync.RWMutex
	nextID      int64
	patrons     map[string]patron.Patron
	books       map[string]catalog.Book
	authors     map[string]catalog.Author
	categories  map[string]catalog.Category
	publishers  map[string]catalog.Publisher
	copies      map[string]inventory.Copy
	loans       map[string]loan.Loan
	payments    map[string]payment.Payment
	tiers       map[string]membership.Tier
	memberships map[string]membership.Membership
	reviews     map[string]review.Review
}

var _ storage.PatronStore = (*Store)(nil)
var _ storage.CatalogStore = (*Store)(nil)
var _ storage.CopyStore = (*Store)(nil)
var _ storage.LoanStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.MembershipStore = (*Store)(nil)
var _ storage.ReviewStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:      1,
		patrons:     make(map[string]patron.Patron),
		books:       make(map[string]catalog.Book),
		authors:     make(map[string]catalog.Author),
		categories:  make(map[string]catalog.Category),
		publishers:  make(map[string]catalog.Publisher),
		copies:      make(map[string]inventory.Copy),
		loans:       make(map[string]loan.Loan),
		payments:    make(map[string]payment.Payment),
		tiers:       make(map[string]membership.Tier),
		memberships: make(map[string]membership.Membership),
		reviews:     make(map[string]review.Review),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
}

func conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), storage.ErrConflict)
}

// lessID orders the sequential ids numerically.
func lessID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// PatronStore implementation --------------------------------------------------

func (s *Store) CreatePatron(_ context.Context, p patron.Patron) (patron.Patron, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(p.Email)
	for _, existing := range s.patrons {
		if strings.ToLower(existing.Email) == email {
			return patron.Patron{}, conflict("patron email %s", p.Email)
		}
	}
	if p.ID == "" {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.patrons[p.ID]; exists {
		return patron.Patron{}, conflict("patron %s already exists", p.ID)
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.patrons[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePatron(_ context.Context, p patron.Patron) (patron.Patron, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.patrons[p.ID]
	if !ok {
		return patron.Patron{}, notFound("patron", p.ID)
	}
	for id, existing := range s.patrons {
		if id != p.ID && strings.EqualFold(existing.Email, p.Email) {
			return patron.Patron{}, conflict("patron email %s", p.Email)
		}
	}
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.patrons[p.ID] = p
	return p, nil
}

func (s *Store) GetPatron(_ context.Context, id string) (patron.Patron, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patrons[id]
	if !ok {
		return patron.Patron{}, notFound("patron", id)
	}
	return p, nil
}

func (s *Store) GetPatronByEmail(_ context.Context, email string) (patron.Patron, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.patrons {
		if strings.EqualFold(p.Email, email) {
			return p, nil
		}
	}
	return patron.Patron{}, notFound("patron", email)
}

func (s *Store) ListPatrons(_ context.Context, filter storage.PatronFilter) ([]patron.Patron, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]patron.Patron, 0, len(s.patrons))
	for _, p := range s.patrons {
		if filter.Matches(p) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].ID, result[j].ID) })
	return result, nil
}

func (s *Store) DeletePatron(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patrons[id]; !ok {
		return notFound("patron", id)
	}
	delete(s.patrons, id)
	for mid, m := range s.memberships {
		if m.PatronID == id {
			delete(s.memberships, mid)
		}
	}
	return nil
}

// CatalogStore implementation -------------------------------------------------

func (s *Store) CreateBook(_ context.Context, b catalog.Book) (catalog.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ISBN != "" {
		for _, existing := range s.books {
			if existing.ISBN == b.ISBN {
				return catalog.Book{}, conflict("book isbn %s", b.ISBN)
			}
		}
	}
	if b.ID == "" {
		b.ID = s.nextIDLocked()
	} else if _, exists := s.books[b.ID]; exists {
		return catalog.Book{}, conflict("book %s already exists", b.ID)
	}

	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	b = cloneBook(b)
	s.books[b.ID] = b
	return cloneBook(b), nil
}

func (s *Store) UpdateBook(_ context.Context, b catalog.Book) (catalog.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.books[b.ID]
	if !ok {
		return catalog.Book{}, notFound("book", b.ID)
	}
	if b.ISBN != "" {
		for id, existing := range s.books {
			if id != b.ID && existing.ISBN == b.ISBN {
				return catalog.Book{}, conflict("book isbn %s", b.ISBN)
			}
		}
	}
	b.CreatedAt = original.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	b = cloneBook(b)
	s.books[b.ID] = b
	return cloneBook(b), nil
}

func (s *Store) GetBook(_ context.Context, id string) (catalog.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[id]
	if !ok {
		return catalog.Book{}, notFound("book", id)
	}
	return cloneBook(b), nil
}

func (s *Store) ListBooks(_ context.Context, filter storage.BookFilter) ([]catalog.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]catalog.Book, 0, len(s.books))
	for _, b := range s.books {
		if filter.Matches(b) {
			result = append(result, cloneBook(b))
		}
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].ID, result[j].ID) })
	return result, nil
}

func (s *Store) DeleteBook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.books[id]; !ok {
		return notFound("book", id)
	}
	delete(s.books, id)
	for cid, c := range s.copies {
		if c.BookID == id {
			delete(s.copies, cid)
		}
	}
	return nil
}

func (s *Store) CreateAuthor(_ context.Context, a catalog.Author) (catalog.Author, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	s.authors[a.ID] = a
	return a, nil
}

func (s *Store) UpdateAuthor(_ context.Context, a catalog.Author) (catalog.Author, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.authors[a.ID]
	if !ok {
		return catalog.Author{}, notFound("author", a.ID)
	}
	a.CreatedAt = original.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	s.authors[a.ID] = a
	return a, nil
}

func (s *Store) GetAuthor(_ context.Context, id string) (catalog.Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.authors[id]
	if !ok {
		return catalog.Author{}, notFound("author", id)
	}
	return a, nil
}

func (s *Store) ListAuthors(_ context.Context) ([]catalog.Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]catalog.Author, 0, len(s.authors))
	for _, a := range s.authors {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].ID, result[j].ID) })
	return result, nil
}

func (s *Store) DeleteAuthor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authors[id]; !ok {
		return notFound("author", id)
	}
	delete(s.authors, id)
	return nil
}

func (s *Store) CreateCategory(_ context.Context, c catalog.Category) (catalog.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.categories[c.ID] = c
	return c, nil
}

func (s *Store) UpdateCategory(_ context.Context, c catalog.Category) (catalog.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.categories[c.ID]
	if !ok {
		return catalog.Category{}, notFound("category", c.ID)
	}
	c.CreatedAt = original.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	s.categories[c.ID] = c
	return c, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[id]
	if !ok {
		return catalog.Category{}, notFound("category", id)
	}
	return c, nil
}

func (s *Store) ListCategories(_ context.Context) ([]catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]catalog.Category, 0, len(s.categories))
	for _, c := range s.categories {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].ID, result[j].ID) })
	return result, nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[id]; !ok {
		return notFound("category", id)
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) CreatePublisher(_ context.Context, p catalog.Publisher) (catalog.Publisher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.publishers[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePublisher(_ context.Context, p catalog.Publisher) (catalog.Publisher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.publishers[p.ID]
	if !ok {
		return catalog.Publisher{}, notFound("publisher", p.ID)
	}
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.publishers[p.ID] = p
	return p, nil
}

func (s *Store) GetPublisher(_ context.Context, id string) (catalog.Publisher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.publishers[id]
	if !ok {
		return catalog.Publisher{}, notFound("publisher", id)
	}
	return p, nil
}

func (s *Store) ListPublishers(_ context.Context) ([]catalog.Publisher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]catalog.Publisher, 0, len(s.publishers))
	for _, p := range s.publishers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].ID, result[j].ID) })
	return result, nil
}

func (s *Store) DeletePublisher(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.publishers[id]; !ok {
		return notFound("publisher", id)
	}
	delete(s.publishers, id)
	return nil
}

// CopyStore implementation ----------------------------------------------------

func (s *Store) CreateCopy(_ context.Context, c inventory.Copy) (inventory.Copy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.copies {
		if existing.Barcode == c.Barcode {
			return inventory.Copy{}, conflict("copy barcode %s", c.Barcode)
		}
		if existing.BookID == c.BookID && existing.CopyNumber == c.CopyNumber {
			return inventory.Copy{}, conflict("copy number %d of book %s", c.CopyNumber, c.BookID)
		}
	}
	if c.ID == "" {
		c.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.copies[c.ID] = c
	return c, nil
}

func (s *Store) UpdateCopy(_ context.Context, c inventory.Copy) (inventory.Copy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.copies[c.ID]
	if !ok {
		return inventory.Copy{}, notFound("copy", c.ID)
	}
	for id, existing := range s.copies {
		if id != c.ID && existing.Barcode == c.Barcode {
			return inventory.Copy{}, conflict("copy barcode %s", c.Barcode)
		}
	}
	c.CreatedAt = original.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	s.copies[c.ID] = c
	return c, nil
}

func (s *Store) GetCopy(_ context.Context, id string) (inventory.Copy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.copies[id]
	if !ok {
		return inventory.Copy{}, notFound("copy", id)
	}
	return c, nil
}

func (s *Store) GetCopyByBarcode(_ context.Context, barcode string) (inventory.Copy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.copies {
		if c.Barcode == barcode {
			return c, nil
		}
	}
	return inventory.Copy{}, notFound("copy", barcode)
}

func (s *Store) ListCopies(_ context.Context, bookID string) ([]inventory.Copy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]inventory.Copy, 0)
	for _, c := range s.copies {
		if bookID == "" || c.BookID == bookID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].BookID != result[j].BookID {
			return lessID(result[i].BookID, result[j].BookID)
		}
		return result[i].CopyNumber < result[j].CopyNumber
	})
	return result, nil
}

func (s *Store) DeleteCopy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.copies[id]; !ok {
		return notFound("copy", id)
	}
	delete(s.copies, id)
	return nil
}

func (s *Store) TransitionCopy(_ context.Context, id string, from, to inventory.Status) (inventory.Copy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.copies[id]
	if !ok {
		return inventory.Copy{}, notFound("copy", id)
	}
	if c.Status != from {
		return inventory.Copy{}, conflict("copy %s is %s, expected %s", id, c.Status, from)
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	s.copies[id] = c
	return c, nil
}

// LoanStore implementation ----------------------------------------------------

func (s *Store) CreateLoan(_ context.Context, l loan.Loan) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == "" {
		l.ID = s.nextIDLocked()
	} else if _, exists := s.loans[l.ID]; exists {
		return loan.Loan{}, conflict("loan %s already exists", l.ID)
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	l = cloneLoan(l)
	s.loans[l.ID] = l
	return cloneLoan(l), nil
}

func (s *Store) UpdateLoan(_ context.Context, l loan.Loan) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.loans[l.ID]
	if !ok {
		return loan.Loan{}, notFound("loan", l.ID)
	}
	l.CreatedAt = original.CreatedAt
	l.UpdatedAt = time.Now().UTC()
	l = cloneLoan(l)
	s.loans[l.ID] = l
	return cloneLoan(l), nil
}

func (s *Store) GetLoan(_ context.Context, id string) (loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.loans[id]
	if !ok {
		return loan.Loan{}, notFound("loan", id)
	}
	return cloneLoan(l), nil
}

func (s *Store) ListLoans(_ context.Context, filter storage.LoanFilter) ([]loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]loan.Loan, 0)
	for _, l := range s.loans {
		if filter.Matches(l) {
			result = append(result, cloneLoan(l))
		}
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].ID, result[j].ID) })
	return result, nil
}

// PaymentStore implementation -------------------------------------------------

func (s *Store) CreatePayment(_ context.Context, p payment.Payment) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.payments[p.ID]; exists {
		return payment.Payment{}, conflict("payment %s already exists", p.ID)
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.payments[p.ID] = clonePayment(p)
	return clonePayment(p), nil
}

func (s *Store) UpdatePayment(_ context.Context, p payment.Payment) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.payments[p.ID]
	if !ok {
		return payment.Payment{}, notFound("payment", p.ID)
	}
	if p.OrderRef != "" {
		for id, existing := range s.payments {
			if id != p.ID && existing.OrderRef == p.OrderRef {
				return payment.Payment{}, conflict("payment order ref %s", p.OrderRef)
			}
		}
	}
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.payments[p.ID] = clonePayment(p)
	return clonePayment(p), nil
}

func (s *Store) GetPayment(_ context.Context, id string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return payment.Payment{}, notFound("payment", id)
	}
	return clonePayment(p), nil
}

func (s *Store) GetPaymentByOrderRef(_ context.Context, ref string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.payments {
		if ref != "" && p.OrderRef == ref {
			return clonePayment(p), nil
		}
	}
	return payment.Payment{}, notFound("payment", ref)
}

func (s *Store) ListPayments(_ context.Context, filter storage.PaymentFilter) ([]payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]payment.Payment, 0)
	for _, p := range s.payments {
		if filter.Matches(p) {
			result = append(result, clonePayment(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].ID, result[j].ID) })
	return result, nil
}

// MembershipStore implementation ----------------------------------------------

func (s *Store) CreateTier(_ context.Context, t membership.Tier) (membership.Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tiers {
		if existing.Level == t.Level {
			return membership.Tier{}, conflict("tier level %s", t.Level)
		}
	}
	if t.ID == "" {
		t.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.tiers[t.ID] = t
	return t, nil
}

func (s *Store) UpdateTier(_ context.Context, t membership.Tier) (membership.Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.tiers[t.ID]
	if !ok {
		return membership.Tier{}, notFound("tier", t.ID)
	}
	t.CreatedAt = original.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	s.tiers[t.ID] = t
	return t, nil
}

func (s *Store) GetTier(_ context.Context, id string) (membership.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tiers[id]
	if !ok {
		return membership.Tier{}, notFound("tier", id)
	}
	return t, nil
}

func (s *Store) ListTiers(_ context.Context) ([]membership.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]membership.Tier, 0, len(s.tiers))
	for _, t := range s.tiers {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Rank < result[j].Rank })
	return result, nil
}

func (s *Store) CreateMembership(_ context.Context, m membership.Membership) (membership.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.memberships {
		if existing.PatronID == m.PatronID {
			return membership.Membership{}, conflict("membership for patron %s", m.PatronID)
		}
	}
	if m.ID == "" {
		m.ID = s.nextIDLocked()
	}
	m.UpdatedAt = time.Now().UTC()
	if m.JoinDate.IsZero() {
		m.JoinDate = m.UpdatedAt
	}
	s.memberships[m.ID] = m
	return m, nil
}

func (s *Store) UpdateMembership(_ context.Context, m membership.Membership) (membership.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.memberships[m.ID]
	if !ok {
		return membership.Membership{}, notFound("membership", m.ID)
	}
	m.JoinDate = original.JoinDate
	m.UpdatedAt = time.Now().UTC()
	s.memberships[m.ID] = m
	return m, nil
}

func (s *Store) GetMembershipByPatron(_ context.Context, patronID string) (membership.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.memberships {
		if m.PatronID == patronID {
			return m, nil
		}
	}
	return membership.Membership{}, notFound("membership for patron", patronID)
}

func (s *Store) ListMemberships(_ context.Context) ([]membership.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]membership.Membership, 0, len(s.memberships))
	for _, m := range s.memberships {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].ID, result[j].ID) })
	return result, nil
}

// ReviewStore implementation --------------------------------------------------

func (s *Store) CreateReview(_ context.Context, r review.Review) (review.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.reviews {
		if existing.PatronID == r.PatronID && existing.BookID == r.BookID {
			return review.Review{}, conflict("review by patron %s for book %s", r.PatronID, r.BookID)
		}
	}
	if r.ID == "" {
		r.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.reviews[r.ID] = r
	return r, nil
}

func (s *Store) UpdateReview(_ context.Context, r review.Review) (review.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.reviews[r.ID]
	if !ok {
		return review.Review{}, notFound("review", r.ID)
	}
	r.CreatedAt = original.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	s.reviews[r.ID] = r
	return r, nil
}

func (s *Store) GetReview(_ context.Context, id string) (review.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reviews[id]
	if !ok {
		return review.Review{}, notFound("review", id)
	}
	return r, nil
}

func (s *Store) ListReviews(_ context.Context, filter storage.ReviewFilter) ([]review.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]review.Review, 0)
	for _, r := range s.reviews {
		if filter.Matches(r.BookID, r.PatronID, r.LoanID, r.Approved) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return lessID(result[j].ID, result[i].ID)
	})
	return result, nil
}

func (s *Store) DeleteReview(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reviews[id]; !ok {
		return notFound("review", id)
	}
	delete(s.reviews, id)
	return nil
}

// Helpers ---------------------------------------------------------------------

func cloneBook(b catalog.Book) catalog.Book {
	b.AuthorIDs = append([]string(nil), b.AuthorIDs...)
	if b.PublishedDate != nil {
		d := *b.PublishedDate
		b.PublishedDate = &d
	}
	return b
}

func cloneLoan(l loan.Loan) loan.Loan {
	if l.ReturnDate != nil {
		d := *l.ReturnDate
		l.ReturnDate = &d
	}
	return l
}

func clonePayment(p payment.Payment) payment.Payment {
	if p.ConfirmedAt != nil {
		d := *p.ConfirmedAt
		p.ConfirmedAt = &d
	}
	return p
}

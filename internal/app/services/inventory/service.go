package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/qltv/library_service/internal/app/domain/catalog"
	"github.com/qltv/library_service/internal/app/domain/inventory"
	"github.com/qltv/library_service/internal/app/storage"
	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/pkg/logger"
)

const (
	maxBatch        = 100
	defaultLocation = "Kho chính"
	reserveAttempts = 3
)

// BookCounter receives recounted copy totals for a book.
type BookCounter interface {
	ApplyCopyCounts(ctx context.Context, bookID string, total, available int) (catalog.Book, error)
}

// Service manages the physical copies of books.
type Service struct {
	copies   storage.CopyStore
	books    storage.CatalogStore
	counter  BookCounter
	location string
	log      *logger.Logger
	now      func() time.Time
}

// New constructs the inventory service. counter may be nil, in which case
// book counts are written straight to the catalog store.
func New(copies storage.CopyStore, books storage.CatalogStore, counter BookCounter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("inventory")
	}
	return &Service{
		copies:   copies,
		books:    books,
		counter:  counter,
		location: defaultLocation,
		log:      log,
		now:      time.Now,
	}
}

// WithDefaultLocation sets the shelf used when none is given.
func (s *Service) WithDefaultLocation(location string) *Service {
	if strings.TrimSpace(location) != "" {
		s.location = location
	}
	return s
}

// ListCopies lists a book's copies by copy number.
func (s *Service) ListCopies(ctx context.Context, bookID string) ([]inventory.Copy, error) {
	if _, err := s.book(ctx, bookID); err != nil {
		return nil, err
	}
	return s.copies.ListCopies(ctx, bookID)
}

// GetCopy fetches one copy.
func (s *Service) GetCopy(ctx context.Context, id string) (inventory.Copy, error) {
	c, err := s.copies.GetCopy(ctx, id)
	if err != nil {
		return inventory.Copy{}, storage.Translate(err, "copy", id)
	}
	return c, nil
}

// GetByBarcode fetches a copy by barcode.
func (s *Service) GetByBarcode(ctx context.Context, barcode string) (inventory.Copy, error) {
	c, err := s.copies.GetCopyByBarcode(ctx, strings.TrimSpace(barcode))
	if err != nil {
		return inventory.Copy{}, storage.Translate(err, "copy", barcode)
	}
	return c, nil
}

// AvailableCopies lists copies that can be lent.
func (s *Service) AvailableCopies(ctx context.Context, bookID string) ([]inventory.Copy, error) {
	all, err := s.ListCopies(ctx, bookID)
	if err != nil {
		return nil, err
	}
	out := make([]inventory.Copy, 0, len(all))
	for _, c := range all {
		if c.Status == inventory.StatusAvailable {
			out = append(out, c)
		}
	}
	return out, nil
}

// CountAvailable counts lendable copies.
func (s *Service) CountAvailable(ctx context.Context, bookID string) (int, error) {
	available, err := s.AvailableCopies(ctx, bookID)
	if err != nil {
		return 0, err
	}
	return len(available), nil
}

// CopyInput describes a new copy.
type CopyInput struct {
	Barcode       string              `json:"barcode"`
	Condition     inventory.Condition `json:"condition"`
	Status        inventory.Status    `json:"status"`
	Location      string              `json:"location"`
	AcquiredDate  *time.Time          `json:"acquiredDate"`
	PurchasePrice int64               `json:"purchasePrice"`
	Notes         string              `json:"notes"`
}

// CreateCopy adds one copy numbered after the existing ones.
func (s *Service) CreateCopy(ctx context.Context, bookID string, in CopyInput) (inventory.Copy, error) {
	book, err := s.book(ctx, bookID)
	if err != nil {
		return inventory.Copy{}, err
	}
	if in.Condition == "" {
		in.Condition = inventory.ConditionGood
	}
	if in.Status == "" {
		in.Status = inventory.StatusAvailable
	}
	if !in.Condition.Valid() {
		return inventory.Copy{}, svcerrors.InvalidInputf("unknown condition %q", in.Condition)
	}
	if !in.Status.Valid() {
		return inventory.Copy{}, svcerrors.InvalidInputf("unknown status %q", in.Status)
	}
	if in.PurchasePrice < 0 {
		return inventory.Copy{}, svcerrors.InvalidInput("purchasePrice cannot be negative")
	}
	next, err := s.nextCopyNumber(ctx, bookID)
	if err != nil {
		return inventory.Copy{}, err
	}
	barcode := strings.TrimSpace(in.Barcode)
	if barcode == "" {
		barcode = GenerateBarcode(book, next)
	}
	acquired := in.AcquiredDate
	if acquired == nil {
		today := s.today()
		acquired = &today
	}
	location := strings.TrimSpace(in.Location)
	if location == "" {
		location = s.location
	}

	c, err := s.copies.CreateCopy(ctx, inventory.Copy{
		BookID:        bookID,
		CopyNumber:    next,
		Barcode:       barcode,
		Condition:     in.Condition,
		Status:        in.Status,
		Location:      location,
		AcquiredDate:  acquired,
		PurchasePrice: in.PurchasePrice,
		Notes:         strings.TrimSpace(in.Notes),
	})
	if errors.Is(err, storage.ErrConflict) {
		return inventory.Copy{}, svcerrors.AlreadyExists("copy", "barcode", barcode)
	}
	if err != nil {
		return inventory.Copy{}, err
	}
	if err := s.Recount(ctx, bookID); err != nil {
		return inventory.Copy{}, err
	}
	s.log.WithField("book_id", bookID).WithField("barcode", barcode).Info("copy created")
	return c, nil
}

// CreateCopies adds qty AVAILABLE copies in GOOD condition.
func (s *Service) CreateCopies(ctx context.Context, bookID string, qty int, location string, price int64) ([]inventory.Copy, error) {
	if qty < 1 || qty > maxBatch {
		return nil, svcerrors.InvalidInputf("quantity must be between 1 and %d", maxBatch)
	}
	out := make([]inventory.Copy, 0, qty)
	for i := 0; i < qty; i++ {
		c, err := s.CreateCopy(ctx, bookID, CopyInput{Location: location, PurchasePrice: price})
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}

// CopyUpdate edits a copy. Nil fields are left alone.
type CopyUpdate struct {
	Condition     *inventory.Condition `json:"condition"`
	Status        *inventory.Status    `json:"status"`
	Location      *string              `json:"location"`
	PurchasePrice *int64               `json:"purchasePrice"`
	Notes         *string              `json:"notes"`
}

// UpdateCopy applies staff edits and recounts the book when the status moved.
func (s *Service) UpdateCopy(ctx context.Context, id string, in CopyUpdate) (inventory.Copy, error) {
	c, err := s.GetCopy(ctx, id)
	if err != nil {
		return inventory.Copy{}, err
	}
	previous := c.Status
	if in.Condition != nil {
		if !in.Condition.Valid() {
			return inventory.Copy{}, svcerrors.InvalidInputf("unknown condition %q", *in.Condition)
		}
		c.Condition = *in.Condition
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return inventory.Copy{}, svcerrors.InvalidInputf("unknown status %q", *in.Status)
		}
		c.Status = *in.Status
	}
	if in.Location != nil {
		c.Location = strings.TrimSpace(*in.Location)
	}
	if in.PurchasePrice != nil {
		if *in.PurchasePrice < 0 {
			return inventory.Copy{}, svcerrors.InvalidInput("purchasePrice cannot be negative")
		}
		c.PurchasePrice = *in.PurchasePrice
	}
	if in.Notes != nil {
		c.Notes = *in.Notes
	}
	c, err = s.copies.UpdateCopy(ctx, c)
	if err != nil {
		return inventory.Copy{}, storage.Translate(err, "copy", id)
	}
	if previous != c.Status {
		if err := s.Recount(ctx, c.BookID); err != nil {
			return inventory.Copy{}, err
		}
	}
	return c, nil
}

// DeleteCopy removes a copy that is not out or held.
func (s *Service) DeleteCopy(ctx context.Context, id string) error {
	c, err := s.GetCopy(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == inventory.StatusBorrowed || c.Status == inventory.StatusReserved {
		return svcerrors.Conflict("cannot delete a copy that is borrowed or reserved")
	}
	if err := s.copies.DeleteCopy(ctx, id); err != nil {
		return storage.Translate(err, "copy", id)
	}
	s.log.WithField("copy_id", id).WithField("book_id", c.BookID).Info("copy deleted")
	return s.Recount(ctx, c.BookID)
}

// ListByStatus lists every copy with status.
func (s *Service) ListByStatus(ctx context.Context, status inventory.Status) ([]inventory.Copy, error) {
	if !status.Valid() {
		return nil, svcerrors.InvalidInputf("unknown status %q", status)
	}
	return s.filter(ctx, func(c inventory.Copy) bool { return c.Status == status })
}

// NeedingMaintenance lists worn, damaged or repairing copies.
func (s *Service) NeedingMaintenance(ctx context.Context) ([]inventory.Copy, error) {
	return s.filter(ctx, inventory.Copy.NeedsMaintenance)
}

// All lists every copy.
func (s *Service) All(ctx context.Context) ([]inventory.Copy, error) {
	return s.copies.ListCopies(ctx, "")
}

func (s *Service) filter(ctx context.Context, keep func(inventory.Copy) bool) ([]inventory.Copy, error) {
	all, err := s.copies.ListCopies(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]inventory.Copy, 0, len(all))
	for _, c := range all {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// SetStatus forces a copy's status.
func (s *Service) SetStatus(ctx context.Context, copyID string, status inventory.Status) (inventory.Copy, error) {
	return s.UpdateCopy(ctx, copyID, CopyUpdate{Status: &status})
}

// Transition moves a copy between statuses atomically and recounts the book.
func (s *Service) Transition(ctx context.Context, copyID string, from, to inventory.Status) (inventory.Copy, error) {
	c, err := s.copies.TransitionCopy(ctx, copyID, from, to)
	if errors.Is(err, storage.ErrConflict) {
		return inventory.Copy{}, svcerrors.Conflict(fmt.Sprintf("copy %s is not %s", copyID, from))
	}
	if err != nil {
		return inventory.Copy{}, storage.Translate(err, "copy", copyID)
	}
	if err := s.Recount(ctx, c.BookID); err != nil {
		return inventory.Copy{}, err
	}
	return c, nil
}

// Claim takes the lowest numbered available copy of a book into status to.
// Copies taken concurrently are skipped.
func (s *Service) Claim(ctx context.Context, bookID string, to inventory.Status) (inventory.Copy, error) {
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		available, err := s.AvailableCopies(ctx, bookID)
		if err != nil {
			return inventory.Copy{}, err
		}
		if len(available) == 0 {
			return inventory.Copy{}, svcerrors.Conflict("no available copy of this book")
		}
		for _, candidate := range available {
			c, err := s.Transition(ctx, candidate.ID, inventory.StatusAvailable, to)
			if err == nil {
				return c, nil
			}
			if !svcerrors.HasCode(err, svcerrors.CodeConflict) {
				return inventory.Copy{}, err
			}
		}
	}
	return inventory.Copy{}, svcerrors.Conflict("no available copy of this book")
}

// MarkDamaged records damage found on return and sends the copy to repair.
func (s *Service) MarkDamaged(ctx context.Context, copyID, notes string) (inventory.Copy, error) {
	c, err := s.GetCopy(ctx, copyID)
	if err != nil {
		return inventory.Copy{}, err
	}
	entry := fmt.Sprintf("Damaged on return (%s): %s", s.today().Format("2006-01-02"), strings.TrimSpace(notes))
	if c.Notes != "" {
		c.Notes += "\n"
	}
	c.Notes += entry
	c.Condition = inventory.ConditionDamaged
	c.Status = inventory.StatusRepairing
	c, err = s.copies.UpdateCopy(ctx, c)
	if err != nil {
		return inventory.Copy{}, storage.Translate(err, "copy", copyID)
	}
	if err := s.Recount(ctx, c.BookID); err != nil {
		return inventory.Copy{}, err
	}
	s.log.WithField("copy_id", copyID).Warn("copy damaged on return")
	return c, nil
}

// Recount derives the book's copy totals from its copies.
func (s *Service) Recount(ctx context.Context, bookID string) error {
	copies, err := s.copies.ListCopies(ctx, bookID)
	if err != nil {
		return err
	}
	available := 0
	for _, c := range copies {
		if c.Status == inventory.StatusAvailable {
			available++
		}
	}
	if s.counter != nil {
		_, err = s.counter.ApplyCopyCounts(ctx, bookID, len(copies), available)
		return err
	}
	b, err := s.book(ctx, bookID)
	if err != nil {
		return err
	}
	b.TotalCopies = len(copies)
	b.AvailableCopies = available
	b.Status = b.DeriveStatus()
	_, err = s.books.UpdateBook(ctx, b)
	return err
}

// GenerateBarcode builds "<isbn prefix or padded id>-C<nnn>".
func GenerateBarcode(b catalog.Book, copyNumber int) string {
	var prefix string
	switch isbn := strings.TrimSpace(b.ISBN); {
	case isbn != "":
		if len(isbn) > 8 {
			isbn = isbn[:8]
		}
		prefix = isbn
	default:
		if n, err := strconv.Atoi(b.ID); err == nil {
			prefix = fmt.Sprintf("%08d", n)
		} else {
			prefix = strings.ReplaceAll(b.ID, "-", "")
			if len(prefix) > 8 {
				prefix = prefix[:8]
			}
		}
	}
	return fmt.Sprintf("%s-C%03d", prefix, copyNumber)
}

func (s *Service) nextCopyNumber(ctx context.Context, bookID string) (int, error) {
	copies, err := s.copies.ListCopies(ctx, bookID)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, c := range copies {
		if c.CopyNumber > max {
			max = c.CopyNumber
		}
	}
	return max + 1, nil
}

func (s *Service) book(ctx context.Context, id string) (catalog.Book, error) {
	b, err := s.books.GetBook(ctx, id)
	if err != nil {
		return catalog.Book{}, storage.Translate(err, "book", id)
	}
	return b, nil
}

func (s *Service) today() time.Time {
	y, m, d := s.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

package reviews

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/qltv/library_service/internal/app/domain/catalog"
	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/storage"
	"github.com/qltv/library_service/internal/app/storage/memory"
	"github.com/qltv/library_service/internal/cache"
	svcerrors "github.com/qltv/library_service/internal/errors"
)

func setup(t *testing.T) (*Service, *memory.Store, catalog.Book) {
	t.Helper()
	store := memory.New()
	book, err := store.CreateBook(context.Background(), catalog.Book{Title: "Nỗi buồn chiến tranh"})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	svc := New(store, store, store, nil)
	svc.AttachCache(cache.NewMemory(), time.Minute)
	return svc, store, book
}

func returnLoan(t *testing.T, store *memory.Store, bookID, patronID string, daysAgo int) loan.Loan {
	t.Helper()
	at := time.Now().UTC().AddDate(0, 0, -daysAgo)
	l, err := store.CreateLoan(context.Background(), loan.Loan{
		BookID: bookID, PatronID: patronID, CopyID: "c",
		LoanDate: at.AddDate(0, 0, -7), DueDate: at.AddDate(0, 0, 7), ReturnDate: &at,
		Status: loan.StatusReturned,
	})
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	return l
}

func TestReviewRequiresReturnedLoan(t *testing.T) {
	svc, store, book := setup(t)
	ctx := context.Background()

	ok, err := svc.CanReview(ctx, "p1", book.ID)
	if err != nil || ok {
		t.Fatalf("patron without loan may not review: %v %v", ok, err)
	}
	if _, err := svc.Create(ctx, "p1", book.ID, 5, "hay"); !svcerrors.HasCode(err, svcerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	returnLoan(t, store, book.ID, "p1", 10)
	recent := returnLoan(t, store, book.ID, "p1", 1)

	if _, err := svc.Create(ctx, "p1", book.ID, 6, ""); !svcerrors.HasCode(err, svcerrors.CodeInvalidInput) {
		t.Fatalf("expected rating validation, got %v", err)
	}
	if _, err := svc.Create(ctx, "p1", book.ID, 4, strings.Repeat("á", maxCommentLength+1)); !svcerrors.HasCode(err, svcerrors.CodeInvalidInput) {
		t.Fatalf("expected comment validation, got %v", err)
	}

	r, err := svc.Create(ctx, "p1", book.ID, 4, " Rất hay ")
	if err != nil {
		t.Fatalf("create review: %v", err)
	}
	if r.Approved || r.LoanID != recent.ID || r.Comment != "Rất hay" {
		t.Fatalf("unexpected review %+v", r)
	}
	if ok, _ := svc.CanReview(ctx, "p1", book.ID); ok {
		t.Fatalf("second review should not be allowed")
	}
	byLoan, err := svc.ByLoan(ctx, recent.ID)
	if err != nil || byLoan.ID != r.ID {
		t.Fatalf("by loan: %+v %v", byLoan, err)
	}
}

func TestModerationAndStats(t *testing.T) {
	svc, store, book := setup(t)
	ctx := context.Background()

	ratings := map[string]int{"p1": 5, "p2": 4, "p3": 4}
	ids := make(map[string]string)
	for patronID, rating := range ratings {
		returnLoan(t, store, book.ID, patronID, 2)
		r, err := svc.Create(ctx, patronID, book.ID, rating, "")
		if err != nil {
			t.Fatalf("create review for %s: %v", patronID, err)
		}
		ids[patronID] = r.ID
	}

	pending, err := svc.ListPending(ctx, storage.Page{Size: 10})
	if err != nil || pending.TotalItems != 3 {
		t.Fatalf("pending: %+v %v", pending, err)
	}
	stats, err := svc.Stats(ctx, book.ID)
	if err != nil || stats.ReviewCount != 0 || stats.AverageRating != 0 {
		t.Fatalf("unapproved reviews counted: %+v %v", stats, err)
	}

	for _, id := range ids {
		if _, err := svc.Approve(ctx, id); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	stats, _ = svc.Stats(ctx, book.ID)
	if stats.ReviewCount != 3 || stats.AverageRating != 4.3 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if err := svc.Delete(ctx, ids["p1"]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	stats, _ = svc.Stats(ctx, book.ID)
	if stats.ReviewCount != 2 || stats.AverageRating != 4 {
		t.Fatalf("stats not invalidated: %+v", stats)
	}

	approved, _ := svc.ListApproved(ctx, storage.Page{})
	if approved.TotalItems != 2 {
		t.Fatalf("expected two approved, got %d", approved.TotalItems)
	}
	all, _ := svc.ListAll(ctx, storage.Page{Size: 1})
	if all.TotalItems != 2 || len(all.Items) != 1 || all.TotalPages != 2 {
		t.Fatalf("unexpected page %+v", all)
	}
	if err := svc.Delete(ctx, ids["p1"]); !svcerrors.HasCode(err, svcerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/qltv/library_service/internal/app/domain/inventory"
	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/domain/patron"
	"github.com/qltv/library_service/internal/app/storage"
	"github.com/qltv/library_service/internal/platform/migrations"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestGetPatronNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("SELECT (.+) FROM patrons WHERE id = \\$1").
		WithArgs("42").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetPatron(context.Background(), "42")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreatePatronUniqueViolation(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("INSERT INTO patrons").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "patrons_email_idx"})

	_, err := store.CreatePatron(context.Background(), patron.Patron{Name: "Lan", Email: "lan@example.com", Role: patron.RoleUser})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetPatronScansColumns(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "phone_number", "address", "role", "is_active", "created_at", "updated_at"}).
		AddRow("p1", "Lan", "lan@example.com", "hash", "0901", "Hà Nội", "LIBRARIAN", true, now, now)
	mock.ExpectQuery("SELECT (.+) FROM patrons WHERE lower\\(email\\) = lower\\(\\$1\\)").
		WithArgs("LAN@example.com").
		WillReturnRows(rows)

	p, err := store.GetPatronByEmail(context.Background(), "LAN@example.com")
	if err != nil {
		t.Fatalf("get patron: %v", err)
	}
	if p.Role != patron.RoleLibrarian || !p.Active || p.Address != "Hà Nội" {
		t.Fatalf("unexpected patron %+v", p)
	}
}

func TestTransitionCopyConflict(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery("UPDATE book_copies SET status = \\$3").
		WithArgs("c1", "AVAILABLE", "RESERVED", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM book_copies WHERE id = \\$1").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "book_id", "copy_number", "barcode", "condition", "status", "location", "acquired_date", "purchase_price", "notes", "created_at", "updated_at"}).
			AddRow("c1", "b1", 1, "B-C001", "GOOD", "BORROWED", "Kho chính", nil, 0, "", now, now))

	_, err := store.TransitionCopy(context.Background(), "c1", inventory.StatusAvailable, inventory.StatusReserved)
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListLoansBuildsFilter(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM loans WHERE patron_id = \\$1 AND status = ANY\\(\\$2\\) ORDER BY created_at, id").
		WithArgs("p1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "book_id", "copy_id", "patron_id", "loan_date", "due_date", "return_date", "status", "renewal_count", "fine_amount", "fine_paid", "notes", "created_at", "updated_at"}).
			AddRow("l1", "b1", "c1", "p1", now, now.AddDate(0, 0, 14), nil, "BORROWED", 0, 0, false, "", now, now))

	loans, err := store.ListLoans(context.Background(), storage.LoanFilter{
		PatronID: "p1",
		Statuses: []loan.Status{loan.StatusBorrowed, loan.StatusOverdue},
	})
	if err != nil {
		t.Fatalf("list loans: %v", err)
	}
	if len(loans) != 1 || loans[0].Status != loan.StatusBorrowed {
		t.Fatalf("unexpected loans %+v", loans)
	}
}

func TestDeleteBookMissing(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("DELETE FROM books WHERE id = \\$1").
		WithArgs("b9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteBook(context.Background(), "b9"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := New(db)
	p, err := store.CreatePatron(ctx, patron.Patron{Name: "Integration", Email: "it-" + time.Now().Format("150405.000") + "@example.com", PasswordHash: "x", Role: patron.RoleUser, Active: true})
	if err != nil {
		t.Fatalf("create patron: %v", err)
	}
	got, err := store.GetPatron(ctx, p.ID)
	if err != nil {
		t.Fatalf("get patron: %v", err)
	}
	if got.Email != p.Email {
		t.Fatalf("email mismatch: %s != %s", got.Email, p.Email)
	}
	if err := store.DeletePatron(ctx, p.ID); err != nil {
		t.Fatalf("delete patron: %v", err)
	}
}

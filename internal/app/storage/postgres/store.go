package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/qltv/library_service/internal/app/domain/catalog"
	"github.com/qltv/library_service/internal/app/domain/inventory"
	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/domain/membership"
	"github.com/qltv/library_service/internal/app/domain/patron"
	"github.com/qltv/library_service/internal/app/domain/payment"
	"github.com/qltv/library_service/internal/app/domain/review"
	"github.com/qltv/library_service/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.PatronStore = (*Store)(nil)
var _ storage.CatalogStore = (*Store)(nil)
var _ storage.CopyStore = (*Store)(nil)
var _ storage.LoanStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.MembershipStore = (*Store)(nil)
var _ storage.ReviewStore = (*Store)(nil)
var _ storage.Pinger = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// translate maps driver errors onto the storage sentinels.
func translate(err error, kind, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s %s: %s: %w", kind, id, pqErr.Constraint, storage.ErrConflict)
	}
	return err
}

func requireRow(result sql.Result, kind, id string) error {
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	return nil
}

// --- PatronStore -------------------------------------------------------------

const patronColumns = `id, name, email, password_hash, phone_number, address, role, is_active, created_at, updated_at`

func (s *Store) CreatePatron(ctx context.Context, p patron.Patron) (patron.Patron, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO patrons (`+patronColumns+`)
		VALUES (:id, :name, :email, :password_hash, :phone_number, :address, :role, :is_active, :created_at, :updated_at)
	`, p)
	if err != nil {
		return patron.Patron{}, translate(err, "patron", p.Email)
	}
	return p, nil
}

func (s *Store) UpdatePatron(ctx context.Context, p patron.Patron) (patron.Patron, error) {
	existing, err := s.GetPatron(ctx, p.ID)
	if err != nil {
		return patron.Patron{}, err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.NamedExecContext(ctx, `
		UPDATE patrons
		SET name = :name, email = :email, password_hash = :password_hash, phone_number = :phone_number,
		    address = :address, role = :role, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id
	`, p)
	if err != nil {
		return patron.Patron{}, translate(err, "patron", p.ID)
	}
	if err := requireRow(result, "patron", p.ID); err != nil {
		return patron.Patron{}, err
	}
	return p, nil
}

func (s *Store) GetPatron(ctx context.Context, id string) (patron.Patron, error) {
	var p patron.Patron
	err := s.db.GetContext(ctx, &p, `SELECT `+patronColumns+` FROM patrons WHERE id = $1`, id)
	return p, translate(err, "patron", id)
}

func (s *Store) GetPatronByEmail(ctx context.Context, email string) (patron.Patron, error) {
	var p patron.Patron
	err := s.db.GetContext(ctx, &p, `SELECT `+patronColumns+` FROM patrons WHERE lower(email) = lower($1)`, email)
	return p, translate(err, "patron", email)
}

func (s *Store) ListPatrons(ctx context.Context, filter storage.PatronFilter) ([]patron.Patron, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Role != "" {
		args = append(args, string(filter.Role))
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		where = append(where, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+strings.ToLower(q)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(lower(name) LIKE $%d OR lower(email) LIKE $%d OR phone_number LIKE $%d)", n, n, n))
	}

	query := `SELECT ` + patronColumns + ` FROM patrons`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	var result []patron.Patron
	if err := s.db.SelectContext(ctx, &result, query, args...); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeletePatron(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_memberships WHERE patron_id = $1`, id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM patrons WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if err := requireRow(result, "patron", id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- CatalogStore ------------------------------------------------------------

const bookColumns = `id, title, isbn, publisher_id, category_id, genre, description, image_url, published_date, fee,
	total_copies, available_copies, status, created_at, updated_at`

func (s *Store) CreateBook(ctx context.Context, b catalog.Book) (catalog.Book, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return catalog.Book{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO books (`+bookColumns+`)
		VALUES (:id, :title, :isbn, :publisher_id, :category_id, :genre, :description, :image_url, :published_date, :fee,
		        :total_copies, :available_copies, :status, :created_at, :updated_at)
	`, b)
	if err != nil {
		return catalog.Book{}, translate(err, "book", b.ISBN)
	}
	if err := replaceBookAuthors(ctx, tx, b.ID, b.AuthorIDs); err != nil {
		return catalog.Book{}, err
	}
	if err := tx.Commit(); err != nil {
		return catalog.Book{}, err
	}
	return b, nil
}

func (s *Store) UpdateBook(ctx context.Context, b catalog.Book) (catalog.Book, error) {
	existing, err := s.GetBook(ctx, b.ID)
	if err != nil {
		return catalog.Book{}, err
	}
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return catalog.Book{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.NamedExecContext(ctx, `
		UPDATE books
		SET title = :title, isbn = :isbn, publisher_id = :publisher_id, category_id = :category_id, genre = :genre,
		    description = :description, image_url = :image_url, published_date = :published_date, fee = :fee,
		    total_copies = :total_copies, available_copies = :available_copies, status = :status, updated_at = :updated_at
		WHERE id = :id
	`, b)
	if err != nil {
		return catalog.Book{}, translate(err, "book", b.ID)
	}
	if err := requireRow(result, "book", b.ID); err != nil {
		return catalog.Book{}, err
	}
	if err := replaceBookAuthors(ctx, tx, b.ID, b.AuthorIDs); err != nil {
		return catalog.Book{}, err
	}
	if err := tx.Commit(); err != nil {
		return catalog.Book{}, err
	}
	return b, nil
}

func replaceBookAuthors(ctx context.Context, tx *sqlx.Tx, bookID string, authorIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM book_authors WHERE book_id = $1`, bookID); err != nil {
		return err
	}
	for i, authorID := range authorIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO book_authors (book_id, author_id, position) VALUES ($1, $2, $3)
		`, bookID, authorID, i); err != nil {
			return translate(err, "book author", authorID)
		}
	}
	return nil
}

func (s *Store) GetBook(ctx context.Context, id string) (catalog.Book, error) {
	var b catalog.Book
	if err := s.db.GetContext(ctx, &b, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id); err != nil {
		return catalog.Book{}, translate(err, "book", id)
	}
	authors, err := s.bookAuthors(ctx, []string{id})
	if err != nil {
		return catalog.Book{}, err
	}
	b.AuthorIDs = authors[id]
	return b, nil
}

func (s *Store) ListBooks(ctx context.Context, filter storage.BookFilter) ([]catalog.Book, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.CategoryID != "" {
		add("category_id = $%d", filter.CategoryID)
	}
	if filter.PublisherID != "" {
		add("publisher_id = $%d", filter.PublisherID)
	}
	if filter.Genre != "" {
		add("lower(genre) = lower($%d)", filter.Genre)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.AvailableOnly {
		where = append(where, "available_copies > 0")
	}
	if filter.AuthorID != "" {
		add("id IN (SELECT book_id FROM book_authors WHERE author_id = $%d)", filter.AuthorID)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+strings.ToLower(q)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(lower(title) LIKE $%d OR lower(isbn) LIKE $%d OR lower(genre) LIKE $%d)", n, n, n))
	}

	query := `SELECT ` + bookColumns + ` FROM books`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	var books []catalog.Book
	if err := s.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return books, nil
	}
	ids := make([]string, len(books))
	for i, b := range books {
		ids[i] = b.ID
	}
	authors, err := s.bookAuthors(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range books {
		books[i].AuthorIDs = authors[books[i].ID]
	}
	return books, nil
}

func (s *Store) bookAuthors(ctx context.Context, bookIDs []string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT book_id, author_id FROM book_authors
		WHERE book_id = ANY($1)
		ORDER BY book_id, position
	`, pq.Array(bookIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string, len(bookIDs))
	for rows.Next() {
		var bookID, authorID string
		if err := rows.Scan(&bookID, &authorID); err != nil {
			return nil, err
		}
		out[bookID] = append(out[bookID], authorID)
	}
	return out, rows.Err()
}

func (s *Store) DeleteBook(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result, "book", id)
}

func (s *Store) CreateAuthor(ctx context.Context, a catalog.Author) (catalog.Author, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO authors (id, name, biography, nationality, birth_date, created_at, updated_at)
		VALUES (:id, :name, :biography, :nationality, :birth_date, :created_at, :updated_at)
	`, a)
	return a, translate(err, "author", a.Name)
}

func (s *Store) UpdateAuthor(ctx context.Context, a catalog.Author) (catalog.Author, error) {
	existing, err := s.GetAuthor(ctx, a.ID)
	if err != nil {
		return catalog.Author{}, err
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	_, err = s.db.NamedExecContext(ctx, `
		UPDATE authors
		SET name = :name, biography = :biography, nationality = :nationality, birth_date = :birth_date, updated_at = :updated_at
		WHERE id = :id
	`, a)
	return a, translate(err, "author", a.ID)
}

func (s *Store) GetAuthor(ctx context.Context, id string) (catalog.Author, error) {
	var a catalog.Author
	err := s.db.GetContext(ctx, &a, `
		SELECT id, name, biography, nationality, birth_date, created_at, updated_at FROM authors WHERE id = $1
	`, id)
	return a, translate(err, "author", id)
}

func (s *Store) ListAuthors(ctx context.Context) ([]catalog.Author, error) {
	var result []catalog.Author
	err := s.db.SelectContext(ctx, &result, `
		SELECT id, name, biography, nationality, birth_date, created_at, updated_at FROM authors ORDER BY created_at, id
	`)
	return result, err
}

func (s *Store) DeleteAuthor(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM authors WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result, "author", id)
}

func (s *Store) CreateCategory(ctx context.Context, c catalog.Category) (catalog.Category, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO categories (id, name, description, created_at, updated_at)
		VALUES (:id, :name, :description, :created_at, :updated_at)
	`, c)
	return c, translate(err, "category", c.Name)
}

func (s *Store) UpdateCategory(ctx context.Context, c catalog.Category) (catalog.Category, error) {
	existing, err := s.GetCategory(ctx, c.ID)
	if err != nil {
		return catalog.Category{}, err
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	_, err = s.db.NamedExecContext(ctx, `
		UPDATE categories SET name = :name, description = :description, updated_at = :updated_at WHERE id = :id
	`, c)
	return c, translate(err, "category", c.ID)
}

func (s *Store) GetCategory(ctx context.Context, id string) (catalog.Category, error) {
	var c catalog.Category
	err := s.db.GetContext(ctx, &c, `SELECT id, name, description, created_at, updated_at FROM categories WHERE id = $1`, id)
	return c, translate(err, "category", id)
}

func (s *Store) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	var result []catalog.Category
	err := s.db.SelectContext(ctx, &result, `
		SELECT id, name, description, created_at, updated_at FROM categories ORDER BY created_at, id
	`)
	return result, err
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result, "category", id)
}

const publisherColumns = `id, name, address, phone, email, website, country, established_year, description, created_at, updated_at`

func (s *Store) CreatePublisher(ctx context.Context, p catalog.Publisher) (catalog.Publisher, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO publishers (`+publisherColumns+`)
		VALUES (:id, :name, :address, :phone, :email, :website, :country, :established_year, :description, :created_at, :updated_at)
	`, p)
	return p, translate(err, "publisher", p.Name)
}

func (s *Store) UpdatePublisher(ctx context.Context, p catalog.Publisher) (catalog.Publisher, error) {
	existing, err := s.GetPublisher(ctx, p.ID)
	if err != nil {
		return catalog.Publisher{}, err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	_, err = s.db.NamedExecContext(ctx, `
		UPDATE publishers
		SET name = :name, address = :address, phone = :phone, email = :email, website = :website, country = :country,
		    established_year = :established_year, description = :description, updated_at = :updated_at
		WHERE id = :id
	`, p)
	return p, translate(err, "publisher", p.ID)
}

func (s *Store) GetPublisher(ctx context.Context, id string) (catalog.Publisher, error) {
	var p catalog.Publisher
	err := s.db.GetContext(ctx, &p, `SELECT `+publisherColumns+` FROM publishers WHERE id = $1`, id)
	return p, translate(err, "publisher", id)
}

func (s *Store) ListPublishers(ctx context.Context) ([]catalog.Publisher, error) {
	var result []catalog.Publisher
	err := s.db.SelectContext(ctx, &result, `SELECT `+publisherColumns+` FROM publishers ORDER BY created_at, id`)
	return result, err
}

func (s *Store) DeletePublisher(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM publishers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result, "publisher", id)
}

// --- CopyStore ---------------------------------------------------------------

const copyColumns = `id, book_id, copy_number, barcode, condition, status, location, acquired_date, purchase_price, notes,
	created_at, updated_at`

func (s *Store) CreateCopy(ctx context.Context, c inventory.Copy) (inventory.Copy, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO book_copies (`+copyColumns+`)
		VALUES (:id, :book_id, :copy_number, :barcode, :condition, :status, :location, :acquired_date, :purchase_price, :notes,
		        :created_at, :updated_at)
	`, c)
	if err != nil {
		return inventory.Copy{}, translate(err, "copy", c.Barcode)
	}
	return c, nil
}

func (s *Store) UpdateCopy(ctx context.Context, c inventory.Copy) (inventory.Copy, error) {
	existing, err := s.GetCopy(ctx, c.ID)
	if err != nil {
		return inventory.Copy{}, err
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	_, err = s.db.NamedExecContext(ctx, `
		UPDATE book_copies
		SET barcode = :barcode, condition = :condition, status = :status, location = :location,
		    acquired_date = :acquired_date, purchase_price = :purchase_price, notes = :notes, updated_at = :updated_at
		WHERE id = :id
	`, c)
	if err != nil {
		return inventory.Copy{}, translate(err, "copy", c.ID)
	}
	return c, nil
}

func (s *Store) GetCopy(ctx context.Context, id string) (inventory.Copy, error) {
	var c inventory.Copy
	err := s.db.GetContext(ctx, &c, `SELECT `+copyColumns+` FROM book_copies WHERE id = $1`, id)
	return c, translate(err, "copy", id)
}

func (s *Store) GetCopyByBarcode(ctx context.Context, barcode string) (inventory.Copy, error) {
	var c inventory.Copy
	err := s.db.GetContext(ctx, &c, `SELECT `+copyColumns+` FROM book_copies WHERE barcode = $1`, barcode)
	return c, translate(err, "copy", barcode)
}

func (s *Store) ListCopies(ctx context.Context, bookID string) ([]inventory.Copy, error) {
	var result []inventory.Copy
	if bookID == "" {
		err := s.db.SelectContext(ctx, &result, `SELECT `+copyColumns+` FROM book_copies ORDER BY book_id, copy_number`)
		return result, err
	}
	err := s.db.SelectContext(ctx, &result, `
		SELECT `+copyColumns+` FROM book_copies WHERE book_id = $1 ORDER BY copy_number
	`, bookID)
	return result, err
}

func (s *Store) DeleteCopy(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM book_copies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result, "copy", id)
}

func (s *Store) TransitionCopy(ctx context.Context, id string, from, to inventory.Status) (inventory.Copy, error) {
	var c inventory.Copy
	err := s.db.GetContext(ctx, &c, `
		UPDATE book_copies SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+copyColumns, id, string(from), string(to), time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetCopy(ctx, id); getErr != nil {
			return inventory.Copy{}, getErr
		}
		return inventory.Copy{}, fmt.Errorf("copy %s not %s: %w", id, from, storage.ErrConflict)
	}
	return c, translate(err, "copy", id)
}

// --- LoanStore ---------------------------------------------------------------

const loanColumns = `id, book_id, copy_id, patron_id, loan_date, due_date, return_date, status, renewal_count,
	fine_amount, fine_paid, notes, created_at, updated_at`

func (s *Store) CreateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO loans (`+loanColumns+`)
		VALUES (:id, :book_id, :copy_id, :patron_id, :loan_date, :due_date, :return_date, :status, :renewal_count,
		        :fine_amount, :fine_paid, :notes, :created_at, :updated_at)
	`, l)
	if err != nil {
		return loan.Loan{}, translate(err, "loan", l.ID)
	}
	return l, nil
}

func (s *Store) UpdateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error) {
	existing, err := s.GetLoan(ctx, l.ID)
	if err != nil {
		return loan.Loan{}, err
	}
	l.CreatedAt = existing.CreatedAt
	l.UpdatedAt = time.Now().UTC()
	_, err = s.db.NamedExecContext(ctx, `
		UPDATE loans
		SET copy_id = :copy_id, loan_date = :loan_date, due_date = :due_date, return_date = :return_date,
		    status = :status, renewal_count = :renewal_count, fine_amount = :fine_amount, fine_paid = :fine_paid,
		    notes = :notes, updated_at = :updated_at
		WHERE id = :id
	`, l)
	if err != nil {
		return loan.Loan{}, translate(err, "loan", l.ID)
	}
	return l, nil
}

func (s *Store) GetLoan(ctx context.Context, id string) (loan.Loan, error) {
	var l loan.Loan
	err := s.db.GetContext(ctx, &l, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
	return l, translate(err, "loan", id)
}

func (s *Store) ListLoans(ctx context.Context, filter storage.LoanFilter) ([]loan.Loan, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.PatronID != "" {
		add("patron_id = $%d", filter.PatronID)
	}
	if filter.BookID != "" {
		add("book_id = $%d", filter.BookID)
	}
	if filter.CopyID != "" {
		add("copy_id = $%d", filter.CopyID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}

	query := `SELECT ` + loanColumns + ` FROM loans`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	var result []loan.Loan
	if err := s.db.SelectContext(ctx, &result, query, args...); err != nil {
		return nil, err
	}
	return result, nil
}

// --- PaymentStore ------------------------------------------------------------

const paymentColumns = `id, loan_id, patron_id, kind, amount, method, status, order_ref, transaction_no, bank_code,
	gateway_response, description, confirmed_by, confirmed_at, created_at, updated_at`

func (s *Store) CreatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO loan_payments (`+paymentColumns+`)
		VALUES (:id, :loan_id, :patron_id, :kind, :amount, :method, :status, :order_ref, :transaction_no, :bank_code,
		        :gateway_response, :description, :confirmed_by, :confirmed_at, :created_at, :updated_at)
	`, p)
	if err != nil {
		return payment.Payment{}, translate(err, "payment", p.ID)
	}
	return p, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	existing, err := s.GetPayment(ctx, p.ID)
	if err != nil {
		return payment.Payment{}, err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	_, err = s.db.NamedExecContext(ctx, `
		UPDATE loan_payments
		SET status = :status, order_ref = :order_ref, transaction_no = :transaction_no, bank_code = :bank_code,
		    gateway_response = :gateway_response, description = :description, confirmed_by = :confirmed_by,
		    confirmed_at = :confirmed_at, updated_at = :updated_at
		WHERE id = :id
	`, p)
	if err != nil {
		return payment.Payment{}, translate(err, "payment", p.ID)
	}
	return p, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (payment.Payment, error) {
	var p payment.Payment
	err := s.db.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM loan_payments WHERE id = $1`, id)
	return p, translate(err, "payment", id)
}

func (s *Store) GetPaymentByOrderRef(ctx context.Context, ref string) (payment.Payment, error) {
	var p payment.Payment
	err := s.db.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM loan_payments WHERE order_ref = $1 AND order_ref <> ''`, ref)
	return p, translate(err, "payment", ref)
}

func (s *Store) ListPayments(ctx context.Context, filter storage.PaymentFilter) ([]payment.Payment, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.LoanID != "" {
		add("loan_id = $%d", filter.LoanID)
	}
	if filter.PatronID != "" {
		add("patron_id = $%d", filter.PatronID)
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if filter.Method != "" {
		add("method = $%d", string(filter.Method))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	query := `SELECT ` + paymentColumns + ` FROM loan_payments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	var result []payment.Payment
	if err := s.db.SelectContext(ctx, &result, query, args...); err != nil {
		return nil, err
	}
	return result, nil
}

// --- MembershipStore ---------------------------------------------------------

const tierColumns = `id, name, level, rank, max_books, loan_duration_days, late_fee_discount, reservation_priority,
	early_access, min_loans_required, min_points_required, max_violations_allowed, color, icon, created_at, updated_at`

func (s *Store) CreateTier(ctx context.Context, t membership.Tier) (membership.Tier, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO membership_tiers (`+tierColumns+`)
		VALUES (:id, :name, :level, :rank, :max_books, :loan_duration_days, :late_fee_discount, :reservation_priority,
		        :early_access, :min_loans_required, :min_points_required, :max_violations_allowed, :color, :icon,
		        :created_at, :updated_at)
	`, t)
	if err != nil {
		return membership.Tier{}, translate(err, "tier", string(t.Level))
	}
	return t, nil
}

func (s *Store) UpdateTier(ctx context.Context, t membership.Tier) (membership.Tier, error) {
	existing, err := s.GetTier(ctx, t.ID)
	if err != nil {
		return membership.Tier{}, err
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	_, err = s.db.NamedExecContext(ctx, `
		UPDATE membership_tiers
		SET name = :name, rank = :rank, max_books = :max_books, loan_duration_days = :loan_duration_days,
		    late_fee_discount = :late_fee_discount, reservation_priority = :reservation_priority,
		    early_access = :early_access, min_loans_required = :min_loans_required,
		    min_points_required = :min_points_required, max_violations_allowed = :max_violations_allowed,
		    color = :color, icon = :icon, updated_at = :updated_at
		WHERE id = :id
	`, t)
	if err != nil {
		return membership.Tier{}, translate(err, "tier", t.ID)
	}
	return t, nil
}

func (s *Store) GetTier(ctx context.Context, id string) (membership.Tier, error) {
	var t membership.Tier
	err := s.db.GetContext(ctx, &t, `SELECT `+tierColumns+` FROM membership_tiers WHERE id = $1`, id)
	return t, translate(err, "tier", id)
}

func (s *Store) ListTiers(ctx context.Context) ([]membership.Tier, error) {
	var result []membership.Tier
	err := s.db.SelectContext(ctx, &result, `SELECT `+tierColumns+` FROM membership_tiers ORDER BY rank`)
	return result, err
}

const membershipColumns = `id, patron_id, tier_id, current_points, total_loans, violation_count, join_date, upgrade_date, updated_at`

func (s *Store) CreateMembership(ctx context.Context, m membership.Membership) (membership.Membership, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.UpdatedAt = time.Now().UTC()
	if m.JoinDate.IsZero() {
		m.JoinDate = m.UpdatedAt
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO user_memberships (`+membershipColumns+`)
		VALUES (:id, :patron_id, :tier_id, :current_points, :total_loans, :violation_count, :join_date, :upgrade_date, :updated_at)
	`, m)
	if err != nil {
		return membership.Membership{}, translate(err, "membership", m.PatronID)
	}
	return m, nil
}

func (s *Store) UpdateMembership(ctx context.Context, m membership.Membership) (membership.Membership, error) {
	m.UpdatedAt = time.Now().UTC()
	result, err := s.db.NamedExecContext(ctx, `
		UPDATE user_memberships
		SET tier_id = :tier_id, current_points = :current_points, total_loans = :total_loans,
		    violation_count = :violation_count, upgrade_date = :upgrade_date, updated_at = :updated_at
		WHERE id = :id
	`, m)
	if err != nil {
		return membership.Membership{}, translate(err, "membership", m.ID)
	}
	if err := requireRow(result, "membership", m.ID); err != nil {
		return membership.Membership{}, err
	}
	return s.GetMembershipByPatron(ctx, m.PatronID)
}

func (s *Store) GetMembershipByPatron(ctx context.Context, patronID string) (membership.Membership, error) {
	var m membership.Membership
	err := s.db.GetContext(ctx, &m, `SELECT `+membershipColumns+` FROM user_memberships WHERE patron_id = $1`, patronID)
	return m, translate(err, "membership for patron", patronID)
}

func (s *Store) ListMemberships(ctx context.Context) ([]membership.Membership, error) {
	var result []membership.Membership
	err := s.db.SelectContext(ctx, &result, `SELECT `+membershipColumns+` FROM user_memberships ORDER BY join_date, id`)
	return result, err
}

// --- ReviewStore -------------------------------------------------------------

const reviewColumns = `id, book_id, patron_id, loan_id, rating, comment, approved, created_at, updated_at`

func (s *Store) CreateReview(ctx context.Context, r review.Review) (review.Review, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO book_reviews (`+reviewColumns+`)
		VALUES (:id, :book_id, :patron_id, :loan_id, :rating, :comment, :approved, :created_at, :updated_at)
	`, r)
	if err != nil {
		return review.Review{}, translate(err, "review", r.BookID)
	}
	return r, nil
}

func (s *Store) UpdateReview(ctx context.Context, r review.Review) (review.Review, error) {
	existing, err := s.GetReview(ctx, r.ID)
	if err != nil {
		return review.Review{}, err
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	_, err = s.db.NamedExecContext(ctx, `
		UPDATE book_reviews SET rating = :rating, comment = :comment, approved = :approved, updated_at = :updated_at
		WHERE id = :id
	`, r)
	if err != nil {
		return review.Review{}, translate(err, "review", r.ID)
	}
	return r, nil
}

func (s *Store) GetReview(ctx context.Context, id string) (review.Review, error) {
	var r review.Review
	err := s.db.GetContext(ctx, &r, `SELECT `+reviewColumns+` FROM book_reviews WHERE id = $1`, id)
	return r, translate(err, "review", id)
}

func (s *Store) ListReviews(ctx context.Context, filter storage.ReviewFilter) ([]review.Review, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.BookID != "" {
		add("book_id = $%d", filter.BookID)
	}
	if filter.PatronID != "" {
		add("patron_id = $%d", filter.PatronID)
	}
	if filter.LoanID != "" {
		add("loan_id = $%d", filter.LoanID)
	}
	if filter.Approved != nil {
		add("approved = $%d", *filter.Approved)
	}

	query := `SELECT ` + reviewColumns + ` FROM book_reviews`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	var result []review.Review
	if err := s.db.SelectContext(ctx, &result, query, args...); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteReview(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM book_reviews WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result, "review", id)
}

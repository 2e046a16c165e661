package review

import "time"

// Review is a patron rating of a book they have returned.
type Review struct {
	ID        string    `json:"id" db:"id"`
	BookID    string    `json:"bookId" db:"book_id"`
	PatronID  string    `json:"patronId" db:"patron_id"`
	LoanID    string    `json:"loanId,omitempty" db:"loan_id"`
	Rating    int       `json:"rating" db:"rating"`
	Comment   string    `json:"comment,omitempty" db:"comment"`
	Approved  bool      `json:"approved" db:"approved"`
	CreatedAt time.Time `json:"createdDate" db:"created_at"`
	UpdatedAt time.Time `json:"updatedDate" db:"updated_at"`
}

// Stats summarises approved reviews of a book.
type Stats struct {
	BookID        string  `json:"bookId"`
	AverageRating float64 `json:"averageRating"`
	ReviewCount   int     `json:"reviewCount"`
}

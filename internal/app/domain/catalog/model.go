package catalog

import "time"

// BookStatus is the lending state of a title.
type BookStatus string

const (
	// StatusAvailable means at least one copy can be borrowed.
	StatusAvailable BookStatus = "AVAILABLE"
	// StatusUnavailable means every copy is out or held.
	StatusUnavailable BookStatus = "UNAVAILABLE"
	// StatusDiscontinued is set manually and never changed by copy counts.
	StatusDiscontinued BookStatus = "DISCONTINUED"
)

// Book is a catalog title. Copy counts are derived from the copies table.
type Book struct {
	ID              string     `json:"id" db:"id"`
	Title           string     `json:"title" db:"title"`
	ISBN            string     `json:"isbn" db:"isbn"`
	PublisherID     string     `json:"publisherId,omitempty" db:"publisher_id"`
	CategoryID      string     `json:"categoryId,omitempty" db:"category_id"`
	AuthorIDs       []string   `json:"authorIds" db:"-"`
	Genre           string     `json:"genre,omitempty" db:"genre"`
	Description     string     `json:"description,omitempty" db:"description"`
	ImageURL        string     `json:"imageUrl,omitempty" db:"image_url"`
	PublishedDate   *time.Time `json:"publishedDate,omitempty" db:"published_date"`
	Fee             int64      `json:"fee" db:"fee"`
	TotalCopies     int        `json:"totalCopies" db:"total_copies"`
	AvailableCopies int        `json:"availableCopies" db:"available_copies"`
	Status          BookStatus `json:"status" db:"status"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time  `json:"updatedAt" db:"updated_at"`
}

// DeriveStatus returns the status implied by the available copy count.
func (b Book) DeriveStatus() BookStatus {
	if b.Status == StatusDiscontinued {
		return StatusDiscontinued
	}
	if b.AvailableCopies > 0 {
		return StatusAvailable
	}
	return StatusUnavailable
}

// Author writes books.
type Author struct {
	ID          string     `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Biography   string     `json:"biography,omitempty" db:"biography"`
	Nationality string     `json:"nationality,omitempty" db:"nationality"`
	BirthDate   *time.Time `json:"birthDate,omitempty" db:"birth_date"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
}

// Category groups books by subject.
type Category struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// Publisher publishes books.
type Publisher struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	Address         string    `json:"address,omitempty" db:"address"`
	Phone           string    `json:"phone,omitempty" db:"phone"`
	Email           string    `json:"email,omitempty" db:"email"`
	Website         string    `json:"website,omitempty" db:"website"`
	Country         string    `json:"country,omitempty" db:"country"`
	EstablishedYear int       `json:"establishedYear,omitempty" db:"established_year"`
	Description     string    `json:"description,omitempty" db:"description"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}

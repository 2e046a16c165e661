package patron

import "time"

// Role controls what a patron may do.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleLibrarian Role = "LIBRARIAN"
	RoleUser      Role = "USER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleLibrarian, RoleUser:
		return true
	}
	return false
}

// IsStaff reports whether the role may operate the front desk.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleLibrarian
}

// Patron is a library member or staff account.
type Patron struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	PhoneNumber  string    `json:"phoneNumber,omitempty" db:"phone_number"`
	Address      string    `json:"address,omitempty" db:"address"`
	Role         Role      `json:"role" db:"role"`
	Active       bool      `json:"isActive" db:"is_active"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

package inventory

import "time"

// Condition is the physical state of a copy.
type Condition string

const (
	ConditionNew     Condition = "NEW"
	ConditionGood    Condition = "GOOD"
	ConditionFair    Condition = "FAIR"
	ConditionPoor    Condition = "POOR"
	ConditionDamaged Condition = "DAMAGED"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	switch c {
	case ConditionNew, ConditionGood, ConditionFair, ConditionPoor, ConditionDamaged:
		return true
	}
	return false
}

// Status is the circulation state of a copy.
type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusBorrowed  Status = "BORROWED"
	StatusReserved  Status = "RESERVED"
	StatusLost      Status = "LOST"
	StatusRepairing Status = "REPAIRING"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBorrowed, StatusReserved, StatusLost, StatusRepairing:
		return true
	}
	return false
}

// Copy is one physical instance of a book.
type Copy struct {
	ID            string     `json:"id" db:"id"`
	BookID        string     `json:"bookId" db:"book_id"`
	CopyNumber    int        `json:"copyNumber" db:"copy_number"`
	Barcode       string     `json:"barcode" db:"barcode"`
	Condition     Condition  `json:"condition" db:"condition"`
	Status        Status     `json:"status" db:"status"`
	Location      string     `json:"location" db:"location"`
	AcquiredDate  *time.Time `json:"acquiredDate,omitempty" db:"acquired_date"`
	PurchasePrice int64      `json:"purchasePrice" db:"purchase_price"`
	Notes         string     `json:"notes,omitempty" db:"notes"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time  `json:"updatedAt" db:"updated_at"`
}

// NeedsMaintenance reports whether the copy should be looked at by staff.
func (c Copy) NeedsMaintenance() bool {
	return c.Condition == ConditionPoor || c.Condition == ConditionDamaged || c.Status == StatusRepairing
}

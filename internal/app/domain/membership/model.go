package membership

import "time"

// Level is the tier identifier.
type Level string

const (
	LevelBasic   Level = "BASIC"
	LevelVIP     Level = "VIP"
	LevelPremium Level = "PREMIUM"
)

// Tier grants borrowing limits and discounts.
type Tier struct {
	ID                   string    `json:"id" db:"id"`
	Name                 string    `json:"name" db:"name"`
	Level                Level     `json:"level" db:"level"`
	Rank                 int       `json:"rank" db:"rank"`
	MaxBooks             int       `json:"maxBooks" db:"max_books"`
	LoanDurationDays     int       `json:"loanDurationDays" db:"loan_duration_days"`
	LateFeeDiscount      int       `json:"lateFeeDiscount" db:"late_fee_discount"`
	ReservationPriority  int       `json:"reservationPriority" db:"reservation_priority"`
	EarlyAccess          bool      `json:"earlyAccess" db:"early_access"`
	MinLoansRequired     int       `json:"minLoansRequired" db:"min_loans_required"`
	MinPointsRequired    int       `json:"minPointsRequired" db:"min_points_required"`
	MaxViolationsAllowed int       `json:"maxViolationsAllowed" db:"max_violations_allowed"`
	Color                string    `json:"color" db:"color"`
	Icon                 string    `json:"icon" db:"icon"`
	CreatedAt            time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time `json:"updatedAt" db:"updated_at"`
}

// Qualifies reports whether the counters meet the tier entry requirements.
func (t Tier) Qualifies(loans, points, violations int) bool {
	return loans >= t.MinLoansRequired && points >= t.MinPointsRequired && violations <= t.MaxViolationsAllowed
}

// Membership is a patron's standing within the tier ladder.
type Membership struct {
	ID             string     `json:"id" db:"id"`
	PatronID       string     `json:"patronId" db:"patron_id"`
	TierID         string     `json:"tierId" db:"tier_id"`
	CurrentPoints  int        `json:"currentPoints" db:"current_points"`
	TotalLoans     int        `json:"totalLoans" db:"total_loans"`
	ViolationCount int        `json:"violationCount" db:"violation_count"`
	JoinDate       time.Time  `json:"joinDate" db:"join_date"`
	UpgradeDate    *time.Time `json:"upgradeDate,omitempty" db:"upgrade_date"`
	UpdatedAt      time.Time  `json:"updatedAt" db:"updated_at"`
}

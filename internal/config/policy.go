package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy holds the lending rules of the library.
type Policy struct {
	LoanPeriodDays         int          `yaml:"loan_period_days"`
	RenewalDays            int          `yaml:"renewal_days"`
	MaxRenewals            int          `yaml:"max_renewals"`
	DepositAmount          int64        `yaml:"deposit_amount"`
	FinePerDay             int64        `yaml:"fine_per_day"`
	OnTimeReturnPoints     int          `yaml:"on_time_return_points"`
	PointsPerLoan          int          `yaml:"points_per_loan"`
	BlockOnUnpaidFines     bool         `yaml:"block_on_unpaid_fines"`
	CashPaymentWindowHours int          `yaml:"cash_payment_window_hours"`
	DefaultCopyLocation    string       `yaml:"default_copy_location"`
	Tiers                  []TierPolicy `yaml:"tiers"`
}

// TierPolicy seeds a membership tier.
type TierPolicy struct {
	Name                 string `yaml:"name"`
	Level                string `yaml:"level"`
	MaxBooks             int    `yaml:"max_books"`
	LoanDurationDays     int    `yaml:"loan_duration_days"`
	LateFeeDiscount      int    `yaml:"late_fee_discount"`
	ReservationPriority  int    `yaml:"reservation_priority"`
	EarlyAccess          bool   `yaml:"early_access"`
	MinLoansRequired     int    `yaml:"min_loans_required"`
	MinPointsRequired    int    `yaml:"min_points_required"`
	MaxViolationsAllowed int    `yaml:"max_violations_allowed"`
	Color                string `yaml:"color"`
	Icon                 string `yaml:"icon"`
}

// LoadPolicyFromPath reads a policy file. Fields absent from the file keep
// their default values.
func LoadPolicyFromPath(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	policy := DefaultPolicy()
	tiers := policy.Tiers
	policy.Tiers = nil
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if len(policy.Tiers) == 0 {
		policy.Tiers = tiers
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return policy, nil
}

// LoadPolicyOrDefault loads the policy file or returns the defaults.
func LoadPolicyOrDefault(path string) *Policy {
	policy, err := LoadPolicyFromPath(path)
	if err != nil {
		return DefaultPolicy()
	}
	return policy
}

// DefaultPolicy returns the built-in lending rules.
func DefaultPolicy() *Policy {
	return &Policy{
		LoanPeriodDays:         14,
		RenewalDays:            14,
		MaxRenewals:            2,
		DepositAmount:          50000,
		FinePerDay:             5000,
		OnTimeReturnPoints:     10,
		PointsPerLoan:          5,
		BlockOnUnpaidFines:     true,
		CashPaymentWindowHours: 72,
		DefaultCopyLocation:    "Kho chính",
		Tiers: []TierPolicy{
			{
				Name: "Basic", Level: "BASIC", MaxBooks: 3, LoanDurationDays: 14,
				MaxViolationsAllowed: 5, Color: "#6B7280", Icon: "user",
			},
			{
				Name: "VIP", Level: "VIP", MaxBooks: 5, LoanDurationDays: 21, LateFeeDiscount: 10,
				ReservationPriority: 1, MinLoansRequired: 10, MinPointsRequired: 100,
				MaxViolationsAllowed: 3, Color: "#F59E0B", Icon: "star",
			},
			{
				Name: "Premium", Level: "PREMIUM", MaxBooks: 10, LoanDurationDays: 30, LateFeeDiscount: 20,
				ReservationPriority: 2, EarlyAccess: true, MinLoansRequired: 30, MinPointsRequired: 300,
				MaxViolationsAllowed: 1, Color: "#8B5CF6", Icon: "crown",
			},
		},
	}
}

// Validate rejects policies that would make lending impossible.
func (p *Policy) Validate() error {
	if p.LoanPeriodDays <= 0 {
		return fmt.Errorf("loan_period_days must be positive")
	}
	if p.RenewalDays <= 0 {
		return fmt.Errorf("renewal_days must be positive")
	}
	if p.MaxRenewals < 0 {
		return fmt.Errorf("max_renewals cannot be negative")
	}
	if p.DepositAmount < 0 || p.FinePerDay < 0 {
		return fmt.Errorf("amounts cannot be negative")
	}
	seen := make(map[string]bool)
	hasBasic := false
	for _, tier := range p.Tiers {
		level := strings.ToUpper(strings.TrimSpace(tier.Level))
		if level == "" {
			return fmt.Errorf("tier %q: level is required", tier.Name)
		}
		if seen[level] {
			return fmt.Errorf("tier level %s declared twice", level)
		}
		seen[level] = true
		if level == "BASIC" {
			hasBasic = true
		}
		if tier.MaxBooks <= 0 || tier.LoanDurationDays <= 0 {
			return fmt.Errorf("tier %s: max_books and loan_duration_days must be positive", level)
		}
		if tier.LateFeeDiscount < 0 || tier.LateFeeDiscount > 100 {
			return fmt.Errorf("tier %s: late_fee_discount must be between 0 and 100", level)
		}
	}
	if !hasBasic {
		return fmt.Errorf("a BASIC tier is required")
	}
	return nil
}

package membership

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/qltv/library_service/internal/app/domain/membership"
	"github.com/qltv/library_service/internal/app/realtime"
	"github.com/qltv/library_service/internal/app/storage"
	"github.com/qltv/library_service/internal/config"
	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/pkg/logger"
)

// Service manages tiers and patron memberships.
type Service struct {
	store   storage.MembershipStore
	patrons storage.PatronStore
	policy  *config.Policy
	events  realtime.Publisher
	log     *logger.Logger
	now     func() time.Time
}

// New constructs a membership service. A nil policy uses the defaults.
func New(store storage.MembershipStore, patrons storage.PatronStore, policy *config.Policy, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("membership")
	}
	if policy == nil {
		policy = config.DefaultPolicy()
	}
	return &Service{
		store:   store,
		patrons: patrons,
		policy:  policy,
		events:  realtime.NopPublisher{},
		log:     log,
		now:     time.Now,
	}
}

// AttachPublisher routes tier change events to p.
func (s *Service) AttachPublisher(p realtime.Publisher) {
	if p != nil {
		s.events = p
	}
}

// EnsureTiers creates the policy tiers that do not exist yet.
func (s *Service) EnsureTiers(ctx context.Context) error {
	existing, err := s.store.ListTiers(ctx)
	if err != nil {
		return err
	}
	have := make(map[membership.Level]bool, len(existing))
	for _, t := range existing {
		have[t.Level] = true
	}
	for i, tp := range s.policy.Tiers {
		level := membership.Level(strings.ToUpper(tp.Level))
		if have[level] {
			continue
		}
		tier, err := s.store.CreateTier(ctx, membership.Tier{
			Name:                 tp.Name,
			Level:                level,
			Rank:                 i + 1,
			MaxBooks:             tp.MaxBooks,
			LoanDurationDays:     tp.LoanDurationDays,
			LateFeeDiscount:      tp.LateFeeDiscount,
			ReservationPriority:  tp.ReservationPriority,
			EarlyAccess:          tp.EarlyAccess,
			MinLoansRequired:     tp.MinLoansRequired,
			MinPointsRequired:    tp.MinPointsRequired,
			MaxViolationsAllowed: tp.MaxViolationsAllowed,
			Color:                tp.Color,
			Icon:                 tp.Icon,
		})
		if err != nil && !errors.Is(err, storage.ErrConflict) {
			return err
		}
		if err == nil {
			s.log.WithField("tier", tier.Level).Info("membership tier seeded")
		}
	}
	return nil
}

// Tiers lists tiers from lowest to highest rank.
func (s *Service) Tiers(ctx context.Context) ([]membership.Tier, error) {
	tiers, err := s.store.ListTiers(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Rank < tiers[j].Rank })
	return tiers, nil
}

// Tier fetches one tier.
func (s *Service) Tier(ctx context.Context, id string) (membership.Tier, error) {
	t, err := s.store.GetTier(ctx, id)
	if err != nil {
		return membership.Tier{}, storage.Translate(err, "membership tier", id)
	}
	return t, nil
}

// TierByLevel finds the tier for level.
func (s *Service) TierByLevel(ctx context.Context, level membership.Level) (membership.Tier, error) {
	tiers, err := s.Tiers(ctx)
	if err != nil {
		return membership.Tier{}, err
	}
	for _, t := range tiers {
		if strings.EqualFold(string(t.Level), string(level)) {
			return t, nil
		}
	}
	return membership.Tier{}, svcerrors.NotFound("membership tier", string(level))
}

// UpdateTier replaces the mutable fields of a tier. Level and rank are fixed.
func (s *Service) UpdateTier(ctx context.Context, id string, in membership.Tier) (membership.Tier, error) {
	current, err := s.Tier(ctx, id)
	if err != nil {
		return membership.Tier{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return membership.Tier{}, svcerrors.InvalidInput("name is required")
	}
	if in.MaxBooks <= 0 || in.LoanDurationDays <= 0 {
		return membership.Tier{}, svcerrors.InvalidInput("maxBooks and loanDurationDays must be positive")
	}
	if in.LateFeeDiscount < 0 || in.LateFeeDiscount > 100 {
		return membership.Tier{}, svcerrors.InvalidInput("lateFeeDiscount must be between 0 and 100")
	}
	if in.MinLoansRequired < 0 || in.MinPointsRequired < 0 || in.MaxViolationsAllowed < 0 {
		return membership.Tier{}, svcerrors.InvalidInput("requirements cannot be negative")
	}

	in.ID = current.ID
	in.Level = current.Level
	in.Rank = current.Rank
	in.CreatedAt = current.CreatedAt
	updated, err := s.store.UpdateTier(ctx, in)
	if err != nil {
		return membership.Tier{}, storage.Translate(err, "membership tier", id)
	}
	s.log.WithField("tier", updated.Level).Info("membership tier updated")
	return updated, nil
}

// Get returns the patron's membership, enrolling them in the lowest tier on
// first access.
func (s *Service) Get(ctx context.Context, patronID string) (membership.Membership, error) {
	m, err := s.store.GetMembershipByPatron(ctx, patronID)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return membership.Membership{}, err
	}
	m, err = s.Create(ctx, patronID)
	if svcerrors.HasCode(err, svcerrors.CodeAlreadyExists) {
		return s.store.GetMembershipByPatron(ctx, patronID)
	}
	return m, err
}

// Create enrolls a patron in the lowest tier.
func (s *Service) Create(ctx context.Context, patronID string) (membership.Membership, error) {
	if strings.TrimSpace(patronID) == "" {
		return membership.Membership{}, svcerrors.InvalidInput("patron id is required")
	}
	if s.patrons != nil {
		if _, err := s.patrons.GetPatron(ctx, patronID); err != nil {
			return membership.Membership{}, storage.Translate(err, "patron", patronID)
		}
	}
	tiers, err := s.Tiers(ctx)
	if err != nil {
		return membership.Membership{}, err
	}
	if len(tiers) == 0 {
		if err := s.EnsureTiers(ctx); err != nil {
			return membership.Membership{}, err
		}
		if tiers, err = s.Tiers(ctx); err != nil {
			return membership.Membership{}, err
		}
	}
	if len(tiers) == 0 {
		return membership.Membership{}, svcerrors.Internal("no membership tiers configured", nil)
	}

	m, err := s.store.CreateMembership(ctx, membership.Membership{
		PatronID: patronID,
		TierID:   tiers[0].ID,
		JoinDate: s.now().UTC(),
	})
	if errors.Is(err, storage.ErrConflict) {
		return membership.Membership{}, svcerrors.AlreadyExists("membership", "patronId", patronID)
	}
	if err != nil {
		return membership.Membership{}, err
	}
	s.log.WithField("patron_id", patronID).WithField("tier", tiers[0].Level).Info("membership created")
	return m, nil
}

// List returns every membership.
func (s *Service) List(ctx context.Context) ([]membership.Membership, error) {
	return s.store.ListMemberships(ctx)
}

// Changes adjusts membership counters. Nil fields are left alone.
type Changes struct {
	Points     *int
	Loans      *int
	Violations *int
}

// Update overwrites counters and re-evaluates the tier.
func (s *Service) Update(ctx context.Context, patronID string, c Changes) (membership.Membership, error) {
	return s.mutate(ctx, patronID, func(m *membership.Membership) error {
		if c.Points != nil {
			if *c.Points < 0 {
				return svcerrors.InvalidInput("points cannot be negative")
			}
			m.CurrentPoints = *c.Points
		}
		if c.Loans != nil {
			if *c.Loans < 0 {
				return svcerrors.InvalidInput("loans cannot be negative")
			}
			m.TotalLoans = *c.Loans
		}
		if c.Violations != nil {
			if *c.Violations < 0 {
				return svcerrors.InvalidInput("violations cannot be negative")
			}
			m.ViolationCount = *c.Violations
		}
		return nil
	})
}

// AddPoints credits points.
func (s *Service) AddPoints(ctx context.Context, patronID string, points int) (membership.Membership, error) {
	if points <= 0 {
		return membership.Membership{}, svcerrors.InvalidInput("points must be positive")
	}
	return s.mutate(ctx, patronID, func(m *membership.Membership) error {
		m.CurrentPoints += points
		return nil
	})
}

// RecordLoan counts a started loan and credits the per loan points.
func (s *Service) RecordLoan(ctx context.Context, patronID string) (membership.Membership, error) {
	return s.mutate(ctx, patronID, func(m *membership.Membership) error {
		m.TotalLoans++
		m.CurrentPoints += s.policy.PointsPerLoan
		return nil
	})
}

// RecordViolation counts a late return.
func (s *Service) RecordViolation(ctx context.Context, patronID string) (membership.Membership, error) {
	return s.mutate(ctx, patronID, func(m *membership.Membership) error {
		m.ViolationCount++
		return nil
	})
}

// Upgrade moves a patron to tierID regardless of requirements.
func (s *Service) Upgrade(ctx context.Context, patronID, tierID string) (membership.Membership, error) {
	tier, err := s.Tier(ctx, tierID)
	if err != nil {
		return membership.Membership{}, err
	}
	m, err := s.Get(ctx, patronID)
	if err != nil {
		return membership.Membership{}, err
	}
	if m.TierID == tier.ID {
		return m, nil
	}
	previous := m.TierID
	now := s.now().UTC()
	m.TierID = tier.ID
	m.UpgradeDate = &now
	m, err = s.store.UpdateMembership(ctx, m)
	if err != nil {
		return membership.Membership{}, err
	}
	s.tierChanged(ctx, m, previous, tier, "manual")
	return m, nil
}

// PolicyFor returns the tier governing the patron's loans.
func (s *Service) PolicyFor(ctx context.Context, patronID string) (membership.Tier, error) {
	m, err := s.Get(ctx, patronID)
	if err != nil {
		return membership.Tier{}, err
	}
	return s.Tier(ctx, m.TierID)
}

// TierMemberCount counts memberships in a tier.
func (s *Service) TierMemberCount(ctx context.Context, tierID string) (int, error) {
	if _, err := s.Tier(ctx, tierID); err != nil {
		return 0, err
	}
	all, err := s.store.ListMemberships(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, m := range all {
		if m.TierID == tierID {
			count++
		}
	}
	return count, nil
}

// TierCount pairs a tier with its member count.
type TierCount struct {
	Tier    membership.Tier `json:"tier"`
	Members int             `json:"members"`
}

// Distribution counts members per tier in rank order.
func (s *Service) Distribution(ctx context.Context) ([]TierCount, error) {
	tiers, err := s.Tiers(ctx)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListMemberships(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(tiers))
	for _, m := range all {
		counts[m.TierID]++
	}
	out := make([]TierCount, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, TierCount{Tier: t, Members: counts[t.ID]})
	}
	return out, nil
}

func (s *Service) mutate(ctx context.Context, patronID string, fn func(*membership.Membership) error) (membership.Membership, error) {
	m, err := s.Get(ctx, patronID)
	if err != nil {
		return membership.Membership{}, err
	}
	if err := fn(&m); err != nil {
		return membership.Membership{}, err
	}
	tiers, err := s.Tiers(ctx)
	if err != nil {
		return membership.Membership{}, err
	}
	previous := m.TierID
	target, reason := evaluate(tiers, m)
	if target != nil && target.ID != m.TierID {
		now := s.now().UTC()
		m.TierID = target.ID
		m.UpgradeDate = &now
	}
	m, err = s.store.UpdateMembership(ctx, m)
	if err != nil {
		return membership.Membership{}, err
	}
	if m.TierID != previous && target != nil {
		s.tierChanged(ctx, m, previous, *target, reason)
	}
	return m, nil
}

// evaluate picks the tier m belongs in. Exceeding the current tier's violation
// allowance drops the patron to the lowest tier; otherwise the highest
// qualifying tier above the current one is adopted.
func evaluate(tiers []membership.Tier, m membership.Membership) (*membership.Tier, string) {
	if len(tiers) == 0 {
		return nil, ""
	}
	current := -1
	for i := range tiers {
		if tiers[i].ID == m.TierID {
			current = i
			break
		}
	}
	if current < 0 {
		return &tiers[0], "reset"
	}
	if m.ViolationCount > tiers[current].MaxViolationsAllowed {
		if current == 0 {
			return nil, ""
		}
		return &tiers[0], "downgrade"
	}
	for i := len(tiers) - 1; i > current; i-- {
		if tiers[i].Qualifies(m.TotalLoans, m.CurrentPoints, m.ViolationCount) {
			return &tiers[i], "upgrade"
		}
	}
	return nil, ""
}

func (s *Service) tierChanged(ctx context.Context, m membership.Membership, previous string, tier membership.Tier, reason string) {
	s.log.WithField("patron_id", m.PatronID).
		WithField("from_tier", previous).
		WithField("to_tier", tier.Level).
		WithField("reason", reason).
		Info("membership tier changed")
	s.events.Publish(ctx, realtime.EventTierChanged, map[string]interface{}{
		"patronId": m.PatronID,
		"tierId":   tier.ID,
		"level":    tier.Level,
		"reason":   reason,
	})
}

package patrons

import (
	"context"
	"strings"

	"github.com/qltv/library_service/internal/app/auth"
	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/domain/membership"
	"github.com/qltv/library_service/internal/app/domain/patron"
	"github.com/qltv/library_service/internal/app/storage"
	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/pkg/logger"
)

// MembershipReader resolves a patron's membership.
type MembershipReader interface {
	Get(ctx context.Context, patronID string) (membership.Membership, error)
}

// Service manages patron accounts on behalf of staff and the patrons themselves.
type Service struct {
	store   storage.PatronStore
	loans   storage.LoanStore
	reviews storage.ReviewStore
	members MembershipReader
	log     *logger.Logger
}

// New constructs the patron service. loans, reviews and members are optional.
func New(store storage.PatronStore, loans storage.LoanStore, reviews storage.ReviewStore, members MembershipReader, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("patrons")
	}
	return &Service{store: store, loans: loans, reviews: reviews, members: members, log: log}
}

// Get fetches a patron.
func (s *Service) Get(ctx context.Context, id string) (patron.Patron, error) {
	p, err := s.store.GetPatron(ctx, id)
	if err != nil {
		return patron.Patron{}, storage.Translate(err, "patron", id)
	}
	return p, nil
}

// GetByEmail fetches a patron by email.
func (s *Service) GetByEmail(ctx context.Context, email string) (patron.Patron, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	p, err := s.store.GetPatronByEmail(ctx, email)
	if err != nil {
		return patron.Patron{}, storage.Translate(err, "patron", email)
	}
	return p, nil
}

// List pages through patrons matching filter.
func (s *Service) List(ctx context.Context, filter storage.PatronFilter, page storage.Page) (storage.PageResult[patron.Patron], error) {
	all, err := s.store.ListPatrons(ctx, filter)
	if err != nil {
		return storage.PageResult[patron.Patron]{}, err
	}
	return storage.Paginate(all, page), nil
}

// Search matches name, email or phone.
func (s *Service) Search(ctx context.Context, query string, page storage.Page) (storage.PageResult[patron.Patron], error) {
	return s.List(ctx, storage.PatronFilter{Query: query}, page)
}

// Profile holds self-service editable fields.
type Profile struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	Address     string `json:"address"`
}

// UpdateProfile edits contact details.
func (s *Service) UpdateProfile(ctx context.Context, id string, in Profile) (patron.Patron, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return patron.Patron{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return patron.Patron{}, svcerrors.InvalidInput("name is required")
	}
	p.Name = name
	p.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	p.Address = strings.TrimSpace(in.Address)
	return s.save(ctx, p, "profile updated")
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !auth.CheckPassword(p.PasswordHash, current) {
		return svcerrors.InvalidInput("current password is incorrect")
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return err
	}
	p.PasswordHash = hash
	if _, err := s.save(ctx, p, "password changed"); err != nil {
		return err
	}
	s.log.LogSecurityEvent(ctx, "password_changed", map[string]interface{}{"patron_id": id})
	return nil
}

// UpdateRole changes a patron's role.
func (s *Service) UpdateRole(ctx context.Context, id string, role patron.Role) (patron.Patron, error) {
	role = patron.Role(strings.ToUpper(string(role)))
	if !role.Valid() {
		return patron.Patron{}, svcerrors.InvalidInputf("unknown role %q", role)
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return patron.Patron{}, err
	}
	if p.Role == role {
		return p, nil
	}
	p.Role = role
	return s.save(ctx, p, "role changed")
}

// Activate enables login.
func (s *Service) Activate(ctx context.Context, id string) (patron.Patron, error) {
	return s.setActive(ctx, id, true)
}

// Deactivate disables login.
func (s *Service) Deactivate(ctx context.Context, id string) (patron.Patron, error) {
	return s.setActive(ctx, id, false)
}

// ToggleStatus flips the active flag.
func (s *Service) ToggleStatus(ctx context.Context, id string) (patron.Patron, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return patron.Patron{}, err
	}
	return s.setActive(ctx, id, !p.Active)
}

func (s *Service) setActive(ctx context.Context, id string, active bool) (patron.Patron, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return patron.Patron{}, err
	}
	if p.Active == active {
		return p, nil
	}
	p.Active = active
	msg := "patron deactivated"
	if active {
		msg = "patron activated"
	}
	return s.save(ctx, p, msg)
}

// Delete removes a patron without open loans.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if s.loans != nil {
		loans, err := s.loans.ListLoans(ctx, storage.LoanFilter{PatronID: id})
		if err != nil {
			return err
		}
		for _, l := range loans {
			if l.Status.Open() {
				return svcerrors.Conflict("patron has active loans")
			}
		}
	}
	if err := s.store.DeletePatron(ctx, id); err != nil {
		return storage.Translate(err, "patron", id)
	}
	s.log.WithField("patron_id", id).Info("patron deleted")
	return nil
}

// BulkResult reports a bulk operation.
type BulkResult struct {
	Updated int      `json:"updated"`
	Failed  []string `json:"failed"`
}

// BulkUpdateRole applies role to every id.
func (s *Service) BulkUpdateRole(ctx context.Context, ids []string, role patron.Role) (BulkResult, error) {
	if !patron.Role(strings.ToUpper(string(role))).Valid() {
		return BulkResult{}, svcerrors.InvalidInputf("unknown role %q", role)
	}
	return s.bulk(ids, func(id string) error {
		_, err := s.UpdateRole(ctx, id, role)
		return err
	}), nil
}

// BulkDeactivate deactivates every id.
func (s *Service) BulkDeactivate(ctx context.Context, ids []string) BulkResult {
	return s.bulk(ids, func(id string) error {
		_, err := s.Deactivate(ctx, id)
		return err
	})
}

func (s *Service) bulk(ids []string, fn func(string) error) BulkResult {
	res := BulkResult{Failed: []string{}}
	for _, id := range ids {
		if err := fn(id); err != nil {
			res.Failed = append(res.Failed, id)
			continue
		}
		res.Updated++
	}
	return res
}

// Statistics summarises a patron's activity.
type Statistics struct {
	Patron        patron.Patron          `json:"user"`
	TotalLoans    int                    `json:"totalLoans"`
	ActiveLoans   int                    `json:"activeLoans"`
	OverdueLoans  int                    `json:"overdueLoans"`
	ReturnedLoans int                    `json:"returnedLoans"`
	TotalFines    int64                  `json:"totalFines"`
	UnpaidFines   int64                  `json:"unpaidFines"`
	Reviews       int                    `json:"reviews"`
	Membership    *membership.Membership `json:"membership,omitempty"`
}

// Statistics computes a patron's activity summary.
func (s *Service) Statistics(ctx context.Context, id string) (Statistics, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{Patron: p}
	if s.loans != nil {
		loans, err := s.loans.ListLoans(ctx, storage.LoanFilter{PatronID: id})
		if err != nil {
			return Statistics{}, err
		}
		for _, l := range loans {
			if l.Status == loan.StatusCancelled {
				continue
			}
			stats.TotalLoans++
			switch {
			case l.Status == loan.StatusOverdue:
				stats.OverdueLoans++
				stats.ActiveLoans++
			case l.Status.Active():
				stats.ActiveLoans++
			case l.Status == loan.StatusReturned:
				stats.ReturnedLoans++
			}
			stats.TotalFines += l.FineAmount
			stats.UnpaidFines += l.OutstandingFine()
		}
	}
	if s.reviews != nil {
		reviews, err := s.reviews.ListReviews(ctx, storage.ReviewFilter{PatronID: id})
		if err != nil {
			return Statistics{}, err
		}
		stats.Reviews = len(reviews)
	}
	if s.members != nil {
		if m, err := s.members.Get(ctx, id); err == nil {
			stats.Membership = &m
		} else {
			s.log.WithError(err).WithField("patron_id", id).Warn("load membership for statistics")
		}
	}
	return stats, nil
}

func (s *Service) save(ctx context.Context, p patron.Patron, msg string) (patron.Patron, error) {
	updated, err := s.store.UpdatePatron(ctx, p)
	if err != nil {
		return patron.Patron{}, storage.Translate(err, "patron", p.ID)
	}
	s.log.WithField("patron_id", p.ID).Info(msg)
	return updated, nil
}

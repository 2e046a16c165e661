package accounts

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/qltv/library_service/internal/app/auth"
	"github.com/qltv/library_service/internal/app/domain/patron"
	"github.com/qltv/library_service/internal/app/storage"
	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/pkg/logger"
)

// MembershipEnroller creates the membership of a new patron.
type MembershipEnroller func(ctx context.Context, patronID string) error

// Service registers patrons and issues access tokens.
type Service struct {
	patrons storage.PatronStore
	tokens  *auth.TokenManager
	enroll  MembershipEnroller
	log     *logger.Logger
}

// New constructs the account service.
func New(patrons storage.PatronStore, tokens *auth.TokenManager, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{patrons: patrons, tokens: tokens, log: log}
}

// AttachEnroller enrolls newly registered patrons in a membership tier.
func (s *Service) AttachEnroller(fn MembershipEnroller) {
	s.enroll = fn
}

// Registration is the sign up payload.
type Registration struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phoneNumber"`
	Address     string `json:"address"`
}

// Session is a successful login.
type Session struct {
	Token     string        `json:"token"`
	Type      string        `json:"type"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Patron    patron.Patron `json:"user"`
}

// Register creates a USER account.
func (s *Service) Register(ctx context.Context, in Registration) (patron.Patron, error) {
	p, err := s.create(ctx, in, patron.RoleUser)
	if err != nil {
		return patron.Patron{}, err
	}
	if s.enroll != nil {
		if err := s.enroll(ctx, p.ID); err != nil {
			s.log.WithError(err).WithField("patron_id", p.ID).Warn("membership enrollment failed")
		}
	}
	return p, nil
}

// Login checks credentials and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, svcerrors.InvalidInput("email and password are required")
	}
	p, err := s.patrons.GetPatronByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.LogSecurityEvent(ctx, "login_failed", map[string]interface{}{"email": email, "reason": "unknown_email"})
		return Session{}, svcerrors.Unauthorized("invalid email or password")
	}
	if err != nil {
		return Session{}, err
	}
	if !auth.CheckPassword(p.PasswordHash, password) {
		s.log.LogSecurityEvent(ctx, "login_failed", map[string]interface{}{"email": email, "reason": "bad_password"})
		return Session{}, svcerrors.Unauthorized("invalid email or password")
	}
	if !p.Active {
		return Session{}, svcerrors.Forbidden("account is deactivated")
	}

	token, expires, err := s.tokens.Issue(p)
	if err != nil {
		return Session{}, svcerrors.Internal("issue token", err)
	}
	s.log.WithField("patron_id", p.ID).WithField("role", p.Role).Info("patron logged in")
	return Session{Token: token, Type: "Bearer", ExpiresAt: expires, Patron: p}, nil
}

// ParseToken validates an access token.
func (s *Service) ParseToken(token string) (*auth.Claims, error) {
	return s.tokens.Parse(token)
}

// EnsureAdmin creates an ADMIN account when no patron uses email. It reports
// whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, name, email, password string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return false, nil
	}
	if _, err := s.patrons.GetPatronByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	if strings.TrimSpace(name) == "" {
		name = "Administrator"
	}
	p, err := s.create(ctx, Registration{Name: name, Email: email, Password: password}, patron.RoleAdmin)
	if err != nil {
		return false, err
	}
	s.log.WithField("patron_id", p.ID).Info("bootstrap admin created")
	return true, nil
}

// CreateStaff creates an account with an explicit role.
func (s *Service) CreateStaff(ctx context.Context, in Registration, role patron.Role) (patron.Patron, error) {
	if !role.Valid() {
		return patron.Patron{}, svcerrors.InvalidInputf("unknown role %q", role)
	}
	return s.create(ctx, in, role)
}

func (s *Service) create(ctx context.Context, in Registration, role patron.Role) (patron.Patron, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" {
		return patron.Patron{}, svcerrors.InvalidInput("name is required")
	}
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return patron.Patron{}, svcerrors.InvalidInput("a valid email is required")
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return patron.Patron{}, err
	}

	p, err := s.patrons.CreatePatron(ctx, patron.Patron{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		PhoneNumber:  strings.TrimSpace(in.PhoneNumber),
		Address:      strings.TrimSpace(in.Address),
		Role:         role,
		Active:       true,
	})
	if errors.Is(err, storage.ErrConflict) {
		return patron.Patron{}, svcerrors.AlreadyExists("patron", "email", email)
	}
	if err != nil {
		return patron.Patron{}, err
	}
	s.log.WithField("patron_id", p.ID).WithField("role", role).Info("patron registered")
	return p, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

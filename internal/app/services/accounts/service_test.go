package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/qltv/library_service/internal/app/auth"
	"github.com/qltv/library_service/internal/app/domain/patron"
	"github.com/qltv/library_service/internal/app/storage/memory"
	svcerrors "github.com/qltv/library_service/internal/errors"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	tokens, err := auth.NewTokenManager("test-secret-key", "library-service", time.Hour)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	store := memory.New()
	return New(store, tokens, nil), store
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	var enrolled string
	svc.AttachEnroller(func(_ context.Context, patronID string) error {
		enrolled = patronID
		return nil
	})

	p, err := svc.Register(ctx, Registration{Name: "Hoa", Email: " Hoa@Example.com ", Password: "secret1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.Email != "hoa@example.com" || p.Role != patron.RoleUser || !p.Active {
		t.Fatalf("unexpected patron %+v", p)
	}
	if enrolled != p.ID {
		t.Fatalf("membership enrollment not triggered")
	}

	_, err = svc.Register(ctx, Registration{Name: "Hoa 2", Email: "hoa@example.com", Password: "secret1"})
	if !svcerrors.HasCode(err, svcerrors.CodeAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}

	session, err := svc.Login(ctx, "HOA@example.com", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := svc.ParseToken(session.Token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.UserID != p.ID || claims.Role != "USER" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := svc.Login(ctx, "hoa@example.com", "wrong-pass"); !svcerrors.HasCode(err, svcerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "secret1"); !svcerrors.HasCode(err, svcerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestRegisterValidates(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := []Registration{
		{Name: "", Email: "a@example.com", Password: "secret1"},
		{Name: "A", Email: "not-an-email", Password: "secret1"},
		{Name: "A", Email: "a@example.com", Password: "123"},
	}
	for _, in := range cases {
		if _, err := svc.Register(ctx, in); !svcerrors.HasCode(err, svcerrors.CodeInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", in, err)
		}
	}
}

func TestLoginRejectsInactivePatron(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	p, err := svc.Register(ctx, Registration{Name: "Tuan", Email: "tuan@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	p.Active = false
	if _, err := store.UpdatePatron(ctx, p); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.Login(ctx, "tuan@example.com", "secret1"); !svcerrors.HasCode(err, svcerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestEnsureAdmin(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	created, err := svc.EnsureAdmin(ctx, "", "admin@library.local", "admin123")
	if err != nil || !created {
		t.Fatalf("ensure admin: created=%v err=%v", created, err)
	}
	created, err = svc.EnsureAdmin(ctx, "", "admin@library.local", "admin123")
	if err != nil || created {
		t.Fatalf("second ensure admin: created=%v err=%v", created, err)
	}
	admin, err := store.GetPatronByEmail(ctx, "admin@library.local")
	if err != nil {
		t.Fatalf("get admin: %v", err)
	}
	if admin.Role != patron.RoleAdmin {
		t.Fatalf("unexpected role %s", admin.Role)
	}
}

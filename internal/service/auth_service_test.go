package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/model"
)

func newAuthFixture(t *testing.T) (*AuthService, *stubUserStore) {
	t.Helper()
	_, rdb := newRedis(t)
	users := newStubUserStore()
	return NewAuthService(users, testConfig(), rdb, testLog), users
}

func register(t *testing.T, svc *AuthService, email string) *model.User {
	t.Helper()
	u, err := svc.Register(context.Background(), &model.RegisterRequest{Email: email, Name: "Sari", Password: "secret123"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return u
}

func TestRegister(t *testing.T) {
	svc, users := newAuthFixture(t)
	u := register(t, svc, "sari@example.com")

	if u.Role != model.RoleStudent {
		t.Fatalf("role=%s", u.Role)
	}
	if stored := users.Users["sari@example.com"]; stored.PasswordHash == "secret123" || stored.PasswordHash == "" {
		t.Fatal("password not hashed")
	}

	_, err := svc.Register(context.Background(), &model.RegisterRequest{Email: "sari@example.com", Name: "Other", Password: "secret456"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate: %v", err)
	}
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	svc, _ := newAuthFixture(t)
	if _, err := svc.CreateUser(context.Background(), "x@example.com", "X", "secret123", model.Role("ROOT")); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoginIssuesValidToken(t *testing.T) {
	svc, _ := newAuthFixture(t)
	u := register(t, svc, "sari@example.com")

	res, err := svc.Login(context.Background(), &model.LoginRequest{Email: "sari@example.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	claims, err := svc.ValidateToken(res.Token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != u.ID || claims.Role != model.RoleStudent {
		t.Fatalf("claims=%+v", claims)
	}
	if err := svc.ValidateSession(context.Background(), claims.UserID, claims.ID); err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if _, err := svc.ValidateToken(res.Token + "x"); err == nil {
		t.Fatal("tampered token accepted")
	}
}

func TestLoginLockout(t *testing.T) {
	svc, _ := newAuthFixture(t)
	register(t, svc, "sari@example.com")
	ctx := context.Background()
	wrong := &model.LoginRequest{Email: "sari@example.com", Password: "wrong-password"}

	for i := 0; i < 3; i++ {
		if _, err := svc.Login(ctx, wrong); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	_, err := svc.Login(ctx, &model.LoginRequest{Email: "sari@example.com", Password: "secret123"})
	if !errors.Is(err, ErrTooManyLogins) {
		t.Fatalf("locked login: %v", err)
	}

	ttl := svc.rdb.TTL(ctx, config.CacheKey.LoginAttemptsKey("sari@example.com")).Val()
	if ttl <= 0 {
		t.Fatalf("lockout has no expiry: %v", ttl)
	}
}

func TestLoginFailuresResetOnSuccess(t *testing.T) {
	svc, _ := newAuthFixture(t)
	register(t, svc, "sari@example.com")
	ctx := context.Background()

	_, _ = svc.Login(ctx, &model.LoginRequest{Email: "sari@example.com", Password: "wrong-password"})
	if _, err := svc.Login(ctx, &model.LoginRequest{Email: "sari@example.com", Password: "secret123"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if svc.rdb.Exists(ctx, config.CacheKey.LoginAttemptsKey("sari@example.com")).Val() != 0 {
		t.Fatal("failure counter survived a successful login")
	}

	if _, err := svc.Login(ctx, &model.LoginRequest{Email: "nobody@example.com", Password: "secret123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: %v", err)
	}
}

func TestNewLoginRevokesPreviousSession(t *testing.T) {
	svc, _ := newAuthFixture(t)
	register(t, svc, "sari@example.com")
	ctx := context.Background()
	creds := &model.LoginRequest{Email: "sari@example.com", Password: "secret123"}

	first, _ := svc.Login(ctx, creds)
	second, _ := svc.Login(ctx, creds)

	c1, _ := svc.ValidateToken(first.Token)
	c2, _ := svc.ValidateToken(second.Token)
	if err := svc.ValidateSession(ctx, c1.UserID, c1.ID); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("first session: %v", err)
	}
	if err := svc.ValidateSession(ctx, c2.UserID, c2.ID); err != nil {
		t.Fatalf("second session: %v", err)
	}

	// Logging out a stale token leaves the live session alone.
	_ = svc.Logout(ctx, c1.UserID, c1.ID)
	if err := svc.ValidateSession(ctx, c2.UserID, c2.ID); err != nil {
		t.Fatalf("after stale logout: %v", err)
	}
	_ = svc.Logout(ctx, c2.UserID, c2.ID)
	if err := svc.ValidateSession(ctx, c2.UserID, c2.ID); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("after logout: %v", err)
	}
}

func TestMe(t *testing.T) {
	svc, _ := newAuthFixture(t)
	u := register(t, svc, "sari@example.com")

	got, err := svc.Me(context.Background(), u.ID)
	if err != nil || got.Email != u.Email {
		t.Fatalf("got=%+v err=%v", got, err)
	}
	if _, err := svc.Me(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown user: %v", err)
	}
}

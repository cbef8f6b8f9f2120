package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Avicted/roomchat/internal/user"
)

type fakeUserRepo struct {
	users map[string]user.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]user.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, u user.User) error {
	if _, exists := r.users[u.Email]; exists {
		return errors.New("duplicate email")
	}
	r.users[u.Email] = u
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id user.ID) (user.User, error) {
	for _, u := range r.users {
		if u.ID == id {
			return u, nil
		}
	}
	return user.User{}, errors.New("not found")
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (user.User, error) {
	u, ok := r.users[email]
	if !ok {
		return user.User{}, errors.New("not found")
	}
	return u, nil
}

func newTestAuth() (*Service, *fakeUserRepo) {
	repo := newFakeUserRepo()
	return NewService(user.NewService(repo)), repo
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestAuth()
	ctx := context.Background()

	created, session, err := svc.Register(ctx, "Ana@Example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if created.Email != "ana@example.com" || session.UserID != created.ID || session.Token == "" {
		t.Fatalf("unexpected register result: %+v %+v", created, session)
	}
	if created.PasswordHash == "correct-horse" {
		t.Fatal("password stored in plain text")
	}

	found, loginSession, err := svc.Login(ctx, "ana@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("Login() user = %q, want %q", found.ID, created.ID)
	}
	if loginSession.Token == session.Token {
		t.Fatal("expected a fresh token per login")
	}

	validated, err := svc.ValidateToken(loginSession.Token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if validated.Email != "ana@example.com" {
		t.Fatalf("ValidateToken() email = %q", validated.Email)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestAuth()
	ctx := context.Background()
	if _, _, err := svc.Register(ctx, "ana@example.com", "correct-horse"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, _, err := svc.Login(ctx, "ana@example.com", "wrong-horse"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Login(wrong password) error = %v, want ErrUnauthorized", err)
	}
	if _, _, err := svc.Login(ctx, "bob@example.com", "correct-horse"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Login(unknown) error = %v, want ErrUnauthorized", err)
	}
}

func TestRegisterInvalidInput(t *testing.T) {
	svc, repo := newTestAuth()
	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"short password", "ana@example.com", "short"},
		{"blank password", "ana@example.com", "          "},
		{"bad email", "ana", "correct-horse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := svc.Register(context.Background(), tt.email, tt.password); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("Register() error = %v, want ErrInvalidInput", err)
			}
		})
	}
	if len(repo.users) != 0 {
		t.Fatalf("users stored = %d, want 0", len(repo.users))
	}
}

func TestRegisterDuplicatePassesRepositoryError(t *testing.T) {
	svc, _ := newTestAuth()
	ctx := context.Background()
	if _, _, err := svc.Register(ctx, "ana@example.com", "correct-horse"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, _, err := svc.Register(ctx, "ana@example.com", "correct-horse"); err == nil {
		t.Fatal("expected duplicate register to fail")
	}
}

func TestValidateTokenExpiry(t *testing.T) {
	svc, _ := newTestAuth()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	_, session, err := svc.Register(context.Background(), "ana@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	now = now.Add(25 * time.Hour)
	if _, err := svc.ValidateToken(session.Token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("ValidateToken(expired) error = %v, want ErrTokenExpired", err)
	}
	if _, err := svc.ValidateToken(session.Token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("ValidateToken(evicted) error = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.ValidateToken("  "); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("ValidateToken(blank) error = %v, want ErrUnauthorized", err)
	}
}

func TestNilUserService(t *testing.T) {
	svc := NewService(nil)
	if _, _, err := svc.Register(context.Background(), "ana@example.com", "correct-horse"); err == nil {
		t.Fatal("expected Register() error without user service")
	}
	if _, _, err := svc.Login(context.Background(), "ana@example.com", "correct-horse"); err == nil {
		t.Fatal("expected Login() error without user service")
	}
}

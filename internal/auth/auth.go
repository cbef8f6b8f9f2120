package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Avicted/roomchat/internal/user"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenExpired = errors.New("token expired")
)

const MinPasswordLength = 8

type Session struct {
	Token     string
	UserID    user.ID
	Email     string
	ExpiresAt time.Time
}

type Service struct {
	users    *user.Service
	tokens   *tokenStore
	now      func() time.Time
	tokenTTL time.Duration
}

func NewService(users *user.Service) *Service {
	return &Service{
		users:    users,
		tokens:   newTokenStore(),
		now:      time.Now,
		tokenTTL: 24 * time.Hour,
	}
}

func (s *Service) Register(ctx context.Context, email, password string) (user.User, Session, error) {
	if s.users == nil {
		return user.User{}, Session{}, errors.New("user service is required")
	}
	if !validPassword(password) {
		return user.User{}, Session{}, ErrInvalidInput
	}

	hash, err := hashPassword(password)
	if err != nil {
		return user.User{}, Session{}, err
	}

	created, err := s.users.Create(ctx, email, hash)
	if err != nil {
		if errors.Is(err, user.ErrInvalidInput) {
			return user.User{}, Session{}, ErrInvalidInput
		}
		return user.User{}, Session{}, err
	}

	session, err := s.issue(created)
	if err != nil {
		return user.User{}, Session{}, err
	}
	return created, session, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (user.User, Session, error) {
	if s.users == nil {
		return user.User{}, Session{}, errors.New("user service is required")
	}
	if !validPassword(password) {
		return user.User{}, Session{}, ErrInvalidInput
	}

	found, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrInvalidInput) {
			return user.User{}, Session{}, ErrInvalidInput
		}
		return user.User{}, Session{}, ErrUnauthorized
	}
	if err := checkPassword(found.PasswordHash, password); err != nil {
		return user.User{}, Session{}, ErrUnauthorized
	}

	session, err := s.issue(found)
	if err != nil {
		return user.User{}, Session{}, err
	}
	return found, session, nil
}

func (s *Service) ValidateToken(token string) (Session, error) {
	if strings.TrimSpace(token) == "" {
		return Session{}, ErrUnauthorized
	}
	return s.tokens.validate(s.now(), token)
}

func (s *Service) issue(u user.User) (Session, error) {
	value, err := randomToken()
	if err != nil {
		return Session{}, err
	}
	session := Session{
		Token:     value,
		UserID:    u.ID,
		Email:     u.Email,
		ExpiresAt: s.now().Add(s.tokenTTL),
	}
	s.tokens.store(session)
	return session, nil
}

func validPassword(password string) bool {
	return strings.TrimSpace(password) != "" && len(password) >= MinPasswordLength
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func checkPassword(hashed, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password))
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type tokenStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newTokenStore() *tokenStore {
	return &tokenStore{sessions: make(map[string]Session)}
}

func (t *tokenStore) store(session Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[session.Token] = session
}

func (t *tokenStore) validate(now time.Time, token string) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions[token]
	if !ok {
		return Session{}, ErrUnauthorized
	}
	if !session.ExpiresAt.IsZero() && now.After(session.ExpiresAt) {
		delete(t.sessions, token)
		return Session{}, ErrTokenExpired
	}
	return session, nil
}

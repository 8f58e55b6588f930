package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"clmhub.io/internal/ids"
)

// UserStore persists user accounts and profiles.
type UserStore interface {
	CreateUser(ctx context.Context, user User) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	UpsertProfile(ctx context.Context, id, email, fullName string) (User, error)
}

// Session is what sign-up and sign-in hand back to clients.
type Session struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        User      `json:"user"`
}

// Service handles sign-up, sign-in and bearer authentication.
type Service struct {
	users  UserStore
	tokens *Tokens
}

// NewService wires the identity service.
func NewService(users UserStore, tokens *Tokens) *Service {
	return &Service{users: users, tokens: tokens}
}

// SignUp creates an account and returns a session for it.
func (s *Service) SignUp(ctx context.Context, email, password, fullName string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Session{}, err
	}
	user, err := s.users.CreateUser(ctx, User{
		ID:           ids.New(),
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: hash,
	})
	if err != nil {
		return Session{}, err
	}
	return s.session(user)
}

// SignIn verifies credentials and returns a fresh session.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	user, err := s.users.UserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return s.session(user)
}

// Authenticate resolves a bearer token into the caller identity.
func (s *Service) Authenticate(_ context.Context, token string) (Identity, error) {
	claims, err := s.tokens.ParseAndValidate(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// EnsureProfile upserts the caller's profile row.
func (s *Service) EnsureProfile(ctx context.Context, id Identity, fullName string) (User, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.users.UpsertProfile(ctx, id.UserID, strings.ToLower(strings.TrimSpace(id.Email)), strings.TrimSpace(fullName))
}

func (s *Service) session(user User) (Session, error) {
	token, expires, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: token, ExpiresAt: expires, User: user}, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	return email, nil
}

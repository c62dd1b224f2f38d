// Package authpw provides username/password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"

	"giftmanager/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUser(ctx context.Context, username string) (store.User, error)
	UpdateUserPassword(ctx context.Context, username, passwordHash string) error
}

// Service verifies and updates user passwords.
type Service struct {
	store UserStore
}

// NewService creates a new auth service
func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// Login verifies a username/password pair and returns the user record.
// Unknown usernames and wrong passwords report the same error.
func (s *Service) Login(ctx context.Context, username, password string) (store.User, error) {
	if username == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUser(ctx, username)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		// External-only accounts have no local password.
		return store.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// ChangePassword replaces a user's password after verifying the
// current one.
func (s *Service) ChangePassword(ctx context.Context, username, current, next string) error {
	if _, err := s.Login(ctx, username, current); err != nil {
		return err
	}
	if len(next) < 8 {
		return ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, username, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// HashPassword hashes a password for storage. Used when provisioning
// accounts.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

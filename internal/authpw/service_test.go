package authpw

import (
	"context"
	"errors"
	"strings"
	"testing"

	"giftmanager/api/internal/store"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users map[string]store.User
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]store.User)}
}

func (m *mockUserStore) GetUser(ctx context.Context, username string) (store.User, error) {
	for name, user := range m.users {
		if strings.EqualFold(name, username) {
			return user, nil
		}
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	user, err := m.GetUser(ctx, username)
	if err != nil {
		return err
	}
	user.PasswordHash = passwordHash
	m.users[user.Username] = user
	return nil
}

func (m *mockUserStore) addUser(t *testing.T, username, password string) {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	m.users[username] = store.User{Username: username, PasswordHash: hash}
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	mockStore.addUser(t, "alice", "password123")
	mockStore.users["external"] = store.User{Username: "external"}
	svc := NewService(mockStore)

	t.Run("successful login", func(t *testing.T) {
		user, err := svc.Login(ctx, "alice", "password123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.Username != "alice" {
			t.Errorf("got user %q", user.Username)
		}
	})

	t.Run("case-insensitive username", func(t *testing.T) {
		if _, err := svc.Login(ctx, "ALICE", "password123"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := svc.Login(ctx, "alice", "wrongpassword"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("got %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("non-existent user", func(t *testing.T) {
		if _, err := svc.Login(ctx, "ghost", "password123"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("got %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("account without local password", func(t *testing.T) {
		if _, err := svc.Login(ctx, "external", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("got %v, want ErrInvalidCredentials", err)
		}
	})
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	mockStore.addUser(t, "alice", "password123")
	svc := NewService(mockStore)

	t.Run("wrong current password", func(t *testing.T) {
		err := svc.ChangePassword(ctx, "alice", "wrongpassword", "newpassword123")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("got %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("short new password", func(t *testing.T) {
		err := svc.ChangePassword(ctx, "alice", "password123", "short")
		if !errors.Is(err, ErrPasswordTooShort) {
			t.Errorf("got %v, want ErrPasswordTooShort", err)
		}
	})

	t.Run("successful change", func(t *testing.T) {
		if err := svc.ChangePassword(ctx, "alice", "password123", "newpassword123"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := svc.Login(ctx, "alice", "password123"); err == nil {
			t.Error("old password still works")
		}
		if _, err := svc.Login(ctx, "alice", "newpassword123"); err != nil {
			t.Errorf("new password rejected: %v", err)
		}
	})
}

func TestHashPassword(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Errorf("got %v, want ErrPasswordTooShort", err)
	}
	hash, err := HashPassword("password123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash == "password123" || hash == "" {
		t.Error("password not hashed")
	}
}

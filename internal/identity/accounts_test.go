package identity

import (
	"context"
	"errors"
	"testing"
)

func newTestAccounts(t *testing.T, store *memStore, clock *testClock) *Accounts {
	t.Helper()
	accounts, err := NewAccounts(store, WithAccountsClock(clock.Now))
	if err != nil {
		t.Fatalf("NewAccounts: %v", err)
	}
	return accounts
}

func TestCreateUserNormalizesAndPersists(t *testing.T) {
	store := newMemStore()
	accounts := newTestAccounts(t, store, newTestClock())

	user, err := accounts.CreateUser(context.Background(), CreateUserRequest{
		Username: "  Lena.K  ",
		Email:    "Lena.K@Gov.Example",
		Password: "Sup3r$ecret",
		FullName: "Lena K",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Username != "lena.k" || user.Email != "lena.k@gov.example" {
		t.Fatalf("normalization failed: %q / %q", user.Username, user.Email)
	}
	if user.PasswordHash == "" || user.Salt == "" {
		t.Fatal("password material missing")
	}
	if !VerifyPassword("Sup3r$ecret", user.PasswordHash, user.Salt) {
		t.Fatal("stored hash does not verify")
	}
	if actions := store.auditActions(); len(actions) != 1 || actions[0] != "user.create" {
		t.Fatalf("audit actions = %v", actions)
	}
}

func TestCreateUserRejectsWeakPassword(t *testing.T) {
	store := newMemStore()
	accounts := newTestAccounts(t, store, newTestClock())

	_, err := accounts.CreateUser(context.Background(), CreateUserRequest{
		Username: "mark",
		Email:    "mark@gov.example",
		Password: "password1",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCreateUserRejectsDuplicates(t *testing.T) {
	store := newMemStore()
	accounts := newTestAccounts(t, store, newTestClock())
	ctx := context.Background()

	first := CreateUserRequest{Username: "nina", Email: "nina@gov.example", Password: "Sup3r$ecret"}
	if _, err := accounts.CreateUser(ctx, first); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	// Duplicate username differs only by case.
	_, err := accounts.CreateUser(ctx, CreateUserRequest{Username: "NINA", Email: "other@gov.example", Password: "Sup3r$ecret"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate username: err = %v, want ErrAlreadyExists", err)
	}
	_, err = accounts.CreateUser(ctx, CreateUserRequest{Username: "other", Email: "nina@gov.example", Password: "Sup3r$ecret"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate email: err = %v, want ErrAlreadyExists", err)
	}
}

func TestChangePassword(t *testing.T) {
	store := newMemStore()
	clock := newTestClock()
	accounts := newTestAccounts(t, store, clock)
	user := seedUser(t, store, "olga", "Sup3r$ecret")
	ctx := context.Background()

	if err := accounts.ChangePassword(ctx, user.ID, "wrong", "N3w$ecret!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current: err = %v, want ErrInvalidCredentials", err)
	}
	if err := accounts.ChangePassword(ctx, user.ID, "Sup3r$ecret", "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("weak new: err = %v, want ErrInvalidInput", err)
	}
	if err := accounts.ChangePassword(ctx, user.ID, "Sup3r$ecret", "N3w$ecret!"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	stored := store.userSnapshot(user.ID)
	if VerifyPassword("Sup3r$ecret", stored.PasswordHash, stored.Salt) {
		t.Fatal("old password still verifies")
	}
	if !VerifyPassword("N3w$ecret!", stored.PasswordHash, stored.Salt) {
		t.Fatal("new password does not verify")
	}
}

func TestDeactivateUserBlocksLogin(t *testing.T) {
	store := newMemStore()
	clock := newTestClock()
	accounts := newTestAccounts(t, store, clock)
	engine := newTestEngine(t, store, clock)
	user := seedUser(t, store, "pete", "Sup3r$ecret")
	ctx := context.Background()

	if err := accounts.DeactivateUser(ctx, user.ID); err != nil {
		t.Fatalf("DeactivateUser: %v", err)
	}
	if _, err := engine.Login(ctx, LoginRequest{Username: "pete", Password: "Sup3r$ecret"}); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("err = %v, want ErrAccountDisabled", err)
	}
}

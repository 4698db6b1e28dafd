package auth

import (
	"context"
	"testing"

	"github.com/maxrios/mcs/internal/chaterr"
	"github.com/maxrios/mcs/internal/directory"
	"github.com/maxrios/mcs/internal/store"
)

func newService() (*Service, *store.Fake, *directory.Fake) {
	st := store.NewFake()
	dir := directory.NewFake()
	return New(st, dir), st, dir
}

func TestRegisterAndLoginRejectsShortUsername(t *testing.T) {
	s, _, _ := newService()
	err := s.RegisterAndLogin(context.Background(), "ab", "hunter2")
	if chaterr.KindOf(err) != chaterr.KindUsernameTooShort {
		t.Fatalf("KindOf(err) = %v, want KindUsernameTooShort", chaterr.KindOf(err))
	}
}

func TestRegisterAndLoginTrimsBeforeLengthCheck(t *testing.T) {
	s, _, _ := newService()
	err := s.RegisterAndLogin(context.Background(), "  ab  ", "hunter2")
	if chaterr.KindOf(err) != chaterr.KindUsernameTooShort {
		t.Fatalf("KindOf(err) = %v, want KindUsernameTooShort", chaterr.KindOf(err))
	}
}

func TestRegisterAndLoginCreatesNewAccount(t *testing.T) {
	s, st, dir := newService()
	if err := s.RegisterAndLogin(context.Background(), "alice", "hunter2"); err != nil {
		t.Fatalf("RegisterAndLogin() = %v, want nil", err)
	}
	ok, err := st.Verify(context.Background(), "alice", "hunter2")
	if err != nil || !ok {
		t.Fatalf("expected alice to be created with the given password")
	}
	if !dir.HasPresence("alice") {
		t.Fatalf("expected presence to be acquired")
	}
}

func TestRegisterAndLoginAcceptsReturningUser(t *testing.T) {
	s, _, dir := newService()
	ctx := context.Background()
	if err := s.RegisterAndLogin(ctx, "alice", "hunter2"); err != nil {
		t.Fatalf("first login: %v", err)
	}
	if err := s.Logout(ctx, "alice"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if dir.HasPresence("alice") {
		t.Fatalf("expected presence released after logout")
	}

	if err := s.RegisterAndLogin(ctx, "alice", "hunter2"); err != nil {
		t.Fatalf("second login with correct password: %v", err)
	}
}

func TestRegisterAndLoginRejectsWrongPasswordForExistingUser(t *testing.T) {
	s, _, _ := newService()
	ctx := context.Background()
	if err := s.RegisterAndLogin(ctx, "alice", "hunter2"); err != nil {
		t.Fatalf("first login: %v", err)
	}
	if err := s.Logout(ctx, "alice"); err != nil {
		t.Fatalf("logout: %v", err)
	}

	err := s.RegisterAndLogin(ctx, "alice", "wrong-password")
	if chaterr.KindOf(err) != chaterr.KindInvalidCredentials {
		t.Fatalf("KindOf(err) = %v, want KindInvalidCredentials", chaterr.KindOf(err))
	}
}

func TestRegisterAndLoginRejectsDuplicateLogin(t *testing.T) {
	s, _, _ := newService()
	ctx := context.Background()
	if err := s.RegisterAndLogin(ctx, "alice", "hunter2"); err != nil {
		t.Fatalf("first login: %v", err)
	}

	err := s.RegisterAndLogin(ctx, "alice", "hunter2")
	if chaterr.KindOf(err) != chaterr.KindUsernameTaken {
		t.Fatalf("KindOf(err) = %v, want KindUsernameTaken (already logged in)", chaterr.KindOf(err))
	}
}

func TestRefreshDoesNotRequirePriorLogin(t *testing.T) {
	s, _, dir := newService()
	if err := s.Refresh(context.Background(), "ghost"); err != nil {
		t.Fatalf("Refresh() = %v, want nil", err)
	}
	if !dir.HasPresence("ghost") {
		t.Fatalf("fake RefreshPresence should create the key if absent")
	}
}

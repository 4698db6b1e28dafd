// Package auth implements the login/logout/presence-refresh flow shared
// by every session: register-or-verify against the user store, then
// claim the username's presence slot in the directory.
package auth

import (
	"context"
	"strings"

	"github.com/maxrios/mcs/internal/chaterr"
	"github.com/maxrios/mcs/internal/directory"
	"github.com/maxrios/mcs/internal/store"
)

// minUsernameLen is the shortest trimmed username register_and_login accepts.
const minUsernameLen = 3

// Service wires the user store and the directory together.
type Service struct {
	store store.Store
	dir   directory.Directory
}

// New builds an auth Service over the given store and directory.
func New(s store.Store, d directory.Directory) *Service {
	return &Service{store: s, dir: d}
}

// RegisterAndLogin implements spec's register_and_login: reject short
// names, verify-or-create the account, then claim presence. The
// returned error always carries a chaterr.Kind that ToWireKind can map.
func (s *Service) RegisterAndLogin(ctx context.Context, username, password string) error {
	if len(strings.TrimSpace(username)) < minUsernameLen {
		return chaterr.New(chaterr.KindUsernameTooShort, "register_and_login", nil)
	}

	ok, err := s.store.Verify(ctx, username, password)
	if err != nil {
		return chaterr.New(chaterr.KindDatabase, "verify", err)
	}
	if !ok {
		if err := s.store.CreateUser(ctx, username, password); err != nil {
			return chaterr.New(chaterr.KindDatabase, "create user", err)
		}
		ok, err = s.store.Verify(ctx, username, password)
		if err != nil {
			return chaterr.New(chaterr.KindDatabase, "verify after create", err)
		}
		if !ok {
			return chaterr.New(chaterr.KindInvalidCredentials, "register_and_login", nil)
		}
	}

	acquired, err := s.dir.AcquirePresence(ctx, username)
	if err != nil {
		return chaterr.New(chaterr.KindDirectory, "acquire presence", err)
	}
	if !acquired {
		return chaterr.New(chaterr.KindUsernameTaken, "register_and_login", nil)
	}
	return nil
}

// Logout releases username's presence slot.
func (s *Service) Logout(ctx context.Context, username string) error {
	if err := s.dir.ReleasePresence(ctx, username); err != nil {
		return chaterr.New(chaterr.KindDirectory, "logout", err)
	}
	return nil
}

// Refresh resets username's presence TTL. Called on inbound Heartbeat
// frames and on the session's 10s keepalive ticker.
func (s *Service) Refresh(ctx context.Context, username string) error {
	if err := s.dir.RefreshPresence(ctx, username); err != nil {
		return chaterr.New(chaterr.KindDirectory, "refresh", err)
	}
	return nil
}

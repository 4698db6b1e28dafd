package store

import (
	"context"
	"sort"
	"sync"

	"github.com/maxrios/mcs/internal/protocol"
)

// Fake is an in-memory Store for tests.
type Fake struct {
	mu       sync.Mutex
	users    map[string]string // username -> hashed password
	messages []protocol.ChatPacket
}

// NewFake returns an empty Fake store.
func NewFake() *Fake {
	return &Fake{users: make(map[string]string)}
}

func (f *Fake) CreateUser(_ context.Context, username, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[username]; exists {
		return nil // do-nothing-on-conflict, matches Postgres behavior
	}
	f.users[username] = hash
	return nil
}

func (f *Fake) Verify(_ context.Context, username, password string) (bool, error) {
	f.mu.Lock()
	hash, ok := f.users[username]
	f.mu.Unlock()
	if !ok {
		return false, nil
	}
	return verifyPassword(password, hash), nil
}

func (f *Fake) SaveMessage(_ context.Context, p protocol.ChatPacket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, p)
	return nil
}

func (f *Fake) RecentBefore(_ context.Context, beforeTS int64, limit int) ([]protocol.ChatPacket, error) {
	if limit <= 0 || limit > historyLimit {
		limit = historyLimit
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []protocol.ChatPacket
	for _, p := range f.messages {
		if p.Timestamp < beforeTS {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp > matched[j].Timestamp })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp < matched[j].Timestamp })
	return matched, nil
}

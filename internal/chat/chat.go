// Package chat implements the chat service: persist-then-publish message
// broadcast and the history lookup sessions use to backfill new joiners.
package chat

import (
	"context"

	"github.com/maxrios/mcs/internal/chaterr"
	"github.com/maxrios/mcs/internal/directory"
	"github.com/maxrios/mcs/internal/protocol"
	"github.com/maxrios/mcs/internal/store"
)

// Service wires the user/message store and the directory's pub/sub
// channel together.
type Service struct {
	store store.Store
	dir   directory.Directory
}

// New builds a chat Service over the given store and directory.
func New(s store.Store, d directory.Directory) *Service {
	return &Service{store: s, dir: d}
}

// BroadcastUser stamps, persists, then publishes a user-authored message.
// Persistence happens before publish so every subscriber that observes
// the published packet can also find it via history.
func (s *Service) BroadcastUser(ctx context.Context, sender, content string) (protocol.ChatPacket, error) {
	p := protocol.NewUserPacket(sender, content)
	if err := s.store.SaveMessage(ctx, p); err != nil {
		return protocol.ChatPacket{}, chaterr.New(chaterr.KindDatabase, "save message", err)
	}
	if err := s.dir.Publish(ctx, protocol.ChatMessage(p)); err != nil {
		return protocol.ChatPacket{}, chaterr.New(chaterr.KindDirectory, "publish", err)
	}
	return p, nil
}

// BroadcastSystem is BroadcastUser with sender "server". It returns the
// persisted packet so callers (the join flow) can capture its timestamp
// as the high-water mark for the initial history window.
func (s *Service) BroadcastSystem(ctx context.Context, content string) (protocol.ChatPacket, error) {
	p := protocol.NewServerPacket(content)
	if err := s.store.SaveMessage(ctx, p); err != nil {
		return protocol.ChatPacket{}, chaterr.New(chaterr.KindDatabase, "save message", err)
	}
	if err := s.dir.Publish(ctx, protocol.ChatMessage(p)); err != nil {
		return protocol.ChatPacket{}, chaterr.New(chaterr.KindDirectory, "publish", err)
	}
	return p, nil
}

// History delegates to the store, returning up to 50 packets strictly
// before beforeTS in ascending-timestamp order.
func (s *Service) History(ctx context.Context, beforeTS int64) ([]protocol.ChatPacket, error) {
	packets, err := s.store.RecentBefore(ctx, beforeTS, 0)
	if err != nil {
		return nil, chaterr.New(chaterr.KindDatabase, "history", err)
	}
	return packets, nil
}

// Package directory adapts the shared Redis-backed key-value store to
// mcs's three uses of it: presence tracking, node registration, and
// cluster-wide pub/sub fan-out of chat messages.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maxrios/mcs/internal/chaterr"
	"github.com/maxrios/mcs/internal/logging"
	"github.com/maxrios/mcs/internal/protocol"
)

const (
	presenceTTL   = 30 * time.Second
	presencePrefix = "user:session:"
	nodeSetKey    = "mcs:node"
	chatChannel   = "mcs:chat"
)

// Directory is the capability surface the chat server depends on. It is
// an interface so services (auth, chat, node) can be tested against a
// fake rather than a live Redis instance.
type Directory interface {
	AcquirePresence(ctx context.Context, username string) (bool, error)
	ReleasePresence(ctx context.Context, username string) error
	RefreshPresence(ctx context.Context, username string) error
	RegisterNode(ctx context.Context, addr string) error
	LiveNodes(ctx context.Context, minScore int64) ([]string, error)
	Publish(ctx context.Context, msg protocol.Message) error
	Subscribe(ctx context.Context, sink func(protocol.Message)) error
}

// Redis is a Directory backed by a real Redis server.
type Redis struct {
	client redis.UniversalClient
}

// New dials redisURL and returns a Directory. The subscription channel is
// opened lazily by Subscribe, which owns a dedicated connection.
func New(redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, chaterr.New(chaterr.KindDirectory, "parse redis url", err)
	}
	return &Redis{client: redis.NewClient(opt)}, nil
}

func presenceKey(username string) string {
	return presencePrefix + username
}

// AcquirePresence sets the presence key if absent, with a 30s TTL.
// It returns true iff the key did not already exist.
func (d *Redis) AcquirePresence(ctx context.Context, username string) (bool, error) {
	ok, err := d.client.SetNX(ctx, presenceKey(username), "online", presenceTTL).Result()
	if err != nil {
		return false, chaterr.New(chaterr.KindDirectory, "acquire presence", err)
	}
	return ok, nil
}

// ReleasePresence unconditionally deletes the presence key.
func (d *Redis) ReleasePresence(ctx context.Context, username string) error {
	if err := d.client.Del(ctx, presenceKey(username)).Err(); err != nil {
		return chaterr.New(chaterr.KindDirectory, "release presence", err)
	}
	return nil
}

// RefreshPresence resets the presence key's TTL to 30s.
func (d *Redis) RefreshPresence(ctx context.Context, username string) error {
	if err := d.client.Expire(ctx, presenceKey(username), presenceTTL).Err(); err != nil {
		return chaterr.New(chaterr.KindDirectory, "refresh presence", err)
	}
	return nil
}

// RegisterNode upserts (addr, now) into the mcs:node sorted set.
func (d *Redis) RegisterNode(ctx context.Context, addr string) error {
	err := d.client.ZAdd(ctx, nodeSetKey, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: addr,
	}).Err()
	if err != nil {
		return chaterr.New(chaterr.KindDirectory, "register node", err)
	}
	return nil
}

// LiveNodes returns node addrs whose last-seen score is >= minScore.
func (d *Redis) LiveNodes(ctx context.Context, minScore int64) ([]string, error) {
	addrs, err := d.client.ZRangeByScore(ctx, nodeSetKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", minScore),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, chaterr.New(chaterr.KindDirectory, "live nodes", err)
	}
	return addrs, nil
}

// Publish encodes msg and publishes it on the mcs:chat channel.
func (d *Redis) Publish(ctx context.Context, msg protocol.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return chaterr.New(chaterr.KindSerialization, "encode message", err)
	}
	if err := d.client.Publish(ctx, chatChannel, payload).Err(); err != nil {
		return chaterr.New(chaterr.KindDirectory, "publish", err)
	}
	return nil
}

// Subscribe opens a dedicated subscription to mcs:chat and pushes every
// decoded message to sink until ctx is canceled or the subscription fails.
// On failure it logs and returns; the caller decides whether to respawn.
func (d *Redis) Subscribe(ctx context.Context, sink func(protocol.Message)) error {
	pubsub := d.client.Subscribe(ctx, chatChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logging.L().Error("directory subscribe failed", "channel", chatChannel, "err", err)
		return chaterr.New(chaterr.KindDirectory, "subscribe", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				logging.L().Warn("directory subscription channel closed", "channel", chatChannel)
				return chaterr.New(chaterr.KindDirectory, "subscription closed", nil)
			}
			var msg protocol.Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				logging.L().Warn("directory dropped undecodable message", "err", err)
				continue
			}
			sink(msg)
		}
	}
}

// Close releases the underlying Redis client.
func (d *Redis) Close() error {
	return d.client.Close()
}

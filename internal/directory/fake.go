package directory

import (
	"context"
	"sync"

	"github.com/maxrios/mcs/internal/protocol"
)

// Fake is an in-memory Directory for tests. It is safe for concurrent use
// and is shared across "nodes" in a test by constructing one Fake and
// handing pointers to it to multiple services, mirroring how a real
// cluster shares one Redis instance.
type Fake struct {
	mu        sync.Mutex
	presence  map[string]struct{}
	nodes     map[string]int64
	sinks     []func(protocol.Message)
	Published []protocol.Message
}

// NewFake returns an empty Fake directory.
func NewFake() *Fake {
	return &Fake{
		presence: make(map[string]struct{}),
		nodes:    make(map[string]int64),
	}
}

func (f *Fake) AcquirePresence(_ context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.presence[username]; ok {
		return false, nil
	}
	f.presence[username] = struct{}{}
	return true, nil
}

func (f *Fake) ReleasePresence(_ context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.presence, username)
	return nil
}

func (f *Fake) RefreshPresence(_ context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.presence[username]; !ok {
		f.presence[username] = struct{}{}
	}
	return nil
}

// ExpirePresence simulates TTL expiry for tests (spec §8, heartbeat expiry).
func (f *Fake) ExpirePresence(username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.presence, username)
}

func (f *Fake) HasPresence(username string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.presence[username]
	return ok
}

func (f *Fake) RegisterNode(_ context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[addr]++
	return nil
}

// HasNode reports whether addr has ever been registered (test helper).
func (f *Fake) HasNode(addr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[addr]
	return ok
}

func (f *Fake) LiveNodes(_ context.Context, _ int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.nodes))
	for addr := range f.nodes {
		out = append(out, addr)
	}
	return out, nil
}

func (f *Fake) Publish(_ context.Context, msg protocol.Message) error {
	f.mu.Lock()
	sinks := append([]func(protocol.Message){}, f.sinks...)
	f.Published = append(f.Published, msg)
	f.mu.Unlock()
	for _, sink := range sinks {
		sink(msg)
	}
	return nil
}

// HasSubscriber reports whether at least one Subscribe call has
// registered its sink (test helper, avoids a subscribe/publish race).
func (f *Fake) HasSubscriber() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sinks) > 0
}

func (f *Fake) Subscribe(ctx context.Context, sink func(protocol.Message)) error {
	f.mu.Lock()
	f.sinks = append(f.sinks, sink)
	f.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

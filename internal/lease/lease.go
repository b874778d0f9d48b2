// Package lease provides exclusive, expiring locks that keep two crawl
// passes (or two workers on one channel) from running at the same time.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHeld is returned by Acquire when the key is held elsewhere.
var ErrHeld = errors.New("lease held")

// Locker hands out leases. TryAcquire never blocks waiting for a holder; ok
// is false when the key is already held. release is safe to call more than
// once.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// PassKey guards a whole crawl pass.
const PassKey = "crawl:pass"

// ChannelKey guards the exploration of a single channel.
func ChannelKey(channelID string) string {
	return "crawl:channel:" + channelID
}

// Local is an in-process Locker. Leases never expire on their own; ttl is
// ignored because the holder is always in the same process.
type Local struct {
	mu   sync.Mutex
	held map[string]uint64
	seq  uint64
}

// NewLocal creates an empty in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]uint64)}
}

// TryAcquire implements Locker.
func (l *Local) TryAcquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return func() {}, false, nil
	}
	l.seq++
	token := l.seq
	l.held[key] = token

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.held[key] == token {
				delete(l.held, key)
			}
			l.mu.Unlock()
		})
	}, true, nil
}

// Held reports whether key is currently leased.
func (l *Local) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

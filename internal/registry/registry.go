// Package registry tracks the live connection for each user identity on a
// single realtime channel. Every channel (chat, notification, rtc) owns its
// own Registry instance; there is no cross-channel sharing.
package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Channel identifies which realtime surface a registry serves.
type Channel string

// The three realtime channels. Each service instantiates exactly one
// registry for its channel.
const (
	Chat         Channel = "chat"
	Notification Channel = "notification"
	RTC          Channel = "rtc"
)

// Handle is the write side of a live connection. Send must enqueue without
// blocking and report an error when the peer can no longer accept frames;
// Close tears the connection down and unblocks its reader.
type Handle interface {
	Send(payload []byte) error
	Close() error
}

type entry struct {
	handle       Handle
	registeredAt time.Time
}

// Registry is a thread-safe identity -> connection map holding at most one
// entry per identity. Registering over an existing identity closes the
// displaced handle, so a reconnect always wins over its predecessor.
type Registry struct {
	channel Channel
	logger  zerolog.Logger

	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty registry for the given channel.
func New(channel Channel, logger zerolog.Logger) *Registry {
	return &Registry{
		channel: channel,
		logger:  logger.With().Str("component", "registry").Str("channel", string(channel)).Logger(),
		entries: make(map[string]entry),
	}
}

// Channel returns the channel this registry serves.
func (r *Registry) Channel() Channel {
	return r.channel
}

// Register installs handle as the live connection for identity, replacing
// and closing any prior handle. Registration never fails the caller: a close
// error on the displaced handle is logged and swallowed.
func (r *Registry) Register(identity string, h Handle) {
	r.mu.Lock()
	prev, existed := r.entries[identity]
	r.entries[identity] = entry{handle: h, registeredAt: time.Now()}
	r.mu.Unlock()

	// Close the displaced handle outside the lock; Close may touch the
	// network and must not stall unrelated registry operations.
	if existed && prev.handle != h {
		if err := prev.handle.Close(); err != nil {
			r.logger.Debug().Err(err).Str("identity", identity).Msg("closing displaced connection")
		}
		r.logger.Info().Str("identity", identity).Msg("connection replaced")
	}
}

// Lookup returns the live handle for identity, if any.
func (r *Registry) Lookup(identity string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[identity]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Unregister removes the entry for identity only if it still refers to
// expected. The compare-and-remove guard keeps a disconnect handler for an
// old connection from evicting a newer one registered after a reconnect.
func (r *Registry) Unregister(identity string, expected Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[identity]; ok && e.handle == expected {
		delete(r.entries, identity)
	}
}

// Snapshot returns a point-in-time copy of the registered identities.
// Callers never observe the live map.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identities := make([]string, 0, len(r.entries))
	for identity := range r.entries {
		identities = append(identities, identity)
	}
	return identities
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Package session records active login sessions per account so the auth
// service can detect concurrent logins and terminate them remotely. A
// session is independent of any live connection: issuing a token creates
// one, and it survives until logout or termination.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// redactLen is how many token characters survive into a Summary.
const redactLen = 8

// Session is one logical login instance for an identity.
type Session struct {
	Identity  string
	Token     string
	DeviceTag string
	CreatedAt time.Time
}

// Summary is the display form of a session; the token is redacted to a
// prefix so listings never leak a usable credential.
type Summary struct {
	TokenPrefix string    `json:"token_prefix"`
	DeviceTag   string    `json:"device_tag"`
	CreatedAt   time.Time `json:"created_at"`
}

// Tracker is a process-wide, thread-safe session table. It enforces no
// session limit and no expiry; token time-to-live is the issuer's concern.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string][]Session
	now      func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string][]Session),
		now:      time.Now,
	}
}

// Issue mints a fresh token, records it as a session for identity, and
// reports whether other sessions already existed at issue time. The flag
// feeds the multi_login_detected field of login responses; it is
// informational only and never blocks the login.
func (t *Tracker) Issue(identity, deviceTag string) (token string, multiLogin bool) {
	token = uuid.NewString()

	t.mu.Lock()
	defer t.mu.Unlock()

	multiLogin = len(t.sessions[identity]) > 0
	t.sessions[identity] = append(t.sessions[identity], Session{
		Identity:  identity,
		Token:     token,
		DeviceTag: deviceTag,
		CreatedAt: t.now(),
	})
	return token, multiLogin
}

// Add appends a session record without evicting existing ones.
func (t *Tracker) Add(identity, token, deviceTag string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions[identity] = append(t.sessions[identity], Session{
		Identity:  identity,
		Token:     token,
		DeviceTag: deviceTag,
		CreatedAt: t.now(),
	})
}

// HasOtherSessions reports whether any session exists for identity.
func (t *Tracker) HasOtherSessions(identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions[identity]) > 0
}

// Validate reports whether token is a currently active session for
// identity. Terminated and logged-out tokens fail validation, so requests
// bearing them are rejected server-side.
func (t *Tracker) Validate(identity, token string) bool {
	if token == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.sessions[identity] {
		if s.Token == token {
			return true
		}
	}
	return false
}

// Remove deletes the single session matching token and reports whether it
// existed.
func (t *Tracker) Remove(identity, token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.sessions[identity]
	for i, s := range list {
		if s.Token == token {
			t.sessions[identity] = append(list[:i:i], list[i+1:]...)
			if len(t.sessions[identity]) == 0 {
				delete(t.sessions, identity)
			}
			return true
		}
	}
	return false
}

// Terminate removes all sessions for identity except the one matching
// keepToken. An empty keepToken clears everything. If keepToken is supplied
// but no session matches it, the token is re-added as a fresh session, so
// the caller's own login always survives a "log out other devices" action.
func (t *Tracker) Terminate(identity, keepToken string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if keepToken == "" {
		delete(t.sessions, identity)
		return
	}

	for _, s := range t.sessions[identity] {
		if s.Token == keepToken {
			t.sessions[identity] = []Session{s}
			return
		}
	}

	t.sessions[identity] = []Session{{
		Identity:  identity,
		Token:     keepToken,
		CreatedAt: t.now(),
	}}
}

// List returns session summaries for identity in creation order.
func (t *Tracker) List(identity string) []Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.sessions[identity]
	summaries := make([]Summary, 0, len(list))
	for _, s := range list {
		summaries = append(summaries, Summary{
			TokenPrefix: redact(s.Token),
			DeviceTag:   s.DeviceTag,
			CreatedAt:   s.CreatedAt,
		})
	}
	return summaries
}

func redact(token string) string {
	if len(token) <= redactLen {
		return token
	}
	return token[:redactLen]
}

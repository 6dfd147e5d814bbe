package server

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"linechat/pkg/crypto"
	"linechat/pkg/store"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult int

const (
	// AuthRegistered means the username was unknown and the pair was
	// persisted as a first-time registration.
	AuthRegistered AuthResult = iota
	// AuthLoggedIn means the username was known and the password matched.
	AuthLoggedIn
	// AuthWrongPassword means the username was known but the password did
	// not match. Recoverable; the session keeps prompting.
	AuthWrongPassword
)

// ActivityListener is the capability set a session uses to reach the rest of
// the server: lifecycle notifications, message fan-out, name collision
// checks, and credential checks.
type ActivityListener interface {
	ClientConnected(name string)
	ClientDisconnected(name string)
	MessageReceived(name, text string)
	IsNameTaken(candidate string) bool
	Authenticate(username, password string) (AuthResult, error)
}

// Registry is the single source of truth for connected sessions. It tracks
// every session ever accepted in insertion order; sessions are never removed,
// only marked dead, and the alive/active flags gate delivery.
//
// All methods are safe for concurrent use; notify calls arrive on the
// goroutines of whichever clients triggered them.
type Registry struct {
	store         store.CredentialStore
	hashPasswords bool

	mu       sync.Mutex
	sessions []*Session
}

var _ ActivityListener = (*Registry)(nil)

// NewRegistry creates a registry backed by the given credential store.
func NewRegistry(st store.CredentialStore, hashPasswords bool) *Registry {
	return &Registry{store: st, hashPasswords: hashPasswords}
}

// Add starts tracking a session. Called once per accepted connection, before
// the session authenticates.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	r.mu.Unlock()
}

// Sessions returns a snapshot of every tracked session, dead ones included.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// ActiveNames returns the usernames of all currently active sessions in
// insertion order.
func (r *Registry) ActiveNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, s := range r.sessions {
		if s.Active() {
			names = append(names, s.Name())
		}
	}
	return names
}

// ClientConnected announces a newly authenticated client to every active
// session, the new client included.
func (r *Registry) ClientConnected(name string) {
	slog.Info("client connected", "name", name)
	connectedClients.Inc()
	r.broadcast(name, payloadConnected, "connect")
}

// ClientDisconnected announces a departed client to the remaining active
// sessions.
func (r *Registry) ClientDisconnected(name string) {
	slog.Info("client disconnected", "name", name)
	connectedClients.Dec()
	r.broadcast(name, payloadDisconnected, "disconnect")
}

// MessageReceived fans a chat line out to every active session, echoing back
// to the sender.
func (r *Registry) MessageReceived(name, text string) {
	slog.Info("message received", "from", name, "text", text)
	r.broadcast(name, text, "message")
}

// IsNameTaken reports whether a requested nickname collides with a currently
// active session. The check is a case-sensitive prefix match against existing
// names (a candidate that is a prefix of, or equal to, any active username is
// taken), matching the historical server behavior; it is not an exact-match
// check.
func (r *Registry) IsNameTaken(candidate string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Active() && strings.HasPrefix(s.Name(), candidate) {
			return true
		}
	}
	return false
}

// Authenticate checks a username/password pair against the credential store.
// Unknown usernames register on the spot; the pair is persisted and never
// mutated afterwards.
func (r *Registry) Authenticate(username, password string) (AuthResult, error) {
	cred, err := r.store.Lookup(username)
	if err != nil {
		return 0, fmt.Errorf("server: authenticate: %w", err)
	}
	if cred == nil {
		stored := password
		if r.hashPasswords {
			stored, err = crypto.HashPassword(password)
			if err != nil {
				return 0, fmt.Errorf("server: authenticate: %w", err)
			}
		}
		if _, err := r.store.Create(username, stored); err != nil {
			return 0, fmt.Errorf("server: authenticate: %w", err)
		}
		authAttemptsTotal.WithLabelValues("registered").Inc()
		return AuthRegistered, nil
	}
	if crypto.VerifyPassword(cred.Password, password) {
		authAttemptsTotal.WithLabelValues("login").Inc()
		return AuthLoggedIn, nil
	}
	authAttemptsTotal.WithLabelValues("wrong_password").Inc()
	return AuthWrongPassword, nil
}

// broadcast writes one line to every active session in insertion order. A
// failed or suppressed write to one session never stops delivery to the
// others. Delivery happens outside the registry lock: the slice is grow-only,
// so a snapshot stays valid, and a client that has stopped reading must not
// stall Add, Sessions, or shutdown behind its blocked write.
func (r *Registry) broadcast(sender, payload, kind string) {
	start := time.Now()
	for _, s := range r.Sessions() {
		s.Deliver(sender, payload)
	}
	messagesTotal.WithLabelValues(kind).Inc()
	broadcastDuration.Observe(time.Since(start).Seconds())
}

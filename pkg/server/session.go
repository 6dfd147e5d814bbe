package server

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Wire format: every outbound line is "HH:MM:SS:[sender] payload\n".
const timeLayout = "15:04:05"

// serverName is the sender identity for prompts and synthetic announcements.
const serverName = "server"

const (
	promptUsername   = "enter username:"
	promptPassword   = "enter password:"
	msgWrongPassword = "wrong password, try again"
	msgAuthFailed    = "registration failed, try again"
	msgRegistered    = "registered as "
	msgWelcomeBack   = "welcome back "
	msgNicknameTaken = "nickname already taken"

	payloadConnected    = "connected"
	payloadDisconnected = "disconnected"
)

const (
	cmdExit       = "exit"
	cmdNickPrefix = "/nick "
)

// Session owns one accepted connection. It runs the authentication handshake
// and then the message-receive loop on its own goroutine; the registry keeps
// a tracking reference for broadcasts but the session exclusively owns the
// socket.
//
// Lifecycle is Connecting -> Authenticating -> Active -> Closed, with no
// reopening.
type Session struct {
	conn     net.Conn
	listener ActivityListener

	alive     atomic.Bool
	closeOnce sync.Once

	// writeMu serializes socket writes. It is separate from mu so that a
	// write stalled on a slow client never blocks state reads like Active.
	writeMu sync.Mutex

	mu            sync.Mutex // guards name and authenticated
	name          string
	authenticated bool
}

// NewSession wraps an accepted connection. The provisional name is the
// accept counter value; authentication replaces it with the username.
func NewSession(conn net.Conn, provisionalID uint64, listener ActivityListener) *Session {
	s := &Session{
		conn:     conn,
		listener: listener,
		name:     strconv.FormatUint(provisionalID, 10),
	}
	s.alive.Store(true)
	return s
}

// Name returns the session's current username (or provisional counter value
// before authentication).
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Alive reports whether the session has not been closed.
func (s *Session) Alive() bool {
	return s.alive.Load()
}

// Active reports whether the session is authenticated and not closed, i.e.
// eligible for broadcast delivery.
func (s *Session) Active() bool {
	if !s.alive.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Deliver writes a broadcast line to the client. Writing to a session that is
// not active is a silent no-op, never an error.
func (s *Session) Deliver(sender, payload string) {
	if !s.Active() {
		return
	}
	s.write(sender, payload)
}

// write sends one timestamped line, ignoring I/O errors: a failed write
// surfaces as a read error in the session's own loop soon enough.
func (s *Session) write(sender, payload string) {
	if !s.alive.Load() {
		return
	}
	line := time.Now().Format(timeLayout) + ":[" + sender + "] " + payload + "\n"
	s.writeMu.Lock()
	_, _ = s.conn.Write([]byte(line))
	s.writeMu.Unlock()
}

// Run executes the session lifecycle until the client exits, the connection
// drops, or the server shuts down. It must be called on its own goroutine.
func (s *Session) Run() {
	defer s.Close()

	reader := bufio.NewReader(s.conn)

	if !s.authenticate(reader) {
		return
	}
	s.listener.ClientConnected(s.Name())

	for {
		line, err := readLine(reader)
		if err != nil {
			return
		}

		switch {
		case strings.EqualFold(line, cmdExit):
			return
		case strings.HasPrefix(line, cmdNickPrefix):
			s.handleNick(line[len(cmdNickPrefix):])
		default:
			s.listener.MessageReceived(s.Name(), line)
		}
	}
}

// authenticate prompts for username and password until the store accepts the
// pair. There is deliberately no retry limit. Returns false on read errors.
func (s *Session) authenticate(reader *bufio.Reader) bool {
	for {
		s.write(serverName, promptUsername)
		username, err := readLine(reader)
		if err != nil {
			return false
		}
		s.write(serverName, promptPassword)
		password, err := readLine(reader)
		if err != nil {
			return false
		}

		result, err := s.listener.Authenticate(username, password)
		if err != nil {
			slog.Warn("authentication error", "session", s.Name(), "username", username, "err", err)
			s.write(serverName, msgAuthFailed)
			continue
		}

		switch result {
		case AuthWrongPassword:
			slog.Info("wrong password", "session", s.Name(), "username", username)
			s.write(serverName, msgWrongPassword)
			continue
		case AuthRegistered:
			s.write(serverName, msgRegistered+username)
		case AuthLoggedIn:
			s.write(serverName, msgWelcomeBack+username)
		}

		s.mu.Lock()
		s.name = username
		s.authenticated = true
		s.mu.Unlock()
		return true
	}
}

// handleNick processes a rename request. A taken name yields a local-only
// rejection; success renames the session and announces the change once, from
// the server identity.
func (s *Session) handleNick(requested string) {
	if s.listener.IsNameTaken(requested) {
		s.write(serverName, msgNicknameTaken)
		return
	}

	s.mu.Lock()
	old := s.name
	s.name = requested
	s.mu.Unlock()

	s.listener.MessageReceived(serverName, "nickname changed from "+old+" to "+requested)
}

// Close tears the session down: alive flag cleared, socket closed, registry
// notified if the session was active. Idempotent; a double close is not
// observable by other components.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.alive.Store(false)
		// Closing the socket unblocks any write stalled on a client that
		// has stopped reading.
		_ = s.conn.Close()
		s.mu.Lock()
		wasActive := s.authenticated
		name := s.name
		s.mu.Unlock()
		if wasActive {
			s.listener.ClientDisconnected(name)
		}
	})
}

// readLine reads one newline-terminated line, tolerating a final unterminated
// line at EOF.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err == nil {
		return strings.TrimRight(line, "\r\n"), nil
	}
	if err == io.EOF && line != "" {
		return strings.TrimRight(line, "\r\n"), nil
	}
	return "", err
}

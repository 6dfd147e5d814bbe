package server

import (
	"bufio"
	"net"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"linechat/pkg/crypto"
	"linechat/pkg/store"
)

var lineRe = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}:\[[^\]]+\] `)

// newTrackedSession adds a session backed by a net.Pipe to the registry and
// returns a channel of the lines the fake client receives.
func newTrackedSession(t *testing.T, reg *Registry, name string, authed bool) (*Session, <-chan string) {
	t.Helper()

	clientConn, srvConn := net.Pipe()
	lines := make(chan string, 256)
	go func() {
		r := bufio.NewReader(clientConn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- strings.TrimRight(line, "\n")
		}
	}()

	sess := NewSession(srvConn, 0, reg)
	sess.mu.Lock()
	sess.name = name
	sess.authenticated = authed
	sess.mu.Unlock()
	reg.Add(sess)

	t.Cleanup(func() { _ = clientConn.Close() })
	return sess, lines
}

func waitForSuffix(t *testing.T, ch <-chan string, suffix string) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-ch:
			if !ok {
				t.Fatalf("connection closed while waiting for %q", suffix)
			}
			if strings.HasSuffix(line, suffix) {
				return line
			}
		case <-deadline:
			t.Fatalf("timeout waiting for line with suffix %q", suffix)
		}
	}
}

func expectNoLine(t *testing.T, ch <-chan string, d time.Duration) {
	t.Helper()
	select {
	case line, ok := <-ch:
		if ok {
			t.Fatalf("unexpected line delivered: %q", line)
		}
	case <-time.After(d):
	}
}

func TestIsNameTakenPrefixMatch(t *testing.T) {
	reg := NewRegistry(store.NewMemory(), false)
	newTrackedSession(t, reg, "alice", true)

	require.True(t, reg.IsNameTaken("alice"))
	require.True(t, reg.IsNameTaken("al"))
	require.True(t, reg.IsNameTaken("a"))
	require.False(t, reg.IsNameTaken("alices"), "longer than any active name")
	require.False(t, reg.IsNameTaken("Al"), "check is case-sensitive")
	require.False(t, reg.IsNameTaken("bob"))
}

func TestIsNameTakenIgnoresInactiveSessions(t *testing.T) {
	reg := NewRegistry(store.NewMemory(), false)

	dead, _ := newTrackedSession(t, reg, "zed", true)
	dead.Close()
	newTrackedSession(t, reg, "pending", false)

	require.False(t, reg.IsNameTaken("zed"))
	require.False(t, reg.IsNameTaken("pending"))
}

func TestAuthenticateRegisterLoginWrongPassword(t *testing.T) {
	st := store.NewMemory()
	reg := NewRegistry(st, false)

	res, err := reg.Authenticate("bob", "secret")
	require.NoError(t, err)
	require.Equal(t, AuthRegistered, res)

	cred, err := st.Lookup("bob")
	require.NoError(t, err)
	require.NotNil(t, cred)
	require.Equal(t, "secret", cred.Password)

	res, err = reg.Authenticate("bob", "secret")
	require.NoError(t, err)
	require.Equal(t, AuthLoggedIn, res)

	res, err = reg.Authenticate("bob", "wrong")
	require.NoError(t, err)
	require.Equal(t, AuthWrongPassword, res)

	// A failed attempt never mutates storage.
	cred, err = st.Lookup("bob")
	require.NoError(t, err)
	require.Equal(t, "secret", cred.Password)
	count, err := st.Count()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestAuthenticateInvalidUsername(t *testing.T) {
	reg := NewRegistry(store.NewMemory(), false)

	_, err := reg.Authenticate("", "secret")
	require.Error(t, err)
	_, err = reg.Authenticate("has space", "secret")
	require.Error(t, err)
}

func TestAuthenticateHashedStorage(t *testing.T) {
	st := store.NewMemory()
	reg := NewRegistry(st, true)

	res, err := reg.Authenticate("bob", "secret")
	require.NoError(t, err)
	require.Equal(t, AuthRegistered, res)

	cred, err := st.Lookup("bob")
	require.NoError(t, err)
	require.True(t, crypto.IsHashed(cred.Password))
	require.NotEqual(t, "secret", cred.Password)

	res, err = reg.Authenticate("bob", "secret")
	require.NoError(t, err)
	require.Equal(t, AuthLoggedIn, res)

	res, err = reg.Authenticate("bob", "wrong")
	require.NoError(t, err)
	require.Equal(t, AuthWrongPassword, res)
}

func TestBroadcastReachesOnlyActiveSessions(t *testing.T) {
	reg := NewRegistry(store.NewMemory(), false)

	_, aliceLines := newTrackedSession(t, reg, "alice", true)
	_, bobLines := newTrackedSession(t, reg, "bob", true)
	_, pendingLines := newTrackedSession(t, reg, "3", false)

	reg.MessageReceived("alice", "hi")

	for _, ch := range []<-chan string{aliceLines, bobLines} {
		line := waitForSuffix(t, ch, ":[alice] hi")
		require.Regexp(t, lineRe, line)
	}
	expectNoLine(t, pendingLines, 200*time.Millisecond)
}

func TestCloseNotifiesOthersOnce(t *testing.T) {
	reg := NewRegistry(store.NewMemory(), false)

	_, aliceLines := newTrackedSession(t, reg, "alice", true)
	bob, _ := newTrackedSession(t, reg, "bob", true)

	bob.Close()
	bob.Close() // double close must not be observable

	waitForSuffix(t, aliceLines, ":[bob] "+payloadDisconnected)

	// Dead sessions receive nothing further and announce nothing further.
	reg.MessageReceived("alice", "after")
	line := waitForSuffix(t, aliceLines, ":[alice] after")
	require.NotContains(t, line, payloadDisconnected)
	require.Equal(t, []string{"alice"}, reg.ActiveNames())
}

func TestBroadcastStalledOnSlowClientDoesNotBlockRegistry(t *testing.T) {
	reg := NewRegistry(store.NewMemory(), false)

	// An authenticated session whose client side never reads: with a
	// net.Pipe the very first write blocks.
	clientConn, srvConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close() })
	stuck := NewSession(srvConn, 0, reg)
	stuck.mu.Lock()
	stuck.name = "stuck"
	stuck.authenticated = true
	stuck.mu.Unlock()
	reg.Add(stuck)

	broadcastDone := make(chan struct{})
	go func() {
		reg.MessageReceived("stuck", "hello")
		close(broadcastDone)
	}()

	// The registry must stay usable while the fan-out is stalled; this is
	// the path Shutdown takes to reach the sessions it has to close.
	snapshot := make(chan []*Session, 1)
	go func() { snapshot <- reg.Sessions() }()
	select {
	case got := <-snapshot:
		require.Len(t, got, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("registry locked up behind a slow client")
	}

	require.False(t, reg.IsNameTaken("other"), "name checks must not block either")

	// Closing the stalled session (as Shutdown does) unblocks its write
	// and lets the broadcast finish.
	for _, s := range reg.Sessions() {
		s.Close()
	}
	select {
	case <-broadcastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast still blocked after closing the slow session")
	}
}

func TestSessionsAreTrackedForever(t *testing.T) {
	reg := NewRegistry(store.NewMemory(), false)

	s1, _ := newTrackedSession(t, reg, "alice", true)
	s2, _ := newTrackedSession(t, reg, "bob", true)
	s2.Close()

	all := reg.Sessions()
	require.Len(t, all, 2, "dead sessions stay on the tracking list")
	require.Same(t, s1, all[0])
	require.Same(t, s2, all[1])
	require.True(t, all[0].Alive())
	require.False(t, all[1].Alive())
}

package relay

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Kitiphol/TokTik/internal/metrics"
)

const commandTimeout = 5 * time.Second

type userSessions map[*Session]struct{}

// registryCmd is the command interface for the Registry actor.
type registryCmd interface{ isRegistryCmd() }

type baseRegistryCmd struct{}

func (baseRegistryCmd) isRegistryCmd() {}

type addCmd struct {
	baseRegistryCmd
	session      *Session
	errorChannel chan error
}

type removeCmd struct {
	baseRegistryCmd
	session *Session
}

type sessionsForCmd struct {
	baseRegistryCmd
	userID       string
	replyChannel chan []*Session
}

type allSessionsCmd struct {
	baseRegistryCmd
	replyChannel chan []*Session
}

type countsCmd struct {
	baseRegistryCmd
	replyChannel chan [2]int
}

type stopRegistryCmd struct {
	baseRegistryCmd
}

// Registry is the single owner of the user-to-sessions mapping. A dedicated
// goroutine receives commands over a channel, so no operation ever touches
// the map concurrently. Every operation is an in-memory mutation or snapshot
// and completes in bounded time.
type Registry struct {
	cmdCh              chan registryCmd
	sessions           map[string]userSessions
	maxSessionsPerUser int
	done               chan struct{}
}

// NewRegistry creates a registry and starts its owning goroutine.
// maxSessionsPerUser caps concurrent sessions per user (multi-device is
// expected, unbounded growth is not).
func NewRegistry(maxSessionsPerUser int) *Registry {
	r := &Registry{
		cmdCh:              make(chan registryCmd, 256),
		sessions:           make(map[string]userSessions),
		maxSessionsPerUser: maxSessionsPerUser,
		done:               make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Registry) run() {
	defer close(r.done)
	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case addCmd:
			r.handleAdd(c)
		case removeCmd:
			r.handleRemove(c.session)
		case sessionsForCmd:
			c.replyChannel <- r.snapshotUser(c.userID)
		case allSessionsCmd:
			c.replyChannel <- r.snapshotAll()
		case countsCmd:
			total := 0
			for _, set := range r.sessions {
				total += len(set)
			}
			c.replyChannel <- [2]int{len(r.sessions), total}
		case stopRegistryCmd:
			r.handleStop()
			return
		default:
			slog.Warn("Registry received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (r *Registry) handleAdd(c addCmd) {
	userID := c.session.UserID()
	set, exists := r.sessions[userID]
	if !exists {
		set = make(userSessions)
		r.sessions[userID] = set
	}

	if _, dup := set[c.session]; dup {
		// Same session added twice; keep a single delivery path.
		c.errorChannel <- nil
		return
	}

	if len(set) >= r.maxSessionsPerUser {
		if len(set) == 0 {
			delete(r.sessions, userID)
		}
		slog.Warn("Rejecting session: max sessions reached", "user_id", userID, "max_sessions", r.maxSessionsPerUser)
		c.errorChannel <- fmt.Errorf("max sessions per user (%d) reached", r.maxSessionsPerUser)
		return
	}

	set[c.session] = struct{}{}

	metrics.OnlineUsers.Set(float64(len(r.sessions)))
	metrics.ConnectedSessions.Inc()

	slog.Debug("Session registered", "user_id", userID, "session_id", c.session.ID().String(), "total_sessions", len(set))
	c.errorChannel <- nil
}

func (r *Registry) handleRemove(session *Session) {
	userID := session.UserID()
	set, exists := r.sessions[userID]
	if !exists {
		return
	}
	if _, exists := set[session]; !exists {
		return
	}

	session.stop()
	delete(set, session)
	metrics.ConnectedSessions.Dec()

	if len(set) == 0 {
		delete(r.sessions, userID)
		metrics.OnlineUsers.Set(float64(len(r.sessions)))
		slog.Info("Last session disconnected", "user_id", userID)
	} else {
		slog.Debug("Session unregistered", "user_id", userID, "remaining_sessions", len(set))
	}
}

func (r *Registry) snapshotUser(userID string) []*Session {
	set := r.sessions[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func (r *Registry) snapshotAll() []*Session {
	var out []*Session
	for _, set := range r.sessions {
		for s := range set {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) handleStop() {
	total := 0
	for userID, set := range r.sessions {
		for s := range set {
			s.Close(websocket.CloseNormalClosure, "Server shutting down")
			total++
		}
		delete(r.sessions, userID)
	}
	metrics.ConnectedSessions.Sub(float64(total))
	metrics.OnlineUsers.Set(0)
	slog.Info("Registry shutdown complete", "disconnected_sessions", total)
}

// --- Public API ---

// Add registers a session under its user. It is safe to call from any
// goroutine and returns an error only when the per-user session cap is hit.
func (r *Registry) Add(session *Session) error {
	errCh := make(chan error, 1)
	r.cmdCh <- addCmd{session: session, errorChannel: errCh}

	timer := session.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("add command timed out after %v", commandTimeout)
	}
}

// Remove unregisters a session and stops its writer. Calling it again for a
// session that is already gone is a no-op, so every teardown path may call it.
func (r *Registry) Remove(session *Session) {
	r.cmdCh <- removeCmd{session: session}
}

// SessionsFor returns a point-in-time snapshot of one user's sessions,
// or nil when the user has none online. The snapshot is only meant for a
// single fan-out pass; concurrent mutation is not reflected.
func (r *Registry) SessionsFor(userID string) []*Session {
	replyCh := make(chan []*Session, 1)
	r.cmdCh <- sessionsForCmd{userID: userID, replyChannel: replyCh}
	return <-replyCh
}

// AllSessions returns a snapshot of every session across every user.
func (r *Registry) AllSessions() []*Session {
	replyCh := make(chan []*Session, 1)
	r.cmdCh <- allSessionsCmd{replyChannel: replyCh}
	return <-replyCh
}

// Counts returns the number of online users and open sessions.
func (r *Registry) Counts() (users, sessions int) {
	replyCh := make(chan [2]int, 1)
	r.cmdCh <- countsCmd{replyChannel: replyCh}
	counts := <-replyCh
	return counts[0], counts[1]
}

// Stop closes every session with a close frame and shuts the actor down.
// Blocks until the registry goroutine has exited.
func (r *Registry) Stop() {
	r.cmdCh <- stopRegistryCmd{}
	<-r.done
}

package presence

// State of a connection session.
// StateUnjoined: identity assigned, no room
// StateJoined: bound to exactly one room
// StateClosed: connection gone, terminal
type State int

const (
	StateUnjoined State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Peer is the outbound side of one transport connection.
// Send must not block; it reports false when the payload was dropped.
type Peer interface {
	Send(payload []byte) bool
}

// Session is one live connection as seen by the Broadcaster.
// Its fields are only touched while the Broadcaster lock is held.
type Session struct {
	id    string
	peer  Peer
	state State
	room  string
}

// ID returns the participant identity assigned when the session was opened.
func (s *Session) ID() string {
	return s.id
}

// SessionState and SessionRoom read the session under the Broadcaster lock
func (b *Broadcaster) SessionState(s *Session) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return s.state
}

// SessionRoom returns the room the session is joined to, "" when not joined.
func (b *Broadcaster) SessionRoom(s *Session) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return s.room
}

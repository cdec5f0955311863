package presence

import (
	"encoding/json"
	"log/slog"
	"qerplunk/ride-share/rooms"
	"qerplunk/ride-share/types"
	"sync"

	"github.com/google/uuid"
)

// Mirror receives a copy of every stored location and every eviction.
// Implementations must not block.
type Mirror interface {
	Record(room string, rec types.LocationRecord)
	Evict(room, participantID string)
}

type nopMirror struct{}

func (nopMirror) Record(string, types.LocationRecord) {}
func (nopMirror) Evict(string, string)                {}

// Longest room id accepted from a client, in bytes
const maxRoomIDLength = 128

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithMirror copies every stored location and eviction to m. A nil mirror is ignored.
func WithMirror(m Mirror) Option {
	return func(b *Broadcaster) {
		if m != nil {
			b.mirror = m
		}
	}
}

// WithIDGenerator replaces the uuid based participant identities.
func WithIDGenerator(next func() string) Option {
	return func(b *Broadcaster) {
		b.newID = next
	}
}

// Broadcaster turns session events into registry changes and peer notifications.
// Every event is handled under one lock, so registry changes never interleave and
// each recipient receives a room's updates in the order they were handled.
type Broadcaster struct {
	mu       sync.Mutex
	registry *rooms.Registry
	sessions map[string]*Session
	mirror   Mirror
	newID    func() string
}

// NewBroadcaster creates a Broadcaster over the given registry.
func NewBroadcaster(registry *rooms.Registry, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		registry: registry,
		sessions: make(map[string]*Session),
		mirror:   nopMirror{},
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open registers a new connection, assigns it a fresh identity and sends it a user-id event.
func (b *Broadcaster) Open(peer Peer) *Session {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Session{
		id:    b.newID(),
		peer:  peer,
		state: StateUnjoined,
	}
	b.sessions[s.id] = s

	b.send(s, types.UserIDMessage(s.id))
	slog.Debug("session opened", slog.String("participant", s.id))

	return s
}

// Join binds the session to a room, leaving its previous room first, and sends it
// the positions of the other occupants.
func (b *Broadcaster) Join(s *Session, room string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	if room == "" || len(room) > maxRoomIDLength {
		slog.Debug("dropping join with invalid room id",
			slog.String("participant", s.id),
			slog.Int("length", len(room)),
		)
		return
	}

	if s.state == StateJoined && s.room != room {
		b.leaveLocked(s)
	}

	b.registry.Join(room, s.id)
	s.room = room
	s.state = StateJoined

	snapshot := b.registry.Snapshot(room)
	others := make([]types.Position, 0, len(snapshot))
	for _, rec := range snapshot {
		if rec.ParticipantID != s.id {
			others = append(others, rec.Position())
		}
	}
	b.send(s, types.ExistingUsersMessage(others))

	slog.Info("participant joined room",
		slog.String("participant", s.id),
		slog.String("room", room),
		slog.Int("located", len(others)),
	)
}

// UpdateLocation stores the session's position and relays it to every other
// session in the same room. Ignored unless the session is joined.
func (b *Broadcaster) UpdateLocation(s *Session, lat, lng float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.state != StateJoined {
		slog.Debug("dropping location update outside a room",
			slog.String("participant", s.id),
			slog.String("state", s.state.String()),
		)
		return
	}

	if !b.registry.UpdateLocation(s.room, s.id, lat, lng) {
		return
	}

	if rec, ok := b.registry.Location(s.room, s.id); ok {
		b.mirror.Record(s.room, rec)
	}

	payload, err := json.Marshal(types.LocationUpdateMessage(s.id, lat, lng))
	if err != nil {
		slog.Error("marshal location update", slog.String("error", err.Error()))
		return
	}

	for _, id := range b.registry.Members(s.room) {
		if id == s.id {
			continue
		}
		other, ok := b.sessions[id]
		if !ok {
			continue
		}
		if !other.peer.Send(payload) {
			slog.Debug("location update dropped for slow peer",
				slog.String("room", s.room),
				slog.String("participant", id),
			)
		}
	}
}

// Close evicts the session from its room before returning. Closing twice is a no-op.
func (b *Broadcaster) Close(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.state == StateClosed {
		return
	}

	if s.state == StateJoined {
		b.leaveLocked(s)
	}
	s.state = StateClosed
	delete(b.sessions, s.id)

	slog.Debug("session closed", slog.String("participant", s.id))
}

// Sessions returns the number of open sessions.
func (b *Broadcaster) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Rooms returns the number of rooms with at least one occupant.
func (b *Broadcaster) Rooms() int {
	return b.registry.Len()
}

func (b *Broadcaster) leaveLocked(s *Session) {
	b.registry.Leave(s.room, s.id)
	b.mirror.Evict(s.room, s.id)

	if !b.registry.Has(s.room) {
		slog.Info("room is empty, closing", slog.String("room", s.room))
	}

	s.room = ""
	s.state = StateUnjoined
}

func (b *Broadcaster) send(s *Session, msg interface{}) {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal message", slog.String("error", err.Error()))
		return
	}
	s.peer.Send(payload)
}

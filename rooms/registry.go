package rooms

import (
	"qerplunk/ride-share/types"
	"sort"
	"sync"
	"time"
)

// Registry maps room ids to their occupants and each occupant's last known location.
// A nil record means the occupant has joined but not reported a position yet.
// A room id is present only while it has at least one occupant.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]map[string]*types.LocationRecord
	now   func() time.Time
}

// NewRegistry returns an empty registry using the wall clock for timestamps.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]*types.LocationRecord),
		now:   time.Now,
	}
}

// Adds a participant to a room.
// Creates the room if it does not exist. Joining twice keeps the existing location.
func (r *Registry) Join(room, participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	occupants, exists := r.rooms[room]
	if !exists {
		occupants = make(map[string]*types.LocationRecord)
		r.rooms[room] = occupants
	}

	if _, member := occupants[participantID]; !member {
		occupants[participantID] = nil
	}
}

// Stores the participant's position.
// Returns false without touching anything when the participant is not in the room.
func (r *Registry) UpdateLocation(room, participantID string, lat, lng float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	occupants, exists := r.rooms[room]
	if !exists {
		return false
	}
	if _, member := occupants[participantID]; !member {
		return false
	}

	occupants[participantID] = &types.LocationRecord{
		ParticipantID: participantID,
		Latitude:      lat,
		Longitude:     lng,
		Timestamp:     r.now(),
	}
	return true
}

// Removes a participant from a room.
// If nobody is left the room is deleted. Returns false if the participant was not a member.
func (r *Registry) Leave(room, participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	occupants, exists := r.rooms[room]
	if !exists {
		return false
	}
	if _, member := occupants[participantID]; !member {
		return false
	}

	delete(occupants, participantID)
	if len(occupants) == 0 {
		delete(r.rooms, room)
	}
	return true
}

// Snapshot returns the located occupants of a room ordered by participant id.
// Occupants without a position are left out. Unknown rooms give an empty list.
func (r *Registry) Snapshot(room string) []types.LocationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]types.LocationRecord, 0, len(r.rooms[room]))
	for _, rec := range r.rooms[room] {
		if rec != nil {
			records = append(records, *rec)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ParticipantID < records[j].ParticipantID
	})
	return records
}

// Location returns the participant's last known position in the room, if any.
func (r *Registry) Location(room, participantID string) (types.LocationRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.rooms[room][participantID]
	if rec == nil {
		return types.LocationRecord{}, false
	}
	return *rec, true
}

// Members returns every participant id currently in the room, located or not.
func (r *Registry) Members(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

// Has reports whether the room currently has at least one occupant.
func (r *Registry) Has(room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.rooms[room]
	return exists
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.rooms)
}

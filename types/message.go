package types

// Message type used for unmarshalling inbound WebSocket events and marshalling outbound ones.
// Lat and Lng are pointers so a missing coordinate can be told apart from 0.
type Message struct {
	Type   string     `json:"type"`
	RoomID string     `json:"roomId,omitempty"`
	UserID string     `json:"userId,omitempty"`
	Lat    *float64   `json:"lat,omitempty"`
	Lng    *float64   `json:"lng,omitempty"`
	Users  []Position `json:"users,omitempty"`
}

// Type of WebSocket messages.
// EventJoinRoom: client joins or switches to a room
// EventLocationUpdate: client reports its position, server relays it to room peers
// EventUserID: server tells the client its participant identity
// EventExistingUsers: server sends the room snapshot after a join
const (
	EventJoinRoom       = "join-room"
	EventLocationUpdate = "location-update"
	EventUserID         = "user-id"
	EventExistingUsers  = "existing-users"
)

func UserIDMessage(userID string) Message {
	return Message{Type: EventUserID, UserID: userID}
}

// ExistingUsersMessage always carries a users list, empty when nobody has reported a position yet.
func ExistingUsersMessage(users []Position) ExistingUsers {
	if users == nil {
		users = []Position{}
	}
	return ExistingUsers{Type: EventExistingUsers, Users: users}
}

func LocationUpdateMessage(userID string, lat, lng float64) Message {
	return Message{Type: EventLocationUpdate, UserID: userID, Lat: &lat, Lng: &lng}
}

// ExistingUsers is the outbound snapshot. It is separate from Message so an empty
// users list is still encoded as [].
type ExistingUsers struct {
	Type  string     `json:"type"`
	Users []Position `json:"users"`
}

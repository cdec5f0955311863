package types

import (
	"encoding/json"
	"math"
	"time"
)

// Position is one occupant's last known location as sent to clients.
type Position struct {
	UserID string  `json:"userId"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

// LocationRecord is the last known position of one participant within one room.
type LocationRecord struct {
	ParticipantID string    `json:"participantId"`
	Latitude      float64   `json:"lat"`
	Longitude     float64   `json:"lng"`
	Timestamp     time.Time `json:"timestamp"`
}

func (l LocationRecord) Position() Position {
	return Position{UserID: l.ParticipantID, Lat: l.Latitude, Lng: l.Longitude}
}

// MarshalBinary lets the record be stored as a redis hash value.
func (l LocationRecord) MarshalBinary() (data []byte, err error) {
	data, err = json.Marshal(l)
	return data, err
}

func (l *LocationRecord) UnmarshalBinary(data []byte) (err error) {
	err = json.Unmarshal(data, l)
	return err
}

// ValidCoordinates reports whether lat/lng are finite and within WGS84 bounds.
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

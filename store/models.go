package store

import "time"

type User struct {
	ID           int64     `json:"id"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Email        string    `json:"email"`
	Mobile       string    `json:"mobile"`
	Address      string    `json:"address"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Ride status values
const (
	RideActive    = "active"
	RideCompleted = "completed"
)

type Ride struct {
	ID         string      `json:"id"`
	Host       RideUser    `json:"host"`
	Pickup     string      `json:"pickup"`
	Drop       string      `json:"drop"`
	Fare       float64     `json:"fare"`
	Seats      int         `json:"seats"`
	SecretCode string      `json:"secretCode,omitempty"`
	Status     string      `json:"status"`
	Passengers []Passenger `json:"passengers"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// RideUser is the public part of a user shown on rides
type RideUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type Passenger struct {
	RideUser
	JoinedAt time.Time `json:"joinedAt"`
}

// NewUser holds registration input
type NewUser struct {
	FirstName string
	LastName  string
	Email     string
	Mobile    string
	Address   string
	Password  string
}

// RideDetails holds the host-editable fields of a ride
type RideDetails struct {
	Pickup     string
	Drop       string
	Fare       float64
	Seats      int
	SecretCode string
}
